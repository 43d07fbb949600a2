package hub

import (
	"bufio"
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/danmuck/nodehub/internal/protocol/control"
	"github.com/danmuck/nodehub/internal/protocol/frame"
	"github.com/stretchr/testify/require"
)

const testWait = 3 * time.Second

func testServiceConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Conn.IdleTimeout = 50 * time.Millisecond
	cfg.Conn.WriteTimeout = time.Second
	return cfg
}

// startHub serves svc on a loopback listener until the test ends.
func startHub(t *testing.T, svc *Service) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("hub serve: %v", err)
			}
		case <-time.After(testWait):
			t.Errorf("hub did not stop")
		}
	})
	return ln.Addr().String()
}

func startDefaultHub(t *testing.T) (*Service, string) {
	t.Helper()
	svc := NewServiceWithHandler(testServiceConfig(), NewHubNode([]byte(`{"node_type":"hub"}`)))
	return svc, startHub(t, svc)
}

type testNode struct {
	conn net.Conn
	r    *bufio.Reader
	id   uint32
}

func dialNode(t *testing.T, addr string) *testNode {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, testWait)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testNode{conn: conn, r: frame.NewReader(conn)}
}

func (n *testNode) sendRaw(t *testing.T, raw []byte) {
	t.Helper()
	_ = n.conn.SetWriteDeadline(time.Now().Add(testWait))
	_, err := n.conn.Write(raw)
	require.NoError(t, err)
}

func (n *testNode) send(t *testing.T, dst uint32, payload []byte) frame.Frame {
	t.Helper()
	f, err := frame.New(n.id, dst, payload)
	require.NoError(t, err)
	n.sendRaw(t, f.Bytes())
	return f
}

func (n *testNode) sendControl(t *testing.T, m control.Message) {
	t.Helper()
	payload, err := control.Encode(m)
	require.NoError(t, err)
	n.send(t, frame.HubID, payload)
}

func (n *testNode) read(t *testing.T) frame.Frame {
	t.Helper()
	_ = n.conn.SetReadDeadline(time.Now().Add(testWait))
	f, err := frame.ReadFrame(n.r)
	require.NoError(t, err)
	return f
}

func (n *testNode) readControl(t *testing.T) (frame.Frame, control.Message) {
	t.Helper()
	f := n.read(t)
	require.Equal(t, frame.HubID, f.SourceID)
	msg, err := control.Decode(f.Payload)
	require.NoError(t, err)
	return f, msg
}

// expectSilence asserts nothing arrives within d.
func (n *testNode) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	_ = n.conn.SetReadDeadline(time.Now().Add(d))
	_, err := frame.PeekLength(n.r)
	require.Error(t, err)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	require.True(t, ne.Timeout(), "expected timeout, got %v", err)
}

func (n *testNode) register(t *testing.T, name string) uint32 {
	t.Helper()
	n.sendControl(t, control.Register{Name: name, NodeType: "sensor", Description: name + " test node"})
	f, msg := n.readControl(t)
	ack, ok := msg.(control.RegisterAck)
	require.True(t, ok, "expected RegisterAck, got %T", msg)
	require.True(t, ack.Accepted(), "registration rejected: %s", ack.Message)
	require.Equal(t, ack.NodeID, f.DestinationID)
	n.id = ack.NodeID
	return ack.NodeID
}

func waitForSnapshot(t *testing.T, svc *Service, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var last Snapshot
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		snap, err := svc.Snapshot(ctx)
		if err != nil {
			return false
		}
		last = snap
		return cond(snap)
	}, testWait, 10*time.Millisecond)
	return last
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server net.Conn, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

// recordingPoster collects posted events.
type recordingPoster struct {
	events chan Event
}

func newRecordingPoster() *recordingPoster {
	return &recordingPoster{events: make(chan Event, 256)}
}

func (p *recordingPoster) Post(ev Event) error {
	p.events <- ev
	return nil
}

func (p *recordingPoster) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(testWait):
		t.Fatalf("no event posted")
		return nil
	}
}

func (p *recordingPoster) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-p.events:
		t.Fatalf("unexpected event %s", ev.Kind())
	case <-time.After(d):
	}
}

type closedPoster struct{}

func (closedPoster) Post(Event) error { return ErrServiceStopped }

// halfWriteConn writes the first half of every buffer, then fails the way a
// write deadline does.
type halfWriteConn struct {
	net.Conn
}

func (c halfWriteConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b[:len(b)/2])
	if err != nil {
		return n, err
	}
	return n, os.ErrDeadlineExceeded
}

// opaqueConn hides CloseRead, like the conns a connection limit hands out.
type opaqueConn struct {
	net.Conn
}
