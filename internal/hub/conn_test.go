package hub

import (
	"io"
	"testing"
	"time"

	"github.com/danmuck/nodehub/internal/protocol/frame"
	"github.com/danmuck/nodehub/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) (*Conn, *recordingPoster, *testNode) {
	t.Helper()
	server, client := tcpPair(t)
	sink := newRecordingPoster()
	c := newConn(server, "127.0.0.1", sink, ConnConfig{
		IdleTimeout:  20 * time.Millisecond,
		WriteTimeout: time.Second,
	})
	return c, sink, &testNode{conn: client, r: frame.NewReader(client)}
}

func TestConnPostsFramesInOrder(t *testing.T) {
	testlog.Start(t)
	c, sink, peer := newTestConn(t)
	c.Start()
	defer c.Close()

	var want []frame.Frame
	for i := 0; i < 5; i++ {
		want = append(want, peer.send(t, 3, []byte{byte(i), 'x'}))
	}
	for i := range want {
		ev := sink.next(t)
		msg, ok := ev.(MessageEvent)
		require.True(t, ok, "want MessageEvent, got %s", ev.Kind())
		require.Same(t, c, msg.Conn)
		require.Equal(t, want[i].Bytes(), msg.Frame.Bytes())
	}
}

func TestConnReassemblesSplitFrames(t *testing.T) {
	testlog.Start(t)
	c, sink, peer := newTestConn(t)
	c.Start()
	defer c.Close()

	f, err := frame.New(1, 2, []byte("split across writes and idle ticks"))
	require.NoError(t, err)
	raw := f.Bytes()

	peer.sendRaw(t, raw[:2])
	time.Sleep(50 * time.Millisecond)
	peer.sendRaw(t, raw[2:9])
	time.Sleep(50 * time.Millisecond)
	peer.sendRaw(t, raw[9:])

	msg := sink.next(t).(MessageEvent)
	require.Equal(t, raw, msg.Frame.Bytes())
}

func TestConnSkipsCorruptFrameAndContinues(t *testing.T) {
	testlog.Start(t)
	c, sink, peer := newTestConn(t)
	c.Start()
	defer c.Close()

	bad, err := frame.Encode(1, 2, []byte("corrupt me"))
	require.NoError(t, err)
	bad[len(bad)-1] ^= 0xFF
	peer.sendRaw(t, bad)
	good := peer.send(t, 2, []byte("fine"))

	msg := sink.next(t).(MessageEvent)
	require.Equal(t, good.Bytes(), msg.Frame.Bytes())
	sink.expectNone(t, 50*time.Millisecond)
}

func TestConnGarbageDoesNotCostQueuedFrames(t *testing.T) {
	testlog.Start(t)
	c, sink, peer := newTestConn(t)
	c.Start()
	defer c.Close()

	// Plausible length prefix over bytes that are not a frame.
	garbage := []byte{40, 0, 0, 0, 0xDE, 0xAD, 0xBE, 0xEF}
	var burst []byte
	var want []frame.Frame
	for i := 0; i < 5; i++ {
		f, err := frame.New(1, 2, []byte{'v', byte(i)})
		require.NoError(t, err)
		want = append(want, f)
		burst = append(burst, f.Bytes()...)
	}
	peer.sendRaw(t, append(garbage, burst...))

	for i := range want {
		msg, ok := sink.next(t).(MessageEvent)
		require.True(t, ok)
		require.Equal(t, want[i].Bytes(), msg.Frame.Bytes(), "frame %d", i)
	}
	sink.expectNone(t, 50*time.Millisecond)
}

func TestConnPeerCloseEmitsDisconnected(t *testing.T) {
	testlog.Start(t)
	c, sink, peer := newTestConn(t)
	c.Start()

	require.NoError(t, peer.conn.Close())
	ev := sink.next(t)
	disc, ok := ev.(DisconnectedEvent)
	require.True(t, ok, "want DisconnectedEvent, got %s", ev.Kind())
	require.Same(t, c, disc.Conn)

	select {
	case <-c.Done():
	case <-time.After(testWait):
		t.Fatalf("reader did not exit")
	}
	require.NoError(t, c.Close())
}

func TestConnCloseIsSilentAndIdempotent(t *testing.T) {
	testlog.Start(t)
	c, sink, _ := newTestConn(t)
	c.Start()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	default:
		t.Fatalf("Close returned before the reader exited")
	}
	sink.expectNone(t, 50*time.Millisecond)
}

func TestConnCloseWithoutStart(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestConn(t)
	require.NoError(t, c.Close())
}

func TestConnSendWritesVerbatimAndFailsAfterClose(t *testing.T) {
	testlog.Start(t)
	c, _, peer := newTestConn(t)
	c.Start()

	f, err := frame.New(0, 4, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, c.Send(f))
	got := peer.read(t)
	require.Equal(t, f.Bytes(), got.Bytes())

	require.Error(t, c.Send(frame.Frame{}))

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send(f), ErrNotConnected)
}

func TestConnPartialWriteMarksBroken(t *testing.T) {
	testlog.Start(t)
	server, client := tcpPair(t)
	c := newConn(halfWriteConn{server}, "127.0.0.1", newRecordingPoster(), DefaultConnConfig())
	defer c.Close()

	f, err := frame.New(0, 4, []byte("never whole"))
	require.NoError(t, err)
	require.False(t, c.Broken())
	require.ErrorIs(t, c.Send(f), ErrShortWrite)
	require.True(t, c.Broken())
	require.ErrorIs(t, c.Send(f), ErrNotConnected)

	got := make([]byte, f.Len()/2)
	_ = client.SetReadDeadline(time.Now().Add(testWait))
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	require.Equal(t, f.Bytes()[:len(got)], got)
}

func TestConnCloseInterruptsReaderWithoutHalfClose(t *testing.T) {
	testlog.Start(t)
	server, client := tcpPair(t)
	sink := newRecordingPoster()
	// No idle bound: only Close can wake the reader.
	c := newConn(opaqueConn{server}, "127.0.0.1", sink, ConnConfig{})
	c.Start()

	f, err := frame.New(1, 2, []byte("stalled mid-frame"))
	require.NoError(t, err)
	_, err = client.Write(f.Bytes()[:6])
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(testWait):
		t.Fatalf("Close blocked on a conn without CloseRead")
	}
	sink.expectNone(t, 50*time.Millisecond)

	_ = client.SetReadDeadline(time.Now().Add(testWait))
	_, err = client.Read(make([]byte, 1))
	require.Error(t, err)
	require.False(t, isTimeout(err))
}

func TestConnIdentityDefaults(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestConn(t)
	defer c.Close()

	require.Equal(t, uint32(0), c.ID())
	require.False(t, c.Registered())
	require.Equal(t, "127.0.0.1", c.IP())
	require.NotEmpty(t, c.Session())
	require.NotEmpty(t, c.RemoteAddr())
	require.Contains(t, c.String(), c.Session())
}
