package nodeclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/nodehub/internal/protocol/control"
	"github.com/danmuck/nodehub/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Session is one connection to the hub. Sends are safe for concurrent use;
// receives must come from one goroutine at a time.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    Config
	log    zerolog.Logger
	id     atomic.Uint32
	closed atomic.Bool
	wmu    sync.Mutex
	rmu    sync.Mutex
}

func newSession(conn net.Conn, cfg Config, log zerolog.Logger) *Session {
	return &Session{
		conn:   conn,
		reader: frame.NewReader(conn),
		cfg:    cfg,
		log:    log,
	}
}

// ID is the node id assigned by the hub, or 0 before registration.
func (s *Session) ID() uint32 {
	return s.id.Load()
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// Send frames payload from this node to dst.
func (s *Session) Send(ctx context.Context, dst uint32, payload []byte) error {
	f, err := frame.New(s.ID(), dst, payload)
	if err != nil {
		return err
	}
	return s.SendFrame(ctx, f)
}

func (s *Session) SendFrame(ctx context.Context, f frame.Frame) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline(ctx, s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return frame.WriteFrame(s.conn, f)
}

// Recv returns the next frame addressed to this node. Undecodable frames are
// skipped. A Recv cut short by ctx may leave the stream mid-frame, so close the
// session after a cancellation.
func (s *Session) Recv(ctx context.Context) (frame.Frame, error) {
	if s.closed.Load() {
		return frame.Frame{}, ErrSessionClosed
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()

	var dl time.Time
	if d, ok := ctx.Deadline(); ok {
		dl = d
	}
	if err := s.conn.SetReadDeadline(dl); err != nil {
		return frame.Frame{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		f, err := frame.ReadFrame(s.reader)
		if err == nil {
			return f, nil
		}
		var decErr *frame.DecodeError
		if errors.As(err, &decErr) {
			s.log.Warn().Err(decErr.Err).Msg("skipping undecodable frame from hub")
			continue
		}
		if ctxDone(ctx, dl) {
			return frame.Frame{}, ctx.Err()
		}
		return frame.Frame{}, err
	}
}

// Request sends a hub-control message and waits for the hub's next control
// reply. Frames from other nodes that arrive first are handed to onOther, or
// dropped when onOther is nil.
func (s *Session) Request(ctx context.Context, m control.Message, onOther func(frame.Frame)) (control.Message, error) {
	payload, err := control.Encode(m)
	if err != nil {
		return nil, err
	}
	if err := s.Send(ctx, frame.HubID, payload); err != nil {
		return nil, err
	}
	return s.awaitControl(ctx, onOther)
}

func (s *Session) awaitControl(ctx context.Context, onOther func(frame.Frame)) (control.Message, error) {
	for {
		f, err := s.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if f.SourceID != frame.HubID {
			if onOther != nil {
				onOther(f)
			}
			continue
		}
		return control.Decode(f.Payload)
	}
}

// Register performs the registration handshake on this session.
func (s *Session) Register(ctx context.Context, reg control.Register) (uint32, error) {
	msg, err := s.Request(ctx, reg, nil)
	if err != nil {
		return 0, err
	}
	ack, ok := msg.(control.RegisterAck)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnexpectedReply, msg)
	}
	if !ack.Accepted() {
		return ack.NodeID, rejected(ack)
	}
	s.id.Store(ack.NodeID)
	return ack.NodeID, nil
}

// ListNodes collects every NodeList page the hub sends.
func (s *Session) ListNodes(ctx context.Context) ([]control.NodeInfo, error) {
	msg, err := s.Request(ctx, control.ListNodes{}, nil)
	var out []control.NodeInfo
	for {
		if err != nil {
			return nil, err
		}
		page, ok := msg.(control.NodeList)
		if !ok {
			return nil, replyError(msg)
		}
		out = append(out, page.Nodes...)
		if !page.More {
			return out, nil
		}
		msg, err = s.awaitControl(ctx, nil)
	}
}

// Capability fetches the capability document of node id (0 is the hub).
func (s *Session) Capability(ctx context.Context, id uint32) ([]byte, error) {
	msg, err := s.Request(ctx, control.GetCapability{NodeID: id}, nil)
	if err != nil {
		return nil, err
	}
	c, ok := msg.(control.Capability)
	if !ok {
		return nil, replyError(msg)
	}
	return c.Document, nil
}

func replyError(msg control.Message) error {
	if e, ok := msg.(control.Error); ok {
		return e
	}
	return fmt.Errorf("%w: %T", ErrUnexpectedReply, msg)
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return d
}

// ctxDone reports whether ctx ended, waiting out the small gap between a
// socket deadline firing and the context's own timer.
func ctxDone(ctx context.Context, dl time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	if dl.IsZero() || time.Now().Before(dl) {
		return false
	}
	<-ctx.Done()
	return true
}
