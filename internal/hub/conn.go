package hub

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/nodehub/internal/logging"
	"github.com/danmuck/nodehub/internal/observability"
	"github.com/danmuck/nodehub/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConnConfig bounds per-connection socket operations.
type ConnConfig struct {
	// IdleTimeout bounds each wait for the next frame header so the reader can
	// observe a close request. Zero blocks indefinitely.
	IdleTimeout time.Duration
	// WriteTimeout bounds each Send. Zero disables the deadline.
	WriteTimeout time.Duration
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		IdleTimeout:  time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// NodeInfo is what a node declares when it registers.
type NodeInfo struct {
	Name        string
	NodeType    string
	Description string
	Capability  []byte
}

// Conn is one accepted node socket and its reader goroutine.
//
// IP and Session are immutable. Identity (id, registration, NodeInfo) is
// written and read only on the dispatcher goroutine.
type Conn struct {
	netConn     net.Conn
	ip          string
	session     string
	connectedAt time.Time
	sink        Poster
	cfg         ConnConfig
	log         zerolog.Logger

	id         uint32
	registered bool
	info       NodeInfo

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	closing   atomic.Bool
	broken    atomic.Bool
	done      chan struct{}
	writeMu   sync.Mutex
	// deadlineMu orders reader deadline updates against Close.
	deadlineMu sync.Mutex
}

func newConn(nc net.Conn, ip string, sink Poster, cfg ConnConfig) *Conn {
	session := uuid.NewString()
	return &Conn{
		netConn:     nc,
		ip:          ip,
		session:     session,
		connectedAt: time.Now(),
		sink:        sink,
		cfg:         cfg,
		log: logging.Component("hub.conn").With().
			Str("session", session).
			Str("ip", ip).
			Logger(),
		done: make(chan struct{}),
	}
}

func (c *Conn) IP() string             { return c.ip }
func (c *Conn) Session() string        { return c.session }
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// ID returns the node id, or 0 while unregistered.
func (c *Conn) ID() uint32       { return c.id }
func (c *Conn) Registered() bool { return c.registered }
func (c *Conn) Info() NodeInfo   { return c.info }

func (c *Conn) RemoteAddr() string {
	if addr := c.netConn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Start launches the reader goroutine. Later calls do nothing.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.readLoop()
	})
}

func (c *Conn) readLoop() {
	defer close(c.done)
	r := frame.NewReader(c.netConn)
	for {
		if c.closing.Load() {
			return
		}
		if c.cfg.IdleTimeout > 0 {
			c.setReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		if _, err := frame.PeekLength(r); err != nil {
			if isTimeout(err) {
				continue
			}
			c.readFailed(err)
			return
		}
		// A frame has started; the rest of it is read without the idle bound.
		c.setReadDeadline(time.Time{})

		f, err := frame.ReadFrame(r)
		if err != nil {
			var decErr *frame.DecodeError
			if errors.As(err, &decErr) {
				observability.RecordDecodeError()
				c.log.Warn().Err(decErr.Err).Int("raw_len", len(decErr.Raw)).Msg("dropping undecodable frame")
				c.log.Debug().Str("raw", decErr.Hex()).Msg("undecodable frame bytes")
				continue
			}
			c.readFailed(err)
			return
		}
		observability.RecordFrameReceived()
		if err := c.sink.Post(MessageEvent{Conn: c, Frame: f}); err != nil {
			return
		}
	}
}

func (c *Conn) readFailed(err error) {
	if c.closing.Load() {
		return
	}
	if errors.Is(err, io.EOF) {
		c.log.Info().Msg("peer closed connection")
	} else {
		c.log.Warn().Err(err).Msg("connection read failed")
	}
	_ = c.sink.Post(DisconnectedEvent{Conn: c})
}

// setReadDeadline applies t unless Close has begun, in which case the reader
// stays interrupted.
func (c *Conn) setReadDeadline(t time.Time) {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	if c.closing.Load() {
		return
	}
	_ = c.netConn.SetReadDeadline(t)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Send writes f verbatim. It fails with ErrNotConnected once Close has begun
// or the connection is Broken, and with ErrShortWrite when the peer accepted
// only part of the frame.
func (c *Conn) Send(f frame.Frame) error {
	if !f.Valid() {
		return fmt.Errorf("hub: send of zero frame")
	}
	if c.closing.Load() || c.broken.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	raw := f.Bytes()
	n, err := c.netConn.Write(raw)
	if n > 0 && n < len(raw) {
		c.broken.Store(true)
	}
	switch {
	case err == nil && n == len(raw):
		return nil
	case n == 0 && errors.Is(err, net.ErrClosed):
		return ErrNotConnected
	case n < len(raw):
		return fmt.Errorf("%w: wrote %d of %d bytes: %v", ErrShortWrite, n, len(raw), err)
	default:
		return err
	}
}

// Broken reports that a Send left part of a frame on the wire. The peer's
// stream is misframed from there on, so the owner must release the connection.
func (c *Conn) Broken() bool {
	return c.broken.Load()
}

// Close stops the reader and releases the socket. The pending read is
// interrupted with an expired deadline, plus a read-side half-close when the
// socket supports it (sockets wrapped by a connection limit do not). Close
// returns after the reader goroutine has exited, must not be called from that
// goroutine, and is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.deadlineMu.Lock()
		c.closing.Store(true)
		_ = c.netConn.SetReadDeadline(time.Unix(1, 0))
		c.deadlineMu.Unlock()

		if cr, ok := c.netConn.(interface{ CloseRead() error }); ok {
			_ = cr.CloseRead()
		}
		if c.started.Load() {
			<-c.done
		}
		if cerr := c.netConn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}

// Done is closed when the reader goroutine exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) String() string {
	if c.registered {
		return fmt.Sprintf("node[%d %s %s]", c.id, c.info.Name, c.ip)
	}
	return fmt.Sprintf("conn[%s %s]", c.session, c.ip)
}
