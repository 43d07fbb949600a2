package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/nodehub/internal/logging"
	"github.com/danmuck/nodehub/internal/retry"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// Listen opens the node listener on addr with SO_REUSEADDR. A positive
// maxConns caps concurrently open sockets.
func Listen(ctx context.Context, addr string, maxConns int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("hub listen failed (%s): %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// acceptBackoff paces retries after transient Accept errors such as EMFILE.
var acceptBackoff = retry.BackoffConfig{
	InitialDelay: 5 * time.Millisecond,
	Multiplier:   2.0,
	MaxDelay:     time.Second,
}

// Acceptor accepts sockets and hands each one to the dispatcher as a
// ConnectedEvent.
type Acceptor struct {
	ln      net.Listener
	sink    Poster
	log     zerolog.Logger
	started atomic.Bool
	closing atomic.Bool
	done    chan struct{}
}

func NewAcceptor(ln net.Listener, sink Poster) *Acceptor {
	return &Acceptor{
		ln:   ln,
		sink: sink,
		log:  logging.Component("hub.acceptor"),
		done: make(chan struct{}),
	}
}

func (a *Acceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Start runs the accept loop on a new goroutine.
func (a *Acceptor) Start() {
	if a.started.Swap(true) {
		return
	}
	go a.loop()
}

func (a *Acceptor) loop() {
	defer close(a.done)
	a.log.Info().Str("addr", a.ln.Addr().String()).Msg("accepting node connections")
	failures := 0
	for {
		nc, err := a.ln.Accept()
		if err != nil {
			if a.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			failures++
			delay := retry.NextDelay(acceptBackoff, failures, nil)
			a.log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			time.Sleep(delay)
			continue
		}
		failures = 0
		ip := peerIP(nc.RemoteAddr())
		if err := a.sink.Post(ConnectedEvent{Conn: nc, IP: ip}); err != nil {
			_ = nc.Close()
			a.log.Debug().Str("ip", ip).Msg("dropping connection after shutdown")
		}
	}
}

// Stop closes the listener and waits for the accept loop to exit.
func (a *Acceptor) Stop() {
	if a.closing.Swap(true) {
		if a.started.Load() {
			<-a.done
		}
		return
	}
	if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		a.log.Debug().Err(err).Msg("listener close")
	}
	if !a.started.Load() {
		return
	}
	<-a.done
	a.log.Info().Msg("acceptor stopped")
}

// peerIP renders the remote address without its port, IPv4-mapped addresses
// in dotted form.
func peerIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		if v4 := tcp.IP.To4(); v4 != nil {
			return v4.String()
		}
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
