package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/nodehub/internal/capability"
	"github.com/danmuck/nodehub/internal/logging"
	"github.com/danmuck/nodehub/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Hub endpoint configuration.
type ServiceConfig struct {
	ListenAddr      string
	AdminListenAddr string
	MaxConnections  int
	CapabilityPath  string
	CorsOrigins     []string
	AdminToken      string
	Conn            ConnConfig
	ShutdownTimeout time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      ":10000",
		Conn:            DefaultConnConfig(),
		ShutdownTimeout: 5 * time.Second,
	}
}

// Service wires the acceptor, dispatcher, hub-local handler, and optional
// admin API around one node listener.
type Service struct {
	cfg        ServiceConfig
	dispatcher *Dispatcher
	serving    atomic.Bool
	log        zerolog.Logger
}

// NewService loads the hub's capability document, if configured, and builds
// an idle service.
func NewService(cfg ServiceConfig) (*Service, error) {
	var doc []byte
	if path := strings.TrimSpace(cfg.CapabilityPath); path != "" {
		_, raw, err := capability.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if len(raw) > frame.MaxPayloadLen/2 {
			return nil, fmt.Errorf("hub capability document too large: %d bytes", len(raw))
		}
		doc = raw
	}
	return NewServiceWithHandler(cfg, NewHubNode(doc)), nil
}

// NewServiceWithHandler builds a service that sends hub-addressed frames to
// local.
func NewServiceWithHandler(cfg ServiceConfig, local LocalHandler) *Service {
	return &Service{
		cfg:        cfg,
		dispatcher: NewDispatcher(cfg.Conn, local),
		log:        logging.Component("hub.service"),
	}
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	return s.dispatcher.Snapshot(ctx)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ln, err := Listen(ctx, s.cfg.ListenAddr, s.cfg.MaxConnections)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub on ln until ctx is done, then shuts down in order:
// acceptor, connections, event drain, admin API. A Service serves once.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if s.serving.Swap(true) {
		_ = ln.Close()
		return ErrAlreadyStarted
	}

	acceptor := NewAcceptor(ln, s.dispatcher)
	s.dispatcher.Start()
	acceptor.Start()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("hub serving")

	adminErr := make(chan error, 1)
	var admin *AdminServer
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		adminLn, err := net.Listen("tcp", addr)
		if err != nil {
			acceptor.Stop()
			s.dispatcher.Stop()
			return fmt.Errorf("hub admin listen failed (%s): %w", addr, err)
		}
		admin = NewAdminServer(addr, AdminOptions{
			CorsOrigins: s.cfg.CorsOrigins,
			Token:       s.cfg.AdminToken,
		}, s.dispatcher)
		go func() {
			adminErr <- admin.Serve(adminLn)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-adminErr:
		if err != nil {
			runErr = fmt.Errorf("hub admin api failed: %w", err)
		}
	}

	s.log.Info().Msg("hub shutting down")
	acceptor.Stop()
	s.dispatcher.Stop()
	if admin != nil {
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn().Err(err).Msg("admin api shutdown")
		}
	}
	s.log.Info().Msg("hub stopped")
	return runErr
}
