// Package nodeclient is the node side of the hub protocol: dial, register,
// exchange frames, and query the hub.
package nodeclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/danmuck/nodehub/internal/logging"
	"github.com/danmuck/nodehub/internal/protocol/control"
	"github.com/danmuck/nodehub/internal/retry"
	"github.com/rs/zerolog"
)

var (
	ErrHubAddressRequired   = errors.New("nodeclient: hub address required")
	ErrRegistrationRejected = errors.New("nodeclient: registration rejected")
	ErrSessionClosed        = errors.New("nodeclient: session closed")
	ErrUnexpectedReply      = errors.New("nodeclient: unexpected hub reply")
)

type Config struct {
	Address            string
	Register           control.Register
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	Backoff            retry.BackoffConfig
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   3 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		Backoff:          retry.DefaultBackoff(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

type Client struct {
	cfg Config
	rng *rand.Rand
	log zerolog.Logger
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrHubAddressRequired
	}
	if err := cfg.Register.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg.withDefaults(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		log: logging.Component("nodeclient").With().Str("node", cfg.Register.Name).Logger(),
	}, nil
}

// ConnectAndRegister dials the hub, registers, and returns a live session.
// Dial failures are retried with backoff; a rejected registration is not.
func (c *Client) ConnectAndRegister(ctx context.Context) (*Session, error) {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Str("addr", c.cfg.Address).Msg("dial failed")
			if !c.shouldRetry(attempt) {
				return nil, err
			}
			if err := retry.Sleep(ctx, retry.NextDelay(c.cfg.Backoff, attempt, c.rng)); err != nil {
				return nil, err
			}
			continue
		}

		s, err := c.register(ctx, conn)
		if err == nil {
			c.log.Info().Uint32("node_id", s.ID()).Msg("registered with hub")
			return s, nil
		}
		_ = conn.Close()
		if errors.Is(err, ErrRegistrationRejected) || !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := retry.Sleep(ctx, retry.NextDelay(c.cfg.Backoff, attempt, c.rng)); err != nil {
			return nil, err
		}
	}
}

// Dial connects without registering. The session can address only the hub
// until Register succeeds.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	return newSession(conn, c.cfg, c.log), nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", c.cfg.Address)
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) register(ctx context.Context, conn net.Conn) (*Session, error) {
	s := newSession(conn, c.cfg, c.log)
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	if _, err := s.Register(hctx, c.cfg.Register); err != nil {
		return nil, err
	}
	return s, nil
}

func rejected(ack control.RegisterAck) error {
	return fmt.Errorf("%w: %s", ErrRegistrationRejected, ack.Message)
}
