// Package dnsupdate keeps a dynamic DNS record pointed at the hub by calling a
// provider update URL on a fixed interval.
package dnsupdate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/nodehub/internal/logging"
	"github.com/danmuck/nodehub/internal/observability"
	"github.com/danmuck/nodehub/internal/retry"
	"github.com/rs/zerolog"
)

const (
	// MinInterval is the shortest allowed period between updates.
	MinInterval = 60 * time.Second
	// maxBody caps how much of the provider response is read.
	maxBody = 32
)

var (
	ErrInvalidInterval    = errors.New("dnsupdate: invalid interval")
	ErrUnexpectedResponse = errors.New("dnsupdate: unexpected response")
)

type Config struct {
	URL      string
	Interval time.Duration
	// RetryDelay is the first wait after a failed update; later failures back
	// off up to Interval. Zero means MinInterval.
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Updater issues GET requests to the provider URL. A response body of exactly
// "OK" counts as success.
type Updater struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

func New(cfg Config) (*Updater, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("dnsupdate: url is required")
	}
	if cfg.Interval < MinInterval {
		return nil, fmt.Errorf("%w: min=%s given=%s", ErrInvalidInterval, MinInterval, cfg.Interval)
	}
	return newUpdater(cfg), nil
}

func newUpdater(cfg Config) *Updater {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = MinInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Updater{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logging.Component("dnsupdate"),
	}
}

// Update performs one update request.
func (u *Updater) Update(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dnsupdate: build request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("dnsupdate: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("dnsupdate: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !bytes.Equal(bytes.TrimSpace(body), []byte("OK")) {
		return fmt.Errorf("%w: status=%d body=%q", ErrUnexpectedResponse, resp.StatusCode, body)
	}
	return nil
}

// Run updates immediately and then on every interval until ctx is done.
// Failures are retried with backoff.
func (u *Updater) Run(ctx context.Context) error {
	backoff := retry.BackoffConfig{
		InitialDelay: u.cfg.RetryDelay,
		Multiplier:   2.0,
		MaxDelay:     u.cfg.Interval,
	}
	failures := 0
	u.log.Info().Dur("interval", u.cfg.Interval).Msg("dns updater started")
	for {
		var wait time.Duration
		if err := u.Update(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			wait = retry.NextDelay(backoff, failures, nil)
			observability.RecordDNSUpdate(false)
			u.log.Warn().Err(err).Int("attempt", failures).Dur("retry_in", wait).Msg("dns update failed")
		} else {
			failures = 0
			wait = u.cfg.Interval
			observability.RecordDNSUpdate(true)
			u.log.Info().Msg("dns updated")
		}
		if err := retry.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
