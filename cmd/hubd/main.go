package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/nodehub/internal/config"
	"github.com/danmuck/nodehub/internal/dnsupdate"
	"github.com/danmuck/nodehub/internal/hub"
	"github.com/danmuck/nodehub/internal/observability"
	"github.com/danmuck/nodehub/internal/retry"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.InitLogger("hubd")
	configPath := flag.String("config", "", "path to hub config.toml (defaults apply when empty)")
	flag.Parse()

	cfg := config.DefaultHubConfig()
	if *configPath != "" {
		loaded, err := config.LoadHubConfig(*configPath)
		if err != nil {
			logger.Error().Err(err).Msg("hubd config")
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervise(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("hubd exited")
		os.Exit(1)
	}
}

// supervise runs the hub and restarts it after a failure until ctx is done.
func supervise(ctx context.Context, cfg config.HubConfig, logger zerolog.Logger) error {
	if cfg.DNS.Enabled() {
		updater, err := dnsupdate.New(dnsupdate.Config{URL: cfg.DNS.URL, Interval: cfg.DNS.Interval})
		if err != nil {
			return err
		}
		go func() {
			_ = updater.Run(ctx)
		}()
	}

	for {
		logger.Info().Str("listen_addr", cfg.ListenAddr).Msg("starting hub")
		err := runHub(ctx, cfg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Dur("restart_in", cfg.RestartDelay).Msg("hub failed")
		if err := retry.Sleep(ctx, cfg.RestartDelay); err != nil {
			return err
		}
	}
}

func runHub(ctx context.Context, cfg config.HubConfig) error {
	svc, err := hub.NewService(serviceConfig(cfg))
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func serviceConfig(cfg config.HubConfig) hub.ServiceConfig {
	out := hub.DefaultServiceConfig()
	out.ListenAddr = cfg.ListenAddr
	out.AdminListenAddr = cfg.AdminListenAddr
	out.MaxConnections = cfg.MaxConnections
	out.CapabilityPath = cfg.CapabilityPath
	out.CorsOrigins = cfg.CorsOrigins
	out.AdminToken = cfg.AdminToken
	out.Conn = hub.ConnConfig{
		IdleTimeout:  cfg.ReadIdleTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return out
}
