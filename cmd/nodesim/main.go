package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/nodehub/internal/capability"
	"github.com/danmuck/nodehub/internal/config"
	"github.com/danmuck/nodehub/internal/nodeclient"
	"github.com/danmuck/nodehub/internal/observability"
	"github.com/danmuck/nodehub/internal/protocol/control"
)

func main() {
	logger := observability.InitLogger("nodesim")
	configPath := flag.String("config", "", "path to node config.toml")
	hubAddr := flag.String("hub", "", "hub address, overrides hub_addr")
	name := flag.String("name", "", "node name, overrides name")
	target := flag.Uint("target", 0, "node id to send ticks to, overrides target_id")
	flag.Parse()

	cfg := config.DefaultNodeConfig()
	if *configPath != "" {
		loaded, err := config.LoadNodeConfig(*configPath)
		if err != nil {
			logger.Error().Err(err).Msg("nodesim config")
			os.Exit(1)
		}
		cfg = loaded
	}
	if *hubAddr != "" {
		cfg.HubAddr = *hubAddr
	}
	if *name != "" {
		cfg.Name = *name
	}
	if *target != 0 {
		cfg.TargetID = uint32(*target)
	}

	simCfg, err := simulatorConfig(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("nodesim setup")
		os.Exit(1)
	}
	sim, err := nodeclient.NewSimulator(simCfg)
	if err != nil {
		logger.Error().Err(err).Msg("nodesim setup")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("nodesim exited")
		os.Exit(1)
	}
}

func simulatorConfig(cfg config.NodeConfig) (nodeclient.SimulatorConfig, error) {
	reg := control.Register{
		Name:        cfg.Name,
		NodeType:    cfg.NodeType,
		Description: cfg.Description,
	}
	if cfg.CapabilityPath != "" {
		_, raw, err := capability.LoadFile(cfg.CapabilityPath)
		if err != nil {
			return nodeclient.SimulatorConfig{}, err
		}
		reg.Capability = raw
	}
	client := nodeclient.DefaultConfig()
	client.Address = cfg.HubAddr
	client.Register = reg
	return nodeclient.SimulatorConfig{
		Client:   client,
		TargetID: cfg.TargetID,
		Interval: cfg.SendInterval,
	}, nil
}
