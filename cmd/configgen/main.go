package main

import (
	"flag"
	"os"

	"github.com/danmuck/nodehub/internal/config"
	"github.com/danmuck/nodehub/internal/observability"
)

func main() {
	logger := observability.InitLogger("configgen")

	kind := flag.String("kind", "hub", "config kind: hub|node")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := config.Validate(path, *kind); err != nil {
			logger.Error().Err(err).Str("path", path).Msg("config invalid")
			os.Exit(1)
		}
		logger.Info().Str("kind", *kind).Str("path", path).Msg("config valid")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		logger.Error().Err(err).Msg("write template")
		os.Exit(1)
	}
	logger.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}

func defaultPath(kind string) string {
	switch kind {
	case "node":
		return "cmd/nodesim/config.toml"
	default:
		return "cmd/hubd/config.toml"
	}
}
