package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "hub":
		return hubTemplate, nil
	case "node":
		return nodeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as the given kind and reports any problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "hub":
		_, err := LoadHubConfig(path)
		return err
	case "node":
		_, err := LoadNodeConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const hubTemplate = `listen_addr = ":10000"
admin_listen_addr = "127.0.0.1:10080"
read_idle_timeout_ms = 1000
write_timeout_ms = 5000
max_connections = 0
capability_path = "hub_capability.json"
cors_origins = ["http://localhost:3000"]
admin_token = ""
restart_delay_ms = 1000

[dns]
url = ""
interval_s = 0
`

const nodeTemplate = `hub_addr = "127.0.0.1:10000"
name = "nodesim"
node_type = "simulator"
description = "simulated node"
send_interval_ms = 5000
target_id = 0
`
