package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/nodehub/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadHubConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "hub.toml", `
listen_addr = " 127.0.0.1:12000 "
admin_listen_addr = "127.0.0.1:12080"
write_timeout_ms = 250
max_connections = 64
capability_path = "caps/hub.json"
cors_origins = ["http://a.local", " "]
admin_token = " s3cret "

[dns]
url = "https://dyn.example/update?token=x"
interval_s = 300
`)

	cfg, err := LoadHubConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:12000", cfg.ListenAddr)
	require.Equal(t, "127.0.0.1:12080", cfg.AdminListenAddr)
	require.Equal(t, time.Second, cfg.ReadIdleTimeout, "unset key keeps default")
	require.Equal(t, 250*time.Millisecond, cfg.WriteTimeout)
	require.Equal(t, 64, cfg.MaxConnections)
	require.Equal(t, filepath.Join(filepath.Dir(path), "caps/hub.json"), cfg.CapabilityPath)
	require.Equal(t, []string{"http://a.local"}, cfg.CorsOrigins)
	require.Equal(t, "s3cret", cfg.AdminToken)
	require.Equal(t, time.Second, cfg.RestartDelay)
	require.True(t, cfg.DNS.Enabled())
	require.Equal(t, 5*time.Minute, cfg.DNS.Interval)
}

func TestLoadHubConfigEmptyFileUsesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadHubConfig(writeFile(t, "hub.toml", ""))
	require.NoError(t, err)
	require.Equal(t, DefaultHubConfig(), cfg)
	require.False(t, cfg.DNS.Enabled())
}

func TestLoadHubConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"empty listen":   `listen_addr = ""`,
		"negative idle":  `read_idle_timeout_ms = -1`,
		"dns too fast":   "[dns]\nurl = \"http://x\"\ninterval_s = 30",
		"dns no url":     "[dns]\ninterval_s = 120",
		"unknown key":    `listen_port = 9`,
		"bad toml":       `listen_addr = `,
		"negative limit": `max_connections = -3`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadHubConfig(writeFile(t, "hub.toml", content))
			require.Error(t, err)
		})
	}
}

func TestLoadHubConfigAbsoluteCapabilityPath(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadHubConfig(writeFile(t, "hub.toml", `capability_path = "/etc/nodehub/hub.json"`))
	require.NoError(t, err)
	require.Equal(t, "/etc/nodehub/hub.json", cfg.CapabilityPath)
}

func TestLoadNodeConfig(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "node.toml", `
hub_addr = "hub.local:10000"
name = "porch"
node_type = "light"
capability_path = "porch.json"
send_interval_ms = 0
target_id = 4
`)
	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)
	require.Equal(t, "hub.local:10000", cfg.HubAddr)
	require.Equal(t, "porch", cfg.Name)
	require.Equal(t, "light", cfg.NodeType)
	require.Equal(t, filepath.Join(filepath.Dir(path), "porch.json"), cfg.CapabilityPath)
	require.Equal(t, time.Duration(0), cfg.SendInterval)
	require.Equal(t, uint32(4), cfg.TargetID)

	_, err = LoadNodeConfig(writeFile(t, "node.toml", `name = ""`))
	require.Error(t, err)
}

func TestTemplatesValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{"hub", "node"} {
		path := filepath.Join(dir, kind+".toml")
		require.NoError(t, WriteTemplate(path, kind, false))
		require.NoError(t, Validate(path, kind))
		require.Error(t, WriteTemplate(path, kind, false), "existing file must not be overwritten")
		require.NoError(t, WriteTemplate(path, kind, true))
	}
	_, err := Template("gateway")
	require.Error(t, err)
	require.Error(t, Validate(filepath.Join(dir, "hub.toml"), "gateway"))
}
