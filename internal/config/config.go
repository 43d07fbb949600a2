package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// MinDNSInterval is the shortest allowed period between dynamic DNS updates.
const MinDNSInterval = 60 * time.Second

// HubConfig is the hubd runtime configuration.
type HubConfig struct {
	ListenAddr      string
	AdminListenAddr string
	ReadIdleTimeout time.Duration
	WriteTimeout    time.Duration
	MaxConnections  int
	CapabilityPath  string
	CorsOrigins     []string
	AdminToken      string
	RestartDelay    time.Duration
	DNS             DNSConfig
}

// DNSConfig drives the periodic dynamic DNS update. An empty URL or zero
// interval disables it.
type DNSConfig struct {
	URL      string
	Interval time.Duration
}

func (d DNSConfig) Enabled() bool {
	return strings.TrimSpace(d.URL) != "" && d.Interval > 0
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		ListenAddr:      ":10000",
		ReadIdleTimeout: time.Second,
		WriteTimeout:    5 * time.Second,
		RestartDelay:    time.Second,
	}
}

// hub config.toml key mapping.
type hubFileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	AdminListenAddr   string   `toml:"admin_listen_addr"`
	ReadIdleTimeoutMS int64    `toml:"read_idle_timeout_ms"`
	WriteTimeoutMS    int64    `toml:"write_timeout_ms"`
	MaxConnections    int      `toml:"max_connections"`
	CapabilityPath    string   `toml:"capability_path"`
	CorsOrigins       []string `toml:"cors_origins"`
	AdminToken        string   `toml:"admin_token"`
	RestartDelayMS    int64    `toml:"restart_delay_ms"`
	DNS               struct {
		URL       string `toml:"url"`
		IntervalS int64  `toml:"interval_s"`
	} `toml:"dns"`
}

// LoadHubConfig decodes path and overlays the keys it defines onto the
// defaults. capability_path is resolved relative to the config file.
func LoadHubConfig(path string) (HubConfig, error) {
	cfg := DefaultHubConfig()

	var raw hubFileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return HubConfig{}, fmt.Errorf("load hub config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return HubConfig{}, fmt.Errorf("load hub config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("read_idle_timeout_ms") {
		cfg.ReadIdleTimeout = time.Duration(raw.ReadIdleTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("write_timeout_ms") {
		cfg.WriteTimeout = time.Duration(raw.WriteTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("capability_path") {
		cfg.CapabilityPath = resolvePath(path, raw.CapabilityPath)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = trimAll(raw.CorsOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("restart_delay_ms") {
		cfg.RestartDelay = time.Duration(raw.RestartDelayMS) * time.Millisecond
	}
	if meta.IsDefined("dns", "url") {
		cfg.DNS.URL = strings.TrimSpace(raw.DNS.URL)
	}
	if meta.IsDefined("dns", "interval_s") {
		cfg.DNS.Interval = time.Duration(raw.DNS.IntervalS) * time.Second
	}

	if err := ValidateHubConfig(cfg); err != nil {
		return HubConfig{}, fmt.Errorf("load hub config: %w", err)
	}
	return cfg, nil
}

func ValidateHubConfig(cfg HubConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.ReadIdleTimeout < 0 {
		return fmt.Errorf("read_idle_timeout_ms must not be negative")
	}
	if cfg.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout_ms must not be negative")
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if cfg.RestartDelay < 0 {
		return fmt.Errorf("restart_delay_ms must not be negative")
	}
	if cfg.DNS.Interval < 0 {
		return fmt.Errorf("dns.interval_s must not be negative")
	}
	if cfg.DNS.Interval > 0 && cfg.DNS.Interval < MinDNSInterval {
		return fmt.Errorf("dns.interval_s must be at least %d", int(MinDNSInterval/time.Second))
	}
	if cfg.DNS.Interval > 0 && strings.TrimSpace(cfg.DNS.URL) == "" {
		return fmt.Errorf("dns.url is required when dns.interval_s is set")
	}
	return nil
}

// NodeConfig is the nodesim configuration for one simulated node.
type NodeConfig struct {
	HubAddr        string
	Name           string
	NodeType       string
	Description    string
	CapabilityPath string
	SendInterval   time.Duration
	TargetID       uint32
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		HubAddr:      "127.0.0.1:10000",
		Name:         "nodesim",
		NodeType:     "simulator",
		SendInterval: 5 * time.Second,
	}
}

type nodeFileConfig struct {
	HubAddr        string `toml:"hub_addr"`
	Name           string `toml:"name"`
	NodeType       string `toml:"node_type"`
	Description    string `toml:"description"`
	CapabilityPath string `toml:"capability_path"`
	SendIntervalMS int64  `toml:"send_interval_ms"`
	TargetID       uint32 `toml:"target_id"`
}

func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()

	var raw nodeFileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("load node config: %w", err)
	}
	if meta.IsDefined("hub_addr") {
		cfg.HubAddr = strings.TrimSpace(raw.HubAddr)
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("node_type") {
		cfg.NodeType = strings.TrimSpace(raw.NodeType)
	}
	if meta.IsDefined("description") {
		cfg.Description = strings.TrimSpace(raw.Description)
	}
	if meta.IsDefined("capability_path") {
		cfg.CapabilityPath = resolvePath(path, raw.CapabilityPath)
	}
	if meta.IsDefined("send_interval_ms") {
		cfg.SendInterval = time.Duration(raw.SendIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("target_id") {
		cfg.TargetID = raw.TargetID
	}

	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("load node config: %w", err)
	}
	return cfg, nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.HubAddr) == "" {
		return fmt.Errorf("hub_addr is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(cfg.NodeType) == "" {
		return fmt.Errorf("node_type is required")
	}
	if cfg.SendInterval < 0 {
		return fmt.Errorf("send_interval_ms must not be negative")
	}
	return nil
}

func resolvePath(configPath, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
