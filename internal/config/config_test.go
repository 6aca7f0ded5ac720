package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pkgerrors "github.com/gezibash/moq-relay/pkg/errors"
)

func TestDefaultDataDir(t *testing.T) {
	dataDir := DefaultDataDir()
	if !strings.HasSuffix(dataDir, ".moq") {
		t.Errorf("DefaultDataDir() should end with .moq, got: %s", dataDir)
	}
	if !filepath.IsAbs(dataDir) {
		t.Errorf("DefaultDataDir() should return absolute path, got: %s", dataDir)
	}
}

func TestLoadRelayDefaults(t *testing.T) {
	cfg, err := LoadRelay(viper.New(), "")
	if err != nil {
		t.Fatalf("LoadRelay with no config file should not error, got: %v", err)
	}

	if cfg.Listen != RelayDefaults.Listen {
		t.Errorf("Listen = %q, want %q", cfg.Listen, RelayDefaults.Listen)
	}
	if cfg.Transport.IdleTimeout != 30*time.Second {
		t.Errorf("Transport.IdleTimeout = %v", cfg.Transport.IdleTimeout)
	}
	if cfg.Origin.Backend != "none" || cfg.Origin.Enabled() {
		t.Errorf("Origin.Backend = %q, enabled %v", cfg.Origin.Backend, cfg.Origin.Enabled())
	}
	if cfg.Origin.TTL != 10*time.Minute {
		t.Errorf("Origin.TTL = %v", cfg.Origin.TTL)
	}
	if cfg.Admin.Addr != ":50051" || cfg.Admin.EnableReflection {
		t.Errorf("Admin = %+v", cfg.Admin)
	}
	if cfg.Observability.LogLevel != "info" || cfg.Observability.LogFormat != "auto" {
		t.Errorf("Observability log = %q/%q", cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	}
	if cfg.Observability.MetricsAddr != ":9090" || cfg.Observability.OTLPProtocol != "http" {
		t.Errorf("Observability = %+v", cfg.Observability)
	}
	if cfg.Observability.ServiceName != "moq-relay" {
		t.Errorf("ServiceName = %q", cfg.Observability.ServiceName)
	}
	if len(cfg.AllForwards()) != 0 {
		t.Errorf("AllForwards = %v, want none", cfg.AllForwards())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadRelayEnvOverride(t *testing.T) {
	t.Setenv("MOQ_RELAY_LISTEN", "[::]:5555")
	t.Setenv("MOQ_RELAY_OBSERVABILITY_LOG_LEVEL", "debug")
	t.Setenv("MOQ_RELAY_ORIGIN_TTL", "1m")

	cfg, err := LoadRelay(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "[::]:5555" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.Observability.LogLevel)
	}
	if cfg.Origin.TTL != time.Minute {
		t.Errorf("Origin.TTL = %v", cfg.Origin.TTL)
	}
}

func TestLoadRelayYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
listen: "[::]:6000"
public_url: https://relay-a.example:6000
tls:
  cert: /etc/moq/cert.pem
  key: /etc/moq/key.pem
transport:
  idle_timeout: 45s
forwards:
  - url: https://relay-b.example:4443
    filter: namespace.startsWith("live/")
  - url: https://relay-c.example:4443
origin:
  backend: redis
  ttl: 2m
  config:
    addr: localhost:6379
    db: 2
admin:
  addr: ":6001"
  enable_reflection: true
observability:
  log_format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadRelay(viper.New(), path)
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}

	if cfg.Listen != "[::]:6000" || cfg.PublicURL != "https://relay-a.example:6000" {
		t.Errorf("Listen/PublicURL = %q/%q", cfg.Listen, cfg.PublicURL)
	}
	if cfg.TLS.Cert != "/etc/moq/cert.pem" || cfg.TLS.Key != "/etc/moq/key.pem" {
		t.Errorf("TLS = %+v", cfg.TLS)
	}
	if cfg.Transport.IdleTimeout != 45*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.Transport.IdleTimeout)
	}

	fwds := cfg.AllForwards()
	if len(fwds) != 2 {
		t.Fatalf("forwards = %+v", fwds)
	}
	if fwds[0].URL != "https://relay-b.example:4443" || fwds[0].Filter != `namespace.startsWith("live/")` {
		t.Errorf("forward[0] = %+v", fwds[0])
	}
	if fwds[1].Filter != "" {
		t.Errorf("forward[1] = %+v", fwds[1])
	}

	if !cfg.Origin.Enabled() || cfg.Origin.Backend != "redis" || cfg.Origin.TTL != 2*time.Minute {
		t.Errorf("Origin = %+v", cfg.Origin)
	}
	if cfg.Origin.Config["addr"] != "localhost:6379" {
		t.Errorf("origin addr = %v", cfg.Origin.Config["addr"])
	}
	if cfg.Admin.Addr != ":6001" || !cfg.Admin.EnableReflection {
		t.Errorf("Admin = %+v", cfg.Admin)
	}
	if cfg.Observability.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.Observability.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRelayMissingExplicitFile(t *testing.T) {
	_, err := LoadRelay(viper.New(), "/nonexistent/relay.yaml")
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestBindRelayFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "start"}
	v := viper.New()
	BindRelayFlags(cmd, v)

	err := cmd.Flags().Parse([]string{
		"--listen", "[::]:7000",
		"--config", "/etc/moq/relay/config.yaml",
		"--public-url", "https://me:7000",
		"--forward", "https://peer-1:4443",
		"--forward", "https://peer-2:4443",
		"--origin-backend", "sqlite",
		"--admin-addr", ":7001",
		"--reflection",
		"--metrics-addr", ":7002",
		"--tls-insecure",
	})
	if err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	cfg, err := LoadRelay(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "[::]:7000" || cfg.PublicURL != "https://me:7000" {
		t.Errorf("Listen/PublicURL = %q/%q", cfg.Listen, cfg.PublicURL)
	}
	if got := cfg.AllForwards(); len(got) != 2 || got[1].URL != "https://peer-2:4443" {
		t.Errorf("AllForwards = %+v", got)
	}
	if cfg.Origin.Backend != "sqlite" {
		t.Errorf("Origin.Backend = %q", cfg.Origin.Backend)
	}
	if cfg.Admin.Addr != ":7001" || !cfg.Admin.EnableReflection {
		t.Errorf("Admin = %+v", cfg.Admin)
	}
	if cfg.Observability.MetricsAddr != ":7002" {
		t.Errorf("MetricsAddr = %q", cfg.Observability.MetricsAddr)
	}
	if !cfg.TLS.Insecure {
		t.Error("TLS.Insecure should be set")
	}

	// --config is read by the command, not bound to viper.
	if got := v.GetString("config"); got != "" {
		t.Errorf("config should not be in viper, got %q", got)
	}
}

func TestRelayConfigValidate(t *testing.T) {
	valid := func() RelayConfig {
		return RelayConfig{
			Listen:    ":4443",
			PublicURL: "https://relay:4443",
			Origin:    OriginConfig{Backend: "memory", TTL: time.Minute},
		}
	}

	tests := []struct {
		name   string
		mutate func(*RelayConfig)
	}{
		{"no listen", func(c *RelayConfig) { c.Listen = "" }},
		{"cert without key", func(c *RelayConfig) { c.TLS.Cert = "cert.pem" }},
		{"forward without host", func(c *RelayConfig) { c.Forward = []string{"relay-b"} }},
		{"origin without public url", func(c *RelayConfig) { c.PublicURL = "" }},
		{"origin without ttl", func(c *RelayConfig) { c.Origin.TTL = 0 }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, pkgerrors.ErrInvalidInput) {
				t.Errorf("Validate() = %v, want ErrInvalidInput", err)
			}
		})
	}
}
