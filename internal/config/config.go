package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pkgerrors "github.com/gezibash/moq-relay/pkg/errors"
)

// RelayConfig holds relay server configuration.
type RelayConfig struct {
	BaseConfig `mapstructure:",squash"`

	Listen    string          `mapstructure:"listen"`
	PublicURL string          `mapstructure:"public_url"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Transport TransportConfig `mapstructure:"transport"`
	Forwards  []ForwardConfig `mapstructure:"forwards"`
	Forward   []string        `mapstructure:"forward"`
	Origin    OriginConfig    `mapstructure:"origin"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// TLSConfig names the certificate the relay serves. An empty cert and key
// generate a self-signed certificate.
type TLSConfig struct {
	Cert     string `mapstructure:"cert"`
	Key      string `mapstructure:"key"`
	Insecure bool   `mapstructure:"insecure"`
}

// TransportConfig holds QUIC settings.
type TransportConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// ForwardConfig is a peer relay every announce is forwarded to.
type ForwardConfig struct {
	URL    string `mapstructure:"url"`
	Filter string `mapstructure:"filter"`
}

// OriginConfig selects the origin directory backend.
type OriginConfig struct {
	Backend string         `mapstructure:"backend"`
	TTL     time.Duration  `mapstructure:"ttl"`
	Config  map[string]any `mapstructure:"config"`
}

// Enabled reports whether announces are recorded in an origin directory.
func (o OriginConfig) Enabled() bool {
	return o.Backend != "" && o.Backend != "none"
}

// AdminConfig holds the gRPC admin server settings.
type AdminConfig struct {
	Addr             string `mapstructure:"addr"`
	EnableReflection bool   `mapstructure:"enable_reflection"`
}

// AllForwards returns the configured forwards followed by any given by URL
// alone on the command line.
func (c RelayConfig) AllForwards() []ForwardConfig {
	out := make([]ForwardConfig, 0, len(c.Forwards)+len(c.Forward))
	out = append(out, c.Forwards...)
	for _, u := range c.Forward {
		out = append(out, ForwardConfig{URL: u})
	}
	return out
}

// Validate checks the fields the relay cannot start without.
func (c RelayConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen: %w", pkgerrors.ErrInvalidInput)
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("tls: cert and key must be set together: %w", pkgerrors.ErrInvalidInput)
	}
	for _, fwd := range c.AllForwards() {
		if err := checkURL(fwd.URL); err != nil {
			return fmt.Errorf("forward %q: %w", fwd.URL, err)
		}
	}
	if c.Origin.Enabled() {
		if err := checkURL(c.PublicURL); err != nil {
			return fmt.Errorf("public_url is required with an origin backend: %w", err)
		}
		if c.Origin.TTL <= 0 {
			return fmt.Errorf("origin.ttl must be positive: %w", pkgerrors.ErrInvalidInput)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidInput, err)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host: %w", pkgerrors.ErrInvalidInput)
	}
	return nil
}

func setRelayDefaults(v *viper.Viper) {
	SetCommonDefaults(v)

	v.SetDefault("listen", RelayDefaults.Listen)
	v.SetDefault("public_url", "")
	v.SetDefault("tls.insecure", false)
	v.SetDefault("transport.idle_timeout", RelayDefaults.IdleTimeout)

	v.SetDefault("origin.backend", RelayDefaults.OriginBackend)
	v.SetDefault("origin.ttl", RelayDefaults.OriginTTL)

	v.SetDefault("admin.addr", RelayDefaults.AdminAddr)
	v.SetDefault("admin.enable_reflection", false)

	v.SetDefault("observability.metrics_addr", RelayDefaults.MetricsAddr)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", RelayDefaults.OTLPProtocol)
	v.SetDefault("observability.service_name", RelayDefaults.ServiceName)
	v.SetDefault("observability.service_version", RelayDefaults.ServiceVersion)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
}

// BindRelayFlags binds cobra flags to viper for the relay start command.
func BindRelayFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("data-dir", "", "data directory (default ~/.moq)")
	f.String("listen", "", "QUIC listen address")
	f.String("config", "", "config file path")
	f.String("public-url", "", "URL other relays use to reach this one")
	f.String("tls-cert", "", "TLS certificate file")
	f.String("tls-key", "", "TLS private key file")
	f.Bool("tls-insecure", false, "skip certificate verification when dialing forwards")
	f.StringSlice("forward", nil, "relay URL to forward announces to (repeatable)")
	f.String("origin-backend", "", "origin directory backend (none, memory, redis, badger, sqlite)")
	f.String("admin-addr", "", "gRPC admin listen address")
	f.Bool("reflection", false, "enable gRPC reflection on the admin server")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (auto, json, pretty)")
	f.String("metrics-addr", "", "metrics HTTP listen address")
	f.String("otlp-endpoint", "", "OTLP trace collector endpoint")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("listen", f.Lookup("listen"))
	_ = v.BindPFlag("public_url", f.Lookup("public-url"))
	_ = v.BindPFlag("tls.cert", f.Lookup("tls-cert"))
	_ = v.BindPFlag("tls.key", f.Lookup("tls-key"))
	_ = v.BindPFlag("tls.insecure", f.Lookup("tls-insecure"))
	_ = v.BindPFlag("forward", f.Lookup("forward"))
	_ = v.BindPFlag("origin.backend", f.Lookup("origin-backend"))
	_ = v.BindPFlag("admin.addr", f.Lookup("admin-addr"))
	_ = v.BindPFlag("admin.enable_reflection", f.Lookup("reflection"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("observability.otlp_endpoint", f.Lookup("otlp-endpoint"))
}

// LoadRelay reads relay config from defaults, file, MOQ_RELAY_* env, and flags.
func LoadRelay(v *viper.Viper, configFile string) (RelayConfig, error) {
	setRelayDefaults(v)

	paths := []string{filepath.Join(Common.DataDir, "relay"), "/etc/moq/relay"}
	if err := Load(v, "MOQ_RELAY", configFile, paths...); err != nil {
		return RelayConfig{}, err
	}

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}
