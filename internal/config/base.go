package config

import (
	"os"

	"github.com/gezibash/moq-relay/internal/observability"
)

// BaseConfig contains configuration fields shared across components.
// Component configs embed this struct with mapstructure:",squash" to get
// the standard fields (data_dir, relay_url, observability) without
// redefinition.
type BaseConfig struct {
	DataDir       string              `mapstructure:"data_dir"`
	RelayURL      string              `mapstructure:"relay_url"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	// TraceSampleRatio is the share of root traces exported.
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`
}

// ObsConfig returns the subset the observability package needs.
func (c ObservabilityConfig) ObsConfig() observability.ObsConfig {
	return observability.ObsConfig{
		LogLevel:       c.LogLevel,
		LogFormat:      c.LogFormat,
		OTLPEndpoint:   c.OTLPEndpoint,
		OTLPProtocol:   c.OTLPProtocol,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		SampleRatio:    c.TraceSampleRatio,
	}
}

// ResolvedRelayURL returns the relay URL, checking config > MOQ_RELAY_URL env > default.
func (c BaseConfig) ResolvedRelayURL() string {
	if c.RelayURL != "" {
		return c.RelayURL
	}
	if u := os.Getenv("MOQ_RELAY_URL"); u != "" {
		return u
	}
	return Common.RelayURL
}

// ResolvedDataDir returns the data directory from config, or the default (~/.moq).
func (c BaseConfig) ResolvedDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DefaultDataDir()
}
