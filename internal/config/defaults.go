// Package config provides shared configuration patterns and defaults for the
// relay server and the pubsub tools.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Common contains default values shared across components.
var Common = struct {
	RelayURL  string
	LogLevel  string
	LogFormat string
	DataDir   string
}{
	RelayURL:  "https://localhost:4443",
	LogLevel:  "info",
	LogFormat: "auto",
	DataDir:   DefaultDataDir(),
}

// DefaultDataDir returns the default data directory (~/.moq).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".moq"
	}
	return filepath.Join(home, ".moq")
}

// RelayDefaults contains default values for the relay server.
var RelayDefaults = struct {
	Listen         string
	IdleTimeout    time.Duration
	OriginBackend  string
	OriginTTL      time.Duration
	AdminAddr      string
	MetricsAddr    string
	OTLPProtocol   string
	ServiceName    string
	ServiceVersion string
}{
	Listen:         "[::]:4443",
	IdleTimeout:    30 * time.Second,
	OriginBackend:  "none",
	OriginTTL:      10 * time.Minute,
	AdminAddr:      ":50051",
	MetricsAddr:    ":9090",
	OTLPProtocol:   "http",
	ServiceName:    "moq-relay",
	ServiceVersion: "dev",
}

// PubSubDefaults contains default values for the publish and subscribe tools.
var PubSubDefaults = struct {
	Namespace       string
	Track           string
	ObjectsPerGroup int
	ObjectDelay     time.Duration
	GroupDelay      time.Duration
}{
	Namespace:       "quic.video/demo",
	Track:           "objects",
	ObjectsPerGroup: 1000,
	ObjectDelay:     0,
	GroupDelay:      time.Second,
}
