package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gezibash/moq-relay/internal/origin"
	"github.com/gezibash/moq-relay/internal/storage"
)

func TestParseConfigDefaults(t *testing.T) {
	opts, err := ParseConfig(Defaults())
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if opts.Client.Addr != "localhost:6379" || opts.Client.DB != 0 {
		t.Fatalf("unexpected options: %+v", opts.Client)
	}
	if opts.Client.DialTimeout != 5*time.Second || opts.Prefix != "moq:origin:" {
		t.Fatalf("unexpected options: %+v prefix=%q", opts.Client, opts.Prefix)
	}
}

func TestParseConfigPoolSize(t *testing.T) {
	cfg := Defaults()
	cfg[KeyPoolSize] = "32"
	opts, err := ParseConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Client.PoolSize != 32 {
		t.Fatalf("PoolSize = %d", opts.Client.PoolSize)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string][2]string{
		"empty addr":    {KeyAddr, ""},
		"bad db":        {KeyDB, "one"},
		"negative db":   {KeyDB, "-1"},
		"bad retries":   {KeyMaxRetries, "x"},
		"bad dial":      {KeyDialTimeout, "soon"},
		"bad read":      {KeyReadTimeout, "soon"},
		"bad write":     {KeyWriteTimeout, "soon"},
		"bad pool size": {KeyPoolSize, "many"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			cfg[kv[0]] = kv[1]
			var ce *storage.ConfigError
			if _, err := ParseConfig(cfg); !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Backend != "redis" || ce.Field != kv[0] {
				t.Fatalf("ConfigError = %+v", ce)
			}
		})
	}
}

func TestFactoryUnreachable(t *testing.T) {
	cfg := Defaults()
	cfg[KeyAddr] = "127.0.0.1:1"
	cfg[KeyDialTimeout] = "200ms"
	cfg[KeyMaxRetries] = "-1"
	var ce *storage.ConfigError
	if _, err := NewFactory(context.Background(), cfg); !errors.As(err, &ce) {
		t.Fatalf("expected connect ConfigError, got %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	be := &Backend{prefix: "moq:origin:"}
	if got := be.key("live/demo"); got != "moq:origin:live/demo" {
		t.Fatalf("key = %q", got)
	}
}

func TestClosed(t *testing.T) {
	be := &Backend{prefix: "p:"}
	be.closed.Store(true)
	if err := be.Claim(context.Background(), "demo", "https://a", time.Minute); !errors.Is(err, origin.ErrClosed) {
		t.Fatalf("Claim after close = %v", err)
	}
	if _, err := be.Get(context.Background(), "demo"); !errors.Is(err, origin.ErrClosed) {
		t.Fatalf("Get after close = %v", err)
	}
}
