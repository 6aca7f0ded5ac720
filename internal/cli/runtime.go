// Package cli provides helpers for building CLI commands with the runtime pattern.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/gezibash/moq-relay/internal/config"
	"github.com/gezibash/moq-relay/internal/session"
	"github.com/gezibash/moq-relay/internal/transport/quic"
	"github.com/gezibash/moq-relay/pkg/runtime"
)

const sessionKey = "session"

// NewBuilder creates a runtime builder configured from viper settings.
// Common CLI flags are automatically applied:
//   - data_dir: data directory path
//   - observability.log_level: logging level (debug, info, warn, error)
//   - observability.log_format: logging format (text, json)
//
// Client-side logs are written to {data_dir}/log/cli.log instead of stdout,
// which carries the command's own output.
func NewBuilder(name string, v *viper.Viper) *runtime.Builder {
	dataDir := v.GetString("data_dir")
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	builder := runtime.New(name).DataDir(dataDir)

	logDir := filepath.Join(dataDir, "log")
	if err := os.MkdirAll(logDir, 0o700); err == nil {
		f, err := os.OpenFile(filepath.Join(logDir, "cli.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is constructed from known data dir
		if err == nil {
			builder = builder.LogWriter(f)
		}
	}

	level := v.GetString("observability.log_level")
	if level == "" {
		level = v.GetString("log_level")
	}
	format := v.GetString("observability.log_format")
	if format == "" || format == "auto" {
		format = "text"
	}
	if level != "" {
		builder = builder.Logging(level, format)
	}

	return builder
}

// DialFunc opens a transport connection to a relay URL.
type DialFunc func(ctx context.Context, url string) (session.Conn, error)

// QUICDialer dials relays over QUIC. insecure skips certificate verification.
func QUICDialer(insecure bool) DialFunc {
	tlsConf := quic.ClientTLS(insecure)
	return func(ctx context.Context, url string) (session.Conn, error) {
		conn, err := quic.Dial(ctx, url, tlsConf, quic.Config{})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// WithSession connects to the relay at url and runs the session until the
// runtime closes. The session is available through SessionFrom.
func WithSession(url string, dial DialFunc) runtime.Extension {
	return func(rt *runtime.Runtime) error {
		if url == "" {
			url = config.Common.RelayURL
		}
		ctx := rt.Context()

		conn, err := dial(ctx, url)
		if err != nil {
			return fmt.Errorf("connect %s: %w", url, err)
		}
		sess, err := session.Connect(ctx, conn, session.Options{Logger: rt.Log()})
		if err != nil {
			_ = conn.CloseWithError(session.CodeProtocol, "setup failed")
			return fmt.Errorf("setup %s: %w", url, err)
		}

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := sess.Run(runCtx); err != nil {
				rt.Log().Warn("session ended", "url", url, "error", err)
			}
		}()

		rt.Set(sessionKey, sess)
		rt.OnClose(func() error {
			cancel()
			<-done
			return nil
		})
		rt.Log().Info("connected", "url", url, "session", sess.ID())
		return nil
	}
}

// SessionFrom returns the session registered by WithSession, or nil.
func SessionFrom(rt *runtime.Runtime) *session.Session {
	sess, _ := rt.Get(sessionKey).(*session.Session)
	return sess
}
