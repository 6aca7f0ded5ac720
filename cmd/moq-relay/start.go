package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/moq-relay/internal/admin"
	"github.com/gezibash/moq-relay/internal/config"
	"github.com/gezibash/moq-relay/internal/observability"
	"github.com/gezibash/moq-relay/internal/origin"
	"github.com/gezibash/moq-relay/internal/relay"
	"github.com/gezibash/moq-relay/internal/session"
	"github.com/gezibash/moq-relay/internal/storage"
	"github.com/gezibash/moq-relay/internal/transport/quic"
	"github.com/gezibash/moq-relay/pkg/logging"
	"github.com/gezibash/moq-relay/pkg/runtime"
)

const shutdownTimeout = 10 * time.Second

func newStartCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay server",
		Long: `Start the relay server.

Publishers announce namespaces to the relay and subscribers fetch tracks from
it. Announces can be forwarded to peer relays and recorded in a shared origin
directory.

Examples:
  moq-relay start                                        # self-signed, [::]:4443
  moq-relay start --listen :4443 --tls-cert c.pem --tls-key k.pem
  moq-relay start --forward https://edge.example:4443    # forward announces
  moq-relay start --origin-backend redis --public-url https://relay-1:4443`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadRelay(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return start(cmd.Context(), cfg)
		},
	}

	config.BindRelayFlags(cmd, v)
	return cmd
}

func start(ctx context.Context, cfg config.RelayConfig) error {
	obsCfg := cfg.Observability.ObsConfig()
	if obsCfg.ServiceVersion == config.RelayDefaults.ServiceVersion {
		obsCfg.ServiceVersion = version
	}
	obs, err := observability.New(ctx, obsCfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	rt, err := runtime.New("relay").
		Logger(logging.New(obs.Logger)).
		DataDir(cfg.ResolvedDataDir()).
		Use(func(rt *runtime.Runtime) error {
			rt.OnClose(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return obs.Close(ctx)
			})
			if cfg.Observability.MetricsAddr == "" {
				return nil
			}
			_, err := obs.ServeMetrics(cfg.Observability.MetricsAddr)
			return err
		}).
		Build()
	if err != nil {
		_ = obs.Close(ctx)
		return fmt.Errorf("create runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()
	log := rt.Log()

	origins, err := openOrigins(rt, cfg, obs.Metrics)
	if err != nil {
		return err
	}

	tlsConf, err := quic.ServerTLS(cfg.TLS.Cert, cfg.TLS.Key, tlsHosts(cfg)...)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	transport := quic.Config{IdleTimeout: cfg.Transport.IdleTimeout}
	ln, err := quic.Listen(cfg.Listen, tlsConf, transport)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	rt.OnClose(ln.Close)

	clientTLS := quic.ClientTLS(cfg.TLS.Insecure)
	forwards := make([]relay.ForwardConfig, 0, len(cfg.AllForwards()))
	for _, f := range cfg.AllForwards() {
		forwards = append(forwards, relay.ForwardConfig{URL: f.URL, Filter: f.Filter})
	}

	r, err := relay.New(relay.Config{
		Accept: func(ctx context.Context) (session.Conn, error) {
			conn, err := ln.Accept(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		Dial: func(ctx context.Context, rawURL string) (session.Conn, error) {
			conn, err := quic.Dial(ctx, rawURL, clientTLS, transport)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		Forwards: forwards,
		Origins:  origins,
		Logger:   log,
		Metrics:  obs.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}
	rt.OnClose(r.Close)

	var adminSrv *admin.Server
	if cfg.Admin.Addr != "" {
		adminSrv, err = admin.New(cfg.Admin.Addr, obs, cfg.Admin.EnableReflection)
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	relayDone := make(chan error, 1)
	go func() { relayDone <- r.Run(rt.Context()) }()

	adminDone := make(chan error, 1)
	if adminSrv != nil {
		go func() { adminDone <- adminSrv.Serve() }()
		adminSrv.SetServing(true)
		log.Info("admin listening", "addr", adminSrv.Addr())
	}
	log.Info("relay listening", "addr", ln.Addr().String(), "forwards", len(forwards), "origin", cfg.Origin.Backend)

	var runErr error
	select {
	case <-rt.Context().Done():
		_ = r.Close()
		runErr = <-relayDone
	case runErr = <-relayDone:
	case err := <-adminDone:
		runErr = fmt.Errorf("admin server: %w", err)
		_ = r.Close()
		<-relayDone
	}
	if runErr != nil {
		log.Error("relay stopped", "error", runErr)
	}

	if adminSrv != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		adminSrv.Stop(stopCtx)
		cancel()
	}
	rt.Shutdown()
	return runErr
}

// openOrigins opens the configured origin directory. It returns nil when the
// relay runs without one.
func openOrigins(rt *runtime.Runtime, cfg config.RelayConfig, metrics *observability.Metrics) (relay.Origins, error) {
	if !cfg.Origin.Enabled() {
		return nil, nil
	}

	backendCfg := storage.FromAny(cfg.Origin.Config)
	if _, ok := backendCfg["path"]; !ok {
		switch cfg.Origin.Backend {
		case "badger":
			backendCfg["path"] = rt.DataPath("origins")
		case "sqlite":
			backendCfg["path"] = rt.DataPath("origins.db")
		}
	}

	backend, err := origin.NewBackend(rt.Context(), cfg.Origin.Backend, backendCfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("origin backend: %w", err)
	}
	rt.OnClose(backend.Close)

	dir, err := origin.NewDirectory(backend, cfg.PublicURL,
		origin.WithTTL(cfg.Origin.TTL),
		origin.WithLogger(rt.Log()),
	)
	if err != nil {
		return nil, fmt.Errorf("origin directory: %w", err)
	}
	return relay.DirectoryOrigins(dir), nil
}

// tlsHosts names the hosts a generated certificate is valid for.
func tlsHosts(cfg config.RelayConfig) []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if u, err := url.Parse(cfg.PublicURL); err == nil && u.Hostname() != "" {
		hosts = append(hosts, u.Hostname())
	}
	return hosts
}
