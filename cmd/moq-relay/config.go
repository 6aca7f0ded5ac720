package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/moq-relay/internal/cli"
	"github.com/gezibash/moq-relay/internal/config"
	"github.com/gezibash/moq-relay/internal/origin"
)

func newConfigCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration the relay would start with, after merging
defaults, the config file, MOQ_RELAY_* environment variables and flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadRelay(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cli.NewOutputFromViper(v, cmd.OutOrStdout())
			if err := describe(out, cfg, v.ConfigFileUsed()).Render(); err != nil {
				return err
			}
			return cfg.Validate()
		},
	}

	config.BindRelayFlags(cmd, v)
	bindOutputFlag(cmd, v)
	return cmd
}

func describe(out *cli.Output, cfg config.RelayConfig, file string) *cli.KV {
	if file == "" {
		file = "(none)"
	}
	kv := out.KV("relay-config").
		Set("config file", file).
		Set("data dir", cfg.ResolvedDataDir()).
		Set("listen", cfg.Listen).
		Set("public url", cfg.PublicURL).
		Set("tls", tlsMode(cfg.TLS)).
		Set("idle timeout", cfg.Transport.IdleTimeout)

	for i, f := range cfg.AllForwards() {
		desc := f.URL
		if f.Filter != "" {
			desc += " if " + f.Filter
		}
		kv.Set(fmt.Sprintf("forward %d", i+1), desc)
	}

	kv.Set("origin backend", cfg.Origin.Backend)
	if cfg.Origin.Enabled() {
		kv.Set("origin ttl", cfg.Origin.TTL)
	}
	return kv.
		Set("admin addr", cfg.Admin.Addr).
		Set("metrics addr", cfg.Observability.MetricsAddr).
		Set("log level", cfg.Observability.LogLevel)
}

func tlsMode(c config.TLSConfig) string {
	mode := "self-signed"
	if c.Cert != "" {
		mode = c.Cert
	}
	if c.Insecure {
		mode += " (insecure dial)"
	}
	return mode
}

func newBackendsCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List origin directory backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cli.NewOutputFromViper(v, cmd.OutOrStdout())
			table := out.Table("origin-backends", "Name", "Defaults")
			for _, name := range origin.ListBackends() {
				defaults := origin.GetDefaults(name)
				pairs := make([]string, 0, len(defaults))
				for k, val := range defaults {
					pairs = append(pairs, k+"="+val)
				}
				slices.Sort(pairs)
				table.AddRow(name, strings.Join(pairs, " "))
			}
			return table.Render()
		},
	}

	bindOutputFlag(cmd, v)
	return cmd
}

func bindOutputFlag(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = v.BindPFlag("output", cmd.Flags().Lookup("output"))
}
