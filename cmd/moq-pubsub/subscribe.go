package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/moq-relay/internal/cli"
	"github.com/gezibash/moq-relay/internal/pubsub"
	"github.com/gezibash/moq-relay/internal/serve"
	"github.com/gezibash/moq-relay/pkg/runtime"
)

func newSubscribeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to a track and print what arrives",
		Long: `Subscribe to a track through the relay and print it.

The output depends on the mode the publisher chose: objects are printed as a
table per group, stream and datagram payloads are printed as text.

Examples:
  moq-pubsub subscribe --url https://localhost:4443 --insecure
  moq-pubsub subscribe -n live/cam1 -t video`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			return cli.RunCommand(cli.CommandConfig{
				Name:   "subscribe",
				Viper:  v,
				Output: os.Stderr,
				Extensions: []runtime.Extension{
					cli.WithSession(cfg.ResolvedRelayURL(), cli.QUICDialer(cfg.Insecure)),
				},
				Run: func(ctx context.Context, rt *runtime.Runtime, out *cli.Output) error {
					return subscribe(ctx, rt, out, cfg)
				},
			})
		},
	}

	bindFlags(cmd, v)
	return cmd
}

func subscribe(ctx context.Context, rt *runtime.Runtime, out *cli.Output, cfg Config) error {
	sess := cli.SessionFrom(rt)
	if sess == nil {
		return fmt.Errorf("not connected")
	}

	writer, _, _ := serve.Tracks{Namespace: cfg.Namespace}.Produce()
	defer writer.Close(nil)

	track, err := writer.Create(cfg.Track)
	if err != nil {
		return fmt.Errorf("create track: %w", err)
	}
	consumer := pubsub.NewConsumer(track.Reader(), pubsub.NewPrinter(os.Stdout))

	start := time.Now()
	err = runFirst(ctx,
		func(ctx context.Context) error {
			if err := sess.Subscriber().Subscribe(ctx, track); err != nil {
				return fmt.Errorf("subscribe %s/%s: %w", cfg.Namespace, cfg.Track, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			if err := consumer.Run(ctx); err != nil {
				return fmt.Errorf("consumer: %w", err)
			}
			return nil
		},
	)

	summary := out.KV("subscribe").
		Set("namespace", cfg.Namespace).
		Set("track", cfg.Track).
		Set("elapsed", time.Since(start).Round(time.Millisecond))
	if err != nil {
		summary.Set("error", err.Error())
	}
	if rerr := summary.Render(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
