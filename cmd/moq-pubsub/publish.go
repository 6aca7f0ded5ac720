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

func newPublishCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Announce a namespace and produce an objects track",
		Long: `Announce a namespace to the relay and produce one track in objects mode.

Every group holds --objects-per-group objects of 800 bytes. Priorities start
at 10000 and count down with each object.

Examples:
  moq-pubsub publish --url https://localhost:4443 --insecure
  moq-pubsub publish -n live/cam1 -t video --object-delay 1ms --group-delay 20s
  moq-pubsub publish --groups 3                   # stop after three groups`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			return cli.RunCommand(cli.CommandConfig{
				Name:   "publish",
				Viper:  v,
				Output: os.Stderr,
				Extensions: []runtime.Extension{
					cli.WithSession(cfg.ResolvedRelayURL(), cli.QUICDialer(cfg.Insecure)),
				},
				Run: func(ctx context.Context, rt *runtime.Runtime, out *cli.Output) error {
					return publish(ctx, rt, out, cfg)
				},
			})
		},
	}

	bindFlags(cmd, v)
	f := cmd.Flags()
	f.Int("objects-per-group", 0, "objects in each group (default 1000)")
	f.Duration("object-delay", 0, "pause between objects")
	f.Duration("group-delay", 0, "pause between groups (default 1s)")
	f.Int("groups", 0, "stop after this many groups (0 runs until interrupted)")
	_ = v.BindPFlag("objects_per_group", f.Lookup("objects-per-group"))
	_ = v.BindPFlag("object_delay", f.Lookup("object-delay"))
	_ = v.BindPFlag("group_delay", f.Lookup("group-delay"))
	_ = v.BindPFlag("groups", f.Lookup("groups"))

	return cmd
}

func publish(ctx context.Context, rt *runtime.Runtime, out *cli.Output, cfg Config) error {
	sess := cli.SessionFrom(rt)
	if sess == nil {
		return fmt.Errorf("not connected")
	}

	writer, _, reader := serve.Tracks{Namespace: cfg.Namespace}.Produce()
	defer writer.Close(nil)

	track, err := writer.Create(cfg.Track)
	if err != nil {
		return fmt.Errorf("create track: %w", err)
	}

	producer := pubsub.NewProducer(track, pubsub.NewPrinter(os.Stdout), pubsub.ProducerConfig{
		ObjectsPerGroup: cfg.ObjectsPerGroup,
		ObjectDelay:     cfg.ObjectDelay,
		GroupDelay:      cfg.GroupDelay,
		Groups:          cfg.Groups,
		Logger:          rt.Log(),
	})

	start := time.Now()
	err = runFirst(ctx,
		func(ctx context.Context) error {
			if err := sess.Publisher().Announce(ctx, reader); err != nil {
				return fmt.Errorf("announce %s: %w", cfg.Namespace, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			if err := producer.RunObjects(ctx); err != nil {
				return fmt.Errorf("producer: %w", err)
			}
			return nil
		},
	)

	summary := out.KV("publish").
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
