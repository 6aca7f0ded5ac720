package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "moq-pubsub",
		Short: "Publish or subscribe to a demo track through a relay",
		Long: `Demo producer and consumer for a Media over QUIC relay.

Commands:
  moq-pubsub publish     Announce a namespace and produce an objects track
  moq-pubsub subscribe   Subscribe to a track and print what arrives`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newPublishCmd(),
		newSubscribeCmd(),
	)

	return rootCmd.Execute()
}
