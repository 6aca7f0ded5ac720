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
		Use:   "moq-relay",
		Short: "Media over QUIC relay",
		Long: `Media over QUIC relay server.

The relay accepts announces from publishers, serves their tracks to any
number of subscribers, and forwards announces to peer relays.

Commands:
  moq-relay start        Start the relay server
  moq-relay config       Print the effective configuration
  moq-relay backends     List origin directory backends`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newStartCmd(),
		newConfigCmd(),
		newBackendsCmd(),
		newVersionCmd(),
	)

	return rootCmd.Execute()
}
