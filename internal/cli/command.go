package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/moq-relay/pkg/runtime"
)

// CommandConfig configures a CLI command that uses the runtime pattern.
type CommandConfig struct {
	// Name identifies this command (for runtime/logging).
	Name string
	// Viper holds the command's configuration.
	Viper *viper.Viper
	// Timeout for the command operation. Zero means no timeout.
	Timeout time.Duration
	// Output receives rendered results. Defaults to stdout.
	Output io.Writer
	// Extensions are applied to the runtime (e.g., WithSession).
	Extensions []runtime.Extension
	// Run is the command's business logic.
	Run func(ctx context.Context, rt *runtime.Runtime, out *Output) error
}

// RunCommand executes a CLI command with standard infrastructure setup.
// Handles: NewBuilder -> Use(extensions) -> Build -> timeout -> Output -> Run -> Close.
func RunCommand(cfg CommandConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("command name required")
	}
	if cfg.Viper == nil {
		return fmt.Errorf("viper required")
	}
	if cfg.Run == nil {
		return fmt.Errorf("run function required")
	}

	builder := NewBuilder(cfg.Name, cfg.Viper)
	for _, ext := range cfg.Extensions {
		builder = builder.Use(ext)
	}

	rt, err := builder.Build()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() { _ = rt.Close() }()

	ctx := rt.Context()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	return cfg.Run(ctx, rt, NewOutputFromViper(cfg.Viper, cfg.Output))
}
