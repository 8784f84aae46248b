package voiceboxd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kralicky/voicebox/pkg/cli/voiceboxd/commands"
	"github.com/kralicky/voicebox/pkg/logger"
)

func BuildRootCmd() *cobra.Command {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:          "voiceboxd",
		Short:        "Supervises speech and voice model tasks",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logger.SetLevel(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(commands.BuildServeCmd())
	return rootCmd
}

// Execute runs voiceboxd until it fails or receives SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := BuildRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
