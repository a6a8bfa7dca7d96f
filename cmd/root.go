package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "release-mirror",
	Short: "Mirror upstream GitHub releases into a container registry",
	Long: `release-mirror keeps an image registry in sync with the tagged releases of an upstream
repository: missing release images are built from the exact tagged commit and pushed, and the
"latest" image is rebuilt from the default branch on every run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
