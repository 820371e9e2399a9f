package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/reelcast/reelcast/internal/adapter"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	app *App

	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reelcast",
	Short: "Short-form episode feed in the terminal",
	Long: `reelcast browses an episode feed, plays episodes in an external player
with progressive caching, and keeps likes, comments and watch progress in
sync with the backend.

Configuration is read from ~/.config/reelcast/config.yaml and REELCAST_*
environment variables (for example REELCAST_BACKEND_URL).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := adapter.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "DEBUG"
		}

		logger, closer, err := adapter.SetupLogger(&cfg.Logging)
		if err != nil {
			// Fall back to null logger if file logging fails
			logger, closer = adapter.NullLogger(), nil
		}
		slog.SetDefault(logger)

		app = NewApp(cfg, logger, closer)
		logger.Info("starting reelcast", "version", Version, "command", cmd.CommandPath())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(likeCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if app != nil {
		app.Close()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
