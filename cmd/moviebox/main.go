package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"moviebox/internal/app"
	"moviebox/internal/config"
	"moviebox/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "moviebox",
	Short:         "Offline-first saved titles and watch history",
	Long:          "moviebox keeps saved titles, watch history and preferences on disk and reconciles saved titles with the backend.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(savedCmd, historyCmd, prefsCmd, loginCmd, logoutCmd, statusCmd, peopleCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp builds and starts the client core, runs fn and closes the core,
// which waits for queued remote mutations.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logFile := logging.New(cfg.Logging)
	defer logFile.Close()

	a, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := a.Start(ctx); err != nil {
		a.Close(ctx)
		return err
	}

	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.API.Timeout+5*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}
	return runErr
}
