package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/config"
	"github.com/iudanet/gophsync/internal/server"
	"github.com/iudanet/gophsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "gophsync-relay",
		Short:         "gophsync relay: stores encrypted operations and answers reconciliation",
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, GitCommit),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	logger.Info("gophsync relay starting", "version", Version, "commit", GitCommit, "db", cfg.DBPath)

	store, err := sqlite.New(ctx, cfg.DBPath, sqlite.WithQuota(cfg.QuotaBytes))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if err := server.New(cfg, store, logger).Run(ctx); err != nil {
		return err
	}

	logger.Info("gophsync relay stopped")
	return nil
}
