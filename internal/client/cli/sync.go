package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/iocli"
	clientsync "github.com/iudanet/gophsync/internal/client/sync"
	"github.com/iudanet/gophsync/internal/metrics"
	"github.com/iudanet/gophsync/pkg/api"
)

// meteredRounder учитывает раунды в метриках процесса
type meteredRounder struct {
	rounder clientsync.Rounder
}

func (m meteredRounder) Round(ctx context.Context, owner api.OwnerID) (*clientsync.RoundResult, error) {
	start := time.Now()
	result, err := m.rounder.Round(ctx, owner)

	switch {
	case errors.Is(err, clientsync.ErrLockUnavailable):
		metrics.ObserveRound(metrics.RoundSkipped, time.Since(start), 0, 0)
	case err != nil || result == nil:
		metrics.ObserveRound(metrics.RoundFailed, time.Since(start), 0, 0)
	case result.Synced:
		metrics.ObserveRound(metrics.RoundSynced, result.Duration, result.Received, result.Sent)
	default:
		metrics.ObserveRound(metrics.RoundPending, result.Duration, result.Received, result.Sent)
	}
	return result, err
}

func newSyncCommand(opts *RootOptions, stdio iocli.IO) *cobra.Command {
	var maxRounds int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize local data with the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, stdio, func(ctx context.Context, a *app) error {
				return runSync(ctx, a, maxRounds)
			})
		},
	}
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 100, "stop after this many rounds even if changes remain")

	return cmd
}

// startWorker запускает планировщик до отмены возвращенной функции
func (a *app) startWorker(ctx context.Context) (stop func()) {
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := a.worker.Run(runCtx); err != nil {
			a.logger.Error("Sync worker failed", "error", err)
		}
	}()

	return func() {
		cancel()
		<-a.worker.Stopped()
	}
}

func runSync(ctx context.Context, a *app, maxRounds int) error {
	id, err := a.unlock(ctx)
	if err != nil {
		return err
	}

	stop := a.startWorker(ctx)
	defer stop()

	a.io.Println("=== Synchronization ===")
	a.io.Printf("Relay: %s\n", a.cfg.ServerURL)

	var (
		total  clientsync.RoundResult
		rounds int
	)
	for rounds < maxRounds {
		result, err := a.worker.SyncNow(ctx, id)
		rounds++
		if err != nil {
			return fmt.Errorf("synchronization failed: %w", err)
		}

		total.Duration += result.Duration
		total.Received += result.Received
		total.Merged += result.Merged
		total.Sent += result.Sent
		total.Synced = result.Synced
		if result.Synced {
			break
		}
	}

	a.io.Println()
	if total.Synced {
		a.io.Println("✓ Synchronization completed successfully!")
	} else {
		a.io.Println("⚠️  Changes remain, run 'gophsync sync' again.")
	}
	a.io.Printf("Rounds:             %d\n", rounds)
	a.io.Printf("Pulled from relay:  %d operations\n", total.Received)
	a.io.Printf("Merged locally:     %d operations\n", total.Merged)
	a.io.Printf("Pushed to relay:    %d operations\n", total.Sent)
	a.io.Printf("Took:               %s\n", total.Duration.Round(time.Millisecond))
	return nil
}
