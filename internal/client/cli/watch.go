package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/syncstate"
	"github.com/iudanet/gophsync/internal/metrics"
	"github.com/iudanet/gophsync/pkg/api"
)

func newWatchCommand(opts *RootOptions, stdio iocli.IO) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the owner synchronized until interrupted",
		Long: `Run periodic synchronization rounds for the owner and print state changes.

Failed rounds are retried with exponential backoff. Protocol and
authorization failures stop automatic rounds until the next explicit sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, stdio, func(ctx context.Context, a *app) error {
				return runWatch(ctx, a, metricsAddr)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")

	return cmd
}

func runWatch(ctx context.Context, a *app, metricsAddr string) error {
	id, err := a.unlock(ctx)
	if err != nil {
		return err
	}

	unsubscribe := a.states.Subscribe(func(owner api.OwnerID, state syncstate.State) {
		if state.Reason != nil {
			a.io.Printf("[%s] %s %s: %v\n", formatTime(state.At), owner, state.Kind, state.Reason)
			return
		}
		a.io.Printf("[%s] %s %s\n", formatTime(state.At), owner, state.Kind)
	})
	defer unsubscribe()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	stop := a.startWorker(ctx)
	defer stop()

	a.worker.Watch(id)
	a.io.Printf("Watching owner %s every %s, press Ctrl+C to stop\n", id, a.cfg.Sync.Interval)

	<-ctx.Done()
	a.io.Println("Stopping...")
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return fmt.Errorf("watch stopped: %w", ctx.Err())
}
