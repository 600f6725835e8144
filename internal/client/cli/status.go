package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/syncstate"
)

func newStatusCommand(opts *RootOptions, stdio iocli.IO) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show owners, local fingerprints and relay availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, stdio, runStatus)
		},
	}
}

func runStatus(ctx context.Context, a *app) error {
	view := statusView{Relay: a.cfg.ServerURL}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := a.client.Health(healthCtx); err != nil {
		// Статус показываем и без relay
		view.RelayError = err.Error()
	}

	owners, err := a.owners.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list owners: %w", err)
	}

	for _, o := range owners {
		timestamps, err := a.store.AllTimestamps(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("failed to count operations: %w", err)
		}
		tree, err := a.trees.Get(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("failed to build fingerprint: %w", err)
		}
		root := tree.Root()

		st := ownerStatus{
			ID:         o.ID.String(),
			Node:       o.Node,
			Root:       hex.EncodeToString(root[:]),
			Operations: len(timestamps),
		}
		if state := a.states.Get(o.ID); state.Kind != syncstate.Initial {
			st.State = state.Kind.String()
			st.At = formatTime(state.At)
			if state.Reason != nil {
				st.Reason = state.Reason.Error()
			}
		}
		view.Owners = append(view.Owners, st)
	}

	if len(owners) == 0 {
		a.io.Println("No owners on this device.")
	}
	return renderStatus(a.io, view)
}
