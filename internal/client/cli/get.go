package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/storage"
)

func newGetCommand(opts *RootOptions, stdio iocli.IO) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <row>",
		Short: "Show a row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, stdio, func(ctx context.Context, a *app) error {
				return runGet(ctx, a, args[0], args[1])
			})
		},
	}
}

func runGet(ctx context.Context, a *app, table, row string) error {
	id, err := a.unlock(ctx)
	if err != nil {
		return err
	}

	values, err := a.data.Get(ctx, id, table, row)
	if err != nil {
		if errors.Is(err, storage.ErrRowNotFound) {
			return fmt.Errorf("row %s/%s not found", table, row)
		}
		return fmt.Errorf("failed to get row: %w", err)
	}

	return renderRow(a.io, table, row, values)
}
