package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/iocli"
)

func newListCommand(opts *RootOptions, stdio iocli.IO) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "List rows of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, stdio, func(ctx context.Context, a *app) error {
				return runList(ctx, a, args[0], full)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print every column of every row")

	return cmd
}

func runList(ctx context.Context, a *app, table string, full bool) error {
	id, err := a.unlock(ctx)
	if err != nil {
		return err
	}

	rows, err := a.data.List(ctx, id, table)
	if err != nil {
		return fmt.Errorf("failed to list rows: %w", err)
	}
	if len(rows) == 0 {
		a.io.Printf("No rows in %s.\n", table)
		return nil
	}

	ids := make([]string, 0, len(rows))
	for rowID := range rows {
		ids = append(ids, rowID)
	}
	slices.Sort(ids)

	for _, rowID := range ids {
		if !full {
			a.io.Printf("%s  (%d columns)\n", rowID, len(rows[rowID]))
			continue
		}
		if err := renderRow(a.io, table, rowID, rows[rowID]); err != nil {
			return err
		}
	}
	a.io.Printf("\nTotal: %d\n", len(rows))
	return nil
}
