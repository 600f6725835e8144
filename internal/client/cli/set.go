package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/iocli"
)

func newSetCommand(opts *RootOptions, stdio iocli.IO) *cobra.Command {
	return &cobra.Command{
		Use:   "set <table> <row> <column> <value>",
		Short: "Write a column value",
		Long: `Write a column value into the local database.

The value is taken as JSON when it parses, otherwise it is stored as a JSON string.
The write is synchronized with the relay on the next sync.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, stdio, func(ctx context.Context, a *app) error {
				return runSet(ctx, a, args[0], args[1], args[2], args[3])
			})
		},
	}
}

// jsonValue разбирает значение ячейки из аргумента командной строки
func jsonValue(arg string) (json.RawMessage, error) {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg), nil
	}
	encoded, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return encoded, nil
}

func runSet(ctx context.Context, a *app, table, row, column, raw string) error {
	value, err := jsonValue(raw)
	if err != nil {
		return err
	}

	id, err := a.unlock(ctx)
	if err != nil {
		return err
	}

	ts, err := a.data.Mutate(ctx, id, table, row, column, value)
	if err != nil {
		return fmt.Errorf("failed to write value: %w", err)
	}

	a.io.Printf("✓ %s/%s.%s = %s (%s)\n", table, row, column, value, ts)
	return nil
}
