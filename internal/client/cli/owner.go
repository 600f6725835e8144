package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/owner"
)

func newOwnerCommand(opts *RootOptions, stdio iocli.IO) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage data owners on this device",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a new owner with a random secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, stdio, runOwnerCreate)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore [secret]",
		Short: "Add an existing owner to this device using its secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, stdio, func(ctx context.Context, a *app) error {
				return runOwnerRestore(ctx, a, args)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List owners on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, stdio, runOwnerList)
		},
	})

	var showSecret bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show owner details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, stdio, func(ctx context.Context, a *app) error {
				return runOwnerShow(ctx, a, showSecret)
			})
		},
	}
	show.Flags().BoolVar(&showSecret, "secret", false, "print the owner secret (requires passphrase)")
	cmd.AddCommand(show)

	var yes bool
	forget := &cobra.Command{
		Use:   "forget",
		Short: "Remove an owner and all its data from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, stdio, func(ctx context.Context, a *app) error {
				return runOwnerForget(ctx, a, yes)
			})
		},
	}
	forget.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.AddCommand(forget)

	return cmd
}

func runOwnerCreate(ctx context.Context, a *app) error {
	passphrase, err := a.passphrase(true)
	if err != nil {
		return err
	}

	created, secret, err := a.owners.Create(ctx, passphrase)
	if err != nil {
		return fmt.Errorf("failed to create owner: %w", err)
	}

	a.io.Println("✓ Owner created")
	a.io.Printf("Owner:  %s\n", created.ID)
	a.io.Printf("Node:   %s\n", created.Node)
	a.io.Printf("Secret: %s\n", owner.EncodeSecret(secret))
	a.io.Println()
	a.io.Println("Keep the secret safe: it is the only way to add this owner to another device.")
	return nil
}

func runOwnerRestore(ctx context.Context, a *app, args []string) error {
	var encoded string
	if len(args) > 0 {
		encoded = args[0]
	} else {
		var err error
		if encoded, err = a.io.ReadPassword("Owner secret: "); err != nil {
			return fmt.Errorf("failed to read secret: %w", err)
		}
	}

	secret, err := owner.DecodeSecret(encoded)
	if err != nil {
		return err
	}
	passphrase, err := a.passphrase(true)
	if err != nil {
		return err
	}

	restored, err := a.owners.Restore(ctx, secret, passphrase)
	if err != nil {
		return fmt.Errorf("failed to restore owner: %w", err)
	}

	a.io.Println("✓ Owner restored")
	a.io.Printf("Owner: %s\n", restored.ID)
	a.io.Printf("Node:  %s\n", restored.Node)
	a.io.Println("Run 'gophsync sync' to fetch its data from the relay.")
	return nil
}

func runOwnerList(ctx context.Context, a *app) error {
	owners, err := a.owners.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list owners: %w", err)
	}
	if len(owners) == 0 {
		a.io.Println("No owners on this device.")
		return nil
	}

	for _, o := range owners {
		a.io.Printf("%s  node=%s  created=%s\n", o.ID, o.Node, o.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runOwnerShow(ctx context.Context, a *app, withSecret bool) error {
	id, err := a.resolveOwner(ctx)
	if err != nil {
		return err
	}
	o, err := a.store.GetOwner(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get owner: %w", err)
	}

	a.io.Printf("Owner:   %s\n", o.ID)
	a.io.Printf("Node:    %s\n", o.Node)
	a.io.Printf("Created: %s\n", o.CreatedAt.Format("2006-01-02 15:04:05"))

	if !withSecret {
		return nil
	}
	passphrase, err := a.passphrase(false)
	if err != nil {
		return err
	}
	secret, err := a.owners.Secret(ctx, id, passphrase)
	if err != nil {
		if errors.Is(err, owner.ErrWrongPassphrase) {
			return err
		}
		return fmt.Errorf("failed to decrypt secret: %w", err)
	}
	a.io.Printf("Secret:  %s\n", owner.EncodeSecret(secret))
	return nil
}

func runOwnerForget(ctx context.Context, a *app, yes bool) error {
	id, err := a.resolveOwner(ctx)
	if err != nil {
		return err
	}

	if !yes {
		a.io.Println("This removes the owner and all its local data. Unsynced writes are lost.")
		answer, err := a.io.ReadInput(fmt.Sprintf("Type the owner id (%s) to confirm: ", id))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if answer != id.String() {
			return errors.New("confirmation does not match, owner kept")
		}
	}

	if err := a.owners.Forget(ctx, id); err != nil {
		return err
	}
	a.data.Forget(id)
	a.states.Forget(id)

	a.io.Printf("✓ Owner %s removed from this device\n", id)
	return nil
}
