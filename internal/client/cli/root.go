package cli

import (
	"github.com/spf13/cobra"

	"github.com/iudanet/gophsync/internal/client/iocli"
)

// NewRootCommand создает корневую команду клиента
func NewRootCommand(stdio iocli.IO, version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gophsync",
		Short: "gophsync - local-first encrypted sync client",
		Long: `Local-first encrypted sync client.

Data is written to the local database first and synchronized with the relay
in the background. The relay only ever sees ciphertext.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file")
	flags.StringVar(&opts.ServerURL, "server", "", "relay URL (overrides config)")
	flags.StringVar(&opts.DBPath, "db", "", "path to local database (overrides config)")
	flags.StringVar(&opts.Owner, "owner", "", "owner id (required when the device has several owners)")
	flags.StringVar(&opts.Passphrase, "passphrase", "", "owner passphrase (not recommended, use "+PassphraseEnv+" or a file)")
	flags.StringVar(&opts.PassphraseFile, "passphrase-file", "", "path to file containing owner passphrase")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.SetOut(stdio)
	cmd.SetErr(stdio)

	cmd.AddCommand(newOwnerCommand(opts, stdio))
	cmd.AddCommand(newSetCommand(opts, stdio))
	cmd.AddCommand(newGetCommand(opts, stdio))
	cmd.AddCommand(newListCommand(opts, stdio))
	cmd.AddCommand(newSyncCommand(opts, stdio))
	cmd.AddCommand(newWatchCommand(opts, stdio))
	cmd.AddCommand(newStatusCommand(opts, stdio))

	return cmd
}
