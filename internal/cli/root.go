package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string        // "text" | "json" | "yaml"
	Timeout time.Duration // per-command query deadline

	// OpenBackend and OpenSnapshots connect lazily so --help and flag
	// errors never touch the network.
	OpenBackend   BackendOpener
	OpenSnapshots SnapshotOpener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the aqquery CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{
		OpenBackend:   openDatabase,
		OpenSnapshots: openSnapshotStore,
	})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aqquery",
		Short: "Query the air-quality alerting database",
		Long: `Run the read-only queries of the air-quality alerting system.

Connection and alerting settings come from the environment (DB_*, ALERT_*,
REDIS_*), optionally loaded from a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Timeout <= 0 {
				return NewExitError(ExitCommandError, "--timeout must be positive")
			}
			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "query timeout")

	cmd.AddCommand(NewQueryCommands(opts)...)
	cmd.AddCommand(NewRecipientsCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))

	return cmd
}
