package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/smukkama/airquality-alerts/internal/alerting"
)

// NewRecipientsCommand creates the recipients command.
func NewRecipientsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipients",
		Short: "Resolve who to message for an alert",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "new <sensor-index>...",
		Short: "Subscribers to notify of a new alert over the given sensors",
		Long: `Collect the subscribers near each sensor of an alert grouping and keep
the ones that have not been sent any alert yet.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sensorIndices, err := parseIDs(args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid sensor index", err)
			}
			return runQuery(cmd, rootOpts, "new_alert", func(ctx context.Context, b Backend) (any, error) {
				ids, err := alerting.NewResolver(b).NewAlertRecipients(ctx, sensorIndices)
				return idList(ids), err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "end",
		Short: "Subscribers to notify that their alert has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, rootOpts, "end_alert", func(ctx context.Context, b Backend) (any, error) {
				ids, err := alerting.NewResolver(b).EndAlertRecipients(ctx)
				return idList(ids), err
			})
		},
	})

	return cmd
}
