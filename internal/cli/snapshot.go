package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smukkama/airquality-alerts/internal/protocol"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect poll-input snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "Show the snapshot last stored by the snapshotter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLatestSnapshot(cmd, rootOpts)
		},
	})

	return cmd
}

func runLatestSnapshot(cmd *cobra.Command, opts *RootOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	store, release, err := opts.OpenSnapshots(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open snapshot store", err)
	}
	defer release()

	snap, err := store.Latest(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read snapshot", err)
	}
	if snap == nil {
		return NewExitError(ExitFailure, "no snapshot stored")
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success("snapshot_latest", (*snapshotResult)(snap))
}

type snapshotResult protocol.PollSnapshot

func (s *snapshotResult) renderText(w io.Writer) error {
	groupings := make([]string, len(s.ActiveSensorGroupings))
	for i, g := range s.ActiveSensorGroupings {
		groupings[i] = fmt.Sprint(g)
	}

	lines := []string{
		"id: " + s.ID,
		"taken_at: " + s.TakenAt.Format(time.RFC3339),
		"last_daily_log_date: " + s.LastDailyLogDate,
		fmt.Sprintf("eligible_sensors: %v", s.EligibleSensors),
		fmt.Sprintf("not_elevated_sensors: %v", s.NotElevatedSensors),
		"active_sensor_groupings: " + strings.Join(groupings, " "),
		fmt.Sprintf("ongoing_alert_record_ids: %v", s.OngoingAlertRecordIDs),
		fmt.Sprintf("newest_subscriber_id: %d", s.NewestSubscriberID),
		fmt.Sprintf("reports_for_today: %d", s.ReportsForToday),
	}
	if s.Extent != nil {
		lines = append(lines, fmt.Sprintf("extent: nwlng=%g selat=%g selng=%g nwlat=%g",
			s.Extent.NWLng, s.Extent.SELat, s.Extent.SELng, s.Extent.NWLat))
	}

	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}
