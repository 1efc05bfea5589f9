package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smukkama/airquality-alerts/internal/database"
	"github.com/smukkama/airquality-alerts/internal/protocol"
)

// NewQueryCommands creates one command per query.
func NewQueryCommands(opts *RootOptions) []*cobra.Command {
	return []*cobra.Command{
		newScalarQuery(opts, "last-daily-log", "Most recent date in the daily log", database.OpLastDailyLogDate,
			func(ctx context.Context, b Backend) (any, error) {
				date, err := b.LastDailyLogDate(ctx)
				if err != nil {
					return nil, err
				}
				return dateResult{Date: date.Format(protocol.DateLayout)}, nil
			}),
		newScalarQuery(opts, "extent", "Project bounding box", database.OpExtent,
			func(ctx context.Context, b Backend) (any, error) {
				extent, err := b.Extent(ctx)
				if err != nil {
					return nil, err
				}
				return (*extentResult)(extent), nil
			}),
		newScalarQuery(opts, "newest-subscriber", "Highest subscriber record id", database.OpNewestSubscriberID,
			func(ctx context.Context, b Backend) (any, error) {
				id, err := b.NewestSubscriberID(ctx)
				return idResult{ID: id}, err
			}),
		newScalarQuery(opts, "afterhour-reports", "All after-hours reports", database.OpAfterhourReports,
			func(ctx context.Context, b Backend) (any, error) {
				table, err := b.AfterhourReports(ctx)
				if err != nil {
					return nil, err
				}
				return (*tableResult)(table), nil
			}),
		newScalarQuery(opts, "ongoing-alerts", "Record ids of ongoing alerts", database.OpOngoingAlertRecordIDs,
			func(ctx context.Context, b Backend) (any, error) {
				ids, err := b.OngoingAlertRecordIDs(ctx)
				return idList(ids), err
			}),
		newScalarQuery(opts, "eligible-sensors", "Sensors that pass quality control and are switched on", database.OpEligibleSensorIDs,
			func(ctx context.Context, b Backend) (any, error) {
				ids, err := b.EligibleSensorIDs(ctx)
				return idList(ids), err
			}),
		newScalarQuery(opts, "active-sensors", "Sensor groupings of active acute alerts", database.OpPreviousActiveSensors,
			func(ctx context.Context, b Backend) (any, error) {
				groupings, err := b.PreviousActiveSensors(ctx)
				return groupingsResult(groupings), err
			}),
		newNotElevatedCommand(opts),
		newNearbySubscribersCommand(opts),
		newNewAlertRecipientsCommand(opts),
		newScalarQuery(opts, "end-alert-recipients", "Subscribers whose alert has ended", database.OpEndAlertRecipients,
			func(ctx context.Context, b Backend) (any, error) {
				ids, err := b.EndAlertRecipients(ctx)
				return idList(ids), err
			}),
		newScalarQuery(opts, "reports-today", "Report count for the current reporting day", database.OpReportsForToday,
			func(ctx context.Context, b Backend) (any, error) {
				count, err := b.ReportsForToday(ctx)
				return countResult{Count: count}, err
			}),
	}
}

type queryFunc func(ctx context.Context, b Backend) (any, error)

func newScalarQuery(opts *RootOptions, use, short, op string, fn queryFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, op, fn)
		},
	}
}

func newNotElevatedCommand(opts *RootOptions) *cobra.Command {
	var lag time.Duration

	cmd := &cobra.Command{
		Use:   "not-elevated",
		Short: "Sensors not elevated within the alert lag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lag < 0 {
				return NewExitError(ExitCommandError, "--lag must not be negative")
			}
			explicit := cmd.Flags().Changed("lag")
			return runQuery(cmd, opts, database.OpNotElevatedSensors, func(ctx context.Context, b Backend) (any, error) {
				within := b.Settings().AlertLag
				if explicit {
					within = lag
				}
				ids, err := b.NotElevatedSensorsWithin(ctx, within)
				return idList(ids), err
			})
		},
	}

	cmd.Flags().DurationVar(&lag, "lag", database.DefaultAlertLag, "time since last elevated reading (defaults to ALERT_LAG)")
	return cmd
}

func newNearbySubscribersCommand(opts *RootOptions) *cobra.Command {
	var distance float64

	cmd := &cobra.Command{
		Use:   "nearby-subscribers <sensor-index>",
		Short: "Subscribed users near a sensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sensorIndex, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid sensor index", err)
			}
			if distance <= 0 {
				return NewExitError(ExitCommandError, "--distance must be positive")
			}
			explicit := cmd.Flags().Changed("distance")
			return runQuery(cmd, opts, database.OpSubscribersNearSensor, func(ctx context.Context, b Backend) (any, error) {
				meters := b.Settings().NearbyDistanceMeters
				if explicit {
					meters = distance
				}
				ids, err := b.SubscribersWithinDistance(ctx, sensorIndex, meters)
				return idList(ids), err
			})
		},
	}

	cmd.Flags().Float64Var(&distance, "distance", database.DefaultNearbyDistanceMeters, "search radius in meters (defaults to ALERT_NEARBY_DISTANCE_METERS)")
	return cmd
}

func newNewAlertRecipientsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "new-alert-recipients [record-id...]",
		Short: "Candidates who have not been alerted yet",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recordIDs, err := parseIDs(args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid record id", err)
			}
			return runQuery(cmd, opts, database.OpNewAlertRecipients, func(ctx context.Context, b Backend) (any, error) {
				ids, err := b.NewAlertRecipients(ctx, recordIDs)
				return idList(ids), err
			})
		},
	}
}

func runQuery(cmd *cobra.Command, opts *RootOptions, op string, fn queryFunc) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	backend, release, err := opts.OpenBackend(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer release()

	result, err := fn(ctx, backend)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(op, result)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			if field == "" {
				continue
			}
			id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type dateResult struct {
	Date string `json:"date" yaml:"date"`
}

func (r dateResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, r.Date)
	return err
}

type idResult struct {
	ID int64 `json:"id" yaml:"id"`
}

func (r idResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, r.ID)
	return err
}

type countResult struct {
	Count int64 `json:"count" yaml:"count"`
}

func (r countResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, r.Count)
	return err
}

type extentResult database.Extent

func (r *extentResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "nwlng=%g selat=%g selng=%g nwlat=%g\n", r.NWLng, r.SELat, r.SELng, r.NWLat)
	return err
}

// idList renders one id per line
type idList []int64

func (l idList) renderText(w io.Writer) error {
	for _, id := range l {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}

// groupingsResult renders one alert per line, its sensors comma separated
type groupingsResult []database.SensorGrouping

func (g groupingsResult) renderText(w io.Writer) error {
	for _, grouping := range g {
		fields := make([]string, len(grouping.SensorIndices))
		for i, idx := range grouping.SensorIndices {
			fields[i] = strconv.FormatInt(idx, 10)
		}
		if _, err := fmt.Fprintln(w, strings.Join(fields, ",")); err != nil {
			return err
		}
	}
	return nil
}

type tableResult database.Table

func (t *tableResult) renderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
