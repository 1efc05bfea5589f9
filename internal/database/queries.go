package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Operation names, used for error context and by observers.
const (
	OpLastDailyLogDate      = "last_daily_log_date"
	OpExtent                = "extent"
	OpNewestSubscriberID    = "newest_subscriber_id"
	OpAfterhourReports      = "afterhour_reports"
	OpOngoingAlertRecordIDs = "ongoing_alert_record_ids"
	OpEligibleSensorIDs     = "eligible_sensor_ids"
	OpPreviousActiveSensors = "previous_active_sensors"
	OpNotElevatedSensors    = "not_elevated_sensors"
	OpSubscribersNearSensor = "subscribers_near_sensor"
	OpNewAlertRecipients    = "new_alert_recipients"
	OpEndAlertRecipients    = "end_alert_recipients"
	OpReportsForToday       = "reports_for_today"
)

const (
	lastDailyLogDateSQL = `
		SELECT MAX(date)
		FROM "Daily Log"
	`

	extentSQL = `
		SELECT minlng, minlat, maxlng, maxlat
		FROM "extent"
	`

	newestSubscriberIDSQL = `
		SELECT MAX(record_id)
		FROM "Sign Up Information"
	`

	afterhourReportsSQL = `
		SELECT *
		FROM "Afterhour Reports"
	`

	ongoingAlertRecordIDsSQL = `
		SELECT record_id
		FROM "Sign Up Information"
		WHERE ARRAY_LENGTH(active_alerts, 1) > 0
		ORDER BY record_id
	`

	// channel_flags are refreshed daily by QC; channel_state is set by an operator.
	eligibleSensorIDsSQL = `
		SELECT sensor_index
		FROM "PurpleAir Stations"
		WHERE channel_flags = ANY($1) AND channel_state = $2
		ORDER BY sensor_index
	`

	previousActiveSensorsSQL = `
		SELECT sensor_indices
		FROM "Active Alerts Acute PurpleAir"
	`

	notElevatedSensorsSQL = `
		SELECT sensor_index
		FROM "PurpleAir Stations"
		WHERE last_elevated + make_interval(secs => $1::double precision)
			< (CURRENT_TIMESTAMP AT TIME ZONE $2::text)
		ORDER BY sensor_index
	`

	subscribersNearSensorSQL = `
		WITH sensor AS (
			SELECT geometry
			FROM "PurpleAir Stations"
			WHERE sensor_index = $1
		)
		SELECT u.record_id
		FROM "Sign Up Information" u, sensor s
		WHERE u.subscribed = TRUE
			AND ST_DWithin(
				ST_Transform(u.geometry, $3::integer),
				ST_Transform(s.geometry, $3::integer),
				$2::double precision
			)
		ORDER BY u.record_id
	`

	newAlertRecipientsSQL = `
		SELECT record_id
		FROM "Sign Up Information"
		WHERE active_alerts = '{}'
			AND cached_alerts = '{}'
			AND record_id = ANY($1)
		ORDER BY record_id
	`

	endAlertRecipientsSQL = `
		SELECT record_id
		FROM "Sign Up Information"
		WHERE subscribed = TRUE
			AND active_alerts = '{}'
			AND ARRAY_LENGTH(cached_alerts, 1) > 0
		ORDER BY record_id
	`

	// Reports made before the day boundary offset belong to the previous day.
	reportsForTodaySQL = `
		SELECT reports_for_day
		FROM "Daily Log"
		WHERE date = DATE(
			(CURRENT_TIMESTAMP AT TIME ZONE $1::text) - make_interval(secs => $2::double precision)
		)
	`
)

// Observer is notified around every query. The returned function is called
// once with the query's error (nil on success).
type Observer interface {
	Start(ctx context.Context, operation string) (context.Context, func(err error))
}

type noopObserver struct{}

func (noopObserver) Start(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Option configures Queries
type Option func(*Queries)

// WithObserver installs an observer for every query
func WithObserver(o Observer) Option {
	return func(qs *Queries) {
		if o != nil {
			qs.observer = o
		}
	}
}

// Queries is the read-only query library for the alerting database.
// It holds no state besides its settings and is safe for concurrent use
// when the underlying Querier is.
type Queries struct {
	db       Querier
	settings Settings
	observer Observer
}

// NewQueries creates a query library on top of db
func NewQueries(db Querier, settings Settings, opts ...Option) (*Queries, error) {
	if db == nil {
		return nil, errors.New("querier is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query settings: %w", err)
	}

	qs := &Queries{
		db:       db,
		settings: settings,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(qs)
	}

	return qs, nil
}

// Settings returns the settings the library was created with
func (qs *Queries) Settings() Settings {
	return qs.settings
}

func (qs *Queries) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, done := qs.observer.Start(ctx, op)
	err := fn(ctx)
	done(err)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// LastDailyLogDate returns the most recent date in the daily log,
// or DefaultDailyLogDate when the log is empty.
func (qs *Queries) LastDailyLogDate(ctx context.Context) (time.Time, error) {
	date := DefaultDailyLogDate
	err := qs.run(ctx, OpLastDailyLogDate, func(ctx context.Context) (err error) {
		date, err = queryScalar(ctx, qs.db, DefaultDailyLogDate, lastDailyLogDateSQL)
		return err
	})
	return date, err
}

// Extent returns the project bounding box reordered for the PurpleAir API
func (qs *Queries) Extent(ctx context.Context) (*Extent, error) {
	var extent *Extent
	err := qs.run(ctx, OpExtent, func(ctx context.Context) error {
		var minLng, minLat, maxLng, maxLat float64
		err := qs.db.QueryRowContext(ctx, extentSQL).Scan(&minLng, &minLat, &maxLng, &maxLat)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrExtentNotFound
		}
		if err != nil {
			return err
		}

		extent = &Extent{
			NWLng: minLng,
			SELat: minLat,
			SELng: maxLng,
			NWLat: maxLat,
		}
		return nil
	})
	return extent, err
}

// NewestSubscriberID returns the highest record_id, 0 if there are no subscribers
func (qs *Queries) NewestSubscriberID(ctx context.Context) (int64, error) {
	var id int64
	err := qs.run(ctx, OpNewestSubscriberID, func(ctx context.Context) (err error) {
		id, err = queryScalar(ctx, qs.db, int64(0), newestSubscriberIDSQL)
		return err
	})
	return id, err
}

// AfterhourReports returns every afterhour report row as stored
func (qs *Queries) AfterhourReports(ctx context.Context) (*Table, error) {
	var table *Table
	err := qs.run(ctx, OpAfterhourReports, func(ctx context.Context) (err error) {
		table, err = queryTable(ctx, qs.db, afterhourReportsSQL)
		return err
	})
	return table, err
}

// OngoingAlertRecordIDs returns subscribers with at least one active alert
func (qs *Queries) OngoingAlertRecordIDs(ctx context.Context) ([]int64, error) {
	return qs.int64s(ctx, OpOngoingAlertRecordIDs, ongoingAlertRecordIDsSQL)
}

// EligibleSensorIDs returns sensors that passed the previous day's QC
// and are switched on.
func (qs *Queries) EligibleSensorIDs(ctx context.Context) ([]int64, error) {
	return qs.int64s(ctx, OpEligibleSensorIDs, eligibleSensorIDsSQL,
		pq.Array(TrustedChannelFlags), ChannelStateOn)
}

// PreviousActiveSensors returns the sensor groupings of the currently
// stored acute alerts, one per row.
func (qs *Queries) PreviousActiveSensors(ctx context.Context) ([]SensorGrouping, error) {
	groupings := []SensorGrouping{}
	err := qs.run(ctx, OpPreviousActiveSensors, func(ctx context.Context) error {
		rows, err := qs.db.QueryContext(ctx, previousActiveSensorsSQL)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var indices pq.Int64Array
			if err := rows.Scan(&indices); err != nil {
				return err
			}
			groupings = append(groupings, SensorGrouping{SensorIndices: []int64(indices)})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return groupings, nil
}

// NotElevatedSensors returns sensors whose last elevated reading is older
// than the configured alert lag.
func (qs *Queries) NotElevatedSensors(ctx context.Context) ([]int64, error) {
	return qs.NotElevatedSensorsWithin(ctx, qs.settings.AlertLag)
}

// NotElevatedSensorsWithin is NotElevatedSensors with an explicit lag
func (qs *Queries) NotElevatedSensorsWithin(ctx context.Context, lag time.Duration) ([]int64, error) {
	if lag < 0 {
		return nil, fmt.Errorf("%s: %w", OpNotElevatedSensors, ErrNegativeAlertLag)
	}
	return qs.int64s(ctx, OpNotElevatedSensors, notElevatedSensorsSQL,
		lag.Seconds(), qs.settings.Timezone)
}

// SubscribersNearSensor returns subscribed users within the configured
// distance of a sensor.
func (qs *Queries) SubscribersNearSensor(ctx context.Context, sensorIndex int64) ([]int64, error) {
	return qs.SubscribersWithinDistance(ctx, sensorIndex, qs.settings.NearbyDistanceMeters)
}

// SubscribersWithinDistance returns subscribed users within meters of a
// sensor. Distances are measured in the configured metric projection.
func (qs *Queries) SubscribersWithinDistance(ctx context.Context, sensorIndex int64, meters float64) ([]int64, error) {
	if meters <= 0 {
		return nil, fmt.Errorf("%s: %w", OpSubscribersNearSensor, ErrInvalidNearbyDistance)
	}
	return qs.int64s(ctx, OpSubscribersNearSensor, subscribersNearSensorSQL,
		sensorIndex, meters, qs.settings.ProjectionSRID)
}

// NewAlertRecipients narrows candidates to users with neither active nor
// cached alerts, the ones who have not heard about any alert yet.
func (qs *Queries) NewAlertRecipients(ctx context.Context, recordIDs []int64) ([]int64, error) {
	if recordIDs == nil {
		recordIDs = []int64{}
	}
	return qs.int64s(ctx, OpNewAlertRecipients, newAlertRecipientsSQL, pq.Array(recordIDs))
}

// EndAlertRecipients returns subscribed users whose alert has cleared
// while a cached alert is still held for them.
func (qs *Queries) EndAlertRecipients(ctx context.Context) ([]int64, error) {
	return qs.int64s(ctx, OpEndAlertRecipients, endAlertRecipientsSQL)
}

// ReportsForToday returns the report count for the current reporting day,
// 0 if the day has no log row yet.
func (qs *Queries) ReportsForToday(ctx context.Context) (int64, error) {
	var count int64
	err := qs.run(ctx, OpReportsForToday, func(ctx context.Context) (err error) {
		count, err = queryScalar(ctx, qs.db, int64(0), reportsForTodaySQL,
			qs.settings.Timezone, qs.settings.DayBoundaryOffset.Seconds())
		return err
	})
	return count, err
}

func (qs *Queries) int64s(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	var ids []int64
	err := qs.run(ctx, op, func(ctx context.Context) (err error) {
		ids, err = queryInt64s(ctx, qs.db, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
