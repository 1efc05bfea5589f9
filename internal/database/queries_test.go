package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockQueries(t *testing.T, opts ...Option) (*Queries, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	qs, err := NewQueries(db, DefaultSettings(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return qs, mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestNewQueries_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewQueries(nil, DefaultSettings())
	assert.Error(t, err)

	settings := DefaultSettings()
	settings.Timezone = "Mars/Olympus_Mons"
	_, err = NewQueries(db, settings)
	assert.ErrorIs(t, err, ErrInvalidTimezone)
}

func TestLastDailyLogDate(t *testing.T) {
	ctx := context.Background()

	t.Run("returns max date", func(t *testing.T) {
		qs, mock := newMockQueries(t)
		want := time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(q(`SELECT MAX(date)`)).
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(want))

		got, err := qs.LastDailyLogDate(ctx)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "got %s", got)
	})

	t.Run("empty log falls back to default", func(t *testing.T) {
		qs, mock := newMockQueries(t)
		mock.ExpectQuery(q(`FROM "Daily Log"`)).
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

		got, err := qs.LastDailyLogDate(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultDailyLogDate, got)
		assert.Equal(t, 2000, got.Year())
	})

	t.Run("propagates driver errors", func(t *testing.T) {
		qs, mock := newMockQueries(t)
		boom := errors.New("connection refused")
		mock.ExpectQuery(q(`FROM "Daily Log"`)).WillReturnError(boom)

		_, err := qs.LastDailyLogDate(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), OpLastDailyLogDate)
	})
}

func TestExtent(t *testing.T) {
	ctx := context.Background()

	t.Run("reorders into API notation", func(t *testing.T) {
		qs, mock := newMockQueries(t)
		mock.ExpectQuery(q(`SELECT minlng, minlat, maxlng, maxlat`)).
			WillReturnRows(sqlmock.NewRows([]string{"minlng", "minlat", "maxlng", "maxlat"}).
				AddRow(-93.33, 44.89, -93.19, 45.05))

		extent, err := qs.Extent(ctx)
		require.NoError(t, err)
		assert.Equal(t, &Extent{NWLng: -93.33, SELat: 44.89, SELng: -93.19, NWLat: 45.05}, extent)
	})

	t.Run("missing row", func(t *testing.T) {
		qs, mock := newMockQueries(t)
		mock.ExpectQuery(q(`FROM "extent"`)).
			WillReturnRows(sqlmock.NewRows([]string{"minlng", "minlat", "maxlng", "maxlat"}))

		extent, err := qs.Extent(ctx)
		assert.Nil(t, extent)
		assert.ErrorIs(t, err, ErrExtentNotFound)
	})
}

func TestNewestSubscriberID(t *testing.T) {
	ctx := context.Background()

	qs, mock := newMockQueries(t)
	mock.ExpectQuery(q(`SELECT MAX(record_id)`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(42)))
	mock.ExpectQuery(q(`SELECT MAX(record_id)`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	id, err := qs.NewestSubscriberID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = qs.NewestSubscriberID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
}

func TestAfterhourReports(t *testing.T) {
	qs, mock := newMockQueries(t)
	reported := time.Date(2024, time.July, 4, 23, 30, 0, 0, time.UTC)
	mock.ExpectQuery(q(`FROM "Afterhour Reports"`)).
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "reported_at", "message"}).
			AddRow(int64(7), reported, []byte("smoke near the park")).
			AddRow(int64(9), reported, nil))

	table, err := qs.AfterhourReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"record_id", "reported_at", "message"}, table.Columns)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, []any{int64(7), reported, "smoke near the park"}, table.Rows[0])
	assert.Nil(t, table.Rows[1][2])
}

func TestAfterhourReports_Empty(t *testing.T) {
	qs, mock := newMockQueries(t)
	mock.ExpectQuery(q(`FROM "Afterhour Reports"`)).
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}))

	table, err := qs.AfterhourReports(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, table.Rows)
	assert.Zero(t, table.Len())
}

func TestOngoingAlertRecordIDs(t *testing.T) {
	qs, mock := newMockQueries(t)
	mock.ExpectQuery(q(`WHERE ARRAY_LENGTH(active_alerts, 1) > 0`)).
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}).AddRow(3).AddRow(5))

	ids, err := qs.OngoingAlertRecordIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, ids)
}

func TestEligibleSensorIDs(t *testing.T) {
	qs, mock := newMockQueries(t)
	mock.ExpectQuery(q(`WHERE channel_flags = ANY($1) AND channel_state = $2`)).
		WithArgs("{0,4}", ChannelStateOn).
		WillReturnRows(sqlmock.NewRows([]string{"sensor_index"}).AddRow(131075).AddRow(142720))

	ids, err := qs.EligibleSensorIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{131075, 142720}, ids)
}

func TestEligibleSensorIDs_EmptyIsNotNil(t *testing.T) {
	qs, mock := newMockQueries(t)
	mock.ExpectQuery(q(`FROM "PurpleAir Stations"`)).
		WithArgs("{0,4}", ChannelStateOn).
		WillReturnRows(sqlmock.NewRows([]string{"sensor_index"}))

	ids, err := qs.EligibleSensorIDs(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestPreviousActiveSensors(t *testing.T) {
	qs, mock := newMockQueries(t)
	mock.ExpectQuery(q(`SELECT sensor_indices`)).
		WillReturnRows(sqlmock.NewRows([]string{"sensor_indices"}).
			AddRow("{131075,142720}").
			AddRow("{99}"))

	groupings, err := qs.PreviousActiveSensors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []SensorGrouping{
		{SensorIndices: []int64{131075, 142720}},
		{SensorIndices: []int64{99}},
	}, groupings)
}

func TestNotElevatedSensors_BindsLagAndTimezone(t *testing.T) {
	ctx := context.Background()
	qs, mock := newMockQueries(t)

	mock.ExpectQuery(q(`make_interval(secs => $1::double precision)`)).
		WithArgs(float64(1200), DefaultTimezone).
		WillReturnRows(sqlmock.NewRows([]string{"sensor_index"}).AddRow(1))
	mock.ExpectQuery(q(`last_elevated +`)).
		WithArgs(float64(1800), DefaultTimezone).
		WillReturnRows(sqlmock.NewRows([]string{"sensor_index"}))

	ids, err := qs.NotElevatedSensors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	ids, err = qs.NotElevatedSensorsWithin(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNotElevatedSensors_NegativeLag(t *testing.T) {
	qs, _ := newMockQueries(t)

	_, err := qs.NotElevatedSensorsWithin(context.Background(), -time.Minute)
	assert.ErrorIs(t, err, ErrNegativeAlertLag)
}

func TestNotElevatedSensors_LagNeverInQueryText(t *testing.T) {
	assert.NotContains(t, notElevatedSensorsSQL, "Minutes")
	assert.NotContains(t, notElevatedSensorsSQL, "INTERVAL '")
}

func TestSubscribersNearSensor(t *testing.T) {
	ctx := context.Background()
	qs, mock := newMockQueries(t)

	mock.ExpectQuery(q(`ST_DWithin(`)).
		WithArgs(int64(131075), DefaultNearbyDistanceMeters, DefaultProjectionSRID).
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}).AddRow(11).AddRow(12))
	mock.ExpectQuery(q(`ST_Transform(u.geometry, $3::integer)`)).
		WithArgs(int64(131075), 2500.0, DefaultProjectionSRID).
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}).AddRow(11).AddRow(12).AddRow(40))

	ids, err := qs.SubscribersNearSensor(ctx, 131075)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, ids)

	ids, err = qs.SubscribersWithinDistance(ctx, 131075, 2500)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12, 40}, ids)
}

func TestSubscribersWithinDistance_RejectsNonPositive(t *testing.T) {
	qs, _ := newMockQueries(t)

	_, err := qs.SubscribersWithinDistance(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrInvalidNearbyDistance)
}

func TestNewAlertRecipients(t *testing.T) {
	ctx := context.Background()
	qs, mock := newMockQueries(t)

	mock.ExpectQuery(q(`WHERE active_alerts = '{}'`)).
		WithArgs("{11,12,40}").
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}).AddRow(12))
	mock.ExpectQuery(q(`AND record_id = ANY($1)`)).
		WithArgs("{}").
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}))

	ids, err := qs.NewAlertRecipients(ctx, []int64{11, 12, 40})
	require.NoError(t, err)
	assert.Equal(t, []int64{12}, ids)

	ids, err = qs.NewAlertRecipients(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEndAlertRecipients(t *testing.T) {
	qs, mock := newMockQueries(t)
	mock.ExpectQuery(q(`AND ARRAY_LENGTH(cached_alerts, 1) > 0`)).
		WillReturnRows(sqlmock.NewRows([]string{"record_id"}).AddRow(8))

	ids, err := qs.EndAlertRecipients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, ids)
}

func TestReportsForToday(t *testing.T) {
	ctx := context.Background()

	t.Run("binds timezone and offset", func(t *testing.T) {
		qs, mock := newMockQueries(t)
		mock.ExpectQuery(q(`SELECT reports_for_day`)).
			WithArgs(DefaultTimezone, float64(8*60*60)).
			WillReturnRows(sqlmock.NewRows([]string{"reports_for_day"}).AddRow(int64(6)))

		count, err := qs.ReportsForToday(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), count)
	})

	t.Run("no row yet", func(t *testing.T) {
		qs, mock := newMockQueries(t)
		mock.ExpectQuery(q(`SELECT reports_for_day`)).
			WillReturnRows(sqlmock.NewRows([]string{"reports_for_day"}))

		count, err := qs.ReportsForToday(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("null count", func(t *testing.T) {
		qs, mock := newMockQueries(t)
		mock.ExpectQuery(q(`SELECT reports_for_day`)).
			WillReturnRows(sqlmock.NewRows([]string{"reports_for_day"}).AddRow(nil))

		count, err := qs.ReportsForToday(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

type recordingObserver struct {
	started []string
	errs    []error
}

func (r *recordingObserver) Start(ctx context.Context, op string) (context.Context, func(error)) {
	r.started = append(r.started, op)
	return ctx, func(err error) { r.errs = append(r.errs, err) }
}

func TestObserverSeesEveryQuery(t *testing.T) {
	obs := &recordingObserver{}
	qs, mock := newMockQueries(t, WithObserver(obs))

	mock.ExpectQuery(q(`SELECT MAX(record_id)`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(1)))
	mock.ExpectQuery(q(`AND ARRAY_LENGTH(cached_alerts, 1) > 0`)).
		WillReturnError(errors.New("timeout"))

	_, err := qs.NewestSubscriberID(context.Background())
	require.NoError(t, err)
	_, err = qs.EndAlertRecipients(context.Background())
	require.Error(t, err)

	assert.Equal(t, []string{OpNewestSubscriberID, OpEndAlertRecipients}, obs.started)
	require.Len(t, obs.errs, 2)
	assert.NoError(t, obs.errs[0])
	assert.Error(t, obs.errs[1])
}
