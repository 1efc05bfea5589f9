package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/airquality-alerts/internal/database"
	"github.com/smukkama/airquality-alerts/internal/protocol"
	"github.com/smukkama/airquality-alerts/internal/snapshot"
	"github.com/smukkama/airquality-alerts/pkg/config"
)

// Backend is the query surface the commands read from.
// *database.Queries satisfies it.
type Backend interface {
	LastDailyLogDate(ctx context.Context) (time.Time, error)
	Extent(ctx context.Context) (*database.Extent, error)
	NewestSubscriberID(ctx context.Context) (int64, error)
	AfterhourReports(ctx context.Context) (*database.Table, error)
	OngoingAlertRecordIDs(ctx context.Context) ([]int64, error)
	EligibleSensorIDs(ctx context.Context) ([]int64, error)
	PreviousActiveSensors(ctx context.Context) ([]database.SensorGrouping, error)
	NotElevatedSensorsWithin(ctx context.Context, lag time.Duration) ([]int64, error)
	SubscribersNearSensor(ctx context.Context, sensorIndex int64) ([]int64, error)
	SubscribersWithinDistance(ctx context.Context, sensorIndex int64, meters float64) ([]int64, error)
	NewAlertRecipients(ctx context.Context, recordIDs []int64) ([]int64, error)
	EndAlertRecipients(ctx context.Context) ([]int64, error)
	ReportsForToday(ctx context.Context) (int64, error)
	Settings() database.Settings
}

// SnapshotReader reads the snapshot published by the snapshotter.
// *snapshot.Store satisfies it.
type SnapshotReader interface {
	Latest(ctx context.Context) (*protocol.PollSnapshot, error)
}

// BackendOpener connects to the database. The returned func releases it.
type BackendOpener func(ctx context.Context) (Backend, func() error, error)

// SnapshotOpener connects to the snapshot store. The returned func releases it.
type SnapshotOpener func(ctx context.Context) (SnapshotReader, func() error, error)

func openDatabase(ctx context.Context) (Backend, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		return nil, nil, err
	}

	qs, err := database.NewQueries(db, cfg.QuerySettings())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return qs, db.Close, nil
}

func openSnapshotStore(ctx context.Context) (SnapshotReader, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return snapshot.NewStore(client, cfg.Snapshot.TTL), client.Close, nil
}
