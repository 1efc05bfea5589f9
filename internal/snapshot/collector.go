// Package snapshot gathers the query results one sensor polling cycle
// needs, stores the latest set in Redis and publishes each set to Kafka.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/airquality-alerts/internal/database"
	"github.com/smukkama/airquality-alerts/internal/protocol"
)

// Source is the part of the query library a snapshot reads.
// *database.Queries satisfies it.
type Source interface {
	LastDailyLogDate(ctx context.Context) (time.Time, error)
	Extent(ctx context.Context) (*database.Extent, error)
	EligibleSensorIDs(ctx context.Context) ([]int64, error)
	NotElevatedSensors(ctx context.Context) ([]int64, error)
	PreviousActiveSensors(ctx context.Context) ([]database.SensorGrouping, error)
	OngoingAlertRecordIDs(ctx context.Context) ([]int64, error)
	NewestSubscriberID(ctx context.Context) (int64, error)
	ReportsForToday(ctx context.Context) (int64, error)
}

// Collector builds poll-input snapshots
type Collector struct {
	source Source
	now    func() time.Time
	newID  func() string
}

// NewCollector creates a new snapshot collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Collect runs every poll-input query once. The first failing query aborts
// the snapshot, except a missing extent, which leaves Extent unset.
func (c *Collector) Collect(ctx context.Context) (*protocol.PollSnapshot, error) {
	snap := &protocol.PollSnapshot{
		ID:      c.newID(),
		Kind:    protocol.SnapshotKindPoll,
		TakenAt: c.now().UTC(),
	}

	lastLog, err := c.source.LastDailyLogDate(ctx)
	if err != nil {
		return nil, err
	}
	snap.LastDailyLogDate = lastLog.Format(protocol.DateLayout)

	extent, err := c.source.Extent(ctx)
	switch {
	case errors.Is(err, database.ErrExtentNotFound):
	case err != nil:
		return nil, err
	default:
		snap.Extent = &protocol.BoundingBox{
			NWLng: extent.NWLng,
			SELat: extent.SELat,
			SELng: extent.SELng,
			NWLat: extent.NWLat,
		}
	}

	if snap.EligibleSensors, err = c.source.EligibleSensorIDs(ctx); err != nil {
		return nil, err
	}
	if snap.NotElevatedSensors, err = c.source.NotElevatedSensors(ctx); err != nil {
		return nil, err
	}

	groupings, err := c.source.PreviousActiveSensors(ctx)
	if err != nil {
		return nil, err
	}
	snap.ActiveSensorGroupings = make([][]int64, 0, len(groupings))
	for _, g := range groupings {
		snap.ActiveSensorGroupings = append(snap.ActiveSensorGroupings, g.SensorIndices)
	}

	if snap.OngoingAlertRecordIDs, err = c.source.OngoingAlertRecordIDs(ctx); err != nil {
		return nil, err
	}
	if snap.NewestSubscriberID, err = c.source.NewestSubscriberID(ctx); err != nil {
		return nil, err
	}
	if snap.ReportsForToday, err = c.source.ReportsForToday(ctx); err != nil {
		return nil, err
	}

	return snap, nil
}

// Saver persists the latest snapshot
type Saver interface {
	Save(ctx context.Context, snap *protocol.PollSnapshot) error
}

// Publisher delivers encoded snapshots downstream
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Runner collects, stores and publishes one snapshot per call
type Runner struct {
	collector *Collector
	saver     Saver
	publisher Publisher
}

// NewRunner creates a new snapshot runner
func NewRunner(collector *Collector, saver Saver, publisher Publisher) *Runner {
	return &Runner{
		collector: collector,
		saver:     saver,
		publisher: publisher,
	}
}

// RunOnce takes a snapshot, saves it as the latest and publishes it
func (r *Runner) RunOnce(ctx context.Context) (*protocol.PollSnapshot, error) {
	snap, err := r.collector.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect snapshot: %w", err)
	}

	if err := r.saver.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	data, err := protocol.EncodePollSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := r.publisher.Publish(ctx, snap.Kind, data); err != nil {
		return nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}

	return snap, nil
}
