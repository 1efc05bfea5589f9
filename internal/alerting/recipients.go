package alerting

import (
	"context"
	"fmt"
	"slices"
)

// RecipientQueries is the part of the query library the resolver needs.
// *database.Queries satisfies it.
type RecipientQueries interface {
	SubscribersNearSensor(ctx context.Context, sensorIndex int64) ([]int64, error)
	NewAlertRecipients(ctx context.Context, recordIDs []int64) ([]int64, error)
	EndAlertRecipients(ctx context.Context) ([]int64, error)
}

// Resolver turns alert sensor groupings into the subscribers to message
type Resolver struct {
	queries RecipientQueries
}

// NewResolver creates a new recipient resolver
func NewResolver(queries RecipientQueries) *Resolver {
	return &Resolver{queries: queries}
}

// NewAlertRecipients returns subscribers near any of the alert's sensors
// who have no active or cached alert yet.
func (r *Resolver) NewAlertRecipients(ctx context.Context, sensorIndices []int64) ([]int64, error) {
	candidates, err := r.NearbySubscribers(ctx, sensorIndices)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []int64{}, nil
	}

	recipients, err := r.queries.NewAlertRecipients(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to filter new alert recipients: %w", err)
	}

	return recipients, nil
}

// NearbySubscribers returns the sorted, de-duplicated union of subscribers
// near each sensor.
func (r *Resolver) NearbySubscribers(ctx context.Context, sensorIndices []int64) ([]int64, error) {
	seen := make(map[int64]struct{})
	candidates := []int64{}

	for _, sensorIndex := range sensorIndices {
		ids, err := r.queries.SubscribersNearSensor(ctx, sensorIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to find subscribers near sensor %d: %w", sensorIndex, err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}

	slices.Sort(candidates)
	return candidates, nil
}

// EndAlertRecipients returns subscribers whose alert has just ended
func (r *Resolver) EndAlertRecipients(ctx context.Context) ([]int64, error) {
	recipients, err := r.queries.EndAlertRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find end alert recipients: %w", err)
	}
	return recipients, nil
}
