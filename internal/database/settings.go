package database

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for the alerting deployment the queries were written for.
const (
	DefaultTimezone             = "America/Chicago"
	DefaultDayBoundaryOffset    = 8 * time.Hour
	DefaultAlertLag             = 20 * time.Minute
	DefaultNearbyDistanceMeters = 1000.0
	DefaultProjectionSRID       = 26915 // NAD83 / UTM zone 15N, meters
)

// Settings holds the locale and tuning values the queries depend on.
type Settings struct {
	// Timezone is the civil timezone used for "now" comparisons.
	Timezone string
	// DayBoundaryOffset shifts the start of a reporting day, so overnight
	// reports count toward the previous day.
	DayBoundaryOffset time.Duration
	// AlertLag is how long a sensor must stay below the elevated threshold
	// before it is considered not elevated.
	AlertLag time.Duration
	// NearbyDistanceMeters is the default subscriber search radius.
	NearbyDistanceMeters float64
	// ProjectionSRID is a metric projection both geometries are transformed
	// into before distance comparisons.
	ProjectionSRID int
}

// DefaultSettings returns the settings with every field at its default.
func DefaultSettings() Settings {
	return Settings{
		Timezone:             DefaultTimezone,
		DayBoundaryOffset:    DefaultDayBoundaryOffset,
		AlertLag:             DefaultAlertLag,
		NearbyDistanceMeters: DefaultNearbyDistanceMeters,
		ProjectionSRID:       DefaultProjectionSRID,
	}
}

// Settings validation errors.
var (
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrNegativeDayOffset     = errors.New("day boundary offset must not be negative")
	ErrNegativeAlertLag      = errors.New("alert lag must not be negative")
	ErrInvalidNearbyDistance = errors.New("nearby distance must be positive")
	ErrInvalidProjectionSRID = errors.New("projection SRID must be positive")
)

// Validate checks every field and joins all failures.
func (s Settings) Validate() error {
	var errs []error

	if s.Timezone == "" {
		errs = append(errs, fmt.Errorf("%w: empty", ErrInvalidTimezone))
	} else if _, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTimezone, s.Timezone))
	}
	if s.DayBoundaryOffset < 0 {
		errs = append(errs, ErrNegativeDayOffset)
	}
	if s.AlertLag < 0 {
		errs = append(errs, ErrNegativeAlertLag)
	}
	if s.NearbyDistanceMeters <= 0 {
		errs = append(errs, ErrInvalidNearbyDistance)
	}
	if s.ProjectionSRID <= 0 {
		errs = append(errs, ErrInvalidProjectionSRID)
	}

	return errors.Join(errs...)
}
