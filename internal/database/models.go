package database

import (
	"errors"
	"time"
)

// ChannelStateOn marks a sensor an operator has switched on.
const ChannelStateOn = 3

// TrustedChannelFlags are the daily QC flags the poller accepts.
var TrustedChannelFlags = []int64{0, 4}

// DefaultDailyLogDate is returned when the daily log is empty.
var DefaultDailyLogDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrExtentNotFound is returned when the extent table has no row.
var ErrExtentNotFound = errors.New("extent row not found")

// Extent is the project bounding box in PurpleAir API notation
type Extent struct {
	NWLng float64 `json:"nwlng" yaml:"nwlng"`
	SELat float64 `json:"selat" yaml:"selat"`
	SELng float64 `json:"selng" yaml:"selng"`
	NWLat float64 `json:"nwlat" yaml:"nwlat"`
}

// SensorGrouping is one active acute alert: the sensors it covers
type SensorGrouping struct {
	SensorIndices []int64 `json:"sensor_indices" yaml:"sensor_indices"`
}

// Table is an untyped result set, passed through as read
type Table struct {
	Columns []string `json:"columns" yaml:"columns"`
	Rows    [][]any  `json:"rows" yaml:"rows"`
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}
