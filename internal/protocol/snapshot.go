package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotKindPoll marks the inputs of one sensor polling cycle
const SnapshotKindPoll = "POLL_INPUTS"

// DateLayout is the wire format for calendar dates
const DateLayout = "2006-01-02"

// BoundingBox is the project extent in PurpleAir API notation
type BoundingBox struct {
	NWLng float64 `json:"nwlng" yaml:"nwlng"`
	SELat float64 `json:"selat" yaml:"selat"`
	SELng float64 `json:"selng" yaml:"selng"`
	NWLat float64 `json:"nwlat" yaml:"nwlat"`
}

// PollSnapshot is the message format for poll-input snapshots
type PollSnapshot struct {
	ID                    string       `json:"id" yaml:"id"`
	Kind                  string       `json:"kind" yaml:"kind"`
	TakenAt               time.Time    `json:"taken_at" yaml:"taken_at"`
	LastDailyLogDate      string       `json:"last_daily_log_date" yaml:"last_daily_log_date"`
	Extent                *BoundingBox `json:"extent,omitempty" yaml:"extent,omitempty"`
	EligibleSensors       []int64      `json:"eligible_sensors" yaml:"eligible_sensors"`
	NotElevatedSensors    []int64      `json:"not_elevated_sensors" yaml:"not_elevated_sensors"`
	ActiveSensorGroupings [][]int64    `json:"active_sensor_groupings" yaml:"active_sensor_groupings"`
	OngoingAlertRecordIDs []int64      `json:"ongoing_alert_record_ids" yaml:"ongoing_alert_record_ids"`
	NewestSubscriberID    int64        `json:"newest_subscriber_id" yaml:"newest_subscriber_id"`
	ReportsForToday       int64        `json:"reports_for_today" yaml:"reports_for_today"`
}

// LastDailyLog parses LastDailyLogDate
func (s *PollSnapshot) LastDailyLog() (time.Time, error) {
	return time.Parse(DateLayout, s.LastDailyLogDate)
}

// EncodePollSnapshot encodes a PollSnapshot to JSON
func EncodePollSnapshot(s *PollSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

// DecodePollSnapshot decodes JSON to PollSnapshot
func DecodePollSnapshot(data []byte) (*PollSnapshot, error) {
	var s PollSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Kind != SnapshotKindPoll {
		return nil, fmt.Errorf("unexpected snapshot kind: %q", s.Kind)
	}
	return &s, nil
}
