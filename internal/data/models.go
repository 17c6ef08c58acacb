// internal/data/models.go
package data

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind identifies the sensor family a reading belongs to.
type Kind string

const (
	KindVibration Kind = "vibration"
	KindGas       Kind = "gas"
	KindFire      Kind = "fire"
)

// Kinds lists every sensor family in display order.
var Kinds = []Kind{KindGas, KindFire, KindVibration}

func (k Kind) Valid() bool {
	switch k {
	case KindVibration, KindGas, KindFire:
		return true
	}
	return false
}

// Status is the classified state of a sensor or of a facility category.
type Status string

const (
	StatusInactive Status = "inactive" // facility summaries only: no data since connection
	StatusUnknown  Status = "unknown"
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusDanger   Status = "danger"
)

// Rank orders statuses by severity: inactive < unknown < normal < warning < danger.
func (s Status) Rank() int {
	switch s {
	case StatusUnknown:
		return 1
	case StatusNormal:
		return 2
	case StatusWarning:
		return 3
	case StatusDanger:
		return 4
	}
	return 0
}

// Alerting reports whether the status belongs in the alarm log.
func (s Status) Alerting() bool {
	return s == StatusWarning || s == StatusDanger
}

// Value is a numeric magnitude or digital flag. Present is false when the
// upstream field was empty, which classifies as unknown.
type Value struct {
	Number  float64
	Present bool
}

// Num returns a present value.
func Num(v float64) Value { return Value{Number: v, Present: true} }

// Absent is the "never populated" sentinel.
var Absent = Value{}

func (v Value) String() string {
	if !v.Present {
		return "unknown"
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Present {
		return []byte("null"), nil
	}
	return json.Marshal(v.Number)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Absent
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Num(f)
	return nil
}

// Reading is a single timestamped observation.
type Reading struct {
	SensorID  string    `json:"sensor_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     Value     `json:"value"`
}

// SensorState is a read-only snapshot of one sensor's live record.
type SensorState struct {
	SensorID     string    `json:"sensor_id"`
	FacilityID   string    `json:"facility_id"`
	Kind         Kind      `json:"kind"`
	DisplayName  string    `json:"display_name"`
	Unit         string    `json:"unit,omitempty"`
	CurrentValue Value     `json:"current_value"`
	Status       Status    `json:"status"`
	HasData      bool      `json:"has_data"`
	LastUpdate   time.Time `json:"last_update,omitempty"`
	Stale        bool      `json:"stale"`
	LiveWindow   []Reading `json:"live_window,omitempty"`
}

// AlarmEntry is an immutable record of a transition into warning or danger.
type AlarmEntry struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	SensorID          string    `json:"sensor_id"`
	SensorDisplayName string    `json:"sensor_display_name"`
	FacilityID        string    `json:"facility_id"`
	Severity          Status    `json:"severity"`
	TriggeringValue   string    `json:"triggering_value"`
}

// FacilitySummary is the per-category rollup for one facility. Derived, never stored.
type FacilitySummary struct {
	FacilityID      string `json:"facility_id"`
	Name            string `json:"name"`
	GasStatus       Status `json:"gas_status"`
	FireStatus      Status `json:"fire_status"`
	VibrationStatus Status `json:"vibration_status"`
}

// Category returns the summary status for a sensor kind.
func (f FacilitySummary) Category(k Kind) Status {
	switch k {
	case KindGas:
		return f.GasStatus
	case KindFire:
		return f.FireStatus
	case KindVibration:
		return f.VibrationStatus
	}
	return StatusInactive
}

// Envelope is the upstream wire contract. Field names are owned by the
// publisher and must not change.
type Envelope struct {
	MQTTData MQTTData `json:"mqtt_data"`

	// ReceivedAt is stamped locally when the frame comes off the transport.
	ReceivedAt time.Time `json:"-"`
}

type MQTTData struct {
	TopicID string       `json:"topic_id"`
	Data    FramePayload `json:"data"`
}

// FramePayload keeps the array fields raw; the router decides how to decode them.
type FramePayload struct {
	Barr           json.RawMessage `json:"barr,omitempty"`
	Gdet           json.RawMessage `json:"gdet,omitempty"`
	Fdet           json.RawMessage `json:"fdet,omitempty"`
	LastUpdateTime string          `json:"last_update_time,omitempty"`
}
