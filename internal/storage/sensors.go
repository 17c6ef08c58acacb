// internal/storage/sensors.go
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"h2-telemetry-gateway/internal/anomaly"
	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/registry"
)

var ErrUnknownSensor = errors.New("unknown sensor")

const (
	DefaultLiveCapacity   = 30
	DefaultDetailCapacity = 300
)

type Options struct {
	LiveCapacity   int
	DetailCapacity int
	// StalenessTimeout marks snapshots stale when no reading arrived for this
	// long. Zero disables the check.
	StalenessTimeout time.Duration
	Now              func() time.Time
}

type sensorState struct {
	sensor     registry.Sensor
	value      data.Value
	status     data.Status
	hasData    bool
	lastUpdate time.Time
	live       *Window[data.Reading]
	detail     *Window[data.Reading]
}

// SensorStore holds the live state of every registered sensor. It is the only
// writer of sensor state; all reads return copies.
type SensorStore struct {
	mu         sync.RWMutex
	reg        *registry.Registry
	classifier *anomaly.Classifier
	states     map[string]*sensorState
	opts       Options
}

func NewSensorStore(reg *registry.Registry, classifier *anomaly.Classifier, opts Options) *SensorStore {
	if opts.LiveCapacity <= 0 {
		opts.LiveCapacity = DefaultLiveCapacity
	}
	if opts.DetailCapacity <= 0 {
		opts.DetailCapacity = DefaultDetailCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &SensorStore{
		reg:        reg,
		classifier: classifier,
		states:     make(map[string]*sensorState),
		opts:       opts,
	}
	for _, id := range reg.SensorIDs() {
		sensor, _ := reg.Sensor(id)
		s.states[id] = &sensorState{
			sensor: sensor,
			value:  data.Absent,
			status: data.StatusUnknown,
			live:   NewWindow[data.Reading](opts.LiveCapacity),
			detail: NewWindow[data.Reading](opts.DetailCapacity),
		}
	}
	return s
}

// ApplyReading classifies r and records it for sensorID. transitioned is true
// when the status changed into warning or danger. Late readings are applied
// in arrival order like any other.
func (s *SensorStore) ApplyReading(sensorID string, r data.Reading) (data.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[sensorID]
	if !ok {
		return data.StatusUnknown, false, fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}

	r.SensorID = sensorID
	prev := st.status
	next := s.classifier.ClassifySensor(st.sensor, r.Value)

	st.value = r.Value
	st.status = next
	st.hasData = true
	st.lastUpdate = s.opts.Now()
	st.live.Push(r)
	st.detail.Push(r)

	return next, next != prev && next.Alerting(), nil
}

// State returns a snapshot of one sensor including its live window.
func (s *SensorStore) State(sensorID string) (data.SensorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[sensorID]
	if !ok {
		return data.SensorState{}, fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}
	return s.snapshot(st), nil
}

// States returns snapshots for every sensor of a facility, grouped by kind
// and ordered by index.
func (s *SensorStore) States(facilityID string) []data.SensorState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []data.SensorState
	for _, kind := range data.Kinds {
		for _, sensor := range s.reg.Sensors(facilityID, kind) {
			out = append(out, s.snapshot(s.states[sensor.ID]))
		}
	}
	return out
}

func (s *SensorStore) LiveWindow(sensorID string) ([]data.Reading, error) {
	return s.window(sensorID, func(st *sensorState) *Window[data.Reading] { return st.live })
}

// DetailWindow returns the long history used for drill-down and export.
func (s *SensorStore) DetailWindow(sensorID string) ([]data.Reading, error) {
	return s.window(sensorID, func(st *sensorState) *Window[data.Reading] { return st.detail })
}

func (s *SensorStore) window(sensorID string, pick func(*sensorState) *Window[data.Reading]) ([]data.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[sensorID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}
	return pick(st).All(), nil
}

func (s *SensorStore) snapshot(st *sensorState) data.SensorState {
	snap := data.SensorState{
		SensorID:     st.sensor.ID,
		FacilityID:   st.sensor.FacilityID,
		Kind:         st.sensor.Kind,
		DisplayName:  st.sensor.DisplayName,
		Unit:         st.sensor.Unit,
		CurrentValue: st.value,
		Status:       st.status,
		HasData:      st.hasData,
		LastUpdate:   st.lastUpdate,
		LiveWindow:   st.live.All(),
	}
	if st.hasData && s.opts.StalenessTimeout > 0 {
		snap.Stale = s.opts.Now().Sub(st.lastUpdate) > s.opts.StalenessTimeout
	}
	return snap
}
