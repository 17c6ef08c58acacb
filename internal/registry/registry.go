// Package registry holds the static set of facilities and sensors the gateway
// tracks. A Registry is built once at startup and never mutated; readings for
// sensors outside it are discarded.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"h2-telemetry-gateway/internal/data"
)

var (
	ErrDuplicateFacility = errors.New("duplicate facility id")
	ErrDuplicateTopic    = errors.New("duplicate facility topic")
	ErrInvalidFacility   = errors.New("invalid facility")
)

// DefaultVibrationSensors is the vibration array width of a standard station.
const DefaultVibrationSensors = 9

// Facility describes one site and the sensor counts per family.
type Facility struct {
	ID               string
	Name             string
	Topic            string
	VibrationSensors int
	GasSensors       int
	FireSensors      int
	// VibrationUnits gives a display unit per vibration sensor (index 0 is sensor 1).
	VibrationUnits []string
}

// Count returns the number of sensors of kind k.
func (f Facility) Count(k data.Kind) int {
	switch k {
	case data.KindVibration:
		return f.VibrationSensors
	case data.KindGas:
		return f.GasSensors
	case data.KindFire:
		return f.FireSensors
	}
	return 0
}

// Sensor is one registered sensor.
type Sensor struct {
	ID          string
	FacilityID  string
	Kind        data.Kind
	Index       int // 1-based ordinal within its kind
	DisplayName string
	Unit        string
}

// SensorID builds the canonical identifier, e.g. "P1.vibration-3".
func SensorID(facilityID string, kind data.Kind, index int) string {
	return fmt.Sprintf("%s.%s-%d", facilityID, kind, index)
}

type Registry struct {
	facilities []Facility
	byID       map[string]int
	byTopic    map[string]int
	sensors    map[string]Sensor
	byKind     map[string][]Sensor // facilityID/kind -> sensors ordered by index
}

// New validates the facility list and expands it into sensors.
func New(facilities []Facility) (*Registry, error) {
	r := &Registry{
		facilities: make([]Facility, 0, len(facilities)),
		byID:       make(map[string]int, len(facilities)),
		byTopic:    make(map[string]int, len(facilities)),
		sensors:    make(map[string]Sensor),
		byKind:     make(map[string][]Sensor),
	}

	for _, f := range facilities {
		if f.ID == "" || f.Topic == "" {
			return nil, fmt.Errorf("%w: id and topic are required (id=%q topic=%q)", ErrInvalidFacility, f.ID, f.Topic)
		}
		if f.VibrationSensors < 0 || f.GasSensors < 0 || f.FireSensors < 0 {
			return nil, fmt.Errorf("%w: %s has a negative sensor count", ErrInvalidFacility, f.ID)
		}
		if _, ok := r.byID[f.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFacility, f.ID)
		}
		if _, ok := r.byTopic[f.Topic]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTopic, f.Topic)
		}

		f.VibrationUnits = append([]string(nil), f.VibrationUnits...)
		if f.Name == "" {
			f.Name = f.ID
		}
		r.byID[f.ID] = len(r.facilities)
		r.byTopic[f.Topic] = len(r.facilities)
		r.facilities = append(r.facilities, f)

		for _, kind := range data.Kinds {
			n := f.Count(kind)
			list := make([]Sensor, 0, n)
			for i := 1; i <= n; i++ {
				s := Sensor{
					ID:          SensorID(f.ID, kind, i),
					FacilityID:  f.ID,
					Kind:        kind,
					Index:       i,
					DisplayName: displayName(kind, i),
				}
				if kind == data.KindVibration && i <= len(f.VibrationUnits) {
					s.Unit = f.VibrationUnits[i-1]
				}
				r.sensors[s.ID] = s
				list = append(list, s)
			}
			r.byKind[kindKey(f.ID, kind)] = list
		}
	}
	return r, nil
}

func displayName(kind data.Kind, i int) string {
	switch kind {
	case data.KindVibration:
		return fmt.Sprintf("Vibration sensor %d", i)
	case data.KindGas:
		return fmt.Sprintf("Gas detector %d", i)
	case data.KindFire:
		return fmt.Sprintf("Fire detector %d", i)
	}
	return fmt.Sprintf("%s %d", kind, i)
}

func kindKey(facilityID string, kind data.Kind) string {
	return facilityID + "/" + string(kind)
}

func (r *Registry) Sensor(id string) (Sensor, bool) {
	s, ok := r.sensors[id]
	return s, ok
}

func (r *Registry) Facility(id string) (Facility, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Facility{}, false
	}
	return r.facilities[i], true
}

func (r *Registry) FacilityByTopic(topic string) (Facility, bool) {
	i, ok := r.byTopic[topic]
	if !ok {
		return Facility{}, false
	}
	return r.facilities[i], true
}

// Sensors returns the sensors of one kind in a facility, ordered by index.
func (r *Registry) Sensors(facilityID string, kind data.Kind) []Sensor {
	return append([]Sensor(nil), r.byKind[kindKey(facilityID, kind)]...)
}

// Facilities returns facilities in registration order.
func (r *Registry) Facilities() []Facility {
	return append([]Facility(nil), r.facilities...)
}

// SensorIDs returns every registered sensor id, sorted.
func (r *Registry) SensorIDs() []string {
	ids := make([]string, 0, len(r.sensors))
	for id := range r.sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
