// Package rollup reduces per-sensor state into facility-level status.
//
// Per category the order is danger > warning > normal > inactive. Sensors that
// never reported, or whose last signal was unknown, do not contribute; a
// category with no contributing sensor is inactive.
package rollup

import (
	"errors"
	"fmt"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/registry"
)

var ErrUnknownFacility = errors.New("unknown facility")

// StateSource is the read side of the sensor store.
type StateSource interface {
	States(facilityID string) []data.SensorState
}

type Summarizer struct {
	reg    *registry.Registry
	states StateSource
}

func NewSummarizer(reg *registry.Registry, states StateSource) *Summarizer {
	return &Summarizer{reg: reg, states: states}
}

// Summarize computes the current summary for one facility. It has no side
// effects.
func (s *Summarizer) Summarize(facilityID string) (data.FacilitySummary, error) {
	f, ok := s.reg.Facility(facilityID)
	if !ok {
		return data.FacilitySummary{}, fmt.Errorf("%w: %s", ErrUnknownFacility, facilityID)
	}
	return Reduce(f.ID, f.Name, s.states.States(f.ID)), nil
}

// SummarizeAll summarizes every facility in registry order.
func (s *Summarizer) SummarizeAll() []data.FacilitySummary {
	facilities := s.reg.Facilities()
	out := make([]data.FacilitySummary, 0, len(facilities))
	for _, f := range facilities {
		out = append(out, Reduce(f.ID, f.Name, s.states.States(f.ID)))
	}
	return out
}

// Reduce folds sensor states into a summary.
func Reduce(facilityID, name string, states []data.SensorState) data.FacilitySummary {
	worst := map[data.Kind]data.Status{
		data.KindGas:       data.StatusInactive,
		data.KindFire:      data.StatusInactive,
		data.KindVibration: data.StatusInactive,
	}
	for _, st := range states {
		if !st.HasData || st.Status == data.StatusUnknown {
			continue
		}
		cur, ok := worst[st.Kind]
		if !ok {
			continue
		}
		if st.Status.Rank() > cur.Rank() {
			worst[st.Kind] = st.Status
		}
	}
	return data.FacilitySummary{
		FacilityID:      facilityID,
		Name:            name,
		GasStatus:       worst[data.KindGas],
		FireStatus:      worst[data.KindFire],
		VibrationStatus: worst[data.KindVibration],
	}
}
