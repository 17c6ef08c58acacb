// Package routing maps upstream envelopes onto facilities and decodes their
// sensor arrays. It never mutates state.
package routing

import (
	"errors"
	"fmt"
	"time"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/registry"
)

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrEmptyFrame     = errors.New("frame carries no sensor fields")
)

// Frame is one decoded sensor array. Values[i] belongs to sensor index i+1.
type Frame struct {
	Kind   data.Kind
	Values []data.Value
}

// Routed is an envelope that passed topic and shape validation.
type Routed struct {
	FacilityID string
	Timestamp  time.Time
	Frames     []Frame
}

type Router struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// Route validates env. Any present field that fails to decode rejects the
// whole envelope, so a malformed array is never partially applied.
func (r *Router) Route(env *data.Envelope) (Routed, error) {
	f, ok := r.reg.FacilityByTopic(env.MQTTData.TopicID)
	if !ok {
		return Routed{}, fmt.Errorf("%w: %q", ErrUnknownTopic, env.MQTTData.TopicID)
	}

	payload := env.MQTTData.Data
	routed := Routed{
		FacilityID: f.ID,
		Timestamp:  data.ParseTimestamp(payload.LastUpdateTime, receivedAt(env)),
	}

	if data.FieldPresent(payload.Barr) {
		values, err := data.ParseVibration(payload.Barr, f.VibrationSensors)
		if err != nil {
			return Routed{}, fmt.Errorf("%w: barr: %w", ErrMalformedFrame, err)
		}
		routed.Frames = append(routed.Frames, Frame{Kind: data.KindVibration, Values: values})
	}

	for _, field := range []struct {
		kind data.Kind
		name string
		raw  []byte
	}{
		{data.KindGas, "gdet", payload.Gdet},
		{data.KindFire, "fdet", payload.Fdet},
	} {
		res := data.ParseDigital(field.raw)
		switch res.State {
		case data.DigitalInvalid:
			return Routed{}, fmt.Errorf("%w: %s: %w", ErrMalformedFrame, field.name, res.Err)
		case data.DigitalValid:
			routed.Frames = append(routed.Frames, Frame{Kind: field.kind, Values: res.Values})
		}
	}

	if len(routed.Frames) == 0 {
		return Routed{}, ErrEmptyFrame
	}
	return routed, nil
}

func receivedAt(env *data.Envelope) time.Time {
	if env.ReceivedAt.IsZero() {
		return time.Now()
	}
	return env.ReceivedAt
}
