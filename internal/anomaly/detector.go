// internal/anomaly/detector.go
package anomaly

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/registry"
)

var ErrInvalidBand = errors.New("invalid threshold band")

// Band is a vibration classification band. Warning of zero disables the
// warning band and the classifier is two-state (normal/danger).
type Band struct {
	Danger  float64 `json:"danger" mapstructure:"danger"`
	Warning float64 `json:"warning,omitempty" mapstructure:"warning"`
}

func (b Band) Validate() error {
	if b.Danger <= 0 {
		return fmt.Errorf("%w: danger must be positive, got %v", ErrInvalidBand, b.Danger)
	}
	if b.Warning < 0 || (b.Warning > 0 && b.Warning >= b.Danger) {
		return fmt.Errorf("%w: warning %v must be in (0, %v)", ErrInvalidBand, b.Warning, b.Danger)
	}
	return nil
}

// Thresholds are the deployment-tunable classification limits.
type Thresholds struct {
	Vibration Band
	// PerSensor overrides Vibration for individual sensor ids.
	PerSensor map[string]Band
}

// For returns the band that applies to sensorID.
func (t Thresholds) For(sensorID string) Band {
	if b, ok := t.PerSensor[sensorID]; ok {
		return b
	}
	return t.Vibration
}

// Classify maps a raw value to a status. It is total: out-of-domain input
// yields StatusUnknown, never an error.
func Classify(kind data.Kind, v data.Value, band Band) data.Status {
	if !v.Present {
		return data.StatusUnknown
	}
	switch kind {
	case data.KindVibration:
		switch {
		case v.Number >= band.Danger:
			return data.StatusDanger
		case band.Warning > 0 && v.Number >= band.Warning:
			return data.StatusWarning
		default:
			return data.StatusNormal
		}
	case data.KindGas, data.KindFire:
		switch v.Number {
		case 1:
			return data.StatusDanger
		case 0:
			return data.StatusNormal
		}
	}
	return data.StatusUnknown
}

// Classifier binds Thresholds to the registry and allows per-sensor tuning
// at runtime.
type Classifier struct {
	mu         sync.RWMutex
	thresholds Thresholds
}

func NewClassifier(t Thresholds) *Classifier {
	t.PerSensor = maps.Clone(t.PerSensor)
	if t.PerSensor == nil {
		t.PerSensor = make(map[string]Band)
	}
	return &Classifier{thresholds: t}
}

// ClassifySensor classifies v using the band configured for s.
func (c *Classifier) ClassifySensor(s registry.Sensor, v data.Value) data.Status {
	c.mu.RLock()
	band := c.thresholds.For(s.ID)
	c.mu.RUnlock()
	return Classify(s.Kind, v, band)
}

// Band returns the vibration band currently applied to sensorID.
func (c *Classifier) Band(sensorID string) Band {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds.For(sensorID)
}

// SetSensorBand overrides the vibration band for one sensor. It takes effect
// from the next reading; current statuses are not reclassified.
func (c *Classifier) SetSensorBand(sensorID string, b Band) error {
	if err := b.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.thresholds.PerSensor[sensorID] = b
	c.mu.Unlock()
	return nil
}
