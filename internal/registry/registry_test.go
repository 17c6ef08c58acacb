package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/registry"
)

func TestRegistryExpandsSensors(t *testing.T) {
	reg, err := registry.New([]registry.Facility{{
		ID:               "P1",
		Name:             "Samcheok Gyo-dong",
		Topic:            "hyge/P1",
		VibrationSensors: 9,
		GasSensors:       2,
		FireSensors:      1,
		VibrationUnits:   []string{"g", "mm/s"},
	}})
	require.NoError(t, err)

	vib := reg.Sensors("P1", data.KindVibration)
	require.Len(t, vib, 9)
	require.Equal(t, "P1.vibration-1", vib[0].ID)
	require.Equal(t, "P1.vibration-9", vib[8].ID)
	require.Equal(t, "g", vib[0].Unit)
	require.Equal(t, "mm/s", vib[1].Unit)
	require.Empty(t, vib[2].Unit)

	s, ok := reg.Sensor("P1.gas-2")
	require.True(t, ok)
	require.Equal(t, data.KindGas, s.Kind)
	require.Equal(t, 2, s.Index)
	require.Equal(t, "P1", s.FacilityID)

	_, ok = reg.Sensor("P1.gas-3")
	require.False(t, ok)

	f, ok := reg.FacilityByTopic("hyge/P1")
	require.True(t, ok)
	require.Equal(t, "P1", f.ID)

	_, ok = reg.FacilityByTopic("hyge/P2")
	require.False(t, ok)

	require.Len(t, reg.SensorIDs(), 12)
}

func TestRegistryDefaultsName(t *testing.T) {
	reg, err := registry.New([]registry.Facility{{ID: "P7", Topic: "hyge/P7"}})
	require.NoError(t, err)
	f, ok := reg.Facility("P7")
	require.True(t, ok)
	require.Equal(t, "P7", f.Name)
	require.Empty(t, reg.Sensors("P7", data.KindGas))
}

func TestRegistryValidation(t *testing.T) {
	_, err := registry.New([]registry.Facility{
		{ID: "P1", Topic: "a"},
		{ID: "P1", Topic: "b"},
	})
	require.ErrorIs(t, err, registry.ErrDuplicateFacility)

	_, err = registry.New([]registry.Facility{
		{ID: "P1", Topic: "a"},
		{ID: "P2", Topic: "a"},
	})
	require.ErrorIs(t, err, registry.ErrDuplicateTopic)

	_, err = registry.New([]registry.Facility{{ID: "P1"}})
	require.ErrorIs(t, err, registry.ErrInvalidFacility)

	_, err = registry.New([]registry.Facility{{ID: "P1", Topic: "a", GasSensors: -1}})
	require.ErrorIs(t, err, registry.ErrInvalidFacility)
}

func TestRegistryIsImmutable(t *testing.T) {
	units := []string{"g"}
	reg, err := registry.New([]registry.Facility{{ID: "P1", Topic: "a", VibrationSensors: 1, VibrationUnits: units}})
	require.NoError(t, err)

	units[0] = "changed"
	fs := reg.Facilities()
	fs[0].Name = "changed"

	f, _ := reg.Facility("P1")
	require.Equal(t, "P1", f.Name)
	require.Equal(t, []string{"g"}, f.VibrationUnits)
}
