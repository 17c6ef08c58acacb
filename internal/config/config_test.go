package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"h2-telemetry-gateway/internal/anomaly"
	"h2-telemetry-gateway/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.DataPort)
	require.Equal(t, 8081, cfg.Server.UIPort)
	require.Equal(t, config.TransportWebsocket, cfg.Upstream.Transport)
	require.False(t, cfg.Upstream.Reconnect.Enabled)
	require.Equal(t, time.Second, cfg.Upstream.Reconnect.MinInterval)
	require.Equal(t, anomaly.Band{Danger: 1000}, cfg.VibrationBand())
	require.Equal(t, 30, cfg.Windows.LiveCapacity)
	require.Equal(t, 300, cfg.Windows.DetailCapacity)
	require.Equal(t, 500, cfg.Alarms.Capacity)
	require.Zero(t, cfg.StalenessTimeout)

	require.Len(t, cfg.Facilities, 1)
	require.Equal(t, 9, cfg.Facilities[0].VibrationSensors)
}

func TestFileAndEnvironment(t *testing.T) {
	dir := writeConfig(t, `
upstream:
  transport: mqtt
  reconnect:
    enabled: true
    min_interval: PT2S
    max_interval: 1m
thresholds:
  vibration_danger: 1.5
  vibration_warning: 1.0
  sensors:
    - sensor: P2.vibration-3
      danger: 2
staleness_timeout: PT30S
facilities:
  - id: P1
    topic: hyge/P1
    gas_sensors: 3
    fire_sensors: 3
  - id: P2
    name: Station 2
    topic: hyge/P2
    vibration_sensors: 4
    vibration_units: g,g,mm/s,mm/s
`)
	t.Setenv("H2GW_UPSTREAM_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("H2GW_SERVER_UI_PORT", "9000")

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	require.Equal(t, config.TransportMQTT, cfg.Upstream.Transport)
	require.Equal(t, "tcp://broker:1883", cfg.Upstream.MQTT.Broker)
	require.Equal(t, 9000, cfg.Server.UIPort)
	require.Equal(t, 2*time.Second, cfg.Upstream.Reconnect.MinInterval)
	require.Equal(t, time.Minute, cfg.Upstream.Reconnect.MaxInterval)
	require.Equal(t, 30*time.Second, cfg.StalenessTimeout)

	thresholds := cfg.ClassifierThresholds()
	require.Equal(t, anomaly.Band{Danger: 1.5, Warning: 1.0}, thresholds.Vibration)
	require.Equal(t, anomaly.Band{Danger: 2}, thresholds.For("P2.vibration-3"))

	facilities := cfg.RegistryFacilities()
	require.Len(t, facilities, 2)
	require.Equal(t, 9, facilities[0].VibrationSensors)
	require.Equal(t, 4, facilities[1].VibrationSensors)
	require.Equal(t, []string{"g", "g", "mm/s", "mm/s"}, facilities[1].VibrationUnits)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown transport":    "upstream:\n  transport: carrier-pigeon\n",
		"warning above danger": "thresholds:\n  vibration_danger: 1\n  vibration_warning: 2\n",
		"zero capacity":        "alarms:\n  capacity: 0\n",
		"bad duration":         "staleness_timeout: soon\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestParseDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"":       0,
		"250ms":  250 * time.Millisecond,
		"PT1M":   time.Minute,
		"PT30S":  30 * time.Second,
	} {
		got, err := config.ParseDuration(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := config.ParseDuration("soon")
	require.ErrorIs(t, err, config.ErrInvalid)
}
