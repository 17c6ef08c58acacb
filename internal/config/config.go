// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sosodev/duration"
	"github.com/spf13/viper"

	"h2-telemetry-gateway/internal/anomaly"
	"h2-telemetry-gateway/internal/registry"
)

const (
	TransportWebsocket = "websocket"
	TransportMQTT      = "mqtt"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server struct {
		DataPort int `mapstructure:"data_port"`
		UIPort   int `mapstructure:"ui_port"`
	} `mapstructure:"server"`

	Upstream Upstream `mapstructure:"upstream"`

	Thresholds struct {
		VibrationDanger  float64           `mapstructure:"vibration_danger"`
		VibrationWarning float64           `mapstructure:"vibration_warning"`
		Sensors          []SensorThreshold `mapstructure:"sensors"`
	} `mapstructure:"thresholds"`

	Windows struct {
		LiveCapacity   int `mapstructure:"live_capacity"`
		DetailCapacity int `mapstructure:"detail_capacity"`
	} `mapstructure:"windows"`

	Alarms struct {
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"alarms"`

	// StalenessTimeout flags sensors that stopped reporting. Zero disables it.
	StalenessTimeout time.Duration `mapstructure:"staleness_timeout"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Facilities []Facility `mapstructure:"facilities"`
}

type Upstream struct {
	Transport string `mapstructure:"transport"`
	URL       string `mapstructure:"url"`
	MQTT      struct {
		Broker   string `mapstructure:"broker"`
		ClientID string `mapstructure:"client_id"`
		Topic    string `mapstructure:"topic"`
	} `mapstructure:"mqtt"`
	Reconnect struct {
		Enabled     bool          `mapstructure:"enabled"`
		MinInterval time.Duration `mapstructure:"min_interval"`
		MaxInterval time.Duration `mapstructure:"max_interval"`
		MaxAttempts uint64        `mapstructure:"max_attempts"`
	} `mapstructure:"reconnect"`
}

// SensorThreshold overrides the vibration band of one sensor. Sensor ids
// contain dots, so overrides are a list rather than a map keyed by id.
type SensorThreshold struct {
	Sensor  string  `mapstructure:"sensor"`
	Danger  float64 `mapstructure:"danger"`
	Warning float64 `mapstructure:"warning"`
}

type Facility struct {
	ID               string   `mapstructure:"id"`
	Name             string   `mapstructure:"name"`
	Topic            string   `mapstructure:"topic"`
	VibrationSensors int      `mapstructure:"vibration_sensors"`
	GasSensors       int      `mapstructure:"gas_sensors"`
	FireSensors      int      `mapstructure:"fire_sensors"`
	VibrationUnits   []string `mapstructure:"vibration_units"`
}

// Load reads config.yaml from dir (if present) on top of the defaults.
// Environment variables with prefix H2GW_ override file values, e.g.
// H2GW_UPSTREAM_URL.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("H2GW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook,
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	for i := range cfg.Facilities {
		if cfg.Facilities[i].VibrationSensors == 0 {
			cfg.Facilities[i].VibrationSensors = registry.DefaultVibrationSensors
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.data_port", 8080)
	v.SetDefault("server.ui_port", 8081)

	v.SetDefault("upstream.transport", TransportWebsocket)
	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("upstream.mqtt.client_id", "h2-telemetry-gateway")
	v.SetDefault("upstream.mqtt.topic", "#")
	v.SetDefault("upstream.reconnect.enabled", false)
	v.SetDefault("upstream.reconnect.min_interval", "1s")
	v.SetDefault("upstream.reconnect.max_interval", "30s")
	v.SetDefault("upstream.reconnect.max_attempts", 0)

	v.SetDefault("thresholds.vibration_danger", 1000)
	v.SetDefault("thresholds.vibration_warning", 0)

	v.SetDefault("windows.live_capacity", 30)
	v.SetDefault("windows.detail_capacity", 300)
	v.SetDefault("alarms.capacity", 500)
	v.SetDefault("staleness_timeout", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("facilities", []map[string]any{{
		"id":                "P1",
		"name":              "Station P1",
		"topic":             "P1",
		"vibration_sensors": registry.DefaultVibrationSensors,
		"gas_sensors":       1,
		"fire_sensors":      1,
	}})
}

// durationHook accepts Go durations ("30s") and ISO-8601 ones ("PT30S").
func durationHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if t != reflect.TypeOf(time.Duration(0)) || f.Kind() != reflect.String {
		return data, nil
	}
	return ParseDuration(data.(string))
}

func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrInvalid, s)
	}
	return d.ToTimeDuration(), nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Server.DataPort > 0 && c.Server.DataPort < 1<<16, "server.data_port %d", c.Server.DataPort)
	check(c.Server.UIPort > 0 && c.Server.UIPort < 1<<16, "server.ui_port %d", c.Server.UIPort)

	switch c.Upstream.Transport {
	case TransportWebsocket, TransportMQTT:
	default:
		check(false, "upstream.transport %q", c.Upstream.Transport)
	}
	if c.Upstream.Reconnect.Enabled {
		check(c.Upstream.Reconnect.MinInterval > 0, "upstream.reconnect.min_interval must be positive")
		check(c.Upstream.Reconnect.MaxInterval >= c.Upstream.Reconnect.MinInterval,
			"upstream.reconnect.max_interval below min_interval")
	}

	if err := c.VibrationBand().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: thresholds: %w", ErrInvalid, err))
	}
	for _, s := range c.Thresholds.Sensors {
		check(s.Sensor != "", "thresholds.sensors entry without sensor id")
		if err := (anomaly.Band{Danger: s.Danger, Warning: s.Warning}).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: thresholds.sensors %s: %w", ErrInvalid, s.Sensor, err))
		}
	}

	check(c.Windows.LiveCapacity > 0, "windows.live_capacity %d", c.Windows.LiveCapacity)
	check(c.Windows.DetailCapacity > 0, "windows.detail_capacity %d", c.Windows.DetailCapacity)
	check(c.Alarms.Capacity > 0, "alarms.capacity %d", c.Alarms.Capacity)
	check(c.StalenessTimeout >= 0, "staleness_timeout is negative")
	check(len(c.Facilities) > 0, "no facilities configured")

	return errors.Join(errs...)
}

func (c *Config) VibrationBand() anomaly.Band {
	return anomaly.Band{Danger: c.Thresholds.VibrationDanger, Warning: c.Thresholds.VibrationWarning}
}

// ClassifierThresholds builds the classifier configuration.
func (c *Config) ClassifierThresholds() anomaly.Thresholds {
	t := anomaly.Thresholds{Vibration: c.VibrationBand(), PerSensor: make(map[string]anomaly.Band)}
	for _, s := range c.Thresholds.Sensors {
		t.PerSensor[s.Sensor] = anomaly.Band{Danger: s.Danger, Warning: s.Warning}
	}
	return t
}

// RegistryFacilities converts the facility list for registry.New.
func (c *Config) RegistryFacilities() []registry.Facility {
	out := make([]registry.Facility, 0, len(c.Facilities))
	for _, f := range c.Facilities {
		out = append(out, registry.Facility{
			ID:               f.ID,
			Name:             f.Name,
			Topic:            f.Topic,
			VibrationSensors: f.VibrationSensors,
			GasSensors:       f.GasSensors,
			FireSensors:      f.FireSensors,
			VibrationUnits:   f.VibrationUnits,
		})
	}
	return out
}
