// cmd/gateway/main.go
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"h2-telemetry-gateway/internal/alerting"
	"h2-telemetry-gateway/internal/anomaly"
	"h2-telemetry-gateway/internal/config"
	"h2-telemetry-gateway/internal/ingest"
	"h2-telemetry-gateway/internal/logging"
	"h2-telemetry-gateway/internal/registry"
	"h2-telemetry-gateway/internal/rollup"
	"h2-telemetry-gateway/internal/routing"
	"h2-telemetry-gateway/internal/storage"
)

const version = "v0.1.0"

func main() {
	var configDir string

	root := &cobra.Command{
		Use:   "gateway",
		Short: "Hydrogen station telemetry gateway",
		Long: `gateway ingests the station telemetry stream, classifies gas, fire and
vibration readings, keeps an alarm log and serves facility status over HTTP.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config", ".", "directory containing config.yaml")

	root.AddCommand(
		newRunCmd(&configDir),
		newReplayCmd(&configDir),
		&cobra.Command{
			Use:   "version",
			Short: "Print the gateway version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// core is the transport-independent part of the gateway.
type core struct {
	registry   *registry.Registry
	classifier *anomaly.Classifier
	store      *storage.SensorStore
	alarms     *alerting.AlarmLog
	summarizer *rollup.Summarizer
	pipeline   *ingest.Pipeline
}

func newCore(cfg *config.Config, log *slog.Logger) (*core, error) {
	reg, err := registry.New(cfg.RegistryFacilities())
	if err != nil {
		return nil, fmt.Errorf("building registry: %w", err)
	}
	for _, s := range cfg.Thresholds.Sensors {
		if _, ok := reg.Sensor(s.Sensor); !ok {
			log.Warn("threshold override for unregistered sensor", slog.String("sensor", s.Sensor))
		}
	}

	classifier := anomaly.NewClassifier(cfg.ClassifierThresholds())
	store := storage.NewSensorStore(reg, classifier, storage.Options{
		LiveCapacity:     cfg.Windows.LiveCapacity,
		DetailCapacity:   cfg.Windows.DetailCapacity,
		StalenessTimeout: cfg.StalenessTimeout,
	})
	alarms := alerting.NewAlarmLog(cfg.Alarms.Capacity, log.With(slog.String("component", "alarms")))

	return &core{
		registry:   reg,
		classifier: classifier,
		store:      store,
		alarms:     alarms,
		summarizer: rollup.NewSummarizer(reg, store),
		pipeline:   ingest.New(routing.New(reg), store, alarms, log.With(slog.String("component", "ingest"))),
	}, nil
}

func loadConfig(dir string, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logging.New(logOut, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("configuring logging: %w", err)
	}
	return cfg, log, nil
}
