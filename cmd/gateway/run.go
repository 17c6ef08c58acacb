package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"h2-telemetry-gateway/internal/api"
	"h2-telemetry-gateway/internal/config"
	"h2-telemetry-gateway/internal/logging"
	"h2-telemetry-gateway/internal/retry"
	"h2-telemetry-gateway/internal/transport"
	"h2-telemetry-gateway/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect upstream and serve the data and UI ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configDir, os.Stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := newCore(cfg, log)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(func() websocket.History {
		return websocket.History{
			Alarms:     c.alarms.Entries(),
			Facilities: c.summarizer.SummarizeAll(),
		}
	}, log.With(slog.String("component", "hub")))
	c.alarms.AddNotifier(hub)
	c.pipeline.AddPublisher(hub)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.Run(ctx)

	apiHandler := api.NewAPIHandler(api.Deps{
		Registry:   c.registry,
		Store:      c.store,
		Summarizer: c.summarizer,
		Alarms:     c.alarms,
		Classifier: c.classifier,
		Pipeline:   c.pipeline,
		Hub:        hub,
	}, log.With(slog.String("component", "api")))

	dataServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.DataPort),
		Handler:           api.SetupDataRouter(apiHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	uiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.UIPort),
		Handler:           api.SetupUIRouter(apiHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	for name, srv := range map[string]*http.Server{"data": dataServer, "ui": uiServer} {
		go func() {
			log.Info("starting http server", slog.String("server", name), slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		superviseUpstream(ctx, cfg, c.pipeline.Handler(ctx), log.With(slog.String("component", "upstream")))
	}()

	var runErr error
	select {
	case runErr = <-errCh:
		log.Error("http server failed", logging.Err(runErr))
	case <-ctx.Done():
		log.Info("shutting down")
	}

	// Stop ingestion before the servers so no frame is half applied.
	cancel()
	<-upstreamDone

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	for _, srv := range []*http.Server{dataServer, uiServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", slog.String("addr", srv.Addr), logging.Err(err))
		}
	}

	log.Info("gateway stopped")
	return runErr
}

// superviseUpstream keeps the configured upstream connection until ctx ends.
// A connection that cannot be (re)established leaves the gateway serving the
// last known state.
func superviseUpstream(ctx context.Context, cfg *config.Config, handler transport.Handler, log *slog.Logger) {
	var dial transport.Dialer
	switch cfg.Upstream.Transport {
	case config.TransportMQTT:
		dial = transport.MQTTDialer(transport.MQTTOptions{
			Broker:   cfg.Upstream.MQTT.Broker,
			ClientID: cfg.Upstream.MQTT.ClientID,
			Topic:    cfg.Upstream.MQTT.Topic,
		}, log)
	default:
		if cfg.Upstream.URL == "" {
			log.Warn("no upstream url configured, accepting pushed frames only")
			return
		}
		dial = transport.WebsocketDialer(cfg.Upstream.URL, log)
	}

	var policy retry.Policy
	if r := cfg.Upstream.Reconnect; r.Enabled {
		policy = &retry.ExponentialBackoff{
			MaxAttempts: r.MaxAttempts,
			MinInterval: r.MinInterval,
			MaxInterval: r.MaxInterval,
			Logger:      log,
		}
	}

	if err := transport.Supervise(ctx, dial, handler, policy, log); err != nil {
		log.Error("upstream unavailable, serving last known state", logging.Err(err))
	}
}
