// Package ingest applies routed telemetry to the sensor store and alarm log.
// Every upstream source (websocket, MQTT, HTTP) feeds the same Pipeline.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"h2-telemetry-gateway/internal/alerting"
	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/logging"
	"h2-telemetry-gateway/internal/registry"
	"h2-telemetry-gateway/internal/routing"
	"h2-telemetry-gateway/internal/storage"
	"h2-telemetry-gateway/internal/transport"
)

// Discard reasons reported in Stats.
const (
	ReasonDecode       = "decode"
	ReasonUnknownTopic = "unknown_topic"
	ReasonMalformed    = "malformed"
	ReasonEmpty        = "empty"
)

// Publisher is told about every sensor state change.
type Publisher interface {
	PublishReading(state data.SensorState)
}

type Stats struct {
	Accepted  uint64            `json:"accepted"`
	Readings  uint64            `json:"readings"`
	Alarms    uint64            `json:"alarms"`
	Skipped   uint64            `json:"skipped"`
	Discarded map[string]uint64 `json:"discarded"`
	LastFrame time.Time         `json:"last_frame"`
}

type Pipeline struct {
	mu         sync.Mutex
	router     *routing.Router
	store      *storage.SensorStore
	alarms     *alerting.AlarmLog
	publishers []Publisher
	log        *slog.Logger
	stats      Stats
}

func New(router *routing.Router, store *storage.SensorStore, alarms *alerting.AlarmLog, log *slog.Logger) *Pipeline {
	return &Pipeline{
		router: router,
		store:  store,
		alarms: alarms,
		log:    logging.OrDiscard(log),
		stats:  Stats{Discarded: make(map[string]uint64)},
	}
}

// AddPublisher registers pub. Call before ingestion starts.
func (p *Pipeline) AddPublisher(pub Publisher) {
	p.mu.Lock()
	p.publishers = append(p.publishers, pub)
	p.mu.Unlock()
}

// Handle routes env and applies every decoded value. A routing error means
// nothing was applied; it is returned for the caller to report.
func (p *Pipeline) Handle(ctx context.Context, env *data.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	routed, err := p.router.Route(env)
	if err != nil {
		p.discard(err, env.MQTTData.TopicID)
		return err
	}

	p.stats.Accepted++
	p.stats.LastFrame = routed.Timestamp

	for _, frame := range routed.Frames {
		for i, v := range frame.Values {
			p.apply(registry.SensorID(routed.FacilityID, frame.Kind, i+1), data.Reading{
				Timestamp: routed.Timestamp,
				Value:     v,
			})
		}
	}
	return nil
}

// HandleRaw decodes one raw frame and handles it.
func (p *Pipeline) HandleRaw(ctx context.Context, raw []byte) error {
	env, err := data.Parse(raw)
	if err != nil {
		p.mu.Lock()
		p.stats.Discarded[ReasonDecode]++
		p.mu.Unlock()
		p.log.Warn("dropping undecodable frame", logging.Err(err))
		return err
	}
	return p.Handle(ctx, env)
}

// Handler adapts the pipeline to a transport connection. Discards are already
// logged by Handle.
func (p *Pipeline) Handler(ctx context.Context) transport.Handler {
	return func(env *data.Envelope) {
		_ = p.Handle(ctx, env)
	}
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.Discarded = maps.Clone(p.stats.Discarded)
	return out
}

func (p *Pipeline) apply(sensorID string, r data.Reading) {
	_, transitioned, err := p.store.ApplyReading(sensorID, r)
	if err != nil {
		// Digital arrays may carry more elements than the facility has
		// detectors.
		p.stats.Skipped++
		p.log.Debug("skipping reading", slog.String("sensor", sensorID), logging.Err(err))
		return
	}
	p.stats.Readings++

	state, err := p.store.State(sensorID)
	if err != nil {
		return
	}
	if _, logged := p.alarms.RecordIfTransition(state, transitioned, r); logged {
		p.stats.Alarms++
	}
	for _, pub := range p.publishers {
		pub.PublishReading(state)
	}
}

func (p *Pipeline) discard(err error, topic string) {
	switch {
	case errors.Is(err, routing.ErrUnknownTopic):
		p.stats.Discarded[ReasonUnknownTopic]++
		p.log.Debug("dropping frame for unknown topic", slog.String("topic", topic))
	case errors.Is(err, routing.ErrEmptyFrame):
		p.stats.Discarded[ReasonEmpty]++
		p.log.Debug("dropping frame without sensor fields", slog.String("topic", topic))
	default:
		p.stats.Discarded[ReasonMalformed]++
		p.log.Warn("dropping malformed frame", slog.String("topic", topic), logging.Err(err))
	}
}
