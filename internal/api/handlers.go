package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict

	"h2-telemetry-gateway/internal/alerting"
	"h2-telemetry-gateway/internal/anomaly"
	"h2-telemetry-gateway/internal/data"
	"h2-telemetry-gateway/internal/ingest"
	"h2-telemetry-gateway/internal/logging"
	"h2-telemetry-gateway/internal/registry"
	"h2-telemetry-gateway/internal/rollup"
	"h2-telemetry-gateway/internal/routing"
	"h2-telemetry-gateway/internal/storage"
	"h2-telemetry-gateway/internal/websocket"
)

const maxBodySize = 1 << 20

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Deps are the components the handlers read from. Hub may be nil when the
// UI websocket is not served.
type Deps struct {
	Registry   *registry.Registry
	Store      *storage.SensorStore
	Summarizer *rollup.Summarizer
	Alarms     *alerting.AlarmLog
	Classifier *anomaly.Classifier
	Pipeline   *ingest.Pipeline
	Hub        *websocket.Hub
}

type APIHandler struct {
	Deps
	log *slog.Logger
}

func NewAPIHandler(deps Deps, log *slog.Logger) *APIHandler {
	return &APIHandler{Deps: deps, log: logging.OrDiscard(log)}
}

// HandleDataIngest accepts one upstream envelope pushed over HTTP and runs it
// through the same pipeline as the streaming transports.
func (h *APIHandler) HandleDataIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	err = h.Pipeline.HandleRaw(r.Context(), body)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, routing.ErrUnknownTopic),
		errors.Is(err, routing.ErrMalformedFrame),
		errors.Is(err, routing.ErrEmptyFrame):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"status": "discarded", "error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.writeError(w, http.StatusBadRequest, "cannot parse envelope: "+err.Error())
	}
}

// HandleWebSocket upgrades connections and registers clients with the hub.
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	websocket.NewClient(h.Hub, conn).Serve()
}

func (h *APIHandler) ListFacilities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.Summarizer.SummarizeAll())
}

func (h *APIHandler) FacilitySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Summarizer.Summarize(chi.URLParam(r, "facilityID"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *APIHandler) FacilitySensors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "facilityID")
	if _, ok := h.Registry.Facility(id); !ok {
		h.writeError(w, http.StatusNotFound, rollup.ErrUnknownFacility.Error()+": "+id)
		return
	}
	states := h.Store.States(id)
	for i := range states {
		states[i].LiveWindow = nil
	}
	h.writeJSON(w, http.StatusOK, states)
}

func (h *APIHandler) Sensor(w http.ResponseWriter, r *http.Request) {
	state, err := h.Store.State(chi.URLParam(r, "sensorID"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *APIHandler) LiveWindow(w http.ResponseWriter, r *http.Request) {
	h.window(w, r, h.Store.LiveWindow)
}

func (h *APIHandler) DetailWindow(w http.ResponseWriter, r *http.Request) {
	h.window(w, r, h.Store.DetailWindow)
}

func (h *APIHandler) window(w http.ResponseWriter, r *http.Request, read func(string) ([]data.Reading, error)) {
	readings, err := read(chi.URLParam(r, "sensorID"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if readings == nil {
		readings = []data.Reading{}
	}
	h.writeJSON(w, http.StatusOK, readings)
}

func (h *APIHandler) Threshold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sensorID")
	if _, ok := h.vibrationSensor(w, id); !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.Classifier.Band(id))
}

// SetThreshold overrides the vibration band of one sensor. The new band
// applies from the next reading.
func (h *APIHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sensorID")
	if _, ok := h.vibrationSensor(w, id); !ok {
		return
	}

	var band anomaly.Band
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&band); err != nil {
		h.writeError(w, http.StatusBadRequest, "cannot parse band: "+err.Error())
		return
	}
	if err := h.Classifier.SetSensorBand(id, band); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.log.Info("vibration threshold updated",
		slog.String("sensor", id),
		slog.Float64("danger", band.Danger),
		slog.Float64("warning", band.Warning),
	)
	h.writeJSON(w, http.StatusOK, band)
}

func (h *APIHandler) vibrationSensor(w http.ResponseWriter, id string) (registry.Sensor, bool) {
	sensor, ok := h.Registry.Sensor(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, storage.ErrUnknownSensor.Error()+": "+id)
		return sensor, false
	}
	if sensor.Kind != data.KindVibration {
		h.writeError(w, http.StatusUnprocessableEntity, "thresholds apply to vibration sensors only")
		return sensor, false
	}
	return sensor, true
}

// ListAlarms returns the alarm log, most recent first. ?limit=n caps the
// result.
func (h *APIHandler) ListAlarms(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries := h.Alarms.Recent(limit)
	if entries == nil {
		entries = []data.AlarmEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

type health struct {
	Status    string       `json:"status"`
	Time      time.Time    `json:"time"`
	Pipeline  ingest.Stats `json:"pipeline"`
	AlarmLog  int          `json:"alarm_log"`
	UIClients int          `json:"ui_clients"`
}

func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := health{
		Status:   "ok",
		Time:     time.Now().UTC(),
		Pipeline: h.Pipeline.Stats(),
		AlarmLog: h.Alarms.Len(),
	}
	if h.Hub != nil {
		resp.UIClients = h.Hub.Clients(r.Context())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("writing response", logging.Err(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
