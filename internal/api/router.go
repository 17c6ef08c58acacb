package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupDataRouter serves the push ingestion endpoint.
func SetupDataRouter(apiHandler *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(apiHandler.log))
	r.Use(middleware.Recoverer)

	r.Post("/data", apiHandler.HandleDataIngest)
	r.Get("/healthz", apiHandler.Health)

	return r
}

// SetupUIRouter serves the read API and the dashboard websocket.
func SetupUIRouter(apiHandler *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(apiHandler.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", apiHandler.Health)
	if apiHandler.Hub != nil {
		r.Get("/ws", apiHandler.HandleWebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/facilities", apiHandler.ListFacilities)
		r.Route("/facilities/{facilityID}", func(r chi.Router) {
			r.Get("/summary", apiHandler.FacilitySummary)
			r.Get("/sensors", apiHandler.FacilitySensors)
		})
		r.Route("/sensors/{sensorID}", func(r chi.Router) {
			r.Get("/", apiHandler.Sensor)
			r.Get("/live", apiHandler.LiveWindow)
			r.Get("/detail", apiHandler.DetailWindow)
			r.Get("/threshold", apiHandler.Threshold)
			r.Put("/threshold", apiHandler.SetThreshold)
		})
		r.Get("/alarms", apiHandler.ListAlarms)
	})

	return r
}

// requestLogger is middleware.Logger on top of slog.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("elapsed", time.Since(start)),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
