package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/middleware"
)

// NewRouter builds the HTTP handler for the daemon.
func NewRouter(h *Handlers, corsOrigins []string, logger *zap.Logger) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", h.ListCameras)
			r.Post("/", h.CreateCamera)
			r.Route("/{cameraId}", func(r chi.Router) {
				r.Get("/", h.GetCamera)
				r.Put("/", h.UpdateCamera)
				r.Delete("/", h.DeleteCamera)
			})
		})

		r.Route("/recording", func(r chi.Router) {
			r.Post("/start", h.StartRecording)
			r.Post("/stop", h.StopRecording)
			r.Get("/status/{cameraId}", h.RecordingStatus)
			r.Post("/query", h.QueryRecordings)
		})

		r.Post("/recordings/query", h.QueryRecordings)
		r.Get("/recordings/{cameraId}", h.ListRecordings)

		r.Get("/status", h.SystemStatus)
		r.Get("/settings", h.Settings)
	})

	return r
}
