package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/config"
	"github.com/RenatoCabral2022/segment-recorder/internal/coordinator"
	"github.com/RenatoCabral2022/segment-recorder/internal/model"
	"github.com/RenatoCabral2022/segment-recorder/internal/registry"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	registry *registry.Registry
	coord    *coordinator.Coordinator
	index    *segment.Index
	cfg      *config.Config
	logger   *zap.Logger

	// stopWait bounds how long a stop request waits for the recorder.
	stopWait time.Duration
}

// NewHandlers creates the API handlers.
func NewHandlers(reg *registry.Registry, coord *coordinator.Coordinator, index *segment.Index,
	cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		registry: reg,
		coord:    coord,
		index:    index,
		cfg:      cfg,
		logger:   logger,
		stopWait: config.Seconds(cfg.Recording.StopTimeout) + 5*time.Second,
	}
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, model.ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts RFC 3339 or a naive timestamp in local time.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC 3339 or YYYY-MM-DDTHH:MM:SS", s)
}
