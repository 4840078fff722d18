package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/coordinator"
	"github.com/RenatoCabral2022/segment-recorder/internal/model"
)

// coordinatorError maps coordinator errors to HTTP statuses.
func (h *Handlers) coordinatorError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, coordinator.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, "Camera %s not found", id)
	case errors.Is(err, coordinator.ErrSourceDisabled), errors.Is(err, coordinator.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "%v", err)
	case errors.Is(err, coordinator.ErrSourceStopping):
		writeError(w, http.StatusConflict, "%v", err)
	default:
		h.logger.Error("recording request failed", zap.String("cameraId", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}

// StartRecording handles POST /api/recording/start.
func (h *Handlers) StartRecording(w http.ResponseWriter, r *http.Request) {
	var req model.RecordingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CameraID == "" {
		writeError(w, http.StatusBadRequest, "camera_id is required")
		return
	}

	if err := h.coord.StartRecording(req.CameraID); err != nil {
		h.coordinatorError(w, req.CameraID, err)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{
		Success: true,
		Message: "Recording started for camera " + req.CameraID,
	})
}

// StopRecording handles POST /api/recording/stop. It waits for the current
// segment to be finalized and returns the camera's files.
func (h *Handlers) StopRecording(w http.ResponseWriter, r *http.Request) {
	var req model.RecordingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CameraID == "" {
		writeError(w, http.StatusBadRequest, "camera_id is required")
		return
	}

	// Not tied to the request: a client disconnect must not abandon finalization.
	ctx, cancel := context.WithTimeout(context.Background(), h.stopWait)
	defer cancel()

	res, err := h.coord.StopRecording(ctx, req.CameraID)
	if err != nil {
		h.coordinatorError(w, req.CameraID, err)
		return
	}
	writeJSON(w, http.StatusOK, model.StopResponse{
		Success:       true,
		Message:       "Recording stopped for camera " + req.CameraID,
		RecordingInfo: res,
	})
}

// RecordingStatus handles GET /api/recording/status/{cameraId}.
func (h *Handlers) RecordingStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraId")
	cam, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Camera %s not found", id)
		return
	}

	resp := model.RecordingStatusResponse{
		Success:       true,
		CameraID:      id,
		IsRecording:   h.coord.IsRecording(id),
		CameraEnabled: cam.Enabled,
	}
	if st, ok := h.coord.Status(id); ok {
		resp.Recorder = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRecordings handles GET /api/recordings/{cameraId}?start_time&end_time.
func (h *Handlers) ListRecordings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraId")

	var start, end *time.Time
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"start_time", &start}, {"end_time", &end}} {
		v := r.URL.Query().Get(p.key)
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%s: %v", p.key, err)
			return
		}
		*p.dst = &t
	}

	files, err := h.coord.ListSegments(id, start, end)
	if err != nil {
		h.coordinatorError(w, id, err)
		return
	}

	resp := model.RecordingsResponse{Success: true, CameraID: id, Files: files, TotalFiles: len(files)}
	for _, f := range files {
		resp.TotalSize += f.Size
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueryRecordings handles POST /api/recordings/query.
func (h *Handlers) QueryRecordings(w http.ResponseWriter, r *http.Request) {
	var req model.QueryRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CameraID == "" {
		writeError(w, http.StatusBadRequest, "camera_id is required")
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time: %v", err)
		return
	}
	end, err := parseTime(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_time: %v", err)
		return
	}

	res, err := h.coord.Query(r.Context(), req.CameraID, start, end, coordinator.QueryOptions{Merge: req.Merge})
	if err != nil {
		h.coordinatorError(w, req.CameraID, err)
		return
	}
	writeJSON(w, http.StatusOK, model.QueryResponse{Success: true, Result: res})
}
