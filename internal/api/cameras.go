package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/model"
	"github.com/RenatoCabral2022/segment-recorder/internal/registry"
)

func (h *Handlers) view(cam registry.Camera) model.CameraView {
	return model.CameraView{Camera: cam, IsRecording: h.coord.IsRecording(cam.ID)}
}

// ListCameras handles GET /api/cameras.
func (h *Handlers) ListCameras(w http.ResponseWriter, r *http.Request) {
	cams := h.registry.List()
	resp := model.CameraListResponse{Success: true, Cameras: make([]model.CameraView, 0, len(cams))}
	for _, cam := range cams {
		resp.Cameras = append(resp.Cameras, h.view(cam))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCamera handles POST /api/cameras.
func (h *Handlers) CreateCamera(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCameraRequest
	if !decode(w, r, &req) {
		return
	}

	cam := registry.Camera{ID: req.ID, Name: req.Name, RTSPURL: req.RTSPURL, Enabled: true}
	if req.Enabled != nil {
		cam.Enabled = *req.Enabled
	}

	added, err := h.registry.Add(cam)
	switch {
	case errors.Is(err, registry.ErrInvalid), errors.Is(err, registry.ErrExists):
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	case err != nil:
		h.logger.Error("adding camera failed", zap.String("cameraId", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	writeJSON(w, http.StatusOK, model.CameraResponse{
		Success: true,
		Message: "Camera " + added.ID + " added successfully",
		Camera:  h.view(added),
	})
}

// GetCamera handles GET /api/cameras/{cameraId}.
func (h *Handlers) GetCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraId")
	cam, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Camera %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, model.CameraResponse{Success: true, Camera: h.view(cam)})
}

// UpdateCamera handles PUT /api/cameras/{cameraId}. Changes take effect on
// the next start of the camera's recorder.
func (h *Handlers) UpdateCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraId")
	var req model.UpdateCameraRequest
	if !decode(w, r, &req) {
		return
	}

	cam, err := h.registry.Update(id, registry.Update{
		Name:    req.Name,
		RTSPURL: req.RTSPURL,
		Enabled: req.Enabled,
	})
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "Camera %s not found", id)
		return
	case errors.Is(err, registry.ErrInvalid):
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	case err != nil:
		h.logger.Error("updating camera failed", zap.String("cameraId", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	writeJSON(w, http.StatusOK, model.CameraResponse{
		Success: true,
		Message: "Camera " + id + " updated successfully",
		Camera:  h.view(cam),
	})
}

// DeleteCamera handles DELETE /api/cameras/{cameraId}.
func (h *Handlers) DeleteCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraId")
	if h.coord.IsRecording(id) {
		writeError(w, http.StatusConflict, "%v: stop recording %s first", registry.ErrRecording, id)
		return
	}

	err := h.registry.Remove(id)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "Camera %s not found", id)
		return
	case err != nil:
		h.logger.Error("removing camera failed", zap.String("cameraId", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	writeJSON(w, http.StatusOK, model.MessageResponse{
		Success: true,
		Message: "Camera " + id + " deleted successfully",
	})
}
