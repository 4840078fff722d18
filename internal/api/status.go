package api

import (
	"net/http"

	"github.com/RenatoCabral2022/segment-recorder/internal/model"
)

// SystemStatus handles GET /api/status.
func (h *Handlers) SystemStatus(w http.ResponseWriter, r *http.Request) {
	cameras := h.coord.AllStatus()
	st := model.SystemStatus{
		TotalCameras:    len(cameras),
		IndexedSegments: h.index.Len(),
		Cameras:         cameras,
	}
	for _, c := range cameras {
		if c.Enabled {
			st.EnabledCameras++
		}
		if c.IsRecording {
			st.RecordingCameras++
		}
	}
	writeJSON(w, http.StatusOK, model.StatusResponse{Success: true, Status: st})
}

// Settings handles GET /api/settings.
func (h *Handlers) Settings(w http.ResponseWriter, r *http.Request) {
	rc := h.cfg.Recording
	writeJSON(w, http.StatusOK, model.SettingsResponse{
		Success: true,
		Settings: model.Settings{
			Recording: model.RecordingSettings{
				OutputDir:            rc.OutputDir,
				SegmentDuration:      rc.SegmentDuration,
				Extension:            rc.Extension,
				RetentionDays:        rc.RetentionDays,
				EnableAutoDelete:     rc.EnableAutoDelete,
				CheckInterval:        rc.CheckInterval,
				AutoStart:            rc.AutoStart,
				MaxConsecutiveErrors: rc.MaxConsecutiveErrors,
				RetryDelay:           rc.RetryDelay,
			},
			FFmpeg: model.FFmpegSettings{
				Path:          h.cfg.FFmpeg.Path,
				RTSPTransport: h.cfg.FFmpeg.RTSPTransport,
				Timeout:       h.cfg.FFmpeg.Timeout,
			},
			Server: model.ServerSettings{
				Addr:        h.cfg.Server.Addr(),
				CORSOrigins: h.cfg.Server.CORSOrigins,
			},
		},
	})
}
