package model

import (
	"github.com/RenatoCabral2022/segment-recorder/internal/coordinator"
	"github.com/RenatoCabral2022/segment-recorder/internal/recorder"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

type RecordingRequest struct {
	CameraID string `json:"camera_id"`
}

type QueryRequest struct {
	CameraID  string `json:"camera_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Merge     bool   `json:"merge,omitempty"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StopResponse struct {
	Success       bool                   `json:"success"`
	Message       string                 `json:"message"`
	RecordingInfo coordinator.StopResult `json:"recording_info"`
}

type RecordingStatusResponse struct {
	Success       bool             `json:"success"`
	CameraID      string           `json:"camera_id"`
	IsRecording   bool             `json:"is_recording"`
	CameraEnabled bool             `json:"camera_enabled"`
	Recorder      *recorder.Status `json:"recorder,omitempty"`
}

type RecordingsResponse struct {
	Success    bool           `json:"success"`
	CameraID   string         `json:"camera_id"`
	Files      []segment.Info `json:"files"`
	TotalFiles int            `json:"total_files"`
	TotalSize  int64          `json:"total_size"`
}

type QueryResponse struct {
	Success bool                    `json:"success"`
	Result  coordinator.QueryResult `json:"result"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
