package model

import "github.com/RenatoCabral2022/segment-recorder/internal/registry"

type CreateCameraRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RTSPURL string `json:"rtsp_url"`
	Enabled *bool  `json:"enabled,omitempty"`
}

type UpdateCameraRequest struct {
	Name    *string `json:"name,omitempty"`
	RTSPURL *string `json:"rtsp_url,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// CameraView is a camera with its live recording flag.
type CameraView struct {
	registry.Camera
	IsRecording bool `json:"is_recording"`
}

type CameraResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Camera  CameraView `json:"camera"`
}

type CameraListResponse struct {
	Success bool         `json:"success"`
	Cameras []CameraView `json:"cameras"`
}
