package model

import "github.com/RenatoCabral2022/segment-recorder/internal/coordinator"

type SystemStatus struct {
	TotalCameras     int                                 `json:"total_cameras"`
	EnabledCameras   int                                 `json:"enabled_cameras"`
	RecordingCameras int                                 `json:"recording_cameras"`
	IndexedSegments  int                                 `json:"indexed_segments"`
	Cameras          map[string]coordinator.CameraStatus `json:"cameras"`
}

type StatusResponse struct {
	Success bool         `json:"success"`
	Status  SystemStatus `json:"status"`
}

// Settings is the read-only view of the running configuration.
type Settings struct {
	Recording RecordingSettings `json:"recording"`
	FFmpeg    FFmpegSettings    `json:"ffmpeg"`
	Server    ServerSettings    `json:"server"`
}

type RecordingSettings struct {
	OutputDir            string `json:"output_dir"`
	SegmentDuration      int    `json:"segment_duration"`
	Extension            string `json:"extension"`
	RetentionDays        int    `json:"retention_days"`
	EnableAutoDelete     bool   `json:"enable_auto_delete"`
	CheckInterval        int    `json:"check_interval"`
	AutoStart            bool   `json:"auto_start"`
	MaxConsecutiveErrors int    `json:"max_consecutive_errors"`
	RetryDelay           int    `json:"retry_delay"`
}

type FFmpegSettings struct {
	Path          string `json:"path"`
	RTSPTransport string `json:"rtsp_transport"`
	Timeout       int    `json:"timeout"`
}

type ServerSettings struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"cors_origins"`
}

type SettingsResponse struct {
	Success  bool     `json:"success"`
	Settings Settings `json:"settings"`
}
