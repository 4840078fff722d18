package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/config"
	"github.com/RenatoCabral2022/segment-recorder/internal/events"
)

func TestNewRebuildsIndex(t *testing.T) {
	cfg := config.Default()
	cfg.Recording.OutputDir = t.TempDir()
	cfg.Cameras = []config.CameraConfig{{ID: "cam1", RTSPURL: "rtsp://10.0.0.5/stream"}}

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)
	dir := filepath.Join(cfg.Recording.OutputDir, "cam1")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "cam1_20240101_120000_to_20240101_121000.mp4"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "cam1_20240101_121000_recording.mp4"), []byte("x"), 0o644)

	a, err := New(cfg, zap.NewNop(), true)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Index.Len() != 1 {
		t.Errorf("expected one indexed segment, got %d", a.Index.Len())
	}
	if segs := a.Index.All("cam1"); len(segs) != 1 || !segs[0].Start.Equal(start) {
		t.Errorf("unexpected segments %+v", segs)
	}
	if _, ok := a.Events.(events.Nop); !ok {
		t.Error("expected no-op publisher without NATS_URL")
	}
	if _, ok := a.Registry.Get("cam1"); !ok {
		t.Error("expected cam1 in registry")
	}
}

func TestNewRejectsBadCameras(t *testing.T) {
	cfg := config.Default()
	cfg.Recording.OutputDir = t.TempDir()
	cfg.Cameras = []config.CameraConfig{{ID: "bad id", RTSPURL: "rtsp://x"}}

	if _, err := New(cfg, zap.NewNop(), false); err == nil {
		t.Error("expected invalid camera id to fail")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "DEBUG", Development: true}); err != nil {
		t.Errorf("debug logger: %v", err)
	}
	if _, err := NewLogger(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected unknown level to fail")
	}
}
