package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Recording.SegmentDuration != 600 {
		t.Errorf("expected default segment duration 600, got %d", cfg.Recording.SegmentDuration)
	}
	if cfg.Server.Addr() != "0.0.0.0:8000" {
		t.Errorf("unexpected default addr %s", cfg.Server.Addr())
	}
	if cfg.FFmpeg.Path != "ffmpeg" {
		t.Errorf("unexpected ffmpeg path %s", cfg.FFmpeg.Path)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9000
recording:
  output_dir: /data/rec
  segment_duration: 300
  retention_days: 3
cameras:
  - id: front
    name: Front door
    rtsp_url: rtsp://10.0.0.5/stream1
  - id: back
    rtsp_url: rtsp://10.0.0.6/stream1
    enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Recording.OutputDir != "/data/rec" || cfg.Recording.SegmentDuration != 300 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Recording.MaxConsecutiveErrors != 10 {
		t.Errorf("unset keys should keep defaults, got %d", cfg.Recording.MaxConsecutiveErrors)
	}
	if len(cfg.Cameras) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cfg.Cameras))
	}
	if !cfg.Cameras[0].IsEnabled() || cfg.Cameras[1].IsEnabled() {
		t.Errorf("unexpected enabled flags")
	}
	if cfg.Path != path {
		t.Errorf("expected path recorded")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RECORDER_LISTEN_ADDR", ":7000")
	t.Setenv("RECORDER_OUTPUT_DIR", "/tmp/rec")
	t.Setenv("RECORDER_SEGMENT_SECONDS", "120")
	t.Setenv("FFMPEG_PATH", "/usr/local/bin/ffmpeg")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr() != ":7000" {
		t.Errorf("expected listen addr override, got %s", cfg.Server.Addr())
	}
	if cfg.Recording.OutputDir != "/tmp/rec" || cfg.Recording.SegmentDuration != 120 {
		t.Errorf("unexpected recording overrides %+v", cfg.Recording)
	}
	if cfg.FFmpeg.Path != "/usr/local/bin/ffmpeg" || cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("unexpected overrides %+v %+v", cfg.FFmpeg, cfg.NATS)
	}
}

func TestEnvOverrideInvalidNumber(t *testing.T) {
	t.Setenv("RECORDER_SEGMENT_SECONDS", "ten")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for non-numeric segment seconds")
	}
}

func TestValidate(t *testing.T) {
	path := writeFile(t, `
recording:
  output_dir: ""
  segment_duration: 0
cameras:
  - id: a
  - id: a
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"output_dir", "segment_duration", "duplicate camera"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestLoadMalformed(t *testing.T) {
	path := writeFile(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
