package capture

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestCaptureArgsRTSP(t *testing.T) {
	f := NewFFmpeg(DefaultOptions(), zap.NewNop())
	args := f.CaptureArgs(Request{
		InputURI:   "rtsp://10.0.0.5:554/stream1",
		OutputPath: "/rec/cam1/cam1_20240101_120000_recording.mp4",
		Duration:   10 * time.Minute,
	})

	checks := map[string]string{
		"-rtsp_transport": "tcp",
		"-timeout":        "10000000",
		"-i":              "rtsp://10.0.0.5:554/stream1",
		"-c:v":            "copy",
		"-c:a":            "copy",
		"-t":              "600.000",
		"-movflags":       "+faststart+frag_keyframe+empty_moov",
		"-y":              "/rec/cam1/cam1_20240101_120000_recording.mp4",
	}
	for flag, want := range checks {
		got, ok := argValue(args, flag)
		if !ok || got != want {
			t.Errorf("%s: expected %q, got %q", flag, want, got)
		}
	}
	if _, ok := argValue(args, "-reconnect"); ok {
		t.Error("rtsp input must not carry http reconnect flags")
	}
	if args[len(args)-1] != "/rec/cam1/cam1_20240101_120000_recording.mp4" {
		t.Error("output path must be the last argument")
	}
}

func TestCaptureArgsHTTP(t *testing.T) {
	f := NewFFmpeg(DefaultOptions(), zap.NewNop())
	args := f.CaptureArgs(Request{InputURI: "https://cam.example/live.m3u8", OutputPath: "out.mp4", Duration: time.Minute})

	if v, ok := argValue(args, "-reconnect_delay_max"); !ok || v != "5" {
		t.Errorf("expected reconnect_delay_max 5, got %q", v)
	}
	if _, ok := argValue(args, "-rtsp_transport"); ok {
		t.Error("http input must not carry rtsp flags")
	}
}

func TestParseDuration(t *testing.T) {
	out := `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'x.mp4':
  Duration: 00:10:00.52, start: 0.000000, bitrate: 2048 kb/s
  Stream #0:0: Video: h264`
	d, err := ParseDuration(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := 10*time.Minute + 520*time.Millisecond
	if d != want {
		t.Errorf("expected %s, got %s", want, d)
	}

	if _, err := ParseDuration("Duration: N/A, bitrate: N/A"); !errors.Is(err, ErrNoDuration) {
		t.Errorf("expected ErrNoDuration, got %v", err)
	}
	if d, _ := ParseDuration("  Duration: 01:02:03.00,"); d != time.Hour+2*time.Minute+3*time.Second {
		t.Errorf("unexpected hour parse %s", d)
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.txt")
	inputs := []string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "it's.mp4")}

	if err := WriteConcatList(list, inputs); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "file '"+inputs[0]+"'" {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], `it'\''s.mp4`) {
		t.Errorf("expected escaped quote, got %q", lines[1])
	}
}

func TestCheckMissingBinary(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = filepath.Join(t.TempDir(), "no-such-ffmpeg")
	f := NewFFmpeg(opts, zap.NewNop())

	if _, err := f.Check(context.Background()); err == nil {
		t.Error("expected error for missing binary")
	}
	if _, err := f.StartCapture(context.Background(), Request{InputURI: "rtsp://x", OutputPath: "y"}); err == nil {
		t.Error("expected start error for missing binary")
	}
}

func TestCheckInstalled(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	f := NewFFmpeg(DefaultOptions(), zap.NewNop())
	line, err := f.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.HasPrefix(line, "ffmpeg version") {
		t.Errorf("unexpected version line %q", line)
	}
}
