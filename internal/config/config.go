package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, read from YAML and overridden by env.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Recording RecordingConfig `yaml:"recording"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Logging   LoggingConfig   `yaml:"logging"`
	NATS      NATSConfig      `yaml:"nats"`
	Cameras   []CameraConfig  `yaml:"cameras"`

	// Path is the file the config was read from. Camera changes are written back to it.
	Path string `yaml:"-"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ListenAddr overrides Host and Port when set.
	ListenAddr  string   `yaml:"listen_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns the address the HTTP server listens on.
func (s ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RecordingConfig holds segment, retention and recorder loop settings.
// Durations are whole seconds.
type RecordingConfig struct {
	OutputDir        string `yaml:"output_dir"`
	SegmentDuration  int    `yaml:"segment_duration"`
	Extension        string `yaml:"extension"`
	RetentionDays    int    `yaml:"retention_days"`
	EnableAutoDelete bool   `yaml:"enable_auto_delete"`
	CheckInterval    int    `yaml:"check_interval"`
	AutoStart        bool   `yaml:"auto_start"`

	MinSegmentBytes      int64 `yaml:"min_segment_bytes"`
	MaxConsecutiveErrors int   `yaml:"max_consecutive_errors"`
	RetryDelay           int   `yaml:"retry_delay"`
	MaxRetryDelay        int   `yaml:"max_retry_delay"`
	ErrorResetThreshold  int   `yaml:"error_reset_threshold"`
	ContinuityTolerance  int   `yaml:"continuity_tolerance"`
	StopTimeout          int   `yaml:"stop_timeout"`
	SplitTimeout         int   `yaml:"split_timeout"`
	SplitWindow          int   `yaml:"split_window"`
	SplitWait            int   `yaml:"split_wait"`
	VerifyTolerated      bool  `yaml:"verify_tolerated"`
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Retention returns the age after which segments are deleted.
func (r RecordingConfig) Retention() time.Duration {
	return time.Duration(r.RetentionDays) * 24 * time.Hour
}

type FFmpegConfig struct {
	Path              string `yaml:"path"`
	RTSPTransport     string `yaml:"rtsp_transport"`
	Timeout           int    `yaml:"timeout"`
	ProbeSize         int    `yaml:"probe_size"`
	ReconnectDelayMax int    `yaml:"reconnect_delay_max"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// CameraConfig is a camera entry as stored in the config file.
// A missing enabled key means enabled.
type CameraConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	RTSPURL string `yaml:"rtsp_url"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (c CameraConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"*"},
		},
		Recording: RecordingConfig{
			OutputDir:            "recordings",
			SegmentDuration:      600,
			Extension:            "mp4",
			RetentionDays:        7,
			EnableAutoDelete:     true,
			CheckInterval:        3600,
			AutoStart:            true,
			MinSegmentBytes:      1024,
			MaxConsecutiveErrors: 10,
			RetryDelay:           10,
			MaxRetryDelay:        60,
			ErrorResetThreshold:  60,
			ContinuityTolerance:  30,
			StopTimeout:          10,
			SplitTimeout:         5,
			SplitWindow:          5,
			SplitWait:            10,
		},
		FFmpeg: FFmpegConfig{
			Path:              "ffmpeg",
			RTSPTransport:     "tcp",
			Timeout:           10,
			ProbeSize:         10000000,
			ReconnectDelayMax: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		NATS: NATSConfig{
			SubjectPrefix: "recorder",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies env
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.Path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.ListenAddr = getEnv("RECORDER_LISTEN_ADDR", c.Server.ListenAddr)
	c.Recording.OutputDir = getEnv("RECORDER_OUTPUT_DIR", c.Recording.OutputDir)
	c.FFmpeg.Path = getEnv("FFMPEG_PATH", c.FFmpeg.Path)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Token = getEnv("NATS_TOKEN", c.NATS.Token)

	if v := os.Getenv("RECORDER_SEGMENT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECORDER_SEGMENT_SECONDS: %w", err)
		}
		c.Recording.SegmentDuration = n
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs error
	if c.Recording.OutputDir == "" {
		errs = multierr.Append(errs, errors.New("recording.output_dir is required"))
	}
	positive := map[string]int{
		"recording.segment_duration":       c.Recording.SegmentDuration,
		"recording.max_consecutive_errors": c.Recording.MaxConsecutiveErrors,
		"recording.retry_delay":            c.Recording.RetryDelay,
		"recording.max_retry_delay":        c.Recording.MaxRetryDelay,
		"recording.stop_timeout":           c.Recording.StopTimeout,
		"recording.split_timeout":          c.Recording.SplitTimeout,
		"recording.split_wait":             c.Recording.SplitWait,
		"recording.check_interval":         c.Recording.CheckInterval,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.Recording.RetentionDays < 0 {
		errs = multierr.Append(errs, fmt.Errorf("recording.retention_days must not be negative"))
	}
	if c.Server.ListenAddr == "" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = multierr.Append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	seen := make(map[string]bool)
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			errs = multierr.Append(errs, errors.New("camera without id"))
			continue
		}
		if seen[cam.ID] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate camera id %q", cam.ID))
		}
		seen[cam.ID] = true
	}
	return errs
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
