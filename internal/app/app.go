package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RenatoCabral2022/segment-recorder/internal/capture"
	"github.com/RenatoCabral2022/segment-recorder/internal/config"
	"github.com/RenatoCabral2022/segment-recorder/internal/coordinator"
	"github.com/RenatoCabral2022/segment-recorder/internal/events"
	"github.com/RenatoCabral2022/segment-recorder/internal/metrics"
	"github.com/RenatoCabral2022/segment-recorder/internal/recorder"
	"github.com/RenatoCabral2022/segment-recorder/internal/registry"
	"github.com/RenatoCabral2022/segment-recorder/internal/retention"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

// App holds the wired components of the daemon.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Layout      segment.Layout
	Registry    *registry.Registry
	Index       *segment.Index
	FFmpeg      *capture.FFmpeg
	Events      events.Publisher
	Coordinator *coordinator.Coordinator
	Sweeper     *retention.Sweeper
}

// NewLogger builds a zap logger from the logging settings.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = level
	return zcfg.Build()
}

// New wires the daemon from cfg. The segment index is rebuilt from disk.
// withEvents connects the NATS publisher when a URL is configured.
func New(cfg *config.Config, logger *zap.Logger, withEvents bool) (*App, error) {
	layout := segment.Layout{
		Root:            cfg.Recording.OutputDir,
		Ext:             cfg.Recording.Extension,
		UntimedDuration: config.Seconds(cfg.Recording.SegmentDuration),
	}

	reg, err := registry.New(cfg.Path, cfg.Cameras, logger.Named("registry"))
	if err != nil {
		return nil, fmt.Errorf("loading cameras: %w", err)
	}

	index := segment.NewIndex(layout)
	if err := index.Rebuild(); err != nil {
		logger.Warn("segment index rebuilt with errors", zap.Error(err))
	}
	metrics.IndexedSegments.Set(float64(index.Len()))

	opts := capture.DefaultOptions()
	if cfg.FFmpeg.Path != "" {
		opts.Path = cfg.FFmpeg.Path
	}
	if cfg.FFmpeg.RTSPTransport != "" {
		opts.RTSPTransport = cfg.FFmpeg.RTSPTransport
	}
	if cfg.FFmpeg.Timeout > 0 {
		opts.SocketTimeout = config.Seconds(cfg.FFmpeg.Timeout)
	}
	if cfg.FFmpeg.ProbeSize > 0 {
		opts.ProbeSize = cfg.FFmpeg.ProbeSize
	}
	if cfg.FFmpeg.ReconnectDelayMax > 0 {
		opts.ReconnectDelayMax = config.Seconds(cfg.FFmpeg.ReconnectDelayMax)
	}
	if cfg.Recording.StopTimeout > 0 {
		opts.KillAfter = config.Seconds(cfg.Recording.StopTimeout)
	}
	ff := capture.NewFFmpeg(opts, logger.Named("ffmpeg"))

	var pub events.Publisher = events.Nop{}
	if withEvents && cfg.NATS.URL != "" {
		n, err := events.Connect(cfg.NATS.URL, cfg.NATS.Token, cfg.NATS.SubjectPrefix, logger.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		pub = n
	}

	rc := cfg.Recording
	coord := coordinator.New(coordinator.Config{
		Layout: layout,
		Recorder: recorder.Config{
			SegmentDuration:      config.Seconds(rc.SegmentDuration),
			MinSegmentBytes:      rc.MinSegmentBytes,
			MaxConsecutiveErrors: rc.MaxConsecutiveErrors,
			RetryDelay:           config.Seconds(rc.RetryDelay),
			MaxRetryDelay:        config.Seconds(rc.MaxRetryDelay),
			ErrorResetThreshold:  config.Seconds(rc.ErrorResetThreshold),
			ContinuityTolerance:  config.Seconds(rc.ContinuityTolerance),
			StopTimeout:          config.Seconds(rc.StopTimeout),
			SplitTimeout:         config.Seconds(rc.SplitTimeout),
			VerifyTolerated:      rc.VerifyTolerated,
		},
		SplitWindow: config.Seconds(rc.SplitWindow),
		SplitWait:   config.Seconds(rc.SplitWait),
	}, reg, ff, ff, index, pub, logger)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Layout:      layout,
		Registry:    reg,
		Index:       index,
		FFmpeg:      ff,
		Events:      pub,
		Coordinator: coord,
		Sweeper:     retention.New(layout, rc.Retention(), index, logger.Named("retention")),
	}, nil
}

// Close releases the event publisher.
func (a *App) Close() {
	a.Events.Close()
}
