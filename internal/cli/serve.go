package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/api"
	"github.com/RenatoCabral2022/segment-recorder/internal/config"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording daemon and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(deps)
		},
	}
}

func serve(deps *Dependencies) error {
	cfg := deps.Config
	logger := deps.Logger

	a, err := deps.Build(true)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("segment recorder starting",
		zap.String("listen", cfg.Server.Addr()),
		zap.String("outputDir", a.Layout.Root),
		zap.Int("segmentSeconds", cfg.Recording.SegmentDuration),
		zap.Int("cameras", len(a.Registry.List())),
		zap.Int("indexedSegments", a.Index.Len()))

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 10*time.Second)
	version, err := a.FFmpeg.Check(checkCtx)
	checkCancel()
	if err != nil {
		logger.Error("ffmpeg is not available, captures will fail", zap.Error(err))
	} else {
		logger.Info("ffmpeg found", zap.String("version", version))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Recording.EnableAutoDelete && cfg.Recording.RetentionDays > 0 {
		go a.Sweeper.Run(ctx, config.Seconds(cfg.Recording.CheckInterval))
	}

	if cfg.Recording.AutoStart {
		a.Coordinator.AutoStart()
	}

	h := api.NewHandlers(a.Registry, a.Coordinator, a.Index, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     api.NewRouter(h, cfg.Server.CORSOrigins, logger.Named("http")),
		ReadTimeout: 10 * time.Second,
		// Queries may crop and merge several segments.
		WriteTimeout: 5 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err = <-serveErr:
		logger.Error("HTTP API failed", zap.Error(err))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	srv.Shutdown(shutdownCtx)
	shutdownCancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(),
		config.Seconds(cfg.Recording.StopTimeout)+10*time.Second)
	defer stopCancel()
	if stopErr := a.Coordinator.StopAll(stopCtx); stopErr != nil {
		logger.Error("some recorders did not stop cleanly", zap.Error(stopErr))
	}

	logger.Info("segment recorder stopped")
	return err
}
