package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/metrics"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

// Result summarises one sweep.
type Result struct {
	Files    int   `json:"files"`
	Bytes    int64 `json:"bytes"`
	Sessions int   `json:"sessions"`
}

// Sweeper deletes segment files and session directories older than the
// retention period and drops deleted segments from the index.
type Sweeper struct {
	layout    segment.Layout
	retention time.Duration
	index     *segment.Index
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a sweeper. index may be nil.
func New(layout segment.Layout, retention time.Duration, index *segment.Index, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		layout:    layout,
		retention: retention,
		index:     index,
		logger:    logger,
		now:       time.Now,
	}
}

// Sweep runs one retention pass. Files are aged by modification time.
// Individual failures are collected and do not stop the pass.
func (s *Sweeper) Sweep() (Result, error) {
	var res Result
	cutoff := s.now().Add(-s.retention)

	entries, err := os.ReadDir(s.layout.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("reading %s: %w", s.layout.Root, err)
	}

	var errs error
	ext := "." + s.layout.Extension()
	sessionsDir := s.layout.SessionsDir()

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.layout.Root, e.Name())
		if dir == sessionsDir {
			n, err := s.sweepSessions(dir, cutoff)
			res.Sessions += n
			errs = multierr.Append(errs, err)
			continue
		}

		files, err := os.ReadDir(dir)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ext {
				continue
			}
			info, err := f.Info()
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, f.Name())
			if err := os.Remove(path); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("removing %s: %w", path, err))
				continue
			}
			if s.index != nil {
				s.index.Remove(path)
			}
			res.Files++
			res.Bytes += info.Size()
			s.logger.Info("deleted old recording",
				zap.String("file", f.Name()),
				zap.Time("modified", info.ModTime()))
		}
	}

	metrics.RetentionDeletedTotal.WithLabelValues("file").Add(float64(res.Files))
	metrics.RetentionDeletedTotal.WithLabelValues("session").Add(float64(res.Sessions))
	metrics.RetentionBytesTotal.Add(float64(res.Bytes))
	if s.index != nil {
		metrics.IndexedSegments.Set(float64(s.index.Len()))
	}

	if res.Files > 0 || res.Sessions > 0 {
		s.logger.Info("retention sweep complete",
			zap.Int("files", res.Files),
			zap.Int64("bytes", res.Bytes),
			zap.Int("sessions", res.Sessions))
	}
	return res, errs
}

func (s *Sweeper) sweepSessions(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var errs error
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("removing %s: %w", path, err))
			continue
		}
		n++
		s.logger.Info("deleted old session", zap.String("session", e.Name()))
	}
	return n, errs
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.logger.Info("retention sweeper started",
		zap.Duration("retention", s.retention),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(); err != nil {
			s.logger.Error("retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
