package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RenatoCabral2022/segment-recorder/internal/capture"
	"github.com/RenatoCabral2022/segment-recorder/internal/events"
	"github.com/RenatoCabral2022/segment-recorder/internal/metrics"
	"github.com/RenatoCabral2022/segment-recorder/internal/recorder"
	"github.com/RenatoCabral2022/segment-recorder/internal/registry"
	"github.com/RenatoCabral2022/segment-recorder/internal/retrieval"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

var (
	ErrSourceNotFound = errors.New("camera not found")
	ErrSourceDisabled = errors.New("camera is disabled")
	ErrInvalidWindow  = errors.New("start time must not be after end time")
	ErrSourceStopping = errors.New("camera is still stopping")
)

// Sources is the read side of the camera registry.
type Sources interface {
	Get(id string) (registry.Camera, bool)
	List() []registry.Camera
}

// Processor provides the video operations a query needs.
type Processor interface {
	retrieval.Extractor
	retrieval.Concatenator
	recorder.Prober
}

// Config holds the coordinator settings.
type Config struct {
	Layout   segment.Layout
	Recorder recorder.Config
	// SplitWindow is how close a query end must be to now to force a split.
	SplitWindow time.Duration
	// SplitWait bounds how long a query waits for the split segment.
	SplitWait time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now for the coordinator and its recorders.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns one Recorder per recording camera and answers queries
// against the segment index.
type Coordinator struct {
	cfg       Config
	sources   Sources
	engine    capture.Engine
	processor Processor
	index     *segment.Index
	events    events.Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	recorders map[string]*recorder.Recorder
}

// New creates a coordinator. publisher may be nil.
func New(cfg Config, sources Sources, engine capture.Engine, processor Processor,
	index *segment.Index, publisher events.Publisher, logger *zap.Logger, opts ...Option) *Coordinator {

	if cfg.SplitWindow <= 0 {
		cfg.SplitWindow = 5 * time.Second
	}
	if cfg.SplitWait <= 0 {
		cfg.SplitWait = 10 * time.Second
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	c := &Coordinator{
		cfg:       cfg,
		sources:   sources,
		engine:    engine,
		processor: processor,
		index:     index,
		events:    publisher,
		logger:    logger,
		now:       time.Now,
		recorders: make(map[string]*recorder.Recorder),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRecording starts capturing a camera. It is a no-op when the camera is
// already recording and fails with ErrSourceStopping while a stop is still
// finalizing. A failed or stopped recorder is replaced by a fresh one.
func (c *Coordinator) StartRecording(id string) error {
	cam, ok := c.sources.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if !cam.Enabled {
		return fmt.Errorf("%w: %s", ErrSourceDisabled, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.recorders[id]; ok {
		if rec.Running() {
			c.logger.Warn("camera already recording", zap.String("cameraId", id))
			return nil
		}
		if loopAlive(rec) {
			return fmt.Errorf("%w: %s", ErrSourceStopping, id)
		}
	}

	rec := recorder.New(
		recorder.Source{ID: cam.ID, URI: cam.RTSPURL},
		c.cfg.Layout, c.cfg.Recorder, c.engine, c.logger,
		recorder.WithClock(c.now),
		recorder.WithProber(c.processor),
		recorder.WithHooks(recorder.Hooks{
			OnSegment: c.onSegment,
			OnFailed:  c.onFailed,
		}),
	)
	rec.Start()
	c.recorders[id] = rec

	c.publish(events.SubjectRecorderStarted, events.NewRecorderEvent(id, string(recorder.StateStarting)))
	c.logger.Info("recording started", zap.String("cameraId", id))
	return nil
}

// StopResult describes the segments a camera has on disk when it was stopped.
type StopResult struct {
	CameraID     string         `json:"camera_id"`
	WasRecording bool           `json:"was_recording"`
	Files        []segment.Info `json:"files"`
	TotalFiles   int            `json:"total_files"`
	TotalSize    int64          `json:"total_size"`
}

// StopRecording stops a camera's recorder and waits for it to finalize its
// current segment.
func (c *Coordinator) StopRecording(ctx context.Context, id string) (StopResult, error) {
	if _, ok := c.sources.Get(id); !ok {
		c.mu.Lock()
		_, known := c.recorders[id]
		c.mu.Unlock()
		if !known {
			return StopResult{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
		}
	}

	// The recorder stays registered until its loop has exited so a concurrent
	// StartRecording cannot launch a second capture process for the camera.
	c.mu.Lock()
	rec, ok := c.recorders[id]
	c.mu.Unlock()

	res := StopResult{CameraID: id, Files: []segment.Info{}}
	if !ok {
		return res, nil
	}
	res.WasRecording = true

	err := rec.Stop(ctx)

	c.mu.Lock()
	if c.recorders[id] == rec && !loopAlive(rec) {
		delete(c.recorders, id)
	}
	c.mu.Unlock()

	res.Files = c.describe(c.index.All(id))
	res.TotalFiles = len(res.Files)
	for _, f := range res.Files {
		res.TotalSize += f.Size
	}

	st := rec.Status()
	ev := events.NewRecorderEvent(id, string(recorder.StateStopped))
	ev.Segments = st.Segments
	c.publish(events.SubjectRecorderStopped, ev)

	if err != nil {
		return res, err
	}
	c.logger.Info("recording stopped",
		zap.String("cameraId", id),
		zap.Int("segments", st.Segments),
		zap.Int("totalFiles", res.TotalFiles))
	return res, nil
}

// QueryOptions tune a query.
type QueryOptions struct {
	// Merge concatenates the clips into one file.
	Merge bool
}

// QueryResult is the answer to a time-window query.
type QueryResult struct {
	CameraID  string           `json:"camera_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Files     []retrieval.Clip `json:"files"`
	Merged    *retrieval.Clip  `json:"merged,omitempty"`
}

// Query returns the footage of a camera between start and end. When end is
// close to now and the camera is capturing, the current segment is split
// first so the latest footage is included.
func (c *Coordinator) Query(ctx context.Context, id string, start, end time.Time, opts QueryOptions) (QueryResult, error) {
	if _, ok := c.sources.Get(id); !ok {
		metrics.QueriesTotal.WithLabelValues("not_found").Inc()
		return QueryResult{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if start.After(end) {
		metrics.QueriesTotal.WithLabelValues("invalid").Inc()
		return QueryResult{}, ErrInvalidWindow
	}

	began := time.Now()
	defer func() {
		metrics.QueryDurationSeconds.Observe(time.Since(began).Seconds())
	}()

	logger := c.logger.With(zap.String("cameraId", id), zap.Time("start", start), zap.Time("end", end))

	if gap := end.Sub(c.now()); gap < c.cfg.SplitWindow && gap > -c.cfg.SplitWindow {
		c.mu.Lock()
		rec := c.recorders[id]
		c.mu.Unlock()
		if rec != nil && rec.State() == recorder.StateCapturing {
			c.awaitSplit(ctx, rec, logger)
		}
	}

	res := QueryResult{CameraID: id, StartTime: start, EndTime: end, Files: []retrieval.Clip{}}

	segs := c.index.Overlapping(id, start, end)
	if len(segs) == 0 {
		logger.Info("no segments in window")
		metrics.QueriesTotal.WithLabelValues("empty").Inc()
		return res, nil
	}

	sess := retrieval.New(c.cfg.Layout, id, start, end, segs, c.logger)
	clips, err := sess.Materialize(ctx, c.processor)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("query %s: %w", id, err)
	}
	res.Files = clips

	if opts.Merge && len(clips) > 0 {
		merged, err := sess.Merge(ctx, c.processor, clips)
		if err != nil {
			logger.Error("merging clips failed", zap.Error(err))
		} else {
			res.Merged = &merged
		}
	}

	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	return res, nil
}

func (c *Coordinator) awaitSplit(ctx context.Context, rec *recorder.Recorder, logger *zap.Logger) {
	delivered, done := rec.ForceSplit()
	if !delivered || done == nil {
		metrics.ForcedSplitsTotal.WithLabelValues("refused").Inc()
		logger.Debug("force split not delivered")
		return
	}

	timer := time.NewTimer(c.cfg.SplitWait)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.Finalized {
			metrics.ForcedSplitsTotal.WithLabelValues("finalized").Inc()
			logger.Info("split segment ready", zap.String("file", res.Segment.Filename()))
		} else {
			metrics.ForcedSplitsTotal.WithLabelValues("discarded").Inc()
		}
	case <-timer.C:
		metrics.ForcedSplitsTotal.WithLabelValues("timeout").Inc()
		logger.Warn("split segment not finalized in time, answering from disk",
			zap.Duration("waited", c.cfg.SplitWait))
	case <-ctx.Done():
	}
}

// ListSegments returns the indexed segments of a camera, optionally limited
// to those overlapping [start, end].
func (c *Coordinator) ListSegments(id string, start, end *time.Time) ([]segment.Info, error) {
	if _, ok := c.sources.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	segs := c.index.All(id)
	if start != nil || end != nil {
		lo, hi := time.Time{}, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
		if start != nil {
			lo = *start
		}
		if end != nil {
			hi = *end
		}
		if lo.After(hi) {
			return nil, ErrInvalidWindow
		}
		segs = segment.Filter(segs, lo, hi)
	}
	return c.describe(segs), nil
}

// IsRecording reports whether a camera's recorder is starting or capturing.
func (c *Coordinator) IsRecording(id string) bool {
	c.mu.Lock()
	rec, ok := c.recorders[id]
	c.mu.Unlock()
	return ok && rec.Running()
}

// Status returns the recorder snapshot of a camera, if it has one.
func (c *Coordinator) Status(id string) (recorder.Status, bool) {
	c.mu.Lock()
	rec, ok := c.recorders[id]
	c.mu.Unlock()
	if !ok {
		return recorder.Status{}, false
	}
	return rec.Status(), true
}

// CameraStatus is the per-camera entry of AllStatus.
type CameraStatus struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	IsRecording bool   `json:"is_recording"`
	State       string `json:"state"`
}

// AllStatus returns the status of every registered camera.
func (c *Coordinator) AllStatus() map[string]CameraStatus {
	out := make(map[string]CameraStatus)
	for _, cam := range c.sources.List() {
		st := CameraStatus{
			Name:    cam.Name,
			Enabled: cam.Enabled,
			State:   string(recorder.StateStopped),
		}
		if rs, ok := c.Status(cam.ID); ok {
			st.State = string(rs.State)
			st.IsRecording = rs.State == recorder.StateStarting || rs.State == recorder.StateCapturing
		}
		out[cam.ID] = st
	}
	return out
}

// ActiveCount returns the number of recorders starting or capturing.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, rec := range c.recorders {
		if rec.Running() {
			n++
		}
	}
	return n
}

// AutoStart starts every enabled camera and returns how many were started.
func (c *Coordinator) AutoStart() int {
	started := 0
	for _, cam := range c.sources.List() {
		if !cam.Enabled {
			continue
		}
		if err := c.StartRecording(cam.ID); err != nil {
			c.logger.Error("auto-start failed", zap.String("cameraId", cam.ID), zap.Error(err))
			continue
		}
		started++
	}
	c.logger.Info("auto-start complete", zap.Int("started", started))
	return started
}

// StopAll stops every recorder concurrently. Failures are logged and combined.
func (c *Coordinator) StopAll(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.recorders))
	for id := range c.recorders {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		stopErr error
	)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := c.StopRecording(ctx, id); err != nil {
				c.logger.Error("stopping recorder failed", zap.String("cameraId", id), zap.Error(err))
				errMu.Lock()
				stopErr = multierr.Append(stopErr, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	c.logger.Info("all recorders stopped", zap.Int("count", len(ids)))
	return stopErr
}

func (c *Coordinator) onSegment(seg segment.Segment, size int64) {
	c.index.Add(seg)
	metrics.IndexedSegments.Set(float64(c.index.Len()))
	c.publish(events.SubjectSegmentFinalized, events.NewSegmentFinalized(seg, size))
}

func (c *Coordinator) onFailed(st recorder.Status) {
	ev := events.NewRecorderEvent(st.CameraID, string(recorder.StateFailed))
	ev.ConsecutiveErrors = st.ConsecutiveErrors
	ev.LastError = st.LastError
	c.publish(events.SubjectRecorderFailed, ev)
}

func (c *Coordinator) publish(subject string, data any) {
	if err := c.events.Publish(subject, data); err != nil {
		c.logger.Warn("publishing event failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (c *Coordinator) describe(segs []segment.Segment) []segment.Info {
	out := make([]segment.Info, 0, len(segs))
	for _, s := range segs {
		info, err := segment.Describe(s)
		if err != nil {
			c.logger.Warn("indexed segment missing on disk", zap.String("file", s.Filename()), zap.Error(err))
			continue
		}
		out = append(out, info)
	}
	return out
}

func loopAlive(rec *recorder.Recorder) bool {
	select {
	case <-rec.Done():
		return false
	default:
		return true
	}
}
