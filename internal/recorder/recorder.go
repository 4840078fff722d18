package recorder

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/capture"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

// State is the lifecycle state of a Recorder.
type State string

// State constants for the recorder lifecycle.
const (
	StateStopped   State = "stopped"
	StateStarting  State = "starting"
	StateCapturing State = "capturing"
	StateStopping  State = "stopping"
	StateFailed    State = "failed"
)

// Source identifies the camera a Recorder captures.
type Source struct {
	ID  string
	URI string
}

// Prober reads the playable duration of a media file.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// Hooks are invoked from the control loop. They must not block for long.
type Hooks struct {
	// OnSegment is called after a segment is renamed to its final name.
	OnSegment func(seg segment.Segment, size int64)
	// OnFailed is called once when the recorder gives up.
	OnFailed func(st Status)
}

// SplitResult reports the segment closed by a forced split.
type SplitResult struct {
	Segment   segment.Segment
	Finalized bool
}

// Status is a point-in-time snapshot of a recorder.
type Status struct {
	CameraID          string     `json:"camera_id"`
	State             State      `json:"state"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	SuccessSeconds    float64    `json:"success_seconds"`
	LastSuccess       *time.Time `json:"last_success,omitempty"`
	CurrentFile       string     `json:"current_file,omitempty"`
	Segments          int        `json:"segments_recorded"`
	LastError         string     `json:"last_error,omitempty"`
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now for segment timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithProber enables duration probing of tolerated files.
func WithProber(p Prober) Option {
	return func(r *Recorder) { r.prober = p }
}

// WithHooks registers lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(r *Recorder) { r.hooks = h }
}

type commandKind int

const (
	cmdStop commandKind = iota
	cmdSplit
)

type command struct {
	kind  commandKind
	reply chan splitReply
}

type splitReply struct {
	delivered bool
	done      <-chan SplitResult
}

// Recorder supervises the capture process of one source, cutting its stream
// into consecutive segment files. A single goroutine owns the process; Stop
// and ForceSplit talk to it over a channel.
type Recorder struct {
	source Source
	layout segment.Layout
	cfg    Config
	engine capture.Engine
	prober Prober
	hooks  Hooks
	logger *zap.Logger
	now    func() time.Time
	rename func(oldpath, newpath string) error

	mu                sync.Mutex
	state             State
	cmds              chan command
	done              chan struct{}
	cancel            context.CancelFunc
	consecutiveErrors int
	successRun        time.Duration
	lastSuccess       time.Time
	current           string
	segments          int
	lastError         string
}

// New creates a stopped recorder.
func New(src Source, layout segment.Layout, cfg Config, engine capture.Engine,
	logger *zap.Logger, opts ...Option) *Recorder {

	r := &Recorder{
		source: src,
		layout: layout,
		cfg:    cfg.withDefaults(),
		engine: engine,
		logger: logger.With(zap.String("cameraId", src.ID)),
		now:    time.Now,
		rename: os.Rename,
		state:  StateStopped,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the source id.
func (r *Recorder) ID() string {
	return r.source.ID
}

// Start launches the control loop. It returns false when a loop is already running.
func (r *Recorder) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loopAliveLocked() {
		r.logger.Warn("recorder already running")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cmds = make(chan command)
	r.done = make(chan struct{})
	r.cancel = cancel
	r.state = StateStarting
	r.consecutiveErrors = 0
	r.successRun = 0
	r.lastSuccess = time.Time{}
	r.lastError = ""

	go r.run(ctx, cancel, r.cmds, r.done)
	return true
}

// Stop asks the capture process to finish its current segment and waits for
// the control loop to exit. The in-progress segment is finalized when usable.
// If ctx expires first, the loop is cancelled and Stop returns the context error.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	cmds, done, cancel := r.cmds, r.done, r.cancel
	if done == nil {
		r.mu.Unlock()
		return nil
	}
	select {
	case <-done:
		r.state = StateStopped
		r.mu.Unlock()
		return nil
	default:
	}
	r.state = StateStopping
	r.mu.Unlock()

	r.logger.Info("stopping recorder")

	select {
	case cmds <- command{kind: cmdStop}:
	case <-done:
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("stopping recorder %s: %w", r.source.ID, ctx.Err())
	}

	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("stopping recorder %s: %w", r.source.ID, ctx.Err())
	}

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	return nil
}

// ForceSplit ends the current segment early so it becomes available to
// queries. It reports whether the process was signalled; the channel, when
// non-nil, receives the closed segment once it has been finalized or discarded.
// Only a Capturing recorder can be split.
func (r *Recorder) ForceSplit() (bool, <-chan SplitResult) {
	r.mu.Lock()
	cmds, done, state := r.cmds, r.done, r.state
	r.mu.Unlock()

	if state != StateCapturing {
		return false, nil
	}

	reply := make(chan splitReply, 1)
	select {
	case cmds <- command{kind: cmdSplit, reply: reply}:
	case <-done:
		return false, nil
	}
	rep := <-reply
	return rep.delivered, rep.done
}

// Running reports whether the recorder is starting or capturing.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateStarting || r.state == StateCapturing
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the control loop exits.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Status returns a snapshot of the recorder.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		CameraID:          r.source.ID,
		State:             r.state,
		ConsecutiveErrors: r.consecutiveErrors,
		SuccessSeconds:    r.successRun.Seconds(),
		CurrentFile:       r.current,
		Segments:          r.segments,
		LastError:         r.lastError,
	}
	if !r.lastSuccess.IsZero() {
		t := r.lastSuccess
		st.LastSuccess = &t
	}
	return st
}

func (r *Recorder) loopAliveLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
