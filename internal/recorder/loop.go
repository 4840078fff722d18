package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/capture"
	"github.com/RenatoCabral2022/segment-recorder/internal/metrics"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

// probeTimeout bounds the duration probe of a tolerated file.
const probeTimeout = 30 * time.Second

type outcome struct {
	ok     bool
	stop   bool
	status capture.ExitStatus
}

func (r *Recorder) run(ctx context.Context, cancel context.CancelFunc, cmds <-chan command, done chan<- struct{}) {
	defer close(done)
	defer cancel()

	metrics.ActiveRecorders.Inc()
	defer metrics.ActiveRecorders.Dec()

	r.logger.Info("recorder started",
		zap.String("source", capture.RedactURI(r.source.URI)),
		zap.Duration("segmentDuration", r.cfg.SegmentDuration))

	for {
		out := r.captureSegment(ctx, cmds)
		if out.stop {
			r.finish(StateStopped)
			return
		}
		if out.ok {
			continue
		}

		errs := r.recordFailure(out.status)
		if errs >= r.cfg.MaxConsecutiveErrors {
			r.logger.Error("too many consecutive errors, giving up",
				zap.Int("consecutiveErrors", errs))
			r.finish(StateFailed)
			metrics.RecordersFailedTotal.Inc()
			if r.hooks.OnFailed != nil {
				r.hooks.OnFailed(r.Status())
			}
			return
		}

		delay := r.cfg.retryDelay(errs)
		r.logger.Warn("capture failed, retrying",
			zap.Int("consecutiveErrors", errs),
			zap.Duration("retryIn", delay))
		if r.wait(ctx, cmds, delay) {
			r.finish(StateStopped)
			return
		}
	}
}

// captureSegment runs one capture process to completion and finalizes its output.
func (r *Recorder) captureSegment(ctx context.Context, cmds <-chan command) outcome {
	start := r.now()
	tmp := r.layout.TempPath(r.source.ID, start)

	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return outcome{status: capture.ExitStatus{Code: -1, Err: err}}
	}

	proc, err := r.engine.StartCapture(ctx, capture.Request{
		InputURI:   r.source.URI,
		OutputPath: tmp,
		Duration:   r.cfg.SegmentDuration,
	})
	if err != nil {
		return outcome{status: capture.ExitStatus{Code: -1, Err: err}}
	}

	r.setCapturing(tmp)
	r.logger.Info("segment capture started",
		zap.String("file", filepath.Base(tmp)),
		zap.Int("pid", proc.Pid()))

	exited := make(chan capture.ExitStatus, 1)
	go func() {
		exited <- proc.Wait()
	}()

	var (
		status    capture.ExitStatus
		stopping  bool
		forced    bool
		waiters   []chan SplitResult
		kill      <-chan time.Time
		cancelled = ctx.Done()
	)

wait:
	for {
		select {
		case status = <-exited:
			break wait

		case cmd := <-cmds:
			switch cmd.kind {
			case cmdStop:
				if !stopping {
					stopping = true
					r.terminate(proc, "stop")
					kill = time.After(r.cfg.StopTimeout)
				}
			case cmdSplit:
				if stopping {
					cmd.reply <- splitReply{}
					continue
				}
				ch := make(chan SplitResult, 1)
				waiters = append(waiters, ch)
				if !forced {
					forced = true
					metrics.ForcedSplitsTotal.WithLabelValues("signalled").Inc()
					r.terminate(proc, "split")
					kill = time.After(r.cfg.SplitTimeout)
				}
				cmd.reply <- splitReply{delivered: true, done: ch}
			}

		case <-cancelled:
			cancelled = nil
			if !stopping {
				stopping = true
				r.terminate(proc, "cancel")
				kill = time.After(r.cfg.StopTimeout)
			}

		case <-kill:
			kill = nil
			r.logger.Warn("capture process did not exit in time, killing", zap.Int("pid", proc.Pid()))
			if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				r.logger.Error("kill failed", zap.Int("pid", proc.Pid()), zap.Error(err))
			}
		}
	}
	end := r.now()

	size, exists := fileSize(tmp)
	clean := status.Clean()
	usable := clean || forced || (exists && size > r.cfg.MinSegmentBytes)

	if usable && !clean && !forced && r.cfg.VerifyTolerated && r.prober != nil {
		pctx, pcancel := context.WithTimeout(context.Background(), probeTimeout)
		d, err := r.prober.ProbeDuration(pctx, tmp)
		pcancel()
		if err != nil || d <= 0 {
			r.logger.Warn("tolerated segment is not readable, discarding",
				zap.String("file", filepath.Base(tmp)),
				zap.Int("exitCode", status.Code),
				zap.Error(err))
			usable = false
		}
	}

	if !usable {
		if exists {
			r.discard(tmp, size)
		}
		r.clearCurrent()
		resolve(waiters, SplitResult{})
		if !stopping {
			r.logger.Error("capture failed",
				zap.String("file", filepath.Base(tmp)),
				zap.Int("exitCode", status.Code),
				zap.Error(status.Err),
				zap.Strings("stderr", status.Diagnostics))
		}
		return outcome{stop: stopping, status: status}
	}

	if !clean && !forced && !stopping {
		r.logger.Warn("capture exited with error but produced a usable file",
			zap.String("file", filepath.Base(tmp)),
			zap.Int("exitCode", status.Code),
			zap.Int64("size", size))
	}

	r.noteSuccess(start, end)
	seg, ok := r.finalize(tmp, start, end, size, exists)
	resolve(waiters, SplitResult{Segment: seg, Finalized: ok})
	return outcome{ok: true, stop: stopping}
}

// finalize renames the temporary file to its final name, or deletes it when
// it is too small to hold media.
func (r *Recorder) finalize(tmp string, start, end time.Time, size int64, exists bool) (segment.Segment, bool) {
	defer r.clearCurrent()

	if !exists {
		r.logger.Warn("temporary file missing after capture", zap.String("file", filepath.Base(tmp)))
		return segment.Segment{}, false
	}
	if size <= r.cfg.MinSegmentBytes {
		r.discard(tmp, size)
		return segment.Segment{}, false
	}

	final := r.layout.FreeFinalPath(r.source.ID, start, end)
	if final != r.layout.FinalPath(r.source.ID, start, end) {
		r.logger.Warn("final name taken, using suffixed name", zap.String("file", filepath.Base(final)))
	}
	if err := r.rename(tmp, final); err != nil {
		r.logger.Error("renaming segment failed",
			zap.String("from", filepath.Base(tmp)),
			zap.String("to", filepath.Base(final)),
			zap.Error(err))
		return segment.Segment{}, false
	}

	seg := segment.Segment{
		SourceID: r.source.ID,
		Path:     final,
		Start:    start,
		End:      end,
		Kind:     segment.KindFinal,
	}

	r.mu.Lock()
	r.segments++
	r.mu.Unlock()

	metrics.SegmentsFinalizedTotal.WithLabelValues(r.source.ID).Inc()
	metrics.SegmentDurationSeconds.Observe(seg.Duration().Seconds())
	r.logger.Info("segment finalized",
		zap.String("file", seg.Filename()),
		zap.Int64("size", size),
		zap.Duration("duration", seg.Duration()))

	if r.hooks.OnSegment != nil {
		r.hooks.OnSegment(seg, size)
	}
	return seg, true
}

func (r *Recorder) discard(path string, size int64) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Error("removing undersized file failed", zap.String("file", filepath.Base(path)), zap.Error(err))
		return
	}
	metrics.SegmentsDiscardedTotal.WithLabelValues(r.source.ID).Inc()
	r.logger.Warn("discarded undersized file",
		zap.String("file", filepath.Base(path)),
		zap.Int64("size", size))
}

// noteSuccess extends the continuous-success run and clears the error counter
// once the run exceeds the reset threshold.
func (r *Recorder) noteSuccess(start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := end.Sub(start)
	if !r.lastSuccess.IsZero() && start.Sub(r.lastSuccess) <= r.cfg.ContinuityTolerance {
		r.successRun += d
	} else {
		r.successRun = d
	}
	r.lastSuccess = end

	if r.successRun > r.cfg.ErrorResetThreshold {
		if r.consecutiveErrors > 0 {
			r.logger.Info("error counter reset after sustained success",
				zap.Int("previousErrors", r.consecutiveErrors),
				zap.Duration("successRun", r.successRun))
		}
		r.consecutiveErrors = 0
		r.successRun = 0
	}
	metrics.ConsecutiveErrors.WithLabelValues(r.source.ID).Set(float64(r.consecutiveErrors))
}

func (r *Recorder) recordFailure(st capture.ExitStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors++
	r.lastError = describe(st)
	if r.state == StateCapturing {
		r.state = StateStarting
	}

	metrics.CaptureFailuresTotal.WithLabelValues(r.source.ID).Inc()
	metrics.ConsecutiveErrors.WithLabelValues(r.source.ID).Set(float64(r.consecutiveErrors))
	return r.consecutiveErrors
}

// wait sleeps for d between attempts. It returns true when a stop arrived.
func (r *Recorder) wait(ctx context.Context, cmds <-chan command, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return false
		case <-ctx.Done():
			return true
		case cmd := <-cmds:
			if cmd.kind == cmdStop {
				return true
			}
			cmd.reply <- splitReply{}
		}
	}
}

func (r *Recorder) terminate(proc capture.Process, reason string) {
	err := proc.Terminate()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("terminate failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	r.logger.Debug("capture process signalled", zap.String("reason", reason), zap.Int("pid", proc.Pid()))
}

func (r *Recorder) setCapturing(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = path
	if r.state == StateStarting {
		r.state = StateCapturing
	}
}

func (r *Recorder) clearCurrent() {
	r.mu.Lock()
	r.current = ""
	r.mu.Unlock()
}

func (r *Recorder) finish(state State) {
	r.mu.Lock()
	r.state = state
	r.current = ""
	errs := r.consecutiveErrors
	r.mu.Unlock()

	r.logger.Info("recorder exited", zap.String("state", string(state)), zap.Int("consecutiveErrors", errs))
}

func resolve(waiters []chan SplitResult, res SplitResult) {
	for _, w := range waiters {
		w <- res
	}
}

func describe(st capture.ExitStatus) string {
	switch {
	case st.Err != nil:
		return st.Err.Error()
	case len(st.Diagnostics) > 0:
		return st.Diagnostics[len(st.Diagnostics)-1]
	default:
		return fmt.Sprintf("capture exited with code %d", st.Code)
	}
}

func fileSize(path string) (int64, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}
