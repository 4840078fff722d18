package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/capture"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
	"github.com/RenatoCabral2022/segment-recorder/internal/testutil"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)

func testConfig() Config {
	return Config{
		SegmentDuration:      time.Minute,
		MinSegmentBytes:      1024,
		MaxConsecutiveErrors: 10,
		RetryDelay:           time.Millisecond,
		MaxRetryDelay:        5 * time.Millisecond,
		ErrorResetThreshold:  60 * time.Second,
		ContinuityTolerance:  30 * time.Second,
		StopTimeout:          500 * time.Millisecond,
		SplitTimeout:         500 * time.Millisecond,
	}
}

func newTestRecorder(t *testing.T, cfg Config, engine capture.Engine, step time.Duration, opts ...Option) (*Recorder, segment.Layout) {
	t.Helper()
	layout := segment.Layout{Root: t.TempDir(), Ext: "mp4"}
	clock := testutil.NewStepClock(epoch, step)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	r := New(Source{ID: "cam1", URI: "rtsp://10.0.0.5/stream"}, layout, cfg, engine, zap.NewNop(), opts...)
	return r, layout
}

func files(t *testing.T, layout segment.Layout) (temps, finals []string) {
	t.Helper()
	entries, err := os.ReadDir(layout.SourceDir("cam1"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_recording.mp4") {
			temps = append(temps, e.Name())
		} else {
			finals = append(finals, e.Name())
		}
	}
	return temps, finals
}

func stop(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func capturing(r *Recorder) func() bool {
	return func() bool { return r.State() == StateCapturing }
}

func TestStopFinalizesInProgressSegment(t *testing.T) {
	baseline := runtime.NumGoroutine()
	engine := &capture.MockEngine{Default: capture.MockRun{Block: true, Size: 4096}}

	var got []segment.Segment
	r, layout := newTestRecorder(t, testConfig(), engine, time.Minute, WithHooks(Hooks{
		OnSegment: func(seg segment.Segment, size int64) { got = append(got, seg) },
	}))

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "capturing", capturing(r))

	temps, finals := files(t, layout)
	if len(temps) != 1 || len(finals) != 0 {
		t.Fatalf("expected exactly one temporary file while capturing, got temps=%v finals=%v", temps, finals)
	}

	stop(t, r)

	if r.State() != StateStopped {
		t.Errorf("expected stopped, got %s", r.State())
	}
	temps, finals = files(t, layout)
	if len(temps) != 0 {
		t.Errorf("expected no temporary files after stop, got %v", temps)
	}
	if len(finals) != 1 {
		t.Fatalf("expected one final segment, got %v", finals)
	}
	want := layout.FinalName("cam1", epoch, epoch.Add(time.Minute))
	if finals[0] != want {
		t.Errorf("expected %s, got %s", want, finals[0])
	}
	if len(got) != 1 || got[0].Kind != segment.KindFinal {
		t.Errorf("expected one OnSegment call, got %v", got)
	}
	if r.Status().Segments != 1 {
		t.Errorf("expected segment count 1, got %d", r.Status().Segments)
	}

	testutil.AssertNoGoroutineLeaks(t, baseline, 2)
}

func TestUndersizedSegmentDiscarded(t *testing.T) {
	engine := &capture.MockEngine{
		Runs:    []capture.MockRun{{Size: 100, ExitCode: 0}},
		Default: capture.MockRun{Block: true, Size: 4096},
	}
	r, layout := newTestRecorder(t, testConfig(), engine, time.Minute)

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "second capture", func() bool {
		return len(engine.Calls()) == 2 && r.State() == StateCapturing
	})

	temps, finals := files(t, layout)
	if len(temps) != 1 || len(finals) != 0 {
		t.Errorf("expected undersized file deleted, got temps=%v finals=%v", temps, finals)
	}
	if r.Status().ConsecutiveErrors != 0 {
		t.Errorf("clean exit must not count as an error")
	}

	stop(t, r)
	if _, finals := files(t, layout); len(finals) != 1 {
		t.Errorf("expected one final segment, got %v", finals)
	}
}

func TestErrorExitWithUsableFileKept(t *testing.T) {
	engine := &capture.MockEngine{
		Runs:    []capture.MockRun{{Size: 4096, ExitCode: 1}},
		Default: capture.MockRun{Block: true},
	}
	segs := make(chan segment.Segment, 4)
	r, layout := newTestRecorder(t, testConfig(), engine, time.Minute, WithHooks(Hooks{
		OnSegment: func(seg segment.Segment, size int64) { segs <- seg },
	}))

	r.Start()
	select {
	case <-segs:
	case <-time.After(2 * time.Second):
		t.Fatal("tolerated segment was not finalized")
	}
	testutil.WaitFor(t, 2*time.Second, "capturing", capturing(r))

	if r.Status().ConsecutiveErrors != 0 {
		t.Errorf("tolerated exit must not count as an error, got %d", r.Status().ConsecutiveErrors)
	}

	stop(t, r)
	temps, finals := files(t, layout)
	if len(temps) != 0 || len(finals) != 1 {
		t.Errorf("expected one final and no temporary, got temps=%v finals=%v", temps, finals)
	}
}

func TestVerifyToleratedDiscardsUnreadable(t *testing.T) {
	cfg := testConfig()
	cfg.VerifyTolerated = true
	engine := &capture.MockEngine{
		Runs:    []capture.MockRun{{Size: 4096, ExitCode: 1}},
		Default: capture.MockRun{Block: true},
	}
	prober := &capture.MockProcessor{ProbeErr: capture.ErrNoDuration}
	r, layout := newTestRecorder(t, cfg, engine, time.Minute, WithProber(prober))

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "first failure", func() bool {
		return r.Status().ConsecutiveErrors == 1 && r.State() == StateCapturing
	})

	stop(t, r)
	temps, finals := files(t, layout)
	if len(temps) != 0 || len(finals) != 0 {
		t.Errorf("expected unreadable file discarded, got temps=%v finals=%v", temps, finals)
	}
}

func TestFailsAfterMaxConsecutiveErrors(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveErrors = 3
	engine := &capture.MockEngine{Default: capture.MockRun{ExitCode: 1}}

	failed := make(chan Status, 1)
	r, layout := newTestRecorder(t, cfg, engine, time.Minute, WithHooks(Hooks{
		OnFailed: func(st Status) { failed <- st },
	}))

	r.Start()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not give up")
	}

	if r.State() != StateFailed {
		t.Errorf("expected failed, got %s", r.State())
	}
	if r.Running() {
		t.Error("failed recorder must not report running")
	}
	if n := len(engine.Calls()); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	select {
	case st := <-failed:
		if st.ConsecutiveErrors != 3 {
			t.Errorf("expected 3 errors in failure status, got %d", st.ConsecutiveErrors)
		}
	default:
		t.Error("OnFailed was not called")
	}
	if temps, finals := files(t, layout); len(temps)+len(finals) != 0 {
		t.Errorf("expected no files, got %v %v", temps, finals)
	}

	stop(t, r)
	if r.State() != StateStopped {
		t.Errorf("stop after failure should settle in stopped, got %s", r.State())
	}
}

func TestEngineStartErrorsCountAsFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveErrors = 2
	engine := &capture.MockEngine{Default: capture.MockRun{StartErr: errors.New("exec: \"ffmpeg\": executable file not found")}}
	r, _ := newTestRecorder(t, cfg, engine, time.Minute)

	r.Start()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not give up")
	}
	st := r.Status()
	if st.State != StateFailed {
		t.Errorf("expected failed, got %s", st.State)
	}
	if !strings.Contains(st.LastError, "executable file not found") {
		t.Errorf("expected start error recorded, got %q", st.LastError)
	}
}

func TestErrorCounterResetsAfterSustainedSuccess(t *testing.T) {
	ok := capture.MockRun{Size: 4096, ExitCode: 0}
	bad := capture.MockRun{ExitCode: 1}
	engine := &capture.MockEngine{
		Runs:    []capture.MockRun{bad, bad, ok, ok, ok, ok},
		Default: capture.MockRun{Block: true},
	}

	segs := make(chan segment.Segment)
	ack := make(chan struct{})
	// Each reading is 20s apart: segments last 20s with 20s gaps, which is
	// within the continuity tolerance.
	r, _ := newTestRecorder(t, testConfig(), engine, 20*time.Second, WithHooks(Hooks{
		OnSegment: func(seg segment.Segment, size int64) {
			segs <- seg
			<-ack
		},
	}))

	r.Start()
	next := func() {
		t.Helper()
		select {
		case <-segs:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for segment")
		}
	}

	for i := 0; i < 3; i++ {
		next()
		if i < 2 {
			ack <- struct{}{}
		}
	}
	if n := r.Status().ConsecutiveErrors; n != 2 {
		t.Errorf("expected errors kept after 60s of success, got %d", n)
	}
	ack <- struct{}{}

	next()
	if n := r.Status().ConsecutiveErrors; n != 0 {
		t.Errorf("expected errors cleared after 80s of success, got %d", n)
	}
	ack <- struct{}{}

	stop(t, r)
}

func TestContinuityGapRestartsSuccessRun(t *testing.T) {
	ok := capture.MockRun{Size: 4096, ExitCode: 0}
	bad := capture.MockRun{ExitCode: 1}
	engine := &capture.MockEngine{
		Runs:    []capture.MockRun{bad, bad, ok, ok, ok, ok},
		Default: capture.MockRun{Block: true},
	}

	segs := make(chan segment.Segment, 8)
	// Segments last 40s with 40s gaps, beyond the 30s continuity tolerance,
	// so no run ever exceeds the 60s reset threshold.
	r, _ := newTestRecorder(t, testConfig(), engine, 40*time.Second, WithHooks(Hooks{
		OnSegment: func(seg segment.Segment, size int64) { segs <- seg },
	}))

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "four segments", func() bool {
		return len(segs) == 4 && len(engine.Calls()) == 7 && r.State() == StateCapturing
	})

	if n := r.Status().ConsecutiveErrors; n != 2 {
		t.Errorf("expected errors kept across gapped segments, got %d", n)
	}
	stop(t, r)
}

func TestForceSplit(t *testing.T) {
	engine := &capture.MockEngine{Default: capture.MockRun{Block: true, Size: 4096}}
	r, layout := newTestRecorder(t, testConfig(), engine, time.Minute)

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "capturing", capturing(r))

	delivered, done := r.ForceSplit()
	if !delivered || done == nil {
		t.Fatal("expected split to be delivered")
	}

	select {
	case res := <-done:
		if !res.Finalized {
			t.Fatal("expected split segment to be finalized")
		}
		if _, err := os.Stat(res.Segment.Path); err != nil {
			t.Errorf("split segment missing: %v", err)
		}
		if filepath.Base(res.Segment.Path) != layout.FinalName("cam1", epoch, epoch.Add(time.Minute)) {
			t.Errorf("unexpected split segment name %s", res.Segment.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("split did not complete")
	}

	testutil.WaitFor(t, 2*time.Second, "next capture", func() bool {
		return len(engine.Calls()) == 2 && r.State() == StateCapturing
	})
	stop(t, r)

	if _, finals := files(t, layout); len(finals) != 2 {
		t.Errorf("expected two final segments, got %v", finals)
	}
	if engine.MaxConcurrent() != 1 {
		t.Errorf("expected at most one live process, got %d", engine.MaxConcurrent())
	}
}

func TestForceSplitWithinOneSecondKeepsBothSegments(t *testing.T) {
	engine := &capture.MockEngine{Default: capture.MockRun{Block: true, Size: 4096}}
	r, layout := newTestRecorder(t, testConfig(), engine, 100*time.Millisecond)

	r.Start()
	split := func(calls int) segment.Segment {
		t.Helper()
		testutil.WaitFor(t, 2*time.Second, "capturing", func() bool {
			return len(engine.Calls()) == calls && r.State() == StateCapturing
		})
		delivered, done := r.ForceSplit()
		if !delivered {
			t.Fatal("expected split to be delivered")
		}
		select {
		case res := <-done:
			if !res.Finalized {
				t.Fatal("expected split segment to be finalized")
			}
			return res.Segment
		case <-time.After(2 * time.Second):
			t.Fatal("split did not complete")
		}
		return segment.Segment{}
	}

	first := split(1)
	second := split(2)
	if first.Path == second.Path {
		t.Fatalf("both splits finalized to %s", first.Path)
	}
	for _, seg := range []segment.Segment{first, second} {
		if _, err := os.Stat(seg.Path); err != nil {
			t.Errorf("segment missing: %v", err)
		}
	}

	testutil.WaitFor(t, 2*time.Second, "third capture", func() bool {
		return len(engine.Calls()) == 3 && r.State() == StateCapturing
	})
	stop(t, r)

	segs, err := layout.List("cam1")
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Errorf("expected three listed segments, got %+v", segs)
	}
	if r.Status().Segments != 3 {
		t.Errorf("expected segment count 3, got %d", r.Status().Segments)
	}
}

func TestForceSplitKillsStubbornProcess(t *testing.T) {
	cfg := testConfig()
	cfg.SplitTimeout = 20 * time.Millisecond
	engine := &capture.MockEngine{
		Runs:    []capture.MockRun{{Block: true, Size: 4096, IgnoreTerminate: true}},
		Default: capture.MockRun{Block: true},
	}
	r, _ := newTestRecorder(t, cfg, engine, time.Minute)

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "capturing", capturing(r))

	_, done := r.ForceSplit()
	select {
	case res := <-done:
		if !res.Finalized {
			t.Error("killed split should still finalize the file")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stubborn process was not killed")
	}
	stop(t, r)
}

func TestForceSplitRequiresCapturing(t *testing.T) {
	r, _ := newTestRecorder(t, testConfig(), &capture.MockEngine{}, time.Minute)
	if delivered, done := r.ForceSplit(); delivered || done != nil {
		t.Error("split on a stopped recorder must be refused")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	engine := &capture.MockEngine{Default: capture.MockRun{Block: true, Size: 4096}}
	r, _ := newTestRecorder(t, testConfig(), engine, time.Minute)

	if !r.Start() {
		t.Fatal("first start refused")
	}
	if r.Start() {
		t.Error("second start must be a no-op")
	}
	testutil.WaitFor(t, 2*time.Second, "capturing", capturing(r))
	if n := len(engine.Calls()); n != 1 {
		t.Errorf("expected one capture process, got %d", n)
	}
	stop(t, r)
}

func TestRestartAfterStop(t *testing.T) {
	engine := &capture.MockEngine{Default: capture.MockRun{Block: true, Size: 4096}}
	r, layout := newTestRecorder(t, testConfig(), engine, time.Minute)

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "capturing", capturing(r))
	stop(t, r)

	if !r.Start() {
		t.Fatal("restart refused")
	}
	testutil.WaitFor(t, 2*time.Second, "capturing again", capturing(r))
	stop(t, r)

	if _, finals := files(t, layout); len(finals) != 2 {
		t.Errorf("expected two final segments, got %v", finals)
	}
}

func TestStopNeverStarted(t *testing.T) {
	r, _ := newTestRecorder(t, testConfig(), &capture.MockEngine{}, time.Minute)
	if err := r.Stop(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	select {
	case <-r.Done():
	default:
		t.Error("Done must be closed for a recorder that never started")
	}
}

func TestStopDuringBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = 10 * time.Second
	cfg.MaxRetryDelay = 10 * time.Second
	engine := &capture.MockEngine{Default: capture.MockRun{ExitCode: 1}}
	r, _ := newTestRecorder(t, cfg, engine, time.Minute)

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "first failure", func() bool {
		return r.Status().ConsecutiveErrors == 1
	})

	start := time.Now()
	stop(t, r)
	if time.Since(start) > time.Second {
		t.Errorf("stop waited out the retry delay")
	}
	if r.State() != StateStopped {
		t.Errorf("expected stopped, got %s", r.State())
	}
}

func TestStopContextExpires(t *testing.T) {
	cfg := testConfig()
	cfg.StopTimeout = 300 * time.Millisecond
	engine := &capture.MockEngine{Default: capture.MockRun{Block: true, Size: 4096, IgnoreTerminate: true}}
	r, _ := newTestRecorder(t, cfg, engine, time.Minute)

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "capturing", capturing(r))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if r.Running() {
		t.Error("recorder must not report running while stopping")
	}

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after the kill deadline")
	}
	if r.State() != StateStopped {
		t.Errorf("expected stopped, got %s", r.State())
	}
}

func TestRetryDelay(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		errors int
		want   time.Duration
	}{
		{1, 10 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{6, 30 * time.Second},
		{15, 60 * time.Second},
		{30, 60 * time.Second},
	}
	for _, c := range cases {
		if got := cfg.retryDelay(c.errors); got != c.want {
			t.Errorf("errors=%d: expected %s, got %s", c.errors, c.want, got)
		}
	}
}

func TestRenameFailureKeepsTemporary(t *testing.T) {
	engine := &capture.MockEngine{
		Runs:    []capture.MockRun{{Size: 4096, ExitCode: 0}},
		Default: capture.MockRun{Block: true, Size: 4096},
	}
	segs := make(chan segment.Segment, 4)
	r, layout := newTestRecorder(t, testConfig(), engine, time.Minute, WithHooks(Hooks{
		OnSegment: func(seg segment.Segment, size int64) { segs <- seg },
	}))

	renames := 0
	r.rename = func(oldpath, newpath string) error {
		renames++
		if renames == 1 {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrPermission}
		}
		return os.Rename(oldpath, newpath)
	}

	r.Start()
	testutil.WaitFor(t, 2*time.Second, "second capture", func() bool {
		return len(engine.Calls()) == 2 && r.State() == StateCapturing
	})

	temps, finals := files(t, layout)
	if len(temps) != 2 || len(finals) != 0 {
		t.Errorf("expected failed segment left as temporary, got temps=%v finals=%v", temps, finals)
	}
	if len(segs) != 0 {
		t.Error("segment hook must not fire when the rename fails")
	}
	st := r.Status()
	if st.Segments != 0 || st.ConsecutiveErrors != 0 {
		t.Errorf("unexpected status after rename failure %+v", st)
	}

	stop(t, r)
	if r.State() != StateStopped {
		t.Errorf("expected stopped, got %s", r.State())
	}
	temps, finals = files(t, layout)
	if len(temps) != 1 || len(finals) != 1 {
		t.Errorf("expected leftover temporary and one final, got temps=%v finals=%v", temps, finals)
	}
	if filepath.Base(temps[0]) != layout.TempName("cam1", epoch) {
		t.Errorf("expected first capture left behind, got %s", temps[0])
	}
}
