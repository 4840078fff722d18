package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MockRun scripts one capture started by MockEngine.
type MockRun struct {
	// Size is the number of bytes written to the output at start. Zero writes nothing.
	Size int64
	// ExitCode is returned when the run ends on its own.
	ExitCode int
	// After is how long the run lasts before exiting on its own.
	After time.Duration
	// Block keeps the run alive until it is terminated or killed.
	Block bool
	// SignalCode is returned when the run is terminated (default 255).
	SignalCode int
	// IgnoreTerminate makes the run survive SIGTERM so only Kill ends it.
	IgnoreTerminate bool
	// StartErr fails StartCapture.
	StartErr error
}

// MockEngine plays back scripted capture runs for testing.
type MockEngine struct {
	// Runs are consumed in order; Default is used once they are exhausted.
	Runs    []MockRun
	Default MockRun

	mu       sync.Mutex
	calls    []Request
	running  int
	maxAlive int
}

func (m *MockEngine) StartCapture(ctx context.Context, req Request) (Process, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, req)
	run := m.Default
	if idx < len(m.Runs) {
		run = m.Runs[idx]
	}
	m.mu.Unlock()

	if run.StartErr != nil {
		return nil, run.StartErr
	}

	if run.Size > 0 {
		if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(req.OutputPath, make([]byte, run.Size), 0o644); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.running++
	if m.running > m.maxAlive {
		m.maxAlive = m.running
	}
	m.mu.Unlock()

	p := &MockProcess{
		run:    run,
		pid:    1000 + idx,
		signal: make(chan int, 1),
		onExit: func() {
			m.mu.Lock()
			m.running--
			m.mu.Unlock()
		},
	}
	return p, nil
}

// Calls returns the requests received so far.
func (m *MockEngine) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// MaxConcurrent returns the highest number of runs alive at once.
func (m *MockEngine) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxAlive
}

// Running returns the number of runs that have not exited.
func (m *MockEngine) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// MockProcess is a scripted capture process.
type MockProcess struct {
	run    MockRun
	pid    int
	signal chan int
	onExit func()

	mu     sync.Mutex
	exited bool
}

func (p *MockProcess) Pid() int { return p.pid }

func (p *MockProcess) Wait() ExitStatus {
	defer p.markExited()

	var timer <-chan time.Time
	if !p.run.Block {
		timer = time.After(p.run.After)
	}

	select {
	case <-timer:
		code := p.run.ExitCode
		var diag []string
		if code != 0 {
			diag = []string{fmt.Sprintf("mock capture exited with code %d", code)}
		}
		return ExitStatus{Code: code, Diagnostics: diag}
	case code := <-p.signal:
		return ExitStatus{Code: code}
	}
}

func (p *MockProcess) Terminate() error {
	if p.isExited() {
		return os.ErrProcessDone
	}
	if p.run.IgnoreTerminate {
		return nil
	}
	code := p.run.SignalCode
	if code == 0 {
		code = 255
	}
	p.send(code)
	return nil
}

func (p *MockProcess) Kill() error {
	if p.isExited() {
		return os.ErrProcessDone
	}
	p.send(-1)
	return nil
}

func (p *MockProcess) send(code int) {
	select {
	case p.signal <- code:
	default:
	}
}

func (p *MockProcess) markExited() {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
	p.onExit()
}

func (p *MockProcess) isExited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// MockProcessor is an in-process stand-in for the ffmpeg extract, concat and
// probe operations. Extracted clips copy a share of the input proportional to
// the requested duration.
type MockProcessor struct {
	// SegmentLength is the assumed length of every input, used to size clips.
	SegmentLength time.Duration
	// ProbeResult is returned by ProbeDuration.
	ProbeResult time.Duration
	ProbeErr    error
	// FailExtract fails extraction for inputs with these base names.
	FailExtract map[string]bool
	FailConcat  bool

	mu       sync.Mutex
	extracts int
	concats  int
}

func (m *MockProcessor) Extract(ctx context.Context, input, output string, offset, duration time.Duration) error {
	m.mu.Lock()
	m.extracts++
	m.mu.Unlock()

	if m.FailExtract[filepath.Base(input)] {
		return errors.New("mock extract failure")
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	n := len(data)
	if m.SegmentLength > 0 {
		frac := float64(duration) / float64(m.SegmentLength)
		if frac < 1 {
			n = int(float64(len(data)) * frac)
		}
	}
	return os.WriteFile(output, data[:n], 0o644)
}

func (m *MockProcessor) Concat(ctx context.Context, inputs []string, output string) error {
	m.mu.Lock()
	m.concats++
	m.mu.Unlock()

	if m.FailConcat {
		return errors.New("mock concat failure")
	}
	var out []byte
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		out = append(out, data...)
	}
	return os.WriteFile(output, out, 0o644)
}

func (m *MockProcessor) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	return m.ProbeResult, m.ProbeErr
}

// Extracts returns how many extractions were requested.
func (m *MockProcessor) Extracts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extracts
}

// Concats returns how many concatenations were requested.
func (m *MockProcessor) Concats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.concats
}
