package capture

import (
	"context"
	"time"
)

// Request describes one segment-limited capture.
type Request struct {
	InputURI   string
	OutputPath string
	Duration   time.Duration
}

// ExitStatus is the outcome of a finished capture process.
type ExitStatus struct {
	// Code is the process exit code, -1 when it was killed by a signal or never ran.
	Code int
	// Diagnostics holds the last lines the process wrote to stderr.
	Diagnostics []string
	// Err is set when waiting on the process failed for a reason other than a
	// non-zero exit.
	Err error
}

// Clean reports whether the process exited with code zero.
func (s ExitStatus) Clean() bool {
	return s.Err == nil && s.Code == 0
}

// Process is a running capture.
type Process interface {
	Pid() int
	// Wait blocks until the process exits. It may be called once.
	Wait() ExitStatus
	// Terminate asks the process to finish its output and exit.
	Terminate() error
	// Kill ends the process immediately.
	Kill() error
}

// Engine starts capture processes.
type Engine interface {
	StartCapture(ctx context.Context, req Request) (Process, error)
}
