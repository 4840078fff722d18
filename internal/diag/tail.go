package diag

import (
	"strings"
	"sync"
)

// DefaultLines is the number of diagnostic lines kept per capture process.
const DefaultLines = 30

// maxPartial bounds an unterminated line so a chatty process cannot grow it forever.
const maxPartial = 4096

// Tail holds the last N lines written to it in a circular buffer.
// It implements io.Writer so it can be attached to a child process's stderr.
// Both '\n' and '\r' end a line; empty lines are dropped.
type Tail struct {
	mu       sync.Mutex
	lines    []string
	writePos int
	capacity int
	written  int // total lines ever stored
	partial  []byte
}

// NewTail creates a tail that keeps at most n lines.
func NewTail(n int) *Tail {
	if n <= 0 {
		n = DefaultLines
	}
	return &Tail{
		lines:    make([]string, n),
		capacity: n,
	}
}

// Write splits p into lines and stores them, overwriting the oldest when full.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range p {
		if b == '\n' || b == '\r' {
			t.flushLocked()
			continue
		}
		if len(t.partial) < maxPartial {
			t.partial = append(t.partial, b)
		}
	}
	return len(p), nil
}

// Flush stores any unterminated line.
func (t *Tail) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushLocked()
}

func (t *Tail) flushLocked() {
	line := strings.TrimSpace(string(t.partial))
	t.partial = t.partial[:0]
	if line == "" {
		return
	}
	t.lines[t.writePos] = line
	t.writePos = (t.writePos + 1) % t.capacity
	t.written++
}

// Lines returns a copy of the stored lines, oldest first.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.written
	if n > t.capacity {
		n = t.capacity
	}
	if n == 0 {
		return nil
	}

	out := make([]string, n)
	start := (t.writePos - n + t.capacity) % t.capacity
	for i := 0; i < n; i++ {
		out[i] = t.lines[(start+i)%t.capacity]
	}
	return out
}

// String joins the stored lines with newlines.
func (t *Tail) String() string {
	return strings.Join(t.Lines(), "\n")
}
