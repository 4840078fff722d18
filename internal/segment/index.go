package segment

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Index is an in-memory catalogue of completed segments per source.
// It is rebuilt from disk on startup and kept current by Add and Remove,
// so queries never rescan directories.
type Index struct {
	layout Layout

	mu       sync.RWMutex
	bySource map[string][]Segment
}

// NewIndex creates an empty index over the given layout.
func NewIndex(layout Layout) *Index {
	return &Index{
		layout:   layout,
		bySource: make(map[string][]Segment),
	}
}

// Layout returns the layout the index was built over.
func (ix *Index) Layout() Layout {
	return ix.layout
}

// Rebuild replaces the index contents with a fresh scan of every source
// directory under the layout root.
func (ix *Index) Rebuild() error {
	entries, err := os.ReadDir(ix.layout.Root)
	if err != nil {
		if os.IsNotExist(err) {
			ix.mu.Lock()
			ix.bySource = make(map[string][]Segment)
			ix.mu.Unlock()
			return nil
		}
		return fmt.Errorf("reading %s: %w", ix.layout.Root, err)
	}

	fresh := make(map[string][]Segment)
	var errs error
	for _, e := range entries {
		if !e.IsDir() || e.Name() == sessionsDirName {
			continue
		}
		segs, err := ix.layout.List(e.Name())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if len(segs) > 0 {
			fresh[e.Name()] = segs
		}
	}

	ix.mu.Lock()
	ix.bySource = fresh
	ix.mu.Unlock()
	return errs
}

// Add inserts a segment, replacing any entry with the same path.
func (ix *Index) Add(seg Segment) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	segs := removePath(ix.bySource[seg.SourceID], seg.Path)
	i := sort.Search(len(segs), func(i int) bool {
		return segs[i].Start.After(seg.Start)
	})
	segs = append(segs, Segment{})
	copy(segs[i+1:], segs[i:])
	segs[i] = seg
	ix.bySource[seg.SourceID] = segs
}

// Remove drops the segment stored at path. It reports whether one was found.
func (ix *Index) Remove(path string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for id, segs := range ix.bySource {
		for _, s := range segs {
			if s.Path == path {
				ix.bySource[id] = removePath(segs, path)
				return true
			}
		}
	}
	return false
}

// All returns a copy of every indexed segment for a source, oldest first.
func (ix *Index) All(sourceID string) []Segment {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]Segment(nil), ix.bySource[sourceID]...)
}

// Overlapping returns the segments of a source that intersect [start, end].
func (ix *Index) Overlapping(sourceID string, start, end time.Time) []Segment {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Filter(ix.bySource[sourceID], start, end)
}

// Sources returns the ids that currently have indexed segments.
func (ix *Index) Sources() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids := make([]string, 0, len(ix.bySource))
	for id, segs := range ix.bySource {
		if len(segs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of indexed segments.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := 0
	for _, segs := range ix.bySource {
		n += len(segs)
	}
	return n
}

func removePath(segs []Segment, path string) []Segment {
	out := segs[:0]
	for _, s := range segs {
		if s.Path != path {
			out = append(out, s)
		}
	}
	return out
}
