package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// StampLayout is the second-resolution local timestamp embedded in filenames.
const StampLayout = "20060102_150405"

const (
	temporarySuffix = "_recording"
	rangeSeparator  = "_to_"
	sessionsDirName = "sessions"
)

// ErrNotSegment is returned when a filename does not follow the naming scheme.
var ErrNotSegment = errors.New("not a segment filename")

// Kind distinguishes in-progress files from completed ones.
type Kind int

const (
	// KindTemporary is a file still being written by a capture process.
	KindTemporary Kind = iota
	// KindFinal carries both start and end time in its name.
	KindFinal
	// KindFinalUntimed is a legacy file that carries only its start time.
	KindFinalUntimed
)

func (k Kind) String() string {
	switch k {
	case KindTemporary:
		return "temporary"
	case KindFinal:
		return "final"
	case KindFinalUntimed:
		return "final_untimed"
	default:
		return "unknown"
	}
}

// Segment is one media file on disk and the time range it covers.
type Segment struct {
	SourceID string
	Path     string
	Start    time.Time
	End      time.Time
	Kind     Kind
}

// Filename returns the base name of the segment file.
func (s Segment) Filename() string {
	return filepath.Base(s.Path)
}

// Duration returns the length of the covered range.
func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Overlaps reports whether the segment intersects [start, end].
// Touching at a boundary counts as overlap.
func (s Segment) Overlaps(start, end time.Time) bool {
	return !s.Start.After(end) && !s.End.Before(start)
}

// Covers reports whether [start, end] fully contains the segment.
func (s Segment) Covers(start, end time.Time) bool {
	return !start.After(s.Start) && !end.Before(s.End)
}

// Layout maps sources and times onto the on-disk directory structure:
//
//	{Root}/{sourceID}/{sourceID}_{start}_recording.{ext}
//	{Root}/{sourceID}/{sourceID}_{start}_to_{end}.{ext}
//	{Root}/sessions/{sourceID}_{start}/
type Layout struct {
	Root string
	// Ext is the container extension without the leading dot.
	Ext string
	// UntimedDuration is the assumed length of legacy start-only files.
	UntimedDuration time.Duration
}

// Extension returns the container extension without the leading dot,
// defaulting to mp4.
func (l Layout) Extension() string {
	if l.Ext == "" {
		return "mp4"
	}
	return strings.TrimPrefix(l.Ext, ".")
}

// SourceDir returns the directory holding a source's segments.
func (l Layout) SourceDir(sourceID string) string {
	return filepath.Join(l.Root, sourceID)
}

// SessionsDir returns the directory holding retrieval sessions.
func (l Layout) SessionsDir() string {
	return filepath.Join(l.Root, sessionsDirName)
}

// SessionDir returns the working directory for one retrieval session.
func (l Layout) SessionDir(sourceID string, start time.Time) string {
	return filepath.Join(l.SessionsDir(), sourceID+"_"+start.Local().Format(StampLayout))
}

// TempName returns the filename of an in-progress segment.
func (l Layout) TempName(sourceID string, start time.Time) string {
	return fmt.Sprintf("%s_%s%s.%s", sourceID, start.Local().Format(StampLayout), temporarySuffix, l.Extension())
}

// FinalName returns the filename of a completed segment.
func (l Layout) FinalName(sourceID string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s%s%s.%s", sourceID,
		start.Local().Format(StampLayout), rangeSeparator, end.Local().Format(StampLayout), l.Extension())
}

// TempPath returns the full path of an in-progress segment.
func (l Layout) TempPath(sourceID string, start time.Time) string {
	return filepath.Join(l.SourceDir(sourceID), l.TempName(sourceID, start))
}

// FinalPath returns the full path of a completed segment.
func (l Layout) FinalPath(sourceID string, start, end time.Time) string {
	return filepath.Join(l.SourceDir(sourceID), l.FinalName(sourceID, start, end))
}

// FreeFinalPath returns FinalPath, or when a file already holds that name, the
// first free variant carrying a numeric suffix after the end stamp. Stamps have
// one-second resolution so back-to-back splits can share a name.
func (l Layout) FreeFinalPath(sourceID string, start, end time.Time) string {
	path := l.FinalPath(sourceID, start, end)
	if !exists(path) {
		return path
	}
	base := strings.TrimSuffix(path, "."+l.Extension())
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d.%s", base, n, l.Extension())
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Parse recovers a segment from its path. The name must start with sourceID
// and carry the layout's extension.
func (l Layout) Parse(sourceID, path string) (Segment, error) {
	name := filepath.Base(path)
	suffix := "." + l.Extension()
	if !strings.HasSuffix(name, suffix) || !strings.HasPrefix(name, sourceID+"_") {
		return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, name)
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, sourceID+"_"), suffix)

	seg := Segment{SourceID: sourceID, Path: path}

	switch {
	case strings.HasSuffix(rest, temporarySuffix):
		start, err := parseStamp(strings.TrimSuffix(rest, temporarySuffix))
		if err != nil {
			return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, name)
		}
		seg.Start, seg.End, seg.Kind = start, start, KindTemporary

	case strings.Contains(rest, rangeSeparator):
		parts := strings.SplitN(rest, rangeSeparator, 2)
		start, err := parseStamp(parts[0])
		if err != nil {
			return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, name)
		}
		end, err := parseStamp(trimCounter(parts[1]))
		if err != nil {
			return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, name)
		}
		if end.Before(start) {
			return Segment{}, fmt.Errorf("%w: end before start in %s", ErrNotSegment, name)
		}
		seg.Start, seg.End, seg.Kind = start, end, KindFinal

	default:
		start, err := parseStamp(rest)
		if err != nil {
			return Segment{}, fmt.Errorf("%w: %s", ErrNotSegment, name)
		}
		seg.Start, seg.End, seg.Kind = start, start.Add(l.UntimedDuration), KindFinalUntimed
	}

	return seg, nil
}

// List scans a source directory and returns its completed segments sorted by
// start time. Temporary and unparsable files are skipped.
func (l Layout) List(sourceID string) ([]Segment, error) {
	dir := l.SourceDir(sourceID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var segs []Segment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seg, err := l.Parse(sourceID, filepath.Join(dir, e.Name()))
		if err != nil || seg.Kind == KindTemporary {
			continue
		}
		segs = append(segs, seg)
	}
	Sort(segs)
	return segs, nil
}

// Sort orders segments by start time, then by path.
func Sort(segs []Segment) {
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].Start.Equal(segs[j].Start) {
			return segs[i].Path < segs[j].Path
		}
		return segs[i].Start.Before(segs[j].Start)
	})
}

// Filter returns the segments that overlap [start, end], preserving order.
func Filter(segs []Segment, start, end time.Time) []Segment {
	var out []Segment
	for _, s := range segs {
		if s.Overlaps(start, end) {
			out = append(out, s)
		}
	}
	return out
}

// trimCounter drops the "_{n}" suffix FreeFinalPath adds on a name clash.
func trimCounter(s string) string {
	if len(s) <= len(StampLayout)+1 || s[len(StampLayout)] != '_' {
		return s
	}
	if n, err := strconv.Atoi(s[len(StampLayout)+1:]); err != nil || n < 1 {
		return s
	}
	return s[:len(StampLayout)]
}

func parseStamp(s string) (time.Time, error) {
	if len(s) != len(StampLayout) {
		return time.Time{}, ErrNotSegment
	}
	return time.ParseInLocation(StampLayout, s, time.Local)
}

// Info describes a segment file for listings.
type Info struct {
	Path      string    `json:"path"`
	Filename  string    `json:"filename"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"`
	Size      int64     `json:"size"`
	Created   time.Time `json:"created"`
}

// Describe stats the segment file and builds its listing entry.
func Describe(seg Segment) (Info, error) {
	fi, err := os.Stat(seg.Path)
	if err != nil {
		return Info{}, err
	}
	path, err := filepath.Abs(seg.Path)
	if err != nil {
		path = seg.Path
	}
	return Info{
		Path:      path,
		Filename:  seg.Filename(),
		StartTime: seg.Start,
		EndTime:   seg.End,
		Duration:  seg.Duration().Seconds(),
		Size:      fi.Size(),
		Created:   fi.ModTime(),
	}, nil
}
