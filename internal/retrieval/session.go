package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/metrics"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

// Extractor cuts a time range out of a media file without re-encoding.
type Extractor interface {
	Extract(ctx context.Context, input, output string, offset, duration time.Duration) error
}

// Concatenator joins media files in order.
type Concatenator interface {
	Concat(ctx context.Context, inputs []string, output string) error
}

// Clip is one file returned to a query.
type Clip struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	// Cropped is true for clips cut out of a segment, false for whole segments.
	Cropped bool `json:"cropped"`
}

// Step is one planned clip.
type Step struct {
	Segment segment.Segment
	// Whole means the segment is returned as-is.
	Whole    bool
	Offset   time.Duration
	Duration time.Duration
	// Output is the crop destination; empty for whole segments.
	Output string
}

// Session answers a single time-window query against a source's segments.
type Session struct {
	SourceID string
	Start    time.Time
	End      time.Time
	Dir      string

	segments []segment.Segment
	logger   *zap.Logger
}

// New creates a session for [start, end]. Segments that do not overlap the
// window are dropped; the rest are ordered by start time.
func New(layout segment.Layout, sourceID string, start, end time.Time,
	segs []segment.Segment, logger *zap.Logger) *Session {

	overlapping := segment.Filter(segs, start, end)
	segment.Sort(overlapping)

	return &Session{
		SourceID: sourceID,
		Start:    start,
		End:      end,
		Dir:      layout.SessionDir(sourceID, start),
		segments: overlapping,
		logger: logger.With(
			zap.String("cameraId", sourceID),
			zap.Time("windowStart", start),
			zap.Time("windowEnd", end)),
	}
}

// Segments returns the overlapping segments the session works from.
func (s *Session) Segments() []segment.Segment {
	return append([]segment.Segment(nil), s.segments...)
}

// Plan decides, per segment, whether to return it whole or crop it. Crops are
// clamped to the segment; crops of zero length are skipped.
func (s *Session) Plan() []Step {
	steps := make([]Step, 0, len(s.segments))
	idx := 0
	for _, seg := range s.segments {
		if seg.Covers(s.Start, s.End) {
			steps = append(steps, Step{Segment: seg, Whole: true})
			continue
		}

		offset := s.Start.Sub(seg.Start)
		if offset < 0 {
			offset = 0
		}
		length := seg.Duration()
		duration := s.End.Sub(seg.Start) - offset
		if offset+duration > length {
			duration = length - offset
		}
		if duration <= 0 {
			continue
		}

		steps = append(steps, Step{
			Segment:  seg,
			Offset:   offset,
			Duration: duration,
			Output:   filepath.Join(s.Dir, fmt.Sprintf("clip_%03d_%s", idx, seg.Filename())),
		})
		idx++
	}
	return steps
}

// Materialize executes the plan. Whole segments are returned by path; crops
// are written into the session directory. A failed crop is logged and left
// out of the result.
func (s *Session) Materialize(ctx context.Context, ex Extractor) ([]Clip, error) {
	steps := s.Plan()
	clips := make([]Clip, 0, len(steps))

	dirReady := false
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return clips, err
		}

		if st.Whole {
			fi, err := os.Stat(st.Segment.Path)
			if err != nil {
				s.logger.Warn("segment vanished before retrieval",
					zap.String("file", st.Segment.Filename()), zap.Error(err))
				continue
			}
			clips = append(clips, Clip{
				Path:     absPath(st.Segment.Path),
				Filename: st.Segment.Filename(),
				Size:     fi.Size(),
			})
			metrics.ClipsTotal.WithLabelValues("whole").Inc()
			continue
		}

		if !dirReady {
			if err := os.MkdirAll(s.Dir, 0o755); err != nil {
				return clips, fmt.Errorf("creating session dir: %w", err)
			}
			dirReady = true
		}

		if err := ex.Extract(ctx, st.Segment.Path, st.Output, st.Offset, st.Duration); err != nil {
			s.logger.Error("extracting clip failed",
				zap.String("file", st.Segment.Filename()),
				zap.Duration("offset", st.Offset),
				zap.Duration("duration", st.Duration),
				zap.Error(err))
			metrics.ClipsTotal.WithLabelValues("failed").Inc()
			continue
		}
		fi, err := os.Stat(st.Output)
		if err != nil {
			s.logger.Error("extracted clip missing", zap.String("file", filepath.Base(st.Output)), zap.Error(err))
			metrics.ClipsTotal.WithLabelValues("failed").Inc()
			continue
		}
		clips = append(clips, Clip{
			Path:     absPath(st.Output),
			Filename: filepath.Base(st.Output),
			Size:     fi.Size(),
			Cropped:  true,
		})
		metrics.ClipsTotal.WithLabelValues("cropped").Inc()
	}

	s.logger.Info("retrieval complete",
		zap.Int("segments", len(s.segments)),
		zap.Int("clips", len(clips)))
	return clips, nil
}

// Merge concatenates clips, in order, into a single file in the session directory.
func (s *Session) Merge(ctx context.Context, c Concatenator, clips []Clip) (Clip, error) {
	if len(clips) == 0 {
		return Clip{}, fmt.Errorf("merge: no clips")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Clip{}, fmt.Errorf("creating session dir: %w", err)
	}

	inputs := make([]string, len(clips))
	for i, cl := range clips {
		inputs[i] = cl.Path
	}

	ext := filepath.Ext(clips[0].Filename)
	out := filepath.Join(s.Dir, "merged"+ext)
	if err := c.Concat(ctx, inputs, out); err != nil {
		return Clip{}, fmt.Errorf("merge: %w", err)
	}
	fi, err := os.Stat(out)
	if err != nil {
		return Clip{}, fmt.Errorf("merge: %w", err)
	}
	metrics.ClipsTotal.WithLabelValues("merged").Inc()
	return Clip{Path: absPath(out), Filename: filepath.Base(out), Size: fi.Size(), Cropped: true}, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
