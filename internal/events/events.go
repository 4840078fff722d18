package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
)

// Subjects, relative to the configured prefix.
const (
	SubjectSegmentFinalized = "segment.finalized"
	SubjectRecorderStarted  = "recorder.started"
	SubjectRecorderStopped  = "recorder.stopped"
	SubjectRecorderFailed   = "recorder.failed"
)

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(subject string, data any) error
	Close()
}

// SegmentFinalized is emitted when a segment gets its final name.
type SegmentFinalized struct {
	EventID   string  `json:"event_id"`
	CameraID  string  `json:"camera_id"`
	Path      string  `json:"path"`
	Filename  string  `json:"filename"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
	Timestamp string  `json:"timestamp"`
}

// RecorderEvent is emitted on recorder start, stop and failure.
type RecorderEvent struct {
	EventID           string `json:"event_id"`
	CameraID          string `json:"camera_id"`
	State             string `json:"state"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	Segments          int    `json:"segments,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// NewSegmentFinalized builds the payload for a finalized segment.
func NewSegmentFinalized(seg segment.Segment, size int64) SegmentFinalized {
	return SegmentFinalized{
		EventID:   uuid.NewString(),
		CameraID:  seg.SourceID,
		Path:      seg.Path,
		Filename:  seg.Filename(),
		StartTime: seg.Start.Format(time.RFC3339),
		EndTime:   seg.End.Format(time.RFC3339),
		Duration:  seg.Duration().Seconds(),
		Size:      size,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewRecorderEvent builds a recorder lifecycle payload.
func NewRecorderEvent(cameraID, state string) RecorderEvent {
	return RecorderEvent{
		EventID:   uuid.NewString(),
		CameraID:  cameraID,
		State:     state,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
func (Nop) Close()                    {}
