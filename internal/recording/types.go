// Package recording implements the Recording Subsystem: produces
// seekable MP4 files segmented into bounded durations with bit-exact
// metadata in the store (spec §4.2).
package recording

import (
	"sync"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
)

// Config bounds the subsystem's segmentation, retention and cleanup
// behavior (spec §4.2, §6 defaults).
type Config struct {
	RecordingsRoot           string
	SegmentDuration          time.Duration // default 300s, range [120s, 900s]
	SegmentOverflowTolerance time.Duration // default 30s
	RetentionDefaultDays     int           // default 30
	MaxDiskUsagePercent      int           // default 80
	CleanupInterval          time.Duration // default 1h
	OrphanGracePeriod        time.Duration // default 24h
	BranchTeardownTimeout    time.Duration // default 3s, segment finalize bound on stop_recording
}

// session is the subsystem's bookkeeping for one in-progress parent
// recording, mirroring the teacher's RecordingSession but keyed to a
// store-backed parent row instead of a device path.
type session struct {
	mu sync.Mutex

	recordingID string
	cameraID    string
	streamID    string
	eventType   store.EventType
	scheduleID  *string

	segmentID int // next segment index to assign
	startTime time.Time

	segmenter *segmenter
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopped   bool
	stopErr   error
}

// ActiveRecording is the snapshot view returned by active_recordings.
type ActiveRecording struct {
	RecordingID   string
	CameraID      string
	StreamID      string
	EventType     store.EventType
	ScheduleID    *string
	StartTime     time.Time
	SegmentsSoFar int
}
