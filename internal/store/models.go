package store

import "time"

// EventType enumerates spec.md §3's Recording.event_type domain.
type EventType string

const (
	EventTypeContinuous EventType = "continuous"
	EventTypeMotion     EventType = "motion"
	EventTypeAudio      EventType = "audio"
	EventTypeManual     EventType = "manual"
	EventTypeAnalytics  EventType = "analytics"
	EventTypeExternal   EventType = "external"
)

// Camera mirrors spec.md §3's Camera entity.
type Camera struct {
	CameraID     string
	Name         string
	Address      string
	Username     string
	Password     string
	HasPTZ       bool
	HasAudio     bool
	HasAnalytics bool
	CreatedAt    time.Time
}

// Stream mirrors spec.md §3's Stream entity.
type Stream struct {
	StreamID    string
	CameraID    string
	URL         string
	Codec       string
	IsPrimary   bool
	Resolution  string
	BitrateKbps int
	CreatedAt   time.Time
}

// RecordingSchedule mirrors spec.md §3's RecordingSchedule entity.
type RecordingSchedule struct {
	ScheduleID          string
	CameraID            string
	StreamID            string
	DaysOfWeek          []int
	StartTime           string // "HH:MM" local, per spec.md §3
	EndTime             string
	Enabled             bool
	RetentionDays       *int
	RecordOnMotion      bool
	RecordOnAudio       bool
	RecordOnAnalytics   bool
	RecordOnExternal    bool
	ContinuousRecording bool
	CreatedAt           time.Time
}

// Event mirrors spec.md §3's Event entity.
type Event struct {
	EventID    string
	CameraID   string
	EventType  string
	Severity   string
	StartTime  time.Time
	EndTime    *time.Time
	Confidence float64
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}

// Recording mirrors spec.md §3's Recording entity, including the
// parent/sub-segment relationship (invariant (ii): segment_id strictly
// increases by 1 within a parent_recording_id).
type Recording struct {
	RecordingID       string
	CameraID          string
	StreamID          string
	StartTime         time.Time
	EndTime           *time.Time
	FilePath          string
	FileSize          int64
	Duration          time.Duration
	Format            string
	Resolution        string
	EventType         EventType
	ScheduleID        *string
	ParentRecordingID *string
	SegmentID         *int
	// RetentionDays is the value resolveRetention settled on for this
	// recording at start_recording time (schedule override, else global
	// default — spec.md §4.2 predicate 1). Sub-segment rows carry the
	// same value as their parent but are never swept directly.
	RetentionDays int
	Tombstoned    bool
	CreatedAt     time.Time
}

// IsParent reports whether r is a parent recording row (no segment_id,
// open or closed) rather than a sub-segment.
func (r *Recording) IsParent() bool {
	return r.ParentRecordingID == nil
}

// RecordingFilter narrows search_recordings (spec.md §6) and
// active_recordings (§4.2) queries.
type RecordingFilter struct {
	CameraID  string
	StreamID  string
	EventType EventType
	Start     *time.Time
	End       *time.Time
	ActiveOnly bool
	Limit     int
	Offset    int
}
