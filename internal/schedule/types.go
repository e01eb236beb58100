// Package schedule implements the Schedule Evaluator: a periodic loop
// that computes which cameras should be recording and reconciles the
// desired set with what is actually recording (spec §4.5).
package schedule

import (
	"sync"
	"time"
)

// Config bounds the evaluator's tick cadence and event-triggered
// recording lifetime (spec §4.5, §6).
type Config struct {
	TickInterval    time.Duration // default 30s
	EventPostRoll   time.Duration // default 10s
	EventInactivity time.Duration // default 60s; the stop grace period is the larger of this and EventPostRoll
}

// ownedRecording is the evaluator's bookkeeping for one
// schedule-started recording, keyed by stream_id. Manually started
// recordings never appear here, matching spec §4.5's "manually started
// recordings are never stopped by the evaluator."
type ownedRecording struct {
	mu sync.Mutex

	recordingID string
	scheduleID  string

	// currentEventType is the trigger currently attributed to the
	// recording's event_type column: either the schedule's event flag
	// type while a matching event is unresolved, or EventTypeContinuous
	// once it reverts (spec §4.5 "Tie-breaks").
	currentEventType string

	// lastTriggerSeen is the last tick at which the current trigger
	// (continuous window or an unresolved event) was still observed
	// active; used to compute the post-roll/inactivity stop deadline
	// when it next goes quiet.
	lastTriggerSeen time.Time
}
