package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	schedules   []*store.RecordingSchedule
	unresolved  map[string][]*store.Event // camera_id|event_type -> events
	eventTypes  map[string]store.EventType
}

func newFakeStore() *fakeStore {
	return &fakeStore{unresolved: make(map[string][]*store.Event), eventTypes: make(map[string]store.EventType)}
}

func (f *fakeStore) EnabledSchedules(ctx context.Context) ([]*store.RecordingSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schedules, nil
}

func (f *fakeStore) UnresolvedEventsForCamera(ctx context.Context, cameraID, eventType string) ([]*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unresolved[cameraID+"|"+eventType], nil
}

func (f *fakeStore) UpdateRecordingEventType(ctx context.Context, recordingID string, eventType store.EventType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventTypes[recordingID] = eventType
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string // stream_id
	stopped  []string // recording_id
	nextID   int
}

func (f *fakeRecorder) StartRecording(ctx context.Context, cameraID, streamID string, eventType store.EventType, scheduleID *string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.started = append(f.started, streamID)
	return "rec-" + streamID, nil
}

func (f *fakeRecorder) StopRecording(ctx context.Context, recordingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, recordingID)
	return nil
}

func testLogger() *logging.Logger {
	return logging.GetLogger("schedule-test")
}

func TestEvaluator_StartsContinuousRecordingWhenDesired(t *testing.T) {
	now := time.Now()
	fs := newFakeStore()
	fs.schedules = []*store.RecordingSchedule{
		{ScheduleID: "s1", CameraID: "cam1", StreamID: "stream1",
			DaysOfWeek: []int{int(now.Weekday())}, StartTime: "00:00", EndTime: "23:59", Enabled: true,
			ContinuousRecording: true},
	}
	fr := &fakeRecorder{}
	ev := NewEvaluator(Config{TickInterval: time.Second, EventPostRoll: time.Second, EventInactivity: time.Second}, fs, fr, testLogger())

	ev.tick(context.Background())

	require.Len(t, fr.started, 1)
	assert.Equal(t, "stream1", fr.started[0])
}

func TestEvaluator_DoesNotDoubleStartOnSecondTick(t *testing.T) {
	now := time.Now()
	fs := newFakeStore()
	fs.schedules = []*store.RecordingSchedule{
		{ScheduleID: "s1", CameraID: "cam1", StreamID: "stream1",
			DaysOfWeek: []int{int(now.Weekday())}, StartTime: "00:00", EndTime: "23:59", Enabled: true,
			ContinuousRecording: true},
	}
	fr := &fakeRecorder{}
	ev := NewEvaluator(Config{TickInterval: time.Second, EventPostRoll: time.Second, EventInactivity: time.Second}, fs, fr, testLogger())

	ev.tick(context.Background())
	ev.tick(context.Background())

	assert.Len(t, fr.started, 1)
}

func TestEvaluator_EventTriggerStartsAndPostRollStops(t *testing.T) {
	now := time.Now()
	fs := newFakeStore()
	fs.schedules = []*store.RecordingSchedule{
		{ScheduleID: "s1", CameraID: "cam1", StreamID: "stream1",
			DaysOfWeek: []int{int(now.Weekday())}, StartTime: "00:00", EndTime: "23:59", Enabled: true,
			RecordOnMotion: true},
	}
	fs.unresolved["cam1|motion"] = []*store.Event{{EventID: "e1", CameraID: "cam1", EventType: "motion", StartTime: now}}

	fr := &fakeRecorder{}
	ev := NewEvaluator(Config{TickInterval: time.Millisecond, EventPostRoll: time.Millisecond, EventInactivity: time.Millisecond}, fs, fr, testLogger())

	ev.tick(context.Background())
	require.Len(t, fr.started, 1)

	// Event resolves (no longer unresolved); after the grace period the
	// next tick should stop the recording since the schedule has no
	// continuous_recording fallback.
	fs.mu.Lock()
	fs.unresolved["cam1|motion"] = nil
	fs.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	ev.tick(context.Background())

	assert.Len(t, fr.stopped, 1)
}

func TestEvaluator_EventRevertsToContinuousInsteadOfStopping(t *testing.T) {
	now := time.Now()
	fs := newFakeStore()
	fs.schedules = []*store.RecordingSchedule{
		{ScheduleID: "s1", CameraID: "cam1", StreamID: "stream1",
			DaysOfWeek: []int{int(now.Weekday())}, StartTime: "00:00", EndTime: "23:59", Enabled: true,
			ContinuousRecording: true, RecordOnMotion: true},
	}
	fs.unresolved["cam1|motion"] = []*store.Event{{EventID: "e1", CameraID: "cam1", EventType: "motion", StartTime: now}}

	fr := &fakeRecorder{}
	ev := NewEvaluator(Config{TickInterval: time.Millisecond, EventPostRoll: time.Millisecond, EventInactivity: time.Millisecond}, fs, fr, testLogger())

	ev.tick(context.Background())
	require.Len(t, fr.started, 1)

	fs.mu.Lock()
	fs.unresolved["cam1|motion"] = nil
	fs.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	ev.tick(context.Background())

	assert.Empty(t, fr.stopped, "continuous_recording keeps the recording alive")
	assert.Equal(t, store.EventTypeContinuous, fs.eventTypes["rec-stream1"])
}
