package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
)

// recorder is the slice of the Recording Subsystem the evaluator drives
// — the same start_recording/stop_recording/active_recordings
// operations the control plane calls (spec §4.5: "reconcile with what
// *is* recording... via the same operations the control plane uses").
type recorder interface {
	StartRecording(ctx context.Context, cameraID, streamID string, eventType store.EventType, scheduleID *string) (string, error)
	StopRecording(ctx context.Context, recordingID string) error
}

// metadataStore is the slice of store.Store the evaluator reads.
type metadataStore interface {
	EnabledSchedules(ctx context.Context) ([]*store.RecordingSchedule, error)
	UnresolvedEventsForCamera(ctx context.Context, cameraID, eventType string) ([]*store.Event, error)
	UpdateRecordingEventType(ctx context.Context, recordingID string, eventType store.EventType) error
}

// Evaluator implements spec §4.5's periodic reconciliation: every tick,
// it computes a desired (camera,stream) recording set from enabled
// schedules and unresolved events, then starts/stops schedule-owned
// recordings to match it. Grounded on the teacher's path_manager
// reconciliation loop (desired-vs-actual path set, diffed every health
// tick) generalized from MediaMTX path presence to recording presence,
// and driven by robfig/cron — the pack's periodic-scheduling library —
// via its "@every" descriptor rather than a plain time.Ticker, so the
// tick cadence is swappable to a real cron expression without changing
// the evaluator's shape.
type Evaluator struct {
	cfg       Config
	store     metadataStore
	recorder  recorder
	logger    *logging.Logger

	cronRunner *cron.Cron

	mu    sync.Mutex
	owned map[string]*ownedRecording // stream_id -> owned recording
}

func NewEvaluator(cfg Config, st metadataStore, rec recorder, logger *logging.Logger) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		store:    st,
		recorder: rec,
		logger:   logger,
		owned:    make(map[string]*ownedRecording),
	}
}

// Start begins the periodic evaluation loop on cfg.TickInterval, via a
// dedicated cron.Cron instance scoped to this Evaluator (never the
// package-global default cron some codebases reach for, so multiple
// Evaluators — e.g. under test — never collide).
func (e *Evaluator) Start(ctx context.Context) error {
	e.cronRunner = cron.New()
	spec := fmt.Sprintf("@every %s", e.cfg.TickInterval)
	_, err := e.cronRunner.AddFunc(spec, func() { e.tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule: invalid tick interval %s: %w", e.cfg.TickInterval, err)
	}
	e.cronRunner.Start()

	go func() {
		<-ctx.Done()
		stopCtx := e.cronRunner.Stop()
		<-stopCtx.Done()
	}()
	return nil
}

// Stop halts the evaluator, waiting for any in-flight tick to finish.
func (e *Evaluator) Stop() {
	if e.cronRunner == nil {
		return
	}
	<-e.cronRunner.Stop().Done()
}

// tick implements spec §4.5's evaluation loop steps 1-4.
func (e *Evaluator) tick(ctx context.Context) {
	now := time.Now()

	schedules, err := e.store.EnabledSchedules(ctx)
	if err != nil {
		e.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("schedule evaluator: failed to load enabled schedules")
		return
	}

	byStream := make(map[string][]*store.RecordingSchedule)
	for _, sc := range schedules {
		byStream[sc.StreamID] = append(byStream[sc.StreamID], sc)
	}

	for streamID, group := range byStream {
		e.evaluateStream(ctx, streamID, group, now)
	}

	// Schedules can be disabled/deleted out from under an owned
	// recording; sweep ownership entries whose stream no longer has any
	// enabled schedule and stop them in this tick, with no grace period.
	// Collect the unscheduled entries under e.mu, then call expireOrStop
	// (which re-acquires e.mu itself to delete the entry) after
	// unlocking — holding the lock across that call would self-deadlock
	// on this non-reentrant mutex.
	e.mu.Lock()
	var toExpire []struct {
		streamID string
		owned    *ownedRecording
	}
	for streamID, owned := range e.owned {
		if _, stillScheduled := byStream[streamID]; !stillScheduled {
			toExpire = append(toExpire, struct {
				streamID string
				owned    *ownedRecording
			}{streamID, owned})
		}
	}
	e.mu.Unlock()

	for _, entry := range toExpire {
		e.expireOrStop(ctx, entry.streamID, entry.owned, now, true)
	}
}

// desiredTrigger is the winning reason a (camera,stream) should be
// recording this tick, computed from every enabled schedule that
// targets it (spec §4.5 step 3).
type desiredTrigger struct {
	desired    bool
	cameraID   string
	scheduleID string
	eventType  store.EventType
}

func (e *Evaluator) evaluateStream(ctx context.Context, streamID string, group []*store.RecordingSchedule, now time.Time) {
	trig := e.computeDesired(ctx, group, now)

	e.mu.Lock()
	owned, isOwned := e.owned[streamID]
	e.mu.Unlock()

	if !trig.desired {
		if isOwned {
			e.expireOrStop(ctx, streamID, owned, now, false)
		}
		return
	}

	if !isOwned {
		recordingID, err := e.recorder.StartRecording(ctx, trig.cameraID, streamID, trig.eventType, &trig.scheduleID)
		if err != nil {
			e.logger.WithFields(logging.Fields{
				"camera_id": trig.cameraID, "stream_id": streamID, "error": err.Error(),
			}).Warn("schedule evaluator: failed to start desired recording")
			return
		}
		e.mu.Lock()
		e.owned[streamID] = &ownedRecording{
			recordingID:      recordingID,
			scheduleID:       trig.scheduleID,
			currentEventType: string(trig.eventType),
			lastTriggerSeen:  now,
		}
		e.mu.Unlock()
		e.logger.WithFields(logging.Fields{
			"camera_id": trig.cameraID, "stream_id": streamID, "recording_id": recordingID, "event_type": trig.eventType,
		}).Info("schedule evaluator: started recording")
		return
	}

	owned.mu.Lock()
	owned.lastTriggerSeen = now
	if owned.currentEventType != string(trig.eventType) {
		prev := owned.currentEventType
		owned.currentEventType = string(trig.eventType)
		recordingID := owned.recordingID
		owned.mu.Unlock()

		if err := e.store.UpdateRecordingEventType(ctx, recordingID, trig.eventType); err != nil {
			e.logger.WithFields(logging.Fields{"recording_id": recordingID, "error": err.Error()}).
				Warn("schedule evaluator: failed to carry event_type transition")
		} else {
			e.logger.WithFields(logging.Fields{
				"recording_id": recordingID, "from": prev, "to": trig.eventType,
			}).Info("schedule evaluator: recording event_type transitioned")
		}
		return
	}
	owned.mu.Unlock()
}

// computeDesired implements step 3: union of active_now continuous
// schedules, plus any schedule with an event flag for which an
// unresolved matching event exists. Continuous wins the recording's
// event_type only if no event is currently unresolved; an unresolved
// event always takes the event_type slot per the "Tie-breaks" rule.
func (e *Evaluator) computeDesired(ctx context.Context, group []*store.RecordingSchedule, now time.Time) desiredTrigger {
	var trig desiredTrigger

	for _, sc := range group {
		if !activeNow(sc, now) {
			continue
		}
		trig.cameraID = sc.CameraID

		if sc.ContinuousRecording && !trig.desired {
			trig.desired = true
			trig.scheduleID = sc.ScheduleID
			trig.eventType = store.EventTypeContinuous
		}

		for _, flag := range []struct {
			on  bool
			typ store.EventType
		}{
			{sc.RecordOnMotion, store.EventTypeMotion},
			{sc.RecordOnAudio, store.EventTypeAudio},
			{sc.RecordOnAnalytics, store.EventTypeAnalytics},
			{sc.RecordOnExternal, store.EventTypeExternal},
		} {
			if !flag.on {
				continue
			}
			unresolved, err := e.store.UnresolvedEventsForCamera(ctx, sc.CameraID, string(flag.typ))
			if err != nil || len(unresolved) == 0 {
				continue
			}
			trig.desired = true
			trig.scheduleID = sc.ScheduleID
			trig.eventType = flag.typ
		}
	}

	return trig
}

// expireOrStop stops an owned recording that nothing in its schedule
// group wants recording anymore. computeDesired already re-derives the
// live event_type every tick (so a motion->continuous carry, per the
// "Tie-breaks" rule, happens the instant the schedule set still wants
// the stream recording); this path only fires once *nothing* in the
// group wants the stream recording anymore, and unless force is set it
// waits out a grace period — the larger of EventPostRoll and
// EventInactivity, measured from the trigger's last active tick, not
// from the event's end_time — before actually stopping, rather than
// cutting the recording the instant the event resolves. An event whose
// end_time never arrives stays unresolved and keeps the stream desired,
// so no inactivity cutoff applies to it.
func (e *Evaluator) expireOrStop(ctx context.Context, streamID string, owned *ownedRecording, now time.Time, force bool) {
	owned.mu.Lock()
	grace := e.cfg.EventPostRoll
	if e.cfg.EventInactivity > grace {
		grace = e.cfg.EventInactivity
	}
	quiet := now.Sub(owned.lastTriggerSeen) >= grace
	recordingID := owned.recordingID
	owned.mu.Unlock()

	if !force && !quiet {
		return
	}

	if err := e.recorder.StopRecording(ctx, recordingID); err != nil {
		e.logger.WithFields(logging.Fields{"recording_id": recordingID, "error": err.Error()}).
			Warn("schedule evaluator: failed to stop recording no longer desired")
		return
	}

	e.mu.Lock()
	delete(e.owned, streamID)
	e.mu.Unlock()

	e.logger.WithFields(logging.Fields{"stream_id": streamID, "recording_id": recordingID}).
		Info("schedule evaluator: stopped recording no longer desired")
}
