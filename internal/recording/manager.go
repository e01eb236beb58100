package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/control"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
)

// Subsystem implements spec §4.2's three operations (start_recording,
// stop_recording, active_recordings) over a pipeline.Manager and a
// store.Store. Grounded on the teacher's RecordingManager, whose
// per-session ffmpeg-process-and-map-of-sessions shape is kept; its
// device-path keying is replaced with camera_id/recording_id and its
// ad hoc continuity bookkeeping is replaced by the store's
// parent/segment rows.
type Subsystem struct {
	cfg      Config
	pipeline *pipeline.Manager
	store    *store.Store
	logger   *logging.Logger

	// notifier is optional: when set, recording lifecycle transitions
	// are pushed to the control-plane gateway the way the teacher's
	// WebSocketServer.notifyRecordingStatusUpdate does.
	notifier *control.Notifier

	mu       sync.Mutex
	sessions map[string]*session // recording_id -> session
}

func NewSubsystem(cfg Config, pm *pipeline.Manager, st *store.Store, logger *logging.Logger) *Subsystem {
	return &Subsystem{cfg: cfg, pipeline: pm, store: st, logger: logger, sessions: make(map[string]*session)}
}

// SetNotifier attaches the control-plane notifier used to push
// recording status events. Optional; recording works unnotified.
func (s *Subsystem) SetNotifier(n *control.Notifier) {
	s.notifier = n
}

func (s *Subsystem) notify(method, recordingID, cameraID, status string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(control.StatusEvent{
		Method: method,
		Params: map[string]interface{}{
			"recording_id": recordingID,
			"camera_id":    cameraID,
			"status":       status,
		},
	})
}

// recordingBranchSink adapts a session to pipeline.BranchSink, letting
// the graph drive Pending/Running/Faulted transitions into the
// segmenter's lifecycle (spec §4.1's "transitions the sub-graph to the
// source's current state").
type recordingBranchSink struct {
	sub     *Subsystem
	sess    *session
	cancel  context.CancelFunc
}

func (rb *recordingBranchSink) OnAttach() error { return nil }

func (rb *recordingBranchSink) OnSourceState(state pipeline.GraphState) {
	if state == pipeline.GraphFaulted {
		rb.sub.logger.WithFields(logging.Fields{"recording_id": rb.sess.recordingID}).
			Warn("source faulted, finalizing recording")
		if rb.cancel != nil {
			rb.cancel()
		}
	}
}

func (rb *recordingBranchSink) OnDetach(ctx context.Context) error {
	if rb.cancel != nil {
		rb.cancel()
	}
	select {
	case <-rb.sess.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartRecording implements start_recording: reserves a recording_id,
// ensures the camera graph, attaches a RecordingBranch whose segmenter
// emits files per spec §4.2's path layout, inserts the open parent row,
// and begins emitting sub-segment rows as each segment completes.
func (s *Subsystem) StartRecording(ctx context.Context, cameraID, streamID string, eventType store.EventType, scheduleID *string) (string, error) {
	stream, err := s.store.GetStream(ctx, streamID)
	if err != nil {
		return "", err
	}

	graph, err := s.pipeline.EnsureGraph(ctx, cameraID, streamID, stream.URL)
	if err != nil {
		return "", err
	}

	retentionDays, err := s.resolveRetention(ctx, cameraID, scheduleID)
	if err != nil {
		return "", err
	}

	recordingID := uuid.NewString()
	now := time.Now().UTC()

	sess := &session{
		recordingID: recordingID,
		cameraID:    cameraID,
		streamID:    streamID,
		eventType:   eventType,
		scheduleID:  scheduleID,
		startTime:   now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	sess.segmenter = newSegmenter(cameraID, stream.URL, s.cfg, 0, s.logger)

	parent := &store.Recording{
		RecordingID:   recordingID,
		CameraID:      cameraID,
		StreamID:      streamID,
		StartTime:     now,
		FilePath:      segmentPath(s.cfg.RecordingsRoot, cameraID, now, 0),
		Format:        "mp4",
		EventType:     eventType,
		ScheduleID:    scheduleID,
		RetentionDays: retentionDays,
	}
	if err := s.store.CreateParentRecording(ctx, parent); err != nil {
		return "", err
	}

	segCtx, cancel := context.WithCancel(context.Background())
	sink := &recordingBranchSink{sub: s, sess: sess, cancel: cancel}

	branchID, err := graph.AddBranch(pipeline.BranchSpec{Kind: pipeline.BranchRecording, SessionID: recordingID, Sink: sink})
	if err != nil {
		cancel()
		_ = s.store.DeleteParentRecording(ctx, recordingID)
		return "", err
	}

	s.mu.Lock()
	s.sessions[recordingID] = sess
	s.mu.Unlock()

	go s.drive(segCtx, graph, branchID, sess)

	s.logger.WithFields(logging.Fields{"recording_id": recordingID, "camera_id": cameraID}).Info("recording started")
	s.notify("recording_status_update", recordingID, cameraID, "started")
	return recordingID, nil
}

// drive runs the segmenter and persists each completed segment via
// AppendSegment, implementing spec §4.2's file<->row atomicity steps
// 2-3: the segment is already promoted on disk by the time drive sees
// it; if the DB write fails the path is logged and not retried, and the
// orphan reconciler deletes the unreferenced file once it is older than
// orphan_grace_period. doneCh is closed when the segmenter has finished,
// before the branch is removed, since the branch's OnDetach waits on it.
func (s *Subsystem) drive(ctx context.Context, graph *pipeline.Graph, branchID string, sess *session) {
	go sess.segmenter.run(ctx)

	for res := range sess.segmenter.results {
		if res.err != nil {
			s.logger.WithFields(logging.Fields{
				"recording_id": sess.recordingID, "segment_id": res.segmentID, "error": res.err.Error(),
			}).Warn("segment failed, recording continues")
			continue
		}

		seg := &store.Recording{
			RecordingID: uuid.NewString(),
			CameraID:    sess.cameraID,
			StreamID:    sess.streamID,
			StartTime:   res.startTime,
			FilePath:    res.path,
			FileSize:    res.size,
			Duration:    res.duration,
			Format:      "mp4",
			EventType:   sess.eventType,
		}
		endTime := res.startTime.Add(res.duration)
		seg.EndTime = &endTime

		if _, err := s.store.AppendSegment(context.Background(), sess.recordingID, seg); err != nil {
			s.logger.WithFields(logging.Fields{
				"recording_id": sess.recordingID, "file_path": res.path, "error": err.Error(),
			}).Error("segment write succeeded but DB append failed, orphan reconciler will remove the file after the grace period")
			continue
		}

		sess.mu.Lock()
		sess.segmentID = res.segmentID + 1
		sess.mu.Unlock()
	}

	close(sess.doneCh)
	_ = graph.RemoveBranch(context.Background(), branchID)
}

// StopRecording implements stop_recording: signals end-of-stream to the
// segmenter, waits (bounded by BranchTeardownTimeout) for the current
// segment to finalize, then updates the parent's end_time. The branch
// is removed by drive once the segmenter has finished.
func (s *Subsystem) StopRecording(ctx context.Context, recordingID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[recordingID]
	if ok {
		delete(s.sessions, recordingID)
	}
	s.mu.Unlock()

	if !ok {
		return apierrors.New(apierrors.KindNotFound, "StopRecording", fmt.Sprintf("recording %s is not active", recordingID))
	}

	sess.segmenter.stop()

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.BranchTeardownTimeout)
	defer cancel()
	select {
	case <-sess.doneCh:
	case <-drainCtx.Done():
		s.logger.WithFields(logging.Fields{"recording_id": recordingID}).
			Warn("segment finalize exceeded branch_teardown_timeout, promoting partial file")
	}

	if err := s.store.CloseParentRecording(ctx, recordingID, time.Now().UTC()); err != nil {
		return err
	}
	s.notify("recording_status_update", recordingID, sess.cameraID, "stopped")
	return nil
}

// ActiveRecordings implements active_recordings: a snapshot of sessions
// currently in flight.
func (s *Subsystem) ActiveRecordings() []ActiveRecording {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ActiveRecording, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sess.mu.Lock()
		out = append(out, ActiveRecording{
			RecordingID:   sess.recordingID,
			CameraID:      sess.cameraID,
			StreamID:      sess.streamID,
			EventType:     sess.eventType,
			ScheduleID:    sess.scheduleID,
			StartTime:     sess.startTime,
			SegmentsSoFar: sess.segmentID,
		})
		sess.mu.Unlock()
	}
	return out
}

// resolveRetention implements spec §4.2's retention resolution order:
// schedule retention if attached, else camera default, else global
// default. Camera-level retention overrides are not modeled in the
// data model (spec.md §3 carries no such field on Camera), so that step
// of the chain is a no-op here.
func (s *Subsystem) resolveRetention(ctx context.Context, cameraID string, scheduleID *string) (int, error) {
	if scheduleID != nil {
		sc, err := s.store.GetSchedule(ctx, *scheduleID)
		if err == nil && sc.RetentionDays != nil {
			return *sc.RetentionDays, nil
		}
	}
	return s.cfg.RetentionDefaultDays, nil
}
