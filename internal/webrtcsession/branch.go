package webrtcsession

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
)

// webrtcBranchSink adapts a Session to pipeline.BranchSink. It holds the
// session's video track but writes no RTP packets to it: the sink only
// reacts to source state (a faulted source fails the session) and has
// nothing to drain on detach.
type webrtcBranchSink struct {
	mgr   *Manager
	sess  *Session
	track *webrtc.TrackLocalStaticRTP
}

func (s *webrtcBranchSink) OnAttach() error { return nil }

func (s *webrtcBranchSink) OnSourceState(state pipeline.GraphState) {
	if state == pipeline.GraphFaulted {
		go s.mgr.fail(s.sess)
	}
}

func (s *webrtcBranchSink) OnDetach(ctx context.Context) error {
	return nil
}
