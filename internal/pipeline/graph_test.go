package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

type fakeSink struct {
	attached  bool
	detached  bool
	lastState GraphState
}

func (f *fakeSink) OnAttach() error                    { f.attached = true; return nil }
func (f *fakeSink) OnSourceState(state GraphState)     { f.lastState = state }
func (f *fakeSink) OnDetach(ctx context.Context) error { f.detached = true; return nil }

func newTestGraph(t *testing.T) *pipelineGraph {
	t.Helper()
	return &pipelineGraph{
		cameraID: "cam-1",
		state:    GraphRunning,
		cfg:      Config{BranchTeardownTimeout: time.Second},
		logger:   logging.NewLogger("test"),
		branches: make(map[string]*branch),
		breaker:  newCircuitBreaker(circuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Second}),
	}
}

func TestAddBranch_AttachesAndReportsSourceState(t *testing.T) {
	g := newTestGraph(t)
	sink := &fakeSink{}

	id, err := g.addBranch(BranchSpec{Kind: BranchRecording, SessionID: "rec-1", Sink: sink})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, sink.attached)
	assert.Equal(t, GraphRunning, sink.lastState)
}

func TestAddBranch_RejectsDuplicateSession(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.addBranch(BranchSpec{Kind: BranchRecording, SessionID: "rec-1", Sink: &fakeSink{}})
	require.NoError(t, err)

	_, err = g.addBranch(BranchSpec{Kind: BranchRecording, SessionID: "rec-1", Sink: &fakeSink{}})
	require.Error(t, err)
}

func TestRemoveBranch_IsIdempotent(t *testing.T) {
	g := newTestGraph(t)
	sink := &fakeSink{}
	id, err := g.addBranch(BranchSpec{Kind: BranchWebRTC, SessionID: "sess-1", Sink: sink})
	require.NoError(t, err)

	require.NoError(t, g.removeBranch(context.Background(), id))
	assert.True(t, sink.detached)

	require.NoError(t, g.removeBranch(context.Background(), id))
}

func TestHealth_ReportsBranchCount(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.addBranch(BranchSpec{Kind: BranchHLSPrep, SessionID: "hls-1", Sink: &fakeSink{}})
	require.NoError(t, err)

	snap := g.health()
	assert.Equal(t, 1, snap.BranchCount)
	assert.Equal(t, GraphRunning, snap.State)
}
