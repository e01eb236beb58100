// Package pipeline implements the Media Pipeline Graph: one live
// tee-fanout graph per active camera, mediating branch add/remove and
// reporting health (spec §4.1).
package pipeline

import (
	"context"
	"sync"
	"time"
)

// GraphState is the lifecycle state of a PipelineGraph.
type GraphState int

const (
	GraphIdle GraphState = iota
	GraphRunning
	GraphPending
	GraphFaulted
)

func (s GraphState) String() string {
	switch s {
	case GraphIdle:
		return "IDLE"
	case GraphRunning:
		return "RUNNING"
	case GraphPending:
		return "PENDING"
	case GraphFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// BranchKind identifies which sub-graph a branch attaches.
type BranchKind int

const (
	BranchRecording BranchKind = iota
	BranchWebRTC
	BranchHLSPrep
)

func (k BranchKind) String() string {
	switch k {
	case BranchRecording:
		return "recording"
	case BranchWebRTC:
		return "webrtc"
	case BranchHLSPrep:
		return "hls_prep"
	default:
		return "unknown"
	}
}

// LeakyPolicy governs queue behavior under backpressure, set per
// BranchKind: "no" (recording — never drop) or "downstream" (live-view
// — prefer dropping frames over stalling the source), per spec §4.1
// "Dynamic linking".
type LeakyPolicy int

const (
	LeakyNone LeakyPolicy = iota
	LeakyDownstream
)

func leakyPolicyFor(kind BranchKind) LeakyPolicy {
	if kind == BranchRecording {
		return LeakyNone
	}
	return LeakyDownstream
}

// BranchSpec describes a branch to attach to a graph.
type BranchSpec struct {
	Kind      BranchKind
	SessionID string // recording_id or webrtc session_id, used for AlreadyBranchedForSession dedup
	Sink      BranchSink
}

// BranchSink receives the graph's lifecycle transitions. Recording,
// WebRTC and HLS-prep consumers each implement this to drive their own
// state machine off the shared tee.
type BranchSink interface {
	OnAttach() error
	OnSourceState(state GraphState)
	OnDetach(ctx context.Context) error
}

// branch is the graph's bookkeeping record for one attached BranchSpec.
type branch struct {
	id        string
	kind      BranchKind
	sessionID string
	leaky     LeakyPolicy
	sink      BranchSink
	attached  time.Time
}

// HealthSnapshot reports rolling counters for a graph (spec §4.1 `health`).
type HealthSnapshot struct {
	CameraID         string
	State            GraphState
	BranchCount      int
	DroppedBuffers   uint64
	StateTransitions uint64
	LastError        string
	ReconnectCount   int
	LastReconnectAt  time.Time
}

// graphStats holds the mutable counters behind HealthSnapshot.
type graphStats struct {
	mu               sync.Mutex
	droppedBuffers   uint64
	stateTransitions uint64
	lastError        string
	reconnectCount   int
	lastReconnectAt  time.Time
}
