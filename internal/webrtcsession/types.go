// Package webrtcsession implements the WebRTC Session Manager: owns the
// signaling and media plane for one browser viewer per session (spec
// §4.3).
package webrtcsession

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// State is the session state machine (spec §4.3).
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateNegotiating:
		return "Negotiating"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config bounds session timing (spec §4.3, §6).
type Config struct {
	NegotiationDeadline      time.Duration // default 15s
	SessionInactivityTimeout time.Duration // default 60s
	ICEServers               []webrtc.ICEServer
}

// bufferedCandidate is an ICE candidate received before the remote
// description was set, held per spec §4.3's "Ordering" rule (buffered,
// never dropped, applied in receipt order).
type bufferedCandidate struct {
	candidate     webrtc.ICECandidateInit
	key           string // sdpMid|sdpMLineIndex|candidate, for add_ice_candidate idempotence
}

// Session is one browser viewer's signaling + media-plane state.
type Session struct {
	mu sync.Mutex

	id       string
	streamID string
	cameraID string

	state State
	pc    *webrtc.PeerConnection

	remoteSet       bool
	pendingCandidates []bufferedCandidate
	appliedKeys     map[string]bool

	branchID   string
	videoTrack *webrtc.TrackLocalStaticRTP
	audioTrack *webrtc.TrackLocalStaticRTP

	createdAt    time.Time
	lastActivity time.Time
}
