package webrtcsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
)

// Manager owns every active Session, keyed by session_id. The
// active-session count and the per-session mutation lock are
// deliberately separate (spec §5 "Concurrency contract": "One session's
// failure cannot cascade to others... cross-session state uses a
// dedicated lock of narrow scope"), grounded on the teacher's Bridge
// (one PeerConnection + track pair per camera) generalized to one
// PeerConnection per browser viewer.
type Manager struct {
	cfg      Config
	pipeline *pipeline.Manager
	store    *store.Store
	logger   *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg Config, pm *pipeline.Manager, st *store.Store, logger *logging.Logger) *Manager {
	return &Manager{cfg: cfg, pipeline: pm, store: st, logger: logger, sessions: make(map[string]*Session)}
}

// CreateSession implements create_session: allocates state and returns
// the advertised ICE server list from configuration.
func (m *Manager) CreateSession(ctx context.Context, streamID string) (string, []webrtc.ICEServer, error) {
	stream, err := m.store.GetStream(ctx, streamID)
	if err != nil {
		return "", nil, err
	}

	sess := &Session{
		id:           uuid.NewString(),
		streamID:     streamID,
		cameraID:     stream.CameraID,
		state:        StateNew,
		appliedKeys:  make(map[string]bool),
		createdAt:    time.Now(),
		lastActivity: time.Now(),
	}

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	return sess.id, m.cfg.ICEServers, nil
}

// AcceptOffer implements accept_offer: attaches a WebRtcBranch to the
// camera graph, constructs the answer with a single video m-line (no
// audio track is added, whether or not the source carries audio), sets
// the local description.
func (m *Manager) AcceptOffer(ctx context.Context, sessionID, sdpOffer string) (string, error) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return "", err
	}

	sess.mu.Lock()
	if sess.state != StateNew {
		sess.mu.Unlock()
		return "", apierrors.New(apierrors.KindConflict, "AcceptOffer", "session already negotiated")
	}
	sess.state = StateNegotiating
	sess.mu.Unlock()

	negotiateCtx, cancel := context.WithTimeout(ctx, m.cfg.NegotiationDeadline)
	defer cancel()

	graph, ok := m.pipeline.Lookup(sess.cameraID)
	if !ok {
		m.fail(sess)
		return "", apierrors.New(apierrors.KindStreamUnavailable, "AcceptOffer", "camera has no active pipeline graph")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		m.fail(sess)
		return "", apierrors.Wrap(apierrors.KindNegotiationFailed, "AcceptOffer", "failed to register video codec", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		m.fail(sess)
		return "", apierrors.Wrap(apierrors.KindNegotiationFailed, "AcceptOffer", "failed to create peer connection", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		fmt.Sprintf("%s-video", sess.cameraID), sess.id)
	if err != nil {
		m.fail(sess)
		return "", apierrors.Wrap(apierrors.KindNegotiationFailed, "AcceptOffer", "failed to create video track", err)
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		m.fail(sess)
		return "", apierrors.Wrap(apierrors.KindNegotiationFailed, "AcceptOffer", "failed to add video track", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.onConnectionStateChange(sess, state)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}); err != nil {
		m.fail(sess)
		return "", apierrors.Wrap(apierrors.KindNegotiationFailed, "AcceptOffer", "failed to set remote description", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.fail(sess)
		return "", apierrors.Wrap(apierrors.KindNegotiationFailed, "AcceptOffer", "failed to create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		m.fail(sess)
		return "", apierrors.Wrap(apierrors.KindNegotiationFailed, "AcceptOffer", "failed to set local description", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-negotiateCtx.Done():
		m.fail(sess)
		_ = pc.Close()
		return "", apierrors.New(apierrors.KindNegotiationFailed, "AcceptOffer", "ICE gathering exceeded negotiation_deadline")
	}

	sink := &webrtcBranchSink{mgr: m, sess: sess, track: videoTrack}
	branchID, err := graph.AddBranch(pipeline.BranchSpec{Kind: pipeline.BranchWebRTC, SessionID: sess.id, Sink: sink})
	if err != nil {
		m.fail(sess)
		_ = pc.Close()
		return "", err
	}

	sess.mu.Lock()
	sess.pc = pc
	sess.videoTrack = videoTrack
	sess.branchID = branchID
	sess.remoteSet = true
	buffered := sess.pendingCandidates
	sess.pendingCandidates = nil
	sess.mu.Unlock()

	for _, bc := range buffered {
		_ = pc.AddICECandidate(bc.candidate)
	}

	return pc.LocalDescription().SDP, nil
}

// AddICECandidate implements add_ice_candidate: enqueues when the
// remote description is not yet set, applies immediately when
// available. Idempotent per (sdpMid, sdpMLineIndex, candidate).
func (m *Manager) AddICECandidate(ctx context.Context, sessionID string, candidate webrtc.ICECandidateInit) error {
	sess, err := m.lookup(sessionID)
	if err != nil {
		// §9 Open Question (b): ICE after Closed is treated as idempotent success.
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	key := candidateKey(candidate)
	if sess.appliedKeys[key] {
		return nil
	}

	if sess.state == StateClosed {
		return nil
	}

	sess.appliedKeys[key] = true
	if !sess.remoteSet {
		sess.pendingCandidates = append(sess.pendingCandidates, bufferedCandidate{candidate: candidate, key: key})
		return nil
	}

	return sess.pc.AddICECandidate(candidate)
}

// CloseSession implements close_session: transitions to Closed, removes
// the graph branch, stops all tracks, releases ICE state. Safe to call
// on unknown session_id.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	if sess.state == StateClosed {
		sess.mu.Unlock()
		return nil
	}
	sess.state = StateClosed
	pc := sess.pc
	branchID := sess.branchID
	cameraID := sess.cameraID
	sess.mu.Unlock()

	if branchID != "" {
		if graph, ok := m.pipeline.Lookup(cameraID); ok {
			_ = graph.RemoveBranch(ctx, branchID)
		}
	}
	if pc != nil {
		_ = pc.Close()
	}
	return nil
}

// ActiveSessionCount reports the number of sessions currently tracked,
// the "dedicated lock of narrow scope" cross-session accessor spec §5 calls for.
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RunInactivityReaper closes sessions that have exceeded
// SessionInactivityTimeout without a keepalive, until ctx is cancelled.
func (m *Manager) RunInactivityReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SessionInactivityTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapOnce(ctx)
		}
	}
}

func (m *Manager) reapOnce(ctx context.Context) {
	m.mu.RLock()
	stale := make([]string, 0)
	now := time.Now()
	for id, sess := range m.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActivity)
		sess.mu.Unlock()
		if idle > m.cfg.SessionInactivityTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		_ = m.CloseSession(ctx, id)
	}
}

// Touch records a keepalive, resetting the inactivity timer.
func (m *Manager) Touch(sessionID string) {
	sess, err := m.lookup(sessionID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	sess.lastActivity = time.Now()
	sess.mu.Unlock()
}

func (m *Manager) lookup(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, apierrors.New(apierrors.KindNotFound, "lookup", fmt.Sprintf("session %s not found", sessionID))
	}
	return sess, nil
}

func (m *Manager) fail(sess *Session) {
	sess.mu.Lock()
	sess.state = StateFailed
	sess.mu.Unlock()
	go func() {
		time.Sleep(2 * time.Second)
		_ = m.CloseSession(context.Background(), sess.id)
	}()
}

func (m *Manager) onConnectionStateChange(sess *Session, state webrtc.PeerConnectionState) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if sess.state == StateNegotiating {
			sess.state = StateConnected
		}
		sess.lastActivity = time.Now()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
		if sess.state != StateClosed {
			sess.state = StateFailed
		}
	}
}

func candidateKey(c webrtc.ICECandidateInit) string {
	mid := ""
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	idx := -1
	if c.SDPMLineIndex != nil {
		idx = int(*c.SDPMLineIndex)
	}
	return fmt.Sprintf("%s|%d|%s", mid, idx, c.Candidate)
}
