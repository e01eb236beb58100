package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/health"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// Config bounds the graph's timing behavior (spec §4.1, §6).
type Config struct {
	ConnectTimeout        time.Duration
	BranchTeardownTimeout time.Duration
	SourceRecoveryWindow  time.Duration
	ReconnectBackoffMin   time.Duration
	ReconnectBackoffMax   time.Duration
	ScratchDir            string

	// Metrics is optional; when set, branch-teardown and reconnect
	// outcomes are counted against it for the /metrics endpoint.
	Metrics *health.Metrics
}

// Graph is the engine-facing handle returned by ensure_graph. It wraps
// the camera_id so callers never need direct access to the internal
// *pipelineGraph.
type Graph struct {
	CameraID string
	g        *pipelineGraph
}

// pipelineGraph is one camera's live tee-fanout graph: a source decoder
// feeding a tee, with zero or more branches attached downstream.
// Modeled on the teacher's path_manager.go + health_monitor.go, whose
// MediaMTX-path-per-camera abstraction becomes a tee-graph-per-camera
// here, and whose CircuitState/backoff fields become this graph's own
// reconnect loop rather than a control-plane health poll.
type pipelineGraph struct {
	mu sync.Mutex

	cameraID string
	streamID string
	state    GraphState
	source   *source
	cfg      Config
	logger   *logging.Logger

	branches map[string]*branch
	stats    graphStats
	breaker  *circuitBreaker

	// limiter paces reconnect attempt starts across every graph the
	// Manager owns, so a simultaneous source outage on many cameras
	// does not open a thundering herd of RTSP connect attempts at once.
	limiter *rate.Limiter

	reconnectCancel context.CancelFunc
	lostSourceAt    time.Time
}

// Manager owns every active camera's pipelineGraph (spec §5's
// "PipelineGraph instances live in an engine-scoped map keyed by
// camera_id").
type Manager struct {
	mu     sync.RWMutex
	graphs  map[string]*pipelineGraph
	cfg     Config
	logger  *logging.Logger
	connect singleflight.Group
	limiter *rate.Limiter
}

func NewManager(cfg Config, logger *logging.Logger) *Manager {
	if cfg.ReconnectBackoffMin <= 0 {
		cfg.ReconnectBackoffMin = time.Second
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = 30 * time.Second
	}
	return &Manager{
		graphs:  make(map[string]*pipelineGraph),
		cfg:     cfg,
		logger:  logger,
		connect: singleflight.Group{},
		limiter: rate.NewLimiter(rate.Every(cfg.ReconnectBackoffMin), 1),
	}
}

// EnsureGraph implements spec §4.1's ensure_graph: idempotent, reuses
// an existing graph for the camera or builds one, failing with
// SourceUnreachable if the upstream endpoint cannot be contacted
// within ConnectTimeout. Concurrent calls for the same camera_id
// collapse onto a single connect attempt via singleflight, so two
// callers racing to ensure the same camera's graph never open two
// source processes against the same RTSP endpoint.
func (m *Manager) EnsureGraph(ctx context.Context, cameraID, streamID, rtspURL string) (*Graph, error) {
	m.mu.Lock()
	if g, ok := m.graphs[cameraID]; ok {
		m.mu.Unlock()
		return &Graph{CameraID: cameraID, g: g}, nil
	}
	m.mu.Unlock()

	v, err, _ := m.connect.Do(cameraID, func() (interface{}, error) {
		m.mu.Lock()
		if g, ok := m.graphs[cameraID]; ok {
			m.mu.Unlock()
			return g, nil
		}
		m.mu.Unlock()

		src := newSource(cameraID, streamID, rtspURL, m.logger)
		if err := src.connect(ctx, m.cfg.ScratchDir, m.cfg.ConnectTimeout); err != nil {
			return nil, err
		}

		g := &pipelineGraph{
			cameraID: cameraID,
			streamID: streamID,
			state:    GraphRunning,
			source:   src,
			cfg:      m.cfg,
			logger:   m.logger,
			branches: make(map[string]*branch),
			breaker:  newCircuitBreaker(circuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: 10 * time.Second}),
			limiter:  m.limiter,
		}

		m.mu.Lock()
		m.graphs[cameraID] = g
		m.mu.Unlock()

		go g.watchSource()
		return g, nil
	})
	if err != nil {
		return nil, err
	}

	return &Graph{CameraID: cameraID, g: v.(*pipelineGraph)}, nil
}

// Lookup returns the graph for a camera if one is currently running.
func (m *Manager) Lookup(cameraID string) (*Graph, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[cameraID]
	if !ok {
		return nil, false
	}
	return &Graph{CameraID: cameraID, g: g}, true
}

// Teardown stops a camera's graph entirely: every branch is finalized
// and the source decoder is killed. Used on engine shutdown and camera
// deletion.
func (m *Manager) Teardown(ctx context.Context, cameraID string) error {
	m.mu.Lock()
	g, ok := m.graphs[cameraID]
	if ok {
		delete(m.graphs, cameraID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return g.teardownAll(ctx)
}

// AddBranch implements spec §4.1's add_branch: attaches a new request
// pad on the tee, links the branch's sub-graph, transitions it to the
// source's current state. Returns a Conflict error
// (AlreadyBranchedForSession) if a branch of the same kind is already
// attached under the same non-empty SessionID.
func (h *Graph) AddBranch(spec BranchSpec) (string, error) {
	return h.g.addBranch(spec)
}

// RemoveBranch implements spec §4.1's remove_branch: sends EOS to the
// branch, waits for drain (bounded by branch_teardown_timeout),
// releases the pad, disposes elements. Safe against repeated calls.
func (h *Graph) RemoveBranch(ctx context.Context, branchID string) error {
	return h.g.removeBranch(ctx, branchID)
}

// Health implements spec §4.1's health operation.
func (h *Graph) Health() HealthSnapshot {
	return h.g.health()
}

func (g *pipelineGraph) addBranch(spec BranchSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, b := range g.branches {
		if b.kind == spec.Kind && b.sessionID == spec.SessionID && spec.SessionID != "" {
			return "", apierrors.New(apierrors.KindConflict, "AddBranch",
				fmt.Sprintf("session %s already has a %s branch attached", spec.SessionID, spec.Kind))
		}
	}

	id := uuid.NewString()
	b := &branch{
		id:        id,
		kind:      spec.Kind,
		sessionID: spec.SessionID,
		leaky:     leakyPolicyFor(spec.Kind),
		sink:      spec.Sink,
		attached:  time.Now(),
	}

	if spec.Sink != nil {
		if err := spec.Sink.OnAttach(); err != nil {
			return "", apierrors.Wrap(apierrors.KindInternal, "AddBranch", "branch sub-graph failed to link", err)
		}
		spec.Sink.OnSourceState(g.state)
	}

	g.branches[id] = b
	g.stats.mu.Lock()
	g.stats.stateTransitions++
	g.stats.mu.Unlock()

	g.logger.WithFields(logging.Fields{
		"camera_id": g.cameraID, "branch_id": id, "kind": spec.Kind.String(),
	}).Info("branch attached")

	return id, nil
}

func (g *pipelineGraph) removeBranch(ctx context.Context, branchID string) error {
	g.mu.Lock()
	b, ok := g.branches[branchID]
	if ok {
		delete(g.branches, branchID)
	}
	g.mu.Unlock()

	if !ok {
		// Safe against repeated calls (spec §4.1).
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, g.cfg.BranchTeardownTimeout)
	defer cancel()

	outcome := "clean"
	if b.sink != nil {
		if err := b.sink.OnDetach(drainCtx); err != nil {
			outcome = "timeout"
			g.logger.WithFields(logging.Fields{
				"camera_id": g.cameraID, "branch_id": branchID, "error": err.Error(),
			}).Warn("branch drain did not complete cleanly")
		}
	}
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.BranchTeardowns.WithLabelValues(outcome).Inc()
	}

	g.logger.WithFields(logging.Fields{"camera_id": g.cameraID, "branch_id": branchID}).Info("branch detached")
	return nil
}

// teardownAll tears down every branch concurrently via errgroup, bounded
// by BranchTeardownTimeout per branch, rather than draining them one at
// a time — a camera with several viewer/recording branches attached
// shuts down in one teardown window instead of the sum of all of them.
func (g *pipelineGraph) teardownAll(ctx context.Context) error {
	g.mu.Lock()
	if g.reconnectCancel != nil {
		g.reconnectCancel()
	}
	ids := make([]string, 0, len(g.branches))
	for id := range g.branches {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	var eg errgroup.Group
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			return g.removeBranch(ctx, id)
		})
	}
	_ = eg.Wait()

	g.source.stop()
	return nil
}

func (g *pipelineGraph) health() HealthSnapshot {
	g.mu.Lock()
	count := len(g.branches)
	state := g.state
	g.mu.Unlock()

	g.stats.mu.Lock()
	defer g.stats.mu.Unlock()

	return HealthSnapshot{
		CameraID:         g.cameraID,
		State:            state,
		BranchCount:      count,
		DroppedBuffers:   g.stats.droppedBuffers,
		StateTransitions: g.stats.stateTransitions,
		LastError:        g.stats.lastError,
		ReconnectCount:   g.stats.reconnectCount,
		LastReconnectAt:  g.stats.lastReconnectAt,
	}
}

// watchSource implements spec §4.1's "Source recovery" algorithm: on
// source error or EOS outside of teardown, schedule exponential-backoff
// reconnect while preserving the graph skeleton; branches stay attached
// but transition to Pending. If the source recovers within
// SourceRecoveryWindow, branches resume; otherwise recording branches
// finalize their current segment and the graph marks Faulted.
func (g *pipelineGraph) watchSource() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if g.source.isRunning() {
			continue
		}

		g.mu.Lock()
		if g.state == GraphFaulted {
			g.mu.Unlock()
			return
		}
		alreadyPending := g.state == GraphPending
		if !alreadyPending {
			g.lostSourceAt = time.Now()
			g.transitionLocked(GraphPending)
		}
		g.mu.Unlock()

		if !alreadyPending {
			go g.reconnectLoop()
		}
	}
}

func (g *pipelineGraph) reconnectLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.reconnectCancel = cancel
	deadline := g.lostSourceAt.Add(g.cfg.SourceRecoveryWindow)
	g.mu.Unlock()
	defer cancel()

	attempt := 0
	for {
		if time.Now().After(deadline) {
			g.finalizeAsUnrecovered()
			return
		}
		if !g.breaker.Allow() {
			time.Sleep(time.Second)
			continue
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return
			}
		}

		if err := g.source.connect(ctx, g.cfg.ScratchDir, g.cfg.ConnectTimeout); err != nil {
			g.breaker.RecordFailure()
			if g.cfg.Metrics != nil {
				g.cfg.Metrics.SourceReconnects.WithLabelValues("failure").Inc()
			}
			g.stats.mu.Lock()
			g.stats.lastError = err.Error()
			g.stats.mu.Unlock()

			delay := calculateSourceBackoff(attempt, g.cfg.ReconnectBackoffMin, g.cfg.ReconnectBackoffMax)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		if g.cfg.Metrics != nil {
			g.cfg.Metrics.SourceReconnects.WithLabelValues("success").Inc()
		}
		g.breaker.RecordSuccess()
		g.stats.mu.Lock()
		g.stats.reconnectCount++
		g.stats.lastReconnectAt = time.Now()
		g.stats.mu.Unlock()

		g.mu.Lock()
		g.transitionLocked(GraphRunning)
		branches := make([]*branch, 0, len(g.branches))
		for _, b := range g.branches {
			branches = append(branches, b)
		}
		g.mu.Unlock()

		for _, b := range branches {
			if b.sink != nil {
				b.sink.OnSourceState(GraphRunning)
			}
		}
		return
	}
}

// finalizeAsUnrecovered runs when the source does not return within
// SourceRecoveryWindow: recording branches finalize their current
// segment cleanly and the graph marks Faulted, requiring explicit
// recreation (spec §4.1 "Failure semantics").
func (g *pipelineGraph) finalizeAsUnrecovered() {
	g.mu.Lock()
	g.transitionLocked(GraphFaulted)
	branches := make([]*branch, 0, len(g.branches))
	for _, b := range g.branches {
		branches = append(branches, b)
	}
	g.mu.Unlock()

	for _, b := range branches {
		if b.sink != nil {
			b.sink.OnSourceState(GraphFaulted)
		}
	}

	g.logger.WithFields(logging.Fields{"camera_id": g.cameraID}).
		Error("source did not recover within source_recovery_window, graph faulted")
}

func (g *pipelineGraph) transitionLocked(s GraphState) {
	if g.state == s {
		return
	}
	g.state = s
	g.stats.mu.Lock()
	g.stats.stateTransitions++
	g.stats.mu.Unlock()
}
