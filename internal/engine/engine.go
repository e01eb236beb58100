// Package engine wires the Media Pipeline Graph, Recording Subsystem,
// WebRTC Session Manager, HLS Packager and Schedule Evaluator into one
// running process against a shared metadata store, the same way the
// teacher's Controller orchestrates its managers around a single
// MediaMTX client (spec §1, §4).
package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/config"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/control"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/health"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/hls"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/pipeline"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/recording"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/schedule"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/webrtcsession"
)

// Engine owns every subsystem's lifecycle and the metadata store
// connection they share. The control plane (out of scope per spec.md
// §1) is expected to call the exported methods on Pipeline, Recording,
// WebRTC and HLS directly; Engine only owns startup/shutdown ordering
// and the background loops each subsystem needs ticking.
type Engine struct {
	cfg *config.Config

	Store     *store.Store
	Pipeline  *pipeline.Manager
	Recording *recording.Subsystem
	WebRTC    *webrtcsession.Manager
	HLS       *hls.Packager
	Schedule  *schedule.Evaluator

	health   *health.HTTPHealthServer
	notifier *control.Notifier
	notifyHTTP *http.Server
	logger   *logging.Logger

	cancel context.CancelFunc
}

// New connects the metadata store, applies pending migrations, and
// constructs every subsystem against cfg. It does not start any
// background loop; call Start for that.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	st, err := store.Connect(ctx, store.Config{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: connect metadata store: %w", err)
	}

	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("engine: apply migrations: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := health.NewMetrics(registry)

	pm := pipeline.NewManager(pipeline.Config{
		ConnectTimeout:        cfg.Pipeline.SourceConnectTimeout,
		BranchTeardownTimeout: cfg.Pipeline.BranchTeardownTimeout,
		SourceRecoveryWindow:  cfg.Pipeline.SourceRecoveryWindow,
		ReconnectBackoffMin:   cfg.Pipeline.ReconnectBackoffMin,
		ReconnectBackoffMax:   cfg.Pipeline.ReconnectBackoffMax,
		ScratchDir:            cfg.Recording.RecordingsRoot,
		Metrics:               metrics,
	}, logger)

	rec := recording.NewSubsystem(recording.Config{
		RecordingsRoot:           cfg.Recording.RecordingsRoot,
		SegmentDuration:          durationFromSeconds(cfg.Recording.SegmentDurationSeconds),
		SegmentOverflowTolerance: cfg.Recording.SegmentOverflowTolerance,
		RetentionDefaultDays:     cfg.Recording.RetentionDefaultDays,
		MaxDiskUsagePercent:      cfg.Recording.MaxDiskUsagePercent,
		CleanupInterval:          durationFromSeconds(cfg.Recording.CleanupIntervalSeconds),
		OrphanGracePeriod:        hoursToDuration(cfg.Recording.OrphanGracePeriodHours),
		BranchTeardownTimeout:    cfg.Pipeline.BranchTeardownTimeout,
	}, pm, st, logger)

	wrtc := webrtcsession.NewManager(webrtcsession.Config{
		NegotiationDeadline:      cfg.WebRTC.NegotiationDeadlineSeconds,
		SessionInactivityTimeout: cfg.WebRTC.SessionInactivityTimeout,
		ICEServers:               toPionICEServers(cfg.WebRTC.ICEServers),
	}, pm, st, logger)

	packager := hls.NewPackager(hls.Config{
		DiscontinuityThreshold: cfg.HLS.DiscontinuityThreshold,
		PlaylistCacheSize:      cfg.HLS.PlaylistCacheSize,
	}, st, logger)

	evaluator := schedule.NewEvaluator(schedule.Config{
		TickInterval:    cfg.Schedule.TickSeconds,
		EventPostRoll:   cfg.Schedule.EventPostRoll,
		EventInactivity: cfg.Schedule.EventInactivity,
	}, st, rec, logger)

	healthMonitor := health.NewHealthMonitor("1.0.0")
	healthServer, err := health.NewHTTPHealthServer(health.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.HealthPort,
		MetricsRegistry: registry,
	}, healthMonitor, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("engine: create health server: %w", err)
	}

	notifier := control.NewNotifier(5*time.Second, logger)
	rec.SetNotifier(notifier)

	var notifyHandler http.Handler = notifier
	if cfg.Server.NotifyAuthSecret != "" {
		gate, gateErr := control.NewAuthGate(cfg.Server.NotifyAuthSecret, logger)
		if gateErr != nil {
			_ = st.Close()
			return nil, fmt.Errorf("engine: create control auth gate: %w", gateErr)
		}
		notifyHandler = notifier.Authenticated(gate)
	} else {
		logger.Warn("notify_auth_secret is empty, control-plane notifications are unauthenticated")
	}

	notifyMux := http.NewServeMux()
	notifyMux.Handle("/notify", notifyHandler)
	notifyHTTP := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.NotifyPort),
		Handler: notifyMux,
	}

	return &Engine{
		cfg:        cfg,
		Store:      st,
		Pipeline:   pm,
		Recording:  rec,
		WebRTC:     wrtc,
		HLS:        packager,
		Schedule:   evaluator,
		health:     healthServer,
		notifier:   notifier,
		notifyHTTP: notifyHTTP,
		logger:     logger,
	}, nil
}

// Start launches every subsystem's background loop: retention
// cleanup, orphan reconciliation, the WebRTC inactivity reaper, the
// schedule evaluator's tick loop, and the health endpoint. It returns
// once everything has been launched; the loops themselves run until
// the context passed here is canceled via Stop.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	go e.Recording.RunRetentionLoop(runCtx)
	go e.WebRTC.RunInactivityReaper(runCtx)

	if err := e.Schedule.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("engine: start schedule evaluator: %w", err)
	}

	go func() {
		if err := e.health.Start(runCtx); err != nil {
			e.logger.WithError(err).Error("health server exited with error")
		}
	}()

	if e.cfg.Server.NotifyPort > 0 {
		go func() {
			if err := e.notifyHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.logger.WithError(err).Error("control notify server exited with error")
			}
		}()
	}

	e.logger.Info("engine started")
	return nil
}

// Stop halts the schedule evaluator and health server, closes the
// metadata store, and cancels every background loop started by Start.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.Schedule.Stop()
	if err := e.health.Stop(); err != nil {
		e.logger.WithError(err).Warn("health server did not stop cleanly")
	}
	if e.cfg.Server.NotifyPort > 0 {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.notifyHTTP.Shutdown(shutdownCtx); err != nil {
			e.logger.WithError(err).Warn("control notify server did not stop cleanly")
		}
		cancel()
	}
	if err := e.Store.Close(); err != nil {
		return fmt.Errorf("engine: close metadata store: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

func durationFromSeconds(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func hoursToDuration(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}

func toPionICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
