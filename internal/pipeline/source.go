package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/apierrors"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// calculateSourceBackoff mirrors the teacher's
// ffmpegManager.calculateBackoffDelay (exponential with jitter, capped),
// bounded by the configured reconnect_backoff_min/max (spec §4.1's
// "exponential-backoff reconnect (1 s, 2 s, 4 s, ... capped at 30 s)"
// with those two bounds configurable per §6).
func calculateSourceBackoff(attempt int, min, max time.Duration) time.Duration {
	multiplier := int64(1) << uint(attempt)
	delay := time.Duration(int64(min) * multiplier)
	if delay > max {
		delay = max
	}
	jitter := time.Duration(0)
	if delay > 0 {
		jitter = time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	delay += jitter
	if delay > max {
		delay = max
	}
	return delay
}

// source wraps the ffmpeg subprocess that decodes an RTSP stream into
// the tee's input. Adapted from the teacher's ffmpegManager StartProcess
// / StopProcess, narrowed to one process per graph instead of a
// manager-wide process table.
type source struct {
	cameraID string
	streamID string
	rtspURL  string
	logger   *logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	running bool
}

func newSource(cameraID, streamID, rtspURL string, logger *logging.Logger) *source {
	return &source{cameraID: cameraID, streamID: streamID, rtspURL: rtspURL, logger: logger}
}

// connectTimeout bounds how long ensure_graph waits for the upstream
// endpoint to answer before surfacing SourceUnreachable (spec §4.1).
func (sr *source) connect(ctx context.Context, scratchDir string, connectTimeout time.Duration) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.running {
		return nil
	}

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return apierrors.Wrap(apierrors.KindInternal, "source.connect", "failed to create scratch dir", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	args := []string{"-rtsp_transport", "tcp", "-i", sr.rtspURL, "-t", "0.1", "-f", "null", "-"}
	probe := exec.CommandContext(probeCtx, "ffmpeg", args...)
	if err := probe.Run(); err != nil {
		return apierrors.Wrap(apierrors.KindSourceUnreachable, "source.connect",
			fmt.Sprintf("camera %s source unreachable", sr.cameraID), err)
	}

	pipePath := filepath.Join(scratchDir, "tee_"+sr.cameraID+".fifo")
	cmd := exec.CommandContext(context.Background(), "ffmpeg",
		"-rtsp_transport", "tcp", "-i", sr.rtspURL,
		"-c", "copy", "-f", "mpegts", pipePath)
	if err := cmd.Start(); err != nil {
		return apierrors.Wrap(apierrors.KindSourceUnreachable, "source.connect", "failed to start decoder process", err)
	}

	sr.cmd = cmd
	sr.running = true
	go sr.monitor()

	sr.logger.WithFields(logging.Fields{"camera_id": sr.cameraID, "pid": cmd.Process.Pid}).Info("source decoder started")
	return nil
}

func (sr *source) monitor() {
	sr.mu.Lock()
	cmd := sr.cmd
	sr.mu.Unlock()
	if cmd == nil {
		return
	}
	err := cmd.Wait()

	sr.mu.Lock()
	sr.running = false
	sr.mu.Unlock()

	if err != nil {
		sr.logger.WithFields(logging.Fields{"camera_id": sr.cameraID, "error": err.Error()}).Warn("source decoder exited with error")
	}
}

func (sr *source) isRunning() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.running
}

func (sr *source) stop() {
	sr.mu.Lock()
	cmd := sr.cmd
	running := sr.running
	sr.running = false
	sr.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	sr.logger.WithFields(logging.Fields{"camera_id": sr.cameraID, "pid": strconv.Itoa(cmd.Process.Pid)}).Debug("source decoder stopped")
}
