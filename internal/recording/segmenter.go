package recording

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// segmentResult is delivered to the session's consumer loop each time a
// segment is promoted from its .part name to its final path.
type segmentResult struct {
	path      string
	segmentID int
	startTime time.Time
	size      int64
	duration  time.Duration
	err       error
}

// segmenter drives one ffmpeg subprocess per segment against the
// camera's RTSP source directly (each recording branch dials the
// source independently, the same one-ffmpeg-process-per-consumer shape
// the teacher's RecordingManager/FFmpegManager use per session, rather
// than sharing a single decoded pipe across branches).
type segmenter struct {
	cameraID string
	rtspURL  string
	cfg      Config
	logger   *logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	nextSeg int
	results chan segmentResult
	stopped bool
}

func newSegmenter(cameraID, rtspURL string, cfg Config, startSegmentID int, logger *logging.Logger) *segmenter {
	return &segmenter{
		cameraID: cameraID,
		rtspURL:  rtspURL,
		cfg:      cfg,
		logger:   logger,
		nextSeg:  startSegmentID,
		results:  make(chan segmentResult, 4),
	}
}

// run drives segments back-to-back until stop() is called (stop_recording)
// or ctx is cancelled (source fault or branch removal); it also returns
// if a segment's directory cannot be created. Each completed segment
// is fsync'd and renamed from its .part name before being reported,
// implementing spec §4.2's file<->row atomicity step 1.
func (sg *segmenter) run(ctx context.Context) {
	defer close(sg.results)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sg.mu.Lock()
		if sg.stopped {
			sg.mu.Unlock()
			return
		}
		at := time.Now().UTC()
		id := sg.nextSeg
		sg.nextSeg++
		sg.mu.Unlock()

		final := segmentPath(sg.cfg.RecordingsRoot, sg.cameraID, at, id)
		if err := ensureDir(final); err != nil {
			sg.results <- segmentResult{err: err, segmentID: id, startTime: at}
			return
		}
		part := partName(final)

		segCtx, cancel := context.WithTimeout(ctx, sg.cfg.SegmentDuration+sg.cfg.SegmentOverflowTolerance)
		cmd := exec.CommandContext(segCtx, "ffmpeg",
			"-rtsp_transport", "tcp", "-i", sg.rtspURL,
			"-t", durationSeconds(sg.cfg.SegmentDuration),
			"-c", "copy", "-movflags", "+faststart", "-y", part)

		sg.mu.Lock()
		sg.cmd = cmd
		sg.mu.Unlock()

		runErr := cmd.Run()
		cancel()
		actualDuration := time.Since(at)

		if runErr != nil {
			sg.results <- segmentResult{err: runErr, segmentID: id, startTime: at}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		info, statErr := os.Stat(part)
		if statErr != nil {
			sg.results <- segmentResult{err: statErr, segmentID: id, startTime: at}
			continue
		}

		if f, err := os.OpenFile(part, os.O_RDWR, 0o644); err == nil {
			_ = f.Sync()
			_ = f.Close()
		}
		if err := os.Rename(part, final); err != nil {
			sg.results <- segmentResult{err: err, segmentID: id, startTime: at}
			continue
		}

		// Report the actual elapsed capture time, not the nominal
		// cfg.SegmentDuration: the final segment of a recording is cut
		// short by stop_recording's SIGINT, so its real length is
		// almost always less than what was requested via ffmpeg's -t.
		duration := actualDuration
		if duration > sg.cfg.SegmentDuration+sg.cfg.SegmentOverflowTolerance || duration <= 0 {
			duration = sg.cfg.SegmentDuration
		}

		select {
		case sg.results <- segmentResult{path: final, segmentID: id, startTime: at, size: info.Size(), duration: duration}:
		case <-ctx.Done():
			return
		}
	}
}

func (sg *segmenter) stop() {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	sg.stopped = true
	if sg.cmd != nil && sg.cmd.Process != nil {
		_ = sg.cmd.Process.Signal(os.Interrupt)
	}
}

func durationSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs <= 0 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
