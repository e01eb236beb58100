package recording

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/store"
)

// RunRetentionLoop runs spec §4.2's retention/cleanup task on
// cfg.CleanupInterval until ctx is cancelled. It evaluates the two
// independent predicates the spec names: age (per-recording,
// retention_days) and disk pressure (max_disk_usage_percent), each in
// its own pass. Disk sampling is grounded on the teacher's
// SystemMetricsManager.calculateDiskUsage (gopsutil/v3/disk.Usage).
func (s *Subsystem) RunRetentionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAgeCleanup(ctx)
			s.runDiskPressureCleanup(ctx)
			s.reconcileOrphans(ctx)
		}
	}
}

// runAgeCleanup deletes the file then the row, in its own transaction
// per recording, for every recording older than its own applicable
// retention (spec §4.2 predicate 1: schedule retention_days if
// attached, else the global default — resolved once at
// start_recording time by resolveRetention and persisted on the row,
// since a schedule's retention_days can change after the recording
// completes and the row must keep the value that applied at creation).
func (s *Subsystem) runAgeCleanup(ctx context.Context) {
	stale, err := s.store.AgedOut(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("retention: failed to list aged recordings")
		return
	}
	for _, r := range stale {
		s.deleteOne(ctx, r, "age")
	}
}

// runDiskPressureCleanup iterates oldest-first by start_time and
// deletes until used disk is back under max_disk_usage_percent (spec
// §4.2 predicate 2).
func (s *Subsystem) runDiskPressureCleanup(ctx context.Context) {
	usage, err := disk.Usage(s.cfg.RecordingsRoot)
	if err != nil {
		usage, err = disk.Usage("/")
		if err != nil {
			s.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("retention: failed to sample disk usage")
			return
		}
	}
	if usage.Total == 0 {
		return
	}
	percentUsed := float64(usage.Used) / float64(usage.Total) * 100.0
	if percentUsed < float64(s.cfg.MaxDiskUsagePercent) {
		return
	}

	oldest, err := s.store.AllOldestFirst(ctx)
	if err != nil {
		s.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("retention: failed to list recordings for disk pressure sweep")
		return
	}

	for _, r := range oldest {
		if percentUsed < float64(s.cfg.MaxDiskUsagePercent) {
			break
		}
		freed := r.FileSize
		s.deleteOne(ctx, r, "disk_pressure")
		if usage.Total > 0 {
			percentUsed -= float64(freed) / float64(usage.Total) * 100.0
		}
	}
}

// deleteOne implements "the file is deleted first; if the DB delete
// fails, the row is marked tombstoned and retried" and journals the
// deletion per spec §4.2.
func (s *Subsystem) deleteOne(ctx context.Context, r *store.Recording, reason string) {
	if err := os.Remove(r.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.WithFields(logging.Fields{
			"recording_id": r.RecordingID, "file_path": r.FilePath, "reason": reason, "error": err.Error(),
		}).Warn("retention: failed to remove file, skipping row deletion")
		return
	}

	if err := s.store.DeleteRecording(ctx, r.RecordingID); err != nil {
		if tErr := s.store.Tombstone(ctx, r.RecordingID); tErr != nil {
			s.logger.WithFields(logging.Fields{"recording_id": r.RecordingID, "error": tErr.Error()}).
				Error("retention: failed to tombstone recording after file deletion")
		}
		return
	}

	s.logger.WithFields(logging.Fields{
		"recording_id": r.RecordingID, "file_path": r.FilePath, "reason": reason, "byte_count": r.FileSize,
	}).Info("recording deleted by retention sweep")
}

// RetryTombstoned re-attempts the DB delete for rows whose file was
// already removed but whose row delete previously failed.
func (s *Subsystem) RetryTombstoned(ctx context.Context) {
	rows, err := s.store.TombstonedRecordings(ctx)
	if err != nil {
		return
	}
	for _, r := range rows {
		if err := s.store.DeleteRecording(ctx, r.RecordingID); err != nil {
			s.logger.WithFields(logging.Fields{"recording_id": r.RecordingID, "error": err.Error()}).
				Debug("retention: tombstoned recording still not deletable")
		}
	}
}
