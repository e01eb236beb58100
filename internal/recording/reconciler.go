package recording

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// reconcileOrphans scans recordings_root for segment files with no
// matching row. Spec §4.2: "the file write itself never fails without a
// row unless the DB write fails after promotion; no orphan rows, orphan
// files are acceptable and swept" — files younger than
// orphan_grace_period are left alone, older ones are removed. An
// unreferenced file is never adopted as a new row, and a failed
// AppendSegment is not retried, so a young orphan stays unreferenced
// until it is swept.
func (s *Subsystem) reconcileOrphans(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.OrphanGracePeriod)

	_ = filepath.WalkDir(s.cfg.RecordingsRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".mp4") || strings.HasSuffix(path, ".part") {
			return nil
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil
		}

		known, err := s.store.FindByFilePath(ctx, path)
		if err != nil || known {
			return nil
		}

		if info.ModTime().After(cutoff) {
			return nil
		}

		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.WithFields(logging.Fields{"file_path": path, "error": rmErr.Error()}).
				Warn("orphan reconciler: failed to remove orphan file")
			return nil
		}
		s.logger.WithFields(logging.Fields{"file_path": path}).Info("orphan reconciler: removed orphan recording file")
		return nil
	})
}
