package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// segmentPath implements spec §4.2's path layout:
// /{recordings_root}/{camera_id}/{YYYY}/{MM}/{DD}/{HH}/cam_{camera_id}_{YYYYMMDDHHMMSS}_{segment_id}.mp4
// computed from the UTC clock of the writer, zero-padded and
// monotonic within a second via the segment counter.
func segmentPath(root, cameraID string, at time.Time, segmentID int) string {
	at = at.UTC()
	dir := filepath.Join(root, cameraID,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", at.Month()),
		fmt.Sprintf("%02d", at.Day()),
		fmt.Sprintf("%02d", at.Hour()),
	)
	name := fmt.Sprintf("cam_%s_%s_%d.mp4", cameraID, at.Format("20060102150405"), segmentID)
	return filepath.Join(dir, name)
}

// ensureDir lazily creates a segment's directory (spec §4.2 "Directories
// created lazily with create_all").
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func partName(finalPath string) string {
	return finalPath + ".part"
}
