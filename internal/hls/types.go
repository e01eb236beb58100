// Package hls implements the HLS Packager: serves HLS master + media
// playlists and segments from recorded assets on demand (spec §4.4).
package hls

import (
	"strings"
	"sync"
	"time"
)

// Config bounds the packager's stitching and caching behavior.
type Config struct {
	DiscontinuityThreshold time.Duration // default 100ms
	PlaylistCacheSize      int
}

// PlaybackID is either a recording_id (single recording) or
// camera-{camera_id} (virtual timeline over all recordings of a
// camera), per spec §4.4.
type PlaybackID string

// IsCameraTimeline reports whether id names a virtual camera timeline
// rather than a single recording.
func (id PlaybackID) IsCameraTimeline() bool {
	return strings.HasPrefix(string(id), "camera-")
}

// CameraID extracts the camera_id from a camera-{camera_id} playback id.
func (id PlaybackID) CameraID() string {
	return strings.TrimPrefix(string(id), "camera-")
}

// segmentEntry is one stitched sub-segment: a file plus the
// presentation-time bookkeeping the discontinuity and sequence-number
// rules need.
type segmentEntry struct {
	recordingID string
	segmentID   int
	filePath    string
	start       time.Time
	end         time.Time
	duration    time.Duration
	format      string
}

// playlistState is the packager's degraded/healthy status for one
// playback id (spec §4.4 "Failure semantics").
type playlistState struct {
	mu       sync.Mutex
	degraded bool
	missing  int
}

// cacheKey implements spec §4.4's "(id, last_sub_segment_id)" cache key.
type cacheKey struct {
	id                PlaybackID
	lastSubSegmentID  int
}

type cacheEntry struct {
	body []byte
}
