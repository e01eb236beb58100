package config

import "fmt"

// ValidateConfig enforces the invariants spec.md §6 places on the
// configuration surface: segment duration must stay within the 2-15
// minute band the segmenter is allowed to operate in, retention and
// disk-pressure thresholds must be sane percentages, etc.
func ValidateConfig(c *Config) error {
	if c.Recording.SegmentDurationSeconds < 120 || c.Recording.SegmentDurationSeconds > 900 {
		return fmt.Errorf("recording.segment_duration_seconds must be within [120, 900], got %d", c.Recording.SegmentDurationSeconds)
	}
	if c.Recording.MaxDiskUsagePercent <= 0 || c.Recording.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("recording.max_disk_usage_percent must be within (0, 100], got %d", c.Recording.MaxDiskUsagePercent)
	}
	if c.Recording.RetentionDefaultDays <= 0 {
		return fmt.Errorf("recording.retention_default_days must be positive, got %d", c.Recording.RetentionDefaultDays)
	}
	if c.Recording.RecordingsRoot == "" {
		return fmt.Errorf("recording.recordings_root must not be empty")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must not be empty")
	}
	if c.Pipeline.BranchTeardownTimeout <= 0 {
		return fmt.Errorf("pipeline.branch_teardown_timeout_seconds must be positive")
	}
	if c.Pipeline.SourceRecoveryWindow <= 0 {
		return fmt.Errorf("pipeline.source_recovery_window_seconds must be positive")
	}
	if c.WebRTC.NegotiationDeadlineSeconds <= 0 {
		return fmt.Errorf("webrtc.negotiation_deadline_seconds must be positive")
	}
	if c.WebRTC.SessionInactivityTimeout <= 0 {
		return fmt.Errorf("webrtc.session_inactivity_timeout_seconds must be positive")
	}
	if len(c.WebRTC.ICEServers) == 0 {
		return fmt.Errorf("webrtc.ice_servers must list at least one server")
	}
	for i, srv := range c.WebRTC.ICEServers {
		if len(srv.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d] must carry at least one URL", i)
		}
	}
	if c.Schedule.TickSeconds <= 0 {
		return fmt.Errorf("schedule.schedule_tick_seconds must be positive")
	}
	if c.HLS.DiscontinuityThreshold <= 0 {
		return fmt.Errorf("hls.hls_discontinuity_threshold_ms must be positive")
	}
	return nil
}
