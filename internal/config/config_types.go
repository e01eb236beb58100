package config

import "time"

// Config represents the complete engine configuration surface described
// in spec.md §6. Every field is mapstructure-tagged so it can be
// populated from YAML, environment variables (CAMERA_ENGINE_ prefix) or
// programmatic defaults.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Recording RecordingConfig `mapstructure:"recording"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
	HLS       HLSConfig       `mapstructure:"hls"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig carries the control-plane listener settings. The HTTP/WS
// gateway itself is out of scope (spec.md §1); this only configures the
// narrow notification fan-out the engine exposes to it.
type ServerConfig struct {
	Host              string `mapstructure:"host"`
	NotifyPort        int    `mapstructure:"notify_port"`
	HealthPort        int    `mapstructure:"health_port"`
	MaxNotifyClients  int    `mapstructure:"max_notify_clients"`
	NotifyAuthSecret  string `mapstructure:"notify_auth_secret"`
}

// StoreConfig configures the relational Metadata Store Adapter (§4, §6).
type StoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RecordingConfig mirrors spec.md §6's recording-related options.
type RecordingConfig struct {
	RecordingsRoot            string        `mapstructure:"recordings_root"`
	SegmentDurationSeconds    int           `mapstructure:"segment_duration_seconds"`
	SegmentOverflowTolerance  time.Duration `mapstructure:"segment_overflow_tolerance_seconds"`
	RetentionDefaultDays      int           `mapstructure:"retention_default_days"`
	MaxDiskUsagePercent       int           `mapstructure:"max_disk_usage_percent"`
	CleanupIntervalSeconds    int           `mapstructure:"cleanup_interval_seconds"`
	OrphanGracePeriodHours    int           `mapstructure:"orphan_grace_period_hours"`
}

// PipelineConfig carries Media Pipeline Graph tunables (§4.1).
type PipelineConfig struct {
	SourceConnectTimeout     time.Duration `mapstructure:"source_connect_timeout"`
	BranchTeardownTimeout    time.Duration `mapstructure:"branch_teardown_timeout_seconds"`
	SourceRecoveryWindow     time.Duration `mapstructure:"source_recovery_window_seconds"`
	ReconnectBackoffMin      time.Duration `mapstructure:"reconnect_backoff_min"`
	ReconnectBackoffMax      time.Duration `mapstructure:"reconnect_backoff_max"`
}

// WebRTCConfig carries WebRTC Session Manager tunables (§4.3, §6).
type WebRTCConfig struct {
	ICEServers                  []ICEServer   `mapstructure:"ice_servers"`
	NegotiationDeadlineSeconds  time.Duration `mapstructure:"negotiation_deadline_seconds"`
	SessionInactivityTimeout    time.Duration `mapstructure:"session_inactivity_timeout_seconds"`
	CloseGracePeriod            time.Duration `mapstructure:"close_grace_period"`
}

// ICEServer is one entry of the advertised ICE server list.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// HLSConfig carries HLS Packager tunables (§4.4, §6).
type HLSConfig struct {
	DiscontinuityThreshold time.Duration `mapstructure:"hls_discontinuity_threshold_ms"`
	PlaylistCacheSize      int           `mapstructure:"playlist_cache_size"`
}

// ScheduleConfig carries Schedule Evaluator tunables (§4.5, §6).
type ScheduleConfig struct {
	TickSeconds       time.Duration `mapstructure:"schedule_tick_seconds"`
	EventPostRoll     time.Duration `mapstructure:"event_post_roll_seconds"`
	EventInactivity   time.Duration `mapstructure:"event_inactivity_window"`
}

// LoggingConfig mirrors the teacher's logging configuration shape.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	MaxFileSizeMB  int    `mapstructure:"max_file_size_mb"`
	BackupCount    int    `mapstructure:"backup_count"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
}
