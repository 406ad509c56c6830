// Package config loads tasklink configuration from YAML files and the
// environment.
package config

import "time"

// Config represents the full tasklink configuration.
type Config struct {
	// Vault settings
	Vault VaultConfig `yaml:"vault" mapstructure:"vault"`

	// Remote task service settings
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`

	// Sync engine settings
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Dashboard server settings
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`

	// Daemon log settings
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

// VaultConfig locates the markdown vault and the sync journal.
type VaultConfig struct {
	// Dir is the vault root directory.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// JournalPath is the sync journal database. Defaults to
	// <dir>/.tasklink/journal.db.
	JournalPath string `yaml:"journal_path" mapstructure:"journal_path"`
}

// RemoteConfig configures the task service client.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`

	// Timeout per request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	// Interval between scheduled cycles.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// AppendCompletionDate appends a ✅ YYYY-MM-DD annotation to task lines
	// completed from the remote side.
	AppendCompletionDate bool `yaml:"append_completion_date" mapstructure:"append_completion_date"`

	// CompletionTimestamp is "remote" or "sync_time".
	CompletionTimestamp string `yaml:"completion_timestamp" mapstructure:"completion_timestamp"`

	// TimestampTiebreak is "local" or "remote": whose annotation wins when
	// both sides completed independently.
	TimestampTiebreak string `yaml:"timestamp_tiebreak" mapstructure:"timestamp_tiebreak"`

	// TrackCompleted keeps processing tasks already completed on both sides.
	TrackCompleted bool `yaml:"track_completed" mapstructure:"track_completed"`

	// OrphanGracePeriod before unresolvable entries are soft-deleted.
	OrphanGracePeriod time.Duration `yaml:"orphan_grace_period" mapstructure:"orphan_grace_period"`

	// WatchVault enables save-triggered document syncs.
	WatchVault bool `yaml:"watch_vault" mapstructure:"watch_vault"`
}

// DashboardConfig configures the WebSocket dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// LogConfig configures the rotating daemon log.
type LogConfig struct {
	// File is the daemon log path. Empty means stderr only.
	File string `yaml:"file" mapstructure:"file"`

	// MaxSizeMB before rotation.
	MaxSizeMB int `yaml:"max_size_mb" mapstructure:"max_size_mb"`

	// MaxBackups rotated files to keep.
	MaxBackups int `yaml:"max_backups" mapstructure:"max_backups"`
}
