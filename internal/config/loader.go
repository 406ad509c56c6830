package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			Interval:             5 * time.Minute,
			AppendCompletionDate: true,
			CompletionTimestamp:  "remote",
			TimestampTiebreak:    "local",
			OrphanGracePeriod:    7 * 24 * time.Hour,
			WatchVault:           true,
		},
		Dashboard: DashboardConfig{
			Port: 7891,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads configuration from the given file (or the default location when
// path is empty), layered over defaults, with TASKLINK_* environment
// variables taking highest precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key must be registered with viper, or AutomaticEnv will not
	// surface env-only keys (ones absent from the file) to Unmarshal.
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("tasklink")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tasklink"))
		}
		if err := v.ReadInConfig(); err != nil {
			// Missing default config is fine; defaults plus env apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDerived(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers each schema key with its default value.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("vault.dir", cfg.Vault.Dir)
	v.SetDefault("vault.journal_path", cfg.Vault.JournalPath)
	v.SetDefault("remote.base_url", cfg.Remote.BaseURL)
	v.SetDefault("remote.token", cfg.Remote.Token)
	v.SetDefault("remote.timeout", cfg.Remote.Timeout)
	v.SetDefault("sync.interval", cfg.Sync.Interval)
	v.SetDefault("sync.append_completion_date", cfg.Sync.AppendCompletionDate)
	v.SetDefault("sync.completion_timestamp", cfg.Sync.CompletionTimestamp)
	v.SetDefault("sync.timestamp_tiebreak", cfg.Sync.TimestampTiebreak)
	v.SetDefault("sync.track_completed", cfg.Sync.TrackCompleted)
	v.SetDefault("sync.orphan_grace_period", cfg.Sync.OrphanGracePeriod)
	v.SetDefault("sync.watch_vault", cfg.Sync.WatchVault)
	v.SetDefault("dashboard.enabled", cfg.Dashboard.Enabled)
	v.SetDefault("dashboard.port", cfg.Dashboard.Port)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
}

// applyDerived fills fields whose defaults depend on other fields.
func applyDerived(cfg *Config) {
	if cfg.Vault.JournalPath == "" && cfg.Vault.Dir != "" {
		cfg.Vault.JournalPath = filepath.Join(cfg.Vault.Dir, ".tasklink", "journal.db")
	}
	if cfg.Log.File == "" && cfg.Vault.Dir != "" {
		cfg.Log.File = filepath.Join(cfg.Vault.Dir, ".tasklink", "tasklink.log")
	}
}

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg.Vault.Dir == "" {
		return fmt.Errorf("vault.dir must be set")
	}
	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must be set")
	}
	if cfg.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval %s too short (minimum 1s)", cfg.Sync.Interval)
	}
	switch cfg.Sync.CompletionTimestamp {
	case "remote", "sync_time":
	default:
		return fmt.Errorf("sync.completion_timestamp must be \"remote\" or \"sync_time\", got %q", cfg.Sync.CompletionTimestamp)
	}
	switch cfg.Sync.TimestampTiebreak {
	case "local", "remote":
	default:
		return fmt.Errorf("sync.timestamp_tiebreak must be \"local\" or \"remote\", got %q", cfg.Sync.TimestampTiebreak)
	}
	if cfg.Dashboard.Enabled && (cfg.Dashboard.Port < 0 || cfg.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port %d out of range", cfg.Dashboard.Port)
	}
	return nil
}
