// Package config implements TOML configuration loading, validation, and
// default-path resolution for drivewatch. Global [defaults] values merge
// under per-poller overrides: a poller field left unset inherits the
// global value, and a sink with no buffer_interval inherits its poller's.
package config

import (
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Drive    DriveConfig    `toml:"drive"`
	State    StateConfig    `toml:"state"`
	Defaults PollerDefaults `toml:"defaults"`
	Pollers  []PollerConfig `toml:"poller"`
}

// LoggingConfig controls log output: level, handler format, and the
// redaction patterns applied to every record before it is written.
type LoggingConfig struct {
	Level            string   `toml:"level"`  // debug, info, warn, error
	Format           string   `toml:"format"` // auto, text, json
	RedactPatterns   []string `toml:"redact_patterns"`
	RedactSubstitute string   `toml:"redact_substitute"`
}

// DriveConfig holds Google Drive API credentials and the path-resolution
// cache tuning. Scopes default to the read-only Drive and Drive Activity
// scopes when empty.
type DriveConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RefreshToken string   `toml:"refresh_token"`
	AccessToken  string   `toml:"access_token"`
	Scopes       []string `toml:"scopes"`

	CacheEnabled    bool   `toml:"cache_enabled"`
	CacheTTL        string `toml:"cache_ttl"`
	CacheMaxEntries int    `toml:"cache_max_entries"`
}

// StateConfig controls cursor persistence. An empty path disables it:
// each poller then starts its read window at startup time.
type StateConfig struct {
	Path string `toml:"path"`
}

// PollerDefaults holds the per-poller options that may be set globally
// under [defaults] and overridden per poller. Duration fields are TOML
// strings in time.ParseDuration syntax.
type PollerDefaults struct {
	PollingInterval   string   `toml:"polling_interval"`
	PollingDelay      string   `toml:"polling_delay"`
	DispatchInterval  string   `toml:"dispatch_interval"`
	BufferInterval    string   `toml:"buffer_interval"`
	TaskCheckInterval string   `toml:"task_check_interval"`
	PageSize          int      `toml:"page_size"`
	IgnoreFolder      *bool    `toml:"ignore_folder"`
	Patterns          []string `toml:"patterns"`
	IgnorePatterns    []string `toml:"ignore_patterns"`
	Actions           []string `toml:"actions"`
}

// PollerConfig describes one poller: its watch targets, its option
// overrides, and its ordered sink list. Sink order in the file is the
// dispatch order.
type PollerConfig struct {
	Name    string   `toml:"name"`
	Targets []string `toml:"targets"` // "<folderID>" or "<folderID>#<mapped root>"

	PollerDefaults

	Sinks []SinkConfig `toml:"sink"`
}

// SinkConfig describes one downstream sink. Type selects the adapter;
// the remaining fields are type-specific and ignored by other adapters.
type SinkConfig struct {
	Type string `toml:"type"` // dummy, rclone, plex, kavita, discord, command, multi
	Name string `toml:"name"`

	// BufferInterval > 0 enables per-folder coalescing for this sink.
	// Empty inherits the poller's buffer_interval; "0s" disables.
	BufferInterval string `toml:"buffer_interval"`

	// Mappings is an ordered prefix substitution table applied to every
	// activity path before the backend call: [["/GDRIVE", "/mnt/gd"], ...].
	Mappings [][]string `toml:"mappings"`

	URL    string `toml:"url"`
	APIKey string `toml:"apikey"`
	Token  string `toml:"token"`

	WebhookID    string `toml:"webhook_id"`
	WebhookToken string `toml:"webhook_token"`

	Command           string `toml:"command"`
	WaitForProcess    bool   `toml:"wait_for_process"`
	DropDuringProcess bool   `toml:"drop_during_process"`
	Timeout           string `toml:"timeout"`

	// Async makes the rclone sink submit refreshes as background jobs and
	// report task handles for the task monitor.
	Async bool `toml:"async"`

	// Backend groups for the multi fan-out sink.
	Rclones []SinkConfig `toml:"rclone"`
	Plexes  []SinkConfig `toml:"plex"`
	Kavitas []SinkConfig `toml:"kavita"`
}

// Fallback values applied when neither the poller nor [defaults] sets an option.
const (
	DefaultPollingInterval   = 60 * time.Second
	DefaultPollingDelay      = 60 * time.Second
	DefaultDispatchInterval  = 1 * time.Second
	DefaultBufferInterval    = 30 * time.Second
	DefaultTaskCheckInterval = 0 * time.Second // disabled
	DefaultPageSize          = 100
	DefaultCacheTTL          = 10 * time.Minute
	DefaultCacheMaxEntries   = 64
	DefaultCommandTimeout    = 5 * time.Minute
)

// DefaultActions is the full Drive Activity action set, used when no
// allow-list is configured.
var DefaultActions = []string{
	"create", "edit", "move", "rename", "delete", "restore",
	"permissionChange", "comment", "dlpChange", "reference",
	"settingsChange", "appliedLabelChange",
}

// DefaultRedactPatterns scrub credentials that sinks put into request
// URLs and log attrs. Each pattern's capture groups are replaced.
var DefaultRedactPatterns = []string{
	`(?i)apikey=([^&\s'"]+)`,
	`(?i)['"]?(?:apikey|token|X-Plex-Token)['"]?\s*[:=]\s*['"]?([^'"&\s,{}]+)`,
	`webhooks/([^/\s]+)/([^/\s]+)`,
}

// Duration parses a TOML duration string, returning fallback for "".
// Validate has already rejected malformed strings by the time callers
// use this, so parse errors degrade to the fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}
