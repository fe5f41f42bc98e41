package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// knownSinkTypes lists every sink adapter the dispatcher can build.
var knownSinkTypes = map[string]bool{
	"dummy":   true,
	"rclone":  true,
	"plex":    true,
	"kavita":  true,
	"discord": true,
	"command": true,
	"multi":   true,
}

// knownActions mirrors DefaultActions for membership checks.
var knownActions = func() map[string]bool {
	m := make(map[string]bool, len(DefaultActions))
	for _, a := range DefaultActions {
		m[a] = true
	}

	return m
}()

// Validate checks the whole configuration and returns all problems joined
// into one error. Configuration errors are the only fatal startup errors,
// so the report should be complete rather than first-failure.
func (c *Config) Validate() error {
	var errs []error

	check := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		check("logging.level %q: must be debug, info, warn, or error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		check("logging.format %q: must be auto, text, or json", c.Logging.Format)
	}

	for _, p := range c.Logging.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			check("logging.redact_patterns %q: %v", p, err)
		}
	}

	if _, err := time.ParseDuration(c.Drive.CacheTTL); err != nil {
		check("drive.cache_ttl %q: %v", c.Drive.CacheTTL, err)
	}

	if c.Drive.CacheMaxEntries < 1 {
		check("drive.cache_max_entries must be positive, got %d", c.Drive.CacheMaxEntries)
	}

	if len(c.Pollers) == 0 {
		check("at least one [[poller]] is required")
	}

	seen := make(map[string]bool, len(c.Pollers))

	for i := range c.Pollers {
		p := &c.Pollers[i]

		if seen[p.Name] {
			check("duplicate poller name %q", p.Name)
		}

		seen[p.Name] = true

		errs = append(errs, p.validate()...)
	}

	return errors.Join(errs...)
}

func (p *PollerConfig) validate() []error {
	var errs []error

	check := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: poller %q: "+format,
			append([]any{p.Name}, args...)...))
	}

	if len(p.Targets) == 0 {
		check("targets is empty")
	}

	for _, t := range p.Targets {
		if id, _, _ := strings.Cut(t, "#"); id == "" {
			check("target %q: missing folder id", t)
		}
	}

	for _, field := range []struct{ name, value string }{
		{"polling_interval", p.PollingInterval},
		{"polling_delay", p.PollingDelay},
		{"dispatch_interval", p.DispatchInterval},
		{"buffer_interval", p.BufferInterval},
		{"task_check_interval", p.TaskCheckInterval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			check("%s %q: %v", field.name, field.value, err)
		}
	}

	if p.PageSize < 1 {
		check("page_size must be positive, got %d", p.PageSize)
	}

	for _, pattern := range append(append([]string{}, p.Patterns...), p.IgnorePatterns...) {
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			check("pattern %q: %v", pattern, err)
		}
	}

	for _, action := range p.Actions {
		if !knownActions[action] {
			check("unknown action %q", action)
		}
	}

	for j := range p.Sinks {
		errs = append(errs, p.Sinks[j].validate(p.Name)...)
	}

	return errs
}

func (s *SinkConfig) validate(poller string) []error {
	var errs []error

	check := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: poller %q sink %q: "+format,
			append([]any{poller, s.Name}, args...)...))
	}

	if !knownSinkTypes[s.Type] {
		check("unknown sink type %q", s.Type)
		return errs
	}

	if s.BufferInterval != "" {
		if _, err := time.ParseDuration(s.BufferInterval); err != nil {
			check("buffer_interval %q: %v", s.BufferInterval, err)
		}
	}

	for _, m := range s.Mappings {
		if len(m) != 2 {
			check("mapping %v: want [from, to]", m)
		}
	}

	switch s.Type {
	case "rclone", "plex", "kavita", "discord":
		if s.URL == "" && s.Type != "discord" {
			check("url is required")
		}
	case "command":
		if s.Command == "" {
			check("command is required")
		}

		if _, err := time.ParseDuration(s.Timeout); err != nil {
			check("timeout %q: %v", s.Timeout, err)
		}
	case "multi":
		if len(s.Rclones)+len(s.Plexes)+len(s.Kavitas) == 0 {
			check("multi sink has no backends")
		}

		for _, group := range []struct {
			kind     string
			backends []SinkConfig
		}{
			{"rclone", s.Rclones},
			{"plex", s.Plexes},
			{"kavita", s.Kavitas},
		} {
			for i := range group.backends {
				nested := group.backends[i]
				nested.Type = group.kind
				errs = append(errs, nested.validate(poller)...)
			}
		}
	}

	switch s.Type {
	case "plex":
		if s.Token == "" {
			check("token is required")
		}
	case "kavita":
		if s.APIKey == "" {
			check("apikey is required")
		}
	case "discord":
		if s.URL == "" && (s.WebhookID == "" || s.WebhookToken == "") {
			check("url or webhook_id/webhook_token is required")
		}
	}

	return errs
}
