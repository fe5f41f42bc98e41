package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrNoConfig is returned by Load when no explicit path was given and none
// of the default locations holds a config file.
var ErrNoConfig = errors.New("config: no configuration file found")

const configFileName = "drivewatch.toml"

// DefaultPaths returns the ordered list of locations searched when no
// config path is given: the working directory first, then the user
// config directory.
func DefaultPaths() []string {
	paths := []string{configFileName}

	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "drivewatch", configFileName))
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "drivewatch", configFileName))
	}

	return paths
}

// Load reads, decodes, merges, and validates the configuration. With an
// empty path it searches DefaultPaths in order. The returned Config has
// all defaults applied: callers never see unset poller options.
// The second return value is the path actually loaded.
func Load(path string) (*Config, string, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, "", err
	}

	var cfg Config

	meta, err := toml.DecodeFile(resolved, &cfg)
	if err != nil {
		return nil, resolved, fmt.Errorf("config: parsing %s: %w", resolved, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		// Unknown keys are warnings at the CLI layer, hard errors here would
		// break forward compatibility. Report the first one for diagnosis.
		return nil, resolved, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), resolved)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}

	return &cfg, resolved, nil
}

// resolvePath returns the explicit path if given, otherwise the first
// existing default location.
func resolvePath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config: %s: %w", path, err)
		}

		return path, nil
	}

	for _, candidate := range DefaultPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultPaths())
}

// applyDefaults merges [defaults] under each poller and fills remaining
// gaps with the package fallbacks. After this every poller and sink is
// fully specified.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}

	if len(c.Logging.RedactPatterns) == 0 {
		c.Logging.RedactPatterns = DefaultRedactPatterns
	}

	if c.Logging.RedactSubstitute == "" {
		c.Logging.RedactSubstitute = "<REDACTED>"
	}

	if len(c.Drive.Scopes) == 0 {
		c.Drive.Scopes = []string{"drive.readonly", "drive.activity.readonly"}
	}

	if c.Drive.CacheTTL == "" {
		c.Drive.CacheTTL = DefaultCacheTTL.String()
	}

	if c.Drive.CacheMaxEntries == 0 {
		c.Drive.CacheMaxEntries = DefaultCacheMaxEntries
	}

	d := &c.Defaults
	fillDefaults(d, &PollerDefaults{
		PollingInterval:   DefaultPollingInterval.String(),
		PollingDelay:      DefaultPollingDelay.String(),
		DispatchInterval:  DefaultDispatchInterval.String(),
		BufferInterval:    DefaultBufferInterval.String(),
		TaskCheckInterval: DefaultTaskCheckInterval.String(),
		PageSize:          DefaultPageSize,
		Patterns:          []string{},
		IgnorePatterns:    []string{},
		Actions:           DefaultActions,
	})

	for i := range c.Pollers {
		p := &c.Pollers[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("poller-%d", i)
		}

		fillDefaults(&p.PollerDefaults, d)

		for j := range p.Sinks {
			s := &p.Sinks[j]
			if s.Name == "" {
				s.Name = fmt.Sprintf("%s-%s-%d", p.Name, s.Type, j)
			}

			if s.Timeout == "" {
				s.Timeout = DefaultCommandTimeout.String()
			}
		}
	}
}

// fillDefaults copies each unset field of dst from src. An explicit
// empty list (e.g. actions = []) is indistinguishable from unset in
// TOML-decoded slices, so empty slices inherit too; the actions
// fallback is the full set, which preserves the original semantics.
func fillDefaults(dst, src *PollerDefaults) {
	if dst.PollingInterval == "" {
		dst.PollingInterval = src.PollingInterval
	}

	if dst.PollingDelay == "" {
		dst.PollingDelay = src.PollingDelay
	}

	if dst.DispatchInterval == "" {
		dst.DispatchInterval = src.DispatchInterval
	}

	if dst.BufferInterval == "" {
		dst.BufferInterval = src.BufferInterval
	}

	if dst.TaskCheckInterval == "" {
		dst.TaskCheckInterval = src.TaskCheckInterval
	}

	if dst.PageSize == 0 {
		dst.PageSize = src.PageSize
	}

	if dst.IgnoreFolder == nil {
		if src.IgnoreFolder != nil {
			dst.IgnoreFolder = src.IgnoreFolder
		} else {
			t := true
			dst.IgnoreFolder = &t
		}
	}

	if len(dst.Patterns) == 0 {
		dst.Patterns = src.Patterns
	}

	if len(dst.IgnorePatterns) == 0 {
		dst.IgnorePatterns = src.IgnorePatterns
	}

	if len(dst.Actions) == 0 {
		dst.Actions = src.Actions
	}
}
