package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/mgrkit/pkg/dispatch"
)

// Defaults.
const (
	DefaultHTTPAddr   = "127.0.0.1:9470"
	DefaultNATSPrefix = "mgrkit"
)

// Config holds CLI configuration for mgrkit.
type Config struct {
	LogLevel  string
	LogFormat string

	// Dispatch is the default dispatch mode, see dispatch.ParseMode.
	Dispatch  string
	Workers   int
	QueueSize int

	HTTPAddr string

	// StateDir, when set, holds the status snapshot written on each
	// heartbeat.
	StateDir string

	NATSURL    string
	NATSPrefix string

	HeartbeatInterval time.Duration
	StopTimeout       time.Duration
	Watch             bool

	// Managers holds per-manager dispatch overrides keyed by name.
	Managers map[string]ManagerConfig
	Jobs     []JobConfig
}

// ManagerConfig holds per-manager settings.
type ManagerConfig struct {
	Dispatch string `toml:"dispatch" yaml:"dispatch"`
}

// JobConfig is one scheduled job.
type JobConfig struct {
	Name string `toml:"name" yaml:"name"`
	Spec string `toml:"spec" yaml:"spec"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		LogFormat:         "console",
		Dispatch:          dispatch.DefaultMode().String(),
		QueueSize:         64,
		HTTPAddr:          DefaultHTTPAddr,
		NATSPrefix:        DefaultNATSPrefix,
		HeartbeatInterval: 10 * time.Second,
		StopTimeout:       30 * time.Second,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	case "":
		c.LogLevel = "info"
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "console", "json":
	case "":
		c.LogFormat = "console"
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	if c.Dispatch == "" {
		c.Dispatch = dispatch.DefaultMode().String()
	}
	if _, err := dispatch.ParseMode(c.Dispatch); err != nil {
		return err
	}
	for name, mc := range c.Managers {
		if mc.Dispatch == "" {
			continue
		}
		if _, err := dispatch.ParseMode(mc.Dispatch); err != nil {
			return fmt.Errorf("manager %s: %w", name, err)
		}
	}

	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive")
	}

	if c.NATSPrefix == "" {
		c.NATSPrefix = DefaultNATSPrefix
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("job %d: name is required", i)
		}
		if j.Spec == "" {
			return fmt.Errorf("job %s: spec is required", j.Name)
		}
		if seen[j.Name] {
			return fmt.Errorf("job %s: duplicate name", j.Name)
		}
		seen[j.Name] = true
	}
	return nil
}

// DispatchModes returns the parsed default mode and per-manager overrides.
// Call Validate first.
func (c *Config) DispatchModes() (dispatch.Mode, map[string]dispatch.Mode, error) {
	def, err := dispatch.ParseMode(c.Dispatch)
	if err != nil {
		return dispatch.Mode{}, nil, err
	}
	overrides := make(map[string]dispatch.Mode, len(c.Managers))
	for name, mc := range c.Managers {
		if mc.Dispatch == "" {
			continue
		}
		m, err := dispatch.ParseMode(mc.Dispatch)
		if err != nil {
			return dispatch.Mode{}, nil, fmt.Errorf("manager %s: %w", name, err)
		}
		overrides[name] = m
	}
	return def, overrides, nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
