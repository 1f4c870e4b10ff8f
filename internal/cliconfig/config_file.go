package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config but uses strings for durations to make TOML
// and YAML friendly.
type FileConfig struct {
	LogLevel          string                   `toml:"log_level" yaml:"log_level"`
	LogFormat         string                   `toml:"log_format" yaml:"log_format"`
	Dispatch          string                   `toml:"dispatch" yaml:"dispatch"`
	Workers           int                      `toml:"workers" yaml:"workers"`
	QueueSize         int                      `toml:"queue_size" yaml:"queue_size"`
	HTTPAddr          *string                  `toml:"http_addr" yaml:"http_addr"`
	StateDir          string                   `toml:"state_dir" yaml:"state_dir"`
	NATSURL           string                   `toml:"nats_url" yaml:"nats_url"`
	NATSPrefix        string                   `toml:"nats_prefix" yaml:"nats_prefix"`
	HeartbeatInterval string                   `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	StopTimeout       string                   `toml:"stop_timeout" yaml:"stop_timeout"`
	Watch             *bool                    `toml:"watch" yaml:"watch"`
	Managers          map[string]ManagerConfig `toml:"managers" yaml:"managers"`
	Jobs              []JobConfig              `toml:"jobs" yaml:"jobs"`
}

// LoadFileConfig reads and parses a config file. The format is chosen by
// extension: .toml, or .yaml/.yml.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fc, fmt.Errorf("unsupported config extension: %q", ext)
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.mgrkit/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".mgrkit", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("dispatch", fc.Dispatch, &cfg.Dispatch)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setString("nats-url", fc.NATSURL, &cfg.NATSURL)
	s.setString("nats-prefix", fc.NATSPrefix, &cfg.NATSPrefix)

	// An empty http_addr disables the status API, so it is a pointer.
	if fc.HTTPAddr != nil && !changed["http-addr"] {
		cfg.HTTPAddr = *fc.HTTPAddr
	}

	s.setInt("workers", fc.Workers, &cfg.Workers)
	s.setInt("queue-size", fc.QueueSize, &cfg.QueueSize)

	if err := s.setDuration("heartbeat", fc.HeartbeatInterval, &cfg.HeartbeatInterval); err != nil {
		return err
	}
	if err := s.setDuration("stop-timeout", fc.StopTimeout, &cfg.StopTimeout); err != nil {
		return err
	}

	s.setBool("watch", fc.Watch, &cfg.Watch)

	if len(fc.Managers) > 0 {
		cfg.Managers = fc.Managers
	}
	if len(fc.Jobs) > 0 {
		cfg.Jobs = fc.Jobs
	}
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
