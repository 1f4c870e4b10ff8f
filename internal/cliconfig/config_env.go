package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "MGRKIT_"

// ApplyEnvConfig applies MGRKIT_* environment variables to cfg. Values
// override file config but not flags that have been explicitly set.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", os.Getenv(EnvPrefix+"LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv(EnvPrefix+"LOG_FORMAT"), &cfg.LogFormat)
	s.setString("dispatch", os.Getenv(EnvPrefix+"DISPATCH"), &cfg.Dispatch)
	s.setString("http-addr", os.Getenv(EnvPrefix+"HTTP_ADDR"), &cfg.HTTPAddr)
	s.setString("state-dir", os.Getenv(EnvPrefix+"STATE_DIR"), &cfg.StateDir)
	s.setString("nats-url", os.Getenv(EnvPrefix+"NATS_URL"), &cfg.NATSURL)
	s.setString("nats-prefix", os.Getenv(EnvPrefix+"NATS_PREFIX"), &cfg.NATSPrefix)

	if err := s.setIntFromString("workers", os.Getenv(EnvPrefix+"WORKERS"), &cfg.Workers); err != nil {
		return err
	}
	if err := s.setIntFromString("queue-size", os.Getenv(EnvPrefix+"QUEUE_SIZE"), &cfg.QueueSize); err != nil {
		return err
	}
	if err := s.setDuration("heartbeat", os.Getenv(EnvPrefix+"HEARTBEAT_INTERVAL"), &cfg.HeartbeatInterval); err != nil {
		return err
	}
	if err := s.setDuration("stop-timeout", os.Getenv(EnvPrefix+"STOP_TIMEOUT"), &cfg.StopTimeout); err != nil {
		return err
	}

	s.setBoolFromString("watch", os.Getenv(EnvPrefix+"WATCH"), &cfg.Watch)
	return nil
}
