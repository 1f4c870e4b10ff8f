package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/mgrkit/internal/cliconfig"
	"github.com/bft-labs/mgrkit/pkg/dispatch"
)

const longHelp = `Host a group of lifecycle managers behind one process.

mgrkit starts a heartbeat worker, the scheduled jobs from the config file,
an optional config watcher and an HTTP status API, then stops them in
reverse order on SIGINT or SIGTERM. Manager events can be mirrored to NATS.

Dispatch modes: sync, async, sync+ui, async+parallel, ... (see "mgrkit modes").`

var exampleUsage = strings.TrimSpace(`
  mgrkit --config $HOME/.mgrkit/config.toml --watch
  mgrkit --dispatch async+parallel --http-addr 127.0.0.1:9470
  mgrkit --nats-url nats://127.0.0.1:4222 --log-format json
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mgrkit:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "mgrkit",
		Short:         "Host lifecycle managers with configurable event dispatch",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := loadConfig(cmd, &cfg, cfgPath)
			if err != nil {
				return err
			}
			logger := cliconfig.Logger(cfg)
			logger.Info().Interface("config", cfg).Msg("configuration")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cfgFile, logger)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file, .toml or .yaml (default: $HOME/.mgrkit/config.toml)")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	root.Flags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	root.Flags().StringVar(&cfg.Dispatch, "dispatch", cfg.Dispatch, "default event dispatch mode")
	root.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "parallel dispatch workers (0 = number of CPUs)")
	root.Flags().IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "parallel dispatch queue size")
	root.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "status API listen address (empty disables it)")
	root.Flags().StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for the manager status snapshot (optional)")
	root.Flags().StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server to publish manager events to (optional)")
	root.Flags().StringVar(&cfg.NATSPrefix, "nats-prefix", cfg.NATSPrefix, "subject prefix for published events")
	root.Flags().DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "heartbeat worker interval")
	root.Flags().DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "time allowed for each manager to stop")
	root.Flags().BoolVar(&cfg.Watch, "watch", cfg.Watch, "reapply dispatch modes when the config file changes")

	root.AddCommand(newModesCmd())
	return root
}

// loadConfig layers the config file, then MGRKIT_* variables, under the
// flags that were set explicitly. It returns the config file in use, if any.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) (string, error) {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return "", err
		}
	} else {
		if cfgPath != "" {
			return "", fmt.Errorf("config file not found: %s", cfgPath)
		}
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	return cfgFile, nil
}

func newModesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List the dispatch modes and the policy each one selects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, m := range allModes() {
				if _, err := fmt.Fprintf(out, "%-20s %s\n", m.String(), m.Policy()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func allModes() []dispatch.Mode {
	modes := make([]dispatch.Mode, 0, 8)
	for _, s := range []bool{true, false} {
		for _, ui := range []bool{false, true} {
			for _, parallel := range []bool{false, true} {
				modes = append(modes, dispatch.Mode{Sync: s, UI: ui, Parallel: parallel})
			}
		}
	}
	return modes
}
