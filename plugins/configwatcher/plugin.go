// Package configwatcher reapplies dispatch modes when the config file
// changes. The watcher is itself a manager, so it is started and stopped
// with the managers it reconfigures.
package configwatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/mgrkit/pkg/dispatch"
	"github.com/bft-labs/mgrkit/pkg/log"
	"github.com/bft-labs/mgrkit/pkg/manager"
)

// ErrNoLoader is returned by Start when the watcher has no Loader.
var ErrNoLoader = errors.New("configwatcher: no loader")

// Modes holds the dispatch modes read from the config file.
type Modes struct {
	Default  dispatch.Mode
	Managers map[string]dispatch.Mode
}

// For returns the mode configured for the named manager.
func (m Modes) For(name string) dispatch.Mode {
	if mode, ok := m.Managers[name]; ok {
		return mode
	}
	return m.Default
}

// Loader reads the dispatch modes from path.
type Loader func(path string) (Modes, error)

// Target is a manager whose dispatch mode can be replaced.
type Target interface {
	Name() string
	SetDispatchMode(dispatch.Mode)
}

// Config holds configuration options for the watcher.
type Config struct {
	// DebounceDelay is the delay to wait after a file change before
	// reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DebounceDelay: 100 * time.Millisecond}
}

// Watcher watches one config file.
type Watcher struct {
	*manager.Base

	path          string
	load          Loader
	debounceDelay time.Duration

	mu       sync.Mutex
	targets  []Target
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer

	reloads atomic.Int64
}

// New creates a watcher for path.
func New(path string, load Loader, cfg Config, opts ...manager.Option) *Watcher {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultConfig().DebounceDelay
	}
	w := &Watcher{
		path:          filepath.Clean(path),
		load:          load,
		debounceDelay: cfg.DebounceDelay,
	}
	w.Base = manager.NewBase(w, append([]manager.Option{manager.WithName("configwatcher")}, opts...)...)
	return w
}

// Register adds managers to reconfigure on reload.
func (w *Watcher) Register(targets ...Target) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets = append(w.targets, targets...)
}

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Reload reads the config file and applies its modes to every registered
// manager.
func (w *Watcher) Reload() error {
	modes, err := w.load(w.path)
	if err != nil {
		w.Logger().Error("config reload failed", log.String("path", w.path), log.Err(err))
		return err
	}

	w.mu.Lock()
	targets := append([]Target(nil), w.targets...)
	w.mu.Unlock()

	for _, t := range targets {
		mode := modes.For(t.Name())
		t.SetDispatchMode(mode)
		w.Logger().Debug("dispatch mode applied",
			log.String("target", t.Name()),
			log.String("mode", mode.String()),
		)
	}
	w.reloads.Add(1)
	w.Logger().Info("config reloaded", log.String("path", w.path), log.Int("targets", len(targets)))
	return nil
}

// Start begins watching the config file's directory.
func (w *Watcher) Start() (manager.State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return w.State(), nil
	}
	w.SetState(manager.StateStarting)
	w.OnStart(manager.PhaseBefore)

	fail := func(err error) (manager.State, error) {
		w.SetState(manager.StateFaulted)
		w.OnStart(manager.PhaseFailed, manager.WithErr(err))
		return w.State(), err
	}
	if w.load == nil {
		return fail(ErrNoLoader)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fail(err)
	}
	// Watch the directory: editors replace files by rename.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fail(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.watchLoop(ctx, fw)

	w.Logger().Info("config watcher started", log.String("path", w.path))
	w.SetState(manager.StateStarted)
	w.OnStart(manager.PhaseAfter)
	return w.State(), nil
}

// Stop stops watching and cancels a pending reload.
func (w *Watcher) Stop() (manager.State, error) {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return w.State(), nil
	}
	w.SetState(manager.StateStopping)
	w.OnStop(manager.PhaseBefore)

	w.cancel()
	w.cancel = nil
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.SetState(manager.StateStopped)
	w.OnStop(manager.PhaseAfter)
	return w.State(), nil
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceReload(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.Logger().Error("config watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) debounceReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		_ = w.Reload()
	})
}
