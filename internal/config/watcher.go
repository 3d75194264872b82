package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and reports hot-applicable changes. It uses
// mtime + content hashing rather than fsnotify to stay dependency-free and
// to behave identically on bind-mounted files, where rename-based editors
// defeat inotify watches.
//
// Invalid or unparsable updates are logged and ignored; the previous valid
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(d Diff, cfg *Config)

	mu       sync.Mutex
	current  *Config
	lastSeen fileState

	done     chan struct{}
	stopOnce sync.Once
}

// fileState is the fingerprint of the config file as last read.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
// Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it in a background
// goroutine. onChange runs whenever the file changes in a way that can be
// applied without a restart; it receives the [Diff] and the full new config.
// Content changes that would need a restart update [Watcher.Current] but do
// not trigger the callback.
func NewWatcher(path string, onChange func(d Diff, cfg *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		onChange: onChange,
		interval: 5 * time.Second,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastSeen = st

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the config file and, if its content changed and is valid,
// swaps the current config and reports the hot-applicable diff.
func (w *Watcher) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	since := w.lastSeen.mtime
	w.mu.Unlock()
	if info.ModTime().Equal(since) {
		return
	}

	cfg, st, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: ignoring invalid config update", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if st.hash == w.lastSeen.hash {
		// Touched but identical content.
		w.lastSeen.mtime = st.mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastSeen = st
	w.mu.Unlock()

	d := Compare(old, cfg)
	if d.Empty() {
		slog.Info("config watcher: file changed but only restart-only fields differ; keeping runtime settings", "path", w.path)
		return
	}

	slog.Info("config watcher: applying configuration change",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"voice", d.VoiceChanged,
		"call_tuning", d.CallTuningChanged,
		"scheduler", d.SchedulerToggled,
	)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
}

// loadAndHash reads, parses and validates the config file, returning it with
// the fingerprint the change detector keys on.
func (w *Watcher) loadAndHash() (*Config, fileState, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fileState{}, err
	}
	st := fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}

	// Same pipeline as Load: the process may carry secrets in its
	// environment that the file deliberately omits.
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	FillFromEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fileState{}, err
	}
	return cfg, st, nil
}
