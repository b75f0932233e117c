package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher keeps the committed config readable while watching the file for
// changes. A change that parses and validates is committed and pushed to the
// OnReload hook; a broken edit is logged and the previous config stays live.
type Watcher struct {
	path string
	log  zerolog.Logger

	mu  sync.RWMutex
	cfg *Config

	// OnReload, when set, runs after every successful commit.
	OnReload func(*Config)
}

func NewWatcher(path string, cfg *Config, log zerolog.Logger) *Watcher {
	return &Watcher{path: path, cfg: cfg, log: log}
}

func (w *Watcher) Get() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

func (w *Watcher) commit(cfg *Config) {
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}

// Run blocks until ctx is done. Editors replace files rather than rewrite
// them in place, so the parent directory is watched and events are debounced
// before a reload is attempted.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	base := filepath.Base(w.path)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		case <-pending:
			pending = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn().Err(err).Msg("config reload rejected; keeping previous config")
				continue
			}
			w.commit(cfg)
			w.log.Info().Str("path", w.path).Msg("config reloaded")
		}
	}
}
