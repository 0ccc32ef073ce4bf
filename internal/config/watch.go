package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"adhanbot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch reloads the config whenever its file changes, until ctx ends.
// Editors that replace the file are handled by watching the directory. A
// broken watcher is recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	backoff := watchBackoffMin
	for {
		started, err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			backoff = watchBackoffMin
		}
		wait := backoff + rand.N(backoff/2+1)
		m.log.Warn("config watcher stopped; restarting",
			logx.String("path", m.path),
			logx.Err(err),
			logx.Duration("backoff", wait),
		)
		backoff = min(backoff*2, watchBackoffMax)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one fsnotify watcher. started reports whether the watch
// was established before it failed.
func (m *Manager) watchOnce(ctx context.Context) (started bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	// one timer, reset on every event: a burst of writes reloads once
	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				debounce.Reset(reloadDebounce)
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, errors.New("error channel closed")
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.String("dir", dir))
				debounce.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(werr))
		case <-debounce.C:
			if err := m.reload(ctx); err != nil {
				m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			}
		}
	}
}
