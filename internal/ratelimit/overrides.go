package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// overridesFile is the on-disk shape of per-address limit overrides.
type overridesFile struct {
	Limits map[string]int `json:"limits"`
}

// LoadOverrides replaces the per-address limit overrides from a JSON file of
// the form {"limits": {"10.0.0.5": 200}}.
func (l *Limiter) LoadOverrides(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f overridesFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}

	next := make(map[string]int, len(f.Limits))
	for addr, lim := range f.Limits {
		if lim > 0 {
			next[addr] = lim
		}
	}

	l.overrideMu.Lock()
	l.overrides = next
	l.overrideMu.Unlock()
	l.log.Info("ratelimit.overrides.load", slog.String("path", path), slog.Int("count", len(next)))
	return nil
}

// WatchOverrides loads path and reloads it whenever the file changes, until
// ctx is done. Editors often replace rather than write in place, so the
// watch is on the parent directory and filtered by name.
func (l *Limiter) WatchOverrides(ctx context.Context, path string) error {
	if err := l.LoadOverrides(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := l.LoadOverrides(path); err != nil {
					l.log.Warn("ratelimit.overrides.reload.fail", slog.String("err", err.Error()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Warn("ratelimit.overrides.watch.err", slog.String("err", err.Error()))
			}
		}
	}()
	return nil
}
