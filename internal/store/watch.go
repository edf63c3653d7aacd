package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever another process rewrites the file and
// calls onChange with a copy of the new envelope. Rewrites that leave the
// envelope unchanged, including the store's own, are not reported. Watch
// blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(Envelope)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// The file is replaced by rename, so watch its directory.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if env, changed := s.reload(); changed {
				slog.Debug("store changed on disk", "path", s.path, "op", event.Op.String())
				onChange(env)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("store watcher error", "path", s.path, "error", err)
		}
	}
}

// reload re-reads the file and reports whether the mirror changed.
func (s *Store) reload() (Envelope, bool) {
	env, _ := s.read()

	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(env, s.env) {
		return Envelope{}, false
	}
	s.env = env
	return s.env.Clone(), true
}
