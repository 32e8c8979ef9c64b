package watchlist

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"
)

// Watcher reloads a watchlist file when it changes.
type Watcher struct {
	path string
	// debounce coalesces the bursts of events editors produce on save.
	debounce     time.Duration
	pollInterval time.Duration
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path, debounce: 200 * time.Millisecond, pollInterval: 5 * time.Second}
}

// Run calls onChange with the reloaded list after every change until ctx is
// done. The parent directory is watched so that files replaced on save are
// still seen. Without fsnotify the file is polled.
func (w *Watcher) Run(ctx context.Context, onChange func(*List)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		zlog.Info().Msgf("watchlist: fsnotify unavailable, polling %s: %v", w.path, err)
		return w.poll(ctx, onChange)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		zlog.Info().Msgf("watchlist: cannot watch %s, polling: %v", w.path, err)
		return w.poll(ctx, onChange)
	}

	target := filepath.Clean(w.path)
	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			trigger = timer.C
		case <-trigger:
			trigger = nil
			w.reload(onChange)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			zlog.Warn().Msgf("watchlist: watcher error: %v", err)
		}
	}
}

func (w *Watcher) poll(ctx context.Context, onChange func(*List)) error {
	lastMod := w.modTime()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if mod := w.modTime(); mod.After(lastMod) {
				lastMod = mod
				w.reload(onChange)
			}
		}
	}
}

func (w *Watcher) modTime() time.Time {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (w *Watcher) reload(onChange func(*List)) {
	list, err := Load(w.path)
	if err != nil {
		// A save in progress can leave the file missing for a moment.
		zlog.Warn().Msgf("watchlist: reload failed: %v", err)
		return
	}
	zlog.Info().Msgf("watchlist: reloaded %d entries from %s", list.Len(), w.path)
	onChange(list)
}
