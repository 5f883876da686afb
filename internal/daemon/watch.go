package daemon

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/vmlinuzx/llmc-sub012/internal/scanner"
)

// startWatcher watches the repository tree and turns file activity
// into wake-up hints. Watching is best effort: on platforms or trees
// where it fails, the daemon still polls on its tick.
func (d *Daemon) startWatcher(ctx context.Context) (stop func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("watcher_unavailable", slog.String("error", err.Error()))
		return func() {}
	}

	added := 0
	walkErr := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		if path != d.root && scanner.SkipDirName(entry.Name()) {
			return filepath.SkipDir
		}
		if werr := watcher.Add(path); werr == nil {
			added++
		}
		return nil
	})
	if walkErr != nil {
		slog.Warn("watcher_walk_failed", slog.String("error", walkErr.Error()))
	}
	slog.Debug("watcher_started", slog.Int("dirs", added))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if d.relevantEvent(ev) {
					if ev.Op.Has(fsnotify.Create) {
						d.watchNewDir(watcher, ev.Name)
					}
					d.hint()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("watcher_error", slog.String("error", err.Error()))
			}
		}
	}()

	return func() { _ = watcher.Close() }
}

// relevantEvent drops noise from bookkeeping paths and pure chmods.
func (d *Daemon) relevantEvent(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(d.root, ev.Name)
	if err != nil {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if seg != "." && scanner.SkipDirName(seg) {
			return false
		}
	}
	return true
}

// watchNewDir registers a freshly created directory so events under it
// are seen without a rescan.
func (d *Daemon) watchNewDir(watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if scanner.SkipDirName(filepath.Base(path)) {
		return
	}
	_ = watcher.Add(path)
}

// hint wakes the loop; the channel holds one pending hint, extras are
// dropped.
func (d *Daemon) hint() {
	select {
	case d.hints <- struct{}{}:
	default:
	}
}
