// Package inbox watches a drop directory for announcement exports and
// publishes each new one.
package inbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/meetupwiki/internal/checksum"
)

// settle is how long a file must stay quiet before it is handled.
const settle = 200 * time.Millisecond

// HandleFunc is called once per settled export with its absolute path.
type HandleFunc func(ctx context.Context, path string) error

// IsExport reports whether name looks like an HTML mail export.
func IsExport(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}

// Watch watches dir until ctx is cancelled. Exports already in dir when
// Watch starts, and exports that are created or written later, are handled
// after they settle, one at a time on the calling goroutine. A file whose
// content was already handed to handle is skipped, even when handle failed:
// failed publishes are not retried until the file changes.
func Watch(ctx context.Context, dir string, logger *slog.Logger, handle HandleFunc) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("inbox: started", slog.String("dir", dir))

	pending := make(map[string]struct{})
	seen := make(map[string]string)

	var settleTimer *time.Timer
	var settleCh <-chan time.Time
	scheduleSettle := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(settle)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settle)
		}
	}

	// Pick up exports dropped while the watcher was not running.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && IsExport(e.Name()) {
			pending[filepath.Join(dir, e.Name())] = struct{}{}
		}
	}
	if len(pending) > 0 {
		logger.Info("inbox: found existing exports", slog.Int("count", len(pending)))
		scheduleSettle()
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("inbox: stopped")
			return nil

		case <-settleCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				process(ctx, p, seen, logger, handle)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !IsExport(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[ev.Name] = struct{}{}
			scheduleSettle()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func process(ctx context.Context, path string, seen map[string]string, logger *slog.Logger, handle HandleFunc) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("inbox: read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	sum := checksum.Sum(data)
	if seen[path] == sum {
		logger.Debug("inbox: unchanged, skipping", slog.String("path", path))
		return
	}
	seen[path] = sum

	logger.Info("inbox: export received", slog.String("path", path), slog.String("checksum", checksum.Short(data)))
	if err := handle(ctx, path); err != nil {
		logger.Error("inbox: handle failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}
