// Package watch turns changes to the input files into debounced re-run
// triggers.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// Watcher watches the directories holding a set of files and emits one
// trigger per burst of changes to those files.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// New starts watching the parent directories of paths. Directories are
// watched instead of files so that editors which replace a file by rename
// keep triggering.
func New(paths []string, debounce time.Duration, clock clockwork.Clock, logger *slog.Logger) (*Watcher, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		files:    make(map[string]bool, len(paths)),
		debounce: debounce,
		clock:    clock,
		logger:   logger,
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		logger.Info("watching directory", "dir", dir)
	}
	return w, nil
}

// Triggers returns a channel that receives a value after changes have been
// quiet for the debounce interval. Pending triggers coalesce. The channel is
// closed when ctx is done or the watcher fails.
func (w *Watcher) Triggers(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		w.loop(ctx, w.fsw.Events, w.fsw.Errors, out)
	}()
	return out
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if evt.Op&relevantOps == 0 {
		return false
	}
	return w.files[filepath.Clean(evt.Name)]
}

func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, out chan<- struct{}) {
	var (
		timer  clockwork.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !w.relevant(evt) {
				continue
			}
			w.logger.Debug("input changed", "file", evt.Name, "op", evt.Op.String())
			if timer == nil {
				timer = w.clock.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.Chan()
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		case <-timerC:
			timerC = nil
			w.logger.Info("inputs changed, scheduling run")
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}
