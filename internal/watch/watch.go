// Package watch re-runs a task whenever its inputs change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/cargo-task/internal/logging"
)

const DefaultDebounce = 300 * time.Millisecond

// RunFunc performs one run. Its error is logged and does not stop watching.
type RunFunc func(ctx context.Context) error

// Watcher triggers runs on changes to Files or to anything directly inside
// Dirs. Parent directories are watched instead of the files themselves so
// editors that save by rename are still seen.
type Watcher struct {
	Files    []string
	Dirs     []string
	Debounce time.Duration
	Logger   *logging.Logger
}

func New(files, dirs []string, debounce time.Duration, logger *logging.Logger) *Watcher {
	return &Watcher{Files: files, Dirs: dirs, Debounce: debounce, Logger: logger.Component("watch")}
}

// Run calls run once, then again after every debounced burst of changes,
// until ctx is cancelled. Runs never overlap; changes made during a run
// cause exactly one more run.
func (w *Watcher) Run(ctx context.Context, run RunFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	files, dirs := w.targets()
	watched := make(map[string]bool)
	for dir := range dirs {
		watched[dir] = true
	}
	for file := range files {
		watched[filepath.Dir(file)] = true
	}
	for dir := range watched {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.Logger.Debug("watching %s", dir)
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.eventLoop(gctx, fw, files, dirs, debounce, trigger)
	})
	g.Go(func() error {
		return w.runLoop(gctx, run, trigger)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Watcher) targets() (map[string]bool, map[string]bool) {
	files := make(map[string]bool, len(w.Files))
	for _, f := range w.Files {
		files[filepath.Clean(f)] = true
	}
	dirs := make(map[string]bool, len(w.Dirs))
	for _, d := range w.Dirs {
		dirs[filepath.Clean(d)] = true
	}
	return files, dirs
}

func relevant(event fsnotify.Event, files, dirs map[string]bool) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	return files[name] || dirs[filepath.Dir(name)]
}

func (w *Watcher) eventLoop(ctx context.Context, fw *fsnotify.Watcher, files, dirs map[string]bool, debounce time.Duration, trigger chan<- struct{}) error {
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if relevant(event, files, dirs) {
				w.Logger.Debug("fsnotify event=%s file=%s", event.Op, event.Name)
				timer.Reset(debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Error("fsnotify error=%v", err)
		case <-timer.C:
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	}
}

func (w *Watcher) runLoop(ctx context.Context, run RunFunc, trigger <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
			if err := run(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.Logger.Error("%v", err)
			}
			w.Logger.Info("waiting for changes")
		}
	}
}
