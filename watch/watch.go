// Package watch re-runs a scan whenever a manifest, lockfile or SBOM below a root changes.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ortelius/lockscan/util"
	"github.com/ortelius/lockscan/walker"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of writes (an install rewrites several files) into one scan.
const DefaultDebounce = 300 * time.Millisecond

// watchedNames are the files whose changes trigger a scan.
var watchedNames = []string{
	"package.json",
	"package-lock.json",
	"npm-shrinkwrap.json",
	"pnpm-lock.yaml",
	"pnpm-workspace.yaml",
	"pnpm-workspace.yml",
	"yarn.lock",
	"lerna.json",
	"bom.json",
	"sbom.json",
}

// IsRelevant reports whether a change to path can alter a scan result.
func IsRelevant(path string) bool {
	return util.Contains(watchedNames, filepath.Base(path))
}

// Options tunes a Watcher.
type Options struct {
	Walk     walker.Options // Directories registered for events
	Debounce time.Duration  // DefaultDebounce when zero
}

// Watcher delivers debounced change notifications for a directory tree.
type Watcher struct {
	root     string
	opts     Options
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration
}

// New registers root and every directory the walker would visit below it.
func New(root string, opts Options, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	w := &Watcher{
		root:     root,
		opts:     opts,
		watcher:  fw,
		logger:   util.OrNop(logger),
		debounce: opts.Debounce,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}

	if err := w.addRecursive(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return walker.Walk(dir, w.opts.Walk, func(path string, _ int) error {
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Cannot watch directory", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

// Run calls onChange after each burst of relevant changes until ctx ends. onChange runs on
// the watching goroutine, so scans never overlap. The watcher is closed when Run returns.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	defer w.watcher.Close()

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	trigger := func() {
		select {
		case pending <- struct{}{}:
		default:
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pending:
			onChange(ctx)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.watchNewDir(ev.Name)
				}
			}
			if !IsRelevant(ev.Name) {
				continue
			}
			w.logger.Debug("Change detected", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, trigger)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			w.logger.Warn("Watch error", zap.Error(err))
		}
	}
}

// watchNewDir registers a directory created after startup unless the walker would skip it.
func (w *Watcher) watchNewDir(dir string) {
	rel, err := filepath.Rel(w.root, dir)
	if err != nil || walker.IsIgnored(rel, w.opts.Walk.Ignore) {
		return
	}
	if err := w.addRecursive(dir); err != nil {
		w.logger.Debug("Cannot watch new directory", zap.String("dir", dir), zap.Error(err))
	}
}
