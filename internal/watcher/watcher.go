// Package watcher turns file system events below a location into debounced
// batches of resource changes.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/arbor/internal/resource"
)

// Handler receives one debounced batch.
type Handler func(ctx context.Context, changes []resource.Change)

type Option func(*Watcher)

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher recursively watches every non-ignored directory below root.
type Watcher struct {
	fsw     *fsnotify.Watcher
	root    string
	ignorer *resource.Ignorer
	logger  *slog.Logger
	changes chan resource.Change
}

// New creates a watcher for root. Call Close when done.
func New(root string, ignorer *resource.Ignorer, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsw:     fsw,
		root:    root,
		ignorer: ignorer,
		logger:  slog.New(slog.DiscardHandler),
		changes: make(chan resource.Change, 256),
	}
	for _, opt := range opts {
		opt(w)
	}
	if _, err := w.addTree(root, false); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run feeds debounced batches to handle until ctx is done. Batches are
// handled sequentially on the calling goroutine.
func (w *Watcher) Run(ctx context.Context, quiet, maxWait time.Duration, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deb := NewDebouncer(w.changes, quiet, maxWait)
	deb.Start(ctx)
	go w.processEvents(ctx)

	w.logger.Info("watching", "root", w.root)
	for batch := range deb.Output() {
		handle(ctx, batch)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.changes)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			for _, c := range w.translate(ev) {
				select {
				case w.changes <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// translate maps one event to changes. A created directory is watched and
// every file already inside it is reported as added.
func (w *Watcher) translate(ev fsnotify.Event) []resource.Change {
	id := resource.ID(ev.Name)
	if w.ignorer.Ignored(w.root, id) {
		return nil
	}
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if w.ignorer.SkipDir(info.Name()) {
				return nil
			}
			added, err := w.addTree(ev.Name, true)
			if err != nil {
				w.logger.Warn("failed to watch directory", "path", ev.Name, "error", err)
			}
			return added
		}
		return []resource.Change{{Resource: id, Kind: resource.Add}}
	case ev.Has(fsnotify.Write):
		return []resource.Change{{Resource: id, Kind: resource.Modify}}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return []resource.Change{{Resource: id, Kind: resource.Delete}}
	}
	return nil
}

// addTree watches dir and its non-ignored subdirectories. With report set it
// returns an Add change for every file found.
func (w *Watcher) addTree(dir string, report bool) ([]resource.Change, error) {
	var added []resource.Change
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries we can't access
		}
		if d.IsDir() {
			if path != dir && w.ignorer.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if report && d.Type().IsRegular() {
			added = append(added, resource.Change{Resource: resource.ID(path), Kind: resource.Add})
		}
		return nil
	})
	return added, err
}
