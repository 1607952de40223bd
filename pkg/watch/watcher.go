// Package watch feeds plate files dropped into a directory to a handler
// once they stop changing.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler receives a batch of settled files, sorted by path. Batches are
// delivered one at a time.
type Handler func(ctx context.Context, paths []string) error

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a file must stay unchanged before it is handed on.
	Debounce time.Duration

	// Known filters file names; nil accepts every non-hidden file.
	Known func(name string) bool

	// Existing also delivers files present when Run starts.
	Existing bool

	Logger *slog.Logger
}

// Watcher monitors one directory for new or rewritten files.
type Watcher struct {
	dir     string
	opts    Options
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu     sync.Mutex
	files  map[string]*fileState
	timers map[string]*time.Timer
	ready  chan string

	done     chan struct{}
	doneOnce sync.Once
}

type fileState struct {
	modTime time.Time
	size    int64
	handled bool
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(abs); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	return &Watcher{
		dir:     abs,
		opts:    opts,
		watcher: fsWatcher,
		logger:  opts.Logger.With("dir", abs),
		files:   make(map[string]*fileState),
		timers:  make(map[string]*time.Timer),
		ready:   make(chan string, 64),
		done:    make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

func (w *Watcher) accept(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return w.opts.Known == nil || w.opts.Known(name)
}

// Run delivers settled files to handle until ctx is cancelled. A handler
// error is logged and the watch continues.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	defer w.stop()

	if w.opts.Existing {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return fmt.Errorf("failed to list directory: %w", err)
		}
		for _, e := range entries {
			if path := filepath.Join(w.dir, e.Name()); !e.IsDir() && w.accept(path) {
				w.arm(path)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !w.accept(event.Name) {
				continue
			}
			w.arm(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case path := <-w.ready:
			batch := w.drain(path)
			w.logger.Info("files settled", "count", len(batch))
			if err := handle(ctx, batch); err != nil {
				w.logger.Error("handler failed", "files", batch, "error", err)
			}
		}
	}
}

// drain collects every path already waiting behind first.
func (w *Watcher) drain(first string) []string {
	batch := []string{first}
	for {
		select {
		case p := <-w.ready:
			batch = append(batch, p)
		default:
			sort.Strings(batch)
			return batch
		}
	}
}

// arm restarts the debounce timer of path.
func (w *Watcher) arm(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() { w.settle(path) })
}

// settle queues path if it still exists and differs from what was last
// handed on.
func (w *Watcher) settle(path string) {
	stat, err := os.Stat(path)
	if err != nil || stat.IsDir() {
		return
	}

	w.mu.Lock()
	delete(w.timers, path)
	state, seen := w.files[path]
	if seen && state.handled && stat.ModTime().Equal(state.modTime) && stat.Size() == state.size {
		w.mu.Unlock()
		return
	}
	w.files[path] = &fileState{modTime: stat.ModTime(), size: stat.Size(), handled: true}
	w.mu.Unlock()

	select {
	case w.ready <- path:
	case <-w.done:
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	w.Close()
}

// Close stops the watcher without running it. Pending settle callbacks
// are released.
func (w *Watcher) Close() error {
	var err error
	w.doneOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
