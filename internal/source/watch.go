package source

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

// ChangeKind says what happened to a file.
type ChangeKind int

const (
	// Changed means the file was created or written and should be re-ingested.
	Changed ChangeKind = iota
	// Removed means the file is gone and its records should be deleted.
	Removed
)

// String returns a human-readable representation of the kind.
func (k ChangeKind) String() string {
	switch k {
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one debounced file event, with a path relative to the root.
type Change struct {
	Path string
	Kind ChangeKind
}

// DefaultDebounce is used when Watch gets a non-positive window.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports eligible file changes below a Filesystem root. Events for
// the same path inside the debounce window collapse to the latest kind.
type Watcher struct {
	src      *Filesystem
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]ChangeKind
	timer   *time.Timer
	out     chan []Change
	stopped bool
}

// Watch starts watching the source tree until ctx is cancelled.
func (f *Filesystem) Watch(ctx context.Context, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, dierrors.New(dierrors.ErrCodeFilePermission, "cannot start file watcher", err)
	}

	w := &Watcher{
		src:      f,
		fsw:      fsw,
		debounce: debounce,
		logger:   f.logger,
		pending:  make(map[string]ChangeKind),
		out:      make(chan []Change, 16),
	}
	if err := w.addRecursive(f.root, false); err != nil {
		_ = fsw.Close()
		return nil, dierrors.New(dierrors.ErrCodeFilePermission, "cannot watch source directory", err)
	}

	go w.run(ctx)
	return w, nil
}

// Changes delivers debounced batches sorted by path. It is closed when the
// watch context ends.
func (w *Watcher) Changes() <-chan []Change {
	return w.out
}

func (w *Watcher) run(ctx context.Context) {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.src.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.src.Eligible(rel) {
			w.add(rel, Removed)
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if !w.src.exclude.Match(rel, true) {
				// Files may land before the new directory is watched.
				_ = w.addRecursive(ev.Name, true)
			}
			return
		}
		if info.Mode().IsRegular() && w.src.Eligible(rel) {
			w.add(rel, Changed)
		}
	}
}

// addRecursive watches dir and its non-excluded subdirectories. With
// report set, files already present are queued as changed.
func (w *Watcher) addRecursive(dir string, report bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(w.src.root, p)
		rel = filepath.ToSlash(rel)
		if !d.IsDir() {
			if report && d.Type().IsRegular() && w.src.Eligible(rel) {
				w.add(rel, Changed)
			}
			return nil
		}
		if rel != "." && w.src.exclude.Match(rel, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) add(rel string, kind ChangeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pending[rel] = kind
	w.schedule()
}

// schedule must be called with w.mu held.
func (w *Watcher) schedule() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || len(w.pending) == 0 {
		return
	}

	batch := make([]Change, 0, len(w.pending))
	for p, k := range w.pending {
		batch = append(batch, Change{Path: p, Kind: k})
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	select {
	case w.out <- batch:
		w.pending = make(map[string]ChangeKind)
	default:
		// Consumer is behind; keep the batch and try again later.
		w.schedule()
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	_ = w.fsw.Close()
	close(w.out)
}
