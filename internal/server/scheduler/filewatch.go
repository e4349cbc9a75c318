package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dmitrijs2005/lifelog/internal/logging"
)

// pendingFile tracks a file observed in an input directory that has not yet
// passed the stability gate.
type pendingFile struct {
	connectorID string
	size        int64
	polledAt    time.Time
}

// readyFile is a stable file handed to the scheduler for dispatch.
type readyFile struct {
	connectorID string
	path        string
}

// fileWatcher observes per-connector input directories through fsnotify plus
// a periodic rescan, and releases a file only once its size has been
// unchanged across a polling window and it can be opened. That guards against
// triggering on a file still being copied in.
type fileWatcher struct {
	log  logging.Logger
	fs   *fsnotify.Watcher
	poll time.Duration

	mu         sync.Mutex
	dirs       map[string]string // dir -> connector id
	pending    map[string]*pendingFile
	processing map[string]struct{}
}

func newFileWatcher(log logging.Logger, poll time.Duration) (*fileWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &fileWatcher{
		log:        log.With("component", "filewatcher"),
		fs:         fs,
		poll:       poll,
		dirs:       make(map[string]string),
		pending:    make(map[string]*pendingFile),
		processing: make(map[string]struct{}),
	}
	go w.eventLoop()
	return w, nil
}

func (w *fileWatcher) eventLoop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				w.observe(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn(context.Background(), "watch error", "error", err.Error())
		}
	}
}

func (w *fileWatcher) addDir(dir, connectorID string) error {
	if err := w.fs.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.dirs[dir] = connectorID
	w.mu.Unlock()
	return nil
}

// observe registers a path as pending if it belongs to a watched directory.
func (w *fileWatcher) observe(path string) {
	dir := filepath.Dir(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	connectorID, ok := w.dirs[dir]
	if !ok {
		return
	}
	if _, ok := w.processing[path]; ok {
		return
	}
	if _, ok := w.pending[path]; ok {
		return
	}
	w.pending[path] = &pendingFile{connectorID: connectorID, size: -1}
}

// scan re-reads all watched directories, picking up files whose events were
// missed (e.g. placed before the watch was added).
func (w *fileWatcher) scan() {
	w.mu.Lock()
	dirs := make(map[string]string, len(w.dirs))
	for d, id := range w.dirs {
		dirs[d] = id
	}
	w.mu.Unlock()

	for dir := range dirs {
		items, err := os.ReadDir(dir)
		if err != nil {
			w.log.Warn(context.Background(), "rescan failed", "dir", dir, "error", err.Error())
			continue
		}
		for _, item := range items {
			if item.IsDir() {
				continue
			}
			w.observe(filepath.Join(dir, item.Name()))
		}
	}
}

// ready polls pending files and returns those that passed the stability gate:
// size unchanged since the previous poll and openable.
func (w *fileWatcher) ready() []readyFile {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []readyFile
	for path, p := range w.pending {
		if now.Sub(p.polledAt) < w.poll {
			continue
		}
		st, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		size := st.Size()
		if size != p.size {
			p.size = size
			p.polledAt = now
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			p.polledAt = now
			continue
		}
		f.Close()

		delete(w.pending, path)
		w.processing[path] = struct{}{}
		out = append(out, readyFile{connectorID: p.connectorID, path: path})
	}
	return out
}

// done removes the file after processing, regardless of outcome.
func (w *fileWatcher) done(path string) {
	w.mu.Lock()
	delete(w.processing, path)
	w.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.log.Warn(context.Background(), "failed to remove processed file", "path", path, "error", err.Error())
	}
}

func (w *fileWatcher) close() error {
	return w.fs.Close()
}
