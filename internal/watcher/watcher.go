// Package watcher watches the movie data root with fsnotify and reports debounced
// per-movie changes to script and persona tables.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Change describes pending changes to one movie folder. Script is true when the script
// table changed or the folder appeared or vanished; false means only the persona table changed.
type Change struct {
	MovieID string
	Script  bool
}

// Watcher watches a data root and each movie folder directly below it.
type Watcher struct {
	root         string
	scriptFiles  map[string]bool
	personaFiles map[string]bool
	onChange     func(Change)
	debounce     time.Duration
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	pending      map[string]*pendingChange
	done         chan struct{}
	started      bool
	stopOnce     sync.Once
	logger       *zap.Logger
}

type pendingChange struct {
	timer  *time.Timer
	script bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output (folder changes, file events, etc.).
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a movie must be quiet before onChange fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for root. Only files named in scriptFiles or personaFiles
// trigger onChange; cache files and anything else are ignored.
func NewWatcher(root string, scriptFiles, personaFiles []string, onChange func(Change), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:         filepath.Clean(root),
		scriptFiles:  nameSet(scriptFiles),
		personaFiles: nameSet(personaFiles),
		onChange:     onChange,
		debounce:     defaultDebounce,
		pending:      make(map[string]*pendingChange),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

func nameSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = true
	}
	return m
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if err := w.addRootLocked(); err != nil {
		_ = w.watcher.Close()
		w.watcher = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	w.logger.Debug("watcher started", zap.String("root", w.root))
	go w.run(ctx, watcher)
	return nil
}

// addRootLocked watches the root and every movie folder in it.
func (w *Watcher) addRootLocked() error {
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := w.watcher.Add(filepath.Join(w.root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	movieID, file, ok := w.classify(ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))

	if file == "" {
		// A movie folder itself was created, removed or renamed.
		if ev.Has(fsnotify.Create) {
			w.addMovieDir(ev.Name)
		}
		w.schedule(movieID, true)
		return
	}
	name := strings.ToLower(file)
	switch {
	case w.scriptFiles[name]:
		w.schedule(movieID, true)
	case w.personaFiles[name]:
		w.schedule(movieID, false)
	}
}

// classify maps path to its movie folder. file is empty when path is the folder itself.
func (w *Watcher) classify(path string) (movieID, file string, ok bool) {
	rel, err := filepath.Rel(w.root, filepath.Clean(path))
	if err != nil || !inDir(w.root, path) || rel == "." {
		return "", "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if strings.HasPrefix(parts[0], ".") {
		return "", "", false
	}
	switch len(parts) {
	case 1:
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return "", "", false
		}
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}

func (w *Watcher) addMovieDir(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
		return
	}
	w.logger.Debug("watcher added movie directory", zap.String("path", dir))
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// schedule (re)starts the movie's debounce timer. A script change is never downgraded
// by a later persona-only event.
func (w *Watcher) schedule(movieID string, script bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	p, ok := w.pending[movieID]
	if ok {
		p.timer.Stop()
		p.script = p.script || script
	} else {
		p = &pendingChange{script: script}
		w.pending[movieID] = p
	}
	p.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		cur, ok := w.pending[movieID]
		if !ok || cur != p {
			w.mu.Unlock()
			return
		}
		delete(w.pending, movieID)
		change := Change{MovieID: movieID, Script: p.script}
		w.mu.Unlock()
		w.logger.Debug("watcher movie changed (debounced)", zap.String("movie", movieID), zap.Bool("script", change.Script))
		if w.onChange != nil {
			w.onChange(change)
		}
	})
}

// Root returns the watched data root.
func (w *Watcher) Root() string { return w.root }

// Stop stops the watcher and releases resources. Pending changes are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for id, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, id)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
