// Package watcher signals writes to the local board database so cached
// analysis can be refreshed. Events are debounced: a burst of writes
// from one board transaction collapses into a single signal.
package watcher

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/foreman/internal/log"
)

// Watcher monitors the board database file and its WAL sibling.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	debounce time.Duration
	changes  chan struct{}
	done     chan struct{}
}

// Config holds watcher options.
type Config struct {
	// Path is the board database file to watch.
	Path string
	// Debounce is how long writes must be quiet before a signal fires.
	Debounce time.Duration
}

// DefaultConfig returns the standard debounce for the given board file.
func DefaultConfig(path string) Config {
	return Config{Path: path, Debounce: time.Second}
}

// New creates a watcher for the configured board database.
func New(cfg Config) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		fs:       fs,
		path:     cfg.Path,
		debounce: cfg.Debounce,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the directory holding the board database and returns
// the change channel. The directory is watched rather than the file
// because SQLite creates and swaps WAL files beside it.
func (w *Watcher) Start() (<-chan struct{}, error) {
	dir := filepath.Dir(w.path)
	if err := w.fs.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}
	log.Debug(log.CatWatch, "Watching board database", "path", w.path, "debounce", w.debounce)

	go w.loop()
	return w.changes, nil
}

// Stop terminates the watcher and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	// Closing the signal channel ends consumer range loops when the
	// watcher stops.
	defer close(w.changes)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-fire:
			// Non-blocking send; an unconsumed signal already means a
			// refresh is owed.
			select {
			case w.changes <- struct{}{}:
			default:
			}
			timer = nil
			fire = nil

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatch, "Watcher error; continuing", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// relevant reports whether the event is a write or create touching the
// board file or its WAL.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	db := filepath.Base(w.path)
	return base == db || base == db+"-wal"
}
