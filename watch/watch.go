// Package watch wraps fsnotify into the minimal recursive file-system
// watcher the resource provider needs: a single event channel covering a
// directory tree, closed cleanly on Close.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op classifies what happened to a watched path, collapsed from fsnotify's
// bitmask into the handful of cases the provider distinguishes.
type Op uint8

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

// ChangeEvent is one file-system change, or a terminal error if Err is set
// (the watcher is unusable after an error event and should be Closed).
type ChangeEvent struct {
	Path string
	Op   Op
	Err  error
}

// Watcher recursively watches a directory tree and reports changes on a
// single channel, adding newly created subdirectories to the watch set as
// they appear.
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
	out  chan ChangeEvent

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New starts watching root (recursively) and returns once the initial
// directory tree is registered.
func New(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{root: root, fsw: fsw, out: make(chan ChangeEvent), done: make(chan struct{})}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.run()
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.out)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			op := classify(ev.Op)
			if op == OpCreate {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.fsw.Add(ev.Name)
				}
			}
			select {
			case w.out <- ChangeEvent{Path: ev.Name, Op: op}:
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.out <- ChangeEvent{Err: err}:
			case <-w.done:
				return
			}
		case <-w.done:
			return
		}
	}
}

func classify(op fsnotify.Op) Op {
	switch {
	case op&fsnotify.Create != 0:
		return OpCreate
	case op&fsnotify.Remove != 0:
		return OpRemove
	case op&fsnotify.Rename != 0:
		return OpRename
	default:
		return OpWrite
	}
}

// Events returns the channel of change events, closed once Close drains the
// underlying fsnotify watcher.
func (w *Watcher) Events() <-chan ChangeEvent { return w.out }

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	return w.fsw.Close()
}
