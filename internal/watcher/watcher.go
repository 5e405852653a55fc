package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/beacondao/mirin/internal/ui"
)

// ChangeType represents the kind of file change detected.
type ChangeType int

const (
	Modified ChangeType = iota
	Created
	Deleted
	Renamed
)

func (c ChangeType) String() string {
	switch c {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "modified"
	}
}

// FileChange represents a single file change event.
type FileChange struct {
	Path string
	Type ChangeType
}

// Batch is every relevant change that was already queued when the watcher
// picked up the first one. There is no debounce window.
type Batch struct {
	Files     []FileChange
	Timestamp time.Time
}

// Paths returns the changed paths in event order.
func (b Batch) Paths() []string {
	out := make([]string, len(b.Files))
	for i, f := range b.Files {
		out[i] = f.Path
	}
	return out
}

// Watcher recursively monitors a directory tree and emits Batches.
type Watcher struct {
	root    string
	skipDir func(name string) bool
	logger  *ui.Logger
	events  chan Batch
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a Watcher for root. Directories for which skipDir returns true
// (build output, VCS metadata) are never watched.
func New(root string, skipDir func(name string) bool, logger *ui.Logger) *Watcher {
	if skipDir == nil {
		skipDir = func(string) bool { return false }
	}
	return &Watcher{
		root:    root,
		skipDir: skipDir,
		logger:  logger,
		events:  make(chan Batch),
		done:    make(chan struct{}),
	}
}

// Events returns the channel that emits Batches.
func (w *Watcher) Events() <-chan Batch {
	return w.events
}

// Classify maps an fsnotify event to a ChangeType. Metadata-only events
// (permissions, timestamps) are rejected.
func Classify(ev fsnotify.Event) (ChangeType, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return Created, true
	case ev.Has(fsnotify.Remove):
		return Deleted, true
	case ev.Has(fsnotify.Rename):
		return Renamed, true
	case ev.Has(fsnotify.Write):
		return Modified, true
	default:
		return 0, false
	}
}

// Start adds the watch and begins emitting batches.
func (w *Watcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.addRecursive(fsWatcher, w.root, nil); err != nil {
		fsWatcher.Close()
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer fsWatcher.Close()

		for {
			select {
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}

				batch := w.collect(fsWatcher, nil, event)
				// take whatever is already queued, without waiting for more
			drain:
				for {
					select {
					case event, ok := <-fsWatcher.Events:
						if !ok {
							break drain
						}
						batch = w.collect(fsWatcher, batch, event)
					default:
						break drain
					}
				}
				if len(batch) == 0 {
					continue
				}

				select {
				case w.events <- Batch{Files: batch, Timestamp: time.Now()}:
				case <-w.done:
					return
				}

			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					w.logger.Warn("Watcher queue overflowed, some changes were missed; press ENTER to rebuild everything")
					continue
				}
				w.logger.Warn("Watcher error", "err", err)

			case <-w.done:
				return
			}
		}
	}()

	return nil
}

// collect appends the change described by event to batch. Newly created
// directories are watched, and the files already inside them are reported
// as created since their own events were missed.
func (w *Watcher) collect(fsWatcher *fsnotify.Watcher, batch []FileChange, event fsnotify.Event) []FileChange {
	changeType, ok := Classify(event)
	if !ok {
		return batch
	}
	batch = append(batch, FileChange{Path: event.Name, Type: changeType})

	if changeType == Created {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && !w.skipDir(fi.Name()) {
			if err := w.addRecursive(fsWatcher, event.Name, &batch); err != nil {
				w.logger.Warn("Watch add failed", "dir", event.Name, "err", err)
			}
		}
	}
	return batch
}

// addRecursive watches dir and every non-skipped directory below it. When
// found is non-nil, regular files met on the way are appended as Created.
func (w *Watcher) addRecursive(fsWatcher *fsnotify.Watcher, dir string, found *[]FileChange) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if found != nil {
				*found = append(*found, FileChange{Path: path, Type: Created})
			}
			return nil
		}
		if path != dir && w.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsWatcher.Add(path); err != nil {
			w.logger.Warn("Watch add failed", "dir", path, "err", err)
		}
		return nil
	})
}

// Stop shuts the watcher down and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}
