// Package inotify implements the watch table and manager from spec.md
// §4.3: kernel filesystem events are translated into semantic add/remove/
// rename/move calls against a ContentManager-like collaborator, while a
// table of DirectoryWatch records tracks watch lifetime, move-chains and
// non-existing-path placeholders.
package inotify

import (
	"sync"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "inotify"})

// WD is a watch descriptor, opaque outside this package.
type WD int

// NoParent marks a DirectoryWatch with no known parent (the watch root).
const NoParent WD = -1

// WatchKind discriminates the Watch tagged union (spec.md §3
// "DirectoryWatch (inotify)").
type WatchKind int

const (
	WatchAutoscan WatchKind = iota
	WatchMove
)

// Watch is one child watch entry attached to a DirectoryWatch.
type Watch struct {
	Kind WatchKind

	// Autoscan fields (Kind == WatchAutoscan).
	Autoscan        *cds.AutoscanDirectory
	IsStartPoint    bool
	Descendants     []WD
	NonExistingPath string // non-empty if this is a placeholder watch

	// Move fields (Kind == WatchMove).
	RemoveWD WD
}

// NewAutoscanWatch creates a Watch bound to dir.
func NewAutoscanWatch(dir *cds.AutoscanDirectory, isStartPoint bool) *Watch {
	return &Watch{Kind: WatchAutoscan, Autoscan: dir, IsStartPoint: isStartPoint}
}

// NewMoveWatch creates a Watch that tears down removeWD on MOVE_SELF.
func NewMoveWatch(removeWD WD) *Watch {
	return &Watch{Kind: WatchMove, RemoveWD: removeWD}
}

// DirectoryWatch is one kernel-watched directory (spec.md §3).
type DirectoryWatch struct {
	Path     string
	WD       WD
	ParentWD WD
	Watches  []*Watch
}

// NewDirectoryWatch creates an empty DirectoryWatch.
func NewDirectoryWatch(path string, wd, parentWD WD) *DirectoryWatch {
	return &DirectoryWatch{Path: path, WD: wd, ParentWD: parentWD}
}

// AddWatch attaches w to the directory.
func (d *DirectoryWatch) AddWatch(w *Watch) {
	d.Watches = append(d.Watches, w)
}

// RemoveWatch detaches the first Watch equal to w by pointer identity.
func (d *DirectoryWatch) RemoveWatch(w *Watch) {
	for i, cand := range d.Watches {
		if cand == w {
			d.Watches = append(d.Watches[:i], d.Watches[i+1:]...)
			return
		}
	}
}

// StartPoint returns the autoscan watch marked as this directory's start
// point, if any.
func (d *DirectoryWatch) StartPoint() *Watch {
	for _, w := range d.Watches {
		if w.Kind == WatchAutoscan && w.IsStartPoint {
			return w
		}
	}
	return nil
}

// AppropriateAutoscan returns the autoscan watch whose bound
// AutoscanDirectory.Location is the longest prefix of path — the
// best-match-by-longest-location rule from directory_watch.cc's
// getAppropriateAutoscan, used when more than one registered autoscan
// could claim the same directory.
func (d *DirectoryWatch) AppropriateAutoscan(path string) *Watch {
	var best *Watch
	bestLen := -1
	for _, w := range d.Watches {
		if w.Kind != WatchAutoscan || w.Autoscan == nil {
			continue
		}
		loc := w.Autoscan.Location
		if len(loc) > bestLen && hasPrefix(path, loc) {
			best = w
			bestLen = len(loc)
		}
	}
	return best
}

// MoveWatches returns every Move watch attached to the directory.
func (d *DirectoryWatch) MoveWatches() []*Watch {
	var out []*Watch
	for _, w := range d.Watches {
		if w.Kind == WatchMove {
			out = append(out, w)
		}
	}
	return out
}

func hasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	if path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Table is the wd -> DirectoryWatch map, guarded by one mutex per spec.md
// §5's shared-resource policy ("the inotify watch table ... guarded by one
// mutex").
type Table struct {
	mu     sync.Mutex
	byWD   map[WD]*DirectoryWatch
	byPath map[string]WD
}

// NewTable creates an empty watch table.
func NewTable() *Table {
	return &Table{
		byWD:   make(map[WD]*DirectoryWatch),
		byPath: make(map[string]WD),
	}
}

// Put inserts or replaces dw.
func (t *Table) Put(dw *DirectoryWatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byWD[dw.WD] = dw
	t.byPath[dw.Path] = dw.WD
}

// Get returns the DirectoryWatch for wd.
func (t *Table) Get(wd WD) (*DirectoryWatch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dw, ok := t.byWD[wd]
	return dw, ok
}

// GetByPath returns the DirectoryWatch registered at path.
func (t *Table) GetByPath(path string) (*DirectoryWatch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wd, ok := t.byPath[path]
	if !ok {
		return nil, false
	}
	return t.byWD[wd], true
}

// Remove drops wd's row. Per spec.md's IGNORED handling, callers are
// responsible for also removing descendants.
func (t *Table) Remove(wd WD) (*DirectoryWatch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dw, ok := t.byWD[wd]
	if !ok {
		return nil, false
	}
	delete(t.byWD, wd)
	delete(t.byPath, dw.Path)
	return dw, true
}

// Len reports the number of watched directories, for diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byWD)
}
