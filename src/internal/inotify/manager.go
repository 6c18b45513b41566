package inotify

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/fsutil"
)

// Callbacks is the subset of the ContentManager façade the manager drives,
// kept as a narrow interface here (rather than importing internal/contentmgr
// directly) to avoid a cycle: contentmgr owns and starts a Manager, so the
// dependency must run the other way.
type Callbacks interface {
	AddFile(path string, recursive, lowPriority, cancellable bool) error
	RemoveObjectByPath(path string) error
	HandlePersistentAutoscanRemove(dir *cds.AutoscanDirectory)
	HandlePersistentAutoscanRecreate(dir *cds.AutoscanDirectory)
}

// Policy supplies the per-call filesystem policy the manager needs and
// cannot infer from the AutoscanDirectory alone.
type Policy struct {
	// ConfigFileName is compared against an entry's base name and skipped
	// in CREATE/MOVED_TO/CLOSE_WRITE/ATTRIB handling, matching spec.md
	// §4.3/§4.5's "skip the server's own config file". Recursive watch
	// installation does not check it.
	ConfigFileName string
	// MaxRetries and RetryDelay bound the addWatch retry loop: any AddWatch
	// error (EMFILE/EACCES among them) is retried, with a RetryDelay sleep
	// after each failed attempt (SPEC_FULL.md §12, grounded on
	// autoscan_inotify.cc's retryCount).
	MaxRetries int
	RetryDelay time.Duration
	// GerberaImportMode mirrors IMPORT_LAYOUT_MODE == gerbera (spec.md §4.3's
	// event matrix row for CREATE/MOVED_TO/CLOSE_WRITE/ATTRIB-on-a-file):
	// in Gerbera import mode, a write event (CLOSE_WRITE/ATTRIB) on an
	// already-indexed file is not removed first; the AddFile that follows
	// finds the existing object and leaves it as it is.
	GerberaImportMode bool
}

// DefaultPolicy is a reasonable production default.
var DefaultPolicy = Policy{MaxRetries: 5, RetryDelay: 200 * time.Millisecond}

type monitorReq struct {
	dir *cds.AutoscanDirectory
}

// Manager is the background watch-table maintainer from spec.md §4.3.
type Manager struct {
	backend Backend
	table   *Table
	cb      Callbacks
	policy  Policy

	mu         sync.Mutex
	monitorQ   []monitorReq
	unmonitorQ []*cds.AutoscanDirectory
	wake       chan struct{}
	shutdown   bool
}

// New creates a Manager. Call Run in its own goroutine to start it.
func New(backend Backend, cb Callbacks, policy Policy) *Manager {
	return &Manager{
		backend: backend,
		table:   NewTable(),
		cb:      cb,
		policy:  policy,
		wake:    make(chan struct{}, 1),
	}
}

// Monitor queues dir for a start-point watch to be installed on the
// manager's goroutine.
func (m *Manager) Monitor(dir *cds.AutoscanDirectory) {
	m.mu.Lock()
	m.monitorQ = append(m.monitorQ, monitorReq{dir: dir})
	m.mu.Unlock()
	m.signal()
}

// Unmonitor queues dir's start-point watch (and its subtree) for removal.
func (m *Manager) Unmonitor(dir *cds.AutoscanDirectory) {
	m.mu.Lock()
	m.unmonitorQ = append(m.unmonitorQ, dir)
	m.mu.Unlock()
	m.signal()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops Run's loop and releases the backend.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
	m.signal()
	_ = m.backend.Close()
}

// Run drains the monitor/unmonitor queues, then blocks on the backend's
// event stream, until Shutdown is called. One dedicated goroutine, per
// spec.md §4.3's "one dedicated thread loops on inotify.nextEvent()".
func (m *Manager) Run() {
	for {
		m.drainQueues()

		m.mu.Lock()
		done := m.shutdown
		m.mu.Unlock()
		if done {
			return
		}

		select {
		case ev, ok := <-m.backend.Events():
			if !ok {
				return
			}
			m.handleEvent(ev)
		case <-m.wake:
		}
	}
}

func (m *Manager) drainQueues() {
	m.mu.Lock()
	monitors := m.monitorQ
	m.monitorQ = nil
	unmonitors := m.unmonitorQ
	m.unmonitorQ = nil
	m.mu.Unlock()

	for _, req := range monitors {
		m.monitorDirectory(req.dir, req.dir.Location, NoParent, true)
	}
	for _, dir := range unmonitors {
		m.unmonitorAutoscan(dir)
	}
}

// monitorDirectory installs a watch at path, wiring it as dir's start
// point when isStartPoint, and recurses into subdirectories when dir is
// recursive. Grounded on autoscan_inotify.cc's monitorDirectory.
func (m *Manager) monitorDirectory(dir *cds.AutoscanDirectory, path string, parentWD WD, isStartPoint bool) {
	if !fsutil.IsDir(path) {
		m.monitorNonexisting(dir, path)
		return
	}

	wd, err := m.addWatchWithRetry(path)
	if err != nil {
		log.Errorf("inotify: failed to watch %s: %v", path, err)
		return
	}

	dw, existed := m.table.Get(wd)
	if !existed {
		dw = NewDirectoryWatch(path, wd, parentWD)
		m.table.Put(dw)
	}

	w := NewAutoscanWatch(dir, isStartPoint)
	dw.AddWatch(w)

	if isStartPoint {
		m.watchPathForMoves(path, wd)
	} else if sp, ok := m.startPointWatch(dir); ok {
		sp.Descendants = append(sp.Descendants, wd)
	}

	if dir.Recursive {
		m.monitorRecursive(dir, path, wd)
	}
}

func (m *Manager) monitorRecursive(dir *cds.AutoscanDirectory, path string, parentWD WD) {
	entries, err := os.ReadDir(path)
	if err != nil {
		log.Errorf("inotify: readdir %s: %v", path, err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		if !dir.Hidden && fsutil.IsHidden(name) {
			continue
		}
		m.monitorDirectory(dir, filepath.Join(path, name), parentWD, false)
	}
}

// startPointWatch finds the Watch struct that owns dir's start point, so
// monitorRecursive can append to its Descendants list.
func (m *Manager) startPointWatch(dir *cds.AutoscanDirectory) (*Watch, bool) {
	dw, ok := m.table.GetByPath(dir.Location)
	if !ok {
		return nil, false
	}
	sp := dw.StartPoint()
	if sp == nil || sp.Autoscan != dir {
		return nil, false
	}
	return sp, true
}

// watchPathForMoves adds a Move watch (removeWD = startpointWD) to every
// ancestor directory of path, per spec.md §4.3's move tracking paragraph
// and autoscan_inotify.cc's watchPathForMoves (walks every ancestor
// component, not just the immediate parent).
func (m *Manager) watchPathForMoves(path string, startpointWD WD) {
	for _, ancestor := range fsutil.Ancestors(path) {
		if !fsutil.IsDir(ancestor) {
			continue
		}
		wd, err := m.addWatchWithRetry(ancestor)
		if err != nil {
			log.Errorf("inotify: failed to add move watch on %s: %v", ancestor, err)
			continue
		}
		dw, existed := m.table.Get(wd)
		if !existed {
			dw = NewDirectoryWatch(ancestor, wd, NoParent)
			m.table.Put(dw)
		}
		dw.AddWatch(NewMoveWatch(startpointWD))
	}
}

// monitorNonexisting walks toward / until it finds an existing directory
// and watches it with a placeholder marker, per spec.md §4.3's
// non-existing-path handling.
func (m *Manager) monitorNonexisting(dir *cds.AutoscanDirectory, path string) {
	ancestor := fsutil.NearestExistingAncestor(path)
	wd, err := m.addWatchWithRetry(ancestor)
	if err != nil {
		log.Errorf("inotify: failed to watch nonexisting-path ancestor %s: %v", ancestor, err)
		return
	}
	dw, existed := m.table.Get(wd)
	if !existed {
		dw = NewDirectoryWatch(ancestor, wd, NoParent)
		m.table.Put(dw)
	}
	w := NewAutoscanWatch(dir, true)
	w.NonExistingPath = path
	dw.AddWatch(w)
	log.Tracef("inotify: watching %s as placeholder for missing %s", ancestor, path)
}

// recheckNonexistingMonitor is called for every CREATE seen below a
// placeholder watch: if the originally-missing path now exists, the
// placeholder is upgraded into a real start-point watch and a rescan is
// requested.
func (m *Manager) recheckNonexistingMonitor(dw *DirectoryWatch, w *Watch) {
	if w.NonExistingPath == "" || !fsutil.IsDir(w.NonExistingPath) {
		return
	}
	missing := w.NonExistingPath
	dir := w.Autoscan
	dw.RemoveWatch(w)
	if len(dw.Watches) == 0 {
		m.table.Remove(dw.WD)
		_ = m.backend.RemoveWatch(dw.WD)
	}
	m.monitorDirectory(dir, missing, NoParent, true)
	m.cb.HandlePersistentAutoscanRecreate(dir)
}

// addWatchWithRetry retries addWatch on transient failure, honouring
// policy.MaxRetries/RetryDelay (SPEC_FULL.md §12).
func (m *Manager) addWatchWithRetry(path string) (WD, error) {
	var lastErr error
	retries := m.policy.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		wd, err := m.backend.AddWatch(path)
		if err == nil {
			return wd, nil
		}
		lastErr = err
		if m.policy.RetryDelay > 0 {
			time.Sleep(m.policy.RetryDelay)
		}
	}
	return 0, lastErr
}

// unmonitorAutoscan tears down dir's start-point watch and every
// descendant watch beneath it.
func (m *Manager) unmonitorAutoscan(dir *cds.AutoscanDirectory) {
	dw, ok := m.table.GetByPath(dir.Location)
	if !ok {
		return
	}
	sp := dw.StartPoint()
	if sp == nil || sp.Autoscan != dir {
		return
	}
	for _, wd := range sp.Descendants {
		if ddw, ok := m.table.Remove(wd); ok {
			_ = m.backend.RemoveWatch(ddw.WD)
		}
	}
	dw.RemoveWatch(sp)
	if len(dw.Watches) == 0 {
		m.table.Remove(dw.WD)
		_ = m.backend.RemoveWatch(dw.WD)
	}
}

// handleEvent dispatches one kernel event against the event->action matrix
// from spec.md §4.3.
func (m *Manager) handleEvent(ev RawEvent) {
	dw, ok := m.table.Get(ev.WD)
	if !ok {
		return
	}

	switch {
	case ev.Mask&Ignored != 0:
		m.handleIgnored(dw)
	case ev.Mask&MoveSelf != 0:
		m.handleMoveSelf(dw)
	case ev.Mask&(DeleteSelf|Unmount) != 0:
		m.handleSelfRemoval(dw)
	case ev.Mask&Create != 0 && fsutil.IsDir(ev.Path):
		m.handleCreateDir(dw, ev.Path)
	case ev.Mask&(Create|MovedTo|CloseWrite|Attrib) != 0:
		m.handleFileWritten(dw, ev.Path, ev.Mask)
	case ev.Mask&(Delete|MovedFrom) != 0:
		m.handleFileRemoved(ev.Path)
	}
}

// handleMoveSelf tears down every Move watch's target (and its
// descendants) attached to dw, and arms a persistent placeholder if the
// owning autoscan survives as persistent.
func (m *Manager) handleMoveSelf(dw *DirectoryWatch) {
	for _, mv := range dw.MoveWatches() {
		target, ok := m.table.Get(mv.RemoveWD)
		if !ok {
			continue
		}
		sp := target.StartPoint()
		m.teardownSubtree(target)
		if sp != nil && sp.Autoscan != nil && sp.Autoscan.Persistent {
			m.cb.HandlePersistentAutoscanRemove(sp.Autoscan)
			m.monitorNonexisting(sp.Autoscan, sp.Autoscan.Location)
		}
	}
	m.handleSelfRemoval(dw)
}

// handleSelfRemoval implements the DELETE_SELF/UNMOUNT/MOVE_SELF-on-a
// -start-point row of the event matrix.
func (m *Manager) handleSelfRemoval(dw *DirectoryWatch) {
	sp := dw.StartPoint()
	if sp == nil {
		return
	}
	dir := sp.Autoscan
	m.teardownSubtree(dw)
	if dir.Persistent {
		m.cb.HandlePersistentAutoscanRemove(dir)
		m.monitorNonexisting(dir, dir.Location)
	}
	// Non-persistent: the caller (ContentManager, via RemoveObjectByPath
	// during the next addFile/removeObject cycle) is responsible for
	// dropping the autoscan registration; the watch side is already gone.
}

// handleIgnored removes dw's row and every descendant's row from the
// table, per spec.md §4.3's IGNORED action. Descendants are the rows whose
// ParentWD chain leads back to dw.
func (m *Manager) handleIgnored(dw *DirectoryWatch) {
	m.teardownSubtree(dw)
	m.table.mu.Lock()
	var children []*DirectoryWatch
	for _, c := range m.table.byWD {
		if c.ParentWD == dw.WD {
			children = append(children, c)
		}
	}
	m.table.mu.Unlock()
	for _, c := range children {
		m.handleIgnored(c)
	}
}

func (m *Manager) teardownSubtree(dw *DirectoryWatch) {
	sp := dw.StartPoint()
	if sp != nil {
		for _, wd := range sp.Descendants {
			if ddw, ok := m.table.Remove(wd); ok {
				_ = m.backend.RemoveWatch(ddw.WD)
			}
		}
	}
	m.table.Remove(dw.WD)
	_ = m.backend.RemoveWatch(dw.WD)
}

// handleCreateDir implements the CREATE+is-directory+recursive-autoscan
// row: recursively add watches beneath path and submit an AddFile task.
// It also upgrades any placeholder watch whose missing path now exists.
func (m *Manager) handleCreateDir(dw *DirectoryWatch, path string) {
	for _, w := range dw.Watches {
		if w.Kind == WatchAutoscan && w.NonExistingPath != "" {
			m.recheckNonexistingMonitor(dw, w)
			return
		}
	}

	w := dw.AppropriateAutoscan(path)
	if w == nil || w.Autoscan == nil {
		return
	}
	dir := w.Autoscan

	hidden, recursive := dir.Hidden, dir.Recursive
	if tw, ok := dir.TweakFor(path); ok {
		hidden, recursive = tw.Hidden, tw.Recursive
	}

	if !recursive {
		return
	}
	if !hidden && fsutil.IsHidden(path) {
		return
	}
	if filepath.Base(path) == m.policy.ConfigFileName {
		return
	}

	m.monitorDirectory(dir, path, dw.WD, false)
	if err := m.cb.AddFile(path, true, false, false); err != nil {
		log.Errorf("inotify: AddFile(%s) after CREATE: %v", path, err)
	}
}

// handleFileWritten implements the CREATE/MOVED_TO/CLOSE_WRITE/ATTRIB-on-a
// -file row of the event matrix (spec.md §4.3): look up any existing CDS
// object at path and remove it first, unless this is a write event
// (CLOSE_WRITE/ATTRIB) under Gerbera import mode, which keeps the existing
// object; then submit an AddFile task.
func (m *Manager) handleFileWritten(dw *DirectoryWatch, path string, mask Mask) {
	if filepath.Base(path) == m.policy.ConfigFileName {
		return
	}
	w := dw.AppropriateAutoscan(path)
	if w == nil {
		return
	}
	hidden := w.Autoscan.Hidden
	if tw, ok := w.Autoscan.TweakFor(path); ok {
		hidden = tw.Hidden
	}
	if !hidden && fsutil.IsHidden(path) {
		return
	}

	isWriteEvent := mask&(CloseWrite|Attrib) != 0 && mask&(Create|MovedTo) == 0
	if !(m.policy.GerberaImportMode && isWriteEvent) {
		if err := m.cb.RemoveObjectByPath(path); err != nil {
			log.Tracef("inotify: RemoveObjectByPath(%s) before re-add: %v", path, err)
		}
	}
	if err := m.cb.AddFile(path, false, false, false); err != nil {
		log.Errorf("inotify: AddFile(%s): %v", path, err)
	}
}

func (m *Manager) handleFileRemoved(path string) {
	if err := m.cb.RemoveObjectByPath(path); err != nil {
		log.Tracef("inotify: RemoveObjectByPath(%s): %v", path, err)
	}
}

// Table exposes the watch table for diagnostics and tests.
func (m *Manager) Table() *Table { return m.table }
