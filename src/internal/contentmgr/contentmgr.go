// Package contentmgr implements the ContentManager façade from spec.md §2
// component 8: the core's public surface, owning the Timer, the
// TaskProcessor, the InotifyManager, the two autoscan sets (timed and
// inotify), the executor registry and the online-service registry. All
// mutating operations that touch the filesystem or the database are
// funnelled through the task queue, except ensurePathExistence and
// addContainerChain which run synchronously like the teacher's own
// ContentManager::ensurePathExistence/addContainerChain.
package contentmgr

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/autoscan"
	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/cdserr"
	"gitlab.com/mipimipi/cdsengine/src/internal/clockutil"
	"gitlab.com/mipimipi/cdsengine/src/internal/executor"
	"gitlab.com/mipimipi/cdsengine/src/internal/inotify"
	"gitlab.com/mipimipi/cdsengine/src/internal/layout"
	"gitlab.com/mipimipi/cdsengine/src/internal/metadata"
	"gitlab.com/mipimipi/cdsengine/src/internal/online"
	"gitlab.com/mipimipi/cdsengine/src/internal/playlist"
	"gitlab.com/mipimipi/cdsengine/src/internal/scan"
	"gitlab.com/mipimipi/cdsengine/src/internal/task"
	"gitlab.com/mipimipi/cdsengine/src/internal/timer"
	"gitlab.com/mipimipi/cdsengine/src/internal/update"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "contentmgr"})

// Config bundles the ambient import policy the façade hands to its
// scan.Importer and inotify.Manager collaborators (spec.md §6's
// IMPORT_* configuration keys).
type Config struct {
	Hidden         bool
	FollowSymlinks bool
	AllowFIFO      bool
	ConfigFileName string
	UseInotify     bool
	InotifyPolicy  inotify.Policy
	IsTheora       func(path string) bool
}

// ContentManager is the single top-level value a process entry point
// constructs and drives (spec.md §9's "the core exposes one Context value
// passed by the process entry point, holding these components").
type ContentManager struct {
	db       cds.Database
	tasks    *task.Processor
	timer    *timer.Timer
	ino      *inotify.Manager // nil when no inotify Backend was supplied
	updates  *update.Manager
	execs    *executor.Registry
	importer *scan.Importer

	timedSet   *autoscan.Set
	inotifySet *autoscan.Set

	refresher *online.Refresher

	mu       sync.Mutex
	services map[string]online.Service

	cancel context.CancelFunc
}

// New wires every collaborator together. backend may be nil, in which case
// the façade runs without inotify autoscan support and SetAutoscanDirectory
// rejects every inotify-mode directory, whatever cfg.UseInotify says.
func New(db cds.Database, backend inotify.Backend, clock clockutil.Clock, lay layout.Layout, meta metadata.Extractor, pls playlist.Parser, mapper *scan.Mapper, cfg Config) *ContentManager {
	cm := &ContentManager{
		db:         db,
		tasks:      task.NewProcessor(),
		timer:      timer.New(clock),
		updates:    update.NewManager(),
		execs:      executor.New(),
		timedSet:   autoscan.NewSet(cds.AutoscanTimed),
		inotifySet: autoscan.NewSet(cds.AutoscanInotify),
		services:   make(map[string]online.Service),
	}

	cm.importer = &scan.Importer{
		DB:        db,
		Mapper:    mapper,
		Layout:    lay,
		Metadata:  meta,
		Playlists: pls,
		Updates:   cm.updates,
		Hooks:     cm,
		Policy: scan.Policy{
			Hidden:         cfg.Hidden,
			FollowSymlinks: cfg.FollowSymlinks,
			ConfigFileName: cfg.ConfigFileName,
			AllowFIFO:      cfg.AllowFIFO,
		},
		IsTheora: cfg.IsTheora,
	}

	cm.refresher = &online.Refresher{DB: db, Layout: lay, Clock: clock, Cb: cm}

	if backend != nil {
		policy := cfg.InotifyPolicy
		if policy.ConfigFileName == "" {
			policy.ConfigFileName = cfg.ConfigFileName
		}
		cm.ino = inotify.New(backend, cm, policy)
	}

	return cm
}

// Run starts the background workers: the TaskProcessor, the Timer and, if
// configured, the InotifyManager (spec.md §5's thread list). Each runs in
// its own goroutine; Run returns immediately.
func (cm *ContentManager) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	cm.cancel = cancel

	go cm.tasks.Run()
	go cm.timer.Run(ctx)
	if cm.ino != nil {
		go cm.ino.Run()
	}
}

// Shutdown stops every worker in turn and kills tracked executors,
// matching spec.md §5's shutdown discipline.
func (cm *ContentManager) Shutdown() {
	if cm.cancel != nil {
		cm.cancel()
	}
	cm.tasks.Shutdown()
	cm.timer.Shutdown()
	if cm.ino != nil {
		cm.ino.Shutdown()
	}
	cm.execs.Shutdown()
}

// AddFile implements inotify.Callbacks and is the public entry point for
// importing a path, queueing the work as a TypeAddFile task (spec.md §4.5).
func (cm *ContentManager) AddFile(path string, recursive, lowPriority, cancellable bool) error {
	prio := task.PriorityNormal
	if lowPriority {
		prio = task.PriorityLow
	}
	t := task.New(task.TypeAddFile, "add "+path, cancellable, task.OwnerContentManager, 0, path, func(t *task.Task) {
		if cancellable && !t.Valid() {
			return
		}
		if _, err := cm.importer.AddFile(path, filepath.Dir(path), recursive, false); err != nil {
			log.Errorf("contentmgr: addFile failed for %s: %v", path, err)
		}
	})
	cm.tasks.Add(t, prio)
	return nil
}

// RemoveObjectByPath implements inotify.Callbacks: it resolves path to an
// object id and queues its removal.
func (cm *ContentManager) RemoveObjectByPath(path string) error {
	obj, err := cm.db.FindObjectByPath(path, nil)
	if err != nil {
		return err
	}
	if obj == nil {
		return nil
	}
	return cm.RemoveObject(obj.ID, false)
}

// RemoveObject implements spec.md §4.6's public entry point and doubles as
// online.Callbacks.RemoveObject (the purge sweep removes stale items
// through the same path): it queues a non-cancellable TypeRemoveObject
// task, matching the teacher's removeObject(id, all) signature.
func (cm *ContentManager) RemoveObject(id cds.ID, all bool) error {
	if id == cds.RootID || id == cds.PCDirID {
		return cdserr.New(cdserr.InvalidArgument, "contentmgr: cannot remove well-known object")
	}
	obj, err := cm.db.LoadObject(id)
	if err != nil {
		return err
	}
	t := task.New(task.TypeRemoveObject, "remove "+obj.Location, false, task.OwnerContentManager, 0, obj.Location, func(*task.Task) {
		if err := cm.importer.RemoveObject(id, all); err != nil {
			log.Errorf("contentmgr: removeObject failed for %d: %v", id, err)
		}
	})
	cm.tasks.Add(t, task.PriorityNormal)
	return nil
}

// UpdateObject queues persisting obj and, when sendUpdates is set, the
// container-change notification.
func (cm *ContentManager) UpdateObject(obj *cds.Object, sendUpdates bool) task.ID {
	t := task.New(task.TypeAddFile, "update object "+obj.Location, false, task.OwnerContentManager, 0, obj.Location, func(*task.Task) {
		if err := cm.importer.UpdateObject(obj, sendUpdates); err != nil {
			log.Errorf("contentmgr: updateObject failed for %d: %v", obj.ID, err)
		}
	})
	return cm.tasks.Add(t, task.PriorityNormal)
}

// EnsurePathExistence runs synchronously, mirroring the teacher's own
// ContentManager::ensurePathExistence (spec.md §4.7): callers need the leaf
// id back immediately (e.g. to bind a fresh AutoscanDirectory to it), so
// queuing it through the task queue would only add latency with no
// concurrency benefit since it never touches the filesystem.
func (cm *ContentManager) EnsurePathExistence(path string) (cds.ID, error) {
	return cm.importer.EnsurePathExistence(path)
}

// AddContainerChain runs synchronously for the same reason as
// EnsurePathExistence (spec.md §4.8).
func (cm *ContentManager) AddContainerChain(chain, classHint string, refID cds.ID) (cds.ID, error) {
	return cm.importer.AddContainerChain(chain, classHint, refID)
}

// RescanDirectory queues a TypeRescanDirectory task implementing spec.md
// §4.4's diff algorithm. dir.TaskCount is bumped immediately, covering the
// whole queued-plus-running lifetime so a new rescan of the same autoscan
// stays blocked until every outstanding one (including its queue wait)
// finishes; dir.ActiveScanCount is bumped only once the task actually
// starts executing, so it reflects scans genuinely in flight right now.
func (cm *ContentManager) RescanDirectory(containerID cds.ID, dir *cds.AutoscanDirectory, cancellable bool) task.ID {
	dir.TaskCount++
	t := task.New(task.TypeRescanDirectory, "rescan "+dir.Location, cancellable, task.OwnerContentManager, 0, dir.Location, func(t *task.Task) {
		dir.ActiveScanCount++
		defer cm.finishRescan(dir)

		valid := func() bool { return !cancellable || t.Valid() }
		outcome, err := cm.importer.RescanDirectory(containerID, dir, valid, func(childID cds.ID) {
			cm.RescanDirectory(childID, dir, cancellable)
		})
		if err != nil {
			log.Errorf("contentmgr: rescan failed for %s: %v", dir.Location, err)
			return
		}

		switch outcome {
		case scan.RescanMissingTransient:
			cm.unregisterAutoscan(dir)
		case scan.RescanMissingPersistent:
			dir.ContainerID = cds.InvalidID
			cm.persistAutoscan(dir)
		}
	})
	return cm.tasks.Add(t, task.PriorityNormal)
}

func (cm *ContentManager) finishRescan(dir *cds.AutoscanDirectory) {
	dir.ActiveScanCount--
	dir.TaskCount--
	if dir.TaskCount == 0 && dir.ScanMode == cds.ScanModeTimed && dir.Interval > 0 {
		cm.timer.Subscribe(dir, dir.ScanID, dir.Interval, true, cm.onTimedScanTick)
	}
}

func (cm *ContentManager) onTimedScanTick(param timer.Param) {
	scanID, _ := param.(int64)
	set := cm.timedSet
	dir, ok := set.ByID(scanID)
	if !ok || dir.Invalidated() {
		return
	}
	cm.RescanDirectory(dir.ContainerID, dir, true)
}

// SetAutoscanDirectory registers dir with the timed or inotify autoscan set
// per dir.ScanMode, arming a Timer subscription or an inotify watch and
// persisting the set when dir.Persistent is set.
func (cm *ContentManager) SetAutoscanDirectory(dir *cds.AutoscanDirectory) error {
	set := cm.setFor(dir)
	if err := set.Add(dir); err != nil {
		return err
	}

	switch dir.ScanMode {
	case cds.ScanModeTimed:
		if dir.Interval > 0 {
			if err := cm.timer.Subscribe(dir, dir.ScanID, dir.Interval, true, cm.onTimedScanTick); err != nil {
				return cdserr.Wrap(cdserr.InvalidArgument, err, "contentmgr: subscribe timed autoscan")
			}
		}
	case cds.ScanModeInotify:
		if cm.ino == nil {
			return cdserr.New(cdserr.InvalidArgument, "contentmgr: inotify autoscan requested without an inotify backend")
		}
		cm.ino.Monitor(dir)
	}

	if dir.Persistent {
		cm.persistAutoscan(dir)
	}
	return nil
}

func (cm *ContentManager) setFor(dir *cds.AutoscanDirectory) *autoscan.Set {
	if dir.ScanMode == cds.ScanModeInotify {
		return cm.inotifySet
	}
	return cm.timedSet
}

func (cm *ContentManager) persistAutoscan(dir *cds.AutoscanDirectory) {
	set := cm.setFor(dir)
	if err := cm.db.UpdateAutoscanPersistentList(set.Mode(), set.All()); err != nil {
		log.Errorf("contentmgr: persisting autoscan list failed: %v", err)
	}
}

func (cm *ContentManager) unregisterAutoscan(dir *cds.AutoscanDirectory) {
	set := cm.setFor(dir)
	set.Remove(dir.ScanID)
	if dir.ScanMode == cds.ScanModeTimed {
		cm.timer.Unsubscribe(dir, dir.ScanID, true)
	} else if cm.ino != nil {
		cm.ino.Unmonitor(dir)
	}
	if dir.Persistent {
		cm.persistAutoscan(dir)
	}
}

// RemoveChildAutoscans implements scan.RemovalHooks: every autoscan (timed
// or inotify) located under pathPrefix is unregistered (spec.md §4.6).
func (cm *ContentManager) RemoveChildAutoscans(pathPrefix string) {
	for _, dir := range cm.timedSet.All() {
		if hasPathPrefix(dir.Location, pathPrefix) {
			cm.unregisterAutoscan(dir)
		}
	}
	for _, dir := range cm.inotifySet.All() {
		if hasPathPrefix(dir.Location, pathPrefix) {
			cm.unregisterAutoscan(dir)
		}
	}
}

// InvalidateQueuedUnderPath implements scan.RemovalHooks: queued tasks
// whose path is prefixed by pathPrefix are invalidated so no ghost inserts
// arrive after a remove (spec.md §4.6).
func (cm *ContentManager) InvalidateQueuedUnderPath(pathPrefix string) {
	cm.tasks.InvalidateByPathPrefix(pathPrefix)
}

// HandlePersistentAutoscanRemove implements inotify.Callbacks (spec.md
// §4.3's DELETE_SELF/UNMOUNT/MOVE_SELF row): the record survives with its
// containerId reset, ready to be re-materialised once the path reappears.
func (cm *ContentManager) HandlePersistentAutoscanRemove(dir *cds.AutoscanDirectory) {
	dir.ContainerID = cds.InvalidID
	cm.persistAutoscan(dir)
}

// HandlePersistentAutoscanRecreate implements inotify.Callbacks: once the
// monitored path reappears, re-ensure it exists in the database and kick
// off a fresh rescan.
func (cm *ContentManager) HandlePersistentAutoscanRecreate(dir *cds.AutoscanDirectory) {
	containerID, err := cm.EnsurePathExistence(dir.Location)
	if err != nil {
		log.Errorf("contentmgr: recreate autoscan failed for %s: %v", dir.Location, err)
		return
	}
	dir.ContainerID = containerID
	cm.persistAutoscan(dir)
	cm.RescanDirectory(containerID, dir, false)
}

// RegisterOnlineService makes svc reachable by name from FetchOnlineContent
// and arms its first refresh cycle when svc.RefreshInterval > 0.
func (cm *ContentManager) RegisterOnlineService(svc online.Service) {
	cm.mu.Lock()
	cm.services[svc.Name()] = svc
	cm.mu.Unlock()

	if svc.RefreshInterval() > 0 {
		cm.timer.Subscribe(svc, svc.Name(), time.Duration(svc.RefreshInterval())*time.Second, true, func(timer.Param) {
			cm.FetchOnlineContent(svc.Name(), false, true, false)
		})
	}
}

// UnregisterOnlineService removes svc by name and cancels its Timer
// subscription.
func (cm *ContentManager) UnregisterOnlineService(name string) {
	cm.mu.Lock()
	svc, ok := cm.services[name]
	delete(cm.services, name)
	cm.mu.Unlock()
	if ok {
		cm.timer.Unsubscribe(svc, svc.Name(), true)
	}
}

// FetchOnlineContent implements spec.md §4.9's public entry point: it looks
// up the service by name and enqueues its first refresh task.
func (cm *ContentManager) FetchOnlineContent(serviceName string, lowPriority, cancellable, unscheduledRefresh bool) error {
	cm.mu.Lock()
	svc, ok := cm.services[serviceName]
	cm.mu.Unlock()
	if !ok {
		return cdserr.Newf(cdserr.InvalidArgument, "contentmgr: unknown online service %q", serviceName)
	}
	cm.EnqueueFetch(svc, lowPriority, cancellable, unscheduledRefresh)
	return nil
}

// EnqueueFetch implements online.Callbacks: it queues one
// TypeFetchOnlineContent task running the Refresher.
func (cm *ContentManager) EnqueueFetch(svc online.Service, lowPriority, cancellable, unscheduledRefresh bool) {
	prio := task.PriorityNormal
	if lowPriority {
		prio = task.PriorityLow
	}
	svc.IncTaskCount()
	t := task.New(task.TypeFetchOnlineContent, "fetch "+svc.Name(), cancellable, task.OwnerContentManager, 0, "", func(t *task.Task) {
		if cancellable && !t.Valid() {
			svc.DecTaskCount()
			return
		}
		cm.refresher.Run(svc, cancellable, unscheduledRefresh)
	})
	cm.tasks.Add(t, prio)
}

// RearmTimer implements online.Callbacks: it re-subscribes svc for another
// refresh cycle after interval seconds.
func (cm *ContentManager) RearmTimer(svc online.Service, interval int64) {
	cm.timer.Subscribe(svc, svc.Name(), time.Duration(interval)*time.Second, true, func(timer.Param) {
		cm.FetchOnlineContent(svc.Name(), false, true, false)
	})
}

// RegisterExecutor tracks proc for the lifetime of the process (spec.md §2
// component 10) and returns a token to unregister it.
func (cm *ContentManager) RegisterExecutor(proc executor.Process) executor.Token {
	return cm.execs.Register(proc)
}

// UnregisterExecutor drops proc from the registry.
func (cm *ContentManager) UnregisterExecutor(t executor.Token) {
	cm.execs.Unregister(t)
}

// Status is a snapshot of queue depth and active autoscan counts, for a
// `status` CLI command to report (SPEC_FULL.md §11).
type Status struct {
	QueuedTasks      int
	TimedAutoscans   int
	InotifyAutoscans int
	OnlineServices   int
}

// Status reports the current queue depth and autoscan counts.
func (cm *ContentManager) Status() Status {
	cm.mu.Lock()
	services := len(cm.services)
	cm.mu.Unlock()
	return Status{
		QueuedTasks:      len(cm.tasks.List()),
		TimedAutoscans:   len(cm.timedSet.All()),
		InotifyAutoscans: len(cm.inotifySet.All()),
		OnlineServices:   services,
	}
}

func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
