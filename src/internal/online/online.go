// Package online implements the generic online-service refresh loop
// (spec.md §4.9): a service is polled page by page via the task queue,
// re-enqueued at low priority while there's more to fetch, and once a
// cycle finishes its stale virtual items are purged and its Timer
// subscription re-armed.
package online

import (
	"strconv"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/clockutil"
	"gitlab.com/mipimipi/cdsengine/src/internal/layout"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "online"})

// ServiceLastUpdateKey is the Auxdata key an online service stamps with
// the UNIX timestamp of an item's most recent refresh, consulted by the
// purge sweep.
const ServiceLastUpdateKey = "onlineServiceLastUpdate"

// Service is one pluggable content source (a generic puller, spec.md §1's
// "online content" non-goal stops at this contract: an actual
// implementation talking to a specific provider is out of scope).
type Service interface {
	Name() string
	// RefreshServiceData fetches the next page of content through lay,
	// returning true when there is more to fetch.
	RefreshServiceData(lay layout.Layout) (more bool, err error)
	RefreshInterval() int64
	ItemPurgeInterval() int64
	// StoragePrefix returns the one-character tag this service prefixes
	// its object's serviceId with, so object ids from different services
	// never collide.
	StoragePrefix() byte

	IncTaskCount()
	DecTaskCount()
	TaskCount() int
}

// Callbacks are the operations the refresh cycle needs from the owning
// ContentManager: enqueuing a follow-up fetch task, removing a purged
// object, and re-arming a Timer subscription. Defined here rather than
// importing internal/contentmgr to avoid the same cycle
// internal/inotify.Callbacks and internal/scan.RemovalHooks avoid.
type Callbacks interface {
	EnqueueFetch(svc Service, lowPriority, cancellable, unscheduledRefresh bool)
	RemoveObject(id cds.ID, all bool) error
	RearmTimer(svc Service, interval int64)
}

// Refresher drives one fetchOnlineContent cycle (spec.md §4.9).
type Refresher struct {
	DB     cds.Database
	Layout layout.Layout
	Clock  clockutil.Clock
	Cb     Callbacks
}

// Run executes one page of svc's refresh (the body of a FetchOnlineContent
// task): it calls RefreshServiceData, enqueues a follow-up task while
// there's more to fetch, and otherwise runs the purge sweep and re-arms
// the Timer once the service's outstanding task count reaches zero.
func (r *Refresher) Run(svc Service, cancellable, unscheduledRefresh bool) {
	more, err := svc.RefreshServiceData(r.Layout)
	followUp := false
	if err != nil {
		log.Errorf("online: refresh failed for %s: %v", svc.Name(), err)
	} else if more {
		if svc.RefreshInterval() > 0 || unscheduledRefresh {
			r.Cb.EnqueueFetch(svc, true, cancellable, unscheduledRefresh)
			followUp = true
		}
	} else {
		r.purge(svc)
	}

	svc.DecTaskCount()
	if !followUp && svc.TaskCount() == 0 && svc.RefreshInterval() > 0 && !unscheduledRefresh {
		r.Cb.RearmTimer(svc, svc.RefreshInterval())
	}
}

// purge removes every object belonging to svc whose last-update Auxdata
// timestamp is older than svc's ItemPurgeInterval (spec.md §4.9).
func (r *Refresher) purge(svc Service) {
	interval := svc.ItemPurgeInterval()
	if interval <= 0 {
		return
	}

	ids, err := r.DB.GetServiceObjectIDs(svc.StoragePrefix())
	if err != nil {
		log.Errorf("online: purge: GetServiceObjectIDs failed for %s: %v", svc.Name(), err)
		return
	}

	now := r.Clock.Now().Unix()
	for _, id := range ids {
		obj, err := r.DB.LoadObject(id)
		if err != nil {
			continue
		}
		raw, ok := obj.Auxdata.Get(ServiceLastUpdateKey)
		if !ok {
			continue
		}
		last, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if now-last > interval {
			log.Debugf("online: purging stale object %q from %s", obj.Title, svc.Name())
			if err := r.Cb.RemoveObject(id, false); err != nil {
				log.Errorf("online: purge remove failed for object %d: %v", id, err)
			}
		}
	}
}
