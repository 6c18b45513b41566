package online

import (
	"strconv"
	"testing"
	"time"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/cdsmem"
	"gitlab.com/mipimipi/cdsengine/src/internal/clockutil"
	"gitlab.com/mipimipi/cdsengine/src/internal/layout"
)

type fakeService struct {
	name              string
	pages             []bool // each Run pops one "more" value
	refreshInterval   int64
	itemPurgeInterval int64
	prefix            byte
	taskCount         int
	refreshErr        error
}

func (s *fakeService) Name() string { return s.name }
func (s *fakeService) RefreshServiceData(layout.Layout) (bool, error) {
	if s.refreshErr != nil {
		return false, s.refreshErr
	}
	if len(s.pages) == 0 {
		return false, nil
	}
	more := s.pages[0]
	s.pages = s.pages[1:]
	return more, nil
}
func (s *fakeService) RefreshInterval() int64   { return s.refreshInterval }
func (s *fakeService) ItemPurgeInterval() int64 { return s.itemPurgeInterval }
func (s *fakeService) StoragePrefix() byte      { return s.prefix }
func (s *fakeService) IncTaskCount()            { s.taskCount++ }
func (s *fakeService) DecTaskCount()            { s.taskCount-- }
func (s *fakeService) TaskCount() int           { return s.taskCount }

type fakeCallbacks struct {
	enqueued []string
	removed  []cds.ID
	rearmed  []string
}

func (c *fakeCallbacks) EnqueueFetch(svc Service, lowPriority, cancellable, unscheduledRefresh bool) {
	c.enqueued = append(c.enqueued, svc.Name())
}
func (c *fakeCallbacks) RemoveObject(id cds.ID, all bool) error {
	c.removed = append(c.removed, id)
	return nil
}
func (c *fakeCallbacks) RearmTimer(svc Service, interval int64) {
	c.rearmed = append(c.rearmed, svc.Name())
}

func TestRunEnqueuesFollowUpWhenMorePages(t *testing.T) {
	svc := &fakeService{name: "svc", pages: []bool{true}, refreshInterval: 60, taskCount: 1}
	cb := &fakeCallbacks{}
	r := &Refresher{DB: cdsmem.New(), Clock: clockutil.NewFake(time.Unix(1000, 0)), Cb: cb}

	r.Run(svc, true, false)

	if len(cb.enqueued) != 1 {
		t.Fatalf("enqueued = %v, want one follow-up fetch", cb.enqueued)
	}
	if svc.taskCount != 0 {
		t.Fatalf("taskCount = %d, want 0 after DecTaskCount", svc.taskCount)
	}
	if len(cb.rearmed) != 0 {
		t.Fatal("RearmTimer called while more pages remain queued, want only after the cycle finishes")
	}
}

func TestRunRearmsTimerWhenCycleFinishesAndTaskCountZero(t *testing.T) {
	svc := &fakeService{name: "svc", pages: []bool{false}, refreshInterval: 60, taskCount: 1}
	cb := &fakeCallbacks{}
	r := &Refresher{DB: cdsmem.New(), Clock: clockutil.NewFake(time.Unix(1000, 0)), Cb: cb}

	r.Run(svc, true, false)

	if len(cb.rearmed) != 1 {
		t.Fatalf("rearmed = %v, want one rearm", cb.rearmed)
	}
}

func TestRunPurgesStaleObjectsPastPurgeInterval(t *testing.T) {
	db := cdsmem.New()
	fresh := cds.NewObject(cds.KindItem, "fresh")
	fresh.Auxdata.Set("serviceId", "X123")
	fresh.Auxdata.Set(ServiceLastUpdateKey, strconv.FormatInt(990, 10))
	var changed cds.ChangedContainers
	db.AddObject(fresh, &changed)

	stale := cds.NewObject(cds.KindItem, "stale")
	stale.Auxdata.Set("serviceId", "X456")
	stale.Auxdata.Set(ServiceLastUpdateKey, strconv.FormatInt(0, 10))
	db.AddObject(stale, &changed)

	svc := &fakeService{name: "svc", pages: []bool{false}, itemPurgeInterval: 100, prefix: 'X', taskCount: 1}
	cb := &fakeCallbacks{}
	r := &Refresher{DB: db, Clock: clockutil.NewFake(time.Unix(1000, 0)), Cb: cb}

	r.Run(svc, true, false)

	if len(cb.removed) != 1 {
		t.Fatalf("removed = %v, want exactly the stale object removed", cb.removed)
	}
}

func TestRunDoesNotEnqueueWhenUnscheduledAndNoMorePages(t *testing.T) {
	svc := &fakeService{name: "svc", pages: []bool{false}, refreshInterval: 0, taskCount: 1}
	cb := &fakeCallbacks{}
	r := &Refresher{DB: cdsmem.New(), Clock: clockutil.NewFake(time.Unix(1000, 0)), Cb: cb}

	r.Run(svc, true, true)

	if len(cb.enqueued) != 0 {
		t.Fatal("enqueued a follow-up fetch with no more pages")
	}
	if len(cb.rearmed) != 0 {
		t.Fatal("rearmed timer for an unscheduled refresh, want no rearm")
	}
}
