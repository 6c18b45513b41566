package task

import (
	"sync"
	"testing"
	"time"
)

func TestAddAssignsMonotoneIDs(t *testing.T) {
	p := NewProcessor()
	a := New(TypeAddFile, "a", false, OwnerContentManager, 0, "", func(*Task) {})
	b := New(TypeAddFile, "b", false, OwnerContentManager, 0, "", func(*Task) {})

	idA := p.Add(a, PriorityNormal)
	idB := p.Add(b, PriorityNormal)
	if idB <= idA {
		t.Fatalf("ids = %d, %d, want strictly increasing", idA, idB)
	}
}

func TestRunDrainsNormalBeforeLow(t *testing.T) {
	p := NewProcessor()
	var mu sync.Mutex
	var order []string

	record := func(name string) Run {
		return func(*Task) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	p.Add(New(TypeAddFile, "low1", false, OwnerContentManager, 0, "", record("low1")), PriorityLow)
	p.Add(New(TypeAddFile, "normal1", false, OwnerContentManager, 0, "", record("normal1")), PriorityNormal)
	p.Add(New(TypeAddFile, "normal2", false, OwnerContentManager, 0, "", record("normal2")), PriorityNormal)

	go p.Run()
	defer p.Shutdown()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"normal1", "normal2", "low1"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestInvalidateSkipsRunBody(t *testing.T) {
	p := NewProcessor()
	ran := make(chan struct{}, 1)

	tsk := New(TypeAddFile, "a", true, OwnerContentManager, 0, "/tmp/x", func(*Task) {
		ran <- struct{}{}
	})
	id := p.Add(tsk, PriorityNormal)
	p.Invalidate(id)

	go p.Run()
	defer p.Shutdown()

	select {
	case <-ran:
		t.Fatal("run body executed after Invalidate, want no-op")
	case <-time.After(100 * time.Millisecond):
	}

	if tsk.Valid() {
		t.Fatal("task still reports Valid() after Invalidate")
	}
}

func TestInvalidateByParentID(t *testing.T) {
	p := NewProcessor()
	parent := New(TypeRescanDirectory, "parent", false, OwnerContentManager, 0, "", func(*Task) {})
	parentID := p.Add(parent, PriorityNormal)

	child := New(TypeAddFile, "child", false, OwnerContentManager, parentID, "", func(*Task) {})
	p.Add(child, PriorityLow)

	p.Invalidate(parentID)

	if child.Valid() {
		t.Fatal("child task still Valid() after parent invalidated")
	}
}

func TestInvalidateByPathPrefixMatchesDescendants(t *testing.T) {
	p := NewProcessor()
	outside := New(TypeAddFile, "outside", false, OwnerContentManager, 0, "/tmp/other/file", func(*Task) {})
	inside := New(TypeAddFile, "inside", false, OwnerContentManager, 0, "/tmp/eps/big", func(*Task) {})
	p.Add(outside, PriorityLow)
	p.Add(inside, PriorityLow)

	p.InvalidateByPathPrefix("/tmp/eps")

	if !outside.Valid() {
		t.Fatal("unrelated task invalidated by unrelated path prefix")
	}
	if inside.Valid() {
		t.Fatal("descendant task still Valid() after InvalidateByPathPrefix")
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	p := NewProcessor()
	tsk := New(TypeAddFile, "a", false, OwnerContentManager, 0, "", func(*Task) {})
	id := p.Add(tsk, PriorityNormal)

	p.Invalidate(id)
	p.Invalidate(id)

	if tsk.Valid() {
		t.Fatal("task still Valid() after double Invalidate")
	}
}

func TestListSnapshotCurrentFirst(t *testing.T) {
	p := NewProcessor()
	started := make(chan struct{})
	block := make(chan struct{})
	first := New(TypeAddFile, "first", true, OwnerContentManager, 0, "", func(*Task) {
		close(started)
		<-block
	})
	p.Add(first, PriorityNormal)
	second := New(TypeAddFile, "second", false, OwnerContentManager, 0, "", func(*Task) {})
	p.Add(second, PriorityNormal)

	go p.Run()
	defer func() { close(block); p.Shutdown() }()

	<-started
	waitFor(t, func() bool { return len(p.List()) == 2 })

	list := p.List()
	if list[0].Description != "first" {
		t.Fatalf("List()[0] = %q, want current task first", list[0].Description)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
