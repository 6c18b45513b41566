// Package task implements the serial TaskProcessor worker from spec.md
// §4.2: a FIFO of Task values split across a normal and a low-priority
// queue, with cancellation by id, by parent id, or by path prefix.
package task

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Type is the closed set of task kinds (spec.md §3 "Task").
type Type int

const (
	TypeAddFile Type = iota
	TypeRemoveObject
	TypeLoadAccounting
	TypeRescanDirectory
	TypeFetchOnlineContent
)

// Owner identifies which component is allowed to invalidate a task by id.
type Owner int

const (
	OwnerContentManager Owner = iota
	OwnerTaskProcessor
)

// ID is a monotonically increasing task identifier, unique for the
// lifetime of one Processor.
type ID uint64

// Run is the task body. It receives the task itself so cancellable work
// can cooperatively check t.Valid() between expensive steps, per spec.md
// §4.2's cancellation discipline.
type Run func(t *Task)

// Task is one unit of work submitted to a Processor.
type Task struct {
	ID          ID
	ParentID    ID
	Type        Type
	Description string
	Cancellable bool
	Owner       Owner
	Path        string // path-prefix invalidation target, when applicable

	run   Run
	valid int32 // atomic bool, 1 = valid
}

// newTask constructs a Task in the valid state.
func newTask(typ Type, description string, cancellable bool, owner Owner, path string, run Run) *Task {
	return &Task{
		Type:        typ,
		Description: description,
		Cancellable: cancellable,
		Owner:       owner,
		Path:        path,
		run:         run,
		valid:       1,
	}
}

// Valid reports whether the task has not been invalidated.
func (t *Task) Valid() bool {
	return atomic.LoadInt32(&t.valid) != 0
}

func (t *Task) invalidate() {
	atomic.StoreInt32(&t.valid, 0)
}

// Priority selects which of the Processor's two logical queues a task is
// enqueued on.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
)

// Processor is the single worker-thread task queue (spec.md §4.2). Tasks
// submitted via Add run serially, normal-priority queue drained before
// low-priority, in FIFO order within each.
type Processor struct {
	mu          sync.Mutex
	cond        *sync.Cond
	normal      []*Task
	low         []*Task
	current     *Task
	nextID      ID
	shutdown    bool
	workerAwake bool
}

// NewProcessor creates an idle Processor. Call Run in its own goroutine to
// start the worker.
func NewProcessor() *Processor {
	p := &Processor{nextID: 1}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// New builds a Task of the given type bound to run, not yet submitted.
// parentID is 0 (no parent) for top-level tasks.
func New(typ Type, description string, cancellable bool, owner Owner, parentID ID, path string, run Run) *Task {
	t := newTask(typ, description, cancellable, owner, path, run)
	t.ParentID = parentID
	return t
}

// Add assigns t a fresh monotonically increasing id and enqueues it on the
// selected priority queue, waking the worker.
func (p *Processor) Add(t *Task, prio Priority) ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	t.ID = p.nextID
	p.nextID++

	switch prio {
	case PriorityLow:
		p.low = append(p.low, t)
	default:
		p.normal = append(p.normal, t)
	}
	p.cond.Signal()
	return t.ID
}

// dequeueLocked pops the next task, normal queue first. Caller holds mu.
func (p *Processor) dequeueLocked() *Task {
	if len(p.normal) > 0 {
		t := p.normal[0]
		p.normal = p.normal[1:]
		return t
	}
	if len(p.low) > 0 {
		t := p.low[0]
		p.low = p.low[1:]
		return t
	}
	return nil
}

// Run drains the queues until Shutdown is called, running each valid task's
// body serially. A task whose validity flipped to false before it was
// dequeued is still dequeued but its run body is skipped, per spec.md
// §4.2's "a no-op" requirement.
func (p *Processor) Run() {
	p.mu.Lock()
	for {
		if p.shutdown {
			p.mu.Unlock()
			return
		}
		t := p.dequeueLocked()
		if t == nil {
			p.cond.Wait()
			continue
		}
		p.current = t
		p.mu.Unlock()

		if t.Valid() {
			t.run(t)
		}

		p.mu.Lock()
		p.current = nil
	}
}

// Shutdown stops Run's loop once it next wakes. In-flight non-cancellable
// tasks are allowed to finish; no task started after Shutdown is called.
func (p *Processor) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Invalidate flips valid=false on every task, queued or current, whose ID
// or ParentID matches id. Idempotent and non-blocking, per spec.md §4.2.
func (p *Processor) Invalidate(id ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && (p.current.ID == id || p.current.ParentID == id) {
		p.current.invalidate()
	}
	for _, t := range p.normal {
		if t.ID == id || t.ParentID == id {
			t.invalidate()
		}
	}
	for _, t := range p.low {
		if t.ID == id || t.ParentID == id {
			t.invalidate()
		}
	}
}

// InvalidateByPathPrefix flips valid=false on every queued task (current
// included) whose Path is pathPrefix or a descendant of it, matching
// content_manager.cc's invalidateAddTask path-prefix behaviour.
func (p *Processor) InvalidateByPathPrefix(pathPrefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	matches := func(t *Task) bool {
		if t.Path == "" {
			return false
		}
		return t.Path == pathPrefix || strings.HasPrefix(t.Path, pathPrefix+"/")
	}
	if p.current != nil && matches(p.current) {
		p.current.invalidate()
	}
	for _, t := range p.normal {
		if matches(t) {
			t.invalidate()
		}
	}
	for _, t := range p.low {
		if matches(t) {
			t.invalidate()
		}
	}
}

// List returns a snapshot of the task list: the current task first (if
// any), then queued tasks (normal, then low) in order. Invalid queued
// tasks are omitted, matching getTasklist()'s "if (t->isValid())" filter;
// the current task is always included regardless of validity.
func (p *Processor) List() []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil && len(p.normal) == 0 && len(p.low) == 0 {
		return nil
	}
	out := make([]*Task, 0, 1+len(p.normal)+len(p.low))
	if p.current != nil {
		out = append(out, p.current)
	}
	for _, t := range p.normal {
		if t.Valid() {
			out = append(out, t)
		}
	}
	for _, t := range p.low {
		if t.Valid() {
			out = append(out, t)
		}
	}
	return out
}
