// Package executor implements the executor registry from spec.md §2
// (component 10): external processes (transcoders) tracked for the
// duration of the server, killed on shutdown, self-unregistering when they
// exit on their own unless shutdown is already underway.
package executor

import (
	"sync"

	l "github.com/sirupsen/logrus"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "executor"})

// Process is the minimal external-process contract the registry drives.
// A concrete implementation (spawned via os/exec) lives outside the core,
// per spec.md §1's "transcoding pipeline" non-goal; the core only needs to
// kill it. The process's owner reports its exit by calling Unregister.
type Process interface {
	Kill() error
}

// Registry is the weakly-held list of tracked external processes. Weak
// here means the registry does not keep a process alive by itself — it
// only indexes processes the caller already owns, and drops its reference
// the moment the process is unregistered.
type Registry struct {
	mu          sync.Mutex
	processes   map[*handle]struct{}
	shuttingDown bool
}

type handle struct {
	proc Process
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{processes: make(map[*handle]struct{})}
}

// Token identifies a registered process for later Unregister calls.
type Token struct{ h *handle }

// Register tracks proc and returns a Token to unregister it later. Per
// spec.md §5's shared-resource policy, registration happens under the
// same mutex as the rest of the registry's bookkeeping (the task-queue
// mutex ordering note in the core's lock hierarchy does not apply here
// since this registry owns its own independent lock).
func (r *Registry) Register(proc Process) Token {
	h := &handle{proc: proc}
	r.mu.Lock()
	r.processes[h] = struct{}{}
	r.mu.Unlock()
	return Token{h: h}
}

// Unregister drops the process from the registry. A no-op during shutdown,
// per spec.md §5, "their unregister is a no-op during shutdown to avoid
// racing with the kill sweep" — the process is already being killed.
func (r *Registry) Unregister(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shuttingDown {
		return
	}
	delete(r.processes, t.h)
}

// Shutdown kills every tracked process and marks the registry as shutting
// down so concurrent Unregister calls become no-ops.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shuttingDown = true
	handles := make([]*handle, 0, len(r.processes))
	for h := range r.processes {
		handles = append(handles, h)
	}
	r.processes = make(map[*handle]struct{})
	r.mu.Unlock()

	for _, h := range handles {
		if err := h.proc.Kill(); err != nil {
			log.Errorf("executor: kill failed: %v", err)
		}
	}
}

// Len reports the number of currently tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}
