package inotify

import (
	"sync"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

// fakeBackend is a Backend double driven entirely by the test: AddWatch
// just hands out sequential ids, and tests push synthetic events through
// Push.
type fakeBackend struct {
	mu     sync.Mutex
	nextWD WD
	byPath map[string]WD
	events chan RawEvent
	closed bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextWD: 1,
		byPath: make(map[string]WD),
		events: make(chan RawEvent, 64),
	}
}

func (b *fakeBackend) AddWatch(path string) (WD, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if wd, ok := b.byPath[path]; ok {
		return wd, nil
	}
	wd := b.nextWD
	b.nextWD++
	b.byPath[path] = wd
	return wd, nil
}

func (b *fakeBackend) RemoveWatch(wd WD) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p, w := range b.byPath {
		if w == wd {
			delete(b.byPath, p)
		}
	}
	return nil
}

func (b *fakeBackend) Events() <-chan RawEvent { return b.events }

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	return nil
}

func (b *fakeBackend) Push(ev RawEvent) { b.events <- ev }

func (b *fakeBackend) wdFor(path string) (WD, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wd, ok := b.byPath[path]
	return wd, ok
}

// fakeCallbacks records every call the manager made against the
// ContentManager façade.
type fakeCallbacks struct {
	mu                  sync.Mutex
	added               []string
	removed             []string
	persistentRemoved   int
	persistentRecreated int
}

func newFakeCallbacks() *fakeCallbacks { return &fakeCallbacks{} }

func (f *fakeCallbacks) AddFile(path string, recursive, lowPriority, cancellable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, path)
	return nil
}

func (f *fakeCallbacks) RemoveObjectByPath(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeCallbacks) HandlePersistentAutoscanRemove(dir *cds.AutoscanDirectory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistentRemoved++
}

func (f *fakeCallbacks) HandlePersistentAutoscanRecreate(dir *cds.AutoscanDirectory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistentRecreated++
}

func (f *fakeCallbacks) addedSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.added))
	copy(out, f.added)
	return out
}

func (f *fakeCallbacks) removedSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removed))
	copy(out, f.removed)
	return out
}
