package inotify

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"
)

// Mask is the bitset of event.mask values from spec.md §4.3's "event set
// of interest".
type Mask uint32

const (
	CloseWrite Mask = 1 << iota
	Create
	MovedFrom
	MovedTo
	Delete
	DeleteSelf
	MoveSelf
	Unmount
	Ignored
	Attrib
)

// RawEvent is one translated filesystem event: Path is the absolute path
// the kernel reported the event against, WD identifies which watched
// directory it belongs to.
type RawEvent struct {
	WD   WD
	Path string
	Mask Mask
}

// Backend is the minimal kernel-facility contract spec.md §6 requires:
// addWatch/removeWatch plus a stream of translated events. internal/inotify
// drives production code against notifyBackend (github.com/rjeczalik/notify)
// and tests against a hand-rolled fake that needs no real filesystem.
type Backend interface {
	AddWatch(path string) (WD, error)
	RemoveWatch(wd WD) error
	Events() <-chan RawEvent
	Close() error
}

// watchedEvents is the notify.Event mask passed to every non-recursive
// notify.Watch call: the exact inotify bits spec.md §4.3 lists, available
// on Linux as notify.In* aliases for the raw IN_* constants (the same
// mapping the teacher's notifier.go relies on via notify.All).
const watchedEvents = notify.InCloseWrite | notify.InCreate | notify.InMovedFrom |
	notify.InMovedTo | notify.InDelete | notify.InDeleteSelf | notify.InMoveSelf |
	notify.InUnmount | notify.InIgnored | notify.InAttrib

// notifyBackend adapts github.com/rjeczalik/notify to Backend. Each watched
// directory gets its own channel (the package's Stop(c) call removes every
// watchpoint registered against c, so one-watch-per-channel is what makes
// RemoveWatch selective), fanned into one shared raw-event channel.
type notifyBackend struct {
	mu      sync.Mutex
	nextWD  WD
	byWD    map[WD]chan notify.EventInfo
	byPath  map[string]WD
	raw     chan RawEvent
	closed  bool
}

// NewNotifyBackend creates the production Backend.
func NewNotifyBackend() Backend {
	return &notifyBackend{
		nextWD: 1,
		byWD:   make(map[WD]chan notify.EventInfo),
		byPath: make(map[string]WD),
		raw:    make(chan RawEvent, 256),
	}
}

func (b *notifyBackend) AddWatch(path string) (WD, error) {
	b.mu.Lock()
	if wd, ok := b.byPath[path]; ok {
		b.mu.Unlock()
		return wd, nil
	}
	if b.closed {
		b.mu.Unlock()
		return 0, errors.New("inotify: backend is closed")
	}
	b.mu.Unlock()

	ch := make(chan notify.EventInfo, 32)
	if err := notify.Watch(path, ch, watchedEvents); err != nil {
		return 0, errors.Wrapf(err, "inotify: addWatch %s", path)
	}

	b.mu.Lock()
	wd := b.nextWD
	b.nextWD++
	b.byWD[wd] = ch
	b.byPath[path] = wd
	b.mu.Unlock()

	go b.forward(wd, path, ch)
	return wd, nil
}

func (b *notifyBackend) forward(wd WD, path string, ch chan notify.EventInfo) {
	for ei := range ch {
		mask, ok := translate(ei.Event())
		if !ok {
			continue
		}
		b.raw <- RawEvent{WD: wd, Path: eventPath(ei, path), Mask: mask}
	}
}

func (b *notifyBackend) RemoveWatch(wd WD) error {
	b.mu.Lock()
	ch, ok := b.byWD[wd]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	var path string
	for p, w := range b.byPath {
		if w == wd {
			path = p
			break
		}
	}
	delete(b.byWD, wd)
	delete(b.byPath, path)
	b.mu.Unlock()

	notify.Stop(ch)
	close(ch)
	return nil
}

func (b *notifyBackend) Events() <-chan RawEvent { return b.raw }

func (b *notifyBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.byWD {
		notify.Stop(ch)
		close(ch)
	}
	b.byWD = make(map[WD]chan notify.EventInfo)
	b.byPath = make(map[string]WD)
	close(b.raw)
	return nil
}

func translate(e notify.Event) (Mask, bool) {
	var m Mask
	if e&notify.InCloseWrite != 0 {
		m |= CloseWrite
	}
	if e&notify.InCreate != 0 {
		m |= Create
	}
	if e&notify.InMovedFrom != 0 {
		m |= MovedFrom
	}
	if e&notify.InMovedTo != 0 {
		m |= MovedTo
	}
	if e&notify.InDelete != 0 {
		m |= Delete
	}
	if e&notify.InDeleteSelf != 0 {
		m |= DeleteSelf
	}
	if e&notify.InMoveSelf != 0 {
		m |= MoveSelf
	}
	if e&notify.InUnmount != 0 {
		m |= Unmount
	}
	if e&notify.InIgnored != 0 {
		m |= Ignored
	}
	if e&notify.InAttrib != 0 {
		m |= Attrib
	}
	if m == 0 {
		return 0, false
	}
	return m, true
}

// eventPath prefers the path notify.EventInfo reports (it carries the
// specific entry name for directory events); falls back to the watched
// directory's own path for self-events.
func eventPath(ei notify.EventInfo, watchedPath string) string {
	if p := ei.Path(); p != "" {
		return p
	}
	return watchedPath
}
