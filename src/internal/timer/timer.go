// Package timer implements the single-threaded delayed/periodic dispatcher
// from spec.md §4.1 ("Timer"): subscribers register a callback, interval,
// opaque parameter and one-shot flag; the timer sleeps until the nearest
// deadline, then fires expired subscribers.
package timer

import (
	"context"
	"sync"
	"time"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cdserr"
	"gitlab.com/mipimipi/cdsengine/src/internal/clockutil"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "timer"})

// Param is the opaque value a subscriber registers alongside its callback,
// handed back unchanged on each notification.
type Param interface{}

// Callback is invoked when a subscriber's interval elapses.
type Callback func(param Param)

// key identifies a subscription the way Subscriber+Param does in the
// original: the same callback may be registered multiple times as long as
// the paired Param differs.
type key struct {
	subscriber interface{}
	param      Param
}

type subscription struct {
	key
	callback   Callback
	interval   time.Duration
	once       bool
	nextNotify time.Time
}

// Timer is the background dispatcher. Create with New and start its loop
// with Run; subscribers may be added/removed concurrently from any
// goroutine.
type Timer struct {
	clock clockutil.Clock

	mu          sync.Mutex
	subscribers []*subscription
	wake        chan struct{}
	shutdown    bool
}

// New creates a Timer using clock for deadline computation; pass
// clockutil.System{} in production and a clockutil.Fake in tests.
func New(clock clockutil.Clock) *Timer {
	return &Timer{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

// Subscribe registers subscriber (any comparable identity, typically the
// calling component itself) paired with param to be notified every
// interval, or exactly once if once is true. Re-registering the same
// (subscriber, param) pair is an error, matching spec.md's "tried to add
// same timer twice". A zero interval is rejected.
func (t *Timer) Subscribe(subscriber interface{}, param Param, interval time.Duration, once bool, cb Callback) error {
	if interval <= 0 {
		return cdserr.New(cdserr.InvalidArgument, "timer: illegal notify interval")
	}

	k := key{subscriber, param}

	t.mu.Lock()
	for _, s := range t.subscribers {
		if s.key == k {
			t.mu.Unlock()
			return cdserr.New(cdserr.Conflict, "timer: subscriber already registered with this parameter")
		}
	}
	t.subscribers = append(t.subscribers, &subscription{
		key:        k,
		callback:   cb,
		interval:   interval,
		once:       once,
		nextNotify: t.clock.Now().Add(interval),
	})
	t.mu.Unlock()

	log.Tracef("timer: added subscriber, interval=%s once=%v", interval, once)
	t.signal()
	return nil
}

// Unsubscribe removes the (subscriber, param) registration. If dontFail is
// false and no such registration exists, returns a NotFound error.
func (t *Timer) Unsubscribe(subscriber interface{}, param Param, dontFail bool) error {
	k := key{subscriber, param}

	t.mu.Lock()
	for i, s := range t.subscribers {
		if s.key == k {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			t.mu.Unlock()
			t.signal()
			return nil
		}
	}
	t.mu.Unlock()

	if dontFail {
		return nil
	}
	return cdserr.New(cdserr.NotFound, "timer: tried to remove nonexistent subscriber")
}

func (t *Timer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run blocks, dispatching notifications until ctx is cancelled or Shutdown
// is called. Intended to be started in its own goroutine by the process
// entry point.
func (t *Timer) Run(ctx context.Context) {
	for {
		t.mu.Lock()
		if t.shutdown {
			t.mu.Unlock()
			return
		}
		wait, hasSubscribers := t.nextWaitLocked()
		t.mu.Unlock()

		if !hasSubscribers {
			select {
			case <-t.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			t.notify()
		case <-t.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Shutdown stops Run's loop on its next iteration.
func (t *Timer) Shutdown() {
	t.mu.Lock()
	t.shutdown = true
	t.mu.Unlock()
	t.signal()
}

// nextWaitLocked returns the duration until the nearest subscriber
// deadline, and whether there are any subscribers at all. Caller holds mu.
func (t *Timer) nextWaitLocked() (time.Duration, bool) {
	if len(t.subscribers) == 0 {
		return 0, false
	}
	now := t.clock.Now()
	next := t.subscribers[0].nextNotify
	for _, s := range t.subscribers[1:] {
		if s.nextNotify.Before(next) {
			next = s.nextNotify
		}
	}
	wait := next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// notify fires every subscriber whose deadline has passed, collecting them
// under the lock then invoking callbacks after unlocking — mirroring
// timer.cc's notify(): "Unlock before we notify so that other threads can
// modify the subscribers".
func (t *Timer) notify() {
	now := t.clock.Now()

	t.mu.Lock()
	var toNotify []*subscription
	remaining := t.subscribers[:0]
	for _, s := range t.subscribers {
		if !s.nextNotify.After(now) {
			toNotify = append(toNotify, s)
			if !s.once {
				s.nextNotify = now.Add(s.interval)
				remaining = append(remaining, s)
			}
		} else {
			remaining = append(remaining, s)
		}
	}
	t.subscribers = remaining
	t.mu.Unlock()

	for _, s := range toNotify {
		t.invoke(s)
	}
}

// invoke runs one subscriber's callback behind a recover, so a panicking
// callback logs and is dropped rather than taking the Timer goroutine down
// with it (spec.md §7: Timer-callback errors never take the Timer thread
// down).
func (t *Timer) invoke(s *subscription) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("timer: callback panicked: %v", r)
		}
	}()
	s.callback(s.param)
}
