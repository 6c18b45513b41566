// Package update implements the session-bound update-propagation model
// from spec.md §4.10: per-session accumulators of changed container ids for
// UPnP GENA notification and web UI polling, collapsing into an "updateAll"
// flag once the accumulated set grows past a cap.
package update

import (
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "update"})

// MaxUIUpdateIDs is the per-session cap above which the accumulated set is
// discarded in favour of the "updateAll" flag. Gerbera's
// session_manager.cc hard-codes this as MAX_UI_UPDATE_IDS = 10.
const MaxUIUpdateIDs = 10

// All is the literal string Poll returns once a session has crossed
// MaxUIUpdateIDs.
const All = "all"

// accumulator is one event sink's (UPnP or UI) pending id set for a
// session.
type accumulator struct {
	ids       map[cds.ID]struct{}
	updateAll bool
}

func newAccumulator() *accumulator {
	return &accumulator{ids: make(map[cds.ID]struct{})}
}

func (a *accumulator) add(id cds.ID) {
	if a.updateAll {
		return
	}
	a.ids[id] = struct{}{}
	if len(a.ids) > MaxUIUpdateIDs {
		a.updateAll = true
		a.ids = make(map[cds.ID]struct{})
	}
}

func (a *accumulator) addMany(ids []cds.ID) {
	for _, id := range ids {
		a.add(id)
	}
}

// poll returns "all" and clears updateAll, or a CSV of ids and clears the
// set.
func (a *accumulator) poll() string {
	if a.updateAll {
		a.updateAll = false
		return All
	}
	if len(a.ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(a.ids))
	for id := range a.ids {
		parts = append(parts, strconv.FormatInt(int64(id), 10))
	}
	a.ids = make(map[cds.ID]struct{})
	return strings.Join(parts, ",")
}

// Session holds one UI/UPnP client's pending container-update sets.
type Session struct {
	mu   sync.Mutex
	upnp *accumulator
	ui   *accumulator
}

// NewSession creates an empty Session.
func NewSession() *Session {
	return &Session{upnp: newAccumulator(), ui: newAccumulator()}
}

// ContainerChangedUPnP records a single changed container id for the
// session's GENA notification accumulator.
func (s *Session) ContainerChangedUPnP(id cds.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upnp.add(id)
}

// ContainerChangedUI records a single changed container id for the
// session's web-UI polling accumulator (session_manager.cc's single-id
// containerChangedUI overload).
func (s *Session) ContainerChangedUI(id cds.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui.add(id)
}

// ContainerChangedUIBatch records every id in ids (session_manager.cc's
// IntArray-overload of containerChangedUI).
func (s *Session) ContainerChangedUIBatch(ids []cds.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui.addMany(ids)
}

// PollUPnP returns and clears the session's pending UPnP notification set.
func (s *Session) PollUPnP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upnp.poll()
}

// PollUI returns and clears the session's pending UI polling set.
func (s *Session) PollUI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ui.poll()
}

// Manager tracks the set of active sessions, keyed by an opaque session id
// (a UUID string, minted by the HTTP/UPnP layer — out of scope here).
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// NewSessionID mints an opaque session identifier suitable for Open/Close.
// The HTTP/UPnP layer that actually hands these out to clients is out of
// scope here (see Manager's doc comment); this only fixes what a session
// id looks like so that layer has something concrete to call.
func NewSessionID() string {
	return uuid.NewString()
}

// Open registers a new session under id, or returns the existing one.
func (m *Manager) Open(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := NewSession()
	m.sessions[id] = s
	log.Tracef("update: opened session %s", id)
	return s
}

// Close removes a session.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// NotifyAll forwards a changed-containers set to every active session, the
// way ContentManager fans out a task's ChangedContainers once it
// completes.
func (m *Manager) NotifyAll(changed *cds.ChangedContainers) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		for _, id := range changed.UPnP {
			s.ContainerChangedUPnP(id)
		}
		s.ContainerChangedUIBatch(changed.UI)
	}
}
