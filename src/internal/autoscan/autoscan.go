// Package autoscan holds the in-process registry of AutoscanDirectory
// records: allocation of scan ids, lookup by location or id, and the
// persistent/non-persistent removal behaviour spec.md §3 describes for a
// watched directory whose path stops resolving.
package autoscan

import (
	"sync"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "autoscan"})

// Set is the registry of AutoscanDirectory records for one scan mode
// (Timed or INotify). It mirrors the newID-generator-plus-map idiom the
// teacher uses for its object registries, scoped here to allocation-stable
// scan ids instead of database ids.
type Set struct {
	mode cds.AutoscanMode

	mu       sync.Mutex
	nextID   int64
	byID     map[int64]*cds.AutoscanDirectory
	byLoc    map[string]*cds.AutoscanDirectory
}

// NewSet creates an empty registry for the given mode.
func NewSet(mode cds.AutoscanMode) *Set {
	return &Set{
		mode:   mode,
		nextID: 1,
		byID:   make(map[int64]*cds.AutoscanDirectory),
		byLoc:  make(map[string]*cds.AutoscanDirectory),
	}
}

// Add registers dir, assigning it a fresh ScanID. Returns an error if the
// location is already registered in this set.
func (s *Set) Add(dir *cds.AutoscanDirectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byLoc[dir.Location]; exists {
		return errAlreadyRegistered(dir.Location)
	}
	dir.ScanID = s.nextID
	s.nextID++
	s.byID[dir.ScanID] = dir
	s.byLoc[dir.Location] = dir
	log.Tracef("registered autoscan %d at %s", dir.ScanID, dir.Location)
	return nil
}

// Remove unregisters the directory with the given scan id. Non-persistent
// directories are dropped outright, matching spec.md §3: "a non-persistent
// autoscan whose location no longer resolves to a directory is removed
// outright". Callers handling a vanished path for a persistent directory
// should call Invalidate instead of Remove.
func (s *Set) Remove(scanID int64) (*cds.AutoscanDirectory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, ok := s.byID[scanID]
	if !ok {
		return nil, false
	}
	delete(s.byID, scanID)
	delete(s.byLoc, dir.Location)
	log.Tracef("unregistered autoscan %d at %s", scanID, dir.Location)
	return dir, true
}

// Invalidate marks dir's in-flight scan as cancelled (spec.md §4.4's
// ScanID == InvalidScanID mid-scan abort check) without removing it from
// the registry, and resets its ContainerID so a persistent record is
// re-armed via a non-existing-path watch on next recovery.
func (s *Set) Invalidate(scanID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, ok := s.byID[scanID]
	if !ok {
		return
	}
	dir.ScanID = cds.InvalidScanID
	dir.ContainerID = cds.InvalidID
}

// ByID returns the directory registered under scanID.
func (s *Set) ByID(scanID int64) (*cds.AutoscanDirectory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.byID[scanID]
	return dir, ok
}

// ByLocation returns the directory registered at loc.
func (s *Set) ByLocation(loc string) (*cds.AutoscanDirectory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.byLoc[loc]
	return dir, ok
}

// All returns a snapshot of every registered directory. The order is
// unspecified.
func (s *Set) All() []*cds.AutoscanDirectory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*cds.AutoscanDirectory, 0, len(s.byID))
	for _, dir := range s.byID {
		out = append(out, dir)
	}
	return out
}

// Mode returns the scan mode this set was created for.
func (s *Set) Mode() cds.AutoscanMode { return s.mode }

type registryError string

func (e registryError) Error() string { return string(e) }

func errAlreadyRegistered(loc string) error {
	return registryError("autoscan: location already registered: " + loc)
}
