package autoscan

import (
	"testing"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

func TestAddAssignsIncreasingScanIDs(t *testing.T) {
	s := NewSet(cds.AutoscanInotify)
	a := cds.NewAutoscanDirectory("/music", cds.ScanModeInotify)
	b := cds.NewAutoscanDirectory("/video", cds.ScanModeInotify)

	if err := s.Add(a); err != nil {
		t.Fatalf("Add(a) = %v", err)
	}
	if err := s.Add(b); err != nil {
		t.Fatalf("Add(b) = %v", err)
	}
	if a.ScanID == b.ScanID || a.ScanID == 0 || b.ScanID == 0 {
		t.Fatalf("expected distinct non-zero scan ids, got %d and %d", a.ScanID, b.ScanID)
	}
}

func TestAddRejectsDuplicateLocation(t *testing.T) {
	s := NewSet(cds.AutoscanTimed)
	a := cds.NewAutoscanDirectory("/music", cds.ScanModeTimed)
	b := cds.NewAutoscanDirectory("/music", cds.ScanModeTimed)

	if err := s.Add(a); err != nil {
		t.Fatalf("Add(a) = %v", err)
	}
	if err := s.Add(b); err == nil {
		t.Fatal("Add(b) = nil, want error for duplicate location")
	}
}

func TestRemoveDropsFromBothIndexes(t *testing.T) {
	s := NewSet(cds.AutoscanTimed)
	a := cds.NewAutoscanDirectory("/music", cds.ScanModeTimed)
	_ = s.Add(a)

	got, ok := s.Remove(a.ScanID)
	if !ok || got != a {
		t.Fatalf("Remove() = %v, %v, want a, true", got, ok)
	}
	if _, ok := s.ByID(a.ScanID); ok {
		t.Fatal("directory still reachable by id after Remove")
	}
	if _, ok := s.ByLocation("/music"); ok {
		t.Fatal("directory still reachable by location after Remove")
	}
}

func TestInvalidateResetsScanIDAndContainerID(t *testing.T) {
	s := NewSet(cds.AutoscanTimed)
	a := cds.NewAutoscanDirectory("/music", cds.ScanModeTimed)
	_ = s.Add(a)
	a.ContainerID = 7

	s.Invalidate(a.ScanID)

	if !a.Invalidated() {
		t.Fatal("directory not marked Invalidated() after Invalidate")
	}
	if a.ContainerID != cds.InvalidID {
		t.Fatalf("ContainerID = %d, want InvalidID after Invalidate", a.ContainerID)
	}
}

func TestAllReturnsEverythingRegistered(t *testing.T) {
	s := NewSet(cds.AutoscanInotify)
	_ = s.Add(cds.NewAutoscanDirectory("/a", cds.ScanModeInotify))
	_ = s.Add(cds.NewAutoscanDirectory("/b", cds.ScanModeInotify))

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d entries, want 2", len(all))
	}
}
