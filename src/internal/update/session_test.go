package update

import (
	"strings"
	"testing"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

func TestPollUIReturnsCSVAndClears(t *testing.T) {
	s := NewSession()
	s.ContainerChangedUI(3)
	s.ContainerChangedUI(7)

	got := s.PollUI()
	if !strings.Contains(got, "3") || !strings.Contains(got, "7") {
		t.Fatalf("PollUI() = %q, want a CSV containing 3 and 7", got)
	}
	if second := s.PollUI(); second != "" {
		t.Fatalf("PollUI() after poll = %q, want empty (set cleared)", second)
	}
}

func TestPollUICollapsesToAllAboveCap(t *testing.T) {
	s := NewSession()
	for i := cds.ID(1); i <= MaxUIUpdateIDs+1; i++ {
		s.ContainerChangedUI(i)
	}
	if got := s.PollUI(); got != All {
		t.Fatalf("PollUI() = %q, want %q once past the cap", got, All)
	}
}

func TestPollUIEmptyWhenNothingChanged(t *testing.T) {
	s := NewSession()
	if got := s.PollUI(); got != "" {
		t.Fatalf("PollUI() on fresh session = %q, want empty", got)
	}
}

func TestUPnPAndUIAccumulatorsAreIndependent(t *testing.T) {
	s := NewSession()
	s.ContainerChangedUPnP(1)
	if got := s.PollUI(); got != "" {
		t.Fatalf("PollUI() = %q, want empty — UPnP change must not leak into UI set", got)
	}
	if got := s.PollUPnP(); got != "1" {
		t.Fatalf("PollUPnP() = %q, want \"1\"", got)
	}
}

func TestManagerNotifyAllFansOutToEverySession(t *testing.T) {
	m := NewManager()
	a := m.Open("session-a")
	b := m.Open("session-b")

	m.NotifyAll(&cds.ChangedContainers{UI: []cds.ID{5}, UPnP: []cds.ID{5}})

	if got := a.PollUI(); got != "5" {
		t.Fatalf("session a PollUI() = %q, want \"5\"", got)
	}
	if got := b.PollUI(); got != "5" {
		t.Fatalf("session b PollUI() = %q, want \"5\"", got)
	}
}

func TestNewSessionIDsAreUniqueAndUsableAsManagerKeys(t *testing.T) {
	m := NewManager()
	a, b := NewSessionID(), NewSessionID()
	if a == b {
		t.Fatal("NewSessionID() returned the same id twice")
	}
	m.Open(a)
	m.Open(b)
	m.Open(a).ContainerChangedUI(1)
	if got := m.Open(b).PollUI(); got != "" {
		t.Fatalf("session b PollUI() = %q, want empty — distinct session ids must not share state", got)
	}
}

func TestManagerCloseRemovesSession(t *testing.T) {
	m := NewManager()
	m.Open("s1")
	m.Close("s1")
	// Open after Close creates a fresh session rather than reusing state.
	s := m.Open("s1")
	if got := s.PollUI(); got != "" {
		t.Fatalf("reopened session has stale state: PollUI() = %q", got)
	}
}
