package cds

import "testing"

func TestOrderedMapPreservesInsertionOrder(t *testing.T) {
	m := NewOrderedMap()
	m.Set("b", "2")
	m.Set("a", "1")
	m.Set("b", "2-updated")

	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("keys = %v, want [b a]", keys)
	}
	if v, ok := m.Get("b"); !ok || v != "2-updated" {
		t.Fatalf("Get(b) = %q, %v, want 2-updated, true", v, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestObjectValidateRejectsRefOnContainer(t *testing.T) {
	o := NewObject(KindContainer, "Music")
	o.RefID = 42
	if err := o.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for container with non-zero RefID")
	}
}

func TestObjectValidateAllowsRefOnItem(t *testing.T) {
	o := NewObject(KindItem, "Song")
	o.RefID = 42
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestFlagsSetHasClear(t *testing.T) {
	var f Flags
	f = f.Set(FlagRestricted).Set(FlagSearchable)
	if !f.Has(FlagRestricted) || !f.Has(FlagSearchable) {
		t.Fatalf("flags = %b, want both Restricted and Searchable set", f)
	}
	f = f.Clear(FlagRestricted)
	if f.Has(FlagRestricted) {
		t.Fatal("Restricted flag still set after Clear")
	}
	if !f.Has(FlagSearchable) {
		t.Fatal("Clear(Restricted) unexpectedly cleared Searchable too")
	}
}

func TestPrimaryResourceOnEmptyResources(t *testing.T) {
	o := NewObject(KindItem, "Song")
	if r := o.PrimaryResource(); r != nil {
		t.Fatalf("PrimaryResource() = %v, want nil for item with no resources", r)
	}
	o.Resources = append(o.Resources, NewResource(HandlerDefault))
	if r := o.PrimaryResource(); r == nil || r.Handler != HandlerDefault {
		t.Fatalf("PrimaryResource() = %v, want the appended Default resource", r)
	}
}
