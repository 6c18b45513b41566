// Package layout defines the Layout collaborator contract spec.md §1
// assumes: a component that maps physical items into virtual containers
// by emitting addContainerChain/addObject calls. Concrete layout
// strategies (genre/artist/album hierarchies, a folder mirror, ...) are an
// explicit Non-goal of the core; this package only fixes the interface
// internal/scan's AddFile drives.
package layout

import "gitlab.com/mipimipi/cdsengine/src/internal/cds"

// Layout maps a freshly-imported physical Object into zero or more virtual
// container placements.
type Layout interface {
	// Process is invoked once per newly added or updated physical Item. db
	// is the same Database collaborator the caller used for the physical
	// add; Process is expected to call db.AddContainerChain to create
	// virtual reference copies. A Process error is logged and the Item is
	// kept as a physical-only entry (spec.md §4.5's failure semantics) —
	// it never aborts the enclosing AddFile.
	Process(db cds.Database, item *cds.Object) error
}

// Fallback is a minimal Layout that performs no virtual placement,
// grounded on the teacher's own `makeTree`/hierarchies.go's notion of a
// single default tree but reduced to a no-op: the core treats Layout as an
// external collaborator contract (spec.md §1), so the production
// hierarchy-building logic is out of scope here. Fallback exists so
// internal/scan and internal/contentmgr have something non-nil to run
// against in tests and in a minimal deployment.
type Fallback struct{}

func (Fallback) Process(db cds.Database, item *cds.Object) error { return nil }
