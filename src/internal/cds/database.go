package cds

// ChangedContainers collects container ids touched by a mutation, for the
// caller to forward into the update-propagation set (internal/update).
type ChangedContainers struct {
	UI   []ID
	UPnP []ID
}

// Add appends id to both the UI and UPnP lists.
func (c *ChangedContainers) Add(id ID) {
	c.UI = append(c.UI, id)
	c.UPnP = append(c.UPnP, id)
}

// AutoscanMode selects the persistence bucket an AutoscanDirectory list is
// stored/retrieved under.
type AutoscanMode int

const (
	AutoscanTimed AutoscanMode = iota
	AutoscanInotify
)

// Database is the persistent-state collaborator the core is built against.
// Production wiring (SQL schema, connection pooling, migrations) is out of
// scope; this interface is the contract the scan/contentmgr/online packages
// call through, and internal/cdsmem provides an in-memory fake of it for
// tests.
type Database interface {
	// FindObjectByPath looks up an object by its filesystem path or URL.
	// kindFilter, when non-nil, restricts the match to that Kind. Returns
	// (nil, nil) when nothing matches.
	FindObjectByPath(path string, kindFilter *Kind) (*Object, error)

	// LoadObject fetches an object by id.
	LoadObject(id ID) (*Object, error)

	// AddObject persists a new object, assigning its ID, and records the
	// containers whose child-count/updateID changed into out.
	AddObject(o *Object, out *ChangedContainers) error

	// UpdateObject persists changes to an existing object and records the
	// containers whose listing is affected into out.
	UpdateObject(o *Object, out *ChangedContainers) error

	// RemoveObject deletes the object (and, if all is true, every object
	// referencing it via RefID) and records affected containers into out.
	RemoveObject(id ID, all bool, out *ChangedContainers) error

	// GetObjects returns the ids of parentID's children. directOnly limits
	// the result to immediate children rather than the full subtree.
	GetObjects(parentID ID, directOnly bool) ([]ID, error)

	// EnsurePathExistence walks path component by component, creating any
	// missing Container along the way, and returns the leaf container's id.
	// newContainerID reports the id of the first container actually
	// created (InvalidID if all components already existed), so the caller
	// can emit a single update notification for an idempotent call.
	EnsurePathExistence(path string) (leafID ID, newContainerID ID, err error)

	// AddContainerChain behaves like EnsurePathExistence but additionally
	// tags the leaf container with classHint and, when refID is non-zero,
	// links it to an existing Item as a virtual reference copy.
	AddContainerChain(path string, classHint string, refID ID) (leafID ID, newContainerID ID, err error)

	// GetServiceObjectIDs returns the ids of every object whose "serviceId"
	// Auxdata value starts with prefixChar, the storage prefix of the online
	// service that produced it.
	GetServiceObjectIDs(prefixChar byte) ([]ID, error)

	// GetAutoscanList returns the persisted autoscan directories for mode.
	GetAutoscanList(mode AutoscanMode) ([]*AutoscanDirectory, error)

	// UpdateAutoscanPersistentList replaces the persisted autoscan
	// directories for mode.
	UpdateAutoscanPersistentList(mode AutoscanMode, dirs []*AutoscanDirectory) error

	// GetMimeTypes returns every mimetype currently in use by a stored
	// object, for the "supported types" status surface.
	GetMimeTypes() ([]string, error)
}
