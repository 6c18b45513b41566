// Package cdsmem is an in-memory Database fake. Production database wiring
// (SQL schema, migrations, connection pooling) is an explicit spec.md
// Non-goal; this package exists purely so internal/scan, internal/online
// and internal/contentmgr have something real to run their tests against,
// per spec.md §9's redesign note ("tests substitute in-memory fakes for
// Database, Clock, and Inotify").
package cdsmem

import (
	"strings"
	"sync"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/cdserr"
)

// DB is an in-memory cds.Database.
type DB struct {
	mu       sync.Mutex
	nextID   cds.ID
	objects  map[cds.ID]*cds.Object
	children map[cds.ID][]cds.ID // parentID -> child ids, insertion order

	autoscans map[cds.AutoscanMode][]*cds.AutoscanDirectory
}

// New creates an empty database seeded with the well-known Root and
// PC-Directory containers (cds.RootID, cds.PCDirID).
func New() *DB {
	db := &DB{
		nextID:    cds.PCDirID + 1,
		objects:   make(map[cds.ID]*cds.Object),
		children:  make(map[cds.ID][]cds.ID),
		autoscans: make(map[cds.AutoscanMode][]*cds.AutoscanDirectory),
	}
	root := cds.NewObject(cds.KindContainer, "")
	root.ID = cds.RootID
	root.ParentID = cds.InvalidID
	db.objects[cds.RootID] = root

	pcdir := cds.NewObject(cds.KindContainer, "PC-Directory")
	pcdir.ID = cds.PCDirID
	pcdir.ParentID = cds.RootID
	db.objects[cds.PCDirID] = pcdir
	db.children[cds.RootID] = append(db.children[cds.RootID], cds.PCDirID)

	return db
}

func (db *DB) FindObjectByPath(path string, kindFilter *cds.Kind) (*cds.Object, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, o := range db.objects {
		if o.Location == path && (kindFilter == nil || o.Kind == *kindFilter) {
			return o, nil
		}
	}
	return nil, nil
}

func (db *DB) LoadObject(id cds.ID) (*cds.Object, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	o, ok := db.objects[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	return o, nil
}

func (db *DB) AddObject(o *cds.Object, out *cds.ChangedContainers) error {
	if err := o.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	o.ID = db.nextID
	db.nextID++
	db.objects[o.ID] = o
	db.children[o.ParentID] = append(db.children[o.ParentID], o.ID)
	if out != nil {
		out.Add(o.ParentID)
	}
	return nil
}

func (db *DB) UpdateObject(o *cds.Object, out *cds.ChangedContainers) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, ok := db.objects[o.ID]
	if !ok {
		return notFoundErr(o.ID)
	}
	if existing.ParentID != o.ParentID {
		db.removeFromParentLocked(existing.ID, existing.ParentID)
		db.children[o.ParentID] = append(db.children[o.ParentID], o.ID)
	}
	db.objects[o.ID] = o
	if out != nil {
		out.Add(o.ParentID)
	}
	return nil
}

func (db *DB) RemoveObject(id cds.ID, all bool, out *cds.ChangedContainers) error {
	if id == cds.RootID || id == cds.PCDirID {
		return forbiddenErr(id)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	o, ok := db.objects[id]
	if !ok {
		return notFoundErr(id)
	}

	if all {
		for refID, ref := range db.objects {
			if ref.RefID == id {
				db.removeLocked(refID, out)
			}
		}
	}
	db.removeLocked(id, out)
	if out != nil {
		out.Add(o.ParentID)
	}
	return nil
}

// removeLocked recursively removes id and its descendants. Caller holds mu.
func (db *DB) removeLocked(id cds.ID, out *cds.ChangedContainers) {
	o, ok := db.objects[id]
	if !ok {
		return
	}
	for _, childID := range append([]cds.ID(nil), db.children[id]...) {
		db.removeLocked(childID, out)
	}
	db.removeFromParentLocked(id, o.ParentID)
	delete(db.objects, id)
	delete(db.children, id)
}

func (db *DB) removeFromParentLocked(id, parentID cds.ID) {
	siblings := db.children[parentID]
	for i, c := range siblings {
		if c == id {
			db.children[parentID] = append(siblings[:i], siblings[i+1:]...)
			return
		}
	}
}

func (db *DB) GetObjects(parentID cds.ID, directOnly bool) ([]cds.ID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if directOnly {
		out := make([]cds.ID, len(db.children[parentID]))
		copy(out, db.children[parentID])
		return out, nil
	}
	var out []cds.ID
	var walk func(cds.ID)
	walk = func(id cds.ID) {
		for _, c := range db.children[id] {
			out = append(out, c)
			walk(c)
		}
	}
	walk(parentID)
	return out, nil
}

// EnsurePathExistence walks the virtual PC-Directory chain mirroring the
// real filesystem path; each created container's Location is set to the
// absolute filesystem path it mirrors, since RescanDirectory needs it to
// know where on disk to read from (spec.md §4.7).
func (db *DB) EnsurePathExistence(path string) (cds.ID, cds.ID, error) {
	return db.addContainerChainLocked(path, "", cds.InvalidID, true)
}

// AddContainerChain walks a purely virtual container chain (a Layout's
// placement path, not a filesystem mirror); created containers carry no
// Location (spec.md §4.8).
func (db *DB) AddContainerChain(path string, classHint string, refID cds.ID) (cds.ID, cds.ID, error) {
	return db.addContainerChainLocked(path, classHint, refID, false)
}

func (db *DB) addContainerChainLocked(path, classHint string, refID cds.ID, mirrorLocation bool) (cds.ID, cds.ID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	parts := splitVirtualPath(path)
	parentID := cds.RootID
	if mirrorLocation {
		// EnsurePathExistence mirrors the filesystem under the well-known
		// PC-Directory container, not directly under Root (spec.md §4.7).
		parentID = cds.PCDirID
	}
	var firstNew cds.ID = cds.InvalidID
	locationSoFar := ""

	for i, title := range parts {
		if mirrorLocation {
			locationSoFar += "/" + title
		}
		existing := db.findChildByTitleLocked(parentID, title)
		if existing != nil {
			parentID = existing.ID
			continue
		}
		o := cds.NewObject(cds.KindContainer, title)
		o.ParentID = parentID
		if mirrorLocation {
			o.Location = locationSoFar
		}
		if i == len(parts)-1 {
			o.UpnpClass = classHint
			if refID != cds.InvalidID {
				o.RefID = refID
			}
		}
		o.ID = db.nextID
		db.nextID++
		db.objects[o.ID] = o
		db.children[parentID] = append(db.children[parentID], o.ID)
		if firstNew == cds.InvalidID {
			firstNew = o.ID
		}
		parentID = o.ID
	}
	return parentID, firstNew, nil
}

func (db *DB) findChildByTitleLocked(parentID cds.ID, title string) *cds.Object {
	for _, id := range db.children[parentID] {
		if o, ok := db.objects[id]; ok && o.IsContainer() && o.Title == title {
			return o
		}
	}
	return nil
}

func splitVirtualPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func (db *DB) GetServiceObjectIDs(prefixChar byte) ([]cds.ID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []cds.ID
	prefix := string(prefixChar)
	for id, o := range db.objects {
		if v, ok := o.Auxdata.Get("serviceId"); ok && strings.HasPrefix(v, prefix) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (db *DB) GetAutoscanList(mode cds.AutoscanMode) ([]*cds.AutoscanDirectory, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*cds.AutoscanDirectory, len(db.autoscans[mode]))
	copy(out, db.autoscans[mode])
	return out, nil
}

func (db *DB) UpdateAutoscanPersistentList(mode cds.AutoscanMode, dirs []*cds.AutoscanDirectory) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.autoscans[mode] = append([]*cds.AutoscanDirectory(nil), dirs...)
	return nil
}

func (db *DB) GetMimeTypes() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, o := range db.objects {
		res := o.PrimaryResource()
		if res == nil {
			continue
		}
		if mt, ok := res.Options.Get(cds.ResOptContentType); ok && !seen[mt] {
			seen[mt] = true
			out = append(out, mt)
		}
	}
	return out, nil
}

func notFoundErr(id cds.ID) error {
	return cdserr.Newf(cdserr.NotFound, "cdsmem: object %d not found", id)
}

func forbiddenErr(id cds.ID) error {
	return cdserr.Newf(cdserr.InvalidArgument, "cdsmem: removal of Root/PC-Directory (id %d) is forbidden", id)
}
