// Package scan implements the filesystem-to-Database import algorithms:
// addFile/createObjectFromFile (spec.md §4.5), removeObject (spec.md
// §4.6), ensurePathExistence (spec.md §4.7) and addContainerChain
// (spec.md §4.8). These are plain synchronous operations; the asynchronous
// scheduling, priority and cancellation around them is internal/task's and
// internal/contentmgr's concern — an Importer method is what a task's Run
// closure calls.
package scan

import (
	"os"
	"path/filepath"
	"strings"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/cdserr"
	"gitlab.com/mipimipi/cdsengine/src/internal/layout"
	"gitlab.com/mipimipi/cdsengine/src/internal/metadata"
	"gitlab.com/mipimipi/cdsengine/src/internal/playlist"
	"gitlab.com/mipimipi/cdsengine/src/internal/update"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "scan"})

// RemovalHooks lets removeObject clean up state that internal/scan itself
// doesn't own — child autoscans and queued tasks under the removed path.
// Defined here (the lower-level package) rather than importing
// internal/contentmgr, which will own the autoscan sets and task queue and
// implement this interface, mirroring internal/inotify.Callbacks.
type RemovalHooks interface {
	RemoveChildAutoscans(pathPrefix string)
	InvalidateQueuedUnderPath(pathPrefix string)
}

// Policy holds the import-time decisions spec.md §6's configuration list
// names: whether hidden entries/config files are imported, whether
// symlinks are followed, and whether FIFOs may become Items.
type Policy struct {
	Hidden         bool
	FollowSymlinks bool
	ConfigFileName string
	AllowFIFO      bool
}

// Importer is the core import engine, built against a Database and its
// external collaborators (spec.md §1).
type Importer struct {
	DB        cds.Database
	Mapper    *Mapper
	Layout    layout.Layout
	Metadata  metadata.Extractor
	Playlists playlist.Parser
	Updates   *update.Manager
	Hooks     RemovalHooks
	Policy    Policy

	// IsTheora probes an Ogg container for a Theora video keyframe, to
	// distinguish video from audio when the mimetype alone can't
	// (spec.md §4.5 step 2). A nil IsTheora always classifies Ogg as
	// audio, which is the permissive default a deployment without the
	// probe can live with.
	IsTheora func(path string) bool
}

// AddFile is the universal ingress point (spec.md §4.5): it looks up path
// in the Database, creates a CDO from the file if absent, runs the Layout
// and playlist collaborators over freshly-created Items, and recurses into
// directories when recursive is set. It imposes no media-type restriction;
// callers driven by an AutoscanDirectory use AddFileMedia instead.
func (im *Importer) AddFile(path, rootPath string, recursive, hidden bool) (cds.ID, error) {
	return im.AddFileMedia(path, rootPath, recursive, hidden, 0)
}

// AddFileMedia is AddFile with mediaType enforced against the item's
// derived UPnP class (spec.md §3's "bitmask restricting which UPnP classes
// are indexed"): a file whose class mediaType doesn't allow is skipped
// exactly like an unsupported file type, never reaching the Database.
func (im *Importer) AddFileMedia(path, rootPath string, recursive, hidden bool, mediaType cds.MediaType) (cds.ID, error) {
	name := filepath.Base(path)
	if !hidden && !im.Policy.Hidden && strings.HasPrefix(name, ".") {
		return cds.InvalidID, nil
	}
	if im.Policy.ConfigFileName != "" && path == im.Policy.ConfigFileName {
		return cds.InvalidID, nil
	}

	obj, err := im.DB.FindObjectByPath(path, nil)
	if err != nil && cdserr.KindOf(err) != cdserr.NotFound {
		return cds.InvalidID, err
	}

	if obj == nil {
		obj, err = im.createObjectFromFile(path)
		if err != nil {
			log.Errorf("scan: stat failed for %s: %v", path, err)
			return cds.InvalidID, nil
		}
		if obj == nil {
			// unsupported file type (neither regular file nor directory)
			return cds.InvalidID, nil
		}

		if obj.Kind.IsItemVariant() {
			if !mediaType.Allows(obj.UpnpClass) {
				return cds.InvalidID, nil
			}
			parentID, err := im.EnsurePathExistence(filepath.Dir(path))
			if err != nil {
				return cds.InvalidID, err
			}
			obj.ParentID = parentID
			var changed cds.ChangedContainers
			if err := im.DB.AddObject(obj, &changed); err != nil {
				return cds.InvalidID, cdserr.Wrapf(cdserr.DatabaseError, err, "scan: add %s", path)
			}
			im.Updates.NotifyAll(&changed)
			im.runPostAdd(obj, rootPath)
		} else {
			containerID, err := im.EnsurePathExistence(path)
			if err != nil {
				return cds.InvalidID, err
			}
			obj.ID = containerID
		}
	}

	if recursive && obj.IsContainer() {
		if err := im.addChildren(path, obj, mediaType); err != nil {
			return obj.ID, err
		}
	}

	return obj.ID, nil
}

// runPostAdd invokes the Layout collaborator and, for playlist Items, the
// playlist-parsing collaborator, matching the failure semantics spec.md
// §4.5 specifies: a Layout error is logged and the Item kept as a
// physical-only entry rather than aborting AddFile.
func (im *Importer) runPostAdd(obj *cds.Object, rootPath string) {
	if im.Layout != nil {
		if err := im.Layout.Process(im.DB, obj); err != nil {
			log.Errorf("scan: layout failed for %s: %v", obj.Location, err)
		}
	}

	if im.Playlists == nil || im.Mapper == nil {
		return
	}
	if ct := im.Mapper.ContentType(im.objectMimeType(obj)); ct == ContentTypePlaylist {
		im.processPlaylist(obj)
	}
}

// objectMimeType recovers the mimetype recorded on an Item's primary
// resource, since Object itself doesn't carry a dedicated mimetype field
// (mimetype lives on the resource's content-type option, spec.md §3's
// Resource shape).
func (im *Importer) objectMimeType(obj *cds.Object) string {
	if res := obj.PrimaryResource(); res != nil {
		if mt, ok := res.Options.Get(cds.ResOptContentType); ok {
			return mt
		}
	}
	return ""
}

func (im *Importer) processPlaylist(obj *cds.Object) {
	entries, err := im.Playlists.Parse(obj.Location)
	if err != nil {
		log.Errorf("scan: playlist parse failed for %s: %v", obj.Location, err)
		return
	}
	for _, e := range entries {
		var child *cds.Object
		if e.External {
			child = cds.NewObject(cds.KindExternalURLItem, titleOrBase(e.Title, e.Path))
			child.Location = e.Path
		} else {
			existing, err := im.DB.FindObjectByPath(e.Path, nil)
			if err != nil && cdserr.KindOf(err) != cdserr.NotFound {
				log.Errorf("scan: playlist entry lookup failed for %s: %v", e.Path, err)
				continue
			}
			if existing == nil {
				existing, err = im.createObjectFromFile(e.Path)
				if err != nil || existing == nil {
					continue
				}
				var changed cds.ChangedContainers
				if err := im.DB.AddObject(existing, &changed); err != nil {
					log.Errorf("scan: playlist entry add failed for %s: %v", e.Path, err)
					continue
				}
				im.Updates.NotifyAll(&changed)
			}
			child = cds.NewObject(existing.Kind, titleOrBase(e.Title, existing.Title))
			child.RefID = existing.ID
			child.Flags = child.Flags.Set(cds.FlagPlaylistRef)
		}
		child.ParentID = obj.ID
		var changed cds.ChangedContainers
		if err := im.DB.AddObject(child, &changed); err != nil {
			log.Errorf("scan: playlist entry attach failed for %s: %v", e.Path, err)
			continue
		}
		im.Updates.NotifyAll(&changed)
	}
}

func titleOrBase(title, fallback string) string {
	if title != "" {
		return title
	}
	return fallback
}

// addChildren enumerates a Container's directory entries and processes
// each via AddFileMedia (spec.md §4.5 step 5), honoring the hidden/symlink
// policy and excluding the server's own config file. mediaType is threaded
// through unchanged so a media-restricted recursive import stays restricted
// at every depth.
func (im *Importer) addChildren(path string, parent *cds.Object, mediaType cds.MediaType) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return cdserr.Wrapf(cdserr.IOError, err, "scan: read dir %s", path)
	}
	for _, entry := range entries {
		childPath := filepath.Join(path, entry.Name())
		if entry.Type()&os.ModeSymlink != 0 && !im.Policy.FollowSymlinks {
			continue
		}
		if _, err := im.AddFileMedia(childPath, path, true, im.Policy.Hidden, mediaType); err != nil {
			log.Errorf("scan: recursive add failed for %s: %v", childPath, err)
		}
	}
	return nil
}

// createObjectFromFile builds an unsaved CDO from a filesystem entry
// (spec.md §4.5 step 2). It returns (nil, nil) for unsupported entry types
// (sockets, device nodes, ...), matching the teacher's "return nil means
// ignore" convention.
func (im *Importer) createObjectFromFile(path string) (*cds.Object, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, cdserr.Wrapf(cdserr.IOError, err, "scan: stat %s", path)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		if !im.Policy.FollowSymlinks {
			return nil, nil
		}
		if info, err = os.Stat(path); err != nil {
			return nil, cdserr.Wrapf(cdserr.IOError, err, "scan: stat symlink target %s", path)
		}
	}

	switch {
	case info.Mode().IsRegular(), im.Policy.AllowFIFO && info.Mode()&os.ModeNamedPipe != 0:
		return im.newItem(path, info)
	case info.IsDir():
		return cds.NewObject(cds.KindContainer, filepath.Base(path)), nil
	default:
		return nil, nil
	}
}

func (im *Importer) newItem(path string, info os.FileInfo) (*cds.Object, error) {
	obj := cds.NewObject(cds.KindItem, filepath.Base(path))
	obj.Location = path
	obj.MTime = info.ModTime().Unix()
	obj.Size = info.Size()

	if im.Mapper != nil {
		mimeType := im.Mapper.MimeType(filepath.Base(path), path)
		var isTheora func() bool
		if im.IsTheora != nil {
			isTheora = func() bool { return im.IsTheora(path) }
		}
		upnpClass := im.Mapper.UpnpClass(mimeType, isTheora)
		if upnpClass != "" {
			obj.UpnpClass = upnpClass
		}
		res := cds.NewResource(cds.HandlerDefault)
		res.Options.Set(cds.ResOptContentType, mimeType)
		obj.Resources = append(obj.Resources, res)
	}

	if im.Metadata != nil {
		if err := im.Metadata.Extract(path, obj); err != nil {
			log.Errorf("scan: metadata extraction failed for %s: %v", path, err)
		}
	}

	return obj, nil
}

// RemoveObject implements spec.md §4.6: forbidden ids are rejected,
// container removal first tears down child autoscans and invalidates
// queued tasks under its path, then the Database's own removal (which may
// cascade transitively when all is set) drives the update notification.
func (im *Importer) RemoveObject(id cds.ID, all bool) error {
	if id == cds.RootID || id == cds.PCDirID {
		return cdserr.Newf(cdserr.InvalidArgument, "scan: cannot remove well-known object %d", id)
	}

	obj, err := im.DB.LoadObject(id)
	if err != nil {
		return err
	}

	if obj.IsContainer() && im.Hooks != nil && obj.Location != "" {
		im.Hooks.RemoveChildAutoscans(obj.Location)
		im.Hooks.InvalidateQueuedUnderPath(obj.Location)
	}

	var changed cds.ChangedContainers
	if err := im.DB.RemoveObject(id, all, &changed); err != nil {
		return err
	}
	im.Updates.NotifyAll(&changed)
	return nil
}

// EnsurePathExistence implements spec.md §4.7.
func (im *Importer) EnsurePathExistence(path string) (cds.ID, error) {
	leafID, newContainerID, err := im.DB.EnsurePathExistence(path)
	if err != nil {
		return cds.InvalidID, err
	}
	if newContainerID != cds.InvalidID {
		im.Updates.NotifyAll(&cds.ChangedContainers{UI: []cds.ID{newContainerID}, UPnP: []cds.ID{newContainerID}})
	}
	return leafID, nil
}

// AddContainerChain implements spec.md §4.8.
func (im *Importer) AddContainerChain(chain, classHint string, refID cds.ID) (cds.ID, error) {
	if chain == "" {
		return cds.InvalidID, cdserr.New(cdserr.InvalidArgument, "scan: addContainerChain called with empty chain")
	}
	leafID, newContainerID, err := im.DB.AddContainerChain(chain, classHint, refID)
	if err != nil {
		return cds.InvalidID, err
	}
	if newContainerID != cds.InvalidID {
		im.Updates.NotifyAll(&cds.ChangedContainers{UI: []cds.ID{newContainerID}, UPnP: []cds.ID{newContainerID}})
	}
	return leafID, nil
}

// UpdateObject validates obj, persists it, and (when sendUpdates is set)
// notifies both the object's own container change and its parent's,
// mirroring the teacher's updateObject(obj, send_updates) split.
func (im *Importer) UpdateObject(obj *cds.Object, sendUpdates bool) error {
	if err := obj.Validate(); err != nil {
		return cdserr.Wrap(cdserr.InvalidArgument, err, "scan: validate object")
	}

	var changed cds.ChangedContainers
	if err := im.DB.UpdateObject(obj, &changed); err != nil {
		return err
	}
	if !sendUpdates {
		return nil
	}
	changed.Add(obj.ParentID)
	im.Updates.NotifyAll(&changed)
	return nil
}
