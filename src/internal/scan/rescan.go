package scan

import (
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

// RescanOutcome tells the caller (internal/contentmgr) what follow-up
// bookkeeping a RescanDirectory run requires, since that bookkeeping
// touches the autoscan set and Timer this package doesn't own.
type RescanOutcome int

const (
	// RescanCompleted means the directory was scanned to completion.
	RescanCompleted RescanOutcome = iota
	// RescanAborted means the scan stopped early (scanId invalidated
	// concurrently, or the caller's valid func returned false) and made
	// no further database writes past that point.
	RescanAborted
	// RescanMissingPersistent means the bound container (or its
	// filesystem path) disappeared and dir.Persistent is set: the
	// autoscan record survives with ContainerID reset to InvalidID.
	RescanMissingPersistent
	// RescanMissingTransient means the bound container (or its
	// filesystem path) disappeared and dir.Persistent is not set: the
	// caller must unregister the autoscan entirely.
	RescanMissingTransient
)

// RescanDirectory implements spec.md §4.4's timed-scan algorithm: diff a
// directory's filesystem entries against the database and propagate
// add/update/remove calls. valid, when non-nil, is polled between
// filesystem entries so a cancelled task can stop early; enqueueChildRescan
// is invoked once per already-known subdirectory the caller should enqueue
// a child RescanDirectory task for, rather than this package reaching into
// internal/contentmgr's task queue directly.
func (im *Importer) RescanDirectory(containerID cds.ID, dir *cds.AutoscanDirectory, valid func() bool, enqueueChildRescan func(childContainerID cds.ID)) (RescanOutcome, error) {
	if dir.Invalidated() {
		return RescanAborted, nil
	}

	location := dir.Location
	if containerID != cds.InvalidID {
		obj, err := im.DB.LoadObject(containerID)
		switch {
		case err != nil || !obj.IsContainer():
			if dir.Persistent {
				containerID = cds.InvalidID
			} else {
				return RescanMissingTransient, nil
			}
		default:
			location = obj.Location
		}
	}

	if containerID == cds.InvalidID {
		if info, err := os.Stat(dir.Location); err != nil || !info.IsDir() {
			dir.ContainerID = cds.InvalidID
			if dir.Persistent {
				return RescanMissingPersistent, nil
			}
			return RescanMissingTransient, nil
		}

		newID, err := im.EnsurePathExistence(dir.Location)
		if err != nil {
			return RescanAborted, err
		}
		containerID = newID
		dir.ContainerID = containerID
		location = dir.Location
	}

	entries, err := os.ReadDir(location)
	if err != nil {
		if dir.Persistent {
			im.RemoveObject(containerID, false)
			dir.ContainerID = cds.InvalidID
			return RescanMissingPersistent, nil
		}
		im.RemoveObject(containerID, false)
		return RescanMissingTransient, nil
	}

	// A DirectoryTweak registered for this directory overrides the
	// autoscan's own hidden/recursion/media-filter policy for its subtree
	// (SPEC_FULL.md §12), consulted once per directory rather than per
	// entry since the tweak is itself a per-directory override.
	hidden, recursive, mediaType := dir.Hidden, dir.Recursive, dir.MediaType
	if tw, ok := dir.TweakFor(location); ok {
		hidden, recursive = tw.Hidden, tw.Recursive
		if tw.MediaType != 0 {
			mediaType = tw.MediaType
		}
	}

	known, err := im.DB.GetObjects(containerID, !recursive)
	if err != nil {
		return RescanAborted, err
	}
	remaining := make(map[cds.ID]struct{}, len(known))
	for _, id := range known {
		remaining[id] = struct{}{}
	}

	lastMax := dir.LastModifiedMax
	containerKind := cds.KindContainer

	for _, entry := range entries {
		if valid != nil && !valid() {
			return RescanAborted, nil
		}
		if dir.Invalidated() {
			return RescanAborted, nil
		}

		name := entry.Name()
		if !hidden && strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(location, name)
		if im.Policy.ConfigFileName != "" && path == im.Policy.ConfigFileName {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Errorf("scan: stat failed during rescan for %s: %v", path, err)
			continue
		}

		switch {
		case info.Mode().IsRegular():
			existing, err := im.DB.FindObjectByPath(path, nil)
			if err != nil {
				log.Errorf("scan: rescan lookup failed for %s: %v", path, err)
				continue
			}
			if existing != nil {
				delete(remaining, existing.ID)
				if dir.ScanLevel == cds.ScanLevelFull && info.ModTime().Unix() > dir.LastModifiedMax {
					if err := im.RemoveObject(existing.ID, false); err != nil {
						log.Errorf("scan: rescan re-add remove failed for %s: %v", path, err)
						continue
					}
					if _, err := im.AddFileMedia(path, location, false, hidden, mediaType); err != nil {
						log.Errorf("scan: rescan re-add failed for %s: %v", path, err)
					}
					if info.ModTime().Unix() > lastMax {
						lastMax = info.ModTime().Unix()
					}
				}
			} else {
				if _, err := im.AddFileMedia(path, location, false, hidden, mediaType); err != nil {
					log.Errorf("scan: rescan add failed for %s: %v", path, err)
				}
				if info.ModTime().Unix() > lastMax {
					lastMax = info.ModTime().Unix()
				}
			}

		case info.IsDir() && recursive:
			existing, err := im.DB.FindObjectByPath(path, &containerKind)
			if err != nil {
				log.Errorf("scan: rescan directory lookup failed for %s: %v", path, err)
				continue
			}
			if existing != nil {
				delete(remaining, existing.ID)
				if enqueueChildRescan != nil {
					enqueueChildRescan(existing.ID)
				}
			} else {
				if _, err := im.AddFileMedia(path, location, true, hidden, mediaType); err != nil {
					log.Errorf("scan: rescan recursive add failed for %s: %v", path, err)
				}
			}
		}
	}

	for id := range remaining {
		if err := im.RemoveObject(id, false); err != nil {
			log.Errorf("scan: rescan stale removal failed for id %d: %v", id, err)
		}
	}

	dir.LastModifiedMax = lastMax
	return RescanCompleted, nil
}
