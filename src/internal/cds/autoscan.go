package cds

import (
	"strings"
	"time"
)

// ScanMode selects what drives a directory's rescan: a periodic timer or
// kernel inotify events.
type ScanMode int

const (
	ScanModeTimed ScanMode = iota
	ScanModeInotify
)

// ScanLevel controls how thorough a timed scan is (spec.md §4.4).
type ScanLevel int

const (
	// ScanLevelBasic only diffs directory membership.
	ScanLevelBasic ScanLevel = iota
	// ScanLevelFull additionally compares mtimes and re-imports changed files.
	ScanLevelFull
)

// MediaType is a bitmask restricting which UPnP classes an autoscan indexes.
type MediaType uint32

const (
	MediaAudio MediaType = 1 << iota
	MediaImage
	MediaVideo
)

// InvalidScanID marks an AutoscanDirectory that has been unregistered while
// a scan of it was still in flight; the timed scan loop checks for it on
// every directory boundary and aborts early (spec.md §4.4).
const InvalidScanID int64 = -1

// DirectoryTweak overrides hidden-file policy, recursion, and the media
// filter for one subtree without a separate autoscan registration
// (SPEC_FULL.md §12, grounded on Gerbera's config/result/directory_tweak).
type DirectoryTweak struct {
	Location  string
	Recursive bool
	Hidden    bool
	MediaType MediaType
	Inherit   bool
}

// AutoscanDirectory is the in-memory record of one watched path (spec.md
// §3). Location is unique among active autoscans.
type AutoscanDirectory struct {
	Location        string
	ScanMode        ScanMode
	ScanLevel       ScanLevel
	Recursive       bool
	Hidden          bool
	FollowSymlinks  bool
	Interval        time.Duration // ScanModeTimed only
	RetryCount      int
	ContainerID     ID // InvalidID if not yet materialised
	ScanID          int64
	Persistent      bool
	LastModifiedMax int64
	ActiveScanCount int
	TaskCount       int
	MediaType       MediaType
	ContainerType   map[MediaType]string // per-media-mode container-class override
	Tweaks          map[string]DirectoryTweak
}

// Allows reports whether mt permits indexing an item of the given UPnP
// class. A zero MediaType imposes no restriction (the default for an
// autoscan that never set import_mode's media filter), matching spec.md
// §3's framing of mediaType as a bitmask that *restricts* what's indexed,
// not one that must be populated to index anything.
func (mt MediaType) Allows(upnpClass string) bool {
	switch {
	case mt == 0:
		return true
	case strings.HasPrefix(upnpClass, "object.item.audioItem"):
		return mt&MediaAudio != 0
	case strings.HasPrefix(upnpClass, "object.item.imageItem"):
		return mt&MediaImage != 0
	case strings.HasPrefix(upnpClass, "object.item.videoItem"):
		return mt&MediaVideo != 0
	default:
		return true
	}
}

// NewAutoscanDirectory creates an AutoscanDirectory with its maps
// initialized and ScanID unset (callers assign it on registration).
func NewAutoscanDirectory(location string, mode ScanMode) *AutoscanDirectory {
	return &AutoscanDirectory{
		Location:      location,
		ScanMode:      mode,
		ContainerID:   InvalidID,
		ContainerType: make(map[MediaType]string),
		Tweaks:        make(map[string]DirectoryTweak),
	}
}

// Invalidated reports whether the directory was unregistered mid-scan.
func (a *AutoscanDirectory) Invalidated() bool {
	return a.ScanID == InvalidScanID
}

// PersistenceMode maps ScanMode to the AutoscanMode bucket the Database
// persists this directory's record under. The two enums are kept distinct
// because ScanMode is this package's own in-memory discriminator while
// AutoscanMode is a Database storage key; callers that need one from the
// other use this rather than threading both through every call site.
func (a *AutoscanDirectory) PersistenceMode() AutoscanMode {
	if a.ScanMode == ScanModeInotify {
		return AutoscanInotify
	}
	return AutoscanTimed
}

// TweakFor returns the most specific DirectoryTweak applicable to path,
// matching by longest Location prefix, and whether one was found.
func (a *AutoscanDirectory) TweakFor(path string) (DirectoryTweak, bool) {
	best := DirectoryTweak{}
	found := false
	bestLen := -1
	for loc, tw := range a.Tweaks {
		if len(loc) > bestLen && hasPathPrefix(path, loc) {
			best = tw
			bestLen = len(loc)
			found = true
		}
	}
	return best, found
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	if path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
