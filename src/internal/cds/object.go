// Package cds implements the Content Directory Object (CDO) data model
// described in spec.md §3, and the Database collaborator contract the core
// is built against (spec.md §6). The database implementation itself (SQL
// abstraction, connection pooling, ...) is out of scope; this package only
// defines the shape callers and the fake test database agree on.
package cds

import l "github.com/sirupsen/logrus"

var log *l.Entry = l.WithFields(l.Fields{"srv": "cds"})

// ID is the database-assigned, per-database-lifetime-stable object id.
type ID int64

// Well-known ids, forbidden as removal targets (spec.md §3 invariants).
const (
	InvalidID ID = 0
	RootID    ID = 1
	PCDirID   ID = 2
)

// Kind is the closed set of CDO kinds.
type Kind int

const (
	KindContainer Kind = iota
	KindItem
	KindExternalURLItem
	KindInternalURLItem
	KindActiveItem
)

// HasLocation reports whether objects of this kind carry a filesystem path
// or URL in Location.
func (k Kind) HasLocation() bool {
	return k != KindContainer
}

// IsItemVariant reports whether k is one of the non-container kinds; only
// item-variants may carry a non-zero RefID (spec.md §3 invariant).
func (k Kind) IsItemVariant() bool {
	return k != KindContainer
}

// Flags is a bitset of CDO attributes.
type Flags uint32

const (
	FlagRestricted Flags = 1 << iota
	FlagSearchable
	FlagUseResourceRef
	FlagPersistentContainer
	FlagPlaylistRef
	FlagProxyURL
	FlagOnlineService
	FlagPlayed
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }
func (f Flags) Set(flag Flags) Flags { return f | flag }
func (f Flags) Clear(flag Flags) Flags { return f &^ flag }

// MetaKey is the closed enum of metadata keys.
type MetaKey string

const (
	MTitle           MetaKey = "Title"
	MArtist          MetaKey = "Artist"
	MAlbum           MetaKey = "Album"
	MDate            MetaKey = "Date"
	MGenre           MetaKey = "Genre"
	MDescription     MetaKey = "Description"
	MLongDescription MetaKey = "LongDescription"
	MTrackNumber     MetaKey = "TrackNumber"
	MAlbumArtURI     MetaKey = "AlbumArtURI"
	MRegion          MetaKey = "Region"
	MAuthor          MetaKey = "Author"
	MDirector        MetaKey = "Director"
	MPublisher       MetaKey = "Publisher"
	MRating          MetaKey = "Rating"
	MActor           MetaKey = "Actor"
	MProducer        MetaKey = "Producer"
	MAlbumArtist     MetaKey = "AlbumArtist"
)

// OrderedMap is an insertion-ordered string-to-string mapping, used for
// Metadata and Auxdata so that resource/attribute ordering on the wire is
// deterministic (DIDL-Lite rendering, out of scope here, depends on it).
type OrderedMap struct {
	keys   []string
	values map[string]string
}

// NewOrderedMap creates an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]string)}
}

// Set inserts or updates key, preserving first-insertion order.
func (m *OrderedMap) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (m *OrderedMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int { return len(m.keys) }

// ResourceHandler tags how a Resource is served.
type ResourceHandler string

const (
	HandlerDefault     ResourceHandler = "Default"
	HandlerTranscode   ResourceHandler = "Transcode"
	HandlerExternalURL ResourceHandler = "ExternalUrl"
	HandlerFanArt      ResourceHandler = "FanArt"
	HandlerID3         ResourceHandler = "id3"
	HandlerFFTh        ResourceHandler = "ffth"
)

// Resource attribute keys.
const (
	ResAttrProtocolInfo    = "protocolInfo"
	ResAttrSize            = "size"
	ResAttrDuration        = "duration"
	ResAttrBitrate         = "bitrate"
	ResAttrSampleFrequency = "sampleFrequency"
	ResAttrAudioChannels   = "nrAudioChannels"
	ResAttrResolution      = "resolution"
	ResAttrColorDepth      = "colorDepth"
)

// Resource option keys.
const (
	ResOptContentType = "resource-content-type"
	ResOptURL         = "url"
	ResOptProxyURL    = "proxy-url"
)

// Resource is one playable/derived resource of an item. Index 0 in
// Object.Resources is the primary playable resource.
type Resource struct {
	Handler    ResourceHandler
	Attributes *OrderedMap
	Options    *OrderedMap
	Parameters *OrderedMap
}

// NewResource creates an empty Resource with the given handler.
func NewResource(handler ResourceHandler) *Resource {
	return &Resource{
		Handler:    handler,
		Attributes: NewOrderedMap(),
		Options:    NewOrderedMap(),
		Parameters: NewOrderedMap(),
	}
}

// Object is a Content Directory Object.
type Object struct {
	ID        ID
	ParentID  ID
	RefID     ID
	Kind      Kind
	Title     string
	UpnpClass string
	Location  string // absolute filesystem path, or URL for external items
	MTime     int64
	Size      int64
	Flags     Flags
	Metadata  *OrderedMap
	Auxdata   *OrderedMap
	Resources []*Resource
}

// NewObject creates an Object with initialized maps.
func NewObject(kind Kind, title string) *Object {
	return &Object{
		Kind:     kind,
		Title:    title,
		Metadata: NewOrderedMap(),
		Auxdata:  NewOrderedMap(),
	}
}

// IsContainer reports whether the object is a Container.
func (o *Object) IsContainer() bool { return o.Kind == KindContainer }

// PrimaryResource returns the primary playable resource, or nil.
func (o *Object) PrimaryResource() *Resource {
	if len(o.Resources) == 0 {
		return nil
	}
	return o.Resources[0]
}

// Validate checks the invariants from spec.md §3 that are local to one
// object (cross-object invariants, e.g. RefID target existence, are checked
// by the Database).
func (o *Object) Validate() error {
	if o.RefID != InvalidID && o.Kind == KindContainer {
		return errInvalidRefOnContainer
	}
	return nil
}

var errInvalidRefOnContainer = newValidationError("a CDO with a non-zero refId must not be a Container")

type validationError struct{ msg string }

func newValidationError(msg string) error { return &validationError{msg} }
func (e *validationError) Error() string  { return e.msg }
