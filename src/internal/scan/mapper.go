package scan

import "strings"

// ContentType is the coarse content-type bucket derived from a mimetype,
// used to decide which post-add collaborator (playlist parser, ...) a
// freshly-created Item is dispatched to (spec.md §4.5 step 4).
type ContentType string

const (
	ContentTypePlaylist ContentType = "playlist"
	ContentTypeOgg      ContentType = "ogg"
)

// Mapper derives mimetype, UPnP class and content type the way
// createObjectFromFile does (spec.md §4.5 step 2): extension lookup first,
// libmagic as a configured fallback, then a default mimetype if both fail.
type Mapper struct {
	ExtensionToMimeType     map[string]string
	MimeTypeToUpnpClass     map[string]string
	MimeTypeToContentType   map[string]string
	DefaultMimeType         string
	IgnoreUnknownExtensions bool
	// Magic, when non-nil, is consulted when the filename has no
	// extension, or when the extension lookup misses and
	// IgnoreUnknownExtensions is false — the libmagic fallback
	// spec.md §4.5 names. libmagic itself is an external collaborator
	// (spec.md §1's "metadata extractor plugins" non-goal); callers that
	// don't need it leave this nil.
	Magic func(path string) (string, error)

	CaseSensitiveExtensions bool
}

// NewMapper returns a Mapper with empty maps and application/octet-stream
// as the default mimetype, matching the teacher's own fallback constant.
func NewMapper() *Mapper {
	return &Mapper{
		ExtensionToMimeType:   make(map[string]string),
		MimeTypeToUpnpClass:   make(map[string]string),
		MimeTypeToContentType: make(map[string]string),
		DefaultMimeType:       "application/octet-stream",
	}
}

// MimeType resolves a filename's mimetype via extension, then the
// configured Magic fallback, then DefaultMimeType.
func (m *Mapper) MimeType(filename, path string) string {
	ext := extensionOf(filename)
	if ext != "" {
		key := ext
		if !m.CaseSensitiveExtensions {
			key = strings.ToLower(ext)
		}
		if mt, ok := m.ExtensionToMimeType[key]; ok {
			return mt
		}
	}
	if ext == "" || !m.IgnoreUnknownExtensions {
		if m.Magic != nil {
			if mt, err := m.Magic(path); err == nil && mt != "" {
				return mt
			}
		}
	}
	return m.DefaultMimeType
}

// UpnpClass resolves a mimetype to a UPnP class. isTheora is consulted
// only for "application/ogg": Ogg containers hold either Theora video or
// Vorbis audio and the class can't be told from the mimetype alone
// (spec.md §4.5 step 2's Theora-keyframe probe).
func (m *Mapper) UpnpClass(mimeType string, isTheora func() bool) string {
	if class, ok := m.MimeTypeToUpnpClass[mimeType]; ok && class != "" {
		return class
	}
	if m.ContentType(mimeType) == ContentTypeOgg {
		if isTheora != nil && isTheora() {
			return "object.item.videoItem"
		}
		return "object.item.audioItem.musicTrack"
	}
	return ""
}

// ContentType resolves a mimetype to the coarse content-type bucket used
// for post-add dispatch.
func (m *Mapper) ContentType(mimeType string) ContentType {
	return ContentType(m.MimeTypeToContentType[mimeType])
}

func extensionOf(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i <= 0 || i == len(filename)-1 {
		return ""
	}
	return filename[i+1:]
}
