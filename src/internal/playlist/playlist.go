// Package playlist implements the playlist-parsing collaborator
// createObjectFromFile dispatches to when a file's content type is
// "playlist" (spec.md §4.5, step 4): it turns an m3u file into an ordered
// list of entries, each either a path relative to the playlist's own
// directory or an external http(s) URL, for the caller to resolve against
// cds.Database and attach as PlaylistRef children.
package playlist

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ushis/m3u"

	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cdserr"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "playlist"})

// Entry is one resolved playlist line: either a local filesystem path
// (External false) or an http(s) URL (External true).
type Entry struct {
	Path     string
	Title    string
	External bool
}

// Parser turns a playlist file into its ordered entries.
type Parser interface {
	Parse(path string) ([]Entry, error)
}

// M3UParser parses m3u/m3u8 playlists via github.com/ushis/m3u, the same
// library the teacher's playlist.go uses.
type M3UParser struct{}

func (M3UParser) Parse(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cdserr.Wrapf(cdserr.IOError, err, "playlist: open %s", path)
	}
	defer f.Close()

	pl, err := m3u.Parse(f)
	if err != nil {
		return nil, cdserr.Wrapf(cdserr.IOError, err, "playlist: parse %s", path)
	}

	dir := filepath.Dir(path)
	entries := make([]Entry, 0, len(pl))
	for _, item := range pl {
		e, ok := resolveItem(dir, item.Path, item.Title)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// resolveItem mirrors the teacher's trackFromPlaylistItem path-normalization:
// external http(s) URLs pass through as-is, relative local paths are joined
// against the playlist's own directory, and anything with an unsupported
// URL scheme or an empty host-bearing authority is rejected.
func resolveItem(plDir, rawPath, title string) (Entry, bool) {
	path := strings.TrimSpace(rawPath)
	if path == "" {
		return Entry{}, false
	}

	if filepath.IsAbs(path) {
		return Entry{Path: path, Title: title}, true
	}

	if u, err := url.ParseRequestURI(path); err == nil {
		switch {
		case u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https":
			log.Errorf("playlist item %q has unsupported scheme %q: ignoring", path, u.Scheme)
			return Entry{}, false
		case u.Scheme == "" && u.Host != "":
			log.Errorf("playlist item %q has empty scheme but non-empty host: ignoring", path)
			return Entry{}, false
		case u.Scheme == "http" || u.Scheme == "https":
			return Entry{Path: path, Title: title, External: true}, true
		}
	}

	return Entry{Path: filepath.Join(plDir, path), Title: title}, true
}
