// Package metadata provides the MetadataExtractor collaborator spec.md §1
// assumes ("the metadata extractor plugins (taglib/exiv2/ffmpeg)" are out
// of scope, but the core still needs one concrete implementation to drive
// through createObjectFromFile in tests and in a minimal deployment). The
// default Extractor reads embedded audio tags the way the teacher's
// fileinfo.go does, via github.com/dhowden/tag, and resizes embedded cover
// art via github.com/disintegration/imaging.
package metadata

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dhowden/tag"
	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/cdserr"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "metadata"})

// Extractor fills in an Object's Metadata and Resources from the file at
// path, invoked by createObjectFromFile (spec.md §4.5, step 2).
type Extractor interface {
	Extract(path string, o *cds.Object) error
}

// TagExtractor is the default Extractor: ID3/Vorbis/MP4 tags via
// github.com/dhowden/tag, with embedded cover art resized to CoverMaxDim
// (a square bound) via github.com/disintegration/imaging. MultiValueSep
// splits multi-valued tag fields the way fileinfo.go's
// splitMultipleEntries does for artist/albumArtist/genre/composer.
type TagExtractor struct {
	MultiValueSep string
	CoverMaxDim   int
}

// NewTagExtractor returns a TagExtractor with the teacher's defaults: a
// semicolon separator and a 300px cover bound.
func NewTagExtractor() *TagExtractor {
	return &TagExtractor{MultiValueSep: ";", CoverMaxDim: 300}
}

func (e *TagExtractor) Extract(path string, o *cds.Object) error {
	f, err := os.Open(path)
	if err != nil {
		return cdserr.Wrapf(cdserr.IOError, err, "metadata: open %s", path)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// Not every audio file carries readable tags; leave the Object
		// with only filesystem-derived fields rather than failing the
		// whole AddFile, matching spec.md §4.5's per-file failure policy.
		log.Tracef("metadata: no tags in %s: %v", path, err)
		return nil
	}

	set := func(key cds.MetaKey, v string) {
		if v != "" {
			o.Metadata.Set(string(key), v)
		}
	}
	set(cds.MTitle, m.Title())
	set(cds.MArtist, splitFirst(m.Artist(), e.MultiValueSep))
	set(cds.MAlbum, m.Album())
	set(cds.MAlbumArtist, splitFirst(m.AlbumArtist(), e.MultiValueSep))
	set(cds.MGenre, splitFirst(m.Genre(), e.MultiValueSep))
	if m.Year() != 0 {
		set(cds.MDate, strconv.Itoa(m.Year()))
	}
	if track, _ := m.Track(); track != 0 {
		set(cds.MTrackNumber, strconv.Itoa(track))
	}

	if pic := m.Picture(); pic != nil {
		if res, err := e.coverResource(pic); err != nil {
			log.Errorf("metadata: cover extraction failed for %s: %v", path, err)
		} else {
			o.Resources = append(o.Resources, res)
		}
	}

	return nil
}

func (e *TagExtractor) coverResource(pic *tag.Picture) (*cds.Resource, error) {
	img, err := imaging.Decode(bytes.NewReader(pic.Data))
	if err != nil {
		return nil, cdserr.Wrap(cdserr.IOError, err, "metadata: decode embedded cover")
	}
	resized := imaging.Fit(img, e.CoverMaxDim, e.CoverMaxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG); err != nil {
		return nil, cdserr.Wrap(cdserr.IOError, err, "metadata: encode resized cover")
	}

	res := cds.NewResource(cds.HandlerFanArt)
	res.Options.Set(cds.ResOptContentType, "image/jpeg")
	res.Attributes.Set(cds.ResAttrSize, strconv.Itoa(buf.Len()))
	res.Parameters.Set("data", buf.String())
	return res, nil
}

func splitFirst(v, sep string) string {
	if v == "" || sep == "" {
		return v
	}
	parts := strings.SplitN(v, sep, 2)
	return strings.TrimSpace(parts[0])
}
