package metadata

import (
	"testing"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/cdserr"
)

func TestSplitFirstTrimsAndTakesFirstValue(t *testing.T) {
	cases := []struct {
		in, sep, want string
	}{
		{"Artist A; Artist B", ";", "Artist A"},
		{"Solo Artist", ";", "Solo Artist"},
		{"", ";", ""},
		{"A;B", "", "A;B"},
	}
	for _, c := range cases {
		if got := splitFirst(c.in, c.sep); got != c.want {
			t.Errorf("splitFirst(%q, %q) = %q, want %q", c.in, c.sep, got, c.want)
		}
	}
}

func TestExtractOnUnreadableFileReturnsIOError(t *testing.T) {
	e := NewTagExtractor()
	o := cds.NewObject(cds.KindItem, "unused")
	err := e.Extract("/nonexistent/path/does-not-exist.mp3", o)
	if err == nil {
		t.Fatal("Extract on a missing file returned nil error, want an IOError")
	}
	if kind := cdserr.KindOf(err); kind != cdserr.IOError {
		t.Fatalf("Extract error kind = %v, want IOError", kind)
	}
}
