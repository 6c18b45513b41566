package playlist

import "testing"

func TestResolveItemAbsolutePath(t *testing.T) {
	e, ok := resolveItem("/music/pl", "/music/track.mp3", "Track")
	if !ok {
		t.Fatal("resolveItem rejected an absolute path")
	}
	if e.Path != "/music/track.mp3" || e.External {
		t.Fatalf("resolveItem = %+v, want local absolute path", e)
	}
}

func TestResolveItemRelativePathJoinsPlaylistDir(t *testing.T) {
	e, ok := resolveItem("/music/pl", "../track.mp3", "Track")
	if !ok {
		t.Fatal("resolveItem rejected a relative path")
	}
	if e.Path != "/music/track.mp3" || e.External {
		t.Fatalf("resolveItem = %+v, want /music/track.mp3", e)
	}
}

func TestResolveItemHTTPURLIsExternal(t *testing.T) {
	e, ok := resolveItem("/music/pl", "http://example.com/stream.mp3", "Stream")
	if !ok {
		t.Fatal("resolveItem rejected an http URL")
	}
	if !e.External || e.Path != "http://example.com/stream.mp3" {
		t.Fatalf("resolveItem = %+v, want external http URL", e)
	}
}

func TestResolveItemUnsupportedSchemeRejected(t *testing.T) {
	if _, ok := resolveItem("/music/pl", "ftp://example.com/track.mp3", "Track"); ok {
		t.Fatal("resolveItem accepted an ftp:// scheme, want rejection")
	}
}

func TestResolveItemEmptyPathRejected(t *testing.T) {
	if _, ok := resolveItem("/music/pl", "   ", "Track"); ok {
		t.Fatal("resolveItem accepted a blank path")
	}
}
