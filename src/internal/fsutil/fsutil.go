// Package fsutil is a thin re-export of gitlab.com/mipimipi/go-utils'
// filesystem helpers (the module the teacher's content/*.go files import
// throughout), giving the inotify package one seam instead of importing
// the upstream package directly.
package fsutil

import (
	"path/filepath"
	"strings"

	"gitlab.com/mipimipi/go-utils/file"
)

// Exists reports whether path exists on disk.
func Exists(path string) bool {
	exists, err := file.Exists(path)
	return err == nil && exists
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	return file.IsDir(path)
}

// IsSub reports whether child is path or a path-separator-bounded
// descendant of parent — the same semantics content_manager.cc's
// invalidateAddTask path-prefix check relies on. Implemented locally
// rather than via go-utils/file (whose exported surface does not cover
// this prefix check) on top of the same Clean'd path comparison the rest
// of this package uses.
func IsSub(parent, child string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// NearestExistingAncestor walks from path toward "/" until it finds a
// directory that exists, per spec.md §4.3's non-existing-path handling:
// "walk from the path toward / until a directory exists".
func NearestExistingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if IsDir(p) {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return parent
		}
		p = parent
	}
}

// Ancestors returns every path-separator-bounded ancestor directory of
// path, nearest first, excluding path itself; for an absolute path the
// last entry is "/".
func Ancestors(path string) []string {
	var out []string
	p := filepath.Clean(path)
	for {
		parent := filepath.Dir(p)
		if parent == p || parent == "." {
			return out
		}
		out = append(out, parent)
		p = parent
	}
}

// IsHidden reports whether the final path component starts with a dot.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
