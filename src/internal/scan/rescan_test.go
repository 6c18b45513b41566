package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

func TestRescanDirectoryAddsNewFile(t *testing.T) {
	dir := t.TempDir()
	im, db := newTestImporter()

	containerID, err := im.EnsurePathExistence(dir)
	if err != nil {
		t.Fatalf("EnsurePathExistence() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "track.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ad := cds.NewAutoscanDirectory(dir, cds.ScanModeTimed)
	ad.ScanID = 1
	ad.ContainerID = containerID

	outcome, err := im.RescanDirectory(containerID, ad, nil, nil)
	if err != nil {
		t.Fatalf("RescanDirectory() error = %v", err)
	}
	if outcome != RescanCompleted {
		t.Fatalf("outcome = %v, want RescanCompleted", outcome)
	}

	found, err := db.FindObjectByPath(filepath.Join(dir, "track.mp3"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil {
		t.Fatal("RescanDirectory did not add the new file")
	}
}

func TestRescanDirectoryRemovesVanishedFile(t *testing.T) {
	dir := t.TempDir()
	im, db := newTestImporter()

	containerID, err := im.EnsurePathExistence(dir)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "ghost.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ghostID, err := im.AddFile(path, dir, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	ad := cds.NewAutoscanDirectory(dir, cds.ScanModeTimed)
	ad.ScanID = 1
	ad.ContainerID = containerID

	if _, err := im.RescanDirectory(containerID, ad, nil, nil); err != nil {
		t.Fatalf("RescanDirectory() error = %v", err)
	}

	if _, err := db.LoadObject(ghostID); err == nil {
		t.Fatal("RescanDirectory left a vanished file's object in place")
	}
}

func TestRescanDirectoryFullLevelReimportsOnNewerMtime(t *testing.T) {
	dir := t.TempDir()
	im, db := newTestImporter()

	containerID, err := im.EnsurePathExistence(dir)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "changing.mp3")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	firstID, err := im.AddFile(path, dir, false, false)
	if err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	ad := cds.NewAutoscanDirectory(dir, cds.ScanModeTimed)
	ad.ScanID = 1
	ad.ContainerID = containerID
	ad.ScanLevel = cds.ScanLevelFull
	ad.LastModifiedMax = time.Now().Unix()

	if _, err := im.RescanDirectory(containerID, ad, nil, nil); err != nil {
		t.Fatalf("RescanDirectory() error = %v", err)
	}

	secondObj, err := db.FindObjectByPath(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if secondObj == nil {
		t.Fatal("RescanDirectory dropped the changed file entirely")
	}
	if secondObj.ID == firstID {
		t.Fatal("RescanDirectory did not re-add the changed file under a fresh id")
	}
}

func TestRescanDirectoryMissingTransientContainer(t *testing.T) {
	im, _ := newTestImporter()
	ad := cds.NewAutoscanDirectory("/does/not/exist", cds.ScanModeTimed)
	ad.ScanID = 1

	outcome, err := im.RescanDirectory(cds.InvalidID, ad, nil, nil)
	if err != nil {
		t.Fatalf("RescanDirectory() error = %v", err)
	}
	if outcome != RescanMissingTransient {
		t.Fatalf("outcome = %v, want RescanMissingTransient", outcome)
	}
}

func TestRescanDirectoryAbortsWhenInvalidated(t *testing.T) {
	dir := t.TempDir()
	im, _ := newTestImporter()
	ad := cds.NewAutoscanDirectory(dir, cds.ScanModeTimed)
	ad.ScanID = cds.InvalidScanID

	outcome, err := im.RescanDirectory(cds.InvalidID, ad, nil, nil)
	if err != nil {
		t.Fatalf("RescanDirectory() error = %v", err)
	}
	if outcome != RescanAborted {
		t.Fatalf("outcome = %v, want RescanAborted", outcome)
	}
}
