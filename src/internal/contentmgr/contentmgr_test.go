package contentmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
	"gitlab.com/mipimipi/cdsengine/src/internal/cdsmem"
	"gitlab.com/mipimipi/cdsengine/src/internal/clockutil"
	"gitlab.com/mipimipi/cdsengine/src/internal/layout"
	"gitlab.com/mipimipi/cdsengine/src/internal/scan"
)

func newTestManager() (*ContentManager, *cdsmem.DB) {
	db := cdsmem.New()
	cm := New(db, nil, clockutil.NewFake(time.Unix(1000, 0)), layout.Fallback{}, nil, nil, scan.NewMapper(), Config{})
	go cm.tasks.Run()
	return cm, db
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAddFileQueuesImportAndDatabaseReflectsIt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cm, db := newTestManager()
	defer cm.Shutdown()

	if err := cm.AddFile(path, false, false, false); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}

	waitFor(t, func() bool {
		obj, _ := db.FindObjectByPath(path, nil)
		return obj != nil
	})
}

func TestRemoveObjectForbidsWellKnownIDs(t *testing.T) {
	cm, _ := newTestManager()
	defer cm.Shutdown()

	if err := cm.RemoveObject(cds.RootID, false); err == nil {
		t.Fatal("RemoveObject(RootID) succeeded, want an error")
	}
}

func TestRemoveObjectQueuesRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cm, db := newTestManager()
	defer cm.Shutdown()

	if err := cm.AddFile(path, false, false, false); err != nil {
		t.Fatal(err)
	}
	var id cds.ID
	waitFor(t, func() bool {
		obj, _ := db.FindObjectByPath(path, nil)
		if obj == nil {
			return false
		}
		id = obj.ID
		return true
	})

	if err := cm.RemoveObject(id, false); err != nil {
		t.Fatalf("RemoveObject() error = %v", err)
	}
	waitFor(t, func() bool {
		_, err := db.LoadObject(id)
		return err != nil
	})
}

func TestEnsurePathExistenceIsSynchronous(t *testing.T) {
	cm, db := newTestManager()
	defer cm.Shutdown()

	leafID, err := cm.EnsurePathExistence("/Music/Artist/Album")
	if err != nil {
		t.Fatalf("EnsurePathExistence() error = %v", err)
	}
	if _, err := db.LoadObject(leafID); err != nil {
		t.Fatalf("leaf container not persisted immediately: %v", err)
	}
}

func TestSetAutoscanDirectoryTimedArmsTimerSubscription(t *testing.T) {
	dir := t.TempDir()
	cm, db := newTestManager()
	defer cm.Shutdown()

	containerID, err := cm.EnsurePathExistence(dir)
	if err != nil {
		t.Fatal(err)
	}

	ad := cds.NewAutoscanDirectory(dir, cds.ScanModeTimed)
	ad.ContainerID = containerID
	ad.Interval = time.Minute
	ad.Persistent = true

	if err := cm.SetAutoscanDirectory(ad); err != nil {
		t.Fatalf("SetAutoscanDirectory() error = %v", err)
	}

	if _, ok := cm.timedSet.ByLocation(dir); !ok {
		t.Fatal("SetAutoscanDirectory did not register the directory in the timed set")
	}

	persisted, err := db.GetAutoscanList(cds.AutoscanTimed)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted autoscan list = %v, want one persistent entry", persisted)
	}
	if err := cm.timer.Unsubscribe(ad, ad.ScanID, false); err != nil {
		t.Fatalf("no timer subscription armed for the directory: %v", err)
	}
}

func TestSetAutoscanDirectoryInotifyWithoutBackendFails(t *testing.T) {
	cm, _ := newTestManager()
	defer cm.Shutdown()

	ad := cds.NewAutoscanDirectory(t.TempDir(), cds.ScanModeInotify)
	if err := cm.SetAutoscanDirectory(ad); err == nil {
		t.Fatal("SetAutoscanDirectory(inotify) succeeded without an inotify backend, want an error")
	}
}

func TestRemoveChildAutoscansUnregistersMatchingPrefix(t *testing.T) {
	dir := t.TempDir()
	cm, _ := newTestManager()
	defer cm.Shutdown()

	ad := cds.NewAutoscanDirectory(dir, cds.ScanModeTimed)
	ad.Interval = time.Minute
	if err := cm.SetAutoscanDirectory(ad); err != nil {
		t.Fatal(err)
	}

	cm.RemoveChildAutoscans(filepath.Dir(dir))

	if _, ok := cm.timedSet.ByLocation(dir); ok {
		t.Fatal("RemoveChildAutoscans did not unregister the directory under the removed prefix")
	}
}

func TestRescanDirectoryAddsNewFileThroughTaskQueue(t *testing.T) {
	dir := t.TempDir()
	cm, db := newTestManager()
	defer cm.Shutdown()

	containerID, err := cm.EnsurePathExistence(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "track.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ad := cds.NewAutoscanDirectory(dir, cds.ScanModeTimed)
	ad.ScanID = 1
	ad.ContainerID = containerID

	cm.RescanDirectory(containerID, ad, false)

	waitFor(t, func() bool {
		obj, _ := db.FindObjectByPath(filepath.Join(dir, "track.mp3"), nil)
		return obj != nil
	})
}

func TestFetchOnlineContentRejectsUnknownService(t *testing.T) {
	cm, _ := newTestManager()
	defer cm.Shutdown()

	if err := cm.FetchOnlineContent("nope", false, false, false); err == nil {
		t.Fatal("FetchOnlineContent() for an unregistered service succeeded, want an error")
	}
}
