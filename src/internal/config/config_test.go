package config

import (
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

func writeCfg(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromParsesImportAndAutoscanLists(t *testing.T) {
	path := writeCfg(t, `{
		"cache_dir": "/tmp",
		"log_dir": "/tmp",
		"import": {
			"hidden_files": true,
			"autoscan_use_inotify": true,
			"autoscan_timed_list": [
				{"location": "/music", "recursive": true, "interval": 60000000000, "scan_level": "full", "persistent": true}
			],
			"autoscan_inotify_list": [
				{"location": "/music/live", "recursive": true}
			]
		}
	}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if !cfg.Import.HiddenFiles {
		t.Error("import.hidden_files not parsed")
	}
	if len(cfg.Import.AutoscanTimedList) != 1 || cfg.Import.AutoscanTimedList[0].Location != "/music" {
		t.Fatalf("autoscan_timed_list = %+v", cfg.Import.AutoscanTimedList)
	}

	timed := cfg.TimedAutoscans()
	if len(timed) != 1 || timed[0].ScanMode != cds.ScanModeTimed || timed[0].ScanLevel != cds.ScanLevelFull {
		t.Fatalf("TimedAutoscans() = %+v", timed)
	}

	ino := cfg.InotifyAutoscans()
	if len(ino) != 1 || ino[0].ScanMode != cds.ScanModeInotify {
		t.Fatalf("InotifyAutoscans() = %+v", ino)
	}
}

func TestInotifyAutoscansEmptyWhenNotEnabled(t *testing.T) {
	path := writeCfg(t, `{
		"cache_dir": "/tmp",
		"log_dir": "/tmp",
		"import": {
			"autoscan_use_inotify": false,
			"autoscan_inotify_list": [{"location": "/music/live"}]
		}
	}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.InotifyAutoscans(); len(got) != 0 {
		t.Fatalf("InotifyAutoscans() = %+v, want empty when autoscan_use_inotify is false", got)
	}
}

func TestValidateRejectsMissingCacheDir(t *testing.T) {
	cfg := Cfg{LogDir: "/tmp"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() succeeded with an empty cache_dir, want an error")
	}
}

func TestValidateRejectsRelativeAutoscanLocation(t *testing.T) {
	cfg := Cfg{
		CacheDir: "/tmp",
		LogDir:   "/tmp",
		Import: importCfg{
			AutoscanTimedList: []autoscanEntry{{Location: "relative/path"}},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() succeeded with a relative autoscan location, want an error")
	}
}

func TestValidateRejectsUnknownLayoutMode(t *testing.T) {
	cfg := Cfg{
		CacheDir: "/tmp",
		LogDir:   "/tmp",
		Import:   importCfg{LayoutMode: "mediaportal"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() succeeded with an unknown layout_mode, want an error")
	}
}

func TestValidateRejectsEnabledOnlineServiceWithoutInterval(t *testing.T) {
	cfg := Cfg{
		CacheDir:      "/tmp",
		LogDir:        "/tmp",
		OnlineContent: []onlineService{{Name: "weather", Enabled: true}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() succeeded with an enabled online service and no refresh_interval, want an error")
	}
}

func TestFillMapperPopulatesFromMappingLists(t *testing.T) {
	cfg := Cfg{
		Import: importCfg{
			ExtensionToMimeType:   []extensionMapping{{Extension: ".mp3", MimeType: "audio/mpeg"}},
			MimeTypeToUpnpClass:   []mimeMapping{{MimeType: "audio/mpeg", Value: "object.item.audioItem.musicTrack"}},
			MimeTypeToContentType: []mimeMapping{{MimeType: "audio/mpeg", Value: "mp3"}},
		},
	}
	extToMime := map[string]string{}
	mimeToClass := map[string]string{}
	mimeToContentType := map[string]string{}
	cfg.FillMapper(extToMime, mimeToClass, mimeToContentType)

	if extToMime[".mp3"] != "audio/mpeg" {
		t.Errorf("extToMime[.mp3] = %q, want audio/mpeg", extToMime[".mp3"])
	}
	if mimeToClass["audio/mpeg"] != "object.item.audioItem.musicTrack" {
		t.Errorf("mimeToClass[audio/mpeg] = %q", mimeToClass["audio/mpeg"])
	}
	if mimeToContentType["audio/mpeg"] != "mp3" {
		t.Errorf("mimeToContentType[audio/mpeg] = %q", mimeToContentType["audio/mpeg"])
	}
}
