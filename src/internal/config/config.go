// Package config loads the gocontentd configuration file and turns it into
// the values the core collaborators need (contentmgr.Config, a scan.Mapper,
// the autoscan lists). It follows the teacher's config package
// (mipimipi-muserv's internal/config/cfg.go): a flat JSON file, a Load
// function, a Validate pass that returns the first error found, and a Test
// entry point for a CLI subcommand.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/mipimipi/go-utils/file"

	"gitlab.com/mipimipi/cdsengine/src/internal/cds"
)

// UserName is the name of the gocontentd system user; appserver hands a
// newly created log file to this user. Nothing in this package requires
// the user to exist.
const UserName = "gocontentd"

const (
	// CfgDir is the directory where the gocontentd configuration is stored.
	CfgDir = "/etc/gocontentd"
	// cfgFilepath is the path of the gocontentd configuration file.
	cfgFilepath = CfgDir + "/config.json"
)

// LayoutMode selects which virtual-container placement strategy
// IMPORT_LAYOUT_MODE names (spec.md §6).
type LayoutMode string

const (
	LayoutMediaTomb LayoutMode = "mediatomb"
	LayoutGerbera   LayoutMode = "gerbera"
)

// IsValid reports whether m is one of the two layout modes spec.md §6
// enumerates.
func (m LayoutMode) IsValid() bool {
	return m == LayoutMediaTomb || m == LayoutGerbera
}

// autoscanEntry is one element of IMPORT_AUTOSCAN_TIMED_LIST /
// IMPORT_AUTOSCAN_INOTIFY_LIST.
type autoscanEntry struct {
	Location       string        `json:"location"`
	Recursive      bool          `json:"recursive"`
	Hidden         bool          `json:"hidden"`
	FollowSymlinks bool          `json:"follow_symlinks"`
	Interval       time.Duration `json:"interval"`
	ScanLevel      string        `json:"scan_level"`
	Persistent     bool          `json:"persistent"`
}

func (e autoscanEntry) validate(index int, listName string) error {
	if e.Location == "" {
		return fmt.Errorf("%s[%d]: location must not be empty", listName, index)
	}
	if e.Location[0] != '/' {
		return fmt.Errorf("%s[%d]: location %q must be an absolute path", listName, index, e.Location)
	}
	if e.ScanLevel != "" && e.ScanLevel != "basic" && e.ScanLevel != "full" {
		return fmt.Errorf("%s[%d]: unknown scan_level %q", listName, index, e.ScanLevel)
	}
	return nil
}

func (e autoscanEntry) scanLevel() cds.ScanLevel {
	if e.ScanLevel == "full" {
		return cds.ScanLevelFull
	}
	return cds.ScanLevelBasic
}

// ToAutoscanDirectory converts the config entry into the in-memory record
// the core works with. mode fixes whether this entry came from the timed
// or the inotify list, since the JSON shape itself doesn't carry it.
func (e autoscanEntry) ToAutoscanDirectory(mode cds.ScanMode) *cds.AutoscanDirectory {
	ad := cds.NewAutoscanDirectory(e.Location, mode)
	ad.Recursive = e.Recursive
	ad.Hidden = e.Hidden
	ad.FollowSymlinks = e.FollowSymlinks
	ad.Interval = e.Interval
	ad.ScanLevel = e.scanLevel()
	ad.Persistent = e.Persistent
	return ad
}

// extensionMapping is one element of
// IMPORT_MAPPINGS_EXTENSION_TO_MIMETYPE_LIST.
type extensionMapping struct {
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
}

// mimeMapping is one element of IMPORT_MAPPINGS_MIMETYPE_TO_UPNP_CLASS_LIST
// / IMPORT_MAPPINGS_MIMETYPE_TO_CONTENTTYPE_LIST.
type mimeMapping struct {
	MimeType string `json:"mime_type"`
	Value    string `json:"value"`
}

// onlineService is one element of ONLINE_CONTENT_LIST: the enable flag and
// refresh interval for a named online-content collaborator (spec.md §4.9).
// The collaborator implementation itself (online.Service) is registered in
// code, not configured here; this only fixes the schedule.
type onlineService struct {
	Name               string        `json:"name"`
	Enabled            bool          `json:"enabled"`
	RefreshInterval    time.Duration `json:"refresh_interval"`
	UnscheduledRefresh bool          `json:"unscheduled_refresh"`
	PurgeOnDisable     bool          `json:"purge_on_disable"`
}

func (s onlineService) validate(index int) error {
	if s.Name == "" {
		return fmt.Errorf("online_content[%d]: name must not be empty", index)
	}
	if s.Enabled && s.RefreshInterval <= 0 {
		return fmt.Errorf("online_content[%d] (%s): refresh_interval must be > 0 when enabled", index, s.Name)
	}
	return nil
}

// extOpts groups SERVER_EXTOPTS_* (spec.md §6).
type extOpts struct {
	MarkPlayedItemsEnabled bool     `json:"mark_played_items_enabled"`
	ContentList            []string `json:"content_list"`
	SuppressCdsUpdates     bool     `json:"suppress_cds_updates"`
}

// importCfg groups the IMPORT_* keys spec.md §6 enumerates.
type importCfg struct {
	HiddenFiles         bool            `json:"hidden_files"`
	FollowSymlinks      bool            `json:"follow_symlinks"`
	AutoscanUseInotify  bool            `json:"autoscan_use_inotify"`
	AutoscanTimedList   []autoscanEntry `json:"autoscan_timed_list"`
	AutoscanInotifyList []autoscanEntry `json:"autoscan_inotify_list"`

	ExtensionToMimeType   []extensionMapping `json:"mappings_extension_to_mimetype"`
	MimeTypeToUpnpClass   []mimeMapping      `json:"mappings_mimetype_to_upnpclass"`
	MimeTypeToContentType []mimeMapping      `json:"mappings_mimetype_to_contenttype"`

	MagicFile  string     `json:"magic_file"`
	LayoutMode LayoutMode `json:"layout_mode"`
}

func (c *importCfg) validate() error {
	for i, e := range c.AutoscanTimedList {
		if err := e.validate(i, "import.autoscan_timed_list"); err != nil {
			return err
		}
	}
	for i, e := range c.AutoscanInotifyList {
		if err := e.validate(i, "import.autoscan_inotify_list"); err != nil {
			return err
		}
	}
	if c.LayoutMode != "" && !c.LayoutMode.IsValid() {
		return fmt.Errorf("import.layout_mode %q is not mediatomb or gerbera", c.LayoutMode)
	}
	if c.MagicFile != "" {
		exists, err := file.Exists(c.MagicFile)
		if err != nil {
			return errors.Wrapf(err, "cannot check if import.magic_file %q exists", c.MagicFile)
		}
		if !exists {
			return fmt.Errorf("import.magic_file %q doesn't exist", c.MagicFile)
		}
	}
	return nil
}

// Cfg stores the data from the gocontentd configuration file (spec.md §6).
type Cfg struct {
	Import        importCfg       `json:"import"`
	Server        extOpts         `json:"server_extopts"`
	OnlineContent []onlineService `json:"online_content"`

	CacheDir string `json:"cache_dir"`
	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`
}

// Load reads the configuration file and returns it as a Cfg.
func Load() (Cfg, error) {
	return LoadFrom(cfgFilepath)
}

// LoadFrom reads the configuration file at path; split out from Load so
// tests and the `test` CLI subcommand can point at an arbitrary file.
func LoadFrom(path string) (cfg Cfg, err error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Cfg{}, errors.Wrapf(err, "config file '%s' couldn't be read", path)
	}
	if err = json.Unmarshal(raw, &cfg); err != nil {
		return Cfg{}, errors.Wrapf(err, "config file '%s' couldn't be unmarshalled", path)
	}
	return cfg, nil
}

// Validate checks if the configuration is complete and correct. It returns
// the first error found.
func (c *Cfg) Validate() error {
	if err := validateDir(c.CacheDir, "cache_dir"); err != nil {
		return err
	}
	if err := validateDir(c.LogDir, "log_dir"); err != nil {
		return err
	}
	if err := c.Import.validate(); err != nil {
		return err
	}
	for i, s := range c.OnlineContent {
		if err := s.validate(i); err != nil {
			return err
		}
	}
	return nil
}

// Test reads the configuration file and checks it for completeness and
// consistency, the way a `test` CLI subcommand invokes it.
func Test() error {
	cfg, err := Load()
	if err != nil {
		return errors.Wrapf(err, "the gocontentd configuration file '%s' couldn't be read", cfgFilepath)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Println("Congrats: the gocontentd configuration is complete and consistent :)")
	return nil
}

func validateDir(dir, name string) error {
	if dir == "" {
		return fmt.Errorf("no %s maintained", name)
	}
	exists, err := file.Exists(dir)
	if err != nil {
		return errors.Wrapf(err, "cannot check if %s '%s' exists", name, dir)
	}
	if !exists {
		return fmt.Errorf("%s '%s' doesn't exist", name, dir)
	}
	return nil
}

// TimedAutoscans converts IMPORT_AUTOSCAN_TIMED_LIST into AutoscanDirectory
// records ready for ContentManager.SetAutoscanDirectory.
func (c *Cfg) TimedAutoscans() []*cds.AutoscanDirectory {
	out := make([]*cds.AutoscanDirectory, 0, len(c.Import.AutoscanTimedList))
	for _, e := range c.Import.AutoscanTimedList {
		out = append(out, e.ToAutoscanDirectory(cds.ScanModeTimed))
	}
	return out
}

// InotifyAutoscans converts IMPORT_AUTOSCAN_INOTIFY_LIST into
// AutoscanDirectory records ready for ContentManager.SetAutoscanDirectory.
// It is empty unless IMPORT_AUTOSCAN_USE_INOTIFY is set, matching spec.md
// §6's framing of inotify as an opt-in mode.
func (c *Cfg) InotifyAutoscans() []*cds.AutoscanDirectory {
	if !c.Import.AutoscanUseInotify {
		return nil
	}
	out := make([]*cds.AutoscanDirectory, 0, len(c.Import.AutoscanInotifyList))
	for _, e := range c.Import.AutoscanInotifyList {
		out = append(out, e.ToAutoscanDirectory(cds.ScanModeInotify))
	}
	return out
}

// FillMapper copies
// IMPORT_MAPPINGS_EXTENSION_TO_MIMETYPE_LIST /
// IMPORT_MAPPINGS_MIMETYPE_TO_UPNP_CLASS_LIST /
// IMPORT_MAPPINGS_MIMETYPE_TO_CONTENTTYPE_LIST into the three maps the
// caller passes in (typically a scan.Mapper's own maps; internal/config
// does not import internal/scan) so config only fills in data, never
// wires behaviour.
func (c *Cfg) FillMapper(extToMime, mimeToClass, mimeToContentType map[string]string) {
	for _, m := range c.Import.ExtensionToMimeType {
		extToMime[m.Extension] = m.MimeType
	}
	for _, m := range c.Import.MimeTypeToUpnpClass {
		mimeToClass[m.MimeType] = m.Value
	}
	for _, m := range c.Import.MimeTypeToContentType {
		mimeToContentType[m.MimeType] = m.Value
	}
}
