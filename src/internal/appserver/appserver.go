// Package appserver implements the process entry point: it reads
// configuration, sets up logging, wires every core collaborator into one
// ContentManager and drives its lifecycle against OS signals. It plays the
// role the teacher's internal/server package plays for muserv, reduced to
// the collaborators spec.md's core actually owns — no UPnP device, no SOAP
// transport, no DIDL-Lite rendering (spec.md's Non-goals).
package appserver

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdsengine/src/internal/cdsmem"
	"gitlab.com/mipimipi/cdsengine/src/internal/clockutil"
	"gitlab.com/mipimipi/cdsengine/src/internal/config"
	"gitlab.com/mipimipi/cdsengine/src/internal/contentmgr"
	"gitlab.com/mipimipi/cdsengine/src/internal/inotify"
	"gitlab.com/mipimipi/cdsengine/src/internal/layout"
	"gitlab.com/mipimipi/cdsengine/src/internal/metadata"
	"gitlab.com/mipimipi/cdsengine/src/internal/playlist"
	"gitlab.com/mipimipi/cdsengine/src/internal/scan"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "appserver"})

// ConfigFileName is skipped during import and watch setup, matching
// spec.md §4.3/§4.5's "skip the server's own config file".
const ConfigFileName = "config.json"

// Run implements the main control loop: it loads and validates the
// configuration, sets up logging, builds the ContentManager, registers the
// configured autoscan directories and blocks until an OS termination
// signal arrives. version is reported in Trace logs, mirroring the
// teacher's server.Run(version).
func Run(version string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "cannot run gocontentd")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "cannot run gocontentd")
	}

	if err := setupLogging(cfg.LogDir, cfg.LogLevel); err != nil {
		return errors.Wrap(err, "cannot run gocontentd")
	}

	log.Tracef("running gocontentd %s ...", version)

	cm := buildContentManager(&cfg)

	ctx, cancel := context.WithCancel(context.Background())

	if err := registerAutoscans(cm, &cfg); err != nil {
		cancel()
		return errors.Wrap(err, "cannot run gocontentd")
	}

	cm.Run(ctx)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	sig := <-interrupt
	log.Tracef("signal received: %v", sig)
	log.Trace("stopping ...")
	cancel()
	cm.Shutdown()
	log.Trace("stopped")

	return nil
}

// Status loads the configuration and reports the queue depth and autoscan
// counts a freshly configured ContentManager would start with. Querying a
// running daemon would need an IPC channel this core does not define
// (spec.md fixes only the CLI's addFile/shutdown surface, §6); this is the
// closest honest equivalent, the same one-shot-against-config approach the
// teacher's own `test` subcommand takes.
func Status() (contentmgr.Status, error) {
	cfg, err := config.Load()
	if err != nil {
		return contentmgr.Status{}, errors.Wrap(err, "cannot determine gocontentd status")
	}

	cm := buildContentManager(&cfg)
	defer cm.Shutdown()

	if err := registerAutoscans(cm, &cfg); err != nil {
		return contentmgr.Status{}, errors.Wrap(err, "cannot determine gocontentd status")
	}

	return cm.Status(), nil
}

// buildContentManager wires the collaborators the way New's doc comment
// expects: a database, an inotify backend (when IMPORT_AUTOSCAN_USE_INOTIFY
// is set), a clock, a layout strategy, a metadata extractor, a playlist
// parser and a mimetype mapper filled from the configured mapping lists.
//
// Production database wiring is an explicit spec.md Non-goal; the teacher
// itself keeps its content model in memory rather than behind a SQL
// driver, so cdsmem.DB serves as the production Database here too.
func buildContentManager(cfg *config.Cfg) *contentmgr.ContentManager {
	db := cdsmem.New()

	mapper := scan.NewMapper()
	cfg.FillMapper(mapper.ExtensionToMimeType, mapper.MimeTypeToUpnpClass, mapper.MimeTypeToContentType)

	var backend inotify.Backend
	if cfg.Import.AutoscanUseInotify {
		backend = inotify.NewNotifyBackend()
	}

	inotifyPolicy := inotify.DefaultPolicy
	inotifyPolicy.GerberaImportMode = cfg.Import.LayoutMode == config.LayoutGerbera

	mcfg := contentmgr.Config{
		Hidden:         cfg.Import.HiddenFiles,
		FollowSymlinks: cfg.Import.FollowSymlinks,
		ConfigFileName: ConfigFileName,
		UseInotify:     cfg.Import.AutoscanUseInotify,
		InotifyPolicy:  inotifyPolicy,
	}

	return contentmgr.New(db, backend, clockutil.System{}, resolveLayout(cfg), metadata.NewTagExtractor(), playlist.M3UParser{}, mapper, mcfg)
}

// resolveLayout honours IMPORT_LAYOUT_MODE. Concrete MediaTomb/Gerbera
// hierarchy builders are an explicit spec.md Non-goal (layout.Layout is an
// external collaborator contract, spec.md §1), so both modes run
// layout.Fallback until a real implementation is plugged in; the switch
// exists so a future implementation has a place to be registered.
func resolveLayout(cfg *config.Cfg) layout.Layout {
	switch cfg.Import.LayoutMode {
	case config.LayoutMediaTomb, config.LayoutGerbera:
		return layout.Fallback{}
	default:
		return layout.Fallback{}
	}
}

// registerAutoscans feeds IMPORT_AUTOSCAN_TIMED_LIST and, when enabled,
// IMPORT_AUTOSCAN_INOTIFY_LIST into the ContentManager at startup.
func registerAutoscans(cm *contentmgr.ContentManager, cfg *config.Cfg) error {
	for _, dir := range cfg.TimedAutoscans() {
		containerID, err := cm.EnsurePathExistence(dir.Location)
		if err != nil {
			return errors.Wrapf(err, "autoscan location %q", dir.Location)
		}
		dir.ContainerID = containerID
		if err := cm.SetAutoscanDirectory(dir); err != nil {
			return errors.Wrapf(err, "cannot register timed autoscan %q", dir.Location)
		}
	}
	for _, dir := range cfg.InotifyAutoscans() {
		containerID, err := cm.EnsurePathExistence(dir.Location)
		if err != nil {
			return errors.Wrapf(err, "autoscan location %q", dir.Location)
		}
		dir.ContainerID = containerID
		if err := cm.SetAutoscanDirectory(dir); err != nil {
			return errors.Wrapf(err, "cannot register inotify autoscan %q", dir.Location)
		}
	}
	return nil
}
