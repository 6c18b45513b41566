package appserver

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	l "github.com/sirupsen/logrus"
	"gitlab.com/mipimipi/go-utils/file"

	"gitlab.com/mipimipi/cdsengine/src/internal/config"
)

const logFilename = "gocontentd.log"

// setupLogging sets up logging into logDir at level logLevel. If the log
// file does not exist yet, it is created and its owner is set to
// config.UserName, matching the teacher's server/log.go.
func setupLogging(logDir, logLevel string) error {
	level, err := l.ParseLevel(logLevel)
	if err != nil {
		return err
	}

	path := filepath.Join(logDir, logFilename)

	exists, err := file.Exists(path)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}

	if !exists {
		if err := chownToServiceUser(f, path); err != nil {
			return err
		}
	}

	l.SetOutput(f)
	l.SetLevel(level)
	return nil
}

// chownToServiceUser makes config.UserName the owner of a freshly created
// log file. Missing the system user is not fatal here: a fresh install
// running as root without the service user provisioned yet should still
// get a working log file.
func chownToServiceUser(f *os.File, path string) error {
	u, err := user.Lookup(config.UserName)
	if err != nil {
		log.Tracef("log file owner not changed: %v", err)
		return nil
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	stat := info.Sys().(*syscall.Stat_t)
	if uid == int(stat.Uid) && gid == int(stat.Gid) {
		return nil
	}
	return f.Chown(uid, gid)
}
