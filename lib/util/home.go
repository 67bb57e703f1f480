package util

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// UserHome returns the current user's home directory.
// Falls back to $HOME, then to the working directory, rather than panicking
// in containers where no home is set.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	if home := os.Getenv("HOME"); home != "" {
		log.WithError(err).Warn("os.UserHomeDir failed, falling back to $HOME")
		return home
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("no home directory available, falling back to working directory")
		return wd
	}
	panic("linkd: unable to determine home directory; set $HOME")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	switch {
	case path == "~":
		return UserHome()
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(UserHome(), path[2:])
	default:
		return path
	}
}

// EnsureDir creates dir with owner-only permissions if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Wrapf(err, "create directory %s", dir)
	}
	return nil
}
