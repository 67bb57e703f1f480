//go:build !windows

package signals

import (
	"os"
	"syscall"
)

var watched = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

func classify(sig os.Signal) action {
	switch sig {
	case syscall.SIGHUP:
		return actionReload
	case syscall.SIGINT, syscall.SIGTERM:
		return actionStop
	default:
		return actionNone
	}
}
