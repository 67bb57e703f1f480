//go:build windows

package signals

import "os"

// Windows has no SIGHUP; reloads come from the config watcher or the API.
var watched = []os.Signal{os.Interrupt}

func classify(sig os.Signal) action {
	if sig == os.Interrupt {
		return actionStop
	}
	return actionNone
}
