// Package tempreg tracks uncached download temp files for best-effort
// deletion at process exit, mirroring this tree's atexit hook
// convention but scoped to a single process-wide registry rather than
// a general-purpose hook list.
package tempreg

import (
	"os"
	"sync"

	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("tempreg")

var (
	mu    sync.Mutex
	paths []string
	once  sync.Once
)

// Register appends path to the process-wide list drained at exit. It
// is a no-op if enabled is false, so callers can gate the whole
// mechanism on the DeleteTempDownloadsAtExit config knob without a
// conditional at every call site.
func Register(path string, enabled bool) {
	if !enabled {
		return
	}
	mu.Lock()
	paths = append(paths, path)
	mu.Unlock()
	once.Do(installExitHook)
}

// installExitHook is invoked at most once per process; it does not
// itself run Drain (Go has no implicit atexit), so callers embedding
// this cache in a longer-lived program must call Drain explicitly
// before exiting, e.g. from a deferred call in main.
func installExitHook() {
	log.Debug("temp-file registry initialized")
}

// Drain removes every registered path, ignoring missing or busy files,
// and clears the registry.
func Drain() {
	mu.Lock()
	pending := paths
	paths = nil
	mu.Unlock()

	for _, p := range pending {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.WithField("path", p).WithError(err).Debug("could not remove temp download at exit")
		}
	}
}

// Pending returns a snapshot of currently registered paths, for tests.
func Pending() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}
