// Package lock implements the single exclusive lock over a cache root,
// using atomic directory creation as the compare-and-swap primitive so
// that no separate lockfile protocol is needed and behavior stays
// consistent across POSIX and Windows, and across NFS/SMB mounts where
// advisory file locks are unreliable.
package lock

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("lock")

const (
	lockDirName = "lock"
	pidFileName = "pid"
	baseSleep   = 50 * time.Millisecond
)

// jitterRand is seeded once per process from the PID, so sibling
// processes desynchronize from each other while a single process's own
// retry loop still varies sleep-to-sleep instead of repeating the same
// interval every attempt. rand.Rand isn't safe for concurrent use, so
// access is serialized through jitterMu.
var (
	jitterMu   sync.Mutex
	jitterRand = rand.New(rand.NewSource(int64(os.Getpid()))) //nolint:gosec // jitter, not security
)

// Lock represents a held exclusive lock over a cache root. The zero
// value is not valid; obtain one via Acquire.
type Lock struct {
	dir    string
	pidFn  string
	closed bool
}

// Acquire creates root if it is missing, then polls up to attempts
// times for the lock directory under root, sleeping a PID-jittered interval between polls so sibling
// processes desynchronize. It fails with ErrLockTimeout once attempts
// is exhausted.
func Acquire(root string, attempts int) (*Lock, error) {
	if attempts <= 0 {
		attempts = 1
	}
	dir := filepath.Join(root, lockDirName)
	pidFn := filepath.Join(dir, pidFileName)

	// The root may have been removed by a whole-cache clear; recreate it
	// so later operations on the same Cache keep working.
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating cache root %s", root)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := os.Mkdir(dir, 0o755); err == nil {
			if werr := os.WriteFile(pidFn, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); werr != nil {
				_ = os.Remove(pidFn)
				_ = os.Remove(dir)
				return nil, errors.Wrap(werr, "writing lock pid file")
			}
			log.WithField("dir", dir).Debug("acquired cache lock")
			return &Lock{dir: dir, pidFn: pidFn}, nil
		} else if !os.IsExist(err) {
			return nil, errors.Wrapf(err, "creating lock dir %s", dir)
		}

		holder := "unknown"
		if b, err := os.ReadFile(pidFn); err == nil {
			holder = string(b)
		}
		lastErr = errors.Errorf("lock held by pid %s", holder)

		log.WithFields(map[string]interface{}{
			"dir":     dir,
			"attempt": attempt + 1,
			"holder":  holder,
		}).Debug("cache lock busy, waiting")

		time.Sleep(jitteredSleep())
	}
	return nil, errors.Wrapf(dlerrors.ErrLockTimeout, "%s after %d attempts (%v)", dir, attempts, lastErr)
}

// jitteredSleep returns ~50ms scaled by a random factor drawn from a
// PID-seeded source, so that concurrent processes polling the same lock
// desynchronize from each other, and a single process's successive
// retries don't all sleep the same duration.
func jitteredSleep() time.Duration {
	jitterMu.Lock()
	factor := 1 + jitterRand.Float64()
	jitterMu.Unlock()
	return time.Duration(float64(baseSleep) * factor)
}

// Release removes the pid file then the lock directory. Release is
// idempotent; calling it twice is a no-op on the second call.
func (l *Lock) Release() error {
	if l == nil || l.closed {
		return nil
	}
	l.closed = true
	if err := os.Remove(l.pidFn); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing lock pid file %s", l.pidFn)
	}
	if err := os.Remove(l.dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "removing lock dir %s", l.dir)
	}
	log.WithField("dir", l.dir).Debug("released cache lock")
	return nil
}

// With acquires the lock over root, runs fn, and releases the lock
// regardless of fn's outcome, returning whichever error occurred first.
func With(root string, attempts int, fn func() error) error {
	l, err := Acquire(root, attempts)
	if err != nil {
		return err
	}
	fnErr := fn()
	relErr := l.Release()
	if fnErr != nil {
		return fnErr
	}
	return relErr
}
