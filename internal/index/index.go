// Package index persists the url_key -> hash_path mapping in a single
// bbolt file, serializing readers and writers through the cache
// directory lock rather than relying on bbolt's own file lock as the
// primary mutual-exclusion mechanism.
package index

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/lock"
	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("index")

// fileName is the on-disk file backing the index. Its name (and any
// bbolt companion files) are opaque to every other component; the
// consistency checker filters strays by this prefix.
const fileName = "urlmap"

// BucketName holds the single bucket of url_key -> hash_path entries.
var BucketName = []byte("urls")

// Store opens the bbolt file backing root's index. Store itself does
// not take the cache lock; callers use Read/Write below, which do.
type Store struct {
	root string
	path string
}

// Open returns a Store bound to root, without yet opening the
// underlying file.
func Open(root string) *Store {
	return &Store{root: root, path: filepath.Join(root, fileName)}
}

// FileName returns the backing file's basename, for use by the
// consistency checker's stray-exclusion filter.
func FileName() string { return fileName }

func (s *Store) db() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening index %s", s.path)
	}
	return db, nil
}

// Snapshot is a point-in-time copy of the index; it is not authoritative
// once returned, since another process may mutate the backing store as
// soon as the caller's lock is released.
type Snapshot map[string]string

// Read takes the cache lock, copies every entry into an in-memory
// snapshot, releases the lock, and returns the snapshot.
func Read(root string, lockAttempts int) (Snapshot, error) {
	snap := make(Snapshot)
	err := lock.With(root, lockAttempts, func() error {
		s := Open(root)
		db, err := s.db()
		if err != nil {
			return err
		}
		defer db.Close()
		return db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(BucketName)
			if b == nil {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				snap[string(k)] = string(v)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Writer is the live, lock-held handle passed to the function argument
// of Write.
type Writer struct {
	db *bolt.DB
}

// Get returns the hash path mapped to url, and whether it was present.
func (w *Writer) Get(url string) (string, bool, error) {
	var path string
	var ok bool
	err := w.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketName)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(url))
		if v != nil {
			path, ok = string(v), true
		}
		return nil
	})
	return path, ok, err
}

// Set maps url to path, creating the bucket on first use.
func (w *Writer) Set(url, path string) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(BucketName)
		if err != nil {
			return errors.Wrap(err, "creating url bucket")
		}
		return b.Put([]byte(url), []byte(path))
	})
}

// Delete removes url's mapping, if present, returning its prior path.
func (w *Writer) Delete(url string) (string, bool, error) {
	path, ok, err := w.Get(url)
	if err != nil || !ok {
		return "", false, err
	}
	err = w.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketName)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(url))
	})
	return path, ok, err
}

// ForEach iterates every (url, path) pair under a read transaction.
func (w *Writer) ForEach(fn func(url, path string) error) error {
	return w.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketName)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), string(v))
		})
	})
}

// ReferenceCount returns how many url keys currently map to path.
func (w *Writer) ReferenceCount(path string) (int, error) {
	count := 0
	err := w.ForEach(func(_, p string) error {
		if p == path {
			count++
		}
		return nil
	})
	return count, err
}

// Write takes the cache lock, opens the index for read-write, runs fn
// against a live Writer, and closes everything on exit.
func Write(root string, lockAttempts int, fn func(*Writer) error) error {
	return lock.With(root, lockAttempts, func() error {
		s := Open(root)
		db, err := s.db()
		if err != nil {
			return err
		}
		defer db.Close()
		w := &Writer{db: db}
		log.WithField("root", root).Debug("opened index for write")
		return fn(w)
	})
}

// ReadUnlocked reads every entry directly, without taking the cache
// lock. Callers that already hold the lock (the consistency checker,
// running inside lock.With) must use this instead of Read, which would
// otherwise deadlock trying to acquire the same lock again.
func ReadUnlocked(root string) (Snapshot, error) {
	snap := make(Snapshot)
	s := Open(root)
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketName)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			snap[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ErrNotFound is not returned by this package: Lookup reports a
// missing entry as dlerrors.ErrCacheMiss directly.
var ErrNotFound = errors.New("no entry for url")

// Lookup is a convenience wrapper for the common read-one-entry case.
// A miss is reported as dlerrors.ErrCacheMiss; any other error means
// the cache itself was unavailable.
func Lookup(root string, lockAttempts int, url string) (string, error) {
	var path string
	err := lock.With(root, lockAttempts, func() error {
		s := Open(root)
		db, err := s.db()
		if err != nil {
			return err
		}
		defer db.Close()
		return db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(BucketName)
			if b == nil {
				return dlerrors.ErrCacheMiss
			}
			v := b.Get([]byte(url))
			if v == nil {
				return dlerrors.ErrCacheMiss
			}
			path = string(v)
			return nil
		})
	})
	return path, err
}
