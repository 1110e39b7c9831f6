// Package check implements the cache consistency checker: dangling
// references, misplaced blobs, optional hash mismatches, and strays.
package check

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/hasher"
	"github.com/scidata-cache/dlcache/internal/index"
	"github.com/scidata-cache/dlcache/internal/lock"
	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("check")

const lockDirName = "lock"

// Result is the outcome of a successful consistency check: the files
// present in root that the index does not reference and that are not
// part of the index's own backing storage.
type Result struct {
	Strays []string
}

// Run checks root's consistency under a write lock. If checkHashes is
// true, every blob's content is rehashed and compared to its filename.
// The first integrity violation found aborts the check with a
// descriptive error naming the offending entry; otherwise Run returns
// the stray file list.
func Run(root string, lockAttempts, hashBlockSize int, checkHashes bool) (*Result, error) {
	var result *Result
	err := lock.With(root, lockAttempts, func() error {
		entries, err := os.ReadDir(root)
		if err != nil {
			return errors.Wrapf(err, "listing cache root %s", root)
		}

		stray := make(map[string]bool, len(entries))
		for _, e := range entries {
			stray[e.Name()] = true
		}

		// The index's backing store is opaque: some KV backends grow
		// companion files sharing its base name (a WAL, a backup), so
		// exclude by prefix rather than exact name.
		indexPrefix := index.FileName()
		for name := range stray {
			if strings.HasPrefix(name, indexPrefix) {
				delete(stray, name)
			}
		}
		if !stray[lockDirName] {
			return errors.Wrapf(dlerrors.ErrLockMissing, "%s", filepath.Join(root, lockDirName))
		}
		delete(stray, lockDirName)

		snap, err := index.ReadUnlocked(root)
		if err != nil {
			return err
		}

		for url, path := range snap {
			_, statErr := os.Stat(path)
			if statErr != nil {
				return errors.Wrapf(dlerrors.ErrDanglingReference, "%s -> %s", url, path)
			}
			if filepath.Dir(path) != root {
				return errors.Wrapf(dlerrors.ErrMisplacedBlob, "%s -> %s", url, path)
			}
			if checkHashes {
				digest, herr := hasher.FileHexDigest(path, hashBlockSize)
				if herr != nil {
					return herr
				}
				if digest != filepath.Base(path) {
					return errors.Wrapf(dlerrors.ErrHashMismatch, "%s: expected %s, got %s", path, filepath.Base(path), digest)
				}
			}
			delete(stray, filepath.Base(path))
		}

		strays := make([]string, 0, len(stray))
		for name := range stray {
			strays = append(strays, name)
		}
		result = &Result{Strays: strays}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithField("strays", len(result.Strays)).Debug("consistency check complete")
	return result, nil
}
