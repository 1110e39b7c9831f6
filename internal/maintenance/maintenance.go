// Package maintenance implements cache-wide and targeted removal:
// clear by URL, by hash/path, or the entire cache tree.
package maintenance

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/index"
	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("maintenance")

// ClearAll removes the entire cache directory tree.
func ClearAll(root string) error {
	if err := os.RemoveAll(root); err != nil {
		log.WithError(err).Warn("cache missing or unremovable")
		return nil
	}
	return nil
}

// ClearURL pops url's mapping and, if no other URL now references its
// blob, unlinks the blob. Absent URLs succeed silently. A lock-busy
// cache degrades to a logged warning and a nil error; any other failure
// (index corruption, a blob that couldn't be removed) is returned.
func ClearURL(root string, lockAttempts int, url string) error {
	err := index.Write(root, lockAttempts, func(w *index.Writer) error {
		path, ok, derr := w.Delete(url)
		if derr != nil || !ok {
			return derr
		}
		refs, cerr := w.ReferenceCount(path)
		if cerr != nil {
			return cerr
		}
		if refs == 0 {
			if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
				return errors.Wrapf(rerr, "removing blob %s", path)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, dlerrors.ErrLockTimeout) {
			log.WithError(err).Warn("could not acquire cache lock to clear url")
			return nil
		}
		return err
	}
	return nil
}

// ClearHashOrPath removes every URL mapping pointing at the blob named
// by hashOrPath (a bare hex digest or an absolute path inside root),
// then unlinks the blob. A path outside root fails with
// ErrOutsideCache. A lock-busy cache degrades to a logged warning and a
// nil error; any other failure is returned.
func ClearHashOrPath(root string, lockAttempts int, hashOrPath string) error {
	path := hashOrPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, hashOrPath)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrap(err, "resolving cache root")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolving target path")
	}
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) && absPath != absRoot {
		return errors.Wrapf(dlerrors.ErrOutsideCache, "%s is outside %s", absPath, absRoot)
	}

	werr := index.Write(root, lockAttempts, func(w *index.Writer) error {
		var toDelete []string
		if ferr := w.ForEach(func(u, p string) error {
			if p == absPath {
				toDelete = append(toDelete, u)
			}
			return nil
		}); ferr != nil {
			return ferr
		}
		for _, u := range toDelete {
			if _, _, derr := w.Delete(u); derr != nil {
				return derr
			}
		}
		if rerr := os.Remove(absPath); rerr != nil && !os.IsNotExist(rerr) {
			return errors.Wrapf(rerr, "removing blob %s", absPath)
		}
		return nil
	})
	if werr != nil {
		if errors.Is(werr, dlerrors.ErrLockTimeout) {
			log.WithError(werr).Warn("could not acquire cache lock to clear hash")
			return nil
		}
		return werr
	}
	return nil
}

// CachedURLs returns every URL currently present in the index.
func CachedURLs(root string, lockAttempts int) ([]string, error) {
	snap, err := index.Read(root, lockAttempts)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(snap))
	for u := range snap {
		urls = append(urls, u)
	}
	return urls, nil
}

// Contents returns the full url -> path snapshot.
func Contents(root string, lockAttempts int) (index.Snapshot, error) {
	return index.Read(root, lockAttempts)
}
