// Package cachepath locates the cache root directory and probes
// filesystem free space portably.
package cachepath

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/scidata-cache/dlcache/internal/dlerrors"
)

// majorVersion namespaces the on-disk layout so an incompatible future
// revision cannot collide with data written by this one.
const majorVersion = "v1"

// Root returns the directory under baseDir that this cache version
// uses, creating it if missing. baseDir is supplied by an external
// "paths" collaborator (e.g. an OS-appropriate user cache directory);
// this package does not locate it itself.
func Root(baseDir string) (string, error) {
	root := filepath.Join(baseDir, "download", majorVersion)
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
			return "", errors.Wrapf(dlerrors.ErrCacheUnavailable, "create cache root %s: %v", root, mkErr)
		}
		return root, nil
	}
	if err != nil {
		return "", errors.Wrapf(dlerrors.ErrCacheUnavailable, "stat cache root %s: %v", root, err)
	}
	if !info.IsDir() {
		return "", errors.Wrapf(dlerrors.ErrCacheUnavailable, "%s exists and is not a directory", root)
	}
	return root, nil
}

// RequireFree fails with ErrInsufficientSpace when fewer than n bytes
// are free on the filesystem containing path.
func RequireFree(path string, n uint64) error {
	free, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if free < n {
		return errors.Wrapf(dlerrors.ErrInsufficientSpace, "%s has %d bytes free, need %d", path, free, n)
	}
	return nil
}
