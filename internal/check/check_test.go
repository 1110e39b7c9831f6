package check

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/index"
	"github.com/scidata-cache/dlcache/internal/lock"
)

func TestRunCleanCacheHasNoStrays(t *testing.T) {
	root := t.TempDir()
	blob := filepath.Join(root, "abc123")
	require.NoError(t, os.WriteFile(blob, []byte("x"), 0o644))
	require.NoError(t, index.Write(root, 5, func(w *index.Writer) error {
		return w.Set("u", blob)
	}))

	res, err := Run(root, 5, 0, false)
	require.NoError(t, err)
	assert.Empty(t, res.Strays)
}

func TestRunReportsStray(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, index.Write(root, 5, func(w *index.Writer) error { return nil }))
	stray := filepath.Join(root, "orphan")
	require.NoError(t, os.WriteFile(stray, []byte("y"), 0o644))

	res, err := Run(root, 5, 0, false)
	require.NoError(t, err)
	assert.Contains(t, res.Strays, "orphan")
}

func TestRunDetectsDanglingReference(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, index.Write(root, 5, func(w *index.Writer) error {
		return w.Set("u", filepath.Join(root, "missing"))
	}))

	_, err := Run(root, 5, 0, false)
	assert.ErrorIs(t, err, dlerrors.ErrDanglingReference)
}

func TestRunDetectsMisplacedBlob(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	blob := filepath.Join(outside, "elsewhere")
	require.NoError(t, os.WriteFile(blob, []byte("z"), 0o644))
	require.NoError(t, index.Write(root, 5, func(w *index.Writer) error {
		return w.Set("u", blob)
	}))

	_, err := Run(root, 5, 0, false)
	assert.ErrorIs(t, err, dlerrors.ErrMisplacedBlob)
}

func TestRunDetectsHashMismatch(t *testing.T) {
	root := t.TempDir()
	blob := filepath.Join(root, "deadbeef")
	require.NoError(t, os.WriteFile(blob, []byte("not matching"), 0o644))
	require.NoError(t, index.Write(root, 5, func(w *index.Writer) error {
		return w.Set("u", blob)
	}))

	_, err := Run(root, 5, 0, true)
	assert.ErrorIs(t, err, dlerrors.ErrHashMismatch)
}

func TestRunSucceedsAfterLockAcquireRelease(t *testing.T) {
	root := t.TempDir()
	l, err := lock.Acquire(root, 5)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	// Run itself re-acquires the lock; simulate "lock missing at the
	// moment of listing" by removing after acquisition is impossible to
	// orchestrate directly here, so instead assert the ordinary path:
	// a freshly created cache root with the lock present round-trips.
	res, err := Run(root, 5, 0, false)
	require.NoError(t, err)
	assert.Empty(t, res.Strays)
}
