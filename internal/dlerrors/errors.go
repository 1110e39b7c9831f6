// Package dlerrors defines the sentinel error values shared across the
// cache, distinguished by errors.Is/errors.Cause rather than string
// matching.
package dlerrors

import "github.com/pkg/errors"

// Sentinel errors returned (possibly wrapped) by cache operations.
var (
	// ErrCacheMiss indicates the requested URL has no entry in the index.
	// Callers treat this as a warning-level condition, not a failure.
	ErrCacheMiss = errors.New("not found in cache")

	// ErrLockTimeout indicates the cache lock could not be acquired
	// within the configured number of attempts.
	ErrLockTimeout = errors.New("timed out waiting for cache lock")

	// ErrOutsideCache indicates a path supplied to a maintenance
	// operation does not resolve inside the cache root.
	ErrOutsideCache = errors.New("path is outside the cache directory")

	// ErrCorruptArchive indicates an imported archive entry failed its
	// digest check, or the archive's manifest is malformed.
	ErrCorruptArchive = errors.New("corrupt cache archive")

	// ErrUnsupportedCompression indicates a sniffed codec has no decoder
	// wired in this build.
	ErrUnsupportedCompression = errors.New("unsupported compression format")

	// ErrInsufficientSpace indicates a free-space probe found fewer
	// bytes available than a pending write requires.
	ErrInsufficientSpace = errors.New("insufficient free space")

	// ErrArgument indicates a caller-supplied argument combination is
	// invalid.
	ErrArgument = errors.New("invalid argument")

	// ErrAllSourcesFailed indicates every candidate source in a download
	// failed; it is chained to the first source's error.
	ErrAllSourcesFailed = errors.New("all sources failed")

	// ErrDanglingReference indicates an index entry points at a path
	// that no longer exists.
	ErrDanglingReference = errors.New("index entry points at a missing file")

	// ErrMisplacedBlob indicates an index entry points at a path outside
	// the cache root.
	ErrMisplacedBlob = errors.New("index entry points outside the cache root")

	// ErrHashMismatch indicates a blob's recomputed digest disagrees
	// with its filename.
	ErrHashMismatch = errors.New("blob content does not match its digest")

	// ErrLockMissing indicates the lock directory itself is absent
	// during a consistency check, which should never happen while the
	// check holds the write lock.
	ErrLockMissing = errors.New("cache lock directory is missing")

	// ErrCacheUnavailable indicates the cache root exists but is not a
	// directory, or cannot be created.
	ErrCacheUnavailable = errors.New("cache root is unavailable")
)
