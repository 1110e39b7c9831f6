// Package config holds the runtime-tunable knobs threaded explicitly
// through the cache, rather than read from package-level globals at
// arbitrary call depth.
package config

import (
	"runtime"
	"time"
)

// Config collects every tunable exposed to callers. Zero value is not
// meaningful; use New for defaults.
type Config struct {
	// DataURL and MirrorURL are consulted by package-data URL helpers
	// built on top of this cache; the cache itself never reads them.
	DataURL   string
	MirrorURL string

	// RemoteTimeout bounds a single source's network read.
	RemoteTimeout time.Duration

	// HashBlockSize is the read chunk size used while computing MD5.
	HashBlockSize int

	// DownloadBlockSize is the read chunk size used while streaming a
	// download to its temp file.
	DownloadBlockSize int

	// LockAttempts is the number of polls attempted before a lock
	// acquisition fails with ErrLockTimeout. This counts polls, not
	// elapsed time.
	LockAttempts int

	// DeleteTempDownloadsAtExit controls whether uncached download temp
	// files are registered for best-effort cleanup at process exit.
	DeleteTempDownloadsAtExit bool

	// Workers bounds the parallel downloader's worker pool.
	Workers int

	// RetryMinSleep, RetryMaxSleep and RetryDecayConstant parametrize
	// the backoff pacer gating retried network attempts.
	RetryMinSleep     time.Duration
	RetryMaxSleep     time.Duration
	RetryDecayConstant uint
	RetryAttempts     int
}

// New returns a Config populated with the documented defaults.
func New() *Config {
	return &Config{
		RemoteTimeout:             10 * time.Second,
		HashBlockSize:             64 * 1024,
		DownloadBlockSize:         64 * 1024,
		LockAttempts:              5,
		DeleteTempDownloadsAtExit: true,
		Workers:                   runtime.NumCPU(),
		RetryMinSleep:             10 * time.Millisecond,
		RetryMaxSleep:             2 * time.Second,
		RetryDecayConstant:        2,
		RetryAttempts:             3,
	}
}

// Option mutates a Config constructed by New.
type Option func(*Config)

// WithWorkers overrides the parallel downloader's pool size.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithRemoteTimeout overrides the per-source network timeout.
func WithRemoteTimeout(d time.Duration) Option {
	return func(c *Config) { c.RemoteTimeout = d }
}

// WithLockAttempts overrides the lock poll count.
func WithLockAttempts(n int) Option {
	return func(c *Config) { c.LockAttempts = n }
}

// Apply returns a new Config built from defaults with the given options
// applied in order.
func Apply(opts ...Option) *Config {
	c := New()
	for _, opt := range opts {
		opt(c)
	}
	return c
}
