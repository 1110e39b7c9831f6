// Package dlcache implements a content-addressed download cache for
// scientific data artifacts: given a URL, it returns a local path to
// the byte-identical remote content, deduplicating identical payloads
// across distinct URLs and serializing concurrent writers of a shared
// on-disk cache through a directory-creation lock.
package dlcache

import (
	"context"

	"github.com/scidata-cache/dlcache/internal/archive"
	"github.com/scidata-cache/dlcache/internal/cachepath"
	"github.com/scidata-cache/dlcache/internal/check"
	"github.com/scidata-cache/dlcache/internal/config"
	"github.com/scidata-cache/dlcache/internal/decompress"
	"github.com/scidata-cache/dlcache/internal/fetch"
	"github.com/scidata-cache/dlcache/internal/maintenance"
	"github.com/scidata-cache/dlcache/internal/parallel"
	"github.com/scidata-cache/dlcache/internal/tempreg"
)

// Cache is the entry point to every operation this package exposes. Its
// zero value is not valid; construct one with Open.
type Cache struct {
	Root   string
	Config *config.Config

	client     *fetch.Client
	downloader *parallel.Downloader
}

// Open locates (and if necessary creates) the cache root under baseDir
// — an OS-appropriate user cache directory supplied by the caller —
// and returns a ready-to-use Cache. baseDir resolution itself is out of
// scope here; callers typically pass os.UserCacheDir()'s result or
// equivalent.
func Open(baseDir string, opts ...config.Option) (*Cache, error) {
	cfg := config.Apply(opts...)
	root, err := cachepath.Root(baseDir)
	if err != nil {
		return nil, err
	}
	client := fetch.NewClient(root, cfg)
	return &Cache{
		Root:       root,
		Config:     cfg,
		client:     client,
		downloader: parallel.New(client, cfg.Workers),
	}, nil
}

// DownloadOptions is an alias of fetch.Options at the package boundary,
// so callers don't need to import internal/fetch.
type DownloadOptions = fetch.Options

// Download resolves remoteURL to a local path.
func (c *Cache) Download(ctx context.Context, remoteURL string, opts DownloadOptions) (string, error) {
	return c.client.Download(ctx, remoteURL, opts)
}

// Request is one URL (with optional per-URL sources) for DownloadAll.
type Request = parallel.Request

// DownloadAll fans out downloads for reqs across a bounded worker pool,
// deduplicating URLs and preserving input order in the result.
func (c *Cache) DownloadAll(ctx context.Context, reqs []Request) ([]string, error) {
	return c.downloader.DownloadAll(ctx, reqs)
}

// Clear removes target from the cache: "" clears the entire tree, a
// URL clears that mapping (and its blob if now unreferenced), and a hex
// digest or absolute path clears by blob identity.
func (c *Cache) Clear(target string) error {
	if target == "" {
		return maintenance.ClearAll(c.Root)
	}
	if looksLikeURL(target) {
		return maintenance.ClearURL(c.Root, c.Config.LockAttempts, target)
	}
	return maintenance.ClearHashOrPath(c.Root, c.Config.LockAttempts, target)
}

func looksLikeURL(s string) bool {
	for _, scheme := range []string{"http://", "https://", "file://", "ftp://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return true
		}
	}
	return false
}

// CachedURLs returns every URL currently present in the index.
func (c *Cache) CachedURLs() ([]string, error) {
	return maintenance.CachedURLs(c.Root, c.Config.LockAttempts)
}

// Contents returns the full url -> local path snapshot.
func (c *Cache) Contents() (map[string]string, error) {
	snap, err := maintenance.Contents(c.Root, c.Config.LockAttempts)
	return map[string]string(snap), err
}

// IsCached reports whether url has a current mapping.
func (c *Cache) IsCached(url string) (bool, error) {
	contents, err := c.Contents()
	if err != nil {
		return false, err
	}
	_, ok := contents[url]
	return ok, nil
}

// Export packs urls (all cached URLs if nil) into a ZIP archive at
// filename, ensuring each is downloaded first.
func (c *Cache) Export(ctx context.Context, filename string, urls []string) error {
	return archive.Export(ctx, c.client, c.Config.LockAttempts, filename, urls)
}

// Import unpacks selected urls (all manifest entries if nil) from the
// archive at filename into the cache.
func (c *Cache) Import(ctx context.Context, filename string, urls []string, updateCache bool) error {
	return archive.Import(ctx, c.Root, c.Config.LockAttempts, c.Config.HashBlockSize, filename, urls, updateCache)
}

// Check runs the consistency checker over the cache, optionally
// rehashing every blob.
func (c *Cache) Check(checkHashes bool) (*check.Result, error) {
	return check.Run(c.Root, c.Config.LockAttempts, c.Config.HashBlockSize, checkHashes)
}

// Decompress opens path and returns a transparently-decoding reader
// over its content.
func (c *Cache) Decompress(path string, opts decompress.Options) (*decompress.Reader, error) {
	return decompress.Open(path, opts)
}

// Close drains the temp-file registry, best-effort deleting any
// uncached download temp files created during this process's lifetime.
// Callers embedding a Cache in a longer-lived program should call this
// before exit.
func (c *Cache) Close() error {
	tempreg.Drain()
	return nil
}
