// Package fetch implements the download engine: streamed fetch with
// timeout and multi-source fallback, hashing, free-space checks, and
// atomic promotion into the cache.
package fetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/scidata-cache/dlcache/internal/cachepath"
	"github.com/scidata-cache/dlcache/internal/config"
	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/hasher"
	"github.com/scidata-cache/dlcache/internal/index"
	"github.com/scidata-cache/dlcache/internal/logging"
	"github.com/scidata-cache/dlcache/internal/pacer"
	"github.com/scidata-cache/dlcache/internal/tempreg"
)

var log = logging.For("download")

// ProgressFunc is invoked after every block written, with the number of
// bytes written so far and the total if known (0 if not).
type ProgressFunc func(written, total int64)

// Options parametrizes a single Download call.
type Options struct {
	Cache        bool
	Sources      []string
	UpdateCache  bool
	ShowProgress bool
	OnProgress   ProgressFunc
}

// Client carries everything a Download needs beyond the URL and
// per-call Options: the cache root, configuration, and an HTTP client
// reused across calls.
type Client struct {
	Root  string
	Cfg   *config.Config
	HTTP  *http.Client
	pacer *pacer.Pacer
}

// NewClient returns a Client bound to root using cfg's tunables.
func NewClient(root string, cfg *config.Config) *Client {
	return &Client{
		Root: root,
		Cfg:  cfg,
		HTTP: &http.Client{Timeout: cfg.RemoteTimeout},
		pacer: pacer.New(cfg),
	}
}

// Download resolves remoteURL to a local path, following the rules
// documented for the download engine: cache fast path, cache-missing
// degrade, ordered source fallback, and atomic promotion.
func (c *Client) Download(ctx context.Context, remoteURL string, opts Options) (string, error) {
	sources := opts.Sources
	if sources == nil {
		sources = []string{remoteURL}
	} else if len(sources) == 0 {
		return "", errors.Wrap(dlerrors.ErrArgument, "sources must not be empty")
	}
	if opts.UpdateCache && !opts.Cache {
		return "", errors.Wrap(dlerrors.ErrArgument, "update_cache requires cache")
	}

	cache := opts.Cache
	updateCache := opts.UpdateCache

	// Probe index availability up front regardless of updateCache: a
	// missing/unreadable index must degrade to an uncached download the
	// same way whether or not the caller is forcing a re-download, the
	// way download_file's surrounding except OSError covers its whole
	// cache block irrespective of update_cache.
	if cache && !updateCache {
		path, err := index.Lookup(c.Root, c.Cfg.LockAttempts, remoteURL)
		switch {
		case err == nil:
			log.WithField("url", remoteURL).Debug("cache hit")
			return path, nil
		case errors.Is(err, dlerrors.ErrCacheMiss):
			// fall through to fetch loop
		default:
			log.WithError(err).Warn("cache unavailable, downloading without caching")
			cache, updateCache = false, false
		}
	} else if cache && updateCache {
		if _, err := index.Read(c.Root, c.Cfg.LockAttempts); err != nil {
			log.WithError(err).Warn("cache unavailable, downloading without caching")
			cache, updateCache = false, false
		}
	}

	var firstErr error
	for i, src := range sources {
		path, err := c.fetchOne(ctx, src, cache, opts.OnProgress)
		if err == nil {
			if cache {
				final, perr := c.promote(remoteURL, path)
				if perr != nil {
					return "", perr
				}
				return final, nil
			}
			if c.Cfg.DeleteTempDownloadsAtExit {
				tempreg.Register(path, true)
			}
			return path, nil
		}
		log.WithField("source", src).WithError(err).Debug("source failed")
		if i == 0 {
			firstErr = err
		}
	}
	return "", errors.Wrapf(dlerrors.ErrAllSourcesFailed, "%v (first source error: %v)", sources, firstErr)
}

// fetchOne streams a single source into a fresh temp file, retried via
// the pacer for transient failures, returning the temp file's path on
// success. The temp file is removed on any failure.
func (c *Client) fetchOne(ctx context.Context, src string, cache bool, onProgress ProgressFunc) (string, error) {
	dir := os.TempDir()
	if cache {
		dir = c.Root
	}

	var tmpPath string
	err := c.pacer.Call(ctx, func() error {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
			tmpPath = ""
		}
		p, err := c.streamToTemp(ctx, src, dir, onProgress)
		if err != nil {
			return err
		}
		tmpPath = p
		return nil
	})
	if err != nil {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
		return "", err
	}
	return tmpPath, nil
}

func (c *Client) streamToTemp(ctx context.Context, src, dir string, onProgress ProgressFunc) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", errors.Wrapf(err, "building request for %s", src)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetching %s", src)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &pacer.HTTPStatusError{URL: src, StatusCode: resp.StatusCode}
	}

	var total int64
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			total = n
		}
	}
	if total > 0 {
		if err := cachepath.RequireFree(os.TempDir(), uint64(total)); err != nil {
			return "", err
		}
		if dir != os.TempDir() {
			if err := cachepath.RequireFree(dir, uint64(total)); err != nil {
				return "", err
			}
		}
	}

	tmp, err := os.CreateTemp(dir, "dlcache-*.part")
	if err != nil {
		return "", errors.Wrap(err, "creating temp file")
	}
	defer tmp.Close()

	blockSize := c.Cfg.DownloadBlockSize
	if blockSize <= 0 {
		blockSize = hasher.DefaultBlockSize
	}
	buf := make([]byte, blockSize)
	var written int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				_ = os.Remove(tmp.Name())
				return "", errors.Wrap(werr, "writing temp file")
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = os.Remove(tmp.Name())
			return "", errors.Wrapf(rerr, "reading body of %s", src)
		}
	}

	log.WithFields(map[string]interface{}{
		"source": src,
		"bytes":  humanize.Bytes(uint64(written)),
	}).Debug("download complete")

	return tmp.Name(), nil
}

// promote moves tmpPath into <root>/<digest> under the write lock,
// updating the index before removing any now-superseded prior blob, so
// a crash mid-promotion never leaves the index pointing at a missing
// file (the ordering fix described for the update_cache race).
func (c *Client) promote(url, tmpPath string) (string, error) {
	digest, err := hasher.FileHexDigest(tmpPath, c.Cfg.HashBlockSize)
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	finalPath := filepath.Join(c.Root, digest)

	var result string
	err = index.Write(c.Root, c.Cfg.LockAttempts, func(w *index.Writer) error {
		prior, hadPrior, gerr := w.Get(url)
		if gerr != nil {
			return gerr
		}

		if _, statErr := os.Stat(finalPath); statErr != nil {
			if renameErr := os.Rename(tmpPath, finalPath); renameErr != nil {
				return errors.Wrapf(renameErr, "promoting %s", tmpPath)
			}
		} else {
			// identical content already present under another URL
			_ = os.Remove(tmpPath)
		}

		if serr := w.Set(url, finalPath); serr != nil {
			return serr
		}

		if hadPrior && prior != finalPath {
			refs, cerr := w.ReferenceCount(prior)
			if cerr != nil {
				return cerr
			}
			if refs == 0 {
				if rerr := os.Remove(prior); rerr != nil && !os.IsNotExist(rerr) {
					log.WithField("path", prior).WithError(rerr).Warn("could not remove superseded blob")
				}
			}
		}

		result = finalPath
		return nil
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return result, nil
}
