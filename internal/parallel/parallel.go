// Package parallel fans out download engine calls across a bounded
// worker pool, deduplicating URLs and preserving caller order.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/scidata-cache/dlcache/internal/fetch"
	"github.com/scidata-cache/dlcache/internal/logging"
)

var log = logging.For("parallel")

// Request is one URL to download, with its own optional source list and
// the caller's cache preference. Cache=false is coerced to
// cache=true/update_cache=true (see DownloadAll) since worker goroutines
// have no way to hand an uncached temp file back to the caller's
// temp-file registry.
type Request struct {
	URL     string
	Sources []string
	Cache   bool
}

// Downloader runs many fetch.Client.Download calls concurrently.
type Downloader struct {
	client  *fetch.Client
	workers int
}

// New returns a Downloader bound to client, bounded to workers
// concurrent downloads (at least 1).
func New(client *fetch.Client, workers int) *Downloader {
	if workers <= 0 {
		workers = 1
	}
	return &Downloader{client: client, workers: workers}
}

// DownloadAll deduplicates reqs by URL (first occurrence wins its
// Sources and Cache), downloads each exactly once, and returns a path
// (or error) per original request in input order. A request with
// Cache=false is coerced to cache=true, update_cache=true, with a
// logged warning: worker goroutines cannot hand back temp files to the
// caller's registry for cleanup, so every result here is always cached.
func (d *Downloader) DownloadAll(ctx context.Context, reqs []Request) ([]string, error) {
	order := make([]string, len(reqs))
	first := make(map[string]int, len(reqs))
	unique := make([]Request, 0, len(reqs))
	for i, r := range reqs {
		order[i] = r.URL
		if _, seen := first[r.URL]; !seen {
			first[r.URL] = len(unique)
			unique = append(unique, r)
		}
	}

	results := make([]string, len(unique))
	errs := make([]error, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i, r := range unique {
		i, r := i, r
		if !r.Cache {
			log.WithField("url", r.URL).Warn("parallel downloader ignores cache=false; coercing to cache=true, update_cache=true")
		}
		g.Go(func() error {
			path, err := d.client.Download(gctx, r.URL, fetch.Options{
				Cache:       true,
				UpdateCache: !r.Cache,
				Sources:     r.Sources,
			})
			results[i] = path
			errs[i] = err
			return err
		})
	}

	waitErr := g.Wait()

	out := make([]string, len(order))
	for i, url := range order {
		idx := first[url]
		out[i] = results[idx]
	}
	if waitErr != nil {
		for i, r := range unique {
			if errs[i] != nil {
				log.WithField("url", r.URL).WithError(errs[i]).Debug("parallel download failed")
			}
		}
		return out, waitErr
	}
	return out, nil
}
