package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scidata-cache/dlcache/internal/config"
	"github.com/scidata-cache/dlcache/internal/dlerrors"
	"github.com/scidata-cache/dlcache/internal/index"
	"github.com/scidata-cache/dlcache/internal/tempreg"
)

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.New()
	cfg.RetryAttempts = 1
	return NewClient(root, cfg), root
}

func TestDownloadPrimarySource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("primary"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t)
	path, err := c.Download(context.Background(), srv.URL, Options{Cache: true, Sources: []string{srv.URL}})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "primary", string(data))
}

func TestDownloadFallsBackToSecondSource(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fallback1"))
	}))
	defer good.Close()

	c, _ := newTestClient(t)
	missing := "http://127.0.0.1:1/does-not-exist"
	path, err := c.Download(context.Background(), good.URL, Options{
		Cache:   true,
		Sources: []string{missing, good.URL},
	})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fallback1", string(data))

	_, lookupErr := index.Lookup(c.Root, c.Cfg.LockAttempts, missing)
	assert.Error(t, lookupErr)
}

func TestDownloadAllSourcesFail(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Download(context.Background(), "http://127.0.0.1:1/a", Options{
		Cache:   true,
		Sources: []string{"http://127.0.0.1:1/a", "http://127.0.0.1:1/b"},
	})
	assert.ErrorIs(t, err, dlerrors.ErrAllSourcesFailed)
}

func TestDownloadEmptySourcesIsArgumentError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Download(context.Background(), "http://example.com", Options{Cache: true, Sources: []string{}})
	assert.ErrorIs(t, err, dlerrors.ErrArgument)
}

func TestDownloadUpdateCacheWithoutCacheIsArgumentError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Download(context.Background(), "http://example.com", Options{UpdateCache: true})
	assert.ErrorIs(t, err, dlerrors.ErrArgument)
}

func TestDownloadIdempotentOnCacheHit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("once"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t)
	first, err := c.Download(context.Background(), srv.URL, Options{Cache: true})
	require.NoError(t, err)

	second, err := c.Download(context.Background(), srv.URL, Options{Cache: true})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestDownloadDuplicatePayloadsShareBlob(t *testing.T) {
	payload := "Test data; doesn't matter much.\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c, _ := newTestClient(t)
	p1, err := c.Download(context.Background(), srv.URL+"/a", Options{Cache: true, Sources: []string{srv.URL}})
	require.NoError(t, err)
	p2, err := c.Download(context.Background(), srv.URL+"/b", Options{Cache: true, Sources: []string{srv.URL}})
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, filepath.Dir(p1), filepath.Dir(p2))
}

func TestDownloadWithoutCacheRegistersTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("uncached"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t)
	path, err := c.Download(context.Background(), srv.URL, Options{Cache: false})
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
	assert.Contains(t, tempreg.Pending(), path)
}
