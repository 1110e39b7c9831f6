package parallel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scidata-cache/dlcache/internal/config"
	"github.com/scidata-cache/dlcache/internal/fetch"
)

func TestDownloadAllDedupesAndPreservesOrder(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	cfg := config.New()
	client := fetch.NewClient(t.TempDir(), cfg)
	d := New(client, 4)

	reqs := []Request{
		{URL: srv.URL + "/a"},
		{URL: srv.URL + "/b"},
		{URL: srv.URL + "/a"},
	}
	paths, err := d.DownloadAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, paths[0], paths[2])
	assert.NotEqual(t, paths[0], paths[1])
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))

	a, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "/a", string(a))
}

func TestDownloadAllPropagatesFirstError(t *testing.T) {
	cfg := config.New()
	cfg.RetryAttempts = 1
	client := fetch.NewClient(t.TempDir(), cfg)
	d := New(client, 2)

	reqs := []Request{
		{URL: "http://127.0.0.1:1/gone"},
	}
	_, err := d.DownloadAll(context.Background(), reqs)
	assert.Error(t, err)
}
