package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scidata-cache/dlcache/internal/config"
	"github.com/scidata-cache/dlcache/internal/fetch"
	"github.com/scidata-cache/dlcache/internal/index"
	"github.com/scidata-cache/dlcache/internal/maintenance"
)

func TestExportThenClearThenImportIsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body:" + r.URL.Path))
	}))
	defer srv.Close()

	root := t.TempDir()
	cfg := config.New()
	client := fetch.NewClient(root, cfg)

	u1 := srv.URL + "/one"
	u2 := srv.URL + "/two"
	_, err := client.Download(context.Background(), u1, fetch.Options{Cache: true})
	require.NoError(t, err)
	_, err = client.Download(context.Background(), u2, fetch.Options{Cache: true})
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "snapshot.zip")
	require.NoError(t, Export(context.Background(), client, cfg.LockAttempts, archivePath, []string{u1, u2}))

	require.NoError(t, maintenance.ClearAll(root))

	require.NoError(t, Import(context.Background(), root, cfg.LockAttempts, cfg.HashBlockSize, archivePath, []string{u1}, false))

	_, err = index.Lookup(root, cfg.LockAttempts, u1)
	assert.NoError(t, err)
	_, err = index.Lookup(root, cfg.LockAttempts, u2)
	assert.Error(t, err)
}

func TestImportSkipsAlreadyCachedWithoutUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("v1"))
	}))
	defer srv.Close()

	root := t.TempDir()
	cfg := config.New()
	client := fetch.NewClient(root, cfg)

	u := srv.URL + "/x"
	path1, err := client.Download(context.Background(), u, fetch.Options{Cache: true})
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, Export(context.Background(), client, cfg.LockAttempts, archivePath, []string{u}))

	require.NoError(t, Import(context.Background(), root, cfg.LockAttempts, cfg.HashBlockSize, archivePath, []string{u}, false))

	path2, err := index.Lookup(root, cfg.LockAttempts, u)
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
}
