package hasher

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexDigestMatchesStdlib(t *testing.T) {
	payload := "Test data; doesn't matter much.\n"
	sum := md5.Sum([]byte(payload)) //nolint:gosec
	want := hex.EncodeToString(sum[:])

	got, err := HexDigest(strings.NewReader(payload), 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHexDigestSmallBlockSize(t *testing.T) {
	payload := strings.Repeat("abc", 1000)
	got, err := HexDigest(strings.NewReader(payload), 7)
	require.NoError(t, err)

	sum := md5.Sum([]byte(payload)) //nolint:gosec
	assert.Equal(t, hex.EncodeToString(sum[:]), got)
}

func TestFileHexDigest(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(p, []byte("CONTENT\n"), 0o644))

	got, err := FileHexDigest(p, 0)
	require.NoError(t, err)

	sum := md5.Sum([]byte("CONTENT\n")) //nolint:gosec
	assert.Equal(t, hex.EncodeToString(sum[:]), got)
}

func TestStreamHasherMatchesHexDigest(t *testing.T) {
	payload := "Test data; doesn't matter much.\n"
	sh := NewStreamHasher()
	_, err := sh.Write([]byte(payload))
	require.NoError(t, err)

	want, err := HexDigest(strings.NewReader(payload), 0)
	require.NoError(t, err)
	assert.Equal(t, want, sh.HexDigest())
}

func TestDuplicatePayloadsSameDigest(t *testing.T) {
	payload := "Test data; doesn't matter much.\n"
	a, err := HexDigest(strings.NewReader(payload), 0)
	require.NoError(t, err)
	b, err := HexDigest(strings.NewReader(payload), 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
