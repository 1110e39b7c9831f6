package tempreg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDisabledIsNoop(t *testing.T) {
	paths = nil
	Register("/nonexistent/path", false)
	assert.Empty(t, Pending())
}

func TestDrainRemovesFiles(t *testing.T) {
	paths = nil
	dir := t.TempDir()
	p := filepath.Join(dir, "temp123")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	Register(p, true)
	assert.Contains(t, Pending(), p)

	Drain()
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, Pending())
}

func TestDrainToleratesMissingFile(t *testing.T) {
	paths = nil
	Register(filepath.Join(t.TempDir(), "already-gone"), true)
	assert.NotPanics(t, Drain)
}
