package lock

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	root := t.TempDir()
	l, err := Acquire(root, 5)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, lockDirName))
	require.NoError(t, statErr)

	require.NoError(t, l.Release())
	_, statErr = os.Stat(filepath.Join(root, lockDirName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	root := t.TempDir()
	holder, err := Acquire(root, 5)
	require.NoError(t, err)
	defer holder.Release()

	_, err = Acquire(root, 2)
	assert.Error(t, err)
}

func TestReleaseIdempotent(t *testing.T) {
	root := t.TempDir()
	l, err := Acquire(root, 5)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}

func TestWithSerializesAcrossGoroutines(t *testing.T) {
	root := t.TempDir()
	var counter int64
	var wg sync.WaitGroup
	const n = 10
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := With(root, 50, func() error {
				cur := atomic.AddInt64(&counter, 1)
				assert.Equal(t, int64(1), cur)
				atomic.AddInt64(&counter, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
