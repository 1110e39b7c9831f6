//go:build darwin || dragonfly || freebsd || linux

package cachepath

import (
	"syscall"

	"github.com/pkg/errors"
)

// FreeBytes returns the number of bytes available to an unprivileged
// user on the filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	var s syscall.Statfs_t
	if err := syscall.Statfs(path, &s); err != nil {
		return 0, errors.Wrap(err, "failed to read disk usage")
	}
	bs := uint64(s.Bsize)
	return bs * uint64(s.Bavail), nil
}
