//go:build windows

package cachepath

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
)

var getFreeDiskSpace = syscall.NewLazyDLL("kernel32.dll").NewProc("GetDiskFreeSpaceExW")

// FreeBytes returns the number of bytes available to the current user
// on the volume containing path.
func FreeBytes(path string) (uint64, error) {
	var available, total, free int64
	_, _, e1 := getFreeDiskSpace.Call(
		uintptr(unsafe.Pointer(syscall.StringToUTF16Ptr(path))),
		uintptr(unsafe.Pointer(&available)),
		uintptr(unsafe.Pointer(&total)),
		uintptr(unsafe.Pointer(&free)),
	)
	if e1 != syscall.Errno(0) {
		return 0, errors.Wrap(e1, "failed to read disk usage")
	}
	return uint64(available), nil
}
