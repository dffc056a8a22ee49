//go:build linux

package device

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errnos returned once the interface has been torn down underneath us.
var fatalErrnos = []unix.Errno{unix.EBADF, unix.EBADFD, unix.ENODEV, unix.ENXIO, unix.EIO}

func isFatalErrno(err error) bool {
	for _, errno := range fatalErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
