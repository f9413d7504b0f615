//go:build darwin

package datapool

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens path buffered, then asks the kernel to bypass the
// unified buffer cache for this file descriptor via fcntl(F_NOCACHE).
// Darwin has no O_DIRECT; F_NOCACHE is its closest equivalent.
func openDirect(path string) (*os.File, bool, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, false, err
	}
	if _, err := unix.FcntlInt(file.Fd(), unix.F_NOCACHE, 1); err != nil {
		file.Close()
		return nil, false, err
	}
	return file, true, nil
}
