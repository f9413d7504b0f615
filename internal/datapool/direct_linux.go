//go:build linux

package datapool

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens path for a truncating write with O_DIRECT, which
// requires the kernel to accept unbuffered, page-aligned I/O for this
// filesystem. Callers fall back to buffered I/O on any error.
func openDirect(path string) (*os.File, bool, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_DIRECT, 0644)
	if err != nil {
		return nil, false, err
	}
	return file, true, nil
}
