//go:build !linux && !darwin

package datapool

import (
	"errors"
	"os"
)

// openDirect has no direct-I/O equivalent to offer on this platform;
// callers always fall back to buffered I/O.
func openDirect(path string) (*os.File, bool, error) {
	return nil, false, errors.New("datapool: direct I/O not supported on this platform")
}
