// Package datapool provides the abstract byte region that backs the
// segment heap (spec §4.1, component A). Three implementations share
// one Pool interface: a pure in-memory region, an mmap'd file, and an
// in-memory region with a checksummed file snapshot. Higher layers
// (internal/segment) never know which variant they were handed; they
// only call AsSlice/AsMutSlice/Flush/Len.
//
// This package follows the teacher's (internal/storage) convention of
// isolating every OS file-lifecycle detail — create, size, seek, sync —
// behind one small surface so the rest of the engine never touches
// *os.File directly.
package datapool

import (
	"context"
	"fmt"

	"github.com/iamNilotpal/pelikan/pkg/errors"
	"go.uber.org/zap"
)

// PageSize is the unit every Datapool header and every direct-I/O write
// is aligned and padded to (spec §4.1/§6.2).
const PageSize = 4096

// Pool is the abstract byte region a segment heap is carved out of.
type Pool interface {
	// AsSlice returns the data region (excluding any header) for reading.
	AsSlice() []byte
	// AsMutSlice returns the data region for read-write access.
	AsMutSlice() []byte
	// Flush persists the data region (and header, for file-backed
	// variants) to stable storage. It is a no-op for the pure-memory
	// variant.
	Flush(ctx context.Context) error
	// Len returns the size of the data region in bytes.
	Len() int
	// Close releases any OS resources (file handles, mappings) held by
	// the pool.
	Close() error
}

// Kind identifies which Pool implementation backs a heap. It is not
// recorded in the on-disk Header; a restore must be opened with the same
// Kind that wrote the file.
type Kind uint8

const (
	// KindMemory is a pure in-RAM region with no persistence.
	KindMemory Kind = iota
	// KindMmap is an mmap'd file; every write is already "on disk" from
	// the kernel's point of view, modulo msync.
	KindMmap
	// KindFileBacked is an in-RAM region with a checksummed file
	// snapshot written on explicit Flush calls.
	KindFileBacked
)

// New constructs a Pool of the requested kind and size. path is ignored
// for KindMemory. userVersion lets the caller (internal/engine) bump an
// incompatible on-disk format without changing this package's own
// Magic/FormatVersion.
func New(ctx context.Context, log *zap.SugaredLogger, kind Kind, path string, size uint64, userVersion uint64) (Pool, error) {
	if size == 0 {
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeIO, "datapool size must be non-zero",
		).WithDetail("kind", kind)
	}

	switch kind {
	case KindMemory:
		return newMemoryPool(size), nil
	case KindMmap:
		return newMmapPool(log, path, size, userVersion)
	case KindFileBacked:
		return newFileBackedPool(log, path, size, userVersion)
	default:
		return nil, fmt.Errorf("datapool: unknown kind %d", kind)
	}
}

func dataPages(size uint64) uint64 {
	if size%PageSize == 0 {
		return size / PageSize
	}
	return size/PageSize + 1
}

// paddedDataSize rounds size up to a whole number of PageSize pages, as
// required for direct I/O writes and for the mmap file layout.
func paddedDataSize(size uint64) uint64 {
	return dataPages(size) * PageSize
}
