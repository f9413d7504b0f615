package datapool

import (
	"context"
	"os"
	"path/filepath"

	"github.com/iamNilotpal/pelikan/pkg/errors"
	"go.uber.org/zap"
)

// fileBackedPool keeps the data region in a plain Go byte slice and
// writes a checksummed snapshot to path only on explicit Flush calls,
// rather than mapping the file directly. This trades the mmap variant's
// always-durable writes for control over when I/O happens, at the cost
// of a full-region copy on every flush.
type fileBackedPool struct {
	log    *zap.SugaredLogger
	path   string
	data   []byte
	header *Header
	userV  uint64
}

func newFileBackedPool(log *zap.SugaredLogger, path string, size uint64, userVersion uint64) (Pool, error) {
	if path == "" {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeInvalidInput, "file-backed datapool requires a path")
	}

	padded := paddedDataSize(size)
	p := &fileBackedPool{log: log, path: path, data: make([]byte, padded), userV: userVersion}

	exists, err := fileExists(path)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to stat datapool snapshot").WithPath(path)
	}

	if !exists {
		p.header = newHeader(userVersion)
		if log != nil {
			log.Infow("datapool created", "kind", "file-backed", "path", path, "size", padded)
		}
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, filepath.Base(path))
	}
	wantLen := int(PageSize + padded)
	if len(raw) != wantLen {
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeSegmentCorrupted, "datapool snapshot filesize mismatch",
		).WithPath(path).WithDetail("gotLen", len(raw)).WithDetail("wantLen", wantLen)
	}

	h, err := decodeHeader(raw[:PageSize])
	if err != nil {
		return nil, err
	}
	copy(p.data, raw[PageSize:])
	if err := validateHeader(h, p.data, userVersion); err != nil {
		return nil, err
	}
	p.header = h
	if log != nil {
		log.Infow("datapool restored", "kind", "file-backed", "path", path, "size", padded)
	}
	return p, nil
}

func (p *fileBackedPool) AsSlice() []byte    { return p.data }
func (p *fileBackedPool) AsMutSlice() []byte { return p.data }
func (p *fileBackedPool) Len() int           { return len(p.data) }
func (p *fileBackedPool) Close() error       { return nil }

// Flush writes header+data to path. On Linux it opens with O_DIRECT to
// bypass the page cache for this (already in-RAM) data; a failure to
// open a direct handle (for example a filesystem that rejects O_DIRECT)
// falls back to a plain buffered write. A write error on a direct handle
// that did open is returned as is, without a buffered retry. The
// direct-I/O variant writes data then header rather than header then
// data, so a torn write during a crash leaves the header's checksum
// pointing at whichever data bytes actually landed rather than at a
// half-written region; the buffered path has no such ordering
// constraint and writes header then data. Either way the write is
// fsynced before returning.
func (p *fileBackedPool) Flush(ctx context.Context) error {
	page := stampAndChecksum(p.header, p.data, p.userV)

	file, direct, err := p.openForWrite()
	if file == nil {
		if err == nil {
			err = errors.NewStorageError(nil, errors.ErrorCodeIO, "failed to open datapool snapshot for write").WithPath(p.path)
		}
		return err
	}
	defer file.Close()

	// WriteAt pins every write to its final file offset regardless of
	// order — header always lands at 0, data always at PageSize — so
	// swapping which one goes out first (direct) changes only the order
	// of syscalls, not the on-disk layout Open() reads back.
	if direct {
		if _, err := file.WriteAt(p.data, int64(PageSize)); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to write datapool data").WithPath(p.path)
		}
		if _, err := file.WriteAt(page, 0); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to write datapool header").WithPath(p.path)
		}
	} else {
		if _, err := file.WriteAt(page, 0); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to write datapool header").WithPath(p.path)
		}
		if _, err := file.WriteAt(p.data, int64(PageSize)); err != nil {
			return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to write datapool data").WithPath(p.path)
		}
	}

	if err := file.Sync(); err != nil {
		return errors.ClassifySyncError(err, filepath.Base(p.path), p.path, int(PageSize+len(p.data)))
	}
	return nil
}

// openForWrite tries a direct-I/O handle first (O_DIRECT on Linux,
// F_NOCACHE via fcntl on Darwin — see direct_linux.go/direct_darwin.go),
// reporting whether it got one, and falls back to a regular buffered
// handle otherwise. The buffered path's error is classified (permission/
// disk-full/read-only-fs/generic) so Flush's caller gets the same
// actionable detail the teacher's segment-file code provided.
func (p *fileBackedPool) openForWrite() (*os.File, bool, error) {
	file, direct, err := openDirect(p.path)
	if err == nil {
		return file, direct, nil
	}
	if p.log != nil {
		p.log.Debugw("direct I/O open failed, falling back to buffered I/O", "path", p.path, "error", err)
	}

	file, err = os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, false, errors.ClassifyFileOpenError(err, p.path, filepath.Base(p.path))
	}
	return file, false, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
