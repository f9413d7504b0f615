package datapool

import (
	"context"
	"os"

	"github.com/iamNilotpal/pelikan/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// mmapPool backs the segment heap with a memory-mapped file: every write
// the engine makes is already visible to the kernel's page cache, and
// Flush only needs an msync rather than a full copy-and-write.
type mmapPool struct {
	log    *zap.SugaredLogger
	file   *os.File
	mapped []byte // header page + data region, as returned by mmap
	header *Header
	data   []byte // mapped[PageSize:], the region segments are carved from
	userV  uint64
}

func newMmapPool(log *zap.SugaredLogger, path string, size uint64, userVersion uint64) (Pool, error) {
	if path == "" {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeInvalidInput, "mmap datapool requires a path")
	}

	total := int64(PageSize) + int64(paddedDataSize(size))

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to open mmap datapool file").WithPath(path)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to stat mmap datapool file").WithPath(path)
	}

	isNew := stat.Size() == 0
	if isNew {
		if err := file.Truncate(total); err != nil {
			file.Close()
			return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to size mmap datapool file").WithPath(path)
		}
	} else if stat.Size() != total {
		file.Close()
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeSegmentCorrupted, "mmap datapool file size mismatch",
		).WithPath(path).WithDetail("gotSize", stat.Size()).WithDetail("wantSize", total)
	}

	mapped, err := unix.Mmap(int(file.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to mmap datapool file").WithPath(path)
	}

	p := &mmapPool{
		log:    log,
		file:   file,
		mapped: mapped,
		data:   mapped[PageSize:],
		userV:  userVersion,
	}

	if isNew {
		p.header = newHeader(userVersion)
		copy(p.mapped[:PageSize], stampAndChecksum(p.header, p.data, userVersion))
		if err := unix.Msync(p.mapped, unix.MS_SYNC); err != nil {
			p.Close()
			return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to sync new mmap datapool header").WithPath(path)
		}
		if log != nil {
			log.Infow("datapool created", "kind", "mmap", "path", path, "size", total)
		}
		return p, nil
	}

	h, err := decodeHeader(p.mapped[:PageSize])
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := validateHeader(h, p.data, userVersion); err != nil {
		p.Close()
		return nil, err
	}
	p.header = h
	if log != nil {
		log.Infow("datapool restored", "kind", "mmap", "path", path, "size", total)
	}
	return p, nil
}

func (p *mmapPool) AsSlice() []byte    { return p.data }
func (p *mmapPool) AsMutSlice() []byte { return p.data }
func (p *mmapPool) Len() int           { return len(p.data) }

func (p *mmapPool) Flush(ctx context.Context) error {
	copy(p.mapped[:PageSize], stampAndChecksum(p.header, p.data, p.userV))
	if err := unix.Msync(p.mapped, unix.MS_SYNC); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to msync datapool")
	}
	return nil
}

func (p *mmapPool) Close() error {
	var firstErr error
	if p.mapped != nil {
		if err := unix.Munmap(p.mapped); err != nil && firstErr == nil {
			firstErr = err
		}
		p.mapped = nil
	}
	if err := p.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errors.NewStorageError(firstErr, errors.ErrorCodeIO, "failed to close mmap datapool")
	}
	return nil
}
