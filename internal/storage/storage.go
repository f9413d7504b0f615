// Package storage composes a Datapool (internal/datapool), the segment
// heap it backs (internal/segment), and the TTL buckets that group
// those segments by expiration (internal/ttlbucket) into the single
// allocator the storage engine (internal/engine) drives.
//
// Storage owns no notion of keys or values — it hands out Segments to
// write into and tracks which TTL bucket's tail segment is currently
// being appended to. Everything key-shaped (hashing, CAS, eviction
// policy) is the engine's job; Storage only answers "give me a segment
// for this TTL bucket" and "read back the key at this (segment,
// offset)", the latter satisfying internal/index's KeyReader interface
// so the hash table can confirm tag matches without knowing anything
// about segment layout.
package storage

import (
	"context"
	stdErrors "errors"
	"path/filepath"

	"github.com/iamNilotpal/pelikan/internal/datapool"
	"github.com/iamNilotpal/pelikan/internal/segment"
	"github.com/iamNilotpal/pelikan/internal/ttlbucket"
	"github.com/iamNilotpal/pelikan/pkg/errors"
	"github.com/iamNilotpal/pelikan/pkg/filesys"
	"github.com/iamNilotpal/pelikan/pkg/seginfo"
)

var ErrStorageClosed = stdErrors.New("operation failed: cannot access closed storage")

// datapoolUserVersion discriminates this package's on-disk segment-heap
// layout from any other Datapool consumer, per spec §4.1's "user
// version" field. Bump it if the segment/item wire format changes
// incompatibly.
const datapoolUserVersion = 1

// New creates and initializes a new Storage instance: it opens (or
// creates) the Datapool, carves it into segments, and builds the empty
// TTL-bucket index. Segment reconstruction from a restored Datapool
// (re-populating the hash table and TTL buckets by scanning live items)
// is the engine's job, since Storage itself has no hash table to feed.
func New(ctx context.Context, config *Config) (*Storage, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "storage configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	seg := config.Options.SegmentOptions
	config.Logger.Infow(
		"initializing storage",
		"dataDir", config.Options.DataDir,
		"heapSize", seg.HeapSize,
		"segmentSize", seg.Size,
		"datapoolSize", seg.DatapoolSize,
	)

	kind := datapool.KindMemory
	var path string
	if seg.DatapoolSize > 0 {
		dir := filepath.Join(config.Options.DataDir, seg.Directory)
		if err := filesys.CreateDir(dir, 0755, true); err != nil {
			return nil, errors.NewStorageError(
				err, errors.ErrorCodeIO, "failed to create datapool directory",
			).WithPath(dir).WithDetail("permission", "0755")
		}

		if seg.Restore {
			existing, err := seginfo.GetLastSegmentName(config.Options.DataDir, seg.Directory, seg.Prefix)
			if err != nil {
				return nil, errors.NewStorageError(
					err, errors.ErrorCodeIO, "failed to discover datapool snapshot to restore",
				).WithPath(dir)
			}
			path = existing
		}
		if path == "" {
			// No snapshot to restore (or Restore is off): name a fresh
			// one so datapool.New starts empty instead of silently
			// reopening whatever happens to sit at a fixed filename.
			path = filepath.Join(dir, seginfo.GenerateName(1, seg.Prefix))
		}
		kind = datapool.KindFileBacked
	}

	poolSize := seg.DatapoolSize
	if poolSize == 0 {
		poolSize = seg.HeapSize
	}

	pool, err := datapool.New(ctx, config.Logger, kind, path, poolSize, datapoolUserVersion)
	if err != nil {
		return nil, err
	}

	heap, err := segment.NewHeap(pool, seg.Size)
	if err != nil {
		pool.Close()
		return nil, err
	}

	config.Logger.Infow("storage initialized", "segments", heap.Count(), "kind", kind)

	return &Storage{
		options: config.Options,
		log:     config.Logger,
		pool:    pool,
		heap:    heap,
		buckets: ttlbucket.New(heap),
	}, nil
}

func (s *Storage) checkOpen() error {
	if s.closed.Load() {
		return ErrStorageClosed
	}
	return nil
}

// Heap exposes the segment allocator for eviction policies and recovery.
func (s *Storage) Heap() *segment.Heap { return s.heap }

// Buckets exposes the TTL bucket FIFOs for the engine's write path and
// expiration sweep.
func (s *Storage) Buckets() *ttlbucket.Buckets { return s.buckets }

// Segment resolves a segment id, per the index.KeyReader-adjacent
// lookups the engine performs on a hit.
func (s *Storage) Segment(id segment.Id) (*segment.Segment, error) {
	return s.heap.Segment(id)
}

// Key implements internal/index's KeyReader: it reads back the key
// bytes an item was stored under, so the hash table can confirm a tag
// match against the real key rather than trusting the tag alone.
func (s *Storage) Key(id segment.Id, offset uint32) ([]byte, error) {
	seg, err := s.heap.Segment(id)
	if err != nil {
		return nil, err
	}
	_, key, _, _, err := seg.Item(offset)
	if err != nil {
		return nil, err
	}
	// Item() slices alias segment storage; the index only ever compares
	// these bytes within the same call, never retains them, so aliasing
	// is safe here.
	return key, nil
}

// TailOrAlloc returns the current tail segment of the TTL bucket for
// bucketID, allocating (and linking) a fresh one if the bucket is empty.
// It does not check whether the existing tail has room — callers must
// do that and call Roll if not.
func (s *Storage) TailOrAlloc(ttlSeconds uint32, bucketID uint16) (*segment.Segment, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if id := s.buckets.Tail(bucketID); id != segment.NoSegment {
		return s.heap.Segment(id)
	}
	return s.Roll(ttlSeconds, bucketID)
}

// Roll allocates a fresh segment from the free pool and appends it to
// bucketID's TTL-bucket FIFO, becoming the new tail. Returns
// errors.ErrorCodeNoFreeSegments when the free pool is empty; the
// engine is responsible for running its eviction policy and retrying.
func (s *Storage) Roll(ttlSeconds uint32, bucketID uint16) (*segment.Segment, error) {
	seg, err := s.heap.AllocSegment(ttlSeconds, bucketID)
	if err != nil {
		return nil, err
	}
	s.buckets.AddTail(seg)
	return seg, nil
}

// Reclaim removes segID from its TTL bucket and returns it to the free
// pool. Callers must have already stripped its items from the hash
// table.
func (s *Storage) Reclaim(segID segment.Id) error {
	seg, err := s.heap.Segment(segID)
	if err != nil {
		return err
	}
	s.buckets.Remove(seg)
	return s.heap.FreeSegment(segID)
}

// SegmentSize returns the fixed byte size every segment in the heap
// carries, for the engine's "does this item fit at all" check.
func (s *Storage) SegmentSize() uint64 { return s.options.SegmentOptions.Size }

// Close releases the underlying Datapool.
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrStorageClosed
	}
	s.log.Infow("closing storage")
	return s.pool.Close()
}
