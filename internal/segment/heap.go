package segment

import (
	"sync"
	"time"

	"github.com/iamNilotpal/pelikan/internal/datapool"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// MaxSegments bounds the heap to what a 20-bit segment-id field in a
// hash-table item-info word can address (spec §3.4).
const MaxSegments = 1 << 20

// Heap carves a Datapool's data region into fixed-size Segments and
// tracks which are free. All mutation is expected to come from the
// single storage thread the engine runs on (spec §4.4's concurrency
// policy), so the free-pool stack only needs a mutex to protect it from
// the engine's own background expiration goroutine rather than from
// true multi-writer contention.
type Heap struct {
	pool        datapool.Pool
	segmentSize uint64
	segments    []*Segment

	mu   sync.Mutex
	free []Id
}

// NewHeap divides pool's data region into fixed-size segments. heapSize
// must equal pool.Len(); segmentSize must evenly divide it and fall
// within [options.MinSegmentSize, options.MaxSegmentSize] (validated by
// the caller, which owns the options).
func NewHeap(pool datapool.Pool, segmentSize uint64) (*Heap, error) {
	total := uint64(pool.Len())
	if segmentSize == 0 || total%segmentSize != 0 {
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeInvalidInput, "heap size must be a whole multiple of segment size",
		).WithDetail("heapSize", total).WithDetail("segmentSize", segmentSize)
	}

	n := total / segmentSize
	if n > MaxSegments {
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeInvalidInput, "too many segments for a 20-bit segment id",
		).WithDetail("count", n).WithDetail("max", MaxSegments)
	}

	h := &Heap{
		pool:        pool,
		segmentSize: segmentSize,
		segments:    make([]*Segment, n),
		free:        make([]Id, 0, n),
	}

	data := pool.AsMutSlice()
	for i := uint64(0); i < n; i++ {
		id := Id(i)
		start := i * segmentSize
		h.segments[i] = newSegment(newHeader(id), data[start:start+segmentSize])
		h.free = append(h.free, id)
	}

	return h, nil
}

// Count returns the total number of segments the heap was divided into.
func (h *Heap) Count() int { return len(h.segments) }

// FreeCount returns how many segments currently sit in the free pool.
func (h *Heap) FreeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.free)
}

// Segment returns the segment with the given id. The returned pointer
// is stable for the lifetime of the Heap; callers must consult its
// Header's Accessible/Evictable bits before trusting its contents.
func (h *Heap) Segment(id Id) (*Segment, error) {
	if int(id) < 0 || int(id) >= len(h.segments) {
		return nil, errors.NewStorageError(
			nil, errors.ErrorCodeInvalidInput, "segment id out of range",
		).WithSegmentID(int(id))
	}
	return h.segments[id], nil
}

// AllocSegment pops a segment off the free pool and initializes it for
// the given TTL bucket, returning ErrorCodeNoFreeSegments when the pool
// is empty — the engine is responsible for triggering eviction before
// or after seeing this error, per spec §4.5.2.
func (h *Heap) AllocSegment(ttlSeconds uint32, bucketID uint16) (*Segment, error) {
	h.mu.Lock()
	if len(h.free) == 0 {
		h.mu.Unlock()
		return nil, errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "no free segments")
	}
	id := h.free[len(h.free)-1]
	h.free = h.free[:len(h.free)-1]
	h.mu.Unlock()

	seg := h.segments[id]
	seg.Init(time.Now().Unix(), ttlSeconds, bucketID)
	return seg, nil
}

// FreeSegment resets a segment (spec §4.2 "clear") and returns it to the
// free pool. Callers must have already removed the segment's items from
// the hash table and unlinked it from its TTL bucket.
func (h *Heap) FreeSegment(id Id) error {
	seg, err := h.Segment(id)
	if err != nil {
		return err
	}
	seg.Clear()

	h.mu.Lock()
	h.free = append(h.free, id)
	h.mu.Unlock()
	return nil
}

// AllSegments returns every segment in id order, for iteration by
// eviction policies that need to scan more than one TTL bucket.
func (h *Heap) AllSegments() []*Segment {
	return h.segments
}
