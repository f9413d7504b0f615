package engine

import (
	"math/rand"

	"github.com/iamNilotpal/pelikan/internal/compaction"
	"github.com/iamNilotpal/pelikan/internal/segment"
	"github.com/iamNilotpal/pelikan/internal/ttlbucket"
	"github.com/iamNilotpal/pelikan/pkg/errors"
	"github.com/iamNilotpal/pelikan/pkg/options"
)

func evictable(seg *segment.Segment) bool {
	h := seg.Header()
	return h.Accessible() && h.Evictable() && h.RefCount() == 0 && h.NItems() > 0
}

// mergeRunLength bounds how many consecutive segments one Util merge
// pass considers, so a single eviction call stays a bounded operation
// rather than scanning an entire TTL bucket.
const mergeRunLength = 4

// mergeUtilThreshold is the combined live-bytes ratio under which a run
// of segments is considered worth merging (spec §4.5.2: "lowest combined
// live-bytes ratio").
const mergeUtilThreshold = 0.5

// evict runs the configured eviction policy once, freeing exactly one
// segment's worth of space (Util may free several segments but always
// makes net progress by returning at least one to the pool). It returns
// ErrorCodeNoFreeSegments if no eligible segment exists.
func (e *Engine) evict() error {
	switch e.options.SegmentOptions.Eviction {
	case options.EvictionNone:
		return errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "eviction disabled")
	case options.EvictionRandom:
		return e.evictRandom()
	case options.EvictionFIFO:
		return e.evictFIFO()
	case options.EvictionCTE:
		return e.evictCTE()
	case options.EvictionUtil:
		return e.evictUtil()
	default:
		return e.evictCTE()
	}
}

func (e *Engine) candidates() []*segment.Segment {
	all := e.storage.Heap().AllSegments()
	out := make([]*segment.Segment, 0, len(all))
	for _, seg := range all {
		if evictable(seg) {
			out = append(out, seg)
		}
	}
	return out
}

func (e *Engine) evictRandom() error {
	candidates := e.candidates()
	if len(candidates) == 0 {
		return errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "no segment eligible for random eviction")
	}
	seg := candidates[rand.Intn(len(candidates))]
	return e.reclaimForEviction(seg.Header().ID())
}

func (e *Engine) evictFIFO() error {
	candidates := e.candidates()
	if len(candidates) == 0 {
		return errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "no segment eligible for FIFO eviction")
	}

	// Find the bucket id with the most linked segments among eligible
	// candidates, then evict its head (oldest member).
	counts := make(map[uint16]int, len(candidates))
	for _, seg := range candidates {
		counts[seg.Header().BucketID()]++
	}
	var busiest uint16
	best := -1
	for id, n := range counts {
		if n > best {
			best, busiest = n, id
		}
	}

	head := e.storage.Buckets().Head(busiest)
	if head == segment.NoSegment {
		return errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "no segment eligible for FIFO eviction")
	}
	return e.reclaimForEviction(head)
}

func (e *Engine) evictCTE() error {
	candidates := e.candidates()
	if len(candidates) == 0 {
		return errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "no segment eligible for CTE eviction")
	}

	var closest *segment.Segment
	var closestExpiry int64
	for _, seg := range candidates {
		expiresAt := seg.Header().CreateTimestamp() + int64(seg.Header().TTLSeconds())
		if closest == nil || expiresAt < closestExpiry {
			closest, closestExpiry = seg, expiresAt
		}
	}
	return e.reclaimForEviction(closest.Header().ID())
}

// evictUtil runs a merge pass: it walks one TTL bucket's FIFO from the
// head, accumulating a run of up to mergeRunLength segments whose
// combined live-bytes ratio falls below mergeUtilThreshold, relocates
// their survivors into a fresh segment via internal/compaction, and
// returns the drained segments to the free pool.
func (e *Engine) evictUtil() error {
	bucketID, ok := e.mostPopulatedEvictableBucket()
	if !ok {
		return errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "no bucket eligible for merge")
	}

	var run []segment.Id
	var liveSum, capSum uint64

	cur := e.storage.Buckets().Head(bucketID)
	for cur != segment.NoSegment && len(run) < mergeRunLength {
		seg, err := e.storage.Heap().Segment(cur)
		if err != nil {
			break
		}
		if !evictable(seg) {
			break
		}
		run = append(run, cur)
		liveSum += uint64(seg.Header().LiveBytes())
		capSum += uint64(seg.Size())
		cur = seg.Header().Next()
	}

	if len(run) == 0 || capSum == 0 || float64(liveSum)/float64(capSum) >= mergeUtilThreshold {
		return errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "no sufficiently sparse run to merge")
	}

	// Merge itself frees the victim run (it must, to make room for the
	// destination segment it allocates) and links any destination
	// segments into the bucket, so there is nothing left for evictUtil
	// to reclaim afterward.
	relocator := &compaction.Relocator{Heap: e.storage.Heap(), Buckets: e.storage.Buckets(), Index: e.index}
	result, err := relocator.Merge(run)
	if err != nil {
		return err
	}
	e.log.Infow("merged segments", "freed", len(result.Freed), "created", len(result.Created), "itemsMoved", result.ItemsMoved)
	return nil
}

func (e *Engine) mostPopulatedEvictableBucket() (uint16, bool) {
	var best uint16
	bestCount := 0
	found := false
	for id := uint16(0); id < ttlbucket.NumBuckets; id++ {
		head := e.storage.Buckets().Head(id)
		if head == segment.NoSegment {
			continue
		}
		seg, err := e.storage.Heap().Segment(head)
		if err != nil || seg.Header().NItems() == 0 {
			continue
		}
		n := e.storage.Buckets().Count(id)
		if n > bestCount {
			best, bestCount, found = id, n, true
		}
	}
	return best, found
}

// reclaimForEviction strips every live item of seg from the index, then
// returns it to the free pool — the non-merge eviction policies (Random,
// FIFO, CTE) simply discard their chosen segment's contents rather than
// relocating them.
func (e *Engine) reclaimForEviction(id segment.Id) error {
	seg, err := e.storage.Heap().Segment(id)
	if err != nil {
		return err
	}
	seg.IterItems(func(offset uint32, hdr segment.ItemHeader, key, value []byte) bool {
		if !hdr.Deleted() {
			e.index.Remove(key)
		}
		return true
	})
	return e.storage.Reclaim(id)
}
