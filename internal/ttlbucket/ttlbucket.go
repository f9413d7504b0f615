// Package ttlbucket groups segments into coarse expiration buckets
// (spec §3.3/§4.3), so a single timer tick can reclaim many segments
// with one metadata sweep instead of checking each item's expiration
// individually.
package ttlbucket

import (
	"sync"
	"time"

	"github.com/iamNilotpal/pelikan/internal/segment"
)

// NumBuckets bounds bucket_id to a fixed, small range (spec §4.3).
const NumBuckets = 1024

// Piecewise quantization schedule (spec §3.3): short TTLs get
// fine-grained buckets so similarly-short-lived items still expire
// close together in real time; long TTLs share coarse buckets since
// sub-bucket precision wouldn't change eviction behavior materially.
const (
	tier1Max  = 60                 // up to 1 minute
	tier1Step = 1                  // 1s buckets
	tier2Max  = 60 * 60             // up to 1 hour
	tier2Step = 60                  // 1m buckets
	tier3Max  = 24 * 60 * 60        // up to 1 day
	tier3Step = 60 * 60             // 1h buckets
	tier4Max  = 30 * 24 * 60 * 60   // up to 30 days
	tier4Step = 24 * 60 * 60        // 1d buckets

	tier1Buckets = tier1Max / tier1Step
	tier2Buckets = (tier2Max - tier1Max) / tier2Step
	tier3Buckets = (tier3Max - tier2Max) / tier3Step
)

// BucketID quantizes a TTL in seconds into one of [0, NumBuckets).
// TTLs beyond the schedule's range clamp to the last bucket, matching
// the spec's "any TTL maps to one of a small fixed number of buckets"
// requirement rather than erroring on very long TTLs.
func BucketID(ttlSeconds uint32) uint16 {
	ttl := int64(ttlSeconds)
	switch {
	case ttl <= tier1Max:
		return uint16(ttl / tier1Step)
	case ttl <= tier2Max:
		return uint16(tier1Buckets + (ttl-tier1Max)/tier2Step)
	case ttl <= tier3Max:
		return uint16(tier1Buckets + tier2Buckets + (ttl-tier2Max)/tier3Step)
	case ttl <= tier4Max:
		id := tier1Buckets + tier2Buckets + tier3Buckets + (ttl-tier3Max)/tier4Step
		if id >= NumBuckets {
			return NumBuckets - 1
		}
		return uint16(id)
	default:
		return NumBuckets - 1
	}
}

// bucket is a doubly-linked FIFO of segment ids sharing a bucket,
// tracked by head/tail rather than walking segment.Header links for
// every query.
type bucket struct {
	head  segment.Id
	tail  segment.Id
	count int
}

// Buckets is the full set of NumBuckets TTL buckets for one storage
// engine instance. Link pointers live in each Segment's Header (Prev/
// Next), so Buckets itself only needs head/tail/count per bucket plus
// one mutex — expiration and writes both run on the storage thread per
// spec §4.4, so contention is expected to be negligible; the mutex
// exists for the same background-sweep-vs-request-path reason as
// internal/segment's free-pool lock.
type Buckets struct {
	heap *segment.Heap

	mu      sync.Mutex
	buckets [NumBuckets]bucket
}

func New(heap *segment.Heap) *Buckets {
	b := &Buckets{heap: heap}
	for i := range b.buckets {
		b.buckets[i] = bucket{head: segment.NoSegment, tail: segment.NoSegment}
	}
	return b
}

// AddTail links seg onto the tail of its TTL bucket's FIFO. O(1).
func (b *Buckets) AddTail(seg *segment.Segment) {
	id := seg.Header().BucketID()
	b.mu.Lock()
	defer b.mu.Unlock()

	bk := &b.buckets[id]
	if bk.tail == segment.NoSegment {
		bk.head = seg.Header().ID()
		bk.tail = seg.Header().ID()
		seg.Header().SetLinks(segment.NoSegment, segment.NoSegment)
	} else {
		tail, err := b.heap.Segment(bk.tail)
		if err == nil {
			tail.Header().SetLinks(tail.Header().Prev(), seg.Header().ID())
		}
		seg.Header().SetLinks(bk.tail, segment.NoSegment)
		bk.tail = seg.Header().ID()
	}
	bk.count++
}

// Remove unlinks seg from its TTL bucket's FIFO. O(1).
func (b *Buckets) Remove(seg *segment.Segment) {
	id := seg.Header().BucketID()
	b.mu.Lock()
	defer b.mu.Unlock()

	bk := &b.buckets[id]
	prev, next := seg.Header().Prev(), seg.Header().Next()

	if prev != segment.NoSegment {
		if ps, err := b.heap.Segment(prev); err == nil {
			ps.Header().SetLinks(ps.Header().Prev(), next)
		}
	} else {
		bk.head = next
	}

	if next != segment.NoSegment {
		if ns, err := b.heap.Segment(next); err == nil {
			ns.Header().SetLinks(prev, ns.Header().Next())
		}
	} else {
		bk.tail = prev
	}

	seg.Header().SetLinks(segment.NoSegment, segment.NoSegment)
	if bk.count > 0 {
		bk.count--
	}
}

// Head returns the oldest segment id in bucket id, or NoSegment if empty.
func (b *Buckets) Head(id uint16) segment.Id {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buckets[id].head
}

// Tail returns the newest segment id in bucket id, or NoSegment if empty.
// The engine's write path appends to this segment.
func (b *Buckets) Tail(id uint16) segment.Id {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buckets[id].tail
}

// Count returns the number of segments currently linked into bucket id.
func (b *Buckets) Count(id uint16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buckets[id].count
}

// Expire walks every bucket's FIFO from the head, reclaiming segments
// whose absolute expiration (CreateTimestamp + TTLSeconds) has passed,
// stopping at the first still-live segment in each bucket (FIFO order
// means everything behind it is at least as fresh). reclaim is called
// once per expired segment so the caller (engine) can strip the
// segment's items from the hash table before the segment returns to
// the free pool.
func (b *Buckets) Expire(now time.Time, reclaim func(seg *segment.Segment)) int {
	nowUnix := now.Unix()
	reclaimed := 0

	for id := uint16(0); id < NumBuckets; id++ {
		for {
			head := b.Head(id)
			if head == segment.NoSegment {
				break
			}
			seg, err := b.heap.Segment(head)
			if err != nil {
				break
			}
			expiresAt := seg.Header().CreateTimestamp() + int64(seg.Header().TTLSeconds())
			if expiresAt > nowUnix {
				break
			}

			b.Remove(seg)
			if reclaim != nil {
				reclaim(seg)
			}
			if err := b.heap.FreeSegment(seg.Header().ID()); err != nil {
				break
			}
			reclaimed++
		}
	}

	return reclaimed
}
