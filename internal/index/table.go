package index

import (
	"bytes"
	"time"

	"github.com/iamNilotpal/pelikan/internal/segment"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// ItemRef locates an item the table has indexed: which segment it
// lives in, its byte offset within that segment, and the tag its slot
// was stored under.
type ItemRef struct {
	SegmentID segment.Id
	Offset    uint32
	Tag       uint16
}

// KeyReader lets the table confirm a tag match by reading the full key
// back from storage, without the table itself needing to know anything
// about segment layout beyond the Id/offset pair. The engine supplies
// this, backed by its Heap.
type KeyReader interface {
	Key(id segment.Id, offset uint32) ([]byte, error)
}

// Table is the open-addressed hash table from spec §3.4/§4.4: a flat
// array of primary buckets plus a smaller spare pool of overflow
// buckets allocated on demand. All mutating operations assume a single
// writer (the storage thread, per spec §4.4's concurrency policy) and
// take no internal lock; callers needing concurrent readers must
// synchronize externally.
type Table struct {
	numBuckets uint32
	primary    []bucket
	overflow   []bucket

	freeOverflow []uint32 // stack of 0-based overflow indices

	reader KeyReader
	now    func() uint32
}

// NewTable builds a Table with 2^hashPower primary buckets and
// floor(2^hashPower * overflowFactor) spare overflow buckets (minimum 1).
func NewTable(hashPower uint8, overflowFactor float64, reader KeyReader) (*Table, error) {
	if reader == nil {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeInvalidInput, "index requires a KeyReader")
	}
	if hashPower == 0 {
		return nil, errors.NewStorageError(nil, errors.ErrorCodeInvalidInput, "hash power must be non-zero")
	}

	numBuckets := uint32(1) << hashPower
	overflowCount := int(float64(numBuckets) * overflowFactor)
	if overflowCount < 1 {
		overflowCount = 1
	}

	free := make([]uint32, overflowCount)
	for i := range free {
		free[i] = uint32(overflowCount - 1 - i)
	}

	return &Table{
		numBuckets:   numBuckets,
		primary:      make([]bucket, numBuckets),
		overflow:     make([]bucket, overflowCount),
		freeOverflow: free,
		reader:       reader,
		now:          defaultNow,
	}, nil
}

func defaultNow() uint32 {
	return uint32(time.Now().Unix() & int64(headerTimeMask))
}

// NumBuckets returns the primary bucket count (2^hashPower).
func (t *Table) NumBuckets() uint32 { return t.numBuckets }

// FreeOverflowCount returns how many overflow buckets remain unused.
func (t *Table) FreeOverflowCount() int { return len(t.freeOverflow) }

func (t *Table) allocOverflow() (uint32, error) {
	if len(t.freeOverflow) == 0 {
		return 0, errors.NewStorageError(nil, errors.ErrorCodeNoFreeSegments, "overflow bucket pool exhausted")
	}
	idx := t.freeOverflow[len(t.freeOverflow)-1]
	t.freeOverflow = t.freeOverflow[:len(t.freeOverflow)-1]
	return idx, nil
}

// chain walks cur's overflow pointer, calling fn for every bucket
// (primary first) until fn returns false or the chain ends.
func (t *Table) chain(start *bucket, fn func(b *bucket) bool) {
	cur := start
	for {
		if !fn(cur) {
			return
		}
		ptr := cur.header.overflowPtr()
		if ptr == noOverflow {
			return
		}
		cur = &t.overflow[ptr-1]
	}
}

// lastInChain returns the final bucket of start's chain (the one with
// no overflow pointer yet), for linking a newly allocated overflow
// bucket onto it.
func (t *Table) lastInChain(start *bucket) *bucket {
	cur := start
	for cur.header.overflowPtr() != noOverflow {
		cur = &t.overflow[cur.header.overflowPtr()-1]
	}
	return cur
}

// matchSlot reports whether the occupied slot at items[i] resolves (via
// the KeyReader) to key, handling the spec's HASH_TAG_COLLISION case
// (tag matches, key doesn't) by returning false so the caller keeps
// probing rather than treating it as a miss.
func (t *Table) matchSlot(s slot, tag uint16, key []byte) bool {
	if !s.occupied() || s.tag() != tag {
		return false
	}
	got, err := t.reader.Key(s.segmentID(), s.offset())
	if err != nil {
		return false
	}
	return bytes.Equal(got, key)
}

// Lookup finds key's current (segment id, offset), per spec §4.4.
func (t *Table) Lookup(key []byte) (ItemRef, bool) {
	bucketIdx, tag := splitHash(hashKey(key), t.numBuckets)
	var found ItemRef
	var ok bool

	t.chain(&t.primary[bucketIdx], func(b *bucket) bool {
		for i := range b.items {
			if t.matchSlot(b.items[i], tag, key) {
				s := b.items[i]
				found = ItemRef{SegmentID: s.segmentID(), Offset: s.offset(), Tag: tag}
				ok = true
				return false
			}
		}
		return true
	})
	return found, ok
}

// Touch bumps the saturating index-level frequency hint of key's slot,
// used by eviction policies; it does not affect the segment item
// header's own 8-bit frequency counter (spec §3.1), which the caller
// updates separately via segment.Segment.BumpFreq.
func (t *Table) Touch(key []byte) bool {
	bucketIdx, tag := splitHash(hashKey(key), t.numBuckets)
	touched := false

	t.chain(&t.primary[bucketIdx], func(b *bucket) bool {
		for i := range b.items {
			if t.matchSlot(b.items[i], tag, key) {
				s := b.items[i]
				b.items[i] = makeSlot(s.segmentID(), s.offset(), tag, s.freq()+1)
				b.touch(t.now())
				touched = true
				return false
			}
		}
		return true
	})
	return touched
}

// Insert writes (or overwrites) key's slot to point at (segID, offset).
// If key was already present, its previous ItemRef is returned with
// replaced=true so the caller can mark the old item's bytes dead in its
// segment (spec §4.4: "the replaced item's live_bytes is subtracted
// from its segment").
func (t *Table) Insert(key []byte, segID segment.Id, offset uint32) (prev ItemRef, replaced bool, err error) {
	bucketIdx, tag := splitHash(hashKey(key), t.numBuckets)
	now := t.now()

	var freeBucket *bucket
	freeIdx := -1

	t.chain(&t.primary[bucketIdx], func(b *bucket) bool {
		for i := range b.items {
			s := b.items[i]
			if !s.occupied() {
				if freeBucket == nil {
					freeBucket = b
					freeIdx = i
				}
				continue
			}
			if t.matchSlot(s, tag, key) {
				prev = ItemRef{SegmentID: s.segmentID(), Offset: s.offset(), Tag: tag}
				replaced = true
				b.items[i] = makeSlot(segID, offset, tag, s.freq())
				b.touch(now)
				return false
			}
		}
		return true
	})
	if replaced {
		return prev, true, nil
	}

	if freeBucket != nil {
		freeBucket.items[freeIdx] = makeSlot(segID, offset, tag, 0)
		freeBucket.touch(now)
		return ItemRef{}, false, nil
	}

	ovIdx, err := t.allocOverflow()
	if err != nil {
		return ItemRef{}, false, err
	}
	tail := t.lastInChain(&t.primary[bucketIdx])
	tail.linkOverflow(ovIdx + 1)
	ov := &t.overflow[ovIdx]
	ov.items[0] = makeSlot(segID, offset, tag, 0)
	ov.touch(now)
	return ItemRef{}, false, nil
}

// Remove zeroes key's slot, returning its prior ItemRef so the caller
// can decrement the owning segment's live_bytes (spec §4.4). If the
// slot it cleared was the last occupied one in an overflow bucket,
// that bucket is unlinked from its chain and returned to freeOverflow
// — otherwise repeated insert/delete churn through the same primary
// bucket permanently consumes overflow buckets that are sitting empty.
func (t *Table) Remove(key []byte) (ItemRef, bool) {
	bucketIdx, tag := splitHash(hashKey(key), t.numBuckets)
	now := t.now()

	var removed ItemRef
	var ok bool

	prev := &t.primary[bucketIdx]
	cur := prev
	curOv := uint32(noOverflow) // 1-based overflow index of cur, or noOverflow if cur is primary

	for {
		found := false
		for i := range cur.items {
			if t.matchSlot(cur.items[i], tag, key) {
				s := cur.items[i]
				removed = ItemRef{SegmentID: s.segmentID(), Offset: s.offset(), Tag: tag}
				cur.items[i] = emptySlot()
				cur.touch(now)
				ok = true
				found = true
				break
			}
		}
		if found {
			break
		}
		ptr := cur.header.overflowPtr()
		if ptr == noOverflow {
			return removed, false
		}
		prev = cur
		curOv = ptr
		cur = &t.overflow[ptr-1]
	}

	if curOv != noOverflow && bucketIsEmpty(cur) {
		prev.header = makeBucketHeader(cur.header.overflowPtr(), decChainLen(prev.header.chainLen()), prev.header.timestamp())
		*cur = bucket{}
		t.freeOverflow = append(t.freeOverflow, curOv-1)
	}

	return removed, ok
}

func bucketIsEmpty(b *bucket) bool {
	for i := range b.items {
		if b.items[i].occupied() {
			return false
		}
	}
	return true
}

func decChainLen(n uint16) uint16 {
	if n == 0 {
		return 0
	}
	return n - 1
}
