// Package index implements the open-addressed hash table mapping a
// key's hash to (segment id, offset) (spec §3.4/§4.4): a flat array of
// 64-bit slots grouped into 8-slot, cache-line-sized buckets, with
// overflow buckets drawn from a spare pool when a primary bucket fills.
//
// The hash table never stores keys itself — only a short tag derived
// from the key's hash. A tag match is a *candidate*, confirmed by
// reading the full key back from the segment the slot points at (via
// the KeyReader this package is constructed with). This is what keeps
// each slot to 8 bytes regardless of key length.
package index

import (
	"github.com/cespare/xxhash/v2"

	"github.com/iamNilotpal/pelikan/internal/segment"
)

// Per-slot item-info packing (64 bits total). The spec's prose lists
// five fields — 12-bit freq, 20-bit timestamp, 12-bit tag, 20-bit
// segment id, 32-bit offset — that sum to 96 bits, more than a slot
// holds; see DESIGN.md's Open Question resolution for why this
// implementation drops the redundant per-item timestamp (CAS already
// has the segment-level per-item CAS counter from spec §3.1 to rely
// on; the bucket already carries its own coarse timestamp) and narrows
// freq/tag/offset to fit exactly:
//
//	bit  0      occupied
//	bits 1:30   offset, in 8-byte units (29 bits -> up to 4GiB segment)
//	bits 30:50  segment id (20 bits, matches segment.MaxSegments)
//	bits 50:60  tag (10 bits)
//	bits 60:64  freq (4 bits, saturating eviction hint)
const (
	slotOccupiedBit = 0
	slotOffsetBit   = 1
	slotOffsetBits  = 29
	slotSegIDBit    = slotOffsetBit + slotOffsetBits // 30
	slotSegIDBits   = 20
	slotTagBit      = slotSegIDBit + slotSegIDBits // 50
	slotTagBits     = 10
	slotFreqBit     = slotTagBit + slotTagBits // 60
	slotFreqBits    = 4

	slotOffsetMask = (uint64(1) << slotOffsetBits) - 1
	slotSegIDMask  = (uint64(1) << slotSegIDBits) - 1
	slotTagMask    = (uint64(1) << slotTagBits) - 1
	slotFreqMask   = (uint64(1) << slotFreqBits) - 1

	// maxFreq is the saturating ceiling of the 4-bit index-level
	// frequency hint (distinct from the segment item header's own
	// 8-bit frequency counter).
	maxFreq = (1 << slotFreqBits) - 1

	// offsetUnit is the granularity item offsets are packed at: since
	// a slot has only 29 bits for offset, byte offsets are stored
	// shifted right by 3 (i.e. in 8-byte units), per spec §3.4.
	offsetUnit = 8
)

type slot uint64

func emptySlot() slot { return 0 }

func (s slot) occupied() bool { return uint64(s)&(1<<slotOccupiedBit) != 0 }

func (s slot) offset() uint32 {
	return uint32((uint64(s) >> slotOffsetBit) & slotOffsetMask * offsetUnit)
}

func (s slot) segmentID() segment.Id {
	return segment.Id((uint64(s) >> slotSegIDBit) & slotSegIDMask)
}

func (s slot) tag() uint16 {
	return uint16((uint64(s) >> slotTagBit) & slotTagMask)
}

func (s slot) freq() uint8 {
	return uint8((uint64(s) >> slotFreqBit) & slotFreqMask)
}

func makeSlot(segID segment.Id, byteOffset uint32, tag uint16, freq uint8) slot {
	if freq > maxFreq {
		freq = maxFreq
	}
	word := uint64(1) << slotOccupiedBit
	word |= (uint64(byteOffset/offsetUnit) & slotOffsetMask) << slotOffsetBit
	word |= (uint64(segID) & slotSegIDMask) << slotSegIDBit
	word |= (uint64(tag) & slotTagMask) << slotTagBit
	word |= (uint64(freq) & slotFreqMask) << slotFreqBit
	return slot(word)
}

// hashKey returns a key's full 64-bit hash (xxhash, per spec §4.4's
// "XXHash family acceptable").
func hashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// splitHash derives a bucket index and slot tag from a key hash. The
// hash modulo the bucket count selects the primary bucket; the
// slotTagBits bits starting at bit 32 become the tag, so growing the
// table (more low bits consumed) doesn't correlate with the tag
// distribution.
func splitHash(hash uint64, numBuckets uint32) (bucketIdx uint32, tag uint16) {
	bucketIdx = uint32(hash % uint64(numBuckets))
	tag = uint16((hash >> 32) & slotTagMask)
	return bucketIdx, tag
}
