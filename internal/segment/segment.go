package segment

import (
	"encoding/binary"

	"go.uber.org/atomic"

	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// Id identifies a segment within a Heap; it doubles as the segment-id
// field packed into hash-table item-info words (spec §3.4), so it must
// fit in 20 bits (see heap.go's MaxSegments).
type Id uint32

// NoSegment is the sentinel Id meaning "no segment" (list terminator in
// a TTL bucket's head/tail/prev/next links).
const NoSegment Id = 1<<32 - 1

// Header is a segment's metadata (spec §3.2): everything needed to
// answer "how much of this segment is live, what TTL bucket owns it,
// and is it safe to read/evict right now" without touching the
// bump-allocated item bytes themselves.
//
// Accessible and Evictable are bools in the spec's vocabulary but are
// stored as atomic flags here because the expiration sweep, the
// eviction policy, and in-flight readers can all observe them
// concurrently (matching the teacher's atomic.Bool closed-flag idiom,
// extended to per-segment granularity).
type Header struct {
	id Id

	liveBytes   atomic.Uint32
	nItems      atomic.Uint32
	writeOffset atomic.Uint32

	prev Id
	next Id

	accessible atomic.Bool
	evictable  atomic.Bool

	mergeGeneration atomic.Uint32
	refCount        atomic.Int32

	createTimestamp int64
	ttlSeconds      uint32
	bucketID        uint16
}

func newHeader(id Id) *Header {
	h := &Header{id: id, prev: NoSegment, next: NoSegment}
	return h
}

func (h *Header) ID() Id            { return h.id }
func (h *Header) LiveBytes() uint32 { return h.liveBytes.Load() }
func (h *Header) NItems() uint32    { return h.nItems.Load() }
func (h *Header) WriteOffset() uint32 { return h.writeOffset.Load() }
func (h *Header) Prev() Id          { return h.prev }
func (h *Header) Next() Id          { return h.next }
func (h *Header) Accessible() bool  { return h.accessible.Load() }
func (h *Header) Evictable() bool   { return h.evictable.Load() }
func (h *Header) MergeGeneration() uint32 { return h.mergeGeneration.Load() }
func (h *Header) RefCount() int32   { return h.refCount.Load() }
func (h *Header) CreateTimestamp() int64 { return h.createTimestamp }
func (h *Header) TTLSeconds() uint32     { return h.ttlSeconds }
func (h *Header) BucketID() uint16       { return h.bucketID }

func (h *Header) SetAccessible(v bool) { h.accessible.Store(v) }
func (h *Header) SetEvictable(v bool)  { h.evictable.Store(v) }
func (h *Header) SetLinks(prev, next Id) {
	h.prev, h.next = prev, next
}

func (h *Header) IncRef() int32 { return h.refCount.Inc() }
func (h *Header) DecRef() int32 { return h.refCount.Dec() }

// IsFree reports the free-pool invariant from spec §3.2: n_items==0,
// live_bytes==0, not linked into any TTL bucket, accessible==false.
func (h *Header) IsFree() bool {
	return h.nItems.Load() == 0 && h.liveBytes.Load() == 0 &&
		h.prev == NoSegment && h.next == NoSegment && !h.accessible.Load()
}

// Segment is a fixed-size, bump-allocated region of the heap plus a
// pointer to its shared Header. Multiple Segment values may wrap the
// same Header/data pair safely: the header's counters are atomic, and
// the data slice is never resized or moved for the segment's lifetime.
type Segment struct {
	header *Header
	data   []byte // the full segment_size region this segment owns
}

func newSegment(header *Header, data []byte) *Segment {
	return &Segment{header: header, data: data}
}

func (s *Segment) Header() *Header { return s.header }
func (s *Segment) Size() int       { return len(s.data) }

// AppendItem bump-allocates room for key+value(+trailer) and writes the
// header, key, and value at the current write offset. When the item does
// not fit in the remaining space it fails with a StorageError carrying
// ErrorCodeIO and the message "no space in segment", so the caller
// (engine) knows to roll the TTL bucket's tail to a fresh segment rather
// than evict (spec §4.2).
func (s *Segment) AppendItem(hdr ItemHeader, key, value, trailer []byte) (offset uint32, err error) {
	size := ItemSize(len(key), len(value), len(trailer))
	off := s.header.writeOffset.Load()

	if uint64(off)+uint64(size) > uint64(len(s.data)) {
		return 0, errors.NewStorageError(
			nil, errors.ErrorCodeIO, "no space in segment",
		).WithSegmentID(int(s.header.id)).WithOffset(int(off))
	}

	hdr.TotalSize = size
	hdr.KeyLen = uint8(len(key))
	hdr.ValueLen = uint32(len(value))
	hdr.TrailerLen = uint8(len(trailer))

	pos := int(off)
	encodeItemHeader(s.data, pos, hdr)
	pos += headerSize
	pos += copy(s.data[pos:], key)
	pos += copy(s.data[pos:], value)
	copy(s.data[pos:], trailer)

	s.header.writeOffset.Store(off + size)
	s.header.nItems.Inc()
	s.header.liveBytes.Add(size)

	return off, nil
}

// Item reads back the header, key, and value written at offset by a
// prior AppendItem. The returned slices alias the segment's storage and
// must not be retained past a Clear.
func (s *Segment) Item(offset uint32) (ItemHeader, []byte, []byte, []byte, error) {
	hdr, err := decodeItemHeader(s.data, int(offset))
	if err != nil {
		return ItemHeader{}, nil, nil, nil, err
	}
	pos := int(offset) + headerSize
	key := s.data[pos : pos+int(hdr.KeyLen)]
	pos += int(hdr.KeyLen)
	value := s.data[pos : pos+int(hdr.ValueLen)]
	pos += int(hdr.ValueLen)
	trailer := s.data[pos : pos+int(hdr.TrailerLen)]
	return hdr, key, value, trailer, nil
}

// MarkDead subtracts a removed item's size from live_bytes and sets its
// FlagDeleted bit; the engine calls it when the hash-table slot pointing
// at (segmentID, offset) is overwritten or removed (spec §4.4).
func (s *Segment) MarkDead(offset uint32) {
	hdr, err := decodeItemHeader(s.data, int(offset))
	if err != nil {
		return
	}
	s.header.liveBytes.Sub(hdr.TotalSize)
	setFlags(s.data, int(offset), getFlags(s.data, int(offset))|FlagDeleted)
}

// SetCAS atomically (single 8-byte store) updates the CAS word of the
// item at offset.
func (s *Segment) SetCAS(offset uint32, cas uint64) {
	setCAS(s.data, int(offset), cas)
}

// SetIntValue overwrites the 8-byte value of a ValueKindInt item in
// place (spec §4.5: incr/decr "update the 8-byte value in place
// atomically; leave hash slot and CAS bucket-stamp unchanged"). The
// caller is responsible for confirming the item is actually an 8-byte
// integer value before calling this.
func (s *Segment) SetIntValue(offset uint32, v uint64) {
	keyLen := s.data[int(offset)+4]
	pos := int(offset) + headerSize + int(keyLen)
	binary.LittleEndian.PutUint64(s.data[pos:], v)
}

// CAS returns the current CAS word of the item at offset.
func (s *Segment) CAS(offset uint32) uint64 {
	return getCAS(s.data, int(offset))
}

// BumpFreq increments the item's frequency counter at offset, saturating
// at 255 (spec §3.1: "probabilistic increment after saturation" is the
// engine's concern — Segment just exposes the raw counter).
func (s *Segment) BumpFreq(offset uint32) uint8 {
	f := getFreq(s.data, int(offset))
	if f < 255 {
		f++
		setFreq(s.data, int(offset), f)
	}
	return f
}

// Freq returns the item's current frequency counter.
func (s *Segment) Freq(offset uint32) uint8 {
	return getFreq(s.data, int(offset))
}

// IterItems walks every item written so far, live or dead, calling fn
// with each item's offset and decoded header/key/value. Iteration stops
// early if fn returns false. Used by the engine's expiry and eviction
// paths (to remove hash entries) and by merge/compaction to find the
// live survivors.
func (s *Segment) IterItems(fn func(offset uint32, hdr ItemHeader, key, value []byte) bool) {
	off := uint32(0)
	end := s.header.writeOffset.Load()
	for off < end {
		hdr, err := decodeItemHeader(s.data, int(off))
		if err != nil {
			return
		}
		pos := int(off) + headerSize
		key := s.data[pos : pos+int(hdr.KeyLen)]
		pos += int(hdr.KeyLen)
		value := s.data[pos : pos+int(hdr.ValueLen)]
		if !fn(off, hdr, key, value) {
			return
		}
		off += hdr.TotalSize
	}
}

// Clear resets the segment to free-pool state: write offset, n_items,
// and live_bytes all go to zero, links are severed, and accessible is
// dropped. It does not zero the underlying bytes — a fresh AppendItem
// will overwrite stale bytes, and zeroing gigabytes of heap on every
// reset would dominate reset cost for no observable benefit since dead
// bytes are never read without a live index entry pointing at them.
func (s *Segment) Clear() {
	s.header.writeOffset.Store(0)
	s.header.nItems.Store(0)
	s.header.liveBytes.Store(0)
	s.header.SetLinks(NoSegment, NoSegment)
	s.header.SetAccessible(false)
	s.header.SetEvictable(false)
	s.header.mergeGeneration.Inc()
}

// Init stamps a freshly-allocated segment's create-timestamp, TTL, and
// bucket assignment, and marks it accessible. Called by Heap.AllocSegment.
func (s *Segment) Init(createTimestamp int64, ttlSeconds uint32, bucketID uint16) {
	s.header.createTimestamp = createTimestamp
	s.header.ttlSeconds = ttlSeconds
	s.header.bucketID = bucketID
	s.header.SetAccessible(true)
	s.header.SetEvictable(true)
}
