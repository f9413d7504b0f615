// Package segment implements the fixed-size, bump-allocated regions the
// storage engine's heap is divided into (spec §3.2/§4.2), and the packed
// item header each entry in a segment carries.
//
// A segment is an append-only log: items are written sequentially from
// offset zero, never moved, and never shrunk in place. Overwriting or
// deleting a key writes a *new* item (or, for delete, just removes the
// hash-table entry) and leaves the old bytes as dead weight until the
// segment is reset. This trades wasted space for O(1) writes and is
// reclaimed by TTL-bucket expiration and segment-level eviction rather
// than per-item garbage collection.
package segment

import (
	"encoding/binary"

	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// ValueKind distinguishes a raw byte-string value from a 64-bit integer
// value stored inline in the item's value bytes (spec §3.1). Integer
// items are what incr/decr operate on without a parse round-trip.
type ValueKind uint8

const (
	ValueKindBytes ValueKind = iota
	ValueKindInt
)

// Item header flag bits, packed into ItemHeader.Flags.
const (
	// FlagDeleted marks an item as tombstoned without reclaiming its
	// bytes; set by Segment.MarkDead whenever the engine overwrites or
	// deletes the item's key.
	FlagDeleted uint8 = 1 << iota
	// FlagHasOptional indicates TrailerLen bytes of flags/CAS-companion
	// metadata follow the value.
	FlagHasOptional
	// FlagValueIsInt mirrors ValueKindInt into the flag byte so a reader
	// can branch without re-deriving it from a separate field.
	FlagValueIsInt
)

// MaxKeyLen is the largest key this format can address (spec §3.1).
const MaxKeyLen = 255

// headerSize is the fixed, unpacked size of an ItemHeader on the wire.
// Layout (little-endian, fixed order):
//
//	[0:4)   totalSize  uint32  bytes occupied by header+key+value+trailer, rounded up to 8
//	[4:5)   keyLen     uint8
//	[5:9)   valueLen   uint32
//	[9:10)  flags      uint8   FlagDeleted | FlagHasOptional | FlagValueIsInt
//	[10:11) freq       uint8   saturating access-frequency counter
//	[11:19) cas        uint64  compare-and-swap version
//	[19:20) trailerLen uint8   length of the optional flags/CAS trailer
const headerSize = 20

// ItemHeader is the decoded form of the fixed header prefixing every
// item in a segment. TotalSize lets a reader stride to the next item
// without re-deriving it from KeyLen/ValueLen/TrailerLen, which matters
// once Flags/Freq/CAS can change out from under an in-progress scan.
type ItemHeader struct {
	TotalSize  uint32
	KeyLen     uint8
	ValueLen   uint32
	Flags      uint8
	Freq       uint8
	CAS        uint64
	TrailerLen uint8
}

// ItemSize returns the total on-wire size of an item with the given key,
// value, and trailer lengths, rounded up to a multiple of 8 so every item
// starts on the 8-byte boundary the hash index packs offsets at; this is
// what TotalSize must hold.
func ItemSize(keyLen, valueLen, trailerLen int) uint32 {
	return uint32(headerSize+keyLen+valueLen+trailerLen+7) &^ 7
}

// Deleted reports whether FlagDeleted is set.
func (h ItemHeader) Deleted() bool { return h.Flags&FlagDeleted != 0 }

// Kind returns the item's value kind as encoded in Flags.
func (h ItemHeader) Kind() ValueKind {
	if h.Flags&FlagValueIsInt != 0 {
		return ValueKindInt
	}
	return ValueKindBytes
}

// encodeItemHeader writes h into buf[off:off+headerSize]. The caller
// must ensure buf has room; segments pre-size their region so this
// never needs a bounds check on the hot path beyond the one Go does.
func encodeItemHeader(buf []byte, off int, h ItemHeader) {
	binary.LittleEndian.PutUint32(buf[off:], h.TotalSize)
	buf[off+4] = h.KeyLen
	binary.LittleEndian.PutUint32(buf[off+5:], h.ValueLen)
	buf[off+9] = h.Flags
	buf[off+10] = h.Freq
	binary.LittleEndian.PutUint64(buf[off+11:], h.CAS)
	buf[off+19] = h.TrailerLen
}

// decodeItemHeader reads an ItemHeader from buf[off:off+headerSize].
func decodeItemHeader(buf []byte, off int) (ItemHeader, error) {
	if off+headerSize > len(buf) {
		return ItemHeader{}, errors.NewStorageError(
			nil, errors.ErrorCodeSegmentCorrupted, "item header out of bounds",
		).WithOffset(off)
	}
	return ItemHeader{
		TotalSize:  binary.LittleEndian.Uint32(buf[off:]),
		KeyLen:     buf[off+4],
		ValueLen:   binary.LittleEndian.Uint32(buf[off+5:]),
		Flags:      buf[off+9],
		Freq:       buf[off+10],
		CAS:        binary.LittleEndian.Uint64(buf[off+11:]),
		TrailerLen: buf[off+19],
	}, nil
}

// setFlags atomically-enough (single byte write) updates the flag byte
// of the item header at off, per spec §3.1: flags/freq/CAS-word are the
// only fields mutated in place, and each is updated with a single-word
// store so concurrent readers see old-or-new, never torn, bytes.
func setFlags(buf []byte, off int, flags uint8) {
	buf[off+9] = flags
}

func setFreq(buf []byte, off int, freq uint8) {
	buf[off+10] = freq
}

func setCAS(buf []byte, off int, cas uint64) {
	binary.LittleEndian.PutUint64(buf[off+11:], cas)
}

func getFlags(buf []byte, off int) uint8   { return buf[off+9] }
func getFreq(buf []byte, off int) uint8    { return buf[off+10] }
func getCAS(buf []byte, off int) uint64    { return binary.LittleEndian.Uint64(buf[off+11:]) }
