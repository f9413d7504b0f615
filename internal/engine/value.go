package engine

import (
	"encoding/binary"
	"strconv"

	"github.com/iamNilotpal/pelikan/internal/segment"
)

// Value is what Get returns: the stored bytes plus enough information
// to reproduce the wire representation a client expects, even though
// numeric values are stored internally as an 8-byte integer rather than
// their original decimal text (spec §4.5: "if value parses as u64,
// stored as U64 variant to enable incr/decr").
type Value struct {
	Kind  segment.ValueKind
	Flags uint32
	// raw holds the on-disk bytes: 8 little-endian bytes for
	// ValueKindInt, the original payload for ValueKindBytes.
	raw []byte
}

// Bytes returns the value in the form a client would expect to read
// back: the original byte string for ValueKindBytes, or the decimal
// text of the stored integer for ValueKindInt.
func (v Value) Bytes() []byte {
	if v.Kind != segment.ValueKindInt {
		return v.raw
	}
	n := binary.LittleEndian.Uint64(v.raw)
	return []byte(strconv.FormatUint(n, 10))
}

// Uint64 returns the value as a u64 if it is (or parses as) numeric.
func (v Value) Uint64() (uint64, bool) {
	if v.Kind == segment.ValueKindInt {
		return binary.LittleEndian.Uint64(v.raw), true
	}
	return parseUint64(v.raw)
}

func parseUint64(b []byte) (uint64, bool) {
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// encodeStoredValue decides how data should be written to a segment:
// as an 8-byte integer if it parses cleanly as a u64 (enabling
// incr/decr without a reparse on every call), or as-is otherwise.
func encodeStoredValue(data []byte) (stored []byte, kind segment.ValueKind) {
	n, ok := parseUint64(data)
	if !ok {
		return data, segment.ValueKindBytes
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return buf, segment.ValueKindInt
}

// encodeTrailer packs a client-supplied 32-bit opaque flags word into
// an item's optional trailer (spec §3.1's FlagHasOptional companion data).
func encodeTrailer(flags uint32) []byte {
	if flags == 0 {
		return nil
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, flags)
	return buf
}

func decodeTrailer(trailer []byte) uint32 {
	if len(trailer) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(trailer)
}
