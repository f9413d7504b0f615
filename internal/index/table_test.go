package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/segment"
)

// fakeReader backs KeyReader with an in-memory map keyed by (segID,
// offset), standing in for a real segment.Heap in these unit tests.
type fakeReader struct {
	keys map[segment.Id]map[uint32][]byte
}

func newFakeReader() *fakeReader {
	return &fakeReader{keys: make(map[segment.Id]map[uint32][]byte)}
}

func (r *fakeReader) put(id segment.Id, offset uint32, key []byte) {
	if r.keys[id] == nil {
		r.keys[id] = make(map[uint32][]byte)
	}
	r.keys[id][offset] = key
}

func (r *fakeReader) Key(id segment.Id, offset uint32) ([]byte, error) {
	return r.keys[id][offset], nil
}

func TestTable_InsertLookupRemove(t *testing.T) {
	reader := newFakeReader()
	table, err := NewTable(4, 0.2, reader)
	require.NoError(t, err)

	key := []byte("hello")
	reader.put(1, 16, key)

	prev, replaced, err := table.Insert(key, 1, 16)
	require.NoError(t, err)
	require.False(t, replaced)
	require.Equal(t, ItemRef{}, prev)

	ref, ok := table.Lookup(key)
	require.True(t, ok)
	require.Equal(t, segment.Id(1), ref.SegmentID)
	require.Equal(t, uint32(16), ref.Offset)

	removed, ok := table.Remove(key)
	require.True(t, ok)
	require.Equal(t, ref.SegmentID, removed.SegmentID)

	_, ok = table.Lookup(key)
	require.False(t, ok)
}

func TestTable_InsertReplace(t *testing.T) {
	reader := newFakeReader()
	table, err := NewTable(4, 0.2, reader)
	require.NoError(t, err)

	key := []byte("k")
	reader.put(1, 0, key)
	_, replaced, err := table.Insert(key, 1, 0)
	require.NoError(t, err)
	require.False(t, replaced)

	reader.put(2, 8, key)
	prev, replaced, err := table.Insert(key, 2, 8)
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, segment.Id(1), prev.SegmentID)

	ref, ok := table.Lookup(key)
	require.True(t, ok)
	require.Equal(t, segment.Id(2), ref.SegmentID)
}

func TestTable_OverflowChaining(t *testing.T) {
	reader := newFakeReader()
	// hashPower=1 -> only 2 primary buckets, so with enough keys we're
	// guaranteed to overflow one of them.
	table, err := NewTable(1, 1.0, reader)
	require.NoError(t, err)

	var keys [][]byte
	for i := 0; i < 20; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		keys = append(keys, k)
		reader.put(segment.Id(i), uint32(i*8), k)
		_, _, err := table.Insert(k, segment.Id(i), uint32(i*8))
		require.NoError(t, err)
	}

	for i, k := range keys {
		ref, ok := table.Lookup(k)
		require.True(t, ok, "key %d", i)
		require.Equal(t, segment.Id(i), ref.SegmentID)
	}
}

func TestTable_OverflowExhaustion(t *testing.T) {
	reader := newFakeReader()
	table, err := NewTable(1, 0.01, reader) // hashPower=1 -> 2 buckets, overflow pool minimum 1
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < 64; i++ {
		k := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		reader.put(segment.Id(i), uint32(i*8), k)
		_, _, err := table.Insert(k, segment.Id(i), uint32(i*8))
		if err != nil {
			lastErr = err
			break
		}
	}
	require.Error(t, lastErr)
}

func TestTable_RemoveReclaimsEmptyOverflowBucket(t *testing.T) {
	reader := newFakeReader()
	// hashPower=1 -> 2 primary buckets, overflowFactor=1.0 -> 2 overflow
	// buckets; 20 keys (as in TestTable_OverflowChaining) guarantees at
	// least one of those overflow buckets gets allocated.
	table, err := NewTable(1, 1.0, reader)
	require.NoError(t, err)
	initialFree := table.FreeOverflowCount()

	var keys [][]byte
	for i := 0; i < 20; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		keys = append(keys, k)
		reader.put(segment.Id(i), uint32(i*8), k)
		_, _, err := table.Insert(k, segment.Id(i), uint32(i*8))
		require.NoError(t, err)
	}
	require.Less(t, table.FreeOverflowCount(), initialFree, "20 keys across 2 buckets must spill into overflow")

	for _, k := range keys {
		_, ok := table.Remove(k)
		require.True(t, ok)
	}

	require.Equal(
		t, initialFree, table.FreeOverflowCount(),
		"every overflow bucket drained by the churn above must be returned once fully emptied",
	)
}

func TestTable_Touch(t *testing.T) {
	reader := newFakeReader()
	table, err := NewTable(4, 0.2, reader)
	require.NoError(t, err)

	key := []byte("k")
	reader.put(1, 0, key)
	_, _, err = table.Insert(key, 1, 0)
	require.NoError(t, err)

	require.True(t, table.Touch(key))
	ref, ok := table.Lookup(key)
	require.True(t, ok)
	require.Equal(t, segment.Id(1), ref.SegmentID)
}

func TestSlot_PackUnpack(t *testing.T) {
	s := makeSlot(segment.Id(12345), 800, 0x3AB, 7)
	require.True(t, s.occupied())
	require.Equal(t, segment.Id(12345), s.segmentID())
	require.Equal(t, uint32(800), s.offset())
	require.Equal(t, uint16(0x3AB)&slotTagMask, s.tag())
	require.Equal(t, uint8(7), s.freq())
}

func TestSlot_EmptyIsZeroValue(t *testing.T) {
	require.Equal(t, emptySlot(), slot(0))
	require.False(t, emptySlot().occupied())
}
