package segment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/datapool"
)

func newTestHeap(t *testing.T, segmentSize uint64, count int) *Heap {
	t.Helper()
	pool, err := datapool.New(context.Background(), nil, datapool.KindMemory, "", segmentSize*uint64(count), 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	heap, err := NewHeap(pool, segmentSize)
	require.NoError(t, err)
	return heap
}

func TestHeap_AllocFreeRoundTrip(t *testing.T) {
	heap := newTestHeap(t, 4096, 4)
	require.Equal(t, 4, heap.Count())
	require.Equal(t, 4, heap.FreeCount())

	seg, err := heap.AllocSegment(30, 2)
	require.NoError(t, err)
	require.Equal(t, 3, heap.FreeCount())
	require.True(t, seg.Header().Accessible())

	require.NoError(t, heap.FreeSegment(seg.Header().ID()))
	require.Equal(t, 4, heap.FreeCount())
	require.True(t, seg.Header().IsFree())
}

func TestHeap_AllocExhaustion(t *testing.T) {
	heap := newTestHeap(t, 4096, 1)
	_, err := heap.AllocSegment(30, 0)
	require.NoError(t, err)

	_, err = heap.AllocSegment(30, 0)
	require.Error(t, err)
}

func TestSegment_AppendAndReadItem(t *testing.T) {
	heap := newTestHeap(t, 4096, 1)
	seg, err := heap.AllocSegment(30, 0)
	require.NoError(t, err)

	key := []byte("hello")
	value := []byte("world")
	off, err := seg.AppendItem(ItemHeader{}, key, value, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(0), off)

	hdr, gotKey, gotValue, _, err := seg.Item(off)
	require.NoError(t, err)
	require.Equal(t, key, gotKey)
	require.Equal(t, value, gotValue)
	require.Equal(t, ItemSize(len(key), len(value), 0), hdr.TotalSize)
	require.Equal(t, uint32(1), seg.Header().NItems())
	require.Equal(t, hdr.TotalSize, seg.Header().LiveBytes())
}

func TestSegment_AppendItem_NoSpace(t *testing.T) {
	heap := newTestHeap(t, 64, 1)
	seg, err := heap.AllocSegment(30, 0)
	require.NoError(t, err)

	_, err = seg.AppendItem(ItemHeader{}, make([]byte, 200), nil, nil)
	require.Error(t, err)
}

func TestSegment_MarkDeadReducesLiveBytes(t *testing.T) {
	heap := newTestHeap(t, 4096, 1)
	seg, err := heap.AllocSegment(30, 0)
	require.NoError(t, err)

	off, err := seg.AppendItem(ItemHeader{}, []byte("k"), []byte("v"), nil)
	require.NoError(t, err)

	before := seg.Header().LiveBytes()
	require.NotZero(t, before)

	seg.MarkDead(off)
	require.Zero(t, seg.Header().LiveBytes())

	hdr, _, _, _, err := seg.Item(off)
	require.NoError(t, err)
	require.True(t, hdr.Deleted())
}

func TestSegment_BumpFreqSaturates(t *testing.T) {
	heap := newTestHeap(t, 4096, 1)
	seg, err := heap.AllocSegment(30, 0)
	require.NoError(t, err)

	off, err := seg.AppendItem(ItemHeader{}, []byte("k"), []byte("v"), nil)
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		seg.BumpFreq(off)
	}
	require.Equal(t, uint8(255), seg.Freq(off))
}

func TestSegment_IterItems(t *testing.T) {
	heap := newTestHeap(t, 4096, 1)
	seg, err := heap.AllocSegment(30, 0)
	require.NoError(t, err)

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, k := range keys {
		_, err := seg.AppendItem(ItemHeader{}, k, []byte("v"), nil)
		require.NoError(t, err)
	}

	var seen [][]byte
	seg.IterItems(func(offset uint32, hdr ItemHeader, key, value []byte) bool {
		cp := make([]byte, len(key))
		copy(cp, key)
		seen = append(seen, cp)
		return true
	})
	require.Equal(t, keys, seen)
}

func TestSegment_ClearResetsToFreeState(t *testing.T) {
	heap := newTestHeap(t, 4096, 1)
	seg, err := heap.AllocSegment(30, 0)
	require.NoError(t, err)
	_, err = seg.AppendItem(ItemHeader{}, []byte("k"), []byte("v"), nil)
	require.NoError(t, err)

	seg.Clear()
	require.True(t, seg.Header().IsFree())
	require.Equal(t, uint32(0), seg.Header().WriteOffset())
}
