package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/pkg/logger"
	"github.com/iamNilotpal/pelikan/pkg/options"
)

// newTestEngine builds an Engine over an in-memory datapool small enough
// to exercise eviction in a handful of writes, with expiration disabled
// by default (ExpireInterval large) so tests control sweeps explicitly.
func newTestEngine(t *testing.T, segCount int, eviction options.EvictionPolicy) *Engine {
	t.Helper()

	opts := options.NewDefaultOptions()
	opts.ExpireInterval = time.Hour
	opts.SegmentOptions.Size = options.MinSegmentSize
	opts.SegmentOptions.HeapSize = options.MinSegmentSize * uint64(segCount)
	opts.SegmentOptions.HashPower = 8
	opts.SegmentOptions.Eviction = eviction

	e, err := New(context.Background(), &Config{Options: &opts, Logger: logger.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// newTinySegmentEngine bypasses the options package's WithSegmentSize
// minimum (512KiB) by setting Size directly, so a merge pass's math is
// checkable with a small, fixed item count instead of tens of thousands
// of writes.
func newTinySegmentEngine(t *testing.T, segCount int, segSize uint64, eviction options.EvictionPolicy) *Engine {
	t.Helper()

	opts := options.NewDefaultOptions()
	opts.ExpireInterval = time.Hour
	opts.SegmentOptions.Size = segSize
	opts.SegmentOptions.HeapSize = segSize * uint64(segCount)
	opts.SegmentOptions.HashPower = 8
	opts.SegmentOptions.Eviction = eviction

	e, err := New(context.Background(), &Config{Options: &opts, Logger: logger.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_SetGet(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("hello"), 7, 60))

	v, err := e.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v.Bytes())
	require.Equal(t, uint32(7), v.Flags)
}

func TestEngine_GetMissing(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	_, err := e.Get([]byte("missing"))
	require.Error(t, err)
}

func TestEngine_SetNonPositiveTTLDeletes(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("v"), 0, 60))
	require.NoError(t, e.Set([]byte("k1"), []byte("v"), 0, 0))

	_, err := e.Get([]byte("k1"))
	require.Error(t, err)
}

func TestEngine_AddFailsWhenPresent(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Add([]byte("k1"), []byte("v1"), 0, 60))
	require.Error(t, e.Add([]byte("k1"), []byte("v2"), 0, 60))

	v, err := e.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v.Bytes())
}

func TestEngine_ReplaceFailsWhenAbsent(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.Error(t, e.Replace([]byte("k1"), []byte("v1"), 0, 60))

	require.NoError(t, e.Add([]byte("k1"), []byte("v1"), 0, 60))
	require.NoError(t, e.Replace([]byte("k1"), []byte("v2"), 0, 60))

	v, err := e.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v.Bytes())
}

func TestEngine_CompareAndSwap(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("v1"), 0, 60))

	seg, offset, _, _, _, ok, err := e.lookup([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	cas := seg.CAS(offset)

	require.Error(t, e.CompareAndSwap([]byte("k1"), []byte("v2"), 0, 60, cas+1))
	require.NoError(t, e.CompareAndSwap([]byte("k1"), []byte("v2"), 0, 60, cas))

	v, err := e.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v.Bytes())
}

func TestEngine_CompareAndSwapNegativeTTLExpiresImmediately(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("v1"), 0, 60))
	seg, offset, _, _, _, ok, err := e.lookup([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	cas := seg.CAS(offset)

	require.NoError(t, e.CompareAndSwap([]byte("k1"), []byte("v2"), 0, -1, cas))

	_, err = e.Get([]byte("k1"))
	require.Error(t, err)
}

func TestEngine_AddNegativeTTLExpiresImmediately(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Add([]byte("k1"), []byte("v1"), 0, -1))

	_, err := e.Get([]byte("k1"))
	require.Error(t, err)
}

func TestEngine_IncrDecr(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("counter"), []byte("10"), 0, 60))

	n, err := e.Incr([]byte("counter"), 5)
	require.NoError(t, err)
	require.Equal(t, uint64(15), n)

	n, err = e.Decr([]byte("counter"), 100)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)

	v, err := e.Get([]byte("counter"))
	require.NoError(t, err)
	require.Equal(t, []byte("0"), v.Bytes())
}

func TestEngine_IncrOnNonNumericFails(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("not-a-number"), 0, 60))
	_, err := e.Incr([]byte("k1"), 1)
	require.Error(t, err)
}

func TestEngine_AppendPrepend(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("mid"), 0, 60))
	require.NoError(t, e.Append([]byte("k1"), []byte("-end")))
	require.NoError(t, e.Prepend([]byte("k1"), []byte("start-")))

	v, err := e.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("start-mid-end"), v.Bytes())
}

func TestEngine_AppendToNumericFails(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("123"), 0, 60))
	require.Error(t, e.Append([]byte("k1"), []byte("x")))
}

func TestEngine_Delete(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("v"), 0, 60))

	ok, err := e.Delete([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Delete([]byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = e.Get([]byte("k1"))
	require.Error(t, err)
}

func TestEngine_FlushAllImmediate(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("v1"), 0, 60))
	require.NoError(t, e.Set([]byte("k2"), []byte("v2"), 0, 60))

	require.NoError(t, e.FlushAll(0))

	_, err := e.Get([]byte("k1"))
	require.Error(t, err)
	_, err = e.Get([]byte("k2"))
	require.Error(t, err)
}

func TestEngine_FlushAllDelayed(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("v1"), 0, 60))
	require.NoError(t, e.FlushAll(20*time.Millisecond))

	v, err := e.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v.Bytes())

	require.Eventually(t, func() bool {
		_, err := e.Get([]byte("k1"))
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_Expire(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("k1"), []byte("v1"), 0, 1))

	time.Sleep(1200 * time.Millisecond)
	n := e.Expire()
	require.GreaterOrEqual(t, n, 0)

	_, err := e.Get([]byte("k1"))
	require.Error(t, err)
}

func TestEngine_EvictionNoneFailsWhenFull(t *testing.T) {
	e := newTestEngine(t, 2, options.EvictionNone)

	big := make([]byte, options.MinSegmentSize/2)
	var lastErr error
	for i := 0; i < 20; i++ {
		lastErr = e.Set([]byte{byte(i), byte(i >> 8)}, big, 0, 3600)
		if lastErr != nil {
			break
		}
	}
	require.Error(t, lastErr)
}

func TestEngine_EvictionRandomReclaimsSpace(t *testing.T) {
	e := newTestEngine(t, 2, options.EvictionRandom)

	big := make([]byte, options.MinSegmentSize/2)
	var lastErr error
	for i := 0; i < 50; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		lastErr = e.Set(key, big, 0, 3600)
		if lastErr != nil {
			break
		}
	}
	require.NoError(t, lastErr)
}

func TestEngine_EvictionFIFOReclaimsSpace(t *testing.T) {
	e := newTestEngine(t, 2, options.EvictionFIFO)

	big := make([]byte, options.MinSegmentSize/2)
	var lastErr error
	for i := 0; i < 50; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		lastErr = e.Set(key, big, 0, 3600)
		if lastErr != nil {
			break
		}
	}
	require.NoError(t, lastErr)
}

func TestEngine_EvictionCTEReclaimsSpace(t *testing.T) {
	e := newTestEngine(t, 2, options.EvictionCTE)

	big := make([]byte, options.MinSegmentSize/2)
	var lastErr error
	for i := 0; i < 50; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		lastErr = e.Set(key, big, 0, 3600)
		if lastErr != nil {
			break
		}
	}
	require.NoError(t, lastErr)
}

// TestEngine_EvictionUtilMergesSparseRun fills every segment of a
// single TTL bucket to capacity, deletes all but every eighth key to
// push the bucket's live-bytes ratio well under the merge threshold,
// then writes one more key. That write needs a fifth segment the free
// pool doesn't have, so it can only succeed if Util eviction merges the
// sparse run and gives the surviving items (and the new write) a home.
func TestEngine_EvictionUtilMergesSparseRun(t *testing.T) {
	const (
		segCount = 4
		segSize  = 4096
		// headerSize(20) + keyLen(3) + valueLen(8, numeric) + trailerLen(0)
		// = 31, rounded up to a multiple of 8.
		itemSize     = 32
		perSegment   = segSize / itemSize // 128
		totalInitial = perSegment * segCount // 512, exactly fills all 4 segments
	)

	e := newTinySegmentEngine(t, segCount, segSize, options.EvictionUtil)

	for i := 0; i < totalInitial; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		require.NoError(t, e.Set(key, []byte{byte('0' + i%10)}, 0, 60))
	}

	for i := 0; i < totalInitial; i++ {
		if i%8 == 0 {
			continue
		}
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		_, err := e.Delete(key)
		require.NoError(t, err)
	}

	newKey := []byte{0xFF, 0xFF, 0xFF}
	require.NoError(t, e.Set(newKey, []byte("z"), 0, 60))

	v, err := e.Get(newKey)
	require.NoError(t, err)
	require.Equal(t, []byte("z"), v.Bytes())

	for i := 0; i < totalInitial; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		_, err := e.Get(key)
		if i%8 == 0 {
			require.NoError(t, err, "kept key %d should survive the merge", i)
		} else {
			require.Error(t, err, "deleted key %d should stay gone after the merge", i)
		}
	}
}

func TestEngine_ValueKindBytesVsInt(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)

	require.NoError(t, e.Set([]byte("txt"), []byte("hello world"), 0, 60))
	require.NoError(t, e.Set([]byte("num"), []byte("42"), 0, 60))

	vTxt, err := e.Get([]byte("txt"))
	require.NoError(t, err)
	_, isNum := vTxt.Uint64()
	require.False(t, isNum)

	vNum, err := e.Get([]byte("num"))
	require.NoError(t, err)
	n, isNum := vNum.Uint64()
	require.True(t, isNum)
	require.Equal(t, uint64(42), n)
}

func TestEngine_ClosedEngineRejectsOps(t *testing.T) {
	e := newTestEngine(t, 4, options.EvictionNone)
	require.NoError(t, e.Close())

	_, err := e.Get([]byte("k1"))
	require.ErrorIs(t, err, ErrEngineClosed)

	err = e.Set([]byte("k1"), []byte("v"), 0, 60)
	require.ErrorIs(t, err, ErrEngineClosed)
}
