package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/segment"
	"github.com/iamNilotpal/pelikan/pkg/logger"
	"github.com/iamNilotpal/pelikan/pkg/options"
)

func newTestStorage(t *testing.T, segCount int) *Storage {
	t.Helper()

	opts := options.NewDefaultOptions()
	opts.SegmentOptions.Size = options.MinSegmentSize
	opts.SegmentOptions.HeapSize = options.MinSegmentSize * uint64(segCount)

	s, err := New(context.Background(), &Config{Options: &opts, Logger: logger.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_BuildsEmptyHeapAndBuckets(t *testing.T) {
	s := newTestStorage(t, 4)
	require.Equal(t, 4, s.Heap().Count())
	require.NotNil(t, s.Buckets())
}

func TestTailOrAlloc_AllocatesOnFirstUse(t *testing.T) {
	s := newTestStorage(t, 4)

	seg, err := s.TailOrAlloc(60, 0)
	require.NoError(t, err)
	require.NotNil(t, seg)

	again, err := s.TailOrAlloc(60, 0)
	require.NoError(t, err)
	require.Equal(t, seg.Header().ID(), again.Header().ID())
}

func TestRoll_AppendsNewTailToBucket(t *testing.T) {
	s := newTestStorage(t, 4)

	first, err := s.Roll(60, 0)
	require.NoError(t, err)

	second, err := s.Roll(60, 0)
	require.NoError(t, err)
	require.NotEqual(t, first.Header().ID(), second.Header().ID())
	require.Equal(t, second.Header().ID(), s.Buckets().Tail(0))
}

func TestRoll_ExhaustsFreePool(t *testing.T) {
	s := newTestStorage(t, 2)

	_, err := s.Roll(60, 0)
	require.NoError(t, err)
	_, err = s.Roll(60, 0)
	require.NoError(t, err)

	_, err = s.Roll(60, 0)
	require.Error(t, err)
}

func TestReclaim_ReturnsSegmentToFreePool(t *testing.T) {
	s := newTestStorage(t, 2)

	seg, err := s.Roll(60, 0)
	require.NoError(t, err)

	require.NoError(t, s.Reclaim(seg.Header().ID()))
	require.Equal(t, segment.NoSegment, s.Buckets().Tail(0))

	// The reclaimed segment should be allocatable again.
	again, err := s.Roll(60, 1)
	require.NoError(t, err)
	require.Equal(t, seg.Header().ID(), again.Header().ID())
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	s := newTestStorage(t, 2)
	require.NoError(t, s.Close())

	_, err := s.TailOrAlloc(60, 0)
	require.ErrorIs(t, err, ErrStorageClosed)

	require.ErrorIs(t, s.Close(), ErrStorageClosed)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)

	_, err = New(context.Background(), &Config{})
	require.Error(t, err)
}
