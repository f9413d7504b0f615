package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounter_AddAndIncrement(t *testing.T) {
	c := &Counter{}
	c.Increment()
	c.Add(5)
	require.Equal(t, uint64(6), c.Value())
}

func TestGauge_SetAndAdd(t *testing.T) {
	g := &Gauge{}
	g.Set(10)
	g.Add(-3)
	require.Equal(t, int64(7), g.Value())
}

func TestHistogram_BucketsValue(t *testing.T) {
	h := NewHistogram(0, 4) // buckets for <1, [1,2), [2,4), [4,8), [8,16), >=16
	h.Increment(0)
	h.Increment(1)
	h.Increment(3)
	h.Increment(100)

	buckets := h.Buckets()
	var total uint64
	for _, n := range buckets {
		total += n
	}
	require.Equal(t, uint64(4), total)
	require.Equal(t, uint64(1), buckets[5])
}

func TestRegistry_SnapshotIsConsistentCopy(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("requests_total", "total requests")
	g := r.NewGauge("connections", "open connections")
	h := r.NewHistogram("depth", "event depth", 0, 8)

	c.Add(3)
	g.Set(2)
	h.Increment(1)

	snap := r.Snapshot()
	require.Equal(t, uint64(3), snap.Counters["requests_total"])
	require.Equal(t, int64(2), snap.Gauges["connections"])
	require.NotEmpty(t, snap.Histograms["depth"])

	c.Add(100)
	require.Equal(t, uint64(3), snap.Counters["requests_total"])
}

func TestRegistry_NamesListsEveryMetric(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("a", "")
	r.NewGauge("b", "")
	r.NewHistogram("c", "", 0, 4)

	names := r.Names()
	require.Len(t, names, 3)
	require.Contains(t, names, "a counter")
	require.Contains(t, names, "b gauge")
	require.Contains(t, names, "c histogram")
}
