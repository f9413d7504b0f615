package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/metrics"
)

func TestNewWorkerMetrics_RegistersUnderPrefix(t *testing.T) {
	reg := metrics.NewRegistry()
	m := NewWorkerMetrics(reg, "worker_0")

	m.RecordBatch(3)
	snap := reg.Snapshot()

	require.Equal(t, uint64(1), snap.Counters["worker_0_event_loop"])
	require.Equal(t, uint64(3), snap.Counters["worker_0_event_total"])
	require.Equal(t, uint64(0), snap.Counters["worker_0_event_max_reached"])
}

func TestEventMetrics_RecordBatchFlagsMaxReached(t *testing.T) {
	reg := metrics.NewRegistry()
	m := NewWorkerMetrics(reg, "storage")

	m.RecordBatch(MaxEventsPerWait)
	snap := reg.Snapshot()

	require.Equal(t, uint64(1), snap.Counters["storage_event_max_reached"])
}

func TestEventMetrics_RecordBatchAccumulatesAcrossCalls(t *testing.T) {
	reg := metrics.NewRegistry()
	m := NewWorkerMetrics(reg, "worker_1")

	m.RecordBatch(2)
	m.RecordBatch(5)
	snap := reg.Snapshot()

	require.Equal(t, uint64(2), snap.Counters["worker_1_event_loop"])
	require.Equal(t, uint64(7), snap.Counters["worker_1_event_total"])
}
