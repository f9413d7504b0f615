package server

import "github.com/iamNilotpal/pelikan/internal/metrics"

// EventMetrics is the per-loop-iteration counter set a worker's event
// loop updates every pass, matching the Rust reference's
// worker_event_{loop,total,read,write,error,max_reached,depth} metrics
// (original_source core/server/src/workers/mod.rs).
type EventMetrics struct {
	Loop       *metrics.Counter
	Total      *metrics.Counter
	Read       *metrics.Counter
	Write      *metrics.Counter
	Error      *metrics.Counter
	MaxReached *metrics.Counter
	Depth      *metrics.Histogram
}

// MaxEventsPerWait bounds how many events a single Poll.Wait call may
// return; reaching it increments MaxReached so operators can tell
// whether the batch size is limiting throughput.
const MaxEventsPerWait = 1024

// NewWorkerMetrics registers prefix's counters (e.g. "worker_0",
// "storage") into reg and returns the bound set.
func NewWorkerMetrics(reg *metrics.Registry, prefix string) *EventMetrics {
	return &EventMetrics{
		Loop:       reg.NewCounter(prefix+"_event_loop", "number of times the event loop has run"),
		Total:      reg.NewCounter(prefix+"_event_total", "total number of events received"),
		Read:       reg.NewCounter(prefix+"_event_read", "number of read events received"),
		Write:      reg.NewCounter(prefix+"_event_write", "number of write events received"),
		Error:      reg.NewCounter(prefix+"_event_error", "number of error events received"),
		MaxReached: reg.NewCounter(prefix+"_event_max_reached", "number of times the max event batch was returned"),
		Depth:      reg.NewHistogram(prefix+"_event_depth", "distribution of events received per loop iteration", 0, 10),
	}
}

// RecordBatch updates every counter for one Poll.Wait pass that
// returned n events. Exported so internal/proxy's frontend/backend
// workers, which share this counter set, can call it from outside the
// package.
func (m *EventMetrics) RecordBatch(n int) {
	m.Loop.Increment()
	m.Total.Add(uint64(n))
	m.Depth.Increment(int64(n))
	if n >= MaxEventsPerWait {
		m.MaxReached.Increment()
	}
}
