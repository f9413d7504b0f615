package proxy

import (
	"github.com/iamNilotpal/pelikan/internal/metrics"
	"github.com/iamNilotpal/pelikan/internal/server"
)

// EventMetrics is the proxy's per-thread counter set. It is the exact
// shape internal/server already registers for its own worker/storage
// threads (spec §4.9-4.10 share one set of per-loop-iteration counters
// across both runtimes, grounded on original_source's
// core/proxy/src/{backend,frontend}.rs *_event_* statics, which are
// identical in shape to core/server's); reusing server.NewWorkerMetrics
// rather than redeclaring the same six counters and a histogram here.
type EventMetrics = server.EventMetrics

// NewEventMetrics registers prefix's event counters (e.g. "frontend_0",
// "backend_0").
func NewEventMetrics(reg *metrics.Registry, prefix string) *EventMetrics {
	return server.NewWorkerMetrics(reg, prefix)
}

// MaxEventsPerWait matches internal/server's batch-size ceiling.
const MaxEventsPerWait = server.MaxEventsPerWait
