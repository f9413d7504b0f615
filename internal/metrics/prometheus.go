package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts a Registry's Snapshot into prometheus.Collector, so
// it can be registered with a prometheus.Registry and served on the
// segcache HTTP admin variant's `/metrics` endpoint (spec §6.5).
type Collector struct {
	registry  *Registry
	namespace string
}

// NewCollector wraps registry for Prometheus export, prefixing every
// metric name with namespace ("pelikan").
func NewCollector(registry *Registry, namespace string) *Collector {
	return &Collector{registry: registry, namespace: namespace}
}

// Describe satisfies prometheus.Collector; descriptors are generated
// dynamically in Collect since metric names are only known once every
// subsystem has registered, so this is intentionally left empty
// (makes the collector "unchecked", which is what dynamically-named
// metric sets require).
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

// Collect renders a fresh Snapshot as Prometheus samples.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot()

	for name, v := range snap.Counters {
		desc := prometheus.NewDesc(c.namespace+"_"+name, c.registry.Help(name), nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	for name, v := range snap.Gauges {
		desc := prometheus.NewDesc(c.namespace+"_"+name, c.registry.Help(name), nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v))
	}
	for name, buckets := range snap.Histograms {
		desc := prometheus.NewDesc(c.namespace+"_"+name, c.registry.Help(name), nil, nil)
		var sum float64
		var count uint64
		cumulative := make(map[float64]uint64, len(buckets))
		for i, n := range buckets {
			count += n
			sum += float64(n) * float64(uint64(1)<<uint(i))
			cumulative[float64(uint64(1)<<uint(i))] = count
		}
		ch <- prometheus.MustNewConstHistogram(desc, count, sum, cumulative)
	}
}
