package awesome

import "github.com/prometheus/client_golang/prometheus"

var (
	classInstancesDesc = prometheus.NewDesc(
		"awesome_class_instances",
		"Live instances per published class.",
		[]string{"class"}, nil,
	)
	classPropertiesDesc = prometheus.NewDesc(
		"awesome_class_properties",
		"Properties attached per published class.",
		[]string{"class"}, nil,
	)
	classIndexMissesDesc = prometheus.NewDesc(
		"awesome_class_index_misses_total",
		"Reads that fell through to the index miss handler.",
		[]string{"class"}, nil,
	)
	classNewIndexMissesDesc = prometheus.NewDesc(
		"awesome_class_newindex_misses_total",
		"Writes that fell through to the newindex miss handler.",
		[]string{"class"}, nil,
	)
)

type metricsCollector struct {
	classes *Registry
}

// NewMetricsCollector exposes the runtime's class registry to Prometheus.
// It reads only atomic counters, so scrapes never touch the Lua state.
func NewMetricsCollector(rt *Runtime) prometheus.Collector {
	return &metricsCollector{classes: rt.classes}
}

func (m *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- classInstancesDesc
	ch <- classPropertiesDesc
	ch <- classIndexMissesDesc
	ch <- classNewIndexMissesDesc
}

func (m *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, class := range m.classes.Entries() {
		state := class.State()
		name := state.Name()
		ch <- prometheus.MustNewConstMetric(classInstancesDesc, prometheus.GaugeValue, float64(state.Instances()), name)
		ch <- prometheus.MustNewConstMetric(classPropertiesDesc, prometheus.GaugeValue, float64(state.PropertyCount()), name)
		ch <- prometheus.MustNewConstMetric(classIndexMissesDesc, prometheus.CounterValue, float64(state.IndexMisses()), name)
		ch <- prometheus.MustNewConstMetric(classNewIndexMissesDesc, prometheus.CounterValue, float64(state.NewIndexMisses()), name)
	}
}
