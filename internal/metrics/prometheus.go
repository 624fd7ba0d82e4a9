package metrics

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ prometheus.Collector = (*Aggregator)(nil)

// Describe sends nothing: the metric set is dynamic, so the aggregator is an unchecked collector
func (a *Aggregator) Describe(ch chan<- *prometheus.Desc) {}

// Collect exports every counter, gauge and histogram as a const metric
func (a *Aggregator) Collect(ch chan<- prometheus.Metric) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, name := range sortedKeys(a.counters) {
		desc := prometheus.NewDesc(a.exportName(name, "_total"), "Counter "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(a.counters[name]))
	}

	for _, name := range sortedKeys(a.gauges) {
		desc := prometheus.NewDesc(a.exportName(name, ""), "Gauge "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, a.gauges[name])
	}

	for _, name := range sortedKeys(a.histograms) {
		h := a.histograms[name]
		buckets := make(map[float64]uint64, len(h.bounds))
		for i, b := range h.bounds {
			buckets[b] = h.counts[i]
		}
		desc := prometheus.NewDesc(a.exportName(name, ""), "Histogram "+name, nil, nil)
		ch <- prometheus.MustNewConstHistogram(desc, h.count, h.sum, buckets)
	}
}

// exportName sanitizes name and prefixes the namespace
func (a *Aggregator) exportName(name, suffix string) string {
	var b strings.Builder
	if a.namespace != "" {
		b.WriteString(a.namespace)
		b.WriteByte('_')
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 && a.namespace == "" {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if suffix != "" && !strings.HasSuffix(out, suffix) {
		out += suffix
	}
	return out
}

// WriteText writes a plain-text exposition of the current state
func (a *Aggregator) WriteText(w io.Writer) error {
	snap := a.Snapshot()
	bw := bufio.NewWriter(w)

	for _, name := range sortedKeys(snap.Counters) {
		fmt.Fprintf(bw, "# TYPE %s counter\n%s %d\n", name, name, snap.Counters[name])
	}
	for _, name := range sortedKeys(snap.Gauges) {
		fmt.Fprintf(bw, "# TYPE %s gauge\n%s %s\n", name, name, formatFloat(snap.Gauges[name]))
	}
	for _, name := range sortedKeys(snap.Histograms) {
		h := snap.Histograms[name]
		fmt.Fprintf(bw, "# TYPE %s histogram\n", name)
		for _, bucket := range h.Buckets {
			fmt.Fprintf(bw, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bucket.UpperBound), bucket.Count)
		}
		fmt.Fprintf(bw, "%s_bucket{le=\"+Inf\"} %d\n", name, h.Count)
		fmt.Fprintf(bw, "%s_sum %s\n%s_count %d\n", name, formatFloat(h.Sum), name, h.Count)
	}
	for _, name := range sortedKeys(snap.Derived) {
		fmt.Fprintf(bw, "# derived\n%s %s\n", name, formatFloat(snap.Derived[name]))
	}

	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// NewRegistry creates a registry exporting the aggregator with Go and process collectors
func NewRegistry(agg *Aggregator) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		agg,
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
