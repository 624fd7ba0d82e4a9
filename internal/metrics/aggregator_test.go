package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_Counters(t *testing.T) {
	agg := NewAggregator("screenhub")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Inc("requests")
		}()
	}
	wg.Wait()
	agg.IncrementCounter("requests", 5)

	assert.Equal(t, uint64(105), agg.Counter("requests"))
	assert.Equal(t, uint64(0), agg.Counter("unknown"))
}

func TestAggregator_Gauges(t *testing.T) {
	agg := NewAggregator("screenhub")

	_, ok := agg.Gauge("goroutines")
	assert.False(t, ok)

	agg.SetGauge("goroutines", 10)
	agg.SetGauge("goroutines", 12)

	v, ok := agg.Gauge("goroutines")
	assert.True(t, ok)
	assert.Equal(t, 12.0, v)
}

func TestAggregator_HistogramBucketsAreCumulative(t *testing.T) {
	agg := NewAggregator("screenhub")
	require.NoError(t, agg.DeclareHistogram("latency", []float64{10, 50, 100}))

	for _, v := range []float64{5, 10, 40, 75, 500} {
		agg.ObserveHistogram("latency", v)
	}

	h := agg.Snapshot().Histograms["latency"]
	assert.Equal(t, []Bucket{{10, 2}, {50, 3}, {100, 4}}, h.Buckets)
	assert.Equal(t, uint64(5), h.Count)
	assert.Equal(t, 630.0, h.Sum)

	mean, ok := agg.Mean("latency")
	assert.True(t, ok)
	assert.Equal(t, 126.0, mean)
}

func TestAggregator_Percentile(t *testing.T) {
	agg := NewAggregator("screenhub")

	bounds := make([]float64, 0, 20)
	for b := 50.0; b <= 1000; b += 50 {
		bounds = append(bounds, b)
	}
	require.NoError(t, agg.DeclareHistogram("render_ms", bounds))

	for v := 10.0; v <= 1000; v += 10 {
		agg.ObserveHistogram("render_ms", v)
	}

	p95, ok := agg.Percentile("render_ms", 95)
	require.True(t, ok)
	// The true 95th sample is 950; allow one bucket width
	assert.InDelta(t, 950.0, p95, 50.0)

	p50, ok := agg.Percentile("render_ms", 50)
	require.True(t, ok)
	assert.InDelta(t, 500.0, p50, 50.0)

	_, ok = agg.Percentile("render_ms", 101)
	assert.False(t, ok)
	_, ok = agg.Percentile("missing", 50)
	assert.False(t, ok)
}

func TestAggregator_UndeclaredHistogramUsesDefaults(t *testing.T) {
	agg := NewAggregator("screenhub")
	agg.ObserveHistogram("store_ping_ms", 3)

	h := agg.Snapshot().Histograms["store_ping_ms"]
	assert.Len(t, h.Buckets, len(DefaultLatencyBuckets))
}

func TestAggregator_DeclareValidation(t *testing.T) {
	agg := NewAggregator("screenhub")

	assert.Error(t, agg.DeclareHistogram("a", nil))
	assert.Error(t, agg.DeclareHistogram("a", []float64{10, 5}))
	require.NoError(t, agg.DeclareHistogram("a", []float64{1, 2}))
	assert.NoError(t, agg.DeclareHistogram("a", []float64{1, 2}))
	assert.Error(t, agg.DeclareHistogram("a", []float64{1, 3}))
}

func TestAggregator_HitRateIsDerived(t *testing.T) {
	agg := NewAggregator("screenhub")
	assert.Equal(t, 0.0, agg.HitRate("cache_hits", "cache_misses"))

	agg.IncrementCounter("cache_hits", 3)
	agg.IncrementCounter("cache_misses", 1)

	assert.Equal(t, 0.75, agg.HitRate("cache_hits", "cache_misses"))
	assert.Equal(t, 0.75, agg.Snapshot().Derived["cache_hit_rate"])
}

func TestAggregator_Reset(t *testing.T) {
	agg := NewAggregator("screenhub")
	require.NoError(t, agg.DeclareHistogram("latency", []float64{1, 2}))
	agg.Inc("requests")
	agg.SetGauge("heap", 1)
	agg.ObserveHistogram("latency", 1)

	agg.Reset()

	snap := agg.Snapshot()
	assert.Empty(t, snap.Counters)
	assert.Empty(t, snap.Gauges)
	assert.Equal(t, uint64(0), snap.Histograms["latency"].Count)
}

func TestAggregator_WriteText(t *testing.T) {
	agg := NewAggregator("screenhub")
	require.NoError(t, agg.DeclareHistogram("latency", []float64{10}))
	agg.Inc("requests")
	agg.SetGauge("heap", 1.5)
	agg.ObserveHistogram("latency", 4)

	var buf bytes.Buffer
	require.NoError(t, agg.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "requests 1\n")
	assert.Contains(t, out, "heap 1.5\n")
	assert.Contains(t, out, "latency_bucket{le=\"10\"} 1\n")
	assert.Contains(t, out, "latency_bucket{le=\"+Inf\"} 1\n")
	assert.Contains(t, out, "latency_count 1\n")
}

func TestAggregator_PrometheusCollector(t *testing.T) {
	agg := NewAggregator("screenhub")
	agg.IncrementCounter("versions_created", 2)

	expected := `
# HELP screenhub_versions_created_total Counter versions_created
# TYPE screenhub_versions_created_total counter
screenhub_versions_created_total 2
`
	require.NoError(t, testutil.CollectAndCompare(agg, strings.NewReader(expected)))

	agg.SetGauge("active_alerts", 1)
	agg.ObserveHistogram("write_ms", 3)
	assert.Equal(t, 3, testutil.CollectAndCount(agg))
}

func TestHandler(t *testing.T) {
	agg := NewAggregator("screenhub")
	agg.Inc("publish_failures")

	srv := httptest.NewServer(Handler(NewRegistry(agg)))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, buf.String(), "screenhub_publish_failures_total 1")
	assert.Contains(t, buf.String(), "go_goroutines")
}
