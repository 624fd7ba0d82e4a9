package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultLatencyBuckets are used for histograms observed before being declared (milliseconds)
var DefaultLatencyBuckets = []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Aggregator holds process-wide counters, gauges and fixed-bucket histograms.
// Mutations are plain arithmetic under a mutex and never fail.
type Aggregator struct {
	mu         sync.RWMutex
	namespace  string
	counters   map[string]uint64
	gauges     map[string]float64
	histograms map[string]*histogram
}

type histogram struct {
	bounds []float64
	// counts[i] is the number of observations <= bounds[i]
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *histogram {
	b := make([]float64, len(bounds))
	copy(b, bounds)
	return &histogram{bounds: b, counts: make([]uint64, len(b))}
}

func (h *histogram) observe(v float64) {
	for i, bound := range h.bounds {
		if v <= bound {
			h.counts[i]++
		}
	}
	h.sum += v
	h.count++
}

func (h *histogram) reset() {
	for i := range h.counts {
		h.counts[i] = 0
	}
	h.sum = 0
	h.count = 0
}

// quantile interpolates linearly inside the bucket holding the target rank
func (h *histogram) quantile(q float64) float64 {
	rank := q * float64(h.count)
	for i, c := range h.counts {
		if float64(c) < rank {
			continue
		}
		var lower float64
		var prev uint64
		if i > 0 {
			lower = h.bounds[i-1]
			prev = h.counts[i-1]
		} else if h.bounds[0] < 0 {
			lower = h.bounds[0]
		}
		upper := h.bounds[i]
		if c == prev {
			return upper
		}
		return lower + (upper-lower)*(rank-float64(prev))/float64(c-prev)
	}
	// Rank falls above the highest bound
	return h.bounds[len(h.bounds)-1]
}

// NewAggregator creates an empty aggregator. namespace prefixes exported metric names.
func NewAggregator(namespace string) *Aggregator {
	return &Aggregator{
		namespace:  namespace,
		counters:   make(map[string]uint64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
	}
}

// IncrementCounter adds delta to a counter
func (a *Aggregator) IncrementCounter(name string, delta uint64) {
	a.mu.Lock()
	a.counters[name] += delta
	a.mu.Unlock()
}

// Inc adds one to a counter
func (a *Aggregator) Inc(name string) {
	a.IncrementCounter(name, 1)
}

// SetGauge stores the latest value of a gauge
func (a *Aggregator) SetGauge(name string, value float64) {
	a.mu.Lock()
	a.gauges[name] = value
	a.mu.Unlock()
}

// DeclareHistogram registers fixed bucket bounds, which must be strictly increasing.
// Redeclaring with identical bounds is a no-op.
func (a *Aggregator) DeclareHistogram(name string, bounds []float64) error {
	if len(bounds) == 0 {
		return fmt.Errorf("histogram %s: no buckets", name)
	}
	for i, b := range bounds {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("histogram %s: invalid bound %v", name, b)
		}
		if i > 0 && b <= bounds[i-1] {
			return fmt.Errorf("histogram %s: bounds must be strictly increasing", name)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.histograms[name]; ok {
		if !equalBounds(existing.bounds, bounds) {
			return fmt.Errorf("histogram %s already declared with different buckets", name)
		}
		return nil
	}
	a.histograms[name] = newHistogram(bounds)
	return nil
}

// ObserveHistogram records a value
func (a *Aggregator) ObserveHistogram(name string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, ok := a.histograms[name]
	if !ok {
		h = newHistogram(DefaultLatencyBuckets)
		a.histograms[name] = h
	}
	h.observe(value)
}

// ObserveSince records the milliseconds elapsed since start
func (a *Aggregator) ObserveSince(name string, start time.Time) {
	a.ObserveHistogram(name, float64(time.Since(start).Microseconds())/1000.0)
}

// Counter returns the current counter value
func (a *Aggregator) Counter(name string) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counters[name]
}

// Gauge returns the last value set for a gauge
func (a *Aggregator) Gauge(name string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.gauges[name]
	return v, ok
}

// Mean returns sum/count of a histogram
func (a *Aggregator) Mean(name string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h, ok := a.histograms[name]
	if !ok || h.count == 0 {
		return 0, false
	}
	return h.sum / float64(h.count), true
}

// Percentile estimates the p-th percentile (0-100) of a histogram
func (a *Aggregator) Percentile(name string, p float64) (float64, bool) {
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	h, ok := a.histograms[name]
	if !ok || h.count == 0 {
		return 0, false
	}
	return h.quantile(p / 100), true
}

// HitRate returns hits/(hits+misses), or 0 when neither was recorded
func (a *Aggregator) HitRate(hits, misses string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return hitRate(a.counters[hits], a.counters[misses])
}

func hitRate(h, m uint64) float64 {
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// Reset clears all recorded values. Histogram declarations are kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counters = make(map[string]uint64)
	a.gauges = make(map[string]float64)
	for _, h := range a.histograms {
		h.reset()
	}
}

// Bucket is one cumulative histogram bucket
type Bucket struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// HistogramSnapshot is the exported state of a histogram
type HistogramSnapshot struct {
	Buckets []Bucket `json:"buckets"`
	Sum     float64  `json:"sum"`
	Count   uint64   `json:"count"`
	Mean    float64  `json:"mean"`
	P50     float64  `json:"p50"`
	P95     float64  `json:"p95"`
	P99     float64  `json:"p99"`
}

// Snapshot is a structured export of the aggregator
type Snapshot struct {
	Timestamp  time.Time                    `json:"timestamp"`
	Counters   map[string]uint64            `json:"counters"`
	Gauges     map[string]float64           `json:"gauges"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
	Derived    map[string]float64           `json:"derived"`
}

// Snapshot copies the current state and computes derived values
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		Timestamp:  time.Now(),
		Counters:   make(map[string]uint64, len(a.counters)),
		Gauges:     make(map[string]float64, len(a.gauges)),
		Histograms: make(map[string]HistogramSnapshot, len(a.histograms)),
		Derived:    make(map[string]float64),
	}

	for k, v := range a.counters {
		snap.Counters[k] = v
	}
	for k, v := range a.gauges {
		snap.Gauges[k] = v
	}
	for k, h := range a.histograms {
		hs := HistogramSnapshot{
			Buckets: make([]Bucket, len(h.bounds)),
			Sum:     h.sum,
			Count:   h.count,
		}
		for i, b := range h.bounds {
			hs.Buckets[i] = Bucket{UpperBound: b, Count: h.counts[i]}
		}
		if h.count > 0 {
			hs.Mean = h.sum / float64(h.count)
			hs.P50 = h.quantile(0.50)
			hs.P95 = h.quantile(0.95)
			hs.P99 = h.quantile(0.99)
			snap.Derived[k+"_avg"] = hs.Mean
		}
		snap.Histograms[k] = hs
	}

	if hits, misses := a.counters["cache_hits"], a.counters["cache_misses"]; hits+misses > 0 {
		snap.Derived["cache_hit_rate"] = hitRate(hits, misses)
	}

	return snap
}

func equalBounds(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
