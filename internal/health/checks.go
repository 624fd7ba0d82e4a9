package health

import (
	"context"
	"fmt"
	"runtime"
	"syscall"
	"time"
)

// Pinger is satisfied by every KV store
type Pinger interface {
	Ping(ctx context.Context) error
}

// CounterSource exposes counter values
type CounterSource interface {
	Counter(name string) uint64
}

// StoreLatencyCheck measures the round trip of a store ping in milliseconds
func StoreLatencyCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) (Observation, error) {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			return Observation{}, fmt.Errorf("store unreachable: %w", err)
		}
		ms := float64(time.Since(start).Microseconds()) / 1000
		return Observation{Value: Value(ms), Message: fmt.Sprintf("ping %.2fms", ms)}, nil
	}
}

// CacheHitRateCheck reports the cache hit rate as a percentage. Below minSamples
// lookups it reports no value.
func CacheHitRateCheck(src CounterSource, hits, misses string, minSamples uint64) CheckFunc {
	return func(ctx context.Context) (Observation, error) {
		h, m := src.Counter(hits), src.Counter(misses)
		total := h + m
		if total < minSamples {
			return Observation{Message: fmt.Sprintf("insufficient samples (%d)", total)}, nil
		}
		rate := float64(h) / float64(total) * 100
		return Observation{Value: Value(rate), Message: fmt.Sprintf("hit rate %.2f%% over %d lookups", rate, total)}, nil
	}
}

// GoroutineCheck reports the number of goroutines
func GoroutineCheck() CheckFunc {
	return func(ctx context.Context) (Observation, error) {
		n := runtime.NumGoroutine()
		return Observation{Value: Value(float64(n)), Message: fmt.Sprintf("%d goroutines", n)}, nil
	}
}

// HeapCheck reports heap in use in megabytes
func HeapCheck() CheckFunc {
	return func(ctx context.Context) (Observation, error) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		mb := float64(ms.HeapInuse) / 1024 / 1024
		return Observation{Value: Value(mb), Message: fmt.Sprintf("heap in use %.1f MB", mb)}, nil
	}
}

// DiskUsageCheck reports the used percentage of the filesystem holding dir
func DiskUsageCheck(dir string) CheckFunc {
	return func(ctx context.Context) (Observation, error) {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(dir, &stat); err != nil {
			return Observation{}, fmt.Errorf("failed to stat filesystem: %w", err)
		}

		total := stat.Blocks * uint64(stat.Bsize)
		if total == 0 {
			return Observation{Message: "filesystem reports zero size"}, nil
		}
		used := total - stat.Bfree*uint64(stat.Bsize)
		available := stat.Bavail * uint64(stat.Bsize)
		usage := float64(used) / float64(total) * 100
		return Observation{
			Value:   Value(usage),
			Message: fmt.Sprintf("disk usage %.2f%%, available %.2f GB", usage, float64(available)/1024/1024/1024),
		}, nil
	}
}
