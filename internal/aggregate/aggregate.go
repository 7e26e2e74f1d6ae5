// Package aggregate accumulates per-kernel timing statistics and the flat
// interval timeline used for trace reconstruction.
package aggregate

import (
	"fmt"
	"sync"
)

// KernelStats holds the accumulated timing for one statistics bucket.
// CallCount is at least 1 whenever the bucket exists, and updates are
// monotonic: counts and maxima never shrink, minima never grow.
type KernelStats struct {
	TotalTimeNS uint64
	MinTimeNS   uint64
	MaxTimeNS   uint64
	CallCount   uint64
	MaxWidth    uint32
}

// AvgTimeNS is the truncating mean duration of the bucket.
func (s KernelStats) AvgTimeNS() uint64 {
	if s.CallCount == 0 {
		return 0
	}
	return s.TotalTimeNS / s.CallCount
}

// KernelInterval is one completed kernel execution on the device timeline.
// StartNS < EndNS always.
type KernelInterval struct {
	Name    string
	StartNS uint64
	EndNS   uint64
}

// Options configures bucketing behavior.
type Options struct {
	// WidthBuckets keys statistics by name and execution width instead of
	// name alone. Off by default: distinct widths merge under max(width),
	// matching the upstream collector.
	WidthBuckets bool
	// Timeline retains the per-instance interval list in addition to the
	// aggregated statistics.
	Timeline bool
}

// Aggregator is the sole writer of its statistics and interval storage.
// Readers obtain deep copies through Snapshot.
type Aggregator struct {
	mu        sync.RWMutex
	opts      Options
	stats     map[string]KernelStats
	intervals []KernelInterval
}

func New(opts Options) *Aggregator {
	return &Aggregator{
		opts:  opts,
		stats: make(map[string]KernelStats),
	}
}

// key derives the statistics bucket for a kernel occurrence.
func (a *Aggregator) key(name string, width uint32) string {
	if a.opts.WidthBuckets {
		return fmt.Sprintf("%s/%d", name, width)
	}
	return name
}

// Record folds one completed kernel execution into its bucket and, when the
// timeline is enabled, appends the interval.
func (a *Aggregator) Record(name string, startNS, endNS uint64, width uint32) {
	duration := endNS - startNS

	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.key(name, width)
	s, ok := a.stats[key]
	if !ok {
		a.stats[key] = KernelStats{
			TotalTimeNS: duration,
			MinTimeNS:   duration,
			MaxTimeNS:   duration,
			CallCount:   1,
			MaxWidth:    width,
		}
	} else {
		s.TotalTimeNS += duration
		s.CallCount++
		if duration < s.MinTimeNS {
			s.MinTimeNS = duration
		}
		if duration > s.MaxTimeNS {
			s.MaxTimeNS = duration
		}
		if width > s.MaxWidth {
			s.MaxWidth = width
		}
		a.stats[key] = s
	}

	if a.opts.Timeline {
		a.intervals = append(a.intervals, KernelInterval{Name: name, StartNS: startNS, EndNS: endNS})
	}
}

// Snapshot is an immutable copy of the current statistics and timeline.
type Snapshot struct {
	Stats     map[string]KernelStats
	Intervals []KernelInterval
}

// Snapshot returns a deep copy safe to read without further coordination.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := make(map[string]KernelStats, len(a.stats))
	for k, v := range a.stats {
		stats[k] = v
	}
	intervals := make([]KernelInterval, len(a.intervals))
	copy(intervals, a.intervals)
	return Snapshot{Stats: stats, Intervals: intervals}
}
