package profiler

import (
	"fmt"
	"sync"
	"time"
)

// TimeTracker tracks operation timing statistics over the last MaxSamples
// durations. It is safe for concurrent use.
type TimeTracker struct {
	name       string
	maxSamples int

	mu        sync.Mutex
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// TimeStats is a snapshot of a TimeTracker.
type TimeStats struct {
	Name  string
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s TimeStats) String() string {
	return fmt.Sprintf("%s: avg=%v, min=%v, max=%v, count=%d",
		s.Name, s.Avg.Truncate(time.Microsecond),
		s.Min.Truncate(time.Microsecond),
		s.Max.Truncate(time.Microsecond),
		s.Count)
}

// NewTimeTracker creates a tracker that averages over maxSamples durations
// (600 when maxSamples is not positive).
func NewTimeTracker(name string, maxSamples int) *TimeTracker {
	if maxSamples <= 0 {
		maxSamples = 600
	}
	return &TimeTracker{
		name:       name,
		maxSamples: maxSamples,
		durations:  make([]time.Duration, 0, maxSamples),
	}
}

// Record adds one duration. Min and max cover every recorded duration; the
// average covers the retained window.
func (t *TimeTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 || d < t.minTime {
		t.minTime = d
	}
	if t.count == 0 || d > t.maxTime {
		t.maxTime = d
	}

	t.durations = append(t.durations, d)
	t.totalTime += d
	if len(t.durations) > t.maxSamples {
		// Remove oldest sample
		t.totalTime -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
}

// Start begins timing an operation.
//
// Returns:
//   - A function to call when the operation completes.
func (t *TimeTracker) Start() func() {
	start := time.Now()
	return func() {
		t.Record(time.Since(start))
	}
}

// Stats returns the current statistics.
func (t *TimeTracker) Stats() TimeStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TimeStats{
		Name:  t.name,
		Count: t.count,
		Min:   t.minTime,
		Max:   t.maxTime,
	}
	if n := len(t.durations); n > 0 {
		s.Avg = t.totalTime / time.Duration(n)
	}
	return s
}
