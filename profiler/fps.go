// Package profiler - frame rate and latency tracking for the detection loop.
package profiler

import (
	"sync"
	"time"
)

// FPSWindow is the number of frames between two FPS updates.
const FPSWindow = 10

// FPS measures frames per second over windows of FPSWindow frames. It is safe
// for concurrent use.
type FPS struct {
	mu     sync.Mutex
	now    func() time.Time
	frames int
	start  time.Time
	fps    float64
}

// NewFPS creates an FPS meter reading the wall clock.
func NewFPS() *FPS {
	return NewFPSWithClock(time.Now)
}

// NewFPSWithClock creates an FPS meter reading now.
func NewFPSWithClock(now func() time.Time) *FPS {
	return &FPS{now: now}
}

// Update records one frame. The rate is recomputed on every FPSWindow-th frame.
func (f *FPS) Update() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.frames%FPSWindow == 0 {
		t := f.now()
		if !f.start.IsZero() {
			if elapsed := t.Sub(f.start).Seconds(); elapsed > 0 {
				f.fps = FPSWindow / elapsed
			}
		}
		f.start = t
	}
	f.frames++
}

// Get returns the last computed rate, or 0 before the first full window.
func (f *FPS) Get() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fps
}

// Frames returns the number of Update calls.
func (f *FPS) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}
