// Package stats collects frame-timing and GPU-memory diagnostics for the
// compositing engine. All values are observational: nothing in the render
// path gates on them.
package stats

import (
	"fmt"
	"sync"
	"time"
)

// FrameSampleCount is the capacity of the frame-time ring buffer.
const FrameSampleCount = 60

// Frame holds a snapshot of frame-loop diagnostics.
type Frame struct {
	// FPS is the number of frames completed during the last whole second.
	FPS int

	// AverageFrameTime is the mean of the buffered frame-time samples.
	AverageFrameTime time.Duration

	// LastFrameTime is the most recent frame-time sample.
	LastFrameTime time.Duration

	// LayerCount is the number of layers composited in the last frame.
	LayerCount int
}

// Memory holds GPU memory accounting for engine-owned resources.
// Reserved tracks bytes currently allocated (textures, uniform buffers,
// render targets); Unused is the remainder of the configured budget.
type Memory struct {
	ReservedBytes uint64
	UnusedBytes   uint64
}

// String returns a human-readable memory summary.
func (m Memory) String() string {
	return fmt.Sprintf("gpu-mem[reserved=%d MB unused=%d MB]",
		m.ReservedBytes/(1024*1024), m.UnusedBytes/(1024*1024))
}

// Tracker accumulates frame and memory statistics.
// Tracker is safe for concurrent use: the render loop writes samples while
// diagnostics readers poll snapshots.
type Tracker struct {
	mu sync.Mutex

	samples [FrameSampleCount]time.Duration
	filled  int
	next    int

	fps        int
	frameCount int
	fpsWindow  time.Time

	layerCount int

	budgetBytes   uint64
	reservedBytes uint64

	now func() time.Time
}

// NewTracker creates a tracker with the given GPU memory budget in bytes.
// A budget of 0 reports zero unused memory (reserved-only accounting).
func NewTracker(budgetBytes uint64) *Tracker {
	return &Tracker{
		budgetBytes: budgetBytes,
		now:         time.Now,
	}
}

// AddFrame records one completed frame: its wall-clock duration and the
// number of layers composited. The FPS counter resets every second.
func (t *Tracker) AddFrame(frameTime time.Duration, layerCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.next] = frameTime
	t.next = (t.next + 1) % FrameSampleCount
	if t.filled < FrameSampleCount {
		t.filled++
	}
	t.layerCount = layerCount

	now := t.now()
	if t.fpsWindow.IsZero() {
		t.fpsWindow = now
	}
	t.frameCount++
	if now.Sub(t.fpsWindow) >= time.Second {
		t.fps = t.frameCount
		t.frameCount = 0
		t.fpsWindow = now
	}
}

// Frame returns the current frame diagnostics snapshot.
func (t *Tracker) Frame() Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sum time.Duration
	for i := 0; i < t.filled; i++ {
		sum += t.samples[i]
	}
	avg := time.Duration(0)
	if t.filled > 0 {
		avg = sum / time.Duration(t.filled)
	}

	last := time.Duration(0)
	if t.filled > 0 {
		lastIdx := (t.next - 1 + FrameSampleCount) % FrameSampleCount
		last = t.samples[lastIdx]
	}

	return Frame{
		FPS:              t.fps,
		AverageFrameTime: avg,
		LastFrameTime:    last,
		LayerCount:       t.layerCount,
	}
}

// Reserve records a GPU allocation of the given size.
func (t *Tracker) Reserve(bytes uint64) {
	t.mu.Lock()
	t.reservedBytes += bytes
	t.mu.Unlock()
}

// Release records a GPU deallocation of the given size.
// Releasing more than was reserved clamps to zero rather than wrapping.
func (t *Tracker) Release(bytes uint64) {
	t.mu.Lock()
	if bytes > t.reservedBytes {
		t.reservedBytes = 0
	} else {
		t.reservedBytes -= bytes
	}
	t.mu.Unlock()
}

// Memory returns the current GPU memory accounting snapshot.
func (t *Tracker) Memory() Memory {
	t.mu.Lock()
	defer t.mu.Unlock()

	unused := uint64(0)
	if t.budgetBytes > t.reservedBytes {
		unused = t.budgetBytes - t.reservedBytes
	}
	return Memory{ReservedBytes: t.reservedBytes, UnusedBytes: unused}
}

// ResetFrames clears frame samples and counters. Memory accounting is kept:
// reserved bytes describe live allocations, which survive a loop restart.
func (t *Tracker) ResetFrames() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = [FrameSampleCount]time.Duration{}
	t.filled = 0
	t.next = 0
	t.fps = 0
	t.frameCount = 0
	t.fpsWindow = time.Time{}
	t.layerCount = 0
}
