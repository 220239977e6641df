package compositor

import (
	"errors"
	"sync"
	"time"
)

// loop drives RenderFrame at a fixed rate on its own goroutine. Render
// requests between ticks (scrubbing, single-step) are coalesced: at most
// one extra frame renders per pending request burst.
type loop struct {
	e        *Engine
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	renderCh chan struct{}
}

func newLoop(e *Engine, fps int) *loop {
	return &loop{
		e:        e,
		interval: time.Second / time.Duration(fps),
		renderCh: make(chan struct{}, 1),
	}
}

// Start launches the render loop. onTick, if non-nil, runs on the loop
// goroutine immediately before each frame, so hosts can advance their
// timeline and swap the layer stack in lockstep with rendering; a nil
// onTick leaves the loop rendering whatever SetLayers last installed.
// Returns ErrNotInitialized unless the engine is ready. Starting a
// running loop is a no-op and keeps its original callback.
func (e *Engine) Start(onTick func()) error {
	if e.State() != StateReady {
		return ErrNotInitialized
	}
	return e.loop.start(onTick)
}

// Stop halts the render loop and waits for the in-flight frame to
// finish. Stopping a stopped loop is a no-op.
func (e *Engine) Stop() {
	e.loop.stop()
}

// Running reports whether the render loop is active.
func (e *Engine) Running() bool {
	return e.loop.isRunning()
}

// RequestRender asks the loop for one frame ahead of the next tick,
// e.g. after a scrub while playback is paused. Requests made while one
// is already pending coalesce. No-op when the loop is stopped.
func (e *Engine) RequestRender() {
	if !e.loop.isRunning() {
		return
	}
	select {
	case e.loop.renderCh <- struct{}{}:
	default:
	}
}

func (l *loop) start(onTick func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	l.running = true
	go l.run(l.stopCh, l.done, onTick)
	slogger().Info("compositor: render loop started", "interval", l.interval)
	return nil
}

func (l *loop) stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stopCh, done := l.stopCh, l.done
	l.mu.Unlock()

	close(stopCh)
	<-done
	slogger().Info("compositor: render loop stopped")
}

func (l *loop) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *loop) run(stopCh <-chan struct{}, done chan<- struct{}, onTick func()) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		case <-l.renderCh:
		}

		if onTick != nil {
			onTick()
		}
		if err := l.e.RenderFrame(); err != nil {
			if errors.Is(err, ErrDeviceLost) {
				slogger().Error("compositor: device lost, render loop halting")
				l.mu.Lock()
				l.running = false
				l.mu.Unlock()
				return
			}
			slogger().Warn("compositor: frame failed", "err", err)
		}
	}
}
