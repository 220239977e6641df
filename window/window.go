// Package window manages detached output windows for the compositing
// engine. The engine itself never talks to a native windowing toolkit:
// the embedding application supplies a Host that can create windows, and
// the Manager layers aspect-ratio-locked resizing and fullscreen handling
// on top.
package window

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoHost is returned when windows are requested without a Host.
	ErrNoHost = errors.New("window: no host configured")

	// ErrNotFound is returned for operations on an unknown window ID.
	ErrNotFound = errors.New("window: not found")
)

// Options configures a new output window.
type Options struct {
	Title  string
	Width  uint32
	Height uint32
}

// Window is a native window created by a Host. Surface returns the
// backend-specific presentation surface the engine renders into; its
// concrete type is an agreement between the Host and the engine's GPU
// backend.
type Window interface {
	// Size returns the current client-area size in pixels.
	Size() (width, height uint32)

	// SetSize requests a client-area resize. The host confirms the new
	// size through the resize handler once it takes effect.
	SetSize(width, height uint32)

	// SetFullscreen switches between fullscreen and windowed mode.
	SetFullscreen(on bool)

	// Fullscreen reports whether the window is currently fullscreen.
	Fullscreen() bool

	// SetResizeHandler installs the callback invoked when the host
	// observes a size change, user-initiated or programmatic.
	SetResizeHandler(fn func(width, height uint32))

	// SetCloseHandler installs the callback invoked when the user closes
	// the window.
	SetCloseHandler(fn func())

	// Surface returns the presentation surface for this window.
	Surface() any

	// Close destroys the window. Idempotent.
	Close() error
}

// Host creates native windows on behalf of the engine.
type Host interface {
	CreateWindow(opts Options) (Window, error)
}

// resizeCooldown is how long after a programmatic resize user resize
// events keep being interpreted as host echoes. Hosts that deliver the
// confirming resize event promptly clear the guard well before this.
const resizeCooldown = 250 * time.Millisecond

type managed struct {
	win    Window
	aspect float64 // width / height, locked at open time

	lastW, lastH uint32

	// adjusting is set while a programmatic corrective resize is in
	// flight. Resize events received during that interval (or within the
	// cooldown) are host echoes, not user input, and must not trigger
	// another correction.
	adjusting   bool
	adjustUntil time.Time
	expectW     uint32
	expectH     uint32
}

// Manager tracks open output windows and enforces the aspect-ratio lock.
// All methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	host    Host
	windows map[uint64]*managed
	nextID  uint64

	onClose func(id uint64)

	now func() time.Time
}

// NewManager creates a manager that opens windows through host.
// onClose, if non-nil, is invoked (without the manager lock held) after a
// window is closed by the user.
func NewManager(host Host, onClose func(id uint64)) *Manager {
	return &Manager{
		host:    host,
		windows: make(map[uint64]*managed),
		nextID:  1,
		onClose: onClose,
		now:     time.Now,
	}
}

// Open creates a new output window locked to the aspect ratio of its
// initial size and returns its ID.
func (m *Manager) Open(opts Options) (uint64, error) {
	if m == nil || m.host == nil {
		return 0, ErrNoHost
	}
	if opts.Width == 0 || opts.Height == 0 {
		return 0, fmt.Errorf("window: invalid size %dx%d", opts.Width, opts.Height)
	}

	win, err := m.host.CreateWindow(opts)
	if err != nil {
		return 0, fmt.Errorf("window: create: %w", err)
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	mw := &managed{
		win:    win,
		aspect: float64(opts.Width) / float64(opts.Height),
		lastW:  opts.Width,
		lastH:  opts.Height,
	}
	m.windows[id] = mw
	m.mu.Unlock()

	win.SetResizeHandler(func(w, h uint32) { m.handleResize(id, w, h) })
	win.SetCloseHandler(func() { m.handleClose(id) })
	return id, nil
}

// Get returns the window with the given ID.
func (m *Manager) Get(id uint64) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mw, ok := m.windows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return mw.win, nil
}

// IDs returns the IDs of all open windows.
func (m *Manager) IDs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.windows))
	for id := range m.windows {
		ids = append(ids, id)
	}
	return ids
}

// SetFullscreen toggles fullscreen on the given window. The aspect lock
// is suspended while fullscreen: the host owns the size.
func (m *Manager) SetFullscreen(id uint64, on bool) error {
	win, err := m.Get(id)
	if err != nil {
		return err
	}
	win.SetFullscreen(on)
	return nil
}

// Close destroys the given window.
func (m *Manager) Close(id uint64) error {
	m.mu.Lock()
	mw, ok := m.windows[id]
	if ok {
		delete(m.windows, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return mw.win.Close()
}

// CloseAll destroys every open window.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	wins := make([]*managed, 0, len(m.windows))
	for _, mw := range m.windows {
		wins = append(wins, mw)
	}
	m.windows = make(map[uint64]*managed)
	m.mu.Unlock()
	for _, mw := range wins {
		_ = mw.win.Close()
	}
}

// handleResize enforces the aspect lock. The axis the user moved more
// (relative to the last accepted size) wins; the other axis is recomputed
// from the locked aspect ratio and corrected with a programmatic resize.
func (m *Manager) handleResize(id uint64, w, h uint32) {
	m.mu.Lock()
	mw, ok := m.windows[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	if mw.win.Fullscreen() {
		mw.lastW, mw.lastH = w, h
		m.mu.Unlock()
		return
	}

	if mw.adjusting {
		if w == mw.expectW && h == mw.expectH {
			// Host confirmed our corrective resize.
			mw.adjusting = false
			mw.lastW, mw.lastH = w, h
			m.mu.Unlock()
			return
		}
		if m.now().Before(mw.adjustUntil) {
			// Intermediate echo of the in-flight correction.
			m.mu.Unlock()
			return
		}
		// Cooldown expired without confirmation; treat as user input.
		mw.adjusting = false
	}

	if w == 0 || h == 0 {
		// Minimized; ignore.
		m.mu.Unlock()
		return
	}
	if w == mw.lastW && h == mw.lastH {
		m.mu.Unlock()
		return
	}

	dw := absDiff(w, mw.lastW)
	dh := absDiff(h, mw.lastH)

	var targetW, targetH uint32
	if dw >= dh {
		targetW = w
		targetH = uint32(float64(w)/mw.aspect + 0.5)
	} else {
		targetH = h
		targetW = uint32(float64(h)*mw.aspect + 0.5)
	}
	if targetW == 0 {
		targetW = 1
	}
	if targetH == 0 {
		targetH = 1
	}

	if targetW == w && targetH == h {
		mw.lastW, mw.lastH = w, h
		m.mu.Unlock()
		return
	}

	mw.adjusting = true
	mw.adjustUntil = m.now().Add(resizeCooldown)
	mw.expectW, mw.expectH = targetW, targetH
	mw.lastW, mw.lastH = targetW, targetH
	win := mw.win
	m.mu.Unlock()

	win.SetSize(targetW, targetH)
}

func (m *Manager) handleClose(id uint64) {
	m.mu.Lock()
	mw, ok := m.windows[id]
	if ok {
		delete(m.windows, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = mw.win.Close()
	if m.onClose != nil {
		m.onClose(id)
	}
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
