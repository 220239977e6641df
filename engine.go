package compositor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/Sportinger/mse-compositor/internal/gpu"
	"github.com/Sportinger/mse-compositor/internal/stats"
	"github.com/Sportinger/mse-compositor/window"
)

// State describes the engine lifecycle.
type State int

const (
	// StateNew is the state before Initialize.
	StateNew State = iota

	// StateReady means the GPU is initialized and frames can render.
	StateReady

	// StateLost means the GPU device was lost. Rendering is refused
	// until the engine is re-initialized with a fresh device; all GPU
	// caches are discarded on recovery.
	StateLost

	// StateDestroyed is terminal.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateLost:
		return "lost"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TargetID identifies a registered output target.
type TargetID uint64

// OutputSurface is a presentable output the engine renders the final
// composite into each frame. Window hosts return these from
// window.Window.Surface; embedders can also register surfaces directly.
type OutputSurface interface {
	// AcquireView returns the texture view to render this frame into.
	AcquireView() (hal.TextureView, error)

	// Present shows the rendered frame, called after GPU work completes.
	Present()

	// Size returns the surface size in pixels.
	Size() (uint32, uint32)
}

// Config configures an Engine.
type Config struct {
	// Width and Height set the composition resolution in pixels.
	// Required.
	Width  uint32
	Height uint32

	// FPS is the render loop rate. Defaults to 60.
	FPS int

	// GPUMemoryBudget is the advisory GPU memory budget in bytes used
	// for the Stats memory report. Defaults to 1 GiB.
	GPUMemoryBudget uint64

	// ImageCacheLimit caps the number of cached still-image textures.
	// 0 means unlimited.
	ImageCacheLimit int

	// WindowHost creates detached output windows. Optional; without it
	// CreateOutputWindow returns window.ErrNoHost.
	WindowHost window.Host

	// Logger receives engine diagnostics. Optional.
	Logger *slog.Logger
}

// Stats is a point-in-time diagnostics snapshot.
type Stats struct {
	FPS              int
	AverageFrameTime time.Duration
	LastFrameTime    time.Duration
	LayerCount       int
	CachedImages     int
	OutputTargets    int
	Memory           stats.Memory
}

// Engine composites a layer stack into a fixed-resolution frame and
// presents it to registered output targets.
//
// All methods except SetLayers, Stats, State, and the render loop
// controls must be called from a single goroutine. Layer updates are the
// intended cross-goroutine input: decoders and UI code call SetLayers,
// and the next tick picks the new stack up.
type Engine struct {
	cfg engineConfig

	ctx      *gpu.Context
	renderer *gpu.Renderer
	tracker  *stats.Tracker
	windows  *window.Manager

	// layersMu guards the layer stack; everything else belongs to the
	// render goroutine.
	layersMu sync.Mutex
	layers   []Layer

	// initMu serializes Initialize and friends so concurrent callers
	// never acquire more than one device.
	initMu sync.Mutex

	stateMu sync.Mutex
	state   State

	targets       map[TargetID]*gpu.OutputTarget
	windowTargets map[uint64]TargetID // window ID -> its target
	targetWindows map[TargetID]uint64
	nextTarget    TargetID

	loop *loop
}

// engineConfig is the resolved configuration after defaulting.
type engineConfig struct {
	width, height   uint32
	fps             int
	imageCacheLimit int
}

// New creates an engine. No GPU work happens until Initialize.
func New(cfg Config) (*Engine, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, ErrInvalidResolution
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 60
	}
	budget := cfg.GPUMemoryBudget
	if budget == 0 {
		budget = 1 << 30
	}
	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
	}

	e := &Engine{
		cfg: engineConfig{
			width:           cfg.Width,
			height:          cfg.Height,
			fps:             fps,
			imageCacheLimit: cfg.ImageCacheLimit,
		},
		tracker:       stats.NewTracker(budget),
		targets:       make(map[TargetID]*gpu.OutputTarget),
		windowTargets: make(map[uint64]TargetID),
		targetWindows: make(map[TargetID]uint64),
		nextTarget:    1,
	}
	e.windows = window.NewManager(cfg.WindowHost, e.windowClosed)
	e.loop = newLoop(e, fps)
	return e, nil
}

// Initialize acquires a GPU device from the system and builds all
// pipelines and render targets. Calling it on a ready engine is a no-op;
// concurrent callers share a single device acquisition. After device
// loss it performs recovery: the dead device's resources are dropped and
// the engine returns to StateReady with empty caches.
func (e *Engine) Initialize() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.State() == StateReady {
		return nil
	}
	ctx, err := gpu.NewContext()
	if err != nil {
		return err
	}
	return e.initialize(ctx)
}

// InitializeWithDevice initializes on an externally owned HAL device and
// queue. The engine never destroys them.
func (e *Engine) InitializeWithDevice(device hal.Device, queue hal.Queue) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	return e.initialize(gpu.NewContextWithDevice(device, queue))
}

// InitializeWithProvider initializes on a shared device exposed by a
// gpucontext provider, letting the engine render into the same device
// the host application draws with. The provider must expose HAL access
// (HalDevice/HalQueue).
func (e *Engine) InitializeWithProvider(provider gpucontext.DeviceProvider) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	ctx, err := gpu.NewContextFromProvider(provider)
	if err != nil {
		return err
	}
	return e.initialize(ctx)
}

func (e *Engine) initialize(ctx *gpu.Context) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	recovering := false
	if e.state == StateReady && e.ctx != nil && e.ctx.Lost() {
		e.state = StateLost
	}
	switch e.state {
	case StateReady:
		// Already initialized; a self-acquired device is released
		// (wrapped contexts do not own theirs).
		ctx.Destroy()
		return nil
	case StateDestroyed:
		ctx.Destroy()
		return ErrNotInitialized
	case StateLost:
		// Recovery: every resource tied to the dead device goes.
		// Uniform, bind, and image caches die with the renderer, so
		// the fresh one starts empty.
		recovering = true
		if e.renderer != nil {
			e.renderer.Destroy()
			e.renderer = nil
		}
		if e.ctx != nil {
			e.ctx.Destroy()
			e.ctx = nil
		}
	}

	e.ctx = ctx
	e.renderer = gpu.NewRenderer(ctx, e.tracker, gpu.Config{
		Width:           e.cfg.width,
		Height:          e.cfg.height,
		ImageCacheLimit: e.cfg.imageCacheLimit,
	})
	if err := e.renderer.Initialize(); err != nil {
		e.renderer = nil
		ctx.Destroy()
		e.ctx = nil
		return err
	}
	if recovering {
		// Surviving output targets move to the new device, keeping
		// their IDs and grid settings.
		for id, old := range e.targets {
			t, err := e.renderer.RegisterTarget(old.Surface())
			if err != nil {
				slogger().Warn("compositor: target dropped during recovery",
					"target", id, "error", err)
				delete(e.targets, id)
				if winID, ok := e.targetWindows[id]; ok {
					delete(e.targetWindows, id)
					delete(e.windowTargets, winID)
				}
				continue
			}
			if old.Grid() {
				e.renderer.SetTargetGrid(t, true)
			}
			e.targets[id] = t
		}
	}
	e.state = StateReady
	return nil
}

// State returns the engine lifecycle state, accounting for device loss.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state == StateReady && e.ctx != nil && e.ctx.Lost() {
		e.state = StateLost
	}
	return e.state
}

// SetLayers replaces the layer stack. Index 0 renders on top. The slice
// is copied; the caller may reuse it. Safe to call from any goroutine.
func (e *Engine) SetLayers(layers []Layer) {
	cp := make([]Layer, len(layers))
	copy(cp, layers)
	e.layersMu.Lock()
	e.layers = cp
	e.layersMu.Unlock()
}

// Layers returns a copy of the current layer stack.
func (e *Engine) Layers() []Layer {
	e.layersMu.Lock()
	defer e.layersMu.Unlock()
	cp := make([]Layer, len(e.layers))
	copy(cp, e.layers)
	return cp
}

// RenderFrame composites the current layer stack once and presents it to
// every registered target. Called by the render loop; callers driving
// frames manually (tests, offline render) may call it directly.
func (e *Engine) RenderFrame() error {
	if e.State() != StateReady {
		if e.State() == StateLost {
			return ErrDeviceLost
		}
		return ErrNotInitialized
	}

	start := time.Now()
	layers := e.Layers()

	draws := make([]gpu.LayerDraw, 0, len(layers))
	for i := range layers {
		d, ok := resolveDraw(&layers[i], e.renderer.ImageCached)
		if !ok {
			// No content this tick; retried next frame.
			slogger().Debug("compositor: layer skipped", "layer", layers[i].ID)
			continue
		}
		draws = append(draws, d)
	}

	res, err := e.renderer.RenderFrame(draws)
	if err != nil {
		return err
	}
	e.tracker.AddFrame(time.Since(start), res.Layers)
	return nil
}

// SetResolution changes the composition resolution. Render targets are
// reallocated on the next frame.
func (e *Engine) SetResolution(width, height uint32) error {
	if width == 0 || height == 0 {
		return ErrInvalidResolution
	}
	e.cfg.width, e.cfg.height = width, height
	if e.renderer == nil {
		return nil
	}
	return e.renderer.SetResolution(width, height)
}

// Resolution returns the composition resolution.
func (e *Engine) Resolution() (uint32, uint32) {
	if e.renderer == nil {
		return e.cfg.width, e.cfg.height
	}
	return e.renderer.Resolution()
}

// RegisterTarget adds an output surface to the presentation fan-out and
// returns its ID.
func (e *Engine) RegisterTarget(s OutputSurface) (TargetID, error) {
	if e.State() != StateReady {
		return 0, ErrNotInitialized
	}
	t, err := e.renderer.RegisterTarget(s)
	if err != nil {
		return 0, err
	}
	id := e.nextTarget
	e.nextTarget++
	e.targets[id] = t
	return id, nil
}

// UnregisterTarget removes an output target. Unknown IDs are ignored.
func (e *Engine) UnregisterTarget(id TargetID) {
	t, ok := e.targets[id]
	if !ok {
		return
	}
	delete(e.targets, id)
	if winID, ok := e.targetWindows[id]; ok {
		delete(e.targetWindows, id)
		delete(e.windowTargets, winID)
	}
	e.renderer.UnregisterTarget(t)
}

// SetTargetTransparencyGrid toggles the checkerboard drawn behind
// transparent regions on one target.
func (e *Engine) SetTargetTransparencyGrid(id TargetID, on bool) error {
	t, ok := e.targets[id]
	if !ok {
		return ErrTargetNotFound
	}
	e.renderer.SetTargetGrid(t, on)
	return nil
}

// TargetCount returns the number of registered output targets.
func (e *Engine) TargetCount() int { return len(e.targets) }

// CreateOutputWindow opens a detached output window through the
// configured host, registers its surface as an output target, and
// returns the target ID. The window's aspect ratio is locked to its
// initial size.
func (e *Engine) CreateOutputWindow(opts window.Options) (TargetID, error) {
	if e.State() != StateReady {
		return 0, ErrNotInitialized
	}
	winID, err := e.windows.Open(opts)
	if err != nil {
		return 0, err
	}
	win, err := e.windows.Get(winID)
	if err != nil {
		return 0, err
	}
	surface, ok := win.Surface().(OutputSurface)
	if !ok {
		_ = e.windows.Close(winID)
		return 0, fmt.Errorf("compositor: window surface is not presentable")
	}
	id, err := e.RegisterTarget(surface)
	if err != nil {
		_ = e.windows.Close(winID)
		return 0, err
	}
	e.windowTargets[winID] = id
	e.targetWindows[id] = winID
	slogger().Info("compositor: output window opened",
		"window", winID, "target", id, "width", opts.Width, "height", opts.Height)
	return id, nil
}

// CloseOutputWindow closes the window behind an output target and
// unregisters the target.
func (e *Engine) CloseOutputWindow(id TargetID) error {
	winID, ok := e.targetWindows[id]
	if !ok {
		return ErrTargetNotFound
	}
	e.UnregisterTarget(id)
	return e.windows.Close(winID)
}

// SetWindowFullscreen toggles fullscreen on the window behind an output
// target. The aspect lock is suspended while fullscreen.
func (e *Engine) SetWindowFullscreen(id TargetID, on bool) error {
	winID, ok := e.targetWindows[id]
	if !ok {
		return ErrTargetNotFound
	}
	return e.windows.SetFullscreen(winID, on)
}

// windowClosed is the window manager's close callback: the user closed a
// window, so its target must stop receiving frames.
func (e *Engine) windowClosed(winID uint64) {
	id, ok := e.windowTargets[winID]
	if !ok {
		return
	}
	delete(e.windowTargets, winID)
	delete(e.targetWindows, id)
	if t, ok := e.targets[id]; ok {
		delete(e.targets, id)
		e.renderer.UnregisterTarget(t)
	}
	slogger().Info("compositor: output window closed", "window", winID, "target", id)
}

// DropImage evicts one cached still-image texture by key.
func (e *Engine) DropImage(key string) {
	if e.renderer != nil {
		e.renderer.DropImage(key)
	}
}

// Stats returns a diagnostics snapshot.
func (e *Engine) Stats() Stats {
	f := e.tracker.Frame()
	s := Stats{
		FPS:              f.FPS,
		AverageFrameTime: f.AverageFrameTime,
		LastFrameTime:    f.LastFrameTime,
		LayerCount:       f.LayerCount,
		OutputTargets:    len(e.targets),
		Memory:           e.tracker.Memory(),
	}
	if e.renderer != nil {
		s.CachedImages = e.renderer.CachedImages()
	}
	return s
}

// NotifyDeviceLost marks the GPU device as lost, for hosts that observe
// loss out-of-band. GPU work fails with ErrDeviceLost until the engine
// is re-initialized with a fresh device.
func (e *Engine) NotifyDeviceLost() {
	if e.ctx != nil {
		e.ctx.NotifyLost()
	}
}

// Destroy stops the render loop, closes all windows, and releases every
// GPU resource. Idempotent.
func (e *Engine) Destroy() {
	e.stateMu.Lock()
	if e.state == StateDestroyed {
		e.stateMu.Unlock()
		return
	}
	e.state = StateDestroyed
	e.stateMu.Unlock()

	e.loop.stop()
	e.windows.CloseAll()
	for id := range e.targets {
		delete(e.targets, id)
	}
	e.windowTargets = make(map[uint64]TargetID)
	e.targetWindows = make(map[TargetID]uint64)
	if e.renderer != nil {
		e.renderer.Destroy()
	}
	if e.ctx != nil {
		e.ctx.Destroy()
		e.ctx = nil
	}
}
