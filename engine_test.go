package compositor

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/Sportinger/mse-compositor/window"
)

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, func()) {
	t.Helper()
	if cfg.Width == 0 {
		cfg.Width, cfg.Height = 320, 180
	}
	device, queue, deviceCleanup := createNoopDevice(t)
	e, err := New(cfg)
	if err != nil {
		deviceCleanup()
		t.Fatalf("New failed: %v", err)
	}
	if err := e.InitializeWithDevice(device, queue); err != nil {
		deviceCleanup()
		t.Fatalf("InitializeWithDevice failed: %v", err)
	}
	return e, func() {
		e.Destroy()
		deviceCleanup()
	}
}

// staticFrames yields the same frame every tick.
type staticFrames struct {
	frame *Frame
	calls int
}

func (s *staticFrames) CurrentFrame() *Frame {
	s.calls++
	return s.frame
}

func testFrame(w, h int) *Frame {
	return &Frame{Width: w, Height: h, Data: make([]byte, w*h*4)}
}

// stillImage is an ImageSource that counts decodes.
type stillImage struct {
	key     string
	gen     uint64
	w, h    int
	decodes int
}

func (s *stillImage) ImageKey() string        { return s.key }
func (s *stillImage) ImageGeneration() uint64 { return s.gen }

func (s *stillImage) Image() image.Image {
	s.decodes++
	img := image.NewRGBA(image.Rect(0, 0, s.w, s.h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

// dualSource implements both FrameSource and ImageSource.
type dualSource struct {
	staticFrames
	stillImage
}

// viewSurface presents into a plain texture on the test device.
type viewSurface struct {
	view      hal.TextureView
	presented int
}

func (s *viewSurface) AcquireView() (hal.TextureView, error) { return s.view, nil }
func (s *viewSurface) Present()                              { s.presented++ }
func (s *viewSurface) Size() (uint32, uint32)                { return 320, 180 }

func newViewSurface(t *testing.T, device hal.Device) *viewSurface {
	t.Helper()
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "test_surface",
		Size:          hal.Extent3D{Width: 320, Height: 180, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatBGRA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("create surface texture: %v", err)
	}
	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:  "test_surface_view",
		Aspect: gputypes.TextureAspectAll,
	})
	if err != nil {
		t.Fatalf("create surface view: %v", err)
	}
	return &viewSurface{view: view}
}

func TestNewRejectsZeroResolution(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("err = %v, want ErrInvalidResolution", err)
	}
}

func TestRenderBeforeInitialize(t *testing.T) {
	e, err := New(Config{Width: 64, Height: 64})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.RenderFrame(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
	if got := e.State(); got != StateNew {
		t.Errorf("state = %v, want new", got)
	}
}

func TestRenderFrameCountsLayers(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	e.SetLayers([]Layer{
		{ID: 1, Source: &staticFrames{frame: testFrame(8, 8)}, Opacity: 1},
		{ID: 2, Source: &staticFrames{frame: testFrame(8, 8)}, Opacity: 1},
	})
	if err := e.RenderFrame(); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	if got := e.Stats().LayerCount; got != 2 {
		t.Errorf("layer count = %d, want 2", got)
	}
}

func TestHiddenAndSourcelessLayersSkipped(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	e.SetLayers([]Layer{
		{ID: 1, Source: &staticFrames{frame: testFrame(8, 8)}, Opacity: 1, Hidden: true},
		{ID: 2, Opacity: 1}, // no source
		{ID: 3, Source: &staticFrames{}, Opacity: 1}, // source with no frame yet
	})
	if err := e.RenderFrame(); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	if got := e.Stats().LayerCount; got != 0 {
		t.Errorf("layer count = %d, want 0", got)
	}
}

func TestImageDecodedOncePerGeneration(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	src := &stillImage{key: "poster", gen: 1, w: 4, h: 4}
	e.SetLayers([]Layer{{ID: 1, Source: src, Opacity: 1}})

	for i := 0; i < 3; i++ {
		if err := e.RenderFrame(); err != nil {
			t.Fatalf("frame %d failed: %v", i, err)
		}
	}
	if src.decodes != 1 {
		t.Errorf("decodes = %d, want 1 (texture cached after first frame)", src.decodes)
	}
	if got := e.Stats().CachedImages; got != 1 {
		t.Errorf("cached images = %d, want 1", got)
	}

	// A generation bump forces one re-decode and re-upload.
	src.gen = 2
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if src.decodes != 2 {
		t.Errorf("decodes = %d, want 2 after generation bump", src.decodes)
	}
}

func TestFrameSourceWinsOverImage(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	src := &dualSource{}
	src.staticFrames.frame = testFrame(8, 8)
	src.stillImage = stillImage{key: "fallback", gen: 1, w: 4, h: 4}
	e.SetLayers([]Layer{{ID: 1, Source: src, Opacity: 1}})

	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if src.stillImage.decodes != 0 {
		t.Errorf("image decoded %d times, want 0 while frames flow", src.stillImage.decodes)
	}

	// Frames stop: the still takes over as poster.
	src.staticFrames.frame = nil
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if src.stillImage.decodes != 1 {
		t.Errorf("image decoded %d times, want 1 as fallback", src.stillImage.decodes)
	}
}

// streamSource gates its frames behind a ready count.
type streamSource struct {
	staticFrames
	ready int
}

func (s *streamSource) ReadyFrames() int { return s.ready }

func TestStreamSourceWaitsForReadyFrames(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	src := &streamSource{}
	src.frame = testFrame(8, 8)
	e.SetLayers([]Layer{{ID: 1, Source: src, Opacity: 1}})

	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if src.calls != 0 {
		t.Errorf("frame acquired %d times with 0 ready frames, want 0", src.calls)
	}
	if got := e.Stats().LayerCount; got != 0 {
		t.Errorf("layer count = %d, want 0 while stream stalled", got)
	}

	src.ready = 1
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Errorf("frame acquired %d times, want 1", src.calls)
	}
	if got := e.Stats().LayerCount; got != 1 {
		t.Errorf("layer count = %d, want 1", got)
	}
}

func TestSharedTextureFrameComposites(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	// A decoded frame already resident on the device: presented via its
	// view, no pixel data crosses the CPU boundary.
	shared := newViewSurface(t, e.ctx.Device())
	e.SetLayers([]Layer{{
		ID:      1,
		Source:  &staticFrames{frame: &Frame{Width: 320, Height: 180, View: shared.view}},
		Opacity: 1,
	}})

	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if got := e.Stats().LayerCount; got != 1 {
		t.Errorf("layer count = %d, want 1", got)
	}
	if got := e.Stats().CachedImages; got != 0 {
		t.Errorf("cached images = %d, want 0 for shared-texture frames", got)
	}
}

func TestRegisterAndUnregisterTarget(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	s := newViewSurface(t, e.ctx.Device())
	id, err := e.RegisterTarget(s)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.TargetCount(); got != 1 {
		t.Fatalf("targets = %d, want 1", got)
	}
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
	if s.presented != 1 {
		t.Errorf("presented = %d, want 1", s.presented)
	}

	e.UnregisterTarget(id)
	if got := e.TargetCount(); got != 0 {
		t.Errorf("targets = %d, want 0", got)
	}
	e.UnregisterTarget(id) // no-op
}

func TestSetTargetTransparencyGridUnknown(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	if err := e.SetTargetTransparencyGrid(99, true); !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("err = %v, want ErrTargetNotFound", err)
	}
	if err := e.CloseOutputWindow(99); !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("CloseOutputWindow err = %v, want ErrTargetNotFound", err)
	}
	if err := e.SetWindowFullscreen(99, true); !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("SetWindowFullscreen err = %v, want ErrTargetNotFound", err)
	}
}

func TestSetResolutionBeforeInitialize(t *testing.T) {
	e, err := New(Config{Width: 64, Height: 64})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetResolution(128, 72); err != nil {
		t.Fatal(err)
	}
	if w, h := e.Resolution(); w != 128 || h != 72 {
		t.Errorf("resolution = %dx%d, want 128x72", w, h)
	}
	if err := e.SetResolution(0, 72); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("err = %v, want ErrInvalidResolution", err)
	}
}

func TestDeviceLostRefusesFrames(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	e.NotifyDeviceLost()
	if got := e.State(); got != StateLost {
		t.Errorf("state = %v, want lost", got)
	}
	if err := e.RenderFrame(); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("err = %v, want ErrDeviceLost", err)
	}
}

func TestReinitializeAfterDeviceLoss(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	src := &stillImage{key: "poster", gen: 1, w: 4, h: 4}
	e.SetLayers([]Layer{{ID: 1, Source: src, Opacity: 1}})

	device, _, surfaceCleanup := createNoopDevice(t)
	defer surfaceCleanup()
	surface := newViewSurface(t, device)
	if _, err := e.RegisterTarget(surface); err != nil {
		t.Fatal(err)
	}
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}

	e.NotifyDeviceLost()
	if err := e.RenderFrame(); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("err = %v, want ErrDeviceLost", err)
	}

	// Recovery: a fresh device brings the engine back with empty caches
	// and the registered target intact.
	newDevice, newQueue, newCleanup := createNoopDevice(t)
	defer newCleanup()
	if err := e.InitializeWithDevice(newDevice, newQueue); err != nil {
		t.Fatalf("re-initialize after loss: %v", err)
	}
	if got := e.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}
	if got := e.Stats().CachedImages; got != 0 {
		t.Errorf("cached images after recovery = %d, want 0", got)
	}
	if got := e.TargetCount(); got != 1 {
		t.Errorf("targets after recovery = %d, want 1", got)
	}

	presented := surface.presented
	if err := e.RenderFrame(); err != nil {
		t.Fatalf("frame after recovery: %v", err)
	}
	if src.decodes != 2 {
		t.Errorf("decodes = %d, want 2 (image re-decoded on the new device)", src.decodes)
	}
	if surface.presented != presented+1 {
		t.Error("re-registered target not presented after recovery")
	}
}

func TestConcurrentInitialize(t *testing.T) {
	device, queue, deviceCleanup := createNoopDevice(t)
	defer deviceCleanup()

	e, err := New(Config{Width: 320, Height: 180})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.InitializeWithDevice(device, queue)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("initializer %d: %v", i, err)
		}
	}
	if got := e.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}
	if err := e.RenderFrame(); err != nil {
		t.Fatal(err)
	}
}

func TestImageEvictionSkipsLayerNotFrame(t *testing.T) {
	// A one-texture cache with two image layers thrashes: each frame's
	// upload evicts the other layer's texture. The starved layer skips
	// that frame; the frame itself must still succeed.
	e, cleanup := newTestEngine(t, Config{ImageCacheLimit: 1})
	defer cleanup()

	e.SetLayers([]Layer{
		{ID: 1, Source: &stillImage{key: "a", gen: 1, w: 4, h: 4}, Opacity: 1},
		{ID: 2, Source: &stillImage{key: "b", gen: 1, w: 4, h: 4}, Opacity: 1},
	})

	for i := 0; i < 3; i++ {
		if err := e.RenderFrame(); err != nil {
			t.Fatalf("frame %d failed: %v", i, err)
		}
	}
	if got := e.Stats().CachedImages; got != 1 {
		t.Errorf("cached images = %d, want 1", got)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	e.Destroy()
	e.Destroy()
	if got := e.State(); got != StateDestroyed {
		t.Errorf("state = %v, want destroyed", got)
	}
}

// hostWindow is a minimal in-process window for testing the window path.
type hostWindow struct {
	w, h       uint32
	fullscreen bool
	surface    OutputSurface
	onResize   func(uint32, uint32)
	onClose    func()
	closed     bool
}

func (w *hostWindow) Size() (uint32, uint32) { return w.w, w.h }
func (w *hostWindow) SetSize(nw, nh uint32)  { w.w, w.h = nw, nh }
func (w *hostWindow) SetFullscreen(on bool)  { w.fullscreen = on }
func (w *hostWindow) Fullscreen() bool       { return w.fullscreen }
func (w *hostWindow) Surface() any           { return w.surface }
func (w *hostWindow) Close() error           { w.closed = true; return nil }

func (w *hostWindow) SetResizeHandler(fn func(uint32, uint32)) { w.onResize = fn }
func (w *hostWindow) SetCloseHandler(fn func())                { w.onClose = fn }

type testHost struct {
	t       *testing.T
	device  hal.Device
	windows []*hostWindow
}

func (h *testHost) CreateWindow(opts window.Options) (window.Window, error) {
	w := &hostWindow{
		w: opts.Width, h: opts.Height,
		surface: newViewSurface(h.t, h.device),
	}
	h.windows = append(h.windows, w)
	return w, nil
}

func TestOutputWindowLifecycle(t *testing.T) {
	device, queue, deviceCleanup := createNoopDevice(t)
	defer deviceCleanup()

	host := &testHost{t: t, device: device}
	e, err := New(Config{Width: 320, Height: 180, WindowHost: host})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.InitializeWithDevice(device, queue); err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	id, err := e.CreateOutputWindow(window.Options{Title: "preview", Width: 640, Height: 360})
	if err != nil {
		t.Fatalf("CreateOutputWindow failed: %v", err)
	}
	if got := e.TargetCount(); got != 1 {
		t.Fatalf("targets = %d, want 1", got)
	}

	if err := e.SetWindowFullscreen(id, true); err != nil {
		t.Fatal(err)
	}
	if !host.windows[0].fullscreen {
		t.Error("window did not enter fullscreen")
	}

	if err := e.CloseOutputWindow(id); err != nil {
		t.Fatal(err)
	}
	if got := e.TargetCount(); got != 0 {
		t.Errorf("targets = %d, want 0 after close", got)
	}
	if !host.windows[0].closed {
		t.Error("native window not closed")
	}
}

func TestUserWindowCloseUnregistersTarget(t *testing.T) {
	device, queue, deviceCleanup := createNoopDevice(t)
	defer deviceCleanup()

	host := &testHost{t: t, device: device}
	e, err := New(Config{Width: 320, Height: 180, WindowHost: host})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.InitializeWithDevice(device, queue); err != nil {
		t.Fatal(err)
	}
	defer e.Destroy()

	if _, err := e.CreateOutputWindow(window.Options{Width: 640, Height: 360}); err != nil {
		t.Fatal(err)
	}

	// User clicks the close button.
	host.windows[0].onClose()
	if got := e.TargetCount(); got != 0 {
		t.Errorf("targets = %d, want 0 after user close", got)
	}
}

func TestCreateOutputWindowWithoutHost(t *testing.T) {
	e, cleanup := newTestEngine(t, Config{})
	defer cleanup()

	if _, err := e.CreateOutputWindow(window.Options{Width: 100, Height: 100}); !errors.Is(err, window.ErrNoHost) {
		t.Errorf("err = %v, want ErrNoHost", err)
	}
}
