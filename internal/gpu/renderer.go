package gpu

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/Sportinger/mse-compositor/internal/cache"
	"github.com/Sportinger/mse-compositor/internal/stats"
)

// fenceTimeout bounds the per-frame GPU wait. A frame that takes this
// long indicates a hung or lost device.
const fenceTimeout = 5 * time.Second

// Renderer owns all GPU state for the compositor: pipelines, ping-pong
// targets, per-layer caches, and registered output surfaces.
//
// Renderer is not safe for concurrent use. The render loop is the sole
// caller; this mirrors the single-threaded command recording model of
// the underlying API.
type Renderer struct {
	ctx     *Context
	tracker *stats.Tracker

	width  uint32
	height uint32

	sampler hal.Sampler

	compositeShader     hal.ShaderModule
	compositeBindLayout hal.BindGroupLayout
	compositePipeLayout hal.PipelineLayout
	compositePipeline   hal.RenderPipeline

	outputShader        hal.ShaderModule
	outputTexLayout     hal.BindGroupLayout
	outputUniformLayout hal.BindGroupLayout
	outputPipeLayout    hal.PipelineLayout
	outputPipeline      hal.RenderPipeline

	targets [2]renderTarget

	uniforms       map[LayerID]hal.Buffer
	compositeBinds map[bindKey]cachedBind
	layerImages    map[LayerID]string
	outputBinds    [2]hal.BindGroup
	outputs        map[*OutputTarget]struct{}

	images *cache.Cache[string, *imageTexture]

	initialized bool
	destroyed   bool
}

// Config holds renderer construction parameters.
type Config struct {
	// Width and Height set the composition resolution in pixels.
	Width  uint32
	Height uint32

	// ImageCacheLimit caps the number of cached persistent-source
	// textures. 0 means unlimited.
	ImageCacheLimit int
}

// NewRenderer creates a renderer on the given context. GPU resources are
// not allocated until Initialize.
func NewRenderer(ctx *Context, tracker *stats.Tracker, cfg Config) *Renderer {
	r := &Renderer{
		ctx:            ctx,
		tracker:        tracker,
		width:          cfg.Width,
		height:         cfg.Height,
		uniforms:       make(map[LayerID]hal.Buffer),
		compositeBinds: make(map[bindKey]cachedBind),
		layerImages:    make(map[LayerID]string),
		outputs:        make(map[*OutputTarget]struct{}),
	}
	r.images = r.newImageCache(cfg.ImageCacheLimit)
	return r
}

// Initialize compiles shaders, builds pipelines, and allocates the
// ping-pong targets. Calling it again is a no-op.
func (r *Renderer) Initialize() error {
	if r.initialized {
		return nil
	}
	if r.ctx.Lost() {
		return ErrDeviceLost
	}
	if r.width == 0 || r.height == 0 {
		return ErrInvalidResolution
	}
	if err := r.createPipelines(); err != nil {
		r.destroyPipelines()
		return err
	}
	if err := r.ensureTargets(); err != nil {
		r.destroyPipelines()
		return err
	}
	r.initialized = true
	slogger().Info("gpu: renderer initialized", "width", r.width, "height", r.height)
	return nil
}

// Context returns the renderer's GPU context.
func (r *Renderer) Context() *Context { return r.ctx }

// FrameResult reports what a RenderFrame call did.
type FrameResult struct {
	// Passes counts render passes encoded: the clear pass, one per
	// drawn layer, and one per presented output.
	Passes int

	// Layers counts layers actually drawn (layers with content).
	Layers int

	// FinalParity is the ping-pong index holding the final composite.
	FinalParity int
}

// oneShot tracks per-frame transient resources for a video layer.
type oneShot struct {
	tex  hal.Texture
	view hal.TextureView
	bind hal.BindGroup
	size uint64
}

// RenderFrame composites the given layers (index 0 on top) and presents
// the result to every registered output surface. It blocks until the
// GPU finishes so that one-shot frame textures can be destroyed safely.
func (r *Renderer) RenderFrame(layers []LayerDraw) (FrameResult, error) {
	if r.ctx.Lost() {
		return FrameResult{}, ErrDeviceLost
	}
	if !r.initialized || r.destroyed {
		return FrameResult{}, ErrNotInitialized
	}
	if err := r.ensureTargets(); err != nil {
		return FrameResult{}, err
	}

	live := make(map[LayerID]struct{}, len(layers))
	for i := range layers {
		live[layers[i].ID] = struct{}{}
	}
	r.pruneLayers(live)

	dstAspect := float32(r.width) / float32(r.height)

	var transients []oneShot
	cleanupTransients := func() {
		for _, t := range transients {
			if t.bind != nil {
				r.ctx.device.DestroyBindGroup(t.bind)
			}
			if t.view != nil {
				r.ctx.device.DestroyTextureView(t.view)
			}
			if t.tex != nil {
				r.ctx.device.DestroyTexture(t.tex)
				r.tracker.Release(t.size)
			}
		}
	}

	// Bottom layer first: pass p blends one layer over the accumulation
	// of everything beneath it, so the topmost layer (index 0) lands
	// last.
	var passes []layerPass
	for i := len(layers) - 1; i >= 0; i-- {
		d := &layers[i]
		if d.Frame == nil && d.Image == nil {
			continue
		}
		p := len(passes)
		readParity, writeParity := p%2, (p+1)%2

		// A layer whose resources cannot be built this tick is skipped,
		// not fatal: the rest of the stack still composites and the
		// layer retries next frame.
		skip := func(err error) {
			slogger().Warn("gpu: layer skipped", "layer", d.ID, "err", err)
		}

		uniformBuf, err := r.ensureUniform(d.ID)
		if err != nil {
			skip(err)
			continue
		}

		var bind hal.BindGroup
		switch {
		case d.FrameView != nil:
			// Host-resident frame: sample the supplied view directly, no
			// upload. Only the bind group is frame-scoped.
			bind, err = r.createCompositeBind(
				fmt.Sprintf("composite_bind_shared_%d", d.ID),
				readParity, d.FrameView, uniformBuf)
			if err != nil {
				skip(err)
				continue
			}
			transients = append(transients, oneShot{bind: bind})

		case d.Frame != nil:
			tex, view, err := r.uploadFrame(d.ID, d.Frame)
			if err != nil {
				skip(err)
				continue
			}
			size := uint64(d.Frame.Width) * uint64(d.Frame.Height) * 4
			r.tracker.Reserve(size)
			bind, err = r.createCompositeBind(
				fmt.Sprintf("composite_bind_frame_%d", d.ID),
				readParity, view, uniformBuf)
			if err != nil {
				r.ctx.device.DestroyTextureView(view)
				r.ctx.device.DestroyTexture(tex)
				r.tracker.Release(size)
				skip(err)
				continue
			}
			transients = append(transients, oneShot{tex: tex, view: view, bind: bind, size: size})

		case d.Image != nil:
			view, err := r.imageView(d.Image)
			if err != nil {
				skip(err)
				continue
			}
			bind, err = r.persistentBind(d, readParity, view, uniformBuf)
			if err != nil {
				skip(err)
				continue
			}
		}

		// Packed after content resolution so cached stills report their
		// real dimensions in the aspect uniform.
		r.ctx.queue.WriteBuffer(uniformBuf, 0, packLayerUniforms(d, dstAspect))

		passes = append(passes, layerPass{
			bind:        bind,
			readParity:  readParity,
			writeParity: writeParity,
		})
	}

	finalParity := len(passes) % 2

	encoder, err := r.ctx.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "frame_encoder",
	})
	if err != nil {
		cleanupTransients()
		return FrameResult{}, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("frame"); err != nil {
		cleanupTransients()
		return FrameResult{}, fmt.Errorf("begin encoding: %w", err)
	}

	r.encodeCompositePasses(encoder, passes)

	presented, outputPasses, err := r.encodeOutputPasses(encoder, finalParity)
	if err != nil {
		encoder.DiscardEncoding()
		cleanupTransients()
		return FrameResult{}, err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		cleanupTransients()
		return FrameResult{}, fmt.Errorf("end encoding: %w", err)
	}
	defer r.ctx.device.FreeCommandBuffer(cmdBuf)

	fence, err := r.ctx.device.CreateFence()
	if err != nil {
		cleanupTransients()
		return FrameResult{}, fmt.Errorf("create fence: %w", err)
	}
	defer r.ctx.device.DestroyFence(fence)

	if err := r.ctx.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		r.ctx.NotifyLost()
		cleanupTransients()
		return FrameResult{}, fmt.Errorf("submit: %w", err)
	}
	fenceOK, err := r.ctx.device.Wait(fence, 1, fenceTimeout)
	if err != nil || !fenceOK {
		r.ctx.NotifyLost()
		cleanupTransients()
		return FrameResult{}, fmt.Errorf("wait for GPU: ok=%v err=%w", fenceOK, err)
	}

	// Fence signaled: one-shot frame textures are no longer referenced.
	cleanupTransients()

	for _, t := range presented {
		t.surface.Present()
	}

	return FrameResult{
		Passes:      1 + len(passes) + outputPasses,
		Layers:      len(passes),
		FinalParity: finalParity,
	}, nil
}

// CachedImages returns the number of cached persistent-source textures.
func (r *Renderer) CachedImages() int { return r.images.Len() }

// ImageCached reports whether the texture for key at the given
// generation is resident, letting callers skip re-decoding pixels.
func (r *Renderer) ImageCached(key string, generation uint64) bool {
	it, ok := r.images.Get(key)
	return ok && it.generation == generation
}

// UniformCount returns the number of live per-layer uniform buffers.
func (r *Renderer) UniformCount() int { return len(r.uniforms) }

// CompositeBindCount returns the number of cached composite bind groups.
func (r *Renderer) CompositeBindCount() int { return len(r.compositeBinds) }

// DropImage evicts one persistent texture by key, destroying its GPU
// resources and any bind groups built against it.
func (r *Renderer) DropImage(key string) { r.images.Delete(key) }

// Destroy releases every GPU resource the renderer owns. Idempotent.
func (r *Renderer) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.initialized = false

	for t := range r.outputs {
		r.UnregisterTarget(t)
	}
	r.images.Clear()
	for id, buf := range r.uniforms {
		r.ctx.device.DestroyBuffer(buf)
		delete(r.uniforms, id)
		r.tracker.Release(layerUniformSize)
	}
	r.destroyTargets()
	r.destroyPipelines()
	slogger().Info("gpu: renderer destroyed")
}
