package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/Sportinger/mse-compositor/blend"
)

// bindKey keys the composite bind group cache. A layer reads from one of
// the two ping-pong targets depending on its pass index, so each
// persistent layer holds at most two cached bind groups.
type bindKey struct {
	id     LayerID
	parity int
}

// cachedBind ties a cached bind group to the image generation it was
// built against. A generation bump invalidates the entry.
type cachedBind struct {
	bg         hal.BindGroup
	generation uint64
}

// packLayerUniforms serializes the 48-byte LayerUniforms block.
func packLayerUniforms(d *LayerDraw, dstAspect float32) []byte {
	buf := make([]byte, layerUniformSize)
	le := binary.LittleEndian
	putF := func(off int, v float32) { le.PutUint32(buf[off:], math.Float32bits(v)) }

	putF(0, d.Position[0])
	putF(4, d.Position[1])
	putF(8, d.Scale[0])
	putF(12, d.Scale[1])
	putF(16, d.Rotation)
	putF(20, d.Opacity)
	le.PutUint32(buf[24:], d.BlendMode)
	le.PutUint32(buf[28:], 0) // flags, reserved

	sw, sh := d.sourceSize()
	srcAspect := float32(1)
	if sw != 0 && sh != 0 {
		srcAspect = float32(sw) / float32(sh)
	}
	putF(32, srcAspect)
	putF(36, dstAspect)
	return buf
}

// layerSampleUV maps an output uv to the layer-texture uv exactly as the
// composite fragment shader does: inverse rotation about the center,
// inverse scale, contain-fit aspect correction, then recentering with the
// layer offset. Samples outside [0, 1] on either axis read as
// transparent. Kept in lockstep with shaders/composite.wgsl; the
// geometry tests pin both.
func layerSampleUV(u, v float32, d *LayerDraw, dstAspect float32) (float32, float32) {
	x := u - 0.5
	y := v - 0.5

	c := float32(math.Cos(float64(d.Rotation)))
	s := float32(math.Sin(float64(d.Rotation)))
	x, y = x*c+y*s, -x*s+y*c

	x /= d.Scale[0]
	y /= d.Scale[1]

	sw, sh := d.sourceSize()
	srcAspect := float32(1)
	if sw != 0 && sh != 0 {
		srcAspect = float32(sw) / float32(sh)
	}
	ratio := srcAspect / dstAspect
	if ratio > 1 {
		y *= ratio
	} else {
		x /= ratio
	}

	return x + 0.5 - d.Position[0], y + 0.5 - d.Position[1]
}

// compositeOver applies one layer pass to an accumulated pixel using the
// fragment shader's equation: the blended rgb is mixed in by the
// opacity-weighted source alpha and the result alpha is the max of the
// two. Colors are straight rgb, alphas in [0, 1].
func compositeOver(mode uint32, base, src blend.Color, baseA, srcA, opacity float32) (blend.Color, float32) {
	blended := blend.Blend(blend.Mode(mode), base, src)
	sa := srcA * opacity
	rgb := blend.Color{
		R: base.R + (blended.R-base.R)*sa,
		G: base.G + (blended.G-base.G)*sa,
		B: base.B + (blended.B-base.B)*sa,
	}
	a := baseA
	if sa > a {
		a = sa
	}
	return rgb, a
}

// ensureUniform returns the layer's uniform buffer, creating it on first
// use. The buffer is rewritten every frame; only its identity is cached.
func (r *Renderer) ensureUniform(id LayerID) (hal.Buffer, error) {
	if buf, ok := r.uniforms[id]; ok {
		return buf, nil
	}
	buf, err := r.ctx.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("layer_uniform_%d", id),
		Size:  layerUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create uniform buffer for layer %d: %w", id, err)
	}
	r.uniforms[id] = buf
	r.tracker.Reserve(layerUniformSize)
	return buf, nil
}

// pruneLayers destroys uniform buffers and cached bind groups belonging
// to layers absent from the current frame. Called every frame with the
// live layer set; removed layers release their GPU resources immediately
// instead of lingering until shutdown.
func (r *Renderer) pruneLayers(live map[LayerID]struct{}) {
	for id, buf := range r.uniforms {
		if _, ok := live[id]; ok {
			continue
		}
		r.ctx.device.DestroyBuffer(buf)
		delete(r.uniforms, id)
		r.tracker.Release(layerUniformSize)
	}
	for key, cb := range r.compositeBinds {
		if _, ok := live[key.id]; ok {
			continue
		}
		r.ctx.device.DestroyBindGroup(cb.bg)
		delete(r.compositeBinds, key)
	}
	for id := range r.layerImages {
		if _, ok := live[id]; !ok {
			delete(r.layerImages, id)
		}
	}
}

// dropImageBinds invalidates cached composite bind groups for every
// layer currently bound to the given image key. Invoked from the image
// cache's eviction hook before the texture is destroyed.
func (r *Renderer) dropImageBinds(key string) {
	for id, imgKey := range r.layerImages {
		if imgKey != key {
			continue
		}
		for parity := 0; parity < 2; parity++ {
			bk := bindKey{id: id, parity: parity}
			if cb, ok := r.compositeBinds[bk]; ok {
				r.ctx.device.DestroyBindGroup(cb.bg)
				delete(r.compositeBinds, bk)
			}
		}
	}
}

// clearCompositeBinds drops every cached composite bind group. Needed
// when the ping-pong targets are recreated: the cached groups reference
// the old accumulation views.
func (r *Renderer) clearCompositeBinds() {
	for key, cb := range r.compositeBinds {
		r.ctx.device.DestroyBindGroup(cb.bg)
		delete(r.compositeBinds, key)
	}
}

// createCompositeBind builds the group(0) bind group for one composite
// pass: previous accumulation, layer texture, sampler, layer uniforms.
func (r *Renderer) createCompositeBind(label string, readParity int, layerView hal.TextureView, uniformBuf hal.Buffer) (hal.BindGroup, error) {
	return r.ctx.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  label,
		Layout: r.compositeBindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{
				TextureView: r.targets[readParity].view.NativeHandle(),
			}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{
				TextureView: layerView.NativeHandle(),
			}},
			{Binding: 2, Resource: gputypes.SamplerBinding{
				Sampler: r.sampler.NativeHandle(),
			}},
			{Binding: 3, Resource: gputypes.BufferBinding{
				Buffer: uniformBuf.NativeHandle(), Offset: 0, Size: layerUniformSize,
			}},
		},
	})
}

// persistentBind returns the cached bind group for an image layer pass,
// rebuilding it when missing or when the image generation changed.
func (r *Renderer) persistentBind(d *LayerDraw, readParity int, layerView hal.TextureView, uniformBuf hal.Buffer) (hal.BindGroup, error) {
	key := bindKey{id: d.ID, parity: readParity}
	if cb, ok := r.compositeBinds[key]; ok && cb.generation == d.Image.Generation {
		return cb.bg, nil
	}
	if cb, ok := r.compositeBinds[key]; ok {
		r.ctx.device.DestroyBindGroup(cb.bg)
		delete(r.compositeBinds, key)
	}
	bg, err := r.createCompositeBind(
		fmt.Sprintf("composite_bind_%d_p%d", d.ID, readParity),
		readParity, layerView, uniformBuf)
	if err != nil {
		return nil, err
	}
	r.compositeBinds[key] = cachedBind{bg: bg, generation: d.Image.Generation}
	r.layerImages[d.ID] = d.Image.Key
	return bg, nil
}

// layerPass holds everything needed to encode one composite pass.
type layerPass struct {
	bind        hal.BindGroup
	readParity  int
	writeParity int
}

// encodeCompositePasses records the clear pass and one pass per layer
// into the encoder. Passes arrive bottom layer first; each pass blends
// one layer over the accumulation of everything beneath it.
func (r *Renderer) encodeCompositePasses(encoder hal.CommandEncoder, passes []layerPass) {
	// Seed the first read target with transparent black.
	clearPass := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "composite_clear",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       r.targets[0].view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
		}},
	})
	clearPass.End()

	for i := range passes {
		p := &passes[i]
		rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "composite_pass",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       r.targets[p.writeParity].view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
			}},
		})
		rp.SetPipeline(r.compositePipeline)
		rp.SetBindGroup(0, p.bind, nil)
		rp.Draw(3, 1, 0, 0)
		rp.End()
	}
}
