package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Surface is a presentable output the renderer copies the final
// composited texture into: the main preview canvas or a detached window.
type Surface interface {
	// AcquireView returns the texture view to render this frame into.
	AcquireView() (hal.TextureView, error)

	// Present shows the rendered frame. Called after GPU work completes.
	Present()

	// Size returns the surface size in pixels.
	Size() (uint32, uint32)
}

// OutputTarget is a registered presentation surface with its per-target
// uniform state (transparency grid flag).
type OutputTarget struct {
	surface    Surface
	uniformBuf hal.Buffer
	bindGroup  hal.BindGroup // group(1), lives as long as the target
	grid       bool
}

// Grid reports whether the transparency checkerboard is enabled.
func (t *OutputTarget) Grid() bool { return t.grid }

// Surface returns the target's presentation surface.
func (t *OutputTarget) Surface() Surface { return t.surface }

func packOutputUniforms(grid bool) []byte {
	buf := make([]byte, outputUniformSize)
	if grid {
		binary.LittleEndian.PutUint32(buf, 1)
	}
	return buf
}

// RegisterTarget wires a surface into the presentation fan-out. The
// per-target uniform buffer and bind group are created once here and
// destroyed at UnregisterTarget.
func (r *Renderer) RegisterTarget(s Surface) (*OutputTarget, error) {
	if r.ctx.Lost() {
		return nil, ErrDeviceLost
	}
	buf, err := r.ctx.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "output_uniform",
		Size:  outputUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create output uniform buffer: %w", err)
	}
	r.ctx.queue.WriteBuffer(buf, 0, packOutputUniforms(false))

	bg, err := r.ctx.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "output_uniform_bind",
		Layout: r.outputUniformLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(), Offset: 0, Size: outputUniformSize,
			}},
		},
	})
	if err != nil {
		r.ctx.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("create output bind group: %w", err)
	}

	t := &OutputTarget{surface: s, uniformBuf: buf, bindGroup: bg}
	r.outputs[t] = struct{}{}
	r.tracker.Reserve(outputUniformSize)
	return t, nil
}

// UnregisterTarget removes a target and releases its GPU resources.
// Unknown targets are ignored.
func (r *Renderer) UnregisterTarget(t *OutputTarget) {
	if t == nil {
		return
	}
	if _, ok := r.outputs[t]; !ok {
		return
	}
	delete(r.outputs, t)
	r.ctx.device.DestroyBindGroup(t.bindGroup)
	r.ctx.device.DestroyBuffer(t.uniformBuf)
	r.tracker.Release(outputUniformSize)
	t.bindGroup = nil
	t.uniformBuf = nil
}

// SetTargetGrid toggles the transparency checkerboard for one target.
func (r *Renderer) SetTargetGrid(t *OutputTarget, on bool) {
	if t == nil || t.uniformBuf == nil || t.grid == on {
		return
	}
	t.grid = on
	r.ctx.queue.WriteBuffer(t.uniformBuf, 0, packOutputUniforms(on))
}

// Targets returns the number of registered output targets.
func (r *Renderer) Targets() int { return len(r.outputs) }

// outputBind returns the group(0) bind group for the final texture at
// the given parity. At most two entries exist; they are invalidated
// together with the ping-pong targets.
func (r *Renderer) outputBind(parity int) (hal.BindGroup, error) {
	if r.outputBinds[parity] != nil {
		return r.outputBinds[parity], nil
	}
	bg, err := r.ctx.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  fmt.Sprintf("output_tex_bind_p%d", parity),
		Layout: r.outputTexLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{
				TextureView: r.targets[parity].view.NativeHandle(),
			}},
			{Binding: 1, Resource: gputypes.SamplerBinding{
				Sampler: r.sampler.NativeHandle(),
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create output bind group (parity %d): %w", parity, err)
	}
	r.outputBinds[parity] = bg
	return bg, nil
}

func (r *Renderer) clearOutputBinds() {
	for i, bg := range r.outputBinds {
		if bg != nil {
			r.ctx.device.DestroyBindGroup(bg)
			r.outputBinds[i] = nil
		}
	}
}

// encodeOutputPasses records one presentation pass per acquired surface.
// Returns the targets whose views were acquired; those get Present()
// after the frame's fence signals. A surface that fails acquisition is
// skipped for this frame, not unregistered.
func (r *Renderer) encodeOutputPasses(encoder hal.CommandEncoder, finalParity int) ([]*OutputTarget, int, error) {
	if len(r.outputs) == 0 {
		return nil, 0, nil
	}
	texBind, err := r.outputBind(finalParity)
	if err != nil {
		return nil, 0, err
	}

	presented := make([]*OutputTarget, 0, len(r.outputs))
	passes := 0
	for t := range r.outputs {
		view, err := t.surface.AcquireView()
		if err != nil {
			slogger().Warn("gpu: surface acquire failed", "err", err)
			continue
		}
		rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "output_pass",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
			}},
		})
		rp.SetPipeline(r.outputPipeline)
		rp.SetBindGroup(0, texBind, nil)
		rp.SetBindGroup(1, t.bindGroup, nil)
		rp.Draw(3, 1, 0, 0)
		rp.End()
		presented = append(presented, t)
		passes++
	}
	return presented, passes, nil
}
