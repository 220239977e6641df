package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// renderTarget is one half of the ping-pong accumulation pair.
type renderTarget struct {
	tex  hal.Texture
	view hal.TextureView
}

// ensureTargets creates both ping-pong targets at the current
// composition resolution. No-op when they already exist.
func (r *Renderer) ensureTargets() error {
	if r.targets[0].tex != nil {
		return nil
	}
	if r.width == 0 || r.height == 0 {
		return ErrInvalidResolution
	}
	for i := range r.targets {
		tex, err := r.ctx.device.CreateTexture(&hal.TextureDescriptor{
			Label: fmt.Sprintf("pingpong_%d", i),
			Size: hal.Extent3D{
				Width:              r.width,
				Height:             r.height,
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        targetFormat,
			Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		})
		if err != nil {
			r.destroyTargets()
			return fmt.Errorf("create ping-pong target %d: %w", i, err)
		}
		view, err := r.ctx.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label:     fmt.Sprintf("pingpong_%d_view", i),
			Format:    gputypes.TextureFormatUndefined,
			Dimension: gputypes.TextureViewDimensionUndefined,
			Aspect:    gputypes.TextureAspectAll,
		})
		if err != nil {
			r.ctx.device.DestroyTexture(tex)
			r.destroyTargets()
			return fmt.Errorf("create ping-pong view %d: %w", i, err)
		}
		r.targets[i] = renderTarget{tex: tex, view: view}
		r.tracker.Reserve(uint64(r.width) * uint64(r.height) * 4)
	}
	return nil
}

// destroyTargets releases both ping-pong targets and everything keyed on
// their views: composite bind groups and the parity output bind groups.
func (r *Renderer) destroyTargets() {
	r.clearCompositeBinds()
	r.clearOutputBinds()
	for i := range r.targets {
		if r.targets[i].view != nil {
			r.ctx.device.DestroyTextureView(r.targets[i].view)
		}
		if r.targets[i].tex != nil {
			r.ctx.device.DestroyTexture(r.targets[i].tex)
			r.tracker.Release(uint64(r.width) * uint64(r.height) * 4)
		}
		r.targets[i] = renderTarget{}
	}
}

// SetResolution changes the composition size. The ping-pong pair is
// recreated on the next frame; all bind groups referencing the old
// targets are dropped here.
func (r *Renderer) SetResolution(w, h uint32) error {
	if w == 0 || h == 0 {
		return ErrInvalidResolution
	}
	if w == r.width && h == r.height {
		return nil
	}
	r.destroyTargets()
	r.width = w
	r.height = h
	slogger().Info("gpu: resolution changed", "width", w, "height", h)
	return nil
}

// Resolution returns the current composition size.
func (r *Renderer) Resolution() (uint32, uint32) {
	return r.width, r.height
}
