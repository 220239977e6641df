package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/Sportinger/mse-compositor/internal/cache"
)

// imageTexture is a cached persistent-source texture.
type imageTexture struct {
	tex        hal.Texture
	view       hal.TextureView
	generation uint64
	width      uint32
	height     uint32
	sizeBytes  uint64
}

// newImageCache builds the persistent-texture cache. Evicted entries
// release their GPU memory through the tracker.
func (r *Renderer) newImageCache(softLimit int) *cache.Cache[string, *imageTexture] {
	return cache.New[string, *imageTexture](softLimit, func(key string, it *imageTexture) {
		r.dropImageBinds(key)
		r.ctx.device.DestroyTextureView(it.view)
		r.ctx.device.DestroyTexture(it.tex)
		r.tracker.Release(it.sizeBytes)
		slogger().Debug("gpu: image texture evicted", "key", key)
	})
}

// createTexture creates a sampleable RGBA texture with its default view.
func (r *Renderer) createTexture(w, h uint32, label string) (hal.Texture, hal.TextureView, error) {
	tex, err := r.ctx.device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              w,
			Height:             h,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        targetFormat,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create texture %s: %w", label, err)
	}
	view, err := r.ctx.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_view",
		Format:        gputypes.TextureFormatUndefined,
		Dimension:     gputypes.TextureViewDimensionUndefined,
		Aspect:        gputypes.TextureAspectAll,
		BaseMipLevel:  0,
		MipLevelCount: 0,
	})
	if err != nil {
		r.ctx.device.DestroyTexture(tex)
		return nil, nil, fmt.Errorf("create texture view %s: %w", label, err)
	}
	return tex, view, nil
}

// uploadPixels writes tightly packed RGBA data into a texture.
func (r *Renderer) uploadPixels(tex hal.Texture, w, h uint32, data []byte) {
	r.ctx.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{},
			Aspect:   gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  w * 4,
			RowsPerImage: h,
		},
		&hal.Extent3D{
			Width:              w,
			Height:             h,
			DepthOrArrayLayers: 1,
		},
	)
}

// uploadFrame creates a transient texture for a one-shot video frame.
// The caller destroys it after the frame's fence signals.
func (r *Renderer) uploadFrame(id LayerID, frame *FramePixels) (hal.Texture, hal.TextureView, error) {
	if frame.Width == 0 || frame.Height == 0 {
		return nil, nil, fmt.Errorf("frame for layer %d has zero size", id)
	}
	tex, view, err := r.createTexture(frame.Width, frame.Height, fmt.Sprintf("frame_%d", id))
	if err != nil {
		return nil, nil, err
	}
	r.uploadPixels(tex, frame.Width, frame.Height, frame.Data)
	return tex, view, nil
}

// imageView returns the cached texture view for a persistent image,
// uploading it on first use or when its generation changed.
func (r *Renderer) imageView(img *ImagePixels) (hal.TextureView, error) {
	if it, ok := r.images.Get(img.Key); ok && it.generation == img.Generation {
		// Backfill dimensions so the aspect uniform stays correct when
		// the caller skipped the CPU-side decode.
		img.Width, img.Height = it.width, it.height
		return it.view, nil
	}
	if img.Data == nil {
		return nil, fmt.Errorf("image %q not cached and no pixel data supplied", img.Key)
	}
	tex, view, err := r.createTexture(img.Width, img.Height, "image_"+img.Key)
	if err != nil {
		return nil, err
	}
	r.uploadPixels(tex, img.Width, img.Height, img.Data)

	size := uint64(img.Width) * uint64(img.Height) * 4
	r.tracker.Reserve(size)
	// Set evicts any stale generation through the cache's onEvict hook.
	r.images.Set(img.Key, &imageTexture{
		tex:        tex,
		view:       view,
		generation: img.Generation,
		width:      img.Width,
		height:     img.Height,
		sizeBytes:  size,
	})
	return view, nil
}
