package compositor

import (
	"image"

	"github.com/gogpu/wgpu/hal"
	xdraw "golang.org/x/image/draw"

	"github.com/Sportinger/mse-compositor/blend"
	"github.com/Sportinger/mse-compositor/internal/gpu"
)

// LayerID identifies a layer across frames. IDs must stay stable for a
// layer's lifetime; the per-layer GPU caches are keyed on them.
type LayerID uint64

// Vec2 is a 2D vector in normalized composition coordinates.
type Vec2 struct {
	X float32
	Y float32
}

// Frame is one decoded video frame. Frames are one-shot: imported,
// composited, and released within a single tick.
//
// A CPU frame carries tightly packed RGBA in Data. A frame already
// resident on the shared GPU device instead sets View to its
// hal.TextureView; it is sampled in place without an upload, and must
// stay valid until the tick's GPU work completes.
type Frame struct {
	Width  int
	Height int
	Data   []byte
	View   any
}

// Source supplies pixel content for a layer. Concrete sources implement
// FrameSource, ImageSource, or both; when both are implemented a live
// frame takes priority and the image acts as fallback (poster frame).
type Source interface{}

// FrameSource produces decoded video frames. CurrentFrame returns the
// frame to composite this tick, or nil when none is available. The
// engine does not retain the returned frame past the tick.
type FrameSource interface {
	Source
	CurrentFrame() *Frame
}

// StreamSource is a FrameSource fed by a live stream. Its frames are
// only consumed while at least one decoded frame is ready, so a stalled
// stream falls back to the layer's still image (if any) instead of
// repeating a stale acquire.
type StreamSource interface {
	FrameSource
	ReadyFrames() int
}

// ImageSource provides a persistent still. The decoded image is cached
// on the GPU under Key and reuploaded only when Generation changes.
type ImageSource interface {
	Source
	ImageKey() string
	ImageGeneration() uint64
	Image() image.Image
}

// Layer is one element of the composition stack. Index 0 renders on
// top.
type Layer struct {
	ID     LayerID
	Source Source

	// Position offsets the layer center in normalized output
	// coordinates. The zero value centers the layer.
	Position Vec2

	// Scale multiplies the layer size per axis. Zero values are treated
	// as 1 so a zero-value Layer still draws.
	Scale Vec2

	// Rotation is measured in radians, counterclockwise.
	Rotation float32

	// Opacity multiplies the layer alpha, clamped to [0,1].
	Opacity float32

	BlendMode blend.Mode

	// Hidden excludes the layer from compositing without removing it
	// from the stack (its GPU caches stay warm).
	Hidden bool
}

// maxTextureDim bounds uploaded still images. Larger stills are scaled
// down to fit; GPU limits commonly sit at 8192.
const maxTextureDim = 8192

// fitTextureDim shrinks a size to the texture limit, preserving aspect.
func fitTextureDim(w, h int) (int, int) {
	if w <= maxTextureDim && h <= maxTextureDim {
		return w, h
	}
	scale := float64(maxTextureDim) / float64(max(w, h))
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}

// rasterize converts a decoded image to tightly packed RGBA, downscaling
// when either dimension exceeds the texture limit.
func rasterize(img image.Image) (uint32, uint32, []byte) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return 0, 0, nil
	}
	w, h = fitTextureDim(w, h)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return uint32(w), uint32(h), dst.Pix
}

// resolveDraw translates a layer into its GPU draw description. Layers
// without usable content return ok=false and are skipped for the tick.
func resolveDraw(l *Layer, imageCached func(key string, gen uint64) bool) (gpu.LayerDraw, bool) {
	if l.Hidden || l.Source == nil {
		return gpu.LayerDraw{}, false
	}

	d := gpu.LayerDraw{
		ID:        gpu.LayerID(l.ID),
		Position:  [2]float32{l.Position.X, l.Position.Y},
		Scale:     [2]float32{l.Scale.X, l.Scale.Y},
		Rotation:  l.Rotation,
		Opacity:   clamp01(l.Opacity),
		BlendMode: l.BlendMode.Key(),
	}
	if d.Scale[0] == 0 {
		d.Scale[0] = 1
	}
	if d.Scale[1] == 0 {
		d.Scale[1] = 1
	}

	// Live video frame wins over a still fallback. Streams are consulted
	// only while they report a ready frame.
	if fs, ok := l.Source.(FrameSource); ok {
		ready := true
		if ss, ok := l.Source.(StreamSource); ok {
			ready = ss.ReadyFrames() > 0
		}
		if ready {
			if f := fs.CurrentFrame(); f != nil && f.Width > 0 && f.Height > 0 {
				if view, ok := f.View.(hal.TextureView); ok && view != nil {
					d.Frame = &gpu.FramePixels{Width: uint32(f.Width), Height: uint32(f.Height)}
					d.FrameView = view
					return d, true
				}
				if len(f.Data) >= f.Width*f.Height*4 {
					d.Frame = &gpu.FramePixels{
						Width:  uint32(f.Width),
						Height: uint32(f.Height),
						Data:   f.Data,
					}
					return d, true
				}
			}
		}
	}

	if is, ok := l.Source.(ImageSource); ok {
		key, gen := is.ImageKey(), is.ImageGeneration()
		img := gpu.ImagePixels{Key: key, Generation: gen}
		if imageCached(key, gen) {
			// Texture already resident: skip the CPU-side decode.
			d.Image = &img
			return d, true
		}
		w, h, pix := rasterize(is.Image())
		if pix == nil {
			return gpu.LayerDraw{}, false
		}
		img.Width, img.Height, img.Data = w, h, pix
		d.Image = &img
		return d, true
	}

	return gpu.LayerDraw{}, false
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
