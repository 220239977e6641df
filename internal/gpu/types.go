// Package gpu implements the compositing engine's GPU layer: device
// acquisition, the ping-pong compositor, texture upload, and output
// presentation. It speaks the wgpu HAL directly; everything above it
// works with plain Go values.
package gpu

import (
	"errors"

	"github.com/gogpu/wgpu/hal"
)

var (
	// ErrDeviceLost is returned once the device loss flag is set. All GPU
	// work is refused until the engine is reinitialized.
	ErrDeviceLost = errors.New("gpu: device lost")

	// ErrNotInitialized is returned when rendering is attempted before
	// pipelines and render targets exist.
	ErrNotInitialized = errors.New("gpu: not initialized")

	// ErrInvalidResolution is returned for zero-sized composition targets.
	ErrInvalidResolution = errors.New("gpu: invalid resolution")

	// ErrNoAdapter is returned when no usable GPU adapter is found.
	ErrNoAdapter = errors.New("gpu: no adapter available")
)

// LayerID identifies a layer across frames. IDs drive the uniform and
// bind group caches, so they must be stable for the lifetime of a layer.
type LayerID uint64

// FramePixels is a one-shot decoded video frame. The renderer uploads it
// to a transient texture, draws it once, and destroys the texture after
// the frame's fence signals.
type FramePixels struct {
	Width  uint32
	Height uint32
	Data   []byte // tightly packed RGBA
}

// ImagePixels is a persistent still image. The texture is cached under
// Key and reuploaded only when Generation changes. Data may be nil when
// the caller knows the texture is already cached.
type ImagePixels struct {
	Key        string
	Generation uint64
	Width      uint32
	Height     uint32
	Data       []byte // tightly packed RGBA
}

// LayerDraw describes one layer's contribution to a frame. Exactly one
// of Frame or Image is set; a layer with neither is skipped.
type LayerDraw struct {
	ID LayerID

	Position [2]float32
	Scale    [2]float32
	Rotation float32 // radians
	Opacity  float32 // [0,1]

	// BlendMode is the shader dispatch key (blend.Mode.Key()).
	BlendMode uint32

	Frame *FramePixels
	Image *ImagePixels

	// FrameView, when set alongside Frame, is a host-owned texture view
	// holding the decoded frame: the pass samples it directly with no
	// upload. The view must stay valid until RenderFrame returns; only
	// Frame's dimensions are read.
	FrameView hal.TextureView
}

// sourceSize returns the pixel dimensions of the layer's content.
func (d *LayerDraw) sourceSize() (uint32, uint32) {
	switch {
	case d.Frame != nil:
		return d.Frame.Width, d.Frame.Height
	case d.Image != nil:
		return d.Image.Width, d.Image.Height
	default:
		return 0, 0
	}
}
