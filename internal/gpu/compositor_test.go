package gpu

import (
	"encoding/binary"
	"math"
	"testing"
)

func f32At(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func u32At(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

func TestPackLayerUniformsDefaultAspect(t *testing.T) {
	d := LayerDraw{Scale: [2]float32{1, 1}, Opacity: 1}
	buf := packLayerUniforms(&d, 1.5)
	// No source content: src_aspect falls back to 1.
	if got := f32At(buf, 32); got != 1 {
		t.Errorf("src_aspect = %v, want 1", got)
	}
	if got := f32At(buf, 36); got != 1.5 {
		t.Errorf("dst_aspect = %v, want 1.5", got)
	}
}

func TestPackOutputUniforms(t *testing.T) {
	off := packOutputUniforms(false)
	if len(off) != outputUniformSize {
		t.Fatalf("len = %d, want %d", len(off), outputUniformSize)
	}
	if u32At(off, 0) != 0 {
		t.Error("grid flag set for disabled grid")
	}
	on := packOutputUniforms(true)
	if u32At(on, 0) != 1 {
		t.Error("grid flag not set")
	}
}

func TestPersistentBindParityReuse(t *testing.T) {
	r, cleanup := newTestRenderer(t)
	defer cleanup()

	// Alternate the image layer between odd and even pass indices so it
	// reads from both ping-pong parities across frames. The cache holds
	// at most one bind group per parity.
	img := baseLayer(10)
	img.Image = solidImage("bg", 1, 8, 8)

	if _, err := r.RenderFrame([]LayerDraw{img}); err != nil {
		t.Fatal(err)
	}
	if got := r.CompositeBindCount(); got != 1 {
		t.Fatalf("binds = %d, want 1", got)
	}

	top := baseLayer(11)
	top.Frame = solidFrame(4, 4)
	img.Image = &ImagePixels{Key: "bg", Generation: 1, Width: 8, Height: 8}
	// Image is now the bottom layer: drawn first at parity 0 again; the
	// frame layer above it draws at parity 1 but is transient.
	if _, err := r.RenderFrame([]LayerDraw{top, img}); err != nil {
		t.Fatal(err)
	}
	if got := r.CompositeBindCount(); got != 1 {
		t.Errorf("binds = %d, want 1 (parity unchanged)", got)
	}

	// Put a frame layer beneath the image: the image moves to pass 1,
	// parity 1, adding a second cached entry.
	bottom := baseLayer(12)
	bottom.Frame = solidFrame(4, 4)
	img.Image = &ImagePixels{Key: "bg", Generation: 1, Width: 8, Height: 8}
	if _, err := r.RenderFrame([]LayerDraw{img, bottom}); err != nil {
		t.Fatal(err)
	}
	if got := r.CompositeBindCount(); got != 2 {
		t.Errorf("binds = %d, want 2 (one per parity)", got)
	}
}

func TestDropImageInvalidatesBinds(t *testing.T) {
	r, cleanup := newTestRenderer(t)
	defer cleanup()

	d := baseLayer(5)
	d.Image = solidImage("logo", 1, 8, 8)
	if _, err := r.RenderFrame([]LayerDraw{d}); err != nil {
		t.Fatal(err)
	}
	if r.CompositeBindCount() == 0 || r.CachedImages() != 1 {
		t.Fatal("expected cached image and bind group")
	}

	r.DropImage("logo")
	if got := r.CachedImages(); got != 0 {
		t.Errorf("cached images = %d, want 0", got)
	}
	if got := r.CompositeBindCount(); got != 0 {
		t.Errorf("binds = %d, want 0 after image drop", got)
	}
}
