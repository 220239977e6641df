package gpu

import (
	"math"
	"testing"

	"github.com/Sportinger/mse-compositor/blend"
)

// inLayer reports whether an output uv lands on the layer's texture.
func inLayer(u, v float32, d *LayerDraw, dstAspect float32) bool {
	x, y := layerSampleUV(u, v, d, dstAspect)
	return x >= 0 && x <= 1 && y >= 0 && y <= 1
}

func TestSquareIdentityMapping(t *testing.T) {
	d := baseLayer(1)
	d.Frame = solidFrame(64, 64)

	for _, uv := range [][2]float32{{0, 0}, {0.25, 0.75}, {0.5, 0.5}, {1, 1}} {
		x, y := layerSampleUV(uv[0], uv[1], &d, 1)
		if math.Abs(float64(x-uv[0])) > 1e-6 || math.Abs(float64(y-uv[1])) > 1e-6 {
			t.Errorf("uv (%v,%v) mapped to (%v,%v), want identity", uv[0], uv[1], x, y)
		}
	}
}

func TestWideSourceLetterboxesVertically(t *testing.T) {
	// 16:9 source in a square output: full width is covered, content
	// occupies a horizontal band of height 9/16, and samples above or
	// below the band fall outside the texture.
	d := baseLayer(1)
	d.Frame = solidFrame(160, 90)
	ratio := float32(160.0 / 90.0)
	half := 0.5 / ratio // band half-height in output uv

	for _, u := range []float32{0.01, 0.5, 0.99} {
		if !inLayer(u, 0.5, &d, 1) {
			t.Errorf("center row u=%v outside layer, want full-width coverage", u)
		}
	}
	top, bottom := 0.5-half, 0.5+half
	if !inLayer(0.5, top+0.01, &d, 1) || !inLayer(0.5, bottom-0.01, &d, 1) {
		t.Error("sample just inside the content band reads as transparent")
	}
	if inLayer(0.5, top-0.01, &d, 1) {
		t.Error("sample above the content band lands on the layer, want transparent")
	}
	if inLayer(0.5, bottom+0.01, &d, 1) {
		t.Error("sample below the content band lands on the layer, want transparent")
	}
}

func TestTallSourcePillarboxesHorizontally(t *testing.T) {
	// 9:16 source in a square output: full height covered, content in a
	// vertical band of width 9/16.
	d := baseLayer(1)
	d.Frame = solidFrame(90, 160)
	ratio := float32(90.0 / 160.0)
	half := ratio / 2 // band half-width in output uv

	for _, v := range []float32{0.01, 0.5, 0.99} {
		if !inLayer(0.5, v, &d, 1) {
			t.Errorf("center column v=%v outside layer, want full-height coverage", v)
		}
	}
	left, right := 0.5-half, 0.5+half
	if inLayer(left-0.01, 0.5, &d, 1) || inLayer(right+0.01, 0.5, &d, 1) {
		t.Error("sample beside the content band lands on the layer, want transparent")
	}
	if !inLayer(left+0.01, 0.5, &d, 1) || !inLayer(right-0.01, 0.5, &d, 1) {
		t.Error("sample just inside the content band reads as transparent")
	}
}

func TestPositionOffsetsSampling(t *testing.T) {
	d := baseLayer(1)
	d.Frame = solidFrame(64, 64)
	d.Position = [2]float32{0.25, -0.1}

	x, y := layerSampleUV(0.5, 0.5, &d, 1)
	if math.Abs(float64(x-0.25)) > 1e-6 || math.Abs(float64(y-0.6)) > 1e-6 {
		t.Errorf("offset mapping = (%v,%v), want (0.25,0.6)", x, y)
	}
}

func TestRotationInverseMapping(t *testing.T) {
	// A quarter turn maps the output's right edge onto the layer's
	// vertical axis.
	d := baseLayer(1)
	d.Frame = solidFrame(64, 64)
	d.Rotation = float32(math.Pi / 2)

	x, y := layerSampleUV(1, 0.5, &d, 1)
	if math.Abs(float64(x-0.5)) > 1e-5 || math.Abs(float64(y)) > 1e-5 {
		t.Errorf("rotated mapping = (%v,%v), want (0.5,0)", x, y)
	}
}

func TestStackingOrderTopmostWins(t *testing.T) {
	// Three opaque normal-mode layers: each pass replaces the pixel, so
	// whatever composites last (the topmost layer) decides the output.
	red := blend.Color{R: 1}
	green := blend.Color{G: 1}
	blue := blend.Color{B: 1}

	acc, accA := blend.Color{}, float32(0) // cleared target
	for _, c := range []blend.Color{blue, green, red} { // bottom first
		acc, accA = compositeOver(blend.ModeNormal.Key(), acc, c, accA, 1, 1)
	}
	if acc != red || accA != 1 {
		t.Errorf("stack = %+v a=%v, want opaque red on top", acc, accA)
	}
}

func TestNormalHalfOpacity(t *testing.T) {
	white := blend.Color{R: 1, G: 1, B: 1}
	black := blend.Color{}

	rgb, a := compositeOver(blend.ModeNormal.Key(), white, black, 1, 1, 0.5)
	want := blend.Color{R: 0.5, G: 0.5, B: 0.5}
	if rgb != want {
		t.Errorf("rgb = %+v, want %+v", rgb, want)
	}
	if a != 1 {
		t.Errorf("alpha = %v, want 1 (max of base and weighted source)", a)
	}
}

func TestTransparentSourceLeavesBase(t *testing.T) {
	base := blend.Color{R: 0.2, G: 0.4, B: 0.6}
	rgb, a := compositeOver(blend.ModeAdd.Key(), base, blend.Color{R: 1}, 0.8, 0, 1)
	if rgb != base || a != 0.8 {
		t.Errorf("got %+v a=%v, want untouched base", rgb, a)
	}
}
