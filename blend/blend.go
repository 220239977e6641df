// Package blend defines the compositor's blend-mode enumeration and the
// per-mode color math.
//
// Each mode is a pure function combining a base (destination) color with a
// blend (source) color. The functions operate on straight (non-premultiplied)
// RGB in the range [0, 1]; opacity and alpha weighting are applied by the
// compositing pass, not here. The same math is mirrored in the composite
// shader, dispatched by the mode's integer key, so these functions double as
// the CPU reference for pixel-exact tests.
//
// Reference: W3C Compositing and Blending Level 1,
// https://www.w3.org/TR/compositing-1/
package blend

import "fmt"

// Mode identifies a blend mode. The zero value is ModeNormal.
//
// Mode values are stable: they are the dispatch keys baked into the composite
// shader, so existing values never change. New modes are appended after the
// existing ones.
type Mode uint32

const (
	// ModeNormal replaces the base with the blend color.
	ModeNormal Mode = iota
	// ModeAdd sums base and blend, clamped to 1.
	ModeAdd
	// ModeMultiply multiplies base and blend per channel.
	ModeMultiply
	// ModeScreen inverts, multiplies, and inverts again.
	ModeScreen
	// ModeDifference takes the absolute per-channel difference.
	ModeDifference
	// ModeOverlay multiplies or screens depending on the base channel.
	ModeOverlay
	// ModeDarken keeps the darker of the two channels.
	ModeDarken
	// ModeLighten keeps the lighter of the two channels.
	ModeLighten
	// ModeExclusion is a lower-contrast variant of difference.
	ModeExclusion

	modeCount
)

// String returns the mode's name as exposed in layer settings.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeAdd:
		return "add"
	case ModeMultiply:
		return "multiply"
	case ModeScreen:
		return "screen"
	case ModeDifference:
		return "difference"
	case ModeOverlay:
		return "overlay"
	case ModeDarken:
		return "darken"
	case ModeLighten:
		return "lighten"
	case ModeExclusion:
		return "exclusion"
	default:
		return fmt.Sprintf("Mode(%d)", uint32(m))
	}
}

// Valid reports whether m is a known mode.
func Valid(m Mode) bool {
	return m < modeCount
}

// Key returns the integer dispatch key used by the composite shader.
func (m Mode) Key() uint32 {
	if !Valid(m) {
		return uint32(ModeNormal)
	}
	return uint32(m)
}

// Color is a straight (non-premultiplied) RGB color with channels in [0, 1].
type Color struct {
	R, G, B float32
}

// Func combines a base color with a blend color and returns the result.
// Implementations must be pure: no state, no clamping of inputs beyond what
// the mode itself defines.
type Func func(base, src Color) Color

// FuncFor returns the blend function for the given mode.
// Unknown modes fall back to normal.
func FuncFor(mode Mode) Func {
	switch mode {
	case ModeAdd:
		return add
	case ModeMultiply:
		return multiply
	case ModeScreen:
		return screen
	case ModeDifference:
		return difference
	case ModeOverlay:
		return overlay
	case ModeDarken:
		return darken
	case ModeLighten:
		return lighten
	case ModeExclusion:
		return exclusion
	default:
		return normal
	}
}

// Blend applies the mode's function to a base and blend color.
func Blend(mode Mode, base, src Color) Color {
	return FuncFor(mode)(base, src)
}

func normal(_, src Color) Color {
	return src
}

func add(base, src Color) Color {
	return Color{
		R: clamp1(base.R + src.R),
		G: clamp1(base.G + src.G),
		B: clamp1(base.B + src.B),
	}
}

func multiply(base, src Color) Color {
	return Color{R: base.R * src.R, G: base.G * src.G, B: base.B * src.B}
}

func screen(base, src Color) Color {
	return Color{
		R: 1 - (1-base.R)*(1-src.R),
		G: 1 - (1-base.G)*(1-src.G),
		B: 1 - (1-base.B)*(1-src.B),
	}
}

func difference(base, src Color) Color {
	return Color{
		R: abs32(base.R - src.R),
		G: abs32(base.G - src.G),
		B: abs32(base.B - src.B),
	}
}

func overlay(base, src Color) Color {
	return Color{
		R: overlayChannel(base.R, src.R),
		G: overlayChannel(base.G, src.G),
		B: overlayChannel(base.B, src.B),
	}
}

// overlayChannel multiplies dark base channels and screens light ones.
func overlayChannel(b, s float32) float32 {
	if b <= 0.5 {
		return 2 * b * s
	}
	return 1 - 2*(1-b)*(1-s)
}

func darken(base, src Color) Color {
	return Color{
		R: min32(base.R, src.R),
		G: min32(base.G, src.G),
		B: min32(base.B, src.B),
	}
}

func lighten(base, src Color) Color {
	return Color{
		R: max32(base.R, src.R),
		G: max32(base.G, src.G),
		B: max32(base.B, src.B),
	}
}

func exclusion(base, src Color) Color {
	return Color{
		R: base.R + src.R - 2*base.R*src.R,
		G: base.G + src.G - 2*base.G*src.G,
		B: base.B + src.B - 2*base.B*src.B,
	}
}

func clamp1(v float32) float32 {
	if v > 1 {
		return 1
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
