package gpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/naga"
)

// Embedded WGSL shader sources for layer compositing and presentation.

//go:embed shaders/composite.wgsl
var compositeShaderSource string

//go:embed shaders/output.wgsl
var outputShaderSource string

// layerUniformSize is the byte size of the per-layer uniform buffer.
// Layout: position (vec2<f32>) + scale (vec2<f32>) + rotation (f32) +
// opacity (f32) + blend_mode (u32) + flags (u32) + src_aspect (f32) +
// dst_aspect (f32) + padding (vec2<f32>) = 48 bytes.
const layerUniformSize = 48

// outputUniformSize is the byte size of the per-target output uniform
// buffer. Layout: grid (u32) + padding (3 x u32) = 16 bytes.
const outputUniformSize = 16

// validateShaders runs both WGSL sources through the naga compiler.
// Backends consume the WGSL directly; compiling up front surfaces shader
// errors at initialization instead of deep inside pipeline creation.
func validateShaders() error {
	if _, err := naga.Compile(compositeShaderSource); err != nil {
		return fmt.Errorf("validate composite shader: %w", err)
	}
	if _, err := naga.Compile(outputShaderSource); err != nil {
		return fmt.Errorf("validate output shader: %w", err)
	}
	return nil
}
