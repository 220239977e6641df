package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// targetFormat is the pixel format of the ping-pong composition targets.
const targetFormat = gputypes.TextureFormatRGBA8Unorm

// surfaceFormat is the pixel format output surfaces are expected to use.
const surfaceFormat = gputypes.TextureFormatBGRA8Unorm

// createPipelines compiles both shaders and creates the composite and
// output render pipelines plus the shared sampler and fallback texture.
//
// The composite pipeline reads the previous accumulation texture and one
// layer texture and writes the blended result; all blending happens in
// the fragment shader, so the color target uses no fixed-function blend.
// The output pipeline copies the final texture to a surface.
func (r *Renderer) createPipelines() error {
	device := r.ctx.device

	if err := validateShaders(); err != nil {
		return err
	}

	compositeShader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "composite_shader",
		Source: hal.ShaderSource{WGSL: compositeShaderSource},
	})
	if err != nil {
		return fmt.Errorf("compile composite shader: %w", err)
	}
	r.compositeShader = compositeShader

	outputShader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "output_shader",
		Source: hal.ShaderSource{WGSL: outputShaderSource},
	})
	if err != nil {
		return fmt.Errorf("compile output shader: %w", err)
	}
	r.outputShader = outputShader

	// Composite bind group layout:
	//   Binding 0: accumulation texture from the previous pass (fragment)
	//   Binding 1: layer texture (fragment)
	//   Binding 2: sampler (fragment)
	//   Binding 3: LayerUniforms (uniform buffer, fragment)
	compositeBindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "composite_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
			{
				Binding:    3,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create composite bind group layout: %w", err)
	}
	r.compositeBindLayout = compositeBindLayout

	compositePipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "composite_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{r.compositeBindLayout},
	})
	if err != nil {
		return fmt.Errorf("create composite pipeline layout: %w", err)
	}
	r.compositePipeLayout = compositePipeLayout

	// Output bind group layouts:
	//   group(0): final texture + sampler, cached per ping-pong parity
	//   group(1): OutputUniforms per target (transparency grid flag)
	outputTexLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "output_tex_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create output texture layout: %w", err)
	}
	r.outputTexLayout = outputTexLayout

	outputUniformLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "output_uniform_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create output uniform layout: %w", err)
	}
	r.outputUniformLayout = outputUniformLayout

	outputPipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "output_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{r.outputTexLayout, r.outputUniformLayout},
	})
	if err != nil {
		return fmt.Errorf("create output pipeline layout: %w", err)
	}
	r.outputPipeLayout = outputPipeLayout

	sampler, err := device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "composite_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("create sampler: %w", err)
	}
	r.sampler = sampler

	primitive := gputypes.PrimitiveState{
		Topology: gputypes.PrimitiveTopologyTriangleList,
		CullMode: gputypes.CullModeNone,
	}
	multisample := gputypes.MultisampleState{
		Count: 1,
		Mask:  0xFFFFFFFF,
	}

	compositePipeline, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "composite_pipeline",
		Layout: r.compositePipeLayout,
		Vertex: hal.VertexState{
			Module:     r.compositeShader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     r.compositeShader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    targetFormat,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive:   primitive,
		Multisample: multisample,
	})
	if err != nil {
		return fmt.Errorf("create composite pipeline: %w", err)
	}
	r.compositePipeline = compositePipeline

	outputPipeline, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "output_pipeline",
		Layout: r.outputPipeLayout,
		Vertex: hal.VertexState{
			Module:     r.outputShader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     r.outputShader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    surfaceFormat,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive:   primitive,
		Multisample: multisample,
	})
	if err != nil {
		return fmt.Errorf("create output pipeline: %w", err)
	}
	r.outputPipeline = outputPipeline

	return nil
}

// destroyPipelines releases pipeline resources in reverse creation order.
// Safe to call on a renderer with partially created pipelines.
func (r *Renderer) destroyPipelines() {
	device := r.ctx.device
	if device == nil {
		return
	}
	if r.outputPipeline != nil {
		device.DestroyRenderPipeline(r.outputPipeline)
		r.outputPipeline = nil
	}
	if r.compositePipeline != nil {
		device.DestroyRenderPipeline(r.compositePipeline)
		r.compositePipeline = nil
	}
	if r.sampler != nil {
		device.DestroySampler(r.sampler)
		r.sampler = nil
	}
	if r.outputPipeLayout != nil {
		device.DestroyPipelineLayout(r.outputPipeLayout)
		r.outputPipeLayout = nil
	}
	if r.outputUniformLayout != nil {
		device.DestroyBindGroupLayout(r.outputUniformLayout)
		r.outputUniformLayout = nil
	}
	if r.outputTexLayout != nil {
		device.DestroyBindGroupLayout(r.outputTexLayout)
		r.outputTexLayout = nil
	}
	if r.compositePipeLayout != nil {
		device.DestroyPipelineLayout(r.compositePipeLayout)
		r.compositePipeLayout = nil
	}
	if r.compositeBindLayout != nil {
		device.DestroyBindGroupLayout(r.compositeBindLayout)
		r.compositeBindLayout = nil
	}
	if r.outputShader != nil {
		device.DestroyShaderModule(r.outputShader)
		r.outputShader = nil
	}
	if r.compositeShader != nil {
		device.DestroyShaderModule(r.compositeShader)
		r.compositeShader = nil
	}
}
