package pipeline

import (
	"fmt"

	"github.com/Carmen-Shannon/lumen/engine/renderer/overlay"
	"github.com/Carmen-Shannon/lumen/engine/renderer/shader"
	"github.com/Carmen-Shannon/lumen/engine/renderer/skinning"
	"github.com/Carmen-Shannon/lumen/engine/renderer/sprite"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
	"github.com/cogentcore/webgpu/wgpu"
)

// Keys of the pipelines the renderer builds at start-up.
const (
	KeySprite      = "sprite"
	KeyStaticMesh  = "static_mesh"
	KeySkinnedMesh = "skinned_mesh"
	KeyColorMesh   = "vertex_color_mesh"
	KeyOverlay     = "overlay"
	KeyConversion  = "rgb_to_rgba"
)

// AlphaBlend is straight alpha blending, used for sprites.
var AlphaBlend = &wgpu.BlendState{
	Color: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorSrcAlpha,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
	Alpha: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
}

// PremultipliedBlend blends colours that already carry their alpha, used for the overlay.
var PremultipliedBlend = &wgpu.BlendState{
	Color: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	},
	Alpha: wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOneMinusDstAlpha,
		DstFactor: wgpu.BlendFactorOne,
		Operation: wgpu.BlendOperationAdd,
	},
}

func renderPipeline(key, source string, opts ...PipelineBuilderOption) (Pipeline, error) {
	vs, err := shader.NewShader(key, shader.ShaderTypeVertex, source)
	if err != nil {
		return nil, err
	}
	fs, err := shader.NewShader(key, shader.ShaderTypeFragment, source)
	if err != nil {
		return nil, err
	}
	opts = append([]PipelineBuilderOption{WithVertexShader(vs), WithFragmentShader(fs)}, opts...)
	return NewPipeline(key, PipelineTypeRender, opts...), nil
}

// EnginePipelines parses the engine's embedded shaders and describes every pipeline the renderer
// needs. Meshes are opaque and write depth. Sprites are blended far-to-near, tested but not
// written. The overlay draws last without depth.
//
// Returns:
//   - map[string]Pipeline: the pipelines keyed by their Key constants
//   - error: an error if a shader fails to parse
func EnginePipelines() (map[string]Pipeline, error) {
	out := make(map[string]Pipeline, 6)

	var err error
	if out[KeyStaticMesh], err = renderPipeline(KeyStaticMesh, skinning.StaticShaderSource,
		WithCullMode(wgpu.CullModeBack),
	); err != nil {
		return nil, fmt.Errorf("failed to build %s pipeline: %w", KeyStaticMesh, err)
	}
	if out[KeySkinnedMesh], err = renderPipeline(KeySkinnedMesh, skinning.SkinnedShaderSource,
		WithCullMode(wgpu.CullModeBack),
	); err != nil {
		return nil, fmt.Errorf("failed to build %s pipeline: %w", KeySkinnedMesh, err)
	}
	if out[KeyColorMesh], err = renderPipeline(KeyColorMesh, skinning.VertexColorShaderSource,
		WithCullMode(wgpu.CullModeBack),
	); err != nil {
		return nil, fmt.Errorf("failed to build %s pipeline: %w", KeyColorMesh, err)
	}
	if out[KeySprite], err = renderPipeline(KeySprite, sprite.ShaderSource,
		WithCullMode(wgpu.CullModeBack),
		WithDepthWriteEnabled(false),
		WithDepthCompare(wgpu.CompareFunctionLessEqual),
		WithBlendState(AlphaBlend),
	); err != nil {
		return nil, fmt.Errorf("failed to build %s pipeline: %w", KeySprite, err)
	}
	if out[KeyOverlay], err = renderPipeline(KeyOverlay, overlay.ShaderSource,
		WithTarget(TargetOverlay),
		WithDepthTestEnabled(false),
		WithDepthWriteEnabled(false),
		WithBlendState(PremultipliedBlend),
	); err != nil {
		return nil, fmt.Errorf("failed to build %s pipeline: %w", KeyOverlay, err)
	}

	cs, err := shader.NewShader(KeyConversion, shader.ShaderTypeCompute, upload.GPUConversionShaderSource)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s pipeline: %w", KeyConversion, err)
	}
	out[KeyConversion] = NewPipeline(KeyConversion, PipelineTypeCompute, WithComputeShader(cs))

	return out, nil
}
