package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/lumen/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType identifies whether a pipeline is a compute pipeline or a render pipeline.
type PipelineType int

const (
	// PipelineTypeCompute indicates a compute pipeline with a single compute shader entry point.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender indicates a render pipeline with vertex and fragment shader entry points.
	PipelineTypeRender
)

// Target selects the attachments a render pipeline draws into.
type Target int

const (
	// TargetScene is the multisampled, depth-tested scene pass.
	TargetScene Target = iota

	// TargetOverlay is the single-sample overlay pass without a depth attachment.
	TargetOverlay
)

// ErrMissingShader is returned when a pipeline lacks a stage its type requires.
var ErrMissingShader = errors.New("pipeline is missing a shader stage")

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	pipelineType PipelineType
	pipelineKey  string
	target       Target

	vertexShader, fragmentShader, computeShader shader.Shader

	renderPipeline  *wgpu.RenderPipeline
	computePipeline *wgpu.ComputePipeline
	layouts         []*wgpu.BindGroupLayout

	// Only used for render pipelines.
	depthTestEnabled  bool
	depthWriteEnabled bool
	depthCompare      wgpu.CompareFunction
	cullMode          wgpu.CullMode
	topology          wgpu.PrimitiveTopology
	frontFace         wgpu.FrontFace
	writeMask         wgpu.ColorWriteMask
	blendState        *wgpu.BlendState
}

// Pipeline describes a render pipeline (vertex + fragment stage) or a compute pipeline together
// with its fixed-function state, and holds the GPU objects once the backend has created them.
type Pipeline interface {
	// Type returns the type of the pipeline.
	//
	// Returns:
	//   - PipelineType: render or compute
	Type() PipelineType

	// PipelineKey returns the unique key of the pipeline.
	//
	// Returns:
	//   - string: the key
	PipelineKey() string

	// Target returns the pass attachments a render pipeline is built for.
	//
	// Returns:
	//   - Target: the pass target
	Target() Target

	// Shader retrieves the shader of one stage, nil if the stage is not set.
	//
	// Parameters:
	//   - shaderType: the stage
	//
	// Returns:
	//   - shader.Shader: the stage's shader or nil
	Shader(shaderType shader.ShaderType) shader.Shader

	// Validate checks that every stage the pipeline type needs is present.
	//
	// Returns:
	//   - error: ErrMissingShader when a stage is absent
	Validate() error

	// BindGroupLayoutDescriptors returns the layouts of every bind group the pipeline's stages
	// declare. Entries a render pipeline's two stages share are merged with their visibilities
	// combined.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// VertexBuffers returns the vertex buffer layouts of the vertex stage in slot order.
	//
	// Returns:
	//   - []wgpu.VertexBufferLayout: one layout per vertex buffer slot
	VertexBuffers() []wgpu.VertexBufferLayout

	// Pipeline returns the created GPU object, *wgpu.RenderPipeline or *wgpu.ComputePipeline.
	//
	// Returns:
	//   - any: the pipeline object, nil until created
	Pipeline() any

	// BindGroupLayout returns the created layout of one group.
	//
	// Parameters:
	//   - group: the bind group index
	//
	// Returns:
	//   - *wgpu.BindGroupLayout: the layout or nil
	BindGroupLayout(group int) *wgpu.BindGroupLayout

	DepthTestEnabled() bool
	DepthWriteEnabled() bool
	DepthCompare() wgpu.CompareFunction
	CullMode() wgpu.CullMode
	Topology() wgpu.PrimitiveTopology
	FrontFace() wgpu.FrontFace
	WriteMask() wgpu.ColorWriteMask

	// BlendState returns the colour blend state, nil for opaque pipelines.
	//
	// Returns:
	//   - *wgpu.BlendState: the blend state or nil
	BlendState() *wgpu.BlendState

	// SetRenderPipeline stores the created render pipeline and its bind group layouts.
	//
	// Parameters:
	//   - rp: the render pipeline
	//   - layouts: the bind group layouts indexed by group
	SetRenderPipeline(rp *wgpu.RenderPipeline, layouts []*wgpu.BindGroupLayout)

	// SetComputePipeline stores the created compute pipeline and its bind group layouts.
	//
	// Parameters:
	//   - cp: the compute pipeline
	//   - layouts: the bind group layouts indexed by group
	SetComputePipeline(cp *wgpu.ComputePipeline, layouts []*wgpu.BindGroupLayout)

	// Release frees the GPU objects held by the pipeline.
	Release()
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a new Pipeline description. Render pipelines default to an opaque,
// depth-tested, depth-writing triangle list without culling, drawn into the scene pass.
//
// Parameters:
//   - pipelineKey: the unique key of the pipeline
//   - pipelineType: render or compute
//   - opts: builder options
//
// Returns:
//   - Pipeline: the pipeline description
func NewPipeline(pipelineKey string, pipelineType PipelineType, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:       pipelineKey,
		pipelineType:      pipelineType,
		target:            TargetScene,
		depthTestEnabled:  true,
		depthWriteEnabled: true,
		depthCompare:      wgpu.CompareFunctionLess,
		cullMode:          wgpu.CullModeNone,
		topology:          wgpu.PrimitiveTopologyTriangleList,
		frontFace:         wgpu.FrontFaceCCW,
		writeMask:         wgpu.ColorWriteMaskAll,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MergeBindGroupLayouts combines the bind group layouts of several stages. A binding declared by
// more than one stage keeps the first declaration and gains every stage's visibility.
//
// Parameters:
//   - stages: the per-stage descriptors keyed by group index
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: merged descriptors with entries sorted by binding
func MergeBindGroupLayouts(stages ...map[int]wgpu.BindGroupLayoutDescriptor) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)
	for _, descs := range stages {
		for group, desc := range descs {
			out, ok := merged[group]
			if !ok {
				out = wgpu.BindGroupLayoutDescriptor{Label: desc.Label}
			}
			for _, entry := range desc.Entries {
				i := slices.IndexFunc(out.Entries, func(e wgpu.BindGroupLayoutEntry) bool {
					return e.Binding == entry.Binding
				})
				if i < 0 {
					out.Entries = append(out.Entries, entry)
					continue
				}
				out.Entries[i].Visibility |= entry.Visibility
			}
			merged[group] = out
		}
	}
	for group, desc := range merged {
		slices.SortFunc(desc.Entries, func(a, b wgpu.BindGroupLayoutEntry) int {
			return int(a.Binding) - int(b.Binding)
		})
		merged[group] = desc
	}
	return merged
}

func (p *pipeline) Type() PipelineType {
	return p.pipelineType
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Target() Target {
	return p.target
}

func (p *pipeline) Shader(shaderType shader.ShaderType) shader.Shader {
	switch shaderType {
	case shader.ShaderTypeVertex:
		return p.vertexShader
	case shader.ShaderTypeFragment:
		return p.fragmentShader
	case shader.ShaderTypeCompute:
		return p.computeShader
	default:
		return nil
	}
}

func (p *pipeline) Validate() error {
	switch p.pipelineType {
	case PipelineTypeRender:
		if p.vertexShader == nil || p.fragmentShader == nil {
			return fmt.Errorf("render pipeline %s needs vertex and fragment stages: %w", p.pipelineKey, ErrMissingShader)
		}
	case PipelineTypeCompute:
		if p.computeShader == nil {
			return fmt.Errorf("compute pipeline %s needs a compute stage: %w", p.pipelineKey, ErrMissingShader)
		}
	}
	return nil
}

func (p *pipeline) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	if p.pipelineType == PipelineTypeCompute {
		if p.computeShader == nil {
			return nil
		}
		return MergeBindGroupLayouts(p.computeShader.BindGroupLayoutDescriptors())
	}
	var stages []map[int]wgpu.BindGroupLayoutDescriptor
	for _, s := range []shader.Shader{p.vertexShader, p.fragmentShader} {
		if s != nil {
			stages = append(stages, s.BindGroupLayoutDescriptors())
		}
	}
	return MergeBindGroupLayouts(stages...)
}

func (p *pipeline) VertexBuffers() []wgpu.VertexBufferLayout {
	if p.vertexShader == nil {
		return nil
	}
	layouts := p.vertexShader.VertexLayouts()
	keys := make([]int, 0, len(layouts))
	for k := range layouts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var out []wgpu.VertexBufferLayout
	for _, k := range keys {
		out = append(out, layouts[k]...)
	}
	return out
}

func (p *pipeline) Pipeline() any {
	switch p.pipelineType {
	case PipelineTypeRender:
		if p.renderPipeline != nil {
			return p.renderPipeline
		}
	case PipelineTypeCompute:
		if p.computePipeline != nil {
			return p.computePipeline
		}
	}
	// a typed nil pointer inside the interface would compare non-nil
	return nil
}

func (p *pipeline) BindGroupLayout(group int) *wgpu.BindGroupLayout {
	if group < 0 || group >= len(p.layouts) {
		return nil
	}
	return p.layouts[group]
}

func (p *pipeline) DepthTestEnabled() bool             { return p.depthTestEnabled }
func (p *pipeline) DepthWriteEnabled() bool            { return p.depthWriteEnabled }
func (p *pipeline) DepthCompare() wgpu.CompareFunction { return p.depthCompare }
func (p *pipeline) CullMode() wgpu.CullMode            { return p.cullMode }
func (p *pipeline) Topology() wgpu.PrimitiveTopology   { return p.topology }
func (p *pipeline) FrontFace() wgpu.FrontFace          { return p.frontFace }
func (p *pipeline) WriteMask() wgpu.ColorWriteMask     { return p.writeMask }
func (p *pipeline) BlendState() *wgpu.BlendState       { return p.blendState }

func (p *pipeline) SetRenderPipeline(rp *wgpu.RenderPipeline, layouts []*wgpu.BindGroupLayout) {
	p.renderPipeline = rp
	p.layouts = layouts
}

func (p *pipeline) SetComputePipeline(cp *wgpu.ComputePipeline, layouts []*wgpu.BindGroupLayout) {
	p.computePipeline = cp
	p.layouts = layouts
}

func (p *pipeline) Release() {
	for _, l := range p.layouts {
		if l != nil {
			l.Release()
		}
	}
	p.layouts = nil
	if p.renderPipeline != nil {
		p.renderPipeline.Release()
		p.renderPipeline = nil
	}
	if p.computePipeline != nil {
		p.computePipeline.Release()
		p.computePipeline = nil
	}
}
