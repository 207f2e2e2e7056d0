package shader

import (
	"fmt"
	"os"

	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderType identifies the pipeline stage a shader is built for.
type ShaderType int

const (
	// ShaderTypeCompute indicates a shader containing a @compute entry point.
	ShaderTypeCompute ShaderType = iota

	// ShaderTypeVertex is the vertex stage of a render pipeline.
	ShaderTypeVertex

	// ShaderTypeFragment is the fragment stage of a render pipeline.
	ShaderTypeFragment
)

func (t ShaderType) String() string {
	switch t {
	case ShaderTypeCompute:
		return "compute"
	case ShaderTypeVertex:
		return "vertex"
	case ShaderTypeFragment:
		return "fragment"
	default:
		return fmt.Sprintf("ShaderType(%d)", int(t))
	}
}

// visibility returns the shader stage flag applied to every binding the stage declares.
func (t ShaderType) visibility() wgpu.ShaderStage {
	switch t {
	case ShaderTypeVertex:
		return wgpu.ShaderStageVertex
	case ShaderTypeFragment:
		return wgpu.ShaderStageFragment
	case ShaderTypeCompute:
		return wgpu.ShaderStageCompute
	default:
		return wgpu.ShaderStageNone
	}
}

// shader is the implementation of the Shader interface.
type shader struct {
	key                        string
	source                     string
	shaderType                 ShaderType
	bindGroupLayoutDescriptors map[int]wgpu.BindGroupLayoutDescriptor
	bindingVarNames            map[int]map[int]string
	vertexLayouts              map[int][]wgpu.VertexBufferLayout
	workGroupSize              [3]uint32
	entryPoint                 string
	module                     *wgpu.ShaderModuleDescriptor
	declarations               []Annotation
}

// Shader is a pre-processed WGSL stage together with the layout metadata derived from it: entry
// point, bind group layouts, vertex buffer layouts and workgroup size.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the pre-processed WGSL source.
	//
	// Returns:
	//   - string: the WGSL source with annotations expanded
	Source() string

	// BindGroupLayoutDescriptor retrieves the layout descriptor of one bind group.
	//
	// Parameters:
	//   - group: the bind group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the descriptor, or an empty descriptor if the group is unused
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptors retrieves all parsed bind group layout descriptors.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindGroupVarName retrieves the WGSL variable name bound at group and binding.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - string: the variable name, or an empty string if nothing is bound there
	BindGroupVarName(group, binding int) string

	// VertexLayout retrieves the vertex buffer layout for a specific key.
	//
	// Parameters:
	//   - key: the sequential index of the vertex input struct
	//
	// Returns:
	//   - []wgpu.VertexBufferLayout: the layout, or nil if not set
	VertexLayout(key int) []wgpu.VertexBufferLayout

	// VertexLayouts retrieves all vertex buffer layouts of this shader.
	//
	// Returns:
	//   - map[int][]wgpu.VertexBufferLayout: layouts keyed by sequential index
	VertexLayouts() map[int][]wgpu.VertexBufferLayout

	// EntryPoint returns the entry point name for this shader's stage.
	//
	// Returns:
	//   - string: the entry point name
	EntryPoint() string

	// WorkgroupSize returns the workgroup size of a compute shader, [0, 0, 0] for other stages.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// Module returns the shader module descriptor built from the processed source.
	//
	// Returns:
	//   - *wgpu.ShaderModuleDescriptor: the module descriptor
	Module() *wgpu.ShaderModuleDescriptor

	// ShaderType returns the stage this shader was built for.
	//
	// Returns:
	//   - ShaderType: ShaderTypeVertex, ShaderTypeFragment, or ShaderTypeCompute
	ShaderType() ShaderType

	// Declarations returns the group and provider annotations found in the source.
	//
	// Returns:
	//   - []Annotation: the declarations in source order
	Declarations() []Annotation
}

var _ Shader = &shader{}

// NewShader pre-processes WGSL source and derives the layout metadata for one stage.
//
// Parameters:
//   - key: a unique identifier for the shader
//   - shaderType: the stage to build
//   - source: the WGSL source, usually embedded from an assets/ file
//
// Returns:
//   - Shader: the parsed shader
//   - error: an error if an annotation is malformed or the stage has no entry point
func NewShader(key string, shaderType ShaderType, source string) (Shader, error) {
	s := &shader{
		key:                        key,
		shaderType:                 shaderType,
		bindGroupLayoutDescriptors: make(map[int]wgpu.BindGroupLayoutDescriptor),
		bindingVarNames:            make(map[int]map[int]string),
		vertexLayouts:              make(map[int][]wgpu.VertexBufferLayout),
	}
	if err := s.parseSource(source); err != nil {
		return nil, fmt.Errorf("shader %s: %w", key, err)
	}
	logger.Debug("[Shader] parsed %s stage %q: entry %s, %d bind groups", shaderType, key, s.entryPoint, len(s.bindGroupLayoutDescriptors))
	return s, nil
}

// NewShaderFromPath reads WGSL source from disk and builds it with NewShader.
//
// Parameters:
//   - key: a unique identifier for the shader
//   - shaderType: the stage to build
//   - sourcePath: the file path to read WGSL source from
//
// Returns:
//   - Shader: the parsed shader
//   - error: an error if the file cannot be read or parsed
func NewShaderFromPath(key string, shaderType ShaderType, sourcePath string) (Shader, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("shader %s: failed to read source file %q: %w", key, sourcePath, err)
	}
	return NewShader(key, shaderType, string(data))
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) VertexLayout(key int) []wgpu.VertexBufferLayout {
	return s.vertexLayouts[key]
}

func (s *shader) VertexLayouts() map[int][]wgpu.VertexBufferLayout {
	return s.vertexLayouts
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) WorkgroupSize() [3]uint32 {
	return s.workGroupSize
}

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors[group]
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors
}

func (s *shader) BindGroupVarName(group, binding int) string {
	if s.bindingVarNames[group] == nil {
		return ""
	}
	return s.bindingVarNames[group][binding]
}

func (s *shader) Module() *wgpu.ShaderModuleDescriptor {
	return s.module
}

func (s *shader) ShaderType() ShaderType {
	return s.shaderType
}

func (s *shader) Declarations() []Annotation {
	return s.declarations
}

// parseSource expands annotations, builds the module descriptor and extracts the metadata the
// stage needs: vertex layouts for vertex stages, workgroup size for compute stages, bind group
// layouts for all.
func (s *shader) parseSource(raw string) error {
	pp := NewPreProcessor()
	source, err := pp.Process(raw)
	if err != nil {
		return fmt.Errorf("failed to pre-process source: %w", err)
	}
	s.source = source
	s.declarations = append([]Annotation(nil), pp.Declarations()...)
	s.module = &wgpu.ShaderModuleDescriptor{
		Label: s.key,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: s.source,
		},
	}

	s.entryPoint = parseEntryPoint(s.source, s.shaderType)
	if s.entryPoint == "" {
		return fmt.Errorf("no @%s entry point", s.shaderType)
	}
	switch s.shaderType {
	case ShaderTypeVertex:
		s.vertexLayouts = parseVertexLayouts(s.source)
	case ShaderTypeCompute:
		s.workGroupSize = parseWorkgroupSize(s.source)
	}

	s.bindGroupLayoutDescriptors, s.bindingVarNames = parseBindGroupLayouts(s.source, s.shaderType.visibility())
	s.applyDynamicOffsets()
	return nil
}

// applyDynamicOffsets flags the buffer entries declared with the dynamic_uniform address space.
func (s *shader) applyDynamicOffsets() {
	for _, d := range s.declarations {
		if d.Type != AnnotationTypeBindingGroup || d.Args[0] != AnnotationArgDynamicUniform {
			continue
		}
		desc, ok := s.bindGroupLayoutDescriptors[*d.Group]
		if !ok {
			continue
		}
		for i := range desc.Entries {
			if desc.Entries[i].Binding == uint32(*d.Binding) {
				desc.Entries[i].Buffer.HasDynamicOffset = true
			}
		}
	}
}
