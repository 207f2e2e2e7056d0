// pre_processor.go implements the WGSL pre-processor. It replaces @lumen: annotations with
// injected definitions or generated binding declarations and collects the declarations so layout
// derivation can see what each binding is.
package shader

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/lumen/engine/renderer/bindless"
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/Carmen-Shannon/lumen/engine/renderer/overlay"
	"github.com/Carmen-Shannon/lumen/engine/renderer/skinning"
	"github.com/Carmen-Shannon/lumen/engine/renderer/sprite"
)

// registryEntry pairs an embedded WGSL source with the type name used in generated declarations.
// Entries without a Type can be included but not bound.
type registryEntry struct {
	Source string
	Type   string
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	structRegistry       map[AnnotationArg]registryEntry
	addressSpaceRegistry map[AnnotationArg]string

	// declarations is reset at the start of each Process call.
	declarations []Annotation
}

// PreProcessor expands @lumen: annotations in WGSL source.
type PreProcessor interface {
	// Process replaces include annotations with the registered source and group annotations with
	// generated @group/@binding declarations. Provider annotations produce no output. Group and
	// provider annotations are recorded as declarations.
	//
	// Parameters:
	//   - source: the raw WGSL source
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error if any annotation is malformed or references an unknown type
	Process(source string) (string, error)

	// Declarations returns the group and provider annotations of the most recent Process call in
	// source order.
	//
	// Returns:
	//   - []Annotation: the collected declarations
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor with the engine's GPU types registered.
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor
func NewPreProcessor() PreProcessor {
	return &preProcessor{
		structRegistry: map[AnnotationArg]registryEntry{
			AnnotationArgFrameUniforms:   {Source: frame.GPUFrameUniformsSource, Type: "FrameUniforms"},
			AnnotationArgBindless:        {Source: bindless.GPUBindlessSource},
			annotationArgSpriteInstance:  {Source: sprite.GPUSpriteInstanceSource, Type: "SpriteInstance"},
			annotationArgVertex:          {Source: skinning.GPUVertexSource, Type: "VertexInput"},
			annotationArgSkinnedVertex:   {Source: skinning.GPUSkinnedVertexSource, Type: "SkinnedVertexInput"},
			annotationArgColorVertex:     {Source: skinning.GPUColorVertexSource, Type: "ColorVertexInput"},
			annotationArgMeshShading:     {Source: skinning.GPUMeshShadingSource},
			annotationArgOverlayVertex:   {Source: overlay.GPUOverlayVertexSource, Type: "OverlayVertex"},
			AnnotationArgOverlayUniforms: {Source: overlay.GPUOverlayUniformsSource, Type: "OverlayUniforms"},
		},
		addressSpaceRegistry: map[AnnotationArg]string{
			annotationArgStorageTypeUniform:   "var<uniform>",
			AnnotationArgDynamicUniform:       "var<uniform>",
			annotationArgStorageTypeRead:      "var<storage, read>",
			annotationArgStorageTypeReadWrite: "var<storage, read_write>",
		},
	}
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]
	included := make(map[AnnotationArg]bool)

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			// a second include of the same definition would redeclare it
			if included[a.Args[0]] {
				continue
			}
			included[a.Args[0]] = true
			out = append(out, p.structRegistry[a.Args[0]].Source)
		case AnnotationTypeBindingGroup:
			wgslType, err := p.resolveType(a)
			if err != nil {
				return "", err
			}
			addrSpace := p.addressSpaceRegistry[a.Args[0]]
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;", *a.Group, *a.Binding, addrSpace, a.Args[1], wgslType))
			p.declarations = append(p.declarations, *a)
		case AnnotationTypeProvider:
			p.declarations = append(p.declarations, *a)
		}
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) resolveType(a *Annotation) (string, error) {
	key, isArray := strings.CutPrefix(string(a.Args[2]), "array<")
	key = strings.TrimSuffix(key, ">")
	entry := p.structRegistry[AnnotationArg(key)]
	if entry.Type == "" {
		return "", fmt.Errorf("line %d: %q cannot be bound as a variable type", a.Line, key)
	}
	if isArray {
		return fmt.Sprintf("array<%s>", entry.Type), nil
	}
	return entry.Type, nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}
