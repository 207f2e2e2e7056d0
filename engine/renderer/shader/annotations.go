// annotations.go defines the annotation types and arguments understood by the Lumen WGSL
// pre-processor, and the parser for a single annotation line. Annotations are WGSL line comments
// prefixed with @lumen: that inject shared struct definitions and declare bindings, so the Go side
// can derive bind group layouts without hand-maintained tables.
package shader

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// annotationPrefix is the marker that identifies an annotation within a WGSL comment line.
const annotationPrefix = "@lumen:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// annotationTypeInclude injects the WGSL source of a registered definition at the annotation
	// site. It is consumed during pre-processing and produces no declaration.
	//
	// Syntax: //@lumen:include <struct_type>
	//
	// Example: //@lumen:include frame_uniforms
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a @group/@binding variable declaration for a registered
	// struct type and records it as a declaration.
	//
	// Syntax: //@lumen:group <group> <binding> <address_space> <var_name> <type>
	//
	// Example: //@lumen:group 0 0 dynamic_uniform frame frame_uniforms
	AnnotationTypeBindingGroup AnnotationType = "group"

	// AnnotationTypeProvider records which renderer resource owns a hand-written binding without
	// generating any WGSL.
	//
	// Syntax: //@lumen:provider <group> <binding> <provider_identity>
	//
	// Example: //@lumen:provider 1 0 bindless
	AnnotationTypeProvider AnnotationType = "provider"
)

// Annotation represents a single parsed @lumen: annotation.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - include:  [0] = struct type key
	//   - group:    [0] = address space, [1] = var name, [2] = struct type key
	//   - provider: [0] = provider identity
	Args []AnnotationArg

	// Line is the 1-based source line of the annotation.
	Line int

	// Group is the @group index for group and provider annotations. Nil for include annotations.
	Group *int

	// Binding is the @binding index for group and provider annotations. Nil for include annotations.
	Binding *int
}

// AnnotationArg is a typed string constant used as an annotation argument.
type AnnotationArg string

// Struct type arguments. Each maps to a Go GPU type with an embedded .wgsl asset.
const (
	// AnnotationArgFrameUniforms identifies the per-draw FrameUniforms record.
	// Source: engine/renderer/frame/assets/frame_uniforms.wgsl
	AnnotationArgFrameUniforms AnnotationArg = "frame_uniforms"

	// AnnotationArgBindless identifies the bindless texture array declarations and bindless_shade.
	// Source: engine/renderer/bindless/assets/bindless.wgsl
	AnnotationArgBindless AnnotationArg = "bindless"

	// annotationArgSpriteInstance identifies the SpriteInstance instance-rate vertex input.
	// Source: engine/renderer/sprite/assets/sprite_instance.wgsl
	annotationArgSpriteInstance AnnotationArg = "sprite_instance"

	// annotationArgVertex identifies the static mesh vertex input.
	// Source: engine/renderer/skinning/assets/vertex.wgsl
	annotationArgVertex AnnotationArg = "vertex"

	// annotationArgSkinnedVertex identifies the skinned mesh vertex input.
	// Source: engine/renderer/skinning/assets/skinned_vertex.wgsl
	annotationArgSkinnedVertex AnnotationArg = "skinned_vertex"

	// annotationArgColorVertex identifies the vertex-colour mesh vertex input.
	// Source: engine/renderer/skinning/assets/color_vertex.wgsl
	annotationArgColorVertex AnnotationArg = "color_vertex"

	// annotationArgMeshShading identifies the varyings and fragment stage shared by the mesh paths.
	// Source: engine/renderer/skinning/assets/mesh_shading.wgsl
	annotationArgMeshShading AnnotationArg = "mesh_shading"

	// annotationArgOverlayVertex identifies the overlay vertex input.
	// Source: engine/renderer/overlay/assets/overlay_vertex.wgsl
	annotationArgOverlayVertex AnnotationArg = "overlay_vertex"

	// AnnotationArgOverlayUniforms identifies the overlay screen transform uniform.
	// Source: engine/renderer/overlay/assets/overlay_uniforms.wgsl
	AnnotationArgOverlayUniforms AnnotationArg = "overlay_uniforms"
)

// Address space arguments for group annotations.
const (
	// annotationArgStorageTypeUniform maps to var<uniform>.
	annotationArgStorageTypeUniform AnnotationArg = "storage_uniform"

	// AnnotationArgDynamicUniform maps to var<uniform> and marks the layout entry as using a
	// dynamic offset, so one buffer can hold many records selected at bind time.
	AnnotationArgDynamicUniform AnnotationArg = "dynamic_uniform"

	// annotationArgStorageTypeRead maps to var<storage, read>.
	annotationArgStorageTypeRead AnnotationArg = "storage_read"

	// annotationArgStorageTypeReadWrite maps to var<storage, read_write>.
	annotationArgStorageTypeReadWrite AnnotationArg = "storage_read_write"
)

// Provider identity arguments.
const (
	// AnnotationArgProviderFrame is the frame uniform ring.
	AnnotationArgProviderFrame AnnotationArg = "frame"

	// AnnotationArgProviderBindless is the bindless texture table.
	AnnotationArgProviderBindless AnnotationArg = "bindless"

	// AnnotationArgProviderOverlay is the overlay compositor's screen uniform and font atlas.
	AnnotationArgProviderOverlay AnnotationArg = "overlay"

	// AnnotationArgProviderConversion is the pixel conversion job (params, source, destination).
	AnnotationArgProviderConversion AnnotationArg = "conversion"
)

// validStructTypes lists the struct type arguments accepted by include and group annotations.
var validStructTypes = []AnnotationArg{
	AnnotationArgFrameUniforms,
	AnnotationArgBindless,
	annotationArgSpriteInstance,
	annotationArgVertex,
	annotationArgSkinnedVertex,
	annotationArgColorVertex,
	annotationArgMeshShading,
	annotationArgOverlayVertex,
	AnnotationArgOverlayUniforms,
}

// validAddressSpaces lists the address space arguments accepted by group annotations.
var validAddressSpaces = []AnnotationArg{
	annotationArgStorageTypeUniform,
	AnnotationArgDynamicUniform,
	annotationArgStorageTypeRead,
	annotationArgStorageTypeReadWrite,
}

// validProviderIdentities lists the identities accepted by provider annotations.
var validProviderIdentities = []AnnotationArg{
	AnnotationArgProviderFrame,
	AnnotationArgProviderBindless,
	AnnotationArgProviderOverlay,
	AnnotationArgProviderConversion,
}

// parseBindingIndices parses the group and binding numbers of a group or provider annotation.
func parseBindingIndices(lineNum int, kind, group, binding string) (int, int, error) {
	g, err := strconv.Atoi(group)
	if err != nil || g < 0 {
		return 0, 0, fmt.Errorf("line %d: invalid group number %q in @lumen %s annotation", lineNum, group, kind)
	}
	b, err := strconv.Atoi(binding)
	if err != nil || b < 0 {
		return 0, 0, fmt.Errorf("line %d: invalid binding number %q in @lumen %s annotation", lineNum, binding, kind)
	}
	return g, b, nil
}

// parseAnnotation parses one line of WGSL source. Lines without the annotation prefix yield nil
// and no error.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "//") {
		return nil, nil
	}
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @lumen annotation", lineNum)
	}

	switch AnnotationType(args[0]) {
	case annotationTypeInclude:
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @lumen include annotation requires exactly one argument", lineNum)
		}
		if !slices.Contains(validStructTypes, AnnotationArg(args[1])) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @lumen include annotation", lineNum, args[1])
		}
		return &Annotation{
			Type: annotationTypeInclude,
			Args: []AnnotationArg{AnnotationArg(args[1])},
			Line: lineNum,
		}, nil
	case AnnotationTypeBindingGroup:
		if len(args) != 6 {
			return nil, fmt.Errorf("line %d: @lumen group annotation requires group, binding, address space, name and type", lineNum)
		}
		group, binding, err := parseBindingIndices(lineNum, "group", args[1], args[2])
		if err != nil {
			return nil, err
		}
		if !slices.Contains(validAddressSpaces, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown address space %q in @lumen group annotation", lineNum, args[3])
		}
		elem := args[5]
		if inner, ok := strings.CutPrefix(elem, "array<"); ok {
			elem = strings.TrimSuffix(inner, ">")
		}
		if !slices.Contains(validStructTypes, AnnotationArg(elem)) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @lumen group annotation", lineNum, elem)
		}
		return &Annotation{
			Type:    AnnotationTypeBindingGroup,
			Args:    []AnnotationArg{AnnotationArg(args[3]), AnnotationArg(args[4]), AnnotationArg(args[5])},
			Line:    lineNum,
			Group:   &group,
			Binding: &binding,
		}, nil
	case AnnotationTypeProvider:
		if len(args) != 4 {
			return nil, fmt.Errorf("line %d: @lumen provider annotation requires group, binding and provider identity", lineNum)
		}
		group, binding, err := parseBindingIndices(lineNum, "provider", args[1], args[2])
		if err != nil {
			return nil, err
		}
		if !slices.Contains(validProviderIdentities, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown provider identity %q in @lumen provider annotation", lineNum, args[3])
		}
		return &Annotation{
			Type:    AnnotationTypeProvider,
			Args:    []AnnotationArg{AnnotationArg(args[3])},
			Line:    lineNum,
			Group:   &group,
			Binding: &binding,
		}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @lumen annotation type %q", lineNum, args[0])
	}
}
