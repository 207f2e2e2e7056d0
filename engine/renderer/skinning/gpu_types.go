package skinning

import (
	_ "embed"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

// GPUVertexSource is the canonical WGSL definition of the VertexInput struct for static meshes.
// Matches GPUVertex layout exactly (32 bytes).
//
//go:embed assets/vertex.wgsl
var GPUVertexSource string

// GPUSkinnedVertexSource is the canonical WGSL definition of the SkinnedVertexInput struct.
// Matches GPUSkinnedVertex layout exactly (64 bytes).
//
//go:embed assets/skinned_vertex.wgsl
var GPUSkinnedVertexSource string

// GPUColorVertexSource is the canonical WGSL definition of the ColorVertexInput struct.
// Matches GPUColorVertex layout exactly (40 bytes).
//
//go:embed assets/color_vertex.wgsl
var GPUColorVertexSource string

// GPUMeshShadingSource holds the varyings, the model/view/projection helper and the fragment stage
// shared by every mesh path.
//
//go:embed assets/mesh_shading.wgsl
var GPUMeshShadingSource string

// StaticShaderSource is the static mesh render shader.
//
//go:embed assets/static_mesh.wgsl
var StaticShaderSource string

// SkinnedShaderSource is the skinned mesh render shader.
//
//go:embed assets/skinned_mesh.wgsl
var SkinnedShaderSource string

// VertexColorShaderSource is the vertex-colour mesh render shader.
//
//go:embed assets/vertex_color_mesh.wgsl
var VertexColorShaderSource string

const (
	// GPUVertexSize is the stride of a static vertex.
	GPUVertexSize = 32
	// GPUSkinnedVertexSize is the stride of a skinned vertex.
	GPUSkinnedVertexSize = 64
	// GPUColorVertexSize is the stride of a vertex-colour vertex.
	GPUColorVertexSize = 40
	// MaxInfluences is the number of joints that can affect one vertex.
	MaxInfluences = 4
)

// Vertex is one static mesh vertex.
type Vertex struct {
	Position mgl32.Vec3 // offset  0 (12 bytes)
	Normal   mgl32.Vec3 // offset 12 (12 bytes)
	UV       mgl32.Vec2 // offset 24 (8 bytes)
}

// Size returns the size of the vertex in the vertex buffer.
//
// Returns:
//   - int: the size in bytes.
func (v *Vertex) Size() int {
	return GPUVertexSize
}

// MarshalInto serializes the vertex into buf, which must hold at least 32 bytes.
//
// Parameters:
//   - buf: the destination buffer
func (v *Vertex) MarshalInto(buf []byte) {
	common.PutVec3(buf, 0, v.Position)
	common.PutVec3(buf, 12, v.Normal)
	common.PutVec2(buf, 24, v.UV)
}

// SkinnedVertex is a static vertex plus up to four joint influences. Weights must sum to 1; they
// are not re-normalized.
type SkinnedVertex struct {
	Vertex                         // offset  0 (32 bytes)
	Joints  [MaxInfluences]uint32  // offset 32 (16 bytes)
	Weights [MaxInfluences]float32 // offset 48 (16 bytes)
}

// Size returns the size of the skinned vertex in the vertex buffer.
//
// Returns:
//   - int: the size in bytes.
func (v *SkinnedVertex) Size() int {
	return GPUSkinnedVertexSize
}

// MarshalInto serializes the vertex into buf, which must hold at least 64 bytes.
//
// Parameters:
//   - buf: the destination buffer
func (v *SkinnedVertex) MarshalInto(buf []byte) {
	v.Vertex.MarshalInto(buf)
	for i := 0; i < MaxInfluences; i++ {
		common.PutUint32(buf, 32+i*4, v.Joints[i])
		common.PutFloat32(buf, 48+i*4, v.Weights[i])
	}
}

// ColorVertex is one vertex of a mesh coloured per vertex instead of by UV.
type ColorVertex struct {
	Position mgl32.Vec3 // offset  0 (12 bytes)
	Normal   mgl32.Vec3 // offset 12 (12 bytes)
	Color    mgl32.Vec4 // offset 24: linear RGBA (16 bytes)
}

// Size returns the size of the vertex in the vertex buffer.
//
// Returns:
//   - int: the size in bytes.
func (v *ColorVertex) Size() int {
	return GPUColorVertexSize
}

// MarshalInto serializes the vertex into buf, which must hold at least 40 bytes.
//
// Parameters:
//   - buf: the destination buffer
func (v *ColorVertex) MarshalInto(buf []byte) {
	common.PutVec3(buf, 0, v.Position)
	common.PutVec3(buf, 12, v.Normal)
	common.PutVec4(buf, 24, v.Color)
}

// MarshalVertices packs static vertices into a vertex buffer.
//
// Parameters:
//   - vertices: the vertices to pack
//
// Returns:
//   - []byte: len(vertices) * GPUVertexSize bytes
func MarshalVertices(vertices []Vertex) []byte {
	buf := make([]byte, len(vertices)*GPUVertexSize)
	for i := range vertices {
		vertices[i].MarshalInto(buf[i*GPUVertexSize:])
	}
	return buf
}

// MarshalSkinnedVertices packs skinned vertices into a vertex buffer.
//
// Parameters:
//   - vertices: the vertices to pack
//
// Returns:
//   - []byte: len(vertices) * GPUSkinnedVertexSize bytes
func MarshalSkinnedVertices(vertices []SkinnedVertex) []byte {
	buf := make([]byte, len(vertices)*GPUSkinnedVertexSize)
	for i := range vertices {
		vertices[i].MarshalInto(buf[i*GPUSkinnedVertexSize:])
	}
	return buf
}

// MarshalColorVertices packs vertex-colour vertices into a vertex buffer.
func MarshalColorVertices(vertices []ColorVertex) []byte {
	buf := make([]byte, len(vertices)*GPUColorVertexSize)
	for i := range vertices {
		vertices[i].MarshalInto(buf[i*GPUColorVertexSize:])
	}
	return buf
}
