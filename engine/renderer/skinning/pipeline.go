package skinning

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/go-gl/mathgl/mgl32"
)

// MeshKind selects the vertex path a mesh is drawn with.
type MeshKind int

const (
	// MeshKindStatic meshes carry position, normal and UV.
	MeshKindStatic MeshKind = iota
	// MeshKindSkinned meshes additionally carry four joint indices and weights per vertex.
	MeshKindSkinned
	// MeshKindVertexColor meshes carry position, normal and a linear RGBA colour multiplied into the
	// tint. They have no UVs.
	MeshKindVertexColor
)

func (k MeshKind) String() string {
	switch k {
	case MeshKindStatic:
		return "static"
	case MeshKindSkinned:
		return "skinned"
	case MeshKindVertexColor:
		return "vertex_color"
	default:
		return fmt.Sprintf("MeshKind(%d)", int(k))
	}
}

// VertexSize returns the vertex stride of the kind.
func (k MeshKind) VertexSize() int {
	switch k {
	case MeshKindSkinned:
		return GPUSkinnedVertexSize
	case MeshKindVertexColor:
		return GPUColorVertexSize
	default:
		return GPUVertexSize
	}
}

var (
	// ErrEmptyMesh is returned when uploading a mesh without vertices or indices.
	ErrEmptyMesh = errors.New("mesh has no vertices or indices")
	// ErrIndexOutOfRange is returned by validation when an index references a missing vertex.
	ErrIndexOutOfRange = errors.New("mesh index out of range")
	// ErrJointOutOfRange is returned by validation when a vertex references a joint past MaxJoints.
	ErrJointOutOfRange = errors.New("vertex joint index out of range")
)

// Mesh is an uploaded mesh.
type Mesh struct {
	Handle     common.MeshHandle
	Kind       MeshKind
	IndexCount uint32
}

// MeshDraw is one mesh draw for the current frame.
type MeshDraw struct {
	Mesh  Mesh
	Model mgl32.Mat4
	// Scale, when set, is a non-uniform scale applied before Model.
	Scale *mgl32.Vec3
	// Tint is written as the record's albedo factor.
	Tint mgl32.Vec4
	// Albedo is the bindless slot sampled with the mesh UVs. frame.NoAlbedo draws the flat tint.
	Albedo uint32
	// Palette is required for skinned meshes and ignored for static ones.
	Palette frame.JointPalette
}

// Transform returns the model matrix written for the draw, with the optional scale folded in.
func (d MeshDraw) Transform() mgl32.Mat4 {
	if d.Scale == nil {
		return d.Model
	}
	return d.Model.Mul4(mgl32.Scale3D(d.Scale.X(), d.Scale.Y(), d.Scale.Z()))
}

// Device owns mesh vertex and index buffers.
type Device interface {
	// CreateMesh uploads packed vertex data and 32-bit indices under handle.
	//
	// Parameters:
	//   - handle: the mesh handle
	//   - kind: the vertex layout of the data
	//   - vertices: packed vertices
	//   - indices: triangle list indices
	//
	// Returns:
	//   - error: an error if the buffers could not be created
	CreateMesh(handle common.MeshHandle, kind MeshKind, vertices []byte, indices []uint32) error

	// ReleaseMesh destroys the buffers behind handle.
	//
	// Parameters:
	//   - handle: the mesh handle
	ReleaseMesh(handle common.MeshHandle)
}

// Pass is the slice of an open render pass the pipeline draws into.
type Pass interface {
	frame.Binder

	// SetMeshPipeline binds the render pipeline for kind.
	//
	// Parameters:
	//   - kind: the vertex path
	SetMeshPipeline(kind MeshKind)

	// BindTextureTable binds the bindless texture array the mesh fragment stage samples.
	BindTextureTable()

	// DrawMesh binds the mesh buffers and issues one indexed draw.
	//
	// Parameters:
	//   - handle: the mesh handle
	//   - indexCount: the number of indices to draw
	DrawMesh(handle common.MeshHandle, indexCount uint32)
}

// pipeline is the implementation of Pipeline.
type pipeline struct {
	device     Device
	validation bool
	bound      MeshKind
	hasBound   bool
}

// Pipeline uploads meshes and issues their draws through the static or skinned vertex path. The
// path is chosen by the caller when uploading; it is never inferred from the data.
type Pipeline interface {
	// UploadStaticMesh uploads a mesh for the static vertex path.
	//
	// Parameters:
	//   - vertices: the mesh vertices
	//   - indices: triangle list indices
	//
	// Returns:
	//   - Mesh: the uploaded mesh
	//   - error: an error if the mesh is empty or the upload failed
	UploadStaticMesh(vertices []Vertex, indices []uint32) (Mesh, error)

	// UploadSkinnedMesh uploads a mesh for the skinned vertex path.
	//
	// Parameters:
	//   - vertices: the mesh vertices with joint influences
	//   - indices: triangle list indices
	//
	// Returns:
	//   - Mesh: the uploaded mesh
	//   - error: an error if the mesh is empty or the upload failed
	UploadSkinnedMesh(vertices []SkinnedVertex, indices []uint32) (Mesh, error)

	// UploadVertexColorMesh uploads a mesh for the vertex-colour path.
	//
	// Parameters:
	//   - vertices: the mesh vertices with per-vertex colours
	//   - indices: triangle list indices
	//
	// Returns:
	//   - Mesh: the uploaded mesh
	//   - error: an error if the mesh is empty or the upload failed
	UploadVertexColorMesh(vertices []ColorVertex, indices []uint32) (Mesh, error)

	// Release destroys an uploaded mesh.
	//
	// Parameters:
	//   - mesh: the mesh to release
	Release(mesh Mesh)

	// UploadPalette writes the whole joint palette into a record of the frame region. Joints past
	// the end of palette are reset to identity.
	//
	// Parameters:
	//   - region: the frame region
	//   - rec: the record of the draw
	//   - palette: up to frame.MaxJoints joint matrices
	//
	// Returns:
	//   - error: an error if the palette is too large
	UploadPalette(region frame.Region, rec frame.Record, palette frame.JointPalette) error

	// Draw pushes a uniform record for the draw carrying its albedo slot, uploads the palette of
	// skinned meshes, binds the record and issues one indexed draw with the mesh kind's pipeline.
	//
	// Parameters:
	//   - pass: the render pass to record into
	//   - region: the frame region
	//   - draw: the mesh draw
	//
	// Returns:
	//   - error: an error if the region is full or the palette is invalid
	Draw(pass Pass, region frame.Region, draw MeshDraw) error

	// BeginPass forgets the pipeline bound on the previous pass.
	BeginPass()
}

var _ Pipeline = &pipeline{}

// NewPipeline creates a new mesh Pipeline.
//
// Parameters:
//   - device: the device owning mesh buffers
//   - validation: enable index and joint range checks on upload
//
// Returns:
//   - Pipeline: the new pipeline
func NewPipeline(device Device, validation bool) Pipeline {
	return &pipeline{
		device:     device,
		validation: validation,
	}
}

func checkIndices(indices []uint32, vertexCount int) error {
	for i, idx := range indices {
		if int(idx) >= vertexCount {
			return fmt.Errorf("index %d is %d, mesh has %d vertices: %w", i, idx, vertexCount, ErrIndexOutOfRange)
		}
	}
	return nil
}

func (p *pipeline) upload(kind MeshKind, vertexCount int, packed func() []byte, indices []uint32) (Mesh, error) {
	if vertexCount == 0 || len(indices) == 0 {
		return Mesh{}, ErrEmptyMesh
	}
	if p.validation {
		if err := checkIndices(indices, vertexCount); err != nil {
			return Mesh{}, err
		}
	}

	mesh := Mesh{Handle: common.NewMeshHandle(), Kind: kind, IndexCount: uint32(len(indices))}
	if err := p.device.CreateMesh(mesh.Handle, kind, packed(), indices); err != nil {
		return Mesh{}, fmt.Errorf("failed to upload %s mesh: %w", kind, err)
	}
	logger.Debug("[SkinnedMeshPipeline] uploaded %s mesh %s: %d vertices, %d indices", kind, mesh.Handle, vertexCount, len(indices))
	return mesh, nil
}

func (p *pipeline) UploadStaticMesh(vertices []Vertex, indices []uint32) (Mesh, error) {
	return p.upload(MeshKindStatic, len(vertices), func() []byte { return MarshalVertices(vertices) }, indices)
}

func (p *pipeline) UploadSkinnedMesh(vertices []SkinnedVertex, indices []uint32) (Mesh, error) {
	if p.validation {
		for i, v := range vertices {
			for _, j := range v.Joints {
				if j >= frame.MaxJoints {
					return Mesh{}, fmt.Errorf("vertex %d references joint %d: %w", i, j, ErrJointOutOfRange)
				}
			}
		}
	}
	return p.upload(MeshKindSkinned, len(vertices), func() []byte { return MarshalSkinnedVertices(vertices) }, indices)
}

func (p *pipeline) UploadVertexColorMesh(vertices []ColorVertex, indices []uint32) (Mesh, error) {
	return p.upload(MeshKindVertexColor, len(vertices), func() []byte { return MarshalColorVertices(vertices) }, indices)
}

func (p *pipeline) Release(mesh Mesh) {
	if mesh.Handle.IsZero() {
		return
	}
	p.device.ReleaseMesh(mesh.Handle)
}

func (p *pipeline) UploadPalette(region frame.Region, rec frame.Record, palette frame.JointPalette) error {
	return region.SetPalette(rec, palette)
}

func (p *pipeline) Draw(pass Pass, region frame.Region, draw MeshDraw) error {
	rec, err := region.Push(draw.Transform(), draw.Tint)
	if err != nil {
		return err
	}
	if err := region.SetAlbedo(rec, draw.Albedo); err != nil {
		return err
	}
	if draw.Mesh.Kind == MeshKindSkinned {
		if err := p.UploadPalette(region, rec, draw.Palette); err != nil {
			return fmt.Errorf("failed to upload joint palette for %s: %w", draw.Mesh.Handle, err)
		}
	}

	if !p.hasBound || p.bound != draw.Mesh.Kind {
		pass.SetMeshPipeline(draw.Mesh.Kind)
		pass.BindTextureTable()
		p.bound, p.hasBound = draw.Mesh.Kind, true
	}
	region.Bind(pass, rec)
	pass.DrawMesh(draw.Mesh.Handle, draw.Mesh.IndexCount)
	return nil
}

func (p *pipeline) BeginPass() {
	p.hasBound = false
}
