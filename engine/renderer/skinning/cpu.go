package skinning

import (
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/go-gl/mathgl/mgl32"
)

// The functions below compute exactly what the vertex stages compute, for tests and tools that
// need the skinned result without a device.

// SkinPosition returns the weighted sum over the four influences of the joint matrix applied to the
// homogeneous position. Joints past the end of palette read as identity, like the uniform record.
//
// Parameters:
//   - palette: the joint palette
//   - v: the skinned vertex
//
// Returns:
//   - mgl32.Vec4: the skinned homogeneous position
func SkinPosition(palette frame.JointPalette, v SkinnedVertex) mgl32.Vec4 {
	local := v.Position.Vec4(1)
	var out mgl32.Vec4
	for i := 0; i < MaxInfluences; i++ {
		joint := mgl32.Ident4()
		if int(v.Joints[i]) < len(palette) {
			joint = palette[v.Joints[i]]
		}
		out = out.Add(joint.Mul4x1(local).Mul(v.Weights[i]))
	}
	return out
}

// ClipPosition applies model, view and projection to a homogeneous position.
//
// Parameters:
//   - projection: the camera projection matrix
//   - view: the camera view matrix
//   - model: the draw's model matrix
//   - p: the homogeneous model-space position
//
// Returns:
//   - mgl32.Vec4: the clip-space position
func ClipPosition(projection, view, model mgl32.Mat4, p mgl32.Vec4) mgl32.Vec4 {
	return projection.Mul4(view).Mul4(model).Mul4x1(p)
}

// TransformNormal rotates a normal by the upper 3x3 of the model matrix and normalizes it. The
// projection is not applied. Skinned meshes use this too: their normals are not skinned, so
// deformed regions keep the bind-pose shading.
//
// Parameters:
//   - model: the draw's model matrix
//   - n: the model-space normal
//
// Returns:
//   - mgl32.Vec3: the world-space unit normal
func TransformNormal(model mgl32.Mat4, n mgl32.Vec3) mgl32.Vec3 {
	return model.Mat3().Mul3x1(n).Normalize()
}
