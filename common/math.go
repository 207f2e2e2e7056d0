package common

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// The Put helpers write little-endian GPU layouts. Offsets are byte offsets into buf and
// the caller guarantees buf is large enough.

// PutFloat32 writes v at off.
func PutFloat32(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
}

// PutUint32 writes v at off.
func PutUint32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

// PutInt32 writes v at off.
func PutInt32(buf []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v))
}

// PutVec2 writes v as vec2<f32> at off.
func PutVec2(buf []byte, off int, v mgl32.Vec2) {
	PutFloat32(buf, off, v[0])
	PutFloat32(buf, off+4, v[1])
}

// PutVec3 writes v as three packed floats at off (12 bytes, no padding).
func PutVec3(buf []byte, off int, v mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		PutFloat32(buf, off+i*4, v[i])
	}
}

// PutVec4 writes v as vec4<f32> at off.
func PutVec4(buf []byte, off int, v mgl32.Vec4) {
	for i := 0; i < 4; i++ {
		PutFloat32(buf, off+i*4, v[i])
	}
}

// PutMat4 writes m as mat4x4<f32> (column-major, 64 bytes) at off.
func PutMat4(buf []byte, off int, m mgl32.Mat4) {
	for i := 0; i < 16; i++ {
		PutFloat32(buf, off+i*4, m[i])
	}
}

// PutRect writes r as four floats in Left, Right, Top, Bottom order at off.
func PutRect(buf []byte, off int, r Rect) {
	PutFloat32(buf, off, r.Left)
	PutFloat32(buf, off+4, r.Right)
	PutFloat32(buf, off+8, r.Top)
	PutFloat32(buf, off+12, r.Bottom)
}

// Float32At reads a float written by PutFloat32.
func Float32At(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
}

// Uint32At reads a uint32 written by PutUint32.
func Uint32At(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

// Mat4At reads a matrix written by PutMat4.
func Mat4At(buf []byte, off int) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := 0; i < 16; i++ {
		m[i] = Float32At(buf, off+i*4)
	}
	return m
}
