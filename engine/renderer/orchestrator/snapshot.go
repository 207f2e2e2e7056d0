package orchestrator

import (
	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
	"github.com/go-gl/mathgl/mgl32"
)

// Camera is the view and projection every record of a frame is rendered with.
type Camera struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

// TextureUpload is decoded image data the frame uploads before drawing. Image.Handle should be
// chosen by the scene (see common.NewTextureHandle) so draws in the same snapshot can reference
// it. Newly created images are registered in the bindless table.
type TextureUpload struct {
	Image upload.ImageUpload
}

// Snapshot is the immutable view of the scene one frame renders.
type Snapshot struct {
	Camera   Camera
	Uploads  []TextureUpload
	Retired  []common.TextureHandle
	Requests []DrawRequest
}

// SceneSource produces the snapshot of each frame.
type SceneSource interface {
	// Snapshot returns what frameIndex should render. The orchestrator does not modify it.
	//
	// Parameters:
	//   - frameIndex: the frame being recorded
	//
	// Returns:
	//   - Snapshot: the frame's scene
	Snapshot(frameIndex uint64) Snapshot
}

// SceneSourceFunc adapts a function to SceneSource.
type SceneSourceFunc func(frameIndex uint64) Snapshot

func (f SceneSourceFunc) Snapshot(frameIndex uint64) Snapshot {
	return f(frameIndex)
}
