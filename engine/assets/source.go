package assets

import (
	"slices"

	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
)

// WithUploads wraps a scene source so every snapshot also carries the library's finished decodes
// and retirements. The library's uploads come first so the scene's own updates win.
//
// Parameters:
//   - lib: the library to drain each frame
//   - src: the scene
//
// Returns:
//   - orchestrator.SceneSource: the merged source
func WithUploads(lib Library, src orchestrator.SceneSource) orchestrator.SceneSource {
	return orchestrator.SceneSourceFunc(func(frameIndex uint64) orchestrator.Snapshot {
		snap := src.Snapshot(frameIndex)
		uploads, retired := lib.Drain()
		if len(uploads) > 0 {
			snap.Uploads = slices.Concat(uploads, snap.Uploads)
		}
		if len(retired) > 0 {
			snap.Retired = slices.Concat(snap.Retired, retired)
		}
		return snap
	})
}
