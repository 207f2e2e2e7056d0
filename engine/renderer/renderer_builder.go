package renderer

import (
	"github.com/Carmen-Shannon/lumen/engine/config"
	"github.com/Carmen-Shannon/lumen/engine/logger"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithConfig applies the renderer, frame and bindless sections of cfg. An unknown present mode
// falls back to VSync.
//
// Parameters:
//   - cfg: the validated engine configuration
//
// Returns:
//   - RendererBuilderOption: a function that applies the configuration to a renderer
func WithConfig(cfg config.Config) RendererBuilderOption {
	return func(r *renderer) {
		mode, err := ParsePresentMode(cfg.Renderer.PresentMode)
		if err != nil {
			logger.Warn("[Renderer] %v, using fifo", err)
		}
		r.pendingPresentMode = &mode
		msaa := MSAAOff
		if cfg.Renderer.MSAA > 1 {
			msaa = MSAA4x
		}
		r.pendingMSAA = &msaa
		r.framesInFlight = cfg.Renderer.FramesInFlight
		r.recordsPerFrame = cfg.Frame.RecordsPerFrame
		r.recordAlignment = uint32(cfg.Frame.RecordAlignment)
		r.tableCapacity = uint32(cfg.Bindless.Capacity)
		r.layerSize = uint32(cfg.Bindless.LayerSize)
	}
}

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *renderer) {
		r.pendingPresentMode = &mode
	}
}

// WithMSAA sets the multisample anti-aliasing sample count of the scene pass.
// When not specified, the default is MSAA4x. Use MSAAOff to disable MSAA entirely.
//
// Parameters:
//   - count: the MSAASampleCount to use (MSAAOff or MSAA4x)
//
// Returns:
//   - RendererBuilderOption: a function that applies the MSAA option to a renderer
func WithMSAA(count MSAASampleCount) RendererBuilderOption {
	return func(r *renderer) {
		r.pendingMSAA = &count
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the force software renderer option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}

// WithFramesInFlight sets how many frame uniform buffers are allocated. It must match the depth of
// the orchestrator's frame ring.
func WithFramesInFlight(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.framesInFlight = n
	}
}

// WithRecordsPerFrame sets how many uniform records each frame uniform buffer holds.
func WithRecordsPerFrame(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.recordsPerFrame = n
	}
}

// WithRecordAlignment sets the dynamic offset alignment of uniform records.
func WithRecordAlignment(align uint32) RendererBuilderOption {
	return func(r *renderer) {
		r.recordAlignment = align
	}
}

// WithTableCapacity sets the number of layers in the bindless texture array.
func WithTableCapacity(n uint32) RendererBuilderOption {
	return func(r *renderer) {
		r.tableCapacity = n
	}
}

// WithLayerSize sets the edge length in pixels of one texture array layer.
func WithLayerSize(size uint32) RendererBuilderOption {
	return func(r *renderer) {
		r.layerSize = size
	}
}
