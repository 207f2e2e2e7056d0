package orchestrator

import (
	"time"

	"github.com/Carmen-Shannon/lumen/engine/config"
)

// defaultIdleTimeout is how long a tile expansion worker idles before exiting.
const defaultIdleTimeout = time.Second

// OrchestratorBuilderOption configures an orchestrator at construction.
type OrchestratorBuilderOption func(*orchestrator)

// WithConfig applies the renderer, frame, bindless, sprite, overlay and asset worker settings of
// cfg.
//
// Parameters:
//   - cfg: a validated configuration
//
// Returns:
//   - OrchestratorBuilderOption: the option
func WithConfig(cfg config.Config) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.framesInFlight = cfg.Renderer.FramesInFlight
		o.validation = cfg.Renderer.Validation
		o.recordsPerFrame = cfg.Frame.RecordsPerFrame
		o.recordAlignment = uint32(cfg.Frame.RecordAlignment)
		o.tableCapacity = cfg.Bindless.Capacity
		o.batchCapacity = cfg.Sprites.BatchCapacity
		o.pixelsPerPoint = cfg.Overlay.PixelsPerPoint
		o.workers = cfg.Assets.DecodeWorkers
	}
}

// WithFramesInFlight sets the depth of the frame ring.
func WithFramesInFlight(n int) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.framesInFlight = n
	}
}

// WithRecordsPerFrame sets how many uniform records one frame can push.
func WithRecordsPerFrame(n int) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.recordsPerFrame = n
	}
}

// WithRecordAlignment sets the device's uniform offset alignment.
func WithRecordAlignment(align uint32) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.recordAlignment = align
	}
}

// WithTableCapacity sets the number of bindless texture slots.
func WithTableCapacity(n int) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.tableCapacity = n
	}
}

// WithBatchCapacity sets the maximum sprites per instanced draw.
func WithBatchCapacity(n int) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.batchCapacity = n
	}
}

// WithWorkers sets the size of the tile expansion worker pool.
func WithWorkers(n int) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.workers = n
	}
}

// WithValidation enables contract checks in every component.
func WithValidation(enabled bool) OrchestratorBuilderOption {
	return func(o *orchestrator) {
		o.validation = enabled
	}
}
