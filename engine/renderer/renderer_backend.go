package renderer

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeMailbox replaces the queued image with the newest one, presenting at vertical
	// blank without blocking submission. Falls back to VSync where unsupported.
	PresentModeMailbox

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// ParsePresentMode maps the configuration names fifo, mailbox and immediate to a PresentMode.
//
// Parameters:
//   - name: the configured present mode
//
// Returns:
//   - PresentMode: the present mode
//   - error: an error for an unknown name
func ParsePresentMode(name string) (PresentMode, error) {
	switch name {
	case "fifo", "":
		return PresentModeVSync, nil
	case "mailbox":
		return PresentModeMailbox, nil
	case "immediate":
		return PresentModeUncapped, nil
	default:
		return PresentModeVSync, fmt.Errorf("unknown present mode %q", name)
	}
}

func (m PresentMode) toWGPU() wgpu.PresentMode {
	switch m {
	case PresentModeMailbox:
		return wgpu.PresentModeMailbox
	case PresentModeUncapped:
		return wgpu.PresentModeImmediate
	default:
		return wgpu.PresentModeFifo
	}
}

// MSAASampleCount controls the number of samples used for multisample anti-aliasing (MSAA) in
// the scene pass. WebGPU guarantees support for 1 (off) and 4.
type MSAASampleCount uint32

const (
	// MSAAOff disables multisample anti-aliasing (sample count 1).
	MSAAOff MSAASampleCount = 1

	// MSAA4x enables 4x multisample anti-aliasing. This is the default.
	MSAA4x MSAASampleCount = 4
)

// RendererBackend is the top-level backend interface for the Renderer.
// It embeds the concrete backend interface for the selected GPU API.
type RendererBackend interface {
	wgpuRendererBackend
}
