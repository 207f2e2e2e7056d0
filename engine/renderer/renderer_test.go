package renderer

import (
	"context"
	"testing"
	"time"

	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/Carmen-Shannon/lumen/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/lumen/engine/renderer/skinning"
	"github.com/cogentcore/webgpu/wgpu"
)

func TestParsePresentMode(t *testing.T) {
	tests := []struct {
		name    string
		want    PresentMode
		wantGPU wgpu.PresentMode
		wantErr bool
	}{
		{"", PresentModeVSync, wgpu.PresentModeFifo, false},
		{"fifo", PresentModeVSync, wgpu.PresentModeFifo, false},
		{"mailbox", PresentModeMailbox, wgpu.PresentModeMailbox, false},
		{"immediate", PresentModeUncapped, wgpu.PresentModeImmediate, false},
		{"vsync", PresentModeVSync, wgpu.PresentModeFifo, true},
	}
	for _, tt := range tests {
		got, err := ParsePresentMode(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePresentMode(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePresentMode(%q) = %v, want %v", tt.name, got, tt.want)
		}
		if got.toWGPU() != tt.wantGPU {
			t.Errorf("%q maps to %v, want %v", tt.name, got.toWGPU(), tt.wantGPU)
		}
	}
}

func TestMeshPipelineKey(t *testing.T) {
	tests := []struct {
		kind skinning.MeshKind
		want string
	}{
		{skinning.MeshKindStatic, pipeline.KeyStaticMesh},
		{skinning.MeshKindSkinned, pipeline.KeySkinnedMesh},
		{skinning.MeshKindVertexColor, pipeline.KeyColorMesh},
	}
	for _, tt := range tests {
		if got := meshPipelineKey(tt.kind); got != tt.want {
			t.Errorf("%s key = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestWGPUFencePollsUntilSignalled(t *testing.T) {
	polls := 0
	var fence *wgpuFence
	fence = &wgpuFence{
		ChanFence: frame.NewChanFence(),
		poll: func(wait bool) {
			polls++
			// completion callbacks only run from inside a blocking poll
			if wait {
				fence.Signal()
			}
		},
	}

	if fence.Signaled() {
		t.Fatal("fence signalled before the work completed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fence.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if !fence.Signaled() {
		t.Error("fence not signalled after Wait")
	}
	if polls != 2 {
		t.Errorf("polled %d times, want 2", polls)
	}
}
