package engine

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/lumen/engine/config"
	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
	"github.com/Carmen-Shannon/lumen/engine/renderer/overlay"
)

func testSource() orchestrator.SceneSource {
	return orchestrator.SceneSourceFunc(func(uint64) orchestrator.Snapshot {
		return orchestrator.Snapshot{Requests: []orchestrator.DrawRequest{
			orchestrator.SpriteDraw{},
			orchestrator.OverlayDraw{List: overlay.DrawList{}},
			orchestrator.SpriteDraw{},
		}}
	})
}

func TestSnapshotWithoutSource(t *testing.T) {
	e := &engine{cfg: config.Default()}
	if snap := e.Snapshot(0); len(snap.Requests) != 0 || len(snap.Uploads) != 0 {
		t.Errorf("Snapshot with no source = %+v, want empty", snap)
	}
}

func TestSnapshotOverlayToggle(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		want    int
	}{
		{"enabled", true, 3},
		{"disabled", false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Overlay.Enabled = tt.enabled
			e := &engine{cfg: cfg}
			e.SetSceneSource(testSource())

			snap := e.Snapshot(0)
			if len(snap.Requests) != tt.want {
				t.Fatalf("len(Requests) = %d, want %d", len(snap.Requests), tt.want)
			}
			if !tt.enabled {
				for _, r := range snap.Requests {
					if r.Kind() == orchestrator.DrawKindOverlay {
						t.Error("overlay request kept with the overlay disabled")
					}
				}
			}
		})
	}
}

func TestBuilderOptions(t *testing.T) {
	e := &engine{}
	WithTickRate(0)(e)
	if e.engineTickRate != time.Second/60 {
		t.Errorf("tick rate = %v, want the 60Hz default", e.engineTickRate)
	}
	WithRenderFrameLimit(100)(e)
	if e.renderFrameLimit != 10*time.Millisecond {
		t.Errorf("frame limit = %v, want 10ms", e.renderFrameLimit)
	}
	WithRenderFrameLimit(-1)(e)
	if e.renderFrameLimit != 0 {
		t.Errorf("frame limit = %v, want uncapped", e.renderFrameLimit)
	}
}

func TestSetTickRateWhileRunningReplacesPending(t *testing.T) {
	e := &engine{tickRateChannel: make(chan time.Duration, 1), running: true}
	e.SetTickRate(30)
	e.SetTickRate(120)
	if got := <-e.tickRateChannel; got != time.Second/120 {
		t.Errorf("pending rate = %v, want %v", got, time.Second/120)
	}
}
