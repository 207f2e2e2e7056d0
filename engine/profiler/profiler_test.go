package profiler

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
)

func TestTickReportsAverages(t *testing.T) {
	logger.SetOutput(io.Discard)

	start := time.Unix(0, 0)
	clock := start
	p := NewProfiler(time.Second)
	p.now = func() time.Time { return clock }
	p.lastTime = start

	stats := orchestrator.FrameStats{MeshDraws: 2, SpriteDraws: 1, SpriteInstances: 100, OverlayDraws: 4, Uploaded: 1}
	for i := 0; i < 3; i++ {
		clock = clock.Add(250 * time.Millisecond)
		if p.Tick(stats) {
			t.Fatalf("tick %d reported before the interval elapsed", i)
		}
	}
	clock = clock.Add(250 * time.Millisecond)
	if !p.Tick(stats) {
		t.Fatal("no report after the interval elapsed")
	}

	r := p.Last()
	if math.Abs(r.FPS-4) > 1e-9 {
		t.Errorf("FPS = %v, want 4", r.FPS)
	}
	if math.Abs(r.MeshDraws-2) > 1e-9 || math.Abs(r.SpriteInstances-100) > 1e-9 || math.Abs(r.OverlayDraws-4) > 1e-9 {
		t.Errorf("averages = %+v, want mesh 2, instances 100, overlay 4", r)
	}
	if r.Uploaded != 4 {
		t.Errorf("Uploaded = %d, want 4", r.Uploaded)
	}

	// the next interval starts from zero
	clock = clock.Add(100 * time.Millisecond)
	if p.Tick(orchestrator.FrameStats{}) {
		t.Error("report immediately after a report")
	}
}

func TestNewProfilerDefaultsInterval(t *testing.T) {
	if p := NewProfiler(0); p.updateInterval != time.Second {
		t.Errorf("interval = %v, want 1s", p.updateInterval)
	}
}
