package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
)

// Report is one interval's worth of frame and memory statistics.
type Report struct {
	FPS float64

	// per-frame averages over the interval
	MeshDraws       float64
	SpriteDraws     float64
	SpriteInstances float64
	OverlayDraws    float64

	Uploaded  int
	Reclaimed int

	HeapMB      float64
	AllocRateMB float64
	SysMB       float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
}

// Profiler tracks frame rate, draw counts and memory statistics for performance monitoring.
// Logs a Report at a configurable interval.
type Profiler struct {
	now            func() time.Time
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	totals         orchestrator.FrameStats
	last           Report
}

// NewProfiler creates a new Profiler reporting every interval. A non-positive interval defaults
// to one second.
//
// Parameters:
//   - interval: the reporting interval
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(interval time.Duration) *Profiler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Profiler{
		now:            time.Now,
		lastTime:       time.Now(),
		updateInterval: interval,
	}
}

// Tick should be called once per rendered frame with that frame's statistics.
// Logs a Report when the update interval has elapsed.
//
// Parameters:
//   - stats: the statistics RenderFrame returned
//
// Returns:
//   - bool: true if a report was produced this tick
func (p *Profiler) Tick(stats orchestrator.FrameStats) bool {
	p.frameCount++
	p.totals.MeshDraws += stats.MeshDraws
	p.totals.SpriteDraws += stats.SpriteDraws
	p.totals.SpriteInstances += stats.SpriteInstances
	p.totals.OverlayDraws += stats.OverlayDraws
	p.totals.Uploaded += stats.Uploaded
	p.totals.Reclaimed += stats.Reclaimed

	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	frames := float64(p.frameCount)
	r := Report{
		FPS:             frames / elapsed.Seconds(),
		MeshDraws:       float64(p.totals.MeshDraws) / frames,
		SpriteDraws:     float64(p.totals.SpriteDraws) / frames,
		SpriteInstances: float64(p.totals.SpriteInstances) / frames,
		OverlayDraws:    float64(p.totals.OverlayDraws) / frames,
		Uploaded:        p.totals.Uploaded,
		Reclaimed:       p.totals.Reclaimed,
	}

	runtime.ReadMemStats(&p.memStats)
	r.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	r.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	r.AllocRateMB = float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 GC pauses
	r.GCCount = p.memStats.NumGC
	if r.GCCount > 0 {
		r.LastPauseUs = p.memStats.PauseNs[(r.GCCount-1)%256] / 1000
		start := p.lastGCCount
		if r.GCCount-start > 256 {
			start = r.GCCount - 256
		}
		for i := start; i < r.GCCount; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	logger.Info("[Profiler] FPS: %.2f | draws/frame mesh %.1f sprite %.1f (%.0f instances) overlay %.1f | uploads %d reclaimed %d | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (last: %d µs, max: %d µs) | Sys: %.2f MB",
		r.FPS, r.MeshDraws, r.SpriteDraws, r.SpriteInstances, r.OverlayDraws, r.Uploaded, r.Reclaimed,
		r.HeapMB, r.AllocRateMB, r.GCCount, r.LastPauseUs, r.MaxPauseUs, r.SysMB)

	p.last = r
	p.frameCount = 0
	p.totals = orchestrator.FrameStats{}
	p.lastTime = currentTime
	p.lastGCCount = r.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// Last returns the most recent report, zero before the first interval elapses.
func (p *Profiler) Last() Report {
	return p.last
}
