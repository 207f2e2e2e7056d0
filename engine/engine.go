package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Carmen-Shannon/lumen/engine/assets"
	"github.com/Carmen-Shannon/lumen/engine/config"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/profiler"
	"github.com/Carmen-Shannon/lumen/engine/renderer"
	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
	"github.com/Carmen-Shannon/lumen/engine/window"
)

// engine implements the Engine interface.
// Coordinates engine, render, and window threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	cfg config.Config

	window          window.Window
	windowOptions   []window.WindowBuilderOption
	renderer        renderer.Renderer
	rendererOptions []renderer.RendererBuilderOption
	orchestrator    orchestrator.Orchestrator
	assets          assets.Library

	sourceMu sync.Mutex
	source   orchestrator.SceneSource

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32, stats orchestrator.FrameStats)

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped
}

// Engine is the main entry point for the engine.
// It owns the window, the renderer and the asset library, and runs the fixed-rate tick loop and
// the render loop that turns the scene source's snapshots into frames.
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Renderer returns the GPU renderer.
	//
	// Returns:
	//   - renderer.Renderer: the renderer instance
	Renderer() renderer.Renderer

	// Orchestrator returns the frame orchestrator, for uploading meshes and inspecting the
	// texture table.
	//
	// Returns:
	//   - orchestrator.Orchestrator: the orchestrator instance
	Orchestrator() orchestrator.Orchestrator

	// Assets returns the texture library. Its decoded images are uploaded with the next frame.
	//
	// Returns:
	//   - assets.Library: the library instance
	Assets() assets.Library

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	// The tick callback will be called at this rate for game logic updates.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	// Use this for game logic, physics, input processing, and animation updates.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each rendered frame.
	//
	// Parameters:
	//   - callback: function receiving the delta time in seconds and the frame's statistics
	SetRenderCallback(callback func(deltaTime float32, stats orchestrator.FrameStats))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// SetSceneSource replaces the source the render loop takes each frame's snapshot from.
	// With no source the engine renders empty frames.
	//
	// Parameters:
	//   - src: the scene source
	SetSceneSource(src orchestrator.SceneSource)

	// Run starts the engine and render loops and processes window messages until the window
	// closes or Quit is called, then releases every GPU and window resource. Must be called from
	// the goroutine that created the engine.
	//
	// Returns:
	//   - error: an error if shutdown fails
	Run() error

	// Quit signals all engine goroutines to stop and shuts down the engine.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine with the provided options: it opens the window (unless one is
// supplied with WithWindow), creates the renderer on its surface, starts the asset library and
// builds the frame orchestrator. Configuration defaults to config.Default.
//
// Parameters:
//   - options: functional options for engine configuration (config, window, profiling, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
//   - error: an error if any subsystem fails to initialize
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		cfg:             config.Default(),
		engineTickRate:  time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}

	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}
	if err := logger.SetLevel(e.cfg.Logging.Level); err != nil {
		return nil, err
	}
	e.profiler = profiler.NewProfiler(time.Second)

	if e.window == nil {
		w, err := window.NewWindow(e.windowOptions...)
		if err != nil {
			return nil, err
		}
		e.window = w
	}

	r, err := renderer.NewRenderer(renderer.BackendTypeWGPU, e.window,
		append([]renderer.RendererBuilderOption{renderer.WithConfig(e.cfg)}, e.rendererOptions...)...)
	if err != nil {
		e.window.Close()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	e.renderer = r

	e.assets = assets.NewLibrary(assets.WithConfig(e.cfg))
	if err := e.loadTextures(); err != nil {
		e.release()
		return nil, err
	}

	o, err := orchestrator.NewOrchestrator(r, assets.WithUploads(e.assets, e), orchestrator.WithConfig(e.cfg))
	if err != nil {
		e.release()
		return nil, fmt.Errorf("failed to create frame orchestrator: %w", err)
	}
	e.orchestrator = o

	e.window.SetResizeCallback(func(width, height int) {
		if width > 0 && height > 0 {
			e.renderer.Resize(width, height)
		}
	})

	logger.Info("[Engine] ready: %dx%d, %d frames in flight", e.window.Width(), e.window.Height(), e.cfg.Renderer.FramesInFlight)
	return e, nil
}

// loadTextures loads and optionally watches the configured texture directory. A missing directory
// is not an error.
func (e *engine) loadTextures() error {
	dir := e.cfg.Assets.TextureDir
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Debug("[Engine] texture directory %s does not exist, skipping", dir)
		return nil
	}
	if _, err := e.assets.LoadDir(dir); err != nil {
		return err
	}
	if e.cfg.Assets.Watch {
		return e.assets.Watch(dir)
	}
	return nil
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Orchestrator() orchestrator.Orchestrator {
	return e.orchestrator
}

func (e *engine) Assets() assets.Library {
	return e.assets
}

func (e *engine) SetSceneSource(src orchestrator.SceneSource) {
	e.sourceMu.Lock()
	defer e.sourceMu.Unlock()
	e.source = src
}

// Snapshot forwards to the current scene source, dropping overlay draws when the overlay is
// disabled.
func (e *engine) Snapshot(frameIndex uint64) orchestrator.Snapshot {
	e.sourceMu.Lock()
	src := e.source
	e.sourceMu.Unlock()
	if src == nil {
		return orchestrator.Snapshot{}
	}

	snap := src.Snapshot(frameIndex)
	if !e.cfg.Overlay.Enabled {
		kept := make([]orchestrator.DrawRequest, 0, len(snap.Requests))
		for _, r := range snap.Requests {
			if r.Kind() != orchestrator.DrawKindOverlay {
				kept = append(kept, r)
			}
		}
		snap.Requests = kept
	}
	return snap
}

func (e *engine) Run() error {
	e.running = true
	e.handle()
	e.window.ProcessMessages()

	// the window closed itself or Quit was called
	e.signalQuit()
	e.wg.Wait()
	return e.release()
}

// release tears down whatever NewEngine created, in reverse order.
func (e *engine) release() error {
	var errs []error
	if e.orchestrator != nil {
		e.orchestrator.Close()
	}
	if e.assets != nil {
		errs = append(errs, e.assets.Close())
	}
	if e.renderer != nil {
		e.renderer.Release()
	}
	if e.window != nil {
		errs = append(errs, e.window.Close())
	}
	return errors.Join(errs...)
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
	})
}

// handle launches the engine, render, and quit goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	ctx, cancel := context.WithCancel(context.Background())
	e.wg.Add(3)
	go e.handleEngine()
	go e.handleRender(ctx)
	go e.handleQuit(cancel)
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// Each iteration renders one frame of the scene source; a frame that fails is logged and skipped.
// Recovers from panics to avoid crashing the process and signals quit on recovery.
func (e *engine) handleRender(ctx context.Context) {
	defer e.wg.Done()
	// Recover from panics inside the render goroutine to avoid crashing the whole process.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[Engine] render goroutine recovered from panic: %v", r)
			e.orchestrator.Abandon()
			e.signalQuit()
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			now := time.Now()
			dt := float32(now.Sub(lastRender).Seconds())
			lastRender = now

			stats, err := e.orchestrator.RenderFrame(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("[Engine] frame %d dropped: %v", stats.Frame, err)
				// an outdated or lost surface recovers once it is configured again
				e.renderer.Resize(e.window.Width(), e.window.Height())
			}

			if e.renderCallback != nil {
				e.renderCallback(dt, stats)
			}

			if e.profilingEnabled && e.profiler != nil {
				e.profiler.Tick(stats)
			}

			// Frame rate limiting
			if e.renderFrameLimit > 0 {
				elapsed := time.Since(lastRender)
				if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
					time.Sleep(remaining)
				}
			}
		}
	}
}

// handleQuit blocks until the quit channel is closed, then cancels any frame waiting on a ring
// slot, asks the window loop to exit and decrements the WaitGroup.
func (e *engine) handleQuit(cancel context.CancelFunc) {
	defer e.wg.Done()
	<-e.quitChannel
	cancel()
	e.window.RequestClose()
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Second / time.Duration(fps)

	if e.running {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

// SetRenderCallback registers the function called after each rendered frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32, stats orchestrator.FrameStats)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Second / time.Duration(fps)
}
