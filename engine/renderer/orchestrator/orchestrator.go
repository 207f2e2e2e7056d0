package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bindless"
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/Carmen-Shannon/lumen/engine/renderer/overlay"
	"github.com/Carmen-Shannon/lumen/engine/renderer/skinning"
	"github.com/Carmen-Shannon/lumen/engine/renderer/sprite"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
	"github.com/go-gl/mathgl/mgl32"
)

// ScenePass is the depth-tested pass meshes and sprites are drawn into.
type ScenePass interface {
	skinning.Pass
	sprite.Pass

	// SetSpritePipeline binds the sprite render pipeline.
	SetSpritePipeline()

	// End closes the pass.
	End()
}

// OverlayPass is the pass GUI draw lists are composited in, after the scene pass.
type OverlayPass interface {
	overlay.Pass

	// End closes the pass.
	End()
}

// Device is everything the orchestrator needs from the GPU: resource creation for every component
// plus the frame lifecycle.
type Device interface {
	frame.Device
	upload.Device
	bindless.SlotWriter
	skinning.Device

	// BeginFrame acquires the next surface image and opens the frame's command encoder.
	//
	// Returns:
	//   - uint32, uint32: the framebuffer width and height in pixels
	//   - error: an error if no surface image is available
	BeginFrame() (uint32, uint32, error)

	// BeginScenePass opens the scene pass, clearing colour and depth.
	//
	// Returns:
	//   - ScenePass: the open pass
	BeginScenePass() ScenePass

	// BeginOverlayPass opens the overlay pass, loading the scene's colour.
	//
	// Returns:
	//   - OverlayPass: the open pass
	BeginOverlayPass() OverlayPass

	// Submit finishes the encoder and submits it.
	//
	// Returns:
	//   - frame.Fence: signalled when the GPU completes the submission
	//   - error: an error if the submission failed
	Submit() (frame.Fence, error)

	// Present queues the frame's surface image for display.
	Present()

	// DiscardFrame drops the open encoder and surface image without submitting. It does nothing
	// when no frame is open.
	DiscardFrame()
}

// FrameStats summarises one rendered frame.
type FrameStats struct {
	Frame           uint64
	Uploaded        int
	Retired         int
	Reclaimed       int
	MeshDraws       int
	SpriteDraws     int
	SpriteInstances int
	OverlayDraws    int
}

// pendingRelease is a retired scene image waiting for its last frame to complete.
type pendingRelease struct {
	handle common.TextureHandle
	epoch  uint64
}

// orchestrator is the implementation of Orchestrator.
type orchestrator struct {
	device Device
	source SceneSource

	framesInFlight  int
	recordsPerFrame int
	recordAlignment uint32
	tableCapacity   int
	batchCapacity   int
	pixelsPerPoint  float32
	workers         int
	validation      bool

	frames   frame.UniformSet
	table    bindless.Table
	uploader upload.Uploader
	sprites  sprite.Batcher
	meshes   skinning.Pipeline
	overlay  overlay.Compositor
	pool     worker.DynamicWorkerPool

	next      uint64
	recording bool
	releases  []pendingRelease
	parts     partition
	instances []sprite.Instance
}

// Orchestrator drives one frame at a time through a fixed sequence: acquire the frame's uniform
// region, reclaim texture slots, apply uploads and retirements, record the scene pass (meshes then
// sprites), record the overlay pass, flush uniforms, submit and present.
//
// The orchestrator owns the render submission thread's state and is not safe for concurrent use.
type Orchestrator interface {
	// RenderFrame renders the next frame of the scene source. It blocks while the frame's ring
	// slot is still in flight. A frame that fails after acquisition is abandoned.
	//
	// Parameters:
	//   - ctx: cancels the wait for a ring slot
	//
	// Returns:
	//   - FrameStats: what the frame did
	//   - error: an error if the frame could not be rendered
	RenderFrame(ctx context.Context) (FrameStats, error)

	// Abandon discards the frame being recorded, if any, without submitting it.
	Abandon()

	// FrameIndex returns the index the next frame will be rendered with.
	//
	// Returns:
	//   - uint64: the next frame index
	FrameIndex() uint64

	// Meshes returns the mesh pipeline, for uploading and releasing meshes.
	//
	// Returns:
	//   - skinning.Pipeline: the mesh pipeline
	Meshes() skinning.Pipeline

	// Table returns the bindless texture table.
	//
	// Returns:
	//   - bindless.Table: the table shared by sprites and the overlay
	Table() bindless.Table

	// Frames returns the frame uniform ring.
	//
	// Returns:
	//   - frame.UniformSet: the ring
	Frames() frame.UniformSet

	// Close stops the worker pool.
	Close()
}

var _ Orchestrator = &orchestrator{}

// NewOrchestrator creates an Orchestrator rendering source on device.
//
// Parameters:
//   - device: the GPU device
//   - source: produces each frame's snapshot
//   - options: builder options, see WithConfig
//
// Returns:
//   - Orchestrator: the new orchestrator
//   - error: an error if a component cannot be created with the configured sizes
func NewOrchestrator(device Device, source SceneSource, options ...OrchestratorBuilderOption) (Orchestrator, error) {
	o := &orchestrator{
		device:          device,
		source:          source,
		framesInFlight:  2,
		recordsPerFrame: 64,
		recordAlignment: 256,
		tableCapacity:   bindless.DefaultCapacity,
		batchCapacity:   sprite.DefaultCapacity,
		pixelsPerPoint:  1,
		workers:         4,
	}
	for _, opt := range options {
		opt(o)
	}

	frames, err := frame.NewUniformSet(o.framesInFlight,
		frame.WithRecordsPerFrame(o.recordsPerFrame),
		frame.WithRecordAlignment(o.recordAlignment),
		frame.WithValidation(o.validation),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame uniform ring: %w", err)
	}
	table, err := bindless.NewTable(device, frames, bindless.WithCapacity(o.tableCapacity))
	if err != nil {
		return nil, fmt.Errorf("failed to create texture table: %w", err)
	}

	o.frames = frames
	o.table = table
	o.uploader = upload.NewUploader(device, o.validation)
	o.sprites = sprite.NewBatcher(sprite.WithCapacity(o.batchCapacity))
	o.meshes = skinning.NewPipeline(device, o.validation)
	o.overlay = overlay.NewCompositor(o.uploader, table, frames)
	o.pool = worker.NewDynamicWorkerPool(o.workers, 256, defaultIdleTimeout)
	return o, nil
}

func (o *orchestrator) FrameIndex() uint64 {
	return o.next
}

func (o *orchestrator) Meshes() skinning.Pipeline {
	return o.meshes
}

func (o *orchestrator) Table() bindless.Table {
	return o.table
}

func (o *orchestrator) Frames() frame.UniformSet {
	return o.frames
}

func (o *orchestrator) Close() {
	o.pool.Stop()
}

func (o *orchestrator) Abandon() {
	if !o.recording {
		return
	}
	o.recording = false
	o.frames.Abandon(o.next - 1)
	o.device.DiscardFrame()
	logger.Debug("[RenderPassOrchestrator] abandoned frame %d", o.next-1)
}

func (o *orchestrator) RenderFrame(ctx context.Context) (FrameStats, error) {
	o.Abandon()

	index := o.next
	region, err := o.frames.AcquireForFrame(ctx, index)
	if err != nil {
		return FrameStats{}, fmt.Errorf("failed to acquire frame %d: %w", index, err)
	}
	o.next++
	o.recording = true

	stats, err := o.record(index, region)
	if err != nil {
		o.Abandon()
		return stats, err
	}
	o.recording = false
	return stats, nil
}

func (o *orchestrator) record(index uint64, region frame.Region) (FrameStats, error) {
	stats := FrameStats{Frame: index}
	stats.Reclaimed = o.table.Reclaim()

	snap := o.source.Snapshot(index)
	o.parts.reset()
	o.parts.add(snap.Requests)

	width, height, err := o.device.BeginFrame()
	if err != nil {
		return stats, fmt.Errorf("failed to begin frame %d: %w", index, err)
	}

	// upload stage
	if stats.Uploaded, err = o.applyUploads(snap.Uploads); err != nil {
		return stats, err
	}
	stats.Retired = o.retire(snap.Retired)
	for _, d := range o.parts.overlays {
		if err := o.overlay.UpdateTextures(d.List.Textures); err != nil {
			return stats, err
		}
	}
	if err := o.prepareSprites(); err != nil {
		return stats, err
	}

	// scene pass
	region.SetCamera(snap.Camera.View, snap.Camera.Projection)
	scene := o.device.BeginScenePass()
	o.meshes.BeginPass()
	for _, m := range o.parts.meshes {
		d := m.draw
		d.Albedo = o.slot(m.texture)
		if err := o.meshes.Draw(scene, region, d); err != nil {
			scene.End()
			return stats, fmt.Errorf("failed to draw %s mesh %s: %w", d.Mesh.Kind, d.Mesh.Handle, err)
		}
		stats.MeshDraws++
	}
	if len(o.instances) > 0 {
		draws, err := o.drawSprites(scene, region)
		stats.SpriteDraws = draws
		stats.SpriteInstances = len(o.instances)
		if err != nil {
			scene.End()
			return stats, err
		}
	}
	scene.End()

	// overlay pass
	if len(o.parts.overlays) > 0 {
		lists := make([]overlay.DrawList, len(o.parts.overlays))
		for i, d := range o.parts.overlays {
			lists[i] = d.List
			if lists[i].PixelsPerPoint <= 0 {
				lists[i].PixelsPerPoint = o.pixelsPerPoint
			}
		}
		pass := o.device.BeginOverlayPass()
		n, err := o.overlay.Render(pass, lists, width, height)
		stats.OverlayDraws = n
		pass.End()
		if err != nil {
			return stats, err
		}
	}

	if err := region.Flush(o.device); err != nil {
		return stats, err
	}
	fence, err := o.device.Submit()
	if err != nil {
		return stats, fmt.Errorf("failed to submit frame %d: %w", index, err)
	}
	if err := o.frames.Submitted(index, fence); err != nil {
		return stats, err
	}
	o.recording = false

	for _, d := range o.parts.overlays {
		o.overlay.FreeTextures(d.List.Textures)
	}
	o.overlay.Collect()
	o.collect()
	o.device.Present()
	return stats, nil
}

func (o *orchestrator) applyUploads(uploads []TextureUpload) (int, error) {
	for i, u := range uploads {
		handle, err := o.uploader.Upload(u.Image)
		if err != nil {
			return i, fmt.Errorf("texture upload %d: %w", i, err)
		}
		if _, err := o.table.Register(handle); err != nil {
			return i, fmt.Errorf("failed to register texture %v: %w", handle, err)
		}
	}
	return len(uploads), nil
}

func (o *orchestrator) retire(handles []common.TextureHandle) int {
	retired := 0
	epoch := o.frames.CurrentFrame()
	for _, h := range handles {
		if err := o.table.RetireHandle(h); err != nil {
			logger.Warn("[RenderPassOrchestrator] failed to retire %v: %v", h, err)
			continue
		}
		o.releases = append(o.releases, pendingRelease{handle: h, epoch: epoch})
		retired++
	}
	return retired
}

func (o *orchestrator) collect() {
	kept := o.releases[:0]
	for _, r := range o.releases {
		if o.frames.FrameCompleted(r.epoch) {
			o.uploader.Release(r.handle)
			continue
		}
		kept = append(kept, r)
	}
	o.releases = kept
}

// slot resolves a scene texture to its bindless slot. Zero and unregistered handles draw flat.
func (o *orchestrator) slot(h common.TextureHandle) uint32 {
	if h.IsZero() {
		return bindless.Sentinel
	}
	s, _ := o.table.Lookup(h)
	return s
}

// prepareSprites resolves sprite textures and expands tile maps on the worker pool into one
// instance list ordered far layers first.
func (o *orchestrator) prepareSprites() error {
	o.instances = o.instances[:0]
	for _, d := range o.parts.sprites {
		o.instances = append(o.instances, sprite.Instance{
			Position:  d.Position,
			UV:        d.UV,
			Layer:     d.Layer,
			Texture:   o.slot(d.Texture),
			Tint:      d.Tint,
			Transform: d.Transform,
		})
	}

	if n := len(o.parts.tileMaps); n > 0 {
		expanded := make([][]sprite.Instance, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i, d := range o.parts.tileMaps {
			tiles := make([]sprite.Tile, len(d.Tiles))
			for t, src := range d.Tiles {
				tiles[t] = sprite.Tile{Texture: o.slot(src.Texture), UV: src.UV}
			}
			wg.Add(1)
			o.pool.SubmitTask(worker.Task{
				ID: i,
				Do: func() (any, error) {
					defer wg.Done()
					expanded[i], errs[i] = sprite.ExpandTileMap(d.Map, tiles, d.Transform, d.Layer)
					return nil, errs[i]
				},
			})
		}
		wg.Wait()
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("failed to expand tile maps: %w", err)
		}
		for _, e := range expanded {
			o.instances = append(o.instances, e...)
		}
	}

	slices.SortStableFunc(o.instances, func(a, b sprite.Instance) int {
		return int(b.Layer) - int(a.Layer)
	})
	return nil
}

// drawSprites pushes every prepared instance, flushing whenever the batch fills.
func (o *orchestrator) drawSprites(pass ScenePass, region frame.Region) (int, error) {
	rec, err := region.Push(mgl32.Ident4(), mgl32.Vec4{1, 1, 1, 1})
	if err != nil {
		return 0, fmt.Errorf("failed to push sprite record: %w", err)
	}
	pass.SetSpritePipeline()
	region.Bind(pass, rec)

	draws := 0
	flush := func() error {
		n, err := o.sprites.Flush(pass)
		if err != nil {
			return err
		}
		if n > 0 {
			draws++
		}
		return nil
	}

	o.sprites.BeginBatch()
	for _, inst := range o.instances {
		err := o.sprites.Push(inst)
		if errors.Is(err, sprite.ErrBatchFull) {
			if err = flush(); err == nil {
				err = o.sprites.Push(inst)
			}
		}
		if err != nil {
			return draws, err
		}
	}
	if err := flush(); err != nil {
		return draws, err
	}
	return draws, nil
}
