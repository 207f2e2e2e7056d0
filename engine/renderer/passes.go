package renderer

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
	"github.com/Carmen-Shannon/lumen/engine/renderer/overlay"
	"github.com/Carmen-Shannon/lumen/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/lumen/engine/renderer/skinning"
	"github.com/Carmen-Shannon/lumen/engine/renderer/sprite"
	"github.com/cogentcore/webgpu/wgpu"
)

// renderPass records into one render pass of the current frame. A pass that failed to begin has a
// nil encoder and records nothing; the failure surfaces from Submit.
type renderPass struct {
	r  *renderer
	rp *wgpu.RenderPassEncoder
}

func (p *renderPass) setPipeline(key string) {
	if p.rp == nil {
		return
	}
	pl := p.r.Pipeline(key)
	if pl == nil {
		p.fail(fmt.Errorf("pipeline %s is not registered", key))
		return
	}
	rp, ok := pl.Pipeline().(*wgpu.RenderPipeline)
	if !ok || rp == nil {
		p.fail(fmt.Errorf("pipeline %s is not a registered render pipeline", key))
		return
	}
	p.rp.SetPipeline(rp)
}

func (p *renderPass) fail(err error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	if p.r.passErr == nil {
		p.r.passErr = err
	}
}

func (p *renderPass) BindTextureTable() {
	if p.rp == nil {
		return
	}
	p.rp.SetBindGroup(1, p.r.bindless.BindGroup(), nil)
}

func (p *renderPass) End() {
	if p.rp == nil {
		return
	}
	p.rp.End()
	p.rp.Release()
	p.rp = nil
}

// replaceBuffer swaps *slot for a fresh vertex buffer of size bytes. The old buffer may still be
// referenced by draws recorded this frame, so it is released after the frame is submitted.
func (r *renderer) replaceBuffer(slot *bind_group_provider.BindGroupProvider, label string, size uint64, usage wgpu.BufferUsage) error {
	buf, err := r.backend.CreateBuffer(label, size, usage)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if *slot != nil {
		r.frameTransients = append(r.frameTransients, *slot)
	}
	*slot = bind_group_provider.NewBindGroupProvider(label, bind_group_provider.WithBuffer(0, buf, size))
	logger.Debug("[Renderer] grew %s to %d bytes", label, size)
	return nil
}

type scenePass struct {
	renderPass
}

var _ orchestrator.ScenePass = &scenePass{}

func (p *scenePass) BindFrameUniforms(ringSlot int, offset uint32) {
	if p.rp == nil {
		return
	}
	p.rp.SetBindGroup(0, p.r.frameGroups[ringSlot].BindGroup(), []uint32{offset})
}

func (p *scenePass) SetMeshPipeline(kind skinning.MeshKind) {
	p.setPipeline(meshPipelineKey(kind))
}

func (p *scenePass) DrawMesh(handle common.MeshHandle, indexCount uint32) {
	if p.rp == nil {
		return
	}
	p.r.mu.Lock()
	m, ok := p.r.meshes[handle]
	p.r.mu.Unlock()
	if !ok {
		logger.Warn("[Renderer] draw of unknown mesh %s skipped", handle)
		return
	}
	p.rp.SetVertexBuffer(0, m.provider.VertexBuffer(), 0, wgpu.WholeSize)
	p.rp.SetIndexBuffer(m.provider.IndexBuffer(), wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	p.rp.DrawIndexed(min(indexCount, m.provider.IndexCount()), 1, 0, 0, 0)
}

func (p *scenePass) SetSpritePipeline() {
	p.setPipeline(pipeline.KeySprite)
}

func (p *scenePass) UploadSpriteInstances(data []byte, count uint32) error {
	if p.rp == nil || count == 0 {
		return nil
	}
	r := p.r
	size := uint64(len(data))

	r.mu.Lock()
	var capacity uint64
	if r.instances != nil {
		capacity = r.instances.BufferSize(0)
	}
	offset := r.instanceCursor
	r.mu.Unlock()

	if offset+size > capacity {
		// size for everything written this frame so later flushes fit too
		total := (offset + size) / sprite.GPUSpriteInstanceSize
		grown := sprite.InstanceBufferCapacity(total) * sprite.GPUSpriteInstanceSize
		if err := r.replaceBuffer(&r.instances, "Sprite Instances", grown, wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst); err != nil {
			return err
		}
		offset = 0
	}

	if err := r.backend.WriteBuffers([]bind_group_provider.BufferWrite{{
		Provider: r.instances,
		Binding:  0,
		Offset:   offset,
		Data:     data,
	}}); err != nil {
		return err
	}
	r.mu.Lock()
	r.instanceCursor = offset + size
	r.mu.Unlock()

	p.rp.SetVertexBuffer(0, r.instances.Buffer(0), offset, size)
	return nil
}

func (p *scenePass) DrawSprites(vertexCount, instanceCount uint32) {
	if p.rp == nil {
		return
	}
	p.rp.Draw(vertexCount, instanceCount, 0, 0)
}

type overlayPass struct {
	renderPass
	width, height uint32
}

var _ orchestrator.OverlayPass = &overlayPass{}

func (p *overlayPass) UploadOverlayGeometry(data []byte, capacity uint64) error {
	if p.rp == nil {
		return nil
	}
	r := p.r
	capacity = max(capacity, common.AlignUp(uint64(len(data)), 4))

	r.mu.Lock()
	var current uint64
	if r.geometry != nil {
		current = r.geometry.BufferSize(0)
	}
	r.mu.Unlock()

	if current < capacity {
		usage := wgpu.BufferUsageVertex | wgpu.BufferUsageIndex | wgpu.BufferUsageCopyDst
		if err := r.replaceBuffer(&r.geometry, "Overlay Geometry", capacity, usage); err != nil {
			return err
		}
	}
	return r.backend.WriteBuffers([]bind_group_provider.BufferWrite{{
		Provider: r.geometry,
		Binding:  0,
		Data:     data,
	}})
}

func (p *overlayPass) UploadOverlayUniforms(data []byte, capacity uint64) error {
	if p.rp == nil {
		return nil
	}
	r := p.r
	r.mu.Lock()
	current := r.overlayUniforms.BufferSize(0)
	r.mu.Unlock()

	if current < capacity {
		if err := r.createOverlayUniforms(capacity); err != nil {
			return err
		}
	}
	return r.backend.WriteBuffers([]bind_group_provider.BufferWrite{{
		Provider: r.overlayUniforms,
		Binding:  0,
		Data:     data,
	}})
}

func (p *overlayPass) SetOverlayPipeline(offset uint32) {
	if p.rp == nil {
		return
	}
	p.setPipeline(pipeline.KeyOverlay)
	p.rp.SetBindGroup(0, p.r.overlayUniforms.BindGroup(), []uint32{offset})
	p.BindTextureTable()
}

func (p *overlayPass) SetScissor(s overlay.Scissor) {
	if p.rp == nil {
		return
	}
	x := min(s.X, p.width)
	y := min(s.Y, p.height)
	p.rp.SetScissorRect(x, y, min(s.Width, p.width-x), min(s.Height, p.height-y))
}

func (p *overlayPass) DrawOverlay(span overlay.Span) {
	if p.rp == nil || span.IndexCount == 0 {
		return
	}
	buf := p.r.geometry.Buffer(0)
	p.rp.SetVertexBuffer(0, buf, span.VertexOffset, span.VertexSize)
	p.rp.SetIndexBuffer(buf, wgpu.IndexFormatUint32, span.IndexOffset, span.IndexSize())
	p.rp.DrawIndexed(span.IndexCount, 1, 0, 0, 0)
}

// wgpuFence is signalled from the queue's work-done callback. The callback only runs while the
// device is polled, so waiting polls.
type wgpuFence struct {
	*frame.ChanFence
	poll func(wait bool)
}

var _ frame.Fence = &wgpuFence{}

func (f *wgpuFence) Wait(ctx context.Context) error {
	if !f.ChanFence.Signaled() {
		f.poll(true)
	}
	return f.ChanFence.Wait(ctx)
}

func (f *wgpuFence) Signaled() bool {
	if f.ChanFence.Signaled() {
		return true
	}
	f.poll(false)
	return f.ChanFence.Signaled()
}
