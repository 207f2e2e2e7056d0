package renderer

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/config"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bindless"
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
	"github.com/Carmen-Shannon/lumen/engine/renderer/overlay"
	"github.com/Carmen-Shannon/lumen/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/lumen/engine/renderer/skinning"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
	"github.com/Carmen-Shannon/lumen/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
)

// imageUsage lets an image be sampled, written by the queue, written by the conversion stage and
// copied into the texture array.
const imageUsage = wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst |
	wgpu.TextureUsageCopySrc | wgpu.TextureUsageStorageBinding

// gpuImage is a standalone GPU image. Images are always stored as rgba8unorm so the conversion
// stage can write them; their bytes are copied unchanged into the sRGB texture array.
type gpuImage struct {
	texture       *wgpu.Texture
	view          *wgpu.TextureView
	width, height uint32
	format        common.ImageFormat
}

func (img *gpuImage) release() {
	img.view.Release()
	img.texture.Release()
}

type gpuMesh struct {
	provider bind_group_provider.BindGroupProvider
	kind     skinning.MeshKind
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	pendingMSAA          *MSAASampleCount
	framesInFlight       int
	recordsPerFrame      int
	recordAlignment      uint32
	tableCapacity        uint32
	layerSize            uint32

	images map[common.TextureHandle]*gpuImage
	meshes map[common.MeshHandle]gpuMesh

	// texture table state: the array, the handle copied into each layer and the reverse lookup
	textureArray *wgpu.Texture
	bindless     bind_group_provider.BindGroupProvider
	layers       map[uint32]common.TextureHandle
	slotOf       map[common.TextureHandle]uint32

	frameGroups     []bind_group_provider.BindGroupProvider
	overlayUniforms bind_group_provider.BindGroupProvider

	// per-frame vertex data, bump allocated from the start of the buffer each frame
	instances      bind_group_provider.BindGroupProvider
	instanceCursor uint64
	geometry       bind_group_provider.BindGroupProvider

	// frameTransients are referenced by the frame encoder, uploadTransients by the upload encoder.
	// Both are released once their encoder is submitted.
	frameTransients  []bind_group_provider.BindGroupProvider
	uploadTransients []bind_group_provider.BindGroupProvider

	passErr error
}

// Renderer is the GPU device the frame orchestrator renders through.
//
// This is a high-level API over the backend: it builds the engine pipelines once, owns every GPU
// image and mesh by handle, keeps the bindless texture array in step with the texture table, and
// hands the orchestrator scene and overlay passes that record into the current frame.
type Renderer interface {
	orchestrator.Device

	// Pipeline retrieves the registered Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: one of the pipeline package Key constants
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// Resize configures the underlying backend to handle a new surface size.
	// This should be called when re-sizing the window or when the surface size should change.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	// A call to Resize is required after changing this for the new mode to take effect.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// SetClearColor sets the colour the scene pass clears to.
	//
	// Parameters:
	//   - c: the clear colour
	SetClearColor(c wgpu.Color)

	// Release waits for the GPU to go idle and frees every GPU object.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer for the window's surface, registers the engine pipelines and
// allocates the frame uniform ring, the texture array and the overlay uniforms.
//
// Parameters:
//   - backendType: the type of rendering backend to use
//   - win: the window whose surface is rendered to
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the renderer
//   - error: an error if a pipeline or resource cannot be created
func NewRenderer(backendType RendererBackendType, win window.Window, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:              &sync.Mutex{},
		pipelineCache:   make(map[string]pipeline.Pipeline),
		backendType:     backendType,
		framesInFlight:  config.DefaultFramesInFlight,
		recordsPerFrame: config.DefaultRecordsPerFrame,
		recordAlignment: config.DefaultRecordAlignment,
		tableCapacity:   bindless.DefaultCapacity,
		layerSize:       config.DefaultLayerSize,
		images:          make(map[common.TextureHandle]*gpuImage),
		meshes:          make(map[common.MeshHandle]gpuMesh),
		layers:          make(map[uint32]common.TextureHandle),
		slotOf:          make(map[common.TextureHandle]uint32),
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	msaa := MSAA4x
	if r.pendingMSAA != nil {
		msaa = *r.pendingMSAA
	}

	switch backendType {
	case BackendTypeWGPU:
		fallthrough
	default:
		r.backend = newWGPURendererBackend(win.SurfaceDescriptor(), r.forceFallbackAdapter, msaa)
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}
	r.backend.ConfigureSurface(win.Width(), win.Height())

	pipelines, err := pipeline.EnginePipelines()
	if err != nil {
		r.backend.Release()
		return nil, err
	}
	if err := r.registerPipelines(pipelines); err != nil {
		r.Release()
		return nil, err
	}
	if err := r.initResources(); err != nil {
		r.Release()
		return nil, err
	}
	logger.Info("[Renderer] ready: %d frames in flight, %d texture slots of %dpx, %dx MSAA",
		r.framesInFlight, r.tableCapacity, r.layerSize, msaa)
	return r, nil
}

func (r *renderer) registerPipelines(pipelines map[string]pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, p := range pipelines {
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			if err := r.backend.RegisterComputePipeline(p); err != nil {
				return fmt.Errorf("failed to register %s pipeline: %w", key, err)
			}
		case pipeline.PipelineTypeRender:
			if err := r.backend.RegisterRenderPipeline(p); err != nil {
				return fmt.Errorf("failed to register %s pipeline: %w", key, err)
			}
		}
		r.pipelineCache[key] = p
	}
	return nil
}

// initResources creates the bind groups every frame shares. Scene pipelines declare identical
// group 0 and group 1 layouts, so the groups are created against the sprite pipeline's layouts
// and bound with any of them.
func (r *renderer) initResources() error {
	sprites := r.pipelineCache[pipeline.KeySprite]
	descriptors := sprites.BindGroupLayoutDescriptors()

	stride := common.AlignUp(uint32(frame.GPUFrameUniformsSize), r.recordAlignment)
	regionSize := uint64(stride) * uint64(r.recordsPerFrame)
	r.frameGroups = make([]bind_group_provider.BindGroupProvider, r.framesInFlight)
	for i := range r.frameGroups {
		p := bind_group_provider.NewBindGroupProvider(fmt.Sprintf("Frame Uniforms %d", i),
			bind_group_provider.WithLayout(sprites.BindGroupLayout(0)),
		)
		r.frameGroups[i] = p
		if err := r.backend.InitBindGroup(p, descriptors[0], map[int]uint64{0: regionSize}); err != nil {
			return fmt.Errorf("failed to create frame uniform group %d: %w", i, err)
		}
	}

	tex, view, err := r.backend.CreateTexture("Texture Table", r.layerSize, r.layerSize, r.tableCapacity,
		wgpu.TextureFormatRGBA8UnormSrgb, wgpu.TextureUsageTextureBinding|wgpu.TextureUsageCopyDst,
		wgpu.TextureViewDimension2DArray)
	if err != nil {
		return fmt.Errorf("failed to create texture array: %w", err)
	}
	r.textureArray = tex
	r.bindless = bind_group_provider.NewBindGroupProvider("Texture Table",
		bind_group_provider.WithLayout(sprites.BindGroupLayout(1)),
	)
	r.bindless.SetTexture(0, tex, view)
	if err := r.backend.InitSampler(r.bindless, 1, common.SamplerStagingData{}); err != nil {
		return fmt.Errorf("failed to create texture table sampler: %w", err)
	}
	scaleSize := uint64(r.tableCapacity) * bindless.GPUSlotScaleSize
	if err := r.backend.InitBindGroup(r.bindless, descriptors[1], map[int]uint64{2: scaleSize}); err != nil {
		return fmt.Errorf("failed to create texture table group: %w", err)
	}

	return r.createOverlayUniforms(overlay.UniformCapacity(0))
}

// createOverlayUniforms replaces the overlay uniform group with one whose buffer holds size bytes
// of draw list records. The old group may be bound by draws recorded this frame, so it is released
// after the frame is submitted.
func (r *renderer) createOverlayUniforms(size uint64) error {
	overlayPipeline := r.Pipeline(pipeline.KeyOverlay)
	p := bind_group_provider.NewBindGroupProvider("Overlay Uniforms",
		bind_group_provider.WithLayout(overlayPipeline.BindGroupLayout(0)),
	)
	if err := r.backend.InitBindGroup(p, overlayPipeline.BindGroupLayoutDescriptors()[0], map[int]uint64{0: size}); err != nil {
		return fmt.Errorf("failed to create overlay uniform group: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlayUniforms != nil {
		r.frameTransients = append(r.frameTransients, r.overlayUniforms)
	}
	r.overlayUniforms = p
	logger.Debug("[Renderer] overlay uniforms sized to %d bytes", size)
	return nil
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) SetClearColor(c wgpu.Color) {
	r.backend.SetClearColor(c)
}

func (r *renderer) WriteFrameUniforms(ringSlot int, data []byte) error {
	if ringSlot < 0 || ringSlot >= len(r.frameGroups) {
		return fmt.Errorf("ring slot %d out of range [0, %d)", ringSlot, len(r.frameGroups))
	}
	return r.backend.WriteBuffers([]bind_group_provider.BufferWrite{{
		Provider: r.frameGroups[ringSlot],
		Binding:  0,
		Data:     data,
	}})
}

func (r *renderer) CreateImage(handle common.TextureHandle, width, height uint32, format common.ImageFormat) error {
	if format != common.ImageFormatRGBA8Unorm && format != common.ImageFormatRGBA8Srgb {
		return fmt.Errorf("image %s: %v is not a four channel format", handle, format)
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("image %s: empty size %dx%d", handle, width, height)
	}
	tex, view, err := r.backend.CreateTexture(handle.String(), width, height, 1,
		wgpu.TextureFormatRGBA8Unorm, imageUsage, wgpu.TextureViewDimension2D)
	if err != nil {
		return fmt.Errorf("failed to create image %s: %w", handle, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.images[handle]; ok {
		old.release()
	}
	r.images[handle] = &gpuImage{texture: tex, view: view, width: width, height: height, format: format}
	return nil
}

func (r *renderer) image(handle common.TextureHandle) (*gpuImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[handle]
	if !ok {
		return nil, fmt.Errorf("unknown image %s", handle)
	}
	return img, nil
}

func (r *renderer) WriteImage(handle common.TextureHandle, origin [2]uint32, width, height uint32, format common.ImageFormat, pixels []byte) error {
	img, err := r.image(handle)
	if err != nil {
		return err
	}
	if format != img.format {
		return fmt.Errorf("image %s: cannot write %v pixels into a %v image", handle, format, img.format)
	}
	if origin[0]+width > img.width || origin[1]+height > img.height {
		return fmt.Errorf("image %s: region %dx%d at %v exceeds %dx%d", handle, width, height, origin, img.width, img.height)
	}
	if len(pixels) != int(width)*int(height)*4 {
		return fmt.Errorf("image %s: got %d bytes for a %dx%d region", handle, len(pixels), width, height)
	}

	r.backend.WriteTexture(img.texture, [3]uint32{origin[0], origin[1], 0}, width, height, pixels)
	return r.refreshLayer(handle, img)
}

func (r *renderer) DispatchConversion(job upload.ConversionJob, params upload.GPUConversionParams, target common.ImageFormat) error {
	img, err := r.image(job.Destination)
	if err != nil {
		return err
	}
	if target != img.format {
		return fmt.Errorf("image %s: cannot convert into %v, image is %v", job.Destination, target, img.format)
	}
	conversion := r.Pipeline(pipeline.KeyConversion)

	// the destination is bound as a storage texture through its own view
	view, err := img.texture.CreateView(nil)
	if err != nil {
		return err
	}
	p := bind_group_provider.NewBindGroupProvider("Conversion "+job.Destination.String(),
		bind_group_provider.WithLayout(conversion.BindGroupLayout(0)),
	)
	p.SetTexture(2, nil, view)
	sourceSize := common.AlignUp(uint64(len(job.Source)), 4)
	if err := r.backend.InitBindGroup(p, conversion.BindGroupLayoutDescriptors()[0], map[int]uint64{1: sourceSize}); err != nil {
		p.Release()
		return fmt.Errorf("failed to create conversion group: %w", err)
	}
	if err := r.backend.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: p, Binding: 0, Data: params.Marshal()},
		{Provider: p, Binding: 1, Data: job.Source},
	}); err != nil {
		p.Release()
		return err
	}
	if err := r.backend.DispatchCompute(conversion, []bind_group_provider.BindGroupProvider{p}, [3]uint32{job.Width, job.Height, 1}); err != nil {
		p.Release()
		return err
	}

	r.mu.Lock()
	r.uploadTransients = append(r.uploadTransients, p)
	r.mu.Unlock()
	return r.refreshLayer(job.Destination, img)
}

func (r *renderer) ReleaseImage(handle common.TextureHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[handle]
	if !ok {
		return
	}
	img.release()
	delete(r.images, handle)
	if slot, ok := r.slotOf[handle]; ok {
		delete(r.slotOf, handle)
		delete(r.layers, slot)
	}
}

func (r *renderer) BindSlot(slot uint32, handle common.TextureHandle) error {
	if slot >= r.tableCapacity {
		return fmt.Errorf("slot %d out of range [0, %d)", slot, r.tableCapacity)
	}
	img, err := r.image(handle)
	if err != nil {
		return err
	}
	if img.width > r.layerSize || img.height > r.layerSize {
		return fmt.Errorf("image %s is %dx%d, larger than the %dpx texture layer", handle, img.width, img.height, r.layerSize)
	}

	r.mu.Lock()
	if prev, ok := r.layers[slot]; ok && prev != handle {
		delete(r.slotOf, prev)
	}
	r.layers[slot] = handle
	r.slotOf[handle] = slot
	r.mu.Unlock()

	if err := r.backend.CopyTextureToLayer(img.texture, r.textureArray, slot, img.width, img.height); err != nil {
		return err
	}
	return r.backend.WriteBuffers([]bind_group_provider.BufferWrite{{
		Provider: r.bindless,
		Binding:  2,
		Offset:   uint64(slot) * bindless.GPUSlotScaleSize,
		Data:     bindless.NewGPUSlotScale(img.width, img.height, r.layerSize).Marshal(),
	}})
}

// refreshLayer copies an image that changed into the array layer it is bound to, if any.
func (r *renderer) refreshLayer(handle common.TextureHandle, img *gpuImage) error {
	r.mu.Lock()
	slot, ok := r.slotOf[handle]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.backend.CopyTextureToLayer(img.texture, r.textureArray, slot, img.width, img.height)
}

func (r *renderer) CreateMesh(handle common.MeshHandle, kind skinning.MeshKind, vertices []byte, indices []uint32) error {
	indexData := make([]byte, len(indices)*4)
	for i, idx := range indices {
		common.PutUint32(indexData, i*4, idx)
	}
	p := bind_group_provider.NewBindGroupProvider(fmt.Sprintf("%s Mesh %s", kind, handle))
	if err := r.backend.InitMeshBuffers(p, vertices, indexData, uint32(len(indices))); err != nil {
		p.Release()
		return fmt.Errorf("failed to create mesh %s: %w", handle, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.meshes[handle]; ok {
		old.provider.Release()
	}
	r.meshes[handle] = gpuMesh{provider: p, kind: kind}
	return nil
}

func (r *renderer) ReleaseMesh(handle common.MeshHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meshes[handle]; ok {
		m.provider.Release()
		delete(r.meshes, handle)
	}
}

func (r *renderer) BeginFrame() (uint32, uint32, error) {
	if err := r.backend.BeginFrame(); err != nil {
		return 0, 0, err
	}
	r.mu.Lock()
	r.instanceCursor = 0
	r.passErr = nil
	r.mu.Unlock()
	w, h := r.backend.SurfaceSize()
	return w, h, nil
}

func (r *renderer) beginPass(target pipeline.Target) *wgpu.RenderPassEncoder {
	rp, err := r.backend.BeginRenderPass(target)
	if err != nil {
		r.mu.Lock()
		r.passErr = err
		r.mu.Unlock()
		return nil
	}
	return rp
}

func (r *renderer) BeginScenePass() orchestrator.ScenePass {
	return &scenePass{renderPass: renderPass{r: r, rp: r.beginPass(pipeline.TargetScene)}}
}

func (r *renderer) BeginOverlayPass() orchestrator.OverlayPass {
	w, h := r.backend.SurfaceSize()
	return &overlayPass{renderPass: renderPass{r: r, rp: r.beginPass(pipeline.TargetOverlay)}, width: w, height: h}
}

func (r *renderer) Submit() (frame.Fence, error) {
	r.mu.Lock()
	passErr := r.passErr
	r.mu.Unlock()
	if passErr != nil {
		r.DiscardFrame()
		return nil, fmt.Errorf("frame recording failed: %w", passErr)
	}

	fence := &wgpuFence{ChanFence: frame.NewChanFence(), poll: r.backend.Poll}
	if err := r.backend.EndFrame(fence.Signal); err != nil {
		r.releaseTransients(true)
		return nil, err
	}
	r.releaseTransients(true)
	return fence, nil
}

func (r *renderer) Present() {
	r.backend.Present()
	r.backend.Poll(false)
}

func (r *renderer) DiscardFrame() {
	r.backend.DiscardFrame()
	r.releaseTransients(false)
}

// releaseTransients frees the resources recorded into the frame encoder and, once the upload
// encoder has been submitted too, the resources it referenced.
func (r *renderer) releaseTransients(uploads bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.frameTransients {
		p.Release()
	}
	r.frameTransients = r.frameTransients[:0]
	if !uploads {
		return
	}
	for _, p := range r.uploadTransients {
		p.Release()
	}
	r.uploadTransients = r.uploadTransients[:0]
}

func (r *renderer) Release() {
	r.backend.Poll(true)
	r.releaseTransients(true)

	r.mu.Lock()
	for h, img := range r.images {
		img.release()
		delete(r.images, h)
	}
	for h, m := range r.meshes {
		m.provider.Release()
		delete(r.meshes, h)
	}
	providers := append([]bind_group_provider.BindGroupProvider{r.bindless, r.overlayUniforms, r.instances, r.geometry}, r.frameGroups...)
	for _, p := range providers {
		if p != nil {
			p.Release()
		}
	}
	r.frameGroups = nil
	for key, p := range r.pipelineCache {
		p.Release()
		delete(r.pipelineCache, key)
	}
	r.mu.Unlock()

	r.backend.Release()
}

// meshPipelineKey returns the pipeline key meshes of kind are drawn with.
func meshPipelineKey(kind skinning.MeshKind) string {
	switch kind {
	case skinning.MeshKindSkinned:
		return pipeline.KeySkinnedMesh
	case skinning.MeshKindVertexColor:
		return pipeline.KeyColorMesh
	default:
		return pipeline.KeyStaticMesh
	}
}
