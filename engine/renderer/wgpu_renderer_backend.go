package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/lumen/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/lumen/engine/renderer/shader"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
	"github.com/cogentcore/webgpu/wgpu"
)

// errNoFrame is returned by frame operations issued outside BeginFrame/EndFrame.
var errNoFrame = errors.New("no frame is open")

const depthFormat = wgpu.TextureFormatDepth24Plus

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat wgpu.TextureFormat
	width, height uint32
	msaaTexture   *wgpu.Texture
	msaaView      *wgpu.TextureView
	depthTexture  *wgpu.Texture
	depthView     *wgpu.TextureView

	presentMode wgpu.PresentMode
	sampleCount MSAASampleCount
	clearColor  wgpu.Color

	// uploadEncoder collects staged copies, conversion dispatches and texture array copies. It is
	// submitted ahead of the frame encoder so everything it writes is visible to the frame.
	uploadEncoder *wgpu.CommandEncoder

	frameEncoder *wgpu.CommandEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView

	// staging buffers referenced by uploadEncoder, released after it is submitted
	staging []*wgpu.Buffer
}

type wgpuRendererBackend interface {
	Device() *wgpu.Device
	Queue() *wgpu.Queue
	SurfaceFormat() wgpu.TextureFormat
	SampleCount() MSAASampleCount

	// SurfaceSize returns the size the surface was last configured with.
	//
	// Returns:
	//   - uint32, uint32: the width and height in pixels
	SurfaceSize() (uint32, uint32)

	// ConfigureSurface configures the surface for a new size and recreates the multisample and
	// depth attachments. A zero size is ignored.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	ConfigureSurface(width, height int)

	// SetPresentMode sets the present mode used by the next ConfigureSurface.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// SetClearColor sets the colour the scene pass clears to.
	//
	// Parameters:
	//   - c: the clear colour
	SetClearColor(c wgpu.Color)

	// RegisterRenderPipeline creates the shader modules, bind group layouts, pipeline layout and
	// render pipeline of p and stores them on p. Scene pipelines use the surface sample count and
	// the depth attachment; overlay pipelines are single-sample without depth.
	//
	// Parameters:
	//   - p: the render pipeline description
	//
	// Returns:
	//   - error: an error if any GPU object could not be created
	RegisterRenderPipeline(p pipeline.Pipeline) error

	// RegisterComputePipeline creates the shader module, layouts and compute pipeline of p.
	//
	// Parameters:
	//   - p: the compute pipeline description
	//
	// Returns:
	//   - error: an error if any GPU object could not be created
	RegisterComputePipeline(p pipeline.Pipeline) error

	// CreateBuffer creates an unmapped buffer.
	//
	// Parameters:
	//   - label: the debug label
	//   - size: the size in bytes
	//   - usage: the usage flags
	//
	// Returns:
	//   - *wgpu.Buffer: the buffer
	//   - error: an error if creation fails
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// CreateTexture creates a single-sample texture and a view over all of its layers.
	//
	// Parameters:
	//   - label: the debug label
	//   - width, height: the size in pixels
	//   - layers: the array layer count
	//   - format: the texture format
	//   - usage: the usage flags
	//   - dimension: the view dimension, 2D or 2D array
	//
	// Returns:
	//   - *wgpu.Texture: the texture
	//   - *wgpu.TextureView: the view
	//   - error: an error if creation fails
	CreateTexture(label string, width, height, layers uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage, dimension wgpu.TextureViewDimension) (*wgpu.Texture, *wgpu.TextureView, error)

	// InitMeshBuffers creates vertex and index buffers, uploads the data and stores them on the
	// provider.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the buffers on
	//   - vertexData: the raw vertex data bytes
	//   - indexData: the raw 32-bit index data bytes
	//   - indexCount: the number of indices
	//
	// Returns:
	//   - error: an error if buffer creation fails
	InitMeshBuffers(provider bind_group_provider.BindGroupProvider, vertexData, indexData []byte, indexCount uint32) error

	// InitBindGroup creates the bind group of provider against its layout. Buffer bindings the
	// provider does not hold yet are created with their MinBindingSize or a size override;
	// texture and sampler bindings must be set on the provider first.
	//
	// Parameters:
	//   - provider: the BindGroupProvider whose layout is set
	//   - descriptor: the layout descriptor the layout was created from
	//   - bufferSizeOverrides: buffer sizes keyed by binding, nil safe
	//
	// Returns:
	//   - error: an error if a resource is missing or creation fails
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferSizeOverrides map[int]uint64) error

	// InitSampler creates a sampler and stores it on provider at binding.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the sampler on
	//   - bindingKey: the binding index
	//   - samplerStagingData: the sampler configuration, zero fields take defaults
	//
	// Returns:
	//   - error: an error if creation fails
	InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error

	// WriteBuffers writes data into provider buffers. Small writes go directly on the queue;
	// writes larger than the inline limit are copied from a staging buffer on the upload encoder.
	//
	// Parameters:
	//   - writes: the writes in order
	//
	// Returns:
	//   - error: an error if a target buffer is missing or staging fails
	WriteBuffers(writes []bind_group_provider.BufferWrite) error

	// WriteTexture writes tightly packed 4-byte pixels into one layer region of a texture.
	//
	// Parameters:
	//   - tex: the destination texture
	//   - origin: the x, y origin and array layer
	//   - width, height: the region size in pixels
	//   - pixels: the pixel data
	WriteTexture(tex *wgpu.Texture, origin [3]uint32, width, height uint32, pixels []byte)

	// CopyTextureToLayer records a copy of a texture's top-left width x height region into one
	// layer of an array texture on the upload encoder.
	//
	// Parameters:
	//   - src: the source texture
	//   - dst: the array texture
	//   - layer: the destination layer
	//   - width, height: the region size in pixels
	//
	// Returns:
	//   - error: an error if the upload encoder cannot be created
	CopyTextureToLayer(src, dst *wgpu.Texture, layer, width, height uint32) error

	// DispatchCompute records a compute pass on the upload encoder.
	//
	// Parameters:
	//   - p: the compute pipeline
	//   - groups: the bind group providers in group order
	//   - workGroupCount: the workgroup counts in x, y and z
	//
	// Returns:
	//   - error: an error if the upload encoder cannot be created
	DispatchCompute(p pipeline.Pipeline, groups []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error

	// BeginFrame acquires the next surface texture and creates the frame encoder.
	//
	// Returns:
	//   - error: an error if a frame is already open or the surface texture is unavailable
	BeginFrame() error

	// BeginRenderPass begins a render pass on the frame encoder. The scene target clears colour
	// and depth; the overlay target loads the resolved colour and has no depth.
	//
	// Parameters:
	//   - target: the pass target
	//
	// Returns:
	//   - *wgpu.RenderPassEncoder: the pass
	//   - error: errNoFrame outside a frame
	BeginRenderPass(target pipeline.Target) (*wgpu.RenderPassEncoder, error)

	// EndFrame finishes the upload and frame encoders and submits them in that order. onDone runs
	// once the GPU completes the submission, from within Poll.
	//
	// Parameters:
	//   - onDone: the completion callback
	//
	// Returns:
	//   - error: an error if no frame is open or an encoder cannot be finished
	EndFrame(onDone func()) error

	// Present presents the surface texture acquired by BeginFrame and releases it.
	Present()

	// DiscardFrame drops the frame encoder and surface texture without submitting. The upload
	// encoder is kept and goes out with the next frame.
	DiscardFrame()

	// Poll processes completed GPU work and runs pending completion callbacks.
	//
	// Parameters:
	//   - wait: block until the queue is idle
	Poll(wait bool)

	// Release frees every GPU object the backend owns.
	Release()
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, sampleCount MSAASampleCount) wgpuRendererBackend {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		presentMode: wgpu.PresentModeFifo,
		sampleCount: sampleCount,
		clearColor:  wgpu.Color{R: 0.1, G: 0.1, B: 0.1, A: 1.0},
	}
	w.surface = w.instance.CreateSurface(surfaceDescriptor)

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
	})
	if err != nil {
		panic(err)
	}
	w.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		panic(err)
	}
	w.device = d
	w.queue = d.GetQueue()

	capabilities := w.surface.GetCapabilities(w.adapter)
	w.surfaceFormat = capabilities.Formats[0]

	return w
}

func (b *wgpuRendererBackendImpl) Device() *wgpu.Device              { return b.device }
func (b *wgpuRendererBackendImpl) Queue() *wgpu.Queue                { return b.queue }
func (b *wgpuRendererBackendImpl) SurfaceFormat() wgpu.TextureFormat { return b.surfaceFormat }
func (b *wgpuRendererBackendImpl) SampleCount() MSAASampleCount      { return b.sampleCount }

func (b *wgpuRendererBackendImpl) SurfaceSize() (uint32, uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width, b.height
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      b.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	b.width, b.height = uint32(width), uint32(height)
	b.releaseAttachments()

	count := uint32(b.sampleCount)
	size := wgpu.Extent3D{Width: b.width, Height: b.height, DepthOrArrayLayers: 1}

	var err error
	if count > 1 {
		// the scene pass draws into this texture and resolves into the surface texture
		b.msaaTexture, err = b.device.CreateTexture(&wgpu.TextureDescriptor{
			Label:         "MSAA Texture",
			Size:          size,
			MipLevelCount: 1,
			SampleCount:   count,
			Dimension:     wgpu.TextureDimension2D,
			Format:        b.surfaceFormat,
			Usage:         wgpu.TextureUsageRenderAttachment,
		})
		if err != nil {
			panic(err)
		}
		if b.msaaView, err = b.msaaTexture.CreateView(nil); err != nil {
			panic(err)
		}
	}

	// depth sample count must match the colour attachment
	b.depthTexture, err = b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Depth Texture",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   count,
		Dimension:     wgpu.TextureDimension2D,
		Format:        depthFormat,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		panic(err)
	}
	if b.depthView, err = b.depthTexture.CreateView(nil); err != nil {
		panic(err)
	}
	logger.Debug("[Renderer] surface configured %dx%d, %dx MSAA", width, height, count)
}

func (b *wgpuRendererBackendImpl) releaseAttachments() {
	if b.msaaView != nil {
		b.msaaView.Release()
		b.msaaView = nil
	}
	if b.msaaTexture != nil {
		b.msaaTexture.Release()
		b.msaaTexture = nil
	}
	if b.depthView != nil {
		b.depthView.Release()
		b.depthView = nil
	}
	if b.depthTexture != nil {
		b.depthTexture.Release()
		b.depthTexture = nil
	}
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presentMode = mode.toWGPU()
}

func (b *wgpuRendererBackendImpl) SetClearColor(c wgpu.Color) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearColor = c
}

func (b *wgpuRendererBackendImpl) createLayouts(p pipeline.Pipeline) ([]*wgpu.BindGroupLayout, error) {
	descriptors := p.BindGroupLayoutDescriptors()
	maxGroup := -1
	for g := range descriptors {
		maxGroup = max(maxGroup, g)
	}
	layouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g := 0; g <= maxGroup; g++ {
		desc := descriptors[g]
		desc.Label = fmt.Sprintf("%s group %d", p.PipelineKey(), g)
		layout, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return nil, fmt.Errorf("failed to create bind group layout for group %d: %w", g, err)
		}
		layouts[g] = layout
	}
	return layouts, nil
}

func (b *wgpuRendererBackendImpl) createModule(s shader.Shader) (*wgpu.ShaderModule, error) {
	return b.device.CreateShaderModule(s.Module())
}

func (b *wgpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	fragmentShader := p.Shader(shader.ShaderTypeFragment)

	vs, err := b.createModule(vertexShader)
	if err != nil {
		return err
	}
	defer vs.Release()
	fs, err := b.createModule(fragmentShader)
	if err != nil {
		return err
	}
	defer fs.Release()

	layouts, err := b.createLayouts(p)
	if err != nil {
		return err
	}
	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return err
	}
	defer pipelineLayout.Release()

	sampleCount := uint32(b.sampleCount)
	var depthStencil *wgpu.DepthStencilState
	if p.Target() == pipeline.TargetOverlay {
		sampleCount = 1
	} else {
		depthCompare := p.DepthCompare()
		if !p.DepthTestEnabled() {
			depthCompare = wgpu.CompareFunctionAlways
		}
		depthStencil = &wgpu.DepthStencilState{
			Format:            depthFormat,
			DepthWriteEnabled: p.DepthWriteEnabled(),
			DepthCompare:      depthCompare,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
			Buffers:    p.VertexBuffers(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets: []wgpu.ColorTargetState{{
				Format:    b.surfaceFormat,
				Blend:     p.BlendState(),
				WriteMask: p.WriteMask(),
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  p.Topology(),
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
		Multisample: wgpu.MultisampleState{
			Count: sampleCount,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: depthStencil,
	})
	if err != nil {
		return err
	}

	p.SetRenderPipeline(created, layouts)
	logger.Debug("[Renderer] registered render pipeline %s", p.PipelineKey())
	return nil
}

func (b *wgpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	computeShader := p.Shader(shader.ShaderTypeCompute)
	s, err := b.createModule(computeShader)
	if err != nil {
		return err
	}
	defer s.Release()

	layouts, err := b.createLayouts(p)
	if err != nil {
		return err
	}
	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return err
	}
	defer layout.Release()

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}

	p.SetComputePipeline(created, layouts)
	logger.Debug("[Renderer] registered compute pipeline %s", p.PipelineKey())
	return nil
}

func (b *wgpuRendererBackendImpl) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	return b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
}

func (b *wgpuRendererBackendImpl) CreateTexture(label string, width, height, layers uint32, format wgpu.TextureFormat, usage wgpu.TextureUsage, dimension wgpu.TextureViewDimension) (*wgpu.Texture, *wgpu.TextureView, error) {
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     label,
		Usage:     usage,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: layers,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, nil, err
	}

	view, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           label + " View",
		Format:          format,
		Dimension:       dimension,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: layers,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		tex.Release()
		return nil, nil, err
	}
	return tex, view, nil
}

func (b *wgpuRendererBackendImpl) InitMeshBuffers(provider bind_group_provider.BindGroupProvider, vertexData, indexData []byte, indexCount uint32) error {
	if len(vertexData) == 0 || len(indexData) == 0 {
		return fmt.Errorf("%s: mesh buffers must not be empty", provider.Label())
	}
	vb, err := b.CreateBuffer(provider.Label()+" Vertex Buffer", common.AlignUp(uint64(len(vertexData)), 4), wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	ib, err := b.CreateBuffer(provider.Label()+" Index Buffer", common.AlignUp(uint64(len(indexData)), 4), wgpu.BufferUsageIndex|wgpu.BufferUsageCopyDst)
	if err != nil {
		vb.Release()
		return err
	}
	provider.SetMeshBuffers(vb, ib, indexCount)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeBuffer(vb, 0, vertexData); err != nil {
		return err
	}
	return b.writeBuffer(ib, 0, indexData)
}

func (b *wgpuRendererBackendImpl) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferSizeOverrides map[int]uint64) error {
	layout := provider.Layout()
	if layout == nil {
		return fmt.Errorf("%s has no bind group layout", provider.Label())
	}

	entries := make([]wgpu.BindGroupEntry, len(descriptor.Entries))
	for i, entry := range descriptor.Entries {
		binding := int(entry.Binding)

		isTexture := entry.Texture.SampleType != wgpu.TextureSampleTypeUndefined ||
			entry.StorageTexture.Access != wgpu.StorageTextureAccessUndefined
		isSampler := entry.Sampler.Type != wgpu.SamplerBindingTypeUndefined

		switch {
		case isTexture:
			tv := provider.TextureView(binding)
			if tv == nil {
				return fmt.Errorf("%s: texture binding %d has no texture view", provider.Label(), binding)
			}
			entries[i] = wgpu.BindGroupEntry{Binding: entry.Binding, TextureView: tv}
		case isSampler:
			samp := provider.Sampler(binding)
			if samp == nil {
				return fmt.Errorf("%s: sampler binding %d has no sampler", provider.Label(), binding)
			}
			entries[i] = wgpu.BindGroupEntry{Binding: entry.Binding, Sampler: samp}
		default:
			buf := provider.Buffer(binding)
			if buf == nil {
				usage := wgpu.BufferUsageCopyDst
				if entry.Buffer.Type == wgpu.BufferBindingTypeUniform {
					usage |= wgpu.BufferUsageUniform
				} else {
					usage |= wgpu.BufferUsageStorage
				}
				size := entry.Buffer.MinBindingSize
				if override, ok := bufferSizeOverrides[binding]; ok {
					size = override
				}
				var err error
				if buf, err = b.CreateBuffer(fmt.Sprintf("%s Buffer %d", provider.Label(), binding), size, usage); err != nil {
					return err
				}
				provider.SetBuffer(binding, buf, size)
			}
			// a dynamic-offset binding sees one record, not the whole buffer
			var size uint64 = wgpu.WholeSize
			if entry.Buffer.HasDynamicOffset {
				size = entry.Buffer.MinBindingSize
			}
			entries[i] = wgpu.BindGroupEntry{Binding: entry.Binding, Buffer: buf, Offset: 0, Size: size}
		}
	}

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   provider.Label() + " Bind Group",
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return err
	}
	provider.SetBindGroup(bindGroup)
	return nil
}

func (b *wgpuRendererBackendImpl) InitSampler(provider bind_group_provider.BindGroupProvider, bindingKey int, samplerStagingData common.SamplerStagingData) error {
	samp, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         provider.Label() + " Sampler",
		AddressModeU:  common.Coalesce(samplerStagingData.AddressModeU, wgpu.AddressModeClampToEdge),
		AddressModeV:  common.Coalesce(samplerStagingData.AddressModeV, wgpu.AddressModeClampToEdge),
		AddressModeW:  common.Coalesce(samplerStagingData.AddressModeW, wgpu.AddressModeClampToEdge),
		MagFilter:     common.Coalesce(samplerStagingData.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(samplerStagingData.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(samplerStagingData.MipmapFilter, wgpu.MipmapFilterModeNearest),
		LodMinClamp:   common.Coalesce(samplerStagingData.LodMinClamp, 0.0),
		LodMaxClamp:   common.Coalesce(samplerStagingData.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(samplerStagingData.MaxAnisotropy, 1),
	})
	if err != nil {
		return err
	}
	provider.SetSampler(bindingKey, samp)
	return nil
}

func (b *wgpuRendererBackendImpl) WriteBuffers(writes []bind_group_provider.BufferWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, w := range bind_group_provider.Coalesce(writes) {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil {
			return fmt.Errorf("%s has no buffer at binding %d", w.Provider.Label(), w.Binding)
		}
		if err := b.writeBuffer(buf, w.Offset, w.Data); err != nil {
			return err
		}
	}
	return nil
}

// writeBuffer must be called with mu held. Data is zero padded to a multiple of 4 bytes.
func (b *wgpuRendererBackendImpl) writeBuffer(buf *wgpu.Buffer, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size := common.AlignUp(uint64(len(data)), 4)
	if uint64(len(data)) != size {
		padded := make([]byte, size)
		copy(padded, data)
		data = padded
	}
	if !upload.NeedsStaging(len(data)) {
		b.queue.WriteBuffer(buf, offset, data)
		return nil
	}

	encoder, err := b.uploads()
	if err != nil {
		return err
	}
	staging, err := b.CreateBuffer("Staging Buffer", size, wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	b.queue.WriteBuffer(staging, 0, data)
	encoder.CopyBufferToBuffer(staging, 0, buf, offset, size)
	b.staging = append(b.staging, staging)
	return nil
}

// uploads returns the upload encoder, creating it on first use. Must be called with mu held.
func (b *wgpuRendererBackendImpl) uploads() (*wgpu.CommandEncoder, error) {
	if b.uploadEncoder != nil {
		return b.uploadEncoder, nil
	}
	encoder, err := b.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "Upload Encoder"})
	if err != nil {
		return nil, err
	}
	b.uploadEncoder = encoder
	return encoder, nil
}

func (b *wgpuRendererBackendImpl) WriteTexture(tex *wgpu.Texture, origin [3]uint32, width, height uint32, pixels []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: origin[0], Y: origin[1], Z: origin[2]},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  width * 4,
			RowsPerImage: height,
		},
		&wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
	)
}

func (b *wgpuRendererBackendImpl) CopyTextureToLayer(src, dst *wgpu.Texture, layer, width, height uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.uploads()
	if err != nil {
		return err
	}
	encoder.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{Texture: src, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyTexture{Texture: dst, Origin: wgpu.Origin3D{Z: layer}, Aspect: wgpu.TextureAspectAll},
		&wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
	)
	return nil
}

func (b *wgpuRendererBackendImpl) DispatchCompute(p pipeline.Pipeline, groups []bind_group_provider.BindGroupProvider, workGroupCount [3]uint32) error {
	computePipeline, ok := p.Pipeline().(*wgpu.ComputePipeline)
	if !ok || computePipeline == nil {
		return fmt.Errorf("pipeline %s is not a registered compute pipeline", p.PipelineKey())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	encoder, err := b.uploads()
	if err != nil {
		return err
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(computePipeline)
	for i, g := range groups {
		pass.SetBindGroup(uint32(i), g.BindGroup(), nil)
	}
	pass.DispatchWorkgroups(workGroupCount[0], workGroupCount[1], workGroupCount[2])
	pass.End()
	pass.Release()
	return nil
}

func (b *wgpuRendererBackendImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface != nil {
		return fmt.Errorf("previous frame surface not yet presented")
	}
	if b.depthView == nil {
		return fmt.Errorf("surface is not configured")
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return err
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return err
	}
	encoder, err := b.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "Frame Encoder"})
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return err
	}

	b.frameEncoder = encoder
	b.frameSurface = surfaceTexture
	b.frameView = view
	return nil
}

func (b *wgpuRendererBackendImpl) BeginRenderPass(target pipeline.Target) (*wgpu.RenderPassEncoder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return nil, errNoFrame
	}

	if target == pipeline.TargetOverlay {
		return b.frameEncoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			Label: "Overlay Pass",
			ColorAttachments: []wgpu.RenderPassColorAttachment{{
				View:    b.frameView,
				LoadOp:  wgpu.LoadOpLoad,
				StoreOp: wgpu.StoreOpStore,
			}},
		}), nil
	}

	color := wgpu.RenderPassColorAttachment{
		View:       b.frameView,
		LoadOp:     wgpu.LoadOpClear,
		StoreOp:    wgpu.StoreOpStore,
		ClearValue: b.clearColor,
	}
	if b.msaaView != nil {
		// only the resolved image is kept
		color.View = b.msaaView
		color.ResolveTarget = b.frameView
		color.StoreOp = wgpu.StoreOpDiscard
	}
	return b.frameEncoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label:            "Scene Pass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{color},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            b.depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: 1.0,
		},
	}), nil
}

func (b *wgpuRendererBackendImpl) EndFrame(onDone func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return errNoFrame
	}

	var buffers []*wgpu.CommandBuffer
	if b.uploadEncoder != nil {
		cb, err := b.uploadEncoder.Finish(nil)
		b.uploadEncoder.Release()
		b.uploadEncoder = nil
		if err != nil {
			b.dropFrame()
			return fmt.Errorf("failed to finish upload encoder: %w", err)
		}
		buffers = append(buffers, cb)
	}
	cb, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	if err != nil {
		for _, c := range buffers {
			c.Release()
		}
		b.dropFrame()
		return fmt.Errorf("failed to finish frame encoder: %w", err)
	}
	buffers = append(buffers, cb)

	b.queue.Submit(buffers...)
	b.queue.OnSubmittedWorkDone(func(wgpu.QueueWorkDoneStatus) {
		onDone()
	})
	for _, c := range buffers {
		c.Release()
	}
	for _, s := range b.staging {
		s.Release()
	}
	b.staging = b.staging[:0]
	return nil
}

func (b *wgpuRendererBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameSurface == nil {
		return
	}
	b.surface.Present()
	b.dropFrame()
}

func (b *wgpuRendererBackendImpl) DiscardFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder != nil {
		b.frameEncoder.Release()
		b.frameEncoder = nil
	}
	b.dropFrame()
}

// dropFrame releases the surface texture of the frame. Must be called with mu held.
func (b *wgpuRendererBackendImpl) dropFrame() {
	if b.frameView != nil {
		b.frameView.Release()
		b.frameView = nil
	}
	if b.frameSurface != nil {
		b.frameSurface.Release()
		b.frameSurface = nil
	}
}

func (b *wgpuRendererBackendImpl) Poll(wait bool) {
	b.device.Poll(wait, nil)
}

func (b *wgpuRendererBackendImpl) Release() {
	b.DiscardFrame()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadEncoder != nil {
		b.uploadEncoder.Release()
		b.uploadEncoder = nil
	}
	for _, s := range b.staging {
		s.Release()
	}
	b.staging = nil
	b.releaseAttachments()
	b.queue.Release()
	b.device.Release()
	b.surface.Release()
	b.adapter.Release()
	b.instance.Release()
}
