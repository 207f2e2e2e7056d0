package bind_group_provider

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// bindGroupProvider is the implementation of the BindGroupProvider interface.
type bindGroupProvider struct {
	label string

	bindGroup *wgpu.BindGroup
	// layout belongs to the pipeline that declared the group and is never released here.
	layout *wgpu.BindGroupLayout

	buffers      map[int]*wgpu.Buffer
	bufferSizes  map[int]uint64
	textures     map[int]*wgpu.Texture
	textureViews map[int]*wgpu.TextureView
	samplers     map[int]*wgpu.Sampler

	vertexBuffer *wgpu.Buffer
	indexBuffer  *wgpu.Buffer
	indexCount   uint32
}

// BindGroupProvider owns the GPU resources behind one bind group, or the vertex and index
// buffers of one mesh, and releases them together.
type BindGroupProvider interface {
	// Release frees every resource the provider owns.
	Release()

	// Label returns the debug label used for the provider's GPU objects.
	//
	// Returns:
	//   - string: the label
	Label() string

	// BindGroup returns the bind group, nil until created.
	//
	// Returns:
	//   - *wgpu.BindGroup: the bind group
	BindGroup() *wgpu.BindGroup

	// Layout returns the layout the bind group was created against.
	//
	// Returns:
	//   - *wgpu.BindGroupLayout: the layout
	Layout() *wgpu.BindGroupLayout

	// Buffer returns the buffer at binding, nil if none.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *wgpu.Buffer: the buffer
	Buffer(binding int) *wgpu.Buffer

	// BufferSize returns the byte size of the buffer at binding, 0 if none.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - uint64: the buffer size
	BufferSize(binding int) uint64

	// Texture returns the texture at binding, nil if none.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *wgpu.Texture: the texture
	Texture(binding int) *wgpu.Texture

	// TextureView returns the texture view at binding, nil if none.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *wgpu.TextureView: the view
	TextureView(binding int) *wgpu.TextureView

	// Sampler returns the sampler at binding, nil if none.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *wgpu.Sampler: the sampler
	Sampler(binding int) *wgpu.Sampler

	VertexBuffer() *wgpu.Buffer
	IndexBuffer() *wgpu.Buffer
	IndexCount() uint32

	// SetBindGroup replaces the bind group, releasing the previous one.
	//
	// Parameters:
	//   - bg: the new bind group
	SetBindGroup(bg *wgpu.BindGroup)

	// SetLayout records the layout the bind group is created against.
	//
	// Parameters:
	//   - layout: the pipeline's layout for the group
	SetLayout(layout *wgpu.BindGroupLayout)

	// SetBuffer stores a buffer of size bytes at binding, releasing the one it replaces.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the buffer
	//   - size: the buffer size in bytes
	SetBuffer(binding int, buf *wgpu.Buffer, size uint64)

	// SetTexture stores a texture and its view at binding, releasing the ones they replace.
	//
	// Parameters:
	//   - binding: the binding index
	//   - tex: the texture, nil when the view belongs to a texture owned elsewhere
	//   - view: the view bound to the group
	SetTexture(binding int, tex *wgpu.Texture, view *wgpu.TextureView)

	// SetSampler stores a sampler at binding, releasing the one it replaces.
	//
	// Parameters:
	//   - binding: the binding index
	//   - s: the sampler
	SetSampler(binding int, s *wgpu.Sampler)

	// SetMeshBuffers stores the vertex and index buffers of a mesh.
	//
	// Parameters:
	//   - vertices: the vertex buffer
	//   - indices: the 32-bit index buffer
	//   - indexCount: the number of indices
	SetMeshBuffers(vertices, indices *wgpu.Buffer, indexCount uint32)
}

var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates an empty BindGroupProvider.
//
// Parameters:
//   - label: the debug label for GPU objects created through the provider
//   - options: builder options
//
// Returns:
//   - BindGroupProvider: the provider
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:        label,
		buffers:      make(map[int]*wgpu.Buffer),
		bufferSizes:  make(map[int]uint64),
		textures:     make(map[int]*wgpu.Texture),
		textureViews: make(map[int]*wgpu.TextureView),
		samplers:     make(map[int]*wgpu.Sampler),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) BindGroup() *wgpu.BindGroup {
	return p.bindGroup
}

func (p *bindGroupProvider) Layout() *wgpu.BindGroupLayout {
	return p.layout
}

func (p *bindGroupProvider) Buffer(binding int) *wgpu.Buffer {
	return p.buffers[binding]
}

func (p *bindGroupProvider) BufferSize(binding int) uint64 {
	return p.bufferSizes[binding]
}

func (p *bindGroupProvider) Texture(binding int) *wgpu.Texture {
	return p.textures[binding]
}

func (p *bindGroupProvider) TextureView(binding int) *wgpu.TextureView {
	return p.textureViews[binding]
}

func (p *bindGroupProvider) Sampler(binding int) *wgpu.Sampler {
	return p.samplers[binding]
}

func (p *bindGroupProvider) VertexBuffer() *wgpu.Buffer { return p.vertexBuffer }
func (p *bindGroupProvider) IndexBuffer() *wgpu.Buffer  { return p.indexBuffer }
func (p *bindGroupProvider) IndexCount() uint32         { return p.indexCount }

func (p *bindGroupProvider) SetBindGroup(bg *wgpu.BindGroup) {
	if p.bindGroup != nil && p.bindGroup != bg {
		p.bindGroup.Release()
	}
	p.bindGroup = bg
}

func (p *bindGroupProvider) SetLayout(layout *wgpu.BindGroupLayout) {
	p.layout = layout
}

func (p *bindGroupProvider) SetBuffer(binding int, buf *wgpu.Buffer, size uint64) {
	if old := p.buffers[binding]; old != nil && old != buf {
		old.Release()
	}
	if buf == nil {
		delete(p.buffers, binding)
		delete(p.bufferSizes, binding)
		return
	}
	p.buffers[binding] = buf
	p.bufferSizes[binding] = size
}

func (p *bindGroupProvider) SetTexture(binding int, tex *wgpu.Texture, view *wgpu.TextureView) {
	if old := p.textureViews[binding]; old != nil && old != view {
		old.Release()
	}
	if old := p.textures[binding]; old != nil && old != tex {
		old.Release()
	}
	p.textureViews[binding] = view
	if tex == nil {
		delete(p.textures, binding)
		return
	}
	p.textures[binding] = tex
}

func (p *bindGroupProvider) SetSampler(binding int, s *wgpu.Sampler) {
	if old := p.samplers[binding]; old != nil && old != s {
		old.Release()
	}
	p.samplers[binding] = s
}

func (p *bindGroupProvider) SetMeshBuffers(vertices, indices *wgpu.Buffer, indexCount uint32) {
	p.vertexBuffer = vertices
	p.indexBuffer = indices
	p.indexCount = indexCount
}

func (p *bindGroupProvider) Release() {
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	for i, tv := range p.textureViews {
		if tv != nil {
			tv.Release()
		}
		delete(p.textureViews, i)
	}
	for i, tex := range p.textures {
		if tex != nil {
			tex.Release()
		}
		delete(p.textures, i)
	}
	for i, s := range p.samplers {
		if s != nil {
			s.Release()
		}
		delete(p.samplers, i)
	}
	for i, buf := range p.buffers {
		if buf != nil {
			buf.Release()
		}
		delete(p.buffers, i)
		delete(p.bufferSizes, i)
	}
	if p.vertexBuffer != nil {
		p.vertexBuffer.Release()
		p.vertexBuffer = nil
	}
	if p.indexBuffer != nil {
		p.indexBuffer.Release()
		p.indexBuffer = nil
	}
	p.indexCount = 0
	p.layout = nil
}
