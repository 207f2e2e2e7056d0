package bind_group_provider

import "github.com/cogentcore/webgpu/wgpu"

// BindGroupProviderOption is a functional option used to configure a BindGroupProvider during construction.
type BindGroupProviderOption func(*bindGroupProvider)

// WithLayout sets the layout the provider's bind group will be created against.
//
// Parameters:
//   - layout: the bind group layout, owned by the pipeline that declared it
//
// Returns:
//   - BindGroupProviderOption: a function that sets the layout for this provider
func WithLayout(layout *wgpu.BindGroupLayout) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.layout = layout
	}
}

// WithBuffer stores a buffer of size bytes at binding.
//
// Parameters:
//   - binding: the binding index
//   - buf: the buffer
//   - size: the buffer size in bytes
//
// Returns:
//   - BindGroupProviderOption: a function that sets the buffer for the specified binding
func WithBuffer(binding int, buf *wgpu.Buffer, size uint64) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.buffers[binding] = buf
		p.bufferSizes[binding] = size
	}
}

// WithSampler stores a sampler at binding.
//
// Parameters:
//   - binding: the binding index
//   - s: the sampler
//
// Returns:
//   - BindGroupProviderOption: a function that sets the sampler for the specified binding
func WithSampler(binding int, s *wgpu.Sampler) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.samplers[binding] = s
	}
}
