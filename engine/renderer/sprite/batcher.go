package sprite

import (
	"fmt"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/go-gl/mathgl/mgl32"
)

// DefaultCapacity is the number of instances a batch holds before it must be flushed.
const DefaultCapacity = 4096

// ErrBatchFull is returned by Push when the batch is at capacity. Flush and push again.
var ErrBatchFull = fmt.Errorf("sprite batch full: %w", common.ErrCapacityExceeded)

// Instance is one textured, tinted, transformed quad.
type Instance struct {
	// Position is the quad in model space, y-up.
	Position common.Rect
	// UV is the sampled region of the texture.
	UV common.Rect
	// Layer orders sprites in depth; 0 is nearest.
	Layer uint16
	// Texture is the bindless slot, or bindless.Sentinel for an untextured quad.
	Texture uint32
	// Tint is a linear RGBA multiplier. An untextured quad renders exactly this colour.
	Tint mgl32.Vec4
	// Transform is the 2D affine transform applied to Position.
	Transform mgl32.Mat3
}

// NewInstance returns an instance covering the full texture at slot with a white tint and an
// identity transform.
//
// Parameters:
//   - position: the quad rectangle
//   - texture: the bindless slot or bindless.Sentinel
//
// Returns:
//   - Instance: the instance
func NewInstance(position common.Rect, texture uint32) Instance {
	return Instance{
		Position:  position,
		UV:        common.Rect{Left: 0, Right: 1, Top: 0, Bottom: 1},
		Texture:   texture,
		Tint:      mgl32.Vec4{1, 1, 1, 1},
		Transform: mgl32.Ident3(),
	}
}

// GPU converts the instance into its instance buffer layout.
func (i Instance) GPU() GPUSpriteInstance {
	g := GPUSpriteInstance{
		Position: i.Position,
		UV:       i.UV,
		Layer:    float32(i.Layer),
		Albedo:   i.Texture,
		Tint:     [4]float32(i.Tint),
	}
	for c := 0; c < 3; c++ {
		col := i.Transform.Col(c)
		g.Transform[c] = [3]float32(col)
	}
	return g
}

// Pass is the slice of an open render pass the batcher draws into. The pass is expected to have
// the sprite pipeline and the frame uniform record already bound.
type Pass interface {
	// UploadSpriteInstances copies packed instance data into the instance buffer, growing it when
	// needed, and binds it as the instance-rate vertex buffer.
	//
	// Parameters:
	//   - data: count instances of GPUSpriteInstanceSize bytes each
	//   - count: the number of instances
	//
	// Returns:
	//   - error: an error if the buffer could not be grown or written
	UploadSpriteInstances(data []byte, count uint32) error

	// BindTextureTable binds the bindless texture array, sampler and slot scales.
	BindTextureTable()

	// DrawSprites issues one non-indexed instanced draw.
	//
	// Parameters:
	//   - vertexCount: vertices per instance
	//   - instanceCount: the number of instances
	DrawSprites(vertexCount, instanceCount uint32)
}

// batcher is the implementation of Batcher.
type batcher struct {
	capacity  int
	instances []Instance
	staging   []byte
	draws     uint64
}

// Batcher accumulates sprite instances and emits them as a single instanced draw.
//
// The batcher is owned by the render submission thread and is not safe for concurrent use.
type Batcher interface {
	// BeginBatch discards any accumulated instances.
	BeginBatch()

	// Push appends an instance to the batch.
	//
	// Parameters:
	//   - inst: the instance to draw
	//
	// Returns:
	//   - error: ErrBatchFull when the batch is at capacity
	Push(inst Instance) error

	// Flush uploads the accumulated instances and records one draw of VerticesPerSprite vertices
	// and Len() instances. An empty batch records nothing. The batch is empty afterwards.
	//
	// Parameters:
	//   - pass: the render pass to record into
	//
	// Returns:
	//   - uint32: the number of instances drawn
	//   - error: an error if the upload failed; the batch is kept so the caller may retry
	Flush(pass Pass) (uint32, error)

	// Len returns the number of accumulated instances.
	//
	// Returns:
	//   - int: the instance count
	Len() int

	// Capacity returns the maximum number of instances per batch.
	//
	// Returns:
	//   - int: the capacity
	Capacity() int

	// Instances returns the accumulated instances. The slice is only valid until the next Push,
	// Flush or BeginBatch.
	//
	// Returns:
	//   - []Instance: the pending instances in push order
	Instances() []Instance

	// Draws returns the number of draw calls recorded over the batcher's lifetime.
	//
	// Returns:
	//   - uint64: the draw count
	Draws() uint64
}

var _ Batcher = &batcher{}

// NewBatcher creates a new Batcher.
//
// Parameters:
//   - options: the builder options
//
// Returns:
//   - Batcher: the new batcher
func NewBatcher(options ...BatcherBuilderOption) Batcher {
	b := &batcher{
		capacity: DefaultCapacity,
	}
	for _, opt := range options {
		opt(b)
	}
	if b.capacity <= 0 {
		b.capacity = DefaultCapacity
	}
	b.instances = make([]Instance, 0, min(b.capacity, MinInstanceCapacity))
	return b
}

func (b *batcher) BeginBatch() {
	b.instances = b.instances[:0]
}

func (b *batcher) Push(inst Instance) error {
	if len(b.instances) >= b.capacity {
		return ErrBatchFull
	}
	b.instances = append(b.instances, inst)
	return nil
}

func (b *batcher) Flush(pass Pass) (uint32, error) {
	count := len(b.instances)
	if count == 0 {
		return 0, nil
	}

	size := count * GPUSpriteInstanceSize
	if cap(b.staging) < size {
		b.staging = make([]byte, size, int(InstanceBufferCapacity(uint64(count)))*GPUSpriteInstanceSize)
	}
	b.staging = b.staging[:size]
	for i, inst := range b.instances {
		g := inst.GPU()
		g.MarshalInto(b.staging[i*GPUSpriteInstanceSize:])
	}

	if err := pass.UploadSpriteInstances(b.staging, uint32(count)); err != nil {
		return 0, fmt.Errorf("failed to upload sprite instances: %w", err)
	}
	pass.BindTextureTable()
	pass.DrawSprites(VerticesPerSprite, uint32(count))
	b.draws++
	logger.Debug("[SpriteBatcher] flushed %d instances", count)

	b.instances = b.instances[:0]
	return uint32(count), nil
}

func (b *batcher) Len() int {
	return len(b.instances)
}

func (b *batcher) Capacity() int {
	return b.capacity
}

func (b *batcher) Instances() []Instance {
	return b.instances
}

func (b *batcher) Draws() uint64 {
	return b.draws
}
