package overlay

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bindless"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
)

// ErrUnknownTexture is returned for a partial update of a texture that was never set.
var ErrUnknownTexture = errors.New("overlay texture was never set")

// Pass is the slice of an open render pass the compositor draws into. Buffer uploads land before
// any draw of the frame executes, so each is made once per frame.
type Pass interface {
	// UploadOverlayGeometry writes the frame's packed geometry to the start of the overlay geometry
	// buffer, growing it to capacity bytes first when it is smaller.
	//
	// Parameters:
	//   - data: packed vertices and indices of every draw list
	//   - capacity: the minimum buffer size
	//
	// Returns:
	//   - error: an error if the buffer could not be grown
	UploadOverlayGeometry(data []byte, capacity uint64) error

	// UploadOverlayUniforms writes the frame's uniform records, GPUOverlayUniformsStride bytes
	// apart, growing the uniform buffer to capacity bytes first when it is smaller.
	//
	// Parameters:
	//   - data: one marshaled GPUOverlayUniforms per draw list
	//   - capacity: the minimum buffer size
	//
	// Returns:
	//   - error: an error if the buffer could not be grown
	UploadOverlayUniforms(data []byte, capacity uint64) error

	// SetOverlayPipeline binds the overlay pipeline, one uniform record and the texture table.
	//
	// Parameters:
	//   - offset: the byte offset of the draw list's uniform record
	SetOverlayPipeline(offset uint32)

	// SetScissor restricts drawing to a framebuffer rectangle.
	//
	// Parameters:
	//   - s: the scissor rectangle
	SetScissor(s Scissor)

	// DrawOverlay binds the span's vertices and indices and draws them.
	//
	// Parameters:
	//   - span: the primitive's location in the geometry buffer
	DrawOverlay(span Span)
}

// overlayTexture is a GUI texture published in the bindless table.
type overlayTexture struct {
	handle common.TextureHandle
	slot   uint32
}

// deferredRelease is an image waiting for the frame that last sampled it to complete.
type deferredRelease struct {
	handle common.TextureHandle
	epoch  uint64
}

// compositor is the implementation of Compositor.
type compositor struct {
	uploader upload.Uploader
	table    bindless.Table
	tracker  bindless.CompletionTracker

	textures map[TextureID]overlayTexture
	releases []deferredRelease
	geometry []byte
	capacity uint64
	uniforms []byte
}

// Compositor draws GUI draw lists through the bindless texture table. Vertex colours arrive gamma
// encoded and are converted to linear in the vertex stage.
type Compositor interface {
	// UpdateTextures applies the texture sets of a draw list: uploads new or changed images and
	// publishes them in the texture table. Call it before the render pass.
	//
	// Parameters:
	//   - delta: the texture changes
	//
	// Returns:
	//   - error: an error if an upload or registration failed
	UpdateTextures(delta TexturesDelta) error

	// Render draws the primitives of every list into pass, in order, one scissored indexed draw
	// per primitive. All lists share one geometry upload and each gets its own uniform record.
	// Primitives whose scissor is empty are skipped.
	//
	// Parameters:
	//   - pass: the render pass
	//   - lists: the frame's draw lists
	//   - width: the framebuffer width in pixels
	//   - height: the framebuffer height in pixels
	//
	// Returns:
	//   - int: the number of draws issued
	//   - error: an error if an upload failed
	Render(pass Pass, lists []DrawList, width, height uint32) (int, error)

	// FreeTextures applies the texture frees of a draw list after it was rendered. Slots are
	// retired and images released once the current frame completes.
	//
	// Parameters:
	//   - delta: the texture changes
	FreeTextures(delta TexturesDelta)

	// Collect releases images freed by earlier frames that have completed.
	//
	// Returns:
	//   - int: the number of images released
	Collect() int

	// Slot returns the bindless slot of a GUI texture, or the sentinel when it is unknown.
	//
	// Parameters:
	//   - id: the GUI texture id
	//
	// Returns:
	//   - uint32: the slot
	Slot(id TextureID) uint32
}

var _ Compositor = &compositor{}

// NewCompositor creates a new Compositor.
//
// Parameters:
//   - uploader: uploads GUI images
//   - table: the bindless texture table shared with the scene
//   - tracker: frame completion, for deferred image release
//
// Returns:
//   - Compositor: the new compositor
func NewCompositor(uploader upload.Uploader, table bindless.Table, tracker bindless.CompletionTracker) Compositor {
	return &compositor{
		uploader: uploader,
		table:    table,
		tracker:  tracker,
		textures: make(map[TextureID]overlayTexture),
	}
}

func (c *compositor) UpdateTextures(delta TexturesDelta) error {
	for _, set := range delta.Set {
		if err := c.setTexture(set.ID, set.Delta); err != nil {
			return fmt.Errorf("overlay texture %d: %w", set.ID, err)
		}
	}
	return nil
}

func (c *compositor) setTexture(id TextureID, d ImageDelta) error {
	existing, known := c.textures[id]
	target := common.ImageFormatRGBA8Srgb

	if d.Origin != nil {
		if !known {
			return ErrUnknownTexture
		}
		_, err := c.uploader.Upload(upload.ImageUpload{
			Handle: existing.handle,
			Format: d.Format,
			Target: target,
			Width:  d.Width,
			Height: d.Height,
			Origin: *d.Origin,
			Pixels: d.Pixels,
		})
		return err
	}

	handle, err := c.uploader.Upload(upload.ImageUpload{
		Format: d.Format,
		Target: target,
		Width:  d.Width,
		Height: d.Height,
		Pixels: d.Pixels,
	})
	if err != nil {
		return err
	}
	slot, err := c.table.Register(handle)
	if err != nil {
		c.uploader.Release(handle)
		return err
	}
	if known {
		c.retire(existing)
	}
	c.textures[id] = overlayTexture{handle: handle, slot: slot}
	logger.Debug("[OverlayCompositor] texture %d -> slot %d (%dx%d)", id, slot, d.Width, d.Height)
	return nil
}

func (c *compositor) retire(t overlayTexture) {
	if err := c.table.Retire(t.slot); err != nil {
		logger.Warn("[OverlayCompositor] failed to retire slot %d: %v", t.slot, err)
	}
	c.releases = append(c.releases, deferredRelease{handle: t.handle, epoch: c.tracker.CurrentFrame()})
}

func (c *compositor) Slot(id TextureID) uint32 {
	if t, ok := c.textures[id]; ok {
		return t.slot
	}
	return bindless.Sentinel
}

func (c *compositor) Render(pass Pass, lists []DrawList, width, height uint32) (int, error) {
	if width == 0 || height == 0 {
		return 0, nil
	}
	lists = slices.DeleteFunc(slices.Clone(lists), func(l DrawList) bool {
		return len(l.Primitives) == 0
	})
	if len(lists) == 0 {
		return 0, nil
	}

	c.geometry = c.geometry[:0]
	spans := make([][]Span, len(lists))
	for i, list := range lists {
		c.geometry, spans[i] = PackGeometry(c.geometry, list.Primitives, c.Slot)
	}
	c.capacity = GrowCapacity(c.capacity, uint64(len(c.geometry)))
	if err := pass.UploadOverlayGeometry(c.geometry, c.capacity); err != nil {
		return 0, fmt.Errorf("failed to upload overlay geometry: %w", err)
	}

	n := len(lists) * GPUOverlayUniformsStride
	if cap(c.uniforms) < n {
		c.uniforms = make([]byte, n)
	}
	c.uniforms = c.uniforms[:n]
	clear(c.uniforms)
	for i, list := range lists {
		uniforms := GPUOverlayUniforms{InvDims: InverseDimensions(width, height, listScale(list))}
		copy(c.uniforms[i*GPUOverlayUniformsStride:], uniforms.Marshal())
	}
	if err := pass.UploadOverlayUniforms(c.uniforms, UniformCapacity(len(lists))); err != nil {
		return 0, fmt.Errorf("failed to upload overlay uniforms: %w", err)
	}

	draws := 0
	for i, list := range lists {
		scale := listScale(list)
		pass.SetOverlayPipeline(uint32(i * GPUOverlayUniformsStride))
		for j, p := range list.Primitives {
			if spans[i][j].IndexCount == 0 {
				continue
			}
			s := ScissorFor(p.Clip, scale, width, height)
			if s.Empty() {
				continue
			}
			pass.SetScissor(s)
			pass.DrawOverlay(spans[i][j])
			draws++
		}
	}
	// leave the scissor covering the framebuffer for later draws in the pass
	pass.SetScissor(Scissor{Width: width, Height: height})
	return draws, nil
}

func listScale(list DrawList) float32 {
	if list.PixelsPerPoint <= 0 {
		return 1
	}
	return list.PixelsPerPoint
}

func (c *compositor) FreeTextures(delta TexturesDelta) {
	for _, id := range delta.Free {
		t, ok := c.textures[id]
		if !ok {
			continue
		}
		delete(c.textures, id)
		c.retire(t)
	}
}

func (c *compositor) Collect() int {
	kept := c.releases[:0]
	released := 0
	for _, r := range c.releases {
		if c.tracker.FrameCompleted(r.epoch) {
			c.uploader.Release(r.handle)
			released++
			continue
		}
		kept = append(kept, r)
	}
	c.releases = kept
	return released
}
