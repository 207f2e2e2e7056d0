package frame

import (
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrPaletteTooLarge is returned when a joint palette has more than MaxJoints entries.
var ErrPaletteTooLarge = errors.New("joint palette exceeds 128 joints")

// Record identifies one uniform record inside a Region.
type Record struct {
	// Index is the record's position in the region.
	Index int
	// Offset is the record's byte offset in the ring slot's buffer, used as the dynamic offset.
	Offset uint32
}

// region is the implementation of Region.
type region struct {
	set      *uniformSet
	ringSlot int
	frame    uint64

	view       mgl32.Mat4
	projection mgl32.Mat4
	records    []GPUFrameUniforms
	staging    []byte
}

// Region is the uniform storage of one frame in flight. The caller sets the camera once, pushes a
// record per draw, optionally attaches a joint palette, binds records on the pass and finally
// flushes the region to the device before submission.
type Region interface {
	// FrameIndex returns the frame this region is recording.
	//
	// Returns:
	//   - uint64: the frame index
	FrameIndex() uint64

	// RingSlot returns the ring slot backing this region.
	//
	// Returns:
	//   - int: the ring slot index
	RingSlot() int

	// SetCamera sets the view and projection written into every record of the frame.
	//
	// Parameters:
	//   - view: the camera view matrix
	//   - projection: the camera projection matrix
	SetCamera(view, projection mgl32.Mat4)

	// Push appends a record for one draw. The record's joint palette starts as identity.
	//
	// Parameters:
	//   - model: the draw's model transform
	//   - tint: the linear RGBA albedo factor
	//
	// Returns:
	//   - Record: the new record
	//   - error: ErrCapacityExceeded if the region is full, ErrStaleFrameResource if the region is
	//     no longer recording
	Push(model mgl32.Mat4, tint mgl32.Vec4) (Record, error)

	// SetAlbedo selects the bindless texture sampled by the draw of rec. Records start at NoAlbedo.
	//
	// Parameters:
	//   - rec: the record to write
	//   - slot: a bindless slot, or NoAlbedo for the flat tint
	//
	// Returns:
	//   - error: an error if rec is not part of this region
	SetAlbedo(rec Record, slot uint32) error

	// SetPalette overwrites the whole joint palette of rec. Entries past len(palette) are identity.
	//
	// Parameters:
	//   - rec: the record to write
	//   - palette: up to MaxJoints joint matrices
	//
	// Returns:
	//   - error: ErrPaletteTooLarge, or an error if rec is not part of this region
	SetPalette(rec Record, palette JointPalette) error

	// Uniforms returns the record as it will be uploaded, camera included.
	//
	// Parameters:
	//   - rec: the record to read
	//
	// Returns:
	//   - GPUFrameUniforms: the record contents
	Uniforms(rec Record) GPUFrameUniforms

	// Len returns the number of records pushed this frame.
	//
	// Returns:
	//   - int: the record count
	Len() int

	// Bind attaches rec to the draws that follow on pass.
	//
	// Parameters:
	//   - pass: the pass receiving the binding
	//   - rec: the record to bind
	Bind(pass Binder, rec Record)

	// Flush serializes every record and uploads them to the ring slot's buffer.
	//
	// Parameters:
	//   - dev: the device owning the ring slot buffers
	//
	// Returns:
	//   - error: an error if the region is no longer recording or the upload fails
	Flush(dev Device) error
}

var _ Region = &region{}

func newRegion(set *uniformSet, ringSlot int) *region {
	return &region{
		set:        set,
		ringSlot:   ringSlot,
		view:       mgl32.Ident4(),
		projection: mgl32.Ident4(),
		records:    make([]GPUFrameUniforms, 0, set.recordsPerFrame),
	}
}

func (r *region) reset(frameIndex uint64) {
	r.frame = frameIndex
	r.view = mgl32.Ident4()
	r.projection = mgl32.Ident4()
	r.records = r.records[:0]
}

func (r *region) FrameIndex() uint64 {
	return r.frame
}

func (r *region) RingSlot() int {
	return r.ringSlot
}

func (r *region) SetCamera(view, projection mgl32.Mat4) {
	r.view = view
	r.projection = projection
}

func (r *region) Push(model mgl32.Mat4, tint mgl32.Vec4) (Record, error) {
	if !r.set.recording(r.ringSlot, r.frame) {
		return Record{}, fmt.Errorf("frame %d region is not recording: %w", r.frame, common.ErrStaleFrameResource)
	}
	if len(r.records) >= r.set.recordsPerFrame {
		return Record{}, fmt.Errorf("frame region holds %d records: %w", r.set.recordsPerFrame, common.ErrCapacityExceeded)
	}

	u := GPUFrameUniforms{AlbedoFactor: tint, Model: model, AlbedoSlot: NoAlbedo}
	for i := range u.Joints {
		u.Joints[i] = mgl32.Ident4()
	}
	r.records = append(r.records, u)
	idx := len(r.records) - 1
	return Record{Index: idx, Offset: uint32(idx) * r.set.RecordStride()}, nil
}

func (r *region) checkRecord(rec Record) error {
	if rec.Index < 0 || rec.Index >= len(r.records) {
		return fmt.Errorf("record %d is not part of frame %d", rec.Index, r.frame)
	}
	return nil
}

func (r *region) SetAlbedo(rec Record, slot uint32) error {
	if err := r.checkRecord(rec); err != nil {
		return err
	}
	r.records[rec.Index].AlbedoSlot = slot
	return nil
}

func (r *region) SetPalette(rec Record, palette JointPalette) error {
	if err := r.checkRecord(rec); err != nil {
		return err
	}
	if len(palette) > MaxJoints {
		return fmt.Errorf("palette has %d joints: %w", len(palette), ErrPaletteTooLarge)
	}
	if r.set.validation {
		for i, m := range palette {
			for _, v := range m {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					return fmt.Errorf("joint %d has a non-finite component", i)
				}
			}
		}
	}

	joints := &r.records[rec.Index].Joints
	n := copy(joints[:], palette)
	for i := n; i < MaxJoints; i++ {
		joints[i] = mgl32.Ident4()
	}
	return nil
}

func (r *region) Uniforms(rec Record) GPUFrameUniforms {
	u := r.records[rec.Index]
	u.View = r.view
	u.Projection = r.projection
	return u
}

func (r *region) Len() int {
	return len(r.records)
}

func (r *region) Bind(pass Binder, rec Record) {
	pass.BindFrameUniforms(r.ringSlot, rec.Offset)
}

func (r *region) Flush(dev Device) error {
	if !r.set.recording(r.ringSlot, r.frame) {
		return fmt.Errorf("frame %d region is not recording: %w", r.frame, common.ErrStaleFrameResource)
	}
	if len(r.records) == 0 {
		return nil
	}

	stride := int(r.set.RecordStride())
	size := stride * len(r.records)
	if cap(r.staging) < size {
		r.staging = make([]byte, size)
	}
	r.staging = r.staging[:size]
	for i := range r.records {
		u := r.Uniforms(Record{Index: i})
		u.MarshalInto(r.staging[i*stride:])
	}
	if err := dev.WriteFrameUniforms(r.ringSlot, r.staging); err != nil {
		return fmt.Errorf("failed to upload frame %d uniforms: %w", r.frame, err)
	}
	return nil
}
