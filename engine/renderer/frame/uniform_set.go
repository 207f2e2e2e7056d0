package frame

import (
	"context"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
)

// Device receives the serialized uniform records of a frame. One buffer exists per ring slot.
type Device interface {
	// WriteFrameUniforms uploads data to the start of the uniform buffer owned by ringSlot.
	//
	// Parameters:
	//   - ringSlot: the ring slot whose buffer is written
	//   - data: serialized records, RecordStride bytes apart
	//
	// Returns:
	//   - error: an error if the upload fails
	WriteFrameUniforms(ringSlot int, data []byte) error
}

// Binder attaches one uniform record to the draws that follow on a pass.
type Binder interface {
	// BindFrameUniforms binds ringSlot's uniform buffer with a dynamic offset selecting one record.
	//
	// Parameters:
	//   - ringSlot: the ring slot whose buffer is bound
	//   - offset: the byte offset of the record, a multiple of the record stride
	BindFrameUniforms(ringSlot int, offset uint32)
}

type slotState int

const (
	slotIdle slotState = iota
	slotRecording
	slotSubmitted
	slotAbandoned
)

// ringSlot is one frame-in-flight resource set: a region of uniform records plus the fence of the
// submission that last read it.
type ringSlot struct {
	state  slotState
	frame  uint64
	fence  Fence
	region *region
}

// submission is a submitted frame whose fence has not been seen signalled yet.
type submission struct {
	frame uint64
	fence Fence
}

// uniformSet is the implementation of UniformSet.
type uniformSet struct {
	slots           []ringSlot
	recordsPerFrame int
	recordAlignment uint32
	validation      bool

	current     uint64
	acquiredAny bool

	// in-flight submissions ordered by frame index
	inflight []submission
}

// UniformSet is a ring of N >= 2 frame-in-flight uniform regions. A region is only handed out again
// after the GPU has signalled the submission that last read it, which bounds how far the CPU can
// run ahead of the GPU.
//
// The set is owned by the render submission thread and is not safe for concurrent use.
type UniformSet interface {
	// Depth returns the number of ring slots.
	//
	// Returns:
	//   - int: the ring depth
	Depth() int

	// RecordsPerFrame returns how many uniform records one region can hold.
	//
	// Returns:
	//   - int: the record capacity of each region
	RecordsPerFrame() int

	// RecordStride returns the distance in bytes between consecutive records in a region's buffer.
	//
	// Returns:
	//   - uint32: the aligned record size
	RecordStride() uint32

	// BufferSize returns the byte size each ring slot's uniform buffer must have.
	//
	// Returns:
	//   - uint64: RecordStride * RecordsPerFrame
	BufferSize() uint64

	// AcquireForFrame returns the region to record frameIndex into. If the region's previous
	// submission is still executing, AcquireForFrame blocks on its fence.
	//
	// Parameters:
	//   - ctx: cancels the wait on the previous submission's fence
	//   - frameIndex: the frame being recorded, strictly greater than any previously acquired frame
	//
	// Returns:
	//   - Region: the cleared region for this frame
	//   - error: ErrStaleFrameResource if the frame index does not advance or the slot is still
	//     being recorded, or the context error if the wait was cancelled
	AcquireForFrame(ctx context.Context, frameIndex uint64) (Region, error)

	// Submitted records the fence of the submission that reads frameIndex's region.
	//
	// Parameters:
	//   - frameIndex: the frame that was submitted
	//   - fence: signalled when the GPU finishes the submission
	//
	// Returns:
	//   - error: ErrStaleFrameResource if frameIndex is not the frame recording in its slot
	Submitted(frameIndex uint64, fence Fence) error

	// Abandon discards frameIndex's region without submitting it. The slot can be acquired again
	// immediately.
	//
	// Parameters:
	//   - frameIndex: the frame to abandon
	Abandon(frameIndex uint64)

	// CurrentFrame returns the most recently acquired frame index.
	//
	// Returns:
	//   - uint64: the current frame index, 0 before the first acquire
	CurrentFrame() uint64

	// FrameCompleted reports whether the GPU can no longer be reading any resource referenced by
	// frameIndex or any earlier frame. An abandoned or skipped frame is only complete once every
	// earlier submission has finished, so a completed frame always implies all earlier ones are.
	//
	// Parameters:
	//   - frameIndex: the frame to check
	//
	// Returns:
	//   - bool: true if no submission at or before frameIndex is still executing and frameIndex is
	//     not being recorded
	FrameCompleted(frameIndex uint64) bool
}

var _ UniformSet = &uniformSet{}

// NewUniformSet creates a ring of depth frame-in-flight regions.
//
// Parameters:
//   - depth: the number of frames in flight, at least 2
//   - options: functional options sizing the regions
//
// Returns:
//   - UniformSet: the new ring
//   - error: an error if depth or the options are invalid
func NewUniformSet(depth int, options ...UniformSetBuilderOption) (UniformSet, error) {
	if depth < 2 {
		return nil, fmt.Errorf("frame ring depth must be at least 2, got %d", depth)
	}
	u := &uniformSet{
		recordsPerFrame: 64,
		recordAlignment: 256,
	}
	for _, opt := range options {
		opt(u)
	}
	if u.recordsPerFrame <= 0 {
		return nil, fmt.Errorf("records per frame must be positive, got %d", u.recordsPerFrame)
	}
	if a := u.recordAlignment; a == 0 || a&(a-1) != 0 {
		return nil, fmt.Errorf("record alignment must be a power of two, got %d", a)
	}

	u.slots = make([]ringSlot, depth)
	for i := range u.slots {
		u.slots[i].region = newRegion(u, i)
	}
	return u, nil
}

func (u *uniformSet) Depth() int {
	return len(u.slots)
}

func (u *uniformSet) RecordsPerFrame() int {
	return u.recordsPerFrame
}

func (u *uniformSet) RecordStride() uint32 {
	return common.AlignUp(uint32(GPUFrameUniformsSize), u.recordAlignment)
}

func (u *uniformSet) BufferSize() uint64 {
	return uint64(u.RecordStride()) * uint64(u.recordsPerFrame)
}

func (u *uniformSet) AcquireForFrame(ctx context.Context, frameIndex uint64) (Region, error) {
	if u.acquiredAny && frameIndex <= u.current {
		return nil, fmt.Errorf("frame %d does not advance past frame %d: %w", frameIndex, u.current, common.ErrStaleFrameResource)
	}

	idx := int(frameIndex % uint64(len(u.slots)))
	slot := &u.slots[idx]
	switch slot.state {
	case slotRecording:
		return nil, fmt.Errorf("ring slot %d is still recording frame %d: %w", idx, slot.frame, common.ErrStaleFrameResource)
	case slotSubmitted:
		if !slot.fence.Signaled() {
			logger.Debug("[Frame] frame %d waiting on ring slot %d (frame %d in flight)", frameIndex, idx, slot.frame)
			if err := slot.fence.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for frame %d to complete: %w", slot.frame, err)
			}
		}
	}

	slot.state = slotRecording
	slot.frame = frameIndex
	slot.fence = nil
	slot.region.reset(frameIndex)
	u.inflight = slices.DeleteFunc(u.inflight, func(s submission) bool {
		return s.fence.Signaled()
	})

	u.current = frameIndex
	u.acquiredAny = true
	return slot.region, nil
}

func (u *uniformSet) Submitted(frameIndex uint64, fence Fence) error {
	slot := &u.slots[frameIndex%uint64(len(u.slots))]
	if slot.state != slotRecording || slot.frame != frameIndex {
		return fmt.Errorf("frame %d is not recording: %w", frameIndex, common.ErrStaleFrameResource)
	}
	if fence == nil {
		fence = SignaledFence()
	}
	slot.state = slotSubmitted
	slot.fence = fence
	u.inflight = append(u.inflight, submission{frame: frameIndex, fence: fence})
	return nil
}

func (u *uniformSet) Abandon(frameIndex uint64) {
	slot := &u.slots[frameIndex%uint64(len(u.slots))]
	if slot.state != slotRecording || slot.frame != frameIndex {
		return
	}
	slot.state = slotAbandoned
	slot.region.reset(frameIndex)
}

func (u *uniformSet) CurrentFrame() uint64 {
	return u.current
}

func (u *uniformSet) FrameCompleted(frameIndex uint64) bool {
	if !u.acquiredAny {
		return true
	}
	if frameIndex > u.current {
		return false
	}
	if u.recording(int(frameIndex%uint64(len(u.slots))), frameIndex) {
		return false
	}
	u.inflight = slices.DeleteFunc(u.inflight, func(s submission) bool {
		return s.fence.Signaled()
	})
	for _, s := range u.inflight {
		if s.frame <= frameIndex {
			return false
		}
	}
	return true
}

// recording reports whether ringSlot is currently recording frameIndex.
func (u *uniformSet) recording(ringSlot int, frameIndex uint64) bool {
	s := u.slots[ringSlot]
	return s.state == slotRecording && s.frame == frameIndex
}
