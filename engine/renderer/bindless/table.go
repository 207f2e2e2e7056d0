package bindless

import (
	"fmt"
	"math"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
)

// Sentinel is the slot value meaning "no texture, use the constant colour". It is never allocated.
const Sentinel uint32 = math.MaxUint32

// DefaultCapacity matches the texture array length declared for the shader stages.
const DefaultCapacity = 128

// SlotWriter publishes texture descriptors into the shader-visible array.
type SlotWriter interface {
	// BindSlot makes the image behind handle visible to shaders at slot.
	//
	// Parameters:
	//   - slot: the array index, below the table capacity
	//   - handle: the GPU-resident image
	//
	// Returns:
	//   - error: an error if the handle is unknown to the device
	BindSlot(slot uint32, handle common.TextureHandle) error
}

// CompletionTracker reports frame completion. The frame uniform ring implements it.
type CompletionTracker interface {
	// CurrentFrame returns the frame currently being recorded.
	CurrentFrame() uint64
	// FrameCompleted reports whether the GPU is done with everything frameIndex referenced.
	FrameCompleted(frameIndex uint64) bool
}

// retirement is a slot waiting for the frame that last referenced it to complete.
type retirement struct {
	slot  uint32
	epoch uint64
}

// table is the implementation of Table.
type table struct {
	capacity int
	writer   SlotWriter
	tracker  CompletionTracker

	// occupied holds live and retiring slots; neither can be allocated.
	occupied bitset
	handles  map[common.TextureHandle]uint32
	slots    []common.TextureHandle
	pending  []retirement
}

// Table is a fixed-capacity bindless texture registry mapping texture handles to small integer
// slots that shaders use to index the texture array. Slots are allocated lowest-first and reused
// only after every frame that could have sampled them has completed.
//
// The table is owned by the render submission thread and is not safe for concurrent use.
type Table interface {
	// Capacity returns the number of allocatable slots.
	//
	// Returns:
	//   - int: the fixed capacity
	Capacity() int

	// Len returns the number of live registrations.
	//
	// Returns:
	//   - int: the number of handles currently mapped to a slot
	Len() int

	// Pending returns the number of retired slots still waiting on a frame to complete.
	//
	// Returns:
	//   - int: the number of slots awaiting reclamation
	Pending() int

	// Register allocates the lowest free slot for handle and binds the image into it. A handle
	// that is already registered keeps its slot.
	//
	// Parameters:
	//   - handle: the GPU-resident image to publish
	//
	// Returns:
	//   - uint32: the slot shaders must use for this image
	//   - error: ErrCapacityExceeded when every slot is live or retiring, or the device error
	Register(handle common.TextureHandle) (uint32, error)

	// Index is Register that also reports whether a new slot was allocated.
	//
	// Parameters:
	//   - handle: the GPU-resident image to publish
	//
	// Returns:
	//   - uint32: the slot for handle
	//   - bool: true if the slot was allocated by this call
	//   - error: as for Register
	Index(handle common.TextureHandle) (uint32, bool, error)

	// Lookup returns the slot of a registered handle.
	//
	// Parameters:
	//   - handle: the image to find
	//
	// Returns:
	//   - uint32: the slot, or Sentinel if handle is not registered
	//   - bool: true if handle is registered
	Lookup(handle common.TextureHandle) (uint32, bool)

	// Handle returns the handle registered at slot.
	//
	// Parameters:
	//   - slot: the slot to inspect
	//
	// Returns:
	//   - common.TextureHandle: the live handle at slot
	//   - bool: false if the slot is free, retiring or out of range
	Handle(slot uint32) (common.TextureHandle, bool)

	// Retire unmaps slot. The slot becomes allocatable once the frame being recorded now has
	// completed on the GPU.
	//
	// Parameters:
	//   - slot: a live slot
	//
	// Returns:
	//   - error: an error if slot is the sentinel, out of range, or not live
	Retire(slot uint32) error

	// RetireHandle retires the slot registered for handle.
	//
	// Parameters:
	//   - handle: a registered image
	//
	// Returns:
	//   - error: an error if handle is not registered
	RetireHandle(handle common.TextureHandle) error

	// Reclaim frees every retiring slot whose frame has completed.
	//
	// Returns:
	//   - int: the number of slots freed
	Reclaim() int

	// Sentinel returns the fixed "no texture" slot value.
	//
	// Returns:
	//   - uint32: Sentinel
	Sentinel() uint32
}

var _ Table = &table{}

// NewTable creates an empty table.
//
// Parameters:
//   - writer: publishes slot bindings on the device
//   - tracker: reports frame completion for retirement
//   - options: functional options, see WithCapacity
//
// Returns:
//   - Table: the new table
//   - error: an error if the capacity is not in [1, Sentinel)
func NewTable(writer SlotWriter, tracker CompletionTracker, options ...TableBuilderOption) (Table, error) {
	t := &table{
		capacity: DefaultCapacity,
		writer:   writer,
		tracker:  tracker,
	}
	for _, opt := range options {
		opt(t)
	}
	if t.capacity <= 0 || uint64(t.capacity) >= uint64(Sentinel) {
		return nil, fmt.Errorf("bindless capacity must be in [1, %d), got %d", Sentinel, t.capacity)
	}
	t.occupied = newBitset(t.capacity)
	t.handles = make(map[common.TextureHandle]uint32, t.capacity)
	t.slots = make([]common.TextureHandle, t.capacity)
	return t, nil
}

func (t *table) Capacity() int {
	return t.capacity
}

func (t *table) Len() int {
	return len(t.handles)
}

func (t *table) Pending() int {
	return len(t.pending)
}

func (t *table) Register(handle common.TextureHandle) (uint32, error) {
	slot, _, err := t.Index(handle)
	return slot, err
}

func (t *table) Index(handle common.TextureHandle) (uint32, bool, error) {
	if handle.IsZero() {
		return Sentinel, false, fmt.Errorf("cannot register the zero texture handle")
	}
	if slot, ok := t.handles[handle]; ok {
		return slot, false, nil
	}

	slot, ok := t.occupied.firstClear(t.capacity)
	if !ok && t.Reclaim() > 0 {
		slot, ok = t.occupied.firstClear(t.capacity)
	}
	if !ok {
		return Sentinel, false, fmt.Errorf("bindless table (%d slots, %d retiring): %w", t.capacity, len(t.pending), common.ErrCapacityExceeded)
	}

	if t.writer != nil {
		if err := t.writer.BindSlot(slot, handle); err != nil {
			return Sentinel, false, fmt.Errorf("failed to bind %v into slot %d: %w", handle, slot, err)
		}
	}
	t.occupied.set(slot)
	t.handles[handle] = slot
	t.slots[slot] = handle
	return slot, true, nil
}

func (t *table) Lookup(handle common.TextureHandle) (uint32, bool) {
	slot, ok := t.handles[handle]
	if !ok {
		return Sentinel, false
	}
	return slot, true
}

func (t *table) Handle(slot uint32) (common.TextureHandle, bool) {
	if int64(slot) >= int64(t.capacity) {
		return common.TextureHandle{}, false
	}
	h := t.slots[slot]
	return h, !h.IsZero()
}

func (t *table) Retire(slot uint32) error {
	if slot == Sentinel {
		return fmt.Errorf("cannot retire the sentinel slot")
	}
	h, ok := t.Handle(slot)
	if !ok {
		return fmt.Errorf("slot %d is not live", slot)
	}

	delete(t.handles, h)
	t.slots[slot] = common.TextureHandle{}
	var epoch uint64
	if t.tracker != nil {
		epoch = t.tracker.CurrentFrame()
	}
	t.pending = append(t.pending, retirement{slot: slot, epoch: epoch})
	logger.Debug("[Bindless] slot %d retired at frame %d", slot, epoch)
	return nil
}

func (t *table) RetireHandle(handle common.TextureHandle) error {
	slot, ok := t.handles[handle]
	if !ok {
		return fmt.Errorf("%v is not registered", handle)
	}
	return t.Retire(slot)
}

func (t *table) Reclaim() int {
	freed := 0
	kept := t.pending[:0]
	for _, r := range t.pending {
		if t.tracker == nil || t.tracker.FrameCompleted(r.epoch) {
			t.occupied.clear(r.slot)
			freed++
			continue
		}
		kept = append(kept, r)
	}
	t.pending = kept
	return freed
}

func (t *table) Sentinel() uint32 {
	return Sentinel
}
