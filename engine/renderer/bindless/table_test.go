package bindless

import (
	"context"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
)

type fakeWriter struct {
	bound map[uint32]common.TextureHandle
	fail  error
}

func (w *fakeWriter) BindSlot(slot uint32, handle common.TextureHandle) error {
	if w.fail != nil {
		return w.fail
	}
	if w.bound == nil {
		w.bound = make(map[uint32]common.TextureHandle)
	}
	w.bound[slot] = handle
	return nil
}

// fakeTracker completes every frame up to and including done.
type fakeTracker struct {
	current uint64
	done    uint64
	anyDone bool
}

func (f *fakeTracker) CurrentFrame() uint64 { return f.current }

func (f *fakeTracker) FrameCompleted(frame uint64) bool {
	return f.anyDone && frame <= f.done
}

func (f *fakeTracker) complete(frame uint64) {
	f.done, f.anyDone = frame, true
}

func newTestTable(t *testing.T, capacity int) (Table, *fakeWriter, *fakeTracker) {
	t.Helper()
	w := &fakeWriter{}
	tr := &fakeTracker{}
	tbl, err := NewTable(w, tr, WithCapacity(capacity))
	if err != nil {
		t.Fatalf("NewTable(%d) error = %v", capacity, err)
	}
	return tbl, w, tr
}

func TestNewTableRejectsBadCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := NewTable(nil, nil, WithCapacity(c)); err == nil {
			t.Errorf("NewTable(capacity %d) error = nil, want error", c)
		}
	}
}

func TestRegisterAllocatesLowestFreeSlot(t *testing.T) {
	tbl, w, _ := newTestTable(t, 4)
	handles := make([]common.TextureHandle, 4)
	for i := range handles {
		handles[i] = common.NewTextureHandle()
		slot, err := tbl.Register(handles[i])
		if err != nil {
			t.Fatalf("Register #%d error = %v", i, err)
		}
		if slot != uint32(i) {
			t.Errorf("Register #%d = slot %d, want %d", i, slot, i)
		}
		if w.bound[slot] != handles[i] {
			t.Errorf("slot %d bound to %v, want %v", slot, w.bound[slot], handles[i])
		}
	}
	if tbl.Len() != 4 {
		t.Errorf("Len() = %d, want 4", tbl.Len())
	}

	_, err := tbl.Register(common.NewTextureHandle())
	if !errors.Is(err, common.ErrCapacityExceeded) {
		t.Errorf("Register on a full table error = %v, want ErrCapacityExceeded", err)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	tbl, _, _ := newTestTable(t, 4)
	h := common.NewTextureHandle()
	first, isNew, err := tbl.Index(h)
	if err != nil || !isNew {
		t.Fatalf("first Index = (%d, %v, %v), want new slot", first, isNew, err)
	}
	second, isNew, err := tbl.Index(h)
	if err != nil || isNew || second != first {
		t.Errorf("second Index = (%d, %v, %v), want (%d, false, nil)", second, isNew, err, first)
	}
}

func TestRegisterRejectsZeroHandle(t *testing.T) {
	tbl, _, _ := newTestTable(t, 4)
	if _, err := tbl.Register(common.TextureHandle{}); err == nil {
		t.Error("Register(zero handle) error = nil, want error")
	}
}

func TestLookup(t *testing.T) {
	tbl, _, _ := newTestTable(t, 4)
	h := common.NewTextureHandle()
	if slot, ok := tbl.Lookup(h); ok || slot != Sentinel {
		t.Errorf("Lookup(unregistered) = (%d, %v), want (Sentinel, false)", slot, ok)
	}
	want, _ := tbl.Register(h)
	if slot, ok := tbl.Lookup(h); !ok || slot != want {
		t.Errorf("Lookup = (%d, %v), want (%d, true)", slot, ok, want)
	}
	if got, ok := tbl.Handle(want); !ok || got != h {
		t.Errorf("Handle(%d) = (%v, %v), want (%v, true)", want, got, ok, h)
	}
}

func TestSentinelIsNeverAllocated(t *testing.T) {
	tbl, _, tr := newTestTable(t, 8)
	if tbl.Sentinel() != 0xFFFFFFFF {
		t.Fatalf("Sentinel() = %#x, want 0xFFFFFFFF", tbl.Sentinel())
	}
	if frame.NoAlbedo != Sentinel {
		t.Errorf("frame.NoAlbedo = %#x, want the sentinel", frame.NoAlbedo)
	}
	for round := 0; round < 5; round++ {
		for i := 0; i < 8; i++ {
			slot, err := tbl.Register(common.NewTextureHandle())
			if err != nil {
				t.Fatal(err)
			}
			if slot == Sentinel || slot >= 8 {
				t.Fatalf("Register returned slot %#x", slot)
			}
		}
		for s := uint32(0); s < 8; s++ {
			if err := tbl.Retire(s); err != nil {
				t.Fatal(err)
			}
		}
		tr.complete(tr.current)
		tr.current++
	}
	if err := tbl.Retire(Sentinel); err == nil {
		t.Error("Retire(Sentinel) error = nil, want error")
	}
}

func TestRetiredSlotWaitsForFrameCompletion(t *testing.T) {
	tbl, _, tr := newTestTable(t, 1)
	tr.current = 10

	a := common.NewTextureHandle()
	slot, _ := tbl.Register(a)
	if err := tbl.Retire(slot); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup(a); ok {
		t.Error("retired handle still resolves")
	}
	if tbl.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", tbl.Pending())
	}

	// frame 10 may still be sampling the slot
	b := common.NewTextureHandle()
	if _, err := tbl.Register(b); !errors.Is(err, common.ErrCapacityExceeded) {
		t.Fatalf("Register before frame completion error = %v, want ErrCapacityExceeded", err)
	}

	tr.complete(9)
	if n := tbl.Reclaim(); n != 0 {
		t.Errorf("Reclaim after frame 9 freed %d slots, want 0", n)
	}

	tr.complete(10)
	got, err := tbl.Register(b)
	if err != nil {
		t.Fatalf("Register after frame completion error = %v", err)
	}
	if got != slot {
		t.Errorf("Register reused slot %d, want %d", got, slot)
	}
	if tbl.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", tbl.Pending())
	}
}

func TestRetireInAbandonedFrameWaitsForInFlightFrames(t *testing.T) {
	ring, err := frame.NewUniformSet(3)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := NewTable(&fakeWriter{}, ring, WithCapacity(1))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a := common.NewTextureHandle()
	ring.AcquireForFrame(ctx, 0)
	slot, err := tbl.Register(a)
	if err != nil {
		t.Fatal(err)
	}
	f0 := frame.NewChanFence()
	ring.Submitted(0, f0)

	// frame 1 samples the slot and is still in flight
	ring.AcquireForFrame(ctx, 1)
	f1 := frame.NewChanFence()
	ring.Submitted(1, f1)

	ring.AcquireForFrame(ctx, 2)
	if err := tbl.Retire(slot); err != nil {
		t.Fatal(err)
	}
	ring.Abandon(2)

	f0.Signal()
	if n := tbl.Reclaim(); n != 0 {
		t.Fatalf("Reclaim() with frame 1 in flight = %d, want 0", n)
	}
	b := common.NewTextureHandle()
	if _, err := tbl.Register(b); !errors.Is(err, common.ErrCapacityExceeded) {
		t.Fatalf("Register with frame 1 in flight error = %v, want ErrCapacityExceeded", err)
	}

	f1.Signal()
	got, err := tbl.Register(b)
	if err != nil {
		t.Fatalf("Register after frame 1 completed error = %v", err)
	}
	if got != slot {
		t.Errorf("Register = %d, want reused slot %d", got, slot)
	}
}

func TestRetireAndReuseLowestFirst(t *testing.T) {
	tbl, _, tr := newTestTable(t, 4)
	var hs [4]common.TextureHandle
	for i := range hs {
		hs[i] = common.NewTextureHandle()
		tbl.Register(hs[i])
	}
	if err := tbl.RetireHandle(hs[2]); err != nil {
		t.Fatal(err)
	}
	if err := tbl.RetireHandle(hs[1]); err != nil {
		t.Fatal(err)
	}
	tr.complete(tr.current)
	if n := tbl.Reclaim(); n != 2 {
		t.Fatalf("Reclaim() = %d, want 2", n)
	}

	slot, _ := tbl.Register(common.NewTextureHandle())
	if slot != 1 {
		t.Errorf("Register after freeing 1 and 2 = %d, want 1", slot)
	}
	if err := tbl.RetireHandle(common.NewTextureHandle()); err == nil {
		t.Error("RetireHandle(unregistered) error = nil, want error")
	}
	if err := tbl.Retire(2); err == nil {
		t.Error("Retire(free slot) error = nil, want error")
	}
}

func TestRegisterPropagatesWriterError(t *testing.T) {
	w := &fakeWriter{fail: errors.New("device lost")}
	tbl, err := NewTable(w, nil, WithCapacity(2))
	if err != nil {
		t.Fatal(err)
	}
	h := common.NewTextureHandle()
	if _, err := tbl.Register(h); err == nil {
		t.Fatal("Register error = nil, want writer error")
	}
	if _, ok := tbl.Lookup(h); ok {
		t.Error("failed registration left a mapping behind")
	}
	w.fail = nil
	if slot, err := tbl.Register(h); err != nil || slot != 0 {
		t.Errorf("Register after recovery = (%d, %v), want (0, nil)", slot, err)
	}
}

func TestGPUSlotScale(t *testing.T) {
	s := NewGPUSlotScale(256, 512, 1024)
	if s.U != 0.25 || s.V != 0.5 {
		t.Errorf("NewGPUSlotScale = %+v, want {0.25 0.5}", s)
	}
	buf := s.Marshal()
	if got := common.Float32At(buf, 4); got != 0.5 {
		t.Errorf("marshalled V = %v, want 0.5", got)
	}
}

func TestBitsetFirstClear(t *testing.T) {
	b := newBitset(130)
	for i := uint32(0); i < 129; i++ {
		b.set(i)
	}
	if i, ok := b.firstClear(130); !ok || i != 129 {
		t.Errorf("firstClear = (%d, %v), want (129, true)", i, ok)
	}
	b.set(129)
	if _, ok := b.firstClear(130); ok {
		t.Error("firstClear on a full set reported a free bit")
	}
	b.clear(64)
	if i, ok := b.firstClear(130); !ok || i != 64 {
		t.Errorf("firstClear = (%d, %v), want (64, true)", i, ok)
	}
	if b.count() != 129 {
		t.Errorf("count() = %d, want 129", b.count())
	}
}
