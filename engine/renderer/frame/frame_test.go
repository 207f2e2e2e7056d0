package frame

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

type recordingDevice struct {
	writes map[int][]byte
}

func (d *recordingDevice) WriteFrameUniforms(ringSlot int, data []byte) error {
	if d.writes == nil {
		d.writes = make(map[int][]byte)
	}
	d.writes[ringSlot] = append([]byte(nil), data...)
	return nil
}

type recordingBinder struct {
	slot   int
	offset uint32
	calls  int
}

func (b *recordingBinder) BindFrameUniforms(ringSlot int, offset uint32) {
	b.slot, b.offset = ringSlot, offset
	b.calls++
}

func mustSet(t *testing.T, depth int, opts ...UniformSetBuilderOption) UniformSet {
	t.Helper()
	u, err := NewUniformSet(depth, opts...)
	if err != nil {
		t.Fatalf("NewUniformSet(%d) error = %v", depth, err)
	}
	return u
}

func TestGPUFrameUniformsLayout(t *testing.T) {
	var u GPUFrameUniforms
	if got := u.Size(); got != 8416 {
		t.Fatalf("Size() = %d, want 8416", got)
	}
	if GPUFrameUniformsSize != 8416 {
		t.Fatalf("GPUFrameUniformsSize = %d, want 8416", GPUFrameUniformsSize)
	}

	u.AlbedoFactor = mgl32.Vec4{0.1, 0.2, 0.3, 0.4}
	u.View = mgl32.Translate3D(1, 0, 0)
	u.Projection = mgl32.Translate3D(0, 2, 0)
	u.Model = mgl32.Translate3D(0, 0, 3)
	u.Joints[0] = mgl32.Scale3D(4, 4, 4)
	u.Joints[MaxJoints-1] = mgl32.Scale3D(5, 5, 5)
	u.AlbedoSlot = 7
	buf := u.Marshal()
	if got := common.Uint32At(buf, 8400); got != 7 {
		t.Errorf("albedo slot at 8400 = %d, want 7", got)
	}

	tests := []struct {
		name   string
		offset int
		want   float32
	}{
		{"albedo.a", 12, 0.4},
		{"view translation x", 16 + 12*4, 1},
		{"proj translation y", 80 + 13*4, 2},
		{"model translation z", 144 + 14*4, 3},
		{"joint 0 scale", 208, 4},
		{"joint 127 scale", 208 + 127*64, 5},
	}
	for _, tt := range tests {
		if got := common.Float32At(buf, tt.offset); got != tt.want {
			t.Errorf("%s at %d = %v, want %v", tt.name, tt.offset, got, tt.want)
		}
	}
}

func TestNewUniformSetRejectsShallowRing(t *testing.T) {
	if _, err := NewUniformSet(1); err == nil {
		t.Error("NewUniformSet(1) error = nil, want error")
	}
	if _, err := NewUniformSet(2, WithRecordAlignment(100)); err == nil {
		t.Error("NewUniformSet with alignment 100 error = nil, want error")
	}
}

func TestRecordStride(t *testing.T) {
	u := mustSet(t, 2, WithRecordsPerFrame(4))
	if got := u.RecordStride(); got != 8448 {
		t.Errorf("RecordStride() = %d, want 8448", got)
	}
	if got := u.BufferSize(); got != 4*8448 {
		t.Errorf("BufferSize() = %d, want %d", got, 4*8448)
	}
}

func TestAcquireUsesFrameModuloDepth(t *testing.T) {
	u := mustSet(t, 3)
	ctx := context.Background()
	for frame := uint64(1); frame <= 7; frame++ {
		r, err := u.AcquireForFrame(ctx, frame)
		if err != nil {
			t.Fatalf("AcquireForFrame(%d) error = %v", frame, err)
		}
		if got, want := r.RingSlot(), int(frame%3); got != want {
			t.Errorf("frame %d ring slot = %d, want %d", frame, got, want)
		}
		if err := u.Submitted(frame, SignaledFence()); err != nil {
			t.Fatalf("Submitted(%d) error = %v", frame, err)
		}
	}
}

func TestAcquireBlocksUntilFenceSignals(t *testing.T) {
	u := mustSet(t, 2)
	ctx := context.Background()

	if _, err := u.AcquireForFrame(ctx, 0); err != nil {
		t.Fatal(err)
	}
	fence := NewChanFence()
	if err := u.Submitted(0, fence); err != nil {
		t.Fatal(err)
	}
	if _, err := u.AcquireForFrame(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := u.Submitted(1, SignaledFence()); err != nil {
		t.Fatal(err)
	}

	acquired := make(chan error, 1)
	go func() {
		_, err := u.AcquireForFrame(ctx, 2)
		acquired <- err
	}()

	select {
	case err := <-acquired:
		t.Fatalf("AcquireForFrame(2) returned %v before frame 0's fence signalled", err)
	case <-time.After(20 * time.Millisecond):
	}

	fence.Signal()
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("AcquireForFrame(2) error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AcquireForFrame(2) still blocked after the fence signalled")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	u := mustSet(t, 2)
	ctx := context.Background()
	u.AcquireForFrame(ctx, 0)
	u.Submitted(0, NewChanFence())
	u.AcquireForFrame(ctx, 1)
	u.Submitted(1, SignaledFence())

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := u.AcquireForFrame(cctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AcquireForFrame error = %v, want context.DeadlineExceeded", err)
	}
}

func TestAcquireStaleFrames(t *testing.T) {
	u := mustSet(t, 2)
	ctx := context.Background()
	if _, err := u.AcquireForFrame(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := u.AcquireForFrame(ctx, 4); !errors.Is(err, common.ErrStaleFrameResource) {
		t.Errorf("re-acquiring frame 4 error = %v, want ErrStaleFrameResource", err)
	}
	if _, err := u.AcquireForFrame(ctx, 6); !errors.Is(err, common.ErrStaleFrameResource) {
		t.Errorf("acquiring frame 6 while frame 4 records in the same slot error = %v, want ErrStaleFrameResource", err)
	}
	u.Abandon(4)
	if _, err := u.AcquireForFrame(ctx, 6); err != nil {
		t.Errorf("acquiring frame 6 after abandoning frame 4 error = %v", err)
	}
}

func TestFrameCompleted(t *testing.T) {
	u := mustSet(t, 2)
	ctx := context.Background()
	if !u.FrameCompleted(0) {
		t.Error("FrameCompleted before any acquire = false, want true")
	}

	u.AcquireForFrame(ctx, 1)
	if u.FrameCompleted(1) {
		t.Error("recording frame reported complete")
	}
	fence := NewChanFence()
	u.Submitted(1, fence)
	if u.FrameCompleted(1) {
		t.Error("in-flight frame reported complete")
	}
	if u.FrameCompleted(2) {
		t.Error("future frame reported complete")
	}
	fence.Signal()
	if !u.FrameCompleted(1) {
		t.Error("signalled frame reported incomplete")
	}

	u.AcquireForFrame(ctx, 2)
	u.Abandon(2)
	if !u.FrameCompleted(2) {
		t.Error("abandoned frame reported incomplete")
	}
}

func TestAbandonedFrameWaitsForEarlierSubmissions(t *testing.T) {
	u := mustSet(t, 3)
	ctx := context.Background()

	fences := []*ChanFence{NewChanFence(), NewChanFence()}
	for i, f := range fences {
		if _, err := u.AcquireForFrame(ctx, uint64(i)); err != nil {
			t.Fatal(err)
		}
		if err := u.Submitted(uint64(i), f); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := u.AcquireForFrame(ctx, 2); err != nil {
		t.Fatal(err)
	}
	u.Abandon(2)

	tests := []struct {
		name   string
		signal int
		want   [3]bool
	}{
		{"nothing signalled", -1, [3]bool{false, false, false}},
		{"frame 0 signalled", 0, [3]bool{true, false, false}},
		{"frame 1 signalled", 1, [3]bool{true, true, true}},
	}
	for _, tt := range tests {
		if tt.signal >= 0 {
			fences[tt.signal].Signal()
		}
		for frame, want := range tt.want {
			if got := u.FrameCompleted(uint64(frame)); got != want {
				t.Errorf("%s: FrameCompleted(%d) = %v, want %v", tt.name, frame, got, want)
			}
		}
	}
}

func TestSkippedFrameWaitsForEarlierSubmissions(t *testing.T) {
	u := mustSet(t, 3)
	ctx := context.Background()

	fence := NewChanFence()
	u.AcquireForFrame(ctx, 1)
	u.Submitted(1, fence)
	// frame 2 is never recorded
	u.AcquireForFrame(ctx, 3)
	u.Submitted(3, SignaledFence())

	if u.FrameCompleted(2) {
		t.Error("FrameCompleted(2) = true while frame 1 is in flight")
	}
	fence.Signal()
	if !u.FrameCompleted(2) {
		t.Error("FrameCompleted(2) = false after frame 1 signalled")
	}
}

func TestRegionRecordsAndFlush(t *testing.T) {
	u := mustSet(t, 2, WithRecordsPerFrame(2))
	r, err := u.AcquireForFrame(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	proj := mgl32.Ortho(-1, 1, -1, 1, 0, 1)
	r.SetCamera(view, proj)

	a, err := r.Push(mgl32.Ident4(), mgl32.Vec4{1, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Push(mgl32.Translate3D(1, 0, 0), mgl32.Vec4{1, 0, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if b.Offset != u.RecordStride() {
		t.Errorf("second record offset = %d, want %d", b.Offset, u.RecordStride())
	}
	if _, err := r.Push(mgl32.Ident4(), mgl32.Vec4{}); !errors.Is(err, common.ErrCapacityExceeded) {
		t.Errorf("third Push error = %v, want ErrCapacityExceeded", err)
	}

	var binder recordingBinder
	r.Bind(&binder, b)
	if binder.slot != r.RingSlot() || binder.offset != b.Offset {
		t.Errorf("Bind = (%d, %d), want (%d, %d)", binder.slot, binder.offset, r.RingSlot(), b.Offset)
	}

	dev := &recordingDevice{}
	if err := r.Flush(dev); err != nil {
		t.Fatalf("Flush error = %v", err)
	}
	data := dev.writes[r.RingSlot()]
	if got, want := len(data), 2*int(u.RecordStride()); got != want {
		t.Fatalf("flushed %d bytes, want %d", got, want)
	}
	if got := common.Mat4At(data, int(a.Offset)+16); got != view {
		t.Errorf("record a view = %v, want %v", got, view)
	}
	if got := common.Float32At(data, int(b.Offset)+144+12*4); got != 1 {
		t.Errorf("record b model translation x = %v, want 1", got)
	}
	if got := common.Float32At(data, int(b.Offset)+4); got != 0 {
		t.Errorf("record b albedo.g = %v, want 0", got)
	}
}

func TestSetAlbedo(t *testing.T) {
	u := mustSet(t, 2)
	r, _ := u.AcquireForFrame(context.Background(), 1)
	flat, _ := r.Push(mgl32.Ident4(), mgl32.Vec4{1, 1, 1, 1})
	textured, _ := r.Push(mgl32.Ident4(), mgl32.Vec4{1, 1, 1, 1})

	if err := r.SetAlbedo(textured, 3); err != nil {
		t.Fatalf("SetAlbedo() error = %v", err)
	}
	if err := r.SetAlbedo(Record{Index: 5}, 1); err == nil {
		t.Error("SetAlbedo on a foreign record error = nil, want error")
	}

	dev := &recordingDevice{}
	if err := r.Flush(dev); err != nil {
		t.Fatal(err)
	}
	data := dev.writes[r.RingSlot()]
	if got := common.Uint32At(data, int(flat.Offset)+8400); got != NoAlbedo {
		t.Errorf("untextured record slot = %#x, want NoAlbedo", got)
	}
	if got := common.Uint32At(data, int(textured.Offset)+8400); got != 3 {
		t.Errorf("textured record slot = %d, want 3", got)
	}
}

func TestSetPaletteOverwritesWholePalette(t *testing.T) {
	u := mustSet(t, 2, WithValidation(true))
	r, _ := u.AcquireForFrame(context.Background(), 1)
	rec, _ := r.Push(mgl32.Ident4(), mgl32.Vec4{1, 1, 1, 1})

	full := make(JointPalette, MaxJoints)
	for i := range full {
		full[i] = mgl32.Scale3D(2, 2, 2)
	}
	if err := r.SetPalette(rec, full); err != nil {
		t.Fatal(err)
	}
	if err := r.SetPalette(rec, JointPalette{mgl32.Translate3D(1, 2, 3)}); err != nil {
		t.Fatal(err)
	}

	got := r.Uniforms(rec).Joints
	if got[0] != mgl32.Translate3D(1, 2, 3) {
		t.Errorf("joint 0 = %v, want translation", got[0])
	}
	for i := 1; i < MaxJoints; i++ {
		if got[i] != mgl32.Ident4() {
			t.Fatalf("joint %d = %v, want identity after a shorter palette", i, got[i])
		}
	}

	if err := r.SetPalette(rec, make(JointPalette, MaxJoints+1)); !errors.Is(err, ErrPaletteTooLarge) {
		t.Errorf("oversized palette error = %v, want ErrPaletteTooLarge", err)
	}
	bad := JointPalette{mgl32.Mat4{float32(math.NaN())}}
	if err := r.SetPalette(rec, bad); err == nil {
		t.Error("non-finite palette accepted with validation on")
	}
}

func TestRegionRejectsWritesAfterSubmit(t *testing.T) {
	u := mustSet(t, 2)
	r, _ := u.AcquireForFrame(context.Background(), 1)
	u.Submitted(1, SignaledFence())
	if _, err := r.Push(mgl32.Ident4(), mgl32.Vec4{}); !errors.Is(err, common.ErrStaleFrameResource) {
		t.Errorf("Push after submit error = %v, want ErrStaleFrameResource", err)
	}
	if err := r.Flush(&recordingDevice{}); !errors.Is(err, common.ErrStaleFrameResource) {
		t.Errorf("Flush after submit error = %v, want ErrStaleFrameResource", err)
	}
}
