package overlay

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bindless"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
	"github.com/go-gl/mathgl/mgl32"
)

type fakeTracker struct {
	current uint64
	done    map[uint64]bool
}

func (f *fakeTracker) CurrentFrame() uint64 { return f.current }

func (f *fakeTracker) FrameCompleted(frame uint64) bool { return f.done[frame] }

// fakePass records every call; drawOffsets holds the uniform offset bound for each draw.
type fakePass struct {
	geometry        []byte
	capacity        uint64
	uniforms        []byte
	uniformCapacity uint64
	geometryUploads int
	uniformUploads  int
	bound           []uint32
	scissors        []Scissor
	draws           []Span
	drawOffsets     []uint32
	uploadErr       error
}

func (p *fakePass) UploadOverlayGeometry(data []byte, capacity uint64) error {
	if p.uploadErr != nil {
		return p.uploadErr
	}
	p.geometry = append([]byte(nil), data...)
	p.capacity = capacity
	p.geometryUploads++
	return nil
}

func (p *fakePass) UploadOverlayUniforms(data []byte, capacity uint64) error {
	p.uniforms = append([]byte(nil), data...)
	p.uniformCapacity = capacity
	p.uniformUploads++
	return nil
}

func (p *fakePass) SetOverlayPipeline(offset uint32) { p.bound = append(p.bound, offset) }
func (p *fakePass) SetScissor(s Scissor)             { p.scissors = append(p.scissors, s) }

func (p *fakePass) DrawOverlay(span Span) {
	p.draws = append(p.draws, span)
	p.drawOffsets = append(p.drawOffsets, p.bound[len(p.bound)-1])
}

type harness struct {
	dev     *upload.MemoryDevice
	table   bindless.Table
	tracker *fakeTracker
	comp    Compositor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dev := upload.NewMemoryDevice()
	tracker := &fakeTracker{done: make(map[uint64]bool)}
	table, err := bindless.NewTable(dev, tracker, bindless.WithCapacity(4))
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return &harness{
		dev:     dev,
		table:   table,
		tracker: tracker,
		comp:    NewCompositor(upload.NewUploader(dev, true), table, tracker),
	}
}

func quad(tex TextureID, clip common.Rect) Primitive {
	white := [4]uint8{255, 255, 255, 255}
	return Primitive{
		Clip:    clip,
		Texture: tex,
		Vertices: []Vertex{
			{Pos: mgl32.Vec2{0, 0}, Color: white},
			{Pos: mgl32.Vec2{10, 0}, UV: mgl32.Vec2{1, 0}, Color: white},
			{Pos: mgl32.Vec2{0, 10}, UV: mgl32.Vec2{0, 1}, Color: white},
		},
		Indices: []uint32{0, 1, 2},
	}
}

func TestSRGBToLinear(t *testing.T) {
	if got := SRGBToLinear(0); got != 0 {
		t.Errorf("SRGBToLinear(0) = %v, want 0", got)
	}
	if got := SRGBToLinear(1); !mgl32.FloatEqualThreshold(got, 1, 1e-5) {
		t.Errorf("SRGBToLinear(1) = %v, want 1", got)
	}
	if got, want := SRGBToLinear(0.04), float32(0.04/12.92); !mgl32.FloatEqualThreshold(got, want, 1e-6) {
		t.Errorf("SRGBToLinear(0.04) = %v, want %v", got, want)
	}
	prev := SRGBToLinear(0)
	for i := 1; i <= 1000; i++ {
		c := float32(i) / 1000
		got := SRGBToLinear(c)
		if got < prev {
			t.Fatalf("SRGBToLinear not monotonic at %v: %v < %v", c, got, prev)
		}
		prev = got
	}
}

func TestDecodeColorKeepsAlpha(t *testing.T) {
	got := DecodeColor([4]uint8{255, 0, 0, 128})
	if !got.Vec3().ApproxEqualThreshold(mgl32.Vec3{1, 0, 0}, 1e-5) {
		t.Errorf("DecodeColor rgb = %v, want (1, 0, 0)", got.Vec3())
	}
	if want := float32(128) / 255; got[3] != want {
		t.Errorf("DecodeColor alpha = %v, want %v", got[3], want)
	}
}

func TestToNDC(t *testing.T) {
	inv := InverseDimensions(800, 600, 2)
	tests := []struct {
		p, want mgl32.Vec2
	}{
		{mgl32.Vec2{0, 0}, mgl32.Vec2{-1, 1}},
		{mgl32.Vec2{400, 300}, mgl32.Vec2{1, -1}},
		{mgl32.Vec2{200, 150}, mgl32.Vec2{0, 0}},
	}
	for _, tt := range tests {
		if got := ToNDC(tt.p, inv); !got.ApproxEqual(tt.want) {
			t.Errorf("ToNDC(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestPackColorMatchesUnpackOrder(t *testing.T) {
	if got := PackColor([4]uint8{1, 2, 3, 4}); got != 0x04030201 {
		t.Errorf("PackColor = %#x, want 0x04030201", got)
	}
}

func TestScissorFor(t *testing.T) {
	tests := []struct {
		name string
		clip common.Rect
		want Scissor
	}{
		{"scaled", common.Rect{Left: 10, Right: 20, Top: 5, Bottom: 15}, Scissor{X: 20, Y: 10, Width: 20, Height: 20}},
		{"clamped", common.Rect{Left: -10, Right: 1000, Top: -5, Bottom: 1000}, Scissor{X: 0, Y: 0, Width: 200, Height: 100}},
		{"outside", common.Rect{Left: 500, Right: 600, Top: 0, Bottom: 10}, Scissor{X: 200, Y: 0, Width: 0, Height: 20}},
		{"inverted", common.Rect{Left: 20, Right: 10, Top: 0, Bottom: 10}, Scissor{X: 40, Y: 0, Width: 0, Height: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScissorFor(tt.clip, 2, 200, 100); got != tt.want {
				t.Errorf("ScissorFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGrowCapacity(t *testing.T) {
	tests := []struct {
		current, needed, want uint64
	}{
		{0, 10, MinGeometryCapacity},
		{MinGeometryCapacity, MinGeometryCapacity + 1, 2 * MinGeometryCapacity},
		{4 * MinGeometryCapacity, 100, 4 * MinGeometryCapacity},
		{MinGeometryCapacity, 5 * MinGeometryCapacity, 8 * MinGeometryCapacity},
	}
	for _, tt := range tests {
		if got := GrowCapacity(tt.current, tt.needed); got != tt.want {
			t.Errorf("GrowCapacity(%d, %d) = %d, want %d", tt.current, tt.needed, got, tt.want)
		}
	}
}

func TestPackGeometry(t *testing.T) {
	prims := []Primitive{quad(1, common.Rect{}), quad(2, common.Rect{})}
	buf, spans := PackGeometry(nil, prims, func(id TextureID) uint32 { return uint32(id) * 10 })
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	for i, s := range spans {
		if s.VertexOffset%4 != 0 || s.IndexOffset%4 != 0 {
			t.Errorf("span %d offsets %d/%d not 4-byte aligned", i, s.VertexOffset, s.IndexOffset)
		}
		if s.VertexSize != 3*GPUOverlayVertexSize || s.IndexCount != 3 {
			t.Errorf("span %d = %+v, want 3 vertices and 3 indices", i, s)
		}
		if got := common.Uint32At(buf, int(s.VertexOffset)+20); got != uint32(i+1)*10 {
			t.Errorf("span %d vertex slot = %d, want %d", i, got, (i+1)*10)
		}
		if got := common.Uint32At(buf, int(s.IndexOffset)+8); got != 2 {
			t.Errorf("span %d third index = %d, want 2", i, got)
		}
	}
	if spans[1].VertexOffset != spans[0].IndexOffset+spans[0].IndexSize() {
		t.Errorf("second span starts at %d, want %d", spans[1].VertexOffset, spans[0].IndexOffset+spans[0].IndexSize())
	}

	// packing onto existing geometry keeps it and offsets the new spans past it
	more, next := PackGeometry(buf, prims[:1], func(TextureID) uint32 { return 0 })
	if len(next) != 1 {
		t.Fatalf("spans = %d, want 1", len(next))
	}
	if next[0].VertexOffset < uint64(len(buf)) {
		t.Errorf("appended span starts at %d inside the existing %d bytes", next[0].VertexOffset, len(buf))
	}
	if got := common.Uint32At(more, int(spans[1].VertexOffset)+20); got != 20 {
		t.Errorf("existing span vertex slot = %d, want 20", got)
	}
}

func TestUniformCapacity(t *testing.T) {
	tests := []struct {
		lists int
		want  uint64
	}{
		{0, MinUniformRecords * GPUOverlayUniformsStride},
		{4, 4 * GPUOverlayUniformsStride},
		{5, 8 * GPUOverlayUniformsStride},
		{17, 32 * GPUOverlayUniformsStride},
	}
	for _, tt := range tests {
		if got := UniformCapacity(tt.lists); got != tt.want {
			t.Errorf("UniformCapacity(%d) = %d, want %d", tt.lists, got, tt.want)
		}
	}
}

func TestUpdateTexturesPublishesSlots(t *testing.T) {
	h := newHarness(t)
	err := h.comp.UpdateTextures(TexturesDelta{Set: []TextureSet{
		{ID: 7, Delta: ImageDelta{Width: 2, Height: 1, Format: common.ImageFormatR8Unorm, Pixels: []byte{0, 255}}},
	}})
	if err != nil {
		t.Fatalf("UpdateTextures() error = %v", err)
	}
	slot := h.comp.Slot(7)
	if slot != 0 {
		t.Fatalf("Slot(7) = %d, want 0", slot)
	}
	img, ok := h.dev.SlotImage(slot)
	if !ok {
		t.Fatal("slot 0 has no bound image")
	}
	if img.Format != common.ImageFormatRGBA8Srgb {
		t.Errorf("font image format = %v, want RGBA8Srgb", img.Format)
	}
	if got := img.Pixels[4:8]; got[0] != 255 || got[3] != 255 {
		t.Errorf("second texel = %v, want premultiplied white", got)
	}
	if h.comp.Slot(99) != bindless.Sentinel {
		t.Errorf("Slot(unknown) = %d, want sentinel", h.comp.Slot(99))
	}

	origin := [2]uint32{0, 0}
	err = h.comp.UpdateTextures(TexturesDelta{Set: []TextureSet{
		{ID: 7, Delta: ImageDelta{Origin: &origin, Width: 1, Height: 1, Format: common.ImageFormatR8Unorm, Pixels: []byte{128}}},
	}})
	if err != nil {
		t.Fatalf("partial UpdateTextures() error = %v", err)
	}
	if img.Pixels[0] != 128 {
		t.Errorf("partial update texel = %d, want 128", img.Pixels[0])
	}
	if h.comp.Slot(7) != slot {
		t.Errorf("partial update moved slot to %d", h.comp.Slot(7))
	}
}

func TestPartialUpdateOfUnknownTexture(t *testing.T) {
	h := newHarness(t)
	origin := [2]uint32{1, 1}
	err := h.comp.UpdateTextures(TexturesDelta{Set: []TextureSet{
		{ID: 3, Delta: ImageDelta{Origin: &origin, Width: 1, Height: 1, Format: common.ImageFormatR8Unorm, Pixels: []byte{1}}},
	}})
	if !errors.Is(err, ErrUnknownTexture) {
		t.Errorf("UpdateTextures() error = %v, want ErrUnknownTexture", err)
	}
}

func TestFreeTexturesDefersRelease(t *testing.T) {
	h := newHarness(t)
	set := TexturesDelta{Set: []TextureSet{
		{ID: 1, Delta: ImageDelta{Width: 1, Height: 1, Format: common.ImageFormatRGBA8Srgb, Pixels: []byte{1, 2, 3, 4}}},
	}}
	if err := h.comp.UpdateTextures(set); err != nil {
		t.Fatalf("UpdateTextures() error = %v", err)
	}
	handle, _ := h.table.Handle(0)

	h.tracker.current = 5
	h.comp.FreeTextures(TexturesDelta{Free: []TextureID{1, 42}})
	if h.comp.Slot(1) != bindless.Sentinel {
		t.Errorf("Slot(1) after free = %d, want sentinel", h.comp.Slot(1))
	}
	if n := h.comp.Collect(); n != 0 {
		t.Errorf("Collect() before completion released %d, want 0", n)
	}
	if _, ok := h.dev.Image(handle); !ok {
		t.Fatal("image released while its frame is in flight")
	}

	h.tracker.done[5] = true
	if n := h.comp.Collect(); n != 1 {
		t.Errorf("Collect() after completion released %d, want 1", n)
	}
	if _, ok := h.dev.Image(handle); ok {
		t.Error("image still resident after Collect")
	}
}

func TestRender(t *testing.T) {
	h := newHarness(t)
	pass := &fakePass{}
	list := DrawList{
		PixelsPerPoint: 2,
		Primitives: []Primitive{
			quad(1, common.Rect{Left: 0, Right: 50, Top: 0, Bottom: 50}),
			quad(1, common.Rect{Left: 500, Right: 600, Top: 0, Bottom: 50}),
			quad(1, common.Rect{Left: 10, Right: 20, Top: 10, Bottom: 20}),
		},
	}
	n, err := h.comp.Render(pass, []DrawList{list}, 200, 100)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if n != 2 || len(pass.draws) != 2 {
		t.Errorf("Render() issued %d draws (pass saw %d), want 2", n, len(pass.draws))
	}
	if pass.capacity < uint64(len(pass.geometry)) {
		t.Errorf("geometry capacity %d below data size %d", pass.capacity, len(pass.geometry))
	}
	inv := mgl32.Vec2{common.Float32At(pass.uniforms, 0), common.Float32At(pass.uniforms, 4)}
	if want := InverseDimensions(200, 100, 2); inv != want {
		t.Errorf("uniform inv_dims = %v, want %v", inv, want)
	}
	if got := common.Uint32At(pass.geometry, 20); got != bindless.Sentinel {
		t.Errorf("vertex slot for unknown texture = %#x, want sentinel", got)
	}
	last := pass.scissors[len(pass.scissors)-1]
	if last != (Scissor{Width: 200, Height: 100}) {
		t.Errorf("final scissor = %+v, want full framebuffer", last)
	}
}

func TestRenderEmpty(t *testing.T) {
	h := newHarness(t)
	pass := &fakePass{}
	if n, err := h.comp.Render(pass, []DrawList{{}}, 200, 100); n != 0 || err != nil {
		t.Errorf("Render(empty) = %d, %v, want 0, nil", n, err)
	}
	if pass.geometry != nil || pass.uniforms != nil {
		t.Error("Render(empty) touched the pass")
	}
}

func TestRenderSeveralListsShareOneUpload(t *testing.T) {
	h := newHarness(t)
	pass := &fakePass{}
	full := common.Rect{Left: 0, Right: 100, Top: 0, Bottom: 100}
	lists := []DrawList{
		{PixelsPerPoint: 1, Primitives: []Primitive{quad(1, full), quad(1, full)}},
		{},
		{PixelsPerPoint: 2, Primitives: []Primitive{quad(1, full)}},
	}

	n, err := h.comp.Render(pass, lists, 200, 100)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("Render() issued %d draws, want 3", n)
	}
	if pass.geometryUploads != 1 || pass.uniformUploads != 1 {
		t.Errorf("uploads = %d geometry, %d uniforms, want 1 each", pass.geometryUploads, pass.uniformUploads)
	}

	// no two draws may read the same bytes of the shared geometry buffer
	type interval struct{ lo, hi uint64 }
	var used []interval
	for _, s := range pass.draws {
		for _, iv := range []interval{
			{s.VertexOffset, s.VertexOffset + s.VertexSize},
			{s.IndexOffset, s.IndexOffset + s.IndexSize()},
		} {
			if iv.hi > uint64(len(pass.geometry)) {
				t.Errorf("span %+v reaches past the %d uploaded bytes", s, len(pass.geometry))
			}
			for _, u := range used {
				if iv.lo < u.hi && u.lo < iv.hi {
					t.Errorf("range [%d, %d) overlaps [%d, %d)", iv.lo, iv.hi, u.lo, u.hi)
				}
			}
			used = append(used, iv)
		}
	}

	// the empty list is dropped, so the second list with primitives uses record 1
	wantOffsets := []uint32{0, 0, GPUOverlayUniformsStride}
	for i, want := range wantOffsets {
		if pass.drawOffsets[i] != want {
			t.Errorf("draw %d uniform offset = %d, want %d", i, pass.drawOffsets[i], want)
		}
	}
	if len(pass.uniforms) != 2*GPUOverlayUniformsStride {
		t.Fatalf("uniform data = %d bytes, want %d", len(pass.uniforms), 2*GPUOverlayUniformsStride)
	}
	if pass.uniformCapacity < uint64(len(pass.uniforms)) {
		t.Errorf("uniform capacity %d below data size %d", pass.uniformCapacity, len(pass.uniforms))
	}
	for i, scale := range []float32{1, 2} {
		off := i * GPUOverlayUniformsStride
		inv := mgl32.Vec2{common.Float32At(pass.uniforms, off), common.Float32At(pass.uniforms, off+4)}
		if want := InverseDimensions(200, 100, scale); inv != want {
			t.Errorf("record %d inv_dims = %v, want %v", i, inv, want)
		}
	}
}
