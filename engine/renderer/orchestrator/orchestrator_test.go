package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bindless"
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/Carmen-Shannon/lumen/engine/renderer/overlay"
	"github.com/Carmen-Shannon/lumen/engine/renderer/skinning"
	"github.com/Carmen-Shannon/lumen/engine/renderer/sprite"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
	"github.com/go-gl/mathgl/mgl32"
)

type spriteUpload struct {
	data  []byte
	count uint32
}

type fakeScenePass struct {
	events    []string
	uploads   []spriteUpload
	draws     [][2]uint32
	meshDraws []common.MeshHandle
	offsets   []uint32
	ended     bool
}

func (p *fakeScenePass) BindFrameUniforms(_ int, offset uint32) {
	p.offsets = append(p.offsets, offset)
}

func (p *fakeScenePass) SetMeshPipeline(kind skinning.MeshKind) {
	p.events = append(p.events, "mesh_pipeline:"+kind.String())
}

func (p *fakeScenePass) DrawMesh(handle common.MeshHandle, _ uint32) {
	p.events = append(p.events, "draw_mesh")
	p.meshDraws = append(p.meshDraws, handle)
}

func (p *fakeScenePass) UploadSpriteInstances(data []byte, count uint32) error {
	p.uploads = append(p.uploads, spriteUpload{data: append([]byte(nil), data...), count: count})
	return nil
}

func (p *fakeScenePass) BindTextureTable() {
	p.events = append(p.events, "texture_table")
}

func (p *fakeScenePass) DrawSprites(vertexCount, instanceCount uint32) {
	p.events = append(p.events, "draw_sprites")
	p.draws = append(p.draws, [2]uint32{vertexCount, instanceCount})
}

func (p *fakeScenePass) SetSpritePipeline() {
	p.events = append(p.events, "sprite_pipeline")
}

func (p *fakeScenePass) End() { p.ended = true }

type fakeOverlayPass struct {
	geometry       []byte
	uniforms       []byte
	uploads        int
	offset         uint32
	spans          []overlay.Span
	uniformOffsets []uint32
	ended          bool
}

func (p *fakeOverlayPass) UploadOverlayGeometry(data []byte, _ uint64) error {
	p.geometry = append([]byte(nil), data...)
	p.uploads++
	return nil
}

func (p *fakeOverlayPass) UploadOverlayUniforms(data []byte, _ uint64) error {
	p.uniforms = append([]byte(nil), data...)
	return nil
}

func (p *fakeOverlayPass) SetOverlayPipeline(offset uint32) { p.offset = offset }
func (p *fakeOverlayPass) SetScissor(overlay.Scissor)       {}
func (p *fakeOverlayPass) End()                             { p.ended = true }

func (p *fakeOverlayPass) DrawOverlay(span overlay.Span) {
	p.spans = append(p.spans, span)
	p.uniformOffsets = append(p.uniformOffsets, p.offset)
}

type fakeDevice struct {
	*upload.MemoryDevice

	autoSignal bool
	beginErr   error

	uniformWrites int
	uniforms      []byte
	meshes        map[common.MeshHandle]skinning.MeshKind
	scene         *fakeScenePass
	overlay       *fakeOverlayPass
	fences        []*frame.ChanFence
	open          bool
	discarded     int
	presented     int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		MemoryDevice: upload.NewMemoryDevice(),
		autoSignal:   true,
		meshes:       make(map[common.MeshHandle]skinning.MeshKind),
	}
}

func (d *fakeDevice) WriteFrameUniforms(_ int, data []byte) error {
	d.uniformWrites++
	d.uniforms = append([]byte(nil), data...)
	return nil
}

func (d *fakeDevice) CreateMesh(handle common.MeshHandle, kind skinning.MeshKind, _ []byte, _ []uint32) error {
	d.meshes[handle] = kind
	return nil
}

func (d *fakeDevice) ReleaseMesh(handle common.MeshHandle) {
	delete(d.meshes, handle)
}

func (d *fakeDevice) BeginFrame() (uint32, uint32, error) {
	if d.beginErr != nil {
		return 0, 0, d.beginErr
	}
	d.open = true
	return 640, 480, nil
}

func (d *fakeDevice) BeginScenePass() ScenePass {
	d.scene = &fakeScenePass{}
	return d.scene
}

func (d *fakeDevice) BeginOverlayPass() OverlayPass {
	d.overlay = &fakeOverlayPass{}
	return d.overlay
}

func (d *fakeDevice) Submit() (frame.Fence, error) {
	d.open = false
	f := frame.NewChanFence()
	if d.autoSignal {
		f.Signal()
	}
	d.fences = append(d.fences, f)
	return f, nil
}

func (d *fakeDevice) Present() { d.presented++ }

func (d *fakeDevice) DiscardFrame() {
	if d.open {
		d.discarded++
	}
	d.open = false
}

func newOrchestrator(t *testing.T, dev *fakeDevice, src SceneSource, options ...OrchestratorBuilderOption) Orchestrator {
	t.Helper()
	opts := append([]OrchestratorBuilderOption{WithTableCapacity(4), WithWorkers(2), WithValidation(true)}, options...)
	o, err := NewOrchestrator(dev, src, opts...)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

func staticSnapshot(s Snapshot) SceneSource {
	return SceneSourceFunc(func(uint64) Snapshot { return s })
}

func rgbaUpload(h common.TextureHandle) TextureUpload {
	return TextureUpload{Image: upload.ImageUpload{
		Handle: h,
		Format: common.ImageFormatRGBA8Srgb,
		Width:  1,
		Height: 1,
		Pixels: []byte{255, 0, 0, 255},
	}}
}

// instanceAt decodes the slot, UV box and tint of instance i from packed instance data.
func instanceAt(data []byte, i int) (uint32, mgl32.Vec2, mgl32.Vec4) {
	base := i * sprite.GPUSpriteInstanceSize
	uv := mgl32.Vec2{common.Float32At(data, base+16), common.Float32At(data, base+24)}
	tint := mgl32.Vec4{
		common.Float32At(data, base+40),
		common.Float32At(data, base+44),
		common.Float32At(data, base+48),
		common.Float32At(data, base+52),
	}
	return common.Uint32At(data, base+36), uv, tint
}

func TestRenderFrameTexturedAndFlatSprite(t *testing.T) {
	dev := newFakeDevice()
	tex := common.NewTextureHandle()
	flatTint := mgl32.Vec4{0.2, 0.4, 0.6, 1}

	textured := NewSpriteDraw(common.Rect{Left: -1, Right: 1, Top: 1, Bottom: -1}, tex)
	flat := NewSpriteDraw(common.Rect{Left: 2, Right: 3, Top: 1, Bottom: 0}, common.TextureHandle{})
	flat.Tint = flatTint

	o := newOrchestrator(t, dev, staticSnapshot(Snapshot{
		Camera:   Camera{View: mgl32.Ident4(), Projection: mgl32.Ident4()},
		Uploads:  []TextureUpload{rgbaUpload(tex)},
		Requests: []DrawRequest{textured, flat},
	}))

	stats, err := o.RenderFrame(context.Background())
	if err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	if slot, ok := o.Table().Lookup(tex); !ok || slot != 0 {
		t.Fatalf("texture slot = %d, %v, want 0, true", slot, ok)
	}
	if stats.SpriteDraws != 1 || stats.SpriteInstances != 2 {
		t.Errorf("stats = %+v, want 1 draw of 2 instances", stats)
	}
	scene := dev.scene
	if len(scene.draws) != 1 || scene.draws[0] != [2]uint32{sprite.VerticesPerSprite, 2} {
		t.Fatalf("draws = %v, want one draw of (6, 2)", scene.draws)
	}

	data := scene.uploads[0].data
	slot0, _, _ := instanceAt(data, 0)
	if slot0 != 0 {
		t.Errorf("textured sprite slot = %d, want 0", slot0)
	}
	slot1, uv, tint := instanceAt(data, 1)
	if slot1 != bindless.Sentinel {
		t.Fatalf("flat sprite slot = %#x, want sentinel", slot1)
	}
	sampled := false
	got := sprite.ShadeFragment(slot1, uv, tint, func(uint32, mgl32.Vec2) mgl32.Vec4 {
		sampled = true
		return mgl32.Vec4{}
	})
	if sampled {
		t.Error("sentinel sprite sampled the texture array")
	}
	if got != flatTint {
		t.Errorf("flat sprite colour = %v, want %v", got, flatTint)
	}

	if !scene.ended || dev.presented != 1 || dev.uniformWrites != 1 {
		t.Errorf("frame lifecycle: ended=%v presented=%d uniform writes=%d", scene.ended, dev.presented, dev.uniformWrites)
	}
	if o.FrameIndex() != 1 {
		t.Errorf("FrameIndex() = %d, want 1", o.FrameIndex())
	}
}

func TestRenderFrameFlushesFullBatches(t *testing.T) {
	dev := newFakeDevice()
	var reqs []DrawRequest
	for i := 0; i < 5; i++ {
		reqs = append(reqs, NewSpriteDraw(common.Rect{Left: float32(i), Right: float32(i) + 1, Top: 1, Bottom: 0}, common.TextureHandle{}))
	}
	o := newOrchestrator(t, dev, staticSnapshot(Snapshot{Requests: reqs}), WithBatchCapacity(2))

	stats, err := o.RenderFrame(context.Background())
	if err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	if stats.SpriteDraws != 3 {
		t.Errorf("SpriteDraws = %d, want 3", stats.SpriteDraws)
	}
	want := [][2]uint32{{6, 2}, {6, 2}, {6, 1}}
	for i, d := range dev.scene.draws {
		if d != want[i] {
			t.Errorf("draw %d = %v, want %v", i, d, want[i])
		}
	}
}

func TestRenderFrameOrdersLayersFarFirst(t *testing.T) {
	dev := newFakeDevice()
	near := NewSpriteDraw(common.Rect{Left: 0, Right: 1, Top: 1, Bottom: 0}, common.TextureHandle{})
	far := near
	far.Layer = 9
	tiles := TileMapDraw{
		Map:       sprite.TileMap{Columns: 2, CellSize: mgl32.Vec2{1, 1}, Cells: []int{0, 0, sprite.EmptyCell, 0}},
		Tiles:     []TileSource{{UV: common.Rect{Left: 0, Right: 1, Top: 0, Bottom: 1}}},
		Transform: mgl32.Ident3(),
		Layer:     4,
	}
	o := newOrchestrator(t, dev, staticSnapshot(Snapshot{Requests: []DrawRequest{near, tiles, far}}))

	stats, err := o.RenderFrame(context.Background())
	if err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	if stats.SpriteInstances != 5 {
		t.Fatalf("SpriteInstances = %d, want 5", stats.SpriteInstances)
	}
	data := dev.scene.uploads[0].data
	wantLayers := []float32{9, 4, 4, 4, 0}
	for i, want := range wantLayers {
		if got := common.Float32At(data, i*sprite.GPUSpriteInstanceSize+32); got != want {
			t.Errorf("instance %d layer = %v, want %v", i, got, want)
		}
	}
}

func TestRenderFrameMeshes(t *testing.T) {
	dev := newFakeDevice()
	var reqs []DrawRequest
	o := newOrchestrator(t, dev, SceneSourceFunc(func(uint64) Snapshot { return Snapshot{Requests: reqs} }))

	vertices := []skinning.Vertex{{}, {}, {}}
	static, err := o.Meshes().UploadStaticMesh(vertices, []uint32{0, 1, 2})
	if err != nil {
		t.Fatalf("UploadStaticMesh() error = %v", err)
	}
	skinned, err := o.Meshes().UploadSkinnedMesh([]skinning.SkinnedVertex{{}, {}, {}}, []uint32{0, 1, 2})
	if err != nil {
		t.Fatalf("UploadSkinnedMesh() error = %v", err)
	}

	reqs = []DrawRequest{
		StaticMeshDraw{Mesh: static, Model: mgl32.Ident4(), Tint: mgl32.Vec4{1, 1, 1, 1}},
		SkinnedMeshDraw{Mesh: skinned, Model: mgl32.Ident4(), Tint: mgl32.Vec4{1, 1, 1, 1}, Palette: frame.JointPalette{mgl32.Ident4()}},
		StaticMeshDraw{Mesh: static, Model: mgl32.Translate3D(1, 0, 0), Tint: mgl32.Vec4{1, 1, 1, 1}},
	}

	stats, err := o.RenderFrame(context.Background())
	if err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	if stats.MeshDraws != 3 {
		t.Errorf("MeshDraws = %d, want 3", stats.MeshDraws)
	}
	want := []string{
		"mesh_pipeline:static", "texture_table", "draw_mesh",
		"mesh_pipeline:skinned", "texture_table", "draw_mesh",
		"mesh_pipeline:static", "texture_table", "draw_mesh",
	}
	if len(dev.scene.events) != len(want) {
		t.Fatalf("events = %v, want %v", dev.scene.events, want)
	}
	for i := range want {
		if dev.scene.events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, dev.scene.events[i], want[i])
		}
	}
	seen := map[uint32]bool{}
	for _, off := range dev.scene.offsets {
		if seen[off] {
			t.Errorf("record offset %d bound twice", off)
		}
		seen[off] = true
	}
}

func TestRenderFrameMeshTextures(t *testing.T) {
	dev := newFakeDevice()
	tex := common.NewTextureHandle()
	var reqs []DrawRequest
	o := newOrchestrator(t, dev, SceneSourceFunc(func(uint64) Snapshot {
		return Snapshot{Uploads: []TextureUpload{rgbaUpload(tex)}, Requests: reqs}
	}))
	mesh, err := o.Meshes().UploadStaticMesh([]skinning.Vertex{{}, {}, {}}, []uint32{0, 1, 2})
	if err != nil {
		t.Fatalf("UploadStaticMesh() error = %v", err)
	}
	reqs = []DrawRequest{
		StaticMeshDraw{Mesh: mesh, Model: mgl32.Ident4(), Tint: mgl32.Vec4{1, 1, 1, 1}, Texture: tex},
		StaticMeshDraw{Mesh: mesh, Model: mgl32.Ident4(), Tint: mgl32.Vec4{1, 1, 1, 1}},
		StaticMeshDraw{Mesh: mesh, Model: mgl32.Ident4(), Tint: mgl32.Vec4{1, 1, 1, 1}, Texture: common.NewTextureHandle()},
	}

	if _, err := o.RenderFrame(context.Background()); err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	slot, ok := o.Table().Lookup(tex)
	if !ok {
		t.Fatal("texture was not registered")
	}
	offsets := dev.scene.offsets
	if len(offsets) != 3 {
		t.Fatalf("bound %d records, want 3", len(offsets))
	}
	tests := []struct {
		name string
		want uint32
	}{
		{"textured", slot},
		{"no texture", bindless.Sentinel},
		{"unregistered texture", bindless.Sentinel},
	}
	for i, tt := range tests {
		if got := common.Uint32At(dev.uniforms, int(offsets[i])+8400); got != tt.want {
			t.Errorf("%s: albedo slot = %#x, want %#x", tt.name, got, tt.want)
		}
	}
}

func TestRetiredTextureReleasedAfterCompletion(t *testing.T) {
	dev := newFakeDevice()
	tex := common.NewTextureHandle()
	snaps := []Snapshot{
		{Uploads: []TextureUpload{rgbaUpload(tex)}},
		{Retired: []common.TextureHandle{tex}, Requests: []DrawRequest{NewSpriteDraw(common.Rect{Right: 1, Top: 1}, tex)}},
		{},
	}
	o := newOrchestrator(t, dev, SceneSourceFunc(func(i uint64) Snapshot { return snaps[i] }))

	if _, err := o.RenderFrame(context.Background()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	dev.autoSignal = false
	stats, err := o.RenderFrame(context.Background())
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if stats.Retired != 1 {
		t.Errorf("Retired = %d, want 1", stats.Retired)
	}
	if slot, _, _ := instanceAt(dev.scene.uploads[0].data, 0); slot != bindless.Sentinel {
		t.Errorf("retired texture drawn from slot %d, want sentinel", slot)
	}
	if _, ok := dev.Image(tex); !ok {
		t.Fatal("image released while frame 1 is in flight")
	}

	dev.fences[1].Signal()
	dev.autoSignal = true
	if _, err := o.RenderFrame(context.Background()); err != nil {
		t.Fatalf("frame 2: %v", err)
	}
	if _, ok := dev.Image(tex); ok {
		t.Error("image still resident after its last frame completed")
	}
}

func TestRenderFrameAbandonsOnFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.beginErr = errors.New("surface lost")
	o := newOrchestrator(t, dev, staticSnapshot(Snapshot{}))

	if _, err := o.RenderFrame(context.Background()); err == nil {
		t.Fatal("RenderFrame() error = nil, want surface error")
	}
	if !o.Frames().FrameCompleted(0) {
		t.Error("abandoned frame 0 is not complete")
	}

	dev.beginErr = nil
	stats, err := o.RenderFrame(context.Background())
	if err != nil {
		t.Fatalf("RenderFrame() after abandon error = %v", err)
	}
	if stats.Frame != 1 {
		t.Errorf("Frame = %d, want 1", stats.Frame)
	}
}

func TestRenderFrameHonoursContext(t *testing.T) {
	dev := newFakeDevice()
	dev.autoSignal = false
	o := newOrchestrator(t, dev, staticSnapshot(Snapshot{}))

	for i := 0; i < 2; i++ {
		if _, err := o.RenderFrame(context.Background()); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.RenderFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RenderFrame() error = %v, want context.Canceled", err)
	}
	if o.FrameIndex() != 2 {
		t.Errorf("FrameIndex() = %d, want 2", o.FrameIndex())
	}
}

func TestRenderFrameOverlay(t *testing.T) {
	dev := newFakeDevice()
	white := [4]uint8{255, 255, 255, 255}
	list := overlay.DrawList{
		Textures: overlay.TexturesDelta{Set: []overlay.TextureSet{
			{ID: 1, Delta: overlay.ImageDelta{Width: 1, Height: 1, Format: common.ImageFormatR8Unorm, Pixels: []byte{255}}},
		}},
		Primitives: []overlay.Primitive{{
			Clip:     common.Rect{Left: 0, Right: 100, Top: 0, Bottom: 100},
			Texture:  1,
			Vertices: []overlay.Vertex{{Color: white}, {Pos: mgl32.Vec2{10, 0}, Color: white}, {Pos: mgl32.Vec2{0, 10}, Color: white}},
			Indices:  []uint32{0, 1, 2},
		}},
	}
	o := newOrchestrator(t, dev, staticSnapshot(Snapshot{Requests: []DrawRequest{OverlayDraw{List: list}}}))

	stats, err := o.RenderFrame(context.Background())
	if err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	if stats.OverlayDraws != 1 || dev.overlay == nil || len(dev.overlay.spans) != 1 || !dev.overlay.ended {
		t.Errorf("overlay stats = %+v, pass = %+v", stats, dev.overlay)
	}
	if o.Table().Len() != 1 {
		t.Errorf("table Len() = %d, want 1 overlay texture", o.Table().Len())
	}
}

func TestRenderFrameSeveralOverlayLists(t *testing.T) {
	dev := newFakeDevice()
	white := [4]uint8{255, 255, 255, 255}
	tri := func(x float32) overlay.Primitive {
		return overlay.Primitive{
			Clip:     common.Rect{Left: 0, Right: 100, Top: 0, Bottom: 100},
			Vertices: []overlay.Vertex{{Pos: mgl32.Vec2{x, 0}, Color: white}, {Pos: mgl32.Vec2{x + 10, 0}, Color: white}, {Pos: mgl32.Vec2{x, 10}, Color: white}},
			Indices:  []uint32{0, 1, 2},
		}
	}
	o := newOrchestrator(t, dev, staticSnapshot(Snapshot{Requests: []DrawRequest{
		OverlayDraw{List: overlay.DrawList{PixelsPerPoint: 1, Primitives: []overlay.Primitive{tri(0)}}},
		OverlayDraw{List: overlay.DrawList{PixelsPerPoint: 2, Primitives: []overlay.Primitive{tri(20), tri(40)}}},
	}}))

	stats, err := o.RenderFrame(context.Background())
	if err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	pass := dev.overlay
	if stats.OverlayDraws != 3 || len(pass.spans) != 3 {
		t.Fatalf("OverlayDraws = %d, pass saw %d draws, want 3", stats.OverlayDraws, len(pass.spans))
	}
	if pass.uploads != 1 {
		t.Errorf("geometry uploads = %d, want 1 per frame", pass.uploads)
	}

	first, second := pass.spans[0], pass.spans[1]
	if second.VertexOffset < first.IndexOffset+first.IndexSize() {
		t.Errorf("second list's span %+v overlaps the first list's %+v", second, first)
	}
	// each span still holds its own list's vertices
	for i, wantX := range []float32{0, 20, 40} {
		if got := common.Float32At(pass.geometry, int(pass.spans[i].VertexOffset)); got != wantX {
			t.Errorf("draw %d first vertex x = %v, want %v", i, got, wantX)
		}
	}

	if pass.uniformOffsets[0] == pass.uniformOffsets[1] {
		t.Errorf("both lists bound uniform offset %d", pass.uniformOffsets[0])
	}
	if pass.uniformOffsets[1] != pass.uniformOffsets[2] {
		t.Errorf("one list bound offsets %d and %d", pass.uniformOffsets[1], pass.uniformOffsets[2])
	}
	for i, scale := range []float32{1, 2} {
		off := int(pass.uniformOffsets[i])
		inv := mgl32.Vec2{common.Float32At(pass.uniforms, off), common.Float32At(pass.uniforms, off+4)}
		if want := overlay.InverseDimensions(640, 480, scale); inv != want {
			t.Errorf("list %d inv_dims = %v, want %v", i, inv, want)
		}
	}
}

func TestDrawRequestKinds(t *testing.T) {
	tests := []struct {
		req  DrawRequest
		want DrawKind
	}{
		{SpriteDraw{}, DrawKindSprite},
		{TileMapDraw{}, DrawKindTileMap},
		{StaticMeshDraw{}, DrawKindStaticMesh},
		{SkinnedMeshDraw{}, DrawKindSkinnedMesh},
		{OverlayDraw{}, DrawKindOverlay},
	}
	for _, tt := range tests {
		if got := tt.req.Kind(); got != tt.want {
			t.Errorf("%T.Kind() = %v, want %v", tt.req, got, tt.want)
		}
	}
}
