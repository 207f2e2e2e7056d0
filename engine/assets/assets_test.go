package assets

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/config"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
)

func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func writePNG(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	if err := os.WriteFile(path, encodePNG(t, w, h, c), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDecodeOpaquePacksRGB(t *testing.T) {
	data := encodePNG(t, 2, 2, color.NRGBA{10, 20, 30, 255})

	got, err := Decode(bytes.NewReader(data), DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Format != common.ImageFormatRGB8Srgb {
		t.Errorf("Format = %v, want RGB8Srgb", got.Format)
	}
	if got.Width != 2 || got.Height != 2 {
		t.Errorf("size = %dx%d, want 2x2", got.Width, got.Height)
	}
	if len(got.Pixels) != 12 {
		t.Fatalf("len(Pixels) = %d, want 12", len(got.Pixels))
	}
	if !bytes.Equal(got.Pixels[:3], []byte{10, 20, 30}) {
		t.Errorf("first pixel = %v, want [10 20 30]", got.Pixels[:3])
	}

	linear, err := Decode(bytes.NewReader(data), DecodeOptions{Linear: true})
	if err != nil {
		t.Fatalf("Decode linear: %v", err)
	}
	if linear.Format != common.ImageFormatRGB8Unorm {
		t.Errorf("linear Format = %v, want RGB8Unorm", linear.Format)
	}
}

func TestDecodeTranslucentKeepsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 255})
	img.SetNRGBA(1, 0, color.NRGBA{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	got, err := Decode(&buf, DecodeOptions{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Format != common.ImageFormatRGBA8Srgb {
		t.Errorf("Format = %v, want RGBA8Srgb", got.Format)
	}
	want := []byte{10, 20, 30, 255, 0, 0, 0, 0}
	if !bytes.Equal(got.Pixels, want) {
		t.Errorf("Pixels = %v, want %v", got.Pixels, want)
	}
}

func TestDecodeSizing(t *testing.T) {
	data := encodePNG(t, 8, 4, color.NRGBA{200, 100, 50, 255})
	tests := []struct {
		name  string
		opts  DecodeOptions
		wantW uint32
		wantH uint32
	}{
		{"unbounded", DecodeOptions{}, 8, 4},
		{"within limit", DecodeOptions{MaxSize: 8}, 8, 4},
		{"scaled down", DecodeOptions{MaxSize: 4}, 4, 2},
		{"forced", DecodeOptions{MaxSize: 4, Width: 3, Height: 3}, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(bytes.NewReader(data), tt.opts)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Width != tt.wantW || got.Height != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", got.Width, got.Height, tt.wantW, tt.wantH)
			}
			if want := int(got.Width*got.Height) * got.Format.Channels(); len(got.Pixels) != want {
				t.Errorf("len(Pixels) = %d, want %d", len(got.Pixels), want)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not an image")), DecodeOptions{}); err == nil {
		t.Error("Decode accepted garbage")
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct{ w, h, limit, wantW, wantH int }{
		{100, 50, 0, 100, 50},
		{100, 50, 100, 100, 50},
		{100, 50, 10, 10, 5},
		{50, 100, 10, 5, 10},
		{1000, 1, 10, 10, 1},
	}
	for _, tt := range tests {
		if w, h := fitWithin(tt.w, tt.h, tt.limit); w != tt.wantW || h != tt.wantH {
			t.Errorf("fitWithin(%d, %d, %d) = %d, %d, want %d, %d", tt.w, tt.h, tt.limit, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestIsImageFile(t *testing.T) {
	for path, want := range map[string]bool{
		"a.png": true, "b.JPG": true, "c.webp": true, "d.tiff": true, "e.bmp": true,
		"f.gltf": false, "g": false, "h.wgsl": false,
	} {
		if got := IsImageFile(path); got != want {
			t.Errorf("IsImageFile(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLibraryLoadAndDrain(t *testing.T) {
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	path := filepath.Join(dir, "grass.png")
	writePNG(t, path, 2, 1, color.NRGBA{0, 255, 0, 255})

	lib := NewLibrary(WithWorkers(2))
	defer lib.Close()

	h, err := lib.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.IsZero() {
		t.Fatal("Load returned the zero handle")
	}
	again, err := lib.Load(path)
	if err != nil || again != h {
		t.Errorf("second Load = %v, %v, want %v", again, err, h)
	}
	if got, ok := lib.Handle(path); !ok || got != h {
		t.Errorf("Handle = %v, %v, want %v", got, ok, h)
	}

	lib.Wait()
	uploads, retired := lib.Drain()
	if len(uploads) != 1 {
		t.Fatalf("drained %d uploads, want 1", len(uploads))
	}
	if len(retired) != 0 {
		t.Errorf("drained %d retirements, want 0", len(retired))
	}
	if u := uploads[0].Image; u.Handle != h || u.Width != 2 || u.Height != 1 {
		t.Errorf("upload = %v %dx%d, want %v 2x1", u.Handle, u.Width, u.Height, h)
	}
	if uploads, _ := lib.Drain(); len(uploads) != 0 {
		t.Errorf("second Drain returned %d uploads", len(uploads))
	}
}

func TestLibraryLoadErrors(t *testing.T) {
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	lib := NewLibrary(WithWorkers(1))

	if _, err := lib.Load(filepath.Join(dir, "model.gltf")); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("Load(gltf) error = %v, want ErrUnsupportedFile", err)
	}
	if _, err := lib.Load(filepath.Join(dir, "missing.png")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want os.ErrNotExist", err)
	}

	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 1, 1, color.NRGBA{255, 255, 255, 255})
	if err := lib.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := lib.Load(path); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close error = %v, want ErrClosed", err)
	}
}

func TestLibraryUnload(t *testing.T) {
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 1, 1, color.NRGBA{255, 0, 0, 255})

	lib := NewLibrary(WithWorkers(1))
	defer lib.Close()

	// unloaded before the renderer saw it: the upload is dropped and nothing is retired
	if _, err := lib.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	lib.Wait()
	if !lib.Unload(path) {
		t.Fatal("Unload of a tracked path returned false")
	}
	if uploads, retired := lib.Drain(); len(uploads) != 0 || len(retired) != 0 {
		t.Errorf("Drain = %d uploads, %d retired, want none", len(uploads), len(retired))
	}

	h, _ := lib.Load(path)
	lib.Wait()
	lib.Drain()
	lib.Unload(path)
	_, retired := lib.Drain()
	if len(retired) != 1 || retired[0] != h {
		t.Errorf("retired = %v, want [%v]", retired, h)
	}
	if lib.Unload(path) {
		t.Error("Unload of an untracked path returned true")
	}
	if _, ok := lib.Handle(path); ok {
		t.Error("Handle found an unloaded path")
	}
}

func TestLibraryLoadDir(t *testing.T) {
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "tiles"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	writePNG(t, filepath.Join(dir, "hero.png"), 1, 1, color.NRGBA{1, 2, 3, 255})
	writePNG(t, filepath.Join(dir, "tiles", "stone.png"), 1, 1, color.NRGBA{4, 5, 6, 255})
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lib := NewLibrary(WithWorkers(2))
	defer lib.Close()
	handles, err := lib.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("LoadDir returned %d handles, want 2: %v", len(handles), handles)
	}
	if _, ok := handles["tiles/stone.png"]; !ok {
		t.Errorf("missing tiles/stone.png in %v", handles)
	}
	lib.Wait()
	if uploads, _ := lib.Drain(); len(uploads) != 2 {
		t.Errorf("drained %d uploads, want 2", len(uploads))
	}
}

// drainUntil polls lib until it yields an upload or the deadline passes.
func drainUntil(t *testing.T, lib Library, timeout time.Duration) []orchestrator.TextureUpload {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if uploads, _ := lib.Drain(); len(uploads) > 0 {
			return uploads
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no upload before the deadline")
	return nil
}

func TestLibraryReloadKeepsHandleAndSize(t *testing.T) {
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 2, 1, color.NRGBA{255, 0, 0, 255})

	lib := NewLibrary(WithWorkers(1), WithDebounce(time.Millisecond))
	defer lib.Close()
	h, _ := lib.Load(path)
	lib.Wait()
	lib.Drain()

	writePNG(t, path, 4, 4, color.NRGBA{0, 0, 255, 255})
	lib.(*library).changed(path)
	uploads := drainUntil(t, lib, 2*time.Second)

	u := uploads[0].Image
	if u.Handle != h {
		t.Errorf("reload handle = %v, want %v", u.Handle, h)
	}
	if u.Width != 2 || u.Height != 1 {
		t.Errorf("reload size = %dx%d, want the original 2x1", u.Width, u.Height)
	}
}

func TestLibraryWatchReloadsChangedFile(t *testing.T) {
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 1, 1, color.NRGBA{255, 0, 0, 255})

	lib := NewLibrary(WithWorkers(1), WithDebounce(10*time.Millisecond))
	defer lib.Close()
	h, _ := lib.Load(path)
	lib.Wait()
	lib.Drain()

	if err := lib.Watch(dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	writePNG(t, path, 1, 1, color.NRGBA{0, 255, 0, 255})

	uploads := drainUntil(t, lib, 5*time.Second)
	if uploads[0].Image.Handle != h {
		t.Errorf("reload handle = %v, want %v", uploads[0].Image.Handle, h)
	}
	if got := uploads[0].Image.Pixels[:3]; !bytes.Equal(got, []byte{0, 255, 0}) {
		t.Errorf("reloaded pixel = %v, want [0 255 0]", got)
	}
}

func TestWithUploadsMergesSnapshot(t *testing.T) {
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 1, 1, color.NRGBA{255, 0, 0, 255})

	lib := NewLibrary(WithWorkers(1))
	defer lib.Close()
	h, _ := lib.Load(path)
	lib.Wait()

	sceneUpload := orchestrator.TextureUpload{}
	sceneUpload.Image.Handle = common.NewTextureHandle()
	scene := []orchestrator.TextureUpload{sceneUpload}
	src := WithUploads(lib, orchestrator.SceneSourceFunc(func(uint64) orchestrator.Snapshot {
		return orchestrator.Snapshot{Uploads: scene}
	}))

	snap := src.Snapshot(0)
	if len(snap.Uploads) != 2 {
		t.Fatalf("len(Uploads) = %d, want 2", len(snap.Uploads))
	}
	if snap.Uploads[0].Image.Handle != h || snap.Uploads[1].Image.Handle != sceneUpload.Image.Handle {
		t.Error("library uploads should precede the scene's")
	}
	if len(scene) != 1 {
		t.Error("the scene's upload slice was modified")
	}
	if snap := src.Snapshot(1); len(snap.Uploads) != 1 {
		t.Errorf("second frame has %d uploads, want the scene's 1", len(snap.Uploads))
	}
}

func TestWithConfigBoundsToLayerSize(t *testing.T) {
	cfg := config.Default()
	cfg.Assets.DecodeWorkers = 3
	l := NewLibrary(WithConfig(cfg)).(*library)
	defer l.Close()
	if l.workers != 3 || l.maxSize != cfg.Bindless.LayerSize {
		t.Errorf("workers, maxSize = %d, %d, want 3, %d", l.workers, l.maxSize, cfg.Bindless.LayerSize)
	}
}
