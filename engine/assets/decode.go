// Package assets decodes image files into texture uploads and keeps them current while they change
// on disk.
package assets

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/renderer/upload"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFile is returned for files whose extension names no known image format.
var ErrUnsupportedFile = errors.New("unsupported image file")

var imageExtensions = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".gif":  "gif",
	".bmp":  "bmp",
	".tif":  "tiff",
	".tiff": "tiff",
	".webp": "webp",
}

// IsImageFile reports whether path has the extension of a decodable image format.
func IsImageFile(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// DecodeOptions controls how a decoded image is laid out for upload.
type DecodeOptions struct {
	// Linear marks the pixels as linear data, such as a normal map, instead of sRGB colour.
	Linear bool
	// MaxSize bounds the larger dimension. Bigger images are scaled down keeping their aspect.
	// Zero leaves the size alone.
	MaxSize int
	// Width and Height, when both set, force the exact output size. They take precedence over MaxSize.
	Width, Height int
}

// Decode reads an image in any registered format and lays it out as upload-ready pixels.
// Opaque images are packed as 3-channel data and converted on the GPU, everything else keeps
// straight alpha as RGBA.
//
// Parameters:
//   - r: the encoded image
//   - opts: colour space and sizing
//
// Returns:
//   - upload.ImageUpload: the decoded pixels with no handle set
//   - error: an error if the data is not a decodable image
func Decode(r io.Reader, opts DecodeOptions) (upload.ImageUpload, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return upload.ImageUpload{}, fmt.Errorf("failed to decode image: %w", err)
	}
	b := src.Bounds()
	if b.Empty() {
		return upload.ImageUpload{}, fmt.Errorf("%s image has no pixels", format)
	}

	w, h := b.Dx(), b.Dy()
	if opts.Width > 0 && opts.Height > 0 {
		w, h = opts.Width, opts.Height
	} else {
		w, h = fitWithin(w, h, opts.MaxSize)
	}

	rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), src, b, draw.Src, nil)
	}

	out := upload.ImageUpload{Width: uint32(w), Height: uint32(h)}
	if opaque(rgba) {
		out.Format = common.ImageFormatRGB8Srgb
		if opts.Linear {
			out.Format = common.ImageFormatRGB8Unorm
		}
		out.Pixels = packRGB(rgba)
	} else {
		out.Format = common.ImageFormatRGBA8Srgb
		if opts.Linear {
			out.Format = common.ImageFormatRGBA8Unorm
		}
		out.Pixels = rgba.Pix
	}
	return out, nil
}

// fitWithin scales w x h down so neither side exceeds limit, never below one pixel.
func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, (h*limit+w/2)/w)
	}
	return max(1, (w*limit+h/2)/h), limit
}

func opaque(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xFF {
			return false
		}
	}
	return true
}

// packRGB drops the alpha channel of a tightly strided NRGBA image.
func packRGB(img *image.NRGBA) []byte {
	out := make([]byte, 0, len(img.Pix)/4*3)
	for i := 0; i < len(img.Pix); i += 4 {
		out = append(out, img.Pix[i], img.Pix[i+1], img.Pix[i+2])
	}
	return out
}
