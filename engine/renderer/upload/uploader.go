package upload

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
)

// InlineUpdateLimit is the largest buffer write, in bytes, issued directly on the queue. Larger
// writes go through a staging buffer and a copy command.
const InlineUpdateLimit = 16384

// NeedsStaging reports whether a buffer write of n bytes must be staged.
func NeedsStaging(n int) bool {
	return n > InlineUpdateLimit
}

// ErrUnsupportedConversion is returned for source/target format pairs the upload path cannot convert.
var ErrUnsupportedConversion = errors.New("unsupported image conversion")

// Device owns GPU images and executes the uploads the Uploader routes to it.
type Device interface {
	Dispatcher

	// CreateImage allocates a width x height image in format, which is GPU native.
	//
	// Parameters:
	//   - handle: the identity of the new image
	//   - width, height: the image size in pixels
	//   - format: the GPU image format
	//
	// Returns:
	//   - error: an error if the image cannot be created
	CreateImage(handle common.TextureHandle, width, height uint32, format common.ImageFormat) error

	// WriteImage copies pixels, already in the image's format, into a region of the image.
	//
	// Parameters:
	//   - handle: the destination image
	//   - origin: the top-left corner of the region
	//   - width, height: the region size in pixels
	//   - format: the format of pixels, equal to the image format
	//   - pixels: tightly packed pixel data
	//
	// Returns:
	//   - error: an error if the image is unknown or the region does not fit
	WriteImage(handle common.TextureHandle, origin [2]uint32, width, height uint32, format common.ImageFormat, pixels []byte) error

	// ReleaseImage frees a GPU image. The caller guarantees no in-flight frame samples it.
	//
	// Parameters:
	//   - handle: the image to free
	ReleaseImage(handle common.TextureHandle)
}

// ImageUpload is decoded pixel data bound for a GPU image.
type ImageUpload struct {
	// Handle names the image. An unknown handle creates the image, a known one is updated at
	// Origin, and zero creates an image under a fresh handle.
	Handle common.TextureHandle
	// Format is the layout of Pixels.
	Format common.ImageFormat
	// Target is the GPU image format. Zero picks the natural target for Format.
	Target common.ImageFormat
	// Width and Height are the size of Pixels in pixels.
	Width, Height uint32
	// Origin places a partial update inside an existing image.
	Origin [2]uint32
	// Pixels is tightly packed data in Format.
	Pixels []byte
}

// DefaultTarget returns the GPU format an image in f is stored as when no target is given.
// Single-channel coverage becomes premultiplied white RGBA.
func DefaultTarget(f common.ImageFormat) common.ImageFormat {
	switch f {
	case common.ImageFormatRGB8Unorm:
		return common.ImageFormatRGBA8Unorm
	case common.ImageFormatRGB8Srgb, common.ImageFormatR8Unorm:
		return common.ImageFormatRGBA8Srgb
	}
	return f
}

type imageInfo struct {
	width, height uint32
	format        common.ImageFormat
}

// uploader is the implementation of Uploader.
type uploader struct {
	device    Device
	converter PixelConverter
	images    map[common.TextureHandle]imageInfo
}

// Uploader routes decoded images to the GPU, converting formats the GPU cannot store directly.
// Same-format uploads pass straight through, RGB8 goes through the PixelConverter and R8 coverage
// is expanded on the CPU.
type Uploader interface {
	// Upload creates or updates a GPU image from decoded pixels.
	//
	// Parameters:
	//   - u: the upload description
	//
	// Returns:
	//   - common.TextureHandle: the handle of the created or updated image
	//   - error: ErrUnsupportedConversion, ErrOutOfBoundsJob from validation, or a device error
	Upload(u ImageUpload) (common.TextureHandle, error)

	// Release frees an image created by Upload.
	//
	// Parameters:
	//   - handle: the image to free
	Release(handle common.TextureHandle)

	// Size returns the dimensions and GPU format of an uploaded image.
	//
	// Parameters:
	//   - handle: the image
	//
	// Returns:
	//   - uint32, uint32: width and height in pixels
	//   - common.ImageFormat: the GPU format
	//   - bool: false if the handle is unknown
	Size(handle common.TextureHandle) (uint32, uint32, common.ImageFormat, bool)
}

var _ Uploader = &uploader{}

// NewUploader creates an Uploader backed by device.
//
// Parameters:
//   - device: the image owner and conversion dispatcher
//   - validation: whether conversion jobs are bounds-checked
//
// Returns:
//   - Uploader: the uploader
func NewUploader(device Device, validation bool) Uploader {
	return &uploader{
		device:    device,
		converter: NewPixelConverter(device, validation),
		images:    make(map[common.TextureHandle]imageInfo),
	}
}

func (u *uploader) Upload(up ImageUpload) (common.TextureHandle, error) {
	if ch := up.Format.Channels(); ch == 0 {
		return common.TextureHandle{}, fmt.Errorf("source format %v: %w", up.Format, ErrUnsupportedConversion)
	} else if want := int(up.Width) * int(up.Height) * ch; len(up.Pixels) != want {
		return common.TextureHandle{}, fmt.Errorf("%dx%d %v image needs %d bytes, got %d", up.Width, up.Height, up.Format, want, len(up.Pixels))
	}

	target := up.Target
	if target == common.ImageFormatUnknown {
		target = DefaultTarget(up.Format)
	}
	if !Supported(up.Format, target) {
		return common.TextureHandle{}, fmt.Errorf("%v -> %v: %w", up.Format, target, ErrUnsupportedConversion)
	}

	handle := up.Handle
	if handle.IsZero() {
		handle = common.NewTextureHandle()
	}
	info, ok := u.images[handle]
	if !ok {
		if up.Origin != [2]uint32{} {
			return common.TextureHandle{}, fmt.Errorf("origin %v given for new image %v", up.Origin, handle)
		}
		if err := u.device.CreateImage(handle, up.Width, up.Height, target); err != nil {
			return common.TextureHandle{}, fmt.Errorf("failed to create %dx%d image: %w", up.Width, up.Height, err)
		}
		info = imageInfo{width: up.Width, height: up.Height, format: target}
		u.images[handle] = info
	}
	if info.format != target {
		return common.TextureHandle{}, fmt.Errorf("update in %v for a %v image: %w", target, info.format, ErrUnsupportedConversion)
	}
	if uint64(up.Origin[0])+uint64(up.Width) > uint64(info.width) || uint64(up.Origin[1])+uint64(up.Height) > uint64(info.height) {
		return common.TextureHandle{}, fmt.Errorf("%dx%d update at %v exceeds %dx%d image: %w",
			up.Width, up.Height, up.Origin, info.width, info.height, common.ErrOutOfBoundsJob)
	}

	if err := u.route(handle, info, up, target); err != nil {
		return common.TextureHandle{}, err
	}
	return handle, nil
}

// Supported reports whether pixels in src can be stored in a target image.
func Supported(src, target common.ImageFormat) bool {
	if !target.GPUNative() {
		return false
	}
	switch {
	case src == target:
		return true
	case src == common.ImageFormatRGB8Unorm:
		return target == common.ImageFormatRGBA8Unorm
	case src == common.ImageFormatRGB8Srgb:
		return target == common.ImageFormatRGBA8Srgb
	case src == common.ImageFormatR8Unorm:
		return target == common.ImageFormatRGBA8Srgb || target == common.ImageFormatRGBA8Unorm
	}
	return false
}

func (u *uploader) route(handle common.TextureHandle, info imageInfo, up ImageUpload, target common.ImageFormat) error {
	switch {
	case up.Format == target:
		return u.device.WriteImage(handle, up.Origin, up.Width, up.Height, target, up.Pixels)

	case (up.Format == common.ImageFormatRGB8Unorm && target == common.ImageFormatRGBA8Unorm) ||
		(up.Format == common.ImageFormatRGB8Srgb && target == common.ImageFormatRGBA8Srgb):
		job := ConversionJob{
			Source:      up.Pixels,
			Destination: handle,
			Offset:      [2]int32{int32(up.Origin[0]), int32(up.Origin[1])},
			Stride:      up.Width,
			Width:       up.Width,
			Height:      up.Height,
		}
		logger.Debug("[Upload] converting %dx%d %v -> %v", up.Width, up.Height, up.Format, target)
		return u.converter.Convert(job, info.width, info.height, target)

	case up.Format == common.ImageFormatR8Unorm && (target == common.ImageFormatRGBA8Srgb || target == common.ImageFormatRGBA8Unorm):
		return u.device.WriteImage(handle, up.Origin, up.Width, up.Height, target, ExpandCoverage(up.Pixels))
	}
	return fmt.Errorf("%v -> %v: %w", up.Format, target, ErrUnsupportedConversion)
}

func (u *uploader) Release(handle common.TextureHandle) {
	if _, ok := u.images[handle]; !ok {
		return
	}
	delete(u.images, handle)
	u.device.ReleaseImage(handle)
}

func (u *uploader) Size(handle common.TextureHandle) (uint32, uint32, common.ImageFormat, bool) {
	info, ok := u.images[handle]
	return info.width, info.height, info.format, ok
}

// ExpandCoverage turns single-channel coverage into premultiplied white RGBA.
//
// Parameters:
//   - coverage: one byte per pixel
//
// Returns:
//   - []byte: four bytes per pixel
func ExpandCoverage(coverage []byte) []byte {
	out := make([]byte, len(coverage)*4)
	for i, c := range coverage {
		out[i*4] = c
		out[i*4+1] = c
		out[i*4+2] = c
		out[i*4+3] = c
	}
	return out
}
