package upload

import (
	"fmt"

	"github.com/Carmen-Shannon/lumen/common"
)

// MemoryImage is a CPU-resident image held by a MemoryDevice.
type MemoryImage struct {
	Width, Height uint32
	Format        common.ImageFormat
	Pixels        []byte
}

// MemoryDevice is a Device that keeps images in system memory and runs conversions with
// ConvertRGBToRGBA. It backs headless rendering and lets upload results be inspected.
type MemoryDevice struct {
	images map[common.TextureHandle]*MemoryImage
	slots  map[uint32]common.TextureHandle

	// Dispatches counts conversion jobs executed.
	Dispatches int
}

var _ Device = &MemoryDevice{}

// NewMemoryDevice returns an empty MemoryDevice.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{
		images: make(map[common.TextureHandle]*MemoryImage),
		slots:  make(map[uint32]common.TextureHandle),
	}
}

// Image returns the image stored for handle.
func (d *MemoryDevice) Image(handle common.TextureHandle) (*MemoryImage, bool) {
	img, ok := d.images[handle]
	return img, ok
}

func (d *MemoryDevice) CreateImage(handle common.TextureHandle, width, height uint32, format common.ImageFormat) error {
	if _, ok := d.images[handle]; ok {
		return fmt.Errorf("%v already exists", handle)
	}
	d.images[handle] = &MemoryImage{
		Width:  width,
		Height: height,
		Format: format,
		Pixels: make([]byte, int(width)*int(height)*format.Channels()),
	}
	return nil
}

func (d *MemoryDevice) WriteImage(handle common.TextureHandle, origin [2]uint32, width, height uint32, format common.ImageFormat, pixels []byte) error {
	img, ok := d.images[handle]
	if !ok {
		return fmt.Errorf("%v does not exist", handle)
	}
	if format != img.Format {
		return fmt.Errorf("write in %v to a %v image", format, img.Format)
	}
	if origin[0]+width > img.Width || origin[1]+height > img.Height {
		return fmt.Errorf("%dx%d write at %v exceeds %dx%d image", width, height, origin, img.Width, img.Height)
	}
	bpp := format.Channels()
	row := int(width) * bpp
	for y := 0; y < int(height); y++ {
		dst := (int(origin[1])+y)*int(img.Width)*bpp + int(origin[0])*bpp
		copy(img.Pixels[dst:dst+row], pixels[y*row:(y+1)*row])
	}
	return nil
}

func (d *MemoryDevice) DispatchConversion(job ConversionJob, _ GPUConversionParams, target common.ImageFormat) error {
	img, ok := d.images[job.Destination]
	if !ok {
		return fmt.Errorf("%v does not exist", job.Destination)
	}
	if img.Format != target || target.Channels() != 4 {
		return fmt.Errorf("conversion into a %v image as %v", img.Format, target)
	}
	ConvertRGBToRGBA(job, img.Pixels, img.Width)
	d.Dispatches++
	return nil
}

func (d *MemoryDevice) ReleaseImage(handle common.TextureHandle) {
	delete(d.images, handle)
}

// BindSlot records handle as the image visible at slot, standing in for the texture array.
func (d *MemoryDevice) BindSlot(slot uint32, handle common.TextureHandle) error {
	if _, ok := d.images[handle]; !ok {
		return fmt.Errorf("%v does not exist", handle)
	}
	d.slots[slot] = handle
	return nil
}

// SlotImage returns the image bound at slot.
func (d *MemoryDevice) SlotImage(slot uint32) (*MemoryImage, bool) {
	handle, ok := d.slots[slot]
	if !ok {
		return nil, false
	}
	return d.Image(handle)
}
