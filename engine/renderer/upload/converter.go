package upload

import (
	"fmt"

	"github.com/Carmen-Shannon/lumen/common"
)

// ConversionJob describes one RGB -> RGBA expansion into a region of a destination image.
// Overlapping jobs on the same destination region must be serialized by the caller.
type ConversionJob struct {
	// Source is tightly packed 3-channel pixel data.
	Source []byte
	// Destination is the image receiving the 4-channel result.
	Destination common.TextureHandle
	// Offset is the destination origin of the footprint.
	Offset [2]int32
	// Stride is the source row length in pixels.
	Stride uint32
	// Width and Height are the footprint size in pixels.
	Width, Height uint32
}

// PixelCount returns the number of destination pixels the job writes.
func (j ConversionJob) PixelCount() int {
	return int(j.Width) * int(j.Height)
}

// Params returns the uniform block for the job's dispatch.
func (j ConversionJob) Params() GPUConversionParams {
	return GPUConversionParams{Offset: j.Offset, Stride: j.Stride}
}

// SourceIndex returns the byte index of the first channel read for footprint pixel (x, y).
func (j ConversionJob) SourceIndex(x, y uint32) int {
	return 3 * int(x+y*j.Stride)
}

// ValidateJob checks that a job stays inside its source buffer and a dstWidth x dstHeight
// destination. The conversion itself never checks this; validation builds and tests call it.
//
// Parameters:
//   - job: the job to check
//   - dstWidth, dstHeight: the destination image size
//
// Returns:
//   - error: ErrOutOfBoundsJob describing the first violation, or nil
func ValidateJob(job ConversionJob, dstWidth, dstHeight uint32) error {
	if job.Width == 0 || job.Height == 0 {
		return nil
	}
	if job.Offset[0] < 0 || job.Offset[1] < 0 {
		return fmt.Errorf("negative offset %v: %w", job.Offset, common.ErrOutOfBoundsJob)
	}
	if uint64(job.Offset[0])+uint64(job.Width) > uint64(dstWidth) || uint64(job.Offset[1])+uint64(job.Height) > uint64(dstHeight) {
		return fmt.Errorf("footprint %dx%d at %v exceeds %dx%d destination: %w",
			job.Width, job.Height, job.Offset, dstWidth, dstHeight, common.ErrOutOfBoundsJob)
	}
	last := job.SourceIndex(job.Width-1, job.Height-1) + 2
	if last >= len(job.Source) {
		return fmt.Errorf("last source read at byte %d exceeds %d-byte source: %w", last, len(job.Source), common.ErrOutOfBoundsJob)
	}
	return nil
}

// ForEachPixel calls fn once for every destination pixel of the job's footprint, in row order,
// with the destination coordinate and the source byte index. It is the CPU form of the dispatch
// grid: one call per compute invocation.
//
// Parameters:
//   - job: the conversion job
//   - fn: receives destination x, y and the source index
func ForEachPixel(job ConversionJob, fn func(dx, dy int, src int)) {
	for y := uint32(0); y < job.Height; y++ {
		for x := uint32(0); x < job.Width; x++ {
			fn(int(job.Offset[0])+int(x), int(job.Offset[1])+int(y), job.SourceIndex(x, y))
		}
	}
}

// ConvertRGBToRGBA runs the conversion on the CPU into dst, a 4-channel image dstWidth pixels wide.
// It follows the compute stage exactly: channels 0..2 copied, alpha set to 255.
//
// Parameters:
//   - job: the conversion job
//   - dst: the destination pixels, RGBA8
//   - dstWidth: the destination row length in pixels
func ConvertRGBToRGBA(job ConversionJob, dst []byte, dstWidth uint32) {
	ForEachPixel(job, func(dx, dy, src int) {
		di := 4 * (dy*int(dstWidth) + dx)
		dst[di] = job.Source[src]
		dst[di+1] = job.Source[src+1]
		dst[di+2] = job.Source[src+2]
		dst[di+3] = 0xFF
	})
}

// Dispatcher runs conversion jobs against GPU images.
type Dispatcher interface {
	// DispatchConversion records a Width x Height x 1 dispatch of the conversion stage for job.
	//
	// Parameters:
	//   - job: the conversion job
	//   - params: the job's uniform block
	//   - target: the destination image format, RGBA8Unorm or RGBA8Srgb
	//
	// Returns:
	//   - error: an error if the destination is unknown or the dispatch cannot be recorded
	DispatchConversion(job ConversionJob, params GPUConversionParams, target common.ImageFormat) error
}

// pixelConverter is the implementation of PixelConverter.
type pixelConverter struct {
	dispatcher Dispatcher
	validation bool
}

// PixelConverter turns 3-channel source pixels into GPU-native 4-channel images.
type PixelConverter interface {
	// Convert submits job. With validation enabled the job is checked against the destination
	// size first; otherwise an out-of-bounds job is undefined behaviour.
	//
	// Parameters:
	//   - job: the conversion job
	//   - dstWidth, dstHeight: the destination image size
	//   - target: the destination image format
	//
	// Returns:
	//   - error: ErrOutOfBoundsJob from validation, or the dispatcher error
	Convert(job ConversionJob, dstWidth, dstHeight uint32, target common.ImageFormat) error
}

var _ PixelConverter = &pixelConverter{}

// NewPixelConverter creates a PixelConverter that dispatches through d.
//
// Parameters:
//   - d: the dispatcher running the conversion stage
//   - validation: whether jobs are bounds-checked before dispatch
//
// Returns:
//   - PixelConverter: the converter
func NewPixelConverter(d Dispatcher, validation bool) PixelConverter {
	return &pixelConverter{dispatcher: d, validation: validation}
}

func (c *pixelConverter) Convert(job ConversionJob, dstWidth, dstHeight uint32, target common.ImageFormat) error {
	if job.PixelCount() == 0 {
		return nil
	}
	if c.validation {
		if err := ValidateJob(job, dstWidth, dstHeight); err != nil {
			return err
		}
	}
	return c.dispatcher.DispatchConversion(job, job.Params(), target)
}
