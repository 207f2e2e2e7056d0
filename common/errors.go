package common

import "errors"

var (
	// ErrCapacityExceeded is returned when a fixed-capacity resource (bindless table, instance batch,
	// frame record region) has no room left. Callers recover locally by flushing or evicting.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrOutOfBoundsJob is returned by validation when a pixel conversion job would read or write
	// outside its source buffer or destination image.
	ErrOutOfBoundsJob = errors.New("conversion job out of bounds")

	// ErrStaleFrameResource is returned when a frame-in-flight resource would be reused while it is
	// still being recorded, or with a frame index that does not advance.
	ErrStaleFrameResource = errors.New("stale frame resource")
)
