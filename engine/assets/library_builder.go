package assets

import (
	"time"

	"github.com/Carmen-Shannon/lumen/engine/config"
)

// LibraryBuilderOption is a functional option for configuring a library.
// Use the With* functions to create options.
type LibraryBuilderOption func(l *library)

// WithConfig applies the asset worker count and bounds decoded images to the bindless layer size.
//
// Parameters:
//   - cfg: a validated configuration
//
// Returns:
//   - LibraryBuilderOption: option function to apply
func WithConfig(cfg config.Config) LibraryBuilderOption {
	return func(l *library) {
		l.workers = cfg.Assets.DecodeWorkers
		l.maxSize = cfg.Bindless.LayerSize
	}
}

// WithWorkers sets how many images decode concurrently.
//
// Parameters:
//   - n: the maximum number of decode workers
//
// Returns:
//   - LibraryBuilderOption: option function to apply
func WithWorkers(n int) LibraryBuilderOption {
	return func(l *library) {
		l.workers = n
	}
}

// WithMaxSize bounds the larger dimension of decoded images. Zero disables scaling.
//
// Parameters:
//   - n: the largest width or height in pixels
//
// Returns:
//   - LibraryBuilderOption: option function to apply
func WithMaxSize(n int) LibraryBuilderOption {
	return func(l *library) {
		l.maxSize = n
	}
}

// WithDebounce sets how long a changed file must be quiet before it is reloaded.
//
// Parameters:
//   - d: the quiet period
//
// Returns:
//   - LibraryBuilderOption: option function to apply
func WithDebounce(d time.Duration) LibraryBuilderOption {
	return func(l *library) {
		l.debounce = d
	}
}
