package frame

import (
	"context"
	"sync"
)

// Fence tracks the completion of one queue submission.
type Fence interface {
	// Wait blocks until the submission completes or ctx is done.
	//
	// Parameters:
	//   - ctx: cancels the wait
	//
	// Returns:
	//   - error: ctx.Err() if the wait was cancelled, otherwise nil
	Wait(ctx context.Context) error

	// Signaled reports whether the submission has completed, without blocking.
	//
	// Returns:
	//   - bool: true once the GPU has finished the submission
	Signaled() bool
}

// ChanFence is a Fence that is signalled exactly once by calling Signal.
// Device backends signal it from their queue-completion callback.
type ChanFence struct {
	done chan struct{}
	once sync.Once
}

var _ Fence = &ChanFence{}

// NewChanFence returns an unsignalled fence.
func NewChanFence() *ChanFence {
	return &ChanFence{done: make(chan struct{})}
}

// Signal marks the fence complete. Extra calls are ignored.
func (f *ChanFence) Signal() {
	f.once.Do(func() { close(f.done) })
}

func (f *ChanFence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *ChanFence) Signaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// SignaledFence returns a fence that is already complete.
func SignaledFence() Fence {
	f := NewChanFence()
	f.Signal()
	return f
}
