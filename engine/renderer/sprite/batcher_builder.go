package sprite

// BatcherBuilderOption is a function that configures a batcher.
type BatcherBuilderOption func(*batcher)

// WithCapacity sets the maximum number of instances per batch.
//
// Parameters:
//   - capacity: the instance capacity, must be positive
//
// Returns:
//   - BatcherBuilderOption: a function that applies the capacity option
func WithCapacity(capacity int) BatcherBuilderOption {
	return func(b *batcher) {
		b.capacity = capacity
	}
}
