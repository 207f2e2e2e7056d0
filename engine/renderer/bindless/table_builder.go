package bindless

// TableBuilderOption is a functional option used to configure a Table during construction.
type TableBuilderOption func(*table)

// WithCapacity sets the number of allocatable slots. It must match the length of the texture
// array the device creates.
//
// Parameters:
//   - capacity: the slot count
//
// Returns:
//   - TableBuilderOption: a function that sets the capacity
func WithCapacity(capacity int) TableBuilderOption {
	return func(t *table) {
		t.capacity = capacity
	}
}
