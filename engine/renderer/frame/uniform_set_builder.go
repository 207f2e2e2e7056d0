package frame

// UniformSetBuilderOption is a functional option used to configure a UniformSet during construction.
type UniformSetBuilderOption func(*uniformSet)

// WithRecordsPerFrame sets how many uniform records (draws) each region can hold.
//
// Parameters:
//   - n: the record capacity of each region
//
// Returns:
//   - UniformSetBuilderOption: a function that sets the record capacity
func WithRecordsPerFrame(n int) UniformSetBuilderOption {
	return func(u *uniformSet) {
		u.recordsPerFrame = n
	}
}

// WithRecordAlignment sets the dynamic-offset alignment records are padded to. This should be the
// device's minUniformBufferOffsetAlignment.
//
// Parameters:
//   - align: a power of two
//
// Returns:
//   - UniformSetBuilderOption: a function that sets the record alignment
func WithRecordAlignment(align uint32) UniformSetBuilderOption {
	return func(u *uniformSet) {
		u.recordAlignment = align
	}
}

// WithValidation enables palette contract checks on every SetPalette call.
//
// Parameters:
//   - enabled: whether validation is on
//
// Returns:
//   - UniformSetBuilderOption: a function that sets validation
func WithValidation(enabled bool) UniformSetBuilderOption {
	return func(u *uniformSet) {
		u.validation = enabled
	}
}
