package common

import "golang.org/x/exp/constraints"

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// Clamp returns v clamped to [low, high].
func Clamp[T constraints.Ordered](v, low, high T) T {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// AlignUp rounds n up to the next multiple of align. align must be a power of two.
//
// Parameters:
//   - n: the value to round
//   - align: the power-of-two alignment
//
// Returns:
//   - T: the smallest multiple of align that is >= n
func AlignUp[T constraints.Unsigned](n, align T) T {
	return (n + align - 1) &^ (align - 1)
}

// NextPowerOfTwo returns the smallest power of two that is >= n, and 1 for n == 0.
func NextPowerOfTwo[T constraints.Unsigned](n T) T {
	p := T(1)
	for p < n {
		p <<= 1
	}
	return p
}
