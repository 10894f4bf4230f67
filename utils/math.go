package utils

import "math"

// Clamp returns v limited to the closed range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Lerp linearly interpolates from a to b. t=0 yields a and t=1 yields b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// AllFinite reports whether none of the values is NaN or infinite.
func AllFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
