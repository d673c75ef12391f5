package util

import (
	"math"
	"math/rand"
	"time"
)

// PowBackoff computes base^n seconds as a time.Duration, matching the
// retry-envelope formula used by the safe-call layer (1.5^n for n=1,2,3).
func PowBackoff(base float64, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	seconds := math.Pow(base, float64(n))
	return time.Duration(seconds * float64(time.Second))
}

// JitterBetween returns a random duration uniformly distributed in [min, max).
func JitterBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	return min + time.Duration(rand.Int63n(int64(span)))
}
