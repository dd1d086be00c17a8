// SPDX-License-Identifier: MIT
package pipeline

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Normalize writes src divided by its peak absolute value into dst and
// returns that peak, which doubles as the tick's volume reading. A silent
// frame (peak 0) is copied unchanged. dst and src must have equal length;
// src is never modified, so the shared Frame stays as captured.
func Normalize(dst, src []float64) float64 {
	if len(dst) != len(src) {
		panic("pipeline: normalize length mismatch")
	}

	peak := floats.Norm(src, math.Inf(1))
	if peak == 0 {
		copy(dst, src)
		return 0
	}

	// Divide rather than scale by 1/peak so the peak sample lands on exactly ±1.
	for i, x := range src {
		dst[i] = x / peak
	}
	return peak
}
