// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import "math"

// AverageFloat32 returns the arithmetic mean of xs, 0 for an empty slice.
func AverageFloat32(xs []float32) float32 {
	if len(xs) == 0 {
		return 0
	}
	var sum float32
	for _, x := range xs {
		sum += x
	}
	return sum / float32(len(xs))
}

// Round3 rounds to three decimal places. Scores and second-valued timestamps
// on the wire are always rounded this way.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Clamp01 clamps v into [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
