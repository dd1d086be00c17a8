// SPDX-License-Identifier: MIT
package pipeline

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Features is the scalar summary computed fresh on every tick.
type Features struct {
	PeakAmplitude     float64 `json:"peak_amplitude"`     // Peak |sample| of the raw frame, before normalization
	DominantBin       int     `json:"dominant_bin"`       // argmax of the linear smoothed spectrum
	DominantFrequency float64 `json:"dominant_frequency"` // Hz
	DominantAmplitude float64 `json:"dominant_amplitude"` // Displayed value (linear or dB) at DominantBin
	DominantDB        float64 `json:"dominant_bin_db"`    // 20·log10(S[DominantBin] + epsilon)
}

// Extract locates the dominant bin of the linear smoothed spectrum and reads
// its frequency from freqs and its amplitude from display, which is either
// smoothed itself or its dB projection. Exact ties resolve to the lowest
// bin, so an all-zero spectrum reports bin 0 at 0 Hz. PeakAmplitude is left
// for the caller, which owns the normalizer's result.
func Extract(smoothed, display, freqs []float64, epsilon float64) Features {
	if len(smoothed) == 0 {
		return Features{DominantDB: 20 * math.Log10(epsilon)}
	}

	peak := floats.MaxIdx(smoothed)

	f := Features{
		DominantBin: peak,
		DominantDB:  20 * math.Log10(smoothed[peak]+epsilon),
	}
	if peak < len(freqs) {
		f.DominantFrequency = freqs[peak]
	}
	if peak < len(display) {
		f.DominantAmplitude = display[peak]
	}
	return f
}
