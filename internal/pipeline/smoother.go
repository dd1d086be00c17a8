// SPDX-License-Identifier: MIT
package pipeline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Smoother keeps a per-bin exponential moving average of magnitude spectra:
//
//	S[k] = alpha × spectrum[k] + (1 - alpha) × S[k]
//
// S starts at zero and is never reset while the process runs.
type Smoother struct {
	alpha float64
	state []float64
}

// NewSmoother returns a zeroed Smoother over bins bins.
func NewSmoother(bins int, alpha float64) (*Smoother, error) {
	if bins < 1 {
		return nil, fmt.Errorf("smoother needs at least one bin, got %d", bins)
	}
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("smoothing alpha must be within (0, 1], got %g", alpha)
	}
	return &Smoother{
		alpha: alpha,
		state: make([]float64, bins),
	}, nil
}

// Alpha returns the smoothing factor.
func (s *Smoother) Alpha() float64 {
	return s.alpha
}

// Update folds spectrum into the running average and returns the smoothed
// spectrum. The returned slice is the Smoother's own state: callers read it
// and must not write to it.
func (s *Smoother) Update(spectrum []float64) ([]float64, error) {
	if len(spectrum) != len(s.state) {
		return nil, fmt.Errorf("spectrum length %d does not match smoother length %d", len(spectrum), len(s.state))
	}

	floats.Scale(1-s.alpha, s.state)
	floats.AddScaled(s.state, s.alpha, spectrum)
	return s.state, nil
}

// Spectrum returns the current smoothed spectrum without updating it.
func (s *Smoother) Spectrum() []float64 {
	return s.state
}

// ToDecibels writes 20 × log10(src[k] + epsilon) into dst. It is a
// stateless projection, recomputed from the smoothed spectrum every tick.
func ToDecibels(dst, src []float64, epsilon float64) {
	for k, x := range src {
		dst[k] = 20 * math.Log10(x+epsilon)
	}
}
