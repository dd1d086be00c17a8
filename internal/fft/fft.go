// SPDX-License-Identifier: MIT
package fft

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTWorkspace holds pre-allocated buffers for FFT calculations.
type FFTWorkspace struct {
	input     []float64    // ...for real input samples (windowed)
	fftOutput []complex128 // ...for FFT complex output, n/2+1 coefficients
	window    []float64    // ...for window function coefficients
}

// Processor computes the one-sided magnitude spectrum of fixed-length frames.
// A Processor is not safe for concurrent use; the Update Driver owns one.
type Processor struct {
	fftSize    int
	sampleRate float64
	windowType WindowFunc
	workspace  FFTWorkspace
	fftObj     *fourier.FFT
}

// NewProcessor creates a new FFT processor for frames of fftSize samples.
// Any size is accepted; gonum factors non power-of-two lengths. All
// workspace buffers are allocated here so Transform does not allocate.
func NewProcessor(fftSize int, sampleRate float64, windowType WindowFunc) (*Processor, error) {
	if fftSize < 2 {
		return nil, fmt.Errorf("fft size must be at least 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	window := make([]float64, fftSize)
	applyWindow(window, windowType)

	return &Processor{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		windowType: windowType,
		fftObj:     fourier.NewFFT(fftSize),

		workspace: FFTWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, fftSize/2+1),
			window:    window,
		},
	}, nil
}

// Bins returns the length of the one-sided spectrum, fftSize/2.
func (p *Processor) Bins() int {
	return p.fftSize / 2
}

// Size returns the configured frame length.
func (p *Processor) Size() int {
	return p.fftSize
}

// Transform writes |DFT(frame)| for bins 0..fftSize/2-1 into dst. Bin 0 is
// DC; the Nyquist bin and everything above it are discarded. With the
// default rectangular window the frame is transformed as is.
func (p *Processor) Transform(dst, frame []float64) error {
	if len(frame) != p.fftSize {
		return fmt.Errorf("frame length %d does not match fft size %d", len(frame), p.fftSize)
	}
	if len(dst) != p.Bins() {
		return fmt.Errorf("destination length %d does not match bin count %d", len(dst), p.Bins())
	}

	for i, x := range frame {
		p.workspace.input[i] = x * p.workspace.window[i]
	}

	p.fftObj.Coefficients(p.workspace.fftOutput, p.workspace.input)
	for k := range dst {
		dst[k] = cmplx.Abs(p.workspace.fftOutput[k])
	}

	return nil
}

// GetFrequencyBin returns the frequency in Hz for a given FFT bin index,
// k × sampleRate / fftSize.
func (p *Processor) GetFrequencyBin(i int) float64 {
	if i < 0 || i >= len(p.workspace.fftOutput) {
		return 0
	}
	return p.fftObj.Freq(i) * p.sampleRate
}

// FrequencyTable returns the bin-to-frequency axis for the one-sided spectrum.
func (p *Processor) FrequencyTable() []float64 {
	freqs := make([]float64, p.Bins())
	for k := range freqs {
		freqs[k] = p.GetFrequencyBin(k)
	}
	return freqs
}
