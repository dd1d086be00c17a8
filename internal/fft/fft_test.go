// SPDX-License-Identifier: MIT
package fft

import (
	"math"
	"math/cmplx"
	"testing"

	"micscope/internal/testutil"

	dspfft "github.com/mjibson/go-dsp/fft"
)

const (
	testFFTSize    = 3200
	testSampleRate = 16000
)

func newTestProcessor(t testing.TB, size int) *Processor {
	t.Helper()
	p, err := NewProcessor(size, testSampleRate, Rectangular)
	if err != nil {
		t.Fatalf("NewProcessor(%d): %v", size, err)
	}
	return p
}

func TestNewProcessorErrors(t *testing.T) {
	if _, err := NewProcessor(1, testSampleRate, Rectangular); err == nil {
		t.Error("expected error for size 1")
	}
	if _, err := NewProcessor(1024, 0, Rectangular); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestTransformLengthAndDeterminism(t *testing.T) {
	p := newTestProcessor(t, testFFTSize)
	frame := testutil.GenerateComplexWave(testFFTSize, testSampleRate)

	first := make([]float64, p.Bins())
	second := make([]float64, p.Bins())
	if err := p.Transform(first, frame); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if err := p.Transform(second, frame); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if len(first) != testFFTSize/2 {
		t.Fatalf("spectrum length: got %d, want %d", len(first), testFFTSize/2)
	}
	for k := range first {
		if first[k] != second[k] {
			t.Fatalf("bin %d differs between identical calls: %g vs %g", k, first[k], second[k])
		}
		if first[k] < 0 {
			t.Fatalf("bin %d negative: %g", k, first[k])
		}
	}
}

func TestTransformSinePeak(t *testing.T) {
	p := newTestProcessor(t, testFFTSize)
	frame := testutil.GenerateSineWave(testFFTSize, testSampleRate, 1000, 1.0)

	spectrum := make([]float64, p.Bins())
	if err := p.Transform(spectrum, frame); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	peak := testutil.FindPeakBin(spectrum, 0, len(spectrum)-1)
	if peak != 200 {
		t.Errorf("peak bin: got %d, want 200", peak)
	}
	if f := p.GetFrequencyBin(peak); f != 1000 {
		t.Errorf("peak frequency: got %g, want 1000", f)
	}
	// A unit sine with an integer number of cycles puts N/2 in its bin.
	if !testutil.AlmostEqual(spectrum[peak], testFFTSize/2, 1e-6) {
		t.Errorf("peak magnitude: got %g, want %d", spectrum[peak], testFFTSize/2)
	}
}

// The gonum transform must agree with an independent DFT implementation.
func TestTransformMatchesReferenceDFT(t *testing.T) {
	sizes := []int{8, 100, 1024, 3200}

	for _, n := range sizes {
		p := newTestProcessor(t, n)
		frame := testutil.GenerateComplexWave(n, testSampleRate)

		got := make([]float64, p.Bins())
		if err := p.Transform(got, frame); err != nil {
			t.Fatalf("Transform(%d): %v", n, err)
		}

		ref := dspfft.FFTReal(frame)
		for k := range got {
			want := cmplx.Abs(ref[k])
			if math.Abs(got[k]-want) > 1e-8*float64(n) {
				t.Fatalf("size %d bin %d: got %g, want %g", n, k, got[k], want)
			}
		}
	}
}

func TestTransformDCBin(t *testing.T) {
	p := newTestProcessor(t, 16)
	frame := make([]float64, 16)
	for i := range frame {
		frame[i] = 0.5
	}

	spectrum := make([]float64, p.Bins())
	if err := p.Transform(spectrum, frame); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !testutil.AlmostEqual(spectrum[0], 8, 1e-12) {
		t.Errorf("DC bin: got %g, want 8", spectrum[0])
	}
	for k := 1; k < len(spectrum); k++ {
		if spectrum[k] > 1e-12 {
			t.Errorf("bin %d should be empty for a constant frame, got %g", k, spectrum[k])
		}
	}
}

func TestTransformLengthMismatch(t *testing.T) {
	p := newTestProcessor(t, 64)

	if err := p.Transform(make([]float64, 32), make([]float64, 63)); err == nil {
		t.Error("expected error for short frame")
	}
	if err := p.Transform(make([]float64, 33), make([]float64, 64)); err == nil {
		t.Error("expected error for wrong destination length")
	}
}

func TestFrequencyTable(t *testing.T) {
	p := newTestProcessor(t, testFFTSize)
	freqs := p.FrequencyTable()

	if len(freqs) != testFFTSize/2 {
		t.Fatalf("table length: got %d, want %d", len(freqs), testFFTSize/2)
	}
	for _, k := range []int{0, 1, 200, len(freqs) - 1} {
		want := float64(k) * testSampleRate / testFFTSize
		if !testutil.AlmostEqual(freqs[k], want, 1e-9) {
			t.Errorf("freq[%d] = %g, want %g", k, freqs[k], want)
		}
	}
	if p.GetFrequencyBin(-1) != 0 || p.GetFrequencyBin(testFFTSize) != 0 {
		t.Error("out of range bins should map to 0")
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"", Rectangular, false},
		{"Rectangular", Rectangular, false},
		{"hanning", Hann, false},
		{"HAMMING", Hamming, false},
		{"BlackmanNuttall", BlackmanNuttall, false},
		{"kaiser", Rectangular, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.name)
			if got != tt.want || (err != nil) != tt.wantErr {
				t.Errorf("ParseWindowFunc(%q) = %v, %v", tt.name, got, err)
			}
		})
	}
}

func TestWindowedTransformAttenuatesLeakage(t *testing.T) {
	// 1002.5 Hz falls between bins, so the rectangular window leaks widely.
	frame := testutil.GenerateSineWave(testFFTSize, testSampleRate, 1002.5, 1.0)

	rect := newTestProcessor(t, testFFTSize)
	hann, err := NewProcessor(testFFTSize, testSampleRate, Hann)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	rectSpec := make([]float64, rect.Bins())
	hannSpec := make([]float64, hann.Bins())
	_ = rect.Transform(rectSpec, frame)
	_ = hann.Transform(hannSpec, frame)

	far := 400 // 1 kHz away from the tone
	if hannSpec[far]/hannSpec[200] >= rectSpec[far]/rectSpec[200] {
		t.Errorf("Hann window should reduce far leakage: hann %g, rect %g",
			hannSpec[far]/hannSpec[200], rectSpec[far]/rectSpec[200])
	}
}

func TestTransformHotPath(t *testing.T) {
	p := newTestProcessor(t, testFFTSize)
	frame := testutil.GenerateComplexWave(testFFTSize, testSampleRate)
	spectrum := make([]float64, p.Bins())

	// Warm-up call so lazily initialised twiddles are not counted.
	_ = p.Transform(spectrum, frame)
	allocs := testing.AllocsPerRun(100, func() {
		_ = p.Transform(spectrum, frame)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in Transform hot path, got %.1f", allocs)
	}
}

func BenchmarkTransform(b *testing.B) {
	p := newTestProcessor(b, testFFTSize)
	frame := testutil.GenerateComplexWave(testFFTSize, testSampleRate)
	spectrum := make([]float64, p.Bins())

	b.ReportAllocs()

	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		_ = p.Transform(spectrum, frame)
	}
}
