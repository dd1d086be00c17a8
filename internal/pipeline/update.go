// SPDX-License-Identifier: MIT
package pipeline

import (
	"slices"
	"time"
)

// Update is everything a rendering collaborator receives on one tick.
type Update struct {
	Tick        uint64    `json:"tick"`        // Driver tick counter, from 1
	FrameSeq    uint64    `json:"frame_seq"`   // Sequence of the Frame analysed
	Timestamp   time.Time `json:"timestamp"`   // When the tick ran
	Waveform    []float64 `json:"waveform"`    // Normalized samples in [-1, 1]
	Time        []float64 `json:"time"`        // Waveform time axis in seconds
	Frequencies []float64 `json:"frequencies"` // freq[k] = k × sample_rate / buffer_size
	Spectrum    []float64 `json:"spectrum"`    // Smoothed magnitudes, or their dB projection
	Decibels    bool      `json:"decibels"`    // Whether Spectrum is in dB
	Features    Features  `json:"features"`
}

// Clone returns a deep copy that outlives the Render call.
func (u *Update) Clone() *Update {
	c := *u
	c.Waveform = slices.Clone(u.Waveform)
	c.Time = slices.Clone(u.Time)
	c.Frequencies = slices.Clone(u.Frequencies)
	c.Spectrum = slices.Clone(u.Spectrum)
	return &c
}

// Renderer is the rendering collaborator. Render is called once per tick
// from the Driver goroutine; u and its slices are reused by the Driver and
// are only valid for the duration of the call, so implementations that keep
// data must Clone it.
type Renderer interface {
	Render(u *Update) error
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(u *Update) error

// Render calls f(u).
func (f RendererFunc) Render(u *Update) error {
	return f(u)
}
