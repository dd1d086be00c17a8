// SPDX-License-Identifier: MIT
/*
Package pipeline implements the real-time spectral analysis path:

	capture callback → FrameBuffer → Normalize → fft.Processor → Smoother → Extract → Renderer

Thread Safety:
  - FrameBuffer is the only structure shared between the capture thread and
    the Update Driver. It is a single-slot, last-writer-wins handoff built on
    an atomic pointer swap; published Frames are never mutated.
  - Everything downstream of FrameBuffer.Read is owned by the Driver and
    touched from its goroutine only.
*/
package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrMalformedBlock reports a capture block that cannot become a Frame:
// wrong length or a non-nil device status.
var ErrMalformedBlock = errors.New("malformed capture block")

// Frame is one fixed-length window of consecutive mono samples.
// A Frame is immutable once published by a FrameBuffer.
type Frame struct {
	Samples  []float64 // Exactly FrameBuffer.Size() samples
	Sequence uint64    // 0 for the zero-filled startup frame, then 1, 2, ...
	Captured time.Time // Arrival time of the block; zero for the startup frame
}

// FrameBuffer holds the most recently completed Frame. Write is called from
// the capture callback, Read from the Update Driver; neither blocks.
type FrameBuffer struct {
	size    int
	current atomic.Pointer[Frame]
	written atomic.Uint64
	dropped atomic.Uint64
}

// NewFrameBuffer returns a buffer for frames of size samples, initially
// holding a zero-filled Frame.
func NewFrameBuffer(size int) *FrameBuffer {
	b := &FrameBuffer{size: size}
	b.current.Store(&Frame{Samples: make([]float64, size)})
	return b
}

// Size returns the required frame length.
func (b *FrameBuffer) Size() int {
	return b.size
}

// Write publishes samples as the new current Frame if, and only if, it has
// exactly Size() samples. Otherwise the previous Frame stays current and an
// ErrMalformedBlock is returned. samples is copied; the caller may reuse it.
func (b *FrameBuffer) Write(samples []float32) error {
	if len(samples) != b.size {
		b.dropped.Add(1)
		return fmt.Errorf("%w: got %d samples, want %d", ErrMalformedBlock, len(samples), b.size)
	}

	frame := &Frame{
		Samples:  make([]float64, b.size),
		Sequence: b.written.Add(1),
		Captured: time.Now(),
	}
	for i, s := range samples {
		frame.Samples[i] = float64(s)
	}

	b.current.Store(frame)
	return nil
}

// Read returns the current Frame: the latest valid write, or the zero frame
// when nothing has been written yet. It never returns nil.
func (b *FrameBuffer) Read() *Frame {
	return b.current.Load()
}

// Ready reports whether at least one valid Frame has been published.
func (b *FrameBuffer) Ready() bool {
	return b.Read().Sequence > 0
}

// Dropped returns the number of rejected blocks.
func (b *FrameBuffer) Dropped() uint64 {
	return b.dropped.Load()
}

// reject counts a block refused before reaching Write.
func (b *FrameBuffer) reject() {
	b.dropped.Add(1)
}
