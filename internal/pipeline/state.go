// SPDX-License-Identifier: MIT
package pipeline

import (
	"fmt"

	"micscope/internal/log"
)

// State is the pipeline's explicit owned state: the current Frame, written
// by the capture side, and the smoothed spectrum, written only by the
// Smoother. It replaces process-wide variables and is handed by reference
// to the capture callback and the Driver.
type State struct {
	Frames   *FrameBuffer
	Smoother *Smoother
}

// NewState allocates a zeroed State for frames of bufferSize samples.
func NewState(bufferSize int, alpha float64) (*State, error) {
	if bufferSize < 2 {
		return nil, fmt.Errorf("buffer size must be at least 2, got %d", bufferSize)
	}
	smoother, err := NewSmoother(bufferSize/2, alpha)
	if err != nil {
		return nil, err
	}
	return &State{
		Frames:   NewFrameBuffer(bufferSize),
		Smoother: smoother,
	}, nil
}

// OnBlock accepts one block from the capture device. A non-nil status or a
// length other than the buffer size drops the block with a diagnostic; the
// previous Frame stays current and capture continues. The returned error
// wraps ErrMalformedBlock when the block was dropped.
func (s *State) OnBlock(samples []float32, frameCount int, status error) error {
	if status != nil {
		s.Frames.reject()
		log.With("capture").Warnf("Dropping block of %d frames: %v (dropped so far: %d)",
			frameCount, status, s.Frames.Dropped())
		return fmt.Errorf("%w: %w", ErrMalformedBlock, status)
	}

	if err := s.Frames.Write(samples); err != nil {
		log.With("capture").Warnf("Dropping block: %v (dropped so far: %d)", err, s.Frames.Dropped())
		return err
	}
	return nil
}
