// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// Recorder writes mono float32 blocks to a PCM WAV file.
type Recorder struct {
	sampleRate int
	bitDepth   int
	maxValue   float64

	mu          sync.Mutex
	isRecording int32 // Atomic flag, checked before taking mu
	path        string
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion
	frames      int
}

// NewRecorder returns a stopped Recorder. bitDepth must be 16 or 24.
func NewRecorder(sampleRate float64, bitDepth, blockSize int) (*Recorder, error) {
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth %d, want 16 or 24", bitDepth)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	return &Recorder{
		sampleRate: int(sampleRate),
		bitDepth:   bitDepth,
		maxValue:   float64(int(1)<<(bitDepth-1) - 1),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: 1,
				SampleRate:  int(sampleRate),
			},
			Data:           make([]int, blockSize),
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// Start creates filename (and its directory) and begins accepting blocks.
func (r *Recorder) Start(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadInt32(&r.isRecording) == 1 {
		return fmt.Errorf("already recording to %s", r.path)
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create recording directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	r.outputFile = file
	r.path = filename
	r.frames = 0
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, r.bitDepth, 1, wavFormatPCM)

	atomic.StoreInt32(&r.isRecording, 1)
	return nil
}

// Write appends one block. Samples are clipped to [-1, 1] and scaled to
// the configured bit depth. Writing while stopped is a no-op.
func (r *Recorder) Write(samples []float32) error {
	if atomic.LoadInt32(&r.isRecording) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wavEncoder == nil {
		return nil
	}

	if cap(r.sampleBuf.Data) < len(samples) {
		r.sampleBuf.Data = make([]int, len(samples))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(samples)]

	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		r.sampleBuf.Data[i] = int(math.Round(v * r.maxValue))
	}

	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		return fmt.Errorf("write wav block: %w", err)
	}
	r.frames += len(samples)
	return nil
}

// Stop finalizes the WAV header and closes the file. Stopping a stopped
// Recorder is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadInt32(&r.isRecording) == 0 {
		return nil
	}
	atomic.StoreInt32(&r.isRecording, 0)

	var errs []error
	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("finalize wav: %w", err))
		}
		r.wavEncoder = nil
	}

	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			errs = append(errs, err)
		}
		r.outputFile = nil
	}

	return errors.Join(errs...)
}

// Recording reports whether blocks are currently being written.
func (r *Recorder) Recording() bool {
	return atomic.LoadInt32(&r.isRecording) == 1
}

// Path returns the file of the current or last recording.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Frames returns the number of samples written to the current or last
// recording.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
