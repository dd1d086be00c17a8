// SPDX-License-Identifier: MIT
/*
Package audio captures mono float32 blocks from a PortAudio input device
and records them to WAV.

Thread Safety:
- The BlockHandler runs on PortAudio's callback thread; it must not block
- Capture lifecycle methods (Start/Stop/Close) are serialized internally
- Recorder.Write may run on the callback thread while Stop runs elsewhere
*/
package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"micscope/internal/config"
	"micscope/internal/log"

	"github.com/gordonklaus/portaudio"
)

// ErrDeviceOpen reports that the input device could not be opened. It is
// fatal at startup.
var ErrDeviceOpen = errors.New("cannot open input device")

// StatusError carries the PortAudio callback flags of a block captured
// under an overflow or underflow condition.
type StatusError struct {
	Flags portaudio.StreamCallbackFlags
}

func (e *StatusError) Error() string {
	var parts []string
	if e.Flags&portaudio.InputUnderflow != 0 {
		parts = append(parts, "input underflow")
	}
	if e.Flags&portaudio.InputOverflow != 0 {
		parts = append(parts, "input overflow")
	}
	if e.Flags&portaudio.OutputUnderflow != 0 {
		parts = append(parts, "output underflow")
	}
	if e.Flags&portaudio.OutputOverflow != 0 {
		parts = append(parts, "output overflow")
	}
	if e.Flags&portaudio.PrimingOutput != 0 {
		parts = append(parts, "priming output")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("stream status 0x%x", uint64(e.Flags))
	}
	return "stream status: " + strings.Join(parts, ", ")
}

// statusError returns nil for a clean block.
func statusError(flags portaudio.StreamCallbackFlags) error {
	if flags == 0 {
		return nil
	}
	return &StatusError{Flags: flags}
}

// BlockHandler receives each captured block. samples is reused by PortAudio
// after the call returns. status is nil, or a *StatusError.
type BlockHandler func(samples []float32, frameCount int, status error)

// Capture is a mono float32 input stream delivering blocks of exactly
// BufferSize frames to a BlockHandler.
type Capture struct {
	device     *portaudio.DeviceInfo
	latency    time.Duration
	sampleRate float64
	bufferSize int
	handler    BlockHandler

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
}

// Open resolves the configured input device and opens a stream on it. The
// stream does not deliver blocks until Start. Failures wrap ErrDeviceOpen.
func Open(cfg *config.Config, handler BlockHandler) (*Capture, error) {
	if handler == nil {
		return nil, errors.New("capture requires a block handler")
	}

	device, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceOpen, err)
	}

	c := &Capture{
		device:     device,
		sampleRate: cfg.Audio.SampleRate,
		bufferSize: cfg.BufferSize(),
		handler:    handler,
	}
	if cfg.Audio.LowLatency {
		c.latency = device.DefaultLowInputLatency
	} else {
		c.latency = device.DefaultHighInputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   device,
			Latency:  c.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: c.bufferSize,
		SampleRate:      c.sampleRate,
	}

	stream, err := portaudio.OpenStream(params, c.processInputStream)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrDeviceOpen, device.Name, err)
	}
	c.stream = stream

	log.With("capture").Infof("Opened %q at %.0f Hz, %d frames per block, latency %s",
		device.Name, c.sampleRate, c.bufferSize, c.latency)
	return c, nil
}

// DeviceName returns the name of the opened input device.
func (c *Capture) DeviceName() string {
	return c.device.Name
}

// BufferSize returns the number of frames per delivered block.
func (c *Capture) BufferSize() int {
	return c.bufferSize
}

// Start begins delivering blocks to the handler.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return errors.New("capture stream is closed")
	}
	if c.running {
		return nil
	}
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	c.running = true
	return nil
}

// Stop halts delivery. Stopping a stopped or closed Capture is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil || !c.running {
		return nil
	}
	c.running = false
	return c.stream.Stop()
}

// Close releases the stream. It is safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	c.running = false
	return err
}

// processInputStream is the PortAudio callback. It runs on the audio
// thread, so it only converts the flags and hands the block on.
func (c *Capture) processInputStream(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	c.handler(in, len(in), statusError(flags))
}
