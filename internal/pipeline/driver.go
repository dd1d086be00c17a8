// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"micscope/internal/fft"
	"micscope/internal/log"

	"github.com/sirupsen/logrus"
)

// DriverState is the Update Driver's lifecycle state.
type DriverState int32

const (
	AwaitingFirstFrame DriverState = iota
	SteadyTicking
	ShuttingDown
)

func (s DriverState) String() string {
	switch s {
	case AwaitingFirstFrame:
		return "AWAITING_FIRST_FRAME"
	case SteadyTicking:
		return "STEADY_TICKING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return fmt.Sprintf("DriverState(%d)", int32(s))
	}
}

// Source is the part of the capture device the Driver tears down on shutdown.
type Source interface {
	Stop() error
	Close() error
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	TickInterval   time.Duration // Period between ticks, independent of the capture block rate
	WindowDuration float64       // Seconds per frame, for the waveform time axis
	Decibels       bool          // Render the dB projection instead of linear magnitudes
	DBEpsilon      float64       // Added before log10 in the dB projection
}

// Driver runs the periodic tick: read Frame → Normalize → Transform →
// Smoother.Update → Extract → Render. All pipeline buffers are allocated up
// front and reused every tick.
type Driver struct {
	state    *State
	fftProc  *fft.Processor
	source   Source
	renderer Renderer
	opts     DriverOptions

	current  atomic.Int32
	ticks    uint64
	stopOnce sync.Once
	stopErr  error
	logger   *logrus.Entry

	waveform  []float64
	magnitude []float64
	decibels  []float64
	freqs     []float64
	times     []float64
	update    Update
}

// NewDriver wires a Driver. source may be nil when nothing needs tearing down.
func NewDriver(state *State, fftProc *fft.Processor, source Source, renderer Renderer, opts DriverOptions) (*Driver, error) {
	if state == nil || fftProc == nil || renderer == nil {
		return nil, errors.New("driver requires state, fft processor and renderer")
	}
	if fftProc.Size() != state.Frames.Size() {
		return nil, fmt.Errorf("fft size %d does not match frame size %d", fftProc.Size(), state.Frames.Size())
	}
	if opts.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s", opts.TickInterval)
	}

	n := fftProc.Size()
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * opts.WindowDuration / float64(n-1)
	}

	return &Driver{
		state:     state,
		fftProc:   fftProc,
		source:    source,
		renderer:  renderer,
		opts:      opts,
		logger:    log.With("driver"),
		waveform:  make([]float64, n),
		magnitude: make([]float64, fftProc.Bins()),
		decibels:  make([]float64, fftProc.Bins()),
		freqs:     fftProc.FrequencyTable(),
		times:     times,
	}, nil
}

// State returns the current lifecycle state. Safe to call from any goroutine.
func (d *Driver) State() DriverState {
	return DriverState(d.current.Load())
}

// Run ticks every TickInterval until ctx is cancelled, then stops and
// closes the Source, in that order, and returns their combined error. A
// tick in progress when ctx is cancelled runs to completion; no tick starts
// afterwards.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	d.logger.Infof("Update driver started (interval %s, %d-sample frames)", d.opts.TickInterval, d.fftProc.Size())

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case <-ticker.C:
		}

		// Both cases may be ready at once; cancellation wins.
		if ctx.Err() != nil {
			return d.shutdown()
		}
		d.Tick()
	}
}

// Tick runs one pass of the pipeline and reports whether the renderer was
// called. While no valid Frame has arrived it does nothing. Tick must only
// be called from one goroutine at a time; Run does so.
func (d *Driver) Tick() bool {
	if d.State() == ShuttingDown {
		return false
	}

	frame := d.state.Frames.Read()
	if frame.Sequence == 0 {
		return false
	}
	if d.current.CompareAndSwap(int32(AwaitingFirstFrame), int32(SteadyTicking)) {
		d.logger.Infof("First frame received, state %s", SteadyTicking)
	}

	peak := Normalize(d.waveform, frame.Samples)

	if err := d.fftProc.Transform(d.magnitude, d.waveform); err != nil {
		d.logger.Errorf("Transform failed: %v", err)
		return false
	}

	smoothed, err := d.state.Smoother.Update(d.magnitude)
	if err != nil {
		d.logger.Errorf("Smoother update failed: %v", err)
		return false
	}

	display := smoothed
	if d.opts.Decibels {
		ToDecibels(d.decibels, smoothed, d.opts.DBEpsilon)
		display = d.decibels
	}

	features := Extract(smoothed, display, d.freqs, d.opts.DBEpsilon)
	features.PeakAmplitude = peak

	d.ticks++
	d.update = Update{
		Tick:        d.ticks,
		FrameSeq:    frame.Sequence,
		Timestamp:   time.Now(),
		Waveform:    d.waveform,
		Time:        d.times,
		Frequencies: d.freqs,
		Spectrum:    display,
		Decibels:    d.opts.Decibels,
		Features:    features,
	}

	if err := d.renderer.Render(&d.update); err != nil {
		d.logger.Warnf("Renderer failed on tick %d: %v", d.ticks, err)
	}
	return true
}

// shutdown enters SHUTTING_DOWN and releases the Source exactly once.
func (d *Driver) shutdown() error {
	d.stopOnce.Do(func() {
		d.current.Store(int32(ShuttingDown))
		d.logger.Infof("Shutting down after %d ticks", d.ticks)

		if d.source == nil {
			return
		}
		var errs []error
		if err := d.source.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
		if err := d.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}
		d.stopErr = errors.Join(errs...)
	})
	return d.stopErr
}
