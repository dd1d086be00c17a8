// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"micscope/cmd"
	"micscope/internal/audio"
	"micscope/internal/config"
	"micscope/internal/fft"
	"micscope/internal/log"
	"micscope/internal/pipeline"
	"micscope/internal/transport"
	"micscope/internal/transport/udp"
	"micscope/internal/tui"
	"micscope/pkg/build"

	"golang.org/x/sync/errgroup"
)

// main is the entry point for the spectrum analyzer.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Initialize PortAudio
//   - Parse configuration (defaults, YAML, environment, flags)
//   - Execute one-off commands if requested
//   - Open the input device and wire the pipeline
//
// 2. Concurrent Phase (Hot Path):
//   - Capture callback publishes frames
//   - Update Driver ticks: normalize, transform, smooth, extract, render
//   - Terminal monitor, WebSocket and UDP sinks consume snapshots
//
// 3. Shutdown Phase (Cold Path):
//   - Quit key or SIGINT/SIGTERM cancels the driver
//   - Capture is stopped, then closed
//   - Recording is finalized and sinks are closed
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		log.Debugf("Development build, missing ldflags: %v", err)
	}

	cfg, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Command == "" {
		return
	}
	applyLogLevel(cfg)

	if err := audio.Initialize(); err != nil {
		log.Fatalf("%v", err)
	}

	err = execute(cfg)
	if termErr := audio.Terminate(); termErr != nil {
		log.Warnf("%v", termErr)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func applyLogLevel(cfg *config.Config) {
	level, _ := log.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = log.LevelDebug
	}
	log.SetLevel(level)
}

// execute runs the selected command.
func execute(cfg *config.Config) error {
	switch cfg.Command {
	case cmd.CommandList:
		return audio.ListDevices(os.Stdout)

	case cmd.CommandPick:
		device, err := tui.PickDevice()
		if err != nil {
			return err
		}
		if device != nil {
			fmt.Printf("Selected [%d] %s\nRun with --device %d\n", device.ID, device.Name, device.ID)
		}
		return nil

	default:
		return run(cfg)
	}
}

// run captures and analyses audio until cancelled.
func run(cfg *config.Config) error {
	logger := log.With("main")
	logger.Infof("Starting %s", build.GetBuildFlags())

	bufferSize := cfg.BufferSize()
	windowFunc, err := fft.ParseWindowFunc(cfg.Analysis.Window)
	if err != nil {
		return err
	}

	state, err := pipeline.NewState(bufferSize, cfg.Analysis.SmoothingAlpha)
	if err != nil {
		return err
	}

	var recorder *audio.Recorder
	if cfg.Recording.Enabled {
		recorder, err = audio.NewRecorder(cfg.Audio.SampleRate, cfg.Recording.BitDepth, bufferSize)
		if err != nil {
			return err
		}
	}

	// Runs on the PortAudio thread: hand the block to the frame buffer and
	// record it only if it was accepted.
	onBlock := func(samples []float32, frameCount int, status error) {
		if state.OnBlock(samples, frameCount, status) != nil || recorder == nil {
			return
		}
		if err := recorder.Write(samples); err != nil {
			logger.Warnf("Recording: %v", err)
		}
	}

	capture, err := audio.Open(cfg, onBlock)
	if err != nil {
		return err
	}

	proc, err := fft.NewProcessor(bufferSize, cfg.Audio.SampleRate, windowFunc)
	if err != nil {
		capture.Close()
		return err
	}

	sinks, monitor, err := openTransports(cfg, capture.DeviceName(), proc.Bins())
	if err != nil {
		capture.Close()
		return err
	}
	defer func() {
		if closeErr := sinks.Close(); closeErr != nil {
			logger.Warnf("Closing transports: %v", closeErr)
		}
	}()

	driver, err := pipeline.NewDriver(state, proc, capture, sinks, pipeline.DriverOptions{
		TickInterval:   cfg.Analysis.TickInterval,
		WindowDuration: cfg.Audio.WindowDuration,
		Decibels:       cfg.Analysis.Decibels,
		DBEpsilon:      cfg.Analysis.DBEpsilon,
	})
	if err != nil {
		capture.Close()
		return err
	}

	if recorder != nil {
		path := cfg.RecordingPath(time.Now())
		if err := recorder.Start(path); err != nil {
			capture.Close()
			return fmt.Errorf("start recording: %w", err)
		}
		logger.Infof("Recording to %s", path)
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// CRITICAL: Start of real-time audio processing. From here on the
	// PortAudio callback publishes frames into state.
	if err := startCapture(capture, recorder); err != nil {
		return err
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return driver.Run(gctx)
	})
	if monitor != nil {
		g.Go(func() error {
			// Quitting the monitor is the cancellation signal.
			defer cancel()
			return monitor.Run(gctx)
		})
	} else {
		logger.Info("Running headless, press Ctrl+C to stop")
	}

	runErr := g.Wait()

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	logger.Infof("Stopped in state %s, %d blocks dropped", driver.State(), state.Frames.Dropped())

	if recorder != nil {
		if stopErr := recorder.Stop(); stopErr != nil {
			runErr = errors.Join(runErr, fmt.Errorf("stop recording: %w", stopErr))
		} else {
			logger.Infof("Recording saved to %s (%d samples)", recorder.Path(), recorder.Frames())
		}
	}
	return runErr
}

// stream is the part of audio.Capture that startCapture drives.
type stream interface {
	Start() error
	Close() error
}

// startCapture starts s. If it cannot be started, s is closed and a
// recording already in progress is finalized so its WAV header is valid.
func startCapture(s stream, recorder *audio.Recorder) error {
	err := s.Start()
	if err == nil {
		return nil
	}

	errs := []error{fmt.Errorf("%w: %w", audio.ErrDeviceOpen, err)}
	if closeErr := s.Close(); closeErr != nil {
		errs = append(errs, fmt.Errorf("close capture: %w", closeErr))
	}
	if recorder != nil && recorder.Recording() {
		if stopErr := recorder.Stop(); stopErr != nil {
			errs = append(errs, fmt.Errorf("stop recording: %w", stopErr))
		}
	}
	return errors.Join(errs...)
}

// openTransports builds the rendering collaborators selected by cfg. The
// returned monitor is nil when running headless.
func openTransports(cfg *config.Config, device string, bins int) (transport.Multi, *tui.Monitor, error) {
	var (
		sinks   transport.Multi
		monitor *tui.Monitor
	)

	if cfg.Monitor {
		monitor = tui.NewMonitor(device, min(cfg.Analysis.TickInterval, 100*time.Millisecond))
		sinks = append(sinks, monitor)
		// The monitor owns the terminal; keep log lines off it.
		if !cfg.Debug {
			log.SetLevel(log.LevelError)
		}
	} else if cfg.Transport.LogEvery > 0 {
		sinks = append(sinks, transport.NewLoggingTransport(cfg.Transport.LogEvery))
	}

	if cfg.Transport.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		if err := ws.Start(); err != nil {
			ws.Close()
			sinks.Close()
			return nil, nil, err
		}
		sinks = append(sinks, ws)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			sinks.Close()
			return nil, nil, err
		}
		publisher, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, bins)
		if err != nil {
			sender.Close()
			sinks.Close()
			return nil, nil, err
		}
		publisher.Start()
		sinks = append(sinks, publisher)
	}

	return sinks, monitor, nil
}
