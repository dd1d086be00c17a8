// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"micscope/internal/log"
	"micscope/internal/pipeline"

	"github.com/sirupsen/logrus"
)

// UDPPublisher keeps the latest Update's spectrum and features, and on its
// own ticker packs them into the binary format below and sends them with a
// UDPSender. Render only copies under a mutex, so the Update Driver never
// waits on the network.
type UDPPublisher struct {
	sender   *UDPSender
	interval time.Duration
	logger   *logrus.Entry

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	latestMu  sync.Mutex
	latest    []float32 // Spectrum of the last rendered Update.
	peak      float32
	dominant  float32
	hasLatest bool

	sequenceNum uint32

	// Owned by the publisher goroutine.
	sendBuffer   []float32
	packetBuffer *bytes.Buffer
	sendFailures uint64
	lastWarn     time.Time
}

// sendWarnInterval limits send failure warnings to one per interval.
const sendWarnInterval = 5 * time.Second

// NewUDPPublisher creates a publisher for spectra of bins magnitudes.
// If the provided interval is invalid (<= 0), it defaults to 33ms (~30Hz).
func NewUDPPublisher(interval time.Duration, sender *UDPSender, bins int) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if bins < 1 || bins > MaxBins {
		return nil, fmt.Errorf("UDPPublisher: %d bins do not fit one %d-byte datagram (max %d bins)",
			bins, MaxDatagramSize, MaxBins)
	}

	logger := log.With("udp")
	if interval <= 0 {
		interval = 33 * time.Millisecond
		logger.Warnf("Invalid publish interval, defaulting to %s", interval)
	}
	logger.Infof("Publisher initializing (interval %s, %d bins)", interval, bins)

	return &UDPPublisher{
		sender:       sender,
		interval:     interval,
		logger:       logger,
		latest:       make([]float32, bins),
		sendBuffer:   make([]float32, bins),
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Render stores the spectrum and features of u for the next packet.
func (p *UDPPublisher) Render(u *pipeline.Update) error {
	if len(u.Spectrum) != len(p.latest) {
		return fmt.Errorf("UDPPublisher: spectrum has %d bins, want %d", len(u.Spectrum), len(p.latest))
	}

	p.latestMu.Lock()
	for i, v := range u.Spectrum {
		p.latest[i] = float32(v)
	}
	p.peak = float32(u.Features.PeakAmplitude)
	p.dominant = float32(u.Features.DominantFrequency)
	p.hasLatest = true
	p.latestMu.Unlock()
	return nil
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		p.logger.Warn("Publisher Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debugf("Publisher stopped after %d packets", p.sequenceNum)
	return nil
}

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field              | Data Type | Size (Bytes) | Description                 |
|--------------------|-----------|--------------|-----------------------------|
| Sequence Number    | uint32    | 4            | Monotonically increasing    |
| Timestamp          | int64     | 8            | Nanoseconds since epoch     |
| Peak Amplitude     | float32   | 4            | Raw frame peak |sample|     |
| Dominant Frequency | float32   | 4            | Hz                          |
| Magnitude Count    | uint16    | 2            | Number of floats (N)        |
| Magnitudes         | []float32 | N * 4        | Smoothed (or dB) spectrum   |
+-----------------------------------------------------------------------------+
*/

const (
	// HeaderSize is the packet length without magnitudes.
	HeaderSize = 4 + 8 + 4 + 4 + 2

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507

	// MaxBins is the largest spectrum that fits one datagram.
	MaxBins = (MaxDatagramSize - HeaderSize) / 4
)

// Packet is a decoded publisher packet.
type Packet struct {
	Sequence          uint32
	Timestamp         time.Time
	PeakAmplitude     float32
	DominantFrequency float32
	Magnitudes        []float32
}

type packetHeader struct {
	Sequence          uint32
	Timestamp         int64
	PeakAmplitude     float32
	DominantFrequency float32
	Count             uint16
}

// DecodePacket parses a packet produced by UDPPublisher.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes", len(data))
	}

	r := bytes.NewReader(data)
	var h packetHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if want := HeaderSize + int(h.Count)*4; len(data) != want {
		return nil, fmt.Errorf("packet length %d does not match %d magnitudes", len(data), h.Count)
	}

	mags := make([]float32, h.Count)
	if err := binary.Read(r, binary.BigEndian, mags); err != nil {
		return nil, fmt.Errorf("decode magnitudes: %w", err)
	}

	return &Packet{
		Sequence:          h.Sequence,
		Timestamp:         time.Unix(0, h.Timestamp),
		PeakAmplitude:     h.PeakAmplitude,
		DominantFrequency: h.DominantFrequency,
		Magnitudes:        mags,
	}, nil
}

// buildAndSendPacket packs the latest snapshot and sends it. Nothing is
// sent before the first Render.
func (p *UDPPublisher) buildAndSendPacket() {
	p.latestMu.Lock()
	if !p.hasLatest {
		p.latestMu.Unlock()
		return
	}
	copy(p.sendBuffer, p.latest)
	h := packetHeader{
		PeakAmplitude:     p.peak,
		DominantFrequency: p.dominant,
		Count:             uint16(len(p.sendBuffer)),
	}
	p.latestMu.Unlock()

	p.sequenceNum++
	h.Sequence = p.sequenceNum
	h.Timestamp = time.Now().UnixNano()

	p.packetBuffer.Reset()
	err := binary.Write(p.packetBuffer, binary.BigEndian, &h)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, p.sendBuffer)
	}
	if err != nil {
		p.logger.Errorf("Error packing packet %d: %v", h.Sequence, err)
		return
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		p.sendFailures++
		if now := time.Now(); now.Sub(p.lastWarn) >= sendWarnInterval {
			p.lastWarn = now
			p.logger.WithField("failures", p.sendFailures).
				Warnf("Sending packet %d failed: %v", h.Sequence, err)
		}
		return
	}
	p.logger.Debugf("Sent packet %d (%d bytes)", h.Sequence, p.packetBuffer.Len())
}

// Close stops the publisher and closes its sender.
func (p *UDPPublisher) Close() error {
	return errors.Join(p.Stop(), p.sender.Close())
}
