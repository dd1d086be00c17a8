// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"micscope/internal/log"
	"micscope/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPacket(t *testing.T, conn *net.UDPConn) *Packet {
	t.Helper()
	buf := make([]byte, 65535)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	p, err := DecodePacket(buf[:n])
	require.NoError(t, err)
	return p
}

func TestPublisherSendsLatestUpdate(t *testing.T) {
	listener := listenLoopback(t)

	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	pub, err := NewUDPPublisher(5*time.Millisecond, sender, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	require.NoError(t, pub.Render(&pipeline.Update{
		Tick:     1,
		Spectrum: []float64{0.5, 2, 0.25, 0},
		Features: pipeline.Features{PeakAmplitude: 0.75, DominantFrequency: 1000},
	}))
	pub.Start()

	first := readPacket(t, listener)
	second := readPacket(t, listener)

	assert.Equal(t, uint32(1), first.Sequence)
	assert.Equal(t, uint32(2), second.Sequence)
	assert.Equal(t, []float32{0.5, 2, 0.25, 0}, first.Magnitudes)
	assert.Equal(t, float32(0.75), first.PeakAmplitude)
	assert.Equal(t, float32(1000), first.DominantFrequency)
	assert.WithinDuration(t, time.Now(), first.Timestamp, 5*time.Second)
}

func TestPublisherSilentBeforeFirstRender(t *testing.T) {
	listener := listenLoopback(t)

	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	pub, err := NewUDPPublisher(2*time.Millisecond, sender, 4)
	require.NoError(t, err)

	pub.Start()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pub.Close())

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, _, err = listener.ReadFromUDP(make([]byte, 64))
	assert.Error(t, err, "no packet expected before the first Render")
}

func TestPublisherRejectsWrongBinCount(t *testing.T) {
	listener := listenLoopback(t)
	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	pub, err := NewUDPPublisher(time.Second, sender, 4)
	require.NoError(t, err)
	defer pub.Close()

	assert.Error(t, pub.Render(&pipeline.Update{Spectrum: make([]float64, 3)}))
}

func TestPublisherStopIsIdempotent(t *testing.T) {
	listener := listenLoopback(t)
	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	pub, err := NewUDPPublisher(time.Millisecond, sender, 1)
	require.NoError(t, err)

	require.NoError(t, pub.Stop())
	pub.Start()
	pub.Start()
	require.NoError(t, pub.Stop())
	require.NoError(t, pub.Stop())
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	assert.Error(t, sender.Send([]byte{1}), "sender must be closed with the publisher")
}

func TestNewUDPPublisherValidation(t *testing.T) {
	_, err := NewUDPPublisher(time.Second, nil, 4)
	assert.Error(t, err)

	listener := listenLoopback(t)
	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	_, err = NewUDPPublisher(time.Second, sender, 0)
	assert.Error(t, err)
	_, err = NewUDPPublisher(time.Second, sender, 70000)
	assert.Error(t, err)

	pub, err := NewUDPPublisher(0, sender, 4)
	require.NoError(t, err)
	assert.Equal(t, 33*time.Millisecond, pub.interval)
}

func TestNewUDPPublisherDatagramLimit(t *testing.T) {
	listener := listenLoopback(t)
	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	assert.LessOrEqual(t, HeaderSize+MaxBins*4, MaxDatagramSize)
	assert.Greater(t, HeaderSize+(MaxBins+1)*4, MaxDatagramSize)

	pub, err := NewUDPPublisher(time.Second, sender, MaxBins)
	require.NoError(t, err)
	assert.Len(t, pub.latest, MaxBins)

	// 48 kHz with a one second window.
	_, err = NewUDPPublisher(time.Second, sender, 24001)
	assert.ErrorContains(t, err, "datagram")
	_, err = NewUDPPublisher(time.Second, sender, MaxBins+1)
	assert.Error(t, err)
}

func TestPublisherWarnsOnSendFailure(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.GetLevel())
	log.SetLevel(log.LevelInfo)

	listener := listenLoopback(t)
	sender, err := NewUDPSender(listener.LocalAddr().String())
	require.NoError(t, err)
	pub, err := NewUDPPublisher(time.Hour, sender, 2)
	require.NoError(t, err)
	require.NoError(t, pub.Render(&pipeline.Update{Spectrum: []float64{1, 2}}))
	require.NoError(t, sender.Close())

	pub.buildAndSendPacket()
	pub.buildAndSendPacket()
	pub.buildAndSendPacket()

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Sending packet"), "warnings are rate limited: %s", out)
	assert.Contains(t, out, "level=warning")
	assert.Equal(t, uint64(3), pub.sendFailures)
}

func TestDecodePacketErrors(t *testing.T) {
	_, err := DecodePacket(make([]byte, HeaderSize-1))
	assert.Error(t, err)

	// Header claims two magnitudes but carries none.
	data := make([]byte, HeaderSize)
	data[HeaderSize-1] = 2
	_, err = DecodePacket(data)
	assert.Error(t, err)
}

func TestNewUDPSenderBadAddress(t *testing.T) {
	_, err := NewUDPSender("not-an-address")
	assert.Error(t, err)
}
