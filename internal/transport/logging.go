// SPDX-License-Identifier: MIT
package transport

import (
	"micscope/internal/log"
	"micscope/internal/pipeline"

	"github.com/sirupsen/logrus"
)

// LoggingTransport implements the Transport interface by logging the
// features of every Nth Update. It is the renderer of headless runs.
type LoggingTransport struct {
	every  uint64
	logger *logrus.Entry
}

// NewLoggingTransport creates a LoggingTransport logging one Update in
// every. every must be positive.
func NewLoggingTransport(every int) *LoggingTransport {
	if every < 1 {
		every = 1
	}
	logger := log.With("transport")
	logger.Infof("Using LoggingTransport, one snapshot every %d ticks", every)
	return &LoggingTransport{every: uint64(every), logger: logger}
}

// Render logs u when its tick is a multiple of the configured interval, and
// always logs the first Update.
func (lt *LoggingTransport) Render(u *pipeline.Update) error {
	if u.Tick != 1 && u.Tick%lt.every != 0 {
		return nil
	}

	lt.logger.WithFields(logrus.Fields{
		"tick":      u.Tick,
		"frame":     u.FrameSeq,
		"peak":      u.Features.PeakAmplitude,
		"dominant":  u.Features.DominantFrequency,
		"amplitude": u.Features.DominantAmplitude,
		"db":        u.Features.DominantDB,
	}).Info("Spectrum snapshot")
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	lt.logger.Debug("LoggingTransport closed")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
