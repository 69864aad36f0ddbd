// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	"spectra/internal/display"
	applog "spectra/internal/log"
)

// LoggingTransport implements the Transport interface by logging a summary of
// every Nth view. Useful for headless runs and debugging.
type LoggingTransport struct {
	every  uint64
	count  atomic.Uint64
	closed atomic.Bool
}

// NewLoggingTransport creates a LoggingTransport that logs one view out of
// every; values below 1 log every view.
func NewLoggingTransport(every int) *LoggingTransport {
	if every < 1 {
		every = 1
	}
	applog.Infof("Transport: Using LoggingTransport (1 in %d views)", every)
	return &LoggingTransport{every: uint64(every)}
}

// Send logs the view summary at debug level.
func (lt *LoggingTransport) Send(view *display.View) error {
	if lt.closed.Load() {
		return ErrClosed
	}
	if lt.count.Add(1)%lt.every != 0 {
		return nil
	}

	peak := 0.0
	if len(view.Bands) > 0 {
		peak = view.Bands[view.PeakIndex]
	}
	applog.Debugf("LOG_TRANSPORT: %s #%d rms=%.3f peak=%.3f@%d latency=%s",
		view.Surface, view.Seq, view.RMS, peak, view.PeakIndex, view.Latency)
	return nil
}

// Sent returns the number of views handed to the transport.
func (lt *LoggingTransport) Sent() uint64 {
	return lt.count.Load()
}

// Close is a no-op beyond refusing further views.
func (lt *LoggingTransport) Close() error {
	lt.closed.Store(true)
	applog.Debugf("LOG_TRANSPORT: Close called.")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
