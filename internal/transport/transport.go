// SPDX-License-Identifier: MIT
package transport

import (
	"errors"

	"spectra/internal/display"
)

// ErrClosed is returned by Send once a transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a display renderer that owns an external resource.
// Send is called from a single surface goroutine; Close may be called from
// any goroutine.
type Transport interface {
	display.Renderer
	Close() error
}
