// Package capture defines the frame source contract.
//
// A Source is either Open (Read returns frames) or Closed. The first failed
// read moves it to Closed for good: there is no retry and no reconnect.
package capture

import (
	"context"
	"errors"
	"image"
)

// ErrClosed is returned by Read once the source reported end of stream,
// lost its device or was closed.
var ErrClosed = errors.New("capture: source closed")

type Source interface {
	// Read blocks until the next frame. The returned frame is owned by the
	// caller.
	Read(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// Opener acquires a Source. It is called once per stream.
type Opener func() (Source, error)
