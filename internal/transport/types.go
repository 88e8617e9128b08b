// Package transport abstracts raw frame transmission. Implementations must
// be safe for concurrent Send calls from multiple workers; the scheduler
// never serializes sends across frames.
package transport

import "errors"

var (
	ErrClosed       = errors.New("transport closed")
	ErrFrameTooLong = errors.New("frame payload too long")
)

// Flags qualify a single transmission.
type Flags struct {
	// Extended forces a 29-bit identifier. Identifiers >= 0x800 are
	// promoted to extended automatically.
	Extended bool
}

// Transport sends raw frames on the bus.
type Transport interface {
	Send(id uint32, data []byte, flags Flags) error
	Close() error
}
