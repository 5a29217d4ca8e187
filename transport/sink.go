// Package transport implements the dual-path network sink of the sender
// pipeline.
//
// A sink owns up to two independent unreliable datagram paths: the source
// path carrying media packets and the repair path carrying FEC packets.
// Paths connect and disconnect independently, which is what makes the
// repair path optional for unprotected streaming.
//
// Delivery is best-effort and non-blocking: Send enqueues the datagram on a
// bounded per-path queue drained by a background goroutine, and reports
// ErrUnavailable when the queue is full. Socket faults observed during
// asynchronous transmission are latched per path and surfaced by later
// Send calls.
package transport

import (
	"errors"
)

// Sentinel errors for sink operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrUnavailable indicates the path's outbound queue cannot accept
	// more data right now. Transient; the caller may retry shortly.
	ErrUnavailable = errors.New("transport unavailable")

	// ErrUnreachable indicates the destination could not be resolved or
	// the socket reported delivery failures.
	ErrUnreachable = errors.New("endpoint unreachable")

	// ErrPathNotConnected indicates a send on an unconnected path.
	ErrPathNotConnected = errors.New("path not connected")

	// ErrPathAlreadyConnected indicates a second connect on a path.
	ErrPathAlreadyConnected = errors.New("path already connected")

	// ErrSinkClosed indicates an operation on a closed sink.
	ErrSinkClosed = errors.New("sink closed")
)

// Path identifies one of the two transmission paths.
type Path uint8

const (
	// PathSource carries media source packets.
	PathSource Path = iota
	// PathRepair carries FEC repair packets.
	PathRepair
)

func (p Path) String() string {
	switch p {
	case PathSource:
		return "source"
	case PathRepair:
		return "repair"
	default:
		return "unknown"
	}
}

// Sink delivers packets over independently connected paths.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Connect binds a path to a destination.
	Connect(path Path, addr string) error

	// Disconnect releases one path, flushing its queued datagrams.
	Disconnect(path Path) error

	// Connected reports whether a path is bound.
	Connected(path Path) bool

	// Send enqueues one datagram on a path without blocking.
	Send(path Path, data []byte) error

	// Fault returns the latched asynchronous fault of a path, if any.
	Fault(path Path) error

	// Close releases all paths and stops background activity. It does
	// not return before the drain goroutines have quiesced.
	Close() error
}
