package roc

import (
	"errors"

	"github.com/joyskmathew/roc-toolkit/audio"
	"github.com/joyskmathew/roc-toolkit/endpoint"
	"github.com/joyskmathew/roc-toolkit/fec"
	"github.com/joyskmathew/roc-toolkit/transport"
)

// Sentinel errors for sender and context lifecycle.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrInvalidConfig indicates a bad session or context configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotConnected indicates a write before the source endpoint was
	// connected.
	ErrNotConnected = errors.New("source endpoint not connected")

	// ErrAlreadyConnected indicates the endpoint role is already bound.
	ErrAlreadyConnected = errors.New("endpoint role already connected")

	// ErrAlreadyActive indicates a connect after the first write.
	ErrAlreadyActive = errors.New("sender is already active")

	// ErrBackpressure indicates the pipeline cannot accept more frames
	// right now. Transient; retry after a short delay.
	ErrBackpressure = errors.New("sender backpressure")

	// ErrSessionClosed indicates an operation on a closed sender.
	ErrSessionClosed = errors.New("sender is closed")

	// ErrAlreadyClosed indicates a second Close on a sender.
	ErrAlreadyClosed = errors.New("sender already closed")

	// ErrContextClosed indicates an operation on a closed context.
	ErrContextClosed = errors.New("context is closed")

	// ErrContextBusy indicates a context Close while senders are open.
	ErrContextBusy = errors.New("context has open senders")
)

// Errors re-exported from pipeline packages so callers can classify every
// failure against this package alone.
var (
	// ErrFormatMismatch indicates a frame whose format differs from the
	// sender's configured format.
	ErrFormatMismatch = audio.ErrFormatMismatch

	// ErrInvalidFrameLength indicates a frame whose sample count is not
	// a positive multiple of the channel count.
	ErrInvalidFrameLength = audio.ErrInvalidFrameLength

	// ErrInvalidEndpoint indicates a malformed or role-incompatible
	// endpoint.
	ErrInvalidEndpoint = endpoint.ErrInvalidEndpoint

	// ErrEncodeFailure indicates an internal FEC fault; fatal to the
	// session.
	ErrEncodeFailure = fec.ErrEncodeFailure

	// ErrTransportUnavailable indicates a full transport queue.
	// Transient; retry after a short delay.
	ErrTransportUnavailable = transport.ErrUnavailable

	// ErrEndpointUnreachable indicates an unresolvable or refusing
	// destination.
	ErrEndpointUnreachable = transport.ErrUnreachable
)
