// Package endpoint defines network destination descriptors for the sender.
//
// An endpoint names a protocol, a host and a port. The protocol selects the
// wire framing and FEC scheme pairing the receiver expects on that port:
// plain RTP, RTP with Reed-Solomon (m=8) source payload, or Reed-Solomon
// (m=8) repair payload. Endpoints are plain values; the sender copies them
// at connect time and they are immutable afterwards.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidEndpoint indicates a malformed or role-incompatible endpoint.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Protocol identifies the wire framing and FEC scheme for one path.
type Protocol uint8

const (
	// ProtoNone is the zero value and is not a valid protocol.
	ProtoNone Protocol = iota
	// ProtoRTP carries bare RTP source packets with no FEC protection.
	ProtoRTP
	// ProtoRTPRS8MSource carries RTP source packets protected by a
	// Reed-Solomon (m=8) scheme on the companion repair path.
	ProtoRTPRS8MSource
	// ProtoRS8MRepair carries Reed-Solomon (m=8) repair packets.
	ProtoRS8MRepair
)

// protocol schemes accepted by Parse
const (
	schemeRTP        = "rtp"
	schemeRTPRS8M    = "rtp+rs8m"
	schemeRS8MRepair = "rs8m"
)

func (p Protocol) String() string {
	switch p {
	case ProtoRTP:
		return schemeRTP
	case ProtoRTPRS8MSource:
		return schemeRTPRS8M
	case ProtoRS8MRepair:
		return schemeRS8MRepair
	default:
		return "unknown"
	}
}

// IsSource reports whether the protocol is valid for the source path.
func (p Protocol) IsSource() bool {
	return p == ProtoRTP || p == ProtoRTPRS8MSource
}

// IsRepair reports whether the protocol is valid for the repair path.
func (p Protocol) IsRepair() bool {
	return p == ProtoRS8MRepair
}

// RequiresFEC reports whether the protocol expects a companion repair path.
func (p Protocol) RequiresFEC() bool {
	return p == ProtoRTPRS8MSource
}

// Endpoint describes one network destination.
type Endpoint struct {
	Protocol Protocol
	Host     string
	Port     int
}

// Validate checks that the endpoint has a known protocol, a non-empty host
// and a port in the valid range.
//
// Returns:
//   - error: ErrInvalidEndpoint wrapped with the offending field, or nil
func (e Endpoint) Validate() error {
	if e.Protocol == ProtoNone || e.Protocol > ProtoRS8MRepair {
		return fmt.Errorf("%w: unknown protocol %d", ErrInvalidEndpoint, e.Protocol)
	}
	if e.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

// Addr returns the host:port form suitable for net address resolution.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Protocol, e.Addr())
}

// Parse parses an endpoint URI of the form "scheme://host:port".
//
// Recognized schemes are "rtp", "rtp+rs8m" and "rs8m".
//
// Parameters:
//   - uri: the endpoint URI string
//
// Returns:
//   - Endpoint: the parsed endpoint
//   - error: ErrInvalidEndpoint if the URI is malformed
func Parse(uri string) (Endpoint, error) {
	scheme, rest, found := strings.Cut(uri, "://")
	if !found {
		return Endpoint{}, fmt.Errorf("%w: missing scheme in %q", ErrInvalidEndpoint, uri)
	}

	var proto Protocol
	switch scheme {
	case schemeRTP:
		proto = ProtoRTP
	case schemeRTPRS8M:
		proto = ProtoRTPRS8MSource
	case schemeRS8MRepair:
		proto = ProtoRS8MRepair
	default:
		return Endpoint{}, fmt.Errorf("%w: unknown scheme %q", ErrInvalidEndpoint, scheme)
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, rest, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, portStr)
	}

	ep := Endpoint{Protocol: proto, Host: host, Port: port}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}
