// Package audio defines the sample formats and frame types accepted by the
// sender pipeline.
//
// A frame is a slice of interleaved float32 PCM samples tagged with the
// format it was produced in. The sender validates every incoming frame
// against the format it was opened with before the samples enter the
// pipeline, so downstream stages never see mixed formats.
package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors for frame validation.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrFormatMismatch indicates a frame's format differs from the
	// format the session was configured with.
	ErrFormatMismatch = errors.New("frame format mismatch")

	// ErrInvalidFrameLength indicates a frame's sample count is zero or
	// not a whole multiple of the channel count.
	ErrInvalidFrameLength = errors.New("invalid frame length")

	// ErrInvalidFormat indicates a format with an unset or unknown field.
	ErrInvalidFormat = errors.New("invalid audio format")
)

// ChannelLayout identifies the channel arrangement of interleaved samples.
type ChannelLayout uint8

const (
	// LayoutNone is the zero value and is not a valid layout.
	LayoutNone ChannelLayout = iota
	// LayoutMono is a single channel.
	LayoutMono
	// LayoutStereo is two interleaved channels, left first.
	LayoutStereo
)

// Channels returns the number of channels in the layout.
func (l ChannelLayout) Channels() int {
	switch l {
	case LayoutMono:
		return 1
	case LayoutStereo:
		return 2
	default:
		return 0
	}
}

func (l ChannelLayout) String() string {
	switch l {
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	default:
		return "unknown"
	}
}

// Encoding identifies the in-memory sample encoding of a frame.
type Encoding uint8

const (
	// EncodingNone is the zero value and is not a valid encoding.
	EncodingNone Encoding = iota
	// EncodingPCMFloat32 is 32-bit IEEE 754 float PCM in the range [-1, 1].
	EncodingPCMFloat32
)

// SampleSize returns the size of one encoded sample in bytes.
func (e Encoding) SampleSize() int {
	switch e {
	case EncodingPCMFloat32:
		return 4
	default:
		return 0
	}
}

func (e Encoding) String() string {
	switch e {
	case EncodingPCMFloat32:
		return "pcm_float32"
	default:
		return "unknown"
	}
}

// Format describes the shape of a sample stream: rate, layout and encoding.
//
// The zero value is not valid; use Validate before relying on a format
// received from a caller.
type Format struct {
	SampleRate uint32
	Layout     ChannelLayout
	Encoding   Encoding
}

// Validate checks that every field of the format is set and known.
//
// Returns:
//   - error: ErrInvalidFormat wrapped with the offending field, or nil
func (f Format) Validate() error {
	if f.SampleRate == 0 {
		return fmt.Errorf("%w: sample rate is zero", ErrInvalidFormat)
	}
	if f.Layout.Channels() == 0 {
		return fmt.Errorf("%w: unknown channel layout %d", ErrInvalidFormat, f.Layout)
	}
	if f.Encoding.SampleSize() == 0 {
		return fmt.Errorf("%w: unknown encoding %d", ErrInvalidFormat, f.Encoding)
	}
	return nil
}

// Equal reports whether two formats are identical in all fields.
func (f Format) Equal(other Format) bool {
	return f.SampleRate == other.SampleRate &&
		f.Layout == other.Layout &&
		f.Encoding == other.Encoding
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%s/%s", f.SampleRate, f.Layout, f.Encoding)
}
