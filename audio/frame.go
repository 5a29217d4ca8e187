package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frame is a caller-supplied buffer of interleaved samples.
//
// The sender copies the sample slice during a successful write, so the
// caller is free to reuse the backing array as soon as the write returns.
type Frame struct {
	Format  Format
	Samples []float32
}

// NewFrame creates a frame wrapping the given samples.
//
// The samples are not copied; the frame borrows the slice until it is
// handed to the sender.
func NewFrame(format Format, samples []float32) *Frame {
	return &Frame{Format: format, Samples: samples}
}

// Validate checks the frame against the format a session was opened with.
//
// Parameters:
//   - sessionFormat: the format declared at session open
//
// Returns:
//   - error: ErrFormatMismatch if rate, layout or encoding differ,
//     ErrInvalidFrameLength if the sample count is zero or not a whole
//     multiple of the channel count, nil otherwise
func (f *Frame) Validate(sessionFormat Format) error {
	if !f.Format.Equal(sessionFormat) {
		return fmt.Errorf("%w: frame is %s, session is %s",
			ErrFormatMismatch, f.Format, sessionFormat)
	}
	channels := sessionFormat.Layout.Channels()
	if len(f.Samples) == 0 || len(f.Samples)%channels != 0 {
		return fmt.Errorf("%w: %d samples is not a positive multiple of %d channels",
			ErrInvalidFrameLength, len(f.Samples), channels)
	}
	return nil
}

// Duration returns the playback duration of the frame.
func (f *Frame) Duration() float64 {
	channels := f.Format.Layout.Channels()
	if channels == 0 || f.Format.SampleRate == 0 {
		return 0
	}
	return float64(len(f.Samples)/channels) / float64(f.Format.SampleRate)
}

// MarshalSamples packs interleaved float32 samples into network byte order.
//
// This is the wire representation used for RTP payloads: each sample is a
// big-endian IEEE 754 float32.
func MarshalSamples(samples []float32) []byte {
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.BigEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return data
}

// UnmarshalSamples unpacks a network byte order payload back into samples.
//
// Returns:
//   - []float32: decoded samples
//   - error: if the payload length is not a multiple of the sample size
func UnmarshalSamples(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 4", len(data))
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.BigEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}
