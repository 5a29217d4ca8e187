// Package rtp implements the stream encoder of the sender pipeline.
//
// The encoder slices the paced sample stream into fixed-size RTP source
// packets using the pion/rtp library for standards-compliant header
// handling. Packetization boundaries are independent of the caller's frame
// boundaries: a caller frame may span multiple packets and a packet may
// span multiple caller frames.
//
// Design principles:
// - Use pion/rtp for the wire-level RTP representation
// - Strictly increasing sequence numbers with no gaps or duplicates
// - Timestamps advance with the pacing clock, one unit per sample
// - Injectable randomness for deterministic testing
package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/joyskmathew/roc-toolkit/audio"
)

// PayloadTypePCMFloat32 is the dynamic RTP payload type used for big-endian
// float32 PCM payloads. Dynamic types start at 96 (RFC 3551).
const PayloadTypePCMFloat32 = 96

// RandProvider abstracts random number generation for SSRC and initial
// sequence numbers, allowing deterministic testing.
type RandProvider interface {
	Uint32() (uint32, error)
}

// CryptoRandProvider generates random values from crypto/rand.
type CryptoRandProvider struct{}

// Uint32 returns a cryptographically random 32-bit value.
func (CryptoRandProvider) Uint32() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// SourcePacket is one wire-ready media packet produced by the encoder.
//
// Data is the fully marshaled RTP packet. SeqNum and Timestamp duplicate
// the header fields so downstream stages do not need to re-parse the data.
type SourcePacket struct {
	SeqNum    uint16
	Timestamp uint32
	Data      []byte
}

// StreamEncoder converts a continuous sample stream into SourcePackets.
//
// Samples are pushed in caller-frame-sized chunks and popped in
// packet-sized chunks. The encoder never reorders, drops or duplicates
// samples.
type StreamEncoder struct {
	mu sync.Mutex

	ssrc             uint32
	sequenceNumber   uint16
	timestamp        uint32
	payloadType      uint8
	samplesPerPacket int // per channel
	channels         int

	pending []float32
}

// NewStreamEncoder creates a stream encoder with crypto/rand SSRC and
// initial sequence number.
//
// Parameters:
//   - samplesPerPacket: samples per channel carried by one packet
//   - channels: interleaved channel count
//
// Returns:
//   - *StreamEncoder: the new encoder
//   - error: if parameters are invalid or randomness is unavailable
func NewStreamEncoder(samplesPerPacket, channels int) (*StreamEncoder, error) {
	return NewStreamEncoderWithRand(samplesPerPacket, channels, CryptoRandProvider{})
}

// NewStreamEncoderWithRand creates a stream encoder with an injectable
// randomness provider for deterministic testing.
func NewStreamEncoderWithRand(samplesPerPacket, channels int, random RandProvider) (*StreamEncoder, error) {
	if samplesPerPacket <= 0 {
		return nil, fmt.Errorf("samples per packet must be positive, got %d", samplesPerPacket)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if random == nil {
		return nil, fmt.Errorf("random provider cannot be nil")
	}

	ssrc, err := random.Uint32()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	seqInit, err := random.Uint32()
	if err != nil {
		return nil, fmt.Errorf("failed to generate initial sequence number: %w", err)
	}

	enc := &StreamEncoder{
		ssrc:             ssrc,
		sequenceNumber:   uint16(seqInit),
		payloadType:      PayloadTypePCMFloat32,
		samplesPerPacket: samplesPerPacket,
		channels:         channels,
	}

	logrus.WithFields(logrus.Fields{
		"function":           "NewStreamEncoder",
		"ssrc":               ssrc,
		"samples_per_packet": samplesPerPacket,
		"channels":           channels,
	}).Debug("Created stream encoder")

	return enc, nil
}

// SSRC returns the stream's synchronization source identifier.
func (e *StreamEncoder) SSRC() uint32 {
	return e.ssrc
}

// Push appends interleaved samples to the pending buffer.
//
// The slice is not retained; samples are copied.
func (e *StreamEncoder) Push(samples []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, samples...)
}

// PendingSamples returns the number of buffered interleaved samples.
func (e *StreamEncoder) PendingSamples() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.pending)
}

// PendingPackets returns how many full packets can currently be popped.
func (e *StreamEncoder) PendingPackets() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.pending) / (e.samplesPerPacket * e.channels)
}

// PopPacket produces the next full source packet from buffered samples.
//
// Returns:
//   - *SourcePacket: the packet, or nil if fewer than a full packet of
//     samples is buffered
//   - error: if RTP marshaling fails
func (e *StreamEncoder) PopPacket() (*SourcePacket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	need := e.samplesPerPacket * e.channels
	if len(e.pending) < need {
		return nil, nil
	}

	chunk := e.pending[:need]
	pkt, err := e.buildPacket(chunk, e.samplesPerPacket)
	if err != nil {
		return nil, err
	}
	e.pending = e.pending[need:]
	return pkt, nil
}

// FlushPartial drains any remaining samples into a final short packet.
//
// Called at session close so no queued samples are lost. The final packet
// carries fewer samples than a full one; the timestamp still advances by
// the actual per-channel sample count.
//
// Returns:
//   - *SourcePacket: the tail packet, or nil if nothing is buffered
//   - error: if RTP marshaling fails
func (e *StreamEncoder) FlushPartial() (*SourcePacket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil, nil
	}

	chunk := e.pending
	pkt, err := e.buildPacket(chunk, len(chunk)/e.channels)
	if err != nil {
		return nil, err
	}
	e.pending = nil
	return pkt, nil
}

// buildPacket wraps a sample chunk into a marshaled RTP packet and advances
// the sequence number and timestamp. Caller must hold e.mu.
func (e *StreamEncoder) buildPacket(samples []float32, sampleCount int) (*SourcePacket, error) {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    e.payloadType,
			SequenceNumber: e.sequenceNumber,
			Timestamp:      e.timestamp,
			SSRC:           e.ssrc,
		},
		Payload: audio.MarshalSamples(samples),
	}

	data, err := packet.Marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "StreamEncoder.buildPacket",
			"error":    err.Error(),
		}).Error("Failed to marshal RTP packet")
		return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
	}

	out := &SourcePacket{
		SeqNum:    e.sequenceNumber,
		Timestamp: e.timestamp,
		Data:      data,
	}

	e.sequenceNumber++
	e.timestamp += uint32(sampleCount)

	return out, nil
}
