package rtp

import (
	"testing"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyskmathew/roc-toolkit/audio"
)

// fixedRand returns a fixed sequence of values for deterministic encoders.
type fixedRand struct {
	values []uint32
	next   int
}

func (f *fixedRand) Uint32() (uint32, error) {
	v := f.values[f.next%len(f.values)]
	f.next++
	return v, nil
}

func newTestEncoder(t *testing.T, samplesPerPacket, channels int) *StreamEncoder {
	t.Helper()
	enc, err := NewStreamEncoderWithRand(samplesPerPacket, channels,
		&fixedRand{values: []uint32{0xDEADBEEF, 1000}})
	require.NoError(t, err)
	return enc
}

func TestNewStreamEncoder(t *testing.T) {
	tests := []struct {
		name             string
		samplesPerPacket int
		channels         int
		expectError      bool
	}{
		{"Valid stereo", 441, 2, false},
		{"Valid mono", 160, 1, false},
		{"Zero samples per packet", 0, 2, true},
		{"Negative channels", 441, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewStreamEncoder(tt.samplesPerPacket, tt.channels)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, enc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, enc)
			}
		})
	}
}

func TestPopPacketNeedsFullPacket(t *testing.T) {
	enc := newTestEncoder(t, 10, 2)

	enc.Push(make([]float32, 19))
	pkt, err := enc.PopPacket()
	require.NoError(t, err)
	assert.Nil(t, pkt, "19 of 20 samples is not a full packet")

	enc.Push(make([]float32, 1))
	pkt, err = enc.PopPacket()
	require.NoError(t, err)
	require.NotNil(t, pkt)
}

func TestSequenceNumbersStrictlyIncreasing(t *testing.T) {
	enc := newTestEncoder(t, 5, 2)

	enc.Push(make([]float32, 100)) // 10 full packets

	var prev uint16
	for i := 0; i < 10; i++ {
		pkt, err := enc.PopPacket()
		require.NoError(t, err)
		require.NotNil(t, pkt)

		if i > 0 {
			assert.Equal(t, prev+1, pkt.SeqNum, "no gaps or duplicates")
		}
		prev = pkt.SeqNum
	}

	pkt, err := enc.PopPacket()
	require.NoError(t, err)
	assert.Nil(t, pkt, "buffer fully drained")
}

func TestTimestampAdvancesBySampleCount(t *testing.T) {
	enc := newTestEncoder(t, 8, 2)

	enc.Push(make([]float32, 48)) // 3 packets of 8 samples per channel

	for i := 0; i < 3; i++ {
		pkt, err := enc.PopPacket()
		require.NoError(t, err)
		require.NotNil(t, pkt)
		assert.Equal(t, uint32(i*8), pkt.Timestamp)
	}
}

func TestPacketBoundariesIndependentOfFrames(t *testing.T) {
	enc := newTestEncoder(t, 10, 2)

	// Frames of odd sizes that never align with the 20-sample packets.
	for _, n := range []int{6, 14, 30, 2, 8} {
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = 0.25
		}
		enc.Push(samples)
	}
	// 60 samples total: exactly 3 packets.
	assert.Equal(t, 3, enc.PendingPackets())

	count := 0
	for {
		pkt, err := enc.PopPacket()
		require.NoError(t, err)
		if pkt == nil {
			break
		}
		count++
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 0, enc.PendingSamples())
}

func TestPacketPayloadRoundTrip(t *testing.T) {
	enc := newTestEncoder(t, 4, 1)

	in := []float32{0.1, -0.2, 0.3, -0.4}
	enc.Push(in)

	pkt, err := enc.PopPacket()
	require.NoError(t, err)
	require.NotNil(t, pkt)

	var parsed pionrtp.Packet
	require.NoError(t, parsed.Unmarshal(pkt.Data))

	assert.Equal(t, uint8(2), parsed.Version)
	assert.Equal(t, uint8(PayloadTypePCMFloat32), parsed.PayloadType)
	assert.Equal(t, uint32(0xDEADBEEF), parsed.SSRC)
	assert.Equal(t, pkt.SeqNum, parsed.SequenceNumber)

	out, err := audio.UnmarshalSamples(parsed.Payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFlushPartial(t *testing.T) {
	enc := newTestEncoder(t, 10, 2)

	pkt, err := enc.FlushPartial()
	require.NoError(t, err)
	assert.Nil(t, pkt, "nothing buffered")

	enc.Push(make([]float32, 26)) // one full packet plus 6 samples

	full, err := enc.PopPacket()
	require.NoError(t, err)
	require.NotNil(t, full)

	tail, err := enc.FlushPartial()
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, full.SeqNum+1, tail.SeqNum)
	assert.Equal(t, full.Timestamp+10, tail.Timestamp)

	var parsed pionrtp.Packet
	require.NoError(t, parsed.Unmarshal(tail.Data))
	assert.Len(t, parsed.Payload, 6*4)

	assert.Equal(t, 0, enc.PendingSamples())
}
