package roc

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joyskmathew/roc-toolkit/audio"
	"github.com/joyskmathew/roc-toolkit/pacer"
)

// ClockSource selects who provides the transmission clock.
type ClockSource = pacer.ClockSource

const (
	// ClockInternal makes the sender the timing authority.
	ClockInternal = pacer.ClockInternal
	// ClockExternal lets the caller's write pace define the cadence.
	ClockExternal = pacer.ClockExternal
)

// Defaults applied by DefaultSenderConfig and by OpenSender for unset
// fields.
const (
	DefaultSampleRate   = 44100
	DefaultPacketLength = 20 * time.Millisecond
	DefaultInletQueue   = 16
	DefaultWriteTimeout = 50 * time.Millisecond
)

// ContextConfig holds shared resource configuration.
type ContextConfig struct {
	// MetricsRegisterer receives the sender counters. Nil keeps metrics
	// in a private registry.
	MetricsRegisterer prometheus.Registerer
}

// DefaultContextConfig returns the default context configuration.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{}
}

// SenderConfig holds per-session configuration. Zero-valued fields take
// the documented defaults; fields set to unknown enum values are rejected
// at open.
type SenderConfig struct {
	// FrameSampleRate is the sample rate of incoming frames in Hz.
	// Default 44100.
	FrameSampleRate uint32

	// FrameChannels is the channel layout of incoming frames.
	// Default stereo.
	FrameChannels audio.ChannelLayout

	// FrameEncoding is the sample encoding of incoming frames.
	// Default 32-bit float PCM.
	FrameEncoding audio.Encoding

	// ClockSource selects internal or external pacing.
	// Default internal.
	ClockSource ClockSource

	// PacketLength is the playback duration of one source packet.
	// Default 20ms.
	PacketLength time.Duration

	// FECSourcePackets is N, source packets per FEC block. Used only
	// when a repair endpoint is connected. Default 8.
	FECSourcePackets int

	// FECRepairPackets is K, repair packets per FEC block. Default 4.
	FECRepairPackets int

	// InletQueueLen is the bounded frame queue between WriteFrame and
	// the worker, in frames. Default 16.
	InletQueueLen int

	// WriteTimeout bounds how long WriteFrame may block on a full
	// inlet queue before returning ErrBackpressure. Default 50ms.
	WriteTimeout time.Duration

	// SinkQueueLen is the per-path transport queue capacity in
	// datagrams. Default transport.DefaultQueueLen.
	SinkQueueLen int
}

// DefaultSenderConfig returns a configuration with every field set to its
// default.
func DefaultSenderConfig() SenderConfig {
	var cfg SenderConfig
	cfg.applyDefaults()
	return cfg
}

// Format returns the frame format implied by the configuration.
func (c SenderConfig) Format() audio.Format {
	return audio.Format{
		SampleRate: c.FrameSampleRate,
		Layout:     c.FrameChannels,
		Encoding:   c.FrameEncoding,
	}
}

// applyDefaults fills unset fields in place.
func (c *SenderConfig) applyDefaults() {
	if c.FrameSampleRate == 0 {
		c.FrameSampleRate = DefaultSampleRate
	}
	if c.FrameChannels == audio.LayoutNone {
		c.FrameChannels = audio.LayoutStereo
	}
	if c.FrameEncoding == audio.EncodingNone {
		c.FrameEncoding = audio.EncodingPCMFloat32
	}
	if c.PacketLength == 0 {
		c.PacketLength = DefaultPacketLength
	}
	if c.FECSourcePackets == 0 {
		c.FECSourcePackets = 8
	}
	if c.FECRepairPackets == 0 {
		c.FECRepairPackets = 4
	}
	if c.InletQueueLen == 0 {
		c.InletQueueLen = DefaultInletQueue
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// validate checks the configuration after defaults were applied.
func (c SenderConfig) validate() error {
	if err := c.Format().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.ClockSource != ClockInternal && c.ClockSource != ClockExternal {
		return fmt.Errorf("%w: unknown clock source %d", ErrInvalidConfig, c.ClockSource)
	}
	if c.PacketLength < 0 {
		return fmt.Errorf("%w: negative packet length", ErrInvalidConfig)
	}
	if c.samplesPerPacket() <= 0 {
		return fmt.Errorf("%w: packet length %s is shorter than one sample at %d Hz",
			ErrInvalidConfig, c.PacketLength, c.FrameSampleRate)
	}
	if c.FECSourcePackets < 0 || c.FECRepairPackets < 0 {
		return fmt.Errorf("%w: negative FEC block geometry", ErrInvalidConfig)
	}
	if c.InletQueueLen < 0 || c.SinkQueueLen < 0 {
		return fmt.Errorf("%w: negative queue length", ErrInvalidConfig)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative write timeout", ErrInvalidConfig)
	}
	return nil
}

// samplesPerPacket returns per-channel samples carried by one packet.
func (c SenderConfig) samplesPerPacket() int {
	return int(time.Duration(c.FrameSampleRate) * c.PacketLength / time.Second)
}
