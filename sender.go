package roc

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joyskmathew/roc-toolkit/audio"
	"github.com/joyskmathew/roc-toolkit/endpoint"
	"github.com/joyskmathew/roc-toolkit/fec"
	"github.com/joyskmathew/roc-toolkit/pacer"
	"github.com/joyskmathew/roc-toolkit/rtp"
	"github.com/joyskmathew/roc-toolkit/transport"
)

// Role identifies one of the two endpoint roles of a sender.
type Role uint8

const (
	// RoleSource is the media packet destination.
	RoleSource Role = iota
	// RoleRepair is the FEC packet destination.
	RoleRepair
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleRepair:
		return "repair"
	default:
		return "unknown"
	}
}

// path maps an endpoint role to its transport path.
func (r Role) path() transport.Path {
	if r == RoleRepair {
		return transport.PathRepair
	}
	return transport.PathSource
}

// SenderState is the lifecycle state of a sender session.
type SenderState uint8

const (
	// StateConfigured is the state after a successful open.
	StateConfigured SenderState = iota
	// StateConnectedSource has the source endpoint bound.
	StateConnectedSource
	// StateConnectedDual has both endpoints bound.
	StateConnectedDual
	// StateActive is entered on the first successful write.
	StateActive
	// StateClosed is terminal; no transition leaves it.
	StateClosed
)

func (s SenderState) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateConnectedSource:
		return "connected(source)"
	case StateConnectedDual:
		return "connected(source+repair)"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender is one outgoing audio stream.
//
// The public operations are designed to be called from a single producing
// goroutine; pacing, packetization, FEC and transmission run on a
// background worker owned by the sender. Faults detected on the worker are
// latched and surfaced by the next WriteFrame call.
type Sender struct {
	id     string
	ctx    *Context
	cfg    SenderConfig
	format audio.Format

	mu        sync.Mutex
	state     SenderState
	endpoints map[Role]endpoint.Endpoint

	sink       transport.Sink
	enc        *rtp.StreamEncoder
	fecEnc     *fec.BlockEncoder
	pc         *pacer.Pacer
	fecEnabled bool

	inlet     chan []float32
	quit      chan struct{}
	highWater int
	wg        sync.WaitGroup

	// persistentErr is returned by every subsequent write; transientErr
	// is returned once and cleared.
	persistentErr error
	transientErr  error
}

// OpenSender creates a sender attached to the context.
//
// Unset configuration fields take their documented defaults; invalid
// fields fail with ErrInvalidConfig.
//
// Parameters:
//   - ctx: the shared context; must outlive the sender
//   - cfg: session configuration
//
// Returns:
//   - *Sender: the new sender in StateConfigured
//   - error: ErrInvalidConfig or ErrContextClosed
func OpenSender(ctx *Context, cfg SenderConfig) (*Sender, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: context cannot be nil", ErrInvalidConfig)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpenSender",
			"error":    err.Error(),
		}).Error("Sender configuration rejected")
		return nil, err
	}

	enc, err := rtp.NewStreamEncoder(cfg.samplesPerPacket(), cfg.FrameChannels.Channels())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	pc, err := pacer.New(pacer.Config{
		Source:   cfg.ClockSource,
		Interval: cfg.PacketLength,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s := &Sender{
		id:        uuid.NewString(),
		ctx:       ctx,
		cfg:       cfg,
		format:    cfg.Format(),
		state:     StateConfigured,
		endpoints: make(map[Role]endpoint.Endpoint),
		sink:      transport.NewUDPSink(cfg.SinkQueueLen),
		enc:       enc,
		pc:        pc,
		inlet:     make(chan []float32, cfg.InletQueueLen),
		quit:      make(chan struct{}),
		highWater: cfg.samplesPerPacket() * cfg.FrameChannels.Channels() * inletHighWaterPackets,
	}

	if err := ctx.attach(s); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "OpenSender",
		"session":      s.id,
		"format":       s.format.String(),
		"clock_source": cfg.ClockSource.String(),
		"packet":       cfg.PacketLength.String(),
	}).Info("Opened sender session")

	return s, nil
}

// ID returns the session identifier used in logs and metrics.
func (s *Sender) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Sender) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Connect binds one endpoint role to a destination.
//
// Roles connect independently; the repair role is optional and enables the
// FEC stage. Connecting is only allowed before the first write.
//
// Parameters:
//   - role: RoleSource or RoleRepair
//   - ep: the destination endpoint
//
// Returns:
//   - error: ErrInvalidEndpoint, ErrAlreadyConnected, ErrAlreadyActive,
//     ErrEndpointUnreachable or ErrSessionClosed
func (s *Sender) Connect(role Role, ep endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateActive:
		return ErrAlreadyActive
	}
	if _, bound := s.endpoints[role]; bound {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, role)
	}
	if err := s.validateEndpoint(role, ep); err != nil {
		return err
	}

	if role == RoleRepair && s.fecEnc == nil {
		fecEnc, err := fec.NewBlockEncoder(fec.Config{
			SourceCount: s.cfg.FECSourcePackets,
			RepairCount: s.cfg.FECRepairPackets,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		s.fecEnc = fecEnc
	}

	if err := s.sink.Connect(role.path(), ep.Addr()); err != nil {
		return err
	}

	s.endpoints[role] = ep
	if role == RoleRepair {
		s.fecEnabled = true
	}
	if _, haveSource := s.endpoints[RoleSource]; haveSource {
		if s.fecEnabled {
			s.state = StateConnectedDual
		} else {
			s.state = StateConnectedSource
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sender.Connect",
		"session":  s.id,
		"role":     role.String(),
		"endpoint": ep.String(),
		"state":    s.state.String(),
	}).Info("Connected sender endpoint")

	return nil
}

// validateEndpoint checks shape and role compatibility. Caller holds s.mu.
func (s *Sender) validateEndpoint(role Role, ep endpoint.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	switch role {
	case RoleSource:
		if !ep.Protocol.IsSource() {
			return fmt.Errorf("%w: protocol %s is not a source protocol",
				ErrInvalidEndpoint, ep.Protocol)
		}
		if _, repairBound := s.endpoints[RoleRepair]; repairBound && !ep.Protocol.RequiresFEC() {
			return fmt.Errorf("%w: protocol %s carries no FEC but a repair endpoint is connected",
				ErrInvalidEndpoint, ep.Protocol)
		}
	case RoleRepair:
		if !ep.Protocol.IsRepair() {
			return fmt.Errorf("%w: protocol %s is not a repair protocol",
				ErrInvalidEndpoint, ep.Protocol)
		}
		if src, bound := s.endpoints[RoleSource]; bound && !src.Protocol.RequiresFEC() {
			return fmt.Errorf("%w: source protocol %s carries no FEC",
				ErrInvalidEndpoint, src.Protocol)
		}
	default:
		return fmt.Errorf("%w: unknown role %d", ErrInvalidEndpoint, role)
	}
	return nil
}

// WriteFrame hands one frame of samples to the pipeline.
//
// The call is synchronous and copies the samples, so the caller may reuse
// the frame's backing array immediately. It blocks at most WriteTimeout
// when the pipeline is saturated and then reports backpressure; a frame is
// either fully accepted or not consumed at all.
//
// Parameters:
//   - frame: the audio frame; its format must match the session's
//
// Returns:
//   - error: ErrFormatMismatch, ErrInvalidFrameLength, ErrNotConnected,
//     ErrBackpressure, ErrSessionClosed, or a latched worker fault
func (s *Sender) WriteFrame(frame *audio.Frame) error {
	if frame == nil {
		return fmt.Errorf("%w: frame cannot be nil", ErrInvalidFrameLength)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if _, haveSource := s.endpoints[RoleSource]; !haveSource {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if err := frame.Validate(s.format); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.takeLatchedErr(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.state != StateActive {
		s.state = StateActive
		s.wg.Add(1)
		go s.run()

		logrus.WithFields(logrus.Fields{
			"function": "Sender.WriteFrame",
			"session":  s.id,
		}).Info("Sender active, worker started")
	}
	buf := s.ctx.getBuffer(len(frame.Samples))
	copy(buf, frame.Samples)
	inlet := s.inlet
	timeout := s.cfg.WriteTimeout
	s.mu.Unlock()

	select {
	case inlet <- buf:
		s.ctx.metrics.FramesWritten.WithLabelValues(s.id).Inc()
		return nil
	case <-s.quit:
		s.ctx.putBuffer(buf)
		return ErrSessionClosed
	case <-time.After(timeout):
		s.ctx.putBuffer(buf)
		s.ctx.metrics.Backpressure.WithLabelValues(s.id).Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Sender.WriteFrame",
			"session":  s.id,
			"timeout":  timeout.String(),
		}).Warn("Inlet queue full, rejecting frame")
		return ErrBackpressure
	}
}

// takeLatchedErr returns a worker fault if one is latched. Persistent
// faults are returned on every call; transient faults once. Caller holds
// s.mu.
func (s *Sender) takeLatchedErr() error {
	if s.persistentErr != nil {
		return s.persistentErr
	}
	if s.transientErr != nil {
		err := s.transientErr
		s.transientErr = nil
		return err
	}
	return nil
}

// Close stops the sender.
//
// Queued samples are flushed as a final short packet and a partially
// filled FEC block is protected with zero padding before both transport
// paths are released. Close does not return until the worker has
// quiesced. A WriteFrame blocked on a saturated pipeline is released and
// returns ErrSessionClosed.
//
// Returns:
//   - error: ErrAlreadyClosed on a second close
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.state = StateClosed
	s.mu.Unlock()

	close(s.quit)
	s.wg.Wait()
	_ = s.sink.Close()
	s.ctx.detach(s.id)

	logrus.WithFields(logrus.Fields{
		"function": "Sender.Close",
		"session":  s.id,
	}).Info("Closed sender session")

	return nil
}
