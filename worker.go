package roc

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joyskmathew/roc-toolkit/fec"
	"github.com/joyskmathew/roc-toolkit/transport"
)

// inletHighWaterPackets bounds how many packets worth of samples may
// buffer ahead of the internal clock. Above this mark the worker stops
// draining the inlet queue, so the queue fills and WriteFrame reports
// backpressure instead of letting the producer run ahead of the wire.
const inletHighWaterPackets = 4

// run is the sender's pipeline worker: it consumes frames from the inlet
// queue, packetizes them, derives repair packets and hands everything to
// the transport sink. It exits when the quit channel closes, after
// flushing pending samples and protecting the final FEC block.
//
// The pipeline stages (enc, fecEnc, pc, sink) are wired before the worker
// starts and never reassigned afterwards, so run accesses them without
// holding s.mu.
func (s *Sender) run() {
	defer s.wg.Done()

	internal := s.pc.Source() == ClockInternal
	if internal {
		s.pc.Start()
		defer s.pc.Stop()
	}
	ticks := s.pc.Ticks()

	for {
		inlet := s.inlet
		if internal && s.enc.PendingSamples() >= s.highWater {
			// Paced mode above the high-water mark: leave frames in
			// the bounded inlet queue until ticks drain the backlog.
			inlet = nil
		}

		select {
		case <-s.quit:
			s.drainInlet()
			s.drainTail()
			return

		case buf := <-inlet:
			s.enc.Push(buf)
			s.ctx.putBuffer(buf)
			s.pc.MarkFed()
			if !internal {
				// External clock: the caller's cadence is the
				// transmission cadence.
				for s.emitOne() {
				}
			}

		case <-ticks:
			if !s.emitOne() {
				s.pc.CheckStarvation()
			}
		}
	}
}

// drainInlet moves frames still queued at close into the encoder.
func (s *Sender) drainInlet() {
	for {
		select {
		case buf := <-s.inlet:
			s.enc.Push(buf)
			s.ctx.putBuffer(buf)
		default:
			return
		}
	}
}

// emitOne pops one full source packet and transmits it. It reports false
// when no full packet is buffered or a fault was latched.
func (s *Sender) emitOne() bool {
	pkt, err := s.enc.PopPacket()
	if err != nil {
		s.latchPersistent(fmt.Errorf("%w: %v", ErrEncodeFailure, err))
		return false
	}
	if pkt == nil {
		return false
	}
	s.transmit(pkt.SeqNum, pkt.Data)
	return true
}

// transmit sends one source packet and feeds it to the FEC stage,
// forwarding any completed block's repair packets.
func (s *Sender) transmit(seqNum uint16, data []byte) {
	if err := s.sink.Send(transport.PathSource, data); err != nil {
		s.handleSinkErr(transport.PathSource, err)
	} else {
		s.ctx.metrics.PacketsSent.WithLabelValues(s.id, transport.PathSource.String()).Inc()
		s.ctx.metrics.BytesSent.WithLabelValues(s.id, transport.PathSource.String()).Add(float64(len(data)))
	}

	if !s.fecEnabled {
		return
	}
	repair, err := s.fecEnc.Add(seqNum, data)
	if err != nil {
		s.latchPersistent(err)
		return
	}
	s.sendRepair(repair)
}

// sendRepair transmits one block's repair packets on the repair path.
func (s *Sender) sendRepair(repair []fec.RepairPacket) {
	if len(repair) == 0 {
		return
	}
	s.ctx.metrics.BlocksEncoded.WithLabelValues(s.id).Inc()

	for _, rp := range repair {
		if err := s.sink.Send(transport.PathRepair, rp.Data); err != nil {
			s.handleSinkErr(transport.PathRepair, err)
			continue
		}
		s.ctx.metrics.PacketsSent.WithLabelValues(s.id, transport.PathRepair.String()).Inc()
		s.ctx.metrics.BytesSent.WithLabelValues(s.id, transport.PathRepair.String()).Add(float64(len(rp.Data)))
	}
}

// drainTail flushes the pipeline at close: remaining full packets, then a
// final short packet from leftover samples, then the padded final FEC
// block.
func (s *Sender) drainTail() {
	for s.emitOne() {
	}

	tail, err := s.enc.FlushPartial()
	if err != nil {
		s.latchPersistent(fmt.Errorf("%w: %v", ErrEncodeFailure, err))
	} else if tail != nil {
		s.transmit(tail.SeqNum, tail.Data)
	}

	if s.fecEnabled {
		repair, err := s.fecEnc.Flush()
		if err != nil {
			s.latchPersistent(err)
			return
		}
		s.sendRepair(repair)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sender.drainTail",
		"session":  s.id,
	}).Debug("Pipeline flushed")
}

// handleSinkErr classifies a transport failure. A full queue is transient
// and reported once; everything else is latched for the session's
// remaining lifetime. The session stays open either way so the caller
// decides whether to close.
func (s *Sender) handleSinkErr(path transport.Path, err error) {
	if errors.Is(err, transport.ErrUnavailable) {
		s.ctx.metrics.Backpressure.WithLabelValues(s.id).Inc()
		s.latchTransient(fmt.Errorf("%w: %s path", ErrTransportUnavailable, path))
		return
	}

	s.ctx.metrics.TransportFaults.WithLabelValues(s.id, path.String()).Inc()
	s.latchPersistent(err)
	logrus.WithFields(logrus.Fields{
		"function": "Sender.handleSinkErr",
		"session":  s.id,
		"path":     path.String(),
		"error":    err.Error(),
	}).Error("Transport fault latched")
}

// latchPersistent records a fault surfaced by every later write. The
// first fault wins.
func (s *Sender) latchPersistent(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persistentErr == nil {
		s.persistentErr = err
	}
}

// latchTransient records a fault surfaced by the next write only.
func (s *Sender) latchTransient(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transientErr == nil {
		s.transientErr = err
	}
}
