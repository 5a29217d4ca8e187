// Package metrics exposes Prometheus instrumentation for sender sessions.
//
// One Sender metrics set is created per context and shared by its
// sessions, with a session label distinguishing streams. Registration
// tolerates an already-populated registerer so multiple contexts can share
// the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sender holds the counters of the sender pipeline.
type Sender struct {
	// FramesWritten counts frames accepted by WriteFrame, per session.
	FramesWritten *prometheus.CounterVec

	// PacketsSent counts packets handed to the transport, per session
	// and path.
	PacketsSent *prometheus.CounterVec

	// BytesSent counts payload bytes handed to the transport, per
	// session and path.
	BytesSent *prometheus.CounterVec

	// BlocksEncoded counts completed FEC blocks, per session.
	BlocksEncoded *prometheus.CounterVec

	// Backpressure counts writes rejected because a queue was full, per
	// session.
	Backpressure *prometheus.CounterVec

	// TransportFaults counts latched asynchronous socket faults, per
	// session and path.
	TransportFaults *prometheus.CounterVec
}

// NewSender creates and registers the sender counters.
//
// Parameters:
//   - reg: the target registerer; nil creates a private registry
//
// Returns:
//   - *Sender: the registered metrics set
func NewSender(reg prometheus.Registerer) *Sender {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Sender{
		FramesWritten: newCounterVec(reg, "roc_sender_frames_total",
			"Audio frames accepted by the sender.", []string{"session"}),
		PacketsSent: newCounterVec(reg, "roc_sender_packets_total",
			"Packets handed to the transport sink.", []string{"session", "path"}),
		BytesSent: newCounterVec(reg, "roc_sender_bytes_total",
			"Bytes handed to the transport sink.", []string{"session", "path"}),
		BlocksEncoded: newCounterVec(reg, "roc_sender_fec_blocks_total",
			"Completed FEC blocks.", []string{"session"}),
		Backpressure: newCounterVec(reg, "roc_sender_backpressure_total",
			"Writes rejected due to a full queue.", []string{"session"}),
		TransportFaults: newCounterVec(reg, "roc_sender_transport_faults_total",
			"Latched asynchronous transport faults.", []string{"session", "path"}),
	}
	return s
}

// newCounterVec registers a counter vector, adopting an existing collector
// when the registerer already holds one with the same name.
func newCounterVec(reg prometheus.Registerer, name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, labels)

	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}
