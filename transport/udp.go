package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultQueueLen is the per-path outbound queue capacity in datagrams.
const DefaultQueueLen = 256

// UDPSink implements Sink over UDP sockets, one socket per path.
type UDPSink struct {
	mu       sync.RWMutex
	queueLen int
	paths    map[Path]*udpPath
	closed   bool
}

// udpPath is one connected transmission path and its drain goroutine.
type udpPath struct {
	conn   net.PacketConn
	remote net.Addr
	queue  chan []byte
	cancel context.CancelFunc
	done   chan struct{}

	faultMu sync.Mutex
	fault   error
}

// NewUDPSink creates a sink with no connected paths.
//
// Parameters:
//   - queueLen: outbound queue capacity per path; 0 uses DefaultQueueLen
func NewUDPSink(queueLen int) *UDPSink {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	return &UDPSink{
		queueLen: queueLen,
		paths:    make(map[Path]*udpPath),
	}
}

// Connect resolves the destination and binds the path to a new UDP socket.
//
// Parameters:
//   - path: the path to bind
//   - addr: destination in host:port form
//
// Returns:
//   - error: ErrUnreachable if the address does not resolve,
//     ErrPathAlreadyConnected if the path is bound, ErrSinkClosed after
//     Close
func (s *UDPSink) Connect(path Path, addr string) error {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "UDPSink.Connect",
			"path":     path.String(),
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to resolve destination")
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return fmt.Errorf("failed to open UDP socket: %w", err)
	}

	if err := s.connectPath(path, conn, remote); err != nil {
		_ = conn.Close()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "UDPSink.Connect",
		"path":     path.String(),
		"remote":   remote.String(),
		"local":    conn.LocalAddr().String(),
	}).Info("Connected transport path")

	return nil
}

// connectPath installs a path over an existing connection. Split out from
// Connect so tests can inject a fake net.PacketConn.
func (s *UDPSink) connectPath(path Path, conn net.PacketConn, remote net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if _, exists := s.paths[path]; exists {
		return fmt.Errorf("%w: %s", ErrPathAlreadyConnected, path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &udpPath{
		conn:   conn,
		remote: remote,
		queue:  make(chan []byte, s.queueLen),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.paths[path] = p

	go p.drain(ctx, path)

	return nil
}

// Disconnect releases one path after flushing its queue.
func (s *UDPSink) Disconnect(path Path) error {
	s.mu.Lock()
	p, exists := s.paths[path]
	if exists {
		delete(s.paths, path)
	}
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrPathNotConnected, path)
	}

	p.cancel()
	<-p.done
	_ = p.conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "UDPSink.Disconnect",
		"path":     path.String(),
	}).Info("Disconnected transport path")

	return nil
}

// Connected reports whether a path is bound.
func (s *UDPSink) Connected(path Path) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.paths[path]
	return exists
}

// Send enqueues one datagram without blocking.
//
// Returns:
//   - error: ErrUnavailable when the queue is full, ErrPathNotConnected /
//     ErrSinkClosed for lifecycle misuse, or the path's latched fault
func (s *UDPSink) Send(path Path, data []byte) error {
	s.mu.RLock()
	closed := s.closed
	p := s.paths[path]
	s.mu.RUnlock()

	if closed {
		return ErrSinkClosed
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrPathNotConnected, path)
	}
	if err := p.latchedFault(); err != nil {
		return err
	}

	select {
	case p.queue <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s queue full", ErrUnavailable, path)
	}
}

// Fault returns the latched asynchronous fault of a path, if any.
func (s *UDPSink) Fault(path Path) error {
	s.mu.RLock()
	p := s.paths[path]
	s.mu.RUnlock()

	if p == nil {
		return nil
	}
	return p.latchedFault()
}

// LocalAddr returns the local socket address of a connected path.
func (s *UDPSink) LocalAddr(path Path) (net.Addr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.paths[path]
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotConnected, path)
	}
	return p.conn.LocalAddr(), nil
}

// Close releases every path. Safe to call more than once.
func (s *UDPSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	paths := s.paths
	s.paths = make(map[Path]*udpPath)
	s.mu.Unlock()

	for path, p := range paths {
		p.cancel()
		<-p.done
		_ = p.conn.Close()

		logrus.WithFields(logrus.Fields{
			"function": "UDPSink.Close",
			"path":     path.String(),
		}).Debug("Released transport path")
	}

	return nil
}

// drain writes queued datagrams to the socket until cancelled, then
// flushes whatever is still queued before signalling done.
func (p *udpPath) drain(ctx context.Context, path Path) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case data := <-p.queue:
					p.write(data, path)
				default:
					return
				}
			}
		case data := <-p.queue:
			p.write(data, path)
		}
	}
}

// write sends one datagram, latching the first fault.
func (p *udpPath) write(data []byte, path Path) {
	if _, err := p.conn.WriteTo(data, p.remote); err != nil {
		p.faultMu.Lock()
		first := p.fault == nil
		if first {
			p.fault = fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		p.faultMu.Unlock()

		if first {
			logrus.WithFields(logrus.Fields{
				"function": "udpPath.write",
				"path":     path.String(),
				"remote":   p.remote.String(),
				"error":    err.Error(),
			}).Warn("Datagram transmission failed")
		}
	}
}

func (p *udpPath) latchedFault() error {
	p.faultMu.Lock()
	defer p.faultMu.Unlock()

	return p.fault
}
