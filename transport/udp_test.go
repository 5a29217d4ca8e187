package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a controllable net.PacketConn for drain-loop tests.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte

	blockWrites chan struct{} // when non-nil, WriteTo blocks until closed
	writeErr    error
}

func (c *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	if c.blockWrites != nil {
		<-c.blockWrites
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	c.written = append(c.written, cp)
	return len(b), nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	return 0, nil, errors.New("not implemented")
}
func (c *fakeConn) Close() error                       { return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return &net.UDPAddr{} }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func testRemote(t *testing.T) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:40000")
	require.NoError(t, err)
	return addr
}

func TestConnectAndDeliver(t *testing.T) {
	receiver, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer receiver.Close()

	sink := NewUDPSink(0)
	defer sink.Close()

	require.NoError(t, sink.Connect(PathSource, receiver.LocalAddr().String()))
	assert.True(t, sink.Connected(PathSource))
	assert.False(t, sink.Connected(PathRepair))

	payload := []byte{0x80, 1, 2, 3}
	require.NoError(t, sink.Send(PathSource, payload))

	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := receiver.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestConnectBadHost(t *testing.T) {
	sink := NewUDPSink(0)
	defer sink.Close()

	err := sink.Connect(PathSource, "no-such-host.invalid.:10001")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, sink.Connected(PathSource))
}

func TestSendBeforeConnect(t *testing.T) {
	sink := NewUDPSink(0)
	defer sink.Close()

	err := sink.Send(PathSource, []byte{1})
	assert.ErrorIs(t, err, ErrPathNotConnected)
}

func TestDoubleConnect(t *testing.T) {
	receiver, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer receiver.Close()

	sink := NewUDPSink(0)
	defer sink.Close()

	require.NoError(t, sink.Connect(PathSource, receiver.LocalAddr().String()))
	err = sink.Connect(PathSource, receiver.LocalAddr().String())
	assert.ErrorIs(t, err, ErrPathAlreadyConnected)
}

func TestIndependentPaths(t *testing.T) {
	recvA, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer recvA.Close()
	recvB, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer recvB.Close()

	sink := NewUDPSink(0)
	defer sink.Close()

	require.NoError(t, sink.Connect(PathSource, recvA.LocalAddr().String()))
	require.NoError(t, sink.Connect(PathRepair, recvB.LocalAddr().String()))

	require.NoError(t, sink.Disconnect(PathRepair))
	assert.True(t, sink.Connected(PathSource))
	assert.False(t, sink.Connected(PathRepair))

	assert.ErrorIs(t, sink.Disconnect(PathRepair), ErrPathNotConnected)
}

func TestBackpressure(t *testing.T) {
	const queueLen = 4

	conn := &fakeConn{blockWrites: make(chan struct{})}
	sink := NewUDPSink(queueLen)
	require.NoError(t, sink.connectPath(PathSource, conn, testRemote(t)))

	// With writes blocked, the drain goroutine can take at most one
	// datagram; after queueLen+2 sends the queue must have overflowed.
	var full, accepted int
	for i := 0; i < queueLen+2; i++ {
		err := sink.Send(PathSource, []byte{byte(i)})
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrUnavailable):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.GreaterOrEqual(t, accepted, queueLen)
	assert.GreaterOrEqual(t, full, 1, "full queue must surface ErrUnavailable")

	close(conn.blockWrites)
	require.NoError(t, sink.Close())
}

func TestAsyncFaultLatches(t *testing.T) {
	conn := &fakeConn{writeErr: errors.New("connection refused")}
	sink := NewUDPSink(0)
	require.NoError(t, sink.connectPath(PathSource, conn, testRemote(t)))
	defer sink.Close()

	require.NoError(t, sink.Send(PathSource, []byte{1}))

	require.Eventually(t, func() bool {
		return sink.Fault(PathSource) != nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, sink.Fault(PathSource), ErrUnreachable)
	assert.ErrorIs(t, sink.Send(PathSource, []byte{2}), ErrUnreachable)
}

func TestDisconnectFlushesQueue(t *testing.T) {
	conn := &fakeConn{blockWrites: make(chan struct{})}
	sink := NewUDPSink(8)
	require.NoError(t, sink.connectPath(PathSource, conn, testRemote(t)))

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Send(PathSource, []byte{byte(i)}))
	}

	close(conn.blockWrites)
	require.NoError(t, sink.Disconnect(PathSource))

	assert.Equal(t, 3, conn.writeCount(), "queued datagrams flushed before release")
}

func TestCloseIsIdempotent(t *testing.T) {
	sink := NewUDPSink(0)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.ErrorIs(t, sink.Send(PathSource, []byte{1}), ErrSinkClosed)
	assert.ErrorIs(t, sink.Connect(PathSource, "127.0.0.1:10001"), ErrSinkClosed)
}
