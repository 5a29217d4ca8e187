package roc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyskmathew/roc-toolkit/audio"
	"github.com/joyskmathew/roc-toolkit/endpoint"
)

// newTestContext opens a context torn down with the test.
func newTestContext(t *testing.T) *Context {
	t.Helper()

	ctx, err := OpenContext(DefaultContextConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ctx.Close()
	})
	return ctx
}

// udpListener binds a loopback UDP socket and returns it together with the
// endpoint URI a sender should target, using the given scheme.
func udpListener(t *testing.T, scheme string) (net.PacketConn, endpoint.Endpoint) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	port := conn.LocalAddr().(*net.UDPAddr).Port
	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port}
	switch scheme {
	case "rtp":
		ep.Protocol = endpoint.ProtoRTP
	case "rtp+rs8m":
		ep.Protocol = endpoint.ProtoRTPRS8MSource
	case "rs8m":
		ep.Protocol = endpoint.ProtoRS8MRepair
	default:
		t.Fatalf("unknown scheme %q", scheme)
	}
	return conn, ep
}

// testFrame builds a silent frame of the given per-channel length for the
// sender's configured format.
func testFrame(cfg SenderConfig, perChannel int) *audio.Frame {
	format := cfg.Format()
	return audio.NewFrame(format, make([]float32, perChannel*format.Layout.Channels()))
}

func TestOpenSenderValidation(t *testing.T) {
	ctx := newTestContext(t)

	tests := []struct {
		name    string
		mutate  func(*SenderConfig)
		wantErr error
	}{
		{
			name:    "defaults are valid",
			mutate:  func(cfg *SenderConfig) {},
			wantErr: nil,
		},
		{
			name: "unknown clock source",
			mutate: func(cfg *SenderConfig) {
				cfg.ClockSource = ClockSource(99)
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "negative packet length",
			mutate: func(cfg *SenderConfig) {
				cfg.PacketLength = -time.Millisecond
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "packet shorter than one sample",
			mutate: func(cfg *SenderConfig) {
				cfg.PacketLength = time.Nanosecond
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "negative inlet queue",
			mutate: func(cfg *SenderConfig) {
				cfg.InletQueueLen = -1
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "negative FEC geometry",
			mutate: func(cfg *SenderConfig) {
				cfg.FECRepairPackets = -2
			},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSenderConfig()
			tt.mutate(&cfg)

			sender, err := OpenSender(ctx, cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, sender)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StateConfigured, sender.State())
			assert.NoError(t, sender.Close())
		})
	}
}

func TestOpenSenderNilContext(t *testing.T) {
	sender, err := OpenSender(nil, DefaultSenderConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, sender)
}

func TestConnectRoleCompatibility(t *testing.T) {
	ctx := newTestContext(t)

	tests := []struct {
		name    string
		role    Role
		scheme  string
		wantErr error
	}{
		{"rtp on source", RoleSource, "rtp", nil},
		{"rtp+rs8m on source", RoleSource, "rtp+rs8m", nil},
		{"rs8m on source", RoleSource, "rs8m", ErrInvalidEndpoint},
		{"rs8m on repair", RoleRepair, "rs8m", nil},
		{"rtp on repair", RoleRepair, "rtp", ErrInvalidEndpoint},
		{"rtp+rs8m on repair", RoleRepair, "rtp+rs8m", ErrInvalidEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := OpenSender(ctx, DefaultSenderConfig())
			require.NoError(t, err)
			defer sender.Close()

			_, ep := udpListener(t, tt.scheme)
			err = sender.Connect(tt.role, ep)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConnectRejectsUnprotectedSourceWithRepair(t *testing.T) {
	ctx := newTestContext(t)

	// Source first: plain RTP source forbids a later repair endpoint.
	sender, err := OpenSender(ctx, DefaultSenderConfig())
	require.NoError(t, err)
	defer sender.Close()

	_, src := udpListener(t, "rtp")
	require.NoError(t, sender.Connect(RoleSource, src))

	_, rep := udpListener(t, "rs8m")
	assert.ErrorIs(t, sender.Connect(RoleRepair, rep), ErrInvalidEndpoint)

	// Repair first: a plain RTP source cannot join a repair endpoint.
	sender2, err := OpenSender(ctx, DefaultSenderConfig())
	require.NoError(t, err)
	defer sender2.Close()

	require.NoError(t, sender2.Connect(RoleRepair, rep))
	assert.ErrorIs(t, sender2.Connect(RoleSource, src), ErrInvalidEndpoint)
}

func TestConnectStateTransitions(t *testing.T) {
	ctx := newTestContext(t)

	sender, err := OpenSender(ctx, DefaultSenderConfig())
	require.NoError(t, err)
	defer sender.Close()

	assert.Equal(t, StateConfigured, sender.State())

	_, src := udpListener(t, "rtp+rs8m")
	require.NoError(t, sender.Connect(RoleSource, src))
	assert.Equal(t, StateConnectedSource, sender.State())

	_, rep := udpListener(t, "rs8m")
	require.NoError(t, sender.Connect(RoleRepair, rep))
	assert.Equal(t, StateConnectedDual, sender.State())
}

func TestConnectDuplicateRole(t *testing.T) {
	ctx := newTestContext(t)

	sender, err := OpenSender(ctx, DefaultSenderConfig())
	require.NoError(t, err)
	defer sender.Close()

	_, src := udpListener(t, "rtp")
	require.NoError(t, sender.Connect(RoleSource, src))
	assert.ErrorIs(t, sender.Connect(RoleSource, src), ErrAlreadyConnected)
}

func TestConnectUnreachableHost(t *testing.T) {
	ctx := newTestContext(t)

	sender, err := OpenSender(ctx, DefaultSenderConfig())
	require.NoError(t, err)
	defer sender.Close()

	ep := endpoint.Endpoint{
		Protocol: endpoint.ProtoRTP,
		Host:     "no-such-host.invalid",
		Port:     10001,
	}
	assert.ErrorIs(t, sender.Connect(RoleSource, ep), ErrEndpointUnreachable)
}

func TestConnectAfterFirstWrite(t *testing.T) {
	ctx := newTestContext(t)

	cfg := DefaultSenderConfig()
	cfg.ClockSource = ClockExternal

	sender, err := OpenSender(ctx, cfg)
	require.NoError(t, err)
	defer sender.Close()

	_, src := udpListener(t, "rtp+rs8m")
	require.NoError(t, sender.Connect(RoleSource, src))

	require.NoError(t, sender.WriteFrame(testFrame(cfg, 100)))
	assert.Equal(t, StateActive, sender.State())

	_, rep := udpListener(t, "rs8m")
	assert.ErrorIs(t, sender.Connect(RoleRepair, rep), ErrAlreadyActive)
}

func TestWriteFrameBeforeConnect(t *testing.T) {
	ctx := newTestContext(t)

	cfg := DefaultSenderConfig()
	sender, err := OpenSender(ctx, cfg)
	require.NoError(t, err)
	defer sender.Close()

	assert.ErrorIs(t, sender.WriteFrame(testFrame(cfg, 100)), ErrNotConnected)
}

func TestWriteFrameValidation(t *testing.T) {
	ctx := newTestContext(t)

	cfg := DefaultSenderConfig()
	cfg.ClockSource = ClockExternal

	sender, err := OpenSender(ctx, cfg)
	require.NoError(t, err)
	defer sender.Close()

	_, src := udpListener(t, "rtp")
	require.NoError(t, sender.Connect(RoleSource, src))

	t.Run("nil frame", func(t *testing.T) {
		assert.ErrorIs(t, sender.WriteFrame(nil), ErrInvalidFrameLength)
	})

	t.Run("format mismatch", func(t *testing.T) {
		wrong := audio.Format{
			SampleRate: 48000,
			Layout:     audio.LayoutStereo,
			Encoding:   audio.EncodingPCMFloat32,
		}
		frame := audio.NewFrame(wrong, make([]float32, 200))
		assert.ErrorIs(t, sender.WriteFrame(frame), ErrFormatMismatch)
	})

	t.Run("odd sample count for stereo", func(t *testing.T) {
		frame := audio.NewFrame(cfg.Format(), make([]float32, 201))
		assert.ErrorIs(t, sender.WriteFrame(frame), ErrInvalidFrameLength)
	})

	t.Run("empty frame", func(t *testing.T) {
		frame := audio.NewFrame(cfg.Format(), nil)
		assert.ErrorIs(t, sender.WriteFrame(frame), ErrInvalidFrameLength)
	})

	// A rejected frame must not poison the session.
	t.Run("session stays usable", func(t *testing.T) {
		assert.NoError(t, sender.WriteFrame(testFrame(cfg, 100)))
	})
}

func TestCloseLifecycle(t *testing.T) {
	ctx := newTestContext(t)

	cfg := DefaultSenderConfig()
	sender, err := OpenSender(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, sender.Close())
	assert.Equal(t, StateClosed, sender.State())

	assert.ErrorIs(t, sender.Close(), ErrAlreadyClosed)
	assert.ErrorIs(t, sender.WriteFrame(testFrame(cfg, 100)), ErrSessionClosed)

	_, src := udpListener(t, "rtp")
	assert.ErrorIs(t, sender.Connect(RoleSource, src), ErrSessionClosed)
}

func TestCloseUnblocksPendingWrite(t *testing.T) {
	ctx := newTestContext(t)

	cfg := DefaultSenderConfig()
	cfg.FrameSampleRate = 48000
	cfg.ClockSource = ClockInternal
	cfg.PacketLength = 250 * time.Millisecond // 12000 samples per channel
	cfg.InletQueueLen = 1
	cfg.WriteTimeout = 10 * time.Second

	sender, err := OpenSender(ctx, cfg)
	require.NoError(t, err)

	_, src := udpListener(t, "rtp")
	require.NoError(t, sender.Connect(RoleSource, src))

	// The writer saturates the pipeline and parks inside WriteFrame on
	// the full inlet queue; Close must release it instead of letting it
	// wait out the write timeout.
	errc := make(chan error, 1)
	go func() {
		var werr error
		for i := 0; i < 50 && werr == nil; i++ {
			werr = sender.WriteFrame(testFrame(cfg, 12000))
		}
		errc <- werr
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, sender.Close())

	select {
	case werr := <-errc:
		assert.ErrorIs(t, werr, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("WriteFrame did not unblock after Close")
	}
}

func TestCloseActiveSenderFlushes(t *testing.T) {
	ctx := newTestContext(t)

	cfg := DefaultSenderConfig()
	cfg.ClockSource = ClockExternal
	cfg.PacketLength = 10 * time.Millisecond

	sender, err := OpenSender(ctx, cfg)
	require.NoError(t, err)

	conn, src := udpListener(t, "rtp")
	require.NoError(t, sender.Connect(RoleSource, src))

	// Fewer samples than one packet: only the close-time flush can emit
	// them.
	require.NoError(t, sender.WriteFrame(testFrame(cfg, 50)))
	require.NoError(t, sender.Close())

	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}
