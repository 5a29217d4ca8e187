// Package roc implements the sender side of a real-time, loss-resilient
// audio transport.
//
// The sender accepts a continuous stream of interleaved PCM frames through
// a synchronous write call, paces packetization to the sample clock, wraps
// the stream into RTP source packets, derives Reed-Solomon repair packets
// per block, and transmits source and repair packets over two independent
// UDP paths. The receiver side is not part of this module.
//
// # Getting Started
//
// Create a shared context, open a sender, connect its endpoints and write
// frames:
//
//	ctx, err := roc.OpenContext(roc.DefaultContextConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	cfg := roc.DefaultSenderConfig()
//	cfg.FrameSampleRate = 44100
//	cfg.FrameChannels = audio.LayoutStereo
//	cfg.ClockSource = roc.ClockInternal
//
//	sender, err := roc.OpenSender(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sender.Close()
//
//	source, _ := endpoint.Parse("rtp+rs8m://192.168.0.5:10001")
//	repair, _ := endpoint.Parse("rs8m://192.168.0.5:10002")
//
//	if err := sender.Connect(roc.RoleSource, source); err != nil {
//	    log.Fatal(err)
//	}
//	if err := sender.Connect(roc.RoleRepair, repair); err != nil {
//	    log.Fatal(err)
//	}
//
//	frame := audio.NewFrame(cfg.Format(), samples)
//	if err := sender.WriteFrame(frame); err != nil {
//	    log.Fatal(err)
//	}
//
// The repair endpoint is optional: a sender connected only through its
// source endpoint streams unprotected RTP and the FEC stage is bypassed
// entirely.
//
// # Core Types
//
//   - [Context]: shared resource handle (buffer pool, metrics); must
//     outlive every sender opened from it
//   - [Sender]: one outgoing stream with an open/connect/write/close
//     lifecycle
//   - [SenderConfig]: frame format, clocking mode and pipeline geometry
//
// # Clocking
//
// With ClockInternal the pipeline owns a monotonic ticker and emits one
// packet per tick; callers may write faster than real time and the
// bounded inlet queue applies backpressure. With ClockExternal the
// caller's write cadence drives transmission directly.
//
// # Errors
//
// All errors are returned synchronously from the call that triggered them
// and are classifiable with errors.Is. Faults detected on the background
// worker (socket errors, encoding faults) are latched and surfaced by the
// next WriteFrame call.
package roc
