// Command roc-send streams audio to a receiver over the loss-resilient
// sender pipeline.
//
// By default it generates a sine tone; with --input it streams interleaved
// big-endian float32 samples from a raw PCM file instead.
package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	roc "github.com/joyskmathew/roc-toolkit"
	"github.com/joyskmathew/roc-toolkit/audio"
	"github.com/joyskmathew/roc-toolkit/endpoint"
)

var (
	flagSource    string
	flagRepair    string
	flagRate      uint32
	flagChannels  int
	flagPacketLen time.Duration
	flagFECSource int
	flagFECRepair int
	flagDuration  time.Duration
	flagFrequency float64
	flagInput     string
	flagLogLevel  string
)

func main() {
	root := &cobra.Command{
		Use:   "roc-send",
		Short: "Stream audio over RTP with Reed-Solomon loss protection",
		RunE:  run,

		SilenceUsage: true,
	}

	root.Flags().StringVar(&flagSource, "source", "", "source endpoint URI, e.g. rtp+rs8m://127.0.0.1:10001 (required)")
	root.Flags().StringVar(&flagRepair, "repair", "", "repair endpoint URI, e.g. rs8m://127.0.0.1:10002")
	root.Flags().Uint32Var(&flagRate, "rate", roc.DefaultSampleRate, "sample rate in Hz")
	root.Flags().IntVar(&flagChannels, "channels", 2, "channel count (1 or 2)")
	root.Flags().DurationVar(&flagPacketLen, "packet-len", roc.DefaultPacketLength, "packet length")
	root.Flags().IntVar(&flagFECSource, "fec-source", 0, "source packets per FEC block (0 = default)")
	root.Flags().IntVar(&flagFECRepair, "fec-repair", 0, "repair packets per FEC block (0 = default)")
	root.Flags().DurationVar(&flagDuration, "duration", 5*time.Second, "how long to stream the generated tone")
	root.Flags().Float64Var(&flagFrequency, "frequency", 440, "tone frequency in Hz")
	root.Flags().StringVar(&flagInput, "input", "", "raw PCM file of big-endian float32 samples, - for stdin")
	root.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	_ = root.MarkFlagRequired("source")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", flagLogLevel, err)
	}
	logrus.SetLevel(level)

	cfg := roc.DefaultSenderConfig()
	cfg.FrameSampleRate = flagRate
	cfg.PacketLength = flagPacketLen
	cfg.FECSourcePackets = flagFECSource
	cfg.FECRepairPackets = flagFECRepair
	switch flagChannels {
	case 1:
		cfg.FrameChannels = audio.LayoutMono
	case 2:
		cfg.FrameChannels = audio.LayoutStereo
	default:
		return fmt.Errorf("unsupported channel count %d", flagChannels)
	}

	ctx, err := roc.OpenContext(roc.DefaultContextConfig())
	if err != nil {
		return err
	}
	defer ctx.Close()

	sender, err := roc.OpenSender(ctx, cfg)
	if err != nil {
		return err
	}
	defer sender.Close()

	if err := connectEndpoints(sender); err != nil {
		return err
	}

	if flagInput != "" {
		return streamFile(sender, cfg)
	}
	return streamTone(sender, cfg)
}

func connectEndpoints(sender *roc.Sender) error {
	source, err := endpoint.Parse(flagSource)
	if err != nil {
		return fmt.Errorf("source endpoint: %w", err)
	}
	if err := sender.Connect(roc.RoleSource, source); err != nil {
		return fmt.Errorf("connect source: %w", err)
	}

	if flagRepair == "" {
		return nil
	}
	repair, err := endpoint.Parse(flagRepair)
	if err != nil {
		return fmt.Errorf("repair endpoint: %w", err)
	}
	if err := sender.Connect(roc.RoleRepair, repair); err != nil {
		return fmt.Errorf("connect repair: %w", err)
	}
	return nil
}

// streamTone writes a generated sine wave for the configured duration.
func streamTone(sender *roc.Sender, cfg roc.SenderConfig) error {
	format := cfg.Format()
	channels := cfg.FrameChannels.Channels()

	const perChannel = 100
	samples := make([]float32, perChannel*channels)

	total := int(time.Duration(flagRate) * flagDuration / time.Second)
	for offset := 0; offset < total; offset += perChannel {
		for i := 0; i < perChannel; i++ {
			v := float32(sineSample(offset+i, flagFrequency, flagRate))
			for ch := 0; ch < channels; ch++ {
				samples[i*channels+ch] = v
			}
		}
		if err := sender.WriteFrame(audio.NewFrame(format, samples)); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}

// streamFile writes frames read from a raw big-endian float32 PCM file.
func streamFile(sender *roc.Sender, cfg roc.SenderConfig) error {
	var in io.Reader
	if flagInput == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(flagInput)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	format := cfg.Format()
	channels := cfg.FrameChannels.Channels()
	chunk := make([]byte, 100*channels*4)

	for {
		n, err := io.ReadFull(in, chunk)
		if err == io.EOF {
			return nil
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return err
		}
		// truncate a ragged tail to whole interleaved samples
		n -= n % (channels * 4)
		if n == 0 {
			return nil
		}
		samples, perr := audio.UnmarshalSamples(chunk[:n])
		if perr != nil {
			return perr
		}
		if werr := sender.WriteFrame(audio.NewFrame(format, samples)); werr != nil {
			return fmt.Errorf("write frame: %w", werr)
		}
		if err == io.ErrUnexpectedEOF {
			return nil
		}
	}
}

func sineSample(n int, freq float64, rate uint32) float64 {
	return math.Sin(2 * math.Pi * freq * float64(n) / float64(rate))
}
