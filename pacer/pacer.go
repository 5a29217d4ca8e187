// Package pacer drives the real-time cadence of the sender pipeline.
//
// The pipeline must emit packets at the rate implied by the sample rate
// regardless of how fast the caller supplies frames. Two clocking modes are
// supported:
//
//   - ClockInternal: the pacer owns a monotonic ticker firing once per
//     packet interval; written samples buffer until their tick arrives.
//   - ClockExternal: the caller's write cadence is the clock; samples are
//     packetized as soon as they arrive.
//
// The mode is chosen at session open and is immutable afterwards.
//
// Time and ticker construction are injectable for deterministic tests.
package pacer

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ClockSource selects who provides the transmission clock.
type ClockSource uint8

const (
	// ClockInternal makes the pacer the timing authority.
	ClockInternal ClockSource = iota
	// ClockExternal lets the caller's write pace define the cadence.
	ClockExternal
)

func (c ClockSource) String() string {
	switch c {
	case ClockInternal:
		return "internal"
	case ClockExternal:
		return "external"
	default:
		return "unknown"
	}
}

// TimeProvider abstracts time access for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the system monotonic clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Ticker abstracts time.Ticker so tests can fire ticks on demand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory constructs a ticker with the given interval.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

// DefaultStarvationTimeout is how long the pacer waits without incoming
// samples in internal mode before reporting starvation.
const DefaultStarvationTimeout = 500 * time.Millisecond

// Config holds pacer construction parameters.
//
// Interval is required in internal mode. TimeProvider and NewTicker default
// to the real clock when nil.
type Config struct {
	Source            ClockSource
	Interval          time.Duration
	StarvationTimeout time.Duration
	TimeProvider      TimeProvider
	NewTicker         TickerFactory
}

// Pacer gates packetization to the configured clock.
//
// Pacer is safe for concurrent use, although the sender drives it from a
// single worker goroutine.
type Pacer struct {
	mu sync.Mutex

	source     ClockSource
	interval   time.Duration
	starvation time.Duration
	time       TimeProvider
	newTicker  TickerFactory

	ticker   Ticker
	lastFeed time.Time
	starved  bool

	starvationCount uint64
}

// New creates a pacer for the given clocking mode.
//
// Parameters:
//   - cfg: pacer configuration; Interval must be positive in internal mode
//
// Returns:
//   - *Pacer: the new pacer
//   - error: if the configuration is invalid
func New(cfg Config) (*Pacer, error) {
	if cfg.Source == ClockInternal && cfg.Interval <= 0 {
		return nil, errors.New("internal clock requires a positive interval")
	}
	if cfg.StarvationTimeout <= 0 {
		cfg.StarvationTimeout = DefaultStarvationTimeout
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = DefaultTimeProvider{}
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = newRealTicker
	}

	p := &Pacer{
		source:     cfg.Source,
		interval:   cfg.Interval,
		starvation: cfg.StarvationTimeout,
		time:       cfg.TimeProvider,
		newTicker:  cfg.NewTicker,
	}
	p.lastFeed = p.time.Now()

	logrus.WithFields(logrus.Fields{
		"function": "pacer.New",
		"source":   cfg.Source.String(),
		"interval": cfg.Interval.String(),
	}).Debug("Created pacer")

	return p, nil
}

// Start arms the internal ticker. It is a no-op in external mode.
func (p *Pacer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source != ClockInternal || p.ticker != nil {
		return
	}
	p.ticker = p.newTicker(p.interval)
}

// Stop releases the internal ticker. Idempotent.
func (p *Pacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
}

// Ticks returns the tick channel in internal mode, or nil in external mode
// or before Start. Receiving from a nil channel blocks forever, which lets
// the worker select over Ticks unconditionally.
func (p *Pacer) Ticks() <-chan time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker == nil {
		return nil
	}
	return p.ticker.C()
}

// Source returns the configured clocking mode.
func (p *Pacer) Source() ClockSource {
	return p.source
}

// Interval returns the packet interval.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// MarkFed records that samples arrived, ending any starvation episode.
func (p *Pacer) MarkFed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastFeed = p.time.Now()
	if p.starved {
		p.starved = false
		logrus.WithFields(logrus.Fields{
			"function": "Pacer.MarkFed",
		}).Info("Sample flow resumed after starvation")
	}
}

// CheckStarvation reports whether the pipeline has been without samples for
// longer than the starvation timeout. The first detection of an episode is
// logged as a warning; transmission simply pauses, this is not an error.
//
// Returns:
//   - bool: true while the pacer considers the pipeline starved
func (p *Pacer) CheckStarvation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := p.time.Now().Sub(p.lastFeed)
	if idle < p.starvation {
		return false
	}
	if !p.starved {
		p.starved = true
		p.starvationCount++
		logrus.WithFields(logrus.Fields{
			"function": "Pacer.CheckStarvation",
			"idle":     idle.String(),
			"timeout":  p.starvation.String(),
		}).Warn("No samples arriving, transmission paused")
	}
	return true
}

// StarvationCount returns how many starvation episodes were detected.
func (p *Pacer) StarvationCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.starvationCount
}
