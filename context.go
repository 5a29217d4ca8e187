package roc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joyskmathew/roc-toolkit/metrics"
)

// Context is the shared resource handle senders are opened from.
//
// It owns the sample buffer pool and the metrics set shared by its
// sessions. A context must stay open for the full lifetime of every sender
// created from it; Close refuses to tear down shared state while senders
// are attached.
type Context struct {
	mu      sync.Mutex
	senders map[string]*Sender
	closed  bool

	metrics *metrics.Sender
	bufPool sync.Pool
}

// OpenContext creates a context.
//
// Parameters:
//   - cfg: context configuration; the zero value is usable
//
// Returns:
//   - *Context: the new context
//   - error: reserved for future configuration validation
func OpenContext(cfg ContextConfig) (*Context, error) {
	c := &Context{
		senders: make(map[string]*Sender),
		metrics: metrics.NewSender(cfg.MetricsRegisterer),
	}
	c.bufPool.New = func() interface{} {
		buf := make([]float32, 0, 4096)
		return &buf
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenContext",
	}).Info("Opened sender context")

	return c, nil
}

// Close tears down the context.
//
// Returns:
//   - error: ErrContextBusy while senders are open, ErrContextClosed on a
//     second close
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	if len(c.senders) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Context.Close",
			"senders":  len(c.senders),
		}).Error("Refusing to close context with open senders")
		return ErrContextBusy
	}
	c.closed = true

	logrus.WithFields(logrus.Fields{
		"function": "Context.Close",
	}).Info("Closed sender context")

	return nil
}

// attach registers a sender with the context.
func (c *Context) attach(s *Sender) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	c.senders[s.id] = s
	return nil
}

// detach removes a sender from the context.
func (c *Context) detach(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.senders, id)
}

// getBuffer borrows a sample buffer with the given length from the pool.
func (c *Context) getBuffer(n int) []float32 {
	buf := *(c.bufPool.Get().(*[]float32))
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	return buf[:n]
}

// putBuffer returns a borrowed buffer to the pool.
func (c *Context) putBuffer(buf []float32) {
	buf = buf[:0]
	c.bufPool.Put(&buf)
}
