package transport

import (
	"time"

	"github.com/opd-ai/jauscore/largedata"
	"github.com/opd-ai/jauscore/limits"
	"github.com/opd-ai/jauscore/metrics"
)

// Defaults for channel options.
const (
	DefaultReadTimeout  = 100 * time.Millisecond
	DefaultWriteTimeout = 5 * time.Second
	DefaultReapInterval = time.Second
	shutdownTimeout     = 2 * time.Second
)

type options struct {
	readTimeout  time.Duration
	writeTimeout time.Duration
	reapInterval time.Duration
	maxBuffer    int
	metrics      *metrics.Metrics
	collector    *largedata.Collector
}

// Option configures a channel.
type Option func(*options)

// WithReadTimeout sets how long a receive loop blocks before checking for
// shutdown.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

// WithWriteTimeout bounds each Send.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithReapInterval sets how often a TCP server drops dead connections.
func WithReapInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reapInterval = d
		}
	}
}

// WithMaxBuffer sets the receive buffer size past which accumulated bytes
// are discarded as corrupt.
func WithMaxBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBuffer = n
		}
	}
}

// WithMetrics records frame and byte counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCollector reassembles fragments before they reach the callback.
// Without it every fragment is delivered as received.
func WithCollector(c *largedata.Collector) Option {
	return func(o *options) { o.collector = c }
}

func buildOptions(opts []Option) options {
	o := options{
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		reapInterval: DefaultReapInterval,
		maxBuffer:    limits.DefaultReceiveBufferLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
