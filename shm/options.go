package shm

import (
	"time"

	"github.com/opd-ai/jauscore/metrics"
)

// DefaultPollInterval is how often a mailbox receive loop checks for frames
// when the queue is empty.
const DefaultPollInterval = time.Millisecond

type options struct {
	dir          string
	tp           TimeProvider
	metrics      *metrics.Metrics
	pollInterval time.Duration
}

// Option configures mailboxes and registries.
type Option func(*options)

// WithDir places regions in dir instead of DefaultDir().
func WithDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.dir = dir
		}
	}
}

// WithTimeProvider injects a clock, for tests.
func WithTimeProvider(tp TimeProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tp = tp
		}
	}
}

// WithMetrics records enqueue failures and compactions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPollInterval sets how often an idle receive loop checks the queue.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		dir:          DefaultDir(),
		tp:           defaultTimeProvider,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
