package largedata

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is how long an incomplete data set may go without a new
// fragment before it is discarded.
const DefaultTimeout = time.Second

// Collector routes fragments to per-key data sets and returns merged
// messages as sets complete. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	sets    map[Key]*DataSet
	timeout time.Duration
	keyFn   KeyFunc
	tp      TimeProvider
	metrics *metrics.Metrics
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithTimeout sets the inactivity timeout for incomplete sets.
func WithTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithKeyFunc sets how fragments are keyed.
func WithKeyFunc(fn KeyFunc) CollectorOption {
	return func(c *Collector) {
		if fn != nil {
			c.keyFn = fn
		}
	}
}

// WithTimeProvider injects a clock, for tests.
func WithTimeProvider(tp TimeProvider) CollectorOption {
	return func(c *Collector) {
		if tp != nil {
			c.tp = tp
		}
	}
}

// WithMetrics records completed, expired and rejected sets.
func WithMetrics(m *metrics.Metrics) CollectorOption {
	return func(c *Collector) { c.metrics = m }
}

// NewCollector creates an empty Collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		sets:    make(map[Key]*DataSet),
		timeout: DefaultTimeout,
		keyFn:   DefaultKey,
		tp:      defaultTimeProvider,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add offers one frame to the collector. A DataSingle frame is returned
// unchanged. A fragment that completes its set yields the merged message and
// the set is removed; otherwise Add returns (nil, nil) while the set waits for
// more fragments. Stale sets are evicted during the same pass.
func (c *Collector) Add(s *jaus.Stream) (*jaus.Stream, error) {
	h, err := declaredHeader(s)
	if err != nil {
		c.metrics.RecordReassembly(0, 0, 1)
		return nil, err
	}
	if h.DataFlag == jaus.DataSingle {
		return s, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()

	key := c.keyFn(h, s)
	set, ok := c.sets[key]
	if !ok {
		set, err = startWith(s, c.keyFn, c.tp)
	} else if addErr := set.Add(s); addErr != nil {
		if !restarts(set, h) {
			c.metrics.RecordReassembly(0, 0, 1)
			logrus.WithFields(logrus.Fields{
				"function": "Collector.Add",
				"key":      key.String(),
				"seq":      h.SequenceNumber,
				"error":    addErr.Error(),
			}).Debug("Fragment rejected")
			return nil, addErr
		}
		// The sender began the message again; the old set can never complete.
		set, err = startWith(s, c.keyFn, c.tp)
	}
	if err != nil {
		c.metrics.RecordReassembly(0, 0, 1)
		return nil, err
	}
	c.sets[key] = set

	if !set.Complete() {
		return nil, nil
	}

	delete(c.sets, key)
	merged, err := set.Merge()
	if err != nil {
		c.metrics.RecordReassembly(0, 0, 1)
		logrus.WithFields(logrus.Fields{
			"function": "Collector.Add",
			"key":      key.String(),
			"error":    err.Error(),
		}).Warn("Discarding data set that failed to merge")
		return nil, err
	}

	c.metrics.RecordReassembly(1, 0, 0)
	return merged, nil
}

func restarts(set *DataSet, h jaus.Header) bool {
	if h.DataFlag != jaus.DataFirst {
		return false
	}
	return !set.haveFirst || set.firstSeq != int(h.SequenceNumber)
}

// Expire discards every incomplete set idle longer than the timeout and
// returns how many were removed.
func (c *Collector) Expire() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expireLocked()
}

func (c *Collector) expireLocked() int {
	expired := 0
	for key, set := range c.sets {
		if !set.Expired(c.timeout) {
			continue
		}
		delete(c.sets, key)
		expired++
		logrus.WithFields(logrus.Fields{
			"function":  "Collector.expire",
			"key":       key.String(),
			"fragments": set.Len(),
			"missing":   len(set.missing),
			"error":     fmt.Errorf("%w after %s", ErrFragmentTimeout, c.timeout).Error(),
		}).Warn("Discarding incomplete data set")
	}
	if expired > 0 {
		c.metrics.RecordReassembly(0, expired, 0)
	}
	return expired
}

// Len returns the number of incomplete sets held.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

// Reset discards every held set.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = make(map[Key]*DataSet)
}
