package shm

import (
	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/largedata"
)

// CollectingMailbox reassembles fragments before they reach a Mailbox, so
// only whole messages are ever queued. Partial sets live in this process's
// memory, which keeps compaction from seeing half-written data sets.
type CollectingMailbox struct {
	mb        *Mailbox
	collector *largedata.Collector
}

// NewCollectingMailbox wraps mb. opts configure the fragment collector.
func NewCollectingMailbox(mb *Mailbox, opts ...largedata.CollectorOption) *CollectingMailbox {
	return &CollectingMailbox{mb: mb, collector: largedata.NewCollector(opts...)}
}

// Enqueue queues s directly when it is a single message. A fragment is held
// until its set completes; the merged message, with its ack/nack bits
// cleared, is queued then. The byte count is zero while a set is incomplete.
func (c *CollectingMailbox) Enqueue(s *jaus.Stream) (int, error) {
	h, err := s.Header()
	if err != nil {
		return 0, err
	}
	if !h.IsFragment() {
		return c.mb.Enqueue(s)
	}
	merged, err := c.collector.Add(s)
	if err != nil || merged == nil {
		return 0, err
	}
	if err := merged.ClearAckNack(); err != nil {
		return 0, err
	}
	return c.mb.Enqueue(merged)
}

// Pending returns the number of incomplete data sets.
func (c *CollectingMailbox) Pending() int { return c.collector.Len() }

// Mailbox returns the wrapped mailbox.
func (c *CollectingMailbox) Mailbox() *Mailbox { return c.mb }

// Close drops incomplete sets and closes the mailbox.
func (c *CollectingMailbox) Close() error {
	c.collector.Reset()
	return c.mb.Close()
}
