package transport

import (
	"sync"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/largedata"
	"github.com/opd-ai/jauscore/metrics"
	"github.com/sirupsen/logrus"
)

// dispatcher hands complete frames to the channel's callback. The callback
// runs under mu so SetCallback never races a delivery in progress.
type dispatcher struct {
	mu        sync.Mutex
	cb        jaus.Callback
	kind      jaus.TransportKind
	collector *largedata.Collector
	metrics   *metrics.Metrics
}

func newDispatcher(kind jaus.TransportKind, cb jaus.Callback, o options) *dispatcher {
	return &dispatcher{cb: cb, kind: kind, collector: o.collector, metrics: o.metrics}
}

func (d *dispatcher) setCallback(cb jaus.Callback) error {
	if cb == nil {
		return ErrNilCallback
	}
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
	return nil
}

// deliver passes s to the callback, reassembling first when a collector is
// configured. It returns the header of the frame as received.
func (d *dispatcher) deliver(s *jaus.Stream, extra any) (jaus.Header, bool) {
	kind := d.kind.String()
	h, err := s.Header()
	if err != nil {
		d.metrics.RecordDropped(kind, metrics.ReasonMalformed)
		return jaus.Header{}, false
	}
	d.metrics.RecordReceived(kind)

	out, outHeader := s, h
	if d.collector != nil && h.IsFragment() {
		merged, err := d.collector.Add(s)
		if err != nil {
			d.metrics.RecordDropped(kind, metrics.ReasonRejected)
			logrus.WithFields(logrus.Fields{
				"function": "dispatcher.deliver",
				"kind":     kind,
				"header":   h.String(),
				"error":    err.Error(),
			}).Debug("Fragment rejected")
			return h, true
		}
		if merged == nil {
			return h, true
		}
		if outHeader, err = merged.Header(); err != nil {
			return h, true
		}
		out = merged
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cb == nil {
		d.metrics.RecordDropped(kind, metrics.ReasonNoCallback)
		return h, true
	}
	d.cb.ProcessStream(out, &outHeader, d.kind, extra)
	return h, true
}
