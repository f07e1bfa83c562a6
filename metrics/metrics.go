// Package metrics provides prometheus instrumentation for the JAUS transport
// core. A nil *Metrics is valid and records nothing, so components can be
// used without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jaus"

// Drop reasons recorded by FramesDropped.
const (
	ReasonMalformed  = "malformed"
	ReasonNoCallback = "no_callback"
	ReasonRejected   = "rejected"
	ReasonOverflow   = "overflow"
)

// Metrics contains the transport-level collectors.
type Metrics struct {
	FramesSent        *prometheus.CounterVec
	FramesReceived    *prometheus.CounterVec
	BytesSent         *prometheus.CounterVec
	BytesReceived     *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	BufferResets      *prometheus.CounterVec
	SendErrors        *prometheus.CounterVec
	ActiveConnections *prometheus.GaugeVec

	ReassemblyCompleted prometheus.Counter
	ReassemblyExpired   prometheus.Counter
	ReassemblyRejected  prometheus.Counter

	MailboxEnqueueFailures *prometheus.CounterVec
	MailboxCompactions     prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_sent_total",
				Help:      "Total number of frames written to a transport",
			},
			[]string{"kind"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_received_total",
				Help:      "Total number of complete frames extracted from a transport",
			},
			[]string{"kind"},
		),

		BytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "bytes_sent_total",
				Help:      "Total number of bytes written to a transport, framing included",
			},
			[]string{"kind"},
		),

		BytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "bytes_received_total",
				Help:      "Total number of bytes read from a transport",
			},
			[]string{"kind"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "frames_dropped_total",
				Help:      "Total number of candidate frames discarded",
			},
			[]string{"kind", "reason"},
		),

		BufferResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "buffer_resets_total",
				Help:      "Times a receive buffer was cleared by the corruption guard",
			},
			[]string{"kind"},
		),

		SendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "send_errors_total",
				Help:      "Total number of failed sends",
			},
			[]string{"kind"},
		),

		ActiveConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "active_connections",
				Help:      "Live connections held by stream-oriented servers",
			},
			[]string{"kind"},
		),

		ReassemblyCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reassembly",
				Name:      "completed_total",
				Help:      "Large data sets merged into a complete message",
			},
		),

		ReassemblyExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reassembly",
				Name:      "expired_total",
				Help:      "Incomplete large data sets discarded after the inactivity timeout",
			},
		),

		ReassemblyRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reassembly",
				Name:      "rejected_total",
				Help:      "Fragments rejected by a large data set",
			},
		),

		MailboxEnqueueFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mailbox",
				Name:      "enqueue_failures_total",
				Help:      "Failed shared-memory enqueues",
			},
			[]string{"reason"},
		),

		MailboxCompactions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mailbox",
				Name:      "compactions_total",
				Help:      "Times live mailbox data was moved back to the base offset",
			},
		),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesSent, m.FramesReceived, m.BytesSent, m.BytesReceived,
		m.FramesDropped, m.BufferResets, m.SendErrors, m.ActiveConnections,
		m.ReassemblyCompleted, m.ReassemblyExpired, m.ReassemblyRejected,
		m.MailboxEnqueueFailures, m.MailboxCompactions,
	}
}

// RecordSent counts one frame of n bytes written on kind.
func (m *Metrics) RecordSent(kind string, n int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
	m.BytesSent.WithLabelValues(kind).Add(float64(n))
}

// RecordReceived counts one complete frame extracted on kind.
func (m *Metrics) RecordReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

// RecordBytesReceived counts raw bytes read on kind.
func (m *Metrics) RecordBytesReceived(kind string, n int) {
	if m == nil {
		return
	}
	m.BytesReceived.WithLabelValues(kind).Add(float64(n))
}

// RecordDropped counts a discarded candidate frame.
func (m *Metrics) RecordDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(kind, reason).Inc()
}

// RecordBufferReset counts a corruption-guard reset.
func (m *Metrics) RecordBufferReset(kind string) {
	if m == nil {
		return
	}
	m.BufferResets.WithLabelValues(kind).Inc()
}

// RecordSendError counts a failed send.
func (m *Metrics) RecordSendError(kind string) {
	if m == nil {
		return
	}
	m.SendErrors.WithLabelValues(kind).Inc()
}

// SetConnections sets the live connection gauge for kind.
func (m *Metrics) SetConnections(kind string, n int) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(kind).Set(float64(n))
}

// RecordReassembly counts completed, expired and rejected large data sets.
func (m *Metrics) RecordReassembly(completed, expired, rejected int) {
	if m == nil {
		return
	}
	m.ReassemblyCompleted.Add(float64(completed))
	m.ReassemblyExpired.Add(float64(expired))
	m.ReassemblyRejected.Add(float64(rejected))
}

// RecordEnqueueFailure counts a failed mailbox enqueue.
func (m *Metrics) RecordEnqueueFailure(reason string) {
	if m == nil {
		return
	}
	m.MailboxEnqueueFailures.WithLabelValues(reason).Inc()
}

// RecordCompaction counts a mailbox compaction.
func (m *Metrics) RecordCompaction() {
	if m == nil {
		return
	}
	m.MailboxCompactions.Inc()
}
