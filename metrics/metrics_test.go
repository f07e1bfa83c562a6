package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordSent("udp", 120)
	m.RecordSent("udp", 30)
	m.RecordDropped("tcp", ReasonMalformed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("udp")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.BytesSent.WithLabelValues("udp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("tcp", ReasonMalformed)))

	// Registering the same set twice must fail.
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSent("udp", 1)
		m.RecordReceived("udp")
		m.RecordBytesReceived("udp", 1)
		m.RecordDropped("udp", ReasonOverflow)
		m.RecordBufferReset("tcp")
		m.RecordSendError("tcp")
		m.SetConnections("tcp", 3)
		m.RecordReassembly(1, 1, 1)
		m.RecordEnqueueFailure("full")
		m.RecordCompaction()
	})
}

func TestRecordReassembly(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.RecordReassembly(2, 1, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReassemblyCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReassemblyExpired))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ReassemblyRejected))
}
