package transport

import (
	"testing"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/stretchr/testify/require"
)

var (
	clientAddr = jaus.NewAddress(1, 1, 2, 1)
	serverAddr = jaus.NewAddress(1, 2, 3, 1)
)

type received struct {
	stream *jaus.Stream
	header jaus.Header
	kind   jaus.TransportKind
	extra  any
}

// recorder is a callback that forwards every delivery to a channel.
type recorder struct {
	ch chan received
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan received, 64)}
}

func (r *recorder) ProcessStream(s *jaus.Stream, h *jaus.Header, kind jaus.TransportKind, extra any) {
	r.ch <- received{stream: s, header: *h, kind: kind, extra: extra}
}

func (r *recorder) next(t *testing.T) received {
	t.Helper()
	select {
	case got := <-r.ch:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return received{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case got := <-r.ch:
		t.Fatalf("unexpected frame %s", got.header)
	case <-time.After(wait):
	}
}

func frameOf(t testing.TB, code uint16, src, dst jaus.Address, payload []byte) *jaus.Stream {
	t.Helper()
	s, err := jaus.NewStream(jaus.NewHeader(code, src, dst), payload)
	require.NoError(t, err)
	return s
}
