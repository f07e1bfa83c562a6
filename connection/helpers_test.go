package connection

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/stretchr/testify/require"
)

var (
	localAddr = jaus.NewAddress(1, 1, 2, 1)
	peerAddr  = jaus.NewAddress(1, 1, 3, 1)
)

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTime() *mockTimeProvider {
	return &mockTimeProvider{now: time.Unix(1_700_000_000, 0)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

type received struct {
	stream *jaus.Stream
	header jaus.Header
	kind   jaus.TransportKind
}

type recorder struct {
	ch chan received
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan received, 64)}
}

func (r *recorder) ProcessStream(s *jaus.Stream, h *jaus.Header, kind jaus.TransportKind, _ any) {
	r.ch <- received{stream: s, header: *h, kind: kind}
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

// fakeChannel records what a Manager sends.
type fakeChannel struct {
	mu       sync.Mutex
	sent     []*jaus.Stream
	err      error
	shutdown bool
}

func (f *fakeChannel) Send(s *jaus.Stream) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, s)
	return s.Len(), nil
}

func (f *fakeChannel) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return errors.New("already shut down")
	}
	f.shutdown = true
	return nil
}

func (f *fakeChannel) sequences(t *testing.T) []uint16 {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs := make([]uint16, 0, len(f.sent))
	for _, s := range f.sent {
		h, err := s.Header()
		require.NoError(t, err)
		seqs = append(seqs, h.SequenceNumber)
	}
	return seqs
}

func message(t testing.TB, src, dst jaus.Address, n int) *jaus.Stream {
	t.Helper()
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(i)
	}
	s, err := jaus.NewStream(jaus.NewHeader(0x4001, src, dst), payload)
	require.NoError(t, err)
	return s
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.EnableSHM = false
	opts.ReadTimeout = 20 * time.Millisecond
	return opts
}

func newManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	m, err := New(localAddr, opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	return m
}
