//go:build unix

package shm

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/stretchr/testify/require"
)

var (
	ownerAddr  = jaus.NewAddress(1, 2, 3, 1)
	senderAddr = jaus.NewAddress(1, 2, 4, 1)
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

func message(t testing.TB, code uint16, payload []byte) *jaus.Stream {
	t.Helper()
	s, err := jaus.NewStream(jaus.NewHeader(code, senderAddr, ownerAddr), payload)
	require.NoError(t, err)
	return s
}

func sized(t testing.TB, code uint16, n int) *jaus.Stream {
	t.Helper()
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(int(code) + i)
	}
	return message(t, code, payload)
}

// newInbox creates an inbox in a per-test directory and closes it on cleanup.
func newInbox(t *testing.T, size int, opts ...Option) (*Mailbox, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithDir(dir), WithPollInterval(time.Millisecond)}, opts...)
	mb, err := CreateInbox(ownerAddr, size, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { mb.Close() })
	return mb, dir
}
