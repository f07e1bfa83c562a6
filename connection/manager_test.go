package connection

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/opd-ai/jauscore/config"
	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/largedata"
	"github.com/opd-ai/jauscore/limits"
	"github.com/opd-ai/jauscore/metrics"
	"github.com/opd-ai/jauscore/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidAddress(t *testing.T) {
	_, err := New(jaus.NewAddress(0, 1, 1, 1), DefaultOptions())
	assert.ErrorIs(t, err, jaus.ErrInvalidAddress)
}

func TestSendWhenUnbound(t *testing.T) {
	m := newManager(t, testOptions())
	assert.Equal(t, jaus.KindNone, m.Kind())
	assert.ErrorIs(t, m.Send(message(t, localAddr, peerAddr, 8)), ErrNotConnected)
	assert.NoError(t, m.Shutdown())
}

func TestConnectWithoutTransport(t *testing.T) {
	m := newManager(t, testOptions())
	err := m.Connect(context.Background(), peerAddr, newRecorder(), "", false)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, jaus.KindNone, m.Kind())
}

func TestConnectRejectsNilCallback(t *testing.T) {
	m := newManager(t, testOptions())
	err := m.Connect(context.Background(), peerAddr, nil, "127.0.0.1", false)
	assert.ErrorIs(t, err, transport.ErrNilCallback)
}

func TestSendFragmentsLargeMessages(t *testing.T) {
	tests := []struct {
		name    string
		payload int
		frames  int
	}{
		{"single packet", limits.MaxDataSize, 1},
		{"two fragments", limits.MaxDataSize + 1, 2},
		{"three fragments", 3 * limits.MaxDataSize, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, testOptions())
			fake := &fakeChannel{}
			m.bind(jaus.KindUDP, peerAddr, fake, newRecorder())

			require.NoError(t, m.Send(message(t, localAddr, peerAddr, tt.payload)))
			assert.Len(t, fake.sent, tt.frames)
			for _, s := range fake.sent {
				assert.LessOrEqual(t, s.Len(), limits.MaxPacketSize)
			}
		})
	}
}

func TestSendSequenceNumbers(t *testing.T) {
	m := newManager(t, testOptions())
	fake := &fakeChannel{}
	m.bind(jaus.KindTCP, peerAddr, fake, newRecorder())

	big := 2*limits.MaxDataSize + 10
	require.NoError(t, m.Send(message(t, localAddr, peerAddr, big)))
	require.NoError(t, m.Send(message(t, localAddr, peerAddr, big)))
	assert.Equal(t, []uint16{0, 1, 2, 3, 4, 5}, fake.sequences(t))
}

func TestSendSequenceWraps(t *testing.T) {
	m := newManager(t, testOptions())
	fake := &fakeChannel{}
	m.bind(jaus.KindUDP, peerAddr, fake, newRecorder())
	m.seq = 0xFFFE

	require.NoError(t, m.Send(message(t, localAddr, peerAddr, 2*limits.MaxDataSize+1)))
	assert.Equal(t, []uint16{0, 1, 2}, fake.sequences(t))
}

func TestSendOverSharedMemoryIsNotFragmented(t *testing.T) {
	m := newManager(t, testOptions())
	fake := &fakeChannel{}
	m.bind(jaus.KindSharedMemory, peerAddr, fake, newRecorder())

	require.NoError(t, m.Send(message(t, localAddr, peerAddr, 3*limits.MaxDataSize)))
	require.Len(t, fake.sent, 1)
	assert.Greater(t, fake.sent[0].Len(), limits.MaxPacketSize)
}

func TestSendSurfacesErrors(t *testing.T) {
	tp := newMockTime()
	opts := testOptions()
	opts.TimeProvider = tp
	m := newManager(t, opts)
	boom := errors.New("boom")
	fake := &fakeChannel{err: boom}
	m.bind(jaus.KindUDP, peerAddr, fake, newRecorder())

	assert.ErrorIs(t, m.Send(message(t, localAddr, peerAddr, 4)), boom)
	assert.True(t, m.LastSendTime().IsZero())

	fake.err = nil
	require.NoError(t, m.Send(message(t, localAddr, peerAddr, 4)))
	assert.True(t, tp.Now().Equal(m.LastSendTime()))
}

func TestShutdownUnbinds(t *testing.T) {
	m := newManager(t, testOptions())
	fake := &fakeChannel{}
	m.bind(jaus.KindUDP, peerAddr, fake, newRecorder())
	assert.Equal(t, peerAddr, m.Destination())

	require.NoError(t, m.Shutdown())
	assert.True(t, fake.shutdown)
	assert.Equal(t, jaus.KindNone, m.Kind())
	assert.ErrorIs(t, m.Send(message(t, localAddr, peerAddr, 4)), ErrNotConnected)
	assert.NoError(t, m.Shutdown(), "second shutdown is a no-op")
}

func TestConnectUDP(t *testing.T) {
	peer := newRecorder()
	srv, err := transport.ListenUDP("127.0.0.1:0", peer, transport.WithReadTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer srv.Shutdown()

	tp := newMockTime()
	opts := testOptions()
	opts.TimeProvider = tp
	m := newManager(t, opts)
	local := newRecorder()
	require.NoError(t, m.Connect(context.Background(), peerAddr, local, srv.Addr().String(), false))
	assert.Equal(t, jaus.KindUDP, m.Kind())

	require.NoError(t, m.Send(message(t, localAddr, peerAddr, 2*limits.MaxDataSize)))
	seqs := []uint16{peer.next(t).header.SequenceNumber, peer.next(t).header.SequenceNumber}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	assert.Equal(t, []uint16{0, 1}, seqs)

	require.Eventually(t, func() bool {
		_, ok := srv.Route(localAddr)
		return ok
	}, time.Second, 5*time.Millisecond)
	_, err = srv.Send(message(t, peerAddr, localAddr, 16))
	require.NoError(t, err)
	got := local.next(t)
	assert.Equal(t, jaus.KindUDP, got.kind)
	assert.Equal(t, peerAddr, got.header.Source)
	assert.True(t, tp.Now().Equal(m.LastReceiveTime()))
}

func TestConnectUDPReassembles(t *testing.T) {
	peer := newRecorder()
	srv, err := transport.ListenUDP("127.0.0.1:0", peer,
		transport.WithReadTimeout(20*time.Millisecond),
		transport.WithCollector(largedata.NewCollector()))
	require.NoError(t, err)
	defer srv.Shutdown()

	m := newManager(t, testOptions())
	require.NoError(t, m.Connect(context.Background(), peerAddr, newRecorder(), srv.Addr().String(), false))

	msg := message(t, localAddr, peerAddr, 3*limits.MaxDataSize+7)
	require.NoError(t, m.Send(msg))
	got := peer.next(t)
	assert.Equal(t, msg.Payload(), got.stream.Payload())
	assert.False(t, got.header.IsFragment())
}

func TestConnectTCP(t *testing.T) {
	peer := newRecorder()
	srv, err := transport.ListenTCP("127.0.0.1:0", peer, transport.WithReadTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer srv.Shutdown()

	m := newManager(t, testOptions())
	require.NoError(t, m.Connect(context.Background(), peerAddr, newRecorder(), srv.Addr().String(), true))
	assert.Equal(t, jaus.KindTCP, m.Kind())

	msg := message(t, localAddr, peerAddr, 64)
	require.NoError(t, m.Send(msg))
	got := peer.next(t)
	assert.Equal(t, msg.Bytes(), got.stream.Bytes())
	assert.Equal(t, jaus.KindTCP, got.kind)
}

func TestConnectPreferTCPOption(t *testing.T) {
	peer := newRecorder()
	srv, err := transport.ListenTCP("127.0.0.1:0", peer, transport.WithReadTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer srv.Shutdown()

	opts := testOptions()
	opts.PreferTCP = true
	m := newManager(t, opts)
	require.NoError(t, m.Connect(context.Background(), peerAddr, newRecorder(), srv.Addr().String(), false))
	assert.Equal(t, jaus.KindTCP, m.Kind())

	require.NoError(t, m.Send(message(t, localAddr, peerAddr, 8)))
	assert.Equal(t, jaus.KindTCP, peer.next(t).kind)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Network.PreferTCP = true
	cfg.Network.ReapInterval = 250 * time.Millisecond
	cfg.Network.UDPPort = 4000

	opts := OptionsFromConfig(cfg)
	assert.True(t, opts.PreferTCP)
	assert.Equal(t, 250*time.Millisecond, opts.ReapInterval)
	assert.Equal(t, 4000, opts.UDPPort)
	assert.Equal(t, cfg.SHM.Enable, opts.EnableSHM)
}

func TestTransportOptionsReapInterval(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	opts := testOptions()
	opts.ReapInterval = 10 * time.Millisecond
	opts.Metrics = m
	srv, err := transport.ListenTCP("127.0.0.1:0", newRecorder(), opts.TransportOptions()...)
	require.NoError(t, err)
	defer srv.Shutdown()

	live := func() float64 { return testutil.ToFloat64(m.ActiveConnections.WithLabelValues("tcp")) }

	client, err := transport.DialTCP(context.Background(), srv.Addr().String(), newRecorder(),
		transport.WithReadTimeout(20*time.Millisecond))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return live() == 1 }, 500*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, client.Shutdown())
	require.Eventually(t, func() bool { return live() == 0 }, 500*time.Millisecond, 5*time.Millisecond,
		"closed connection reaped within the configured interval")
}

func TestConnectReplacesBinding(t *testing.T) {
	srv, err := transport.ListenUDP("127.0.0.1:0", newRecorder(), transport.WithReadTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer srv.Shutdown()

	m := newManager(t, testOptions())
	fake := &fakeChannel{}
	m.bind(jaus.KindTCP, peerAddr, fake, newRecorder())

	require.NoError(t, m.Connect(context.Background(), peerAddr, newRecorder(), srv.Addr().String(), false))
	assert.True(t, fake.shutdown)
	assert.Equal(t, jaus.KindUDP, m.Kind())
}

func TestConnectSerialMissingPort(t *testing.T) {
	m := newManager(t, testOptions())
	err := m.ConnectSerial(peerAddr, newRecorder(), transport.DefaultSerialConfig("/dev/does-not-exist-jaus"))
	assert.Error(t, err)
	assert.Equal(t, jaus.KindNone, m.Kind())
}

func TestWithDefaultPort(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"10.0.0.5", "10.0.0.5:3794"},
		{"10.0.0.5:4000", "10.0.0.5:4000"},
		{"::1", "[::1]:3794"},
		{"robot.local", "robot.local:3794"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, withDefaultPort(tt.host, transport.DefaultPort))
		})
	}
}
