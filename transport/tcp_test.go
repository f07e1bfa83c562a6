package transport

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/largedata"
	"github.com/opd-ai/jauscore/limits"
	"github.com/opd-ai/jauscore/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTCP(t *testing.T, opts ...Option) (*TCPServer, *recorder) {
	t.Helper()
	rec := newRecorder()
	srv, err := ListenTCP("127.0.0.1:0", rec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown() })
	return srv, rec
}

func dialTCP(t *testing.T, srv *TCPServer, opts ...Option) (*TCPClient, *recorder) {
	t.Helper()
	rec := newRecorder()
	c, err := DialTCP(context.Background(), srv.Addr().String(), rec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown() })
	return c, rec
}

func TestTCPRoundTrip(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)
	srv, srvRec := startTCP(t, WithMetrics(m))
	client, clientRec := dialTCP(t, srv)

	req := frameOf(t, 0x2002, clientAddr, serverAddr, []byte("query"))
	n, err := client.Send(req)
	require.NoError(t, err)
	assert.Equal(t, limits.MagicSize+req.Len(), n)

	got := srvRec.next(t)
	assert.Equal(t, req.Bytes(), got.stream.Bytes())
	assert.Equal(t, jaus.KindTCP, got.kind)
	assert.Equal(t, clientAddr, got.header.Source)
	_, isAddr := got.extra.(net.Addr)
	assert.True(t, isAddr)

	// The server learned clientAddr from the request, so the reply routes back.
	reply := frameOf(t, 0x4002, serverAddr, clientAddr, []byte("report"))
	require.Eventually(t, func() bool {
		_, err := srv.Send(reply)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, reply.Bytes(), clientRec.next(t).stream.Bytes())

	assert.Equal(t, 1, srv.Connections())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesReceived.WithLabelValues("tcp")))
}

func TestTCPServerRoutesByDestination(t *testing.T) {
	srv, srvRec := startTCP(t)
	a, aRec := dialTCP(t, srv)
	b, bRec := dialTCP(t, srv)

	addrA := jaus.NewAddress(5, 1, 1, 1)
	addrB := jaus.NewAddress(6, 1, 1, 1)
	_, err := a.Send(frameOf(t, 1, addrA, serverAddr, nil))
	require.NoError(t, err)
	_, err = b.Send(frameOf(t, 1, addrB, serverAddr, nil))
	require.NoError(t, err)
	srvRec.next(t)
	srvRec.next(t)

	toB := frameOf(t, 2, serverAddr, addrB, []byte("b only"))
	require.Eventually(t, func() bool {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		_, ok := srv.routes[addrB]
		return ok
	}, time.Second, 10*time.Millisecond)
	_, err = srv.Send(toB)
	require.NoError(t, err)
	assert.Equal(t, toB.Bytes(), bRec.next(t).stream.Bytes())
	aRec.none(t, 50*time.Millisecond)

	// Unknown destinations go to every connection.
	unknown := frameOf(t, 3, serverAddr, jaus.NewAddress(9, 9, 9, 9), nil)
	_, err = srv.Send(unknown)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), aRec.next(t).header.CommandCode)
	assert.Equal(t, uint16(3), bRec.next(t).header.CommandCode)
}

func TestTCPServerSendWithoutPeers(t *testing.T) {
	srv, _ := startTCP(t)
	_, err := srv.Send(frameOf(t, 1, serverAddr, clientAddr, nil))
	assert.ErrorIs(t, err, ErrNoRoute)

	var chErr *ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.Equal(t, "send", chErr.Op)
	assert.Equal(t, jaus.KindTCP, chErr.Kind)

	_, err = srv.SendTo(frameOf(t, 1, serverAddr, clientAddr, nil), &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestTCPServerReapsClosedConnections(t *testing.T) {
	srv, srvRec := startTCP(t, WithReapInterval(10*time.Millisecond))
	client, _ := dialTCP(t, srv)

	_, err := client.Send(frameOf(t, 1, clientAddr, serverAddr, nil))
	require.NoError(t, err)
	srvRec.next(t)
	require.Equal(t, 1, srv.Connections())

	require.NoError(t, client.Shutdown())
	require.Eventually(t, func() bool {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		return len(srv.links) == 0 && len(srv.routes) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTCPReassemblesWithCollector(t *testing.T) {
	srv, srvRec := startTCP(t, WithCollector(largedata.NewCollector()))
	client, _ := dialTCP(t, srv)

	payload := make([]byte, 3*limits.MaxDataSize+10)
	rand.New(rand.NewSource(3)).Read(payload)
	msg := frameOf(t, 0x4400, clientAddr, serverAddr, payload)
	frags, err := largedata.CreateFragments(msg, 0)
	require.NoError(t, err)
	for _, f := range frags {
		_, err := client.Send(f)
		require.NoError(t, err)
	}

	got := srvRec.next(t)
	assert.Equal(t, jaus.DataSingle, got.header.DataFlag)
	assert.Equal(t, len(payload), got.header.DataSize)
	assert.Equal(t, payload, got.stream.Payload())
	srvRec.none(t, 50*time.Millisecond)
}

func TestTCPClientErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialTCP(context.Background(), addr, newRecorder())
	var chErr *ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.Equal(t, "dial", chErr.Op)
	assert.Equal(t, addr, chErr.Addr)

	_, err = DialTCP(context.Background(), addr, nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	srv, _ := startTCP(t)
	client, _ := dialTCP(t, srv)
	_, err = client.Send(frameOf(t, 1, clientAddr, serverAddr, make([]byte, limits.MaxDataSize+1)))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	require.NoError(t, client.Shutdown())
	require.NoError(t, client.Shutdown(), "shutdown is idempotent")
	assert.False(t, client.Connected())
	_, err = client.Send(frameOf(t, 1, clientAddr, serverAddr, nil))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTCPSetCallback(t *testing.T) {
	srv, _ := startTCP(t)
	client, _ := dialTCP(t, srv)

	replacement := newRecorder()
	require.NoError(t, srv.SetCallback(replacement))
	assert.ErrorIs(t, srv.SetCallback(nil), ErrNilCallback)

	_, err := client.Send(frameOf(t, 7, clientAddr, serverAddr, nil))
	require.NoError(t, err)
	assert.Equal(t, uint16(7), replacement.next(t).header.CommandCode)
}

func TestTCPServerShutdownDuringAccept(t *testing.T) {
	rec := newRecorder()
	srv, err := ListenTCP("127.0.0.1:0", rec, WithReadTimeout(10*time.Millisecond))
	require.NoError(t, err)
	addr := srv.Addr().String()

	stop := make(chan struct{})
	dialed := make(chan struct{})
	go func() {
		defer close(dialed)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond); err == nil {
				conn.Close()
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- srv.Shutdown() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return")
	}
	close(stop)
	<-dialed
	assert.Zero(t, srv.Connections())
}
