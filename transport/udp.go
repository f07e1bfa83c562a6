package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
	"github.com/opd-ai/jauscore/metrics"
	"github.com/sirupsen/logrus"
)

// datagramHandler receives each decoded datagram's header and sender.
type datagramHandler func(h jaus.Header, from net.Addr)

// datagramLoop reads datagrams until ctx is cancelled or the socket closes.
// Other read errors are logged and the loop carries on.
// Each datagram is one candidate frame.
func datagramLoop(ctx context.Context, conn net.PacketConn, disp *dispatcher, o options, onFrame datagramHandler) {
	buf := make([]byte, limits.MaxFrameSize+1)
	kind := jaus.KindUDP.String()

	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(o.readTimeout))
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// A connected socket reports ICMP port unreachable as a read
			// error; the peer may simply not be listening yet.
			logrus.WithFields(logrus.Fields{
				"function": "datagramLoop",
				"local":    conn.LocalAddr().String(),
				"error":    err.Error(),
			}).Debug("Read failed, continuing")
			continue
		}
		o.metrics.RecordBytesReceived(kind, n)

		s, err := decodeDatagram(UDPMagic, buf[:n])
		if err != nil {
			o.metrics.RecordDropped(kind, metrics.ReasonMalformed)
			logrus.WithFields(logrus.Fields{
				"function": "datagramLoop",
				"from":     from.String(),
				"size":     n,
				"error":    err.Error(),
			}).Debug("Dropping malformed datagram")
			continue
		}
		h, ok := disp.deliver(s, from)
		if ok && onFrame != nil {
			onFrame(h, from)
		}
	}
}

// UDPClient sends frames to one UDP peer and receives its replies.
type UDPClient struct {
	conn   *net.UDPConn
	remote net.Addr
	opts   options
	disp   *dispatcher
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// DialUDP binds an ephemeral local port, fixes addr as the peer and starts
// delivering inbound frames to cb.
func DialUDP(ctx context.Context, addr string, cb jaus.Callback, opts ...Option) (*UDPClient, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	o := buildOptions(opts)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DialUDP",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to open UDP channel")
		return nil, newChannelError("dial", jaus.KindUDP, addr, err)
	}
	udp := conn.(*net.UDPConn)

	lctx, cancel := context.WithCancel(context.Background())
	c := &UDPClient{
		conn:   udp,
		remote: udp.RemoteAddr(),
		opts:   o,
		disp:   newDispatcher(jaus.KindUDP, cb, o),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		datagramLoop(lctx, connectedPacketConn{udp}, c.disp, o, nil)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "DialUDP",
		"local":    udp.LocalAddr().String(),
		"remote":   c.remote.String(),
	}).Info("UDP channel open")
	return c, nil
}

// Send writes s as one datagram to the peer.
func (c *UDPClient) Send(s *jaus.Stream) (int, error) {
	if c.closed.Load() {
		return 0, newChannelError("send", jaus.KindUDP, c.remote.String(), ErrClosed)
	}
	frame, err := EncodeFrame(UDPMagic, s)
	if err != nil {
		return 0, newChannelError("send", jaus.KindUDP, c.remote.String(), err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	n, err := c.conn.Write(frame)
	if err != nil {
		c.opts.metrics.RecordSendError(jaus.KindUDP.String())
		return n, newChannelError("send", jaus.KindUDP, c.remote.String(), err)
	}
	c.opts.metrics.RecordSent(jaus.KindUDP.String(), n)
	return n, nil
}

// SetCallback replaces the receive callback.
func (c *UDPClient) SetCallback(cb jaus.Callback) error { return c.disp.setCallback(cb) }

// Kind returns jaus.KindUDP.
func (c *UDPClient) Kind() jaus.TransportKind { return jaus.KindUDP }

// LocalAddr returns the bound local address.
func (c *UDPClient) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the peer address.
func (c *UDPClient) RemoteAddr() net.Addr { return c.remote }

// Shutdown closes the socket and waits for the receive loop to stop.
func (c *UDPClient) Shutdown() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		c.cancel()
		err = c.conn.Close()
		waitDone(c.done, "UDPClient.Shutdown")
	})
	return err
}

// connectedPacketConn reads a connected UDP socket through the PacketConn
// interface, reporting the fixed peer as the sender.
type connectedPacketConn struct {
	*net.UDPConn
}

func (c connectedPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.UDPConn.Read(b)
	return n, c.UDPConn.RemoteAddr(), err
}

func waitDone(done <-chan struct{}, fn string) {
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logrus.WithFields(logrus.Fields{
			"function": fn,
		}).Warn("Receive loop did not stop in time")
	}
}
