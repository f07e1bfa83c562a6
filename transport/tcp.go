package transport

import (
	"context"
	"net"
	"sync"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/sirupsen/logrus"
)

// TCPClient is a framed TCP connection to one JAUS peer.
type TCPClient struct {
	conn   net.Conn
	link   *link
	disp   *dispatcher
	cancel context.CancelFunc
	once   sync.Once
}

// DialTCP connects to addr and starts delivering inbound frames to cb.
func DialTCP(ctx context.Context, addr string, cb jaus.Callback, opts ...Option) (*TCPClient, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	o := buildOptions(opts)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DialTCP",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to connect")
		return nil, newChannelError("dial", jaus.KindTCP, addr, err)
	}

	c := newTCPClient(conn, cb, o)
	logrus.WithFields(logrus.Fields{
		"function": "DialTCP",
		"local":    conn.LocalAddr().String(),
		"remote":   conn.RemoteAddr().String(),
	}).Info("TCP channel connected")
	return c, nil
}

func newTCPClient(conn net.Conn, cb jaus.Callback, o options) *TCPClient {
	disp := newDispatcher(jaus.KindTCP, cb, o)
	ctx, cancel := context.WithCancel(context.Background())
	c := &TCPClient{
		conn:   conn,
		link:   newLink(conn, conn.RemoteAddr().String(), conn.RemoteAddr(), TCPMagic, jaus.KindTCP, disp, o),
		disp:   disp,
		cancel: cancel,
	}
	o.metrics.SetConnections(jaus.KindTCP.String(), 1)
	go c.link.run(ctx)
	return c
}

// Send writes s as one TCP frame.
func (c *TCPClient) Send(s *jaus.Stream) (int, error) {
	frame, err := EncodeFrame(TCPMagic, s)
	if err != nil {
		return 0, newChannelError("send", jaus.KindTCP, c.link.peer, err)
	}
	return c.link.write(frame)
}

// SetCallback replaces the receive callback.
func (c *TCPClient) SetCallback(cb jaus.Callback) error { return c.disp.setCallback(cb) }

// Kind returns jaus.KindTCP.
func (c *TCPClient) Kind() jaus.TransportKind { return jaus.KindTCP }

// LocalAddr returns the local end of the connection.
func (c *TCPClient) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the peer's address.
func (c *TCPClient) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Connected reports whether the receive loop is still running.
func (c *TCPClient) Connected() bool { return !c.link.dead.Load() }

// Shutdown closes the connection and waits for the receive loop to stop.
func (c *TCPClient) Shutdown() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.link.close()
		c.link.opts.metrics.SetConnections(jaus.KindTCP.String(), 0)
		logrus.WithFields(logrus.Fields{
			"function": "TCPClient.Shutdown",
			"remote":   c.link.peer,
		}).Info("TCP channel closed")
	})
	return err
}
