package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/sirupsen/logrus"
)

// UDPServer receives datagrams from any JAUS peer on one socket. It learns
// which UDP address each source JAUS address sends from, so Send can route
// replies by destination.
type UDPServer struct {
	conn   net.PacketConn
	opts   options
	disp   *dispatcher
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	mu        sync.RWMutex
	routes    map[jaus.Address]net.Addr
	hostnames map[jaus.Address]string
}

// ListenUDP binds addr and delivers every valid datagram to cb.
func ListenUDP(addr string, cb jaus.Callback, opts ...Option) (*UDPServer, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	o := buildOptions(opts)

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ListenUDP",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to listen")
		return nil, newChannelError("listen", jaus.KindUDP, addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &UDPServer{
		conn:      conn,
		opts:      o,
		disp:      newDispatcher(jaus.KindUDP, cb, o),
		cancel:    cancel,
		done:      make(chan struct{}),
		routes:    make(map[jaus.Address]net.Addr),
		hostnames: make(map[jaus.Address]string),
	}
	go func() {
		defer close(s.done)
		datagramLoop(ctx, conn, s.disp, o, s.learn)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "ListenUDP",
		"addr":     conn.LocalAddr().String(),
	}).Info("UDP server listening")
	return s, nil
}

// Addr returns the bound address.
func (s *UDPServer) Addr() net.Addr { return s.conn.LocalAddr() }

// Kind returns jaus.KindUDP.
func (s *UDPServer) Kind() jaus.TransportKind { return jaus.KindUDP }

// SetCallback replaces the receive callback.
func (s *UDPServer) SetCallback(cb jaus.Callback) error { return s.disp.setCallback(cb) }

// Send writes s to the UDP address its destination last sent from. A
// broadcast destination goes to every known peer.
func (s *UDPServer) Send(st *jaus.Stream) (int, error) {
	h, err := st.Header()
	if err != nil {
		return 0, newChannelError("send", jaus.KindUDP, "", err)
	}

	var targets []net.Addr
	s.mu.RLock()
	if addr, ok := s.routes[h.Destination]; ok {
		targets = append(targets, addr)
	} else if h.Destination.IsBroadcast() {
		seen := make(map[string]bool)
		for src, addr := range s.routes {
			if h.Destination.Matches(src) && !seen[addr.String()] {
				seen[addr.String()] = true
				targets = append(targets, addr)
			}
		}
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		return 0, newChannelError("send", jaus.KindUDP, h.Destination.String(), ErrNoRoute)
	}

	var (
		n    int
		errs []error
	)
	for _, addr := range targets {
		w, err := s.SendTo(st, addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n = w
	}
	if len(errs) == len(targets) {
		return 0, errors.Join(errs...)
	}
	return n, nil
}

// SendTo writes s as one datagram to addr.
func (s *UDPServer) SendTo(st *jaus.Stream, addr net.Addr) (int, error) {
	if s.closed.Load() {
		return 0, newChannelError("send", jaus.KindUDP, addr.String(), ErrClosed)
	}
	frame, err := EncodeFrame(UDPMagic, st)
	if err != nil {
		return 0, newChannelError("send", jaus.KindUDP, addr.String(), err)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
	n, err := s.conn.WriteTo(frame, addr)
	if err != nil {
		s.opts.metrics.RecordSendError(jaus.KindUDP.String())
		return n, newChannelError("send", jaus.KindUDP, addr.String(), err)
	}
	s.opts.metrics.RecordSent(jaus.KindUDP.String(), n)
	return n, nil
}

// Route returns the UDP address learned for a JAUS address.
func (s *UDPServer) Route(a jaus.Address) (net.Addr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.routes[a]
	return addr, ok
}

// Hostnames returns a copy of the host each JAUS source was last seen from.
func (s *UDPServer) Hostnames() map[jaus.Address]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[jaus.Address]string, len(s.hostnames))
	for a, h := range s.hostnames {
		out[a] = h
	}
	return out
}

// Shutdown closes the socket and waits for the receive loop to stop.
func (s *UDPServer) Shutdown() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.conn.Close()
		waitDone(s.done, "UDPServer.Shutdown")
		logrus.WithFields(logrus.Fields{
			"function": "UDPServer.Shutdown",
			"addr":     s.conn.LocalAddr().String(),
		}).Info("UDP server stopped")
	})
	return err
}

func (s *UDPServer) learn(h jaus.Header, from net.Addr) {
	if !h.Source.IsValid() {
		return
	}
	host := from.String()
	if hp, _, err := net.SplitHostPort(host); err == nil {
		host = hp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.routes[h.Source]; !ok || prev.String() != from.String() {
		logrus.WithFields(logrus.Fields{
			"function": "UDPServer.learn",
			"source":   h.Source.String(),
			"from":     from.String(),
		}).Debug("Learned route")
	}
	s.routes[h.Source] = from
	s.hostnames[h.Source] = host
}
