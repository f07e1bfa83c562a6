package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TCPServer accepts framed TCP connections from JAUS peers. Each connection
// gets its own receive loop; a reaper drops connections whose loop has
// ended. Send routes by destination address, learned from the source address
// of frames each connection has delivered.
type TCPServer struct {
	ln     net.Listener
	opts   options
	disp   *dispatcher
	cancel context.CancelFunc
	group  *errgroup.Group
	ctx    context.Context

	mu     sync.RWMutex
	links  map[string]*link
	routes map[jaus.Address]string

	wg   sync.WaitGroup
	once sync.Once
}

// ListenTCP listens on addr and delivers frames from every peer to cb.
func ListenTCP(addr string, cb jaus.Callback, opts ...Option) (*TCPServer, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	o := buildOptions(opts)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ListenTCP",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to listen")
		return nil, newChannelError("listen", jaus.KindTCP, addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	s := &TCPServer{
		ln:     ln,
		opts:   o,
		disp:   newDispatcher(jaus.KindTCP, cb, o),
		cancel: cancel,
		group:  g,
		ctx:    gctx,
		links:  make(map[string]*link),
		routes: make(map[jaus.Address]string),
	}
	g.Go(s.acceptLoop)
	g.Go(s.reapLoop)

	logrus.WithFields(logrus.Fields{
		"function": "ListenTCP",
		"addr":     ln.Addr().String(),
	}).Info("TCP server listening")
	return s, nil
}

// Addr returns the listening address.
func (s *TCPServer) Addr() net.Addr { return s.ln.Addr() }

// Kind returns jaus.KindTCP.
func (s *TCPServer) Kind() jaus.TransportKind { return jaus.KindTCP }

// SetCallback replaces the receive callback for every connection.
func (s *TCPServer) SetCallback(cb jaus.Callback) error { return s.disp.setCallback(cb) }

// Connections returns the number of live connections.
func (s *TCPServer) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.links {
		if !l.dead.Load() {
			n++
		}
	}
	return n
}

// Send writes s to the connection that last delivered a frame from its
// destination. A broadcast or not yet learned destination goes to every live
// connection. It returns the bytes written to the last connection reached.
func (s *TCPServer) Send(st *jaus.Stream) (int, error) {
	h, err := st.Header()
	if err != nil {
		return 0, newChannelError("send", jaus.KindTCP, "", err)
	}
	frame, err := EncodeFrame(TCPMagic, st)
	if err != nil {
		return 0, newChannelError("send", jaus.KindTCP, "", err)
	}

	if l := s.route(h.Destination); l != nil {
		return l.write(frame)
	}

	targets := s.liveLinks()
	if len(targets) == 0 {
		return 0, newChannelError("send", jaus.KindTCP, h.Destination.String(), ErrNoRoute)
	}
	var (
		n    int
		errs []error
	)
	for _, l := range targets {
		w, err := l.write(frame)
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

// SendTo writes s to the connection from addr.
func (s *TCPServer) SendTo(st *jaus.Stream, addr net.Addr) (int, error) {
	frame, err := EncodeFrame(TCPMagic, st)
	if err != nil {
		return 0, newChannelError("send", jaus.KindTCP, addr.String(), err)
	}
	s.mu.RLock()
	l, ok := s.links[addr.String()]
	s.mu.RUnlock()
	if !ok || l.dead.Load() {
		return 0, newChannelError("send", jaus.KindTCP, addr.String(), ErrNoRoute)
	}
	return l.write(frame)
}

// Shutdown stops accepting, closes every connection and waits for all
// receive loops to end.
func (s *TCPServer) Shutdown() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ln.Close()

		s.mu.Lock()
		links := make([]*link, 0, len(s.links))
		for _, l := range s.links {
			links = append(links, l)
		}
		s.links = make(map[string]*link)
		s.routes = make(map[jaus.Address]string)
		s.mu.Unlock()

		for _, l := range links {
			l.close()
		}
		s.wg.Wait()
		if gerr := s.group.Wait(); gerr != nil && err == nil {
			err = gerr
		}
		s.opts.metrics.SetConnections(jaus.KindTCP.String(), 0)

		logrus.WithFields(logrus.Fields{
			"function": "TCPServer.Shutdown",
			"addr":     s.ln.Addr().String(),
		}).Info("TCP server stopped")
	})
	return err
}

func (s *TCPServer) acceptLoop() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "TCPServer.acceptLoop",
				"error":    err.Error(),
			}).Warn("Accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		peer := conn.RemoteAddr().String()
		l := newLink(conn, peer, conn.RemoteAddr(), TCPMagic, jaus.KindTCP, s.disp, s.opts)
		l.onFrame = s.learn

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.links[peer] = l
		s.wg.Add(1)
		s.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "TCPServer.acceptLoop",
			"peer":     peer,
		}).Debug("Accepted connection")

		go func() {
			defer s.wg.Done()
			l.run(s.ctx)
		}()
	}
}

func (s *TCPServer) reapLoop() error {
	ticker := time.NewTicker(s.opts.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
			s.reap()
		}
	}
}

// reap drops connections whose receive loop has ended, along with the
// routes that pointed at them.
func (s *TCPServer) reap() int {
	s.mu.Lock()
	var dead []*link
	for peer, l := range s.links {
		if l.dead.Load() {
			dead = append(dead, l)
			delete(s.links, peer)
		}
	}
	for addr, peer := range s.routes {
		if _, ok := s.links[peer]; !ok {
			delete(s.routes, addr)
		}
	}
	live := len(s.links)
	s.mu.Unlock()

	for _, l := range dead {
		l.close()
	}
	s.opts.metrics.SetConnections(jaus.KindTCP.String(), live)
	return len(dead)
}

func (s *TCPServer) learn(h jaus.Header, l *link) {
	if !h.Source.IsValid() {
		return
	}
	s.mu.Lock()
	s.routes[h.Source] = l.peer
	s.mu.Unlock()
}

func (s *TCPServer) route(dst jaus.Address) *link {
	if dst.IsBroadcast() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.routes[dst]
	if !ok {
		return nil
	}
	l := s.links[peer]
	if l == nil || l.dead.Load() {
		return nil
	}
	return l
}

func (s *TCPServer) liveLinks() []*link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		if !l.dead.Load() {
			out = append(out, l)
		}
	}
	return out
}
