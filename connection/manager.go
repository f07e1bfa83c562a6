// Package connection binds one local JAUS component to one destination over
// the best available transport: a shared memory mailbox when the destination
// is on this host and reading its inbox, otherwise UDP or TCP, or a serial
// link when configured directly.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/largedata"
	"github.com/opd-ai/jauscore/limits"
	"github.com/opd-ai/jauscore/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportUnavailable indicates Connect found no usable transport.
	ErrTransportUnavailable = errors.New("no transport available")

	// ErrNotConnected indicates Send on an unbound Manager.
	ErrNotConnected = errors.New("not connected")
)

// channel is what a Manager sends through. transport.Channel satisfies it.
type channel interface {
	Send(s *jaus.Stream) (int, error)
	Shutdown() error
}

// Manager owns the transport binding between a local component and one
// destination. It is safe for concurrent use.
type Manager struct {
	local jaus.Address
	opts  Options

	mu   sync.Mutex
	kind jaus.TransportKind
	dest jaus.Address
	ch   channel
	cb   jaus.Callback
	seq  uint16

	lastSend atomic.Int64
	lastRecv atomic.Int64
}

// New creates an unbound Manager for the component at local.
func New(local jaus.Address, opts Options) (*Manager, error) {
	if err := local.Validate(); err != nil {
		return nil, err
	}
	opts.normalize()
	return &Manager{local: local, opts: opts}, nil
}

// Local returns the local component address.
func (m *Manager) Local() jaus.Address { return m.local }

// Kind returns the bound transport, or jaus.KindNone.
func (m *Manager) Kind() jaus.TransportKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

// Destination returns the bound destination address.
func (m *Manager) Destination() jaus.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dest
}

// LastSendTime returns when Send last succeeded, or the zero time.
func (m *Manager) LastSendTime() time.Time { return unixNano(m.lastSend.Load()) }

// LastReceiveTime returns when a frame was last delivered, or the zero time.
func (m *Manager) LastReceiveTime() time.Time { return unixNano(m.lastRecv.Load()) }

// Connect binds to dest. A shared memory mailbox is used when dest has one
// on this host and has read it within the active threshold. Otherwise, when
// host is non-empty, a UDP channel is opened to host, or a TCP channel when
// preferTCP or Options.PreferTCP is set. A host without a port gets the
// configured default. Any previous binding is shut down first.
func (m *Manager) Connect(ctx context.Context, dest jaus.Address, cb jaus.Callback, host string, preferTCP bool) error {
	if cb == nil {
		return transport.ErrNilCallback
	}
	if err := dest.Validate(); err != nil {
		return err
	}
	m.Shutdown()

	log := logrus.WithFields(logrus.Fields{
		"function": "Manager.Connect",
		"local":    m.local.String(),
		"dest":     dest.String(),
	})

	if m.opts.EnableSHM {
		ch, err := m.connectSHM(dest, cb)
		if err == nil {
			m.bind(jaus.KindSharedMemory, dest, ch, cb)
			log.WithField("kind", jaus.KindSharedMemory.String()).Info("Connected")
			return nil
		}
		log.WithField("error", err.Error()).Debug("Shared memory unavailable")
	}

	if host == "" {
		log.Warn("No shared memory inbox and no host to fall back to")
		return fmt.Errorf("%w: %s", ErrTransportUnavailable, dest)
	}

	preferTCP = preferTCP || m.opts.PreferTCP
	kind := jaus.KindUDP
	port := m.opts.UDPPort
	if preferTCP {
		kind, port = jaus.KindTCP, m.opts.TCPPort
	}
	addr := withDefaultPort(host, port)
	wrapped := m.receiver(cb)

	var (
		ch  channel
		err error
	)
	if preferTCP {
		ch, err = transport.DialTCP(ctx, addr, wrapped, m.opts.TransportOptions()...)
	} else {
		ch, err = transport.DialUDP(ctx, addr, wrapped, m.opts.TransportOptions()...)
	}
	if err != nil {
		log.WithFields(logrus.Fields{
			"kind":  kind.String(),
			"addr":  addr,
			"error": err.Error(),
		}).Error("Failed to connect")
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	m.bind(kind, dest, ch, cb)
	log.WithFields(logrus.Fields{
		"kind": kind.String(),
		"addr": addr,
	}).Info("Connected")
	return nil
}

// ConnectSerial binds to dest over a serial link. There is no fallback.
func (m *Manager) ConnectSerial(dest jaus.Address, cb jaus.Callback, cfg transport.SerialConfig) error {
	if cb == nil {
		return transport.ErrNilCallback
	}
	if err := dest.Validate(); err != nil {
		return err
	}
	m.Shutdown()

	ch, err := transport.OpenSerial(cfg, m.receiver(cb), m.opts.TransportOptions()...)
	if err != nil {
		return err
	}
	m.bind(jaus.KindSerial, dest, ch, cb)
	logrus.WithFields(logrus.Fields{
		"function": "Manager.ConnectSerial",
		"dest":     dest.String(),
		"port":     cfg.Port,
	}).Info("Connected")
	return nil
}

// Send writes s on the bound transport. Network and serial channels carry
// at most one packet per frame, so a larger message is split into
// fragments numbered from the Manager's sequence counter. Failures are
// returned, not retried.
func (m *Manager) Send(s *jaus.Stream) error {
	m.mu.Lock()
	ch, kind := m.ch, m.kind
	m.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	frames := []*jaus.Stream{s}
	if kind != jaus.KindSharedMemory && s.Len() > limits.MaxPacketSize {
		var err error
		frames, err = largedata.CreateFragments(s, m.nextSequence(limits.FragmentCount(s.PayloadSize())))
		if err != nil {
			return err
		}
	}

	for _, f := range frames {
		if _, err := ch.Send(f); err != nil {
			return err
		}
	}
	m.lastSend.Store(m.opts.TimeProvider.Now().UnixNano())
	return nil
}

// Shutdown tears down the bound transport and returns to unbound.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	ch, kind := m.ch, m.kind
	m.ch, m.kind, m.cb, m.dest = nil, jaus.KindNone, nil, jaus.Address{}
	m.mu.Unlock()

	if ch == nil {
		return nil
	}
	err := ch.Shutdown()
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Shutdown",
		"local":    m.local.String(),
		"kind":     kind.String(),
	}).Info("Disconnected")
	return err
}

func (m *Manager) bind(kind jaus.TransportKind, dest jaus.Address, ch channel, cb jaus.Callback) {
	m.mu.Lock()
	m.kind, m.dest, m.ch, m.cb = kind, dest, ch, cb
	m.mu.Unlock()
}

// receiver stamps the receive time before handing a frame to cb.
func (m *Manager) receiver(cb jaus.Callback) jaus.Callback {
	return jaus.CallbackFunc(func(s *jaus.Stream, h *jaus.Header, kind jaus.TransportKind, extra any) {
		m.lastRecv.Store(m.opts.TimeProvider.Now().UnixNano())
		cb.ProcessStream(s, h, kind, extra)
	})
}

// nextSequence reserves n consecutive sequence numbers. A run that would
// pass 65535 restarts from zero.
func (m *Manager) nextSequence(n int) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(m.seq)+n-1 > 0xFFFF {
		m.seq = 0
	}
	base := m.seq
	m.seq += uint16(n)
	return base
}

func withDefaultPort(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
