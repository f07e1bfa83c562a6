package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
	"github.com/sirupsen/logrus"
)

// link runs the byte-accumulating receive loop of one stream-oriented
// connection: a TCP socket or a serial port.
type link struct {
	rwc   io.ReadWriteCloser
	peer  string
	extra any
	magic string
	kind  jaus.TransportKind
	opts  options

	deframer *Deframer
	disp     *dispatcher
	onFrame  func(h jaus.Header, l *link)

	writeMu sync.Mutex
	done    chan struct{}
	dead    atomic.Bool
	closed  atomic.Bool
}

func newLink(rwc io.ReadWriteCloser, peer string, extra any, magic string, kind jaus.TransportKind, disp *dispatcher, o options) *link {
	d := NewDeframer(magic, o.maxBuffer)
	d.instrument(kind, o.metrics)
	return &link{
		rwc:      rwc,
		peer:     peer,
		extra:    extra,
		magic:    magic,
		kind:     kind,
		opts:     o,
		deframer: d,
		disp:     disp,
		done:     make(chan struct{}),
	}
}

// deadlineSetter is satisfied by net.Conn.
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// run reads until ctx is cancelled, the peer closes, or a read fails.
func (l *link) run(ctx context.Context) {
	defer close(l.done)
	defer l.dead.Store(true)

	buf := make([]byte, limits.MaxFrameSize)
	ds, hasDeadline := l.rwc.(deadlineSetter)
	kind := l.kind.String()

	for ctx.Err() == nil {
		if hasDeadline {
			_ = ds.SetReadDeadline(time.Now().Add(l.opts.readTimeout))
		}
		n, err := l.rwc.Read(buf)
		if n > 0 {
			l.opts.metrics.RecordBytesReceived(kind, n)
			for _, s := range l.deframer.Feed(buf[:n]) {
				h, ok := l.disp.deliver(s, l.extra)
				if ok && l.onFrame != nil {
					l.onFrame(h, l)
				}
			}
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			continue
		}
		if ctx.Err() == nil && !l.closed.Load() && !errors.Is(err, io.EOF) {
			logrus.WithFields(logrus.Fields{
				"function": "link.run",
				"kind":     kind,
				"peer":     l.peer,
				"error":    err.Error(),
			}).Warn("Read failed, closing connection")
		} else {
			logrus.WithFields(logrus.Fields{
				"function": "link.run",
				"kind":     kind,
				"peer":     l.peer,
			}).Debug("Connection closed")
		}
		return
	}
}

// write sends one encoded frame in a single call.
func (l *link) write(frame []byte) (int, error) {
	if l.closed.Load() {
		return 0, newChannelError("send", l.kind, l.peer, ErrClosed)
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if ds, ok := l.rwc.(deadlineSetter); ok {
		_ = ds.SetWriteDeadline(time.Now().Add(l.opts.writeTimeout))
	}
	n, err := l.rwc.Write(frame)
	if err != nil {
		l.opts.metrics.RecordSendError(l.kind.String())
		return n, newChannelError("send", l.kind, l.peer, err)
	}
	l.opts.metrics.RecordSent(l.kind.String(), n)
	return n, nil
}

// close closes the connection and waits, bounded, for run to return.
func (l *link) close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.rwc.Close()
	select {
	case <-l.done:
	case <-time.After(shutdownTimeout):
		logrus.WithFields(logrus.Fields{
			"function": "link.close",
			"kind":     l.kind.String(),
			"peer":     l.peer,
		}).Warn("Receive loop did not stop in time")
	}
	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
