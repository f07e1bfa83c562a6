package shm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
	"github.com/opd-ai/jauscore/metrics"
	"github.com/sirupsen/logrus"
)

// Header field offsets within a mailbox region.
const (
	offTotalSize   = 0
	offLastEnqueue = 4
	offLastDequeue = 8
	offCount       = 12
	offStart       = 16
	offEnd         = 20
)

// minMailboxSize holds the header plus one empty frame.
const minMailboxSize = limits.MailboxHeaderSize + limits.LengthPrefixSize + limits.HeaderSize

// stopTimeout bounds how long ClearCallback waits for the receive loop.
const stopTimeout = 2 * time.Second

var shmKind = jaus.KindSharedMemory.String()

// MailboxName returns the region name of the mailbox owned by addr.
func MailboxName(addr jaus.Address) string {
	return fmt.Sprintf("%03d.%03d.%03d.%03d_JSM", addr.Subsystem, addr.Node, addr.Component, addr.Instance)
}

// Mailbox is a cross-process FIFO of framed messages in a shared region.
//
// The component that owns an address creates its inbox with CreateInbox and
// consumes it with Dequeue or RegisterCallback. Senders attach with OpenInbox
// and call Enqueue. All methods are safe for concurrent use.
type Mailbox struct {
	addr   jaus.Address
	region *Region
	opts   options

	cbMu     sync.Mutex
	callback jaus.Callback

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// CreateInbox creates the mailbox for addr with a region of size bytes,
// header included. It fails with ErrMailboxExists if another instance already
// owns the name.
func CreateInbox(addr jaus.Address, size int, opts ...Option) (*Mailbox, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	if size < minMailboxSize {
		return nil, fmt.Errorf("%w: mailbox size %d, need at least %d", ErrRegionTooSmall, size, minMailboxSize)
	}
	o := buildOptions(opts)

	region, err := CreateRegion(o.dir, MailboxName(addr), size, func(b []byte) {
		binary.LittleEndian.PutUint32(b[offTotalSize:], uint32(size))
	})
	if err != nil {
		if errors.Is(err, ErrRegionExists) {
			return nil, fmt.Errorf("%w: %s", ErrMailboxExists, addr)
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateInbox",
		"address":  addr.String(),
		"size":     size,
	}).Info("Created shared memory inbox")

	return &Mailbox{addr: addr, region: region, opts: o}, nil
}

// OpenInbox attaches to the existing mailbox for addr. The mapping length is
// read from the mailbox's own totalSize field.
func OpenInbox(addr jaus.Address, opts ...Option) (*Mailbox, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	name := MailboxName(addr)

	region, err := OpenRegion(o.dir, name, limits.MailboxHeaderSize)
	if err != nil {
		if errors.Is(err, ErrRegionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMailboxNotFound, addr)
		}
		return nil, err
	}

	if err := region.Lock(); err != nil {
		region.Close()
		return nil, err
	}
	total := int(binary.LittleEndian.Uint32(region.Bytes()[offTotalSize:]))
	region.Unlock()

	if total < minMailboxSize {
		region.Close()
		return nil, fmt.Errorf("%w: %s records total size %d", ErrMailboxCorrupt, name, total)
	}
	if err := region.Remap(total); err != nil {
		region.Close()
		return nil, err
	}
	return &Mailbox{addr: addr, region: region, opts: o}, nil
}

// Address returns the address of the mailbox's owner.
func (m *Mailbox) Address() jaus.Address { return m.addr }

// Name returns the mailbox's region name.
func (m *Mailbox) Name() string { return m.region.Name() }

// Capacity returns the size of the frame area in bytes.
func (m *Mailbox) Capacity() int { return m.region.Size() - limits.MailboxHeaderSize }

// Enqueue appends a copy of s and returns the number of frame bytes written.
// When the frame would overrun the end of the region, queued frames are first
// compacted to the front. ErrBufferFull means the frame does not fit even
// then.
func (m *Mailbox) Enqueue(s *jaus.Stream) (int, error) {
	frame := s.Bytes()
	if err := limits.ValidateMessage(frame); err != nil {
		m.opts.metrics.RecordEnqueueFailure(metrics.ReasonRejected)
		return 0, err
	}
	need := uint32(limits.LengthPrefixSize + len(frame))

	if err := m.region.Lock(); err != nil {
		return 0, err
	}
	defer m.region.Unlock()

	hdr, area := m.split()
	q := readQueue(hdr)
	if !q.valid(len(area)) {
		m.logCorrupt("Mailbox.Enqueue", q)
		q = queue{}
	}

	if int(need) > len(area)-int(q.end) {
		if q.start > 0 {
			q = compact(area, q)
			m.opts.metrics.RecordCompaction()
		}
		if int(need) > len(area)-int(q.end) {
			m.opts.metrics.RecordEnqueueFailure(metrics.ReasonOverflow)
			return 0, fmt.Errorf("%w: %d byte frame, %d of %d bytes free", ErrBufferFull, len(frame), len(area)-int(q.end-q.start), len(area))
		}
	}

	binary.LittleEndian.PutUint32(area[q.end:], uint32(len(frame)))
	copy(area[q.end+limits.LengthPrefixSize:], frame)
	q.end += need
	q.count++
	q.write(hdr)
	binary.LittleEndian.PutUint32(hdr[offLastEnqueue:], nowMillis(m.opts.tp))

	return len(frame), nil
}

// Dequeue removes and returns the oldest message. It returns ErrEmpty when
// nothing is queued. Every call records the dequeue time, which is what
// IsActive reports on.
func (m *Mailbox) Dequeue() (*jaus.Stream, error) {
	if err := m.region.Lock(); err != nil {
		return nil, err
	}
	defer m.region.Unlock()

	hdr, area := m.split()
	binary.LittleEndian.PutUint32(hdr[offLastDequeue:], nowMillis(m.opts.tp))

	q := readQueue(hdr)
	if !q.valid(len(area)) {
		m.logCorrupt("Mailbox.Dequeue", q)
		queue{}.write(hdr)
		return nil, ErrMailboxCorrupt
	}
	if q.count == 0 || q.start == q.end {
		if q.count != 0 || q.start != 0 {
			queue{}.write(hdr)
		}
		return nil, ErrEmpty
	}

	if q.end-q.start < limits.LengthPrefixSize {
		m.logCorrupt("Mailbox.Dequeue", q)
		queue{}.write(hdr)
		return nil, ErrMailboxCorrupt
	}
	n := binary.LittleEndian.Uint32(area[q.start:])
	body := q.start + limits.LengthPrefixSize
	if n > q.end-body {
		m.logCorrupt("Mailbox.Dequeue", q)
		queue{}.write(hdr)
		return nil, ErrMailboxCorrupt
	}

	raw := area[body : body+n]
	q.start = body + n
	q.count--
	if q.count == 0 {
		q.start, q.end = 0, 0
	}
	q.write(hdr)

	s, err := jaus.StreamFromBytes(raw)
	if err != nil {
		m.opts.metrics.RecordDropped(shmKind, metrics.ReasonMalformed)
		return nil, err
	}
	return s, nil
}

// IsActive reports whether the owner has dequeued within threshold. A mailbox
// that has never been read is inactive.
func (m *Mailbox) IsActive(threshold time.Duration) bool {
	if err := m.region.Lock(); err != nil {
		return false
	}
	last := binary.LittleEndian.Uint32(m.region.Bytes()[offLastDequeue:])
	m.region.Unlock()

	if last == 0 {
		return false
	}
	elapsed := nowMillis(m.opts.tp) - last
	return int64(elapsed) <= threshold.Milliseconds()
}

// Count returns the number of queued messages.
func (m *Mailbox) Count() int {
	if err := m.region.Lock(); err != nil {
		return 0
	}
	defer m.region.Unlock()
	hdr, _ := m.split()
	return int(readQueue(hdr).count)
}

// BytesUsed returns the frame-area bytes held by queued messages.
func (m *Mailbox) BytesUsed() int {
	if err := m.region.Lock(); err != nil {
		return 0
	}
	defer m.region.Unlock()
	hdr, _ := m.split()
	q := readQueue(hdr)
	return int(q.end - q.start)
}

// RegisterCallback starts a receive loop that dequeues every message and
// passes it to cb. Calling it again replaces the callback without restarting
// the loop.
func (m *Mailbox) RegisterCallback(cb jaus.Callback) error {
	if cb == nil {
		return errors.New("nil callback")
	}
	m.cbMu.Lock()
	m.callback = cb
	m.cbMu.Unlock()

	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.receiveLoop(ctx, m.done)

	logrus.WithFields(logrus.Fields{
		"function": "Mailbox.RegisterCallback",
		"address":  m.addr.String(),
	}).Debug("Started shared memory receive loop")
	return nil
}

// ClearCallback stops the receive loop and drops the callback. It waits a
// bounded time for a callback in progress to return.
func (m *Mailbox) ClearCallback() {
	m.loopMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.loopMu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(stopTimeout):
			logrus.WithFields(logrus.Fields{
				"function": "Mailbox.ClearCallback",
				"address":  m.addr.String(),
			}).Warn("Receive loop did not stop in time")
		}
	}

	m.cbMu.Lock()
	m.callback = nil
	m.cbMu.Unlock()
}

// Close stops any receive loop and unmaps the region. The owner's Close also
// removes the mailbox name, so later OpenInbox calls fail.
func (m *Mailbox) Close() error {
	m.ClearCallback()
	return m.region.Close()
}

func (m *Mailbox) receiveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.opts.pollInterval)
	defer ticker.Stop()

	for {
		m.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Mailbox) drain(ctx context.Context) {
	for ctx.Err() == nil {
		s, err := m.Dequeue()
		switch {
		case errors.Is(err, ErrEmpty), errors.Is(err, ErrClosed):
			return
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"function": "Mailbox.drain",
				"address":  m.addr.String(),
				"error":    err.Error(),
			}).Warn("Dropped unreadable mailbox entry")
			continue
		}
		m.deliver(s)
	}
}

func (m *Mailbox) deliver(s *jaus.Stream) {
	h, err := s.Header()
	if err != nil {
		m.opts.metrics.RecordDropped(shmKind, metrics.ReasonMalformed)
		return
	}

	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	if m.callback == nil {
		m.opts.metrics.RecordDropped(shmKind, metrics.ReasonNoCallback)
		return
	}
	m.opts.metrics.RecordReceived(shmKind)
	m.opts.metrics.RecordBytesReceived(shmKind, s.Len())
	m.callback.ProcessStream(s, &h, jaus.KindSharedMemory, nil)
}

func (m *Mailbox) split() (hdr, area []byte) {
	b := m.region.Bytes()
	return b[:limits.MailboxHeaderSize], b[limits.MailboxHeaderSize:]
}

func (m *Mailbox) logCorrupt(fn string, q queue) {
	m.opts.metrics.RecordBufferReset(shmKind)
	logrus.WithFields(logrus.Fields{
		"function": fn,
		"address":  m.addr.String(),
		"count":    q.count,
		"start":    q.start,
		"end":      q.end,
	}).Warn("Mailbox header inconsistent, resetting queue")
}

// queue is the mutable part of a mailbox header.
type queue struct {
	count, start, end uint32
}

func readQueue(hdr []byte) queue {
	return queue{
		count: binary.LittleEndian.Uint32(hdr[offCount:]),
		start: binary.LittleEndian.Uint32(hdr[offStart:]),
		end:   binary.LittleEndian.Uint32(hdr[offEnd:]),
	}
}

func (q queue) write(hdr []byte) {
	binary.LittleEndian.PutUint32(hdr[offCount:], q.count)
	binary.LittleEndian.PutUint32(hdr[offStart:], q.start)
	binary.LittleEndian.PutUint32(hdr[offEnd:], q.end)
}

func (q queue) valid(areaLen int) bool {
	return q.start <= q.end && int(q.end) <= areaLen
}

// compact moves the live frames [start, end) to the front of area.
func compact(area []byte, q queue) queue {
	n := copy(area, area[q.start:q.end])
	return queue{count: q.count, start: 0, end: uint32(n)}
}
