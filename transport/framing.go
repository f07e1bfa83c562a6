package transport

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/opd-ai/jauscore/jaus"
	"github.com/opd-ai/jauscore/limits"
	"github.com/opd-ai/jauscore/metrics"
	"github.com/sirupsen/logrus"
)

// EncodeFrame returns magic followed by the stream's header and payload.
// The stream must fit one packet.
func EncodeFrame(magic string, s *jaus.Stream) ([]byte, error) {
	if err := limits.ValidatePacket(s.Bytes()); err != nil {
		if errors.Is(err, limits.ErrMessageTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
		}
		return nil, err
	}
	frame := make([]byte, 0, len(magic)+s.Len())
	frame = append(frame, magic...)
	return append(frame, s.Bytes()...), nil
}

// Deframer extracts magic-prefixed frames from a byte stream that may split
// or interleave them with noise. Bytes before a magic token are discarded,
// a candidate that fails to parse is skipped one byte at a time, and an
// incomplete frame waits for the next Feed.
//
// If the buffer passes its limit without yielding a frame it is cleared.
// A Deframer is not safe for concurrent use.
type Deframer struct {
	magic   []byte
	buf     []byte
	limit   int
	kind    string
	metrics *metrics.Metrics
	resets  int
}

// NewDeframer creates a Deframer for magic. limit bounds the accumulated
// bytes; zero selects limits.DefaultReceiveBufferLimit.
func NewDeframer(magic string, limit int) *Deframer {
	if limit <= 0 {
		limit = limits.DefaultReceiveBufferLimit
	}
	return &Deframer{magic: []byte(magic), limit: limit}
}

func (d *Deframer) instrument(kind jaus.TransportKind, m *metrics.Metrics) {
	d.kind = kind.String()
	d.metrics = m
}

// Buffered returns the number of bytes waiting for more input.
func (d *Deframer) Buffered() int { return len(d.buf) }

// Resets returns how many times the corruption guard cleared the buffer.
func (d *Deframer) Resets() int { return d.resets }

// Feed appends p to the buffer and returns every frame it now completes.
func (d *Deframer) Feed(p []byte) []*jaus.Stream {
	d.buf = append(d.buf, p...)

	var out []*jaus.Stream
	off := 0
	for {
		i := bytes.Index(d.buf[off:], d.magic)
		if i < 0 {
			// Keep a tail that may be the start of a split token.
			if keep := len(d.magic) - 1; len(d.buf)-off > keep {
				off = len(d.buf) - keep
			}
			break
		}
		off += i

		frame := d.buf[off+len(d.magic):]
		_, n, err := jaus.ParseFrame(frame)
		if errors.Is(err, jaus.ErrNeedMoreData) {
			break
		}
		if err == nil {
			var s *jaus.Stream
			if s, err = jaus.StreamFromBytes(frame[:n]); err == nil {
				out = append(out, s)
				off += len(d.magic) + n
				continue
			}
		}

		d.metrics.RecordDropped(d.kind, metrics.ReasonMalformed)
		logrus.WithFields(logrus.Fields{
			"function": "Deframer.Feed",
			"kind":     d.kind,
			"error":    err.Error(),
		}).Debug("Skipping malformed frame candidate")
		off++
	}

	n := copy(d.buf, d.buf[off:])
	d.buf = d.buf[:n]

	if len(d.buf) > d.limit {
		d.resets++
		d.metrics.RecordBufferReset(d.kind)
		logrus.WithFields(logrus.Fields{
			"function": "Deframer.Feed",
			"kind":     d.kind,
			"buffered": len(d.buf),
			"limit":    d.limit,
		}).Warn("Receive buffer exceeded limit without a frame, clearing")
		d.buf = d.buf[:0]
	}
	return out
}

// Reset discards buffered bytes.
func (d *Deframer) Reset() {
	d.buf = d.buf[:0]
}

// decodeDatagram parses one datagram as exactly one magic-prefixed frame.
func decodeDatagram(magic string, b []byte) (*jaus.Stream, error) {
	if len(b) < len(magic) || string(b[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: missing %q token", jaus.ErrMalformedFrame, magic)
	}
	frame := b[len(magic):]
	_, n, err := jaus.ParseFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jaus.ErrMalformedFrame, err)
	}
	if n != len(frame) {
		return nil, fmt.Errorf("%w: frame declares %d bytes, datagram carries %d", jaus.ErrMalformedFrame, n, len(frame))
	}
	return jaus.StreamFromBytes(frame)
}
