package jaus

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/jauscore/limits"
)

// Stream is an owned byte buffer holding exactly one framed message
// (header followed by payload) with independent read and write cursors.
//
// A Stream is not safe for concurrent use. Use Clone to hand a copy to
// another goroutine.
type Stream struct {
	data     []byte
	readPos  int
	writePos int
}

// NewStream builds a Stream from a header and payload. The header's DataSize
// is taken from len(payload).
func NewStream(h Header, payload []byte) (*Stream, error) {
	if len(payload) > limits.MaxMessageSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds limit %d", limits.ErrMessageTooLarge, len(payload), limits.MaxMessageSize)
	}
	data := make([]byte, HeaderSize+len(payload))
	h.DataSize = len(payload)
	if err := putHeader(h, data); err != nil {
		return nil, err
	}
	copy(data[HeaderSize:], payload)
	return &Stream{data: data, writePos: len(data)}, nil
}

// StreamFromBytes copies a framed message into a new Stream. A frame that
// fits one packet must declare exactly its payload length; an oversized
// in-memory frame must declare zero.
func StreamFromBytes(b []byte) (*Stream, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformedFrame, len(b))
	}
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	payload := len(b) - HeaderSize
	switch {
	case payload <= limits.MaxDataSize && h.DataSize != payload:
		return nil, fmt.Errorf("%w: header declares %d payload bytes, frame carries %d", ErrMalformedFrame, h.DataSize, payload)
	case payload > limits.MaxDataSize && h.DataSize != 0:
		return nil, fmt.Errorf("%w: oversized frame declares %d payload bytes", ErrMalformedFrame, h.DataSize)
	}
	data := make([]byte, len(b))
	copy(data, b)
	return &Stream{data: data, writePos: len(data)}, nil
}

// Bytes returns the framed message without copying.
func (s *Stream) Bytes() []byte { return s.data }

// Len returns the frame length (header plus payload).
func (s *Stream) Len() int { return len(s.data) }

// PayloadSize returns the payload length.
func (s *Stream) PayloadSize() int {
	if len(s.data) < HeaderSize {
		return 0
	}
	return len(s.data) - HeaderSize
}

// Payload returns the bytes after the header without copying.
func (s *Stream) Payload() []byte {
	if len(s.data) < HeaderSize {
		return nil
	}
	return s.data[HeaderSize:]
}

// Header decodes the stream's header. DataSize is always derived from the
// buffer length, so PayloadSize()+HeaderSize == Len() holds for oversized
// merged messages too.
func (s *Stream) Header() (Header, error) {
	h, err := ParseHeader(s.data)
	if err != nil {
		return Header{}, err
	}
	h.DataSize = s.PayloadSize()
	return h, nil
}

// SetHeader rewrites the header in place. DataSize is taken from the current
// payload length; h.DataSize is ignored.
func (s *Stream) SetHeader(h Header) error {
	if len(s.data) < HeaderSize {
		s.grow(HeaderSize)
	}
	h.DataSize = s.PayloadSize()
	return putHeader(h, s.data)
}

// SetDestination rewrites the destination address in place.
func (s *Stream) SetDestination(a Address) error {
	if len(s.data) < HeaderSize {
		return fmt.Errorf("%w: stream holds no header", ErrShortBuffer)
	}
	putAddress(s.data[4:8], a)
	return nil
}

// ClearAckNack zeroes the ack/nack property bits in place.
func (s *Stream) ClearAckNack() error {
	if len(s.data) < HeaderSize {
		return fmt.Errorf("%w: stream holds no header", ErrShortBuffer)
	}
	props := binary.LittleEndian.Uint16(s.data[0:2]) &^ (0x03 << 4)
	binary.LittleEndian.PutUint16(s.data[0:2], props)
	return nil
}

// Clone returns a deep copy with the same cursor positions.
func (s *Stream) Clone() *Stream {
	data := make([]byte, len(s.data))
	copy(data, s.data)
	return &Stream{data: data, readPos: s.readPos, writePos: s.writePos}
}

// ReadPos returns the read cursor.
func (s *Stream) ReadPos() int { return s.readPos }

// WritePos returns the write cursor.
func (s *Stream) WritePos() int { return s.writePos }

// SetReadPos moves the read cursor.
func (s *Stream) SetReadPos(pos int) error {
	if pos < 0 || pos > len(s.data) {
		return fmt.Errorf("%w: read position %d outside [0,%d]", ErrShortBuffer, pos, len(s.data))
	}
	s.readPos = pos
	return nil
}

// SetWritePos moves the write cursor.
func (s *Stream) SetWritePos(pos int) error {
	if pos < 0 || pos > len(s.data) {
		return fmt.Errorf("%w: write position %d outside [0,%d]", ErrShortBuffer, pos, len(s.data))
	}
	s.writePos = pos
	return nil
}

// Read implements io.Reader from the read cursor.
func (s *Stream) Read(p []byte) (int, error) {
	if s.readPos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.readPos:])
	s.readPos += n
	return n, nil
}

// Write implements io.Writer at the write cursor, growing the buffer as
// needed. Once a header is present its size field tracks the payload length.
func (s *Stream) Write(p []byte) (int, error) {
	end := s.writePos + len(p)
	if end > limits.HeaderSize+limits.MaxMessageSize {
		return 0, fmt.Errorf("%w: stream would grow to %d bytes", limits.ErrMessageTooLarge, end)
	}
	s.grow(end)
	copy(s.data[s.writePos:], p)
	s.writePos = end
	s.syncDataSize()
	return len(p), nil
}

// Cursor returns a bounded cursor over the unread bytes. It does not move the
// stream's read position.
func (s *Stream) Cursor() *Cursor {
	return NewCursor(s.data[s.readPos:])
}

// Reset empties the stream.
func (s *Stream) Reset() {
	s.data = s.data[:0]
	s.readPos = 0
	s.writePos = 0
}

func (s *Stream) grow(n int) {
	if n <= len(s.data) {
		return
	}
	if n <= cap(s.data) {
		s.data = s.data[:n]
		return
	}
	data := make([]byte, n, n+n/2)
	copy(data, s.data)
	s.data = data
}

func (s *Stream) syncDataSize() {
	if len(s.data) < HeaderSize {
		return
	}
	size := s.PayloadSize()
	if size > limits.MaxDataSize {
		size = 0
	}
	control := binary.LittleEndian.Uint16(s.data[12:14])
	control = control&^dataSizeMask | uint16(size)
	binary.LittleEndian.PutUint16(s.data[12:14], control)
}
