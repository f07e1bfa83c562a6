package jaus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/jauscore/limits"
)

// HeaderSize is the size of an encoded Header.
const HeaderSize = limits.HeaderSize

const (
	// DefaultPriority is the normal JAUS message priority.
	DefaultPriority uint8 = 6
	// DefaultVersion is the header version written by this implementation.
	DefaultVersion uint8 = 2

	maxPriority = 0x0F
	maxVersion  = 0x3F

	propertyReservedMask = 0xC000
	dataSizeMask         = 0x0FFF
)

// DataFlag marks the position of a frame within a fragmented sequence.
type DataFlag uint8

const (
	// DataSingle marks a complete message carried by one frame.
	DataSingle DataFlag = 0
	// DataFirst marks the first fragment of a large message.
	DataFirst DataFlag = 1
	// DataNormal marks a middle fragment.
	DataNormal DataFlag = 2
	// DataRetransmit marks a fragment sent again after loss.
	DataRetransmit DataFlag = 4
	// DataLast marks the final fragment.
	DataLast DataFlag = 8
)

// Valid reports whether f is one of the defined flag values.
func (f DataFlag) Valid() bool {
	switch f {
	case DataSingle, DataFirst, DataNormal, DataRetransmit, DataLast:
		return true
	}
	return false
}

func (f DataFlag) String() string {
	switch f {
	case DataSingle:
		return "single"
	case DataFirst:
		return "first"
	case DataNormal:
		return "normal"
	case DataRetransmit:
		return "retransmit"
	case DataLast:
		return "last"
	default:
		return fmt.Sprintf("DataFlag(%d)", uint8(f))
	}
}

// AckNack is the acknowledgement request/response field of the header.
type AckNack uint8

const (
	AckNackNone    AckNack = 0
	AckNackRequest AckNack = 1
	AckNackNack    AckNack = 2
	AckNackAck     AckNack = 3
)

func (a AckNack) String() string {
	switch a {
	case AckNackNone:
		return "none"
	case AckNackRequest:
		return "request"
	case AckNackNack:
		return "nack"
	case AckNackAck:
		return "ack"
	default:
		return fmt.Sprintf("AckNack(%d)", uint8(a))
	}
}

// Header is the fixed-layout JAUS message header.
type Header struct {
	Priority          uint8
	AckNack           AckNack
	ServiceConnection bool
	Experimental      bool
	Version           uint8
	CommandCode       uint16
	Destination       Address
	Source            Address
	// DataSize is the payload length. On the wire it is bounded by
	// limits.MaxDataSize; in memory a merged message may be larger.
	DataSize       int
	DataFlag       DataFlag
	SequenceNumber uint16
}

// NewHeader returns a header with default priority and version and
// DataSingle framing.
func NewHeader(code uint16, src, dst Address) Header {
	return Header{
		Priority:    DefaultPriority,
		Version:     DefaultVersion,
		CommandCode: code,
		Source:      src,
		Destination: dst,
		DataFlag:    DataSingle,
	}
}

// FrameLength returns HeaderSize plus the declared payload size.
func (h Header) FrameLength() int {
	return HeaderSize + h.DataSize
}

// IsFragment reports whether the frame is part of a multi-packet message.
func (h Header) IsFragment() bool {
	return h.DataFlag != DataSingle
}

func (h Header) String() string {
	return fmt.Sprintf("code=0x%04X src=%s dst=%s size=%d flag=%s seq=%d",
		h.CommandCode, h.Source, h.Destination, h.DataSize, h.DataFlag, h.SequenceNumber)
}

// ParseHeader decodes a header from the start of b. It returns
// ErrNeedMoreData when b is shorter than HeaderSize and ErrMalformedFrame
// when the fields can never describe a valid frame. The payload does not need
// to be present; use ParseFrame to require it.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrNeedMoreData, HeaderSize, len(b))
	}

	c := NewCursor(b)
	props, _ := c.Uint16()
	if props&propertyReservedMask != 0 {
		return Header{}, fmt.Errorf("%w: reserved property bits set (0x%04X)", ErrMalformedFrame, props)
	}

	var h Header
	h.Priority = uint8(props & 0x0F)
	h.AckNack = AckNack((props >> 4) & 0x03)
	h.ServiceConnection = props&(1<<6) != 0
	h.Experimental = props&(1<<7) != 0
	h.Version = uint8((props >> 8) & maxVersion)

	h.CommandCode, _ = c.Uint16()
	h.Destination, _ = c.Address()
	h.Source, _ = c.Address()

	control, _ := c.Uint16()
	h.DataSize = int(control & dataSizeMask)
	h.DataFlag = DataFlag(control >> 12)
	h.SequenceNumber, _ = c.Uint16()

	if !h.DataFlag.Valid() {
		return Header{}, fmt.Errorf("%w: unknown data flag %d", ErrMalformedFrame, uint8(h.DataFlag))
	}
	if h.DataSize > limits.MaxDataSize {
		return Header{}, fmt.Errorf("%w: payload size %d exceeds %d", ErrMalformedFrame, h.DataSize, limits.MaxDataSize)
	}
	return h, nil
}

// ParseFrame decodes the header at the start of b and checks that the whole
// frame (header plus declared payload) is present. It returns the frame
// length on success.
func ParseFrame(b []byte) (Header, int, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, 0, err
	}
	n := h.FrameLength()
	if len(b) < n {
		return h, n, fmt.Errorf("%w: frame needs %d bytes, have %d", ErrNeedMoreData, n, len(b))
	}
	return h, n, nil
}

// WriteHeader serializes h into the first HeaderSize bytes of b.
func WriteHeader(h Header, b []byte) error {
	if h.DataSize > limits.MaxDataSize {
		return fmt.Errorf("%w: payload size %d exceeds %d", ErrInvalidHeader, h.DataSize, limits.MaxDataSize)
	}
	return putHeader(h, b)
}

// Encode returns the serialized header.
func (h Header) Encode() ([]byte, error) {
	b := make([]byte, HeaderSize)
	if err := WriteHeader(h, b); err != nil {
		return nil, err
	}
	return b, nil
}

// putHeader writes every field except that an oversized in-memory payload is
// recorded as size 0; readers of such buffers derive the size from length.
func putHeader(h Header, b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, HeaderSize, len(b))
	}
	if err := h.validate(); err != nil {
		return err
	}

	props := uint16(h.Priority) |
		uint16(h.AckNack)<<4 |
		uint16(h.Version)<<8
	if h.ServiceConnection {
		props |= 1 << 6
	}
	if h.Experimental {
		props |= 1 << 7
	}

	size := h.DataSize
	if size > limits.MaxDataSize {
		size = 0
	}

	binary.LittleEndian.PutUint16(b[0:2], props)
	binary.LittleEndian.PutUint16(b[2:4], h.CommandCode)
	putAddress(b[4:8], h.Destination)
	putAddress(b[8:12], h.Source)
	binary.LittleEndian.PutUint16(b[12:14], uint16(size)|uint16(h.DataFlag)<<12)
	binary.LittleEndian.PutUint16(b[14:16], h.SequenceNumber)
	return nil
}

func (h Header) validate() error {
	var errs []error
	if h.Priority > maxPriority {
		errs = append(errs, fmt.Errorf("priority %d exceeds %d", h.Priority, maxPriority))
	}
	if h.AckNack > AckNackAck {
		errs = append(errs, fmt.Errorf("ack/nack %d out of range", h.AckNack))
	}
	if h.Version > maxVersion {
		errs = append(errs, fmt.Errorf("version %d exceeds %d", h.Version, maxVersion))
	}
	if !h.DataFlag.Valid() {
		errs = append(errs, fmt.Errorf("unknown data flag %d", uint8(h.DataFlag)))
	}
	if h.DataSize < 0 {
		errs = append(errs, fmt.Errorf("negative payload size %d", h.DataSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidHeader, errors.Join(errs...))
	}
	return nil
}

func putAddress(b []byte, a Address) {
	b[0] = a.Instance
	b[1] = a.Component
	b[2] = a.Node
	b[3] = a.Subsystem
}
