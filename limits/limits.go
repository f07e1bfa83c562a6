package limits

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the fixed JAUS message header.
	HeaderSize = 16

	// MaxDataSize is the largest payload carried by a single packet.
	// The header encodes payload size in 12 bits, so this also bounds the field.
	MaxDataSize = 4080

	// MaxPacketSize is the largest single-packet frame (header plus payload).
	MaxPacketSize = HeaderSize + MaxDataSize

	// MagicSize is the length of the ASCII token that prefixes every wire frame.
	MagicSize = 8

	// MaxFrameSize is the largest wire frame including the magic token.
	MaxFrameSize = MagicSize + MaxPacketSize

	// MaxMessageSize bounds any reassembled message (16 MiB).
	MaxMessageSize = 16 * 1024 * 1024

	// DefaultReceiveBufferLimit is the default corruption guard for stream
	// receive loops. It is several frames deep so that bursts of valid
	// traffic never trip it.
	DefaultReceiveBufferLimit = 8 * MaxFrameSize

	// MailboxHeaderSize is the fixed header block of a shared-memory mailbox:
	// six little-endian uint32 fields.
	MailboxHeaderSize = 24

	// LengthPrefixSize is the size of the per-frame length prefix in a mailbox.
	LengthPrefixSize = 4

	// DefaultMailboxSize is the default total size of a shared-memory mailbox
	// mapping, header block included (2 MiB).
	DefaultMailboxSize = 2 * 1024 * 1024

	// MaxRegistryEntries is the capacity of a shared-memory registry.
	MaxRegistryEntries = 255
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePacket validates a single-packet frame (header plus payload)
// against MaxPacketSize.
func ValidatePacket(frame []byte) error {
	return ValidateMessageSize(frame, MaxPacketSize)
}

// ValidateMessage validates a complete, possibly reassembled message against
// MaxMessageSize. This limit should be applied to anything built from
// untrusted fragments.
func ValidateMessage(message []byte) error {
	return ValidateMessageSize(message, MaxMessageSize)
}

// FragmentCount returns how many packets are needed to carry payloadSize
// bytes. A payload that fits one packet needs exactly one.
func FragmentCount(payloadSize int) int {
	if payloadSize <= MaxDataSize {
		return 1
	}
	return (payloadSize + MaxDataSize - 1) / MaxDataSize
}
