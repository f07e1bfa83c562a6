package transport

import (
	"errors"
	"fmt"

	"github.com/opd-ai/jauscore/jaus"
)

var (
	// ErrClosed indicates use of a channel after Shutdown.
	ErrClosed = errors.New("channel closed")

	// ErrNoRoute indicates a server has no peer for the destination address.
	ErrNoRoute = errors.New("no route to destination")

	// ErrFrameTooLarge indicates a stream that does not fit one wire frame.
	// Large messages must be fragmented before they reach a channel.
	ErrFrameTooLarge = errors.New("frame too large for one packet")

	// ErrNilCallback indicates a channel was created without a callback.
	ErrNilCallback = errors.New("nil callback")
)

// ChannelError annotates a failed channel operation with the transport kind
// and peer address.
type ChannelError struct {
	Op   string             // operation that failed: dial, listen, send, read
	Kind jaus.TransportKind // transport the operation ran on
	Addr string             // peer or port, if relevant
	Err  error              // underlying error
}

func (e *ChannelError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func newChannelError(op string, kind jaus.TransportKind, addr string, err error) *ChannelError {
	return &ChannelError{Op: op, Kind: kind, Addr: addr, Err: err}
}
