package transport

import (
	"github.com/opd-ai/jauscore/jaus"
)

// Magic tokens prefixed to every wire frame, one per transport.
const (
	UDPMagic    = "JAUS01.0"
	TCPMagic    = "JTCP01.0"
	SerialMagic = "JSER01.0"
)

// DefaultPort is the registered JAUS port for UDP and TCP.
const DefaultPort = 3794

// Channel is the common contract of every transport channel. Each channel is
// created bound to its endpoint and callback, delivers inbound frames to the
// callback from its own receive goroutine, and stops delivering once
// Shutdown returns.
type Channel interface {
	// Send writes one frame and returns the number of bytes put on the wire.
	Send(s *jaus.Stream) (int, error)

	// SetCallback replaces the receive callback.
	SetCallback(cb jaus.Callback) error

	// Kind identifies the transport.
	Kind() jaus.TransportKind

	// Shutdown stops the receive loop and releases the endpoint. It is
	// idempotent.
	Shutdown() error
}

var (
	_ Channel = (*TCPClient)(nil)
	_ Channel = (*TCPServer)(nil)
	_ Channel = (*UDPClient)(nil)
	_ Channel = (*UDPServer)(nil)
	_ Channel = (*Serial)(nil)
)
