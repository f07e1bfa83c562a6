package jaus

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// AddressInvalid is the reserved "unset" value for any address field.
	AddressInvalid byte = 0
	// AddressBroadcast is the wildcard value for any address field.
	AddressBroadcast byte = 255
)

// Address is the 4-part hierarchical JAUS identifier
// subsystem.node.component.instance.
type Address struct {
	Subsystem byte
	Node      byte
	Component byte
	Instance  byte
}

// NewAddress builds an Address from its four parts.
func NewAddress(subsystem, node, component, instance byte) Address {
	return Address{Subsystem: subsystem, Node: node, Component: component, Instance: instance}
}

// ParseAddress parses the dotted form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Address{}, fmt.Errorf("%w: %q is not subsystem.node.component.instance", ErrInvalidAddress, s)
	}

	var fields [4]byte
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Address{}, fmt.Errorf("%w: field %d of %q: %v", ErrInvalidAddress, i, s, err)
		}
		fields[i] = byte(v)
	}
	return NewAddress(fields[0], fields[1], fields[2], fields[3]), nil
}

// AddressFromUint32 unpacks an address from its 32-bit form
// (subsystem in the most significant byte).
func AddressFromUint32(v uint32) Address {
	return Address{
		Subsystem: byte(v >> 24),
		Node:      byte(v >> 16),
		Component: byte(v >> 8),
		Instance:  byte(v),
	}
}

// Uint32 packs the address with subsystem in the most significant byte.
func (a Address) Uint32() uint32 {
	return uint32(a.Subsystem)<<24 | uint32(a.Node)<<16 | uint32(a.Component)<<8 | uint32(a.Instance)
}

// String returns the dotted form, e.g. "1.2.3.1".
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.Subsystem, a.Node, a.Component, a.Instance)
}

// IsBroadcast reports whether any field holds the broadcast value.
func (a Address) IsBroadcast() bool {
	return a.Subsystem == AddressBroadcast || a.Node == AddressBroadcast ||
		a.Component == AddressBroadcast || a.Instance == AddressBroadcast
}

// IsValid reports whether the address names exactly one component: no field
// may be the reserved zero value or the broadcast value.
func (a Address) IsValid() bool {
	for _, f := range [...]byte{a.Subsystem, a.Node, a.Component, a.Instance} {
		if f == AddressInvalid || f == AddressBroadcast {
			return false
		}
	}
	return true
}

// Validate returns ErrInvalidAddress (with context) when IsValid is false.
func (a Address) Validate() error {
	if !a.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, a)
	}
	return nil
}

// Matches reports whether a message addressed to a should be accepted by the
// concrete component b, honouring broadcast wildcards field by field.
func (a Address) Matches(b Address) bool {
	match := func(x, y byte) bool { return x == AddressBroadcast || x == y }
	return match(a.Subsystem, b.Subsystem) && match(a.Node, b.Node) &&
		match(a.Component, b.Component) && match(a.Instance, b.Instance)
}
