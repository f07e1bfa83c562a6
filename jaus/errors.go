package jaus

import "errors"

var (
	// ErrNeedMoreData indicates the buffer does not yet hold a complete
	// header or frame. It is not a failure: callers should read more bytes.
	ErrNeedMoreData = errors.New("need more data")

	// ErrMalformedFrame indicates bytes that can never form a valid frame.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrInvalidHeader indicates a Header value that cannot be serialized.
	ErrInvalidHeader = errors.New("invalid header")

	// ErrInvalidAddress indicates a reserved or broadcast address was used
	// where a concrete component address is required.
	ErrInvalidAddress = errors.New("invalid or broadcast address")

	// ErrShortBuffer indicates a Cursor read past the end of its buffer.
	ErrShortBuffer = errors.New("short buffer")
)
