package shm

import "errors"

var (
	// ErrUnsupported indicates shared memory is not available on this platform.
	ErrUnsupported = errors.New("shared memory not supported on this platform")

	// ErrRegionExists indicates a region with the requested name already exists.
	ErrRegionExists = errors.New("shared region already exists")

	// ErrRegionNotFound indicates no region with the requested name exists.
	ErrRegionNotFound = errors.New("shared region not found")

	// ErrRegionTooSmall indicates a region is smaller than its layout requires.
	ErrRegionTooSmall = errors.New("shared region too small")

	// ErrClosed indicates use of a closed region, mailbox or registry.
	ErrClosed = errors.New("shared region closed")

	// ErrMailboxExists indicates CreateInbox found an existing mailbox.
	ErrMailboxExists = errors.New("mailbox already exists")

	// ErrMailboxNotFound indicates OpenInbox found no mailbox.
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrBufferFull indicates a frame does not fit even after compaction.
	ErrBufferFull = errors.New("mailbox buffer full")

	// ErrEmpty indicates Dequeue found no message.
	ErrEmpty = errors.New("mailbox empty")

	// ErrMailboxCorrupt indicates header offsets or a length prefix that
	// point outside the frame area. The queue is reset when this is seen.
	ErrMailboxCorrupt = errors.New("mailbox corrupt")

	// ErrRegistryFull indicates a registry already holds 255 entries.
	ErrRegistryFull = errors.New("registry full")

	// ErrNotRegistered indicates UnRegister found no matching entry.
	ErrNotRegistered = errors.New("not registered")

	// ErrOutOfScope indicates an id outside the registry's subsystem and node.
	ErrOutOfScope = errors.New("id outside registry scope")
)
