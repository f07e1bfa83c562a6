// Package shm implements same-host delivery for the JAUS transport core: a
// cross-process FIFO mailbox per component and the registries that record
// which nodes and components are present on a host.
//
// # Shared Regions
//
// A Region is a named, memory-mapped file (under /dev/shm where available)
// paired with a cross-process lock. The lock combines an in-process mutex with
// flock(2) on the region's descriptor, so it excludes goroutines and other
// processes alike. Every mailbox and registry field is read and written only
// while the lock is held.
//
// # Mailbox Layout
//
//	[u32 totalSize][u32 lastEnqueueTimeMs][u32 lastDequeueTimeMs]
//	[u32 messageCount][u32 startOffset][u32 endOffset]
//	repeated([u32 frameLength][frameLength bytes])
//
// Offsets are relative to the start of the frame area. Enqueue appends at
// endOffset; when a frame would run past the end of the mapping the live
// frames are first compacted back to offset zero. Dequeue stamps
// lastDequeueTimeMs on every call, message or not, which is how senders judge
// whether anyone is still reading:
//
//	inbox, err := shm.OpenInbox(dest)
//	if err == nil && inbox.IsActive(100*time.Millisecond) {
//	    inbox.Enqueue(msg)
//	}
//
// Mailboxes are named "%03d.%03d.%03d.%03d_JSM" after the owning component's
// address. The owner creates the mailbox with CreateInbox and removes it when
// it closes.
//
// # Reassembly
//
// The raw Mailbox stores whatever frames it is given. CollectingMailbox is an
// optional layer in front of it that gathers fragments into complete messages
// before they are enqueued, so the ring only ever holds whole messages.
//
// # Registries
//
// Registry regions hold up to 255 two-byte entries: (subsystem, node) pairs in
// the host-wide "JNodeRegistry", or (component, instance) pairs in
// "JComponentRegistry_%03d.%03d" for one node.
package shm
