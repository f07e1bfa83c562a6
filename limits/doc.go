// Package limits provides centralized size constants and validation functions
// for the JAUS transport core. Every component that frames, fragments, queues
// or buffers messages takes its bounds from here so that the limits stay
// consistent across shared memory, TCP, UDP and serial links.
//
// # Size Hierarchy
//
//   - HeaderSize (16 bytes): the fixed JAUS message header.
//
//   - MaxDataSize (4080 bytes): the largest payload a single packet may carry.
//     Messages with larger payloads are split into fragments by the largedata
//     package.
//
//   - MaxPacketSize (4096 bytes): header plus maximum payload.
//
//   - MaxFrameSize (4104 bytes): one packet plus the 8-byte transport magic
//     token used on every wire transport except shared memory.
//
//   - DefaultReceiveBufferLimit: the corruption guard for stream receive
//     loops. An accumulating buffer that grows past this bound without
//     yielding a frame is discarded.
//
//   - MaxMessageSize (16 MiB): the absolute bound for any reassembled
//     message. It prevents memory exhaustion from hostile fragment streams.
//
// # Validation Functions
//
//	err := limits.ValidatePacket(frame)
//	if err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// For custom bounds, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, limits.DefaultMailboxSize)
package limits
