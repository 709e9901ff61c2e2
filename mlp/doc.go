// Package mlp implements the Mill Link Protocol (MLP), the framed binary protocol
// spoken between a cryogenic ball-mill controller (MCU) and its operator clients.
//
// The package covers the wire layer and the protocol vocabulary shared by both
// sides of the link:
//   - CRC-16/CCITT-FALSE checksum engine (table driven).
//   - Length-delimited little-endian frame codec with a CRC trailer.
//   - The closed command catalog with fixed-layout payload encoders.
//   - Decoders for telemetry snapshots, command acknowledgements, and events.
//   - The link state machine used by reconnecting clients.
//
// Frame layout (all multi-byte fields little-endian):
//
//	offset  size  field
//	0       1     protocol version (currently 1)
//	1       1     message type
//	2       2     sequence number
//	4       2     payload length
//	6       n     payload
//	6+n     2     CRC-16/CCITT-FALSE over bytes [0, 6+n)
//
// Message Types:
//   - MsgTypeTelemetry:  periodic MCU state snapshot, up to 10 Hz.
//   - MsgTypeCommand:    client request, carries a command from the catalog.
//   - MsgTypeCommandAck: MCU response correlated by the acknowledged sequence number.
//   - MsgTypeEvent:      asynchronous MCU notification.
//
// Decoding fails closed: a frame that is truncated, length-inconsistent, or whose
// CRC does not verify never yields a value. The MCU is the sole safety authority;
// nothing in this package retries or re-interprets rejected commands.
//
// Clients are built on top of this package by mlpclient, which adds command
// dispatch, session leasing, and reconnect handling.
package mlp
