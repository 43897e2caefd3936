// Package telemetry provides the payload telemetry packet codec.
package telemetry

// A packet is produced once per sampling iteration and carries the
// samples of every channel that had new data:
//
//   offset  size  field
//   0       4     sync marker "ASU!"
//   4       4     presence bitmask, bit k set iff channel k contributed
//   8       2     total length, sync through checksum inclusive
//   10      4     capture timestamp, milliseconds since boot
//   14      n     channel payloads in ascending channel order
//   14+n    1     checksum, the sum of all packet bytes is 0 mod 256
//
// Multi-byte fields are little-endian. Channel identity is positional:
// encoder and decoder must be built from the same channel order.
//
// Producer: payload sampling context
// Consumer: sinks (flash, archive, radio) and ground decoders
