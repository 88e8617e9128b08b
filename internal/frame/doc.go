// Package frame implements the bit-exact payload codec for transmitted
// frames: rolling-counter advance/wrap, checksum computation, and the signal
// bit packing used to build payloads from named field values.
//
// # Rolling counter
//
// The counter occupies a sub-byte field. Its position is given as the MSB bit
// position within its byte; the low-order bit sits at start-len+1. On each
// advance the value increments and wraps to 0 past 2^len-1. When the counter
// is held fixed, CounterPolicy decides whether the last value is re-written
// unchanged (PolicyHold, the default) or the field is forced to 0
// (PolicyReset, matching older bench tooling).
//
// # Checksum
//
// The checksum is the mod-256 sum of every payload byte except the checksum
// byte itself, computed after the counter has been written. A held checksum
// leaves the byte exactly as encoded (PolicyHold) or zeroes it (PolicyReset).
//
// Apply never mutates its input buffer; callers always receive a fresh copy.
package frame
