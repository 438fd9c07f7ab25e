// Package wire marshals the task proxy's daemon-to-client status
// trailer: a 4-byte sentinel followed by a 32-bit wait-status word.
// The manual field-at-a-time layout mirrors the technique the ublk
// control-plane codec uses for its own fixed-size wire structs.
package wire

import (
	"encoding/binary"

	"github.com/mvoss/taskproxyd/internal/constants"
)

// TrailerSize is the wire size of the status trailer in bytes.
const TrailerSize = len(constants.RetMark) + 4

// MarshalStatus encodes a wait status into the fixed trailer format:
// "####" followed by the 32-bit status word in native byte order.
func MarshalStatus(status uint32) []byte {
	buf := make([]byte, TrailerSize)
	copy(buf, constants.RetMark)
	binary.NativeEndian.PutUint32(buf[len(constants.RetMark):], status)
	return buf
}

// UnmarshalStatus is the test-side inverse of MarshalStatus: it
// validates the sentinel and decodes the trailing status word.
func UnmarshalStatus(buf []byte) (uint32, bool) {
	if len(buf) != TrailerSize {
		return 0, false
	}
	if string(buf[:len(constants.RetMark)]) != constants.RetMark {
		return 0, false
	}
	return binary.NativeEndian.Uint32(buf[len(constants.RetMark):]), true
}
