package sample

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

// PacketSize is the exact datagram payload length: one little-endian float32.
const PacketSize = 4

// ErrMalformedPacket is returned for payloads that are not exactly PacketSize bytes
// or that do not hold a finite float32.
var ErrMalformedPacket = errors.New("malformed packet")

// Decode parses one datagram payload into a voltage.
// The payload carries no timestamp; the receiver assigns one on arrival.
func Decode(payload []byte) (float64, error) {
	if len(payload) != PacketSize {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedPacket, len(payload), PacketSize)
	}
	v := math32.Float32frombits(binary.LittleEndian.Uint32(payload))
	if math32.IsNaN(v) || math32.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite value %v", ErrMalformedPacket, v)
	}
	return float64(v), nil
}

// Encode returns the wire representation of voltage.
func Encode(voltage float64) []byte {
	return AppendEncoded(make([]byte, 0, PacketSize), voltage)
}

// AppendEncoded appends the wire representation of voltage to dst.
func AppendEncoded(dst []byte, voltage float64) []byte {
	return binary.LittleEndian.AppendUint32(dst, math32.Float32bits(float32(voltage)))
}
