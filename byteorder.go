package coro

import "encoding/binary"

// ByteOrder selects how a length-prefix adapter encodes the prefix width.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// putUint writes v into the low width bytes of buf using order, matching the
// wire format the prefix adapter (see adapter/prefix.go) negotiates at
// construction time. width must be 1..8; a width of 8 with a value exceeding
// uint64 range of course cannot occur since v is itself a uint64.
func putUint(buf []byte, v uint64, width int, order ByteOrder) {
	var tmp [8]byte
	switch order {
	case LittleEndian:
		binary.LittleEndian.PutUint64(tmp[:], v)
		copy(buf, tmp[:width])
	default:
		binary.BigEndian.PutUint64(tmp[:], v)
		copy(buf, tmp[8-width:])
	}
}

// getUint is the inverse of putUint.
func getUint(buf []byte, width int, order ByteOrder) uint64 {
	var tmp [8]byte
	switch order {
	case LittleEndian:
		copy(tmp[:], buf[:width])
		return binary.LittleEndian.Uint64(tmp[:])
	default:
		copy(tmp[8-width:], buf[:width])
		return binary.BigEndian.Uint64(tmp[:])
	}
}

// PutUint is the exported form of putUint, for the adapter subpackage's
// prefix codec.
func PutUint(buf []byte, v uint64, width int, order ByteOrder) { putUint(buf, v, width, order) }

// GetUint is the exported form of getUint.
func GetUint(buf []byte, width int, order ByteOrder) uint64 { return getUint(buf, width, order) }
