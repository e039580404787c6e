// Package bitio provides the byte- and bit-level I/O primitives that every
// RawSpeed-Go decompressor is built on: a bounds-checked byte buffer, a
// cursor-carrying byte stream, and the five bit pumps used by the vendor
// decompressors (LSB, MSB, MSB16, MSB32, JPEG-stuffed).
package bitio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrOutOfBounds is returned when a read would reach past the end of the
// underlying buffer.
var ErrOutOfBounds = errors.New("bitio: read out of bounds")

// Order selects the byte order used for multi-byte reads.
type Order int

const (
	LittleEndian Order = iota
	BigEndian
)

// Buffer is a non-owning, bounds-checked view of bytes with a known
// endianness for multi-byte reads. Every read is checked against the
// buffer's size; reads that would go out of range (including ones whose
// offset+length arithmetic overflows) fail with ErrOutOfBounds.
type Buffer struct {
	data  []byte
	order Order
}

// NewBuffer wraps data in a Buffer with the given byte order. The Buffer
// does not copy data; the caller must not mutate it afterward.
func NewBuffer(data []byte, order Order) Buffer {
	return Buffer{data: data, order: order}
}

// Size returns the number of bytes in the buffer.
func (b Buffer) Size() int { return len(b.data) }

// Order returns the buffer's configured byte order.
func (b Buffer) Order() Order { return b.order }

// WithOrder returns a copy of b using the given byte order.
func (b Buffer) WithOrder(order Order) Buffer {
	b.order = order
	return b
}

// bounds checks that [off, off+n) lies within the buffer, guarding against
// integer overflow in the addition.
func (b Buffer) bounds(off, n int) error {
	if off < 0 || n < 0 || off > len(b.data) || n > len(b.data)-off {
		return ErrOutOfBounds
	}
	return nil
}

// GetData returns the n bytes starting at off. The returned slice aliases
// the buffer's storage; callers must not mutate it.
func (b Buffer) GetData(off, n int) ([]byte, error) {
	if err := b.bounds(off, n); err != nil {
		return nil, err
	}
	return b.data[off : off+n], nil
}

// Sub returns a new Buffer over [off, off+n), inheriting the byte order.
func (b Buffer) Sub(off, n int) (Buffer, error) {
	d, err := b.GetData(off, n)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{data: d, order: b.order}, nil
}

func (b Buffer) swap16(v uint16) uint16 { return v>>8 | v<<8 }

func (b Buffer) GetByte(off int) (byte, error) {
	d, err := b.GetData(off, 1)
	if err != nil {
		return 0, err
	}
	return d[0], nil
}

func (b Buffer) GetU16(off int) (uint16, error) {
	d, err := b.GetData(off, 2)
	if err != nil {
		return 0, err
	}
	if b.order == LittleEndian {
		return binary.LittleEndian.Uint16(d), nil
	}
	return binary.BigEndian.Uint16(d), nil
}

func (b Buffer) GetU32(off int) (uint32, error) {
	d, err := b.GetData(off, 4)
	if err != nil {
		return 0, err
	}
	if b.order == LittleEndian {
		return binary.LittleEndian.Uint32(d), nil
	}
	return binary.BigEndian.Uint32(d), nil
}

func (b Buffer) GetU64(off int) (uint64, error) {
	d, err := b.GetData(off, 8)
	if err != nil {
		return 0, err
	}
	if b.order == LittleEndian {
		return binary.LittleEndian.Uint64(d), nil
	}
	return binary.BigEndian.Uint64(d), nil
}

func (b Buffer) GetFloat32(off int) (float32, error) {
	bits, err := b.GetU32(off)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func (b Buffer) GetFloat64(off int) (float64, error) {
	bits, err := b.GetU64(off)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// GetBE16/32/64 and GetLE16/32/64 read explicit-endian values regardless
// of the buffer's configured order, for the handful of formats that mix
// byte orders within one file.
func (b Buffer) GetBE16(off int) (uint16, error) {
	d, err := b.GetData(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d), nil
}

func (b Buffer) GetLE16(off int) (uint16, error) {
	d, err := b.GetData(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(d), nil
}

func (b Buffer) GetBE32(off int) (uint32, error) {
	d, err := b.GetData(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d), nil
}

func (b Buffer) GetLE32(off int) (uint32, error) {
	d, err := b.GetData(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(d), nil
}

func (b Buffer) GetBE64(off int) (uint64, error) {
	d, err := b.GetData(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(d), nil
}

func (b Buffer) GetLE64(off int) (uint64, error) {
	d, err := b.GetData(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(d), nil
}
