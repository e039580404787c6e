package tiff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
)

// ErrBadEntry is returned when an entry header names an unknown type or a
// count that would overflow its byte size.
var ErrBadEntry = errors.New("tiff: bad entry")

// ErrTypeMismatch is returned when an accessor is used against a value of
// an incompatible TIFF data type.
var ErrTypeMismatch = errors.New("tiff: type mismatch")

// Rational is a TIFF RATIONAL/SRATIONAL: numerator over denominator,
// deliberately never reduced to a float until the caller asks for one.
type Rational struct {
	Num, Denom int64
}

// Float64 returns the rational as a float64; a zero denominator yields 0
// rather than panicking, matching RawSpeed's defensive NotARational.
func (r Rational) Float64() float64 {
	if r.Denom == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Denom)
}

// Entry is one decoded IFD directory entry: a tag, its declared type and
// count, and a stream positioned over its value bytes (inline values get a
// stream over the 4 inline bytes of the entry header itself).
type Entry struct {
	Tag   Tag
	Type  DataType
	Count uint32
	data  *bitio.Stream
}

// entryHeaderSize is the encoded size of one IFD entry: tag(2) type(2)
// count(4) value/offset(4).
const entryHeaderSize = 12

// parseEntry reads one 12-byte entry header from bs (which must be
// positioned at the header) and resolves its value bytes, following an
// out-of-line offset into root when the value does not fit inline.
func parseEntry(bs *bitio.Stream, root *bitio.Stream) (Entry, error) {
	tagv, err := bs.GetU16()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: truncated entry header", ErrBadEntry)
	}
	typev, err := bs.GetU16()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: truncated entry header", ErrBadEntry)
	}
	count, err := bs.GetU32()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: truncated entry header", ErrBadEntry)
	}

	dtype := DataType(typev)
	elemSize := typeSize(dtype)
	if elemSize == 0 {
		// Skip the 4-byte value/offset slot so the next entry header lines
		// up, and report this entry as bad; parseIFD drops it and goes on.
		if err := bs.Skip(4); err != nil {
			return Entry{}, fmt.Errorf("%w: truncated entry value", ErrBadEntry)
		}
		return Entry{}, fmt.Errorf("%w: unknown type %d for tag 0x%04x", ErrBadEntry, typev, tagv)
	}

	if count != 0 && uint64(elemSize)*uint64(count) > uint64(^uint32(0)) {
		return Entry{}, fmt.Errorf("%w: count overflow for tag 0x%04x", ErrBadEntry, tagv)
	}
	byteSize := int(elemSize) * int(count)

	var valueStream *bitio.Stream
	if byteSize <= 4 {
		valueStream, err = bs.PeekStream(4)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: truncated inline value", ErrBadEntry)
		}
	} else {
		offset, err := bs.PeekU32()
		if err != nil {
			return Entry{}, fmt.Errorf("%w: truncated offset", ErrBadEntry)
		}
		valueStream, err = root.Substream(int(offset), byteSize)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: out-of-line value for tag 0x%04x out of bounds", ErrBadEntry, tagv)
		}
	}
	if err := bs.Skip(4); err != nil {
		return Entry{}, fmt.Errorf("%w: truncated entry value", ErrBadEntry)
	}

	return Entry{Tag: Tag(tagv), Type: dtype, Count: count, data: valueStream}, nil
}

func (e Entry) IsFloat() bool    { return e.Type == TypeFloat || e.Type == TypeDouble }
func (e Entry) IsRational() bool { return e.Type == TypeRational }
func (e Entry) IsSRational() bool { return e.Type == TypeSRational }
func (e Entry) IsString() bool   { return e.Type == TypeASCII }
func (e Entry) IsInt() bool {
	switch e.Type {
	case TypeByte, TypeShort, TypeLong, TypeSByte, TypeSShort, TypeSLong, TypeOffset:
		return true
	default:
		return false
	}
}

func (e Entry) elemOffset(index uint32) (int, error) {
	if index >= e.Count {
		return 0, fmt.Errorf("%w: index %d out of range (count %d)", ErrTypeMismatch, index, e.Count)
	}
	return int(index) * typeSize(e.Type), nil
}

// GetByte returns the index-th BYTE/SBYTE/UNDEFINED value.
func (e Entry) GetByte(index uint32) (byte, error) {
	off, err := e.elemOffset(index)
	if err != nil {
		return 0, err
	}
	return e.data.Buffer().GetByte(off)
}

// GetU32 returns the index-th value widened to uint32, valid for any
// integer type.
func (e Entry) GetU32(index uint32) (uint32, error) {
	if !e.IsInt() {
		return 0, fmt.Errorf("%w: GetU32 on type %d", ErrTypeMismatch, e.Type)
	}
	off, err := e.elemOffset(index)
	if err != nil {
		return 0, err
	}
	buf := e.data.Buffer()
	switch e.Type {
	case TypeByte, TypeSByte:
		b, err := buf.GetByte(off)
		return uint32(b), err
	case TypeShort, TypeSShort:
		v, err := buf.GetU16(off)
		return uint32(v), err
	case TypeLong, TypeSLong, TypeOffset:
		return buf.GetU32(off)
	}
	return 0, ErrTypeMismatch
}

func (e Entry) GetI32(index uint32) (int32, error) {
	v, err := e.GetU32(index)
	return int32(v), err
}

func (e Entry) GetU16(index uint32) (uint16, error) {
	v, err := e.GetU32(index)
	return uint16(v), err
}

func (e Entry) GetI16(index uint32) (int16, error) {
	v, err := e.GetU32(index)
	return int16(v), err
}

// GetRational returns the index-th RATIONAL value.
func (e Entry) GetRational(index uint32) (Rational, error) {
	if e.Type != TypeRational {
		return Rational{}, fmt.Errorf("%w: GetRational on type %d", ErrTypeMismatch, e.Type)
	}
	off, err := e.elemOffset(index)
	if err != nil {
		return Rational{}, err
	}
	buf := e.data.Buffer()
	num, err := buf.GetU32(off)
	if err != nil {
		return Rational{}, err
	}
	denom, err := buf.GetU32(off + 4)
	if err != nil {
		return Rational{}, err
	}
	return Rational{Num: int64(num), Denom: int64(denom)}, nil
}

// GetSRational returns the index-th SRATIONAL value.
func (e Entry) GetSRational(index uint32) (Rational, error) {
	if e.Type != TypeSRational {
		return Rational{}, fmt.Errorf("%w: GetSRational on type %d", ErrTypeMismatch, e.Type)
	}
	off, err := e.elemOffset(index)
	if err != nil {
		return Rational{}, err
	}
	buf := e.data.Buffer()
	num, err := buf.GetU32(off)
	if err != nil {
		return Rational{}, err
	}
	denom, err := buf.GetU32(off + 4)
	if err != nil {
		return Rational{}, err
	}
	return Rational{Num: int64(int32(num)), Denom: int64(int32(denom))}, nil
}

// GetFloat returns the index-th value as a float64: FLOAT and DOUBLE
// directly, RATIONAL/SRATIONAL as the quotient, and any integer type
// widened — TIFF writers are loose about which of these they use for
// nominally fractional tags.
func (e Entry) GetFloat(index uint32) (float64, error) {
	switch {
	case e.Type == TypeFloat || e.Type == TypeDouble:
		off, err := e.elemOffset(index)
		if err != nil {
			return 0, err
		}
		buf := e.data.Buffer()
		if e.Type == TypeFloat {
			v, err := buf.GetFloat32(off)
			return float64(v), err
		}
		return buf.GetFloat64(off)
	case e.Type == TypeRational:
		r, err := e.GetRational(index)
		if err != nil {
			return 0, err
		}
		return r.Float64(), nil
	case e.Type == TypeSRational:
		r, err := e.GetSRational(index)
		if err != nil {
			return 0, err
		}
		return r.Float64(), nil
	case e.Type == TypeSByte:
		v, err := e.GetU32(index)
		return float64(int8(v)), err
	case e.Type == TypeSShort:
		v, err := e.GetU32(index)
		return float64(int16(v)), err
	case e.Type == TypeSLong:
		v, err := e.GetU32(index)
		return float64(int32(v)), err
	case e.IsInt():
		v, err := e.GetU32(index)
		return float64(v), err
	}
	return 0, fmt.Errorf("%w: GetFloat on type %d", ErrTypeMismatch, e.Type)
}

// GetString returns an ASCII entry's value, trimmed of the trailing NUL
// terminator(s).
func (e Entry) GetString() (string, error) {
	if !e.IsString() {
		return "", fmt.Errorf("%w: GetString on type %d", ErrTypeMismatch, e.Type)
	}
	raw, err := e.data.Buffer().GetData(0, int(e.Count))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}

// GetU32Array returns all Count values widened to uint32.
func (e Entry) GetU32Array() ([]uint32, error) {
	out := make([]uint32, e.Count)
	for i := range out {
		v, err := e.GetU32(uint32(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// GetU16Array returns all Count values widened to uint16.
func (e Entry) GetU16Array() ([]uint16, error) {
	out := make([]uint16, e.Count)
	for i := range out {
		v, err := e.GetU16(uint32(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Data returns the stream positioned over this entry's raw value bytes.
func (e Entry) Data() *bitio.Stream { return e.data }
