package bitio

import "errors"

// ErrPastEnd is returned when a ByteStream read advances past the end of
// its underlying buffer.
var ErrPastEnd = errors.New("bitio: read past end of stream")

// Stream is a Buffer plus a cursor. Endianness is carried from the buffer;
// Substream inherits it unless explicitly overridden with WithOrder.
type Stream struct {
	buf Buffer
	pos int
}

// NewStream creates a Stream positioned at the start of buf.
func NewStream(buf Buffer) *Stream {
	return &Stream{buf: buf}
}

func (s *Stream) Order() Order           { return s.buf.Order() }
func (s *Stream) SetOrder(order Order)   { s.buf = s.buf.WithOrder(order) }
func (s *Stream) Position() int          { return s.pos }
func (s *Stream) SetPosition(pos int)    { s.pos = pos }
func (s *Stream) Size() int              { return s.buf.Size() }
func (s *Stream) Remaining() int         { return s.buf.Size() - s.pos }
func (s *Stream) Buffer() Buffer         { return s.buf }

// Skip advances the cursor by n bytes without reading.
func (s *Stream) Skip(n int) error {
	if n < 0 || n > s.Remaining() {
		return ErrPastEnd
	}
	s.pos += n
	return nil
}

// Substream returns a new Stream over the next len bytes starting at off
// (absolute, within this stream's buffer), inheriting this stream's byte
// order. It does not advance this stream's cursor.
func (s *Stream) Substream(off, length int) (*Stream, error) {
	b, err := s.buf.Sub(off, length)
	if err != nil {
		return nil, ErrPastEnd
	}
	return NewStream(b), nil
}

// PeekStream returns a substream of length n starting at the current
// cursor, without advancing it.
func (s *Stream) PeekStream(n int) (*Stream, error) {
	return s.Substream(s.pos, n)
}

// GetStream returns a substream of length n starting at the current
// cursor and advances past it.
func (s *Stream) GetStream(n int) (*Stream, error) {
	st, err := s.PeekStream(n)
	if err != nil {
		return nil, err
	}
	if err := s.Skip(n); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Stream) PeekByte() (byte, error) { return s.buf.GetByte(s.pos) }

func (s *Stream) GetByte() (byte, error) {
	v, err := s.buf.GetByte(s.pos)
	if err != nil {
		return 0, ErrPastEnd
	}
	s.pos++
	return v, nil
}

func (s *Stream) PeekU16() (uint16, error) { return s.buf.GetU16(s.pos) }

func (s *Stream) GetU16() (uint16, error) {
	v, err := s.buf.GetU16(s.pos)
	if err != nil {
		return 0, ErrPastEnd
	}
	s.pos += 2
	return v, nil
}

func (s *Stream) PeekU32() (uint32, error) { return s.buf.GetU32(s.pos) }

func (s *Stream) GetU32() (uint32, error) {
	v, err := s.buf.GetU32(s.pos)
	if err != nil {
		return 0, ErrPastEnd
	}
	s.pos += 4
	return v, nil
}

func (s *Stream) PeekU64() (uint64, error) { return s.buf.GetU64(s.pos) }

func (s *Stream) GetU64() (uint64, error) {
	v, err := s.buf.GetU64(s.pos)
	if err != nil {
		return 0, ErrPastEnd
	}
	s.pos += 8
	return v, nil
}

func (s *Stream) GetFloat32() (float32, error) {
	v, err := s.buf.GetFloat32(s.pos)
	if err != nil {
		return 0, ErrPastEnd
	}
	s.pos += 4
	return v, nil
}

func (s *Stream) GetFloat64() (float64, error) {
	v, err := s.buf.GetFloat64(s.pos)
	if err != nil {
		return 0, ErrPastEnd
	}
	s.pos += 8
	return v, nil
}

// GetBytes reads n raw bytes and advances the cursor.
func (s *Stream) GetBytes(n int) ([]byte, error) {
	d, err := s.buf.GetData(s.pos, n)
	if err != nil {
		return nil, ErrPastEnd
	}
	s.pos += n
	return d, nil
}
