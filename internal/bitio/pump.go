package bitio

import "errors"

// ErrBitsTooWide is returned when a pump is asked to peek/get more than 32
// bits at once.
var ErrBitsTooWide = errors.New("bitio: cannot read more than 32 bits at once")

func mask32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n >= 32 {
		return 0xffffffff
	}
	return 1<<uint(n) - 1
}

// Pump is the common bit-reading contract shared by all five bit-order
// variants. Fill(n) for n <= 32 refills until at least n bits are cached
// (it may cache more, up to a whole refill chunk); peek/get of width 0
// returns 0.
type Pump interface {
	// Fill ensures at least n bits (n <= 32) are available to Peek/GetBits
	// without further I/O.
	Fill(n int) error
	PeekBits(n int) uint32
	GetBits(n int) (uint32, error)
	SkipBits(n int) error
	SkipBitsNoFill(n int)
	Position() int
}

// leftPump implements the "push from the right, read from the left" cache
// discipline shared by MSB, MSB16, MSB32 and JPEG: new bits are inserted
// below the currently valid window, and consumed from its high end.
type leftPump struct {
	s       *Stream
	cache   uint64
	valid   int // number of valid bits currently cached
	pastEnd bool
	fill    func(n int) error // bound to the concrete pump's own Fill
}

// Fill dispatches to the concrete pump's Fill implementation, since Go's
// embedding does not call back into the outer type's overriding methods.
func (p *leftPump) Fill(n int) error { return p.fill(n) }

func (p *leftPump) push(v uint32, bits int) {
	p.cache = p.cache<<uint(bits) | uint64(v)
	p.valid += bits
}

func (p *leftPump) PeekBits(n int) uint32 {
	if n <= 0 {
		return 0
	}
	shift := p.valid - n
	if shift < 0 {
		shift = 0
	}
	return uint32(p.cache>>uint(shift)) & mask32(n)
}

func (p *leftPump) SkipBitsNoFill(n int) {
	p.valid -= n
	if p.valid < 0 {
		p.valid = 0
	}
}

func (p *leftPump) Position() int {
	return p.s.Position() - p.valid/8
}

func (p *leftPump) GetBits(n int) (uint32, error) {
	if err := p.Fill(n); err != nil {
		return 0, err
	}
	v := p.PeekBits(n)
	p.SkipBitsNoFill(n)
	return v, nil
}

func (p *leftPump) SkipBits(n int) error {
	if err := p.Fill(n); err != nil {
		return err
	}
	p.SkipBitsNoFill(n)
	return nil
}

// MSBPump reads bits MSB-first, refilling 4 bytes at a time as a single
// big-endian 32-bit word.
type MSBPump struct{ leftPump }

func NewMSBPump(s *Stream) *MSBPump {
	p := &MSBPump{leftPump{s: s}}
	p.leftPump.fill = p.Fill
	return p
}

func (p *MSBPump) Fill(n int) error {
	if n < 0 || n > 32 {
		return ErrBitsTooWide
	}
	for p.valid < 32 {
		if p.valid >= n {
			return nil
		}
		b, err := p.s.GetBytes(4)
		if err != nil {
			p.pastEnd = true
			return ErrPastEnd
		}
		v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		p.push(v, 32)
	}
	return nil
}

// MSB16Pump reads bits MSB-first, refilling in 16-bit little-endian chunks.
type MSB16Pump struct{ leftPump }

func NewMSB16Pump(s *Stream) *MSB16Pump {
	p := &MSB16Pump{leftPump{s: s}}
	p.leftPump.fill = p.Fill
	return p
}

func (p *MSB16Pump) Fill(n int) error {
	if n < 0 || n > 32 {
		return ErrBitsTooWide
	}
	for p.valid < 32 {
		if p.valid >= n {
			return nil
		}
		b, err := p.s.GetBytes(2)
		if err != nil {
			p.pastEnd = true
			return ErrPastEnd
		}
		v := uint32(b[0]) | uint32(b[1])<<8
		p.push(v, 16)
	}
	return nil
}

// MSB32Pump reads bits MSB-first, refilling one 32-bit little-endian word
// at a time (the "MSB16 but 32-bit chunks" variant).
type MSB32Pump struct{ leftPump }

func NewMSB32Pump(s *Stream) *MSB32Pump {
	p := &MSB32Pump{leftPump{s: s}}
	p.leftPump.fill = p.Fill
	return p
}

func (p *MSB32Pump) Fill(n int) error {
	if n < 0 || n > 32 {
		return ErrBitsTooWide
	}
	for p.valid < 32 {
		if p.valid >= n {
			return nil
		}
		b, err := p.s.GetBytes(4)
		if err != nil {
			p.pastEnd = true
			return ErrPastEnd
		}
		v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		p.push(v, 32)
	}
	return nil
}

// LSBPump reads bits LSB-first: the first bit read from each byte group is
// its lowest-order bit. Refills 4 bytes at a time as a little-endian
// 32-bit word, inserted below the existing valid window.
type LSBPump struct {
	s       *Stream
	cache   uint64
	valid   int
	pastEnd bool
}

func NewLSBPump(s *Stream) *LSBPump { return &LSBPump{s: s} }

func (p *LSBPump) Fill(n int) error {
	if n < 0 || n > 32 {
		return ErrBitsTooWide
	}
	for p.valid < 32 {
		if p.valid >= n {
			return nil
		}
		b, err := p.s.GetBytes(4)
		if err != nil {
			p.pastEnd = true
			return ErrPastEnd
		}
		v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		p.cache |= uint64(v) << uint(p.valid)
		p.valid += 32
	}
	return nil
}

func (p *LSBPump) PeekBits(n int) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32(p.cache) & mask32(n)
}

func (p *LSBPump) SkipBitsNoFill(n int) {
	p.cache >>= uint(n)
	p.valid -= n
	if p.valid < 0 {
		p.valid = 0
	}
}

func (p *LSBPump) GetBits(n int) (uint32, error) {
	if err := p.Fill(n); err != nil {
		return 0, err
	}
	v := p.PeekBits(n)
	p.SkipBitsNoFill(n)
	return v, nil
}

func (p *LSBPump) SkipBits(n int) error {
	if err := p.Fill(n); err != nil {
		return err
	}
	p.SkipBitsNoFill(n)
	return nil
}

func (p *LSBPump) Position() int {
	return p.s.Position() - p.valid/8
}

// JPEGPump reads bits MSB-first like MSBPump, but byte-by-byte so it can
// detect and undo JPEG byte-stuffing: a 0xFF followed by 0x00 decodes to a
// single 0xFF; a 0xFF followed by any other byte marks end-of-stream, after
// which every further GetBits silently returns zero instead of erroring.
type JPEGPump struct {
	leftPump
	eos bool
}

func NewJPEGPump(s *Stream) *JPEGPump {
	p := &JPEGPump{leftPump: leftPump{s: s}}
	p.leftPump.fill = p.Fill
	return p
}

func (p *JPEGPump) Fill(n int) error {
	if n < 0 || n > 32 {
		return ErrBitsTooWide
	}
	for p.valid < 32 {
		if p.valid >= n {
			return nil
		}
		if p.eos {
			// Stream is logically exhausted: keep feeding zero bits forever.
			p.push(0, 8)
			continue
		}
		b, err := p.s.GetByte()
		if err != nil {
			// Ran off the real end of input without ever seeing a marker;
			// treat it the same as a marker-triggered end-of-stream.
			p.eos = true
			p.push(0, 8)
			continue
		}
		if b == 0xFF {
			next, err := p.s.PeekByte()
			if err != nil {
				p.eos = true
				p.push(0, 8)
				continue
			}
			if next == 0x00 {
				_, _ = p.s.GetByte() // consume the stuffed 0x00
				p.push(0xFF, 8)
				continue
			}
			// Marker: end of entropy-coded segment.
			p.eos = true
			p.push(0, 8)
			continue
		}
		p.push(uint32(b), 8)
	}
	return nil
}

// GetBits never fails for the JPEG pump: past end-of-stream it returns 0.
func (p *JPEGPump) GetBits(n int) (uint32, error) {
	_ = p.Fill(n)
	v := p.PeekBits(n)
	p.SkipBitsNoFill(n)
	return v, nil
}

func (p *JPEGPump) SkipBits(n int) error {
	_ = p.Fill(n)
	p.SkipBitsNoFill(n)
	return nil
}

// IsEndOfStream reports whether the JPEG pump has hit its stuffed-end
// marker (or the real end of input) and is now synthesizing zero bits.
func (p *JPEGPump) IsEndOfStream() bool { return p.eos }
