package rawimage

import "encoding/binary"

// Table is a per-image output lookup curve. In dither mode each input
// value maps to a (base, delta) pair and the destination value is
// base plus a dithered fraction of delta, so a straight linear
// interpolation between the curve's defined sample points doesn't band
// on large upscales.
type Table struct {
	Dither bool
	plain  []uint16 // Dither == false: direct value[input] map
	packed []uint32 // Dither == true: base | delta<<16 per input
}

// NewTable builds a lookup table from the supplied curve. In dither mode,
// the delta between each sample and its successor is precomputed; the
// final sample has a zero delta.
func NewTable(values []uint16, dither bool) *Table {
	t := &Table{Dither: dither}
	if !dither {
		t.plain = append([]uint16(nil), values...)
		return t
	}
	t.packed = make([]uint32, len(values))
	for i, base := range values {
		var delta uint32
		if i+1 < len(values) {
			delta = uint32(values[i+1]) - uint32(base)
		}
		t.packed[i] = uint32(base) | delta<<16
	}
	return t
}

// SetTable installs (or clears, with a nil argument) the output lookup
// table used by SetWithLookup.
func (im *Image) SetTable(t *Table) {
	im.table = t
}

// SetWithLookup writes value through the image's lookup table (if any)
// into dst, a 2-byte slice addressing one uint16 pixel component. random
// carries a 16-bit linear congruential generator's state between calls so
// a tight decompressor loop can thread dithering noise across pixels
// without reseeding.
func (im *Image) SetWithLookup(value uint16, dst []byte, random *uint32) {
	if im.table == nil {
		binary.LittleEndian.PutUint16(dst, value)
		return
	}
	if !im.table.Dither {
		binary.LittleEndian.PutUint16(dst, im.table.plain[value])
		return
	}
	lookup := im.table.packed[value]
	base := lookup & 0xffff
	delta := lookup >> 16
	r := *random

	pix := base + ((delta*(r&2047) + 1024) >> 12)
	*random = 15700*(r&65535) + (r >> 16)
	binary.LittleEndian.PutUint16(dst, uint16(pix))
}
