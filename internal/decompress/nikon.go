package decompress

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// nikonTrees holds the six fixed Huffman code tables used by compressed
// NEF files: 12-bit lossy, 12-bit lossy after the split row, 12-bit
// lossless, and the 14-bit variants of the same three. The first 16
// bytes of each row are code counts for lengths 1..16, the rest are the
// coded values in canonical order. A value's low nibble is the
// difference bit length; the high nibble, where set, is an extra left
// shift applied to the difference.
var nikonTrees = [6][32]byte{
	{0, 1, 5, 1, 1, 1, 1, 1, 1, 2, 0, 0, 0, 0, 0, 0,
		5, 4, 3, 6, 2, 7, 1, 0, 8, 9, 11, 10, 12},
	{0, 1, 5, 1, 1, 1, 1, 1, 1, 2, 0, 0, 0, 0, 0, 0,
		0x39, 0x5a, 0x38, 0x27, 0x16, 5, 4, 3, 2, 1, 0, 11, 12, 12},
	{0, 1, 4, 2, 3, 1, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		5, 4, 6, 3, 7, 2, 8, 1, 9, 0, 10, 11, 12},
	{0, 1, 4, 3, 1, 1, 1, 1, 1, 2, 0, 0, 0, 0, 0, 0,
		5, 6, 4, 7, 8, 3, 9, 2, 1, 0, 10, 11, 12, 13, 14},
	{0, 1, 5, 1, 1, 1, 1, 1, 1, 1, 2, 0, 0, 0, 0, 0,
		8, 0x5c, 0x4b, 0x3a, 0x29, 7, 6, 5, 4, 3, 2, 1, 0, 13, 14},
	{0, 1, 4, 2, 2, 3, 1, 2, 0, 0, 0, 0, 0, 0, 0, 0,
		7, 6, 8, 5, 9, 4, 10, 3, 11, 12, 2, 0, 1, 13, 14},
}

// nikonHuff is a canonical Huffman decode table in the classic
// mincode/maxcode/valptr form; codes are read MSB-first one bit at a
// time, which is plenty fast for the short codes these tables hold.
type nikonHuff struct {
	mincode [17]int
	maxcode [17]int
	valptr  [17]int
	values  []byte
}

func buildNikonHuff(tree [32]byte) nikonHuff {
	var h nikonHuff
	total := 0
	for l := 1; l <= 16; l++ {
		total += int(tree[l-1])
	}
	h.values = tree[16 : 16+total]

	code := 0
	k := 0
	for l := 1; l <= 16; l++ {
		count := int(tree[l-1])
		h.valptr[l] = k
		h.mincode[l] = code
		code += count
		k += count
		h.maxcode[l] = code - 1
		code <<= 1
	}
	return h
}

// decodeSymbol reads one Huffman code from pump and returns its value.
func (h nikonHuff) decodeSymbol(pump bitio.Pump) (byte, error) {
	b, err := pump.GetBits(1)
	if err != nil {
		return 0, err
	}
	code := int(b)
	for l := 1; l <= 16; l++ {
		if code <= h.maxcode[l] {
			return h.values[h.valptr[l]+code-h.mincode[l]], nil
		}
		b, err = pump.GetBits(1)
		if err != nil {
			return 0, err
		}
		code = code<<1 | int(b)
	}
	return 0, fmt.Errorf("%w: corrupt nikon huffman code", ErrTruncated)
}

// decodeDifference reads a symbol-coded difference: the symbol's low
// nibble is the bit length, the high nibble an extra shift; the sign
// rule is the usual JPEG lossless extension, adjusted so shifted codes
// stay on even boundaries.
func (h nikonHuff) decodeDifference(pump bitio.Pump) (int, error) {
	sym, err := h.decodeSymbol(pump)
	if err != nil {
		return 0, err
	}
	length := int(sym & 15)
	shl := int(sym >> 4)
	if length == 0 {
		return 0, nil
	}
	bits, err := pump.GetBits(length - shl)
	if err != nil {
		return 0, err
	}
	diff := int((bits<<1+1)<<uint(shl)) >> 1
	if diff&(1<<uint(length-1)) == 0 {
		sub := 1 << uint(length)
		if shl == 0 {
			sub--
		}
		diff -= sub
	}
	return diff, nil
}

// Nikon decodes compressed NEF data: per-pixel Huffman-coded
// differences accumulated against two vertical predictors (one per row
// parity) in the first two columns and horizontal predictors elsewhere,
// then pushed through the metadata-supplied linearization curve.
type Nikon struct {
	bps        int
	huffSelect int
	split      int
	curve      []uint16
	vPred      [2][2]uint16
}

// NewNikon parses the compression metadata blob (maker-note tag 0x96, or
// 0x8c on older bodies): a two-byte version, the four vertical predictor
// seeds, and the linearization curve, whose encoding the version bytes
// select.
func NewNikon(meta *bitio.Stream, bitsPerSample int) (*Nikon, error) {
	if bitsPerSample != 12 && bitsPerSample != 14 {
		return nil, fmt.Errorf("%w: invalid nikon bits per sample %d", ErrBadParams, bitsPerSample)
	}
	d := &Nikon{bps: bitsPerSample}

	v0, err := meta.GetByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	v1, err := meta.GetByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	if v0 == 73 || v1 == 88 {
		if err := meta.Skip(2110); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
	}
	if v0 == 70 {
		d.huffSelect = 2
	}
	if bitsPerSample == 14 {
		d.huffSelect += 3
	}

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			v, err := meta.GetU16()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			d.vPred[i][j] = v
		}
	}

	curve, split, err := nikonCurve(meta, bitsPerSample, v0, v1)
	if err != nil {
		return nil, err
	}
	d.curve = curve
	d.split = split
	return d, nil
}

// nikonCurve reads the piecewise-linear linearization curve. The
// version-0x4420 encoding stores csize sample points that are
// interpolated across the full range and moves the split-row marker at
// a fixed offset; other versions store the curve directly (or not at
// all, leaving it an identity ramp).
func nikonCurve(meta *bitio.Stream, bps int, v0, v1 byte) ([]uint16, int, error) {
	curve := make([]uint16, (1<<uint(bps)&0x7fff)+1)
	for i := range curve {
		curve[i] = uint16(i)
	}
	split := 0

	csizeU, err := meta.GetU16()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	csize := int(csizeU)
	step := 0
	if csize > 1 {
		step = len(curve) / (csize - 1)
	}

	switch {
	case v0 == 68 && v1 == 32 && step > 0:
		for i := 0; i < csize; i++ {
			v, err := meta.GetU16()
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			if i*step < len(curve) {
				curve[i*step] = v
			}
		}
		for i := 0; i < len(curve)-1; i++ {
			bScale := i % step
			aPos := i - bScale
			bPos := aPos + step
			if bPos >= len(curve) {
				bPos = len(curve) - 1
			}
			aScale := step - bScale
			curve[i] = uint16((aScale*int(curve[aPos]) + bScale*int(curve[bPos])) / step)
		}
		meta.SetPosition(562)
		sp, err := meta.GetU16()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		split = int(sp)
	case v0 != 70 && csize <= 0x4001 && csize > 0:
		if csize+1 < len(curve) {
			curve = curve[:csize+1]
		}
		for i := 0; i < csize && i < len(curve); i++ {
			v, err := meta.GetU16()
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			curve[i] = v
		}
	}

	curve = curve[:len(curve)-1]
	return curve, split, nil
}

// Curve exposes the parsed linearization curve for callers that apply
// it themselves when requesting uncorrected values.
func (d *Nikon) Curve() []uint16 { return d.curve }

// Decompress decodes the full raster from in. With uncorrectedRawValues
// set, pixels are stored before linearization and the curve is left to
// the caller.
func (d *Nikon) Decompress(img *rawimage.Image, in *bitio.Stream, uncorrectedRawValues bool) error {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return fmt.Errorf("%w: nikon requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	w, h := dim.X, dim.Y
	if w == 0 || h == 0 || w%2 != 0 || w > 8288 || h > 5520 {
		return fmt.Errorf("%w: unexpected nikon dimensions %dx%d", ErrBadParams, w, h)
	}

	if !uncorrectedRawValues {
		img.SetTable(rawimage.NewTable(d.curve, true))
		defer img.SetTable(nil)
	}

	ht := buildNikonHuff(nikonTrees[d.huffSelect])
	pump := bitio.NewMSBPump(in)
	if err := pump.Fill(24); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	random := pump.PeekBits(24)

	vPred := d.vPred
	var hPred [2]uint16

	for y := 0; y < h; y++ {
		if d.split > 0 && y == d.split {
			ht = buildNikonHuff(nikonTrees[d.huffSelect+1])
		}
		row, err := img.RowUncropped(y)
		if err != nil {
			return err
		}
		for x := 0; x < w; x++ {
			diff, err := ht.decodeDifference(pump)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			if x < 2 {
				vPred[y&1][x] += uint16(diff)
				hPred[x] = vPred[y&1][x]
			} else {
				hPred[x&1] += uint16(diff)
			}
			if int(hPred[x&1])>>uint(d.bps) != 0 {
				return fmt.Errorf("%w: nikon decoded value out of bounds at (%d, %d)", ErrBadParams, x, y)
			}
			dst := row[x*2 : x*2+2]
			if uncorrectedRawValues {
				rowSetU16(row, x, hPred[x&1])
			} else {
				img.SetWithLookup(hPred[x&1], dst, &random)
			}
		}
	}
	return nil
}
