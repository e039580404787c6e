package decompress

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/pool"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// FujiHeader is the big-endian preamble of a compressed RAF payload.
type FujiHeader struct {
	Signature       uint16
	Version         byte
	RawType         byte
	RawBits         byte
	RawHeight       uint16
	RawRoundedWidth uint16
	RawWidth        uint16
	BlockSize       uint16
	BlocksInRow     byte
	TotalLines      uint16
}

// fujiLineHeight is how many output rows one compressed line expands to.
const fujiLineHeight = 6

func parseFujiHeader(in *bitio.Stream) (FujiHeader, error) {
	var h FujiHeader
	var err error
	read16 := func() uint16 {
		var v uint16
		if err == nil {
			v, err = in.GetU16()
		}
		return v
	}
	read8 := func() byte {
		var v byte
		if err == nil {
			v, err = in.GetByte()
		}
		return v
	}
	h.Signature = read16()
	h.Version = read8()
	h.RawType = read8()
	h.RawBits = read8()
	h.RawHeight = read16()
	h.RawRoundedWidth = read16()
	h.RawWidth = read16()
	h.BlockSize = read16()
	h.BlocksInRow = read8()
	h.TotalLines = read16()
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return h, nil
}

// valid applies the full set of header consistency checks: magic and
// version, dimension and stride multiples, and the derived block/line
// counts actually matching the declared image size.
func (h FujiHeader) valid() bool {
	roundUpDiv := func(a, b int) int { return (a + b - 1) / b }
	invalid := h.Signature != 0x4953 || h.Version != 1 || h.RawHeight > 0x3000 ||
		int(h.RawHeight) < fujiLineHeight ||
		int(h.RawHeight)%fujiLineHeight != 0 || h.RawWidth > 0x3000 ||
		h.RawWidth < 0x300 || h.RawWidth%24 != 0 || h.RawRoundedWidth > 0x3000 ||
		h.BlockSize != 0x300 || h.RawRoundedWidth < h.BlockSize ||
		h.RawRoundedWidth%h.BlockSize != 0 ||
		h.RawRoundedWidth-h.RawWidth >= h.BlockSize || h.BlocksInRow > 0x10 ||
		h.BlocksInRow == 0 ||
		int(h.BlocksInRow) != int(h.RawRoundedWidth)/int(h.BlockSize) ||
		int(h.BlocksInRow) != roundUpDiv(int(h.RawWidth), int(h.BlockSize)) ||
		h.TotalLines > 0x800 || h.TotalLines == 0 ||
		int(h.TotalLines) != int(h.RawHeight)/fujiLineHeight ||
		(h.RawBits != 12 && h.RawBits != 14 && h.RawBits != 16) ||
		(h.RawType != 16 && h.RawType != 0)
	return !invalid
}

// fujiParams are the per-image quantization constants shared by every
// strip: the delta-to-gradient-class table and the escape thresholds.
type fujiParams struct {
	qTable      []int8
	qPoint      [5]int
	maxBits     int
	minValue    int
	rawBits     int
	totalValues int
	maxDiff     int
	lineWidth   int
}

func newFujiParams(h FujiHeader) (fujiParams, error) {
	var p fujiParams

	if (h.BlockSize%3 != 0 && h.RawType == 16) || (h.BlockSize&1 != 0 && h.RawType == 0) {
		return p, fmt.Errorf("%w: fuji block size %d inconsistent with raw type %d", ErrBadParams, h.BlockSize, h.RawType)
	}

	if h.RawType == 16 {
		p.lineWidth = (int(h.BlockSize) * 2) / 3
	} else {
		p.lineWidth = int(h.BlockSize) >> 1
	}

	p.qPoint = [5]int{0, 0x12, 0x43, 0x114, (1 << uint(h.RawBits)) - 1}
	p.minValue = 0x40

	p.qTable = make([]int8, 2*(1<<uint(h.RawBits)))
	cur := -p.qPoint[4]
	for i := range p.qTable {
		var q int8
		switch {
		case cur <= -p.qPoint[3]:
			q = -4
		case cur <= -p.qPoint[2]:
			q = -3
		case cur <= -p.qPoint[1]:
			q = -2
		case cur < 0:
			q = -1
		case cur == 0:
			q = 0
		case cur < p.qPoint[1]:
			q = 1
		case cur < p.qPoint[2]:
			q = 2
		case cur < p.qPoint[3]:
			q = 3
		default:
			q = 4
		}
		p.qTable[i] = q
		cur++
	}

	switch p.qPoint[4] {
	case 0xFFFF:
		p.totalValues = 0x10000
		p.rawBits = 16
		p.maxBits = 64
		p.maxDiff = 1024
	case 0x3FFF:
		p.totalValues = 0x4000
		p.rawBits = 14
		p.maxBits = 56
		p.maxDiff = 256
	case 0xFFF:
		// 12-bit compressed RAF has no known samples; its exact coding
		// parameters are unverified, so it is rejected outright.
		return p, fmt.Errorf("%w: 12-bit compressed RAF", ErrUnsupported)
	default:
		return p, fmt.Errorf("%w: bad fuji quantization point %#x", ErrBadParams, p.qPoint[4])
	}
	return p, nil
}

// The 18 rolling line buffers: five rows each of red and blue and eight
// of green (the current line's three red, three blue and six green rows
// plus two rows of each color carried over from the previous line), each
// lineWidth+2 samples wide with a one-sample border. They
// live consecutively in one backing array so a sample's prediction
// neighborhood (one or two lines up) is a fixed negative offset from its
// own slot.
const (
	fujiR0 = iota
	fujiR1
	fujiR2
	fujiR3
	fujiR4
	fujiG0
	fujiG1
	fujiG2
	fujiG3
	fujiG4
	fujiG5
	fujiG6
	fujiG7
	fujiB0
	fujiB1
	fujiB2
	fujiB3
	fujiB4
	fujiLTotal
)

type fujiIntPair struct{ value1, value2 int }

// fujiBlock is the per-strip decode state: the strip's bit pump, the
// per-gradient adaptive pairs, and the rolling line buffers.
type fujiBlock struct {
	pump       *bitio.MSBPump
	gradEven   [3][41]fujiIntPair
	gradOdd    [3][41]fujiIntPair
	lineAll    []uint16
	lineStride int
}

func (b *fujiBlock) reset(p *fujiParams) {
	b.lineStride = p.lineWidth + 2
	n := fujiLTotal * b.lineStride
	if b.lineAll == nil {
		b.lineAll = make([]uint16, n)
	} else {
		for i := range b.lineAll {
			b.lineAll[i] = 0
		}
	}
	for j := 0; j < 3; j++ {
		for i := 0; i < 41; i++ {
			b.gradEven[j][i] = fujiIntPair{p.maxDiff, 1}
			b.gradOdd[j][i] = fujiIntPair{p.maxDiff, 1}
		}
	}
}

// line returns line buffer i as a slice of lineStride samples.
func (b *fujiBlock) line(i int) []uint16 {
	return b.lineAll[i*b.lineStride : (i+1)*b.lineStride]
}

// lineBase returns the absolute index of line i's first real sample
// (past the one-sample left border).
func (b *fujiBlock) lineBase(i int) int { return i*b.lineStride + 1 }

// fujiStrip is one vertical slice of the image, blockSize columns wide,
// decoding independently of its siblings.
type fujiStrip struct {
	n    int
	data []byte
}

func (s fujiStrip) width(h FujiHeader) int {
	if s.n+1 != int(h.BlocksInRow) {
		return int(h.BlockSize)
	}
	return int(h.RawWidth) - s.offsetX(h)
}

func (s fujiStrip) offsetX(h FujiHeader) int { return int(h.BlockSize) * s.n }

// Fuji decodes compressed RAF payloads: vertical strips of 6-row lines,
// each sample predicted from a two-row neighborhood and coded as a
// quantized-gradient-conditioned Golomb-style code.
type Fuji struct {
	header FujiHeader
	params fujiParams
	cfa    [6][6]camera.Color
	strips []fujiStrip
}

// NewFuji parses and validates the payload header against img, then
// slices the input into per-strip byte ranges.
func NewFuji(img *rawimage.Image, in *bitio.Stream) (*Fuji, error) {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return nil, fmt.Errorf("%w: fuji requires a single-component 16-bit image", ErrBadParams)
	}
	in.SetOrder(bitio.BigEndian)

	h, err := parseFujiHeader(in)
	if err != nil {
		return nil, err
	}
	if !h.valid() {
		return nil, fmt.Errorf("%w: compressed RAF header check failed", ErrBadParams)
	}
	dim := img.UncroppedDim()
	if dim.X != int(h.RawWidth) || dim.Y != int(h.RawHeight) {
		return nil, fmt.Errorf("%w: RAF header specifies different dimensions", ErrBadParams)
	}

	d := &Fuji{header: h}
	d.params, err = newFujiParams(h)
	if err != nil {
		return nil, err
	}

	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			c := img.CFA.ColorAt(j, i)
			switch c {
			case camera.Red, camera.Green, camera.Blue:
				d.cfa[i][j] = c
			default:
				return nil, fmt.Errorf("%w: unexpected CFA color %v", ErrBadParams, c)
			}
		}
	}

	// Strip sizes, padded to a 16-byte boundary, then the strip payloads.
	sizes := make([]int, h.BlocksInRow)
	for i := range sizes {
		v, err := in.GetU32()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		sizes[i] = int(v)
	}
	if rawOffset := 4 * int(h.BlocksInRow); rawOffset&0xC != 0 {
		if err := in.Skip(0x10 - (rawOffset & 0xC)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
	}

	d.strips = make([]fujiStrip, 0, h.BlocksInRow)
	for i, sz := range sizes {
		data, err := in.GetBytes(sz)
		if err != nil {
			return nil, fmt.Errorf("%w: strip %d: %v", ErrTruncated, i, err)
		}
		d.strips = append(d.strips, fujiStrip{n: i, data: data})
	}
	return d, nil
}

// fujiZerobits counts and consumes the leading zero bits up to and
// including the terminating set bit.
func fujiZerobits(pump *bitio.MSBPump) (int, error) {
	count := 0
	for {
		b, err := pump.GetBits(1)
		if err != nil {
			return 0, err
		}
		if b != 0 {
			return count, nil
		}
		count++
		if count > 4096 {
			return 0, fmt.Errorf("%w: runaway zero-bit run", ErrTruncated)
		}
	}
}

// fujiBitDiff returns how many doublings of value2 are needed to reach
// value1, capped at 15.
func fujiBitDiff(value1, value2 int) int {
	if value2 >= value1 {
		return 0
	}
	for dec := 1; dec <= 14; dec++ {
		if value2<<uint(dec) >= value1 {
			return dec
		}
	}
	return 15
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (d *Fuji) quantGradient(v1, v2 int) int {
	ci := &d.params
	return 9*int(ci.qTable[ci.qPoint[4]+v1]) + int(ci.qTable[ci.qPoint[4]+v2])
}

// fujiDecodeSample reads one coded sample into the slot at abs (an index
// into blk.lineAll). The even and odd phases differ only in their
// prediction neighborhood and final combination.
func (d *Fuji) fujiDecodeSample(blk *fujiBlock, abs int, grads *[41]fujiIntPair,
	interpVal, grad, gradient int) error {

	ci := &d.params

	sample, err := fujiZerobits(blk.pump)
	if err != nil {
		return err
	}

	var code int
	if sample < ci.maxBits-ci.rawBits-1 {
		decBits := fujiBitDiff(grads[gradient].value1, grads[gradient].value2)
		if decBits > 0 {
			v, err := blk.pump.GetBits(decBits)
			if err != nil {
				return err
			}
			code = int(v)
		}
		code += sample << uint(decBits)
	} else {
		v, err := blk.pump.GetBits(ci.rawBits)
		if err != nil {
			return err
		}
		code = int(v) + 1
	}

	if code < 0 || code >= ci.totalValues {
		return fmt.Errorf("%w: fuji sample code out of range", ErrBadParams)
	}

	if code&1 != 0 {
		code = -1 - code/2
	} else {
		code /= 2
	}

	grads[gradient].value1 += absInt(code)
	if grads[gradient].value2 == ci.minValue {
		grads[gradient].value1 >>= 1
		grads[gradient].value2 >>= 1
	}
	grads[gradient].value2++

	if grad < 0 {
		interpVal -= code
	} else {
		interpVal += code
	}

	if interpVal < 0 {
		interpVal += ci.totalValues
	} else if interpVal > ci.qPoint[4] {
		interpVal -= ci.totalValues
	}
	if interpVal >= 0 {
		if interpVal > ci.qPoint[4] {
			interpVal = ci.qPoint[4]
		}
		blk.lineAll[abs] = uint16(interpVal)
	} else {
		blk.lineAll[abs] = 0
	}
	return nil
}

func (d *Fuji) fujiDecodeSampleEven(blk *fujiBlock, lineIdx int, pos *int, grads *[41]fujiIntPair) error {
	abs := blk.lineBase(lineIdx) + *pos
	stride := blk.lineStride

	rb := int(blk.lineAll[abs-stride])
	rc := int(blk.lineAll[abs-stride-1])
	rd := int(blk.lineAll[abs-stride+1])
	rf := int(blk.lineAll[abs-2*stride])

	grad := d.quantGradient(rb-rf, rc-rb)
	gradient := absInt(grad)
	diffRcRb := absInt(rc - rb)
	diffRfRb := absInt(rf - rb)
	diffRdRb := absInt(rd - rb)

	var interpVal int
	switch {
	case diffRcRb > diffRfRb && diffRcRb > diffRdRb:
		interpVal = rf + rd + 2*rb
	case diffRdRb > diffRcRb && diffRdRb > diffRfRb:
		interpVal = rf + rc + 2*rb
	default:
		interpVal = rd + rc + 2*rb
	}
	interpVal >>= 2

	if err := d.fujiDecodeSample(blk, abs, grads, interpVal, grad, gradient); err != nil {
		return err
	}
	*pos += 2
	return nil
}

func (d *Fuji) fujiDecodeSampleOdd(blk *fujiBlock, lineIdx int, pos *int, grads *[41]fujiIntPair) error {
	abs := blk.lineBase(lineIdx) + *pos
	stride := blk.lineStride

	ra := int(blk.lineAll[abs-1])
	rb := int(blk.lineAll[abs-stride])
	rc := int(blk.lineAll[abs-stride-1])
	rd := int(blk.lineAll[abs-stride+1])
	rg := int(blk.lineAll[abs+1])

	grad := d.quantGradient(rb-rc, rc-ra)
	gradient := absInt(grad)

	var interpVal int
	if (rb > rc && rb > rd) || (rb < rc && rb < rd) {
		interpVal = (rg + ra + 2*rb) >> 2
	} else {
		interpVal = (ra + rg) >> 1
	}

	if err := d.fujiDecodeSample(blk, abs, grads, interpVal, grad, gradient); err != nil {
		return err
	}
	*pos += 2
	return nil
}

// fujiDecodeInterpolationEven writes the even-phase prediction directly,
// consuming no bits; used where the CFA layout makes the sample fully
// determined by its neighborhood.
func (d *Fuji) fujiDecodeInterpolationEven(blk *fujiBlock, lineIdx int, pos *int) {
	abs := blk.lineBase(lineIdx) + *pos
	stride := blk.lineStride

	rb := int(blk.lineAll[abs-stride])
	rc := int(blk.lineAll[abs-stride-1])
	rd := int(blk.lineAll[abs-stride+1])
	rf := int(blk.lineAll[abs-2*stride])
	diffRcRb := absInt(rc - rb)
	diffRfRb := absInt(rf - rb)
	diffRdRb := absInt(rd - rb)

	switch {
	case diffRcRb > diffRfRb && diffRcRb > diffRdRb:
		blk.lineAll[abs] = uint16((rf + rd + 2*rb) >> 2)
	case diffRdRb > diffRcRb && diffRdRb > diffRfRb:
		blk.lineAll[abs] = uint16((rf + rc + 2*rb) >> 2)
	default:
		blk.lineAll[abs] = uint16((rd + rc + 2*rb) >> 2)
	}
	*pos += 2
}

func fujiExtendGeneric(blk *fujiBlock, lineWidth, start, end int) {
	for i := start; i <= end; i++ {
		blk.line(i)[0] = blk.line(i - 1)[1]
		blk.line(i)[lineWidth+1] = blk.line(i - 1)[lineWidth]
	}
}

func fujiExtendRed(blk *fujiBlock, lineWidth int) {
	fujiExtendGeneric(blk, lineWidth, fujiR2, fujiR4)
}

func fujiExtendGreen(blk *fujiBlock, lineWidth int) {
	fujiExtendGeneric(blk, lineWidth, fujiG2, fujiG7)
}

func fujiExtendBlue(blk *fujiBlock, lineWidth int) {
	fujiExtendGeneric(blk, lineWidth, fujiB2, fujiB4)
}

// fujiColorPos tracks the even and odd sample cursors within one line
// buffer; the odd pass starts one slot in and trails the even pass by a
// few samples so its right-hand neighbor is always decoded.
type fujiColorPos struct{ even, odd int }

func (c *fujiColorPos) reset() { c.even, c.odd = 0, 1 }

// xtransDecodeBlock decodes one 6-row line of an X-Trans strip: six
// passes over color-pairs, where the X-Trans layout makes some even
// samples pure interpolation and the rest coded.
func (d *Fuji) xtransDecodeBlock(blk *fujiBlock) error {
	lw := d.params.lineWidth
	var r, g, b fujiColorPos
	r.reset()
	g.reset()
	b.reset()

	pass := func(evenFunc func(c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error,
		c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error {
		for g.even < lw || g.odd < lw {
			if g.even < lw {
				if err := evenFunc(c0, c1, grad, c0Pos, c1Pos); err != nil {
					return err
				}
			}
			if g.even > 8 {
				if err := d.fujiDecodeSampleOdd(blk, c0, &c0Pos.odd, &blk.gradOdd[grad]); err != nil {
					return err
				}
				if err := d.fujiDecodeSampleOdd(blk, c1, &c1Pos.odd, &blk.gradOdd[grad]); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := pass(func(c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error {
		d.fujiDecodeInterpolationEven(blk, c0, &c0Pos.even)
		return d.fujiDecodeSampleEven(blk, c1, &c1Pos.even, &blk.gradEven[grad])
	}, fujiR2, fujiG2, 0, &r, &g); err != nil {
		return err
	}
	fujiExtendRed(blk, lw)
	fujiExtendGreen(blk, lw)
	g.reset()

	if err := pass(func(c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error {
		if err := d.fujiDecodeSampleEven(blk, c0, &c0Pos.even, &blk.gradEven[grad]); err != nil {
			return err
		}
		d.fujiDecodeInterpolationEven(blk, c1, &c1Pos.even)
		return nil
	}, fujiG3, fujiB2, 1, &g, &b); err != nil {
		return err
	}
	fujiExtendGreen(blk, lw)
	fujiExtendBlue(blk, lw)
	r.reset()
	g.reset()

	if err := pass(func(c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error {
		if c0Pos.even&3 != 0 {
			if err := d.fujiDecodeSampleEven(blk, c0, &c0Pos.even, &blk.gradEven[grad]); err != nil {
				return err
			}
		} else {
			d.fujiDecodeInterpolationEven(blk, c0, &c0Pos.even)
		}
		d.fujiDecodeInterpolationEven(blk, c1, &c1Pos.even)
		return nil
	}, fujiR3, fujiG4, 2, &r, &g); err != nil {
		return err
	}
	fujiExtendRed(blk, lw)
	fujiExtendGreen(blk, lw)
	g.reset()
	b.reset()

	if err := pass(func(c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error {
		if err := d.fujiDecodeSampleEven(blk, c0, &c0Pos.even, &blk.gradEven[grad]); err != nil {
			return err
		}
		if c1Pos.even&3 == 2 {
			d.fujiDecodeInterpolationEven(blk, c1, &c1Pos.even)
			return nil
		}
		return d.fujiDecodeSampleEven(blk, c1, &c1Pos.even, &blk.gradEven[grad])
	}, fujiG5, fujiB3, 0, &g, &b); err != nil {
		return err
	}
	fujiExtendGreen(blk, lw)
	fujiExtendBlue(blk, lw)
	r.reset()
	g.reset()

	if err := pass(func(c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error {
		if c0Pos.even&3 == 2 {
			d.fujiDecodeInterpolationEven(blk, c0, &c0Pos.even)
		} else if err := d.fujiDecodeSampleEven(blk, c0, &c0Pos.even, &blk.gradEven[grad]); err != nil {
			return err
		}
		return d.fujiDecodeSampleEven(blk, c1, &c1Pos.even, &blk.gradEven[grad])
	}, fujiR4, fujiG6, 1, &r, &g); err != nil {
		return err
	}
	fujiExtendRed(blk, lw)
	fujiExtendGreen(blk, lw)
	g.reset()
	b.reset()

	if err := pass(func(c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error {
		d.fujiDecodeInterpolationEven(blk, c0, &c0Pos.even)
		if c1Pos.even&3 != 0 {
			return d.fujiDecodeSampleEven(blk, c1, &c1Pos.even, &blk.gradEven[grad])
		}
		d.fujiDecodeInterpolationEven(blk, c1, &c1Pos.even)
		return nil
	}, fujiG7, fujiB4, 2, &g, &b); err != nil {
		return err
	}
	fujiExtendGreen(blk, lw)
	fujiExtendBlue(blk, lw)
	return nil
}

// fujiBayerDecodeBlock is the Bayer variant: every sample is coded, six
// passes over the same color-pair schedule.
func (d *Fuji) fujiBayerDecodeBlock(blk *fujiBlock) error {
	lw := d.params.lineWidth
	var r, g, b fujiColorPos
	r.reset()
	g.reset()
	b.reset()

	pass := func(c0, c1, grad int, c0Pos, c1Pos *fujiColorPos) error {
		for g.even < lw || g.odd < lw {
			if g.even < lw {
				if err := d.fujiDecodeSampleEven(blk, c0, &c0Pos.even, &blk.gradEven[grad]); err != nil {
					return err
				}
				if err := d.fujiDecodeSampleEven(blk, c1, &c1Pos.even, &blk.gradEven[grad]); err != nil {
					return err
				}
			}
			if g.even > 8 {
				if err := d.fujiDecodeSampleOdd(blk, c0, &c0Pos.odd, &blk.gradOdd[grad]); err != nil {
					return err
				}
				if err := d.fujiDecodeSampleOdd(blk, c1, &c1Pos.odd, &blk.gradOdd[grad]); err != nil {
					return err
				}
			}
		}
		return nil
	}

	passRG := func(c0, c1, grad int) error {
		if err := pass(c0, c1, grad, &r, &g); err != nil {
			return err
		}
		fujiExtendRed(blk, lw)
		fujiExtendGreen(blk, lw)
		return nil
	}
	passGB := func(c0, c1, grad int) error {
		if err := pass(c0, c1, grad, &g, &b); err != nil {
			return err
		}
		fujiExtendGreen(blk, lw)
		fujiExtendBlue(blk, lw)
		return nil
	}

	if err := passRG(fujiR2, fujiG2, 0); err != nil {
		return err
	}
	g.reset()
	if err := passGB(fujiG3, fujiB2, 1); err != nil {
		return err
	}
	r.reset()
	g.reset()
	if err := passRG(fujiR3, fujiG4, 2); err != nil {
		return err
	}
	g.reset()
	b.reset()
	if err := passGB(fujiG5, fujiB3, 0); err != nil {
		return err
	}
	r.reset()
	g.reset()
	if err := passRG(fujiR4, fujiG6, 1); err != nil {
		return err
	}
	g.reset()
	b.reset()
	return passGB(fujiG7, fujiB4, 2)
}

// copyLine moves the just-decoded 6-row line from the rolling buffers
// into the output raster, mapping each output pixel to its line buffer
// slot through idx (which differs between X-Trans and Bayer).
func (d *Fuji) copyLine(img *rawimage.Image, blk *fujiBlock, strip fujiStrip, curLine int, idx func(pixel int) int) error {
	h := d.header
	var lineBufR, lineBufB [3][]uint16
	var lineBufG [6][]uint16
	for i := 0; i < 3; i++ {
		lineBufR[i] = blk.line(fujiR2 + i)[1:]
		lineBufB[i] = blk.line(fujiB2 + i)[1:]
	}
	for i := 0; i < 6; i++ {
		lineBufG[i] = blk.line(fujiG2 + i)[1:]
	}

	for rowCount := 0; rowCount < fujiLineHeight; rowCount++ {
		outY := fujiLineHeight*curLine + rowCount
		row, err := img.RowUncropped(outY)
		if err != nil {
			return err
		}
		for pixel := 0; pixel < strip.width(h); pixel++ {
			var lineBuf []uint16
			switch d.cfa[rowCount][pixel%6] {
			case camera.Red:
				lineBuf = lineBufR[rowCount>>1]
			case camera.Green:
				lineBuf = lineBufG[rowCount]
			case camera.Blue:
				lineBuf = lineBufB[rowCount>>1]
			}
			rowSetU16(row, strip.offsetX(h)+pixel, lineBuf[idx(pixel)])
		}
	}
	return nil
}

func (d *Fuji) copyLineToXtrans(img *rawimage.Image, blk *fujiBlock, strip fujiStrip, curLine int) error {
	return d.copyLine(img, blk, strip, curLine, func(pixel int) int {
		return ((pixel*2/3)&0x7FFFFFFE | (pixel % 3 & 1)) + ((pixel % 3) >> 1)
	})
}

func (d *Fuji) copyLineToBayer(img *rawimage.Image, blk *fujiBlock, strip fujiStrip, curLine int) error {
	return d.copyLine(img, blk, strip, curLine, func(pixel int) int {
		return pixel >> 1
	})
}

func (d *Fuji) decodeStrip(img *rawimage.Image, blk *fujiBlock, strip fujiStrip) error {
	lw := d.params.lineWidth

	mtable := [6][2]int{
		{fujiR0, fujiR3}, {fujiR1, fujiR4}, {fujiG0, fujiG6},
		{fujiG1, fujiG7}, {fujiB0, fujiB3}, {fujiB1, fujiB4},
	}
	ztable := [3][2]int{{fujiR2, 3}, {fujiG2, 6}, {fujiB2, 3}}

	for curLine := 0; curLine < int(d.header.TotalLines); curLine++ {
		var err error
		if d.header.RawType == 16 {
			err = d.xtransDecodeBlock(blk)
		} else {
			err = d.fujiBayerDecodeBlock(blk)
		}
		if err != nil {
			return err
		}

		// Roll the bottom rows of the 6-line window up to become next
		// line's "two rows above" context.
		for _, m := range mtable {
			copy(blk.line(m[0]), blk.line(m[1]))
		}

		if d.header.RawType == 16 {
			err = d.copyLineToXtrans(img, blk, strip, curLine)
		} else {
			err = d.copyLineToBayer(img, blk, strip, curLine)
		}
		if err != nil {
			return err
		}

		for _, z := range ztable {
			for i := z[0]; i < z[0]+z[1]; i++ {
				line := blk.line(i)
				for j := range line {
					line[j] = 0
				}
			}
			blk.line(z[0])[0] = blk.line(z[0] - 1)[1]
			blk.line(z[0])[lw+1] = blk.line(z[0] - 1)[lw]
		}
	}
	return nil
}

// Decompress decodes every strip, strips in parallel, each with private
// rolling state. A strip that fails logs its error and leaves the rest of
// its region unwritten (lines decoded before the failure are already
// copied out); any error fails the image as a whole afterward.
func (d *Fuji) Decompress(img *rawimage.Image) error {
	params := d.params
	parallelFor(len(d.strips), func(i int) {
		strip := d.strips[i]
		// Pad the strip so the pump's fixed-size refills never run dry
		// mid-sample at the tail of the stream.
		padded := pool.GetZeroed(len(strip.data) + 16)
		defer pool.Put(padded)
		copy(padded, strip.data)

		var blk fujiBlock
		blk.reset(&params)
		blk.pump = bitio.NewMSBPump(bitio.NewStream(bitio.NewBuffer(padded, bitio.BigEndian)))
		if err := d.decodeStrip(img, &blk, strip); err != nil {
			img.SetError(fmt.Sprintf("strip %d: %v", strip.n, err))
		}
	})
	if first, bad := img.IsTooManyErrors(1); bad {
		return fmt.Errorf("%w: %s", ErrUnsupported, first)
	}
	return nil
}
