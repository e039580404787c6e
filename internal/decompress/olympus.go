package decompress

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/pool"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// olympusBitTable maps a 12-bit lookahead to the position of its first
// set bit, capped at 12 — the "high" part of an ORF difference code.
var olympusBitTable = func() [4096]int8 {
	var t [4096]int8
	for i := range t {
		high := 0
		for high < 12 && (i>>(uint(11-high)))&1 == 0 {
			high++
		}
		t[i] = int8(high)
	}
	return t
}()

// Olympus decodes compressed ORF data: one pair of adaptive carry state
// machines (one per column parity), each carrying a magnitude estimate
// that the next code's unary prefix is measured against, feeding a
// median-style edge-aware predictor.
type Olympus struct {
	in *bitio.Stream
}

// NewOlympus wraps in, which must be positioned at the start of the
// compressed data (the 7-byte preamble is consumed by Decompress).
func NewOlympus(img *rawimage.Image, in *bitio.Stream) (*Olympus, error) {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return nil, fmt.Errorf("%w: olympus requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	if dim.X == 0 || dim.Y == 0 || dim.X%2 != 0 || dim.X > 10400 || dim.Y > 7796 {
		return nil, fmt.Errorf("%w: unexpected olympus dimensions %dx%d", ErrBadParams, dim.X, dim.Y)
	}
	return &Olympus{in: in}, nil
}

// parseCarry decodes one difference against the given carry state. The
// code is a 15-bit window: sign, two low bits, and a unary "high" count,
// followed by however many magnitude bits the carry state predicts.
func (d *Olympus) parseCarry(pump *bitio.MSBPump, carry *[3]int) (int, error) {
	if err := pump.Fill(32); err != nil {
		return 0, err
	}
	i := 0
	if carry[2] < 3 {
		i = 2
	}
	nbits := 2 + i
	for uint16(carry[0])>>(uint(nbits+i)) != 0 {
		nbits++
	}

	b := int(pump.PeekBits(15))
	sign := (b >> 14) * -1
	low := (b >> 12) & 3
	high := int(olympusBitTable[b&4095])

	if high == 12 {
		pump.SkipBitsNoFill(15)
		v, err := pump.GetBits(16 - nbits)
		if err != nil {
			return 0, err
		}
		high = int(v) >> 1
	} else {
		pump.SkipBitsNoFill(high + 1 + 3)
	}

	v, err := pump.GetBits(nbits)
	if err != nil {
		return 0, err
	}
	carry[0] = high<<uint(nbits) | int(v)
	diff := (carry[0] ^ sign) + carry[1]
	carry[1] = (diff*3 + carry[1]) >> 5
	if carry[0] > 16 {
		carry[2] = 0
	} else {
		carry[2]++
	}

	return (diff * 4) | low, nil
}

// olympusPred picks the predictor for (row, x): zero in the top-left
// corner, the left or up neighbor along the edges, and an edge-aware
// blend of left/up/up-left in the interior.
func olympusPred(row, x int, dest []uint16, up []uint16) int {
	switch {
	case row < 2 && x < 2:
		return 0
	case row < 2:
		return int(dest[x-2])
	case x < 2:
		return int(up[x])
	}
	left := int(dest[x-2])
	upc := int(up[x])
	leftUp := int(up[x-2])

	leftMinusNw := left - leftUp
	upMinusNw := upc - leftUp

	if leftMinusNw*upMinusNw < 0 {
		if absInt(leftMinusNw) > 32 || absInt(upMinusNw) > 32 {
			return left + upMinusNw
		}
		return (left + upc) >> 1
	}
	if absInt(leftMinusNw) > absInt(upMinusNw) {
		return left
	}
	return upc
}

func (d *Olympus) decompressRow(pump *bitio.MSBPump, rows [][]uint16, row int) error {
	acarry := [2][3]int{}
	dest := rows[row]
	// Predictors reach two rows up, to the previous row of the same CFA
	// color.
	var up []uint16
	if row > 1 {
		up = rows[row-2]
	} else {
		up = rows[0]
	}

	w := len(dest)
	for x := 0; x < w; x++ {
		c := x & 1
		diff, err := d.parseCarry(pump, &acarry[c])
		if err != nil {
			return err
		}
		pred := olympusPred(row, x, dest, up)
		dest[x] = uint16(pred + diff)
	}
	return nil
}

// Decompress consumes the 7-byte preamble then decodes the raster
// row-major with a single shared pump; rows depend on their predecessor,
// so this decoder is inherently sequential.
func (d *Olympus) Decompress(img *rawimage.Image) error {
	if err := d.in.Skip(7); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	dim := img.UncroppedDim()

	// Decode into a dense scratch raster first: the predictor reads its
	// up-neighbors as uint16 lanes, which is cheaper against a []uint16
	// than against the padded byte rows of the image.
	rows := make([][]uint16, dim.Y)
	backing := make([]uint16, dim.X*dim.Y)
	for y := range rows {
		rows[y] = backing[y*dim.X : (y+1)*dim.X]
	}

	// Pad so the pump's 4-byte refills never fail mid-code at the tail.
	data, err := d.in.GetBytes(d.in.Remaining())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	padded := pool.GetZeroed(len(data) + 16)
	defer pool.Put(padded)
	copy(padded, data)
	pump := bitio.NewMSBPump(bitio.NewStream(bitio.NewBuffer(padded, bitio.BigEndian)))

	for y := 0; y < dim.Y; y++ {
		if err := d.decompressRow(pump, rows, y); err != nil {
			return fmt.Errorf("%w: row %d: %v", ErrTruncated, y, err)
		}
	}

	for y := 0; y < dim.Y; y++ {
		row, err := img.RowUncropped(y)
		if err != nil {
			return err
		}
		for x := 0; x < dim.X; x++ {
			rowSetU16(row, x, rows[y][x])
		}
	}
	return nil
}
