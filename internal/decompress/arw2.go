package decompress

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// Arw2 decodes the newer, bit-packed Sony ARW2 format: one byte per
// pixel of compressed input, unpacked 16 pixels (128 bits) at a time.
// Each group of 16 stores an explicit 11-bit min and max plus the index
// of which of the 16 pixels holds each extreme; every other pixel is a
// 7-bit value scaled by a per-group shift and offset by the min.
type Arw2 struct {
	in *bitio.Stream
}

// NewArw2 wraps in, positioned at the first compressed byte.
func NewArw2(in *bitio.Stream) *Arw2 {
	return &Arw2{in: in}
}

func (d *Arw2) Decompress(img *rawimage.Image) error {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return fmt.Errorf("%w: arw2 requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	w, h := dim.X, dim.Y
	if w <= 0 || h <= 0 || w%32 != 0 || w > 9600 || h > 6376 {
		return fmt.Errorf("%w: unexpected arw2 dimensions %dx%d", ErrBadParams, w, h)
	}

	// Rows are independent: each reads its own substream and writes its
	// own output row, so they decode in parallel.
	parallelFor(h, func(y int) {
		if err := d.decompressRow(img, y, w); err != nil {
			img.SetError(err.Error())
		}
	})
	if msg, tooMany := img.IsTooManyErrors(1); tooMany {
		return fmt.Errorf("%w: too many errors decoding arw2, first: %s", ErrBadParams, msg)
	}
	return nil
}

func (d *Arw2) decompressRow(img *rawimage.Image, row, width int) error {
	rowBs, err := d.in.Substream(row*width, width)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	pump := bitio.NewLSBPump(rowBs)
	if err := pump.Fill(24); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	random := pump.PeekBits(24)

	out, err := img.RowUncropped(row)
	if err != nil {
		return err
	}

	for col := 0; col < width; {
		hi, err := pump.GetBits(11)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		lo, err := pump.GetBits(11)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		imax, err := pump.GetBits(4)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		imin, err := pump.GetBits(4)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		if imax == imin {
			return fmt.Errorf("%w: arw2 invariant failed, same pixel is both min and max", ErrBadParams)
		}

		max_, min_ := int(hi), int(lo)
		sh := 0
		for sh < 4 && (0x80<<uint(sh)) <= max_-min_ {
			sh++
		}

		for i := 0; i < 16; i++ {
			var p int
			switch uint32(i) {
			case imax:
				p = max_
			case imin:
				p = min_
			default:
				v, err := pump.GetBits(7)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
				p = (int(v) << uint(sh)) + min_
				if p > 0x7ff {
					p = 0x7ff
				}
			}
			dst := out[(col+i*2)*2 : (col+i*2)*2+2]
			img.SetWithLookup(uint16(p<<1), dst, &random)
		}

		if col&1 != 0 {
			col += 31
		} else {
			col++
		}
	}
	return nil
}
