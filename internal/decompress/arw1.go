package decompress

import (
	"encoding/binary"
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// Arw1 decodes the original Sony ARW1 raw format: a column-major
// differential code where each sample's delta from the previous sample
// in decode order is itself Huffman-ish coded as a variable-length
// unary prefix (the code length) followed by that many sign-extended
// magnitude bits.
type Arw1 struct {
	in *bitio.Stream
}

// NewArw1 wraps in, which must be positioned at the start of the
// compressed column data.
func NewArw1(in *bitio.Stream) *Arw1 {
	return &Arw1{in: in}
}

// extend sign-extends a JPEG-style magnitude-coded difference: a value
// with its top bit clear represents a negative number in the coded
// range for its bit width.
func extend(diff, length int) int {
	if length != 0 && diff < (1<<uint(length-1)) {
		diff -= (1 << uint(length)) - 1
	}
	return diff
}

func (d *Arw1) getDiff(pump bitio.Pump, length int) (int, error) {
	if length == 0 {
		return 0, nil
	}
	v, err := pump.GetBits(length)
	if err != nil {
		return 0, err
	}
	return extend(int(v), length), nil
}

func (d *Arw1) Decompress(img *rawimage.Image) error {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return fmt.Errorf("%w: arw1 requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	w, h := dim.X, dim.Y
	if w == 0 || h == 0 || h%2 != 0 || w > 4600 || h > 3072 {
		return fmt.Errorf("%w: unexpected arw1 dimensions %dx%d", ErrBadParams, w, h)
	}

	pump := bitio.NewMSBPump(d.in)
	data := img.Data()
	pitch := img.Pitch()
	sum := 0

	for x := w - 1; x >= 0; x-- {
		for y := 0; y < h+1; y += 2 {
			if y == h {
				y = 1
			}

			lenBits, err := pump.GetBits(2)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			length := 4 - int(lenBits)

			if length == 3 {
				b, err := pump.GetBits(1)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
				if b != 0 {
					length = 0
				}
			}

			if length == 4 {
				for length < 17 {
					b, err := pump.GetBits(1)
					if err != nil {
						return fmt.Errorf("%w: %v", ErrTruncated, err)
					}
					if b != 0 {
						break
					}
					length++
				}
			}

			diff, err := d.getDiff(pump, length)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			sum += diff

			if sum < 0 || (sum>>12) > 0 {
				return fmt.Errorf("%w: arw1 prediction sum out of range", ErrBadParams)
			}

			if y < h {
				off := y*pitch + x*2
				binary.LittleEndian.PutUint16(data[off:off+2], uint16(sum))
			}
		}
	}
	return nil
}
