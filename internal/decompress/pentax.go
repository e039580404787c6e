package decompress

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// pentaxTree is the fixed Huffman code PEF files use when the maker
// note carries no custom table, in the same counts-then-values layout
// as the Nikon trees.
var pentaxTree = [32]byte{
	0, 2, 3, 1, 1, 1, 1, 1, 1, 2, 0, 0, 0, 0, 0, 0,
	3, 4, 2, 5, 1, 6, 0, 7, 8, 9, 10, 11, 12,
}

// Pentax decodes compressed PEF data: the same two-vertical-predictor
// differential scheme as compressed NEF, but always 12-bit, without a
// linearization curve or a split row.
type Pentax struct {
	in *bitio.Stream
}

// NewPentax wraps in, positioned at the first compressed byte.
func NewPentax(img *rawimage.Image, in *bitio.Stream) (*Pentax, error) {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return nil, fmt.Errorf("%w: pentax requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	if dim.X == 0 || dim.Y == 0 || dim.X%2 != 0 || dim.X > 8384 || dim.Y > 6208 {
		return nil, fmt.Errorf("%w: unexpected pentax dimensions %dx%d", ErrBadParams, dim.X, dim.Y)
	}
	return &Pentax{in: in}, nil
}

func (d *Pentax) Decompress(img *rawimage.Image) error {
	dim := img.UncroppedDim()
	w, h := dim.X, dim.Y

	ht := buildNikonHuff(pentaxTree)
	pump := bitio.NewMSBPump(d.in)

	var vPred [2][2]int
	var hPred [2]int

	for y := 0; y < h; y++ {
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
				vPred[y&1][x] += diff
				hPred[x] = vPred[y&1][x]
			} else {
				hPred[x&1] += diff
			}
			if hPred[x&1]>>12 != 0 || hPred[x&1] < 0 {
				return fmt.Errorf("%w: pentax decoded value out of bounds at (%d, %d)", ErrBadParams, x, y)
			}
			rowSetU16(row, x, uint16(hPred[x&1]))
		}
	}
	return nil
}
