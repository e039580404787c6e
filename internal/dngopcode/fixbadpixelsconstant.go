package dngopcode

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// fixBadPixelsConstant flags every pixel equal to a fixed value as a bad
// pixel, to be interpolated later by rawimage.Image.FixBadPixels.
type fixBadPixelsConstant struct {
	value uint16
}

func newFixBadPixelsConstant(img *rawimage.Image, bs *bitio.Stream) (*fixBadPixelsConstant, error) {
	value, err := bs.GetU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated FixBadPixelsConstant", ErrBadOpcode)
	}
	if _, err := bs.GetU32(); err != nil { // Bayer phase, unused
		return nil, fmt.Errorf("%w: truncated FixBadPixelsConstant", ErrBadOpcode)
	}
	return &fixBadPixelsConstant{value: uint16(value)}, nil
}

func (op *fixBadPixelsConstant) Setup(img *rawimage.Image) error {
	if img.Type != rawimage.U16 {
		return fmt.Errorf("%w: FixBadPixelsConstant only supports 16-bit images", ErrBadOpcode)
	}
	if img.Cpp() > 1 {
		return fmt.Errorf("%w: FixBadPixelsConstant only supports 1-component images", ErrBadOpcode)
	}
	return nil
}

func (op *fixBadPixelsConstant) Apply(img *rawimage.Image) error {
	dim := img.Dim()
	offset := img.CropOffset()
	for row := 0; row < dim.Y; row++ {
		for col := 0; col < dim.X; col++ {
			if img.GetU16(col, row, 0) == op.value {
				img.AddBadPixel(uint32(offset.X+col), uint32(offset.Y+row))
			}
		}
	}
	return nil
}
