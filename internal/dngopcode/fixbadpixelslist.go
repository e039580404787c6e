package dngopcode

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// fixBadPixelsList flags an explicit list of points and rectangles as bad
// pixels. Coordinates in this opcode are crop-independent: they address
// the uncropped source image directly.
type fixBadPixelsList struct {
	positions []struct{ x, y uint32 }
}

func newFixBadPixelsList(img *rawimage.Image, bs *bitio.Stream) (*fixBadPixelsList, error) {
	uncropped := img.UncroppedDim()
	fullImage := Rectangle{Top: 0, Left: 0, Bottom: uncropped.Y, Right: uncropped.X}

	if _, err := bs.GetU32(); err != nil { // phase, unused
		return nil, fmt.Errorf("%w: truncated FixBadPixelsList", ErrBadOpcode)
	}
	pointCount, err := bs.GetU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated FixBadPixelsList", ErrBadOpcode)
	}
	rectCount, err := bs.GetU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated FixBadPixelsList", ErrBadOpcode)
	}

	op := &fixBadPixelsList{}

	for i := uint32(0); i < pointCount; i++ {
		y, err := bs.GetU32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated bad point list", ErrBadOpcode)
		}
		x, err := bs.GetU32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated bad point list", ErrBadOpcode)
		}
		if int(x) >= fullImage.Right || int(y) >= fullImage.Bottom {
			return nil, fmt.Errorf("%w: bad point (%d,%d) not inside image", ErrBadOpcode, x, y)
		}
		op.positions = append(op.positions, struct{ x, y uint32 }{x, y})
	}

	for i := uint32(0); i < rectCount; i++ {
		rect, err := readROI(bs, fullImage)
		if err != nil {
			return nil, err
		}
		for y := rect.Top; y < rect.Bottom; y++ {
			for x := rect.Left; x < rect.Right; x++ {
				op.positions = append(op.positions, struct{ x, y uint32 }{uint32(x), uint32(y)})
			}
		}
	}

	return op, nil
}

func (op *fixBadPixelsList) Setup(img *rawimage.Image) error { return nil }

func (op *fixBadPixelsList) Apply(img *rawimage.Image) error {
	for _, p := range op.positions {
		img.AddBadPixel(p.x, p.y)
	}
	return nil
}
