package dngopcode

import (
	"math"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// scalePerRowOrCol is ScalePerRow (opcode 12) / ScalePerColumn (opcode
// 13): it multiplies every affected sample by a per-row or per-column
// factor.
type scalePerRowOrCol struct {
	deltaRowOrCol
}

const (
	scaleF2IScale  = 1024.0
	scaleRounding  = 512
	scaleFracBits  = 10
)

func newScalePerRowOrCol(img *rawimage.Image, bs *bitio.Stream, subImage Rectangle, ax axis) (*scalePerRowOrCol, error) {
	base, err := newDeltaRowOrCol(img, bs, subImage, ax, scaleF2IScale)
	if err != nil {
		return nil, err
	}
	return &scalePerRowOrCol{deltaRowOrCol: base}, nil
}

func (op *scalePerRowOrCol) Setup(img *rawimage.Image) error {
	if img.Type != rawimage.U16 {
		return nil
	}
	maxLimit := (float64(math.MaxInt32-scaleRounding) / float64(math.MaxUint16)) / float64(op.f2iScale)
	return op.setupIntegerCopy(func(v float32) bool {
		return v >= 0 && float64(v) <= maxLimit
	})
}

func (op *scalePerRowOrCol) Apply(img *rawimage.Image) error {
	if img.Type == rawimage.U16 {
		op.applyU16(img, func(x, y int, v uint16) uint16 {
			scale := op.deltaI[op.axis.index(x, y)]
			return clampBits((scale*int(v)+scaleRounding)>>scaleFracBits, 16)
		})
		return nil
	}
	op.applyF32(img, func(x, y int, v float32) float32 {
		return op.deltaF[op.axis.index(x, y)] * v
	})
	return nil
}
