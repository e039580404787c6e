package dngopcode

import (
	"math"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// offsetPerRowOrCol is DeltaPerRow (opcode 10) / DeltaPerColumn (opcode
// 11): it adds a per-row or per-column offset, expressed as a fraction of
// the full 16-bit range, to every affected sample.
type offsetPerRowOrCol struct {
	deltaRowOrCol
}

const offsetF2IScale = 65535.0

func newOffsetPerRowOrCol(img *rawimage.Image, bs *bitio.Stream, subImage Rectangle, ax axis) (*offsetPerRowOrCol, error) {
	base, err := newDeltaRowOrCol(img, bs, subImage, ax, offsetF2IScale)
	if err != nil {
		return nil, err
	}
	return &offsetPerRowOrCol{deltaRowOrCol: base}, nil
}

func (op *offsetPerRowOrCol) Setup(img *rawimage.Image) error {
	if img.Type != rawimage.U16 {
		return nil
	}
	absLimit := float32(math.MaxUint16) / op.f2iScale
	return op.setupIntegerCopy(func(v float32) bool {
		return float32(math.Abs(float64(v))) <= absLimit
	})
}

func (op *offsetPerRowOrCol) Apply(img *rawimage.Image) error {
	if img.Type == rawimage.U16 {
		op.applyU16(img, func(x, y int, v uint16) uint16 {
			return clampBits(op.deltaI[op.axis.index(x, y)]+int(v), 16)
		})
		return nil
	}
	op.applyF32(img, func(x, y int, v float32) float32 {
		return op.deltaF[op.axis.index(x, y)] + v
	})
	return nil
}
