package dngopcode

import (
	"fmt"
	"math"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// deltaRowOrCol is the shared body of the four per-row/per-column
// correction opcodes: a float curve, one entry per affected row or
// column, plus (for 16-bit images) a pre-scaled integer copy of it so the
// per-pixel loop never touches floating point.
type deltaRowOrCol struct {
	pixelOpcode
	axis    axis
	f2iScale float32
	deltaF  []float32
	deltaI  []int
}

func newDeltaRowOrCol(img *rawimage.Image, bs *bitio.Stream, subImage Rectangle, ax axis, f2iScale float32) (deltaRowOrCol, error) {
	base, err := newPixelOpcode(img, bs, subImage)
	if err != nil {
		return deltaRowOrCol{}, err
	}

	count, err := bs.GetU32()
	if err != nil {
		return deltaRowOrCol{}, fmt.Errorf("%w: truncated delta count", ErrBadOpcode)
	}
	expected := ax.expectedCount(base.roi, base.rowPitch, base.colPitch)
	if int(count) != expected {
		return deltaRowOrCol{}, fmt.Errorf("%w: got %d elements, expected %d", ErrBadOpcode, count, expected)
	}

	deltaF := make([]float32, count)
	for i := range deltaF {
		v, err := bs.GetFloat32()
		if err != nil {
			return deltaRowOrCol{}, fmt.Errorf("%w: truncated delta values", ErrBadOpcode)
		}
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return deltaRowOrCol{}, fmt.Errorf("%w: got non-finite delta value", ErrBadOpcode)
		}
		deltaF[i] = v
	}

	return deltaRowOrCol{pixelOpcode: base, axis: ax, f2iScale: f2iScale, deltaF: deltaF, deltaI: nil}, nil
}

// setupIntegerCopy validates every delta entry against valueIsOk and
// builds the pre-scaled integer copy used for 16-bit images. Float
// images use deltaF directly and never call this.
func (d *deltaRowOrCol) setupIntegerCopy(valueIsOk func(float32) bool) error {
	d.deltaI = make([]int, len(d.deltaF))
	for i, f := range d.deltaF {
		if !valueIsOk(f) {
			return fmt.Errorf("%w: delta value %v out of range", ErrBadOpcode, f)
		}
		d.deltaI[i] = int(d.f2iScale * f)
	}
	return nil
}

func clampBits(v, bits int) uint16 {
	max := (1 << uint(bits)) - 1
	if v < 0 {
		return 0
	}
	if v > max {
		return uint16(max)
	}
	return uint16(v)
}
