package dngopcode

import (
	"fmt"
	"math"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

const maxPolynomialDegree = 8

// polynomialMap behaves like tableMap, but its lookup curve is computed
// from a polynomial of up to degree 8, evaluated at each of the 65536
// possible 16-bit inputs once, at parse time.
type polynomialMap struct {
	pixelOpcode
	lookup [65536]uint16
}

func newPolynomialMap(img *rawimage.Image, bs *bitio.Stream, subImage Rectangle) (*polynomialMap, error) {
	base, err := newPixelOpcode(img, bs, subImage)
	if err != nil {
		return nil, err
	}

	degree, err := bs.GetU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated MapPolynomial", ErrBadOpcode)
	}
	count := degree + 1
	if count > maxPolynomialDegree+1 {
		return nil, fmt.Errorf("%w: polynomial with more than %d degrees not allowed", ErrBadOpcode, maxPolynomialDegree)
	}

	coeff := make([]float64, count)
	for i := range coeff {
		v, err := bs.GetFloat64()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated MapPolynomial coefficients", ErrBadOpcode)
		}
		coeff[i] = v
	}

	op := &polynomialMap{pixelOpcode: base}
	for i := 0; i < len(op.lookup); i++ {
		val := coeff[0]
		x := float64(i) / 65536.0
		xp := 1.0
		for j := 1; j < len(coeff); j++ {
			xp *= x
			val += coeff[j] * xp
		}
		scaled := val * 65535.5
		if scaled < 0 {
			scaled = 0
		}
		if scaled > 65535 {
			scaled = 65535
		}
		op.lookup[i] = uint16(math.Trunc(scaled))
	}
	return op, nil
}

func (op *polynomialMap) Setup(img *rawimage.Image) error {
	if img.Type != rawimage.U16 {
		return fmt.Errorf("%w: MapPolynomial only supports 16-bit images", ErrBadOpcode)
	}
	return nil
}

func (op *polynomialMap) Apply(img *rawimage.Image) error {
	op.applyU16(img, func(x, y int, v uint16) uint16 {
		return op.lookup[v]
	})
	return nil
}
