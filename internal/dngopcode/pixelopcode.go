package dngopcode

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// pixelOpcode is the shared preamble (region of interest, affected plane
// range, sampling pitch) carried by every opcode that walks a subsampled
// grid of pixels: TableMap, PolynomialMap, and the per-row/per-column
// delta and scale opcodes.
type pixelOpcode struct {
	roi                         Rectangle
	firstPlane, planes          int
	rowPitch, colPitch          int
}

func newPixelOpcode(img *rawimage.Image, bs *bitio.Stream, subImage Rectangle) (pixelOpcode, error) {
	roi, err := readROI(bs, subImage)
	if err != nil {
		return pixelOpcode{}, err
	}

	firstPlane, err := bs.GetU32()
	if err != nil {
		return pixelOpcode{}, fmt.Errorf("%w: truncated plane params", ErrBadOpcode)
	}
	planes, err := bs.GetU32()
	if err != nil {
		return pixelOpcode{}, fmt.Errorf("%w: truncated plane params", ErrBadOpcode)
	}
	cpp := uint32(img.Cpp())
	if planes == 0 || firstPlane > cpp || planes > cpp || firstPlane+planes > cpp {
		return pixelOpcode{}, fmt.Errorf("%w: bad plane params (first %d, num %d), cpp = %d",
			ErrBadOpcode, firstPlane, planes, cpp)
	}

	rowPitch, err := bs.GetU32()
	if err != nil {
		return pixelOpcode{}, fmt.Errorf("%w: truncated pitch", ErrBadOpcode)
	}
	colPitch, err := bs.GetU32()
	if err != nil {
		return pixelOpcode{}, fmt.Errorf("%w: truncated pitch", ErrBadOpcode)
	}
	if rowPitch < 1 || int(rowPitch) > roi.Height() || colPitch < 1 || int(colPitch) > roi.Width() {
		return pixelOpcode{}, fmt.Errorf("%w: invalid pitch (%d, %d)", ErrBadOpcode, rowPitch, colPitch)
	}

	return pixelOpcode{
		roi:        roi,
		firstPlane: int(firstPlane),
		planes:     int(planes),
		rowPitch:   int(rowPitch),
		colPitch:   int(colPitch),
	}, nil
}

func roundUpDiv(a, b int) int {
	return (a + b - 1) / b
}

// applyU16 traverses the opcode's subsampled grid (every rowPitch'th row,
// every colPitch'th column, within the ROI, across the affected plane
// range) and replaces each uint16 component v with op(x, y, v), where x
// and y are indices into the subsampled grid, not pixel coordinates.
func (p pixelOpcode) applyU16(img *rawimage.Image, op func(x, y int, v uint16) uint16) {
	numX := roundUpDiv(p.roi.Width(), p.colPitch)
	numY := roundUpDiv(p.roi.Height(), p.rowPitch)
	for y := 0; y < numY; y++ {
		py := p.roi.Top + p.rowPitch*y
		for x := 0; x < numX; x++ {
			px := p.roi.Left + p.colPitch*x
			for plane := 0; plane < p.planes; plane++ {
				c := p.firstPlane + plane
				v := img.GetU16(px, py, c)
				img.SetU16(px, py, c, op(x, y, v))
			}
		}
	}
}

// applyF32 is applyU16's float32 counterpart, used by the images the DNG
// opcode engine treats as floating point.
func (p pixelOpcode) applyF32(img *rawimage.Image, op func(x, y int, v float32) float32) {
	numX := roundUpDiv(p.roi.Width(), p.colPitch)
	numY := roundUpDiv(p.roi.Height(), p.rowPitch)
	for y := 0; y < numY; y++ {
		py := p.roi.Top + p.rowPitch*y
		for x := 0; x < numX; x++ {
			px := p.roi.Left + p.colPitch*x
			for plane := 0; plane < p.planes; plane++ {
				c := p.firstPlane + plane
				v := img.GetF32(px, py, c)
				img.SetF32(px, py, c, op(x, y, v))
			}
		}
	}
}

// axis picks which of the subsampled grid's two indices a per-row or
// per-column opcode varies over.
type axis int

const (
	axisRow axis = iota // index varies with y (DeltaPerRow, ScalePerRow)
	axisCol             // index varies with x (DeltaPerColumn, ScalePerColumn)
)

func (a axis) index(x, y int) int {
	if a == axisRow {
		return y
	}
	return x
}

func (a axis) expectedCount(roi Rectangle, rowPitch, colPitch int) int {
	if a == axisRow {
		return roundUpDiv(roi.Height(), rowPitch)
	}
	return roundUpDiv(roi.Width(), colPitch)
}
