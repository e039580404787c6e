// Package rawimage holds the decoded raster plus the per-image metadata
// (CFA pattern, black/white levels, bad-pixel positions) that decompressors
// populate and decoders finish assembling.
package rawimage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/darktable-org/rawspeed-go/internal/camera"
)

// PixelType selects the element type of the raster.
type PixelType int

const (
	U16 PixelType = iota
	F32
)

// pitchAlignment is the pitch rounding granularity and rowPadding the
// minimum trailing padding appended to each row, matching the margin decompressors rely on
// when they write a few bytes past the last real pixel of a row.
const (
	pitchAlignment = 16
	rowPadding     = 16
)

var (
	// ErrNotAllocated is returned by operations that require CreateData
	// to have run first.
	ErrNotAllocated = errors.New("rawimage: buffer not allocated")
	// ErrAlreadyAllocated is returned by CreateData if called twice.
	ErrAlreadyAllocated = errors.New("rawimage: buffer already allocated")
	// ErrOutOfBounds is returned by pixel accessors given coordinates
	// outside the image.
	ErrOutOfBounds = errors.New("rawimage: coordinate out of bounds")
)

// Image is the raw raster produced by a decompressor: a dense 2D array of
// cpp interleaved components of either uint16 or float32, plus the
// metadata a decoder attaches (CFA, black/white levels, bad pixels).
type Image struct {
	errorLog

	Type PixelType

	dim          Point // cropped dimensions, in pixels
	uncroppedDim Point
	offset       Point // crop offset into the uncropped buffer

	pitch   int // bytes per uncropped row
	padding int // trailing bytes after the last pixel of a row

	cpp int // components per pixel
	bpp int // bytes per component

	data []byte

	Metadata Metadata

	IsCFA       bool
	CFA         camera.CfaPattern
	BlackLevel  int
	BlackLevelSeparate [4]int
	WhitePoint  int
	BlackAreas  []camera.BlackArea
	Subsampling Point

	DitherScale bool

	table *Table

	badPixelMu        sync.Mutex
	badPixelPositions []uint32 // packed x | y<<16
	badPixelMap       []byte
	badPixelMapPitch  int
}

// NewImage allocates no pixel storage yet; call CreateData once dim and
// cpp are final.
func NewImage(t PixelType, dim Point, cpp int) *Image {
	bpp := 2
	if t == F32 {
		bpp = 4
	}
	im := &Image{
		Type:        t,
		dim:         dim,
		uncroppedDim: dim,
		cpp:         cpp,
		bpp:         bpp * cpp,
		WhitePoint:  65536,
		BlackLevel:  -1,
		DitherScale: true,
		Subsampling: Point{1, 1},
	}
	return im
}

func (im *Image) Cpp() int { return im.cpp }
func (im *Image) Bpp() int { return im.bpp }

// SetCpp changes the component count prior to allocation.
func (im *Image) SetCpp(cpp int) {
	unit := im.bpp / im.cpp
	im.cpp = cpp
	im.bpp = unit * cpp
}

func (im *Image) Dim() Point          { return im.dim }
func (im *Image) UncroppedDim() Point { return im.uncroppedDim }
func (im *Image) CropOffset() Point   { return im.offset }
func (im *Image) Pitch() int          { return im.pitch }
func (im *Image) IsAllocated() bool   { return im.data != nil }

// CreateData computes the row pitch and allocates the backing buffer for
// the uncropped image. The pitch is rounded up to a 16-byte boundary and
// given extra trailing padding so a decompressor's inner loop may write a
// few bytes past the true end of a row without touching the next one.
func (im *Image) CreateData() error {
	if im.data != nil {
		return ErrAlreadyAllocated
	}
	if im.uncroppedDim.X <= 0 || im.uncroppedDim.Y <= 0 {
		return fmt.Errorf("rawimage: invalid dimensions %dx%d", im.uncroppedDim.X, im.uncroppedDim.Y)
	}
	rowBytes := im.bpp * im.uncroppedDim.X
	im.pitch = roundUp(rowBytes, pitchAlignment) + rowPadding
	im.padding = im.pitch - rowBytes
	im.data = make([]byte, im.pitch*im.uncroppedDim.Y)
	return nil
}

func roundUp(v, mult int) int {
	if v%mult == 0 {
		return v
	}
	return v + (mult - v%mult)
}

// SubFrame narrows the cropped view to rect, expressed in the current
// cropped coordinate space, without copying any pixel data.
func (im *Image) SubFrame(rect Rectangle) error {
	full := Rectangle{Pos: Point{0, 0}, Dim: im.dim}
	if !rect.IsThisInside(full) {
		return fmt.Errorf("%w: crop %v not inside %v", ErrOutOfBounds, rect, full)
	}
	im.offset = Point{im.offset.X + rect.Pos.X, im.offset.Y + rect.Pos.Y}
	im.dim = rect.Dim
	return nil
}

// Data returns the full uncropped backing buffer.
func (im *Image) Data() []byte { return im.data }

// RowUncropped returns the byte slice for uncropped row y.
func (im *Image) RowUncropped(y int) ([]byte, error) {
	if im.data == nil {
		return nil, ErrNotAllocated
	}
	if y < 0 || y >= im.uncroppedDim.Y {
		return nil, fmt.Errorf("%w: row %d", ErrOutOfBounds, y)
	}
	start := y * im.pitch
	return im.data[start : start+im.pitch], nil
}

// Row returns the byte slice for cropped row y, starting at the cropped
// column offset.
func (im *Image) Row(y int) ([]byte, error) {
	full, err := im.RowUncropped(y + im.offset.Y)
	if err != nil {
		return nil, err
	}
	start := im.offset.X * im.bpp
	end := start + im.dim.X*im.bpp
	return full[start:end], nil
}

// PixelUncropped returns the byte slice for the single pixel at uncropped
// (x, y), of length bpp.
func (im *Image) PixelUncropped(x, y int) ([]byte, error) {
	if x < 0 || x >= im.uncroppedDim.X {
		return nil, fmt.Errorf("%w: col %d", ErrOutOfBounds, x)
	}
	row, err := im.RowUncropped(y)
	if err != nil {
		return nil, err
	}
	start := x * im.bpp
	return row[start : start+im.bpp], nil
}

// Pixel returns the byte slice for the pixel at cropped (x, y).
func (im *Image) Pixel(x, y int) ([]byte, error) {
	return im.PixelUncropped(x+im.offset.X, y+im.offset.Y)
}

// ClearArea zeroes (or fills with value) every byte of every pixel
// component inside area, given in cropped coordinates.
func (im *Image) ClearArea(area Rectangle, value byte) {
	for y := 0; y < area.Dim.Y; y++ {
		row, err := im.Row(area.Pos.Y + y)
		if err != nil {
			continue
		}
		start := area.Pos.X * im.bpp
		end := start + area.Dim.X*im.bpp
		if end > len(row) {
			end = len(row)
		}
		if start >= end {
			continue
		}
		seg := row[start:end]
		for i := range seg {
			seg[i] = value
		}
	}
}

// BlitFrom copies a size-shaped block from src at srcPos (cropped
// coordinates) into this image at destPos (cropped coordinates).
func (im *Image) BlitFrom(src *Image, srcPos, size, destPos Point) error {
	if im.bpp != src.bpp {
		return fmt.Errorf("rawimage: blit between incompatible pixel formats")
	}
	for y := 0; y < size.Y; y++ {
		srcRow, err := src.Row(srcPos.Y + y)
		if err != nil {
			return err
		}
		dstRow, err := im.Row(destPos.Y + y)
		if err != nil {
			return err
		}
		sStart := srcPos.X * im.bpp
		dStart := destPos.X * im.bpp
		n := size.X * im.bpp
		copy(dstRow[dStart:dStart+n], srcRow[sStart:sStart+n])
	}
	return nil
}
