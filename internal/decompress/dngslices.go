package decompress

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image/jpeg"
	"io"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// DNG compression schemes the tile dispatcher understands.
const (
	DngCompressionNone     = 1
	DngCompressionLJpeg    = 7
	DngCompressionDeflate  = 8
	DngCompressionVC5      = 9
	DngCompressionLossyJpg = 0x884c
)

// DngTilingDescription captures how a DNG image is cut into tiles.
type DngTilingDescription struct {
	Dim      rawimage.Point
	TileW    int
	TileH    int
	TilesX   int
	TilesY   int
	NumTiles int
}

// NewDngTilingDescription derives the tile grid for dim. Strip-based
// files are expressed as a single-column tiling.
func NewDngTilingDescription(dim rawimage.Point, tileW, tileH int) (DngTilingDescription, error) {
	if dim.X <= 0 || dim.Y <= 0 || tileW <= 0 || tileH <= 0 {
		return DngTilingDescription{}, fmt.Errorf("%w: bad tiling %dx%d over %dx%d", ErrBadParams, tileW, tileH, dim.X, dim.Y)
	}
	tilesX := (dim.X + tileW - 1) / tileW
	tilesY := (dim.Y + tileH - 1) / tileH
	return DngTilingDescription{
		Dim: dim, TileW: tileW, TileH: tileH,
		TilesX: tilesX, TilesY: tilesY, NumTiles: tilesX * tilesY,
	}, nil
}

// DngSliceElement is one tile: its byte stream and its position and
// clipped size within the image.
type DngSliceElement struct {
	N      int
	BS     *bitio.Stream
	Column int
	Row    int

	LastColumn bool
	LastRow    bool

	OffX, OffY    int
	Width, Height int
}

// NewDngSliceElement places tile n of desc over bs.
func NewDngSliceElement(desc DngTilingDescription, n int, bs *bitio.Stream) DngSliceElement {
	column := n % desc.TilesX
	row := n / desc.TilesX
	e := DngSliceElement{
		N:          n,
		BS:         bs,
		Column:     column,
		Row:        row,
		LastColumn: column+1 == desc.TilesX,
		LastRow:    row+1 == desc.TilesY,
		OffX:       desc.TileW * column,
		OffY:       desc.TileH * row,
	}
	if e.LastColumn {
		e.Width = desc.Dim.X - e.OffX
	} else {
		e.Width = desc.TileW
	}
	if e.LastRow {
		e.Height = desc.Dim.Y - e.OffY
	} else {
		e.Height = desc.TileH
	}
	return e
}

// DngSlices decodes a DNG's tile set: each slice dispatches to the
// decompressor its compression field selects, tiles in parallel.
type DngSlices struct {
	Desc        DngTilingDescription
	Slices      []DngSliceElement
	Compression int
	FixLjpeg    bool
	Bps         int
	Predictor   int
}

// AddSlice appends tile slice n over bs.
func (d *DngSlices) AddSlice(n int, bs *bitio.Stream) {
	d.Slices = append(d.Slices, NewDngSliceElement(d.Desc, n, bs))
}

// Decompress runs every slice. Per-tile failures append to the image's
// error log; once the log covers every slice the whole decode fails
// with the first error.
func (d *DngSlices) Decompress(img *rawimage.Image) error {
	if len(d.Slices) == 0 {
		return fmt.Errorf("%w: no slices", ErrBadParams)
	}

	parallelFor(len(d.Slices), func(i int) {
		e := &d.Slices[i]
		var err error
		switch d.Compression {
		case DngCompressionNone:
			err = d.decodeUncompressed(img, e)
		case DngCompressionLJpeg:
			err = NewLJpeg(e.BS).Decode(img, e.OffX, e.OffY, e.Width, e.Height)
		case DngCompressionDeflate:
			err = d.decodeDeflate(img, e)
		case DngCompressionVC5:
			err = d.decodeVC5(img, e)
		case DngCompressionLossyJpg:
			err = d.decodeLossyJpeg(img, e)
		default:
			err = fmt.Errorf("%w: unknown DNG compression %d", ErrUnsupported, d.Compression)
		}
		if err != nil {
			img.SetError(fmt.Sprintf("tile %d: %v", e.N, err))
		}
	})

	if first, bad := img.IsTooManyErrors(len(d.Slices)); bad {
		return fmt.Errorf("%w: too many tile errors, first: %s", ErrUnsupported, first)
	}
	return nil
}

func (d *DngSlices) decodeUncompressed(img *rawimage.Image, e *DngSliceElement) error {
	bigEndian := e.BS.Order() == bitio.BigEndian
	// DNG says non-8/16/32-bit integer data is always big-endian.
	switch d.Bps {
	case 8, 16, 32:
	default:
		if img.Type == rawimage.U16 {
			bigEndian = true
		}
	}

	inputPixelBits := img.Cpp() * d.Bps
	if inputPixelBits <= 0 || d.Desc.TileW > (1<<30)/inputPixelBits {
		return fmt.Errorf("%w: input pitch overflow", ErrBadParams)
	}
	inputPitchBits := inputPixelBits * d.Desc.TileW
	if inputPitchBits%8 != 0 {
		return fmt.Errorf("%w: non-byte-aligned tile pitch (%d bits)", ErrBadParams, inputPitchBits)
	}
	order := LSB
	if bigEndian {
		order = MSB
	}
	u := NewUncompressed(e.BS)
	return u.ReadRaw(img,
		rawimage.Point{X: e.Width, Y: e.Height},
		rawimage.Point{X: e.OffX, Y: e.OffY},
		inputPitchBits/8, d.Bps, order)
}

func (d *DngSlices) decodeVC5(img *rawimage.Image, e *DngSliceElement) error {
	if e.OffX != 0 || e.OffY != 0 || e.Width != d.Desc.Dim.X || e.Height != d.Desc.Dim.Y {
		return fmt.Errorf("%w: VC-5 expects to fill the whole image, not a tile", ErrBadParams)
	}
	v, err := NewVC5(img, e.BS)
	if err != nil {
		return err
	}
	return v.Decompress(img)
}

// decodeDeflate handles deflate-compressed floating-point DNG tiles:
// the tile inflates to rows of 32-bit floats. Only the identity
// predictor is supported; the split-byte floating-point predictors have
// no reference here and fail cleanly.
func (d *DngSlices) decodeDeflate(img *rawimage.Image, e *DngSliceElement) error {
	if img.Type != rawimage.F32 {
		return fmt.Errorf("%w: deflate tiles require a float image", ErrBadParams)
	}
	if d.Predictor > 1 {
		return fmt.Errorf("%w: deflate predictor %d", ErrUnsupported, d.Predictor)
	}
	if d.Bps != 32 {
		return fmt.Errorf("%w: deflate float depth %d", ErrUnsupported, d.Bps)
	}

	raw, err := e.BS.GetBytes(e.BS.Remaining())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	defer zr.Close()
	inflated, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	cpp := img.Cpp()
	rowSamples := d.Desc.TileW * cpp
	need := rowSamples * 4 * e.Height
	if len(inflated) < need {
		return fmt.Errorf("%w: inflated tile holds %d of %d bytes", ErrTruncated, len(inflated), need)
	}

	bigEndian := e.BS.Order() == bitio.BigEndian
	for y := 0; y < e.Height; y++ {
		row, err := img.RowUncropped(e.OffY + y)
		if err != nil {
			return err
		}
		src := inflated[y*rowSamples*4:]
		for s := 0; s < e.Width*cpp; s++ {
			var bits uint32
			if bigEndian {
				bits = binary.BigEndian.Uint32(src[s*4:])
			} else {
				bits = binary.LittleEndian.Uint32(src[s*4:])
			}
			off := (e.OffX*cpp + s) * 4
			binary.LittleEndian.PutUint32(row[off:], bits)
		}
	}
	return nil
}

// decodeLossyJpeg decodes a baseline-JPEG tile (lossy DNG) and stores
// its color samples widened to 16 bits.
func (d *DngSlices) decodeLossyJpeg(img *rawimage.Image, e *DngSliceElement) error {
	if img.Type != rawimage.U16 {
		return fmt.Errorf("%w: lossy JPEG tiles require a 16-bit image", ErrBadParams)
	}
	raw, err := e.BS.GetBytes(e.BS.Remaining())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() < e.Width || bounds.Dy() < e.Height {
		return fmt.Errorf("%w: JPEG tile %dx%d smaller than %dx%d", ErrBadParams,
			bounds.Dx(), bounds.Dy(), e.Width, e.Height)
	}

	cpp := img.Cpp()
	if cpp != 3 {
		return fmt.Errorf("%w: lossy JPEG needs a 3-component image", ErrBadParams)
	}
	for y := 0; y < e.Height; y++ {
		row, err := img.RowUncropped(e.OffY + y)
		if err != nil {
			return err
		}
		for x := 0; x < e.Width; x++ {
			r, g, b, _ := decoded.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			base := (e.OffX + x) * cpp
			rowSetU16(row, base, uint16(r>>8))
			rowSetU16(row, base+1, uint16(g>>8))
			rowSetU16(row, base+2, uint16(b>>8))
		}
	}
	return nil
}
