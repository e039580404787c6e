package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// simpleRawLayout is the one-strip layout shared by the small TIFF
// vendors (Epson, Mamiya, Kodak): a single IFD with strip offset and
// count, plain dimensions, and a size cap per body family.
type simpleRawLayout struct {
	raw           *tiff.IFD
	off, count    uint32
	width, height uint32
}

// prepareSimpleRaw locates the largest strip-bearing IFD and validates
// its layout against the file and the caller's dimension caps.
func (d *tiffDecoder) prepareSimpleRaw(maxW, maxH uint32) (*simpleRawLayout, error) {
	raw, err := d.getIFDWithLargestImage(tiff.TagStripOffsets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	l := &simpleRawLayout{
		raw:    raw,
		off:    entryU32(raw, tiff.TagStripOffsets),
		count:  entryU32(raw, tiff.TagStripByteCounts),
		width:  entryU32(raw, tiff.TagImageWidth),
		height: entryU32(raw, tiff.TagImageLength),
	}
	if l.width == 0 || l.height == 0 || l.width > maxW || l.height > maxH {
		return nil, fmt.Errorf("%w: unexpected image dimensions %dx%d", ErrDecoder, l.width, l.height)
	}
	if l.count == 0 || !d.isValidRange(l.off, l.count) {
		return nil, fmt.Errorf("%w: strip out of file bounds", ErrDecoder)
	}
	return l, nil
}

// newSimpleImage allocates the output raster for a simple layout.
func (d *tiffDecoder) newSimpleImage(l *simpleRawLayout) error {
	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(l.width), Y: int(l.height)}, 1)
	d.img.IsCFA = true
	if err := d.img.CreateData(); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return nil
}
