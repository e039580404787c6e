package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// pefDecoder handles Pentax PEF: either plain uncompressed strips or
// the Pentax differential Huffman scheme.
type pefDecoder struct {
	tiffDecoder
}

func newPefDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *pefDecoder {
	return &pefDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *pefDecoder) CheckSupport(db *camera.Database) error {
	return d.checkCameraSupported(db, d.id(), "")
}

func (d *pefDecoder) DecodeRaw() (*rawimage.Image, error) {
	raw, err := d.root.GetIFDWithTag(tiff.TagStripOffsets, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: no raw strip found", ErrDecoder)
	}
	compression := entryU32(raw, tiff.TagCompression)

	width := entryU32(raw, tiff.TagImageWidth)
	height := entryU32(raw, tiff.TagImageLength)
	if width == 0 || height == 0 || width%2 != 0 || width > 8384 || height > 6208 {
		return nil, fmt.Errorf("%w: unexpected PEF dimensions %dx%d", ErrDecoder, width, height)
	}

	off := entryU32(raw, tiff.TagStripOffsets)
	count := entryU32(raw, tiff.TagStripByteCounts)
	if count == 0 || !d.isValidRange(off, count) {
		return nil, fmt.Errorf("%w: strip out of file bounds", ErrDecoder)
	}

	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(width), Y: int(height)}, 1)
	d.img.IsCFA = true
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	in, err := d.fileStream(off, count)
	if err != nil {
		return nil, err
	}

	switch compression {
	case 1:
		bps := entryU32(raw, tiff.TagBitsPerSample)
		u := decompress.NewUncompressed(in)
		var derr error
		switch bps {
		case 12:
			derr = u.Decode12BitRaw(d.img, int(width), int(height), true, false, false)
		case 16:
			derr = u.DecodeRawUnpacked(d.img, int(width), int(height), 16, false)
		default:
			derr = fmt.Errorf("%w: unsupported PEF bit depth %d", ErrDecoder, bps)
		}
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, derr)
		}
	case 65535:
		p, err := decompress.NewPentax(d.img, in)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		if err := p.Decompress(d.img); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported PEF compression %d", ErrDecoder, compression)
	}
	return d.img, nil
}

func (d *pefDecoder) DecodeMetadata(db *camera.Database) error {
	if d.img == nil {
		return fmt.Errorf("%w: no image decoded yet", ErrDecoder)
	}
	d.img.CFA = camera.NewCfaPattern(2, 2)
	d.img.CFA.SetColorAt(0, 0, camera.Red)
	d.img.CFA.SetColorAt(1, 0, camera.Green)
	d.img.CFA.SetColorAt(0, 1, camera.Green)
	d.img.CFA.SetColorAt(1, 1, camera.Blue)

	if err := d.setMetaData(db, d.id(), "", d.isoSpeed()); err != nil {
		return err
	}

	// White balance from the maker note's red/blue balance pair.
	if wb, ok := d.root.GetEntryRecursive(tiff.Tag(0x0201)); ok && wb.Count == 4 {
		g0, _ := wb.GetU16(0)
		r, _ := wb.GetU16(1)
		b, _ := wb.GetU16(2)
		g1, _ := wb.GetU16(3)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), float32(g0+g1) / 2, float32(b), 0}
	}
	return nil
}
