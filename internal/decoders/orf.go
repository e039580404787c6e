package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// orfDecoder handles Olympus ORF files: the adaptive-carry compressed
// format plus four uncompressed packings distinguished purely by strip
// size.
type orfDecoder struct {
	tiffDecoder
}

func newOrfDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *orfDecoder {
	return &orfDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *orfDecoder) CheckSupport(db *camera.Database) error {
	return d.checkCameraSupported(db, d.id(), "")
}

// handleSlices glues the strip table back into one contiguous stream,
// tolerating the padding some packed-with-control files put between
// their first two strips.
func (d *orfDecoder) handleSlices(raw *tiff.IFD) (*bitio.Stream, error) {
	offsets, ok0 := raw.GetEntry(tiff.TagStripOffsets)
	counts, ok1 := raw.GetEntry(tiff.TagStripByteCounts)
	if !ok0 || !ok1 || counts.Count != offsets.Count {
		return nil, fmt.Errorf("%w: strip offset/count mismatch", ErrDecoder)
	}

	off, err := offsets.GetU32(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	size, err := counts.GetU32(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	for i := uint32(1); i < counts.Count; i++ {
		offset, err0 := offsets.GetU32(i)
		count, err1 := counts.GetU32(i)
		if err0 != nil || err1 != nil || count < 1 {
			return nil, fmt.Errorf("%w: empty slice", ErrDecoder)
		}
		if !d.isValidRange(offset, count) {
			return nil, fmt.Errorf("%w: truncated file", ErrDecoder)
		}
		end := off + size
		if offset < end {
			return nil, fmt.Errorf("%w: slices overlap", ErrDecoder)
		}
		size += (offset - end) + count
	}
	if !d.isValidRange(off, size) {
		return nil, fmt.Errorf("%w: truncated file", ErrDecoder)
	}
	return d.fileStream(off, size)
}

func (d *orfDecoder) DecodeRaw() (*rawimage.Image, error) {
	raw, err := d.root.GetIFDWithTag(tiff.TagStripOffsets, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: no raw strip found", ErrDecoder)
	}
	if compression := entryU32(raw, tiff.TagCompression); compression != 1 {
		return nil, fmt.Errorf("%w: unsupported ORF compression %d", ErrDecoder, compression)
	}

	width := entryU32(raw, tiff.TagImageWidth)
	height := entryU32(raw, tiff.TagImageLength)
	if width == 0 || height == 0 || width%2 != 0 || width > 10400 || height > 7796 {
		return nil, fmt.Errorf("%w: unexpected ORF dimensions %dx%d", ErrDecoder, width, height)
	}

	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(width), Y: int(height)}, 1)
	d.img.IsCFA = true

	in, err := d.handleSlices(raw)
	if err != nil {
		return nil, err
	}

	if ok, err := d.decodeUncompressedVariant(in, int(width), int(height)); ok || err != nil {
		return d.img, err
	}

	offsets, _ := raw.GetEntry(tiff.TagStripOffsets)
	if offsets.Count != 1 {
		return nil, fmt.Errorf("%w: %d strips, and not uncompressed", ErrDecoder, offsets.Count)
	}

	o, err := decompress.NewOlympus(d.img, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if err := o.Decompress(d.img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

// decodeUncompressedVariant recognizes the uncompressed packings by the
// exact strip size; returns false when the data must be compressed.
func (d *orfDecoder) decodeUncompressedVariant(in *bitio.Stream, w, h int) (bool, error) {
	size := in.Size()
	u := decompress.NewUncompressed(in)

	create := func() error {
		if err := d.img.CreateData(); err != nil {
			return fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		return nil
	}

	switch {
	case size == h*(w*12/8+(w+2)/10):
		// 12-bit packed with a control byte every ten pixels.
		if err := create(); err != nil {
			return true, err
		}
		if err := u.Decode12BitRaw(d.img, w, h, false, false, true); err != nil {
			return true, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		return true, nil
	case size == w*h*12/8:
		if err := create(); err != nil {
			return true, err
		}
		err := u.ReadRaw(d.img, rawimage.Point{X: w, Y: h}, rawimage.Point{},
			w*12/8, 12, decompress.MSB32)
		if err != nil {
			return true, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		return true, nil
	case size == w*h*2:
		if err := create(); err != nil {
			return true, err
		}
		var err error
		if in.Order() == bitio.LittleEndian {
			err = u.DecodeRawUnpacked(d.img, w, h, 12, false)
		} else {
			err = u.Decode12BitRawUnpackedLeftAligned(d.img, w, h)
		}
		if err != nil {
			return true, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		return true, nil
	case size > w*h*3/2:
		// Interlaced packed: even field then odd field.
		if err := create(); err != nil {
			return true, err
		}
		if err := u.Decode12BitRaw(d.img, w, h, true, true, false); err != nil {
			return true, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		return true, nil
	}
	return false, nil
}

func (d *orfDecoder) parseCFA() error {
	cfa, ok := d.root.GetEntryRecursive(tagExifCFAPattern)
	if !ok {
		return fmt.Errorf("%w: no CFA pattern entry found", ErrDecoder)
	}
	if cfa.Type != tiff.TypeUndefined || cfa.Count != 8 {
		return fmt.Errorf("%w: bad CFA pattern entry", ErrDecoder)
	}

	w, err0 := cfa.GetU16(0)
	h, err1 := cfa.GetU16(1)
	if err0 != nil || err1 != nil || w != 2 || h != 2 {
		return fmt.Errorf("%w: bad CFA size", ErrDecoder)
	}

	d.img.CFA = camera.NewCfaPattern(2, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			c, err := cfa.GetByte(uint32(4 + x + y*2))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrDecoder, err)
			}
			var col camera.Color
			switch c {
			case 0:
				col = camera.Red
			case 1:
				col = camera.Green
			case 2:
				col = camera.Blue
			default:
				return fmt.Errorf("%w: unexpected CFA color %d", ErrDecoder, c)
			}
			d.img.CFA.SetColorAt(x, y, col)
		}
	}
	return nil
}

func (d *orfDecoder) DecodeMetadata(db *camera.Database) error {
	if d.img == nil {
		return fmt.Errorf("%w: no image decoded yet", ErrDecoder)
	}
	iso := d.isoSpeed()

	if err := d.parseCFA(); err != nil {
		return err
	}

	if err := d.setMetaData(db, d.id(), "", iso); err != nil {
		return err
	}

	redE, okR := d.root.GetEntryRecursive(tagOlympusRedMul)
	blueE, okB := d.root.GetEntryRecursive(tagOlympusBlueMul)
	if okR && okB {
		r, _ := redE.GetU16(0)
		b, _ := blueE.GetU16(0)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), 256.0, float32(b), 0}
		return nil
	}

	// Newer bodies keep the levels in the ImageProcessing sub-directory
	// of the maker note.
	imgProc, ok := d.root.GetEntryRecursive(tagOlympusImgProc)
	if !ok {
		return nil
	}
	off, err := imgProc.GetU32(0)
	if err != nil {
		return nil
	}
	fileData, err := d.file.GetData(0, d.file.Size())
	if err != nil {
		return nil
	}
	proc, err := tiff.ParseStandalone(fileData, d.file.Order(), off)
	if err != nil {
		d.img.SetError(fmt.Sprintf("olympus image processing IFD: %v", err))
		return nil
	}

	if wb, ok := proc.GetEntry(tiff.Tag(0x0100)); ok && (wb.Count == 2 || wb.Count == 4) {
		r, _ := wb.GetFloat(0)
		b, _ := wb.GetFloat(1)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), 256.0, float32(b), 0}
	}

	if blackEntry, ok := proc.GetEntry(tiff.Tag(0x0600)); ok && blackEntry.Count == 4 {
		// Stored RGGB; reorder to the image's CFA positions.
		for i := 0; i < 4; i++ {
			c := d.img.CFA.ColorAt(i&1, i>>1)
			var j uint32
			switch c {
			case camera.Red:
				j = 0
			case camera.Green:
				if i < 2 {
					j = 1
				} else {
					j = 2
				}
			case camera.Blue:
				j = 3
			default:
				return fmt.Errorf("%w: unexpected CFA color %v", ErrDecoder, c)
			}
			if v, err := blackEntry.GetU16(j); err == nil {
				d.img.BlackLevelSeparate[i] = int(v)
			}
		}
		// Assume the dynamic range is unchanged and adjust white
		// accordingly.
		d.img.WhitePoint -= d.img.BlackLevel - d.img.BlackLevelSeparate[0]
	}
	return nil
}
