package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// rw2Decoder handles Panasonic RW2/RWL (and older RAW) files, selecting
// among the four generations of Panasonic block packing by the raw
// format tag.
type rw2Decoder struct {
	tiffDecoder
}

func newRw2Decoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *rw2Decoder {
	return &rw2Decoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *rw2Decoder) CheckSupport(db *camera.Database) error {
	return d.checkCameraSupported(db, d.id(), d.mode())
}

func (d *rw2Decoder) mode() string {
	raw := d.rawIFD()
	if raw == nil {
		return ""
	}
	if bps := entryU32(raw, tagPanaBitsPerSmpl); bps != 0 {
		return fmt.Sprintf("%d-bit", bps)
	}
	return ""
}

// rawIFD finds the IFD holding the sensor data: the new layout keys off
// the dedicated offset tag, the old one off plain strip offsets.
func (d *rw2Decoder) rawIFD() *tiff.IFD {
	if ifds := d.root.GetIFDsWithTag(tagPanaStripOffset); len(ifds) != 0 {
		return ifds[0]
	}
	if ifds := d.root.GetIFDsWithTag(tiff.TagStripOffsets); len(ifds) != 0 {
		return ifds[0]
	}
	return nil
}

func (d *rw2Decoder) DecodeRaw() (*rawimage.Image, error) {
	raw := d.rawIFD()
	if raw == nil {
		return nil, fmt.Errorf("%w: no image data found", ErrDecoder)
	}
	isOldPanasonic := !raw.HasEntry(tagPanaStripOffset)

	height := entryU32(raw, tagPanaSensorHeight)
	width := entryU32(raw, tagPanaSensorWidth)
	if width == 0 || height == 0 || width > 9000 || height > 7000 {
		return nil, fmt.Errorf("%w: unexpected RW2 dimensions %dx%d", ErrDecoder, width, height)
	}

	bps := entryU32(raw, tagPanaBitsPerSmpl)
	if bps == 0 {
		bps = 12
	}

	rawFormat := entryU32(raw, tagPanaRawFormat)

	var off, count uint32
	if isOldPanasonic {
		off = entryU32(raw, tiff.TagStripOffsets)
		count = entryU32(raw, tiff.TagStripByteCounts)
	} else {
		off = entryU32(raw, tagPanaStripOffset)
		if c := entryU32(raw, tagPanaStripBytes); c != 0 {
			count = c
		} else if int(off) < d.file.Size() {
			count = uint32(d.file.Size()) - off
		}
	}
	if count == 0 || !d.isValidRange(off, 0) {
		return nil, fmt.Errorf("%w: invalid data offset", ErrDecoder)
	}
	if !d.isValidRange(off, count) {
		count = uint32(d.file.Size()) - off
	}

	in, err := d.fileStream(off, count)
	if err != nil {
		return nil, err
	}

	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(width), Y: int(height)}, 1)
	d.img.IsCFA = true

	zeroIsNotBad := d.hints.GetBool("zero_is_not_bad", false)

	var dec decompress.Decompressor
	var v4 *decompress.PanasonicV4
	switch {
	case isOldPanasonic || rawFormat <= 4:
		splitOffset := 0
		if !isOldPanasonic {
			splitOffset = 0x1FF8
		}
		v4, err = decompress.NewPanasonicV4(d.img, in, zeroIsNotBad, splitOffset)
		dec = v4
	case rawFormat == 5:
		dec, err = decompress.NewPanasonicV5(d.img, in, int(bps))
	case rawFormat == 6:
		dec, err = decompress.NewPanasonicV6(d.img, in)
	case rawFormat == 7:
		dec, err = decompress.NewPanasonicV7(d.img, in, int(bps))
	default:
		return nil, fmt.Errorf("%w: unsupported RW2 raw format %d", ErrDecoder, rawFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if err := dec.Decompress(d.img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if v4 != nil {
		for _, pos := range v4.ZeroPositions() {
			d.img.AddBadPixel(pos&0xFFFF, pos>>16)
		}
	}
	return d.img, nil
}

func (d *rw2Decoder) DecodeMetadata(db *camera.Database) error {
	if d.img == nil {
		return fmt.Errorf("%w: no image decoded yet", ErrDecoder)
	}

	iso := 0
	if e, ok := d.root.GetEntryRecursive(tagPanaISO); ok {
		if v, err := e.GetU32(0); err == nil {
			iso = int(v)
		}
	}

	if err := d.setMetaData(db, d.id(), d.mode(), iso); err != nil {
		return err
	}

	rE, okR := d.root.GetEntryRecursive(tagPanaWBRed)
	gE, okG := d.root.GetEntryRecursive(tagPanaWBGreen)
	bE, okB := d.root.GetEntryRecursive(tagPanaWBBlue)
	if okR && okG && okB {
		r, _ := rE.GetU16(0)
		g, _ := gE.GetU16(0)
		b, _ := bE.GetU16(0)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), float32(g), float32(b), 0}
	}
	return nil
}
