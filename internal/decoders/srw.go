package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// srwDecoder handles Samsung SRW: the V0 (NX300-class) and V2
// (NX1-class) compressed schemes plus plain unpacked data.
type srwDecoder struct {
	tiffDecoder
}

func newSrwDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *srwDecoder {
	return &srwDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *srwDecoder) CheckSupport(db *camera.Database) error {
	return d.checkCameraSupported(db, d.id(), d.mode())
}

func (d *srwDecoder) mode() string {
	raw, err := d.root.GetIFDWithTag(tiff.TagStripOffsets, 0)
	if err != nil {
		return ""
	}
	compression := entryU32(raw, tiff.TagCompression)
	bits := entryU32(raw, tiff.TagBitsPerSample)
	if compression == 32770 && !raw.HasEntry(tagSrwSliceOffsets) {
		return fmt.Sprintf("%d-bit", bits)
	}
	if compression == 32773 {
		return fmt.Sprintf("%d-bit-compressed", bits)
	}
	return ""
}

func (d *srwDecoder) DecodeRaw() (*rawimage.Image, error) {
	raw, err := d.root.GetIFDWithTag(tiff.TagStripOffsets, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: no raw strip found", ErrDecoder)
	}
	compression := entryU32(raw, tiff.TagCompression)

	width := entryU32(raw, tiff.TagImageWidth)
	height := entryU32(raw, tiff.TagImageLength)
	bits := entryU32(raw, tiff.TagBitsPerSample)
	if width == 0 || height == 0 || width > 6496 || height > 4336 {
		return nil, fmt.Errorf("%w: unexpected SRW dimensions %dx%d", ErrDecoder, width, height)
	}

	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(width), Y: int(height)}, 1)
	d.img.IsCFA = true

	switch compression {
	case 1, 32769:
		return d.decodeUncompressed(raw, int(width), int(height), int(bits))
	case 32770:
		if !raw.HasEntry(tagSrwSliceOffsets) {
			return d.decodeUncompressed(raw, int(width), int(height), int(bits))
		}
		return d.decodeV0(raw, int(height))
	case 32773:
		return d.decodeV2(raw, int(bits))
	}
	return nil, fmt.Errorf("%w: unsupported SRW compression %d", ErrDecoder, compression)
}

func (d *srwDecoder) decodeUncompressed(raw *tiff.IFD, w, h, bits int) (*rawimage.Image, error) {
	off := entryU32(raw, tiff.TagStripOffsets)
	count := entryU32(raw, tiff.TagStripByteCounts)
	if count == 0 || !d.isValidRange(off, count) {
		return nil, fmt.Errorf("%w: strip out of file bounds", ErrDecoder)
	}
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	in, err := d.fileStream(off, count)
	if err != nil {
		return nil, err
	}
	u := decompress.NewUncompressed(in)
	switch bits {
	case 12:
		err = u.Decode12BitRaw(d.img, w, h, false, false, false)
	case 14, 16:
		err = u.DecodeRawUnpacked(d.img, w, h, bits, false)
	default:
		err = fmt.Errorf("%w: unsupported SRW bit depth %d", ErrDecoder, bits)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

func (d *srwDecoder) decodeV0(raw *tiff.IFD, height int) (*rawimage.Image, error) {
	sliceOffsets, ok := raw.GetEntry(tagSrwSliceOffsets)
	if !ok {
		return nil, fmt.Errorf("%w: missing V0 offset table", ErrDecoder)
	}
	tableOff, err := sliceOffsets.GetU32(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	off := entryU32(raw, tiff.TagStripOffsets)
	count := entryU32(raw, tiff.TagStripByteCounts)
	if count == 0 || !d.isValidRange(off, count) {
		return nil, fmt.Errorf("%w: strip out of file bounds", ErrDecoder)
	}

	// The offset table precedes the payload: one 32-bit offset per line,
	// relative to the payload start.
	offsetStream, err := d.fileStreamToEnd(tableOff)
	if err != nil {
		return nil, err
	}
	payload, err := d.fileStream(off, count)
	if err != nil {
		return nil, err
	}

	stripes, err := decompress.ComputeStripes(offsetStream, payload, height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	v0 := decompress.NewSamsungV0(stripes)
	if err := v0.Decompress(d.img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

func (d *srwDecoder) decodeV2(raw *tiff.IFD, bits int) (*rawimage.Image, error) {
	off := entryU32(raw, tiff.TagStripOffsets)
	count := entryU32(raw, tiff.TagStripByteCounts)
	if count == 0 || !d.isValidRange(off, count) {
		return nil, fmt.Errorf("%w: strip out of file bounds", ErrDecoder)
	}
	in, err := d.fileStream(off, count)
	if err != nil {
		return nil, err
	}
	v2, err := decompress.NewSamsungV2(in, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if err := v2.Decompress(d.img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

func (d *srwDecoder) DecodeMetadata(db *camera.Database) error {
	if d.img == nil {
		return fmt.Errorf("%w: no image decoded yet", ErrDecoder)
	}
	d.img.CFA = camera.NewCfaPattern(2, 2)
	d.img.CFA.SetColorAt(0, 0, camera.Green)
	d.img.CFA.SetColorAt(1, 0, camera.Red)
	d.img.CFA.SetColorAt(0, 1, camera.Blue)
	d.img.CFA.SetColorAt(1, 1, camera.Green)

	if err := d.setMetaData(db, d.id(), d.mode(), d.isoSpeed()); err != nil {
		return err
	}

	// The maker note's RGGB levels, when present.
	if wb, ok := d.root.GetEntryRecursive(tiff.Tag(0xA021)); ok && wb.Count == 4 {
		r, _ := wb.GetU32(0)
		g, _ := wb.GetU32(1)
		b, _ := wb.GetU32(3)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), float32(g), float32(b), 0}
	}
	return nil
}
