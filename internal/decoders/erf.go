package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// erfDecoder handles Epson ERF: packed 12-bit big-endian rows with a
// control byte every ten pixels.
type erfDecoder struct {
	tiffDecoder
}

func newErfDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *erfDecoder {
	return &erfDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *erfDecoder) CheckSupport(db *camera.Database) error {
	return d.checkCameraSupported(db, d.id(), "")
}

func (d *erfDecoder) DecodeRaw() (*rawimage.Image, error) {
	l, err := d.prepareSimpleRaw(3040, 2304)
	if err != nil {
		return nil, err
	}
	if err := d.newSimpleImage(l); err != nil {
		return nil, err
	}
	in, err := d.fileStream(l.off, l.count)
	if err != nil {
		return nil, err
	}
	u := decompress.NewUncompressed(in)
	if err := u.Decode12BitRaw(d.img, int(l.width), int(l.height), true, false, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

func (d *erfDecoder) DecodeMetadata(db *camera.Database) error {
	if err := d.setMetaData(db, d.id(), "", 0); err != nil {
		return err
	}
	if wb, ok := d.root.GetEntryRecursive(tagEpsonWB); ok && wb.Count == 256 {
		// Magic scaling constants from the vendor's own processing.
		r, _ := wb.GetU16(24)
		b, _ := wb.GetU16(25)
		d.img.Metadata.WBCoeffs[0] = float32(r) * 508.0 * 1.078 / 65536.0
		d.img.Metadata.WBCoeffs[1] = 1.0
		d.img.Metadata.WBCoeffs[2] = float32(b) * 382.0 * 1.173 / 65536.0
	}
	return nil
}
