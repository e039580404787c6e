package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// dcsDecoder handles the early Kodak DCS bodies: 8-bit data expanded
// through a 256-entry gray response curve.
type dcsDecoder struct {
	tiffDecoder
}

func newDcsDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *dcsDecoder {
	return &dcsDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *dcsDecoder) CheckSupport(db *camera.Database) error {
	return d.checkCameraSupported(db, d.id(), "")
}

func (d *dcsDecoder) DecodeRaw() (*rawimage.Image, error) {
	l, err := d.prepareSimpleRaw(3072, 2048)
	if err != nil {
		return nil, err
	}

	linearization, ok := d.root.GetEntryRecursive(tagGrayResponse)
	if !ok || linearization.Count != 256 || linearization.Type != tiff.TypeShort {
		return nil, fmt.Errorf("%w: couldn't find the linearization table", ErrDecoder)
	}
	table, err := linearization.GetU16Array()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	if err := d.newSimpleImage(l); err != nil {
		return nil, err
	}

	if !d.opts.UncorrectedRawValues {
		d.img.SetTable(rawimage.NewTable(table, true))
		defer d.img.SetTable(nil)
	}

	in, err := d.fileStream(l.off, l.count)
	if err != nil {
		return nil, err
	}
	u := decompress.NewUncompressed(in)
	if err := u.Decode8BitRaw(d.img, int(l.width), int(l.height), d.opts.UncorrectedRawValues); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

func (d *dcsDecoder) DecodeMetadata(db *camera.Database) error {
	return d.setMetaData(db, d.id(), "", 0)
}
