package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// mefDecoder handles Mamiya MEF: plain packed 12-bit big-endian rows.
type mefDecoder struct {
	tiffDecoder
}

func newMefDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *mefDecoder {
	return &mefDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *mefDecoder) CheckSupport(db *camera.Database) error {
	return d.checkCameraSupported(db, d.id(), "")
}

func (d *mefDecoder) DecodeRaw() (*rawimage.Image, error) {
	l, err := d.prepareSimpleRaw(4016, 5344)
	if err != nil {
		return nil, err
	}
	if err := d.newSimpleImage(l); err != nil {
		return nil, err
	}
	in, err := d.fileStreamToEnd(l.off)
	if err != nil {
		return nil, err
	}
	u := decompress.NewUncompressed(in)
	if err := u.Decode12BitRaw(d.img, int(l.width), int(l.height), true, false, false); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

func (d *mefDecoder) DecodeMetadata(db *camera.Database) error {
	return d.setMetaData(db, d.id(), "", 0)
}
