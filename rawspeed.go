package rawspeed

import (
	"fmt"
	"io"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decoders"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/sniff"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// Image is the decoded raster plus its camera metadata. Pixel data is
// reached through Row/Pixel accessors in either the cropped or the
// uncropped coordinate space.
type Image = rawimage.Image

// Metadata is the camera identification block attached to an Image.
type Metadata = rawimage.Metadata

// CameraDatabase is the loaded camera support table.
type CameraDatabase = camera.Database

// Options steer decoding behavior; nil means DefaultOptions.
type Options = decoders.Options

// DefaultOptions returns the standard decode configuration: cropping
// applied, Fuji rotation on, stage-1 DNG opcodes run, unknown cameras
// decoded on best effort.
func DefaultOptions() Options { return decoders.DefaultOptions() }

// LoadCameraDatabase parses a cameras.xml document.
func LoadCameraDatabase(r io.Reader) (*CameraDatabase, error) {
	return camera.Load(r)
}

// Decode identifies data's container, picks the matching frontend,
// decodes the pixel data and resolves metadata against db. The input
// must be the complete file, memory-resident; the returned image
// borrows nothing from data.
func Decode(data []byte, db *CameraDatabase, opts *Options) (*Image, error) {
	dec, err := NewDecoder(data, opts)
	if err != nil {
		return nil, err
	}
	if db == nil {
		db = &CameraDatabase{}
	}
	if err := dec.CheckSupport(db); err != nil {
		return nil, err
	}
	img, err := dec.DecodeRaw()
	if err != nil {
		return nil, err
	}
	if err := dec.DecodeMetadata(db); err != nil {
		return nil, err
	}
	return img, nil
}

// NewDecoder sniffs data and constructs the appropriate frontend
// without decoding anything yet.
func NewDecoder(data []byte, opts *Options) (decoders.Decoder, error) {
	o := decoders.DefaultOptions()
	if opts != nil {
		o = *opts
	}

	family, fujiOffset, err := sniff.Identify(data)
	if err != nil {
		return nil, err
	}

	switch family {
	case sniff.FamilyTIFF:
		return newTIFFDecoder(data, o)
	case sniff.FamilyFujiWrapped:
		// The wrapper points at an embedded TIFF; offsets inside it are
		// relative to the inner file.
		return newTIFFDecoder(data[fujiOffset:], o)
	case sniff.FamilyX3F:
		return nil, fmt.Errorf("%w: Sigma X3F", ErrUnsupportedContainer)
	case sniff.FamilyMRW:
		return nil, fmt.Errorf("%w: Minolta MRW", ErrUnsupportedContainer)
	case sniff.FamilyCIFF:
		return nil, fmt.Errorf("%w: Canon CIFF", ErrUnsupportedContainer)
	}
	return nil, fmt.Errorf("%w", ErrUnknownFormat)
}

func newTIFFDecoder(data []byte, opts Options) (decoders.Decoder, error) {
	root, err := tiff.ParseRoot(data)
	if err != nil {
		return nil, err
	}
	order := bitio.LittleEndian
	if len(data) > 0 && data[0] == 'M' {
		order = bitio.BigEndian
	}
	return decoders.NewTIFFDecoder(root, bitio.NewBuffer(data, order), opts)
}
