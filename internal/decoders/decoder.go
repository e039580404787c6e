// Package decoders holds the per-vendor decoder frontends: each one
// knows which TIFF tags its family uses, orchestrates the container,
// camera-database, decompressor and opcode layers, and produces a
// populated rawimage.Image.
package decoders

import (
	"errors"
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

var (
	// ErrUnsupportedCamera is returned when the camera database does not
	// list the file's (make, model, mode) and the caller asked for
	// strict support checking.
	ErrUnsupportedCamera = errors.New("decoders: unknown camera")
	// ErrDecoder is the general decode-failure kind: bad dimensions,
	// unsupported compression codes, decompressor invariant violations.
	ErrDecoder = errors.New("decoders: decode error")
)

// Options steer decoding behavior; the zero value is not useful, use
// DefaultOptions.
type Options struct {
	// FailOnUnknown makes CheckSupport fail for cameras absent from the
	// database instead of proceeding on best effort.
	FailOnUnknown bool
	// ApplyCrop crops the image to the camera's active area.
	ApplyCrop bool
	// UncorrectedRawValues skips linearization curves and black/white
	// scaling, delivering raw sensor values.
	UncorrectedRawValues bool
	// FujiRotate rotates Fuji SuperCCD rasters by 45 degrees the way
	// downstream demosaicers expect.
	FujiRotate bool
	// ApplyStage1DngOpcodes runs DNG OpcodeList1 after decode.
	ApplyStage1DngOpcodes bool
}

// DefaultOptions mirrors the defaults a caller gets without asking.
func DefaultOptions() Options {
	return Options{
		ApplyCrop:             true,
		FujiRotate:            true,
		ApplyStage1DngOpcodes: true,
	}
}

// Decoder is one file-family frontend.
type Decoder interface {
	// CheckSupport verifies the camera is usable with this build.
	CheckSupport(db *camera.Database) error
	// DecodeRaw decodes the pixel data into a fresh image.
	DecodeRaw() (*rawimage.Image, error)
	// DecodeMetadata fills the image's metadata from the container and
	// the camera database. Must run after DecodeRaw.
	DecodeMetadata(db *camera.Database) error
}

// tiffDecoder carries what every TIFF-family frontend needs: the parsed
// tree, a cursor-able view of the whole file, the output image, and the
// camera-database hints resolved during support checking.
type tiffDecoder struct {
	root *tiff.RootIFD
	file bitio.Buffer
	img  *rawimage.Image
	opts Options

	hints          camera.Hints
	decoderVersion int
	shiftDownScale int
}

func newTiffDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) tiffDecoder {
	return tiffDecoder{root: root, file: file, opts: opts, hints: camera.Hints{}}
}

// fileStream returns a cursor over [off, off+count) of the file.
func (d *tiffDecoder) fileStream(off, count uint32) (*bitio.Stream, error) {
	sub, err := d.file.Sub(int(off), int(count))
	if err != nil {
		return nil, fmt.Errorf("%w: data range [%d, %d) outside the file", ErrDecoder, off, uint64(off)+uint64(count))
	}
	return bitio.NewStream(sub), nil
}

// fileStreamToEnd returns a cursor from off to the end of the file.
func (d *tiffDecoder) fileStreamToEnd(off uint32) (*bitio.Stream, error) {
	if int(off) > d.file.Size() {
		return nil, fmt.Errorf("%w: data offset %d outside the file", ErrDecoder, off)
	}
	return d.fileStream(off, uint32(d.file.Size()-int(off)))
}

// isValidRange reports whether [off, off+count) lies inside the file.
func (d *tiffDecoder) isValidRange(off, count uint32) bool {
	return uint64(off)+uint64(count) <= uint64(d.file.Size())
}

// getIFDWithLargestImage returns, among the IFDs carrying tag, the one
// with the widest declared image.
func (d *tiffDecoder) getIFDWithLargestImage(tag tiff.Tag) (*tiff.IFD, error) {
	candidates := d.root.GetIFDsWithTag(tag)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no IFD carries tag 0x%04x", ErrDecoder, tag)
	}
	best := candidates[0]
	bestW := uint32(0)
	for _, ifd := range candidates {
		if e, ok := ifd.GetEntry(tiff.TagImageWidth); ok {
			if w, err := e.GetU32(0); err == nil && w > bestW {
				bestW = w
				best = ifd
			}
		}
	}
	return best, nil
}

// checkCameraSupported looks the camera up, honoring FailOnUnknown, and
// on success caches its hints and decoder version for later stages. An
// explicitly unsupported database entry always fails.
func (d *tiffDecoder) checkCameraSupported(db *camera.Database, id tiff.ID, mode string) error {
	cam, ok := db.GetCamera(id.Make, id.Model, mode)
	if !ok && mode == "" {
		cam, ok = db.GetCameraAnyMode(id.Make, id.Model)
	}
	if !ok {
		if d.opts.FailOnUnknown {
			return fmt.Errorf("%w: %q %q mode %q", ErrUnsupportedCamera, id.Make, id.Model, mode)
		}
		// Unknown cameras decode on best effort.
		return nil
	}
	if !cam.Supported {
		return fmt.Errorf("%w: %q %q is marked unsupported", ErrUnsupportedCamera, id.Make, id.Model)
	}
	d.hints = cam.Hints
	d.decoderVersion = cam.DecoderVersion
	return nil
}

// setMetaData applies the camera profile to the decoded image: CFA,
// crop, black areas, per-ISO sensor levels, and the canonical
// identification strings.
func (d *tiffDecoder) setMetaData(db *camera.Database, id tiff.ID, mode string, iso int) error {
	if d.img == nil {
		return fmt.Errorf("%w: no image decoded yet", ErrDecoder)
	}
	d.img.Metadata.Make = id.Make
	d.img.Metadata.Model = id.Model
	d.img.Metadata.Mode = mode
	d.img.Metadata.ISOSpeed = iso

	cam, ok := db.GetCamera(id.Make, id.Model, mode)
	if !ok {
		cam, ok = db.GetCamera(id.Make, id.Model, "")
	}
	if !ok {
		cam, ok = db.GetCameraAnyMode(id.Make, id.Model)
	}
	if !ok {
		if d.opts.FailOnUnknown {
			return fmt.Errorf("%w: %q %q", ErrUnsupportedCamera, id.Make, id.Model)
		}
		d.img.Metadata.CanonicalMake = id.Make
		d.img.Metadata.CanonicalModel = id.Model
		d.img.Metadata.CanonicalAlias = id.Model
		return nil
	}

	d.hints = cam.Hints
	d.decoderVersion = cam.DecoderVersion

	if len(cam.CFA.Colors) != 0 {
		d.img.CFA = cam.CFA
	}
	d.img.BlackAreas = append(d.img.BlackAreas, cam.BlackAreas...)

	if si, ok := cam.GetSensorInfo(iso); ok {
		d.img.BlackLevel = si.BlackLevel
		d.img.WhitePoint = si.WhiteLevel
		if si.BlackLevelSeparate != [4]int{} {
			d.img.BlackLevelSeparate = si.BlackLevelSeparate
		}
	}

	if d.opts.ApplyCrop {
		if err := d.applyCameraCrop(cam); err != nil {
			return err
		}
	}

	d.img.Metadata.CanonicalMake = cam.CanonicalMake
	d.img.Metadata.CanonicalModel = cam.CanonicalModel
	d.img.Metadata.CanonicalAlias = cam.CanonicalAlias
	d.img.Metadata.CanonicalID = cam.CanonicalID
	return nil
}

// applyCameraCrop narrows the image to the database crop. Non-positive
// crop dimensions are relative: the new size is the current size minus
// the crop position plus the (negative) dimension.
func (d *tiffDecoder) applyCameraCrop(cam *camera.Camera) error {
	if cam.CropSize == [2]int{} && cam.CropPos == [2]int{} {
		return nil
	}
	dim := d.img.Dim()
	pos := rawimage.Point{X: cam.CropPos[0], Y: cam.CropPos[1]}
	size := rawimage.Point{X: cam.CropSize[0], Y: cam.CropSize[1]}
	if size.X <= 0 {
		size.X = dim.X - pos.X + size.X
	}
	if size.Y <= 0 {
		size.Y = dim.Y - pos.Y + size.Y
	}
	if pos.X < 0 || pos.Y < 0 || size.X <= 0 || size.Y <= 0 ||
		pos.X+size.X > dim.X || pos.Y+size.Y > dim.Y {
		return fmt.Errorf("%w: camera crop %v+%v outside image %v", ErrDecoder, pos, size, dim)
	}
	// The crop origin is used as given; the CFA pattern is shifted by it
	// so the pattern stays valid for the cropped view.
	if d.img.IsCFA && d.img.CFA.W > 0 && d.img.CFA.H > 0 {
		d.img.CFA = d.img.CFA.ShiftRight(pos.X % d.img.CFA.W).ShiftDown(pos.Y % d.img.CFA.H)
	}
	return d.img.SubFrame(rawimage.Rectangle{Pos: pos, Dim: size})
}

// id returns the root tree's make/model pair, or empty strings when the
// file carries none.
func (d *tiffDecoder) id() tiff.ID {
	id, err := d.root.GetID()
	if err != nil {
		return tiff.ID{}
	}
	return id
}

// isoSpeed returns the ISO rating from anywhere in the tree, or 0.
func (d *tiffDecoder) isoSpeed() int {
	if e, ok := d.root.GetEntryRecursive(tiff.TagISOSpeedRatings); ok {
		if v, err := e.GetU32(0); err == nil {
			return int(v)
		}
	}
	return 0
}
