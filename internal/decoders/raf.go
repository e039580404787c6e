package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// rafDecoder handles FujiFilm RAF files (the inner TIFF of the RAF
// wrapper): compressed X-Trans/Bayer payloads and the various
// uncompressed SuperCCD layouts, including the 45-degree rotation the
// diagonal sensels need.
type rafDecoder struct {
	tiffDecoder
	altLayout bool
}

func newRafDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *rafDecoder {
	return &rafDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *rafDecoder) rawDimensions(raw *tiff.IFD) (width, height uint32, err error) {
	if raw.HasEntry(tagFujiFullHeight) {
		height = entryU32(raw, tagFujiFullHeight)
		width = entryU32(raw, tagFujiFullWidth)
	} else if e, ok := raw.GetEntry(tiff.TagImageWidth); ok {
		h16, err0 := e.GetU16(0)
		w16, err1 := e.GetU16(1)
		if err0 != nil || err1 != nil {
			return 0, 0, fmt.Errorf("%w: unreadable image size", ErrDecoder)
		}
		height, width = uint32(h16), uint32(w16)
	} else {
		return 0, 0, fmt.Errorf("%w: unable to locate image size", ErrDecoder)
	}
	if width == 0 || height == 0 || width > 9216 || height > 6210 {
		return 0, 0, fmt.Errorf("%w: unexpected RAF dimensions %dx%d", ErrDecoder, width, height)
	}
	return width, height, nil
}

func (d *rafDecoder) isCompressed() (bool, error) {
	raw, err := d.root.GetIFDWithTag(tagFujiStripOffs, 0)
	if err != nil {
		return false, fmt.Errorf("%w: no raw strip found", ErrDecoder)
	}
	width, height, err := d.rawDimensions(raw)
	if err != nil {
		return false, err
	}
	count := entryU32(raw, tagFujiStripBytes)
	return uint64(count)*8/(uint64(width)*uint64(height)) < 10, nil
}

func (d *rafDecoder) CheckSupport(db *camera.Database) error {
	if err := d.checkCameraSupported(db, d.id(), ""); err != nil {
		return err
	}
	compressed, err := d.isCompressed()
	if err != nil {
		return err
	}
	if compressed {
		id := d.id()
		if _, ok := db.GetCamera(id.Make, id.Model, "compressed"); !ok {
			return fmt.Errorf("%w: %q %q (compressed)", ErrUnsupportedCamera, id.Make, id.Model)
		}
	}
	return nil
}

func (d *rafDecoder) DecodeRaw() (*rawimage.Image, error) {
	raw, err := d.root.GetIFDWithTag(tagFujiStripOffs, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: no raw strip found", ErrDecoder)
	}
	width, height, err := d.rawDimensions(raw)
	if err != nil {
		return nil, err
	}

	if e, ok := raw.GetEntry(tagFujiLayout); ok {
		if b, err := e.GetByte(0); err == nil {
			d.altLayout = b>>7 == 0
		}
	}

	offsets, ok0 := raw.GetEntry(tagFujiStripOffs)
	counts, ok1 := raw.GetEntry(tagFujiStripBytes)
	if !ok0 || !ok1 || offsets.Count != 1 || counts.Count != 1 {
		return nil, fmt.Errorf("%w: unexpected strip layout", ErrDecoder)
	}
	off, _ := offsets.GetU32(0)
	count, _ := counts.GetU32(0)

	in, err := d.fileStream(off, count)
	if err != nil {
		return nil, err
	}

	compressed, err := d.isCompressed()
	if err != nil {
		return nil, err
	}
	if compressed {
		d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(width), Y: int(height)}, 1)
		d.img.IsCFA = true
		d.img.Metadata.Mode = "compressed"

		f, err := decompress.NewFuji(d.img, in)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		if err := d.img.CreateData(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		if err := f.Decompress(d.img); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		return d.img, nil
	}

	// Auto-detect the packing from the strip size; SuperCCD bodies
	// store a second, darker exposure next to the first.
	bits := uint64(count) * 8
	area := uint64(width) * uint64(height)
	var bps int
	switch {
	case bits >= 2*16*area:
		bps = 16
	case bits >= 2*14*area:
		bps = 14
	case bits >= 2*12*area:
		bps = 12
	case bits >= 16*area:
		bps = 16
	case bits >= 14*area:
		bps = 14
	case bits >= 12*area:
		bps = 12
	default:
		return nil, fmt.Errorf("%w: cannot detect RAF bit depth", ErrDecoder)
	}

	doubleWidth := d.hints.GetBool("double_width_unpacked", false)
	realWidth := width
	if doubleWidth {
		realWidth = 2 * width
	}

	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(realWidth), Y: int(height)}, 1)
	d.img.IsCFA = true
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	u := decompress.NewUncompressed(in)
	switch {
	case doubleWidth:
		err = u.DecodeRawUnpacked(d.img, int(width)*2, int(height), 16, false)
	case in.Order() == bitio.BigEndian:
		err = u.DecodeRawUnpacked(d.img, int(width), int(height), 16, true)
	default:
		pitch := int(width) * bps / 8
		order := decompress.LSB
		if d.hints.GetBool("jpeg32_bitorder", false) {
			order = decompress.MSB32
		}
		err = u.ReadRaw(d.img, rawimage.Point{X: int(realWidth), Y: int(height)},
			rawimage.Point{}, pitch, bps, order)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

func (d *rafDecoder) DecodeMetadata(db *camera.Database) error {
	if d.img == nil {
		return fmt.Errorf("%w: no image decoded yet", ErrDecoder)
	}
	iso := d.isoSpeed()
	d.img.Metadata.ISOSpeed = iso

	id := d.id()
	cam, ok := db.GetCamera(id.Make, id.Model, d.img.Metadata.Mode)
	if !ok {
		cam, ok = db.GetCamera(id.Make, id.Model, "")
	}
	if !ok {
		return fmt.Errorf("%w: %q %q", ErrUnsupportedCamera, id.Make, id.Model)
	}

	newSize := d.img.Dim()
	cropOffset := rawimage.Point{}
	if d.opts.ApplyCrop {
		newSize = rawimage.Point{X: cam.CropSize[0], Y: cam.CropSize[1]}
		cropOffset = rawimage.Point{X: cam.CropPos[0], Y: cam.CropPos[1]}
		doubleWidth := d.hints.GetBool("double_width_unpacked", false)
		div := 1
		if doubleWidth {
			div = 2
		}
		if newSize.X <= 0 {
			newSize.X = d.img.Dim().X/div - cropOffset.X + newSize.X
		} else {
			newSize.X /= div
		}
		if newSize.Y <= 0 {
			newSize.Y = d.img.Dim().Y - cropOffset.Y + newSize.Y
		}
	}

	rotate := d.hints.GetBool("fuji_rotate", false) && d.opts.FujiRotate

	if rotate && !d.opts.UncorrectedRawValues {
		if err := d.rotateDiagonal(newSize, cropOffset); err != nil {
			return err
		}
	} else if d.opts.ApplyCrop {
		if err := d.img.SubFrame(rawimage.Rectangle{Pos: cropOffset, Dim: newSize}); err != nil {
			return fmt.Errorf("%w: %v", ErrDecoder, err)
		}
	}

	if si, ok := cam.GetSensorInfo(iso); ok {
		d.img.BlackLevel = si.BlackLevel
		d.img.WhitePoint = si.WhiteLevel
	}

	// Per-channel black, when the body provides one.
	if sep, ok := d.root.GetEntryRecursive(tagFujiBlackLevel); ok {
		switch sep.Count {
		case 4:
			for k := uint32(0); k < 4; k++ {
				if v, err := sep.GetU32(k); err == nil {
					d.img.BlackLevelSeparate[k] = int(v)
				}
			}
		case 36:
			// A 6x6 grid: average each 2x2 parity class.
			var acc [4]int
			for y := 0; y < 6; y++ {
				for x := 0; x < 6; x++ {
					if v, err := sep.GetU32(uint32(6*y + x)); err == nil {
						acc[2*(y%2)+x%2] += int(v)
					}
				}
			}
			for k := range acc {
				d.img.BlackLevelSeparate[k] = acc[k] / 9
			}
		}
	}

	d.img.BlackAreas = append(d.img.BlackAreas, cam.BlackAreas...)
	if len(cam.CFA.Colors) != 0 {
		d.img.CFA = cam.CFA
	}
	d.img.Metadata.CanonicalMake = cam.CanonicalMake
	d.img.Metadata.CanonicalModel = cam.CanonicalModel
	d.img.Metadata.CanonicalAlias = cam.CanonicalAlias
	d.img.Metadata.CanonicalID = cam.CanonicalID
	d.img.Metadata.Make = id.Make
	d.img.Metadata.Model = id.Model

	if wb, ok := d.root.GetEntryRecursive(tagFujiWBGRB); ok && wb.Count == 3 {
		g, _ := wb.GetFloat(0)
		r, _ := wb.GetFloat(1)
		b, _ := wb.GetFloat(2)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), float32(g), float32(b), 0}
	} else if wb, ok := d.root.GetEntryRecursive(tagFujiOldWB); ok && wb.Count == 8 {
		g, _ := wb.GetFloat(0)
		r, _ := wb.GetFloat(1)
		b, _ := wb.GetFloat(3)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), float32(g), float32(b), 0}
	}
	return nil
}

// rotateDiagonal re-rasters SuperCCD data: the sensels sit on a lattice
// rotated 45 degrees from the output grid, so the decoded raster is
// rewritten into a larger square canvas with the diagonal mapping.
func (d *rafDecoder) rotateDiagonal(newSize, cropOffset rawimage.Point) error {
	var rotatedSize, rotationPos int
	if d.altLayout {
		rotatedSize = newSize.Y + newSize.X/2
		rotationPos = newSize.X/2 - 1
	} else {
		rotatedSize = newSize.X + newSize.Y/2
		rotationPos = newSize.X - 1
	}

	finalSize := rawimage.Point{X: rotatedSize, Y: rotatedSize - 1}
	rotated := rawimage.NewImage(rawimage.U16, finalSize, 1)
	rotated.IsCFA = d.img.IsCFA
	rotated.CFA = d.img.CFA
	rotated.Metadata = d.img.Metadata
	rotated.Metadata.FujiRotationPos = rotationPos
	if err := rotated.CreateData(); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	rotated.ClearArea(rawimage.Rectangle{Dim: finalSize}, 0)

	for y := 0; y < newSize.Y; y++ {
		for x := 0; x < newSize.X; x++ {
			var h, w int
			if d.altLayout {
				h = rotatedSize - (newSize.Y + 1 - y + (x >> 1))
				w = (x+1)>>1 + y
			} else {
				h = newSize.X - 1 - x + (y >> 1)
				w = (y+1)>>1 + x
			}
			if h >= finalSize.Y || w >= finalSize.X || h < 0 || w < 0 {
				return fmt.Errorf("%w: rotation writes out of bounds", ErrDecoder)
			}
			rotated.SetU16(w, h, 0, d.img.GetU16(cropOffset.X+x, cropOffset.Y+y, 0))
		}
	}
	d.img = rotated
	return nil
}
