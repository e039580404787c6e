package decoders

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/dngopcode"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// dngDecoder handles Adobe DNG in all its compressions, including
// vendor DNGs (Leica, Pentax DNG modes, GoPro VC-5).
type dngDecoder struct {
	tiffDecoder
	fixLjpeg bool
	bps      int
}

func newDngDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *dngDecoder {
	d := &dngDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
	if e, ok := root.GetEntryRecursive(tiff.TagDNGVersion); ok {
		major, err0 := e.GetByte(0)
		minor, err1 := e.GetByte(1)
		// Pre-1.1 writers had a lossless JPEG layout bug the tile codec
		// must compensate for.
		if err0 == nil && err1 == nil && major == 1 && minor < 1 {
			d.fixLjpeg = true
		}
	}
	return d
}

func (d *dngDecoder) CheckSupport(db *camera.Database) error {
	// DNGs are assumed decodable unless the database says otherwise.
	d.opts.FailOnUnknown = false

	if !d.root.HasEntryRecursive(tiff.TagMake) || !d.root.HasEntryRecursive(tiff.TagModel) {
		if e, ok := d.root.GetEntryRecursive(tagUniqueCameraModel); ok {
			if unique, err := e.GetString(); err == nil {
				return d.checkCameraSupported(db, tiff.ID{Make: unique, Model: unique}, "dng")
			}
		}
		return nil
	}
	return d.checkCameraSupported(db, d.id(), "dng")
}

// dropUnsupportedChunks filters the candidate raw IFDs down to those
// whose compression this build decodes and that are not subsampled or
// alpha sub-images.
func (d *dngDecoder) dropUnsupportedChunks(data []*tiff.IFD) []*tiff.IFD {
	var out []*tiff.IFD
	for _, ifd := range data {
		compEntry, ok := ifd.GetEntry(tiff.TagCompression)
		if !ok {
			continue
		}
		comp, err := compEntry.GetU32(0)
		if err != nil {
			continue
		}

		subsampled, alpha := false, false
		if e, ok := ifd.GetEntry(tagNewSubFileType); ok && e.IsInt() {
			if v, err := e.GetU32(0); err == nil {
				subsampled = v&1 != 0
				alpha = v&4 != 0
			}
		}
		if subsampled || alpha {
			continue
		}

		switch comp {
		case decompress.DngCompressionNone, decompress.DngCompressionLJpeg,
			decompress.DngCompressionDeflate, decompress.DngCompressionVC5,
			decompress.DngCompressionLossyJpg:
			out = append(out, ifd)
		}
	}
	return out
}

func (d *dngDecoder) parseCFA(raw *tiff.IFD) error {
	if e, ok := raw.GetEntry(tagCFALayout); ok {
		if v, err := e.GetU16(0); err == nil && v != 1 {
			return fmt.Errorf("%w: unsupported CFA layout %d", ErrDecoder, v)
		}
	}

	cfadim, ok := raw.GetEntry(tiff.TagCFARepeatPatDim)
	if !ok || cfadim.Count != 2 {
		return fmt.Errorf("%w: bad CFA pattern dimension", ErrDecoder)
	}
	cpat, ok := raw.GetEntry(tiff.TagCFAPattern)
	if !ok {
		return fmt.Errorf("%w: missing CFA pattern", ErrDecoder)
	}

	h, err0 := cfadim.GetU32(0)
	w, err1 := cfadim.GetU32(1)
	if err0 != nil || err1 != nil || int(w*h) != int(cpat.Count) {
		return fmt.Errorf("%w: CFA dimension and pattern count mismatch", ErrDecoder)
	}

	d.img.CFA = camera.NewCfaPattern(int(w), int(h))
	for y := 0; y < int(h); y++ {
		for x := 0; x < int(w); x++ {
			c, err := cpat.GetByte(uint32(x + y*int(w)))
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
			case 3:
				col = camera.Cyan
			case 4:
				col = camera.Magenta
			case 5:
				col = camera.Yellow
			case 6:
				col = camera.White
			default:
				return fmt.Errorf("%w: unsupported CFA color %d", ErrDecoder, c)
			}
			d.img.CFA.SetColorAt(x, y, col)
		}
	}
	return nil
}

func (d *dngDecoder) decodeData(raw *tiff.IFD, compression int, sampleFormat uint32) error {
	if compression == decompress.DngCompressionDeflate && sampleFormat != 3 {
		return fmt.Errorf("%w: deflate requires floating point data", ErrDecoder)
	}
	if (compression == decompress.DngCompressionLJpeg ||
		compression == decompress.DngCompressionLossyJpg) && sampleFormat != 1 {
		return fmt.Errorf("%w: JPEG compression requires unsigned integer data", ErrDecoder)
	}

	dim := d.img.UncroppedDim()
	slices := &decompress.DngSlices{
		Compression: compression,
		FixLjpeg:    d.fixLjpeg,
		Bps:         d.bps,
	}
	if e, ok := raw.GetEntry(tagPredictor); ok {
		if v, err := e.GetU32(0); err == nil {
			slices.Predictor = int(v)
		}
	}

	order := bitio.LittleEndian
	if d.file.Order() == bitio.BigEndian {
		order = bitio.BigEndian
	}

	if raw.HasEntry(tiff.TagTileOffsets) {
		tileWE, ok0 := raw.GetEntry(tiff.TagTileWidth)
		tileHE, ok1 := raw.GetEntry(tiff.TagTileLength)
		if !ok0 || !ok1 {
			return fmt.Errorf("%w: tiled image without tile dimensions", ErrDecoder)
		}
		tileW, err0 := tileWE.GetU32(0)
		tileH, err1 := tileHE.GetU32(0)
		if err0 != nil || err1 != nil || tileW == 0 || tileH == 0 {
			return fmt.Errorf("%w: invalid tile size", ErrDecoder)
		}

		desc, err := decompress.NewDngTilingDescription(dim, int(tileW), int(tileH))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		slices.Desc = desc

		offsets, ok0 := raw.GetEntry(tiff.TagTileOffsets)
		counts, ok1 := raw.GetEntry(tiff.TagTileByteCounts)
		if !ok0 || !ok1 || offsets.Count != counts.Count || int(offsets.Count) != desc.NumTiles {
			return fmt.Errorf("%w: tile count mismatch", ErrDecoder)
		}

		for n := 0; n < desc.NumTiles; n++ {
			off, err0 := offsets.GetU32(uint32(n))
			cnt, err1 := counts.GetU32(uint32(n))
			if err0 != nil || err1 != nil || cnt < 1 {
				continue
			}
			if !d.isValidRange(off, cnt) {
				continue
			}
			bs, err := d.fileStream(off, cnt)
			if err != nil {
				continue
			}
			bs.SetOrder(order)
			slices.AddSlice(n, bs)
		}
	} else {
		offsets, ok0 := raw.GetEntry(tiff.TagStripOffsets)
		counts, ok1 := raw.GetEntry(tiff.TagStripByteCounts)
		if !ok0 || !ok1 || offsets.Count != counts.Count {
			return fmt.Errorf("%w: strip offset/count mismatch", ErrDecoder)
		}

		yPerSlice := uint32(dim.Y)
		if e, ok := raw.GetEntry(tiff.TagRowsPerStrip); ok {
			if v, err := e.GetU32(0); err == nil {
				yPerSlice = v
			}
		}
		if yPerSlice == 0 || yPerSlice > uint32(dim.Y) {
			return fmt.Errorf("%w: invalid rows per strip %d", ErrDecoder, yPerSlice)
		}

		desc, err := decompress.NewDngTilingDescription(dim, dim.X, int(yPerSlice))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		slices.Desc = desc

		for n := uint32(0); n < offsets.Count && int(n) < desc.NumTiles; n++ {
			off, err0 := offsets.GetU32(n)
			cnt, err1 := counts.GetU32(n)
			if err0 != nil || err1 != nil || cnt < 1 {
				continue
			}
			if !d.isValidRange(off, cnt) {
				continue
			}
			bs, err := d.fileStream(off, cnt)
			if err != nil {
				continue
			}
			bs.SetOrder(order)
			slices.AddSlice(int(n), bs)
		}
	}

	if len(slices.Slices) == 0 {
		return fmt.Errorf("%w: no valid slices found", ErrDecoder)
	}

	if err := d.img.CreateData(); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if err := slices.Decompress(d.img); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return nil
}

func (d *dngDecoder) DecodeRaw() (*rawimage.Image, error) {
	data := d.dropUnsupportedChunks(d.root.GetIFDsWithTag(tiff.TagCompression))
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no decodable RAW chunks found", ErrDecoder)
	}
	raw := data[0]

	bpsE, ok := raw.GetEntry(tiff.TagBitsPerSample)
	if !ok {
		return nil, fmt.Errorf("%w: missing bits per sample", ErrDecoder)
	}
	bps, err := bpsE.GetU32(0)
	if err != nil || bps < 1 || bps > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDecoder, bps)
	}
	d.bps = int(bps)

	sampleFormat := uint32(1)
	if e, ok := raw.GetEntry(tagSampleFormat); ok {
		if v, err := e.GetU32(0); err == nil {
			sampleFormat = v
		}
	}

	compE, ok := raw.GetEntry(tiff.TagCompression)
	if !ok {
		return nil, fmt.Errorf("%w: missing compression", ErrDecoder)
	}
	compression, err := compE.GetU32(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	widthE, ok0 := raw.GetEntry(tiff.TagImageWidth)
	heightE, ok1 := raw.GetEntry(tiff.TagImageLength)
	if !ok0 || !ok1 {
		return nil, fmt.Errorf("%w: missing image dimensions", ErrDecoder)
	}
	width, err0 := widthE.GetU32(0)
	height, err1 := heightE.GetU32(0)
	if err0 != nil || err1 != nil || width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: invalid image dimensions", ErrDecoder)
	}

	var ptype rawimage.PixelType
	switch sampleFormat {
	case 1:
		ptype = rawimage.U16
	case 3:
		ptype = rawimage.F32
	default:
		return nil, fmt.Errorf("%w: sample format %d not supported", ErrDecoder, sampleFormat)
	}
	if sampleFormat == 1 && bps > 16 {
		return nil, fmt.Errorf("%w: integer deeper than 16 bits", ErrDecoder)
	}
	if sampleFormat == 3 && bps != 32 && compression != decompress.DngCompressionDeflate {
		return nil, fmt.Errorf("%w: uncompressed float must be 32 bits", ErrDecoder)
	}

	cpp := uint32(1)
	if e, ok := raw.GetEntry(tagSamplesPerPixel); ok {
		if v, err := e.GetU32(0); err == nil {
			cpp = v
		}
	}
	if cpp < 1 || cpp > 4 {
		return nil, fmt.Errorf("%w: unsupported samples per pixel %d", ErrDecoder, cpp)
	}

	d.img = rawimage.NewImage(ptype, rawimage.Point{X: int(width), Y: int(height)}, int(cpp))

	if e, ok := raw.GetEntry(tagPhotometric); ok {
		if v, err := e.GetU16(0); err == nil {
			d.img.IsCFA = v == 32803
		}
	}
	if d.img.IsCFA {
		if err := d.parseCFA(raw); err != nil {
			return nil, err
		}
	}

	if err := d.decodeData(raw, int(compression), sampleFormat); err != nil {
		return nil, err
	}

	// Crops: the active area first, then the default crop.
	if e, ok := raw.GetEntry(tiff.TagDNGActiveArea); ok && e.Count == 4 {
		if corners, err := e.GetU32Array(); err == nil {
			crop := rawimage.NewRectangle(int(corners[1]), int(corners[0]),
				int(corners[3]-corners[1]), int(corners[2]-corners[0]))
			dim := d.img.Dim()
			if crop.Pos.X >= 0 && crop.Pos.Y >= 0 &&
				crop.Pos.X+crop.Dim.X <= dim.X && crop.Pos.Y+crop.Dim.Y <= dim.Y {
				if err := d.img.SubFrame(crop); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
				}
			}
		}
	}

	if origin, ok0 := raw.GetEntry(tiff.TagDNGDefaultCropOrigin); ok0 {
		if size, ok1 := raw.GetEntry(tiff.TagDNGDefaultCropSize); ok1 {
			if err := d.applyDefaultCrop(origin, size); err != nil {
				return nil, err
			}
		}
	}
	if dim := d.img.Dim(); dim.X <= 0 || dim.Y <= 0 {
		return nil, fmt.Errorf("%w: no image left after crop", ErrDecoder)
	}

	// Stage 1 opcodes.
	if d.opts.ApplyStage1DngOpcodes {
		if e, ok := raw.GetEntry(tagOpcodeList1); ok {
			if err := d.applyOpcodes(e); err != nil {
				d.img.SetError(err.Error())
			}
		}
	}

	// Linearization table (16-bit data only).
	if e, ok := raw.GetEntry(tagLinearizationTable); ok && e.Count > 0 && ptype == rawimage.U16 {
		if table, err := e.GetU16Array(); err == nil {
			d.applyLinearization(table)
		}
	}

	// White level: default is full-scale for the bit depth.
	d.img.WhitePoint = (1 << bps) - 1
	if e, ok := raw.GetEntry(tiff.TagDNGWhiteLevel); ok && e.IsInt() {
		if v, err := e.GetU32(0); err == nil {
			d.img.WhitePoint = int(v)
		}
	}

	d.setBlack(raw)

	// Lossy DNG bakes its black/white scaling in before stage 2 opcodes.
	if compression == decompress.DngCompressionLossyJpg && !d.opts.UncorrectedRawValues {
		d.img.ScaleBlackWhite()
		if e, ok := raw.GetEntry(tiff.TagDNGOpcodeList2); ok {
			if err := d.applyOpcodes(e); err != nil {
				d.img.SetError(err.Error())
			}
		}
		d.img.BlackAreas = nil
		d.img.BlackLevel = 0
		d.img.BlackLevelSeparate = [4]int{}
		d.img.WhitePoint = 65535
	}

	return d.img, nil
}

func (d *dngDecoder) applyDefaultCrop(origin, size tiff.Entry) error {
	dim := d.img.Dim()
	cropped := rawimage.NewRectangle(0, 0, dim.X, dim.Y)

	tlX, err0 := origin.GetFloat(0)
	tlY, err1 := origin.GetFloat(1)
	if err0 == nil && err1 == nil && int(tlX) >= 0 && int(tlY) >= 0 &&
		int(tlX) <= dim.X && int(tlY) <= dim.Y {
		cropped = rawimage.NewRectangle(int(tlX), int(tlY), 0, 0)
	}
	cropped.Dim = rawimage.Point{X: dim.X - cropped.Pos.X, Y: dim.Y - cropped.Pos.Y}

	szX, err0 := size.GetFloat(0)
	szY, err1 := size.GetFloat(1)
	if err0 == nil && err1 == nil &&
		cropped.Pos.X+int(szX) <= dim.X && cropped.Pos.Y+int(szY) <= dim.Y {
		cropped.Dim = rawimage.Point{X: int(szX), Y: int(szY)}
	}

	if cropped.Dim.X <= 0 || cropped.Dim.Y <= 0 {
		return fmt.Errorf("%w: no positive crop area", ErrDecoder)
	}
	if err := d.img.SubFrame(cropped); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return nil
}

func (d *dngDecoder) applyOpcodes(e tiff.Entry) error {
	data := e.Data()
	raw, err := data.GetBytes(data.Remaining())
	if err != nil {
		return fmt.Errorf("%w: opcode list unreadable: %v", ErrDecoder, err)
	}
	list, err := dngopcode.Parse(raw, d.img)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	if err := list.Apply(d.img); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return nil
}

// applyLinearization pushes every pixel through the DNG linearization
// LUT. With uncorrected values requested, the table is left installed
// for the caller instead of being baked in.
func (d *dngDecoder) applyLinearization(table []uint16) {
	t := rawimage.NewTable(table, !d.opts.UncorrectedRawValues)
	d.img.SetTable(t)
	if d.opts.UncorrectedRawValues {
		return
	}

	dim := d.img.UncroppedDim()
	cpp := d.img.Cpp()
	var random uint32
	for y := 0; y < dim.Y; y++ {
		row, err := d.img.RowUncropped(y)
		if err != nil {
			continue
		}
		for s := 0; s < dim.X*cpp; s++ {
			v := uint16(row[s*2]) | uint16(row[s*2+1])<<8
			if int(v) >= len(table) {
				continue
			}
			d.img.SetWithLookup(v, row[s*2:s*2+2], &random)
		}
	}
	d.img.SetTable(nil)
}

// decodeMaskedAreas converts DNG MaskedAreas rectangles that span the
// full active width or height into black areas.
func (d *dngDecoder) decodeMaskedAreas(raw *tiff.IFD) bool {
	masked, ok := raw.GetEntry(tagMaskedAreas)
	if !ok {
		return false
	}
	if masked.Type != tiff.TypeShort && masked.Type != tiff.TypeLong {
		return false
	}
	nrects := int(masked.Count) / 4
	if nrects == 0 {
		return false
	}
	rects, err := masked.GetU32Array()
	if err != nil {
		return false
	}

	top := d.img.CropOffset()
	dim := d.img.Dim()
	for i := 0; i < nrects; i++ {
		topleft := rawimage.Point{X: int(rects[i*4+1]), Y: int(rects[i*4])}
		bottomright := rawimage.Point{X: int(rects[i*4+3]), Y: int(rects[i*4+2])}
		if topleft.X <= top.X && bottomright.X >= dim.X+top.X {
			d.img.BlackAreas = append(d.img.BlackAreas,
				camera.BlackArea{Offset: topleft.Y, Size: bottomright.Y - topleft.Y, IsVertical: false})
		} else if topleft.Y <= top.Y && bottomright.Y >= dim.Y+top.Y {
			d.img.BlackAreas = append(d.img.BlackAreas,
				camera.BlackArea{Offset: topleft.X, Size: bottomright.X - topleft.X, IsVertical: true})
		}
	}
	return len(d.img.BlackAreas) != 0
}

func (d *dngDecoder) decodeBlackLevels(raw *tiff.IFD) {
	blackdim := rawimage.Point{X: 1, Y: 1}
	if e, ok := raw.GetEntry(tagBlackLevelRepeat); ok && e.Count == 2 {
		x, err0 := e.GetU32(0)
		y, err1 := e.GetU32(1)
		if err0 == nil && err1 == nil {
			blackdim = rawimage.Point{X: int(x), Y: int(y)}
		}
	}
	if blackdim.X == 0 || blackdim.Y == 0 {
		return
	}

	blackE, ok := raw.GetEntry(tiff.TagDNGBlackLevel)
	if !ok {
		return
	}
	if d.img.Cpp() != 1 {
		return
	}
	if int(blackE.Count) < blackdim.X*blackdim.Y {
		return
	}

	if blackdim.X < 2 || blackdim.Y < 2 {
		if v, err := blackE.GetFloat(0); err == nil {
			for i := range d.img.BlackLevelSeparate {
				d.img.BlackLevelSeparate[i] = int(v)
			}
		}
	} else {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				if v, err := blackE.GetFloat(uint32(y*blackdim.X + x)); err == nil {
					d.img.BlackLevelSeparate[y*2+x] = int(v)
				}
			}
		}
	}

	// Per-row and per-column deltas fold into the four per-channel
	// levels as parity-wise means.
	dim := d.img.Dim()
	if e, ok := raw.GetEntry(tagBlackLevelDeltaV); ok && int(e.Count) >= dim.Y {
		var sum [2]float64
		for i := 0; i < dim.Y; i++ {
			if v, err := e.GetFloat(uint32(i)); err == nil {
				sum[i&1] += v
			}
		}
		for i := range d.img.BlackLevelSeparate {
			d.img.BlackLevelSeparate[i] += int(sum[i>>1] / float64(dim.Y) * 2.0)
		}
	}
	if e, ok := raw.GetEntry(tagBlackLevelDeltaH); ok && int(e.Count) >= dim.X {
		var sum [2]float64
		for i := 0; i < dim.X; i++ {
			if v, err := e.GetFloat(uint32(i)); err == nil {
				sum[i&1] += v
			}
		}
		for i := range d.img.BlackLevelSeparate {
			d.img.BlackLevelSeparate[i] += int(sum[i&1] / float64(dim.X) * 2.0)
		}
	}
}

func (d *dngDecoder) setBlack(raw *tiff.IFD) {
	if raw.HasEntry(tagMaskedAreas) && d.decodeMaskedAreas(raw) {
		return
	}
	d.img.BlackLevelSeparate = [4]int{}
	if raw.HasEntry(tiff.TagDNGBlackLevel) {
		d.decodeBlackLevels(raw)
	}
}

func (d *dngDecoder) DecodeMetadata(db *camera.Database) error {
	if d.img == nil {
		return fmt.Errorf("%w: no image decoded yet", ErrDecoder)
	}
	d.img.Metadata.ISOSpeed = d.isoSpeed()

	id := d.id()
	d.img.Metadata.Make = id.Make
	d.img.Metadata.Model = id.Model

	cam, ok := db.GetCamera(id.Make, id.Model, "dng")
	if !ok {
		cam, ok = db.GetCamera(id.Make, id.Model, "")
	}
	if !ok {
		cam, ok = db.GetCameraAnyMode(id.Make, id.Model)
	}
	if ok {
		d.img.Metadata.CanonicalMake = cam.CanonicalMake
		d.img.Metadata.CanonicalModel = cam.CanonicalModel
		d.img.Metadata.CanonicalAlias = cam.CanonicalAlias
		d.img.Metadata.CanonicalID = cam.CanonicalID
	} else {
		d.img.Metadata.CanonicalMake = id.Make
		d.img.Metadata.CanonicalModel = id.Model
		d.img.Metadata.CanonicalAlias = id.Model
		if e, ok := d.root.GetEntryRecursive(tagUniqueCameraModel); ok {
			if s, err := e.GetString(); err == nil {
				d.img.Metadata.CanonicalID = s
			}
		}
		if d.img.Metadata.CanonicalID == "" {
			d.img.Metadata.CanonicalID = id.Make + " " + id.Model
		}
	}

	// White balance.
	if e, ok := d.root.GetEntryRecursive(tagAsShotNeutral); ok && e.Count == 3 {
		for i := uint32(0); i < 3; i++ {
			if c, err := e.GetFloat(i); err == nil && c > 0 {
				d.img.Metadata.WBCoeffs[i] = float32(1.0 / c)
			}
		}
	} else if e, ok := d.root.GetEntryRecursive(tagAsShotWhiteXY); ok && e.Count == 2 {
		x, err0 := e.GetFloat(0)
		y, err1 := e.GetFloat(1)
		if err0 == nil && err1 == nil {
			d.img.Metadata.WBCoeffs[0] = float32(x)
			d.img.Metadata.WBCoeffs[1] = float32(y)
			d.img.Metadata.WBCoeffs[2] = float32(1 - x - y)
			d65 := [3]float32{0.950456, 1, 1.088754}
			for i := range d65 {
				d.img.Metadata.WBCoeffs[i] /= d65[i]
			}
		}
	}
	return nil
}
