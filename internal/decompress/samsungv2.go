package decompress

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// OptFlags are the three independent format variations NX1-generation
// Samsung SRW files can opt into, packed into a 4-bit header field.
type OptFlags uint32

const (
	optNone OptFlags = 0
	// optSkip: no per-block bit marks a block as having no differences;
	// every block reads its difference bit lengths.
	optSkip OptFlags = 1 << 0
	// optMV: motion vector selection is a single bit (3 or 7) instead
	// of a 3-bit code.
	optMV OptFlags = 1 << 1
	// optQP: never read a per-64-column scale update; the diffs are
	// used unscaled.
	optQP  OptFlags = 1 << 2
	optAll          = optSkip | optMV | optQP
)

// SamsungV2 decodes third-generation compressed SRW (NX1): each line is
// coded as 16-pixel blocks, each block predicted from either the
// previous pixel pair on the same line or a motion-compensated lookup
// one or two lines up, plus a per-pixel difference whose bit width is
// itself adaptively coded relative to the previous block of the same
// color.
type SamsungV2 struct {
	headerBitDepth uint32 // bit depth as declared in the stream's own header
	outputBits     int    // bit depth the caller wants samples clamped to
	width, height  int
	flags          OptFlags
	initVal        uint16

	data *bitio.Stream

	motion       int
	scale        int
	diffBitsMode [3][2]int
}

// NewSamsungV2 parses bs's 16-byte header and returns a decompressor
// ready to decode bit-deep (12 or 14) samples into an image of the
// dimensions the header declares.
func NewSamsungV2(bs *bitio.Stream, bit int) (*SamsungV2, error) {
	if bit != 12 && bit != 14 {
		return nil, fmt.Errorf("%w: unexpected bits per pixel %d", ErrBadParams, bit)
	}
	if bs.Remaining() < 16 {
		return nil, fmt.Errorf("%w: samsung v2 header truncated", ErrTruncated)
	}

	pump := bitio.NewMSB32Pump(bs)
	read := func(n int) (uint32, error) {
		v, err := pump.GetBits(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		return v, nil
	}

	if _, err := read(16); err != nil { // NLCVersion
		return nil, err
	}
	if _, err := read(4); err != nil { // ImgFormat
		return nil, err
	}
	bd, err := read(4)
	if err != nil {
		return nil, err
	}
	headerBitDepth := bd + 1
	if headerBitDepth != 12 && headerBitDepth != 14 {
		return nil, fmt.Errorf("%w: unexpected header bit depth %d", ErrBadParams, headerBitDepth)
	}
	if _, err := read(4); err != nil { // NumBlkInRCUnit
		return nil, err
	}
	if _, err := read(4); err != nil { // CompressionRatio
		return nil, err
	}
	w, err := read(16)
	if err != nil {
		return nil, err
	}
	h, err := read(16)
	if err != nil {
		return nil, err
	}
	if _, err := read(16); err != nil { // TileWidth
		return nil, err
	}
	if _, err := read(4); err != nil { // reserved
		return nil, err
	}
	optflagsRaw, err := read(4)
	if err != nil {
		return nil, err
	}
	if optflagsRaw > uint32(optAll) {
		return nil, fmt.Errorf("%w: invalid opt flags %#x", ErrBadParams, optflagsRaw)
	}
	if _, err := read(8); err != nil { // OverlapWidth
		return nil, err
	}
	if _, err := read(8); err != nil { // reserved
		return nil, err
	}
	if _, err := read(8); err != nil { // Inc
		return nil, err
	}
	if _, err := read(2); err != nil { // reserved
		return nil, err
	}
	iv, err := read(14)
	if err != nil {
		return nil, err
	}

	width, height := int(w), int(h)
	if width == 0 || height == 0 || width%16 != 0 || width > 6496 || height > 4336 {
		return nil, fmt.Errorf("%w: unexpected samsung v2 dimensions %dx%d", ErrBadParams, width, height)
	}

	dataStream, err := bs.GetStream(bs.Remaining())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	return &SamsungV2{
		headerBitDepth: headerBitDepth,
		outputBits:     bit,
		width:          width,
		height:         height,
		flags:          OptFlags(optflagsRaw),
		initVal:        uint16(iv),
		data:           dataStream,
	}, nil
}

func samsungClamp(v, bits int) uint16 {
	max := (1 << uint(bits)) - 1
	if v < 0 {
		return 0
	}
	if v > max {
		return uint16(max)
	}
	return uint16(v)
}

func sv2SignExtend(v uint32, length int) int32 {
	shift := uint(32 - length)
	return int32(v) << shift >> shift
}

func (d *SamsungV2) Decompress(img *rawimage.Image) error {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return fmt.Errorf("%w: samsung v2 requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	if dim.X != d.width || dim.Y != d.height {
		return fmt.Errorf("%w: exif dimensions %dx%d do not match header %dx%d", ErrBadParams, dim.X, dim.Y, d.width, d.height)
	}
	for row := 0; row < d.height; row++ {
		if err := d.decompressRow(img, row); err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}
	}
	return nil
}

func (d *SamsungV2) decompressRow(img *rawimage.Image, row int) error {
	lineOffset := d.data.Position()
	if lineOffset&0xf != 0 {
		if err := d.data.Skip(16 - (lineOffset & 0xf)); err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
	}
	pump := bitio.NewMSB32Pump(d.data)

	d.motion = 7
	d.scale = 0
	initMode := 7
	if row != 0 && row != 1 {
		initMode = 4
	}
	for c := 0; c < 3; c++ {
		d.diffBitsMode[c][0] = initMode
		d.diffBitsMode[c][1] = initMode
	}

	for col := 0; col < d.width; col += 16 {
		if err := d.processBlock(pump, img, row, col); err != nil {
			return err
		}
	}

	d.data.SetPosition(pump.Position())
	return nil
}

func (d *SamsungV2) processBlock(pump *bitio.MSB32Pump, img *rawimage.Image, row, col int) error {
	baseline, err := d.prepareBaselineValues(pump, img, row, col)
	if err != nil {
		return err
	}
	diffs, err := d.decodeDifferences(pump, row)
	if err != nil {
		return err
	}
	rowBytes, err := img.RowUncropped(row)
	if err != nil {
		return err
	}
	for i := 0; i < 16; i++ {
		v := samsungClamp(int(baseline[i])+diffs[i], d.outputBits)
		rowSetU16(rowBytes, col+i, v)
	}
	return nil
}

func (d *SamsungV2) prepareBaselineValues(pump *bitio.MSB32Pump, img *rawimage.Image, row, col int) ([16]uint16, error) {
	var baseline [16]uint16

	if d.flags&optQP == 0 && col&63 == 0 {
		i, err := pump.GetBits(2)
		if err != nil {
			return baseline, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		scalevals := [3]int{0, -2, 2}
		if i < 3 {
			d.scale += scalevals[i]
		} else {
			v, err := pump.GetBits(12)
			if err != nil {
				return baseline, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			d.scale = int(v)
		}
	}

	if d.flags&optMV != 0 {
		b, err := pump.GetBits(1)
		if err != nil {
			return baseline, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		if b != 0 {
			d.motion = 3
		} else {
			d.motion = 7
		}
	} else {
		b, err := pump.GetBits(1)
		if err != nil {
			return baseline, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		if b == 0 {
			v, err := pump.GetBits(3)
			if err != nil {
				return baseline, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			d.motion = int(v)
		}
	}

	if (row == 0 || row == 1) && d.motion != 7 {
		return baseline, fmt.Errorf("%w: at start of image and motion isn't 7", ErrBadParams)
	}

	if d.motion == 7 {
		if col == 0 {
			for i := range baseline {
				baseline[i] = d.initVal
			}
			return baseline, nil
		}
		rowBytes, err := img.RowUncropped(row)
		if err != nil {
			return baseline, err
		}
		var prev [2]uint16
		for i := 0; i < 2; i++ {
			prev[i] = rowGetU16(rowBytes, col+i-2)
		}
		for i := 0; i < 16; i++ {
			baseline[i] = prev[i&1]
		}
		return baseline, nil
	}

	if row < 2 {
		return baseline, fmt.Errorf("%w: previous-line lookup on first two rows", ErrBadParams)
	}

	motionOffset := [7]int{-4, -2, -2, 0, 0, 2, 4}
	motionDoAverage := [7]int{0, 0, 1, 0, 1, 0, 0}
	slideOffset := motionOffset[d.motion]
	doAverage := motionDoAverage[d.motion]

	for i := 0; i < 16; i++ {
		refRow := row
		refCol := col + i + slideOffset

		if (row+i)&1 != 0 {
			refRow -= 2
		} else {
			refRow--
			if i&1 != 0 {
				refCol--
			} else {
				refCol++
			}
		}

		if refCol < 0 {
			return baseline, fmt.Errorf("%w: bad motion %d at the beginning of the row", ErrBadParams, d.motion)
		}
		if refCol >= d.width || (doAverage != 0 && refCol+2 >= d.width) {
			return baseline, fmt.Errorf("%w: bad motion %d at the end of the row", ErrBadParams, d.motion)
		}

		refRowBytes, err := img.RowUncropped(refRow)
		if err != nil {
			return baseline, err
		}
		if doAverage != 0 {
			a := int(rowGetU16(refRowBytes, refCol))
			b := int(rowGetU16(refRowBytes, refCol+2))
			baseline[i] = uint16((a + b + 1) >> 1)
		} else {
			baseline[i] = rowGetU16(refRowBytes, refCol)
		}
	}
	return baseline, nil
}

func (d *SamsungV2) decodeDiffLengths(pump *bitio.MSB32Pump, row int) ([4]int, error) {
	var diffBits [4]int

	if d.flags&optSkip == 0 {
		b, err := pump.GetBits(1)
		if err != nil {
			return diffBits, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		if b != 0 {
			return diffBits, nil
		}
	}

	var flags [4]int
	for i := range flags {
		v, err := pump.GetBits(2)
		if err != nil {
			return diffBits, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		flags[i] = int(v)
	}

	for i := 0; i < 4; i++ {
		var colornum int
		if row%2 != 0 {
			colornum = i >> 1
		} else {
			colornum = ((i >> 1) + 2) % 3
		}

		switch flags[i] {
		case 0:
			diffBits[i] = d.diffBitsMode[colornum][0]
		case 1:
			diffBits[i] = d.diffBitsMode[colornum][0] + 1
		case 2:
			if d.diffBitsMode[colornum][0] == 0 {
				return diffBits, fmt.Errorf("%w: difference bits underflow", ErrBadParams)
			}
			diffBits[i] = d.diffBitsMode[colornum][0] - 1
		case 3:
			v, err := pump.GetBits(4)
			if err != nil {
				return diffBits, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			diffBits[i] = int(v)
		}

		d.diffBitsMode[colornum][0] = d.diffBitsMode[colornum][1]
		d.diffBitsMode[colornum][1] = diffBits[i]

		if diffBits[i] > int(d.headerBitDepth)+1 {
			return diffBits, fmt.Errorf("%w: too many difference bits (%d)", ErrBadParams, diffBits[i])
		}
	}
	return diffBits, nil
}

func (d *SamsungV2) getDiff(pump *bitio.MSB32Pump, length int) (int16, error) {
	if length == 0 {
		return 0, nil
	}
	v, err := pump.GetBits(length)
	if err != nil {
		return 0, err
	}
	return int16(sv2SignExtend(v, length)), nil
}

func (d *SamsungV2) decodeDifferences(pump *bitio.MSB32Pump, row int) ([16]int, error) {
	diffBits, err := d.decodeDiffLengths(pump, row)
	if err != nil {
		return [16]int{}, err
	}

	var diffs [16]int16
	for i := 0; i < 16; i++ {
		v, err := d.getDiff(pump, diffBits[i>>2])
		if err != nil {
			return [16]int{}, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		diffs[i] = v
	}

	var shuffled [16]int16
	for i := 0; i < 16; i++ {
		var p int
		if row%2 != 0 {
			p = ((i % 8) << 1) - (i >> 3) + 1
		} else {
			p = ((i % 8) << 1) + (i >> 3)
		}
		shuffled[p] = diffs[i]
	}

	var scaled [16]int
	for i := 0; i < 16; i++ {
		scaled[i] = int(shuffled[i])*(d.scale*2+1) + d.scale
	}
	return scaled, nil
}
