package decompress

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// JPEG markers the lossless path cares about.
const (
	jpegSOI  = 0xD8
	jpegEOI  = 0xD9
	jpegSOF3 = 0xC3
	jpegDHT  = 0xC4
	jpegSOS  = 0xDA
	jpegDQT  = 0xDB
	jpegDRI  = 0xDD
)

// ljpegComponent is one frame component: its identifier and sampling
// factors (always 1x1 in camera lossless JPEG).
type ljpegComponent struct {
	id       byte
	superH   int
	superV   int
	dcTblNo  int
}

// ljpegFrame is the parsed SOF3 header.
type ljpegFrame struct {
	precision  int
	height     int
	width      int
	components []ljpegComponent
}

// ljpegHuff is a canonical Huffman table parsed from a DHT segment, in
// the classic mincode/maxcode/valptr form.
type ljpegHuff struct {
	mincode [17]int
	maxcode [17]int
	valptr  [17]int
	values  []byte
}

func buildLJpegHuff(counts [16]int, values []byte) ljpegHuff {
	var h ljpegHuff
	h.values = values
	code := 0
	k := 0
	for l := 1; l <= 16; l++ {
		h.valptr[l] = k
		h.mincode[l] = code
		code += counts[l-1]
		k += counts[l-1]
		h.maxcode[l] = code - 1
		code <<= 1
	}
	return h
}

func (h ljpegHuff) decodeSymbol(pump *bitio.JPEGPump) (byte, error) {
	b, _ := pump.GetBits(1)
	code := int(b)
	for l := 1; l <= 16; l++ {
		if code <= h.maxcode[l] {
			idx := h.valptr[l] + code - h.mincode[l]
			if idx >= len(h.values) {
				return 0, fmt.Errorf("%w: huffman code with no value", ErrBadParams)
			}
			return h.values[idx], nil
		}
		b, _ = pump.GetBits(1)
		code = code<<1 | int(b)
	}
	return 0, fmt.Errorf("%w: corrupt huffman code", ErrBadParams)
}

// decodeDifference reads one DC difference: a Huffman-coded bit length
// followed by that many magnitude bits, sign-extended the JPEG way. A
// length of 16 is the conventional -32768 escape.
func (h ljpegHuff) decodeDifference(pump *bitio.JPEGPump) (int, error) {
	sym, err := h.decodeSymbol(pump)
	if err != nil {
		return 0, err
	}
	length := int(sym)
	if length == 0 {
		return 0, nil
	}
	if length == 16 {
		return -32768, nil
	}
	bits, _ := pump.GetBits(length)
	return extend(int(bits), length), nil
}

// LJpeg decodes an SOF3 lossless JPEG stream into a rectangular tile of
// the output image. It is the tile codec for lossless DNG and for the
// vendor formats that embed lossless JPEG wholesale.
type LJpeg struct {
	in *bitio.Stream

	frame     ljpegFrame
	tables    [4]*ljpegHuff
	predictor int
	pt        int
}

// NewLJpeg wraps in, positioned at the SOI marker.
func NewLJpeg(in *bitio.Stream) *LJpeg {
	return &LJpeg{in: in}
}

func (d *LJpeg) nextMarker() (byte, error) {
	// Markers may be preceded by fill bytes (0xFF).
	for {
		b, err := d.in.GetByte()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		if b != 0xFF {
			continue
		}
		for {
			m, err := d.in.GetByte()
			if err != nil {
				return 0, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			if m == 0xFF {
				continue
			}
			if m == 0 {
				break // stuffed byte, not a marker
			}
			return m, nil
		}
	}
}

func (d *LJpeg) segmentLength() (int, error) {
	d.in.SetOrder(bitio.BigEndian)
	v, err := d.in.GetU16()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if v < 2 {
		return 0, fmt.Errorf("%w: bad segment length %d", ErrBadParams, v)
	}
	return int(v) - 2, nil
}

func (d *LJpeg) parseSOF() error {
	length, err := d.segmentLength()
	if err != nil {
		return err
	}
	seg, err := d.in.GetStream(length)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	seg.SetOrder(bitio.BigEndian)

	prec, err := seg.GetByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	h16, err := seg.GetU16()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	w16, err := seg.GetU16()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	nc, err := seg.GetByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	if prec < 2 || prec > 16 {
		return fmt.Errorf("%w: unsupported sample precision %d", ErrBadParams, prec)
	}
	if nc == 0 || nc > 4 {
		return fmt.Errorf("%w: unsupported component count %d", ErrBadParams, nc)
	}

	d.frame = ljpegFrame{precision: int(prec), height: int(h16), width: int(w16)}
	for i := 0; i < int(nc); i++ {
		id, err := seg.GetByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		sampling, err := seg.GetByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		if _, err := seg.GetByte(); err != nil { // quant table, unused in lossless
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		comp := ljpegComponent{
			id:     id,
			superH: int(sampling >> 4),
			superV: int(sampling & 0xF),
		}
		if comp.superH != 1 || comp.superV != 1 {
			return fmt.Errorf("%w: subsampled lossless JPEG", ErrUnsupported)
		}
		d.frame.components = append(d.frame.components, comp)
	}
	return nil
}

func (d *LJpeg) parseDHT() error {
	length, err := d.segmentLength()
	if err != nil {
		return err
	}
	seg, err := d.in.GetStream(length)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	for seg.Remaining() > 0 {
		tc, err := seg.GetByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		class := tc >> 4
		slot := tc & 0xF
		if class != 0 || slot > 3 {
			return fmt.Errorf("%w: bad huffman table class/slot %#x", ErrBadParams, tc)
		}
		var counts [16]int
		total := 0
		for i := 0; i < 16; i++ {
			c, err := seg.GetByte()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			counts[i] = int(c)
			total += int(c)
		}
		if total > 256 {
			return fmt.Errorf("%w: oversized huffman table", ErrBadParams)
		}
		values, err := seg.GetBytes(total)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		ht := buildLJpegHuff(counts, values)
		d.tables[slot] = &ht
	}
	return nil
}

func (d *LJpeg) parseSOS() error {
	length, err := d.segmentLength()
	if err != nil {
		return err
	}
	seg, err := d.in.GetStream(length)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	ns, err := seg.GetByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if int(ns) != len(d.frame.components) {
		return fmt.Errorf("%w: scan component count %d does not match frame", ErrBadParams, ns)
	}
	for i := 0; i < int(ns); i++ {
		id, err := seg.GetByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		tbl, err := seg.GetByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		found := false
		for j := range d.frame.components {
			if d.frame.components[j].id == id {
				d.frame.components[j].dcTblNo = int(tbl >> 4)
				found = true
			}
		}
		if !found {
			return fmt.Errorf("%w: scan references unknown component %d", ErrBadParams, id)
		}
	}
	// Ss is the predictor selector in lossless mode; Ah/Al's low nibble
	// is the point transform.
	ss, err := seg.GetByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if _, err := seg.GetByte(); err != nil { // Se, unused
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	ahal, err := seg.GetByte()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	d.predictor = int(ss)
	d.pt = int(ahal & 0xF)
	if d.predictor < 1 || d.predictor > 7 {
		return fmt.Errorf("%w: bad lossless predictor %d", ErrBadParams, d.predictor)
	}
	return nil
}

// ljpegPredict computes predictor mode p from the left (ra), above (rb)
// and above-left (rc) neighbors.
func ljpegPredict(p, ra, rb, rc int) int {
	switch p {
	case 1:
		return ra
	case 2:
		return rb
	case 3:
		return rc
	case 4:
		return ra + rb - rc
	case 5:
		return ra + ((rb - rc) >> 1)
	case 6:
		return rb + ((ra - rc) >> 1)
	case 7:
		return (ra + rb) >> 1
	default:
		return 0
	}
}

// Decode parses the JPEG structure and writes the decoded samples into
// the tile at (offX, offY) of size (width, height) pixels. Decoded
// samples map to output samples in raster order, which also absorbs the
// pre-1.1 DNG writers that encode a tile as double-width, half-height
// frames.
func (d *LJpeg) Decode(img *rawimage.Image, offX, offY, width, height int) error {
	if img.Type != rawimage.U16 {
		return fmt.Errorf("%w: lossless JPEG requires a 16-bit image", ErrBadParams)
	}

	marker, err := d.nextMarker()
	if err != nil {
		return err
	}
	if marker != jpegSOI {
		return fmt.Errorf("%w: missing SOI marker", ErrBadParams)
	}

	for {
		marker, err = d.nextMarker()
		if err != nil {
			return err
		}
		switch marker {
		case jpegSOF3:
			if err := d.parseSOF(); err != nil {
				return err
			}
		case jpegDHT:
			if err := d.parseDHT(); err != nil {
				return err
			}
		case jpegSOS:
			if err := d.parseSOS(); err != nil {
				return err
			}
			return d.decodeScan(img, offX, offY, width, height)
		case jpegEOI:
			return fmt.Errorf("%w: reached EOI without a scan", ErrBadParams)
		case jpegDQT:
			return fmt.Errorf("%w: quantization table in lossless JPEG", ErrBadParams)
		default:
			// Skip any other tagged segment.
			length, err := d.segmentLength()
			if err != nil {
				return err
			}
			if err := d.in.Skip(length); err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
		}
	}
}

func (d *LJpeg) decodeScan(img *rawimage.Image, offX, offY, width, height int) error {
	if len(d.frame.components) == 0 {
		return fmt.Errorf("%w: SOS before SOF", ErrBadParams)
	}
	nc := len(d.frame.components)
	frameW := d.frame.width
	frameH := d.frame.height
	if frameW <= 0 || frameH <= 0 {
		return fmt.Errorf("%w: bad frame dimensions %dx%d", ErrBadParams, frameW, frameH)
	}

	cpp := img.Cpp()
	outSamplesPerRow := width * cpp
	if frameW*nc*frameH < outSamplesPerRow*height {
		return fmt.Errorf("%w: frame %dx%dx%d too small for %dx%d tile", ErrBadParams,
			frameW, frameH, nc, width, height)
	}

	tables := make([]*ljpegHuff, nc)
	for i, c := range d.frame.components {
		t := d.tables[c.dcTblNo]
		if t == nil {
			return fmt.Errorf("%w: component references undefined huffman table %d", ErrBadParams, c.dcTblNo)
		}
		tables[i] = t
	}

	pump := bitio.NewJPEGPump(d.in)

	dim := img.UncroppedDim()
	if offX+width > dim.X || offY+height > dim.Y {
		return fmt.Errorf("%w: tile outside the image", ErrBadParams)
	}

	// Rows of the frame, flattened into the tile's sample space.
	rowAbove := make([]int, frameW*nc)
	rowCur := make([]int, frameW*nc)
	defaultPred := 1 << uint(d.frame.precision-d.pt-1)

	outIdx := 0
	maxOut := outSamplesPerRow * height
	for row := 0; row < frameH && outIdx < maxOut; row++ {
		for mcu := 0; mcu < frameW; mcu++ {
			for c := 0; c < nc; c++ {
				diff, err := tables[c].decodeDifference(pump)
				if err != nil {
					return err
				}
				var pred int
				switch {
				case row == 0 && mcu == 0:
					pred = defaultPred
				case row == 0:
					pred = rowCur[(mcu-1)*nc+c]
				case mcu == 0:
					pred = rowAbove[c]
				default:
					ra := rowCur[(mcu-1)*nc+c]
					rb := rowAbove[mcu*nc+c]
					rc := rowAbove[(mcu-1)*nc+c]
					pred = ljpegPredict(d.predictor, ra, rb, rc)
				}
				v := (pred + diff) & 0xFFFF
				rowCur[mcu*nc+c] = v

				if outIdx < maxOut {
					y := offY + outIdx/outSamplesPerRow
					s := outIdx % outSamplesPerRow
					rowBytes, err := img.RowUncropped(y)
					if err != nil {
						return err
					}
					rowSetU16(rowBytes, offX*cpp+s, uint16(v))
				}
				outIdx++
			}
		}
		rowAbove, rowCur = rowCur, rowAbove
	}
	return nil
}
