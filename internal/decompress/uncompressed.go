package decompress

import (
	"encoding/binary"
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// Uncompressed unpacks raw sensor data that was never entropy coded: a
// plain bit-packed or byte-unpacked raster, optionally with per-row
// padding and a handful of bits per sample that don't line up with a
// byte boundary.
type Uncompressed struct {
	in *bitio.Stream
}

// NewUncompressed wraps in, which must be positioned at the first pixel
// of the raster.
func NewUncompressed(in *bitio.Stream) *Uncompressed {
	return &Uncompressed{in: in}
}

// sanityCheckLines verifies the input holds at least h rows of
// bytesPerLine bytes each, without consuming anything.
func (u *Uncompressed) sanityCheckLines(h, bytesPerLine int) error {
	if bytesPerLine <= 0 {
		return fmt.Errorf("%w: non-positive line length", ErrBadParams)
	}
	fullRows := u.in.Remaining() / bytesPerLine
	if fullRows >= h {
		return nil
	}
	if fullRows == 0 {
		return fmt.Errorf("%w: not enough data to decode a single line", ErrTruncated)
	}
	return fmt.Errorf("%w: only %d of %d lines found", ErrTruncated, fullRows, h)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ReadRaw unpacks a plain raster: size pixels wide/tall, written into img
// starting at offset, where each input row occupies inputPitchBytes
// bytes (which may exceed what bitsPerPixel*cpp*width actually needs,
// the remainder being skipped) and each sample is bitsPerPixel wide,
// consumed in the bit order given by order.
//
// No output lookup table is applied; callers that need one (8-bit raw
// via a dither table, for instance) use Decode8BitRaw instead.
func (u *Uncompressed) ReadRaw(img *rawimage.Image, size, offset rawimage.Point, inputPitchBytes, bitsPerPixel int, order BitOrder) error {
	if inputPitchBytes <= 0 || bitsPerPixel <= 0 {
		return fmt.Errorf("%w: non-positive pitch or bit depth", ErrBadParams)
	}

	cpp := img.Cpp()
	w, h := size.X, size.Y

	if img.Type == rawimage.F32 {
		return u.readFloatRaw(img, size, offset, inputPitchBytes, bitsPerPixel, order)
	}

	if bitsPerPixel > 16 {
		return fmt.Errorf("%w: bit depth %d unsupported for 16-bit output", ErrUnsupported, bitsPerPixel)
	}

	outPixelBits := w * cpp * bitsPerPixel
	if outPixelBits%8 != 0 {
		return fmt.Errorf("%w: cpp=%d bps=%d width=%d yields a non-byte-aligned pitch", ErrBadParams, cpp, bitsPerPixel, w)
	}
	outPixelBytes := outPixelBits / 8
	if inputPitchBytes < outPixelBytes {
		return fmt.Errorf("%w: specified pitch %d is smaller than minimally required %d", ErrBadParams, inputPitchBytes, outPixelBytes)
	}
	if err := u.sanityCheckLines(h, inputPitchBytes); err != nil {
		return err
	}
	skipBits := (inputPitchBytes - outPixelBytes) * 8

	dim := img.UncroppedDim()
	if offset.Y > dim.Y {
		return fmt.Errorf("%w: invalid y offset %d", ErrBadParams, offset.Y)
	}
	if offset.X+size.X > dim.X {
		return fmt.Errorf("%w: invalid x offset %d", ErrBadParams, offset.X)
	}
	h = minInt(h+offset.Y, dim.Y)

	pump, err := newPump(u.in, order)
	if err != nil {
		return err
	}

	samples := w * cpp
	for y := offset.Y; y < h; y++ {
		row, err := img.RowUncropped(y)
		if err != nil {
			return err
		}
		start := offset.X * img.Bpp()
		for x := 0; x < samples; x++ {
			b, err := pump.GetBits(bitsPerPixel)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			binary.LittleEndian.PutUint16(row[start+x*2:start+x*2+2], uint16(b))
		}
		if skipBits > 0 {
			if err := pump.SkipBits(skipBits); err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
		}
	}
	return nil
}

// readFloatRaw handles the F32 output case: a straight byte copy for
// 32-bit-per-sample input. 16- and 24-bit packed floating point input
// (half floats, 24-bit floats) is not implemented; no camera in the
// supported set needs it here.
func (u *Uncompressed) readFloatRaw(img *rawimage.Image, size, offset rawimage.Point, inputPitchBytes, bitsPerPixel int, order BitOrder) error {
	if bitsPerPixel != 32 {
		return fmt.Errorf("%w: floating point bit depth %d", ErrUnsupported, bitsPerPixel)
	}
	cpp := img.Cpp()
	w, h := size.X, size.Y
	outPixelBytes := w * cpp * 4
	if inputPitchBytes < outPixelBytes {
		return fmt.Errorf("%w: specified pitch %d is smaller than minimally required %d", ErrBadParams, inputPitchBytes, outPixelBytes)
	}
	if err := u.sanityCheckLines(h, inputPitchBytes); err != nil {
		return err
	}
	dim := img.UncroppedDim()
	if offset.Y > dim.Y {
		return fmt.Errorf("%w: invalid y offset %d", ErrBadParams, offset.Y)
	}
	if offset.X+size.X > dim.X {
		return fmt.Errorf("%w: invalid x offset %d", ErrBadParams, offset.X)
	}
	h = minInt(h+offset.Y, dim.Y)

	for y := offset.Y; y < h; y++ {
		in, err := u.in.GetBytes(inputPitchBytes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		row, err := img.RowUncropped(y)
		if err != nil {
			return err
		}
		start := offset.X * img.Bpp()
		copy(row[start:start+outPixelBytes], in[:outPixelBytes])
	}
	return nil
}

// newPump constructs the bit pump matching order, anchored on u's stream.
func newPump(s *bitio.Stream, order BitOrder) (bitio.Pump, error) {
	switch order {
	case MSB:
		return bitio.NewMSBPump(s), nil
	case MSB16:
		return bitio.NewMSB16Pump(s), nil
	case MSB32:
		return bitio.NewMSB32Pump(s), nil
	case LSB:
		return bitio.NewLSBPump(s), nil
	default:
		return nil, fmt.Errorf("%w: bit order %d", ErrUnsupported, order)
	}
}

// bytesPerLine12 is the input byte count of one w-pixel row of packed
// 12-bit samples, plus one control byte per ten pixels when the format
// carries them.
func bytesPerLine12(w int, skips bool) (int, error) {
	if (12*w)%8 != 0 {
		return 0, fmt.Errorf("%w: %d 12-bit pixels are not byte-aligned", ErrBadParams, w)
	}
	perline := 12 * w / 8
	if skips {
		perline += (w + 2) / 10
	}
	return perline, nil
}

// Decode12BitRaw unpacks packed 12-bit rows: two samples per three
// bytes, with the nibble order given by bigEndian. The interlaced
// variant stores all even rows first, the second field starting at a
// 2048-byte alignment boundary; the skips variant discards one control
// byte after every ten pixels.
func (u *Uncompressed) Decode12BitRaw(img *rawimage.Image, w, h int, bigEndian, interlaced, skips bool) error {
	if interlaced && skips {
		return fmt.Errorf("%w: interlaced 12-bit input carries no control bytes", ErrBadParams)
	}
	perline, err := bytesPerLine12(w, skips)
	if err != nil {
		return err
	}
	if err := u.sanityCheckLines(h, perline); err != nil {
		return err
	}

	in, err := u.in.PeekStream(u.in.Remaining())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	half := (h + 1) >> 1
	for row := 0; row < h; row++ {
		y := row
		if interlaced {
			y = row%half*2 + row/half
		}
		dest, err := img.RowUncropped(y)
		if err != nil {
			return err
		}

		if interlaced && y == 1 {
			// The second field starts at a 2048-byte alignment boundary.
			offset := ((half*w*3/2)>>11 + 1) << 11
			if offset > in.Size() {
				return fmt.Errorf("%w: interlaced second field starts past the input", ErrTruncated)
			}
			in.SetPosition(offset)
		}

		for x := 0; x < w; x += 2 {
			triple, err := in.GetBytes(3)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			g1, g2, g3 := uint32(triple[0]), uint32(triple[1]), uint32(triple[2])

			if bigEndian {
				rowSetU16(dest, x, uint16(g1<<4|g2>>4))
				rowSetU16(dest, x+1, uint16((g2&0x0f)<<8|g3))
			} else {
				rowSetU16(dest, x, uint16((g2&0x0f)<<8|g1))
				rowSetU16(dest, x+1, uint16(g3<<4|g2>>4))
			}

			if skips && x%10 == 8 {
				if err := in.Skip(1); err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
			}
		}
	}
	return nil
}

// DecodeRawUnpacked reads two-byte samples of the given bit depth (12,
// 14 or 16): little-endian input holds the sample in the high bits of
// the word and is shifted down, big-endian input holds it in the low
// bits, which are masked and recombined.
func (u *Uncompressed) DecodeRawUnpacked(img *rawimage.Image, w, h, bits int, bigEndian bool) error {
	switch bits {
	case 12, 14, 16:
	default:
		return fmt.Errorf("%w: unpacked bit depth %d", ErrBadParams, bits)
	}
	if err := u.sanityCheckLines(h, w*2); err != nil {
		return err
	}
	shift := uint(16 - bits)
	mask := uint32(1)<<(8-shift) - 1

	for row := 0; row < h; row++ {
		dest, err := img.RowUncropped(row)
		if err != nil {
			return err
		}
		line, err := u.in.GetBytes(w * 2)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		for col := 0; col < w; col++ {
			g1 := uint32(line[col*2])
			g2 := uint32(line[col*2+1])
			var pix uint16
			if bigEndian {
				pix = uint16((g1&mask)<<8 | g2)
			} else {
				pix = uint16((g2<<8 | g1) >> shift)
			}
			rowSetU16(dest, col, pix)
		}
	}
	return nil
}

// Decode12BitRawUnpackedLeftAligned reads big-endian two-byte samples
// whose 12 significant bits sit in the high end of the word.
func (u *Uncompressed) Decode12BitRawUnpackedLeftAligned(img *rawimage.Image, w, h int) error {
	if err := u.sanityCheckLines(h, w*2); err != nil {
		return err
	}
	for row := 0; row < h; row++ {
		dest, err := img.RowUncropped(row)
		if err != nil {
			return err
		}
		line, err := u.in.GetBytes(w * 2)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		for col := 0; col < w; col++ {
			g1 := uint32(line[col*2])
			g2 := uint32(line[col*2+1])
			rowSetU16(dest, col, uint16((g1<<8|g2&0xf0)>>4))
		}
	}
	return nil
}

// Decode8BitRaw is the specialized path for 8-bit-per-sample raw data:
// one input byte per output sample, optionally passed through the
// image's dither lookup table. The dither LCG's state is threaded
// across the entire image, not reset per row, so output matches
// whatever table the image was given regardless of how work is later
// parallelized.
func (u *Uncompressed) Decode8BitRaw(img *rawimage.Image, w, h int, uncorrectedRawValues bool) error {
	if err := u.sanityCheckLines(h, w); err != nil {
		return err
	}
	in, err := u.in.GetBytes(w * h)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	var random uint32
	idx := 0
	for y := 0; y < h; y++ {
		row, err := img.RowUncropped(y)
		if err != nil {
			return err
		}
		for x := 0; x < w; x++ {
			v := in[idx]
			idx++
			dst := row[x*2 : x*2+2]
			if uncorrectedRawValues {
				binary.LittleEndian.PutUint16(dst, uint16(v))
				continue
			}
			img.SetWithLookup(uint16(v), dst, &random)
		}
	}
	return nil
}
