package decompress

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/pool"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// VC-5 tag space, as used by GoPro raws.
const (
	vc5TagChannelCount        = 0x000c
	vc5TagImageWidth          = 0x0014
	vc5TagImageHeight         = 0x0015
	vc5TagLowpassPrecision    = 0x0023
	vc5TagSubbandCount        = 0x000E
	vc5TagSubbandNumber       = 0x0030
	vc5TagQuantization        = 0x0035
	vc5TagChannelNumber       = 0x003e
	vc5TagImageFormat         = 0x0054
	vc5TagMaxBitsPerComponent = 0x0066
	vc5TagPatternWidth        = 0x006a
	vc5TagPatternHeight       = 0x006b
	vc5TagComponentsPerSample = 0x006c
	vc5TagPrescaleShift       = 0x006d

	vc5TagLargeChunk     = 0x2000
	vc5TagSmallChunk     = 0x4000
	vc5TagLargeCodeblock = 0x6000
	vc5TagOptional       = 0x8000
)

const (
	vc5NumWaveletLevels = 3
	vc5NumHighPassBands = 3
	vc5NumSubbands      = 1 + vc5NumHighPassBands*vc5NumWaveletLevels
	vc5NumChannels      = 4
	vc5MaxBands         = 4

	vc5LogTableBits = 12

	vc5PrecisionMin = 8
	vc5PrecisionMax = 16
)

// vc5Plane is a dense int16 coefficient raster.
type vc5Plane struct {
	data []int16
	w, h int
}

func newVC5Plane(w, h int) vc5Plane {
	return vc5Plane{data: make([]int16, w*h), w: w, h: h}
}

func (p vc5Plane) at(row, col int) int16     { return p.data[row*p.w+col] }
func (p vc5Plane) set(row, col int, v int16) { p.data[row*p.w+col] = v }

// Band kinds within a wavelet.
const (
	vc5BandLowPass = iota
	vc5BandHighPass
	vc5BandReconstructable
)

// vc5Band is one subband: either entropy-coded data to be decoded, or a
// band reconstructed from the next smaller wavelet.
type vc5Band struct {
	kind int

	// For decodeable bands.
	bs               *bitio.Stream
	lowpassPrecision int
	quant            int

	// For reconstructable bands: the source wavelet one level down and
	// whether final values clamp to the 14-bit output range.
	src       *vc5Wavelet
	clampUint bool

	plane vc5Plane
}

// vc5Wavelet is one decomposition level: its half-resolution dimensions
// and up to four bands (LL, LH, HL, HH).
type vc5Wavelet struct {
	width, height int
	prescale      int
	bands         [vc5MaxBands]*vc5Band
	bandMask      uint32
	numBands      int
}

func (w *vc5Wavelet) setBandValid(band int)     { w.bandMask |= 1 << uint(band) }
func (w *vc5Wavelet) isBandValid(band int) bool { return w.bandMask&(1<<uint(band)) != 0 }
func (w *vc5Wavelet) allBandsValid() bool {
	return w.bandMask == (1<<uint(vc5MaxBands))-1
}

type vc5Channel struct {
	wavelets [vc5NumWaveletLevels + 1]vc5Wavelet
}

// VC5 decodes GoPro VC-5 wavelet-compressed DNG tiles: four color-delta
// channels of three 2-D wavelet levels each, entropy coded with a fixed
// run-length/value codebook, recombined into an RGGB Bayer raster
// through an inverse-log output curve.
type VC5 struct {
	mBs        *bitio.Stream
	dim        rawimage.Point
	outputBits int
	logTable   [1 << vc5LogTableBits]uint16

	channels [vc5NumChannels]vc5Channel

	// Parse cursor state.
	curChannel       int
	curSubband       int
	haveSubband      bool
	lowpassPrecision int
	havePrecision    bool
	quantization     int
	haveQuant        bool
}

// NewVC5 validates the image shape, sizes the wavelet pyramid, and
// parses the VC-5 tag stream, slicing off each subband's codeblock.
func NewVC5(img *rawimage.Image, in *bitio.Stream) (*VC5, error) {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return nil, fmt.Errorf("%w: vc5 requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	if dim.X <= 0 || dim.Y <= 0 {
		return nil, fmt.Errorf("%w: bad image dimensions", ErrBadParams)
	}
	if dim.X%2 != 0 || dim.Y%2 != 0 {
		return nil, fmt.Errorf("%w: vc5 dimensions %dx%d not a multiple of the 2x2 pattern", ErrBadParams, dim.X, dim.Y)
	}
	if img.WhitePoint <= 0 || img.WhitePoint > 0xFFFF {
		return nil, fmt.Errorf("%w: bad white level %d", ErrBadParams, img.WhitePoint)
	}

	d := &VC5{mBs: in, dim: dim}

	roundUpDiv := func(a, b int) int { return (a + b - 1) / b }
	for c := range d.channels {
		w, h := dim.X, dim.Y
		for l := range d.channels[c].wavelets {
			w = roundUpDiv(w, 2)
			h = roundUpDiv(h, 2)
			wl := &d.channels[c].wavelets[l]
			wl.width = w
			wl.height = h
			if l == 0 {
				wl.numBands = 1
			} else {
				wl.numBands = vc5MaxBands
			}
		}
	}

	d.outputBits = 0
	for wp := img.WhitePoint; wp != 0; wp >>= 1 {
		d.outputBits++
	}

	if err := d.parseVC5(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *VC5) initLogTable() {
	tableSize := float64(len(d.logTable))
	for i := range d.logTable {
		normalized := float64(i) / (tableSize - 1)
		y := (math.Pow(113.0, normalized) - 1) / 112.0
		intY := uint32(65535.0 * y)
		d.logTable[i] = uint16(intY >> uint(16-d.outputBits))
	}
}

// subband index → wavelet level (0 = full-size) and band slot.
var vc5SubbandWaveletIndex = [vc5NumSubbands]int{2, 2, 2, 2, 1, 1, 1, 0, 0, 0}
var vc5SubbandBandIndex = [vc5NumSubbands]int{0, 1, 2, 3, 1, 2, 3, 1, 2, 3}

func (d *VC5) parseVC5() error {
	d.mBs.SetOrder(bitio.BigEndian)

	magic, err := d.mBs.GetU32()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if magic != 0x56432d35 { // "VC-5"
		return fmt.Errorf("%w: not a valid VC-5 datablock", ErrBadParams)
	}

	for {
		tagU, err := d.mBs.GetU16()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		val, err := d.mBs.GetU16()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}

		tag := int(int16(tagU))
		optional := tagU&vc5TagOptional != 0
		if optional {
			tag = -tag
		}

		switch tag {
		case vc5TagChannelCount:
			if int(val) != vc5NumChannels {
				return fmt.Errorf("%w: bad channel count %d", ErrBadParams, val)
			}
		case vc5TagImageWidth:
			if int(val) != d.dim.X {
				return fmt.Errorf("%w: image width mismatch %d vs %d", ErrBadParams, val, d.dim.X)
			}
		case vc5TagImageHeight:
			if int(val) != d.dim.Y {
				return fmt.Errorf("%w: image height mismatch %d vs %d", ErrBadParams, val, d.dim.Y)
			}
		case vc5TagLowpassPrecision:
			if val < vc5PrecisionMin || val > vc5PrecisionMax {
				return fmt.Errorf("%w: invalid lowpass precision %d", ErrBadParams, val)
			}
			d.lowpassPrecision = int(val)
			d.havePrecision = true
		case vc5TagChannelNumber:
			if int(val) >= vc5NumChannels {
				return fmt.Errorf("%w: bad channel number %d", ErrBadParams, val)
			}
			d.curChannel = int(val)
		case vc5TagImageFormat:
			if val != 4 {
				return fmt.Errorf("%w: image format %d is not 4 (RAW)", ErrBadParams, val)
			}
		case vc5TagSubbandCount:
			if int(val) != vc5NumSubbands {
				return fmt.Errorf("%w: unexpected subband count %d", ErrBadParams, val)
			}
		case vc5TagMaxBitsPerComponent:
			if val != vc5LogTableBits {
				return fmt.Errorf("%w: bad bits per component %d", ErrBadParams, val)
			}
		case vc5TagPatternWidth:
			if val != 2 {
				return fmt.Errorf("%w: bad pattern width %d", ErrBadParams, val)
			}
		case vc5TagPatternHeight:
			if val != 2 {
				return fmt.Errorf("%w: bad pattern height %d", ErrBadParams, val)
			}
		case vc5TagSubbandNumber:
			if int(val) >= vc5NumSubbands {
				return fmt.Errorf("%w: bad subband number %d", ErrBadParams, val)
			}
			d.curSubband = int(val)
			d.haveSubband = true
		case vc5TagQuantization:
			d.quantization = int(int16(val))
			d.haveQuant = true
		case vc5TagComponentsPerSample:
			if val != 1 {
				return fmt.Errorf("%w: bad components per sample %d", ErrBadParams, val)
			}
		case vc5TagPrescaleShift:
			// Arrives before the channel number; defaulting to channel 0
			// matches every known sample.
			for i := 0; i < vc5NumWaveletLevels; i++ {
				wl := &d.channels[d.curChannel].wavelets[1+i]
				wl.prescale = int(val>>(14-2*uint(i))) & 0x03
			}
		default:
			chunkSize := 0
			if tag&vc5TagLargeChunk != 0 {
				chunkSize = (tag&0xff)<<16 | int(val)
			} else if tag&vc5TagSmallChunk != 0 {
				chunkSize = int(val)
			}

			if tag&vc5TagLargeCodeblock == vc5TagLargeCodeblock {
				bs, err := d.mBs.GetStream(4 * chunkSize)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
				if err := d.parseLargeCodeblock(bs); err != nil {
					return err
				}
				break
			}

			// The remaining large chunks are all optional and carry no
			// skipped payload.
			if tag&vc5TagLargeChunk != 0 {
				optional = true
				chunkSize = 0
			}
			if !optional {
				return fmt.Errorf("%w: unknown non-optional VC-5 tag %#04x", ErrBadParams, tagU)
			}
			if chunkSize != 0 {
				if err := d.mBs.Skip(4 * chunkSize); err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
			}
		}

		done := true
		for c := 0; c < vc5NumChannels; c++ {
			if !d.channels[c].wavelets[0].isBandValid(0) {
				done = false
				break
			}
		}
		if done {
			return nil
		}
	}
}

func (d *VC5) parseLargeCodeblock(bs *bitio.Stream) error {
	if !d.haveSubband {
		return fmt.Errorf("%w: codeblock without a subband number", ErrBadParams)
	}
	idx := vc5SubbandWaveletIndex[d.curSubband]
	band := vc5SubbandBandIndex[d.curSubband]

	wavelets := &d.channels[d.curChannel].wavelets
	wavelet := &wavelets[1+idx]
	if wavelet.isBandValid(band) {
		return fmt.Errorf("%w: band %d of wavelet %d on channel %d seen twice", ErrBadParams, band, idx, d.curChannel)
	}

	if d.curSubband == 0 {
		if !d.havePrecision {
			return fmt.Errorf("%w: lowpass band without a precision tag", ErrBadParams)
		}
		// Clamp the stream to exactly the bits the band needs.
		bitsTotal := wavelet.width * wavelet.height * d.lowpassPrecision
		bytesTotal := (bitsTotal + 7) / 8
		clamped, err := bs.Substream(0, bytesTotal)
		if err != nil {
			return fmt.Errorf("%w: lowpass band truncated", ErrTruncated)
		}
		wavelet.bands[band] = &vc5Band{
			kind:             vc5BandLowPass,
			bs:               clamped,
			lowpassPrecision: d.lowpassPrecision,
		}
		d.havePrecision = false
	} else {
		if !d.haveQuant {
			return fmt.Errorf("%w: highpass band without a quantization tag", ErrBadParams)
		}
		wavelet.bands[band] = &vc5Band{
			kind:  vc5BandHighPass,
			bs:    bs,
			quant: d.quantization,
		}
		d.haveQuant = false
	}
	wavelet.setBandValid(band)

	// A fully-specified wavelet implies the next-larger wavelet's
	// low-pass band is now reconstructable.
	if wavelet.allBandsValid() {
		next := &wavelets[idx]
		next.bands[0] = &vc5Band{
			kind:      vc5BandReconstructable,
			src:       wavelet,
			clampUint: idx == 0,
		}
		next.setBandValid(0)
	}

	d.haveSubband = false
	return nil
}

// vc5GetRLV matches the next codeword against the codebook and returns its
// (value, count) pair, reading a trailing sign bit for non-zero values.
func vc5GetRLV(pump *bitio.MSBPump) (int, int, error) {
	if err := pump.Fill(vc5MaxCodeSize + 1); err != nil {
		return 0, 0, err
	}
	for _, e := range vc5Codebook {
		if uint32(pump.PeekBits(e.size)) == e.bits {
			pump.SkipBitsNoFill(e.size)
			value := int(int16(e.value))
			if value != 0 {
				sign, err := pump.GetBits(1)
				if err != nil {
					return 0, 0, err
				}
				if sign != 0 {
					value = -value
				}
			}
			return value, int(e.count), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: code not found in codebook", ErrBadParams)
}

func (b *vc5Band) decodeLowPass(w *vc5Wavelet) error {
	b.plane = newVC5Plane(w.width, w.height)

	data, err := b.bs.Substream(0, b.bs.Size())
	if err != nil {
		return err
	}
	raw, err := data.GetBytes(data.Size())
	if err != nil {
		return err
	}
	padded := pool.GetZeroed(len(raw) + 8)
	defer pool.Put(padded)
	copy(padded, raw)
	pump := bitio.NewMSBPump(bitio.NewStream(bitio.NewBuffer(padded, bitio.BigEndian)))

	for row := 0; row < w.height; row++ {
		for col := 0; col < w.width; col++ {
			v, err := pump.GetBits(b.lowpassPrecision)
			if err != nil {
				return err
			}
			b.plane.set(row, col, int16(v))
		}
	}
	return nil
}

func (b *vc5Band) decodeHighPass(w *vc5Wavelet) error {
	b.plane = newVC5Plane(w.width, w.height)

	raw, err := b.bs.Substream(0, b.bs.Size())
	if err != nil {
		return err
	}
	bytes, err := raw.GetBytes(raw.Size())
	if err != nil {
		return err
	}
	padded := pool.GetZeroed(len(bytes) + 8)
	defer pool.Put(padded)
	copy(padded, bytes)
	pump := bitio.NewMSBPump(bitio.NewStream(bitio.NewBuffer(padded, bitio.BigEndian)))

	pixelValue := 0
	pixelsLeft := 0
	for row := 0; row < w.height; row++ {
		for col := 0; col < w.width; col++ {
			if pixelsLeft == 0 {
				pixelValue, pixelsLeft, err = vc5GetRLV(pump)
				if err != nil {
					return err
				}
				pixelValue *= b.quant
				if pixelsLeft == 0 {
					return fmt.Errorf("%w: end-of-band marker while expecting pixels", ErrBadParams)
				}
			}
			pixelsLeft--
			b.plane.set(row, col, int16(pixelValue))
		}
	}

	if pixelsLeft != 0 {
		return fmt.Errorf("%w: not all coded pixels consumed", ErrBadParams)
	}
	endValue, endCount, err := vc5GetRLV(pump)
	if err != nil {
		return err
	}
	if endValue != vc5BandEndMarker || endCount != 0 {
		return fmt.Errorf("%w: end-of-band marker not found", ErrBadParams)
	}
	return nil
}

// Convolution kernel sets for the first, middle, and last row (or
// column) of an inverse wavelet pass, plus the coordinate shift that
// keeps the 3-tap low-pass window inside the band.
type vc5Segment struct {
	mulEven, mulOdd [4]int
	coordShift      int
}

var (
	vc5First  = vc5Segment{[4]int{+1, +11, -4, +1}, [4]int{-1, +5, +4, -1}, 0}
	vc5Middle = vc5Segment{[4]int{+1, +1, +8, -1}, [4]int{-1, -1, +8, +1}, -1}
	vc5Last   = vc5Segment{[4]int{+1, -1, +4, +5}, [4]int{-1, +1, -4, +11}, -2}
)

func vc5Convolute(high int, muls [4]int, lows [3]int, descaleShift int) int {
	lowsCombined := muls[1]*lows[0] + muls[2]*lows[1] + muls[3]*lows[2] + 4
	total := muls[0]*high + (lowsCombined >> 3)
	total <<= uint(descaleShift)
	total >>= 1
	return total
}

// vc5ReconstructPass runs the vertical inverse transform: dst is twice
// as tall as low/high, each output row pair combining one high row with
// a sliding 3-row low window.
func vc5ReconstructPass(dst, high, low vc5Plane) {
	process := func(seg vc5Segment, row, col int) {
		var lows [3]int
		for i := 0; i < 3; i++ {
			lows[i] = int(low.at(row+seg.coordShift+i, col))
		}
		h := int(high.at(row, col))
		even := vc5Convolute(h, seg.mulEven, lows, 0)
		odd := vc5Convolute(h, seg.mulOdd, lows, 0)
		dst.set(2*row, col, int16(even))
		dst.set(2*row+1, col, int16(odd))
	}

	half := dst.h / 2
	for row := 0; row < half; row++ {
		seg := vc5Middle
		if row == 0 {
			seg = vc5First
		} else if row+1 >= half {
			seg = vc5Last
		}
		for col := 0; col < dst.w; col++ {
			process(seg, row, col)
		}
	}
}

func clampBits(v, bits int) int {
	max := (1 << uint(bits)) - 1
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// vc5CombineLowHighPass runs the horizontal inverse transform: dst is
// twice as wide as low/high.
func vc5CombineLowHighPass(dst, low, high vc5Plane, descaleShift int, clampUint bool) {
	process := func(seg vc5Segment, row, col int) {
		var lows [3]int
		for i := 0; i < 3; i++ {
			lows[i] = int(low.at(row, col+seg.coordShift+i))
		}
		h := int(high.at(row, col))
		even := vc5Convolute(h, seg.mulEven, lows, descaleShift)
		odd := vc5Convolute(h, seg.mulOdd, lows, descaleShift)
		if clampUint {
			even = clampBits(even, 14)
			odd = clampBits(odd, 14)
		}
		dst.set(row, 2*col, int16(even))
		dst.set(row, 2*col+1, int16(odd))
	}

	half := dst.w / 2
	for row := 0; row < dst.h; row++ {
		for col := 0; col < half; col++ {
			seg := vc5Middle
			if col == 0 {
				seg = vc5First
			} else if col+1 >= half {
				seg = vc5Last
			}
			process(seg, row, col)
		}
	}
}

// decodeReconstructable rebuilds a low-pass band from its source
// wavelet: two vertical passes (LL+HL and LH+HH), then one horizontal
// combine.
func (b *vc5Band) decodeReconstructable() {
	w := b.src

	lowpass := newVC5Plane(w.width, 2*w.height)
	vc5ReconstructPass(lowpass, w.bands[2].plane, w.bands[0].plane)

	highpass := newVC5Plane(w.width, 2*w.height)
	vc5ReconstructPass(highpass, w.bands[3].plane, w.bands[1].plane)

	descaleShift := 0
	if w.prescale == 2 {
		descaleShift = 2
	}
	b.plane = newVC5Plane(2*w.width, 2*w.height)
	vc5CombineLowHighPass(b.plane, lowpass, highpass, descaleShift, b.clampUint)
}

func (d *VC5) combineFinalLowpassBands(img *rawimage.Image) error {
	width := d.dim.X / 2
	height := d.dim.Y / 2

	low := [4]vc5Plane{}
	for c := 0; c < vc5NumChannels; c++ {
		low[c] = d.channels[c].wavelets[0].bands[0].plane
	}

	lut := func(v int) uint16 {
		if v < 0 {
			v = 0
		}
		if v >= len(d.logTable) {
			v = len(d.logTable) - 1
		}
		return d.logTable[v]
	}

	const mid = 2048
	for row := 0; row < height; row++ {
		top, err := img.RowUncropped(2 * row)
		if err != nil {
			return err
		}
		bottom, err := img.RowUncropped(2*row + 1)
		if err != nil {
			return err
		}
		for col := 0; col < width; col++ {
			gs := int(low[0].at(row, col))
			rg := int(low[1].at(row, col)) - mid
			bg := int(low[2].at(row, col)) - mid
			gd := int(low[3].at(row, col)) - mid

			r := gs + 2*rg
			b := gs + 2*bg
			g1 := gs + gd
			g2 := gs - gd

			rowSetU16(top, 2*col, lut(r))
			rowSetU16(top, 2*col+1, lut(g1))
			rowSetU16(bottom, 2*col, lut(g2))
			rowSetU16(bottom, 2*col+1, lut(b))
		}
	}
	return nil
}

// Decompress decodes every leaf subband in parallel, then reconstructs
// the wavelet pyramid level by level and recombines the four channels
// into the Bayer output.
func (d *VC5) Decompress(img *rawimage.Image) error {
	d.initLogTable()

	// Gather the decoding plan: all high-pass bands of every wavelet
	// (largest first), then the four lowest low-pass bands.
	type decodeItem struct {
		band    *vc5Band
		wavelet *vc5Wavelet
	}
	var plan []decodeItem
	for level := 0; level < vc5NumWaveletLevels; level++ {
		for c := 0; c < vc5NumChannels; c++ {
			wl := &d.channels[c].wavelets[1+level]
			for band := 1; band <= vc5NumHighPassBands; band++ {
				if wl.bands[band] == nil {
					return fmt.Errorf("%w: missing subband (channel %d level %d band %d)", ErrTruncated, c, level, band)
				}
				plan = append(plan, decodeItem{wl.bands[band], wl})
			}
		}
	}
	for c := 0; c < vc5NumChannels; c++ {
		wl := &d.channels[c].wavelets[vc5NumWaveletLevels]
		if wl.bands[0] == nil {
			return fmt.Errorf("%w: missing lowpass band (channel %d)", ErrTruncated, c)
		}
		plan = append(plan, decodeItem{wl.bands[0], wl})
	}

	var failed atomic.Bool
	parallelFor(len(plan), func(i int) {
		item := plan[i]
		var err error
		switch item.band.kind {
		case vc5BandLowPass:
			err = item.band.decodeLowPass(item.wavelet)
		case vc5BandHighPass:
			err = item.band.decodeHighPass(item.wavelet)
		}
		if err != nil {
			img.SetError(err.Error())
			failed.Store(true)
		}
	})
	if failed.Load() {
		first, _ := img.IsTooManyErrors(1)
		return fmt.Errorf("%w: %s", ErrBadParams, first)
	}

	// Reconstruction runs smallest wavelet to largest; each level's
	// output is the next level's low-pass input.
	for c := 0; c < vc5NumChannels; c++ {
		for level := vc5NumWaveletLevels; level > 0; level-- {
			band := d.channels[c].wavelets[level-1].bands[0]
			band.decodeReconstructable()
		}
	}

	return d.combineFinalLowpassBands(img)
}
