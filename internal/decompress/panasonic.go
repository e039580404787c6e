package decompress

import (
	"encoding/binary"
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

const panasonicBlockSize = 0x4000

// panasonicBlock is one BlockSize-byte chunk of the input, tagged with the
// image coordinates its packets decode to. The last row a block touches
// may not cover the whole image width, and a block may start or end
// mid-row, so every block carries the coordinate range rather than a
// plain row count.
type panasonicBlock struct {
	bs    *bitio.Stream
	begin rawimage.Point
	end   rawimage.Point
}

func roundUpPanasonic(x, m int) int {
	return ((x + m - 1) / m) * m
}

// chopPanasonicBlocks splits in into panasonicBlockSize chunks (the last
// one may be shorter) and assigns each the coordinate range its packets
// will decode to, given a fixed pixels-per-packet and bytes-per-packet.
func chopPanasonicBlocks(in *bitio.Stream, dim rawimage.Point, pixelsPerPacket, bytesPerPacket int) ([]panasonicBlock, error) {
	remaining := in.Remaining()
	if remaining == 0 {
		return nil, fmt.Errorf("%w: no panasonic block data", ErrTruncated)
	}
	pixelToCoord := func(pixel int) rawimage.Point {
		return rawimage.Point{X: pixel % dim.X, Y: pixel / dim.X}
	}

	numBlocks := (remaining + panasonicBlockSize - 1) / panasonicBlockSize
	blocks := make([]panasonicBlock, 0, numBlocks)
	currPixel := 0
	for i := 0; i < numBlocks; i++ {
		sz := panasonicBlockSize
		if in.Remaining() < sz {
			sz = in.Remaining()
		}
		bs, err := in.GetStream(sz)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		begin := pixelToCoord(currPixel)
		packets := sz / bytesPerPacket
		currPixel += packets * pixelsPerPacket
		end := pixelToCoord(currPixel)
		blocks = append(blocks, panasonicBlock{bs: bs, begin: begin, end: end})
	}
	if len(blocks) > 0 {
		blocks[len(blocks)-1].end = rawimage.Point{X: dim.X, Y: dim.Y - 1}
	}
	return blocks, nil
}

// PanasonicV4 decodes the original Panasonic RW2 compression scheme: each
// BlockSize-byte section of input is split at a section offset and
// swapped back into linear order, then unpacked 14 pixels at a time
// through a byte-addressed variable-length code (a 2-bit shift selector
// every third pixel, then either an 8-bit escape-and-replace or an
// 8-bit/4-bit absolute value, depending on whether a non-zero baseline
// has been seen yet for that pixel's parity).
type PanasonicV4 struct {
	blocks             []panasonicBlock
	dim                rawimage.Point
	zeroIsBad          bool
	sectionSplitOffset int
	zeroPositions      []uint32
}

// NewPanasonicV4 validates img against in and the given section-split
// offset, then partitions in into blocks ready for Decompress.
func NewPanasonicV4(img *rawimage.Image, in *bitio.Stream, zeroIsNotBad bool, sectionSplitOffset int) (*PanasonicV4, error) {
	const pixelsPerPacket = 14
	const bytesPerPacket = 16

	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return nil, fmt.Errorf("%w: panasonic v4 requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	if dim.X <= 0 || dim.Y <= 0 || dim.X%pixelsPerPacket != 0 {
		return nil, fmt.Errorf("%w: unexpected panasonic v4 dimensions %dx%d", ErrBadParams, dim.X, dim.Y)
	}
	if sectionSplitOffset > panasonicBlockSize {
		return nil, fmt.Errorf("%w: section split offset %d exceeds block size", ErrBadParams, sectionSplitOffset)
	}

	bytesTotal := (dim.X * dim.Y / pixelsPerPacket) * bytesPerPacket
	bufSize := bytesTotal
	if sectionSplitOffset != 0 {
		bufSize = roundUpPanasonic(bytesTotal, panasonicBlockSize)
	}

	peek, err := in.PeekStream(bufSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	blocks, err := chopPanasonicBlocks(peek, dim, pixelsPerPacket, bytesPerPacket)
	if err != nil {
		return nil, err
	}

	return &PanasonicV4{
		blocks:             blocks,
		dim:                dim,
		zeroIsBad:          !zeroIsNotBad,
		sectionSplitOffset: sectionSplitOffset,
	}, nil
}

// ZeroPositions returns the (y<<16|x)-packed coordinates of every pixel
// that decoded to exactly zero, when the format's zero-is-bad convention
// is in effect. Populated only after Decompress runs.
func (d *PanasonicV4) ZeroPositions() []uint32 { return d.zeroPositions }

func (d *PanasonicV4) Decompress(img *rawimage.Image) error {
	for _, blk := range d.blocks {
		if err := d.processBlock(img, blk); err != nil {
			return err
		}
	}
	return nil
}

type panasonicV4ProxyStream struct {
	buf   []byte
	vbits int
}

func newPanasonicV4ProxyStream(block *bitio.Stream, sectionSplitOffset int) (*panasonicV4ProxyStream, error) {
	remain := block.Remaining()
	if sectionSplitOffset < 0 || sectionSplitOffset > remain {
		return nil, fmt.Errorf("%w: bad section split offset", ErrBadParams)
	}
	first, err := block.GetBytes(sectionSplitOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	second, err := block.GetBytes(block.Remaining())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	buf := make([]byte, 0, len(first)+len(second)+1)
	buf = append(buf, second...)
	buf = append(buf, first...)
	buf = append(buf, 0) // so getBits never needs to special-case the last byte
	return &panasonicV4ProxyStream{buf: buf}, nil
}

func (p *panasonicV4ProxyStream) getBits(nbits int) (uint32, error) {
	p.vbits = (p.vbits - nbits) & 0x1ffff
	byteIdx := (p.vbits >> 3) ^ 0x3ff0
	if byteIdx < 0 || byteIdx+1 >= len(p.buf) {
		return 0, fmt.Errorf("%w: panasonic v4 block exhausted", ErrTruncated)
	}
	v := uint32(p.buf[byteIdx]) | uint32(p.buf[byteIdx+1])<<8
	mask := uint32(1)<<uint(nbits) - 1
	return (v >> uint(p.vbits&7)) & mask, nil
}

func (d *PanasonicV4) processBlock(img *rawimage.Image, blk panasonicBlock) error {
	bits, err := newPanasonicV4ProxyStream(blk.bs, d.sectionSplitOffset)
	if err != nil {
		return err
	}

	for y := blk.begin.Y; y <= blk.end.Y; y++ {
		x := 0
		if y == blk.begin.Y {
			x = blk.begin.X
		}
		endx := d.dim.X
		if y == blk.end.Y {
			endx = blk.end.X
		}
		row, err := img.RowUncropped(y)
		if err != nil {
			return err
		}
		for ; x < endx; x += 14 {
			if err := d.processPixelPacket(bits, y, row, x); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *PanasonicV4) processPixelPacket(bits *panasonicV4ProxyStream, y int, row []byte, xbegin int) error {
	sh := 0
	var pred [2]int
	var nonz [2]int
	u := 0

	for p := 0; p < 14; p++ {
		c := p & 1

		if u == 2 {
			v, err := bits.getBits(2)
			if err != nil {
				return err
			}
			sh = 4 >> uint(3-v)
			u = -1
		}

		if nonz[c] != 0 {
			j, err := bits.getBits(8)
			if err != nil {
				return err
			}
			if j != 0 {
				pred[c] -= 0x80 << uint(sh)
				if pred[c] < 0 || sh == 4 {
					pred[c] &= (1 << uint(sh)) - 1
				}
				pred[c] += int(j) << uint(sh)
			}
		} else {
			v, err := bits.getBits(8)
			if err != nil {
				return err
			}
			nonz[c] = int(v)
			if nonz[c] != 0 || p > 11 {
				v4, err := bits.getBits(4)
				if err != nil {
					return err
				}
				pred[c] = nonz[c]<<4 | int(v4)
			}
		}

		binary.LittleEndian.PutUint16(row[(xbegin+p)*2:], uint16(pred[c]))
		if d.zeroIsBad && pred[c] == 0 {
			d.zeroPositions = append(d.zeroPositions, uint32(y)<<16|uint32(xbegin+p))
		}
		u++
	}
	return nil
}

// PanasonicV5 decodes the newer fixed-width RW2 packing (12 or 14 bits
// per sample, no prediction): each BlockSize-byte block is split at a
// fixed section offset and swapped back into linear order, then read as
// a sequence of 16-byte packets, each packet an independent little-endian
// bitstream of pixelsPerPacket fixed-width samples with a few padding
// bits left over.
type PanasonicV5 struct {
	blocks             []panasonicBlock
	dim                rawimage.Point
	bps                int
	pixelsPerPacket    int
	sectionSplitOffset int
}

const panasonicV5SectionSplitOffset = 0x1FF8
const panasonicBytesPerPacket = 16

// NewPanasonicV5 validates img against in and bps (12 or 14), then
// partitions in into blocks ready for Decompress.
func NewPanasonicV5(img *rawimage.Image, in *bitio.Stream, bps int) (*PanasonicV5, error) {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return nil, fmt.Errorf("%w: panasonic v5 requires a single-component 16-bit image", ErrBadParams)
	}
	if bps != 12 && bps != 14 {
		return nil, fmt.Errorf("%w: unsupported panasonic v5 bps %d", ErrBadParams, bps)
	}
	pixelsPerPacket := (8 * panasonicBytesPerPacket) / bps

	dim := img.UncroppedDim()
	if dim.X <= 0 || dim.Y <= 0 || dim.X%pixelsPerPacket != 0 {
		return nil, fmt.Errorf("%w: unexpected panasonic v5 dimensions %dx%d", ErrBadParams, dim.X, dim.Y)
	}

	packetsPerBlock := panasonicBlockSize / panasonicBytesPerPacket
	numPackets := dim.X * dim.Y / pixelsPerPacket
	numBlocks := (numPackets + packetsPerBlock - 1) / packetsPerBlock

	haveBlocks := in.Remaining() / panasonicBlockSize
	if haveBlocks < numBlocks {
		return nil, fmt.Errorf("%w: insufficient panasonic v5 block data", ErrTruncated)
	}

	peek, err := in.PeekStream(numBlocks * panasonicBlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	blocks, err := chopPanasonicBlocks(peek, dim, pixelsPerPacket, panasonicBytesPerPacket)
	if err != nil {
		return nil, err
	}

	return &PanasonicV5{
		blocks:             blocks,
		dim:                dim,
		bps:                bps,
		pixelsPerPacket:    pixelsPerPacket,
		sectionSplitOffset: panasonicV5SectionSplitOffset,
	}, nil
}

func panasonicV5Unswap(bs *bitio.Stream, sectionSplitOffset int) (*bitio.Stream, error) {
	size := bs.Remaining()
	first, err := bs.GetBytes(sectionSplitOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	second, err := bs.GetBytes(bs.Remaining())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, second...)
	buf = append(buf, first...)
	return bitio.NewStream(bitio.NewBuffer(buf, bitio.LittleEndian)), nil
}

func (d *PanasonicV5) Decompress(img *rawimage.Image) error {
	parallelFor(len(d.blocks), func(i int) {
		blk := d.blocks[i]
		proxied, err := panasonicV5Unswap(blk.bs, d.sectionSplitOffset)
		if err == nil {
			err = d.processBlock(img, blk, proxied)
		}
		if err != nil {
			img.SetError(err.Error())
		}
	})
	if first, bad := img.IsTooManyErrors(1); bad {
		return fmt.Errorf("%w: %s", ErrTruncated, first)
	}
	return nil
}

func (d *PanasonicV5) processBlock(img *rawimage.Image, blk panasonicBlock, proxied *bitio.Stream) error {
	for y := blk.begin.Y; y <= blk.end.Y; y++ {
		x := 0
		if y == blk.begin.Y {
			x = blk.begin.X
		}
		endx := d.dim.X
		if y == blk.end.Y {
			endx = blk.end.X
		}
		row, err := img.RowUncropped(y)
		if err != nil {
			return err
		}
		for ; x < endx; x += d.pixelsPerPacket {
			packet, err := proxied.GetBytes(panasonicBytesPerPacket)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			pump := bitio.NewLSBPump(bitio.NewStream(bitio.NewBuffer(packet, bitio.LittleEndian)))
			for i := 0; i < d.pixelsPerPacket; i++ {
				v, err := pump.GetBits(d.bps)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
				rowSetU16(row, x+i, uint16(v))
			}
		}
	}
	return nil
}

// PanasonicV6 decodes the 16-byte-block RW2 format introduced with the
// S1/S5 generation: each block expands to 11 pixels through a fixed
// per-block bit layout of 14 code words (11 pixel codes plus 3 two-bit
// scale selectors), followed by a small odd/even reconstruction state
// machine that re-widens the scaled codes.
type PanasonicV6 struct {
	input *bitio.Stream
	dim   rawimage.Point
}

const (
	panasonicV6PixelsPerBlock = 11
	panasonicV6BytesPerBlock  = 16
)

// NewPanasonicV6 validates img against in and slices off exactly the
// blocks the image needs.
func NewPanasonicV6(img *rawimage.Image, in *bitio.Stream) (*PanasonicV6, error) {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return nil, fmt.Errorf("%w: panasonic v6 requires a single-component 16-bit image", ErrBadParams)
	}
	dim := img.UncroppedDim()
	if dim.X <= 0 || dim.Y <= 0 || dim.X%panasonicV6PixelsPerBlock != 0 {
		return nil, fmt.Errorf("%w: unexpected panasonic v6 dimensions %dx%d", ErrBadParams, dim.X, dim.Y)
	}
	numBlocks := dim.X * dim.Y / panasonicV6PixelsPerBlock
	if in.Remaining()/panasonicV6BytesPerBlock < numBlocks {
		return nil, fmt.Errorf("%w: insufficient panasonic v6 block data", ErrTruncated)
	}
	input, err := in.PeekStream(numBlocks * panasonicV6BytesPerBlock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return &PanasonicV6{input: input, dim: dim}, nil
}

// panasonicV6Codes unpacks one 16-byte block into its 14 code words. The
// bytes are addressed back-to-front; codes at positions 2, 6 and 10 are
// the two-bit scale selectors, the rest are pixel codes of 14 bits (the
// first two) or 10 bits (all others).
func panasonicV6Codes(block []byte) [14]uint16 {
	w := func(i int) uint32 { return uint32(block[15-i]) }
	return [14]uint16{
		uint16(w(0)<<6 | w(1)>>2),
		uint16((w(1)&0x3)<<12 | w(2)<<4 | w(3)>>4),
		uint16((w(3) >> 2) & 0x3),
		uint16((w(3)&0x3)<<8 | w(4)),
		uint16(w(5)<<2 | w(6)>>6),
		uint16((w(6)&0x3f)<<4 | w(7)>>4),
		uint16((w(7) >> 2) & 0x3),
		uint16((w(7)&0x3)<<8 | w(8)),
		uint16((w(9)<<2)&0x3fc | w(10)>>6),
		uint16((w(10)<<4 | w(11)>>4) & 0x3ff),
		uint16((w(11) >> 2) & 0x3),
		uint16((w(11)&0x3)<<8 | w(12)),
		uint16((w(13)<<2 | w(14)>>6) & 0x3ff),
		uint16((w(14)<<4 | w(15)>>4) & 0x3ff),
	}
}

func (d *PanasonicV6) decompressBlock(block []byte, row []byte, col int) {
	codes := panasonicV6Codes(block)
	next := 0
	nextCode := func() uint32 {
		v := uint32(codes[next])
		next++
		return v
	}

	var oddeven, nonzero [2]uint32
	var pmul, pixelBase uint32
	for pix := 0; pix < panasonicV6PixelsPerBlock; pix++ {
		if pix%3 == 2 {
			base := nextCode()
			if base == 3 {
				base = 4
			}
			pixelBase = 0x200 << base
			pmul = 1 << base
		}
		epixel := nextCode()
		if oddeven[pix%2] != 0 {
			epixel *= pmul
			if pixelBase < 0x2000 && nonzero[pix%2] > pixelBase {
				epixel += nonzero[pix%2] - pixelBase
			}
			nonzero[pix%2] = epixel
		} else {
			oddeven[pix%2] = epixel
			if epixel != 0 {
				nonzero[pix%2] = epixel
			} else {
				epixel = nonzero[pix%2]
			}
		}
		spix := int32(epixel) - 0xf
		var out uint16
		if uint32(spix) <= 0xffff {
			out = uint16(spix)
		} else {
			// Saturate: values that underflowed clamp to 0, overflowed to
			// the 14-bit maximum.
			out = uint16((int32(epixel+0x7ffffff1) >> 0x1f) & 0x3fff)
		}
		rowSetU16(row, col+pix, out)
	}
}

func (d *PanasonicV6) decompressRow(img *rawimage.Image, y int) error {
	blocksPerRow := d.dim.X / panasonicV6PixelsPerBlock
	bytesPerRow := panasonicV6BytesPerBlock * blocksPerRow
	rowInput, err := d.input.Substream(bytesPerRow*y, bytesPerRow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	row, err := img.RowUncropped(y)
	if err != nil {
		return err
	}
	for b, col := 0, 0; b < blocksPerRow; b, col = b+1, col+panasonicV6PixelsPerBlock {
		block, err := rowInput.GetBytes(panasonicV6BytesPerBlock)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		d.decompressBlock(block, row, col)
	}
	return nil
}

func (d *PanasonicV6) Decompress(img *rawimage.Image) error {
	parallelFor(d.dim.Y, func(y int) {
		if err := d.decompressRow(img, y); err != nil {
			img.SetError(err.Error())
		}
	})
	if first, bad := img.IsTooManyErrors(1); bad {
		return fmt.Errorf("%w: %s", ErrTruncated, first)
	}
	return nil
}

// PanasonicV7 decodes the newest RW2 packing: fixed-width samples read
// LSB-first out of independent 16-byte blocks, 9 pixels per block at 14
// bits or 10 pixels per block at 12 bits, the leftover bits discarded at
// each block boundary.
type PanasonicV7 struct {
	input          *bitio.Stream
	dim            rawimage.Point
	bps            int
	pixelsPerBlock int
}

const panasonicV7BytesPerBlock = 16

// NewPanasonicV7 validates img and bps (12 or 14) against in and slices
// off exactly the blocks the image needs.
func NewPanasonicV7(img *rawimage.Image, in *bitio.Stream, bps int) (*PanasonicV7, error) {
	if img.Cpp() != 1 || img.Type != rawimage.U16 || img.Bpp() != 2 {
		return nil, fmt.Errorf("%w: panasonic v7 requires a single-component 16-bit image", ErrBadParams)
	}
	var pixelsPerBlock int
	switch bps {
	case 12:
		pixelsPerBlock = 10
	case 14:
		pixelsPerBlock = 9
	default:
		return nil, fmt.Errorf("%w: unsupported panasonic v7 bps %d", ErrBadParams, bps)
	}
	dim := img.UncroppedDim()
	if dim.X <= 0 || dim.Y <= 0 || dim.X%pixelsPerBlock != 0 {
		return nil, fmt.Errorf("%w: unexpected panasonic v7 dimensions %dx%d", ErrBadParams, dim.X, dim.Y)
	}
	numBlocks := dim.X * dim.Y / pixelsPerBlock
	if in.Remaining()/panasonicV7BytesPerBlock < numBlocks {
		return nil, fmt.Errorf("%w: insufficient panasonic v7 block data", ErrTruncated)
	}
	input, err := in.PeekStream(numBlocks * panasonicV7BytesPerBlock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return &PanasonicV7{input: input, dim: dim, bps: bps, pixelsPerBlock: pixelsPerBlock}, nil
}

func (d *PanasonicV7) decompressRow(img *rawimage.Image, y int) error {
	blocksPerRow := d.dim.X / d.pixelsPerBlock
	bytesPerRow := panasonicV7BytesPerBlock * blocksPerRow
	rowInput, err := d.input.Substream(bytesPerRow*y, bytesPerRow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	row, err := img.RowUncropped(y)
	if err != nil {
		return err
	}
	for b, col := 0, 0; b < blocksPerRow; b, col = b+1, col+d.pixelsPerBlock {
		block, err := rowInput.GetStream(panasonicV7BytesPerBlock)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		pump := bitio.NewLSBPump(block)
		for pix := 0; pix < d.pixelsPerBlock; pix++ {
			v, err := pump.GetBits(d.bps)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			rowSetU16(row, col+pix, uint16(v))
		}
	}
	return nil
}

func (d *PanasonicV7) Decompress(img *rawimage.Image) error {
	parallelFor(d.dim.Y, func(y int) {
		if err := d.decompressRow(img, y); err != nil {
			img.SetError(err.Error())
		}
	})
	if first, bad := img.IsTooManyErrors(1); bad {
		return fmt.Errorf("%w: %s", ErrTruncated, first)
	}
	return nil
}
