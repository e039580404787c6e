package decompress

import (
	"encoding/binary"
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// SamsungV0 decodes the compressed SRW format used by the NX300 and
// later: each row is its own independently-terminated bitstream
// ("stripe"), predicted either from the row(s) above or from the
// preceding pixel in the same row, in blocks of 16 pixels whose
// per-block code lengths adapt from block to block.
type SamsungV0 struct {
	stripes []*bitio.Stream // one per image row, already split by ComputeStripes
}

// NewSamsungV0 wraps one bitstream per image row.
func NewSamsungV0(stripes []*bitio.Stream) *SamsungV0 {
	return &SamsungV0{stripes: stripes}
}

// ComputeStripes splits the compressed data blob bsr into one stream per
// row using the row-start offset table bso (one little-endian uint32
// per row). It mirrors the slicing rawspeed shares with its Phase One
// IIQ decoder: offsets must strictly increase, and the final row runs
// to the end of bsr.
func ComputeStripes(bso, bsr *bitio.Stream, height int) ([]*bitio.Stream, error) {
	offsets := make([]uint32, 0, height+1)
	for y := 0; y < height; y++ {
		v, err := bso.GetU32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated slice offset table", ErrTruncated)
		}
		offsets = append(offsets, v)
	}
	offsets = append(offsets, uint32(bsr.Size()))

	if err := bsr.Skip(int(offsets[0])); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	stripes := make([]*bitio.Stream, 0, height)
	for i := 0; i < height; i++ {
		if offsets[i] >= offsets[i+1] {
			return nil, fmt.Errorf("%w: line offsets out of sequence or slice is empty", ErrBadParams)
		}
		size := int(offsets[i+1] - offsets[i])
		st, err := bsr.GetStream(size)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		stripes = append(stripes, st)
	}
	return stripes, nil
}

func rowGetU16(row []byte, idx int) uint16 {
	return binary.LittleEndian.Uint16(row[idx*2:])
}

func rowSetU16(row []byte, idx int, v uint16) {
	binary.LittleEndian.PutUint16(row[idx*2:], v)
}

// calcAdj reads b bits and sign-extends them as a two's complement
// value of width b (b == 0 always yields 0, never reading a bit).
func calcAdj(pump bitio.Pump, b int) (int32, error) {
	if b == 0 {
		return 0, nil
	}
	v, err := pump.GetBits(b)
	if err != nil {
		return 0, err
	}
	shift := uint(32 - b)
	return int32(v)<<shift >> shift, nil
}

func (d *SamsungV0) Decompress(img *rawimage.Image) error {
	dim := img.UncroppedDim()
	w, h := dim.X, dim.Y
	if w == 0 || h == 0 || w < 16 || w > 5546 || h > 3714 {
		return fmt.Errorf("%w: unexpected samsung v0 dimensions %dx%d", ErrBadParams, w, h)
	}
	if len(d.stripes) != h {
		return fmt.Errorf("%w: got %d stripes, expected %d rows", ErrBadParams, len(d.stripes), h)
	}

	for y := 0; y < h; y++ {
		if err := d.decompressStrip(img, y, w, d.stripes[y]); err != nil {
			return fmt.Errorf("row %d: %w", y, err)
		}
	}

	// The sensor's actual CFA has red and blue transposed relative to
	// what the bitstream encodes; undo that by swapping the top-right
	// and bottom-left pixel of every 2x2 block.
	for y := 0; y+1 < h; y += 2 {
		topline, err := img.RowUncropped(y)
		if err != nil {
			return err
		}
		bottomline, err := img.RowUncropped(y + 1)
		if err != nil {
			return err
		}
		for x := 0; x+1 < w; x += 2 {
			t := rowGetU16(topline, x+1)
			b := rowGetU16(bottomline, x)
			rowSetU16(topline, x+1, b)
			rowSetU16(bottomline, x, t)
		}
	}
	return nil
}

func (d *SamsungV0) decompressStrip(img *rawimage.Image, y, width int, bs *bitio.Stream) error {
	pump := bitio.NewMSB32Pump(bs)

	initLen := 7
	if y >= 2 {
		initLen = 4
	}
	length := [4]int{initLen, initLen, initLen, initLen}

	row, err := img.RowUncropped(y)
	if err != nil {
		return err
	}
	upY, up2Y := y-1, y-2
	if upY < 0 {
		upY = 0
	}
	if up2Y < 0 {
		up2Y = 0
	}
	rowUp, err := img.RowUncropped(upY)
	if err != nil {
		return err
	}
	rowUp2, err := img.RowUncropped(up2Y)
	if err != nil {
		return err
	}

	for x := 0; x < width; x += 16 {
		dirBit, err := pump.GetBits(1)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		dir := dirBit != 0

		var op [4]int
		for i := range op {
			v, err := pump.GetBits(2)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			op[i] = int(v)
		}

		for i := 0; i < 4; i++ {
			switch op[i] {
			case 3:
				v, err := pump.GetBits(4)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
				length[i] = int(v)
			case 2:
				length[i]--
			case 1:
				length[i]++
			}
			if length[i] < 0 {
				return fmt.Errorf("%w: bit length below 0", ErrBadParams)
			}
			if length[i] > 16 {
				return fmt.Errorf("%w: bit length above 16", ErrBadParams)
			}
		}

		if dir {
			for c := 0; c < 16 && x+c < width; c += 2 {
				adj, err := calcAdj(pump, length[c>>3])
				if err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
				rowSetU16(row, x+c, uint16(adj+int32(rowGetU16(rowUp, x+c))))
			}
			for c := 1; c < 16 && x+c < width; c += 2 {
				adj, err := calcAdj(pump, length[2|(c>>3)])
				if err != nil {
					return fmt.Errorf("%w: %v", ErrTruncated, err)
				}
				rowSetU16(row, x+c, uint16(adj+int32(rowGetU16(rowUp2, x+c))))
			}
			continue
		}

		predLeft := int32(128)
		if x != 0 {
			predLeft = int32(rowGetU16(row, x-2))
		}
		for c := 0; c < 16 && x+c < width; c += 2 {
			adj, err := calcAdj(pump, length[c>>3])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			rowSetU16(row, x+c, uint16(adj+predLeft))
		}

		predLeft = 128
		if x != 0 {
			predLeft = int32(rowGetU16(row, x-1))
		}
		for c := 1; c < 16 && x+c < width; c += 2 {
			adj, err := calcAdj(pump, length[2|(c>>3)])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			rowSetU16(row, x+c, uint16(adj+predLeft))
		}
	}
	return nil
}
