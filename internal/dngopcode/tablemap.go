package dngopcode

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// tableMap replaces each affected 16-bit sample with lookup[v], where
// lookup is an explicit 0..65535 curve supplied in the opcode payload.
type tableMap struct {
	pixelOpcode
	lookup [65536]uint16
}

func newTableMap(img *rawimage.Image, bs *bitio.Stream, subImage Rectangle) (*tableMap, error) {
	base, err := newPixelOpcode(img, bs, subImage)
	if err != nil {
		return nil, err
	}

	count, err := bs.GetU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated MapTable", ErrBadOpcode)
	}
	if count == 0 || count > 65536 {
		return nil, fmt.Errorf("%w: invalid size of lookup table (%d)", ErrBadOpcode, count)
	}

	op := &tableMap{pixelOpcode: base}
	for i := uint32(0); i < count; i++ {
		v, err := bs.GetU16()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated MapTable entries", ErrBadOpcode)
		}
		op.lookup[i] = v
	}
	if int(count) < len(op.lookup) {
		last := op.lookup[count-1]
		for i := count; i < uint32(len(op.lookup)); i++ {
			op.lookup[i] = last
		}
	}
	return op, nil
}

func (op *tableMap) Setup(img *rawimage.Image) error {
	if img.Type != rawimage.U16 {
		return fmt.Errorf("%w: MapTable only supports 16-bit images", ErrBadOpcode)
	}
	return nil
}

func (op *tableMap) Apply(img *rawimage.Image) error {
	op.applyU16(img, func(x, y int, v uint16) uint16 {
		return op.lookup[v]
	})
	return nil
}
