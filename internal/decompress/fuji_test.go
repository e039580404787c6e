package decompress

import (
	"errors"
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
)

func fujiHeaderBytes(h FujiHeader) []byte {
	out := []byte{
		byte(h.Signature >> 8), byte(h.Signature),
		h.Version, h.RawType, h.RawBits,
		byte(h.RawHeight >> 8), byte(h.RawHeight),
		byte(h.RawRoundedWidth >> 8), byte(h.RawRoundedWidth),
		byte(h.RawWidth >> 8), byte(h.RawWidth),
		byte(h.BlockSize >> 8), byte(h.BlockSize),
		h.BlocksInRow,
		byte(h.TotalLines >> 8), byte(h.TotalLines),
	}
	return out
}

func validFujiHeader() FujiHeader {
	return FujiHeader{
		Signature:       0x4953,
		Version:         1,
		RawType:         16,
		RawBits:         14,
		RawHeight:       6 * 2,
		RawRoundedWidth: 0x300,
		RawWidth:        0x300,
		BlockSize:       0x300,
		BlocksInRow:     1,
		TotalLines:      2,
	}
}

func TestFujiHeaderRoundTrip(t *testing.T) {
	want := validFujiHeader()
	in := bitio.NewStream(bitio.NewBuffer(fujiHeaderBytes(want), bitio.BigEndian))
	got, err := parseFujiHeader(in)
	if err != nil {
		t.Fatalf("parseFujiHeader: %v", err)
	}
	if got != want {
		t.Fatalf("header = %+v, want %+v", got, want)
	}
	if !got.valid() {
		t.Fatal("header should validate")
	}
}

func TestFujiHeaderRejections(t *testing.T) {
	mutations := []func(*FujiHeader){
		func(h *FujiHeader) { h.Signature = 0x4954 },
		func(h *FujiHeader) { h.Version = 2 },
		func(h *FujiHeader) { h.RawHeight = 7 }, // not a multiple of 6
		func(h *FujiHeader) { h.BlockSize = 0x200 },
		func(h *FujiHeader) { h.BlocksInRow = 2 }, // disagrees with rounded width
		func(h *FujiHeader) { h.TotalLines = 3 },
		func(h *FujiHeader) { h.RawBits = 10 },
		func(h *FujiHeader) { h.RawType = 1 },
	}
	for i, mutate := range mutations {
		h := validFujiHeader()
		mutate(&h)
		if h.valid() {
			t.Fatalf("mutation %d should invalidate the header", i)
		}
	}
}

func TestFujiParams14Bit(t *testing.T) {
	p, err := newFujiParams(validFujiHeader())
	if err != nil {
		t.Fatalf("newFujiParams: %v", err)
	}
	if p.rawBits != 14 || p.totalValues != 0x4000 || p.maxBits != 56 || p.maxDiff != 256 {
		t.Fatalf("unexpected params %+v", p)
	}
	if p.lineWidth != 0x300*2/3 {
		t.Fatalf("lineWidth = %d, want %d", p.lineWidth, 0x300*2/3)
	}

	// The quantization table maps deltas to the classes the thresholds
	// 0x12/0x43/0x114 define.
	at := func(delta int) int8 { return p.qTable[p.qPoint[4]+delta] }
	cases := []struct {
		delta int
		class int8
	}{
		{0, 0}, {1, 1}, {0x11, 1}, {0x12, 2}, {0x42, 2}, {0x43, 3},
		{0x113, 3}, {0x114, 4}, {-1, -1}, {-0x12, -2}, {-0x43, -3}, {-0x114, -4},
	}
	for _, c := range cases {
		if got := at(c.delta); got != c.class {
			t.Fatalf("qTable[%d] = %d, want %d", c.delta, got, c.class)
		}
	}
}

func TestFujiParamsRejects12Bit(t *testing.T) {
	h := validFujiHeader()
	h.RawBits = 12
	_, err := newFujiParams(h)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestFujiBitDiff(t *testing.T) {
	cases := []struct{ v1, v2, want int }{
		{1, 1, 0},
		{1, 2, 0},
		{2, 1, 1},
		{256, 1, 8},
		{257, 1, 9},
		{1 << 15, 1, 15},
	}
	for _, c := range cases {
		if got := fujiBitDiff(c.v1, c.v2); got != c.want {
			t.Fatalf("fujiBitDiff(%d, %d) = %d, want %d", c.v1, c.v2, got, c.want)
		}
	}
}

func TestFujiZerobits(t *testing.T) {
	// 0b00100000... : two zeros before the first set bit.
	in := bitio.NewStream(bitio.NewBuffer([]byte{0x20, 0, 0, 0}, bitio.BigEndian))
	pump := bitio.NewMSBPump(in)
	n, err := fujiZerobits(pump)
	if err != nil {
		t.Fatalf("fujiZerobits: %v", err)
	}
	if n != 2 {
		t.Fatalf("zero run = %d, want 2", n)
	}
}

func TestFujiXtransCopyIndex(t *testing.T) {
	// The X-Trans copy index packs 6 output pixels into 4 line-buffer
	// slots per repeating group of 6.
	idx := func(pixel int) int {
		return ((pixel*2/3)&0x7FFFFFFE | (pixel % 3 & 1)) + ((pixel % 3) >> 1)
	}
	want := []int{0, 1, 1, 2, 3, 3, 4, 5, 5, 6, 7, 7}
	for pixel, w := range want {
		if got := idx(pixel); got != w {
			t.Fatalf("idx(%d) = %d, want %d", pixel, got, w)
		}
	}
}
