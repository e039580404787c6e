package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// msb32BitWriter packs bits MSB-first into 32-bit words and serializes
// each word as four little-endian bytes, exactly mirroring how
// MSB32Pump reassembles and reads them (GetBytes(4) -> LE uint32 ->
// read top bit down). Building test streams this way means the byte
// literals never need to be computed by hand.
type msb32BitWriter struct {
	bits []bool
}

func (w *msb32BitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bits = append(w.bits, (v>>uint(i))&1 == 1)
	}
}

func (w *msb32BitWriter) bytes() []byte {
	for len(w.bits)%32 != 0 {
		w.bits = append(w.bits, false)
	}
	var out []byte
	for i := 0; i < len(w.bits); i += 32 {
		var v uint32
		for j := 0; j < 32; j++ {
			v <<= 1
			if w.bits[i+j] {
				v |= 1
			}
		}
		out = append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return out
}

func samsungV2Header(t *testing.T, bitDepth, width, height, optflags int, initVal uint32) []byte {
	t.Helper()
	w := &msb32BitWriter{}
	w.writeBits(0, 16)                     // NLCVersion
	w.writeBits(0, 4)                      // ImgFormat
	w.writeBits(uint32(bitDepth-1), 4)     // bit depth - 1
	w.writeBits(0, 4)                      // NumBlkInRCUnit
	w.writeBits(0, 4)                      // CompressionRatio
	w.writeBits(uint32(width), 16)         // width
	w.writeBits(uint32(height), 16)        // height
	w.writeBits(0, 16)                     // TileWidth
	w.writeBits(0, 4)                      // reserved
	w.writeBits(uint32(optflags), 4)       // opt flags
	w.writeBits(0, 8)                      // OverlapWidth
	w.writeBits(0, 8)                      // reserved
	w.writeBits(0, 8)                      // Inc
	w.writeBits(0, 2)                      // reserved
	w.writeBits(initVal, 14)               // init value
	return w.bytes()
}

func TestSamsungV2Decompress_InitFillBlock(t *testing.T) {
	header := samsungV2Header(t, 14, 16, 1, int(optQP), 500)

	dw := &msb32BitWriter{}
	dw.writeBits(1, 1) // motion bit: keep the row-start default of 7
	dw.writeBits(1, 1) // "no differences in this block" -> all diffs 0
	data := dw.bytes()

	full := append(append([]byte{}, header...), data...)
	s := bitio.NewStream(bitio.NewBuffer(full, bitio.LittleEndian))

	d, err := NewSamsungV2(s, 14)
	if err != nil {
		t.Fatalf("NewSamsungV2: %v", err)
	}

	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: 16, Y: 1}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	if err := d.Decompress(img); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	for x := 0; x < 16; x++ {
		if got := img.GetU16(x, 0, 0); got != 500 {
			t.Errorf("pixel %d = %d, want 500", x, got)
		}
	}
}

func TestNewSamsungV2_RejectsBadBitDepth(t *testing.T) {
	data := make([]byte, 32)
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.LittleEndian))
	if _, err := NewSamsungV2(s, 10); err == nil {
		t.Error("expected error for unsupported bit depth")
	}
}

func TestNewSamsungV2_RejectsDimensionMismatch(t *testing.T) {
	header := samsungV2Header(t, 14, 16, 1, int(optQP), 500)
	s := bitio.NewStream(bitio.NewBuffer(header, bitio.LittleEndian))
	d, err := NewSamsungV2(s, 14)
	if err != nil {
		t.Fatalf("NewSamsungV2: %v", err)
	}
	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: 32, Y: 1}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	if err := d.Decompress(img); err == nil {
		t.Error("expected error for header/image dimension mismatch")
	}
}
