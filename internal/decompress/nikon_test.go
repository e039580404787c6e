package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
)

func TestNikonHuffCanonicalAssignment(t *testing.T) {
	// 12-bit lossless tree: one 2-bit code, then four 3-bit codes.
	h := buildNikonHuff(nikonTrees[2])

	// "00" is the shortest code and maps to the first value (5).
	in := bitio.NewStream(bitio.NewBuffer([]byte{0x00, 0x00, 0x00, 0x00}, bitio.LittleEndian))
	pump := bitio.NewMSBPump(in)
	sym, err := h.decodeSymbol(pump)
	if err != nil {
		t.Fatalf("decodeSymbol: %v", err)
	}
	if sym != 5 {
		t.Fatalf("symbol = %d, want 5", sym)
	}

	// "010" is the first 3-bit code and maps to the second value (4).
	in = bitio.NewStream(bitio.NewBuffer([]byte{0x40, 0x00, 0x00, 0x00}, bitio.LittleEndian))
	pump = bitio.NewMSBPump(in)
	sym, err = h.decodeSymbol(pump)
	if err != nil {
		t.Fatalf("decodeSymbol: %v", err)
	}
	if sym != 4 {
		t.Fatalf("symbol = %d, want 4", sym)
	}
}

// nikonMeta builds a minimal lossless-style metadata blob: version bytes,
// the four vertical predictor seeds, and a zero curve-size marker that
// leaves the identity curve in place.
func nikonMeta(vpred [4]uint16) []byte {
	out := []byte{70, 0}
	for _, v := range vpred {
		out = append(out, byte(v), byte(v>>8))
	}
	out = append(out, 0, 0) // curve size 0
	return out
}

func TestNikonDecompressZeroDiffs(t *testing.T) {
	meta := bitio.NewStream(bitio.NewBuffer(nikonMeta([4]uint16{500, 600, 550, 650}), bitio.LittleEndian))
	d, err := NewNikon(meta, 12)
	if err != nil {
		t.Fatalf("NewNikon: %v", err)
	}
	if d.huffSelect != 2 {
		t.Fatalf("huffSelect = %d, want 2 (12-bit lossless)", d.huffSelect)
	}

	// In the 12-bit lossless tree the zero-length symbol (value 0) is the
	// third 5-bit code, 0b11110. Four pixels of it leave every pixel at
	// its predictor seed.
	img := newU16Image(t, 2, 2)
	data := []byte{0xF7, 0xBD, 0xE0, 0x00, 0x00, 0x00, 0x00, 0x00}
	err = d.Decompress(img, bitio.NewStream(bitio.NewBuffer(data, bitio.LittleEndian)), true)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	want := [2][2]uint16{{500, 600}, {550, 650}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.GetU16(x, y, 0); got != want[y][x] {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, want[y][x])
			}
		}
	}
}

func TestNikonCurveDirectEncoding(t *testing.T) {
	// A non-0x4420 version with a short explicit curve: the curve is
	// truncated to the stored samples.
	blob := []byte{0, 0}
	blob = append(blob, 0, 0, 0, 0, 0, 0, 0, 0) // vpred
	blob = append(blob, 4, 0)                   // csize = 4
	for _, v := range []uint16{10, 20, 30, 40} {
		blob = append(blob, byte(v), byte(v>>8))
	}
	d, err := NewNikon(bitio.NewStream(bitio.NewBuffer(blob, bitio.LittleEndian)), 12)
	if err != nil {
		t.Fatalf("NewNikon: %v", err)
	}
	curve := d.Curve()
	if len(curve) != 4 {
		t.Fatalf("curve length = %d, want 4", len(curve))
	}
	for i, want := range []uint16{10, 20, 30, 40} {
		if curve[i] != want {
			t.Fatalf("curve[%d] = %d, want %d", i, curve[i], want)
		}
	}
}

func TestNikonRejectsOutOfRange(t *testing.T) {
	meta := bitio.NewStream(bitio.NewBuffer(nikonMeta([4]uint16{4095, 4095, 4095, 4095}), bitio.LittleEndian))
	d, err := NewNikon(meta, 12)
	if err != nil {
		t.Fatalf("NewNikon: %v", err)
	}
	img := newU16Image(t, 2, 2)
	// All-ones input decodes the 7-bit code 0b1111111 (value 12), then a
	// 12-bit difference of +4095 that pushes the 4095 seed out of 12 bits.
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if err := d.Decompress(img, bitio.NewStream(bitio.NewBuffer(data, bitio.LittleEndian)), true); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}
