package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// lsbBitWriter packs values LSB-first into bytes, matching bitio's
// LSBPump read order, so tests can build synthetic bitstreams without
// hand-computing byte literals.
type lsbBitWriter struct {
	out   []byte
	acc   uint64
	nbits int
}

func (w *lsbBitWriter) writeBits(v uint32, n int) {
	w.acc |= uint64(v) << uint(w.nbits)
	w.nbits += n
	for w.nbits >= 8 {
		w.out = append(w.out, byte(w.acc))
		w.acc >>= 8
		w.nbits -= 8
	}
}

func (w *lsbBitWriter) bytes() []byte {
	if w.nbits > 0 {
		w.out = append(w.out, byte(w.acc))
		w.acc = 0
		w.nbits = 0
	}
	return w.out
}

func TestArw2Decompress_FlatGroup(t *testing.T) {
	w := &lsbBitWriter{}
	// Two 16-pixel groups (one row of width 32), identical content:
	// max=min=100, imax=0, imin=1, every other 7-bit code is 0 so every
	// decoded sample is 100.
	for g := 0; g < 2; g++ {
		w.writeBits(100, 11) // max
		w.writeBits(100, 11) // min
		w.writeBits(0, 4)    // imax
		w.writeBits(1, 4)    // imin
		for i := 0; i < 14; i++ {
			w.writeBits(0, 7)
		}
	}
	data := w.bytes()
	for len(data)%4 != 0 {
		data = append(data, 0)
	}

	s := bitio.NewStream(bitio.NewBuffer(data, bitio.LittleEndian))
	d := NewArw2(s)

	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: 32, Y: 1}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	if err := d.Decompress(img); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	for x := 0; x < 32; x++ {
		if got := img.GetU16(x, 0, 0); got != 200 {
			t.Errorf("pixel %d = %d, want 200 (100<<1)", x, got)
		}
	}
}

func TestArw2Decompress_RejectsNonMultipleOf32Width(t *testing.T) {
	data := make([]byte, 64)
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.LittleEndian))
	d := NewArw2(s)
	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: 30, Y: 1}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	if err := d.Decompress(img); err == nil {
		t.Error("expected error for width not a multiple of 32")
	}
}
