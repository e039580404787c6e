package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
)

// buildLosslessJPEG assembles a single-component 2x2 SOF3 stream with
// one DHT (code "0" = zero diff, code "10" = 2-bit diff) and the given
// entropy bytes.
func buildLosslessJPEG(entropy []byte) []byte {
	var out []byte
	out = append(out, 0xFF, 0xD8) // SOI

	// DHT: class 0 slot 0, one 1-bit code (value 0), one 2-bit code
	// (value 2).
	out = append(out, 0xFF, 0xC4, 0x00, 0x15, 0x00)
	counts := [16]byte{1, 1}
	out = append(out, counts[:]...)
	out = append(out, 0x00, 0x02)

	// SOF3: precision 8, 2x2, one component.
	out = append(out, 0xFF, 0xC3, 0x00, 0x0B, 8, 0, 2, 0, 2, 1, 0, 0x11, 0)

	// SOS: one component, predictor 1, no point transform.
	out = append(out, 0xFF, 0xDA, 0x00, 0x08, 1, 0, 0x00, 1, 0, 0)

	out = append(out, entropy...)
	out = append(out, 0xFF, 0xD9) // EOI
	return out
}

func TestLJpegZeroDiffs(t *testing.T) {
	img := newU16Image(t, 2, 2)
	// Four "0" codes: every pixel stays at the default predictor, 128.
	data := buildLosslessJPEG([]byte{0x00})
	d := NewLJpeg(bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian)))
	if err := d.Decode(img, 0, 0, 2, 2); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.GetU16(x, y, 0); got != 128 {
				t.Fatalf("pixel (%d,%d) = %d, want 128", x, y, got)
			}
		}
	}
}

func TestLJpegDiffPropagation(t *testing.T) {
	img := newU16Image(t, 2, 2)
	// First pixel: "10" + magnitude bits "11" = +3; the rest zero diffs.
	// With predictor 1 the +3 propagates to every pixel.
	data := buildLosslessJPEG([]byte{0xB0})
	d := NewLJpeg(bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian)))
	if err := d.Decode(img, 0, 0, 2, 2); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.GetU16(x, y, 0); got != 131 {
				t.Fatalf("pixel (%d,%d) = %d, want 131", x, y, got)
			}
		}
	}
}

func TestLJpegMissingSOI(t *testing.T) {
	img := newU16Image(t, 2, 2)
	d := NewLJpeg(bitio.NewStream(bitio.NewBuffer([]byte{0xFF, 0xC3, 0x00}, bitio.BigEndian)))
	if err := d.Decode(img, 0, 0, 2, 2); err == nil {
		t.Fatal("expected missing-SOI error")
	}
}

func TestLJpegPredictors(t *testing.T) {
	cases := []struct {
		mode             int
		ra, rb, rc, want int
	}{
		{1, 10, 20, 30, 10},
		{2, 10, 20, 30, 20},
		{3, 10, 20, 30, 30},
		{4, 10, 20, 5, 25},
		{5, 10, 20, 4, 18},
		{6, 10, 20, 4, 23},
		{7, 10, 20, 0, 15},
	}
	for _, c := range cases {
		if got := ljpegPredict(c.mode, c.ra, c.rb, c.rc); got != c.want {
			t.Fatalf("predictor %d = %d, want %d", c.mode, got, c.want)
		}
	}
}
