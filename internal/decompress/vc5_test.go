package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
)

func TestVC5CodebookPrefixFree(t *testing.T) {
	for i, a := range vc5Codebook {
		for j, b := range vc5Codebook {
			if i == j {
				continue
			}
			if a.size > b.size {
				continue
			}
			if b.bits>>(uint(b.size-a.size)) == a.bits {
				t.Fatalf("entry %d (%d/%#x) is a prefix of entry %d (%d/%#x)", i, a.size, a.bits, j, b.size, b.bits)
			}
		}
	}
}

func TestVC5CodebookEndMarker(t *testing.T) {
	found := 0
	for _, e := range vc5Codebook {
		if e.count == 0 {
			found++
			if e.value != vc5BandEndMarker {
				t.Fatalf("zero-count entry has value %d, want %d", e.value, vc5BandEndMarker)
			}
		}
	}
	if found != 1 {
		t.Fatalf("found %d end-marker entries, want exactly 1", found)
	}
	// Decompanding must pass the marker value through unchanged.
	if vc5Decompand(vc5BandEndMarker) != vc5BandEndMarker {
		t.Fatal("decompand must be identity on the band-end marker")
	}
}

func newHighPassBand(quant int, data []byte) (*vc5Band, *vc5Wavelet) {
	w := &vc5Wavelet{width: 2, height: 2}
	b := &vc5Band{
		kind:  vc5BandHighPass,
		bs:    bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian)),
		quant: quant,
	}
	return b, w
}

func TestVC5HighPassZeroRunAndEndMarker(t *testing.T) {
	// "1110001" (run of 4 zeros), then the end marker and its sign bit.
	data := []byte{0xE3, 0xF0, 0x00}
	b, w := newHighPassBand(7, data)
	if err := b.decodeHighPass(w); err != nil {
		t.Fatalf("decodeHighPass: %v", err)
	}
	for i, v := range b.plane.data {
		if v != 0 {
			t.Fatalf("pixel %d = %d, want 0", i, v)
		}
	}
}

func TestVC5HighPassQuantization(t *testing.T) {
	// Four "10"+sign codes (value 1, positive), then the end marker.
	data := []byte{0x92, 0x4F, 0x80, 0x00}
	b, w := newHighPassBand(3, data)
	if err := b.decodeHighPass(w); err != nil {
		t.Fatalf("decodeHighPass: %v", err)
	}
	for i, v := range b.plane.data {
		if v != 3 {
			t.Fatalf("pixel %d = %d, want 3 (1 * quant)", i, v)
		}
	}
}

func TestVC5HighPassMissingEndMarker(t *testing.T) {
	// A run of four zeros but then another run instead of the marker.
	data := []byte{0xE3, 0xE3, 0x00}
	b, w := newHighPassBand(1, data)
	if err := b.decodeHighPass(w); err == nil {
		t.Fatal("expected an end-of-band error")
	}
}

func TestVC5LowPassDecode(t *testing.T) {
	w := &vc5Wavelet{width: 2, height: 2}
	b := &vc5Band{
		kind:             vc5BandLowPass,
		bs:               bitio.NewStream(bitio.NewBuffer([]byte{10, 20, 30, 40}, bitio.BigEndian)),
		lowpassPrecision: 8,
	}
	if err := b.decodeLowPass(w); err != nil {
		t.Fatalf("decodeLowPass: %v", err)
	}
	want := []int16{10, 20, 30, 40}
	for i, v := range b.plane.data {
		if v != want[i] {
			t.Fatalf("pixel %d = %d, want %d", i, v, want[i])
		}
	}
}

func TestVC5Convolute(t *testing.T) {
	// Flat low band, zero high band: the first-row even kernel averages
	// back to half the low value (the transform carries a factor of 2).
	got := vc5Convolute(0, vc5First.mulEven, [3]int{8, 8, 8}, 0)
	if got != 4 {
		t.Fatalf("convolute = %d, want 4", got)
	}
	// Descale shift doubles twice before the final halving.
	got = vc5Convolute(0, vc5First.mulEven, [3]int{8, 8, 8}, 2)
	if got != 16 {
		t.Fatalf("descale convolute = %d, want 16", got)
	}
}

func TestVC5RejectsBadMagic(t *testing.T) {
	img := newU16Image(t, 4, 4)
	img.WhitePoint = 0x3FFF
	data := []byte{'X', 'C', '-', '5', 0, 0, 0, 0}
	if _, err := NewVC5(img, bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))); err == nil {
		t.Fatal("expected bad-magic error")
	}
}
