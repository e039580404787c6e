package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

func TestExtend(t *testing.T) {
	cases := []struct {
		v, length, want int
	}{
		{0, 0, 0},
		{2, 2, 2},
		{0, 1, -1},
		{1, 1, 1},
		{0, 2, -3},
		{3, 2, 3},
	}
	for _, c := range cases {
		if got := extend(c.v, c.length); got != c.want {
			t.Errorf("extend(%d,%d) = %d, want %d", c.v, c.length, got, c.want)
		}
	}
}

func TestArw1Decompress_TwoSampleColumn(t *testing.T) {
	// Encodes: sample0 length=2 value=2 (diff=+2), sample1 length=1
	// value=0 (diff=-1). 0xAC is 10 10 11 0...: length code 2 gives
	// length 4-2=2 and magnitude 10b=+2; length code 3 gives length 1
	// and magnitude 0, which extends to -1.
	data := []byte{0xAC, 0x00, 0x00, 0x00}
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))
	d := NewArw1(s)

	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: 1, Y: 2}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	if err := d.Decompress(img); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if got := img.GetU16(0, 0, 0); got != 2 {
		t.Errorf("row0 = %d, want 2", got)
	}
	if got := img.GetU16(0, 1, 0); got != 1 {
		t.Errorf("row1 = %d, want 1 (cumulative sum 2-1)", got)
	}
}

func TestArw1Decompress_RejectsOddHeight(t *testing.T) {
	data := make([]byte, 8)
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))
	d := NewArw1(s)
	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: 1, Y: 3}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	if err := d.Decompress(img); err == nil {
		t.Error("expected error for odd height")
	}
}
