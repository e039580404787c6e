package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

func TestSamsungV0Decompress_FlatLeftPredictionBlock(t *testing.T) {
	// One 16-pixel block, dir=0 (left-to-right), all four op fields
	// select "explicit length" (op=3) with an explicit length of 0, so
	// every adjustment is 0 and every pixel falls back to the initial
	// left predictor (128, since x==0 for the whole row).
	data := []byte{0x00, 0x00, 0x80, 0x7f}
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.LittleEndian))

	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: 16, Y: 1}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}

	d := NewSamsungV0([]*bitio.Stream{s})
	if err := d.Decompress(img); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	for x := 0; x < 16; x++ {
		if got := img.GetU16(x, 0, 0); got != 128 {
			t.Errorf("pixel %d = %d, want 128", x, got)
		}
	}
}

func TestSamsungV0Decompress_RejectsStripeCountMismatch(t *testing.T) {
	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: 16, Y: 2}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	d := NewSamsungV0(nil)
	if err := d.Decompress(img); err == nil {
		t.Error("expected error for stripe/row count mismatch")
	}
}

func TestComputeStripes_SplitsByOffsetTable(t *testing.T) {
	// Two rows: offsets 0 and 3 into a 6-byte blob.
	offsetTable := []byte{0, 0, 0, 0, 3, 0, 0, 0}
	blob := []byte{1, 2, 3, 4, 5, 6}
	bso := bitio.NewStream(bitio.NewBuffer(offsetTable, bitio.LittleEndian))
	bsr := bitio.NewStream(bitio.NewBuffer(blob, bitio.LittleEndian))

	stripes, err := ComputeStripes(bso, bsr, 2)
	if err != nil {
		t.Fatalf("ComputeStripes: %v", err)
	}
	if len(stripes) != 2 {
		t.Fatalf("got %d stripes, want 2", len(stripes))
	}
	if stripes[0].Remaining() != 3 || stripes[1].Remaining() != 3 {
		t.Errorf("stripe sizes = %d, %d, want 3, 3", stripes[0].Remaining(), stripes[1].Remaining())
	}
}
