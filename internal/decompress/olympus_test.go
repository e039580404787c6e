package decompress

import (
	"errors"
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
)

func TestOlympusBitTable(t *testing.T) {
	// Index with the top (11th) bit set has no leading zeros.
	if olympusBitTable[0x800] != 0 {
		t.Fatalf("bittable[0x800] = %d, want 0", olympusBitTable[0x800])
	}
	// 0b00000000001x: ten leading zeros.
	if olympusBitTable[0x002] != 10 {
		t.Fatalf("bittable[0x002] = %d, want 10", olympusBitTable[0x002])
	}
	// All-zero lookahead saturates at 12.
	if olympusBitTable[0] != 12 {
		t.Fatalf("bittable[0] = %d, want 12", olympusBitTable[0])
	}
}

func TestOlympusPredEdges(t *testing.T) {
	dest := []uint16{100, 200, 0, 0}
	up := []uint16{50, 60, 70, 80}

	if got := olympusPred(0, 0, dest, up); got != 0 {
		t.Fatalf("corner pred = %d, want 0", got)
	}
	if got := olympusPred(0, 2, dest, up); got != 100 {
		t.Fatalf("top-row pred = %d, want left-by-2 (100)", got)
	}
	if got := olympusPred(2, 1, dest, up); got != 60 {
		t.Fatalf("left-edge pred = %d, want up (60)", got)
	}
}

func TestOlympusPredInterior(t *testing.T) {
	// left = 100, up = 70, leftUp = 50: both gradients positive, the
	// larger magnitude wins.
	dest := []uint16{100, 200, 0, 0}
	up := []uint16{50, 60, 70, 80}
	if got := olympusPred(2, 2, dest, up); got != 100 {
		t.Fatalf("interior pred = %d, want 100 (larger gradient side)", got)
	}

	// Disagreeing small gradients average.
	dest2 := []uint16{80, 0, 0, 0}
	up2 := []uint16{90, 0, 100, 0}
	// left=80, up=100, leftUp=90: leftMinusNw=-10, upMinusNw=+10.
	if got := olympusPred(2, 2, dest2, up2); got != 90 {
		t.Fatalf("averaged pred = %d, want 90", got)
	}
}

func TestOlympusRejectsBadShape(t *testing.T) {
	img := newU16Image(t, 3, 2) // odd width
	_, err := NewOlympus(img, bitio.NewStream(bitio.NewBuffer(nil, bitio.LittleEndian)))
	if !errors.Is(err, ErrBadParams) {
		t.Fatalf("err = %v, want ErrBadParams", err)
	}
}

func TestOlympusTruncatedPreamble(t *testing.T) {
	img := newU16Image(t, 2, 2)
	d, err := NewOlympus(img, bitio.NewStream(bitio.NewBuffer([]byte{1, 2, 3}, bitio.LittleEndian)))
	if err != nil {
		t.Fatalf("NewOlympus: %v", err)
	}
	if err := d.Decompress(img); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}
