package camera

import "testing"

func TestCfaPattern_XTransGetsMagicDcrawFilter(t *testing.T) {
	cfa := NewCfaPattern(6, 6)
	if got := cfa.DcrawFilter(); got != 9 {
		t.Errorf("DcrawFilter() for 6x6 pattern = %d, want 9 (xtrans magic)", got)
	}
}

func TestCfaPattern_DcrawRoundTrip(t *testing.T) {
	cfa := NewCfaPattern(2, 2)
	cfa.SetColorAt(0, 0, Red)
	cfa.SetColorAt(1, 0, Green)
	cfa.SetColorAt(0, 1, Green)
	cfa.SetColorAt(1, 1, Blue)

	filter := cfa.DcrawFilter()
	back := CfaFromDcrawFilter(filter)

	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if back.ColorAt(x, y) != cfa.ColorAt(x, y) {
				t.Errorf("round-trip mismatch at (%d,%d): got %v, want %v", x, y, back.ColorAt(x, y), cfa.ColorAt(x, y))
			}
		}
	}
}

func TestCfaPattern_ShiftRightAndDown(t *testing.T) {
	cfa := NewCfaPattern(2, 2)
	cfa.SetColorAt(0, 0, Red)
	cfa.SetColorAt(1, 0, Green)
	cfa.SetColorAt(0, 1, Green)
	cfa.SetColorAt(1, 1, Blue)

	shifted := cfa.ShiftRight(1)
	if shifted.ColorAt(0, 0) != cfa.ColorAt(1, 0) {
		t.Errorf("ShiftRight(1) at (0,0) = %v, want %v", shifted.ColorAt(0, 0), cfa.ColorAt(1, 0))
	}

	down := cfa.ShiftDown(1)
	if down.ColorAt(0, 0) != cfa.ColorAt(0, 1) {
		t.Errorf("ShiftDown(1) at (0,0) = %v, want %v", down.ColorAt(0, 0), cfa.ColorAt(0, 1))
	}
}
