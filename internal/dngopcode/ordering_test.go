package dngopcode

import (
	"math"
	"testing"
)

func (b *opcodeBuilder) f32(v float32) *opcodeBuilder {
	return b.u32(math.Float32bits(v))
}

// pixelPreamble appends the standard pixel-opcode preamble: ROI, plane
// range, pitches.
func pixelPreamble(b *opcodeBuilder, top, left, bottom, right uint32) *opcodeBuilder {
	return b.u32(top).u32(left).u32(bottom).u32(right).
		u32(0).u32(1). // first plane, plane count
		u32(1).u32(1)  // row pitch, col pitch
}

// TestOpcodeOrdering runs the canonical trim-then-correct sequence: a
// TrimBounds to 10x10, a +5-level DeltaPerRow, and an identity
// ScalePerRow. Opcodes after the trim see (and only touch) the smaller
// crop; the surrounding border stays untouched.
func TestOpcodeOrdering(t *testing.T) {
	img := newImage(20, 20)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.SetU16(x, y, 0, 1000)
		}
	}

	trim := (&opcodeBuilder{}).u32(0).u32(0).u32(10).u32(10).buf

	// +5 output levels per row: the per-row float is in the normalized
	// [0,1) domain and scales by 65535 for 16-bit data.
	deltaPayload := pixelPreamble(&opcodeBuilder{}, 0, 0, 10, 10).u32(10)
	for i := 0; i < 10; i++ {
		deltaPayload.f32(5.0 / 65535.0)
	}

	scalePayload := pixelPreamble(&opcodeBuilder{}, 0, 0, 10, 10).u32(10)
	for i := 0; i < 10; i++ {
		scalePayload.f32(1.0)
	}

	list := (&opcodeBuilder{}).u32(3).
		opcode(uint32(CodeTrimBounds), 0, trim).
		opcode(uint32(CodeDeltaPerRow), 0, deltaPayload.buf).
		opcode(uint32(CodeScalePerRow), 0, scalePayload.buf)

	ol, err := Parse(list.buf, img)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := ol.Apply(img); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if dim := img.Dim(); dim.X != 10 || dim.Y != 10 {
		t.Fatalf("dim after trim = %v, want 10x10", dim)
	}
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if got := img.GetU16(x, y, 0); got != 1005 {
				t.Fatalf("cropped pixel (%d,%d) = %d, want 1005", x, y, got)
			}
		}
	}
	// The border outside the crop keeps its original value.
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			if x < 10 && y < 10 {
				continue
			}
			px, err := img.PixelUncropped(x, y)
			if err != nil {
				t.Fatalf("PixelUncropped(%d,%d): %v", x, y, err)
			}
			if got := uint16(px[0]) | uint16(px[1])<<8; got != 1000 {
				t.Fatalf("border pixel (%d,%d) = %d, want 1000", x, y, got)
			}
		}
	}
}
