package dngopcode

import (
	"encoding/binary"
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

type opcodeBuilder struct {
	buf []byte
}

func (b *opcodeBuilder) u32(v uint32) *opcodeBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *opcodeBuilder) u16(v uint16) *opcodeBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// opcode appends one opcode header (code, version=0, flags, size) plus
// payload, where payload is built by the caller via a fresh builder.
func (b *opcodeBuilder) opcode(code uint32, flags uint32, payload []byte) *opcodeBuilder {
	b.u32(code).u32(0).u32(flags).u32(uint32(len(payload)))
	b.buf = append(b.buf, payload...)
	return b
}

func newImage(w, h int) *rawimage.Image {
	im := rawimage.NewImage(rawimage.U16, rawimage.Point{X: w, Y: h}, 1)
	if err := im.CreateData(); err != nil {
		panic(err)
	}
	return im
}

func TestParse_FixBadPixelsConstant_FlagsAndFixes(t *testing.T) {
	img := newImage(4, 4)
	for x := 0; x < 4; x++ {
		img.SetU16(x, 1, 0, uint16(100+x*100))
	}
	img.SetU16(1, 1, 0, 999)

	payload := (&opcodeBuilder{}).u32(999).u32(0).buf // value, phase

	list := (&opcodeBuilder{}).u32(1).opcode(uint32(CodeFixBadPixelsConstant), 0, payload)

	ol, err := Parse(list.buf, img)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := ol.Apply(img); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	img.TransferBadPixelsToMap()
	img.FixBadPixels()

	if got := img.GetU16(1, 1, 0); got == 999 {
		t.Errorf("expected bad pixel to be replaced, still 999")
	}
}

func TestParse_TrimBounds_NarrowsCrop(t *testing.T) {
	img := newImage(6, 4)

	payload := (&opcodeBuilder{}).u32(1).u32(1).u32(3).u32(3).buf // top,left,bottom,right

	list := (&opcodeBuilder{}).u32(1).opcode(uint32(CodeTrimBounds), 0, payload)

	ol, err := Parse(list.buf, img)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := ol.Apply(img); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if dim := img.Dim(); dim != (rawimage.Point{X: 2, Y: 2}) {
		t.Errorf("Dim() = %v, want 2x2", dim)
	}
	if off := img.CropOffset(); off != (rawimage.Point{X: 1, Y: 1}) {
		t.Errorf("CropOffset() = %v, want 1,1", off)
	}
}

func TestParse_MapTable_RemapsValues(t *testing.T) {
	img := newImage(2, 2)
	img.SetU16(0, 0, 0, 0)
	img.SetU16(1, 0, 0, 1)

	b := &opcodeBuilder{}
	b.u32(0).u32(0).u32(2).u32(2) // ROI top,left,bottom,right
	b.u32(0).u32(1)               // firstPlane, planes
	b.u32(1).u32(1)               // rowPitch, colPitch
	b.u32(2)                      // count
	b.u16(10).u16(20)             // lookup[0]=10, lookup[1]=20

	list := (&opcodeBuilder{}).u32(1).opcode(uint32(CodeMapTable), 0, b.buf)

	ol, err := Parse(list.buf, img)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := ol.Apply(img); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := img.GetU16(0, 0, 0); got != 10 {
		t.Errorf("GetU16(0,0) = %d, want 10", got)
	}
	if got := img.GetU16(1, 0, 0); got != 20 {
		t.Errorf("GetU16(1,0) = %d, want 20", got)
	}
}

func TestParse_UnknownOpcodeErrors(t *testing.T) {
	img := newImage(2, 2)
	list := (&opcodeBuilder{}).u32(1).opcode(999, 0, nil)
	if _, err := Parse(list.buf, img); err == nil {
		t.Error("expected ErrUnknownOpcode for opcode 999")
	}
}

func TestParse_OptionalUnimplementedOpcodeSkipped(t *testing.T) {
	img := newImage(2, 2)
	list := (&opcodeBuilder{}).u32(1).opcode(uint32(CodeWarpRectilinear), optionalFlag, []byte{1, 2, 3, 4})
	ol, err := Parse(list.buf, img)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(ol.Opcodes) != 0 {
		t.Errorf("expected optional unimplemented opcode to be skipped, got %d opcodes", len(ol.Opcodes))
	}
}

func TestParse_RequiredUnimplementedOpcodeErrors(t *testing.T) {
	img := newImage(2, 2)
	list := (&opcodeBuilder{}).u32(1).opcode(uint32(CodeWarpRectilinear), 0, []byte{1, 2, 3, 4})
	if _, err := Parse(list.buf, img); err == nil {
		t.Error("expected ErrUnsupportedOpcode for a non-optional unimplemented opcode")
	}
}
