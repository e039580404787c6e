package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

func newU16Image(t *testing.T, w, h int) *rawimage.Image {
	t.Helper()
	img := rawimage.NewImage(rawimage.U16, rawimage.Point{X: w, Y: h}, 1)
	if err := img.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	return img
}

func TestReadRaw_MSB_UnpacksBigEndianBits(t *testing.T) {
	// 2x2, 16 bits per sample, MSB order: plain big-endian uint16s.
	data := []byte{
		0x00, 0x01, 0x00, 0x02,
		0x00, 0x03, 0x00, 0x04,
	}
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))
	u := NewUncompressed(s)
	img := newU16Image(t, 2, 2)

	if err := u.ReadRaw(img, rawimage.Point{X: 2, Y: 2}, rawimage.Point{X: 0, Y: 0}, 4, 16, MSB); err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	want := [][2]uint16{{1, 2}, {3, 4}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.GetU16(x, y, 0); got != want[y][x] {
				t.Errorf("(%d,%d) = %d, want %d", x, y, got, want[y][x])
			}
		}
	}
}

func TestReadRaw_RejectsSmallerPitch(t *testing.T) {
	data := make([]byte, 16)
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))
	u := NewUncompressed(s)
	img := newU16Image(t, 4, 2)

	err := u.ReadRaw(img, rawimage.Point{X: 4, Y: 2}, rawimage.Point{X: 0, Y: 0}, 4, 16, MSB)
	if err == nil {
		t.Fatal("expected error for undersized pitch")
	}
}

func TestReadRaw_RejectsTruncatedInput(t *testing.T) {
	data := make([]byte, 4) // only one row's worth
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))
	u := NewUncompressed(s)
	img := newU16Image(t, 2, 2)

	err := u.ReadRaw(img, rawimage.Point{X: 2, Y: 2}, rawimage.Point{X: 0, Y: 0}, 4, 16, MSB)
	if err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestDecode8BitRaw_Uncorrected_PassesThrough(t *testing.T) {
	data := []byte{10, 20, 30, 40}
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))
	u := NewUncompressed(s)
	img := newU16Image(t, 2, 2)

	if err := u.Decode8BitRaw(img, 2, 2, true); err != nil {
		t.Fatalf("Decode8BitRaw: %v", err)
	}
	want := [][2]uint16{{10, 20}, {30, 40}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.GetU16(x, y, 0); got != want[y][x] {
				t.Errorf("(%d,%d) = %d, want %d", x, y, got, want[y][x])
			}
		}
	}
}

func TestDecode8BitRaw_WithLookupTable(t *testing.T) {
	data := []byte{0, 1, 2, 3}
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))
	u := NewUncompressed(s)
	img := newU16Image(t, 2, 2)
	img.SetTable(rawimage.NewTable([]uint16{100, 200, 300, 400}, false))

	if err := u.Decode8BitRaw(img, 2, 2, false); err != nil {
		t.Fatalf("Decode8BitRaw: %v", err)
	}
	want := [][2]uint16{{100, 200}, {300, 400}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.GetU16(x, y, 0); got != want[y][x] {
				t.Errorf("(%d,%d) = %d, want %d", x, y, got, want[y][x])
			}
		}
	}
}

func TestReadRaw_LSBOrder(t *testing.T) {
	// 12-bit LSB packed: two samples (0xABC, 0xDEF) packed little-endian.
	// LSBPump always refills 4 bytes at a time, so the stream needs a
	// trailing pad byte even though only 3 are meaningful.
	data := []byte{0xBC, 0xFA, 0xDE, 0x00}
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.LittleEndian))
	u := NewUncompressed(s)
	img := newU16Image(t, 2, 1)

	if err := u.ReadRaw(img, rawimage.Point{X: 2, Y: 1}, rawimage.Point{X: 0, Y: 0}, 3, 12, LSB); err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if got := img.GetU16(0, 0, 0); got != 0xABC {
		t.Errorf("sample 0 = %#x, want 0xabc", got)
	}
	if got := img.GetU16(1, 0, 0); got != 0xDEF {
		t.Errorf("sample 1 = %#x, want 0xdef", got)
	}
}
