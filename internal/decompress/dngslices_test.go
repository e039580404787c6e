package decompress

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

func TestDngTilingDescription(t *testing.T) {
	desc, err := NewDngTilingDescription(rawimage.Point{X: 10, Y: 7}, 4, 3)
	if err != nil {
		t.Fatalf("NewDngTilingDescription: %v", err)
	}
	if desc.TilesX != 3 || desc.TilesY != 3 || desc.NumTiles != 9 {
		t.Fatalf("tiling = %+v", desc)
	}

	// Edge tiles clip to the image.
	e := NewDngSliceElement(desc, 8, nil)
	if !e.LastColumn || !e.LastRow {
		t.Fatal("tile 8 should be last in both directions")
	}
	if e.OffX != 8 || e.OffY != 6 || e.Width != 2 || e.Height != 1 {
		t.Fatalf("edge slice = %+v", e)
	}

	e = NewDngSliceElement(desc, 1, nil)
	if e.OffX != 4 || e.OffY != 0 || e.Width != 4 || e.Height != 3 {
		t.Fatalf("interior slice = %+v", e)
	}
}

func TestDngSlicesUncompressed(t *testing.T) {
	img := newU16Image(t, 4, 2)
	desc, err := NewDngTilingDescription(rawimage.Point{X: 4, Y: 2}, 4, 1)
	if err != nil {
		t.Fatalf("NewDngTilingDescription: %v", err)
	}
	d := &DngSlices{Desc: desc, Compression: DngCompressionNone, Bps: 16}

	// Two one-row strips of 16-bit little-endian samples.
	row0 := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	row1 := []byte{5, 0, 6, 0, 7, 0, 8, 0}
	d.AddSlice(0, bitio.NewStream(bitio.NewBuffer(row0, bitio.LittleEndian)))
	d.AddSlice(1, bitio.NewStream(bitio.NewBuffer(row1, bitio.LittleEndian)))

	if err := d.Decompress(img); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	want := [2][4]uint16{{1, 2, 3, 4}, {5, 6, 7, 8}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if got := img.GetU16(x, y, 0); got != want[y][x] {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, want[y][x])
			}
		}
	}
}

func TestDngSlicesLJpegTile(t *testing.T) {
	img := newU16Image(t, 2, 2)
	desc, err := NewDngTilingDescription(rawimage.Point{X: 2, Y: 2}, 2, 2)
	if err != nil {
		t.Fatalf("NewDngTilingDescription: %v", err)
	}
	d := &DngSlices{Desc: desc, Compression: DngCompressionLJpeg, Bps: 16}
	d.AddSlice(0, bitio.NewStream(bitio.NewBuffer(buildLosslessJPEG([]byte{0x00}), bitio.BigEndian)))

	if err := d.Decompress(img); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.GetU16(x, y, 0); got != 128 {
				t.Fatalf("pixel (%d,%d) = %d, want 128", x, y, got)
			}
		}
	}
}

func TestDngSlicesAllTilesFailing(t *testing.T) {
	img := newU16Image(t, 4, 2)
	desc, err := NewDngTilingDescription(rawimage.Point{X: 4, Y: 2}, 4, 1)
	if err != nil {
		t.Fatalf("NewDngTilingDescription: %v", err)
	}
	d := &DngSlices{Desc: desc, Compression: DngCompressionNone, Bps: 16}
	// Both strips are far too short.
	d.AddSlice(0, bitio.NewStream(bitio.NewBuffer([]byte{1}, bitio.LittleEndian)))
	d.AddSlice(1, bitio.NewStream(bitio.NewBuffer([]byte{2}, bitio.LittleEndian)))

	if err := d.Decompress(img); err == nil {
		t.Fatal("expected failure when every tile errors")
	}
}
