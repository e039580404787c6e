package decoders

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// tiffEntrySpec is one entry fed to buildTIFF: inline values only, or a
// deferred data blob placed after the IFD.
type tiffEntrySpec struct {
	tag   tiff.Tag
	typ   tiff.DataType
	count uint32
	// Exactly one of inline (<= 4 bytes, already packed) or blob.
	inline [4]byte
	blob   []byte
}

func asciiEntry(tag tiff.Tag, s string) tiffEntrySpec {
	data := append([]byte(s), 0)
	e := tiffEntrySpec{tag: tag, typ: tiff.TypeASCII, count: uint32(len(data))}
	if len(data) <= 4 {
		copy(e.inline[:], data)
	} else {
		e.blob = data
	}
	return e
}

func longEntry(tag tiff.Tag, v uint32) tiffEntrySpec {
	e := tiffEntrySpec{tag: tag, typ: tiff.TypeLong, count: 1}
	binary.LittleEndian.PutUint32(e.inline[:], v)
	return e
}

func shortEntry(tag tiff.Tag, v uint16) tiffEntrySpec {
	e := tiffEntrySpec{tag: tag, typ: tiff.TypeShort, count: 1}
	binary.LittleEndian.PutUint16(e.inline[:2], v)
	return e
}

// buildTIFF assembles a little-endian single-IFD TIFF. Blob data is
// appended after the IFD, and trailing payload (raw strip bytes) is
// placed at payloadOffset, which the caller also uses as the strip offset.
func buildTIFF(entries []tiffEntrySpec, payload []byte, payloadOffset uint32) []byte {
	const ifdOffset = 8
	n := len(entries)
	ifdSize := 2 + 12*n + 4
	blobStart := uint32(ifdOffset + ifdSize)

	// Lay out blobs.
	blobOffsets := make([]uint32, n)
	cur := blobStart
	for i, e := range entries {
		if e.blob != nil {
			blobOffsets[i] = cur
			cur += uint32(len(e.blob))
			if cur%2 == 1 {
				cur++
			}
		}
	}

	total := payloadOffset + uint32(len(payload))
	if total < cur {
		total = cur
	}
	out := make([]byte, total)
	out[0], out[1] = 'I', 'I'
	binary.LittleEndian.PutUint16(out[2:], 0x002A)
	binary.LittleEndian.PutUint32(out[4:], ifdOffset)

	binary.LittleEndian.PutUint16(out[ifdOffset:], uint16(n))
	for i, e := range entries {
		base := ifdOffset + 2 + 12*i
		binary.LittleEndian.PutUint16(out[base:], uint16(e.tag))
		binary.LittleEndian.PutUint16(out[base+2:], uint16(e.typ))
		binary.LittleEndian.PutUint32(out[base+4:], e.count)
		if e.blob != nil {
			binary.LittleEndian.PutUint32(out[base+8:], blobOffsets[i])
			copy(out[blobOffsets[i]:], e.blob)
		} else {
			copy(out[base+8:], e.inline[:])
		}
	}
	// next-IFD pointer stays zero.
	copy(out[payloadOffset:], payload)
	return out
}

const testCamerasXML = `<Cameras>
  <Camera make="Mamiya-OP Co.,Ltd." model="ZD" supported="true">
    <ID make="Mamiya" model="ZD"/>
    <CFA width="2" height="2">
      <Color x="0" y="0">RED</Color>
      <Color x="1" y="0">GREEN</Color>
      <Color x="0" y="1">GREEN</Color>
      <Color x="1" y="1">BLUE</Color>
    </CFA>
    <Sensor black_level="64" white_level="4095" iso_min="0" iso_max="0"/>
  </Camera>
</Cameras>`

// mamiyaTIFF builds a minimal 2x2 12-bit MEF-style file.
func mamiyaTIFF(t *testing.T) []byte {
	t.Helper()
	const payloadOffset = 0x200
	// Two rows of two 12-bit pixels, big-endian packing:
	// row 0: 0x100, 0x200 -> bytes 10 02 00; row 1: 0x300, 0x400.
	payload := []byte{0x10, 0x02, 0x00, 0x30, 0x04, 0x00}
	entries := []tiffEntrySpec{
		longEntry(tiff.TagImageWidth, 2),
		longEntry(tiff.TagImageLength, 2),
		shortEntry(tiff.TagBitsPerSample, 12),
		shortEntry(tiff.TagCompression, 1),
		asciiEntry(tiff.TagMake, "Mamiya-OP Co.,Ltd."),
		asciiEntry(tiff.TagModel, "ZD"),
		longEntry(tiff.TagStripOffsets, payloadOffset),
		longEntry(tiff.TagStripByteCounts, uint32(len(payload))),
	}
	return buildTIFF(entries, payload, payloadOffset)
}

func TestRegistrySelectsMef(t *testing.T) {
	data := mamiyaTIFF(t)
	root, err := tiff.ParseRoot(data)
	if err != nil {
		t.Fatalf("ParseRoot: %v", err)
	}
	for _, e := range registry {
		claimed := e.appropriate(root)
		if e.name == "mef" && !claimed {
			t.Fatal("mef probe should claim a Mamiya file")
		}
		if e.name != "mef" && claimed {
			t.Fatalf("probe %q wrongly claims a Mamiya file", e.name)
		}
	}
}

func TestMefEndToEnd(t *testing.T) {
	data := mamiyaTIFF(t)
	root, err := tiff.ParseRoot(data)
	if err != nil {
		t.Fatalf("ParseRoot: %v", err)
	}
	db, err := camera.Load(strings.NewReader(testCamerasXML))
	if err != nil {
		t.Fatalf("camera.Load: %v", err)
	}

	dec, err := NewTIFFDecoder(root, bitio.NewBuffer(data, bitio.LittleEndian), DefaultOptions())
	if err != nil {
		t.Fatalf("NewTIFFDecoder: %v", err)
	}
	if err := dec.CheckSupport(db); err != nil {
		t.Fatalf("CheckSupport: %v", err)
	}
	img, err := dec.DecodeRaw()
	if err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	if err := dec.DecodeMetadata(db); err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}

	want := [2][2]uint16{{0x100, 0x200}, {0x300, 0x400}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.GetU16(x, y, 0); got != want[y][x] {
				t.Fatalf("pixel (%d,%d) = %#x, want %#x", x, y, got, want[y][x])
			}
		}
	}
	if img.BlackLevel != 64 || img.WhitePoint != 4095 {
		t.Fatalf("levels = %d/%d, want 64/4095", img.BlackLevel, img.WhitePoint)
	}
	if img.Metadata.Make != "Mamiya-OP Co.,Ltd." {
		t.Fatalf("make = %q", img.Metadata.Make)
	}
	if img.CFA.ColorAt(0, 0) != camera.Red {
		t.Fatalf("CFA(0,0) = %v, want Red", img.CFA.ColorAt(0, 0))
	}
}

func TestUnknownCameraFailsWhenStrict(t *testing.T) {
	data := mamiyaTIFF(t)
	root, err := tiff.ParseRoot(data)
	if err != nil {
		t.Fatalf("ParseRoot: %v", err)
	}
	db, err := camera.Load(strings.NewReader(`<Cameras></Cameras>`))
	if err != nil {
		t.Fatalf("camera.Load: %v", err)
	}
	opts := DefaultOptions()
	opts.FailOnUnknown = true
	dec, err := NewTIFFDecoder(root, bitio.NewBuffer(data, bitio.LittleEndian), opts)
	if err != nil {
		t.Fatalf("NewTIFFDecoder: %v", err)
	}
	if err := dec.CheckSupport(db); err == nil {
		t.Fatal("expected unknown-camera error")
	}
}
