package rawspeed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// dngEntry is one IFD entry for buildDNG: inline values only, or a blob
// placed after the IFD.
type dngEntry struct {
	tag    uint16
	typ    uint16
	count  uint32
	inline [4]byte
	blob   []byte
}

func dngLong(tag uint16, v uint32) dngEntry {
	e := dngEntry{tag: tag, typ: 4, count: 1}
	binary.LittleEndian.PutUint32(e.inline[:], v)
	return e
}

func dngShort(tag uint16, v uint16) dngEntry {
	e := dngEntry{tag: tag, typ: 3, count: 1}
	binary.LittleEndian.PutUint16(e.inline[:2], v)
	return e
}

func dngShorts2(tag uint16, a, b uint16) dngEntry {
	e := dngEntry{tag: tag, typ: 3, count: 2}
	binary.LittleEndian.PutUint16(e.inline[:2], a)
	binary.LittleEndian.PutUint16(e.inline[2:], b)
	return e
}

func dngBytes(tag uint16, vals ...byte) dngEntry {
	e := dngEntry{tag: tag, typ: 1, count: uint32(len(vals))}
	copy(e.inline[:], vals)
	return e
}

func dngASCII(tag uint16, s string) dngEntry {
	data := append([]byte(s), 0)
	e := dngEntry{tag: tag, typ: 2, count: uint32(len(data))}
	if len(data) <= 4 {
		copy(e.inline[:], data)
	} else {
		e.blob = data
	}
	return e
}

func buildTestDNG(pixels []uint16, width, height uint32) []byte {
	const payloadOffset = 0x400
	payload := make([]byte, 2*len(pixels))
	for i, p := range pixels {
		binary.LittleEndian.PutUint16(payload[i*2:], p)
	}

	entries := []dngEntry{
		dngLong(0x00FE, 0),                  // NewSubFileType: full-resolution
		dngLong(0x0100, width),              // ImageWidth
		dngLong(0x0101, height),             // ImageLength
		dngShort(0x0102, 16),                // BitsPerSample
		dngShort(0x0103, 1),                 // Compression: none
		dngShort(0x0106, 32803),             // PhotometricInterpretation: CFA
		dngASCII(0x010F, "SyntheticMake"),   // Make
		dngASCII(0x0110, "SyntheticModel"),  // Model
		dngLong(0x0111, payloadOffset),      // StripOffsets
		dngShort(0x0115, 1),                 // SamplesPerPixel
		dngLong(0x0116, height),             // RowsPerStrip
		dngLong(0x0117, uint32(len(payload))), // StripByteCounts
		dngShorts2(0x828D, 2, 2),            // CFARepeatPatternDim
		dngBytes(0x828E, 0, 1, 1, 2),        // CFAPattern: RGGB
		dngBytes(0xC612, 1, 4, 0, 0),        // DNGVersion
		dngLong(0xC61D, 4095),               // WhiteLevel
	}

	const ifdOffset = 8
	n := len(entries)
	ifdSize := 2 + 12*n + 4
	blobStart := uint32(ifdOffset + ifdSize)

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

	out := make([]byte, payloadOffset+uint32(len(payload)))
	out[0], out[1] = 'I', 'I'
	binary.LittleEndian.PutUint16(out[2:], 0x002A)
	binary.LittleEndian.PutUint32(out[4:], ifdOffset)
	binary.LittleEndian.PutUint16(out[ifdOffset:], uint16(n))
	for i, e := range entries {
		base := ifdOffset + 2 + 12*i
		binary.LittleEndian.PutUint16(out[base:], e.tag)
		binary.LittleEndian.PutUint16(out[base+2:], e.typ)
		binary.LittleEndian.PutUint32(out[base+4:], e.count)
		if e.blob != nil {
			binary.LittleEndian.PutUint32(out[base+8:], blobOffsets[i])
			copy(out[blobOffsets[i]:], e.blob)
		} else {
			copy(out[base+8:], e.inline[:])
		}
	}
	copy(out[payloadOffset:], payload)
	return out
}

func TestDecodeSyntheticDNG(t *testing.T) {
	pixels := []uint16{100, 200, 300, 400, 500, 600, 700, 800}
	data := buildTestDNG(pixels, 4, 2)

	img, err := Decode(data, nil, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	dim := img.Dim()
	if dim.X != 4 || dim.Y != 2 {
		t.Fatalf("dim = %v, want 4x2", dim)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if got := img.GetU16(x, y, 0); got != pixels[y*4+x] {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, pixels[y*4+x])
			}
		}
	}
	if img.WhitePoint != 4095 {
		t.Fatalf("white point = %d, want 4095", img.WhitePoint)
	}
	if !img.IsCFA {
		t.Fatal("image should be CFA")
	}
	if img.Metadata.Make != "SyntheticMake" || img.Metadata.Model != "SyntheticModel" {
		t.Fatalf("metadata = %q %q", img.Metadata.Make, img.Metadata.Model)
	}
	if img.Metadata.CanonicalID != "SyntheticMake SyntheticModel" {
		t.Fatalf("canonical id = %q", img.Metadata.CanonicalID)
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	pixels := []uint16{1, 2, 3, 4, 5, 6, 7, 8}
	data := buildTestDNG(pixels, 4, 2)

	a, err := Decode(data, nil, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b, err := Decode(data, nil, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(a.Data(), b.Data()) {
		t.Fatal("two decodes of the same input differ")
	}
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, err := Decode([]byte("this is not a raw file at all"), nil, nil)
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err = %v, want ErrUnknownFormat", err)
	}
}

func TestDecodeUnsupportedContainers(t *testing.T) {
	cases := [][]byte{
		[]byte("FOVb\x00\x00\x00\x00"),
		[]byte("\x00MRM\x00\x00\x00\x00"),
		[]byte("HEAPCCDR\x00\x00"),
	}
	for _, data := range cases {
		_, err := Decode(data, nil, nil)
		if !errors.Is(err, ErrUnsupportedContainer) {
			t.Fatalf("err = %v, want ErrUnsupportedContainer", err)
		}
	}
}

func TestDecodeTruncatedStripFails(t *testing.T) {
	pixels := []uint16{1, 2, 3, 4, 5, 6, 7, 8}
	data := buildTestDNG(pixels, 4, 2)
	// Chop the payload off: the strip offset now points past the end.
	data = data[:0x400]
	if _, err := Decode(data, nil, nil); err == nil {
		t.Fatal("expected decode failure on truncated strip")
	}
}
