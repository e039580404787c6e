package tiff

import "testing"

// buildMinimalTiff assembles a tiny little-endian TIFF with a single IFD0
// holding inline MAKE/MODEL ASCII entries and no next IFD.
func buildMinimalTiff() []byte {
	var buf []byte
	le16 := func(v uint16) { buf = append(buf, byte(v), byte(v>>8)) }
	le32 := func(v uint32) { buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24)) }

	buf = append(buf, 'I', 'I')
	le16(0x002A)
	le32(8) // offset to IFD0

	// IFD0 begins at offset 8.
	le16(2) // entry count

	// MAKE, ASCII, count=4 ("ABC\0"), inline.
	le16(uint16(TagMake))
	le16(uint16(TypeASCII))
	le32(4)
	buf = append(buf, 'A', 'B', 'C', 0)

	// MODEL, ASCII, count=3 ("XY\0"), inline (padded to 4).
	le16(uint16(TagModel))
	le16(uint16(TypeASCII))
	le32(3)
	buf = append(buf, 'X', 'Y', 0, 0)

	le32(0) // next IFD offset

	return buf
}

func TestParseRoot_MinimalIFD(t *testing.T) {
	data := buildMinimalTiff()
	root, err := ParseRoot(data)
	if err != nil {
		t.Fatalf("ParseRoot: %v", err)
	}
	if len(root.IFDs) != 1 {
		t.Fatalf("len(IFDs) = %d, want 1", len(root.IFDs))
	}

	id, err := root.GetID()
	if err != nil {
		t.Fatalf("GetID: %v", err)
	}
	if id.Make != "ABC" {
		t.Errorf("Make = %q, want %q", id.Make, "ABC")
	}
	if id.Model != "XY" {
		t.Errorf("Model = %q, want %q", id.Model, "XY")
	}
}

func TestParseRoot_BadMagic(t *testing.T) {
	data := buildMinimalTiff()
	data[2] = 0x00
	data[3] = 0x00
	if _, err := ParseRoot(data); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestParseRoot_UnknownByteOrderMarker(t *testing.T) {
	data := buildMinimalTiff()
	data[0], data[1] = 'X', 'X'
	if _, err := ParseRoot(data); err == nil {
		t.Error("expected error for unrecognized byte-order marker")
	}
}

func TestNoRangesSet_RejectsOverlap(t *testing.T) {
	s := &noRangesSet{}
	if !s.insert(10, 20) {
		t.Fatal("first insert should succeed")
	}
	if s.insert(15, 5) {
		t.Error("overlapping insert should fail")
	}
	if !s.insert(30, 10) {
		t.Error("disjoint insert should succeed")
	}
}

func TestIFD_GetEntryRecursive_FindsSubIFDEntries(t *testing.T) {
	child := &IFD{Entries: map[Tag]Entry{TagModel: {Tag: TagModel}}}
	parent := &IFD{Entries: map[Tag]Entry{TagMake: {Tag: TagMake}}, SubIFDs: []*IFD{child}}

	if _, ok := parent.GetEntryRecursive(TagModel); !ok {
		t.Error("expected to find MODEL entry in sub-IFD")
	}
	if _, ok := parent.GetEntryRecursive(TagOrientation); ok {
		t.Error("did not expect to find ORIENTATION entry")
	}
}
