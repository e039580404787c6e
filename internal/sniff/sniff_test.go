package sniff

import (
	"testing"

	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

func TestIdentify_StandardTIFF(t *testing.T) {
	data := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	fam, _, err := Identify(data)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if fam != FamilyTIFF {
		t.Errorf("family = %v, want FamilyTIFF", fam)
	}
}

func TestIdentify_BigEndianTIFF(t *testing.T) {
	data := []byte{'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08}
	fam, _, err := Identify(data)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if fam != FamilyTIFF {
		t.Errorf("family = %v, want FamilyTIFF", fam)
	}
}

func TestIdentify_X3F(t *testing.T) {
	data := append([]byte("FOVb"), make([]byte, 16)...)
	fam, _, err := Identify(data)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if fam != FamilyX3F {
		t.Errorf("family = %v, want FamilyX3F", fam)
	}
}

func TestIdentify_MRW(t *testing.T) {
	data := append([]byte("\x00MRM"), make([]byte, 16)...)
	fam, _, err := Identify(data)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if fam != FamilyMRW {
		t.Errorf("family = %v, want FamilyMRW", fam)
	}
}

func TestIdentify_CIFF(t *testing.T) {
	data := append([]byte("HEAPCCDR"), make([]byte, 16)...)
	fam, _, err := Identify(data)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if fam != FamilyCIFF {
		t.Errorf("family = %v, want FamilyCIFF", fam)
	}
}

func TestIdentify_Unknown(t *testing.T) {
	data := []byte("not a raw file at all")
	if _, _, err := Identify(data); err == nil {
		t.Error("expected ErrUnknownFormat for unrecognized data")
	}
}

func TestSelectTIFFDecoder_FirstMatchWins(t *testing.T) {
	probes := []DecoderProbe{
		{Name: "never", IsAppropriateDecoder: func(*tiff.RootIFD) bool { return false }},
		{Name: "first", IsAppropriateDecoder: func(*tiff.RootIFD) bool { return true }},
		{Name: "second", IsAppropriateDecoder: func(*tiff.RootIFD) bool { return true }},
	}
	name, err := SelectTIFFDecoder(nil, probes)
	if err != nil {
		t.Fatalf("SelectTIFFDecoder: %v", err)
	}
	if name != "first" {
		t.Errorf("selected %q, want %q", name, "first")
	}
}

func TestSelectTIFFDecoder_NoneMatch(t *testing.T) {
	probes := []DecoderProbe{
		{Name: "a", IsAppropriateDecoder: func(*tiff.RootIFD) bool { return false }},
	}
	if _, err := SelectTIFFDecoder(nil, probes); err == nil {
		t.Error("expected ErrUnknownFormat when no probe matches")
	}
}
