// Package sniff identifies which file family a RAW input belongs to from
// its leading bytes, and (for the TIFF family) picks the decoder whose
// IsAppropriateDecoder probe first accepts the parsed root IFD.
package sniff

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// ErrUnknownFormat is returned when none of the known magic signatures
// match the input.
var ErrUnknownFormat = errors.New("sniff: unknown file format")

// Family identifies a RAW container family.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyTIFF           // standard TIFF-family container (most vendors, DNG)
	FamilyFujiWrapped    // "FUJIFILMCCD-RAW " wrapper around an inner TIFF
	FamilyX3F            // Sigma X3F ("FOVb")
	FamilyMRW            // Minolta MRW ("\0MRM")
	FamilyCIFF            // Canon CIFF ("HEAPCCDR")
)

const fujiWrapperMagic = "FUJIFILMCCD-RAW "

// Identify inspects data's leading bytes and returns the family it
// belongs to, plus (for the Fuji wrapper) the byte offset of the inner
// TIFF.
func Identify(data []byte) (Family, int, error) {
	switch {
	case bytes.HasPrefix(data, []byte(fujiWrapperMagic)):
		offset, err := fujiInnerTIFFOffset(data)
		if err != nil {
			return FamilyUnknown, 0, err
		}
		return FamilyFujiWrapped, offset, nil
	case bytes.HasPrefix(data, []byte("FOVb")):
		return FamilyX3F, 0, nil
	case bytes.HasPrefix(data, []byte("\x00MRM")):
		return FamilyMRW, 0, nil
	case bytes.HasPrefix(data, []byte("HEAPCCDR")):
		return FamilyCIFF, 0, nil
	case looksLikeTIFF(data):
		return FamilyTIFF, 0, nil
	default:
		return FamilyUnknown, 0, fmt.Errorf("%w", ErrUnknownFormat)
	}
}

func looksLikeTIFF(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if !(bytes.HasPrefix(data, []byte("II")) || bytes.HasPrefix(data, []byte("MM"))) {
		return false
	}
	var magic uint16
	if data[0] == 'I' {
		magic = uint16(data[2]) | uint16(data[3])<<8
	} else {
		magic = uint16(data[3]) | uint16(data[2])<<8
	}
	return magic == 0x002A
}

// fujiInnerTIFFOffset reads the FujiFilm wrapper's declared offset of the
// embedded TIFF, a big-endian uint32 at byte 84 of the wrapper header.
// Only the offset is read; no length is taken from the header.
const fujiWrapperHeaderSize = 148

func fujiInnerTIFFOffset(data []byte) (int, error) {
	if len(data) < fujiWrapperHeaderSize {
		return 0, fmt.Errorf("%w: truncated FujiFilm wrapper header", ErrUnknownFormat)
	}
	off := int(data[84])<<24 | int(data[85])<<16 | int(data[86])<<8 | int(data[87])
	if off <= 0 || off >= len(data) {
		return 0, fmt.Errorf("%w: FujiFilm wrapper inner offset %d out of range", ErrUnknownFormat, off)
	}
	return off, nil
}

// DecoderProbe tests whether a registered decoder claims root as its
// input. More than one probe in a list may accept the same root;
// SelectTIFFDecoder takes the first one that does.
type DecoderProbe struct {
	Name              string
	IsAppropriateDecoder func(root *tiff.RootIFD) bool
}

// SelectTIFFDecoder runs probes in order against root and returns the
// name of the first one that accepts it.
func SelectTIFFDecoder(root *tiff.RootIFD, probes []DecoderProbe) (string, error) {
	for _, p := range probes {
		if p.IsAppropriateDecoder(root) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no registered TIFF decoder claimed this file", ErrUnknownFormat)
}
