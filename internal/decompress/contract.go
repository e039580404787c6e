// Package decompress turns a decoder's raw pixel byte stream into a
// populated rawimage.Image. Every format has its own Decompressor, but
// they all share the conventions of this package: input is a
// *bitio.Stream positioned at the first pixel, output is an already
// sized (but not yet filled) *rawimage.Image, and a failed decompress
// returns a wrapped error rather than partially filling the image and
// pretending to succeed.
package decompress

import "github.com/darktable-org/rawspeed-go/internal/rawimage"

// Decompressor fills img with pixel data read from whatever input it was
// constructed with.
type Decompressor interface {
	Decompress(img *rawimage.Image) error
}

// BitOrder selects how a packed bitstream's bits are consumed into
// samples. The four variants mirror the four sensor/container families
// that show up across camera raw formats.
type BitOrder int

const (
	// MSB reads each byte most-significant-bit first and refills 4 bytes
	// at a time (most TIFF/EP style packed raw).
	MSB BitOrder = iota
	// MSB16 is MSB but refills 16 bits at a time (Nikon, some Panasonic).
	MSB16
	// MSB32 is MSB but refills 32 bits at a time (Canon).
	MSB32
	// LSB reads each byte least-significant-bit first (Kodak, Pentax).
	LSB
)
