package decoders

import (
	"fmt"
	"strings"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/sniff"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// registryEntry binds a decoder's probe to its constructor. Probes are
// tried in order and the first that accepts wins. The DNG probe, tried
// first, tests for the DNG version tag; each vendor probe tests a make
// string unique to its family, so among the vendor probes at most one
// accepts a given file.
type registryEntry struct {
	name        string
	appropriate func(root *tiff.RootIFD) bool
	construct   func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder
}

func rootMake(root *tiff.RootIFD) string {
	id, err := root.GetID()
	if err != nil {
		return ""
	}
	return id.Make
}

var registry = []registryEntry{
	{
		// DNG outranks the vendor probes: any make may ship DNGs.
		name: "dng",
		appropriate: func(root *tiff.RootIFD) bool {
			return root.HasEntryRecursive(tiff.TagDNGVersion)
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newDngDecoder(root, file, opts)
		},
	},
	{
		name: "arw",
		appropriate: func(root *tiff.RootIFD) bool {
			return rootMake(root) == "SONY"
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newArwDecoder(root, file, opts)
		},
	},
	{
		name: "nef",
		appropriate: func(root *tiff.RootIFD) bool {
			make := rootMake(root)
			return make == "NIKON CORPORATION" || make == "NIKON"
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newNefDecoder(root, file, opts)
		},
	},
	{
		name: "raf",
		appropriate: func(root *tiff.RootIFD) bool {
			return rootMake(root) == "FUJIFILM"
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newRafDecoder(root, file, opts)
		},
	},
	{
		name: "orf",
		appropriate: func(root *tiff.RootIFD) bool {
			make := rootMake(root)
			return make == "OLYMPUS IMAGING CORP." || make == "OLYMPUS CORPORATION" ||
				make == "OLYMPUS OPTICAL CO.,LTD"
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newOrfDecoder(root, file, opts)
		},
	},
	{
		name: "rw2",
		appropriate: func(root *tiff.RootIFD) bool {
			return strings.HasPrefix(rootMake(root), "Panasonic") ||
				strings.HasPrefix(rootMake(root), "LEICA")
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newRw2Decoder(root, file, opts)
		},
	},
	{
		name: "pef",
		appropriate: func(root *tiff.RootIFD) bool {
			make := rootMake(root)
			return make == "PENTAX Corporation" || make == "RICOH IMAGING COMPANY, LTD." ||
				make == "PENTAX"
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newPefDecoder(root, file, opts)
		},
	},
	{
		name: "srw",
		appropriate: func(root *tiff.RootIFD) bool {
			return rootMake(root) == "SAMSUNG"
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newSrwDecoder(root, file, opts)
		},
	},
	{
		name: "erf",
		appropriate: func(root *tiff.RootIFD) bool {
			return rootMake(root) == "SEIKO EPSON CORP."
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newErfDecoder(root, file, opts)
		},
	},
	{
		name: "mef",
		appropriate: func(root *tiff.RootIFD) bool {
			return rootMake(root) == "Mamiya-OP Co.,Ltd."
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newMefDecoder(root, file, opts)
		},
	},
	{
		name: "dcs",
		appropriate: func(root *tiff.RootIFD) bool {
			return rootMake(root) == "KODAK"
		},
		construct: func(root *tiff.RootIFD, file bitio.Buffer, opts Options) Decoder {
			return newDcsDecoder(root, file, opts)
		},
	},
}

// Probes exposes the registry to the sniff layer in registration order.
func Probes() []sniff.DecoderProbe {
	out := make([]sniff.DecoderProbe, len(registry))
	for i, e := range registry {
		out[i] = sniff.DecoderProbe{Name: e.name, IsAppropriateDecoder: e.appropriate}
	}
	return out
}

// NewTIFFDecoder picks and constructs the frontend claiming root.
func NewTIFFDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) (Decoder, error) {
	for _, e := range registry {
		if e.appropriate(root) {
			return e.construct(root, file, opts), nil
		}
	}
	return nil, fmt.Errorf("%w: no decoder claims this file", sniff.ErrUnknownFormat)
}
