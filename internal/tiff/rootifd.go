package tiff

import (
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
)

// GetIFDsWithTag returns every IFD in the whole tree (all top-level
// chains, pre-order) that carries tag.
func (rt *RootIFD) GetIFDsWithTag(tag Tag) []*IFD {
	var out []*IFD
	for _, top := range rt.IFDs {
		out = append(out, top.GetIFDsWithTag(tag)...)
	}
	return out
}

// GetIFDWithTag returns the index-th IFD carrying tag, across the whole
// tree.
func (rt *RootIFD) GetIFDWithTag(tag Tag, index int) (*IFD, error) {
	all := rt.GetIFDsWithTag(tag)
	if index < 0 || index >= len(all) {
		return nil, fmt.Errorf("tiff: no IFD #%d with tag 0x%04x", index, tag)
	}
	return all[index], nil
}

// GetEntryRecursive returns the first entry for tag anywhere in the
// tree.
func (rt *RootIFD) GetEntryRecursive(tag Tag) (Entry, bool) {
	for _, top := range rt.IFDs {
		if e, ok := top.GetEntryRecursive(tag); ok {
			return e, true
		}
	}
	return Entry{}, false
}

// HasEntryRecursive reports whether tag exists anywhere in the tree.
func (rt *RootIFD) HasEntryRecursive(tag Tag) bool {
	_, ok := rt.GetEntryRecursive(tag)
	return ok
}

// RootStream returns a fresh cursor over the file buffer the tree was
// parsed from; entry value offsets are absolute within it.
func (rt *RootIFD) RootStream() *bitio.Stream {
	return bitio.NewStream(rt.rootStream.Buffer())
}

// ParseStandalone parses a bare IFD (no TIFF header) rooted at offset
// within data, using the given byte order. Vendor blobs like Sony's
// encrypted maker data and Olympus's ImageProcessing directory store
// IFDs this way, with entry offsets absolute within the blob.
func ParseStandalone(data []byte, order bitio.Order, offset uint32) (*IFD, error) {
	root := bitio.NewStream(bitio.NewBuffer(data, order))
	return parseIFD(&parseCtx{ranges: &noRangesSet{}}, root, nil, offset, 1)
}
