package tiff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
)

var (
	// ErrCyclicIFD is returned when an IFD's byte range overlaps one
	// already parsed in this tree, indicating a cycle.
	ErrCyclicIFD = errors.New("tiff: cyclic or overlapping IFD")
	// ErrIFDTooDeep is returned when the sub-IFD/maker-note nesting exceeds
	// maxDepth.
	ErrIFDTooDeep = errors.New("tiff: IFD nesting too deep")
	// ErrTooManySubIFDs is returned when a single IFD declares more direct
	// sub-IFDs than maxSubIFDs.
	ErrTooManySubIFDs = errors.New("tiff: too many sub-IFDs")
	// ErrTooManyRecursiveSubIFDs is returned when the total sub-IFD count
	// across the whole tree exceeds maxRecursiveSubIFDs.
	ErrTooManyRecursiveSubIFDs = errors.New("tiff: too many sub-IFDs recursively")
	// ErrBadHeader is returned when the TIFF magic/byte-order header is
	// malformed.
	ErrBadHeader = errors.New("tiff: bad header")
)

const (
	maxDepth              = 5
	maxSubIFDs            = 10
	maxRecursiveSubIFDs   = 28
)

// IFD is one parsed TIFF image file directory: its own entries plus any
// sub-IFDs reached through tag 0x014A or a recognized maker note.
type IFD struct {
	Entries map[Tag]Entry
	SubIFDs []*IFD
	NextIFD uint32
	parent  *IFD
}

// RootIFD is the root of a parsed TIFF tree: the first IFD plus every
// sibling reached by following next_ifd chains at the top level, and the
// root buffer maker notes resolve offsets against.
type RootIFD struct {
	IFDs       []*IFD // the IFD0 chain, in file order
	rootStream *bitio.Stream
}

type parseCtx struct {
	ranges         *noRangesSet
	recursiveCount int
}

// ParseRoot parses a TIFF byte stream starting at its header: byte-order
// marker, magic 0x002A, and offset to IFD0.
func ParseRoot(data []byte) (*RootIFD, error) {
	header := bitio.NewStream(bitio.NewBuffer(data, bitio.LittleEndian))
	b0, err := header.GetByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadHeader)
	}
	b1, err := header.GetByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadHeader)
	}

	var order bitio.Order
	switch {
	case b0 == 'I' && b1 == 'I':
		order = bitio.LittleEndian
	case b0 == 'M' && b1 == 'M':
		order = bitio.BigEndian
	default:
		return nil, fmt.Errorf("%w: no II/MM marker", ErrBadHeader)
	}

	root := bitio.NewStream(bitio.NewBuffer(data, order))
	if _, err := root.GetU16(); err != nil { // re-consume the marker with the right order
		return nil, fmt.Errorf("%w: truncated header", ErrBadHeader)
	}
	magic, err := root.GetU16()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadHeader)
	}
	if magic != 0x002A {
		return nil, fmt.Errorf("%w: magic 0x%04x != 0x002A", ErrBadHeader, magic)
	}
	offset, err := root.GetU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadHeader)
	}

	rt := &RootIFD{rootStream: root}
	ctx := &parseCtx{ranges: &noRangesSet{}}

	for offset != 0 {
		ifd, err := parseIFD(ctx, root, nil, offset, 1)
		if err != nil {
			return nil, err
		}
		rt.IFDs = append(rt.IFDs, ifd)
		offset = ifd.NextIFD
	}
	return rt, nil
}

// parseIFD parses a single IFD at offset within root, recursing into
// sub-IFDs (tag 0x014A) and maker notes (tag 0x927C).
func parseIFD(ctx *parseCtx, root *bitio.Stream, parent *IFD, offset uint32, depth int) (*IFD, error) {
	if depth > maxDepth {
		return nil, ErrIFDTooDeep
	}

	countStream, err := root.Substream(int(offset), 2)
	if err != nil {
		return nil, fmt.Errorf("%w: IFD count out of bounds", ErrBadHeader)
	}
	count, err := countStream.GetU16()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated IFD count", ErrBadHeader)
	}

	ifdLen := 2 + int(count)*entryHeaderSize + 4
	if !ctx.ranges.insert(int(offset), ifdLen) {
		return nil, ErrCyclicIFD
	}

	entryTable, err := root.Substream(int(offset)+2, int(count)*entryHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: IFD entry table out of bounds", ErrBadHeader)
	}

	ifd := &IFD{Entries: make(map[Tag]Entry, count), parent: parent}

	var subIFDOffsets []uint32
	var makerNoteEntry *Entry

	for i := 0; i < int(count); i++ {
		e, err := parseEntry(entryTable, root)
		if err != nil {
			continue // unreadable entries are skipped, not fatal to the IFD
		}
		ifd.Entries[e.Tag] = e

		switch e.Tag {
		case TagSubIFDs:
			offs, err := e.GetU32Array()
			if err == nil {
				subIFDOffsets = append(subIFDOffsets, offs...)
			}
		case TagMakerNote:
			ee := e
			makerNoteEntry = &ee
		}
	}

	nextStream, err := root.Substream(int(offset)+2+int(count)*entryHeaderSize, 4)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated next-IFD offset", ErrBadHeader)
	}
	ifd.NextIFD, _ = nextStream.GetU32()

	directSubCount := len(subIFDOffsets)
	if makerNoteEntry != nil {
		directSubCount++
	}
	if directSubCount > maxSubIFDs {
		return nil, ErrTooManySubIFDs
	}
	ctx.recursiveCount += directSubCount
	if ctx.recursiveCount > maxRecursiveSubIFDs {
		return nil, ErrTooManyRecursiveSubIFDs
	}

	for _, so := range subIFDOffsets {
		sub, err := parseIFD(ctx, root, ifd, so, depth+1)
		if err != nil {
			return nil, err
		}
		ifd.SubIFDs = append(ifd.SubIFDs, sub)
	}

	if makerNoteEntry != nil {
		if sub, ok := parseMakerNote(ctx, root, ifd, *makerNoteEntry, depth+1); ok {
			ifd.SubIFDs = append(ifd.SubIFDs, sub)
		}
	}

	return ifd, nil
}

// makerNoteSignature pairs a byte prefix recognized at the start of a
// maker-note entry's data with the offset (within the entry's data) at
// which the nested IFD actually begins, and the byte order to parse it
// with when forceOrder is set (otherwise the root's order is inherited).
type makerNoteSignature struct {
	prefix      []byte
	ifdOffset   int
	forceOrder  bool
	order       bitio.Order
}

var makerNoteSignatures = []makerNoteSignature{
	{prefix: []byte("Nikon\x00"), ifdOffset: 10, forceOrder: false},
	{prefix: []byte("FUJIFILM"), ifdOffset: 12, forceOrder: true, order: bitio.LittleEndian},
	{prefix: []byte("OLYMP\x00"), ifdOffset: 8, forceOrder: false},
	{prefix: []byte("PENTAX \x00"), ifdOffset: 8, forceOrder: false},
}

// parseMakerNote recognizes a vendor maker-note header and, if recognized,
// parses the remainder as a synthetic IFD rooted at the maker-note bytes.
// Unrecognized maker notes are silently skipped: they carry no tags the
// rest of the pipeline needs.
func parseMakerNote(ctx *parseCtx, root *bitio.Stream, parent *IFD, e Entry, depth int) (*IFD, bool) {
	raw, err := e.data.Buffer().GetData(0, e.data.Size())
	if err != nil {
		return nil, false
	}

	for _, sig := range makerNoteSignatures {
		if len(raw) < len(sig.prefix) || !strings.HasPrefix(string(raw), string(sig.prefix)) {
			continue
		}
		if sig.ifdOffset >= len(raw) {
			return nil, false
		}
		order := root.Order()
		if sig.forceOrder {
			order = sig.order
		}
		mnBuf := bitio.NewBuffer(raw[sig.ifdOffset:], order)
		mnStream := bitio.NewStream(mnBuf)

		sub, err := parseIFD(&parseCtx{ranges: &noRangesSet{}}, mnStream, parent, 0, depth)
		if err != nil {
			return nil, false
		}
		return sub, true
	}
	return nil, false
}

// GetIFDsWithTag returns every IFD in the tree, in pre-order, that has tag.
func (ifd *IFD) GetIFDsWithTag(tag Tag) []*IFD {
	var out []*IFD
	if _, ok := ifd.Entries[tag]; ok {
		out = append(out, ifd)
	}
	for _, sub := range ifd.SubIFDs {
		out = append(out, sub.GetIFDsWithTag(tag)...)
	}
	return out
}

// GetIFDWithTag returns the index-th IFD (pre-order) carrying tag.
func (ifd *IFD) GetIFDWithTag(tag Tag, index int) (*IFD, error) {
	all := ifd.GetIFDsWithTag(tag)
	if index < 0 || index >= len(all) {
		return nil, fmt.Errorf("tiff: no IFD #%d with tag 0x%04x", index, tag)
	}
	return all[index], nil
}

// GetEntry returns tag's entry in this IFD only, or false if absent.
func (ifd *IFD) GetEntry(tag Tag) (Entry, bool) {
	e, ok := ifd.Entries[tag]
	return e, ok
}

// HasEntry reports whether this IFD (not its sub-IFDs) carries tag.
func (ifd *IFD) HasEntry(tag Tag) bool {
	_, ok := ifd.Entries[tag]
	return ok
}

// GetEntryRecursive returns the first entry for tag found in a pre-order
// walk of the tree rooted at ifd.
func (ifd *IFD) GetEntryRecursive(tag Tag) (Entry, bool) {
	if e, ok := ifd.Entries[tag]; ok {
		return e, true
	}
	for _, sub := range ifd.SubIFDs {
		if e, ok := sub.GetEntryRecursive(tag); ok {
			return e, true
		}
	}
	return Entry{}, false
}

// ID is the (make, model) pair identifying the camera that produced a
// file, with whitespace trimmed from both ends.
type ID struct {
	Make, Model string
}

// GetID finds the MAKE and MODEL tags anywhere in the tree and returns
// them trimmed.
func (rt *RootIFD) GetID() (ID, error) {
	var id ID
	for _, top := range rt.IFDs {
		if e, ok := top.GetEntryRecursive(TagMake); ok {
			if s, err := e.GetString(); err == nil {
				id.Make = strings.TrimSpace(s)
			}
		}
		if e, ok := top.GetEntryRecursive(TagModel); ok {
			if s, err := e.GetString(); err == nil {
				id.Model = strings.TrimSpace(s)
			}
		}
	}
	if id.Make == "" && id.Model == "" {
		return ID{}, errors.New("tiff: no MAKE/MODEL entries found")
	}
	return id, nil
}
