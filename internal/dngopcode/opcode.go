// Package dngopcode parses and applies a DNG OpcodeList2/OpcodeList3 tag's
// payload: an ordered sequence of per-pixel correction steps (bad-pixel
// fixups, crop trimming, lookup/polynomial maps, per-row/column delta and
// scale corrections) that a DNG decoder runs over the raw image after
// decompression.
package dngopcode

import (
	"errors"
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// ErrUnknownOpcode is returned for an opcode number the DNG specification
// never assigned.
var ErrUnknownOpcode = errors.New("dngopcode: unknown opcode")

// ErrUnsupportedOpcode is returned for a recognized-but-unimplemented
// opcode whose "optional" flag bit is not set.
var ErrUnsupportedOpcode = errors.New("dngopcode: unsupported opcode")

// ErrBadOpcode is returned when an opcode's own payload fails validation.
var ErrBadOpcode = errors.New("dngopcode: malformed opcode payload")

// optionalFlag marks an opcode as skippable by a reader that doesn't
// implement it, per the DNG specification's opcode flag word.
const optionalFlag = 1

// Code identifies one of the DNG specification's fixed opcode numbers.
type Code uint32

const (
	CodeWarpRectilinear    Code = 1
	CodeWarpFisheye        Code = 2
	CodeFixVignetteRadial  Code = 3
	CodeFixBadPixelsConstant Code = 4
	CodeFixBadPixelsList   Code = 5
	CodeTrimBounds         Code = 6
	CodeMapTable           Code = 7
	CodeMapPolynomial      Code = 8
	CodeGainMap            Code = 9
	CodeDeltaPerRow        Code = 10
	CodeDeltaPerColumn     Code = 11
	CodeScalePerRow        Code = 12
	CodeScalePerColumn     Code = 13
)

func (c Code) String() string {
	switch c {
	case CodeWarpRectilinear:
		return "WarpRectilinear"
	case CodeWarpFisheye:
		return "WarpFisheye"
	case CodeFixVignetteRadial:
		return "FixVignetteRadial"
	case CodeFixBadPixelsConstant:
		return "FixBadPixelsConstant"
	case CodeFixBadPixelsList:
		return "FixBadPixelsList"
	case CodeTrimBounds:
		return "TrimBounds"
	case CodeMapTable:
		return "MapTable"
	case CodeMapPolynomial:
		return "MapPolynomial"
	case CodeGainMap:
		return "GainMap"
	case CodeDeltaPerRow:
		return "DeltaPerRow"
	case CodeDeltaPerColumn:
		return "DeltaPerColumn"
	case CodeScalePerRow:
		return "ScalePerRow"
	case CodeScalePerColumn:
		return "ScalePerColumn"
	default:
		return fmt.Sprintf("Code(%d)", uint32(c))
	}
}

// implemented lists the opcode numbers this package can actually execute.
// Every code the DNG specification has ever assigned appears in known
// below (even if only to report ErrUnsupportedOpcode), per the original's
// "ALL opcodes specified in DNG Specification MUST be listed" rule.
var implemented = map[Code]bool{
	CodeFixBadPixelsConstant: true,
	CodeFixBadPixelsList:     true,
	CodeTrimBounds:           true,
	CodeMapTable:             true,
	CodeMapPolynomial:        true,
	CodeDeltaPerRow:          true,
	CodeDeltaPerColumn:       true,
	CodeScalePerRow:          true,
	CodeScalePerColumn:       true,
}

var known = map[Code]bool{
	CodeWarpRectilinear:      true,
	CodeWarpFisheye:          true,
	CodeFixVignetteRadial:    true,
	CodeFixBadPixelsConstant: true,
	CodeFixBadPixelsList:     true,
	CodeTrimBounds:           true,
	CodeMapTable:             true,
	CodeMapPolynomial:        true,
	CodeGainMap:              true,
	CodeDeltaPerRow:          true,
	CodeDeltaPerColumn:       true,
	CodeScalePerRow:          true,
	CodeScalePerColumn:       true,
}

// Opcode is one decoded, ready-to-run correction step.
type Opcode interface {
	// Setup is called immediately before Apply, with the image in its
	// current (possibly already-trimmed) state.
	Setup(img *rawimage.Image) error
	Apply(img *rawimage.Image) error
}

// List is a parsed, ordered OpcodeList2/OpcodeList3 payload.
type List struct {
	Opcodes []Opcode
}

// Parse reads an opcode list payload. DNG opcode lists are always stored
// big-endian regardless of the enclosing TIFF's byte order.
func Parse(data []byte, img *rawimage.Image) (*List, error) {
	s := bitio.NewStream(bitio.NewBuffer(data, bitio.BigEndian))

	count, err := s.GetU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated opcode list header", ErrBadOpcode)
	}

	roi := cropRectangle(img)
	list := &List{Opcodes: make([]Opcode, 0, count)}

	for i := uint32(0); i < count; i++ {
		code, err := s.GetU32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated opcode header", ErrBadOpcode)
		}
		if _, err := s.GetU32(); err != nil { // version, unused
			return nil, fmt.Errorf("%w: truncated opcode header", ErrBadOpcode)
		}
		flags, err := s.GetU32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated opcode header", ErrBadOpcode)
		}
		size, err := s.GetU32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated opcode header", ErrBadOpcode)
		}
		body, err := s.GetStream(int(size))
		if err != nil {
			return nil, fmt.Errorf("%w: opcode payload runs past end of list", ErrBadOpcode)
		}

		c := Code(code)
		if !known[c] {
			return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, code)
		}
		if !implemented[c] {
			if flags&optionalFlag != 0 {
				continue
			}
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, c)
		}

		op, newROI, err := construct(c, img, body, roi)
		if err != nil {
			return nil, err
		}
		roi = newROI
		list.Opcodes = append(list.Opcodes, op)

		if body.Remaining() != 0 {
			return nil, fmt.Errorf("%w: trailing bytes in %s payload", ErrBadOpcode, c)
		}
	}
	return list, nil
}

func construct(c Code, img *rawimage.Image, body *bitio.Stream, roi Rectangle) (Opcode, Rectangle, error) {
	switch c {
	case CodeFixBadPixelsConstant:
		op, err := newFixBadPixelsConstant(img, body)
		return op, roi, err
	case CodeFixBadPixelsList:
		op, err := newFixBadPixelsList(img, body)
		return op, roi, err
	case CodeTrimBounds:
		op, newROI, err := newTrimBounds(body, roi)
		return op, newROI, err
	case CodeMapTable:
		op, err := newTableMap(img, body, roi)
		return op, roi, err
	case CodeMapPolynomial:
		op, err := newPolynomialMap(img, body, roi)
		return op, roi, err
	case CodeDeltaPerRow:
		op, err := newOffsetPerRowOrCol(img, body, roi, axisRow)
		return op, roi, err
	case CodeDeltaPerColumn:
		op, err := newOffsetPerRowOrCol(img, body, roi, axisCol)
		return op, roi, err
	case CodeScalePerRow:
		op, err := newScalePerRowOrCol(img, body, roi, axisRow)
		return op, roi, err
	case CodeScalePerColumn:
		op, err := newScalePerRowOrCol(img, body, roi, axisCol)
		return op, roi, err
	default:
		return nil, roi, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, c)
	}
}

// Apply runs every opcode in order, re-deriving each one's setup state
// against img's current crop before applying it — matching the DNG
// engine's practice of letting earlier opcodes (TrimBounds in particular)
// change the active sub-image for the ones that follow.
func (l *List) Apply(img *rawimage.Image) error {
	for _, op := range l.Opcodes {
		if err := op.Setup(img); err != nil {
			return err
		}
		if err := op.Apply(img); err != nil {
			return err
		}
	}
	return nil
}

// Rectangle is an axis-aligned pixel rectangle expressed in plane (not
// component-interleaved) coordinates, matching the ROI preamble every
// pixel opcode carries.
type Rectangle struct {
	Top, Left, Bottom, Right int
}

func (r Rectangle) Width() int  { return r.Right - r.Left }
func (r Rectangle) Height() int { return r.Bottom - r.Top }

func (r Rectangle) isInsideInclusive(outer Rectangle) bool {
	return r.Top >= outer.Top && r.Left >= outer.Left &&
		r.Bottom <= outer.Bottom && r.Right <= outer.Right
}

func cropRectangle(img *rawimage.Image) Rectangle {
	dim := img.Dim()
	return Rectangle{Top: 0, Left: 0, Bottom: dim.Y, Right: dim.X}
}

func readROI(bs *bitio.Stream, subImage Rectangle) (Rectangle, error) {
	top, err := bs.GetU32()
	if err != nil {
		return Rectangle{}, fmt.Errorf("%w: truncated ROI", ErrBadOpcode)
	}
	left, err := bs.GetU32()
	if err != nil {
		return Rectangle{}, fmt.Errorf("%w: truncated ROI", ErrBadOpcode)
	}
	bottom, err := bs.GetU32()
	if err != nil {
		return Rectangle{}, fmt.Errorf("%w: truncated ROI", ErrBadOpcode)
	}
	right, err := bs.GetU32()
	if err != nil {
		return Rectangle{}, fmt.Errorf("%w: truncated ROI", ErrBadOpcode)
	}
	roi := Rectangle{Top: int(top), Left: int(left), Bottom: int(bottom), Right: int(right)}
	full := Rectangle{Top: 0, Left: 0, Bottom: subImage.Bottom - subImage.Top, Right: subImage.Right - subImage.Left}
	if roi.Bottom < roi.Top || roi.Right < roi.Left || !roi.isInsideInclusive(full) {
		return Rectangle{}, fmt.Errorf("%w: ROI (%d,%d,%d,%d) not inside image (%d,%d,%d,%d)",
			ErrBadOpcode, roi.Top, roi.Left, roi.Bottom, roi.Right, full.Top, full.Left, full.Bottom, full.Right)
	}
	return roi, nil
}
