package rawspeed

import (
	"errors"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/decoders"
	"github.com/darktable-org/rawspeed-go/internal/sniff"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// The error kinds a failed decode can report, comparable with
// errors.Is. Deeper causes (which tag, which tile) ride along in the
// message.
var (
	// ErrOutOfBounds: a read reached past the end of a buffer.
	ErrOutOfBounds = bitio.ErrOutOfBounds
	// ErrPastEnd: a stream read ran past the end of its input.
	ErrPastEnd = bitio.ErrPastEnd
	// ErrCyclicIFD: the TIFF IFD graph loops back on itself.
	ErrCyclicIFD = tiff.ErrCyclicIFD
	// ErrUnknownFormat: no known container signature matched.
	ErrUnknownFormat = sniff.ErrUnknownFormat
	// ErrUnsupportedCamera: the camera is absent from the database (and
	// strict checking was requested) or explicitly marked unsupported.
	ErrUnsupportedCamera = decoders.ErrUnsupportedCamera
	// ErrDecoder: the pixel data could not be decoded.
	ErrDecoder = decoders.ErrDecoder
	// ErrUnsupportedContainer: the container was recognized but this
	// build carries no decoder for it (Sigma X3F, Minolta MRW, Canon
	// CIFF).
	ErrUnsupportedContainer = errors.New("rawspeed: unsupported container variant")
)
