package decompress

import "errors"

var (
	// ErrTruncated is returned when the input stream runs out of data
	// before the requested number of rows could be read.
	ErrTruncated = errors.New("decompress: input truncated")
	// ErrUnsupported is returned for a pixel format / bit order
	// combination no decompressor implements.
	ErrUnsupported = errors.New("decompress: unsupported format")
	// ErrBadParams is returned when a decompressor's caller-supplied
	// geometry (size, offset, pitch, bit depth) is internally
	// inconsistent.
	ErrBadParams = errors.New("decompress: bad parameters")
)
