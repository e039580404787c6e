package dngopcode

import (
	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
)

// trimBounds narrows the live crop to a sub-rectangle, expressed relative
// to the crop that was in effect at the point this opcode appears in the
// list. Any opcode after it in the list sees ROI coordinates relative to
// the new, smaller crop.
type trimBounds struct {
	rect Rectangle
}

func newTrimBounds(bs *bitio.Stream, subImage Rectangle) (*trimBounds, Rectangle, error) {
	rect, err := readROI(bs, subImage)
	if err != nil {
		return nil, Rectangle{}, err
	}
	newSubImage := Rectangle{
		Top:    subImage.Top + rect.Top,
		Left:   subImage.Left + rect.Left,
		Bottom: subImage.Top + rect.Top + rect.Height(),
		Right:  subImage.Left + rect.Left + rect.Width(),
	}
	return &trimBounds{rect: rect}, newSubImage, nil
}

func (op *trimBounds) Setup(img *rawimage.Image) error { return nil }

func (op *trimBounds) Apply(img *rawimage.Image) error {
	return img.SubFrame(rawimage.NewRectangle(op.rect.Left, op.rect.Top, op.rect.Width(), op.rect.Height()))
}
