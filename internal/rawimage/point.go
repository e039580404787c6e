package rawimage

// Point is an integer 2D coordinate or extent.
type Point struct {
	X, Y int
}

// Rectangle is an axis-aligned integer rectangle expressed as an origin
// (top-left) and a size.
type Rectangle struct {
	Pos  Point
	Dim  Point
}

// NewRectangle builds a Rectangle from explicit x, y, width, height.
func NewRectangle(x, y, w, h int) Rectangle {
	return Rectangle{Pos: Point{x, y}, Dim: Point{w, h}}
}

// IsThisInside reports whether r fits entirely within outer.
func (r Rectangle) IsThisInside(outer Rectangle) bool {
	return r.Pos.X >= outer.Pos.X && r.Pos.Y >= outer.Pos.Y &&
		r.Pos.X+r.Dim.X <= outer.Pos.X+outer.Dim.X &&
		r.Pos.Y+r.Dim.Y <= outer.Pos.Y+outer.Dim.Y
}
