package rawimage

// Metadata is the camera identification and shooting-condition block a
// decoder attaches to the image it produced.
type Metadata struct {
	Make  string
	Model string
	Mode  string

	CanonicalMake  string
	CanonicalModel string
	CanonicalAlias string
	CanonicalID    string

	WBCoeffs [4]float32

	ISOSpeed int

	FujiRotationPos  int
	PixelAspectRatio float64

	ColorMatrix []float64
}
