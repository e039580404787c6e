package camera

// BlackArea is a strip of masked pixels along one edge of the sensor whose
// mean value defines a per-channel black level.
type BlackArea struct {
	Offset, Size int
	IsVertical   bool
}
