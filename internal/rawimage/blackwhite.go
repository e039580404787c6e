package rawimage

// CalculateBlackAreas derives per-position black levels by averaging the
// masked strips declared in BlackAreas, then fills BlackLevelSeparate for
// each of the four positions of a 2x2 cell (see cfaIndex). Strips
// narrower than two pixels are skipped as unusable.
func (im *Image) CalculateBlackAreas() {
	if len(im.BlackAreas) == 0 || im.CFA.W == 0 {
		return
	}

	var sums [4]float64
	var counts [4]int

	for _, area := range im.BlackAreas {
		if area.Size < 2 {
			continue
		}
		if area.IsVertical {
			for x := area.Offset; x < area.Offset+area.Size && x < im.uncroppedDim.X; x++ {
				for y := 0; y < im.uncroppedDim.Y; y++ {
					idx := im.cfaIndex(x, y)
					sums[idx] += im.componentAt(x, y, 0)
					counts[idx]++
				}
			}
		} else {
			for y := area.Offset; y < area.Offset+area.Size && y < im.uncroppedDim.Y; y++ {
				for x := 0; x < im.uncroppedDim.X; x++ {
					idx := im.cfaIndex(x, y)
					sums[idx] += im.componentAt(x, y, 0)
					counts[idx]++
				}
			}
		}
	}

	for i := 0; i < 4; i++ {
		if counts[i] == 0 {
			continue
		}
		im.BlackLevelSeparate[i] = int(sums[i] / float64(counts[i]))
	}
}

// cfaIndex maps an uncropped pixel position to one of the four
// CFA-position slots (row parity, column parity) used by
// BlackLevelSeparate, regardless of the pattern's own period.
func (im *Image) cfaIndex(x, y int) int {
	return (y%2)*2 + x%2
}

// ScaleBlackWhite rescales every cropped pixel from [blackLevel,
// whitePoint] to the full [0, 65535] output range, using the per-CFA-slot
// black level when available and falling back to the scalar BlackLevel.
func (im *Image) ScaleBlackWhite() {
	white := im.WhitePoint
	if white <= 0 {
		white = 65536
	}
	haveSeparate := im.BlackLevelSeparate != [4]int{}

	for y := 0; y < im.dim.Y; y++ {
		uy := y + im.offset.Y
		for x := 0; x < im.dim.X; x++ {
			ux := x + im.offset.X
			black := im.BlackLevel
			if haveSeparate {
				black = im.BlackLevelSeparate[im.cfaIndex(ux, uy)]
			}
			if black < 0 {
				black = 0
			}
			span := white - black
			if span <= 0 {
				continue
			}
			for c := 0; c < im.cpp; c++ {
				v := im.componentAt(ux, uy, c)
				scaled := (v - float64(black)) * 65535 / float64(span)
				if scaled < 0 {
					scaled = 0
				}
				if scaled > 65535 {
					scaled = 65535
				}
				im.setComponentAt(ux, uy, c, scaled)
			}
		}
	}
}
