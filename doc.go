// Package rawspeed decodes camera RAW image files — the sensor-native
// formats digital cameras produce (ARW, NEF, CR2-family TIFFs, RAF, ORF,
// RW2, DNG, SRW, PEF and others) — into a rectangular pixel buffer plus
// camera metadata suitable for downstream demosaicing and tonemapping.
//
// The input is treated as hostile: every read is bounds-checked, every
// container structure is validated, and malformed input produces a
// precise error rather than a guess.
//
// Basic usage:
//
//	db, err := rawspeed.LoadCameraDatabase(camerasXML)
//	if err != nil { ... }
//	img, err := rawspeed.Decode(fileBytes, db, nil)
//	if err != nil { ... }
//	dim := img.Dim()
//
// The camera database (cameras.xml) supplies per-model CFA layouts,
// crops, black levels and decoder quirks; decoding without one works for
// self-describing formats like DNG but loses vendor-specific metadata.
package rawspeed
