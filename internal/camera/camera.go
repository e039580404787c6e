package camera

import "strings"

// Hints is a small free-form string map attached to a Camera for decoder
// quirks that don't warrant a dedicated field (e.g. "filesize" for CHDK
// detection, packing overrides for oddball compressed formats).
type Hints map[string]string

func (h Hints) Get(key, defaultValue string) string {
	if v, ok := h[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

func (h Hints) GetBool(key string, defaultValue bool) bool {
	v, ok := h[key]
	if !ok {
		return defaultValue
	}
	return v == "true"
}

// Camera is one (make, model, mode) support profile: its CFA pattern, crop,
// black areas, per-ISO sensor info, and free-form decoder hints.
type Camera struct {
	Make, Model, Mode string

	CanonicalMake, CanonicalModel, CanonicalAlias, CanonicalID string

	Aliases          []string
	CanonicalAliases []string

	CFA CfaPattern

	Supported bool

	CropPos, CropSize [2]int

	BlackAreas []BlackArea
	SensorInfo []SensorInfo

	DecoderVersion int

	Hints Hints
}

// GetSensorInfo returns the sensor info entry covering iso, preferring a
// specific ISO-range match over the default (min=max=0) entry, matching
// the original's "first matching, fall back to default" selection.
func (c *Camera) GetSensorInfo(iso int) (SensorInfo, bool) {
	var def SensorInfo
	haveDefault := false
	for _, si := range c.SensorInfo {
		if si.IsDefault() {
			def = si
			haveDefault = true
			continue
		}
		if si.CoversISO(iso) {
			return si, true
		}
	}
	return def, haveDefault
}

// withAlias returns a copy of c standing in for one of its aliases: same
// fields, but Model and CanonicalAlias replaced by the alias, matching the
// original's "Camera(camera, alias_num)" constructor.
func (c *Camera) withAlias(alias string) *Camera {
	alt := *c
	alt.Model = alias
	alt.CanonicalAlias = alias
	return &alt
}

// ID is the (make, model, mode) key a camera is looked up by, with
// whitespace trimmed from every field.
type ID struct {
	Make, Model, Mode string
}

func makeID(make, model, mode string) ID {
	return ID{
		Make:  strings.TrimSpace(make),
		Model: strings.TrimSpace(model),
		Mode:  strings.TrimSpace(mode),
	}
}
