package camera

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/darktable-org/rawspeed-go/internal/rlog"
)

// xmlDatabase is the raw shape of a cameras.xml document. It exists only
// as an encoding/xml decode target; Load converts it into Database.
type xmlDatabase struct {
	XMLName xml.Name    `xml:"Cameras"`
	Cameras []xmlCamera `xml:"Camera"`
}

type xmlCamera struct {
	Make           string        `xml:"make,attr"`
	Model          string        `xml:"model,attr"`
	Mode           string        `xml:"mode,attr"`
	Supported      string        `xml:"supported,attr"`
	DecoderVersion int           `xml:"decoder_version,attr"`
	ID             *xmlID        `xml:"ID"`
	CFA            *xmlCFA       `xml:"CFA"`
	CFA2           *xmlCFA       `xml:"CFA2"`
	Crop           *xmlCrop      `xml:"Crop"`
	BlackAreas     *xmlBlackAreas `xml:"BlackAreas"`
	Sensors        []xmlSensor   `xml:"Sensor"`
	Aliases        *xmlAliases   `xml:"Aliases"`
	Hints          []xmlHint     `xml:"Hint"`
}

type xmlID struct {
	Make  string `xml:"make,attr"`
	Model string `xml:"model,attr"`
}

type xmlCFA struct {
	Width  int          `xml:"width,attr"`
	Height int          `xml:"height,attr"`
	Colors []xmlCFAColor `xml:"Color"`
}

type xmlCFAColor struct {
	X     int    `xml:"x,attr"`
	Y     int    `xml:"y,attr"`
	Value string `xml:",chardata"`
}

type xmlCrop struct {
	X      int `xml:"x,attr"`
	Y      int `xml:"y,attr"`
	Width  int `xml:"width,attr"`
	Height int `xml:"height,attr"`
}

type xmlBlackAreas struct {
	Vertical   []xmlBlackStrip `xml:"Vertical"`
	Horizontal []xmlBlackStrip `xml:"Horizontal"`
}

type xmlBlackStrip struct {
	Offset int `xml:"offset,attr"`
	Size   int `xml:"size,attr"`
}

type xmlSensor struct {
	BlackLevel  int    `xml:"black_level,attr"`
	WhiteLevel  int    `xml:"white_level,attr"`
	ISOMin      int    `xml:"iso_min,attr"`
	ISOMax      int    `xml:"iso_max,attr"`
	BlackSep    string `xml:"black_level_separate,attr"`
}

type xmlAliases struct {
	Alias []xmlAlias `xml:"Alias"`
}

type xmlAlias struct {
	ID    string `xml:"id,attr"`
	Value string `xml:",chardata"`
}

type xmlHint struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

var colorNames = map[string]Color{
	"RED": Red, "GREEN": Green, "BLUE": Blue, "CYAN": Cyan,
	"MAGENTA": Magenta, "YELLOW": Yellow, "WHITE": White, "FUJI_GREEN": FujiGreen,
}

// Database is the loaded, alias-expanded camera support table.
type Database struct {
	cameras map[ID]*Camera
	chdk    map[int]*Camera
}

// Load parses a cameras.xml document from r into a Database, expanding
// aliases and skipping (with a warning) any duplicate (make, model, mode)
// entry in favor of the one seen first.
func Load(r io.Reader) (*Database, error) {
	var doc xmlDatabase
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("camera: parse cameras.xml: %w", err)
	}

	db := &Database{cameras: make(map[ID]*Camera), chdk: make(map[int]*Camera)}

	for _, xc := range doc.Cameras {
		cam, err := buildCamera(xc)
		if err != nil {
			rlog.Default.Warn("camera: skipping %s %s: %v", xc.Make, xc.Model, err)
			continue
		}
		if added := db.add(cam); added == nil {
			continue
		}
		for _, alias := range cam.Aliases {
			db.add(cam.withAlias(alias))
		}
	}

	return db, nil
}

func buildCamera(xc xmlCamera) (*Camera, error) {
	cam := &Camera{
		Make:           xc.Make,
		Model:          xc.Model,
		Mode:           xc.Mode,
		Supported:      xc.Supported != "false",
		DecoderVersion: xc.DecoderVersion,
		CanonicalMake:  xc.Make,
		CanonicalModel: xc.Model,
		Hints:          make(Hints),
	}

	if xc.ID != nil {
		cam.CanonicalMake = xc.ID.Make
		cam.CanonicalModel = xc.ID.Model
	}
	cam.CanonicalID = cam.CanonicalMake + " " + cam.CanonicalModel

	cfaSrc := xc.CFA
	if cfaSrc == nil {
		cfaSrc = xc.CFA2
	}
	if cfaSrc != nil {
		if cfaSrc.Width <= 0 || cfaSrc.Height <= 0 {
			return nil, fmt.Errorf("invalid CFA dimensions %dx%d", cfaSrc.Width, cfaSrc.Height)
		}
		cfa := NewCfaPattern(cfaSrc.Width, cfaSrc.Height)
		for _, c := range cfaSrc.Colors {
			col, ok := colorNames[strings.ToUpper(strings.TrimSpace(c.Value))]
			if !ok {
				col = Unknown
			}
			cfa.SetColorAt(c.X, c.Y, col)
		}
		cam.CFA = cfa
	}

	if xc.Crop != nil {
		cam.CropPos = [2]int{xc.Crop.X, xc.Crop.Y}
		cam.CropSize = [2]int{xc.Crop.Width, xc.Crop.Height}
	}

	if xc.BlackAreas != nil {
		for _, v := range xc.BlackAreas.Vertical {
			cam.BlackAreas = append(cam.BlackAreas, BlackArea{Offset: v.Offset, Size: v.Size, IsVertical: true})
		}
		for _, h := range xc.BlackAreas.Horizontal {
			cam.BlackAreas = append(cam.BlackAreas, BlackArea{Offset: h.Offset, Size: h.Size, IsVertical: false})
		}
	}

	for _, s := range xc.Sensors {
		si := SensorInfo{BlackLevel: s.BlackLevel, WhiteLevel: s.WhiteLevel, MinISO: s.ISOMin, MaxISO: s.ISOMax}
		if s.BlackSep != "" {
			parts := strings.Split(s.BlackSep, ",")
			for i := 0; i < 4 && i < len(parts); i++ {
				v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
				if err != nil {
					return nil, fmt.Errorf("invalid black_level_separate: %w", err)
				}
				si.BlackLevelSeparate[i] = v
			}
		}
		cam.SensorInfo = append(cam.SensorInfo, si)
	}

	if xc.Aliases != nil {
		for _, a := range xc.Aliases.Alias {
			alias := strings.TrimSpace(a.Value)
			if alias == "" {
				continue
			}
			cam.Aliases = append(cam.Aliases, alias)
			canon := a.ID
			if canon == "" {
				canon = alias
			}
			cam.CanonicalAliases = append(cam.CanonicalAliases, canon)
		}
	}

	for _, h := range xc.Hints {
		cam.Hints[h.Name] = h.Value
	}

	return cam, nil
}

// add inserts cam, skipping (and logging) a duplicate (make, model, mode)
// key, and indexing it under its CHDK filesize hint if its mode names
// "chdk". Returns nil if the camera was skipped as a duplicate.
func (db *Database) add(cam *Camera) *Camera {
	id := makeID(cam.Make, cam.Model, cam.Mode)
	if _, exists := db.cameras[id]; exists {
		rlog.Default.Warn("camera: duplicate entry for %s %s, skipping", cam.Make, cam.Model)
		return nil
	}
	db.cameras[id] = cam

	if strings.Contains(cam.Mode, "chdk") {
		fs := cam.Hints.Get("filesize", "")
		if fs == "" {
			rlog.Default.Warn("camera: CHDK camera %s %s has no \"filesize\" hint", cam.Make, cam.Model)
		} else if n, err := strconv.Atoi(fs); err == nil {
			db.chdk[n] = cam
		}
	}
	return cam
}

// GetCamera returns the camera matching (make, model, mode) exactly.
func (db *Database) GetCamera(make, model, mode string) (*Camera, bool) {
	c, ok := db.cameras[makeID(make, model, mode)]
	return c, ok
}

// GetCameraAnyMode returns any camera matching (make, model), regardless
// of mode.
func (db *Database) GetCameraAnyMode(make, model string) (*Camera, bool) {
	wantMake := strings.TrimSpace(make)
	wantModel := strings.TrimSpace(model)
	for id, c := range db.cameras {
		if id.Make == wantMake && id.Model == wantModel {
			return c, true
		}
	}
	return nil, false
}

// HasChdkCamera returns the camera recognized by an exact CHDK-dumped raw
// file size, if any.
func (db *Database) HasChdkCamera(filesize int) (*Camera, bool) {
	c, ok := db.chdk[filesize]
	return c, ok
}
