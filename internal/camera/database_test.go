package camera

import (
	"strings"
	"testing"
)

const sampleXML = `<Cameras>
  <Camera make="Acme" model="X100" mode="normal" supported="true" decoder_version="1">
    <ID make="Acme" model="X100"/>
    <CFA width="2" height="2">
      <Color x="0" y="0">RED</Color>
      <Color x="1" y="0">GREEN</Color>
      <Color x="0" y="1">GREEN</Color>
      <Color x="1" y="1">BLUE</Color>
    </CFA>
    <Crop x="2" y="2" width="100" height="100"/>
    <BlackAreas>
      <Vertical offset="0" size="2"/>
    </BlackAreas>
    <Sensor black_level="128" white_level="16383" iso_min="0" iso_max="0"/>
    <Sensor black_level="256" white_level="16383" iso_min="1600" iso_max="6400"/>
    <Aliases>
      <Alias id="Acme X100">Acme X100S</Alias>
    </Aliases>
    <Hint name="filesize" value="12345"/>
  </Camera>
  <Camera make="Acme" model="X100" mode="normal" supported="true">
    <ID make="Acme" model="X100"/>
  </Camera>
  <Camera make="Acme" model="Chdk" mode="chdk" supported="true">
    <ID make="Acme" model="Chdk"/>
    <Hint name="filesize" value="99999"/>
  </Camera>
</Cameras>`

func TestLoad_BasicLookupAndAliasExpansion(t *testing.T) {
	db, err := Load(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cam, ok := db.GetCamera("Acme", "X100", "normal")
	if !ok {
		t.Fatal("expected to find Acme X100")
	}
	if cam.CFA.W != 2 || cam.CFA.H != 2 {
		t.Errorf("CFA size = %dx%d, want 2x2", cam.CFA.W, cam.CFA.H)
	}
	if cam.CFA.ColorAt(0, 0) != Red {
		t.Errorf("CFA(0,0) = %v, want RED", cam.CFA.ColorAt(0, 0))
	}

	alias, ok := db.GetCamera("Acme", "X100S", "normal")
	if !ok {
		t.Fatal("expected alias camera Acme X100S to be registered")
	}
	if alias.CFA.W != 2 {
		t.Error("alias camera should inherit CFA from its base camera")
	}
}

func TestLoad_DuplicateKeySkipped(t *testing.T) {
	db, err := Load(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Only one entry should have survived for the duplicate (make, model, mode).
	if _, ok := db.GetCamera("Acme", "X100", "normal"); !ok {
		t.Fatal("expected first entry to win")
	}
}

func TestLoad_ChdkFilesizeLookup(t *testing.T) {
	db, err := Load(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cam, ok := db.HasChdkCamera(99999)
	if !ok {
		t.Fatal("expected CHDK lookup by filesize to succeed")
	}
	if cam.Model != "Chdk" {
		t.Errorf("Model = %q, want Chdk", cam.Model)
	}
	if _, ok := db.HasChdkCamera(11111); ok {
		t.Error("did not expect a match for an unregistered filesize")
	}
}

func TestSensorInfo_Selection(t *testing.T) {
	db, err := Load(strings.NewReader(sampleXML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cam, _ := db.GetCamera("Acme", "X100", "normal")

	si, ok := cam.GetSensorInfo(3200)
	if !ok {
		t.Fatal("expected a sensor info match at ISO 3200")
	}
	if si.BlackLevel != 256 {
		t.Errorf("BlackLevel at ISO 3200 = %d, want 256", si.BlackLevel)
	}

	si, ok = cam.GetSensorInfo(100)
	if !ok {
		t.Fatal("expected default sensor info fallback at ISO 100")
	}
	if si.BlackLevel != 128 {
		t.Errorf("BlackLevel at ISO 100 = %d, want 128 (default)", si.BlackLevel)
	}
}
