package camera

import "testing"

func TestSensorInfoSelection(t *testing.T) {
	cam := &Camera{
		SensorInfo: []SensorInfo{
			{BlackLevel: 100, WhiteLevel: 4095, MinISO: 100, MaxISO: 800},
			{BlackLevel: 120, WhiteLevel: 4095, MinISO: 1600, MaxISO: 0},
		},
	}

	si, ok := cam.GetSensorInfo(400)
	if !ok || si.BlackLevel != 100 {
		t.Fatalf("iso 400 -> %+v (%v), want the 100-800 profile", si, ok)
	}
	// An open-ended range (max 0) covers everything at or above min.
	si, ok = cam.GetSensorInfo(3200)
	if !ok || si.BlackLevel != 120 {
		t.Fatalf("iso 3200 -> %+v (%v), want the 1600+ profile", si, ok)
	}
	// A gap between ranges, with no default entry, matches nothing.
	if _, ok := cam.GetSensorInfo(1200); ok {
		t.Fatal("iso 1200 should match no profile")
	}
}

func TestSensorInfoCoversISO(t *testing.T) {
	closed := SensorInfo{MinISO: 100, MaxISO: 800}
	if !closed.CoversISO(100) || !closed.CoversISO(800) {
		t.Fatal("closed interval must include both endpoints")
	}
	if closed.CoversISO(99) || closed.CoversISO(801) {
		t.Fatal("closed interval must exclude outside values")
	}

	open := SensorInfo{MinISO: 1600, MaxISO: 0}
	if !open.CoversISO(1600) || !open.CoversISO(1 << 20) {
		t.Fatal("open interval must accept everything at or above min")
	}
	if open.CoversISO(1599) {
		t.Fatal("open interval must still honor its minimum")
	}
	if !(SensorInfo{}).IsDefault() {
		t.Fatal("zero range is the default profile")
	}
}
