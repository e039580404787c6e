package rawimage

import "testing"

func TestCreateData_PitchRoundedAndPadded(t *testing.T) {
	im := NewImage(U16, Point{3, 2}, 1)
	if err := im.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	// 3 pixels * 2 bytes = 6 bytes, rounded up to 16, plus 16 bytes padding.
	if im.Pitch() != 32 {
		t.Errorf("Pitch() = %d, want 32", im.Pitch())
	}
	if len(im.Data()) != im.Pitch()*2 {
		t.Errorf("Data() length = %d, want %d", len(im.Data()), im.Pitch()*2)
	}
}

func TestCreateData_TwiceFails(t *testing.T) {
	im := NewImage(U16, Point{4, 4}, 1)
	if err := im.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	if err := im.CreateData(); err == nil {
		t.Error("expected second CreateData to fail")
	}
}

func TestSubFrame_NarrowsWithoutCopy(t *testing.T) {
	im := NewImage(U16, Point{10, 10}, 1)
	if err := im.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	im.SetU16(5, 5, 0, 42)

	if err := im.SubFrame(NewRectangle(2, 2, 6, 6)); err != nil {
		t.Fatalf("SubFrame: %v", err)
	}
	if im.Dim() != (Point{6, 6}) {
		t.Errorf("Dim() = %v, want 6x6", im.Dim())
	}
	if im.CropOffset() != (Point{2, 2}) {
		t.Errorf("CropOffset() = %v, want 2,2", im.CropOffset())
	}
	if got := im.GetU16(3, 3, 0); got != 42 {
		t.Errorf("GetU16(3,3) after crop = %d, want 42 (same underlying pixel)", got)
	}
}

func TestSubFrame_RejectsOutOfBounds(t *testing.T) {
	im := NewImage(U16, Point{10, 10}, 1)
	if err := im.SubFrame(NewRectangle(5, 5, 10, 10)); err == nil {
		t.Error("expected SubFrame to reject a crop larger than the image")
	}
}

func TestPixelRoundTrip_U16AndF32(t *testing.T) {
	u := NewImage(U16, Point{4, 4}, 1)
	if err := u.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	u.SetU16(1, 1, 0, 1234)
	if got := u.GetU16(1, 1, 0); got != 1234 {
		t.Errorf("GetU16 = %d, want 1234", got)
	}

	f := NewImage(F32, Point{4, 4}, 1)
	if err := f.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	f.SetF32(2, 2, 0, 3.5)
	if got := f.GetF32(2, 2, 0); got != 3.5 {
		t.Errorf("GetF32 = %v, want 3.5", got)
	}
}

func TestSetWithLookup_NoTablePassesThrough(t *testing.T) {
	im := NewImage(U16, Point{2, 2}, 1)
	if err := im.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	dst := make([]byte, 2)
	var r uint32
	im.SetWithLookup(999, dst, &r)
	if got := uint16(dst[0]) | uint16(dst[1])<<8; got != 999 {
		t.Errorf("passthrough value = %d, want 999", got)
	}
}

func TestSetWithLookup_PlainTable(t *testing.T) {
	im := NewImage(U16, Point{2, 2}, 1)
	if err := im.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	values := make([]uint16, 65536)
	values[10] = 5000
	im.SetTable(NewTable(values, false))

	dst := make([]byte, 2)
	var r uint32
	im.SetWithLookup(10, dst, &r)
	if got := uint16(dst[0]) | uint16(dst[1])<<8; got != 5000 {
		t.Errorf("plain table value = %d, want 5000", got)
	}
}

func TestSetWithLookup_DitherIsDeterministicAndInRange(t *testing.T) {
	im := NewImage(U16, Point{2, 2}, 1)
	if err := im.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	values := make([]uint16, 65536)
	for i := range values {
		values[i] = uint16(i / 2) // gentle ramp so base/delta are small
	}
	im.SetTable(NewTable(values, true))

	dst := make([]byte, 2)
	var r1, r2 uint32 = 12345, 12345
	im.SetWithLookup(100, dst, &r1)
	v1 := uint16(dst[0]) | uint16(dst[1])<<8

	im.SetWithLookup(100, dst, &r2)
	v2 := uint16(dst[0]) | uint16(dst[1])<<8

	if v1 != v2 {
		t.Errorf("dithered output not deterministic for identical random state: %d vs %d", v1, v2)
	}
	if r1 != r2 {
		t.Errorf("random state advance not deterministic: %d vs %d", r1, r2)
	}
	if v1 < values[100] || v1 > values[101] {
		t.Errorf("dithered output %d outside [%d, %d]", v1, values[100], values[101])
	}
}

func TestBadPixels_TransferAndFix(t *testing.T) {
	im := NewImage(U16, Point{5, 5}, 1)
	if err := im.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			im.SetU16(x, y, 0, uint16(100+x))
		}
	}
	im.AddBadPixel(2, 2)
	im.TransferBadPixelsToMap()
	im.FixBadPixels()

	got := im.GetU16(2, 2, 0)
	want := uint16(100 + 2) // average of the same-color neighbors (0,2)=100 and (4,2)=104
	if got != want {
		t.Errorf("FixBadPixels interpolated = %d, want %d", got, want)
	}
}

func TestBlitFrom_CopiesRegion(t *testing.T) {
	src := NewImage(U16, Point{4, 4}, 1)
	if err := src.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	dst := NewImage(U16, Point{4, 4}, 1)
	if err := dst.CreateData(); err != nil {
		t.Fatalf("CreateData: %v", err)
	}
	src.SetU16(0, 0, 0, 777)
	if err := src.BlitFrom(src, Point{0, 0}, Point{1, 1}, Point{0, 0}); err == nil {
		// blitting from itself is allowed by the implementation; just
		// confirm the destination below instead.
		_ = err
	}
	if err := dst.BlitFrom(src, Point{0, 0}, Point{1, 1}, Point{2, 2}); err != nil {
		t.Fatalf("BlitFrom: %v", err)
	}
	if got := dst.GetU16(2, 2, 0); got != 777 {
		t.Errorf("BlitFrom copied value = %d, want 777", got)
	}
}

func TestErrorLog_IsTooManyErrors(t *testing.T) {
	im := NewImage(U16, Point{1, 1}, 1)
	if _, ok := im.IsTooManyErrors(1); ok {
		t.Error("expected no errors yet")
	}
	im.SetError("first")
	first, ok := im.IsTooManyErrors(1)
	if !ok || first != "first" {
		t.Errorf("IsTooManyErrors = (%q, %v), want (first, true)", first, ok)
	}
}
