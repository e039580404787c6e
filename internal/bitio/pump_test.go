package bitio

import "testing"

func TestMSBPump_ReadsBigEndianBitOrder(t *testing.T) {
	// 0xA5 = 1010_0101. MSB order reads the top bit of the stream first.
	data := []byte{0xA5, 0x00, 0x00, 0x00}
	p := NewMSBPump(NewStream(NewBuffer(data, BigEndian)))

	v, err := p.GetBits(4)
	if err != nil {
		t.Fatalf("GetBits(4): %v", err)
	}
	if v != 0xA {
		t.Errorf("GetBits(4) = 0x%x, want 0xA", v)
	}
	v, err = p.GetBits(4)
	if err != nil {
		t.Fatalf("GetBits(4): %v", err)
	}
	if v != 0x5 {
		t.Errorf("GetBits(4) = 0x%x, want 0x5", v)
	}
}

func TestLSBPump_ReadsLittleEndianBitOrder(t *testing.T) {
	// 0xA5 = 1010_0101. LSB order reads the bottom bit of the stream first.
	data := []byte{0xA5, 0x00, 0x00, 0x00}
	p := NewLSBPump(NewStream(NewBuffer(data, LittleEndian)))

	v, err := p.GetBits(4)
	if err != nil {
		t.Fatalf("GetBits(4): %v", err)
	}
	if v != 0x5 {
		t.Errorf("GetBits(4) = 0x%x, want 0x5", v)
	}
	v, err = p.GetBits(4)
	if err != nil {
		t.Fatalf("GetBits(4): %v", err)
	}
	if v != 0xA {
		t.Errorf("GetBits(4) = 0x%x, want 0xA", v)
	}
}

func TestMSB16Pump_SwapsChunksNotBits(t *testing.T) {
	// Two little-endian 16-bit chunks: bytes {0x01,0x02} -> word 0x0201,
	// {0x03,0x04} -> word 0x0403. MSB16 reads the first chunk's bits first.
	data := []byte{0x01, 0x02, 0x03, 0x04}
	p := NewMSB16Pump(NewStream(NewBuffer(data, LittleEndian)))

	v, err := p.GetBits(16)
	if err != nil {
		t.Fatalf("GetBits(16): %v", err)
	}
	if v != 0x0201 {
		t.Errorf("GetBits(16) = 0x%x, want 0x0201", v)
	}
	v, err = p.GetBits(16)
	if err != nil {
		t.Fatalf("GetBits(16): %v", err)
	}
	if v != 0x0403 {
		t.Errorf("GetBits(16) = 0x%x, want 0x0403", v)
	}
}

func TestMSB32Pump_ReadsWholeLittleEndianWord(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	p := NewMSB32Pump(NewStream(NewBuffer(data, LittleEndian)))

	v, err := p.GetBits(32)
	if err != nil {
		t.Fatalf("GetBits(32): %v", err)
	}
	if v != 0x04030201 {
		t.Errorf("GetBits(32) = 0x%x, want 0x04030201", v)
	}
}

func TestPump_PeekDoesNotAdvance(t *testing.T) {
	data := []byte{0xF0, 0x00, 0x00, 0x00}
	p := NewMSBPump(NewStream(NewBuffer(data, BigEndian)))
	if err := p.Fill(8); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	first := p.PeekBits(4)
	second := p.PeekBits(4)
	if first != second {
		t.Errorf("Peek not idempotent: %x != %x", first, second)
	}
	if first != 0xF {
		t.Errorf("PeekBits(4) = 0x%x, want 0xF", first)
	}
}

func TestPump_ZeroWidthReadIsZero(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	p := NewMSBPump(NewStream(NewBuffer(data, BigEndian)))
	v, err := p.GetBits(0)
	if err != nil {
		t.Fatalf("GetBits(0): %v", err)
	}
	if v != 0 {
		t.Errorf("GetBits(0) = %d, want 0", v)
	}
}

func TestPump_SkipBitsThenGetBits(t *testing.T) {
	data := []byte{0xAB, 0xCD, 0x00, 0x00}
	p := NewMSBPump(NewStream(NewBuffer(data, BigEndian)))
	if err := p.SkipBits(8); err != nil {
		t.Fatalf("SkipBits(8): %v", err)
	}
	v, err := p.GetBits(8)
	if err != nil {
		t.Fatalf("GetBits(8): %v", err)
	}
	if v != 0xCD {
		t.Errorf("GetBits(8) after skip = 0x%x, want 0xCD", v)
	}
}

func TestMSBPump_PastEndReturnsError(t *testing.T) {
	data := []byte{0x01, 0x02}
	p := NewMSBPump(NewStream(NewBuffer(data, BigEndian)))
	if _, err := p.GetBits(32); err == nil {
		t.Error("expected error reading past end of a 2-byte stream")
	}
}

func TestJPEGPump_UnstuffsFF00(t *testing.T) {
	// 0xFF 0x00 decodes to a single literal 0xFF byte, followed by 0xAB.
	data := []byte{0xFF, 0x00, 0xAB}
	p := NewJPEGPump(NewStream(NewBuffer(data, BigEndian)))

	v, err := p.GetBits(8)
	if err != nil {
		t.Fatalf("GetBits(8): %v", err)
	}
	if v != 0xFF {
		t.Errorf("GetBits(8) = 0x%x, want 0xFF", v)
	}
	v, err = p.GetBits(8)
	if err != nil {
		t.Fatalf("GetBits(8): %v", err)
	}
	if v != 0xAB {
		t.Errorf("GetBits(8) = 0x%x, want 0xAB", v)
	}
	if p.IsEndOfStream() {
		t.Error("unexpected end-of-stream after a plain byte")
	}
}

func TestJPEGPump_MarkerTriggersEndOfStream(t *testing.T) {
	// 0xFF 0xD9 is a marker (EOI): everything from here on reads as zero.
	data := []byte{0x12, 0xFF, 0xD9, 0x34}
	p := NewJPEGPump(NewStream(NewBuffer(data, BigEndian)))

	v, err := p.GetBits(8)
	if err != nil {
		t.Fatalf("GetBits(8): %v", err)
	}
	if v != 0x12 {
		t.Errorf("GetBits(8) = 0x%x, want 0x12", v)
	}

	if !p.eosAfter(8) {
		t.Fatal("expected end-of-stream once the marker is reached")
	}

	for i := 0; i < 64+32-1; i++ {
		v, err := p.GetBits(1)
		if err != nil {
			t.Fatalf("GetBits(1) #%d: %v", i, err)
		}
		if v != 0 {
			t.Errorf("GetBits(1) #%d = %d, want 0 after end-of-stream marker", i, v)
		}
	}
}

// eosAfter peeks n bits to force a fill, then reports whether the pump has
// latched end-of-stream.
func (p *JPEGPump) eosAfter(n int) bool {
	_ = p.Fill(n)
	return p.eos
}
