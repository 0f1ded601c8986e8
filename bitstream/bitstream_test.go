package bitstream

import "testing"

func TestRoundTripPrimitives(t *testing.T) {
	w := NewWriter(8)
	w.WriteUint(0x42, 8)
	w.WriteUint(1234, 16)
	w.WriteUint(567890, 32)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteVarUint(300)
	w.WriteVarInt(-17)
	w.WriteFloat32(3.25)
	w.WriteString("hello")

	r := NewReader(w.Bytes(), w.BitLength())

	if v, err := r.ReadUint(8); err != nil || v != 0x42 {
		t.Fatalf("ReadUint(8) = %d, %v", v, err)
	}
	if v, err := r.ReadUint(16); err != nil || v != 1234 {
		t.Fatalf("ReadUint(16) = %d, %v", v, err)
	}
	if v, err := r.ReadUint(32); err != nil || v != 567890 {
		t.Fatalf("ReadUint(32) = %d, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != false {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadVarUint(); err != nil || v != 300 {
		t.Fatalf("ReadVarUint = %d, %v", v, err)
	}
	if v, err := r.ReadVarInt(); err != nil || v != -17 {
		t.Fatalf("ReadVarInt = %d, %v", v, err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != 3.25 {
		t.Fatalf("ReadFloat32 = %v, %v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "hello" {
		t.Fatalf("ReadString = %q, %v", v, err)
	}
}

func TestBitLengthEqualsSumOfWidths(t *testing.T) {
	w := NewWriter(4)
	widths := []int{1, 3, 7, 8, 16, 32, 64}
	total := 0
	for i, width := range widths {
		w.WriteUint(uint64(i), width)
		total += width
	}
	if w.BitLength() != total {
		t.Fatalf("BitLength() = %d, want %d", w.BitLength(), total)
	}
}

func TestReadPastLengthFails(t *testing.T) {
	w := NewWriter(4)
	w.WriteUint(1, 4)
	r := NewReader(w.Bytes(), w.BitLength())
	if _, err := r.ReadUint(8); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestGrowthDoublesCapacity(t *testing.T) {
	w := NewWriter(1)
	for i := 0; i < 1000; i++ {
		w.WriteUint(1, 1)
	}
	if len(w.Bytes()) != 125 {
		t.Fatalf("expected 125 bytes for 1000 bits, got %d", len(w.Bytes()))
	}
	// Capacity starts at 8 and doubles: 8 -> 16 -> 32 -> 64 -> 128.
	if cap(w.Bytes()) != 128 {
		t.Fatalf("expected doubled capacity 128, got %d", cap(w.Bytes()))
	}
}

func TestArbitraryWidthRoundTrip(t *testing.T) {
	for width := 1; width <= 64; width++ {
		var max uint64
		if width == 64 {
			max = ^uint64(0)
		} else {
			max = (uint64(1) << uint(width)) - 1
		}
		w := NewWriter(16)
		w.WriteUint(max, width)
		r := NewReader(w.Bytes(), w.BitLength())
		got, err := r.ReadUint(width)
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if got != max {
			t.Fatalf("width %d: got %d, want %d", width, got, max)
		}
	}
}
