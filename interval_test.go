package madras

import "testing"

func TestIntervalSplitMerge(t *testing.T) {
	iv := NewInterval(0x1000, 0x100)
	lo, hi, ok := iv.Split(0x1040)
	if !ok {
		t.Fatalf("Split failed on an interior point")
	}
	if lo.Address != 0x1000 || lo.Size != 0x40 {
		t.Fatalf("lo = %+v, want address=0x1000 size=0x40", lo)
	}
	if hi.Address != 0x1040 || hi.Size != 0xc0 {
		t.Fatalf("hi = %+v, want address=0x1040 size=0xc0", hi)
	}
	merged, ok := Merge(lo, hi)
	if !ok {
		t.Fatalf("Merge of adjacent sub-intervals failed")
	}
	if merged.Address != iv.Address || merged.Size != iv.Size {
		t.Fatalf("merged = %+v, want %+v", merged, iv)
	}
}

func TestIntervalSplitOutOfRange(t *testing.T) {
	iv := NewInterval(0x1000, 0x100)
	if _, _, ok := iv.Split(0x1000); ok {
		t.Fatalf("Split at the interval's own start should fail")
	}
	if _, _, ok := iv.Split(0x1100); ok {
		t.Fatalf("Split at the interval's own end should fail")
	}
}

func TestIntervalCanContain(t *testing.T) {
	iv := NewInterval(0x1003, 0x100)
	if got := iv.CanContain(0x10, 0x10); got != 0x1d {
		t.Fatalf("CanContain = 0x%x, want 0x1d (0xd padding + 0x10 size)", got)
	}
	if got := iv.CanContain(0x200, 1); got != 0 {
		t.Fatalf("CanContain should fail when the object is larger than the interval, got 0x%x", got)
	}
}

func TestIntervalSetAddressShrinksSize(t *testing.T) {
	iv := NewInterval(0x1000, 0x100)
	iv.SetAddress(0x1080)
	if iv.Size != 0x80 {
		t.Fatalf("SetAddress should keep End fixed; size = 0x%x, want 0x80", iv.Size)
	}
}
