package madras

import "testing"

func TestPointerUpdateAddressFromTargetAbsolute(t *testing.T) {
	bf := New("t.bin")
	scn := bf.AddSection(NewSection(".data", SectionData))
	scn.SetAttr(AttrLoaded)
	scn.Address = 0x2000

	target := NewEntry(EntryRaw)
	target.Content.Raw = []byte{1, 2, 3, 4}
	scn.AddEntry(target, 0)
	bf.entryArena.alloc(target)

	ptr := NewPointer(PointerAbsolute)
	ptr.SetTargetData(target.ID(), 2)
	ptr.UpdateAddressFromTarget(bf, 0)

	if want := target.Address() + 2; ptr.Addr() != want {
		t.Fatalf("Addr() = 0x%x, want 0x%x", ptr.Addr(), want)
	}
}

func TestPointerUpdateAddressFromTargetRelative(t *testing.T) {
	bf := New("t.bin")
	scn := bf.AddSection(NewSection(".text", SectionCode))
	scn.SetAttr(AttrLoaded)
	scn.Address = 0x1000

	target := NewEntry(EntryRaw)
	target.Content.Raw = []byte{0, 0, 0, 0}
	scn.AddEntry(target, 0)
	bf.entryArena.alloc(target)

	ptr := NewPointer(PointerRelative)
	ptr.SetTargetData(target.ID(), 0)
	ptr.UpdateAddressFromTarget(bf, 0x1010)

	if want := target.Address() - 0x1010; ptr.Offset() != want {
		t.Fatalf("Offset() = 0x%x, want 0x%x", ptr.Offset(), want)
	}
}

func TestPointerRelativeOriginOverride(t *testing.T) {
	bf := New("t.bin")
	scn := bf.AddSection(NewSection(".text", SectionCode))
	scn.SetAttr(AttrLoaded)
	scn.Address = 0x1000

	target := NewEntry(EntryRaw)
	target.Content.Raw = []byte{0}
	scn.AddEntry(target, 0)
	bf.entryArena.alloc(target)

	ptr := NewPointer(PointerRelative)
	ptr.SetTargetData(target.ID(), 0)
	ptr.SetRelativeOrigin(0x900)
	ptr.UpdateAddressFromTarget(bf, 0xdead) // should be ignored in favour of relativeOrigin

	if want := target.Address() - 0x900; ptr.Offset() != want {
		t.Fatalf("Offset() = 0x%x, want 0x%x (relativeOrigin should override containingAddr)", ptr.Offset(), want)
	}
}

func TestPointerSerializeWidths(t *testing.T) {
	p := NewPointer(PointerAbsolute)
	p.SetAddr(0x1234)
	b, err := p.Serialize(4)
	if err != nil {
		t.Fatalf("Serialize(4): %v", err)
	}
	if len(b) != 4 || b[0] != 0x34 || b[1] != 0x12 {
		t.Fatalf("Serialize(4) = %x, want little-endian 0x1234", b)
	}
	if _, err := p.Serialize(3); err == nil {
		t.Fatalf("Serialize(3) should fail, 3 is not a supported width")
	}
}

func TestPointerDuplicateIsIndependent(t *testing.T) {
	origin := int64(0x10)
	p := &Pointer{addr: 0x20, kind: PointerRelative, relativeOrigin: &origin}
	cp := p.Duplicate()
	*cp.relativeOrigin = 0x99
	if *p.relativeOrigin != 0x10 {
		t.Fatalf("Duplicate should deep-copy relativeOrigin; original mutated to %d", *p.relativeOrigin)
	}
}
