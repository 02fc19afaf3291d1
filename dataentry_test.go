package madras

import "testing"

func TestDataEntryToBytes(t *testing.T) {
	raw := NewEntry(EntryRaw)
	raw.Content.Raw = []byte{1, 2, 3}
	if b, ok := raw.ToBytes(); !ok || string(b) != "\x01\x02\x03" {
		t.Fatalf("raw ToBytes = %v, %v", b, ok)
	}

	str := NewEntry(EntryString)
	str.Content.Str = "hi"
	if b, ok := str.ToBytes(); !ok || string(b) != "hi\x00" {
		t.Fatalf("string ToBytes = %q, %v, want %q", b, ok, "hi\x00")
	}

	lbl := NewEntry(EntryLabel)
	if _, ok := lbl.ToBytes(); ok {
		t.Fatalf("label entries have no flat byte representation")
	}
}

func TestDataEntryLinkLabelBidirectional(t *testing.T) {
	e := NewEntry(EntryRaw)
	e.SetAddress(0x100)

	lbl := NewLabel("foo", 0x100, LabelVariable)
	e.LinkLabel(lbl)

	if e.RefLabel() != lbl {
		t.Fatalf("LinkLabel did not attach the label to the entry")
	}
	if lbl.Target.Kind != TargetData || lbl.Target.Data != e.ID() {
		t.Fatalf("same-address label/entry should link bidirectionally, got target %+v", lbl.Target)
	}
}

func TestDataEntryLinkLabelNotBidirectionalWhenAddressesDiffer(t *testing.T) {
	e := NewEntry(EntryRaw)
	e.SetAddress(0x200)

	lbl := NewLabel("bar", 0x100, LabelVariable)
	e.LinkLabel(lbl)

	if lbl.Target.Kind != TargetUnset {
		t.Fatalf("label at a different address than its anchor entry should not be retargeted, got %+v", lbl.Target)
	}
}

func TestDataEntryDuplicateDeepCopiesContent(t *testing.T) {
	orig := NewEntry(EntryRaw)
	orig.Content.Raw = []byte{9, 9}
	cp := orig.Duplicate()
	cp.Content.Raw[0] = 1
	if orig.Content.Raw[0] != 9 {
		t.Fatalf("Duplicate should deep-copy Raw bytes, original mutated")
	}
	if cp.ID() != 0 {
		t.Fatalf("Duplicate should reset id to 0 pending arena registration, got %d", cp.ID())
	}
}

func TestCompareByAddressUnsetFirst(t *testing.T) {
	unset := NewEntry(EntryRaw)
	unset.SetAddress(AddressError)
	set := NewEntry(EntryRaw)
	set.SetAddress(0x10)

	if CompareByAddress(unset, set) >= 0 {
		t.Fatalf("an entry with no address should sort before one with an address")
	}
	if CompareByAddress(set, unset) <= 0 {
		t.Fatalf("comparison should be antisymmetric")
	}
}
