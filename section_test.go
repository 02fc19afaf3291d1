package madras

import "testing"

func TestSectionAddEntryAppendsOutOfRangeIndex(t *testing.T) {
	s := NewSection(".data", SectionData)
	a := NewEntry(EntryRaw)
	b := NewEntry(EntryRaw)
	s.AddEntry(a, 5) // 5 is out of range on an empty slice: should append
	s.AddEntry(b, 99)
	if len(s.Entries()) != 2 || s.Entries()[0] != a || s.Entries()[1] != b {
		t.Fatalf("AddEntry with an out-of-range index should append without a gap, got %v", s.Entries())
	}
}

func TestSectionAddEntryInsertsAndAddressesWhenLoaded(t *testing.T) {
	s := NewSection(".text", SectionCode)
	s.SetAttr(AttrLoaded)
	s.Address = 0x1000

	first := NewEntry(EntryRaw)
	first.SetSize(0x10)
	s.AddEntry(first, 0)
	if first.Address() != 0x1000 {
		t.Fatalf("first entry should be addressed at the section base, got 0x%x", first.Address())
	}

	second := NewEntry(EntryRaw)
	second.SetSize(0x8)
	s.AddEntry(second, 1)
	if second.Address() != first.EndAddress() {
		t.Fatalf("second entry should follow the first, got 0x%x want 0x%x", second.Address(), first.EndAddress())
	}
}

func TestSectionSetEntryAtDoesNotShift(t *testing.T) {
	s := NewSection(".data", SectionData)
	s.SetEntryCount(3)
	e := NewEntry(EntryRaw)
	s.SetEntryAt(1, e)
	if s.EntryByID(0) != nil || s.EntryByID(2) != nil {
		t.Fatalf("SetEntryAt should only touch the target slot")
	}
	if s.EntryByID(1) != e {
		t.Fatalf("SetEntryAt did not place the entry at index 1")
	}
}

func TestSectionSetEntryAtOutOfRangeIsNoop(t *testing.T) {
	s := NewSection(".data", SectionData)
	s.SetEntryCount(1)
	e := NewEntry(EntryRaw)
	s.SetEntryAt(5, e) // must not panic or grow the slice
	if len(s.Entries()) != 1 {
		t.Fatalf("out-of-range SetEntryAt should be a no-op, entries = %v", s.Entries())
	}
}

func TestSectionEntryByAddressExactAndOverlap(t *testing.T) {
	s := NewSection(".data", SectionData)
	s.SetAttr(AttrLoaded)
	s.Address = 0x2000

	e0 := NewEntry(EntryRaw)
	e0.SetSize(0x10)
	s.AddEntry(e0, 0)
	e1 := NewEntry(EntryRaw)
	e1.SetSize(0x10)
	s.AddEntry(e1, 1)

	if got, off, ok := s.EntryByAddress(0x2000); !ok || got != e0 || off != 0 {
		t.Fatalf("exact match at section base failed: got=%v off=%d ok=%v", got, off, ok)
	}
	if got, off, ok := s.EntryByAddress(0x2014); !ok || got != e1 || off != 0x4 {
		t.Fatalf("overlap lookup failed: got=%v off=%d ok=%v", got, off, ok)
	}
	if _, _, ok := s.EntryByAddress(0x3000); ok {
		t.Fatalf("address past every entry should not resolve")
	}
}

func TestSectionEndOffsetZeroDataSection(t *testing.T) {
	s := NewSection(".bss", SectionZeroData)
	s.Offset = 0x400
	s.SetSize(0x1000)
	if s.EndOffset() != 0x400 {
		t.Fatalf("zero-data sections occupy no file bytes; EndOffset = 0x%x, want 0x400", s.EndOffset())
	}
}

func TestSectionLoadStringSection(t *testing.T) {
	s := NewSection(".rodata.str", SectionString)
	s.Address = 0x3000
	s.Data = []byte("ab\x00cde\x00")
	entries := s.LoadStringSection()
	if len(entries) != 2 {
		t.Fatalf("expected 2 NUL-terminated strings, got %d", len(entries))
	}
	if entries[0].Content.Str != "ab" || entries[1].Content.Str != "cde" {
		t.Fatalf("unexpected string contents: %q, %q", entries[0].Content.Str, entries[1].Content.Str)
	}
	if entries[1].Address() != 0x3003 {
		t.Fatalf("second string address = 0x%x, want 0x3003", entries[1].Address())
	}
}
