package madras

import "testing"

func TestBinFileAddSectionClassification(t *testing.T) {
	bf := New("t.bin")
	code := NewSection(".text", SectionCode)
	code.SetAttr(AttrLoaded)
	bf.AddSection(code)

	data := NewSection(".data", SectionData)
	bf.AddSection(data)

	if len(bf.Sections()) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(bf.Sections()))
	}
	if len(bf.CodeSections()) != 1 || bf.SectionByID(bf.CodeSections()[0]).Name != ".text" {
		t.Fatalf("code section classification wrong: %v", bf.CodeSections())
	}
	if len(bf.LoadedSections()) != 1 {
		t.Fatalf("expected 1 loaded section, got %d", len(bf.LoadedSections()))
	}
}

func TestBinFileSectionByAddress(t *testing.T) {
	bf := New("t.bin")
	s := NewSection(".text", SectionCode)
	s.SetAttr(AttrLoaded)
	s.Address = 0x1000
	s.SetSize(0x100)
	bf.AddSection(s)

	if got := bf.SectionByAddress(0x1050); got != s {
		t.Fatalf("SectionByAddress should find the containing loaded section, got %v", got)
	}
	if got := bf.SectionByAddress(0x5000); got != nil {
		t.Fatalf("SectionByAddress should return nil outside every loaded section, got %v", got)
	}
}

func TestBinFileAttachLabelsToEntriesAnchorsVariable(t *testing.T) {
	bf := New("t.bin")
	labelScn := NewSection(".data.labels", SectionLabel)
	bf.AddSection(labelScn)

	dataScn := NewSection(".data", SectionData)
	dataScn.SetAttr(AttrLoaded)
	dataScn.Address = 0x4000
	bf.AddSection(dataScn)

	e0 := NewEntry(EntryRaw)
	e0.SetSize(0x10)
	dataScn.AddEntry(e0, 0)
	bf.entryArena.alloc(e0)
	e1 := NewEntry(EntryRaw)
	e1.SetSize(0x10)
	dataScn.AddEntry(e1, 1)
	bf.entryArena.alloc(e1)

	anchor := NewLabel("g_counter", 0x4000, LabelGeneric)
	bf.AddLabel(anchor, labelScn.ID())
	bf.UpdateLabels()

	if e0.RefLabel() != anchor {
		t.Fatalf("entry at the label's address should be anchored by it")
	}
	if e1.RefLabel() != anchor {
		t.Fatalf("a later entry should inherit the nearest preceding variable anchor")
	}
}

func TestBinFileLinkUnlinkedPointersResolvesAfterSort(t *testing.T) {
	bf := New("t.bin")
	data := NewSection(".data", SectionData)
	data.SetAttr(AttrLoaded)
	data.Address = 0x6000
	bf.AddSection(data)

	target := NewEntry(EntryRaw)
	target.SetSize(0x8)
	data.AddEntry(target, 0)
	bf.entryArena.alloc(target)

	refScn := NewSection(".refs", SectionRefs)
	bf.AddSection(refScn)
	entry, code := bf.AddInternalRefByAddress(refScn, 0x6000, PointerAbsolute)
	if code != ErrNone {
		t.Fatalf("AddInternalRefByAddress failed: %v", code)
	}

	bf.FinaliseLoad()

	if entry.Content.Ptr.TargetRef().Kind != TargetData || entry.Content.Ptr.TargetRef().Data != target.ID() {
		t.Fatalf("pointer should resolve to the target entry after FinaliseLoad, got %+v", entry.Content.Ptr.TargetRef())
	}
	refs := bf.DataRefsByTarget(target.ID())
	if len(refs) != 1 || refs[0] != entry.ID() {
		t.Fatalf("DataRefsByTarget should list the resolved referencer, got %v", refs)
	}
}

func TestBinFileEntryCopyRoundTrip(t *testing.T) {
	bf := New("t.bin")
	if _, ok := bf.EntryCopy(42); ok {
		t.Fatalf("no copy should exist yet")
	}
	bf.SetEntryCopy(42, 99)
	got, ok := bf.EntryCopy(42)
	if !ok || got != 99 {
		t.Fatalf("EntryCopy(42) = %d, %v, want 99, true", got, ok)
	}
}
