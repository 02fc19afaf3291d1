package patch

import (
	"testing"

	"github.com/xyproto/madras"
)

func buildSimpleFile() *madras.BinFile {
	bf := madras.New("t.bin")
	bf.Format = "elf"

	data := madras.NewSection(".data", madras.SectionData)
	data.SetAttr(madras.AttrLoaded)
	data.Address = 0x1000
	bf.AddSection(data)

	a := madras.NewEntry(madras.EntryRaw)
	a.Content.Raw = []byte{1, 2, 3, 4}
	data.AddEntry(a, 0)
	bf.AllocEntry(a)

	b := madras.NewEntry(madras.EntryRaw)
	b.Content.Raw = []byte{5, 6, 7, 8}
	data.AddEntry(b, 1)
	bf.AllocEntry(b)

	bf.FinaliseLoad()
	return bf
}

func TestNewSessionCopiesSectionSkeleton(t *testing.T) {
	bf := buildSimpleFile()
	sess := NewSession(bf)

	if len(sess.Patched.Sections()) != len(bf.Sections()) {
		t.Fatalf("patched file should start with the same section count")
	}
	id := bf.Sections()[0]
	if sess.Section(id).Name != bf.SectionByID(id).Name {
		t.Fatalf("unmodified section access should read through to the original")
	}
}

func TestEntryForModificationDuplicatesLazily(t *testing.T) {
	bf := buildSimpleFile()
	sess := NewSession(bf)
	sid := bf.Sections()[0]

	// before modification, Entry reads through to the original.
	orig := sess.Entry(sid, 0)
	if orig == nil || string(orig.Content.Raw) != "\x01\x02\x03\x04" {
		t.Fatalf("unexpected original entry: %+v", orig)
	}

	cp := sess.EntryForModification(sid, 0)
	if cp == nil {
		t.Fatalf("EntryForModification returned nil")
	}
	if cp == orig {
		t.Fatalf("EntryForModification should return a distinct copy, not the original")
	}
	cp.Content.Raw[0] = 0xff
	if orig.Content.Raw[0] == 0xff {
		t.Fatalf("mutating the copy should not affect the original")
	}

	// a second call should return the same copy, not duplicate again.
	cp2 := sess.EntryForModification(sid, 0)
	if cp2 != cp {
		t.Fatalf("EntryForModification should be idempotent once a copy exists")
	}

	// the sibling entry (index 1) should still read through to the original.
	sibling := sess.Entry(sid, 1)
	if string(sibling.Content.Raw) != "\x05\x06\x07\x08" {
		t.Fatalf("unmodified sibling entry should be untouched: %+v", sibling)
	}
}

func TestDupRefsPromotesReferencer(t *testing.T) {
	bf := madras.New("t.bin")
	data := madras.NewSection(".data", madras.SectionData)
	data.SetAttr(madras.AttrLoaded)
	data.Address = 0x2000
	data.SetSize(0x10)
	bf.AddSection(data)

	target := madras.NewEntry(madras.EntryRaw)
	target.Content.Raw = []byte{1, 2, 3, 4}
	target.SetSize(4)
	data.AddEntry(target, 0)
	bf.AllocEntry(target)

	refScn := madras.NewSection(".refs", madras.SectionRefs)
	bf.AddSection(refScn)
	refEntry, code := bf.AddInternalRefByAddress(refScn, 0x2000, madras.PointerAbsolute)
	if code != madras.ErrNone {
		t.Fatalf("AddInternalRefByAddress: %v", code)
	}
	bf.FinaliseLoad()

	sess := NewSession(bf)
	dataID := bf.Sections()[0]

	// promoting target should pull the referencer along via dup-refs.
	cp := sess.EntryForModification(dataID, 0)
	if cp == nil {
		t.Fatalf("EntryForModification(target) failed")
	}

	refSectionID := refScn.ID()
	refIdx := -1
	for i, e := range refScn.Entries() {
		if e == refEntry {
			refIdx = i
		}
	}
	if refIdx < 0 {
		t.Fatalf("could not locate the reference entry's index")
	}
	refCopy := sess.Entry(refSectionID, refIdx)
	if refCopy == refEntry {
		t.Fatalf("dup-refs should have promoted the referencing entry to its own copy")
	}
	if ptr := refCopy.Content.Ptr; ptr == nil || ptr.TargetRef().Data != cp.ID() {
		t.Fatalf("the promoted referencer's pointer should retarget the new copy")
	}
}

func TestTryMoveSectionToIntervalFitsWithAlignment(t *testing.T) {
	bf := buildSimpleFile()
	sess := NewSession(bf)
	scn := sess.SectionForModification(bf.Sections()[0])
	scn.SetSize(0x10)
	scn.Alignment = 0x10

	iv := madras.NewInterval(0x5003, 0x100)
	out, ok := sess.TryMoveSectionToInterval(scn, iv)
	if !ok {
		t.Fatalf("section should fit in the free interval")
	}
	if out.Address%0x10 != 0 {
		t.Fatalf("placed address 0x%x is not aligned to 0x10", out.Address)
	}
	if !scn.HasAttr(madras.AttrPatchReordered) {
		t.Fatalf("a successfully moved section should carry AttrPatchReordered")
	}
}

func TestFinalisePlacesMovedSectionRetargetsUntouchedReferrer(t *testing.T) {
	bf := madras.New("t.bin")

	code := madras.NewSection(".text", madras.SectionCode)
	code.SetAttr(madras.AttrLoaded)
	code.Address = 0x1000
	code.SetSize(0x10)
	bf.AddSection(code)

	moved := madras.NewSection(".moved", madras.SectionData)
	moved.SetAttr(madras.AttrLoaded)
	moved.Address = 0x2000
	moved.SetSize(0x10)
	bf.AddSection(moved)

	refScn := madras.NewSection(".refs", madras.SectionRefs)
	bf.AddSection(refScn)
	refEntry, code2 := bf.AddInternalRefByOffset(refScn, moved, 0x4, madras.PointerAbsolute)
	if code2 != madras.ErrNone {
		t.Fatalf("AddInternalRefByOffset: %v", code2)
	}
	bf.FinaliseLoad()

	if refEntry.Content.Ptr.TargetRef().Kind != madras.TargetSection {
		t.Fatalf("setup: expected a section-level target, got %v", refEntry.Content.Ptr.TargetRef().Kind)
	}

	sess := NewSession(bf)
	scn := sess.SectionForModification(moved.ID())
	scn.SetSize(0x20)
	scn.Alignment = 0x10

	iv := madras.NewInterval(0x9000, 0x100)
	if _, ok := sess.TryMoveSectionToInterval(scn, iv); !ok {
		t.Fatalf("setup: section should fit in the free interval")
	}

	if errCode := sess.Finalise(); errCode != madras.ErrNone {
		t.Fatalf("Finalise: %v", errCode)
	}

	refIdx := -1
	for i, e := range refScn.Entries() {
		if e == refEntry {
			refIdx = i
		}
	}
	if refIdx < 0 {
		t.Fatalf("could not locate the reference entry's index")
	}

	// refEntry was never touched by anything other than the moved
	// section's relocation — it must still be promoted and retargeted,
	// since s.Original (not the still-empty s.Patched) is where its
	// referencer relationship to the moved section is recorded.
	refCopy := sess.Entry(refScn.ID(), refIdx)
	if refCopy == refEntry {
		t.Fatalf("an untouched referrer of a moved section should be promoted during Finalise")
	}
	wantAddr := scn.Address + 0x4
	if got := refCopy.Content.Ptr.Addr(); got != wantAddr {
		t.Fatalf("referrer's pointer address = 0x%x, want 0x%x (section's post-move address + offset)", got, wantAddr)
	}
}

func TestTryMoveSectionToIntervalTooSmallFails(t *testing.T) {
	bf := buildSimpleFile()
	sess := NewSession(bf)
	scn := sess.SectionForModification(bf.Sections()[0])
	scn.SetSize(0x1000)

	iv := madras.NewInterval(0x5000, 0x10)
	if _, ok := sess.TryMoveSectionToInterval(scn, iv); ok {
		t.Fatalf("a section larger than the interval should not fit")
	}
}
