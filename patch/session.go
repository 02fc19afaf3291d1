// Package patch implements component G, the copy-on-write patching
// session that sits in front of a loaded madras.BinFile: lazy section/
// entry duplication, cross-reference propagation ("dup-refs"), section
// relocation, and the finalise/reorder/write pipeline of spec.md §4.G.
//
// Grounded on la_binfile.c's patching lifecycle (original_source) for the
// state machine and lazy-duplication semantics. dup-refs propagation is
// recursive: dupRefs calls EntryForModification for each referrer, and the
// recursion ends because every promoted entry is recorded (in the skeleton
// section and the BinFile's entry-copy map) before dupRefs runs. The
// promotion worklist (worklist.go) is used only by Finalise to re-address
// the entries of moved sections; it does not replace that recursion.
package patch

import (
	"github.com/xyproto/madras"
)

// Session owns the original (read-only) file and its in-progress patched
// copy. Only Session mutates Patched; Original is never written to,
// matching BinFile.Creator's documented weak-reference contract.
type Session struct {
	Original *madras.BinFile
	Patched  *madras.BinFile
}

// NewSession runs init_copy: clones file metadata and allocates skeleton
// sections of type patch-copy at the same ids as the originals, with the
// original's size/alignment/offset/address/segment-membership but an
// empty entry array (spec.md §4.G "Copy-on-write").
func NewSession(original *madras.BinFile) *Session {
	s := &Session{Original: original}
	s.initCopy()
	return s
}

func (s *Session) initCopy() {
	p := madras.New(s.Original.Filename)
	p.Format = s.Original.Format
	p.FileType = s.Original.FileType
	p.WordSize = s.Original.WordSize
	p.Arch = s.Original.Arch
	p.ABI = s.Original.ABI
	p.ByteOrder = s.Original.ByteOrder
	p.Driver = s.Original.Driver
	p.Creator = s.Original
	p.PatchState = madras.PatchPatching

	// Sections are added in the same order as the original's arena
	// allocation, so each skeleton lands on the same SectionID as its
	// original counterpart — the "same ids as the originals" spec.md
	// requires, achieved here by allocation order rather than an explicit
	// id-assignment API (arenas are append-only and 1-indexed).
	for _, id := range s.Original.Sections() {
		orig := s.Original.SectionByID(id)
		skel := madras.NewSection(orig.Name, madras.SectionPatchCopy)
		skel.SetSize(orig.Size())
		skel.Alignment = orig.Alignment
		skel.Offset = orig.Offset
		skel.Address = orig.Address
		skel.EntrySize = orig.EntrySize
		skel.Attrs = orig.Attrs
		p.AddSection(skel)
	}
	p.SetSectionOrder(cloneSectionIDs(s.Original.Sections()))
	p.SetLoadedSectionOrder(cloneSectionIDs(s.Original.LoadedSections()))
	p.SetCodeSectionOrder(cloneSectionIDs(s.Original.CodeSections()))

	for _, id := range s.Original.Segments() {
		orig := s.Original.SegmentByID(id)
		seg := madras.NewSegment()
		seg.Offset = orig.Offset
		seg.Address = orig.Address
		seg.FileSize = orig.FileSize
		seg.MemSize = orig.MemSize
		seg.Alignment = orig.Alignment
		seg.Attrs = orig.Attrs
		p.AddSegment(seg)
		for _, secID := range orig.Sections() {
			if scn := p.SectionByID(secID); scn != nil {
				seg.AddSection(scn)
			}
		}
	}

	s.Patched = p
}

func cloneSectionIDs(ids []madras.SectionID) []madras.SectionID {
	return append([]madras.SectionID{}, ids...)
}

// Section is "get section (read-only)": the original section if the
// patched skeleton hasn't been promoted, else the promoted skeleton.
func (s *Session) Section(id madras.SectionID) *madras.Section {
	skel := s.Patched.SectionByID(id)
	if skel == nil {
		return nil
	}
	if skel.Type == madras.SectionPatchCopy {
		return s.Original.SectionByID(id)
	}
	return skel
}

// SectionForModification is "get section for modification": promotes the
// skeleton's type to the original's and allocates its (all-unset) entry
// array, the first time this section is touched in this session.
func (s *Session) SectionForModification(id madras.SectionID) *madras.Section {
	skel := s.Patched.SectionByID(id)
	if skel == nil {
		return nil
	}
	if skel.Type == madras.SectionPatchCopy {
		orig := s.Original.SectionByID(id)
		skel.Type = orig.Type
		skel.SetEntryCount(len(orig.Entries()))
	}
	return skel
}

// Entry is "get entry (read-only)": the modification copy at index, if
// one exists, else the original entry at that index.
func (s *Session) Entry(sectionID madras.SectionID, index int) *madras.DataEntry {
	if skel := s.Patched.SectionByID(sectionID); skel != nil {
		if cp := skel.EntryByID(index); cp != nil {
			return cp
		}
	}
	if orig := s.Original.SectionByID(sectionID); orig != nil {
		return orig.EntryByID(index)
	}
	return nil
}

// EntryForModification is "get entry for modification": promotes the
// section, returns an existing copy if present, else deep-duplicates the
// original entry (recursing into its label/relocation payload) and
// propagates via dup-refs.
func (s *Session) EntryForModification(sectionID madras.SectionID, index int) *madras.DataEntry {
	skel := s.SectionForModification(sectionID)
	if skel == nil {
		return nil
	}
	if existing := skel.EntryByID(index); existing != nil {
		return existing
	}
	orig := s.Original.SectionByID(sectionID)
	if orig == nil {
		return nil
	}
	origEntry := orig.EntryByID(index)
	if origEntry == nil {
		return nil
	}
	if copyID, ok := s.Patched.EntryCopy(origEntry.ID()); ok {
		if cp := s.Patched.Entry(copyID); cp != nil {
			return cp
		}
	}

	cp := s.duplicateEntry(origEntry, sectionID)
	skel.SetEntryAt(index, cp)
	s.Patched.SetEntryCopy(origEntry.ID(), cp.ID())
	s.dupRefs(origEntry, cp)
	return cp
}

// duplicateEntry performs the deep-copy variants spec.md §4.G names
// explicitly: a label entry's label is switched onto the patched section;
// a relocation entry's associated label is recursively promoted via
// EntryForModification.
func (s *Session) duplicateEntry(orig *madras.DataEntry, patchedSection madras.SectionID) *madras.DataEntry {
	cp := orig.Duplicate()
	s.Patched.AllocEntry(cp)

	switch orig.Type {
	case madras.EntryLabel:
		if cp.Content.Label != nil {
			cp.Content.Label.Section = patchedSection
		}
	case madras.EntryReloc:
		if cp.Content.Reloc != nil && cp.Content.Reloc.Label != nil {
			if ownerEntry, ownerSection, ownerIndex, ok := s.findLabelOwner(cp.Content.Reloc.Label); ok {
				_ = ownerEntry
				s.EntryForModification(ownerSection, ownerIndex)
			}
		}
	}
	return cp
}

// findLabelOwner locates the original entry that lbl is attached to
// (lbl.Section names the section; the owning entry is found by scanning
// for the one whose RefLabel matches, since labels do not carry a
// back-pointer to their owning entry's index).
func (s *Session) findLabelOwner(lbl *madras.Label) (*madras.DataEntry, madras.SectionID, int, bool) {
	scn := s.Original.SectionByID(lbl.Section)
	if scn == nil {
		return nil, 0, 0, false
	}
	for i, e := range scn.Entries() {
		if e != nil && e.RefLabel() == lbl {
			return e, lbl.Section, i, true
		}
	}
	return nil, 0, 0, false
}

// locate finds the (section, index-within-section) of an entry known
// only by its global EntryID, via the entry's own RefSection back-link.
func (s *Session) locate(bf *madras.BinFile, id madras.EntryID) (madras.SectionID, int, bool) {
	e := bf.Entry(id)
	if e == nil {
		return 0, 0, false
	}
	scn := bf.SectionByID(e.RefSection())
	if scn == nil {
		return 0, 0, false
	}
	for i, x := range scn.Entries() {
		if x == e {
			return e.RefSection(), i, true
		}
	}
	return 0, 0, false
}

// entryPointer returns the Pointer payload of a pointer or relocation
// entry, or nil for every other variant.
func entryPointer(e *madras.DataEntry) *madras.Pointer {
	switch e.Type {
	case madras.EntryPointer:
		return e.Content.Ptr
	case madras.EntryReloc:
		if e.Content.Reloc != nil {
			return e.Content.Reloc.TargetPtr
		}
	}
	return nil
}

func isAuxiliaryEntry(t madras.EntryType) bool {
	return t == madras.EntryLabel || t == madras.EntryReloc
}

// dupRefs is the invariant that keeps references consistent across
// partial edits (spec.md §4.G): when orig is promoted to cp, (1) if cp's
// own pointer targets another non-code/non-data (label/reloc) entry still
// owned by the original, that target is duplicated too and cp's pointer
// retargeted; (2) if orig had a label pointing at itself, that label is
// duplicated and relinked onto cp; (3) every entry that referenced orig
// through the data-ref multimap is itself promoted and retargeted at cp.
func (s *Session) dupRefs(orig, cp *madras.DataEntry) {
	if ptr := entryPointer(cp); ptr != nil && ptr.HasTarget() {
		target := ptr.TargetRef()
		if target.Kind == madras.TargetData {
			if targetEntry := s.Original.Entry(target.Data); targetEntry != nil && isAuxiliaryEntry(targetEntry.Type) {
				if secID, idx, ok := s.locate(s.Original, target.Data); ok {
					dup := s.EntryForModification(secID, idx)
					s.Patched.AddPointerTarget(cp.ID(), ptr, madras.Target{Kind: madras.TargetData, Data: dup.ID()})
				}
			}
		}
	}

	if lbl := orig.RefLabel(); lbl != nil {
		prior := lbl.Target
		if prior.Kind == madras.TargetData && prior.Data == orig.ID() {
			newLbl := *lbl
			newLbl.Target = madras.Target{Kind: madras.TargetData, Data: cp.ID()}
			s.Patched.AddLabel(&newLbl, lbl.Section)
			cp.LinkLabel(&newLbl)
		}
	}

	for _, refID := range s.Original.DataRefsByTarget(orig.ID()) {
		if refID == cp.ID() {
			continue
		}
		secID, idx, ok := s.locate(s.Original, refID)
		if !ok {
			continue
		}
		referrerCopy := s.EntryForModification(secID, idx)
		if ptr := entryPointer(referrerCopy); ptr != nil {
			s.Patched.AddPointerTarget(referrerCopy.ID(), ptr, madras.Target{Kind: madras.TargetData, Data: cp.ID()})
		}
	}
}
