package patch

import (
	"io"
	"sort"

	"github.com/xyproto/madras"
)

// Finalise runs the patching → finalised transition of spec.md §4.G:
// sort loaded/code sections by address, let the driver place any moved
// sections into remaining empty-space, duplicate and re-address every
// entry of every reordered section, retarget every pointer referencing a
// moved section, then recompute every pointer's stored address from its
// (possibly just-retargeted) target.
func (s *Session) Finalise() madras.ErrCode {
	p := s.Patched
	if p.PatchState != madras.PatchPatching {
		return madras.ErrFileNotBeingPatched
	}

	sortSectionsByAddress(p, p.LoadedSections())
	sortSectionsByAddress(p, p.CodeSections())

	if p.Driver != nil {
		if err := p.Driver.Finalise(p); err != nil {
			return madras.ErrFinaliseFailed
		}
	}

	var movedSections []madras.SectionID
	wl := newPromotionWorklist()
	for _, id := range p.Sections() {
		scn := p.SectionByID(id)
		if scn == nil || !scn.HasAttr(madras.AttrPatchReordered) {
			continue
		}
		movedSections = append(movedSections, id)
		for i := range scn.Entries() {
			wl.push(id, i)
		}
	}
	for {
		item, ok := wl.pop()
		if !ok {
			break
		}
		scn := p.SectionByID(item.section)
		cp := s.EntryForModification(item.section, item.index)
		if cp == nil {
			continue
		}
		base := scn.Address
		if item.index > 0 {
			if prev := scn.EntryByID(item.index - 1); prev != nil {
				base = prev.EndAddress()
			}
		}
		cp.SetAddress(base)
	}

	// every entry still pointing at a moved section is duplicated and
	// retargeted at that section directly (its own address is recomputed
	// from the target in the pass below). The referrer set has to come
	// from s.Original: p (s.Patched) starts as a fresh BinFile whose
	// sectionRefsByTarget index is empty until entries are promoted and
	// re-registered via AddPointerTarget, so it never holds the
	// not-yet-promoted referencers this pass exists to find — mirroring
	// dupRefs's use of s.Original.DataRefsByTarget below.
	for _, movedID := range movedSections {
		for _, refID := range s.Original.SectionRefsByTarget(movedID) {
			secID, idx, ok := s.locate(s.Original, refID)
			if !ok {
				continue
			}
			referrerCopy := s.EntryForModification(secID, idx)
			if ptr := entryPointer(referrerCopy); ptr != nil {
				p.AddPointerTarget(referrerCopy.ID(), ptr, madras.Target{Kind: madras.TargetSection, Section: movedID})
			}
		}
	}

	for _, id := range p.Sections() {
		scn := p.SectionByID(id)
		if scn == nil {
			continue
		}
		for _, e := range scn.Entries() {
			if e == nil {
				continue
			}
			if ptr := entryPointer(e); ptr != nil && ptr.HasTarget() {
				ptr.UpdateAddressFromTarget(p, e.Address())
			}
		}
	}

	p.PatchState = madras.PatchFinalised
	return madras.ErrNone
}

func sortSectionsByAddress(bf *madras.BinFile, ids []madras.SectionID) {
	sort.Slice(ids, func(i, j int) bool {
		return bf.SectionByID(ids[i]).Address < bf.SectionByID(ids[j]).Address
	})
}

// ReorderByOffset is the finalised → reordered transition: sorts
// sections/loaded-sections/code-sections by file offset.
func (s *Session) ReorderByOffset() madras.ErrCode {
	p := s.Patched
	if p.PatchState != madras.PatchFinalised {
		return madras.ErrPatchedFileNotFinalised
	}
	sortByOffset := func(ids []madras.SectionID) {
		sort.Slice(ids, func(i, j int) bool {
			return p.SectionByID(ids[i]).Offset < p.SectionByID(ids[j]).Offset
		})
	}
	sections := append([]madras.SectionID{}, p.Sections()...)
	loaded := append([]madras.SectionID{}, p.LoadedSections()...)
	code := append([]madras.SectionID{}, p.CodeSections()...)
	sortByOffset(sections)
	sortByOffset(loaded)
	sortByOffset(code)
	p.SetSectionOrder(sections)
	p.SetLoadedSectionOrder(loaded)
	p.SetCodeSectionOrder(code)

	p.PatchState = madras.PatchReordered
	return madras.ErrNone
}

// Write delegates to the driver (finalised or reordered states allowed);
// the patch state becomes terminal (PatchPatched) after a successful write.
func (s *Session) Write(w io.Writer) madras.ErrCode {
	p := s.Patched
	if p.PatchState != madras.PatchFinalised && p.PatchState != madras.PatchReordered {
		return madras.ErrPatchedFileNotFinalised
	}
	if p.Driver == nil {
		return madras.ErrDriverMissing
	}
	if err := p.Driver.Write(p, w); err != nil {
		return madras.ErrWriteFailed
	}
	p.PatchState = madras.PatchPatched
	return madras.ErrNone
}

// WriteOriginal re-emits the pristine file, unaffected by this session's
// patch state.
func (s *Session) WriteOriginal(w io.Writer) madras.ErrCode {
	if s.Original.Driver == nil {
		return madras.ErrDriverMissing
	}
	if err := s.Original.Driver.WriteOriginal(s.Original, w); err != nil {
		return madras.ErrWriteFailed
	}
	return madras.ErrNone
}
