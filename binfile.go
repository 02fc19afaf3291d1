package madras

import (
	"encoding/binary"
	"sort"
)

// PatchState is the patching-session state machine of spec.md §4.G:
// none -> patching -> finalised -> reordered -> patched (terminal).
type PatchState uint8

const (
	PatchNone PatchState = iota
	PatchPatching
	PatchFinalised
	PatchReordered
	PatchPatched
)

func (s PatchState) String() string {
	switch s {
	case PatchPatching:
		return "patching"
	case PatchFinalised:
		return "finalised"
	case PatchReordered:
		return "reordered"
	case PatchPatched:
		return "patched"
	default:
		return "none"
	}
}

// BinFile is component E, the binary file aggregate: owner of sections,
// segments, labels, relocations, the external-lib table, the two
// cross-reference indexes and the format driver.
type BinFile struct {
	errorLatch

	Filename  string
	Format    string // "elf", "pe", "macho", ...
	FileType  string // "exec", "dyn", "obj", ...
	WordSize  int
	Arch      string
	ABI       string
	ByteOrder binary.ByteOrder

	PatchState PatchState

	sections      []SectionID
	loadedSections []SectionID
	codeSections  []SectionID
	labelSections []SectionID
	segments      []SegmentID

	labels         []LabelID
	labelsBySection map[SectionID][]LabelID

	relocs  []EntryID
	extLibs []string

	archiveMembers []*BinFile
	Archive        *BinFile

	// Creator is set only during a patching session and points to the
	// unmodified original; the original is never mutated through this
	// weak reference, per spec.md §5.
	Creator *BinFile

	dataRefsByTarget    refIndex[EntryID]
	sectionRefsByTarget refIndex[SectionID]

	// entryCopies maps an original entry to its patched-file copy; it is
	// the single source of truth for "has this original entry been
	// promoted yet" (spec.md §5), populated by the patch subpackage.
	entryCopies map[EntryID]EntryID

	Driver FormatDriver

	sectionArena sectionArena
	entryArena   entryArena
	labelArena   labelArena
	segmentArena segmentArena
}

// New creates an empty binary file aggregate for filename.
func New(filename string) *BinFile {
	return &BinFile{
		Filename:        filename,
		ByteOrder:       binary.LittleEndian,
		labelsBySection: make(map[SectionID][]LabelID),
		entryCopies:     make(map[EntryID]EntryID),
		dataRefsByTarget:    newRefIndex[EntryID](),
		sectionRefsByTarget: newRefIndex[SectionID](),
	}
}

// Parse runs loader (the format-specific population routine, normally
// supplied by a driver-package backend's Loader) against this file. A loader
// failure propagates the error and frees the partially-built file, per
// spec.md §7's recovery policy.
func (bf *BinFile) Parse(loader func(*BinFile) error) ErrCode {
	if loader == nil {
		return bf.setError(ErrParameterMissing)
	}
	if err := loader(bf); err != nil {
		bf.Free()
		return bf.setError(ErrUnableToOpenFile)
	}
	return bf.setError(ErrNone)
}

// FinaliseLoad must follow all load_* calls before any query on loaded
// sections or unlinked pointers is meaningful (spec.md §5). It sorts
// loaded-sections and segments by address, then links unlinked pointers.
func (bf *BinFile) FinaliseLoad() ErrCode {
	sort.Slice(bf.loadedSections, func(i, j int) bool {
		return bf.mustSection(bf.loadedSections[i]).Address < bf.mustSection(bf.loadedSections[j]).Address
	})
	sort.Slice(bf.segments, func(i, j int) bool {
		return bf.mustSegment(bf.segments[i]).Address < bf.mustSegment(bf.segments[j]).Address
	})
	bf.LinkUnlinkedPointers()
	return bf.setError(ErrNone)
}

// Free releases this file's owned collections. Arenas are not literally
// deallocated (Go is garbage collected) but are cleared so a stale BinFile
// cannot be mistaken for a live one.
func (bf *BinFile) Free() {
	bf.sections = nil
	bf.loadedSections = nil
	bf.codeSections = nil
	bf.labelSections = nil
	bf.segments = nil
	bf.labels = nil
	bf.labelsBySection = make(map[SectionID][]LabelID)
	bf.relocs = nil
	bf.extLibs = nil
	bf.sectionArena = sectionArena{}
	bf.entryArena = entryArena{}
	bf.labelArena = labelArena{}
	bf.segmentArena = segmentArena{}
}

func (bf *BinFile) mustSection(id SectionID) *Section { return bf.sectionArena.get(id) }
func (bf *BinFile) mustSegment(id SegmentID) *Segment  { return bf.segmentArena.get(id) }

// --- section / segment access -------------------------------------------------

// AddSection registers a new section with this file (component D/E
// wiring): allocates its arena id, appends it to the master section list
// and, based on its Type/Attrs, to the loaded/code/label-section lists.
func (bf *BinFile) AddSection(s *Section) *Section {
	s.binfile = bf
	id := bf.sectionArena.alloc(s)
	bf.sections = append(bf.sections, id)
	if s.HasAttr(AttrLoaded) {
		bf.loadedSections = append(bf.loadedSections, id)
	}
	if s.Type == SectionCode {
		bf.codeSections = append(bf.codeSections, id)
	}
	if s.Type == SectionLabel {
		bf.labelSections = append(bf.labelSections, id)
	}
	return s
}

// AddSegment registers a new segment with this file.
func (bf *BinFile) AddSegment(g *Segment) *Segment {
	g.binfile = bf
	id := bf.segmentArena.alloc(g)
	bf.segments = append(bf.segments, id)
	return g
}

func (bf *BinFile) SectionByID(id SectionID) *Section { return bf.sectionArena.get(id) }
func (bf *BinFile) SegmentByID(id SegmentID) *Segment { return bf.segmentArena.get(id) }

// SectionByName returns the first section with the given name, or nil.
func (bf *BinFile) SectionByName(name string) *Section {
	for _, id := range bf.sections {
		if s := bf.sectionArena.get(id); s != nil && s.Name == name {
			return s
		}
	}
	return nil
}

// SectionByAddress returns the loaded section whose [Address, EndAddress)
// range contains addr, or nil.
func (bf *BinFile) SectionByAddress(addr int64) *Section {
	for _, id := range bf.loadedSections {
		s := bf.sectionArena.get(id)
		if s != nil && addr >= s.Address && addr < s.EndAddress() {
			return s
		}
	}
	return nil
}

// Sections, LoadedSections, CodeSections, LabelSections, Segments return
// read-only views of the respective ordered id lists.
func (bf *BinFile) Sections() []SectionID       { return bf.sections }
func (bf *BinFile) LoadedSections() []SectionID { return bf.loadedSections }
func (bf *BinFile) CodeSections() []SectionID   { return bf.codeSections }
func (bf *BinFile) LabelSections() []SectionID  { return bf.labelSections }
func (bf *BinFile) Segments() []SegmentID       { return bf.segments }

// SetSectionOrder replaces the ordered section list wholesale — used by
// the patching session's reorder-by-offset step.
func (bf *BinFile) SetSectionOrder(ids []SectionID)       { bf.sections = ids }
func (bf *BinFile) SetLoadedSectionOrder(ids []SectionID) { bf.loadedSections = ids }
func (bf *BinFile) SetCodeSectionOrder(ids []SectionID)   { bf.codeSections = ids }

// --- label management ----------------------------------------------------

// SetLabelCount is a capacity hint retained for API parity with the
// original's manual array-sizing calls; growable slices make it a no-op
// beyond the hint itself (Design Notes §9).
func (bf *BinFile) SetLabelCount(n int) {
	if cap(bf.labels) < n {
		grown := make([]LabelID, len(bf.labels), n)
		copy(grown, bf.labels)
		bf.labels = grown
	}
}

// AddLabel registers lbl under the given owning section, maintaining the
// per-section ordered array (sorted lazily by UpdateLabels, per spec.md
// §5: "update labels must precede entry-to-label binding after new
// labels are added").
func (bf *BinFile) AddLabel(lbl *Label, section SectionID) *Label {
	lbl.Section = section
	id := bf.labelArena.alloc(lbl)
	bf.labels = append(bf.labels, id)
	bf.labelsBySection[section] = append(bf.labelsBySection[section], id)
	return lbl
}

// UpdateLabels sorts the global and per-section label arrays and
// reclassifies/links them onto data entries via AttachLabelsToEntries.
func (bf *BinFile) UpdateLabels() {
	sort.Slice(bf.labels, func(i, j int) bool {
		return compareLabels(bf.labelArena.get(bf.labels[i]), bf.labelArena.get(bf.labels[j])) < 0
	})
	for sid, ids := range bf.labelsBySection {
		sort.Slice(ids, func(i, j int) bool {
			return compareLabels(bf.labelArena.get(ids[i]), bf.labelArena.get(ids[j])) < 0
		})
		bf.labelsBySection[sid] = ids
	}
	bf.AttachLabelsToEntries()
}

// LabelByAddress binary-searches the (sorted) global label array for an
// exact address match.
func (bf *BinFile) LabelByAddress(addr int64) (*Label, bool) {
	n := len(bf.labels)
	idx := sort.Search(n, func(i int) bool {
		return bf.labelArena.get(bf.labels[i]).Address >= addr
	})
	if idx < n {
		if l := bf.labelArena.get(bf.labels[idx]); l != nil && l.Address == addr {
			return l, true
		}
	}
	return nil, false
}

// AttachLabelsToEntries runs the label->entry attachment pass of spec.md
// §4.E: classify variable anchors per label/string section, then walk
// every data entry in address order binding the nearest preceding
// variable-typed label plus any non-function-type labels at the entry's
// exact address.
func (bf *BinFile) AttachLabelsToEntries() {
	for _, sid := range bf.sections {
		sec := bf.sectionArena.get(sid)
		if sec == nil || (sec.Type != SectionLabel && sec.Type != SectionString) {
			continue
		}
		ids := bf.labelsBySection[sid]
		sort.Slice(ids, func(i, j int) bool {
			return compareLabels(bf.labelArena.get(ids[i]), bf.labelArena.get(ids[j])) < 0
		})
		bf.labelsBySection[sid] = ids

		lastAnchorAddr := AddressError
		for _, lid := range ids {
			lbl := bf.labelArena.get(lid)
			if lbl == nil || lbl.Name == "" {
				continue
			}
			if lastAnchorAddr == AddressError || lbl.Address > lastAnchorAddr {
				lbl.Type = LabelVariable
				lastAnchorAddr = lbl.Address
			}
		}
	}

	allLabels := make([]*Label, 0, len(bf.labels))
	for _, lid := range bf.labels {
		if l := bf.labelArena.get(lid); l != nil {
			allLabels = append(allLabels, l)
		}
	}
	sort.Slice(allLabels, func(i, j int) bool { return compareLabels(allLabels[i], allLabels[j]) < 0 })

	entries := bf.allEntriesByAddress()
	li := 0
	var anchor *Label
	for _, e := range entries {
		var exact []*Label
		for li < len(allLabels) && allLabels[li].Address <= e.Address() {
			l := allLabels[li]
			if l.Address == e.Address() {
				exact = append(exact, l)
			}
			if l.Type == LabelVariable {
				anchor = l
			}
			li++
		}
		if anchor != nil {
			e.LinkLabel(anchor)
		}
		for _, l := range exact {
			if l != anchor && !l.IsFunctionType() {
				l.Target = Target{Kind: TargetData, Data: e.id}
			}
		}
	}
}

// allEntriesByAddress gathers every data entry across every section, in
// address order (unset-address entries sort first).
func (bf *BinFile) allEntriesByAddress() []*DataEntry {
	var out []*DataEntry
	for _, sid := range bf.sections {
		sec := bf.sectionArena.get(sid)
		if sec == nil {
			continue
		}
		for _, e := range sec.entries {
			if e != nil {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return CompareByAddress(out[i], out[j]) < 0 })
	return out
}

// --- reference construction -----------------------------------------------

// registerPointerRef indexes owner's pointer by its current target, or
// under the unlinked sentinel if the target is not yet known.
func (bf *BinFile) registerPointerRef(owner EntryID, ptr *Pointer) {
	switch ptr.target.Kind {
	case TargetData:
		bf.dataRefsByTarget.add(ptr.target.Data, owner)
	case TargetSection:
		bf.sectionRefsByTarget.add(ptr.target.Section, owner)
	default:
		bf.dataRefsByTarget.add(invalidEntryID, owner)
	}
}

// AddInternalRefByAddress creates a pointer-typed entry in section scn
// referencing whatever lives at targetAddr: the entry containing it, or,
// when a loaded section contains it but none of its entries does, that
// section. If no loaded section contains targetAddr, the pointer is left
// unlinked (indexed under the sentinel bucket) for LinkUnlinkedPointers to
// resolve later.
func (bf *BinFile) AddInternalRefByAddress(scn *Section, targetAddr int64, kind PointerKind) (*DataEntry, ErrCode) {
	if scn == nil {
		return nil, bf.setError(ErrMissingSection)
	}
	ptr := NewPointer(kind)
	entry := NewEntry(EntryPointer)
	entry.Content.Ptr = ptr
	scn.AddEntry(entry, len(scn.entries))
	bf.entryArena.alloc(entry)

	if target := bf.SectionByAddress(targetAddr); target != nil {
		if de, off, ok := target.EntryByAddress(targetAddr); ok {
			ptr.SetTargetData(de.id, off)
		} else {
			ptr.SetTargetSection(target.id, targetAddr-target.Address)
		}
	}
	ptr.SetAddr(targetAddr)
	bf.registerPointerRef(entry.id, ptr)
	return entry, bf.setError(ErrNone)
}

// AddInternalRefByOffset creates a pointer-typed entry referencing byte
// offset into an already-known target section — the target is always
// resolvable immediately, so this never enters the unlinked bucket.
func (bf *BinFile) AddInternalRefByOffset(scn *Section, target *Section, offset int64, kind PointerKind) (*DataEntry, ErrCode) {
	if scn == nil || target == nil {
		return nil, bf.setError(ErrMissingSection)
	}
	ptr := NewPointer(kind)
	entry := NewEntry(EntryPointer)
	entry.Content.Ptr = ptr
	scn.AddEntry(entry, len(scn.entries))
	bf.entryArena.alloc(entry)

	if de, off, ok := target.EntryByAddress(target.Address + offset); ok {
		ptr.SetTargetData(de.id, off)
	} else {
		ptr.SetTargetSection(target.id, offset)
	}
	ptr.SetAddr(target.Address + offset)
	bf.registerPointerRef(entry.id, ptr)
	return entry, bf.setError(ErrNone)
}

// AddReloc appends a new relocation entry to relocSection. At least one of
// hasAddr or hasOffset must be set; when hasAddr is set, addr is the
// target address (and offset is ignored), otherwise the target address is
// lbl.Address + offset. The target address resolves to whichever entry
// contains it (offset-in-target computed from that entry's address, per
// spec.md scenario 4).
func (bf *BinFile) AddReloc(relocSection *Section, lbl *Label, addr int64, hasAddr bool, offset int64, hasOffset bool, relType int32) (*DataEntry, ErrCode) {
	if relocSection == nil {
		return nil, bf.setError(ErrMissingSection)
	}
	if lbl == nil {
		return nil, bf.setError(ErrLabelMissing)
	}
	if !hasAddr && !hasOffset {
		return nil, bf.setError(ErrBadRelocationAddress)
	}

	ptr := NewPointer(PointerAbsolute)
	rel := &Relocation{Label: lbl, TargetPtr: ptr, RelType: relType}
	entry := NewEntry(EntryReloc)
	entry.Content.Reloc = rel
	relocSection.AddEntry(entry, len(relocSection.entries))
	bf.entryArena.alloc(entry)

	var targetAddr int64
	if hasAddr {
		targetAddr = addr
	} else {
		targetAddr = lbl.Address + offset
	}
	if target := bf.SectionByAddress(targetAddr); target != nil {
		if de, off, ok := target.EntryByAddress(targetAddr); ok {
			ptr.SetTargetData(de.id, off)
		} else {
			ptr.SetTargetSection(target.id, targetAddr-target.Address)
		}
	}
	ptr.SetAddr(targetAddr)
	bf.registerPointerRef(entry.id, ptr)
	bf.relocs = append(bf.relocs, entry.id)
	return entry, bf.setError(ErrNone)
}

// AddPointerTarget sets ptr's target directly (the target is already
// known, e.g. a programmatically constructed reference) and indexes owner
// under the resolved target.
func (bf *BinFile) AddPointerTarget(owner EntryID, ptr *Pointer, target Target) {
	ptr.UpdateTarget(target)
	bf.registerPointerRef(owner, ptr)
}

// Relocs returns the ids of every relocation entry added so far.
func (bf *BinFile) Relocs() []EntryID { return bf.relocs }

// --- external library table ------------------------------------------------

func (bf *BinFile) AddExternalLibrary(name string) { bf.extLibs = append(bf.extLibs, name) }
func (bf *BinFile) ExternalLibraries() []string    { return bf.extLibs }

func (bf *BinFile) RenameExternalLibrary(oldName, newName string) ErrCode {
	for i, n := range bf.extLibs {
		if n == oldName {
			bf.extLibs[i] = newName
			return bf.setError(ErrNone)
		}
	}
	return bf.setError(ErrMissingFile)
}

// --- linking of unlinked pointers ------------------------------------------

// LinkUnlinkedPointers resolves every pointer whose target address is
// known but whose target object was not yet resolvable at the time it
// was added (spec.md §4.E "linking"). Must run after loaded-sections and
// segments are sorted by address (FinaliseLoad does both).
func (bf *BinFile) LinkUnlinkedPointers() {
	ptrOf := func(id EntryID) *Pointer {
		e := bf.entryArena.get(id)
		if e.Type == EntryReloc && e.Content.Reloc != nil {
			return e.Content.Reloc.TargetPtr
		}
		return e.Content.Ptr
	}
	unlinked := append([]EntryID{}, bf.dataRefsByTarget.referencers(invalidEntryID)...)
	sort.Slice(unlinked, func(i, j int) bool {
		return ptrOf(unlinked[i]).Addr() < ptrOf(unlinked[j]).Addr()
	})

	cursor := 0
	for _, sid := range bf.loadedSections {
		sec := bf.sectionArena.get(sid)
		if sec == nil {
			continue
		}
		for cursor < len(unlinked) {
			if ptrOf(unlinked[cursor]).Addr() >= sec.Address {
				break
			}
			cursor++
		}
		for _, entry := range sec.entries {
			if entry == nil {
				continue
			}
			for cursor < len(unlinked) {
				ref := bf.entryArena.get(unlinked[cursor])
				ptr := ptrOf(unlinked[cursor])
				if ptr.Addr() < entry.Address() || ptr.Addr() >= entry.EndAddress() {
					break
				}
				ptr.offsetInTarget = ptr.Addr() - entry.Address()
				ptr.UpdateTarget(Target{Kind: TargetData, Data: entry.id})
				bf.dataRefsByTarget.rekey(invalidEntryID, entry.id, ref.id)
				cursor++
			}
		}
	}
}

// DataRefsByTarget returns the entry ids whose pointer content targets
// the data entry identified by target.
func (bf *BinFile) DataRefsByTarget(target EntryID) []EntryID {
	return bf.dataRefsByTarget.referencers(target)
}

// SectionRefsByTarget returns the entry ids whose pointer content targets
// the section identified by target.
func (bf *BinFile) SectionRefsByTarget(target SectionID) []EntryID {
	return bf.sectionRefsByTarget.referencers(target)
}

// Entry, Label exposed for callers (e.g. the patch subpackage) that only
// have an id.
func (bf *BinFile) Entry(id EntryID) *DataEntry { return bf.entryArena.get(id) }
func (bf *BinFile) Label(id LabelID) *Label     { return bf.labelArena.get(id) }

// AllocEntry registers a pre-built entry in the arena without attaching it
// to any section (used by the patch subpackage when duplicating entries
// that are not (yet) attached to the patched section's entry slice).
func (bf *BinFile) AllocEntry(e *DataEntry) EntryID { return bf.entryArena.alloc(e) }

// EntryCopy returns the patched-file copy of an original entry, if one has
// been promoted yet.
func (bf *BinFile) EntryCopy(original EntryID) (EntryID, bool) {
	id, ok := bf.entryCopies[original]
	return id, ok
}

// SetEntryCopy records that original has been promoted to copy.
func (bf *BinFile) SetEntryCopy(original, copy EntryID) { bf.entryCopies[original] = copy }
