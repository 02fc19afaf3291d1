package madras

import "sort"

// SectionType is component D's Type enum.
type SectionType uint8

const (
	SectionUnknown SectionType = iota
	SectionCode
	SectionData
	SectionRefs
	SectionReloc
	SectionLabel
	SectionString
	SectionDebug
	SectionZeroData
	SectionHeader
	SectionPatchCopy
	SectionPatchStatic
)

// SectionAttr is the section/segment attribute bit mask of spec.md §6.
type SectionAttr uint32

const (
	AttrRead SectionAttr = 1 << iota
	AttrWrite
	AttrExec
	AttrLoaded
	AttrTLS
	AttrStdCode
	AttrInsnReferenced
	AttrPatchReordered
	AttrLocallyOwnedData
	AttrPatched
	AttrExtFctStubs
)

func (s *Section) HasAttr(a SectionAttr) bool  { return s.Attrs&a != 0 }
func (s *Section) SetAttr(a SectionAttr)       { s.Attrs |= a }
func (s *Section) ClearAttr(a SectionAttr)     { s.Attrs &^= a }

// Section is component D: {name, data-bytes, size, entry-size, alignment,
// id, address, offset, entries[], first/last-instruction-node, type,
// attrs-mask, binsegs[], binfile}.
type Section struct {
	id   SectionID
	Name string

	Data      []byte
	size      int64
	EntrySize int64 // 0 if variable
	Alignment int64
	Address   int64
	Offset    int64

	entries []*DataEntry

	FirstInsn, LastInsn *EntryID // instruction-node bookends, component D

	Type  SectionType
	Attrs SectionAttr

	binsegs []SegmentID
	binfile *BinFile
}

// NewSection creates a detached section; it becomes addressable once added
// to a BinFile (BinFile.AddSection in binfile.go assigns the arena id).
func NewSection(name string, typ SectionType) *Section {
	return &Section{Name: name, Type: typ}
}

func (s *Section) ID() SectionID  { return s.id }
func (s *Section) Size() int64    { return s.size }
func (s *Section) SetSize(n int64) { s.size = n }
func (s *Section) BinFile() *BinFile { return s.binfile }

// EndOffset is offset+size, except for SectionZeroData where it equals
// offset (zero-data sections occupy no file bytes), per spec.md §3.
func (s *Section) EndOffset() int64 {
	if s.Type == SectionZeroData {
		return s.Offset
	}
	return s.Offset + s.size
}

func (s *Section) EndAddress() int64 { return s.Address + s.size }

// Entries returns the live entry slice (read-only view).
func (s *Section) Entries() []*DataEntry { return s.entries }

// SetEntryCount truncates or grows (with nil padding) the entry slice to n.
func (s *Section) SetEntryCount(n int) {
	if n <= len(s.entries) {
		s.entries = s.entries[:n]
		return
	}
	grown := make([]*DataEntry, n)
	copy(grown, s.entries)
	s.entries = grown
}

// AddEntry inserts entry at index i, appending if i >= len(entries) (the
// boundary behaviour spec.md §8 tests explicitly: "adding an entry at
// index >= n_entries appends ... no gap"). When the section is AttrLoaded,
// the entry's address is computed: prev.EndAddress() if there is a
// predecessor, else the section's own Address, unless the entry carries a
// label whose address is lower than the section's — then the label's
// address is used (spec.md §4.D).
func (s *Section) AddEntry(entry *DataEntry, i int) {
	if i < 0 || i >= len(s.entries) {
		s.entries = append(s.entries, entry)
		i = len(s.entries) - 1
	} else {
		s.entries = append(s.entries, nil)
		copy(s.entries[i+1:], s.entries[i:])
		s.entries[i] = entry
	}
	entry.refSection = s.id
	if s.HasAttr(AttrLoaded) {
		var base int64
		if i == 0 {
			base = s.Address
		} else if prev := s.entries[i-1]; prev != nil {
			base = prev.EndAddress()
		}
		if entry.refLabel != nil && entry.refLabel.Address < s.Address && entry.refLabel.Address >= 0 {
			base = entry.refLabel.Address
		}
		entry.SetAddress(base)
	}
}

// SetEntryAt places entry at the existing slice index i without shifting
// neighbours — unlike AddEntry, which inserts. Used by the patch
// subpackage to drop a duplicated entry into an already-sized (all-nil)
// skeleton entry array at the index matching the original (spec.md §4.G
// "get entry for modification").
func (s *Section) SetEntryAt(i int, entry *DataEntry) {
	if i < 0 || i >= len(s.entries) {
		return
	}
	s.entries[i] = entry
}

// EntryByID returns the entry at slice index id, or nil if out of range.
func (s *Section) EntryByID(id int) *DataEntry {
	if id < 0 || id >= len(s.entries) {
		return nil
	}
	return s.entries[id]
}

// EntryByOffset scans for the entry whose file offset (computed from
// section Offset plus the cumulative size of preceding entries) matches
// offset exactly.
func (s *Section) EntryByOffset(offset int64) *DataEntry {
	cur := s.Offset
	for _, e := range s.entries {
		if e == nil {
			continue
		}
		if cur == offset {
			return e
		}
		cur += e.Size()
	}
	return nil
}

// EntryByAddress performs the binary-search-then-scan lookup of spec.md
// §4.D: binary search on CompareByAddress; if no exact match, scan forward
// until overshooting and return the entry overlapping addr (its offset
// within that entry is addr - entry.Address()).
func (s *Section) EntryByAddress(addr int64) (entry *DataEntry, offsetInEntry int64, ok bool) {
	if !s.HasAttr(AttrLoaded) || len(s.entries) == 0 {
		return nil, 0, false
	}
	idx := sort.Search(len(s.entries), func(i int) bool {
		e := s.entries[i]
		return e != nil && e.Address() >= addr
	})
	if idx < len(s.entries) && s.entries[idx] != nil && s.entries[idx].Address() == addr {
		return s.entries[idx], 0, true
	}
	// scan forward from the first entry whose address is <= addr for an
	// overlap, matching the documented "scan forward until overshooting".
	start := idx - 1
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.entries); i++ {
		e := s.entries[i]
		if e == nil {
			continue
		}
		if e.Address() > addr {
			break
		}
		if addr >= e.Address() && addr < e.EndAddress() {
			return e, addr - e.Address(), true
		}
	}
	return nil, 0, false
}

// LoadStringSection splits this section's raw Data into one EntryString
// DataEntry per NUL-terminated run, per spec.md §4.D.
func (s *Section) LoadStringSection() []*DataEntry {
	var out []*DataEntry
	start := 0
	base := s.Address
	for i, b := range s.Data {
		if b != 0 {
			continue
		}
		e := NewEntry(EntryString)
		e.Content.Str = string(s.Data[start:i])
		e.SetAddress(base + int64(start))
		e.SetSize(int64(i-start) + 1)
		out = append(out, e)
		start = i + 1
	}
	s.Type = SectionString
	return out
}

// LoadEntries splits this section's raw Data into fixed-size entries of
// the given type, using s.EntrySize (spec.md §4.D, "for fixed-size tables").
func (s *Section) LoadEntries(typ EntryType) ([]*DataEntry, ErrCode) {
	if s.EntrySize <= 0 {
		return nil, ErrBadSectionEntrySize
	}
	if len(s.Data) == 0 {
		return nil, ErrSectionEmpty
	}
	var out []*DataEntry
	base := s.Address
	for off := int64(0); off+s.EntrySize <= int64(len(s.Data)); off += s.EntrySize {
		e := NewEntry(typ)
		e.Content.Raw = s.Data[off : off+s.EntrySize]
		e.SetAddress(base + off)
		e.SetSize(s.EntrySize)
		out = append(out, e)
	}
	return out, ErrNone
}

// AddSegment records that this section belongs to segment id.
func (s *Section) AddSegment(id SegmentID) {
	for _, existing := range s.binsegs {
		if existing == id {
			return
		}
	}
	s.binsegs = append(s.binsegs, id)
}

// RemoveSegment removes a previously-recorded segment membership.
func (s *Section) RemoveSegment(id SegmentID) {
	for i, existing := range s.binsegs {
		if existing == id {
			s.binsegs = append(s.binsegs[:i], s.binsegs[i+1:]...)
			return
		}
	}
}

// Segments returns the ids of segments this section belongs to.
func (s *Section) Segments() []SegmentID { return s.binsegs }
