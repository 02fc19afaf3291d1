package madras

import "encoding/binary"

// EntryType tags the variant of a DataEntry's content, component C.
type EntryType uint8

const (
	EntryRaw EntryType = iota
	EntryString
	EntryValue
	EntryPointer
	EntryLabel
	EntryReloc
	EntryNil // size-only, no backing bytes
)

func (t EntryType) String() string {
	switch t {
	case EntryRaw:
		return "raw"
	case EntryString:
		return "string"
	case EntryValue:
		return "value"
	case EntryPointer:
		return "pointer"
	case EntryLabel:
		return "label"
	case EntryReloc:
		return "reloc"
	default:
		return "nil"
	}
}

// Relocation is a relocation-typed data entry's payload: a label plus a
// target address/offset and a format-specific relocation type code.
type Relocation struct {
	Label     *Label
	TargetPtr *Pointer
	RelType   int32
}

// EntryContent holds exactly one of the EntryType variants. Only the field
// matching Type is meaningful, mirroring the spec's tagged-union content.
type EntryContent struct {
	Raw   []byte
	Str   string
	Value uint64
	Ptr   *Pointer
	Label *Label
	Reloc *Relocation
}

// DataEntry is component C: {address, size, reference, content, type,
// local-ownership-flag}.
type DataEntry struct {
	id      EntryID
	address int64
	size    int64
	Type    EntryType
	Content EntryContent

	// reference is either a label or a section — whichever locates this
	// entry in the file, per spec.md §3.
	refLabel   *Label
	refSection SectionID

	// LocallyOwned mirrors the section-level locally-owned-data attribute:
	// true if this entry's backing bytes are freed with the owning
	// section rather than with the owning label/file.
	LocallyOwned bool
}

// NewEntry creates a data entry of the given type at an address/size not
// yet fixed (callers set Address/Size once known, e.g. via Section.AddEntry).
func NewEntry(typ EntryType) *DataEntry {
	return &DataEntry{Type: typ}
}

// ID returns this entry's stable arena index.
func (e *DataEntry) ID() EntryID { return e.id }

// Duplicate returns a deep copy with a fresh arena id once registered via
// entryArena.alloc; callers (patch.Session) are responsible for that
// registration — Duplicate itself only clones field values.
func (e *DataEntry) Duplicate() *DataEntry {
	cp := *e
	cp.id = 0
	if e.Content.Raw != nil {
		cp.Content.Raw = append([]byte{}, e.Content.Raw...)
	}
	if e.Content.Ptr != nil {
		cp.Content.Ptr = e.Content.Ptr.Duplicate()
	}
	if e.Content.Label != nil {
		lbl := *e.Content.Label
		cp.Content.Label = &lbl
	}
	if e.Content.Reloc != nil {
		r := *e.Content.Reloc
		if e.Content.Reloc.Label != nil {
			lbl := *e.Content.Reloc.Label
			r.Label = &lbl
		}
		if e.Content.Reloc.TargetPtr != nil {
			r.TargetPtr = e.Content.Reloc.TargetPtr.Duplicate()
		}
		cp.Content.Reloc = &r
	}
	return &cp
}

// Free releases this entry. There is no per-entry free-list in the arena
// model (Design Notes §9 trades manual realloc-tracking for growable,
// never-compacted containers), so Free only clears large backing buffers
// to let the GC reclaim them; the arena slot itself is retained so stale
// EntryIDs fail safe rather than aliasing a reused slot.
func (e *DataEntry) Free() {
	e.Content = EntryContent{}
}

func (e *DataEntry) Address() int64    { return e.address }
func (e *DataEntry) SetAddress(a int64) { e.address = a }
func (e *DataEntry) Size() int64        { return e.size }
func (e *DataEntry) SetSize(s int64)    { e.size = s }
func (e *DataEntry) EndAddress() int64  { return e.address + e.size }

func (e *DataEntry) RefSection() SectionID { return e.refSection }
func (e *DataEntry) RefLabel() *Label      { return e.refLabel }

// LinkLabel attaches lbl as this entry's reference. If lbl.Address equals
// e.address, the link is made bidirectional (lbl.Target also points back
// at this entry), per spec.md §4.C.
func (e *DataEntry) LinkLabel(lbl *Label) {
	e.refLabel = lbl
	if lbl.Address == e.address {
		lbl.Target = Target{Kind: TargetData, Data: e.id}
	}
}

// ToBytes returns the flat byte representation of raw, string, value,
// pointer and nil entries. Label and relocation entries require
// format-specific encoding (driven by the FormatDriver) and return (nil, false).
func (e *DataEntry) ToBytes() ([]byte, bool) {
	switch e.Type {
	case EntryRaw:
		return e.Content.Raw, true
	case EntryString:
		b := append([]byte(e.Content.Str), 0)
		return b, true
	case EntryValue:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, e.Content.Value)
		if e.size > 0 && e.size < 8 {
			return buf[:e.size], true
		}
		return buf, true
	case EntryPointer:
		if e.Content.Ptr == nil {
			return nil, false
		}
		width := int(e.size)
		if width == 0 {
			width = 8
		}
		b, err := e.Content.Ptr.Serialize(width)
		if err != nil {
			return nil, false
		}
		return b, true
	case EntryNil:
		return make([]byte, e.size), true
	default: // EntryLabel, EntryReloc
		return nil, false
	}
}

// CompareByAddress orders entries by address for binary search, treating
// an entry with no address yet assigned (AddressError, i.e. -1) as
// sorting before any real address — the Open Question resolution recorded
// in DESIGN.md.
func CompareByAddress(a, b *DataEntry) int {
	return compareAddrUnsetFirst(a.address, b.address)
}

// CompareByPointerAddress orders entries by the address their pointer
// content resolves to (for pointer-typed entries used as an index of
// cross-references), falling back to entry address when the content is
// not a pointer.
func CompareByPointerAddress(a, b *DataEntry) int {
	aa, ba := a.address, b.address
	if a.Type == EntryPointer && a.Content.Ptr != nil {
		aa = a.Content.Ptr.Addr()
	}
	if b.Type == EntryPointer && b.Content.Ptr != nil {
		ba = b.Content.Ptr.Addr()
	}
	return compareAddrUnsetFirst(aa, ba)
}

func compareAddrUnsetFirst(a, b int64) int {
	aUnset, bUnset := a == AddressError, b == AddressError
	if aUnset && bUnset {
		return 0
	}
	if aUnset {
		return -1
	}
	if bUnset {
		return 1
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
