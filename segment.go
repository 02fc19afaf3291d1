package madras

import "fmt"

// Segment is component D's other container type:
// {id, offset, address, file-size, memory-size, alignment, attrs,
// sections[], binfile}.
type Segment struct {
	id        SegmentID
	Offset    int64
	Address   int64
	FileSize  int64
	MemSize   int64
	Alignment int64
	Attrs     SectionAttr

	sections []SectionID
	binfile  *BinFile
}

// NewSegment creates a detached segment; it becomes addressable once added
// to a BinFile.
func NewSegment() *Segment { return &Segment{} }

func (g *Segment) ID() SegmentID     { return g.id }
func (g *Segment) BinFile() *BinFile { return g.binfile }

func (g *Segment) HasAttr(a SectionAttr) bool { return g.Attrs&a != 0 }
func (g *Segment) SetAttr(a SectionAttr)      { g.Attrs |= a }

// EndOffset and EndAddress are offset+file-size and address+memory-size.
func (g *Segment) EndOffset() int64  { return g.Offset + g.FileSize }
func (g *Segment) EndAddress() int64 { return g.Address + g.MemSize }

// Contains reports whether a section's file range [offset, offset+size) is
// contained within this segment's file range — the membership rule of
// spec.md §3 ("a section belongs to a segment when its file range is
// contained in the segment's file range").
func (g *Segment) Contains(s *Section) bool {
	return s.Offset >= g.Offset && s.EndOffset() <= g.EndOffset()
}

// AddSection records a section as a member of this segment (and updates
// the section's own membership list symmetrically).
func (g *Segment) AddSection(s *Section) {
	for _, id := range g.sections {
		if id == s.id {
			return
		}
	}
	g.sections = append(g.sections, s.id)
	s.AddSegment(g.id)
}

// RemoveSection undoes AddSection.
func (g *Segment) RemoveSection(s *Section) {
	for i, id := range g.sections {
		if id == s.id {
			g.sections = append(g.sections[:i], g.sections[i+1:]...)
			s.RemoveSegment(g.id)
			return
		}
	}
}

// Sections returns the ids of member sections.
func (g *Segment) Sections() []SectionID { return g.sections }

// String renders a one-line debug summary, matching the teacher's terse
// Print-style helpers on its writer types.
func (g *Segment) String() string {
	return fmt.Sprintf("segment[%d] off=0x%x addr=0x%x filesz=0x%x memsz=0x%x align=0x%x attrs=%#x",
		g.id, g.Offset, g.Address, g.FileSize, g.MemSize, g.Alignment, g.Attrs)
}
