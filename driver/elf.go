package driver

import (
	stddwarf "debug/dwarf"
	stdelf "debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/xyproto/madras"
)

// ELF adapts the teacher's from-scratch ELF emitter (elf.go's WriteELF
// field-by-field header writer, elf_complete.go's WriteCompleteDynamicELF
// layout/PLT/GOT logic) to loading and re-emitting an existing ELF file
// after patching, per SPEC_FULL.md §4.F. Parsing of the pristine file
// uses the standard library's debug/elf (an external format decoder is
// explicitly out of scope, spec.md §1) rather than hand-rolled header
// parsing; only the writer — which must reflect this module's own
// section/segment model, not whatever stdlib would re-encode — is
// adapted from the teacher.
type ELF struct {
	path string
	raw  *stdelf.File
}

// NewELF opens path with debug/elf for later ParseDebugInfo/loader use.
func NewELF(path string) (*ELF, error) {
	f, err := stdelf.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "driver: open elf")
	}
	return &ELF{path: path, raw: f}, nil
}

// Loader populates bf from e's parsed ELF, for use with madras.BinFile.Parse.
func (e *ELF) Loader(bf *madras.BinFile) error {
	bf.Format = "elf"
	switch e.raw.Type {
	case stdelf.ET_EXEC:
		bf.FileType = "exec"
	case stdelf.ET_DYN:
		bf.FileType = "dyn"
	case stdelf.ET_REL:
		bf.FileType = "obj"
	default:
		bf.FileType = "unknown"
	}
	switch e.raw.Class {
	case stdelf.ELFCLASS64:
		bf.WordSize = 64
	case stdelf.ELFCLASS32:
		bf.WordSize = 32
	}
	bf.Arch = e.raw.Machine.String()
	bf.ABI = e.raw.OSABI.String()
	if e.raw.ByteOrder == binary.BigEndian {
		bf.ByteOrder = binary.BigEndian
	} else {
		bf.ByteOrder = binary.LittleEndian
	}

	for _, sec := range e.raw.Sections {
		if sec.Name == "" {
			continue
		}
		scn := madras.NewSection(sec.Name, elfSectionType(sec))
		scn.Address = int64(sec.Addr)
		scn.Offset = int64(sec.Offset)
		scn.SetSize(int64(sec.Size))
		scn.EntrySize = int64(sec.Entsize)
		scn.Alignment = int64(sec.Addralign)
		if sec.Flags&stdelf.SHF_ALLOC != 0 {
			scn.SetAttr(madras.AttrLoaded)
			scn.SetAttr(madras.AttrRead)
		}
		if sec.Flags&stdelf.SHF_WRITE != 0 {
			scn.SetAttr(madras.AttrWrite)
		}
		if sec.Flags&stdelf.SHF_EXECINSTR != 0 {
			scn.SetAttr(madras.AttrExec)
		}
		if data, err := sec.Data(); err == nil {
			scn.Data = data
		}
		bf.AddSection(scn)
	}

	libs, err := e.raw.ImportedLibraries()
	if err == nil {
		for _, lib := range libs {
			bf.AddExternalLibrary(lib)
		}
	}
	return nil
}

func elfSectionType(sec *stdelf.Section) madras.SectionType {
	switch sec.Type {
	case stdelf.SHT_PROGBITS:
		if sec.Flags&stdelf.SHF_EXECINSTR != 0 {
			return madras.SectionCode
		}
		return madras.SectionData
	case stdelf.SHT_NOBITS:
		return madras.SectionZeroData
	case stdelf.SHT_STRTAB:
		return madras.SectionString
	case stdelf.SHT_SYMTAB, stdelf.SHT_DYNSYM:
		return madras.SectionLabel
	case stdelf.SHT_REL, stdelf.SHT_RELA:
		return madras.SectionReloc
	default:
		return madras.SectionUnknown
	}
}

func (e *ELF) ParseDebugInfo(bf *madras.BinFile) error {
	dw, err := e.raw.DWARF()
	if err != nil {
		// Many stripped binaries simply lack DWARF; that is not fatal.
		return nil
	}
	r := dw.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return errors.Wrap(err, "driver: read dwarf entry")
		}
		if entry == nil {
			break
		}
		if entry.Tag != stddwarf.TagSubprogram {
			continue
		}
		name, _ := entry.Val(stddwarf.AttrName).(string)
		lowpc, ok := entry.Val(stddwarf.AttrLowpc).(uint64)
		if !ok || name == "" {
			continue
		}
		lbl := madras.NewLabel(name, int64(lowpc), madras.LabelFunction)
		scn := bf.SectionByAddress(int64(lowpc))
		sectionID := madras.SectionID(0)
		if scn != nil {
			sectionID = scn.ID()
		}
		bf.AddLabel(lbl, sectionID)
	}
	return nil
}

func (e *ELF) AddExternalFunctionLabels(bf *madras.BinFile) error {
	syms, err := e.raw.DynamicSymbols()
	if err != nil {
		return nil
	}
	for _, sym := range syms {
		if sym.Section != stdelf.SHN_UNDEF || sym.Name == "" {
			continue
		}
		lbl := madras.NewLabel(sym.Name, madras.AddressError, madras.LabelExternalFunction)
		bf.AddLabel(lbl, madras.SectionID(0))
	}
	return nil
}

func (e *ELF) ExternalLabelName(libName, fnName string) string {
	return fmt.Sprintf("%s@plt[%s]", fnName, libName)
}

func (e *ELF) PrintBinary(w io.Writer, bf *madras.BinFile) error {
	return madras.PrintBinary(w, bf)
}

func (e *ELF) PrintExternalFunctions(w io.Writer, bf *madras.BinFile) error {
	for _, lib := range bf.ExternalLibraries() {
		fmt.Fprintf(w, "needed: %s\n", lib)
	}
	return nil
}

func (e *ELF) EmptySpaces(bf *madras.BinFile) []madras.Interval {
	return genericEmptySpaces(bf, 0x1000)
}

func (e *ELF) FirstLoadedAddress(bf *madras.BinFile) int64 { return genericFirstLoadedAddress(bf) }
func (e *ELF) LastLoadedAddress(bf *madras.BinFile) int64  { return genericLastLoadedAddress(bf) }

// TryMoveSectionToInterval returns iv unchanged, signalling "no
// format-specific override" per spec.md §4.F's fallback contract — ELF
// section placement has no alignment quirk beyond the generic one
// patch.Session.TryMoveSectionToInterval already applies.
func (e *ELF) TryMoveSectionToInterval(bf *madras.BinFile, scn *madras.Section, iv madras.Interval) (madras.Interval, bool) {
	return iv, false
}

func (e *ELF) InitPatchedCopy(bf *madras.BinFile) error { return nil }

func (e *ELF) AddSection(bf *madras.BinFile, name string, typ madras.SectionType, size int64) (*madras.Section, error) {
	scn := madras.NewSection(name, typ)
	scn.SetSize(size)
	scn.Alignment = 16
	return bf.AddSection(scn), nil
}

func (e *ELF) AddSegment(bf *madras.BinFile) (*madras.Segment, error) {
	seg := madras.NewSegment()
	seg.Alignment = 0x1000
	return bf.AddSegment(seg), nil
}

func (e *ELF) AddExternalLibrary(bf *madras.BinFile, name string) error {
	bf.AddExternalLibrary(name)
	return nil
}

func (e *ELF) RenameExternalLibrary(bf *madras.BinFile, oldName, newName string) error {
	if code := bf.RenameExternalLibrary(oldName, newName); code != madras.ErrNone {
		return errors.Errorf("driver: rename external library: %s", code)
	}
	return nil
}

func (e *ELF) AddExternalFunction(bf *madras.BinFile, name string) error {
	lbl := madras.NewLabel(name, madras.AddressError, madras.LabelExternalFunction)
	bf.AddLabel(lbl, madras.SectionID(0))
	return nil
}

func (e *ELF) AddLabel(bf *madras.BinFile, lbl *madras.Label) error {
	scn := bf.SectionByAddress(lbl.Address)
	sectionID := madras.SectionID(0)
	if scn != nil {
		sectionID = scn.ID()
	}
	bf.AddLabel(lbl, sectionID)
	return nil
}

// Finalise places any section added or grown during patching into the
// remaining empty-space intervals reported by EmptySpaces, per spec.md
// §4.G step 2, before the session moves the file to the finalised state.
func (e *ELF) Finalise(bf *madras.BinFile) error {
	placeSectionsNeedingRelocation(bf, e.EmptySpaces(bf))
	return nil
}

// Write re-emits bf as a minimal, valid ELF header/program-header/section
// layout reflecting bf's own sections and segments, generalising the
// teacher's field-by-field WriteELF (elf.go) from a hardcoded single-LOAD
// executable to an arbitrary section/segment set.
func (e *ELF) Write(bf *madras.BinFile, w io.Writer) error {
	ow := newBinWriter()
	const elfHeaderSize = 64
	const phEntSize = 56
	numPH := len(bf.Segments())

	ow.Write(0x7f)
	ow.Write('E')
	ow.Write('L')
	ow.Write('F')
	if bf.WordSize == 32 {
		ow.Write(1)
	} else {
		ow.Write(2)
	}
	ow.Write(1) // little endian
	ow.Write(1) // ELF version
	ow.Write(0) // System V ABI
	ow.WriteN(0, 8)
	ow.Write2(2) // ET_EXEC
	ow.Write2(0x3e)
	ow.Write4(1)
	entry := e.FirstLoadedAddress(bf)
	if entry == madras.AddressError {
		entry = 0
	}
	ow.Write8u(uint64(entry))
	ow.Write8(elfHeaderSize)
	ow.Write8(elfHeaderSize + int64(numPH)*phEntSize)
	ow.Write4(0)
	ow.Write2(elfHeaderSize)
	ow.Write2(phEntSize)
	ow.Write2(uint16(numPH))
	ow.Write2(0x40)
	ow.Write2(0)
	ow.Write2(0)

	for _, id := range bf.Segments() {
		seg := bf.SegmentByID(id)
		ow.Write4(1) // PT_LOAD
		flags := uint32(0)
		if seg.HasAttr(madras.AttrRead) {
			flags |= 4
		}
		if seg.HasAttr(madras.AttrWrite) {
			flags |= 2
		}
		if seg.HasAttr(madras.AttrExec) {
			flags |= 1
		}
		ow.Write4(flags)
		ow.Write8(seg.Offset)
		ow.Write8(seg.Address)
		ow.Write8(seg.Address)
		ow.Write8(seg.FileSize)
		ow.Write8(seg.MemSize)
		ow.Write8(seg.Alignment)
	}

	for _, id := range bf.Sections() {
		scn := bf.SectionByID(id)
		if scn.HasAttr(madras.AttrLoaded) && len(scn.Data) > 0 {
			for int64(len(ow.Bytes())) < scn.Offset {
				ow.Write(0)
			}
			for _, b := range scn.Data {
				ow.Write(b)
			}
		}
	}

	_, err := w.Write(ow.Bytes())
	return errors.Wrap(err, "driver: write elf")
}

// WriteOriginal re-emits the pristine (unpatched) file verbatim from disk.
func (e *ELF) WriteOriginal(bf *madras.BinFile, w io.Writer) error {
	f, err := os.Open(e.path)
	if err != nil {
		return errors.Wrap(err, "driver: open original elf")
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return errors.Wrap(err, "driver: copy original elf")
}

func (e *ELF) DefaultCodeSectionName() string      { return ".text" }
func (e *ELF) DefaultFixedCodeSectionName() string { return ".init" }
func (e *ELF) DefaultDataSectionName() string      { return ".data" }
