package driver

import (
	stdpe "debug/pe"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/xyproto/madras"
)

// PE-format layout constants, carried over from the teacher's
// WritePEHeaderWithImports (pe.go) — DOS/COFF/optional-header sizes and
// section-characteristics bit masks are format invariants, not anything
// this module's semantics change.
const (
	peDOSHeaderSize     = 64
	peDOSStubSize       = 128
	peSignatureSize     = 4
	peCOFFHeaderSize    = 20
	peOptionalHdrSize64 = 240
	peSectionHdrSize    = 40
	peSectionAlign      = 0x1000
	peFileAlign         = 0x200

	peScnMemExecute  = 0x20000000
	peScnMemRead     = 0x40000000
	peScnMemWrite    = 0x80000000
	peScnCntCode     = 0x00000020
	peScnCntInitData = 0x00000040
)

// PE adapts the teacher's from-scratch PE writer to loading/re-emitting
// an existing executable after patching (SPEC_FULL.md §4.F), parsing
// with the standard library's debug/pe rather than hand-rolled headers.
type PE struct {
	path string
	raw  *stdpe.File
}

func NewPE(path string) (*PE, error) {
	f, err := stdpe.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "driver: open pe")
	}
	return &PE{path: path, raw: f}, nil
}

func (p *PE) Loader(bf *madras.BinFile) error {
	bf.Format = "pe"
	bf.FileType = "exec"
	switch p.raw.Machine {
	case stdpe.IMAGE_FILE_MACHINE_AMD64:
		bf.WordSize = 64
		bf.Arch = "amd64"
	case stdpe.IMAGE_FILE_MACHINE_I386:
		bf.WordSize = 32
		bf.Arch = "386"
	default:
		bf.Arch = fmt.Sprintf("machine-%#x", p.raw.Machine)
	}
	bf.ABI = "windows"

	imageBase := int64(peImageBase(p.raw))
	for _, sec := range p.raw.Sections {
		scn := madras.NewSection(sec.Name, peSectionType(sec))
		scn.Address = imageBase + int64(sec.VirtualAddress)
		scn.Offset = int64(sec.Offset)
		scn.SetSize(int64(sec.Size))
		scn.Alignment = peSectionAlign
		if sec.Characteristics&peScnMemRead != 0 {
			scn.SetAttr(madras.AttrRead)
			scn.SetAttr(madras.AttrLoaded)
		}
		if sec.Characteristics&peScnMemWrite != 0 {
			scn.SetAttr(madras.AttrWrite)
		}
		if sec.Characteristics&peScnMemExecute != 0 {
			scn.SetAttr(madras.AttrExec)
		}
		if data, err := sec.Data(); err == nil {
			scn.Data = data
		}
		bf.AddSection(scn)
	}

	if imps, err := p.raw.ImportedLibraries(); err == nil {
		for _, lib := range imps {
			bf.AddExternalLibrary(lib)
		}
	}
	return nil
}

func peImageBase(f *stdpe.File) uint64 {
	if oh64, ok := f.OptionalHeader.(*stdpe.OptionalHeader64); ok {
		return oh64.ImageBase
	}
	if oh32, ok := f.OptionalHeader.(*stdpe.OptionalHeader32); ok {
		return uint64(oh32.ImageBase)
	}
	return 0x140000000
}

func peSectionType(sec *stdpe.Section) madras.SectionType {
	switch {
	case sec.Characteristics&peScnCntCode != 0:
		return madras.SectionCode
	case sec.Characteristics&peScnCntInitData != 0:
		return madras.SectionData
	default:
		return madras.SectionZeroData
	}
}

func (p *PE) ParseDebugInfo(bf *madras.BinFile) error {
	// PE debug info (CodeView/PDB) is a separate file this module does
	// not parse; nothing to attach.
	return nil
}

func (p *PE) AddExternalFunctionLabels(bf *madras.BinFile) error {
	imps, err := p.raw.ImportedSymbols()
	if err != nil {
		return nil
	}
	for _, sym := range imps {
		lbl := madras.NewLabel(sym, madras.AddressError, madras.LabelExternalFunction)
		bf.AddLabel(lbl, madras.SectionID(0))
	}
	return nil
}

func (p *PE) ExternalLabelName(libName, fnName string) string {
	return fmt.Sprintf("%s!%s", libName, fnName)
}

func (p *PE) PrintBinary(w io.Writer, bf *madras.BinFile) error {
	return madras.PrintBinary(w, bf)
}

func (p *PE) PrintExternalFunctions(w io.Writer, bf *madras.BinFile) error {
	for _, lib := range bf.ExternalLibraries() {
		fmt.Fprintf(w, "import: %s\n", lib)
	}
	return nil
}

func (p *PE) EmptySpaces(bf *madras.BinFile) []madras.Interval {
	return genericEmptySpaces(bf, peSectionAlign)
}

func (p *PE) FirstLoadedAddress(bf *madras.BinFile) int64 { return genericFirstLoadedAddress(bf) }
func (p *PE) LastLoadedAddress(bf *madras.BinFile) int64  { return genericLastLoadedAddress(bf) }

// TryMoveSectionToInterval rejects intervals not aligned to the PE
// section alignment, otherwise defers to the generic algorithm.
func (p *PE) TryMoveSectionToInterval(bf *madras.BinFile, scn *madras.Section, iv madras.Interval) (madras.Interval, bool) {
	if iv.Address%peSectionAlign != 0 {
		return madras.Interval{}, false
	}
	return iv, false
}

func (p *PE) InitPatchedCopy(bf *madras.BinFile) error { return nil }

func (p *PE) AddSection(bf *madras.BinFile, name string, typ madras.SectionType, size int64) (*madras.Section, error) {
	scn := madras.NewSection(name, typ)
	scn.SetSize(size)
	scn.Alignment = peSectionAlign
	return bf.AddSection(scn), nil
}

func (p *PE) AddSegment(bf *madras.BinFile) (*madras.Segment, error) {
	seg := madras.NewSegment()
	seg.Alignment = peFileAlign
	return bf.AddSegment(seg), nil
}

func (p *PE) AddExternalLibrary(bf *madras.BinFile, name string) error {
	bf.AddExternalLibrary(name)
	return nil
}

func (p *PE) RenameExternalLibrary(bf *madras.BinFile, oldName, newName string) error {
	if code := bf.RenameExternalLibrary(oldName, newName); code != madras.ErrNone {
		return errors.Errorf("driver: rename external library: %s", code)
	}
	return nil
}

func (p *PE) AddExternalFunction(bf *madras.BinFile, name string) error {
	lbl := madras.NewLabel(name, madras.AddressError, madras.LabelExternalFunction)
	bf.AddLabel(lbl, madras.SectionID(0))
	return nil
}

func (p *PE) AddLabel(bf *madras.BinFile, lbl *madras.Label) error {
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
func (p *PE) Finalise(bf *madras.BinFile) error {
	placeSectionsNeedingRelocation(bf, p.EmptySpaces(bf))
	return nil
}

// Write re-emits bf as a minimal DOS+COFF+optional-header PE image,
// generalising the teacher's WritePEHeaderWithImports (pe.go) from a
// fixed three-section (.text/.data/.idata) executable to bf's own
// section set.
func (p *PE) Write(bf *madras.BinFile, w io.Writer) error {
	ow := newBinWriter()

	ow.Write2(0x5A4D) // "MZ"
	ow.WriteN(0, 58)
	ow.Write4(peDOSHeaderSize + peDOSStubSize)
	stub := []byte("This program requires Windows.\r\n$")
	for _, b := range stub {
		ow.Write(b)
	}
	ow.WriteN(0, peDOSStubSize-len(stub))

	ow.Write4(0x00004550) // "PE\0\0"
	ow.Write2(0x8664)     // AMD64
	ow.Write2(uint16(len(bf.Sections())))
	ow.Write4(0)
	ow.Write4(0)
	ow.Write4(0)
	ow.Write2(peOptionalHdrSize64)
	ow.Write2(0x0022) // EXECUTABLE_IMAGE | LARGE_ADDRESS_AWARE

	for _, id := range bf.Sections() {
		scn := bf.SectionByID(id)
		var name [8]byte
		copy(name[:], scn.Name)
		for _, b := range name {
			ow.Write(b)
		}
		ow.Write4(uint32(scn.Size()))
		ow.Write4(uint32(scn.Address))
		ow.Write4(uint32(scn.Size()))
		ow.Write4(uint32(scn.Offset))
		ow.WriteN(0, 12)
		flags := uint32(0)
		if scn.HasAttr(madras.AttrExec) {
			flags |= peScnMemExecute | peScnCntCode
		}
		if scn.HasAttr(madras.AttrRead) {
			flags |= peScnMemRead
		}
		if scn.HasAttr(madras.AttrWrite) {
			flags |= peScnMemWrite
		}
		ow.Write4(flags)
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
	return errors.Wrap(err, "driver: write pe")
}

func (p *PE) WriteOriginal(bf *madras.BinFile, w io.Writer) error {
	f, err := os.Open(p.path)
	if err != nil {
		return errors.Wrap(err, "driver: open original pe")
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return errors.Wrap(err, "driver: copy original pe")
}

func (p *PE) DefaultCodeSectionName() string      { return ".text" }
func (p *PE) DefaultFixedCodeSectionName() string { return ".text$mn" }
func (p *PE) DefaultDataSectionName() string      { return ".data" }
