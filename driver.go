package madras

import "io"

// FormatDriver is the polymorphism boundary of component F: a capability
// set delegating format-specific (ELF/PE/Mach-O) operations to a concrete
// backend. Concrete backends live in the driver subpackage and implement
// this interface by importing madras — the interface itself lives here,
// at the root, so BinFile can hold a Driver field without a import cycle
// (Design Notes §9: "the C function-pointer vtable becomes an
// abstraction over a capability set").
type FormatDriver interface {
	ParseDebugInfo(bf *BinFile) error
	AddExternalFunctionLabels(bf *BinFile) error
	ExternalLabelName(libName, fnName string) string

	PrintBinary(w io.Writer, bf *BinFile) error
	PrintExternalFunctions(w io.Writer, bf *BinFile) error

	EmptySpaces(bf *BinFile) []Interval
	FirstLoadedAddress(bf *BinFile) int64
	LastLoadedAddress(bf *BinFile) int64

	// TryMoveSectionToInterval is format-specific section relocation; see
	// spec.md §4.F for the three-way return contract used by
	// patch.Session.TryMoveSectionToInterval: returning the same iv
	// passed in means "fall back to the generic algorithm".
	TryMoveSectionToInterval(bf *BinFile, scn *Section, iv Interval) (out Interval, ok bool)

	InitPatchedCopy(bf *BinFile) error
	AddSection(bf *BinFile, name string, typ SectionType, size int64) (*Section, error)
	AddSegment(bf *BinFile) (*Segment, error)
	AddExternalLibrary(bf *BinFile, name string) error
	RenameExternalLibrary(bf *BinFile, oldName, newName string) error
	AddExternalFunction(bf *BinFile, name string) error
	AddLabel(bf *BinFile, lbl *Label) error

	Finalise(bf *BinFile) error
	Write(bf *BinFile, w io.Writer) error
	WriteOriginal(bf *BinFile, w io.Writer) error

	DefaultCodeSectionName() string
	DefaultFixedCodeSectionName() string
	DefaultDataSectionName() string
}
