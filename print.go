package madras

import (
	"fmt"
	"io"

	"github.com/kr/pretty"
	"golang.org/x/arch/x86/x86asm"
)

// PrintBinary writes a human-readable dump of bf to w: a header line with
// the section and segment counts, one line per section (name, address,
// size, type), then the format-specific external-function listing from
// bf.Driver's PrintExternalFunctions (component F) when a driver is set.
// Labels and per-segment details are not listed. This is the madras-level
// counterpart of the teacher's emit.go byte-dump helpers
// (fmt.Fprintf(os.Stderr, ...)), generalised from raw instruction bytes to
// the whole binary model.
func PrintBinary(w io.Writer, bf *BinFile) error {
	fmt.Fprintf(w, "%s: %d section(s), %d segment(s)\n",
		bf.Filename, len(bf.Sections()), len(bf.Segments()))
	for _, id := range bf.Sections() {
		scn := bf.SectionByID(id)
		fmt.Fprintf(w, "  section %-20s addr=%#x size=%#x type=%d\n",
			scn.Name, scn.Address, scn.Size(), scn.Type)
	}
	if bf.Driver != nil {
		return bf.Driver.PrintExternalFunctions(w, bf)
	}
	return nil
}

// PrintInstruction renders an opaque x86asm.Inst using GNU (AT&T) syntax,
// matching the convention golang.org/x/arch/x86/x86asm ships for
// objdump-alike output.
func PrintInstruction(w io.Writer, insn *x86asm.Inst, pc uint64) error {
	if insn == nil {
		_, err := fmt.Fprintln(w, "<nil insn>")
		return err
	}
	_, err := fmt.Fprintln(w, x86asm.GNUSyntax(*insn, pc, nil))
	return err
}

// DebugDump pretty-prints v (a Section, Label, DataEntry, ...) to w using
// github.com/kr/pretty, for use behind Config.Verbose — the madras
// equivalent of the teacher's ad hoc fmt.Fprintf debug traces, but for
// structured values rather than raw bytes.
func DebugDump(w io.Writer, label string, v interface{}) {
	fmt.Fprintf(w, "%s:\n", label)
	pretty.Fprintf(w, "%# v\n", v)
}
