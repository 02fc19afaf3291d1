package madras

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// TargetKind tags what a Pointer or a Target reference points at — the
// tagged sum type Design Notes §9 prescribes in place of the original C
// union + tag ("instruction | data-entry | section | unset").
type TargetKind uint8

const (
	TargetUnset TargetKind = iota
	TargetInstruction
	TargetData
	TargetSection
)

func (k TargetKind) String() string {
	switch k {
	case TargetInstruction:
		return "instruction"
	case TargetData:
		return "data"
	case TargetSection:
		return "section"
	default:
		return "unset"
	}
}

// Target is the heterogeneous destination of a Pointer. Instruction is the
// opaque disassembled-instruction payload (golang.org/x/arch/x86/x86asm.Inst)
// that external disassembly binds onto a Block's FirstInsn/LastInsn;
// nothing in this module decodes bytes into Instruction itself.
type Target struct {
	Kind        TargetKind
	Instruction *x86asm.Inst
	Data        EntryID
	Section     SectionID
}

// addressOf resolves the address of whatever this target denotes, given
// access to the owning BinFile for entry/section lookups. ok is false for
// TargetUnset or a dangling id.
func (t Target) addressOf(bf *BinFile) (addr int64, ok bool) {
	switch t.Kind {
	case TargetData:
		if e := bf.entryArena.get(t.Data); e != nil {
			return e.address, true
		}
	case TargetSection:
		if s := bf.sectionArena.get(t.Section); s != nil {
			return s.Address, true
		}
	case TargetInstruction:
		if t.Instruction != nil {
			return int64(t.Instruction.Len), true // address carried externally; Len used only as a non-zero witness
		}
	}
	return 0, false
}

// PointerKind selects how a Pointer's stored address is interpreted,
// spec.md §4.A / §3.
type PointerKind uint8

const (
	PointerAbsolute PointerKind = iota
	PointerRelative
	PointerNoAddress
)

// Pointer is the semantic link of component A:
// {addr, offset, target, offset-in-target, pointer-type, target-type, relative-origin}.
type Pointer struct {
	addr           int64
	offset         int64
	offsetInTarget int64
	kind           PointerKind
	target         Target
	// relativeOrigin is the address used in place of "containing element"
	// when computing a relative destination; nil means "use the
	// containing element's address", per spec.md §4.A.
	relativeOrigin *int64
}

// NewPointer constructs an unset pointer of the given kind.
func NewPointer(kind PointerKind) *Pointer {
	return &Pointer{kind: kind}
}

// Duplicate returns a deep copy (relativeOrigin, if set, is copied by value).
func (p *Pointer) Duplicate() *Pointer {
	cp := *p
	if p.relativeOrigin != nil {
		v := *p.relativeOrigin
		cp.relativeOrigin = &v
	}
	return &cp
}

// Free releases the pointer. There is no arena backing Pointer (it is
// always owned by exactly one DataEntry or Relocation), so Free is a no-op
// retained for symmetry with the other component operations.
func (p *Pointer) Free() {}

func (p *Pointer) Addr() int64      { return p.addr }
func (p *Pointer) SetAddr(a int64)  { p.addr = a }
func (p *Pointer) Offset() int64    { return p.offset }
func (p *Pointer) SetOffset(o int64) { p.offset = o }
func (p *Pointer) OffsetInTarget() int64 { return p.offsetInTarget }
func (p *Pointer) Kind() PointerKind { return p.kind }
func (p *Pointer) TargetRef() Target { return p.target }

func (p *Pointer) SetTargetInstruction(inst *x86asm.Inst) {
	p.target = Target{Kind: TargetInstruction, Instruction: inst}
}

func (p *Pointer) SetTargetData(id EntryID, offsetInTarget int64) {
	p.target = Target{Kind: TargetData, Data: id}
	p.offsetInTarget = offsetInTarget
}

func (p *Pointer) SetTargetSection(id SectionID, offsetInTarget int64) {
	p.target = Target{Kind: TargetSection, Section: id}
	p.offsetInTarget = offsetInTarget
}

// SetRelativeOrigin overrides the "containing element" used by
// UpdateAddressFromTarget for PointerRelative pointers.
func (p *Pointer) SetRelativeOrigin(addr int64) { p.relativeOrigin = &addr }

// HasTarget reports whether the pointer's target is set.
func (p *Pointer) HasTarget() bool { return p.target.Kind != TargetUnset }

// UpdateAddressFromTarget recomputes addr (absolute) or offset (relative)
// from the current target, per spec.md §4.A. containingAddr is the address
// of the element that owns this pointer, used as the relative origin when
// none was explicitly set. A no-op if the target is unset.
func (p *Pointer) UpdateAddressFromTarget(bf *BinFile, containingAddr int64) {
	if p.target.Kind == TargetUnset {
		return
	}
	targetAddr, ok := p.target.addressOf(bf)
	if !ok {
		return
	}
	switch p.kind {
	case PointerAbsolute:
		p.addr = targetAddr + p.offsetInTarget
	case PointerRelative:
		origin := containingAddr
		if p.relativeOrigin != nil {
			origin = *p.relativeOrigin
		}
		p.offset = targetAddr - origin
	case PointerNoAddress:
		// only target is meaningful
	}
}

// UpdateTarget replaces the target wholesale (used by the patching session
// when retargeting a pointer after dup-refs promotion), preserving
// offset-in-target.
func (p *Pointer) UpdateTarget(t Target) { p.target = t }

// GetTargetAddress returns target.address + offset-in-target, the
// invariant tested in spec.md §8.
func (p *Pointer) GetTargetAddress(bf *BinFile) (int64, bool) {
	addr, ok := p.target.addressOf(bf)
	if !ok {
		return 0, false
	}
	return addr + p.offsetInTarget, true
}

// String implements a terse debug representation.
func (p *Pointer) String() string {
	switch p.kind {
	case PointerAbsolute:
		return fmt.Sprintf("ptr(abs addr=0x%x -> %s)", p.addr, p.target.Kind)
	case PointerRelative:
		return fmt.Sprintf("ptr(rel offset=0x%x -> %s)", p.offset, p.target.Kind)
	default:
		return fmt.Sprintf("ptr(noaddr -> %s)", p.target.Kind)
	}
}

// Serialize returns the raw bytes of addr (absolute) or offset (relative)
// encoded little-endian over width bytes; fails if the value does not fit.
func (p *Pointer) Serialize(width int) ([]byte, error) {
	var v int64
	switch p.kind {
	case PointerAbsolute:
		v = p.addr
	case PointerRelative:
		v = p.offset
	default:
		return nil, fmt.Errorf("madras: cannot serialize a no-address pointer")
	}
	buf := make([]byte, width)
	switch width {
	case 1:
		if v < -0x80 || v > 0xff {
			return nil, fmt.Errorf("madras: value 0x%x does not fit in 1 byte", v)
		}
		buf[0] = byte(v)
	case 2:
		if v < -0x8000 || v > 0xffff {
			return nil, fmt.Errorf("madras: value 0x%x does not fit in 2 bytes", v)
		}
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		if v < -0x80000000 || v > 0xffffffff {
			return nil, fmt.Errorf("madras: value 0x%x does not fit in 4 bytes", v)
		}
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	default:
		return nil, fmt.Errorf("madras: unsupported pointer width %d", width)
	}
	return buf, nil
}
