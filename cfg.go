package madras

import "golang.org/x/arch/x86/x86asm"

// Component H: the CFG/block/loop scaffold shared by flow analysis
// (external) and the CC extractor (ccextract.go). A block's or loop's ID
// is its position in the parent function's list at creation; its GlobalID
// comes from a counter kept on that parent Function, so it is unique among
// the function's blocks (or loops) only, not across the whole file.

// Block owns a begin/end instruction bookend, belongs to exactly one
// Function and at most one Loop, and carries CFG/domination/post-
// domination graph nodes. FirstInsn/LastInsn are opaque
// (golang.org/x/arch/x86/x86asm.Inst) — disassembly is external, this
// module never decodes bytes into them.
type Block struct {
	ID       int
	GlobalID int

	Function *Function
	Loop     *Loop

	FirstInsn, LastInsn *x86asm.Inst
	FirstAddr, LastAddr int64

	Predecessors []*Block
	Successors   []*Block

	// Virtual marks a block with no instructions, used as a synthetic
	// entry join-point by the CC extractor (spec.md §4.I step 5).
	// Padding mirrors the original's padding-block flag (-1 for virtual).
	Virtual bool
	Padding int

	DomNode     *domNode
	PostDomNode *domNode
}

// domNode is a minimal domination-tree node: parent link plus the
// children list, enough to keep the invariant "every block has at most
// one dominator" without requiring a full dominance-frontier computation
// in this module (that belongs to the external flow-analysis pass, per
// spec.md §2's data-flow diagram — "Flow analysis (external) populates
// H"). The shape follows tmc-mirror-go.tools/ssa/lift.go's domNode
// (Idom/Children), read only as documented-algorithm reference since that
// package's import path predates Go modules and cannot be vendored.
type domNode struct {
	Block    *Block
	Idom     *domNode
	Children []*domNode
}

// NewBlock creates a block owned by fn.
func NewBlock(fn *Function) *Block {
	b := &Block{Function: fn, ID: len(fn.Blocks), GlobalID: fn.nextGlobalBlockID()}
	return b
}

// Free detaches a block from its function/loop; callers are responsible
// for removing it from fn.Blocks/loop.Blocks first (Function.Free frees
// every owned block and then clears fn.Blocks at once).
func (b *Block) Free() {
	b.Function = nil
	b.Loop = nil
	b.Predecessors = nil
	b.Successors = nil
}

// AddSuccessor/AddPredecessor wire a CFG edge symmetrically.
func (b *Block) AddSuccessor(to *Block) {
	b.Successors = append(b.Successors, to)
	to.Predecessors = append(to.Predecessors, b)
}

// RemoveEdgeFrom removes the edge from -> b, if present.
func (b *Block) RemoveEdgeFrom(from *Block) {
	for i, p := range b.Predecessors {
		if p == from {
			b.Predecessors = append(b.Predecessors[:i], b.Predecessors[i+1:]...)
			break
		}
	}
	for i, s := range from.Successors {
		if s == b {
			from.Successors = append(from.Successors[:i], from.Successors[i+1:]...)
			break
		}
	}
}

// Loop owns a set of blocks, entry/exit lists, paths and a hierarchy-tree
// node.
type Loop struct {
	ID       int
	GlobalID int
	Function *Function

	Blocks  []*Block
	Entries []*Block
	Exits   []*Block
	Paths   [][]*Block

	Parent   *Loop
	Children []*Loop
}

// NewLoop creates a loop owned by fn.
func NewLoop(fn *Function) *Loop {
	return &Loop{Function: fn, ID: len(fn.Loops), GlobalID: fn.nextGlobalLoopID()}
}

func (l *Loop) Free() {
	l.Function = nil
	l.Blocks = nil
	l.Entries = nil
	l.Exits = nil
	l.Paths = nil
	l.Parent = nil
	l.Children = nil
}

// CallGraphNode is an opaque handle to the (external) call graph; the
// core only needs to move and free it, never to interpret it.
type CallGraphNode struct {
	Name string
}

// Function owns queues of blocks, padding-blocks, loops, entries, exits,
// ranges, connected-components and a call-graph node; it knows its
// AsmFile and OriginalFunction (non-nil for synthetic functions created
// by the CC extractor, spec.md §3/§4.I).
type Function struct {
	ID       int
	GlobalID int

	AsmFile          *BinFile
	OriginalFunction *Function
	DemangledName    string

	Blocks        []*Block
	PaddingBlocks []*Block
	Loops         []*Loop
	Entries       []*Block
	Exits         []*Block
	Ranges        []Interval
	Components    [][]*Block

	CallGraph *CallGraphNode

	nextBlockGID int
	nextLoopGID  int
}

// NewFunction creates an empty function attached to asmfile.
func NewFunction(asmfile *BinFile) *Function {
	return &Function{AsmFile: asmfile, CallGraph: &CallGraphNode{}}
}

func (f *Function) nextGlobalBlockID() int { f.nextBlockGID++; return f.nextBlockGID - 1 }
func (f *Function) nextGlobalLoopID() int  { f.nextLoopGID++; return f.nextLoopGID - 1 }

// Free frees fn's blocks, loops, padding-blocks, ranges, connected
// components and demangled-name string. skipCallGraph, when true, leaves
// fn.CallGraph untouched for batched call-graph teardown by the caller
// (spec.md §4.H).
func (f *Function) Free(skipCallGraph bool) {
	for _, b := range f.Blocks {
		b.Free()
	}
	for _, b := range f.PaddingBlocks {
		b.Free()
	}
	for _, l := range f.Loops {
		l.Free()
	}
	f.Blocks = nil
	f.PaddingBlocks = nil
	f.Loops = nil
	f.Entries = nil
	f.Exits = nil
	f.Ranges = nil
	f.Components = nil
	f.DemangledName = ""
	if !skipCallGraph {
		f.CallGraph = nil
	}
}

// RemoveBlock removes b from fn.Blocks, if present.
func (f *Function) RemoveBlock(b *Block) {
	for i, x := range f.Blocks {
		if x == b {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			return
		}
	}
}

// RemoveLoop removes l from fn.Loops, if present.
func (f *Function) RemoveLoop(l *Loop) {
	for i, x := range f.Loops {
		if x == l {
			f.Loops = append(f.Loops[:i], f.Loops[i+1:]...)
			return
		}
	}
}
