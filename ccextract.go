package madras

import (
	"fmt"
	"strings"

	"github.com/mewkiz/pkg/errutil"
)

// CCMode gates whether a connected component lacking a debug name is
// extracted into a synthetic function at all (spec.md §4.I step 2).
type CCMode uint8

const (
	// CCModeAlways extracts every non-primary component regardless of
	// whether debug info names it.
	CCModeAlways CCMode = iota
	// CCModeDebugOnly defers (does not extract) any component for which
	// no debug name was found.
	CCModeDebugOnly
)

// DebugNameLookup resolves the (external, DWARF-backed) debug function
// name overlapping an instruction address, if any. Debug-info parsing is
// explicitly out of scope for this module (spec.md §1); callers supply
// this as the thin seam into whatever debug-info layer they use — the
// driver subpackage's ParseDebugInfo populates the data this closes over.
type DebugNameLookup func(addr int64) (name string, ok bool)

// isOmpRegionPattern/isOmpLoopPattern recognise the tool-specific OpenMP
// outlining markers spec.md §4.I step 1 refers to as "a parallel-region
// pattern" / "a parallel-loop pattern" (e.g. GCC/Intel outlined-region
// debug names such as "__par_region0_foo" or "foo._omp_fn.0").
func isOmpRegionPattern(name string) bool {
	return strings.Contains(name, "par_region") || strings.Contains(name, "omp_region") || strings.Contains(name, "_omp_fn")
}

func isOmpLoopPattern(name string) bool {
	return strings.Contains(name, "par_loop") || strings.Contains(name, "omp_loop")
}

// lookupComponentDebugName resolves a debug name overlapping any block in
// component, not just its entry block — outlined OpenMP regions commonly
// attach their debug subprogram to a later block rather than the CC's
// first address, so the entry address alone is not enough.
func lookupComponentDebugName(component []*Block, debugNames DebugNameLookup) (string, bool) {
	for _, b := range component {
		if name, ok := debugNames(b.FirstAddr); ok {
			return name, ok
		}
	}
	return "", false
}

// ExtractFunctionsFromCC is component I: it splits f into one synthetic
// function per non-primary connected component of its CFG, transplanting
// blocks/loops and synthesising a virtual entry block for each. f's
// Components must already be populated (by the external CFG/connected-
// component analysis feeding component H). Returns the newly created
// functions, in component order.
//
// If f has at most one component (just the primary), this performs no
// work and returns nil — the boundary behaviour spec.md §8 tests.
func ExtractFunctionsFromCC(f *Function, cfg Config, debugNames DebugNameLookup) []*Function {
	if len(f.Components) <= 1 {
		return nil
	}
	if err := mustNonEmptyComponents(f.Components); err != nil {
		panic(err)
	}

	primary := f.Components[0]
	candidates := f.Components[1:]

	var created []*Function
	var notExtracted [][]*Block
	ccid := 0

	for _, component := range candidates {
		firstAddr := component[0].FirstAddr
		dbgName, found := lookupComponentDebugName(component, debugNames)

		var name string
		switch {
		case found && isOmpRegionPattern(dbgName):
			name = fmt.Sprintf("%s#omp#region#%d", f.DemangledName, ccid)
			ccid++
		case found && isOmpLoopPattern(dbgName):
			name = fmt.Sprintf("%s#omp#loop#%d", f.DemangledName, ccid)
			ccid++
		case found:
			name = fmt.Sprintf("%s#%x", f.DemangledName, firstAddr)
		default:
			// Policy gate: no debug name at all.
			if cfg.CCMode == CCModeDebugOnly {
				notExtracted = append(notExtracted, component)
				// continue skips the loop-end increment below, so ccid
				// advances here instead; the double-increment quirk in the
				// debug-naming branches above is preserved verbatim per
				// DESIGN.md.
				ccid++
				continue
			}
			name = fmt.Sprintf("%s#%x", f.DemangledName, firstAddr)
		}

		newFn := extractOneComponent(f, component, name, len(created))
		created = append(created, newFn)

		ccid++ // unconditional at loop end, matching the original's ccid++ placement
	}

	f.Components = append(f.Components[:1:1], notExtracted...)
	if len(f.Entries) == 0 {
		for _, c := range f.Components {
			f.Entries = append(f.Entries, c...)
		}
	}
	_ = primary
	return created
}

// extractOneComponent performs spec.md §4.I steps 3-5 for a single
// candidate component, already named. seq is the number of functions
// already created earlier in the same pass.
func extractOneComponent(f *Function, component []*Block, name string, seq int) *Function {
	a := component[0].FirstAddr

	lbl := NewLabel(name, a, LabelFunction)
	lbl.Target = Target{Kind: TargetInstruction, Instruction: component[0].FirstInsn}
	sectionID := invalidSectionID
	if f.AsmFile != nil {
		if sec := f.AsmFile.SectionByAddress(a); sec != nil {
			sectionID = sec.ID()
		}
	}
	if f.AsmFile != nil {
		f.AsmFile.AddLabel(lbl, sectionID)
	}

	newFn := NewFunction(f.AsmFile)
	newFn.ID = f.ID + len(f.Components) + seq // fresh, not reused across functions created in this pass
	newFn.GlobalID = newFn.ID
	newFn.DemangledName = name
	newFn.OriginalFunction = f
	newFn.Components = [][]*Block{component}

	inComponent := make(map[*Block]bool, len(component))
	for _, b := range component {
		inComponent[b] = true
	}

	var entryBlocks []*Block
	for _, b := range component {
		if len(b.Predecessors) == 0 {
			entryBlocks = append(entryBlocks, b)
			continue
		}
		for _, p := range b.Predecessors {
			if !inComponent[p] {
				entryBlocks = append(entryBlocks, b)
				break
			}
		}
	}
	if len(entryBlocks) == 0 {
		// Every connected component must be reachable from somewhere;
		// fall back to the first block so the transplant still runs.
		entryBlocks = []*Block{component[0]}
	}

	newFn.Entries = append(newFn.Entries, entryBlocks...)

	visited := make(map[*Block]bool, len(component))
	var dfs func(b *Block)
	dfs = func(b *Block) {
		if visited[b] {
			return
		}
		visited[b] = true

		f.RemoveBlock(b)
		newFn.Blocks = append(newFn.Blocks, b)
		b.Function = newFn

		if b.Loop != nil && loopOwnedBy(f, b.Loop) {
			f.RemoveLoop(b.Loop)
			newFn.Loops = append(newFn.Loops, b.Loop)
			b.Loop.Function = newFn
		}

		for _, succ := range b.Successors {
			if inComponent[succ] {
				dfs(succ)
			}
		}
	}
	for _, e := range entryBlocks {
		dfs(e)
	}

	for _, e := range entryBlocks {
		for _, p := range append([]*Block{}, e.Predecessors...) {
			if p.Virtual {
				e.RemoveEdgeFrom(p)
			}
		}
	}

	ve := NewBlock(newFn)
	ve.Virtual = true
	ve.Padding = -1
	ve.DomNode = &domNode{}
	newFn.Blocks = append([]*Block{ve}, newFn.Blocks...)
	for _, e := range entryBlocks {
		ve.AddSuccessor(e)
	}

	return newFn
}

func loopOwnedBy(f *Function, l *Loop) bool {
	for _, x := range f.Loops {
		if x == l {
			return true
		}
	}
	return false
}

func mustNonEmptyComponents(components [][]*Block) error {
	for i, c := range components {
		if len(c) == 0 {
			return errutil.Newf("madras: connected component %d is empty", i)
		}
	}
	return nil
}
