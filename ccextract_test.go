package madras

import "testing"

func newLeafBlock(fn *Function, addr int64) *Block {
	b := NewBlock(fn)
	b.FirstAddr = addr
	b.DomNode = &domNode{Block: b}
	return b
}

func TestExtractFunctionsFromCCNoOpOnSingleComponent(t *testing.T) {
	fn := NewFunction(nil)
	b := newLeafBlock(fn, 0x1000)
	fn.Blocks = []*Block{b}
	fn.Components = [][]*Block{{b}}

	got := ExtractFunctionsFromCC(fn, Config{CCMode: CCModeAlways}, func(int64) (string, bool) { return "", false })
	if got != nil {
		t.Fatalf("a function with only the primary component should not be split, got %v", got)
	}
}

func TestExtractFunctionsFromCCPanicsOnEmptyComponent(t *testing.T) {
	fn := NewFunction(nil)
	primary := newLeafBlock(fn, 0x1000)
	fn.Components = [][]*Block{{primary}, {}}

	defer func() {
		if recover() == nil {
			t.Fatalf("an empty connected component should panic per mustNonEmptyComponents")
		}
	}()
	ExtractFunctionsFromCC(fn, Config{}, func(int64) (string, bool) { return "", false })
}

func TestExtractFunctionsFromCCNamesByDebugPattern(t *testing.T) {
	fn := NewFunction(nil)
	fn.DemangledName = "outer"
	primary := newLeafBlock(fn, 0x1000)
	region := newLeafBlock(fn, 0x2000)
	primary.AddSuccessor(region)
	fn.Blocks = []*Block{primary, region}
	fn.Components = [][]*Block{{primary}, {region}}

	debugNames := func(addr int64) (string, bool) {
		if addr == 0x2000 {
			return "outer._omp_fn.0", true
		}
		return "", false
	}

	created := ExtractFunctionsFromCC(fn, Config{CCMode: CCModeAlways}, debugNames)
	if len(created) != 1 {
		t.Fatalf("expected exactly 1 extracted function, got %d", len(created))
	}
	if got, want := created[0].DemangledName, "outer#omp#region#0"; got != want {
		t.Fatalf("DemangledName = %q, want %q", got, want)
	}
	if created[0].OriginalFunction != fn {
		t.Fatalf("extracted function should record its origin")
	}
	// the region block itself should have moved out of fn.
	for _, b := range fn.Blocks {
		if b == region {
			t.Fatalf("region block should have been transplanted out of the original function")
		}
	}
	// a virtual entry block is prepended.
	if len(created[0].Blocks) != 2 || !created[0].Blocks[0].Virtual {
		t.Fatalf("expected a synthesized virtual entry block prepended, got %+v", created[0].Blocks)
	}
}

func TestExtractFunctionsFromCCNamesByDebugPatternOnNonEntryBlock(t *testing.T) {
	fn := NewFunction(nil)
	fn.DemangledName = "outer"
	primary := newLeafBlock(fn, 0x1000)
	entry := newLeafBlock(fn, 0x2000)
	tail := newLeafBlock(fn, 0x2100)
	primary.AddSuccessor(entry)
	entry.AddSuccessor(tail)
	fn.Blocks = []*Block{primary, entry, tail}
	fn.Components = [][]*Block{{primary}, {entry, tail}}

	debugNames := func(addr int64) (string, bool) {
		if addr == 0x2100 {
			return "outer._omp_fn.0", true
		}
		return "", false
	}

	created := ExtractFunctionsFromCC(fn, Config{CCMode: CCModeAlways}, debugNames)
	if len(created) != 1 {
		t.Fatalf("expected exactly 1 extracted function, got %d", len(created))
	}
	if got, want := created[0].DemangledName, "outer#omp#region#0"; got != want {
		t.Fatalf("DemangledName = %q, want %q — debug name on a non-entry block should still be found", got, want)
	}
}

func TestExtractFunctionsFromCCDebugOnlyDefersUnnamedComponents(t *testing.T) {
	fn := NewFunction(nil)
	fn.DemangledName = "outer"
	primary := newLeafBlock(fn, 0x1000)
	unnamed := newLeafBlock(fn, 0x3000)
	primary.AddSuccessor(unnamed)
	fn.Blocks = []*Block{primary, unnamed}
	fn.Components = [][]*Block{{primary}, {unnamed}}

	created := ExtractFunctionsFromCC(fn, Config{CCMode: CCModeDebugOnly}, func(int64) (string, bool) { return "", false })
	if len(created) != 0 {
		t.Fatalf("CCModeDebugOnly should defer every undebuggable component, got %d extracted", len(created))
	}
	if len(fn.Components) != 2 {
		t.Fatalf("the deferred component should be reinserted, got %d components", len(fn.Components))
	}
	// the block should still belong to the original function.
	found := false
	for _, b := range fn.Blocks {
		if b == unnamed {
			found = true
		}
	}
	if !found {
		t.Fatalf("a deferred component's blocks should remain in the original function")
	}
}
