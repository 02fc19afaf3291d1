package madras

import "testing"

func TestBlockAddSuccessorWiresBothSides(t *testing.T) {
	fn := NewFunction(nil)
	a := NewBlock(fn)
	b := NewBlock(fn)
	a.AddSuccessor(b)

	if len(a.Successors) != 1 || a.Successors[0] != b {
		t.Fatalf("a should have b as a successor")
	}
	if len(b.Predecessors) != 1 || b.Predecessors[0] != a {
		t.Fatalf("b should have a as a predecessor")
	}
}

func TestBlockRemoveEdgeFrom(t *testing.T) {
	fn := NewFunction(nil)
	a := NewBlock(fn)
	b := NewBlock(fn)
	a.AddSuccessor(b)
	b.RemoveEdgeFrom(a)

	if len(a.Successors) != 0 {
		t.Fatalf("RemoveEdgeFrom should clear the successor side too")
	}
	if len(b.Predecessors) != 0 {
		t.Fatalf("RemoveEdgeFrom should clear the predecessor side")
	}
}

func TestFunctionRemoveBlockAndLoop(t *testing.T) {
	fn := NewFunction(nil)
	b1 := NewBlock(fn)
	b2 := NewBlock(fn)
	fn.Blocks = append(fn.Blocks, b1, b2)
	fn.RemoveBlock(b1)
	if len(fn.Blocks) != 1 || fn.Blocks[0] != b2 {
		t.Fatalf("RemoveBlock should remove exactly b1, got %v", fn.Blocks)
	}

	l1 := NewLoop(fn)
	fn.Loops = append(fn.Loops, l1)
	fn.RemoveLoop(l1)
	if len(fn.Loops) != 0 {
		t.Fatalf("RemoveLoop should remove l1, got %v", fn.Loops)
	}
}

func TestFunctionGlobalIDsAreUnique(t *testing.T) {
	fn := NewFunction(nil)
	b1 := NewBlock(fn)
	b2 := NewBlock(fn)
	if b1.GlobalID == b2.GlobalID {
		t.Fatalf("GlobalID should be unique per function, both got %d", b1.GlobalID)
	}
}

func TestFunctionFreeClearsCollectionsButKeepsCallGraphWhenSkipped(t *testing.T) {
	fn := NewFunction(nil)
	fn.Blocks = append(fn.Blocks, NewBlock(fn))
	fn.Loops = append(fn.Loops, NewLoop(fn))
	fn.DemangledName = "foo"

	fn.Free(true)

	if fn.Blocks != nil || fn.Loops != nil {
		t.Fatalf("Free should clear Blocks/Loops")
	}
	if fn.DemangledName != "" {
		t.Fatalf("Free should clear DemangledName")
	}
	if fn.CallGraph == nil {
		t.Fatalf("Free(true) should preserve CallGraph for batched teardown")
	}
}
