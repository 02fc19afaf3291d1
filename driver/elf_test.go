package driver

import (
	"testing"

	"github.com/xyproto/madras"
)

func TestELFFinalisePlacesNewSection(t *testing.T) {
	bf := madras.New("t.bin")

	text := madras.NewSection(".text", madras.SectionCode)
	text.SetAttr(madras.AttrLoaded)
	text.SetAttr(madras.AttrExec)
	text.Address = 0x1000
	text.SetSize(0x10)
	bf.AddSection(text)

	added := madras.NewSection(".patch.text", madras.SectionCode)
	added.SetSize(0x8)
	added.Alignment = 0x10
	bf.AddSection(added)

	e := &ELF{}
	if err := e.Finalise(bf); err != nil {
		t.Fatalf("Finalise: %v", err)
	}

	if !added.HasAttr(madras.AttrPatchReordered) {
		t.Fatalf("a newly added section should have been placed and flagged AttrPatchReordered")
	}
	if added.Address == 0 {
		t.Fatalf("a newly added section should have been assigned a non-zero address")
	}
	if added.Address < text.EndAddress() {
		t.Fatalf("placed address 0x%x overlaps the existing .text section ending at 0x%x", added.Address, text.EndAddress())
	}
}

func TestELFFinaliseRelocatesSectionGrownPastNeighbour(t *testing.T) {
	bf := madras.New("t.bin")

	first := madras.NewSection(".data.first", madras.SectionData)
	first.SetAttr(madras.AttrLoaded)
	first.Address = 0x2000
	first.SetSize(0x100) // grown well past the 0x10 gap before .data.second
	bf.AddSection(first)

	second := madras.NewSection(".data.second", madras.SectionData)
	second.SetAttr(madras.AttrLoaded)
	second.Address = 0x2010
	second.SetSize(0x10)
	bf.AddSection(second)

	e := &ELF{}
	if err := e.Finalise(bf); err != nil {
		t.Fatalf("Finalise: %v", err)
	}

	if !first.HasAttr(madras.AttrPatchReordered) {
		t.Fatalf("the section overlapping its neighbour should have been relocated")
	}
	overlaps := first.Address < second.EndAddress() && second.Address < first.EndAddress()
	if overlaps {
		t.Fatalf(".data.first (0x%x-0x%x) still overlaps .data.second (0x%x-0x%x)", first.Address, first.EndAddress(), second.Address, second.EndAddress())
	}
}
