// Package driver holds the concrete FormatDriver (madras.FormatDriver)
// backends — ELF, PE and Mach-O — adapting the teacher's from-scratch
// ELF/PE/Mach-O writers (elf.go, elf_complete.go, pe.go, macho.go,
// codegen_*_writer.go, plt_got.go) from "emit a brand-new executable for
// compiler output" to "reload and re-emit an existing binary after
// patching", per SPEC_FULL.md §4.F.
//
// The interface itself lives in the root package (madras.FormatDriver)
// to avoid an import cycle: BinFile.Driver holds a FormatDriver, and
// these backends need *madras.BinFile, *madras.Section etc., so the
// dependency can only run one way.
package driver

import (
	"sort"

	"github.com/xyproto/madras"
)

// binWriter is the teacher's Out byte-writer (elf.go), generalised from
// single-pass header emission to building up arbitrary little-endian
// fields while assembling a full image.
type binWriter struct {
	buf []byte
}

func newBinWriter() *binWriter { return &binWriter{} }

func (o *binWriter) Write(b byte) { o.buf = append(o.buf, b) }

func (o *binWriter) WriteN(b byte, n int) {
	for i := 0; i < n; i++ {
		o.buf = append(o.buf, b)
	}
}

func (o *binWriter) Write2(v uint16) { o.buf = append(o.buf, byte(v), byte(v>>8)) }

func (o *binWriter) Write4(v uint32) {
	o.buf = append(o.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (o *binWriter) Write8u(v uint64) {
	for i := 0; i < 8; i++ {
		o.buf = append(o.buf, byte(v>>(8*i)))
	}
}

func (o *binWriter) Write8(v int64) { o.Write8u(uint64(v)) }

func (o *binWriter) Bytes() []byte { return o.buf }

// genericEmptySpaces computes gaps between consecutive loaded sections
// sorted by address, and a trailing gap up to the next page-size
// boundary — shared across all three backends since the invariant
// (contiguous, ascending, non-overlapping loaded sections) is format-
// agnostic. Format-specific drivers may still not use this when their
// format has richer hole information (e.g. PE's section alignment field).
func genericEmptySpaces(bf *madras.BinFile, pageSize int64) []madras.Interval {
	ids := bf.LoadedSections()
	type withAddr struct {
		id   madras.SectionID
		addr int64
		end  int64
	}
	var secs []withAddr
	for _, id := range ids {
		scn := bf.SectionByID(id)
		if scn == nil || !scn.HasAttr(madras.AttrLoaded) {
			continue
		}
		secs = append(secs, withAddr{id, scn.Address, scn.EndAddress()})
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i].addr < secs[j].addr })

	var gaps []madras.Interval
	for i := 1; i < len(secs); i++ {
		gap := secs[i].addr - secs[i-1].end
		if gap > 0 {
			gaps = append(gaps, madras.NewInterval(secs[i-1].end, gap))
		}
	}
	if len(secs) > 0 {
		last := secs[len(secs)-1]
		aligned := (last.end + pageSize - 1) &^ (pageSize - 1)
		if aligned > last.end {
			gaps = append(gaps, madras.NewInterval(last.end, aligned-last.end))
		}
	}
	return gaps
}

func genericFirstLoadedAddress(bf *madras.BinFile) int64 {
	min := madras.AddressError
	for _, id := range bf.LoadedSections() {
		scn := bf.SectionByID(id)
		if scn == nil {
			continue
		}
		if min == madras.AddressError || scn.Address < min {
			min = scn.Address
		}
	}
	return min
}

// sectionsNeedingPlacement identifies the sections a driver's Finalise
// must still assign an address to: ones added since the file was loaded
// (never given an address) and ones whose size has grown past the
// footprint implied by whichever loaded section follows it, so it now
// overlaps that neighbour.
func sectionsNeedingPlacement(bf *madras.BinFile) []*madras.Section {
	var unplaced, placed []*madras.Section
	for _, id := range bf.Sections() {
		scn := bf.SectionByID(id)
		if scn == nil || scn.HasAttr(madras.AttrPatchReordered) {
			continue
		}
		if scn.Type != madras.SectionCode && scn.Type != madras.SectionData {
			continue
		}
		if scn.Size() == 0 {
			continue
		}
		if scn.Address == 0 {
			unplaced = append(unplaced, scn)
			continue
		}
		placed = append(placed, scn)
	}
	sort.Slice(placed, func(i, j int) bool { return placed[i].Address < placed[j].Address })
	for i := 0; i < len(placed)-1; i++ {
		if placed[i].EndAddress() > placed[i+1].Address {
			unplaced = append(unplaced, placed[i])
		}
	}
	return unplaced
}

// placeSectionsNeedingRelocation assigns each section sectionsNeedingPlacement
// returns the first usable gap in gaps, consuming gap space (aligned to
// the section's own alignment) as it goes — the same front-of-interval
// fit patch.Session.TryMoveSectionToInterval applies when a caller moves
// a section explicitly, run here for sections nothing has placed yet.
func placeSectionsNeedingRelocation(bf *madras.BinFile, gaps []madras.Interval) {
	gaps = append([]madras.Interval{}, gaps...)
	for _, scn := range sectionsNeedingPlacement(bf) {
		for i, gap := range gaps {
			consumed := gap.CanContain(scn.Size(), scn.Alignment)
			if consumed == 0 {
				continue
			}
			padding := consumed - scn.Size()
			scn.Address = gap.Address + padding
			scn.SetAttr(madras.AttrLoaded)
			scn.SetAttr(madras.AttrPatchReordered)
			if remaining := gap.Size - consumed; remaining > 0 {
				gaps[i] = madras.NewInterval(scn.Address+scn.Size(), remaining)
			} else {
				gaps = append(gaps[:i], gaps[i+1:]...)
			}
			break
		}
	}
}

func genericLastLoadedAddress(bf *madras.BinFile) int64 {
	max := madras.AddressError
	for _, id := range bf.LoadedSections() {
		scn := bf.SectionByID(id)
		if scn == nil {
			continue
		}
		if end := scn.EndAddress(); end > max {
			max = end
		}
	}
	return max
}
