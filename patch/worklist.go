package patch

import "github.com/xyproto/madras"

// worklistItem names one entry awaiting re-addressing during Finalise.
type worklistItem struct {
	section madras.SectionID
	index   int
}

// promotionWorklist is a FIFO queue of entries to promote/re-address,
// following Design Notes §9's framing of dup-refs propagation as an
// explicit worklist rather than unbounded recursion: Finalise seeds it
// with every entry of every reordered section, and each pop may, via
// EntryForModification's own dup-refs call, promote further entries that
// referenced it — those arrive through the ordinary recursive path since
// a single entry's dependents are bounded and the recursion in
// session.go already terminates (visited entries are memoised in
// BinFile's entry-copy map, so no entry is promoted twice).
type promotionWorklist struct {
	items []worklistItem
	seen  map[worklistItem]bool
}

func newPromotionWorklist() *promotionWorklist {
	return &promotionWorklist{seen: make(map[worklistItem]bool)}
}

func (w *promotionWorklist) push(section madras.SectionID, index int) {
	item := worklistItem{section, index}
	if w.seen[item] {
		return
	}
	w.seen[item] = true
	w.items = append(w.items, item)
}

func (w *promotionWorklist) pop() (worklistItem, bool) {
	if len(w.items) == 0 {
		return worklistItem{}, false
	}
	item := w.items[0]
	w.items = w.items[1:]
	return item, true
}
