package patch

import "github.com/xyproto/madras"

// TryMoveSectionToInterval implements the three-way contract of spec.md
// §4.F/§4.G.2:
//  1. if scn is already patch-reordered, succeed at its current position;
//  2. ask the driver for a format-specific placement; anything other than
//     the unchanged input interval is adopted as-is;
//  3. otherwise compute alignment padding against the interval and place
//     scn at the front of the remaining room, if it fits;
//  4. otherwise fail.
func (s *Session) TryMoveSectionToInterval(scn *madras.Section, iv madras.Interval) (madras.Interval, bool) {
	if scn.HasAttr(madras.AttrPatchReordered) {
		return madras.NewInterval(scn.Address, scn.Size()), true
	}

	if s.Patched.Driver != nil {
		out, ok := s.Patched.Driver.TryMoveSectionToInterval(s.Patched, scn, iv)
		if out.Address != iv.Address || out.Size != iv.Size {
			if !ok {
				return madras.Interval{}, false
			}
			scn.SetAttr(madras.AttrPatchReordered)
			return out, true
		}
	}

	consumed := iv.CanContain(scn.Size(), scn.Alignment)
	if consumed == 0 {
		return madras.Interval{}, false
	}
	padding := consumed - scn.Size()
	scn.Address = iv.Address + padding
	scn.SetAttr(madras.AttrPatchReordered)
	return madras.NewInterval(scn.Address, scn.Size()), true
}
