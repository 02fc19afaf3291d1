package madras

// Interval is an address range, component B of the data model. It backs
// both the empty-space accounting a format driver reports (FormatDriver's
// EmptySpaces) and the free-space list a patching session consumes when
// relocating sections.
type Interval struct {
	Address int64
	Size    int64
	Data    []byte
	Flags   uint32
}

// NewInterval creates an interval of the given address and size. A
// negative size is clamped to 0; there is no error return per spec.md
// §4.B's operation list.
func NewInterval(address, size int64) Interval {
	if size < 0 {
		size = 0
	}
	return Interval{Address: address, Size: size}
}

// End returns the end address, address+size.
func (iv Interval) End() int64 { return iv.Address + iv.Size }

// SetAddress moves the interval, shrinking Size to keep End fixed.
func (iv *Interval) SetAddress(addr int64) {
	end := iv.End()
	iv.Address = addr
	if end < addr {
		iv.Size = 0
	} else {
		iv.Size = end - addr
	}
}

// SetSize changes Size directly, leaving Address (and thus End) to follow.
func (iv *Interval) SetSize(size int64) {
	if size < 0 {
		size = 0
	}
	iv.Size = size
}

// SetEnd grows or shrinks the interval so that End() == end.
func (iv *Interval) SetEnd(end int64) {
	if end < iv.Address {
		iv.Size = 0
		return
	}
	iv.Size = end - iv.Address
}

// Split splits the interval at p, which must lie strictly inside
// (Address, End). Returns the two sub-intervals whose union covers the
// original with no gap; ok is false if p is out of range.
func (iv Interval) Split(p int64) (lo, hi Interval, ok bool) {
	if p <= iv.Address || p >= iv.End() {
		return Interval{}, Interval{}, false
	}
	lo = Interval{Address: iv.Address, Size: p - iv.Address, Flags: iv.Flags}
	hi = Interval{Address: p, Size: iv.End() - p, Flags: iv.Flags}
	if iv.Data != nil {
		off := p - iv.Address
		lo.Data = iv.Data[:off]
		hi.Data = iv.Data[off:]
	}
	return lo, hi, true
}

// Merge merges two adjacent intervals (a.End() == b.Address) into one.
func Merge(a, b Interval) (Interval, bool) {
	if a.End() != b.Address {
		return Interval{}, false
	}
	out := Interval{Address: a.Address, Size: a.Size + b.Size, Flags: a.Flags | b.Flags}
	if a.Data != nil && b.Data != nil {
		out.Data = append(append([]byte{}, a.Data...), b.Data...)
	}
	return out, true
}

// CanContain returns the total bytes consumed by placing an object of the
// given size at the first alignment boundary >= iv.Address within iv,
// accounting for alignment padding, or 0 if the object cannot fit (align
// must be a power of two, or 1/0 for "no alignment").
func (iv Interval) CanContain(size, align int64) int64 {
	if size < 0 {
		return 0
	}
	padding := alignPadding(iv.Address, align)
	needed := padding + size
	if needed > iv.Size {
		return 0
	}
	return needed
}

// alignPadding returns the number of bytes needed to advance addr to the
// next multiple of align (0 if align is 0 or 1, meaning unaligned).
func alignPadding(addr, align int64) int64 {
	if align <= 1 {
		return 0
	}
	rem := addr % align
	if rem == 0 {
		return 0
	}
	return align - rem
}
