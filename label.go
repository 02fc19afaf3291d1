package madras

// LabelType is the ordered enum spec.md §3 requires: "function >
// external-function > generic > patch-section > non-function > variable >
// external > non-variable > dummy > other", declared in that order.
// AttachLabelsToEntries (binfile.go) qualifies labels through
// IsFunctionType and equality tests below; compareLabels does not look at
// the type at all.
type LabelType uint8

const (
	LabelFunction LabelType = iota
	LabelExternalFunction
	LabelGeneric
	LabelPatchSection
	LabelNonFunction
	LabelVariable
	LabelExternal
	LabelNonVariable
	LabelDummy
	LabelOther
)

// Label is {name, address, target, target-type, section, label-type}.
type Label struct {
	id         LabelID
	Name       string
	Address    int64
	Target     Target
	Section    SectionID
	Type       LabelType
}

// NewLabel constructs a label with the given name, address and type. It is
// not yet attached to a section until AddLabel (binfile.go) is called.
func NewLabel(name string, address int64, typ LabelType) *Label {
	return &Label{Name: name, Address: address, Type: typ}
}

// IsFunctionType reports whether this label's type denotes a function
// entry point, used by AttachLabelsToEntries to avoid rebinding an
// instruction label onto a data entry (spec.md §4.E step 2).
func (l *Label) IsFunctionType() bool {
	return l.Type == LabelFunction || l.Type == LabelExternalFunction
}

// compareLabels orders labels by (address, name-empty-first, name), the
// per-section ordering spec.md §4.E/§8 requires.
func compareLabels(a, b *Label) int {
	if a.Address != b.Address {
		if a.Address < b.Address {
			return -1
		}
		return 1
	}
	aEmpty, bEmpty := a.Name == "", b.Name == ""
	if aEmpty != bEmpty {
		if aEmpty {
			return -1
		}
		return 1
	}
	if a.Name < b.Name {
		return -1
	}
	if a.Name > b.Name {
		return 1
	}
	return 0
}
