package madras

// refIndex is a multi-map from a target key to the entry ids whose
// pointer content references that target — component E's two
// cross-reference indexes (dataRefsByTarget, sectionRefsByTarget) share
// this implementation, keyed respectively on EntryID and SectionID.
//
// Unlinked pointers (target address known, target object not yet
// resolved) are keyed on the sentinel key 0 until LinkUnlinkedPointers
// (binfile.go) resolves and re-keys them, per spec.md §4.E.
type refIndex[K comparable] struct {
	m map[K][]EntryID
}

func newRefIndex[K comparable]() refIndex[K] {
	return refIndex[K]{m: make(map[K][]EntryID)}
}

// add registers referencer as pointing at target.
func (r *refIndex[K]) add(target K, referencer EntryID) {
	r.m[target] = append(r.m[target], referencer)
}

// remove drops referencer from target's bucket.
func (r *refIndex[K]) remove(target K, referencer EntryID) {
	bucket := r.m[target]
	for i, id := range bucket {
		if id == referencer {
			r.m[target] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// rekey moves referencer from oldTarget's bucket to newTarget's bucket —
// used by LinkUnlinkedPointers (unset -> resolved).
func (r *refIndex[K]) rekey(oldTarget, newTarget K, referencer EntryID) {
	r.remove(oldTarget, referencer)
	r.add(newTarget, referencer)
}

// referencers returns the (unordered) entry ids referencing target.
func (r *refIndex[K]) referencers(target K) []EntryID {
	return r.m[target]
}
