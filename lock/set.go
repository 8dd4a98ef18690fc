package lock

// Set is an ordered collection of locks as carried by one container.
// Readers must iterate it in header order and must not treat Label as a
// unique key (spec.md §9 "ambiguity": uniqueness is a producer-side
// convention, not a reader invariant — the first match by header order
// wins, exactly as the source's getDecryptionLock loop does).
type Set []Lock

// ByCertificate returns the first lock (in header order) matching the
// given DER certificate, for CDoc1 containers.
func (s Set) ByCertificate(cert []byte) (Lock, bool) {
	for _, l := range s {
		if !l.IsCDoc1() || len(l.Certificate) == 0 {
			continue
		}
		if bytesEqual(l.Certificate, cert) {
			return l, true
		}
	}
	return Lock{}, false
}

// ByLabel returns the first lock (in header order) with the given label.
// Producers are expected to keep labels unique (invariant (iii)); this
// lookup does not enforce it.
func (s Set) ByLabel(label string) (Lock, bool) {
	for _, l := range s {
		if l.Label == label {
			return l, true
		}
	}
	return Lock{}, false
}

// DuplicateLabels returns every label used more than once, for writer-side
// validation of invariant (iii). A reader must never call this to decide
// how to look up a lock (see the package doc).
func (s Set) DuplicateLabels() []string {
	seen := make(map[string]int, len(s))
	for _, l := range s {
		seen[l.Label]++
	}
	var dups []string
	for label, n := range seen {
		if n > 1 {
			dups = append(dups, label)
		}
	}
	return dups
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
