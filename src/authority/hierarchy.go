package authority

// Hierarchy maps a parent unit code to its direct subordinate units.
type Hierarchy map[string][]string

// Parent returns the direct parent of unit, if any.
func (h Hierarchy) Parent(unit string) (string, bool) {
	for parent, children := range h {
		for _, c := range children {
			if c == unit {
				return parent, true
			}
		}
	}
	return "", false
}

// Related reports whether a and b are the same unit, parent and child, or
// siblings under a common parent.
func (h Hierarchy) Related(a, b string) bool {
	if a == b {
		return true
	}
	pa, okA := h.Parent(a)
	pb, okB := h.Parent(b)
	if okA && pa == b {
		return true
	}
	if okB && pb == a {
		return true
	}
	return okA && okB && pa == pb
}
