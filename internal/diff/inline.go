package diff

// InlineEdit reports the intra-line edit for a hunk that replaces exactly one
// line with one line: the added and removed segments left after trimming the
// common prefix and suffix. Appending to a line therefore yields a non-empty
// added segment and an empty removed one.
func (h *Hunk) InlineEdit() (added, removed string, ok bool) {
	var del, add []string
	for _, l := range h.Lines {
		switch l.Type {
		case Deletion:
			del = append(del, l.Content)
		case Addition:
			add = append(add, l.Content)
		}
	}
	if len(del) != 1 || len(add) != 1 {
		return "", "", false
	}

	oldLine, newLine := del[0], add[0]
	p := commonPrefix(oldLine, newLine)
	s := commonSuffix(oldLine[p:], newLine[p:])
	return newLine[p : len(newLine)-s], oldLine[p : len(oldLine)-s], true
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}
