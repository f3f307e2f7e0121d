package vision

import "strings"

// Keywords is an insertion-ordered set of lowercase keywords.
type Keywords struct {
	list []string
	seen map[string]bool
}

// Add appends k unless an equal keyword (ignoring case) is already present.
// Blank keywords are ignored.
func (ks *Keywords) Add(k string) bool {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return false
	}

	if ks.seen == nil {
		ks.seen = map[string]bool{}
	}

	if ks.seen[k] {
		return false
	}

	ks.seen[k] = true
	ks.list = append(ks.list, k)
	return true
}

// Len returns the number of keywords in the set.
func (ks *Keywords) Len() int {
	return len(ks.list)
}

// Slice returns a copy of the keywords in first-seen order.
func (ks *Keywords) Slice() []string {
	out := make([]string, len(ks.list))
	copy(out, ks.list)
	return out
}
