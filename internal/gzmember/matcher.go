package gzmember

// matcher is a Knuth-Morris-Pratt automaton over a fixed pattern.  Its
// state survives between calls to scan() so an occurrence split across
// two (or more) reads is still found exactly once.
type matcher struct {
	pattern []byte
	fail    []int // fail[i] is the longest proper prefix of pattern[:i+1] that is also its suffix
	state   int   // number of pattern bytes matched so far
}

func newMatcher(pattern []byte) *matcher {
	fail := make([]int, len(pattern))
	for i, k := 1, 0; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = fail[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		fail[i] = k
	}
	p := make([]byte, len(pattern))
	copy(p, pattern)
	return &matcher{pattern: p, fail: fail, state: 0}
}

// scan feeds chunk, whose first byte is at absolute stream offset off,
// through the automaton and appends the start offset of every completed
// occurrence to found.
func (m *matcher) scan(chunk []byte, off int64, found []int64) []int64 {
	n := len(m.pattern)
	for i, c := range chunk {
		for m.state > 0 && c != m.pattern[m.state] {
			m.state = m.fail[m.state-1]
		}
		if c == m.pattern[m.state] {
			m.state++
		}
		if m.state == n {
			found = append(found, off+int64(i)-int64(n)+1)
			m.state = m.fail[n-1]
		}
	}
	return found
}
