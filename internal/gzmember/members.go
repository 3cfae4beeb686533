package gzmember

import (
	"errors"
	"io"
)

// Member is the compressed byte range of one gzip member.
type Member struct {
	Offset int64 // absolute offset of the member header
	Length int64 // compressed length including header and trailer
}

// Members turns the boundaries reported by a Scanner into a forward-only
// sequence of members.  It is not restartable; create a new Scanner to
// scan again.
type Members struct {
	scanner *Scanner
	queue   []int64 // boundaries not yet paired
	open    int64   // offset of the member whose length is not known yet
	hasOpen bool
	done    bool // scanner reached end of stream
}

// NewMembers returns a member sequence that pulls boundaries from s.
func NewMembers(s *Scanner) *Members {
	return &Members{scanner: s}
}

// Next returns the next member in increasing offset order, or io.EOF
// after the last one.  Scan passes are triggered only when no unpaired
// boundary is left.
func (ms *Members) Next() (Member, error) {
	for {
		if len(ms.queue) > 0 {
			off := ms.queue[0]
			ms.queue = ms.queue[1:]
			if !ms.hasOpen {
				ms.open, ms.hasOpen = off, true
				continue
			}
			m := Member{Offset: ms.open, Length: off - ms.open}
			ms.open = off
			return m, nil
		}
		if ms.done {
			return Member{}, io.EOF
		}
		found, err := ms.scanner.Pass()
		ms.queue = append(ms.queue[:0], found...)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Member{}, err
			}
			// The sentinel closes the open member and is never
			// opened itself.
			ms.done = true
		}
	}
}

// All scans r to the end and returns all of its members.
func All(r io.Reader, conf Config) ([]Member, error) {
	s, err := NewScanner(r, conf)
	if err != nil {
		return nil, err
	}
	ms := NewMembers(s)
	var members []Member
	for {
		m, err := ms.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	verbose("found %d members", len(members))
	return members, nil
}
