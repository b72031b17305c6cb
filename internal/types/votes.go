package types

import (
	"sort"
	"time"
)

// VoteSet records which participants approved a single transaction.
// Keys are canonical participant addresses; values are approval times.
type VoteSet map[string]time.Time

// Has reports whether addr has already voted.
func (v VoteSet) Has(addr string) bool {
	_, ok := v[addr]
	return ok
}

// Add records a vote. It returns false and leaves the set untouched when
// addr has already voted.
func (v VoteSet) Add(addr string, at time.Time) bool {
	if v.Has(addr) {
		return false
	}
	v[addr] = at
	return true
}

// Len returns the number of recorded votes.
func (v VoteSet) Len() int { return len(v) }

// Voters returns voter addresses ordered by approval time, ties broken by
// address.
func (v VoteSet) Voters() []string {
	out := make([]string, 0, len(v))
	for addr := range v {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := v[out[i]], v[out[j]]
		if ti.Equal(tj) {
			return out[i] < out[j]
		}
		return ti.Before(tj)
	})
	return out
}

// Clone returns an independent copy. A nil set clones to an empty set.
func (v VoteSet) Clone() VoteSet {
	cp := make(VoteSet, len(v))
	for k, t := range v {
		cp[k] = t
	}
	return cp
}
