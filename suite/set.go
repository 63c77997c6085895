package suite

import (
	"maps"
	"slices"

	"github.com/etnz/debstore/records"
)

// Set is a set of record identifiers.
type Set map[records.ID]struct{}

// NewSet returns a set holding ids.
func NewSet(ids ...records.ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Add(id records.ID)      { s[id] = struct{}{} }
func (s Set) Remove(id records.ID)   { delete(s, id) }
func (s Set) Has(id records.ID) bool { _, ok := s[id]; return ok }

// Sorted returns the members in ascending order.
func (s Set) Sorted() []records.ID {
	return slices.Sorted(maps.Keys(s))
}

// Minus returns the members of s missing from o, in ascending order.
func (s Set) Minus(o Set) []records.ID {
	var out []records.ID
	for id := range s {
		if !o.Has(id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Equal reports whether both sets hold the same members.
func (s Set) Equal(o Set) bool {
	return len(s) == len(o) && len(s.Minus(o)) == 0
}
