// Package xset is a generic comparable-element set, adapted from the
// teacher's utils/set package for this module's own uses: node-id
// reachability sets (auth's pending-sidecar re-evaluation trigger),
// sibling/capability sets, and per-peer subscribed-filter tracking.
package xset

import (
	"encoding/json"

	"golang.org/x/exp/maps"
)

const minSetSize = 16

// Set is a set of elements, implemented as a map to struct{}.
type Set[T comparable] map[T]struct{}

// Of returns a Set initialized with elts.
func Of[T comparable](elts ...T) Set[T] {
	s := New[T](len(elts))
	s.Add(elts...)
	return s
}

// New returns a new set with initial capacity size.
func New[T comparable](size int) Set[T] {
	if size < 0 {
		return Set[T]{}
	}
	return make(map[T]struct{}, size)
}

func (s *Set[T]) resize(size int) {
	if *s == nil {
		if minSetSize > size {
			size = minSetSize
		}
		*s = make(map[T]struct{}, size)
	}
}

// Add inserts elts into s.
func (s *Set[T]) Add(elts ...T) {
	s.resize(2 * len(elts))
	for _, elt := range elts {
		(*s)[elt] = struct{}{}
	}
}

// Union adds every element of other into s.
func (s *Set[T]) Union(other Set[T]) {
	s.resize(2 * other.Len())
	for elt := range other {
		(*s)[elt] = struct{}{}
	}
}

// Difference removes every element of other from s.
func (s *Set[T]) Difference(other Set[T]) {
	for elt := range other {
		delete(*s, elt)
	}
}

// Contains reports whether elt is in s.
func (s Set[T]) Contains(elt T) bool {
	_, ok := s[elt]
	return ok
}

// Overlaps reports whether s and other share any element.
func (s Set[T]) Overlaps(other Set[T]) bool {
	small, big := s, other
	if small.Len() > big.Len() {
		small, big = big, small
	}
	for elt := range small {
		if _, ok := big[elt]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of elements in s.
func (s Set[T]) Len() int { return len(s) }

// Clear empties s.
func (s *Set[T]) Clear() { clear(*s) }

// List returns s's elements in no particular order.
func (s Set[T]) List() []T { return maps.Keys(s) }

// Equals reports whether s and other contain the same elements.
func (s Set[T]) Equals(other Set[T]) bool { return maps.Equal(s, other) }

// Remove deletes elts from s.
func (s *Set[T]) Remove(elts ...T) {
	for _, elt := range elts {
		delete(*s, elt)
	}
}

func (s Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *Set[T]) UnmarshalJSON(b []byte) error {
	var elts []T
	if err := json.Unmarshal(b, &elts); err != nil {
		return err
	}
	*s = make(map[T]struct{}, minSetSize)
	for _, elt := range elts {
		(*s)[elt] = struct{}{}
	}
	return nil
}
