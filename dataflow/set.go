package dataflow

import (
	"golang.org/x/exp/maps"
)

// Set is an unordered set of comparable elements.
//
// Set operations return new sets; the receiver is never modified except by Add.
type Set[T comparable] struct {
	m map[T]struct{}
}

// NewSet returns a set containing items.
func NewSet[T comparable](items ...T) Set[T] {
	s := Set[T]{m: make(map[T]struct{}, len(items))}
	for _, item := range items {
		s.m[item] = struct{}{}
	}
	return s
}

// Add inserts item into the set.
func (s *Set[T]) Add(item T) {
	if s.m == nil {
		s.m = make(map[T]struct{})
	}
	s.m[item] = struct{}{}
}

func (s Set[T]) Contains(item T) bool {
	_, ok := s.m[item]
	return ok
}

func (s Set[T]) Len() int { return len(s.m) }

func (s Set[T]) Clone() Set[T] {
	if s.m == nil {
		return NewSet[T]()
	}
	return Set[T]{m: maps.Clone(s.m)}
}

func (s Set[T]) Union(other Set[T]) Set[T] {
	u := s.Clone()
	for item := range other.m {
		u.m[item] = struct{}{}
	}
	return u
}

func (s Set[T]) Intersect(other Set[T]) Set[T] {
	u := NewSet[T]()
	for item := range s.m {
		if other.Contains(item) {
			u.m[item] = struct{}{}
		}
	}
	return u
}

func (s Set[T]) Difference(other Set[T]) Set[T] {
	u := NewSet[T]()
	for item := range s.m {
		if !other.Contains(item) {
			u.m[item] = struct{}{}
		}
	}
	return u
}

// Equal reports whether both sets hold the same elements.
func (s Set[T]) Equal(other Set[T]) bool {
	return len(s.m) == len(other.m) && maps.Equal(s.m, other.m)
}

// Items returns the elements in unspecified order.
func (s Set[T]) Items() []T { return maps.Keys(s.m) }
