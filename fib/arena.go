// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fib

import (
	"sort"
)

// ref is a generation-checked handle to an object of type T held in an
// arena. The zero ref refers to nothing. A ref to a removed object never
// resolves again, even if its slot is reused.
type ref[T any] struct {
	idx uint32
	gen uint32
}

func (r ref[T]) valid() bool { return r.gen != 0 }

type slot[T any] struct {
	gen  uint32
	used bool
	v    T
}

// arena owns all objects of one kind. Slots are heap-allocated so that
// pointers returned by get stay valid while the arena grows.
type arena[T any] struct {
	slots []*slot[T]
	free  []uint32
	live  int
}

func (a *arena[T]) insert(v T) ref[T] {
	var i uint32
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, &slot[T]{})
		i = uint32(len(a.slots) - 1)
	}
	s := a.slots[i]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.used = true
	s.v = v
	a.live++
	return ref[T]{idx: i, gen: s.gen}
}

// get returns the object r refers to, or nil if it has been removed.
func (a *arena[T]) get(r ref[T]) *T {
	if !r.valid() || int(r.idx) >= len(a.slots) {
		return nil
	}
	s := a.slots[r.idx]
	if !s.used || s.gen != r.gen {
		return nil
	}
	return &s.v
}

// mustGet is get for references that the FIB's own links hold, which must
// never dangle.
func (a *arena[T]) mustGet(r ref[T]) *T {
	v := a.get(r)
	if v == nil {
		invariantf("dangling %T reference %+v", v, r)
	}
	return v
}

func (a *arena[T]) remove(r ref[T]) bool {
	if a.get(r) == nil {
		return false
	}
	s := a.slots[r.idx]
	var zero T
	s.v = zero
	s.used = false
	a.free = append(a.free, r.idx)
	a.live--
	return true
}

func (a *arena[T]) len() int { return a.live }

// each calls fn for every live object in slot order.
func (a *arena[T]) each(fn func(ref[T], *T)) {
	for i, s := range a.slots {
		if s.used {
			fn(ref[T]{idx: uint32(i), gen: s.gen}, &s.v)
		}
	}
}

// refSet is an unordered set of back-references.
type refSet[T any] map[ref[T]]struct{}

func (s refSet[T]) add(r ref[T]) { s[r] = struct{}{} }

func (s refSet[T]) remove(r ref[T]) { delete(s, r) }

func (s refSet[T]) has(r ref[T]) bool {
	_, ok := s[r]
	return ok
}

// sorted returns the members of s in slot order, so that walks over
// dependents are deterministic.
func (s refSet[T]) sorted() []ref[T] {
	out := make([]ref[T], 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].idx < out[j].idx })
	return out
}
