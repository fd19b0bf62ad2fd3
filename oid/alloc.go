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

package oid

import (
	"errors"
)

// ErrExhausted is returned by Allocator.Next when every value in the
// allocator's space is in use.
var ErrExhausted = errors.New("oid: identifier space exhausted")

// InUseFunc reports whether the numeric value v is currently allocated.
type InUseFunc func(v uint64) bool

// Allocator hands out numeric values in [0, mask]. The cursor advances by one
// on each call and wraps to zero past mask, so values are reused only after
// the rest of the space has been tried. Whether a value is free is decided
// solely by the caller's InUseFunc; the allocator keeps no record of what it
// has handed out.
//
// An Allocator is not safe for concurrent use. The FIB calls it with its lock
// held.
type Allocator struct {
	mask  uint64
	cur   uint64
	inUse InUseFunc
}

// NewAllocator returns an allocator over [0, mask] that consults inUse
// before handing out a value.
func NewAllocator(mask uint64, inUse InUseFunc) *Allocator {
	return &Allocator{mask: mask, inUse: inUse}
}

// Next returns the next free value after the cursor. It returns ErrExhausted
// after a full scan of the space finds nothing free, leaving the cursor where
// it started.
func (a *Allocator) Next() (uint64, error) {
	start := a.cur
	for {
		a.cur = a.step(a.cur)
		if !a.inUse(a.cur) {
			return a.cur, nil
		}
		if a.cur == start {
			return 0, ErrExhausted
		}
	}
}

func (a *Allocator) step(v uint64) uint64 {
	if v >= a.mask {
		return 0
	}
	return v + 1
}

// Reset moves the cursor back to zero.
func (a *Allocator) Reset() {
	a.cur = 0
}
