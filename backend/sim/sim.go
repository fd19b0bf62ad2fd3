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

// Package sim implements a simulated forwarding backend. It keeps a copy of
// every object that the FIB has programmed, checks that the FIB never
// programs an object twice or updates one that it has not created, and can
// be told to fail calls so that the FIB's rollback paths can be exercised.
package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/golang/glog"
	"github.com/openconfig/fibgo/constants"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
)

// ErrInjected is returned by calls that fail because of a Fail rule that
// was not given an error.
var ErrInjected = errors.New("injected backend failure")

// Op is one call made to the backend.
type Op struct {
	Type constants.OpType
	Key  string
	Mask fib.AttrMask
}

// String returns a human readable form of o.
func (o Op) String() string {
	if o.Type == constants.REPLACE {
		return fmt.Sprintf("%s %s %#x", o.Type, o.Key, uint64(o.Mask))
	}
	return fmt.Sprintf("%s %s", o.Type, o.Key)
}

type rule struct {
	op    constants.OpType
	t     oid.ObjectType
	count int
	err   error
}

// Backend is a fib.Backend that records programmed objects in memory. It is
// safe for concurrent use.
type Backend struct {
	mu      sync.Mutex
	objs    map[string]fib.Object
	history []Op
	rules   []*rule
	// strict makes the backend reject calls that are inconsistent with
	// what it holds.
	strict bool
}

// Opt is an interface implemented by options to New.
type Opt interface {
	isSimOpt()
}

type lenient struct{}

func (*lenient) isSimOpt() {}

// Lenient stops the backend from rejecting duplicate creates and updates or
// removes of unknown objects.
func Lenient() *lenient { return &lenient{} }

// New returns an empty simulated backend.
func New(opts ...Opt) *Backend {
	b := &Backend{objs: map[string]fib.Object{}, strict: true}
	for _, o := range opts {
		if _, ok := o.(*lenient); ok {
			b.strict = false
		}
	}
	return b
}

// Key returns the key that the backend stores o under. Objects with an ID
// are keyed by it, routes by VRF and prefix and neighbors by RIF and
// address.
func Key(o fib.Object) string {
	switch v := o.(type) {
	case *fib.VRF:
		return fmt.Sprintf("vrf/%s", v.ID)
	case *fib.RouterInterface:
		return fmt.Sprintf("rif/%s", v.ID)
	case *fib.NextHop:
		return fmt.Sprintf("nh/%s", v.ID)
	case *fib.NextHopGroup:
		return fmt.Sprintf("nhg/%s", v.ID)
	case *fib.Route:
		return fmt.Sprintf("route/%s/%s", v.VRF, v.Prefix)
	case *fib.Neighbor:
		return fmt.Sprintf("neigh/%s/%s", v.RIF, v.IP)
	}
	return fmt.Sprintf("unknown/%T", o)
}

// Fail makes the next count calls of type op on objects of type t fail with
// err, or with ErrInjected if err is nil. A count of zero or less fails
// every such call until Reset.
func (b *Backend) Fail(op constants.OpType, t oid.ObjectType, count int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	b.rules = append(b.rules, &rule{op: op, t: t, count: count, err: err})
}

// Reset removes all Fail rules and clears the call history. Programmed
// objects are kept.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = nil
	b.history = nil
}

// injected returns the error of the first rule matching op on o. It must be
// called with b.mu held.
func (b *Backend) injected(op constants.OpType, o fib.Object) error {
	for i, r := range b.rules {
		if r.op != op || r.t != o.ObjectType() {
			continue
		}
		if r.count > 0 {
			r.count--
			if r.count == 0 {
				b.rules = append(b.rules[:i], b.rules[i+1:]...)
			}
		}
		return r.err
	}
	return nil
}

func (b *Backend) apply(op constants.OpType, o fib.Object, m fib.AttrMask) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := Key(o)
	if err := b.injected(op, o); err != nil {
		log.V(2).Infof("sim: failing %s of %s, %v", op, k, err)
		return err
	}
	_, exists := b.objs[k]
	switch op {
	case constants.ADD:
		if exists && b.strict {
			return fmt.Errorf("%s is already programmed", k)
		}
		b.objs[k] = o
	case constants.REPLACE:
		if !exists && b.strict {
			return fmt.Errorf("cannot update %s, not programmed", k)
		}
		b.objs[k] = o
	case constants.DELETE:
		if !exists && b.strict {
			return fmt.Errorf("cannot remove %s, not programmed", k)
		}
		delete(b.objs, k)
	}
	b.history = append(b.history, Op{Type: op, Key: k, Mask: m})
	return nil
}

// Create implements fib.Backend.
func (b *Backend) Create(o fib.Object) error { return b.apply(constants.ADD, o, 0) }

// Remove implements fib.Backend.
func (b *Backend) Remove(o fib.Object) error { return b.apply(constants.DELETE, o, 0) }

// Set implements fib.Backend.
func (b *Backend) Set(o fib.Object, m fib.AttrMask) error { return b.apply(constants.REPLACE, o, m) }

// Get returns the programmed object stored under key.
func (b *Backend) Get(key string) (fib.Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objs[key]
	return o, ok
}

// Keys returns the keys of all programmed objects in sorted order.
func (b *Backend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks := make([]string, 0, len(b.objs))
	for k := range b.objs {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// Len returns the number of programmed objects of type t, or of all types
// if t is oid.Null.
func (b *Backend) Len(t oid.ObjectType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	for _, o := range b.objs {
		if t == oid.Null || o.ObjectType() == t {
			n++
		}
	}
	return n
}

// History returns the successful calls made since New or the last Reset.
func (b *Backend) History() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Op(nil), b.history...)
}
