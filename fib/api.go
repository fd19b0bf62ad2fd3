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
	"net/netip"

	"github.com/openconfig/fibgo/oid"
)

// This file holds single-operation wrappers around FIB.Do, for callers
// that do not need to group several operations under one lock.

func do1[T any](f *FIB, fn func(*Txn) (T, error)) (T, error) {
	var v T
	err := f.Do(func(t *Txn) error {
		var err error
		v, err = fn(t)
		return err
	})
	return v, err
}

// CreateVRF runs Txn.CreateVRF.
func (f *FIB) CreateVRF(attrs ...Attribute) (oid.ID, error) {
	return do1(f, func(t *Txn) (oid.ID, error) { return t.CreateVRF(attrs) })
}

// RemoveVRF runs Txn.RemoveVRF.
func (f *FIB) RemoveVRF(id oid.ID) error {
	return f.Do(func(t *Txn) error { return t.RemoveVRF(id) })
}

// CreateRIF runs Txn.CreateRIF.
func (f *FIB) CreateRIF(attrs ...Attribute) (oid.ID, error) {
	return do1(f, func(t *Txn) (oid.ID, error) { return t.CreateRIF(attrs) })
}

// RemoveRIF runs Txn.RemoveRIF.
func (f *FIB) RemoveRIF(id oid.ID) error {
	return f.Do(func(t *Txn) error { return t.RemoveRIF(id) })
}

// CreateNextHop runs Txn.CreateNextHop.
func (f *FIB) CreateNextHop(attrs ...Attribute) (oid.ID, error) {
	return do1(f, func(t *Txn) (oid.ID, error) { return t.CreateNextHop(attrs) })
}

// RemoveNextHop runs Txn.RemoveNextHop.
func (f *FIB) RemoveNextHop(id oid.ID) error {
	return f.Do(func(t *Txn) error { return t.RemoveNextHop(id) })
}

// CreateNextHopGroup runs Txn.CreateNextHopGroup.
func (f *FIB) CreateNextHopGroup(attrs ...Attribute) (oid.ID, error) {
	return do1(f, func(t *Txn) (oid.ID, error) { return t.CreateNextHopGroup(attrs) })
}

// RemoveNextHopGroup runs Txn.RemoveNextHopGroup.
func (f *FIB) RemoveNextHopGroup(id oid.ID) error {
	return f.Do(func(t *Txn) error { return t.RemoveNextHopGroup(id) })
}

// AddGroupMembers runs Txn.AddGroupMembers.
func (f *FIB) AddGroupMembers(id oid.ID, nhs ...oid.ID) error {
	return f.Do(func(t *Txn) error { return t.AddGroupMembers(id, nhs) })
}

// RemoveGroupMembers runs Txn.RemoveGroupMembers.
func (f *FIB) RemoveGroupMembers(id oid.ID, nhs ...oid.ID) error {
	return f.Do(func(t *Txn) error { return t.RemoveGroupMembers(id, nhs) })
}

// CreateRoute runs Txn.CreateRoute.
func (f *FIB) CreateRoute(vrf oid.ID, prefix netip.Prefix, attrs ...Attribute) (AttrMask, error) {
	return do1(f, func(t *Txn) (AttrMask, error) { return t.CreateRoute(vrf, prefix, attrs) })
}

// RemoveRoute runs Txn.RemoveRoute.
func (f *FIB) RemoveRoute(vrf oid.ID, prefix netip.Prefix) error {
	return f.Do(func(t *Txn) error { return t.RemoveRoute(vrf, prefix) })
}

// LookupExact runs Txn.LookupExact.
func (f *FIB) LookupExact(vrf oid.ID, prefix netip.Prefix) (*Route, error) {
	return do1(f, func(t *Txn) (*Route, error) { return t.LookupExact(vrf, prefix) })
}

// LookupLPM runs Txn.LookupLPM.
func (f *FIB) LookupLPM(vrf oid.ID, addr netip.Addr) (*Route, error) {
	return do1(f, func(t *Txn) (*Route, error) { return t.LookupLPM(vrf, addr) })
}

// CreateNeighbor runs Txn.CreateNeighbor.
func (f *FIB) CreateNeighbor(rif oid.ID, ip netip.Addr, attrs ...Attribute) error {
	return f.Do(func(t *Txn) error { return t.CreateNeighbor(rif, ip, attrs) })
}

// RemoveNeighbor runs Txn.RemoveNeighbor.
func (f *FIB) RemoveNeighbor(rif oid.ID, ip netip.Addr) error {
	return f.Do(func(t *Txn) error { return t.RemoveNeighbor(rif, ip) })
}

// Objects returns copies of every object in the FIB, in dependency order:
// VRFs, RIFs, next hops, groups, routes of each VRF and neighbors. Creating
// them in this order rebuilds an equivalent FIB.
func (t *Txn) Objects() []Object {
	var out []Object
	vrfs := t.VRFs()
	for _, v := range vrfs {
		out = append(out, v)
	}
	for _, r := range t.RIFs() {
		out = append(out, r)
	}
	for _, n := range t.NextHops() {
		out = append(out, n)
	}
	for _, g := range t.NextHopGroups() {
		out = append(out, g)
	}
	for _, v := range vrfs {
		rs, err := t.Routes(v.ID)
		if err != nil {
			invariantf("cannot list routes of VRF %s, %v", v.ID, err)
		}
		for _, r := range rs {
			out = append(out, r)
		}
	}
	for _, n := range t.Neighbors() {
		out = append(out, n)
	}
	return out
}
