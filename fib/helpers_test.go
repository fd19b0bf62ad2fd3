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
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"

	"github.com/openconfig/fibgo/oid"
)

// call is one backend call recorded by recorder.
type call struct {
	op   string
	desc string
	mask AttrMask
}

// recorder is a Backend that records calls and fails those selected by
// fail.
type recorder struct {
	calls []call
	fail  func(op string, o Object) bool
}

var errInjected = errors.New("injected failure")

func (r *recorder) do(op string, o Object, m AttrMask) error {
	if r.fail != nil && r.fail(op, o) {
		return errInjected
	}
	r.calls = append(r.calls, call{op: op, desc: describe(o), mask: m})
	return nil
}

func (r *recorder) Create(o Object) error          { return r.do("create", o, 0) }
func (r *recorder) Remove(o Object) error          { return r.do("remove", o, 0) }
func (r *recorder) Set(o Object, m AttrMask) error { return r.do("set", o, m) }

func (r *recorder) reset() { r.calls = nil }

// failOn returns a failure selector matching op on objects of type T.
func failOn[T Object](op string) func(string, Object) bool {
	return func(gotOp string, o Object) bool {
		_, ok := o.(T)
		return ok && gotOp == op
	}
}

func newTestFIB(t *testing.T, opts ...Opt) (*FIB, *recorder) {
	t.Helper()
	rec := &recorder{}
	f := New(append([]Opt{WithBackend(rec)}, opts...)...)
	if err := f.Init(); err != nil {
		t.Fatalf("cannot initialise FIB, %v", err)
	}
	return f, rec
}

// do runs fn in a Txn, failing the test on error.
func do(t *testing.T, f *FIB, fn func(*Txn) error) {
	t.Helper()
	if err := f.Do(fn); err != nil {
		t.Fatalf("unexpected error, %v", err)
	}
}

// builder creates objects in a Txn, failing the test on any error.
type builder struct {
	t  *testing.T
	tx *Txn
}

func (b builder) check(err error) {
	b.t.Helper()
	if err != nil {
		b.t.Fatalf("unexpected error, %v", err)
	}
}

func (b builder) vrf(attrs ...Attribute) oid.ID {
	b.t.Helper()
	id, err := b.tx.CreateVRF(attrs)
	b.check(err)
	return id
}

func (b builder) rif(vrf oid.ID, att Attachment, attrs ...Attribute) oid.ID {
	b.t.Helper()
	id, err := b.tx.CreateRIF(append([]Attribute{{ID: RIFAttrVRF, Value: vrf}, {ID: RIFAttrAttachment, Value: att}}, attrs...))
	b.check(err)
	return id
}

func (b builder) portRIF(vrf oid.ID, port uint64) oid.ID {
	b.t.Helper()
	return b.rif(vrf, PortAttachment{Port: oid.Must(oid.Port, port)})
}

func (b builder) nh(rif oid.ID, ip string) oid.ID {
	b.t.Helper()
	id, err := b.tx.CreateNextHop(ipNextHop(rif, ip))
	b.check(err)
	return id
}

func (b builder) encap(tunnel oid.ID, ip string) oid.ID {
	b.t.Helper()
	id, err := b.tx.CreateNextHop([]Attribute{
		{ID: NextHopAttrType, Value: NextHopTunnelEncap},
		{ID: NextHopAttrIP, Value: netip.MustParseAddr(ip)},
		{ID: NextHopAttrTunnel, Value: tunnel},
	})
	b.check(err)
	return id
}

func (b builder) group(nhs ...oid.ID) oid.ID {
	b.t.Helper()
	id, err := b.tx.CreateNextHopGroup([]Attribute{{ID: GroupAttrNextHopList, Value: nhs}})
	b.check(err)
	return id
}

func (b builder) route(vrf oid.ID, prefix string, target oid.ID) {
	b.t.Helper()
	_, err := b.tx.CreateRoute(vrf, netip.MustParsePrefix(prefix), []Attribute{{ID: RouteAttrNextHop, Value: target}})
	b.check(err)
}

func (b builder) neighbor(rif oid.ID, ip string, m string, attrs ...Attribute) {
	b.t.Helper()
	b.check(b.tx.CreateNeighbor(rif, netip.MustParseAddr(ip), append([]Attribute{{ID: NeighborAttrDstMAC, Value: mac(m)}}, attrs...)))
}

func (b builder) nextHop(id oid.ID) *NextHop {
	b.t.Helper()
	n, err := b.tx.NextHop(id)
	b.check(err)
	return n
}

func (b builder) group1(id oid.ID) *NextHopGroup {
	b.t.Helper()
	g, err := b.tx.NextHopGroup(id)
	b.check(err)
	return g
}

func ipNextHop(rif oid.ID, ip string) []Attribute {
	return []Attribute{
		{ID: NextHopAttrType, Value: NextHopIP},
		{ID: NextHopAttrIP, Value: netip.MustParseAddr(ip)},
		{ID: NextHopAttrRIF, Value: rif},
	}
}

func mac(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(fmt.Sprintf("invalid MAC %s", s))
	}
	return m
}

// wantErr checks that err has kind k, and attribute index idx if idx >= 0.
func wantErr(t *testing.T, err error, k Kind, idx int) {
	t.Helper()
	if got := KindOf(err); got != k {
		t.Fatalf("did not get expected error kind, got: %v (%v), want: %v", got, err, k)
	}
	if idx < 0 {
		return
	}
	if got, ok := AttrIndex(err); !ok || got != idx {
		t.Fatalf("did not get expected attribute index, got: %d (present: %v), want: %d", got, ok, idx)
	}
}

func mustAddr(s string) netip.Addr { return netip.MustParseAddr(s) }

func mustPrefix(s string) netip.Prefix { return netip.MustParsePrefix(s) }
