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
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibgo/oid"
)

func TestGroupWeights(t *testing.T) {
	f, _ := newTestFIB(t)
	do(t, f, func(tx *Txn) error {
		b := builder{t, tx}
		rif := b.portRIF(b.vrf(), 1)
		n1 := b.nh(rif, "10.0.0.1")
		g := b.group()

		b.check(tx.AddGroupMembers(g, []oid.ID{n1}))
		b.check(tx.AddGroupMembers(g, []oid.ID{n1}))

		got := b.group1(g)
		if got.MemberCount != 2 {
			t.Errorf("did not get expected member count, got %d, want 2", got.MemberCount)
		}
		if diff := cmp.Diff([]GroupMember{{NextHop: n1, Weight: 2}}, got.Members); diff != "" {
			t.Errorf("did not get one member link with weight 2, diff(-want,+got):\n%s", diff)
		}
		if got := b.nextHop(n1).RefCount; got != 2 {
			t.Errorf("next hop ref count counts link weights, got %d, want 2", got)
		}

		attrs, err := tx.GetNextHopGroupAttributes(g, []AttrID{GroupAttrType, GroupAttrNextHopCount, GroupAttrNextHopList})
		b.check(err)
		want := []Attribute{
			{ID: GroupAttrType, Value: GroupECMP},
			{ID: GroupAttrNextHopCount, Value: uint32(2)},
			{ID: GroupAttrNextHopList, Value: []oid.ID{n1, n1}},
		}
		if diff := cmp.Diff(want, attrs); diff != "" {
			t.Errorf("did not get expected attributes, diff(-want,+got):\n%s", diff)
		}
		return nil
	})
}

func TestGroupMemberCountInvariant(t *testing.T) {
	f, _ := newTestFIB(t, WithMaxECMPPaths(1000))
	r := rand.New(rand.NewSource(1))
	do(t, f, func(tx *Txn) error {
		b := builder{t, tx}
		rif := b.portRIF(b.vrf(), 1)
		var nhs []oid.ID
		for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
			nhs = append(nhs, b.nh(rif, ip))
		}
		g := b.group()
		weights := map[oid.ID]int{}
		for i := 0; i < 200; i++ {
			n := nhs[r.Intn(len(nhs))]
			if r.Intn(2) == 0 {
				b.check(tx.AddGroupMembers(g, []oid.ID{n}))
				weights[n]++
			} else {
				err := tx.RemoveGroupMembers(g, []oid.ID{n})
				if weights[n] == 0 {
					wantErr(t, err, InvalidParameter, 0)
					continue
				}
				b.check(err)
				weights[n]--
			}
			sum := 0
			for _, w := range weights {
				sum += w
			}
			got := b.group1(g)
			if got.MemberCount != sum {
				t.Fatalf("step %d: member count %d does not equal weight sum %d", i, got.MemberCount, sum)
			}
			for _, m := range got.Members {
				if m.Weight != weights[m.NextHop] {
					t.Fatalf("step %d: member %s has weight %d, want %d", i, m.NextHop, m.Weight, weights[m.NextHop])
				}
			}
		}
		return nil
	})
}

func TestGroupMembersAllOrNothing(t *testing.T) {
	tests := []struct {
		desc      string
		inRemove  bool
		inList    func(a, b, c, nb oid.ID) []oid.ID
		wantKind  Kind
		wantIndex int
	}{{
		desc:      "add with unknown member",
		inList:    func(a, b, _, _ oid.ID) []oid.ID { return []oid.ID{a, b, oid.Must(oid.NextHop, 999)} },
		wantKind:  NotFound,
		wantIndex: 2,
	}, {
		desc:      "add with wrong ID type",
		inList:    func(a, _, _, _ oid.ID) []oid.ID { return []oid.ID{a, oid.Must(oid.RouterInterface, 1)} },
		wantKind:  InvalidParameter,
		wantIndex: 1,
	}, {
		desc:      "add a neighbor",
		inList:    func(a, _, _, nb oid.ID) []oid.ID { return []oid.ID{a, nb} },
		wantKind:  InvalidParameter,
		wantIndex: 1,
	}, {
		desc:      "add past the path limit",
		inList:    func(a, b, c, _ oid.ID) []oid.ID { return []oid.ID{c, c, c} },
		wantKind:  ResourceExhausted,
		wantIndex: 2,
	}, {
		desc:      "remove a non-member",
		inRemove:  true,
		inList:    func(a, _, c, _ oid.ID) []oid.ID { return []oid.ID{a, c} },
		wantKind:  InvalidParameter,
		wantIndex: 1,
	}, {
		desc:      "remove more weight than present",
		inRemove:  true,
		inList:    func(a, b, _, _ oid.ID) []oid.ID { return []oid.ID{b, a, a} },
		wantKind:  InvalidParameter,
		wantIndex: 2,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			f, rec := newTestFIB(t, WithMaxECMPPaths(4))
			do(t, f, func(tx *Txn) error {
				b := builder{t, tx}
				rif := b.portRIF(b.vrf(), 1)
				n1, n2, n3 := b.nh(rif, "10.0.0.1"), b.nh(rif, "10.0.0.2"), b.nh(rif, "10.0.0.3")
				b.neighbor(rif, "10.0.0.9", "00:00:5e:00:53:09")
				nb, err := tx.Neighbor(rif, mustAddr("10.0.0.9"))
				b.check(err)
				g := b.group(n1, n2)
				before := b.group1(g)
				rec.reset()

				list := tt.inList(n1, n2, n3, nb.NextHop)
				if tt.inRemove {
					err = tx.RemoveGroupMembers(g, list)
				} else {
					err = tx.AddGroupMembers(g, list)
				}
				wantErr(t, err, tt.wantKind, tt.wantIndex)
				if diff := cmp.Diff(before, b.group1(g)); diff != "" {
					t.Errorf("failed update changed the group, diff(-want,+got):\n%s", diff)
				}
				if len(rec.calls) != 0 {
					t.Errorf("failed update reached the backend, got calls %v", rec.calls)
				}
				for _, n := range []oid.ID{n1, n2} {
					if got := b.nextHop(n).RefCount; got != 2 {
						t.Errorf("failed update changed ref count of %s to %d, want 2", n, got)
					}
				}
				return nil
			})
		})
	}
}

func TestGroupMembersBackendRollback(t *testing.T) {
	f, rec := newTestFIB(t)
	do(t, f, func(tx *Txn) error {
		b := builder{t, tx}
		rif := b.portRIF(b.vrf(), 1)
		n1, n2, n3 := b.nh(rif, "10.0.0.1"), b.nh(rif, "10.0.0.2"), b.nh(rif, "10.0.0.3")
		g := b.group(n1, n2, n1)
		before := b.group1(g)

		rec.fail = failOn[*NextHopGroup]("set")
		wantErr(t, tx.AddGroupMembers(g, []oid.ID{n3, n2}), BackendFailure, -1)
		if diff := cmp.Diff(before, b.group1(g)); diff != "" {
			t.Errorf("rejected add changed the group, diff(-want,+got):\n%s", diff)
		}
		wantErr(t, tx.RemoveGroupMembers(g, []oid.ID{n1, n1}), BackendFailure, -1)
		if diff := cmp.Diff(before, b.group1(g)); diff != "" {
			t.Errorf("rejected remove changed the group, diff(-want,+got):\n%s", diff)
		}
		if got := b.nextHop(n3).RefCount; got != 1 {
			t.Errorf("rejected add left ref count %d on %s, want 1", got, n3)
		}

		rec.fail = failOn[*NextHopGroup]("create")
		_, err := tx.CreateNextHopGroup([]Attribute{{ID: GroupAttrNextHopList, Value: []oid.ID{n3}}})
		wantErr(t, err, BackendFailure, -1)
		if got := len(tx.NextHopGroups()); got != 1 {
			t.Errorf("rejected create left %d groups, want 1", got)
		}
		if got := b.nextHop(n3).RefCount; got != 1 {
			t.Errorf("rejected create left ref count %d on %s, want 1", got, n3)
		}
		return nil
	})
}

func TestRemoveNextHopGroup(t *testing.T) {
	f, _ := newTestFIB(t)
	do(t, f, func(tx *Txn) error {
		b := builder{t, tx}
		vrf := b.vrf()
		rif := b.portRIF(vrf, 1)
		n1 := b.nh(rif, "10.0.0.1")
		g := b.group(n1)
		b.route(vrf, "10.1.0.0/16", g)

		wantErr(t, tx.RemoveNextHopGroup(g), ObjectInUse, -1)
		if got := b.group1(g).RefCount; got != 1 {
			t.Errorf("did not get expected group ref count, got %d, want 1", got)
		}
		wantErr(t, tx.RemoveNextHop(n1), ObjectInUse, -1)

		b.check(tx.RemoveRoute(vrf, mustPrefix("10.1.0.0/16")))
		b.check(tx.RemoveNextHopGroup(g))
		if got := b.nextHop(n1).RefCount; got != 1 {
			t.Errorf("group removal left ref count %d, want 1", got)
		}
		b.check(tx.RemoveNextHop(n1))
		_, err := tx.NextHopGroup(g)
		wantErr(t, err, NotFound, -1)
		return nil
	})
}

func TestForwardingPaths(t *testing.T) {
	f, _ := newTestFIB(t, WithMaxECMPPaths(8))
	do(t, f, func(tx *Txn) error {
		b := builder{t, tx}
		vrf := b.vrf()
		port := b.portRIF(vrf, 1)
		vlan := b.rif(vrf, VLANAttachment{VLAN: 20})

		b.neighbor(port, "10.0.0.1", "00:00:5e:00:53:01")
		b.neighbor(port, "10.0.0.2", "00:00:5e:00:53:02", Attribute{ID: NeighborAttrPacketAction, Value: Drop})
		b.neighbor(vlan, "10.0.1.1", "00:00:5e:00:53:03")
		b.neighbor(port, "10.0.0.4", "00:00:5e:00:53:04", Attribute{ID: NeighborAttrPacketAction, Value: Log})
		fwd, drop, unresolved, logged := b.nh(port, "10.0.0.1"), b.nh(port, "10.0.0.2"), b.nh(vlan, "10.0.1.1"), b.nh(port, "10.0.0.4")
		none := b.nh(port, "10.0.0.5")

		g := b.group(fwd, drop, unresolved, none, logged, fwd, logged)
		got, err := tx.ForwardingPaths(g)
		b.check(err)
		if diff := cmp.Diff([]oid.ID{fwd, fwd, logged, logged}, got); diff != "" {
			t.Errorf("did not get expected paths, diff(-want,+got):\n%s", diff)
		}

		_, err = tx.MoveMAC(20, mac("00:00:5e:00:53:03"), oid.Must(oid.Port, 3))
		b.check(err)
		got, err = tx.ForwardingPaths(g)
		b.check(err)
		if diff := cmp.Diff([]oid.ID{fwd, fwd, unresolved, logged, logged}, got); diff != "" {
			t.Errorf("did not get expected paths after MAC move, diff(-want,+got):\n%s", diff)
		}
		if diff := cmp.Diff(got, b.group1(g).Paths); diff != "" {
			t.Errorf("group snapshot paths differ from ForwardingPaths, diff(-want,+got):\n%s", diff)
		}

		wantErr(t, tx.SetMaxECMPPaths(6), InvalidParameter, -1)
		wantErr(t, tx.SetMaxECMPPaths(0), InvalidParameter, -1)
		if got := tx.MaxECMPPaths(); got != 8 {
			t.Errorf("failed SetMaxECMPPaths changed the limit to %d", got)
		}
		b.check(tx.SetMaxECMPPaths(7))
		wantErr(t, tx.AddGroupMembers(g, []oid.ID{fwd}), ResourceExhausted, 0)
		return nil
	})
}

func TestSetNextHopGroupAttribute(t *testing.T) {
	f, _ := newTestFIB(t)
	do(t, f, func(tx *Txn) error {
		b := builder{t, tx}
		g := b.group()
		wantErr(t, tx.SetNextHopGroupAttribute(g, Attribute{ID: GroupAttrNextHopList, Value: []oid.ID{}}), InvalidAttribute, 0)
		wantErr(t, tx.SetNextHopGroupAttribute(g, Attribute{ID: 50}), AttributeNotSupported, 0)
		_, err := tx.CreateNextHopGroup([]Attribute{{ID: GroupAttrNextHopCount, Value: uint32(1)}})
		wantErr(t, err, InvalidAttribute, 0)
		_, err = tx.CreateNextHopGroup([]Attribute{{ID: GroupAttrType, Value: GroupType(9)}})
		wantErr(t, err, InvalidAttributeValue, 0)
		return nil
	})
}
