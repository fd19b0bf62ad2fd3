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

package telemetry

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibgo/constants"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
	"github.com/openconfig/gnmi/value"
	"github.com/openconfig/ygot/ygot"
	"google.golang.org/protobuf/testing/protocmp"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

func mustTypedValue(i interface{}) *gpb.TypedValue {
	v, err := value.FromScalar(i)
	if err != nil {
		panic(err)
	}
	return v
}

func statePath(leaf string) *gpb.Path {
	return &gpb.Path{Elem: []*gpb.PathElem{{Name: "state"}, {Name: leaf}}}
}

func TestNotification(t *testing.T) {
	vrf := oid.Must(oid.VirtualRouter, 1)
	route := &fib.Route{
		VRF:          vrf,
		Prefix:       netip.MustParsePrefix("10.0.0.0/8"),
		Target:       fib.GroupTarget{ID: oid.Must(oid.NextHopGroup, 2)},
		PacketAction: fib.Forward,
		MetaData:     4,
	}
	routeElems := []*gpb.PathElem{
		{Name: "fib"},
		{Name: "vrfs"},
		{Name: "vrf", Key: map[string]string{"id": "0x0003000000000001"}},
		{Name: "routes"},
		{Name: "route", Key: map[string]string{"prefix": "10.0.0.0/8"}},
	}

	tests := []struct {
		desc    string
		inOp    constants.OpType
		inObj   fib.Object
		want    *gpb.Notification
		wantErr bool
	}{{
		desc:  "route added",
		inOp:  constants.ADD,
		inObj: route,
		want: &gpb.Notification{
			Timestamp: 42,
			Prefix:    &gpb.Path{Target: "dut", Elem: routeElems},
			Update: []*gpb.Update{
				{Path: statePath("packet-action"), Val: mustTypedValue("FORWARD")},
				{Path: statePath("trap-priority"), Val: mustTypedValue(uint64(0))},
				{Path: statePath("metadata"), Val: mustTypedValue(uint64(4))},
				{Path: statePath("num-dependents"), Val: mustTypedValue(uint64(0))},
				{Path: statePath("next-hop-group"), Val: mustTypedValue("0x0005000000000002")},
			},
		},
	}, {
		desc:  "route removed",
		inOp:  constants.DELETE,
		inObj: route,
		want: &gpb.Notification{
			Timestamp: 42,
			Prefix:    &gpb.Path{Target: "dut"},
			Delete:    []*gpb.Path{{Elem: routeElems}},
		},
	}, {
		desc: "unresolved neighbor",
		inOp: constants.REPLACE,
		inObj: &fib.Neighbor{
			RIF:     oid.Must(oid.RouterInterface, 10),
			IP:      netip.MustParseAddr("2001:db8::1"),
			NextHop: oid.Must(oid.NextHop, 3),
			NeighborState: fib.NeighborState{
				MAC:            net.HardwareAddr{0, 0, 0x5e, 0, 0x53, 1},
				PacketAction:   fib.Trap,
				PortUnresolved: true,
			},
		},
		want: &gpb.Notification{
			Timestamp: 42,
			Prefix: &gpb.Path{Target: "dut", Elem: []*gpb.PathElem{
				{Name: "fib"},
				{Name: "router-interfaces"},
				{Name: "router-interface", Key: map[string]string{"id": "0x000600000000000a"}},
				{Name: "neighbors"},
				{Name: "neighbor", Key: map[string]string{"ip": "2001:db8::1"}},
			}},
			Update: []*gpb.Update{
				{Path: statePath("mac-address"), Val: mustTypedValue("00:00:5e:00:53:01")},
				{Path: statePath("packet-action"), Val: mustTypedValue("TRAP")},
				{Path: statePath("no-host-route"), Val: mustTypedValue(false)},
				{Path: statePath("metadata"), Val: mustTypedValue(uint64(0))},
				{Path: statePath("port-unresolved"), Val: mustTypedValue(true)},
				{Path: statePath("next-hop"), Val: mustTypedValue("0x0004000000000003")},
			},
		},
	}, {
		desc:    "unknown operation",
		inOp:    constants.OpType(42),
		inObj:   route,
		wantErr: true,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := Notification(tt.inOp, 42, "dut", tt.inObj)
			if (err != nil) != tt.wantErr {
				t.Fatalf("did not get expected error, got: %v, wantErr? %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got, protocmp.Transform()); diff != "" {
				t.Errorf("did not get expected notification, diff(-want,+got):\n%s", diff)
			}
		})
	}
}

func TestGroupNotification(t *testing.T) {
	nh1, nh2 := oid.Must(oid.NextHop, 1), oid.Must(oid.NextHop, 2)
	g := &fib.NextHopGroup{
		ID:          oid.Must(oid.NextHopGroup, 1),
		Type:        fib.GroupECMP,
		Members:     []fib.GroupMember{{NextHop: nh1, Weight: 2}, {NextHop: nh2, Weight: 1}},
		MemberCount: 3,
		Paths:       []oid.ID{nh2},
	}
	n, err := Notification(constants.ADD, 1, "dut", g)
	if err != nil {
		t.Fatalf("cannot build notification, %v", err)
	}
	got := map[string]*gpb.TypedValue{}
	for _, u := range n.GetUpdate() {
		p, err := ygot.PathToString(u.GetPath())
		if err != nil {
			t.Fatalf("invalid path %v, %v", u.GetPath(), err)
		}
		got[p] = u.GetVal()
	}
	want := map[string]*gpb.TypedValue{
		"/state/type":             mustTypedValue("ECMP"),
		"/state/member-count":     mustTypedValue(uint64(3)),
		"/state/ref-count":        mustTypedValue(uint64(0)),
		"/state/next-hops":        mustTypedValue([]string{nh1.String(), nh1.String(), nh2.String()}),
		"/state/forwarding-paths": mustTypedValue([]string{nh2.String()}),
	}
	if diff := cmp.Diff(want, got, protocmp.Transform()); diff != "" {
		t.Errorf("did not get expected group leaves, diff(-want,+got):\n%s", diff)
	}
}

func TestObjectPathUnknown(t *testing.T) {
	if _, err := ObjectPath(nil); err == nil {
		t.Errorf("ObjectPath(nil) did not return an error")
	}
}
