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

package sim

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibgo/constants"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
)

func mustID(t *testing.T) func(oid.ID, error) oid.ID {
	return func(id oid.ID, err error) oid.ID {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error, %v", err)
		}
		return id
	}
}

func TestBackendTracksFIB(t *testing.T) {
	b := New()
	f := fib.New(fib.WithBackend(b))
	if err := f.Init(); err != nil {
		t.Fatalf("cannot initialise FIB, %v", err)
	}
	id := mustID(t)
	check := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error, %v", err)
		}
	}

	vrf := id(f.CreateVRF())
	rif := id(f.CreateRIF(
		fib.Attribute{ID: fib.RIFAttrVRF, Value: vrf},
		fib.Attribute{ID: fib.RIFAttrAttachment, Value: fib.PortAttachment{Port: oid.Must(oid.Port, 1)}},
	))
	ip := netip.MustParseAddr("10.0.0.1")
	nh := id(f.CreateNextHop(
		fib.Attribute{ID: fib.NextHopAttrType, Value: fib.NextHopIP},
		fib.Attribute{ID: fib.NextHopAttrIP, Value: ip},
		fib.Attribute{ID: fib.NextHopAttrRIF, Value: rif},
	))
	check(f.CreateNeighbor(rif, ip, fib.Attribute{ID: fib.NeighborAttrDstMAC, Value: net.HardwareAddr{0, 0, 0x5e, 0, 0x53, 1}}))
	g := id(f.CreateNextHopGroup(fib.Attribute{ID: fib.GroupAttrNextHopList, Value: []oid.ID{nh}}))
	p8, p24 := netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("192.0.2.0/24")
	_, err := f.CreateRoute(vrf, p8, fib.Attribute{ID: fib.RouteAttrNextHop, Value: g})
	check(err)
	_, err = f.CreateRoute(vrf, p24, fib.Attribute{ID: fib.RouteAttrNextHop, Value: nh})
	check(err)

	want := []string{
		"neigh/" + rif.String() + "/10.0.0.1",
		"nh/" + nh.String(),
		"nhg/" + g.String(),
		"rif/" + rif.String(),
		"route/" + vrf.String() + "/10.0.0.0/8",
		"route/" + vrf.String() + "/192.0.2.0/24",
		"vrf/" + vrf.String(),
	}
	if diff := cmp.Diff(want, b.Keys()); diff != "" {
		t.Fatalf("did not get expected programmed objects, diff(-want,+got):\n%s", diff)
	}
	o, ok := b.Get("nh/" + nh.String())
	if !ok {
		t.Fatalf("next hop %s is not programmed", nh)
	}
	if got := o.(*fib.NextHop).Owners; got != fib.OwnerNeighbor|fib.OwnerNextHop {
		t.Errorf("programmed next hop has owners %s, want neighbor,next-hop", got)
	}

	b.Fail(constants.ADD, oid.Route, 1, nil)
	p25 := netip.MustParsePrefix("198.51.100.0/25")
	if _, err := f.CreateRoute(vrf, p25, fib.Attribute{ID: fib.RouteAttrNextHop, Value: nh}); fib.KindOf(err) != fib.BackendFailure {
		t.Fatalf("did not get expected error, got: %v, want: %s", err, fib.BackendFailure)
	}
	if got := b.Len(oid.Route); got != 2 {
		t.Errorf("failed create left %d routes programmed, want 2", got)
	}
	_, err = f.CreateRoute(vrf, p25, fib.Attribute{ID: fib.RouteAttrNextHop, Value: nh})
	check(err)

	for _, p := range []netip.Prefix{p8, p24, p25} {
		check(f.RemoveRoute(vrf, p))
	}
	check(f.RemoveNextHopGroup(g))
	check(f.RemoveNextHop(nh))
	if _, ok := b.Get("nh/" + nh.String()); ok {
		t.Errorf("next hop %s is still programmed after its removal", nh)
	}
	check(f.RemoveNeighbor(rif, ip))
	check(f.RemoveRIF(rif))
	check(f.RemoveVRF(vrf))

	if got := b.Len(oid.Null); got != 0 {
		t.Errorf("objects left programmed after removing everything: %v", b.Keys())
	}
	c := f.Counters()
	if c.BackendFailures != 1 || c.RemoveFailures != 0 {
		t.Errorf("backend saw inconsistent calls, got %d failures and %d remove failures, want 1 and 0", c.BackendFailures, c.RemoveFailures)
	}
}

func TestStrict(t *testing.T) {
	vrf := &fib.VRF{ID: oid.Must(oid.VirtualRouter, 1)}
	tests := []struct {
		desc    string
		inOpts  []Opt
		wantErr bool
	}{{
		desc:    "strict",
		wantErr: true,
	}, {
		desc:   "lenient",
		inOpts: []Opt{Lenient()},
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			b := New(tt.inOpts...)
			if err := b.Set(vrf, 1); (err != nil) != tt.wantErr {
				t.Errorf("Set of unknown object, got err: %v, wantErr? %v", err, tt.wantErr)
			}
			if err := b.Remove(vrf); (err != nil) != tt.wantErr {
				t.Errorf("Remove of unknown object, got err: %v, wantErr? %v", err, tt.wantErr)
			}
			if err := b.Create(vrf); err != nil {
				t.Fatalf("Create, got unexpected err: %v", err)
			}
			if err := b.Create(vrf); (err != nil) != tt.wantErr {
				t.Errorf("duplicate Create, got err: %v, wantErr? %v", err, tt.wantErr)
			}
		})
	}
}

func TestFail(t *testing.T) {
	b := New()
	vrf := &fib.VRF{ID: oid.Must(oid.VirtualRouter, 1)}
	rif := &fib.RouterInterface{ID: oid.Must(oid.RouterInterface, 1)}

	b.Fail(constants.ADD, oid.VirtualRouter, 0, nil)
	for i := 0; i < 3; i++ {
		if err := b.Create(vrf); err != ErrInjected {
			t.Fatalf("create %d, did not get injected error, got: %v", i, err)
		}
	}
	if err := b.Create(rif); err != nil {
		t.Fatalf("create of RIF failed, %v", err)
	}
	b.Reset()
	if err := b.Create(vrf); err != nil {
		t.Fatalf("create after Reset failed, %v", err)
	}
	if err := b.Set(vrf, 1<<fib.VRFAttrSrcMAC); err != nil {
		t.Fatalf("set failed, %v", err)
	}
	want := []Op{
		{Type: constants.ADD, Key: "vrf/" + vrf.ID.String()},
		{Type: constants.REPLACE, Key: "vrf/" + vrf.ID.String(), Mask: 1 << fib.VRFAttrSrcMAC},
	}
	if diff := cmp.Diff(want, b.History()); diff != "" {
		t.Errorf("did not get expected history, diff(-want,+got):\n%s", diff)
	}
}
