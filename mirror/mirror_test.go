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

package mirror

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibgo/backend/sim"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
)

// memStore is a Store held in memory.
type memStore struct {
	hashes map[string]map[string]string
	err    error
}

func (m *memStore) Apply(_ context.Context, cs []Change) error {
	if m.err != nil {
		return m.err
	}
	for _, c := range cs {
		if c.Fields == nil {
			delete(m.hashes, c.Key)
			continue
		}
		m.hashes[c.Key] = c.Fields
	}
	return nil
}

func TestKeyAndFields(t *testing.T) {
	vrf := oid.Must(oid.VirtualRouter, 1)
	rif := oid.Must(oid.RouterInterface, 4353)
	nh := oid.Must(oid.NextHop, 2)
	tests := []struct {
		desc       string
		in         fib.Object
		wantKey    string
		wantFields map[string]string
	}{{
		desc: "route to next hop",
		in: &fib.Route{
			VRF:          vrf,
			Prefix:       netip.MustParsePrefix("192.0.2.0/24"),
			Target:       fib.NextHopTarget{ID: nh},
			PacketAction: fib.Forward,
		},
		wantKey: "ROUTE_TABLE:0x0003000000000001:192.0.2.0/24",
		wantFields: map[string]string{
			"packet_action": "FORWARD",
			"trap_priority": "0",
			"metadata":      "0",
			"nexthop":       "0x0004000000000002",
		},
	}, {
		desc: "dropping route",
		in: &fib.Route{
			VRF:          vrf,
			Prefix:       netip.MustParsePrefix("2001:db8::/32"),
			PacketAction: fib.Drop,
			MetaData:     7,
		},
		wantKey: "ROUTE_TABLE:0x0003000000000001:2001:db8::/32",
		wantFields: map[string]string{
			"packet_action": "DROP",
			"trap_priority": "0",
			"metadata":      "7",
		},
	}, {
		desc: "resolved neighbor",
		in: &fib.Neighbor{
			RIF:     rif,
			IP:      netip.MustParseAddr("10.0.0.1"),
			NextHop: nh,
			NeighborState: fib.NeighborState{
				MAC:          net.HardwareAddr{0, 0, 0x5e, 0, 0x53, 1},
				PacketAction: fib.Forward,
				Port:         oid.Must(oid.Port, 1),
			},
		},
		wantKey: "NEIGH_TABLE:0x0006000000001101:10.0.0.1",
		wantFields: map[string]string{
			"neigh":         "00:00:5e:00:53:01",
			"packet_action": "FORWARD",
			"no_host_route": "false",
			"metadata":      "0",
			"port":          "0x0001000000000001",
		},
	}, {
		desc: "group",
		in: &fib.NextHopGroup{
			ID:      oid.Must(oid.NextHopGroup, 3),
			Members: []fib.GroupMember{{NextHop: nh, Weight: 2}, {NextHop: oid.Must(oid.NextHop, 5), Weight: 1}},
			Paths:   []oid.ID{nh, nh},
		},
		wantKey: "NEXTHOP_GROUP_TABLE:0x0005000000000003",
		wantFields: map[string]string{
			"nexthop": "0x0004000000000002,0x0004000000000005",
			"weight":  "2,1",
			"paths":   "0x0004000000000002,0x0004000000000002",
		},
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := Key(tt.in); got != tt.wantKey {
				t.Errorf("Key(%v): did not get expected key, got: %s, want: %s", tt.in, got, tt.wantKey)
			}
			if diff := cmp.Diff(tt.wantFields, Fields(tt.in)); diff != "" {
				t.Errorf("Fields(%v): did not get expected fields, diff(-want,+got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestMirrorFIB(t *testing.T) {
	store := &memStore{hashes: map[string]map[string]string{}}
	be := sim.New()
	f := fib.New(fib.WithBackend(be), fib.WithMirror(New(store, 0)))
	if err := f.Init(); err != nil {
		t.Fatalf("cannot initialise FIB, %v", err)
	}

	vrf, err := f.CreateVRF(fib.Attribute{ID: fib.VRFAttrSrcMAC, Value: net.HardwareAddr{0, 0, 0x5e, 0, 0x53, 0xff}})
	if err != nil {
		t.Fatalf("cannot create VRF, %v", err)
	}
	vrfKey := "VRF_TABLE:" + vrf.String()
	if got := store.hashes[vrfKey]["src_mac"]; got != "00:00:5e:00:53:ff" {
		t.Errorf("VRF hash has src_mac %q, want 00:00:5e:00:53:ff", got)
	}

	if err := f.Do(func(tx *fib.Txn) error {
		return tx.SetVRFAttribute(vrf, fib.Attribute{ID: fib.VRFAttrV6AdminState, Value: false})
	}); err != nil {
		t.Fatalf("cannot set VRF attribute, %v", err)
	}
	if got := store.hashes[vrfKey]["v6"]; got != "false" {
		t.Errorf("VRF hash has v6 %q after update, want false", got)
	}

	store.err = errors.New("store unavailable")
	if _, err := f.CreateVRF(); fib.KindOf(err) != fib.BackendFailure {
		t.Fatalf("did not get expected error when the store fails, got: %v, want: %s", err, fib.BackendFailure)
	}
	if got := be.Len(oid.VirtualRouter); got != 1 {
		t.Errorf("backend holds %d VRFs after the mirror rejected a create, want 1", got)
	}
	store.err = nil

	if err := f.RemoveVRF(vrf); err != nil {
		t.Fatalf("cannot remove VRF, %v", err)
	}
	if len(store.hashes) != 0 {
		t.Errorf("store is not empty after removing everything, got %v", store.hashes)
	}
}
