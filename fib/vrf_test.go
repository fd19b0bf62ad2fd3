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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibgo/oid"
)

func TestCreateVRF(t *testing.T) {
	tests := []struct {
		desc      string
		inAttrs   []Attribute
		want      *VRF
		wantKind  Kind
		wantIndex int
	}{{
		desc: "defaults",
		want: &VRF{
			V4AdminState:       true,
			V6AdminState:       true,
			TTLViolationAction: Trap,
			IPOptionsAction:    Trap,
		},
	}, {
		desc: "all attributes",
		inAttrs: []Attribute{
			{ID: VRFAttrV4AdminState, Value: false},
			{ID: VRFAttrSrcMAC, Value: mac("02:00:00:00:00:01")},
			{ID: VRFAttrTTLViolationAction, Value: Drop},
		},
		want: &VRF{
			V6AdminState:       true,
			SrcMAC:             mac("02:00:00:00:00:01"),
			TTLViolationAction: Drop,
			IPOptionsAction:    Trap,
		},
	}, {
		desc: "wrong value type",
		inAttrs: []Attribute{
			{ID: VRFAttrV4AdminState, Value: true},
			{ID: VRFAttrV6AdminState, Value: "yes"},
		},
		wantKind:  InvalidAttributeValue,
		wantIndex: 1,
	}, {
		desc:      "invalid packet action",
		inAttrs:   []Attribute{{ID: VRFAttrIPOptionsAction, Value: PacketAction(99)}},
		wantKind:  InvalidAttributeValue,
		wantIndex: 0,
	}, {
		desc:      "short MAC",
		inAttrs:   []Attribute{{ID: VRFAttrSrcMAC, Value: mac("02:00:00:00:00:01")[:4]}},
		wantKind:  InvalidAttributeValue,
		wantIndex: 0,
	}, {
		desc: "unknown attribute",
		inAttrs: []Attribute{
			{ID: VRFAttrV4AdminState, Value: true},
			{ID: VRFAttrV6AdminState, Value: true},
			{ID: 100, Value: true},
		},
		wantKind:  AttributeNotSupported,
		wantIndex: 2,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			f, rec := newTestFIB(t)
			err := f.Do(func(tx *Txn) error {
				id, err := tx.CreateVRF(tt.inAttrs)
				if err != nil {
					return err
				}
				got, err := tx.VRF(id)
				if err != nil {
					return err
				}
				tt.want.ID = id
				if diff := cmp.Diff(tt.want, got); diff != "" {
					t.Errorf("did not get expected VRF, diff(-want,+got):\n%s", diff)
				}
				return nil
			})
			if tt.wantKind != Unknown {
				wantErr(t, err, tt.wantKind, tt.wantIndex)
				if len(rec.calls) != 0 {
					t.Fatalf("failed create reached the backend, got calls %v", rec.calls)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error, %v", err)
			}
		})
	}
}

func TestVRFLimit(t *testing.T) {
	f, _ := newTestFIB(t, WithMaxVRFs(2))
	var ids []oid.ID
	for i := 0; i < 2; i++ {
		id, err := f.CreateVRF()
		if err != nil {
			t.Fatalf("cannot create VRF %d, %v", i, err)
		}
		ids = append(ids, id)
	}
	_, err := f.CreateVRF()
	wantErr(t, err, ResourceExhausted, -1)

	if err := f.RemoveVRF(ids[0]); err != nil {
		t.Fatalf("cannot remove VRF, %v", err)
	}
	id, err := f.CreateVRF()
	if err != nil {
		t.Fatalf("cannot create VRF after removal, %v", err)
	}
	if id != ids[0] {
		t.Fatalf("freed VRF ID was not reused, got %s, want %s", id, ids[0])
	}
}

func TestRemoveVRF(t *testing.T) {
	tests := []struct {
		desc     string
		inSetup  func(b builder, vrf oid.ID, tunnels TunnelMap)
		wantKind Kind
	}{{
		desc:    "empty",
		inSetup: func(builder, oid.ID, TunnelMap) {},
	}, {
		desc: "owns a RIF",
		inSetup: func(b builder, vrf oid.ID, tunnels TunnelMap) {
			b.portRIF(vrf, 1)
		},
		wantKind: ObjectInUse,
	}, {
		desc: "owns a route",
		inSetup: func(b builder, vrf oid.ID, tunnels TunnelMap) {
			_, err := b.tx.CreateRoute(vrf, netip.MustParsePrefix("10.0.0.0/8"), []Attribute{{ID: RouteAttrPacketAction, Value: Drop}})
			b.check(err)
		},
		wantKind: ObjectInUse,
	}, {
		desc: "owns a tunnel next hop",
		inSetup: func(b builder, vrf oid.ID, tunnels TunnelMap) {
			tunnels[oid.Must(oid.Tunnel, 1)] = TunnelInfo{Type: TunnelVXLAN, UnderlayVRF: vrf}
			b.encap(oid.Must(oid.Tunnel, 1), "192.0.2.1")
		},
		wantKind: ObjectInUse,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			tunnels := TunnelMap{}
			f, _ := newTestFIB(t, WithTunnels(tunnels))
			var vrf oid.ID
			do(t, f, func(tx *Txn) error {
				b := builder{t, tx}
				b.vrf()
				vrf = b.vrf()
				tt.inSetup(b, vrf, tunnels)
				return nil
			})
			before, _ := f.Stats()
			err := f.RemoveVRF(vrf)
			after, _ := f.Stats()
			if tt.wantKind != Unknown {
				wantErr(t, err, tt.wantKind, -1)
				if after.VRFs != before.VRFs {
					t.Fatalf("failed removal changed the VRF count from %d to %d", before.VRFs, after.VRFs)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error, %v", err)
			}
			if after.VRFs != before.VRFs-1 {
				t.Fatalf("did not get expected VRF count, got %d, want %d", after.VRFs, before.VRFs-1)
			}
		})
	}
}

func TestSetVRFAttribute(t *testing.T) {
	f, rec := newTestFIB(t)
	vrf, err := f.CreateVRF()
	if err != nil {
		t.Fatalf("cannot create VRF, %v", err)
	}
	rec.reset()
	do(t, f, func(tx *Txn) error {
		return tx.SetVRFAttribute(vrf, Attribute{ID: VRFAttrSrcMAC, Value: mac("02:00:00:00:00:02")})
	})
	want := []call{{op: "set", desc: "VRF " + vrf.String(), mask: maskOf(VRFAttrSrcMAC)}}
	if diff := cmp.Diff(want, rec.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Fatalf("did not get expected backend calls, diff(-want,+got):\n%s", diff)
	}

	err = f.Do(func(tx *Txn) error {
		return tx.SetVRFAttribute(vrf, Attribute{ID: VRFAttrV4AdminState, Value: 1})
	})
	wantErr(t, err, InvalidAttributeValue, 0)

	rec.fail = failOn[*VRF]("set")
	err = f.Do(func(tx *Txn) error {
		return tx.SetVRFAttribute(vrf, Attribute{ID: VRFAttrV4AdminState, Value: false})
	})
	wantErr(t, err, BackendFailure, -1)

	do(t, f, func(tx *Txn) error {
		got, err := tx.GetVRFAttributes(vrf, []AttrID{VRFAttrV4AdminState, VRFAttrSrcMAC})
		if err != nil {
			return err
		}
		want := []Attribute{
			{ID: VRFAttrV4AdminState, Value: true},
			{ID: VRFAttrSrcMAC, Value: mac("02:00:00:00:00:02")},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("rejected set was not rolled back, diff(-want,+got):\n%s", diff)
		}
		return nil
	})

	err = f.Do(func(tx *Txn) error {
		_, err := tx.GetVRFAttributes(vrf, []AttrID{VRFAttrV4AdminState, 77})
		return err
	})
	wantErr(t, err, AttributeNotSupported, 1)

	err = f.Do(func(tx *Txn) error {
		_, err := tx.VRF(oid.Must(oid.RouterInterface, vrf.Value()))
		return err
	})
	wantErr(t, err, InvalidParameter, -1)
}
