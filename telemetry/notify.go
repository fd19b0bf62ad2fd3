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
	"fmt"

	"github.com/openconfig/fibgo/constants"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
	"github.com/openconfig/gnmi/value"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

// leaf is one value below the state container of an object.
type leaf struct {
	name string
	val  interface{}
}

func elem(name string, kv ...string) *gpb.PathElem {
	e := &gpb.PathElem{Name: name}
	if len(kv) == 2 {
		e.Key = map[string]string{kv[0]: kv[1]}
	}
	return e
}

func idStrings(in []oid.ID) []string {
	out := make([]string, len(in))
	for i, id := range in {
		out[i] = id.String()
	}
	return out
}

// ObjectPath returns the path of the container that o is published under.
func ObjectPath(o fib.Object) ([]*gpb.PathElem, error) {
	switch v := o.(type) {
	case *fib.VRF:
		return []*gpb.PathElem{elem("fib"), elem("vrfs"), elem("vrf", "id", v.ID.String())}, nil
	case *fib.RouterInterface:
		return []*gpb.PathElem{elem("fib"), elem("router-interfaces"), elem("router-interface", "id", v.ID.String())}, nil
	case *fib.NextHop:
		return []*gpb.PathElem{elem("fib"), elem("next-hops"), elem("next-hop", "id", v.ID.String())}, nil
	case *fib.NextHopGroup:
		return []*gpb.PathElem{elem("fib"), elem("next-hop-groups"), elem("next-hop-group", "id", v.ID.String())}, nil
	case *fib.Route:
		return []*gpb.PathElem{
			elem("fib"), elem("vrfs"), elem("vrf", "id", v.VRF.String()),
			elem("routes"), elem("route", "prefix", v.Prefix.String()),
		}, nil
	case *fib.Neighbor:
		return []*gpb.PathElem{
			elem("fib"), elem("router-interfaces"), elem("router-interface", "id", v.RIF.String()),
			elem("neighbors"), elem("neighbor", "ip", v.IP.String()),
		}, nil
	}
	return nil, fmt.Errorf("unknown object type %T", o)
}

func leaves(o fib.Object) []leaf {
	switch v := o.(type) {
	case *fib.VRF:
		return []leaf{
			{"v4-admin-state", v.V4AdminState},
			{"v6-admin-state", v.V6AdminState},
			{"src-mac", v.SrcMAC.String()},
			{"ttl-violation-action", v.TTLViolationAction.String()},
			{"ip-options-action", v.IPOptionsAction.String()},
			{"num-router-interfaces", uint64(v.NumRIFs)},
			{"num-next-hops", uint64(v.NumNextHops)},
			{"num-routes", uint64(v.NumRoutes)},
		}
	case *fib.RouterInterface:
		return []leaf{
			{"vrf", v.VRF.String()},
			{"attachment", v.Attachment.String()},
			{"src-mac", v.SrcMAC.String()},
			{"v4-admin-state", v.V4AdminState},
			{"v6-admin-state", v.V6AdminState},
			{"mtu", uint64(v.MTU)},
			{"ip-options-action", v.IPOptionsAction.String()},
			{"ref-count", uint64(v.RefCount)},
		}
	case *fib.NextHop:
		ls := []leaf{
			{"vrf", v.VRF.String()},
			{"type", v.Key.Kind.String()},
			{"ip-address", v.Key.IP.String()},
			{"owners", v.Owners.String()},
			{"ref-count", uint64(v.RefCount)},
		}
		switch v.Key.Kind {
		case fib.NextHopIP:
			ls = append(ls, leaf{"router-interface", v.Key.RIF.String()})
		case fib.NextHopTunnelEncap:
			ls = append(ls,
				leaf{"tunnel", v.Tunnel.String()},
				leaf{"tunnel-type", v.Key.TunnelType.String()},
				leaf{"resolved", v.Resolved()},
			)
			if v.UnderlayRoute.IsValid() {
				ls = append(ls, leaf{"underlay-route", v.UnderlayRoute.String()})
			}
		}
		if v.Owners.Has(fib.OwnerNeighbor) {
			ls = append(ls, leaf{"neighbor-mac", v.Neighbor.MAC.String()})
		}
		return ls
	case *fib.NextHopGroup:
		var nhs []oid.ID
		for _, m := range v.Members {
			for i := 0; i < m.Weight; i++ {
				nhs = append(nhs, m.NextHop)
			}
		}
		return []leaf{
			{"type", v.Type.String()},
			{"member-count", uint64(v.MemberCount)},
			{"ref-count", uint64(v.RefCount)},
			{"next-hops", idStrings(nhs)},
			{"forwarding-paths", idStrings(v.Paths)},
		}
	case *fib.Route:
		ls := []leaf{
			{"packet-action", v.PacketAction.String()},
			{"trap-priority", uint64(v.TrapPriority)},
			{"metadata", uint64(v.MetaData)},
			{"num-dependents", uint64(v.NumDependents)},
		}
		switch t := v.Target.(type) {
		case fib.NextHopTarget:
			ls = append(ls, leaf{"next-hop", t.ID.String()})
		case fib.GroupTarget:
			ls = append(ls, leaf{"next-hop-group", t.ID.String()})
		}
		return ls
	case *fib.Neighbor:
		ls := []leaf{
			{"mac-address", v.MAC.String()},
			{"packet-action", v.PacketAction.String()},
			{"no-host-route", v.NoHostRoute},
			{"metadata", uint64(v.MetaData)},
			{"port-unresolved", v.PortUnresolved},
			{"next-hop", v.NextHop.String()},
		}
		if !v.PortUnresolved {
			ls = append(ls, leaf{"port", v.Port.String()})
		}
		return ls
	}
	return nil
}

// Notification returns the gNMI notification for the change op to o at
// the time ts, for the target named target. Creates and updates carry
// every state leaf of the object; removals delete its container.
func Notification(op constants.OpType, ts int64, target string, o fib.Object) (*gpb.Notification, error) {
	p, err := ObjectPath(o)
	if err != nil {
		return nil, err
	}
	switch op {
	case constants.DELETE:
		return &gpb.Notification{
			Timestamp: ts,
			Prefix:    &gpb.Path{Target: target},
			Delete:    []*gpb.Path{{Elem: p}},
		}, nil
	case constants.ADD, constants.REPLACE:
	default:
		return nil, fmt.Errorf("unknown operation %s", op)
	}

	n := &gpb.Notification{
		Timestamp: ts,
		Prefix:    &gpb.Path{Target: target, Elem: p},
	}
	for _, l := range leaves(o) {
		tv, err := value.FromScalar(l.val)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %s of %T, %v", l.name, o, err)
		}
		n.Update = append(n.Update, &gpb.Update{
			Path: &gpb.Path{Elem: []*gpb.PathElem{elem("state"), elem(l.name)}},
			Val:  tv,
		})
	}
	return n, nil
}
