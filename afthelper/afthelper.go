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

// Package afthelper provides helper functions for summarising how a FIB
// forwards traffic.
package afthelper

import (
	"fmt"
	"net/netip"

	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
)

// maxDepth bounds the recursion through tunnel encap next hops.
const maxDepth = 8

// NextHopSummary provides a summary of an next-hop for a particular entry.
type NextHopSummary struct {
	// Weight is the share of traffic that the next-hop gets.
	Weight uint64 `json:"weight"`
	// Address is the IP address of the next-hop.
	Address string `json:"address"`
	// NetworkInstance is the VRF within which the address was resolved.
	NetworkInstance string `json:"network-instance"`
}

// NextHopAddrsForPrefix unrolls the route that traffic to prefix within the
// VRF vrf uses, which is the longest prefix match covering prefix. Tunnel
// encap next hops are followed to the next hops of their underlay. It
// returns a map of next-hop IP address to a summary of the resolved next-hop.
func NextHopAddrsForPrefix(tx *fib.Txn, vrf oid.ID, prefix netip.Prefix) (map[string]*NextHopSummary, error) {
	rt, err := tx.LookupLPM(vrf, prefix.Addr())
	if err != nil {
		return nil, err
	}
	if rt.Prefix.Bits() > prefix.Bits() {
		return nil, fmt.Errorf("no route covers %s in VRF %s, longest match is %s", prefix, vrf, rt.Prefix)
	}
	if rt.Target == nil {
		return nil, fmt.Errorf("route %s in VRF %s has no next hop, action %s", rt.Prefix, vrf, rt.PacketAction)
	}

	ret := map[string]*NextHopSummary{}
	switch t := rt.Target.(type) {
	case fib.NextHopTarget:
		err = unrollNextHop(tx, ret, t.ID, 1, 0)
	case fib.GroupTarget:
		err = unrollGroup(tx, ret, t.ID, 1, 0)
	}
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func unrollGroup(tx *fib.Txn, ret map[string]*NextHopSummary, id oid.ID, weight uint64, depth int) error {
	g, err := tx.NextHopGroup(id)
	if err != nil {
		return err
	}
	if len(g.Members) == 0 {
		return fmt.Errorf("next-hop group %s has no members", id)
	}
	for _, m := range g.Members {
		if err := unrollNextHop(tx, ret, m.NextHop, weight*uint64(m.Weight), depth); err != nil {
			return err
		}
	}
	return nil
}

func unrollNextHop(tx *fib.Txn, ret map[string]*NextHopSummary, id oid.ID, weight uint64, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("next hop %s is nested more than %d tunnels deep", id, maxDepth)
	}
	nh, err := tx.NextHop(id)
	if err != nil {
		return err
	}
	if nh.Key.Kind == fib.NextHopTunnelEncap {
		switch {
		case !nh.UnderlayNextHop.IsNull():
			return unrollNextHop(tx, ret, nh.UnderlayNextHop, weight, depth+1)
		case !nh.UnderlayGroup.IsNull():
			return unrollGroup(tx, ret, nh.UnderlayGroup, weight, depth+1)
		}
		return fmt.Errorf("tunnel encap next hop %s to %s is unresolved", id, nh.Key.IP)
	}

	addr := nh.Key.IP.String()
	if s, ok := ret[addr]; ok {
		s.Weight += weight
		return nil
	}
	ret[addr] = &NextHopSummary{
		Address:         addr,
		Weight:          weight,
		NetworkInstance: nh.VRF.String(),
	}
	return nil
}
