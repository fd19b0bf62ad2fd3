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

// TunnelInfo is what the FIB needs to know about a tunnel to create a tunnel
// encap next hop through it.
type TunnelInfo struct {
	Type TunnelType
	// UnderlayVRF is the VRF that the tunnel destination is routed in.
	UnderlayVRF oid.ID
}

// Tunnels is the table of tunnels that tunnel encap next hops refer to. It
// is consulted with the FIB lock held.
type Tunnels interface {
	Tunnel(id oid.ID) (TunnelInfo, bool)
}

// TunnelMap is a Tunnels backed by a map. It must not be modified while the
// FIB is in use.
type TunnelMap map[oid.ID]TunnelInfo

// Tunnel implements Tunnels.
func (m TunnelMap) Tunnel(id oid.ID) (TunnelInfo, bool) {
	t, ok := m[id]
	return t, ok
}

// lpm returns the longest prefix route covering ip in v.
func (s *state) lpm(v *vrfNode, ip netip.Addr) ref[routeNode] {
	_, val, err := v.routes[family(ip)].Match(hostNet(ip))
	if err != nil || val == nil {
		return ref[routeNode]{}
	}
	return val.(ref[routeNode])
}

// directNeighbor returns a neighbor for ip on any RIF of v. The key index is
// ordered by address before RIF, so this is a prefix walk.
func (s *state) directNeighbor(v *vrfNode, ip netip.Addr) ref[nhNode] {
	var found ref[nhNode]
	v.nextHops.Allprefixed(NextHopKey{Kind: NextHopIP, IP: ip}.addrPrefix(), func(_ []byte, val interface{}) bool {
		r := val.(ref[nhNode])
		if s.nhs.mustGet(r).Owners.Has(OwnerNeighbor) {
			found = r
			return false
		}
		return true
	})
	return found
}

// resolveRoute records rr as the underlay route of the encap next hop nr.
// It reports whether the resolution changed.
func (s *state) resolveRoute(nr ref[nhNode], rr ref[routeNode]) bool {
	n := s.nhs.mustGet(nr)
	if n.lpmRoute == rr {
		return false
	}
	if old := s.routes.get(n.lpmRoute); old != nil {
		old.depEncap.remove(nr)
	}
	n.lpmRoute = rr
	if rt := s.routes.get(rr); rt != nil {
		rt.depEncap.add(nr)
	}
	return true
}

// resolveNeighbor records nb as the underlay neighbor of the encap next
// hop nr. It reports whether the resolution changed.
func (s *state) resolveNeighbor(nr, nb ref[nhNode]) bool {
	n := s.nhs.mustGet(nr)
	if n.neighbor == nb {
		return false
	}
	if old := s.nhs.get(n.neighbor); old != nil {
		old.depEncap.remove(nr)
	}
	n.neighbor = nb
	if m := s.nhs.get(nb); m != nil {
		m.depEncap.add(nr)
	}
	return true
}

// resolveGroup records gr as the underlay group of the encap next hop nr.
// It reports whether the resolution changed.
func (s *state) resolveGroup(nr ref[nhNode], gr ref[groupNode]) bool {
	n := s.nhs.mustGet(nr)
	if n.underlayGroup == gr {
		return false
	}
	if old := s.groups.get(n.underlayGroup); old != nil {
		old.depEncap.remove(nr)
	}
	n.underlayGroup = gr
	if g := s.groups.get(gr); g != nil {
		g.depEncap.add(nr)
	}
	return true
}

// resolveEncap resolves the tunnel encap next hop nr against its underlay
// VRF. A neighbor for the tunnel destination wins; otherwise the target of
// the longest matching route is used. It reports whether the resolution
// changed.
func (s *state) resolveEncap(nr ref[nhNode]) bool {
	n := s.nhs.mustGet(nr)
	v := s.vrfs.mustGet(n.vrf)
	rr := s.lpm(v, n.Key.IP)

	var (
		nb ref[nhNode]
		gr ref[groupNode]
	)
	if d := s.directNeighbor(v, n.Key.IP); d.valid() {
		nb = d
	} else if rt := s.routes.get(rr); rt != nil {
		nb, gr = rt.nh, rt.group
	}

	changed := s.resolveRoute(nr, rr)
	if s.resolveNeighbor(nr, nb) {
		changed = true
	}
	if s.resolveGroup(nr, gr) {
		changed = true
	}
	return changed
}

// encapsWithin returns the encap next hops in v whose destination is
// covered by p.
func (s *state) encapsWithin(v *vrfNode, p netip.Prefix) []ref[nhNode] {
	var out []ref[nhNode]
	for _, r := range v.encaps.sorted() {
		if p.Contains(s.nhs.mustGet(r).Key.IP) {
			out = append(out, r)
		}
	}
	return out
}

// reResolve resolves each encap next hop in encaps again, telling the
// backend about those whose resolution changed and about the routes that
// target them.
func (t *Txn) reResolve(encaps []ref[nhNode]) {
	s := t.st()
	seen := map[ref[nhNode]]bool{}
	for _, r := range encaps {
		n := s.nhs.get(r)
		if n == nil || seen[r] {
			continue
		}
		seen[r] = true
		if !s.resolveEncap(r) {
			continue
		}
		if n.programmed {
			t.notifySet(s.nhSnapshot(n), maskOf(NextHopAttrUnderlay))
		}
		t.notifyGroups(n)
		for _, rr := range n.depRoutes.sorted() {
			t.notifySet(s.routeSnapshot(s.routes.mustGet(rr)), maskOf(RouteAttrNextHop))
		}
	}
}
