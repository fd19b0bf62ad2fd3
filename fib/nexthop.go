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
	"net/netip"
	"sort"

	"github.com/openconfig/fibgo/oid"
)

// nhNode is a next hop. There is exactly one nhNode per NextHopKey in a VRF,
// shared by the neighbor and next-hop owners.
type nhNode struct {
	NextHop
	vrf ref[vrfNode]
	// rif is the zero ref for tunnel encap next hops.
	rif ref[rifNode]

	// holds counts outstanding creations per owner, indexed by ownerIndex.
	holds [2]int
	// depRefs counts routes targeting the next hop and groups it is a
	// member of.
	depRefs int
	// programmed is set while the backend holds a next-hop object for the
	// node, which is from the first OwnerNextHop hold until the last one is
	// released.
	programmed bool

	groups    refSet[groupNode]
	depRoutes refSet[routeNode]
	// depEncap are the tunnel encap next hops that resolved this node as
	// their underlay neighbor.
	depEncap refSet[nhNode]
	mac      ref[macEntry]

	// Underlay resolution of a tunnel encap next hop.
	lpmRoute      ref[routeNode]
	neighbor      ref[nhNode]
	underlayGroup ref[groupNode]
}

func ownerIndex(o Owner) int {
	if o == OwnerNeighbor {
		return 0
	}
	return 1
}

func (n *nhNode) refCount() int { return n.holds[0] + n.holds[1] + n.depRefs }

func (n *nhNode) hold(o Owner) {
	n.holds[ownerIndex(o)]++
	n.Owners |= o
}

func (n *nhNode) unhold(o Owner) {
	i := ownerIndex(o)
	if n.holds[i] <= 0 {
		invariantf("next hop %s released by %s more often than created", n.ID, o)
	}
	n.holds[i]--
	if n.holds[i] == 0 {
		n.Owners &^= o
	}
}

func (s *state) nhSnapshot(n *nhNode) *NextHop {
	c := n.NextHop
	c.RefCount = n.refCount()
	c.Neighbor = n.Neighbor.clone()
	if rt := s.routes.get(n.lpmRoute); rt != nil {
		c.UnderlayRoute = rt.Prefix
	}
	if nb := s.nhs.get(n.neighbor); nb != nil {
		c.UnderlayNextHop = nb.ID
	}
	if g := s.groups.get(n.underlayGroup); g != nil {
		c.UnderlayGroup = g.ID
	}
	return &c
}

func (s *state) lookupNextHop(id oid.ID) (ref[nhNode], *nhNode, error) {
	if err := checkID(id, oid.NextHop); err != nil {
		return ref[nhNode]{}, nil, err
	}
	r, ok := s.nhByID[id]
	if !ok {
		return ref[nhNode]{}, nil, errorf(NotFound, "next hop %s does not exist", id)
	}
	return r, s.nhs.mustGet(r), nil
}

// findByKey returns the next hop with key k in the VRF v.
func (s *state) findByKey(v *vrfNode, k NextHopKey) (ref[nhNode], bool) {
	val, ok := v.nextHops.Get(k.bytes())
	if !ok {
		return ref[nhNode]{}, false
	}
	return val.(ref[nhNode]), true
}

// createOrAttach returns the next hop with key k in the VRF vr, adding a
// hold for owner o. A new next hop is created if none exists, in which case
// created is true. rr is the RIF of IP next hops.
func (s *state) createOrAttach(vr ref[vrfNode], rr ref[rifNode], k NextHopKey, tunnel oid.ID, o Owner) (r ref[nhNode], created bool, err error) {
	v := s.vrfs.mustGet(vr)
	if r, ok := s.findByKey(v, k); ok {
		s.nhs.mustGet(r).hold(o)
		return r, false, nil
	}
	if s.nhs.len() >= s.cfg.maxNextHops {
		return r, false, errorf(ResourceExhausted, "next-hop table is full (%d entries)", s.cfg.maxNextHops)
	}
	n, err := s.nhAlloc.Next()
	if err != nil {
		if errors.Is(err, oid.ErrExhausted) {
			return r, false, errorf(ResourceExhausted, "no free next-hop IDs")
		}
		return r, false, err
	}
	node := nhNode{
		NextHop: NextHop{
			ID:     oid.Must(oid.NextHop, n),
			VRF:    v.ID,
			Key:    k,
			Tunnel: tunnel,
		},
		vrf:       vr,
		rif:       rr,
		groups:    refSet[groupNode]{},
		depRoutes: refSet[routeNode]{},
		depEncap:  refSet[nhNode]{},
	}
	node.hold(o)
	r = s.nhs.insert(node)
	s.nhByID[node.ID] = r
	v.nextHops.Insert(k.bytes(), r)
	if rr.valid() {
		s.rifs.mustGet(rr).incRef()
	}
	if k.Kind == NextHopTunnelEncap {
		v.encaps.add(r)
	}
	return r, true, nil
}

// release drops one hold of owner o on r. The next hop is freed once no
// holds or references remain, in which case the tunnel encap next hops
// that were resolved through it are returned for re-resolution. Releasing
// the last OwnerNextHop hold while routes or groups use the next hop fails
// with ObjectInUse.
func (s *state) release(r ref[nhNode], o Owner) (freed bool, deps []ref[nhNode], err error) {
	n := s.nhs.mustGet(r)
	if n.holds[ownerIndex(o)] == 0 {
		return false, nil, errorf(NotFound, "next hop %s is not owned by %s", n.ID, o)
	}
	if o == OwnerNextHop && n.holds[ownerIndex(o)] == 1 && n.depRefs > 0 {
		return false, nil, errorf(ObjectInUse, "next hop %s is used by %d routes and groups", n.ID, n.depRefs)
	}
	n.unhold(o)
	if n.refCount() > 0 {
		return false, nil, nil
	}
	return true, s.freeNextHop(r), nil
}

// freeNextHop unlinks r from every index and removes it.
func (s *state) freeNextHop(r ref[nhNode]) []ref[nhNode] {
	n := s.nhs.mustGet(r)
	if n.depRefs != 0 || len(n.groups) != 0 || len(n.depRoutes) != 0 {
		invariantf("next hop %s freed with %d references", n.ID, n.depRefs)
	}
	v := s.vrfs.mustGet(n.vrf)
	v.nextHops.Delete(n.Key.bytes())
	v.encaps.remove(r)
	if n.rif.valid() {
		s.rifs.mustGet(n.rif).decRef()
	}
	if n.mac.valid() {
		s.macRemoveNeighbor(n.mac, r)
	}
	s.resolveRoute(r, ref[routeNode]{})
	s.resolveNeighbor(r, ref[nhNode]{})
	s.resolveGroup(r, ref[groupNode]{})

	// The dependents keep their now dangling neighbor ref until they are
	// re-resolved, so that the re-resolution sees a change.
	deps := n.depEncap.sorted()
	delete(s.nhByID, n.ID)
	s.nhs.remove(r)
	return deps
}

// findLink returns the position of the member link to nr in g, or -1.
func (g *groupNode) findLink(nr ref[nhNode]) int {
	for i, m := range g.members {
		if m.nh == nr {
			return i
		}
	}
	return -1
}

// attachToGroup adds one unit of weight for nr to g, creating the member
// link if nr is not already a member.
func (s *state) attachToGroup(nr ref[nhNode], gr ref[groupNode]) {
	n, g := s.nhs.mustGet(nr), s.groups.mustGet(gr)
	if i := g.findLink(nr); i >= 0 {
		g.members[i].weight++
		return
	}
	g.members = append(g.members, member{nh: nr, weight: 1})
	n.groups.add(gr)
	n.depRefs++
}

// detachFromGroup removes one unit of weight for nr from g, removing the
// member link when the weight reaches zero. It reports whether nr was a
// member.
func (s *state) detachFromGroup(nr ref[nhNode], gr ref[groupNode]) bool {
	g := s.groups.mustGet(gr)
	i := g.findLink(nr)
	if i < 0 {
		return false
	}
	g.members[i].weight--
	if g.members[i].weight > 0 {
		return true
	}
	g.members = append(g.members[:i], g.members[i+1:]...)
	n := s.nhs.mustGet(nr)
	n.groups.remove(gr)
	n.depRefs--
	if n.depRefs < 0 {
		invariantf("reference count of next hop %s decremented below zero", n.ID)
	}
	return true
}

// CreateNextHop creates a next hop, or adds a reference to the existing next
// hop with the same key, and returns its ID. NextHopAttrType and
// NextHopAttrIP are mandatory, as is NextHopAttrRIF for IP next hops and
// NextHopAttrTunnel for tunnel encap next hops.
func (t *Txn) CreateNextHop(attrs []Attribute) (oid.ID, error) {
	s := t.st()
	var (
		kind             NextHopKind
		ip               netip.Addr
		rifID, tunID     oid.ID
		rifIdx, tunIdx   = -1, -1
		haveKind, haveIP bool
		err              error
	)
	for i, a := range attrs {
		switch a.ID {
		case NextHopAttrType:
			if kind, err = attrValue[NextHopKind](a, i); err != nil {
				return 0, err
			}
			if kind != NextHopIP && kind != NextHopTunnelEncap {
				return 0, attrErrorf(InvalidAttributeValue, i, "unsupported next-hop type %s", kind)
			}
			haveKind = true
		case NextHopAttrIP:
			if ip, err = addrValue(a, i); err != nil {
				return 0, err
			}
			haveIP = true
		case NextHopAttrRIF:
			if rifID, err = idValue(a, i, oid.RouterInterface); err != nil {
				return 0, err
			}
			rifIdx = i
		case NextHopAttrTunnel:
			if tunID, err = idValue(a, i, oid.Tunnel); err != nil {
				return 0, err
			}
			tunIdx = i
		case NextHopAttrOwners, NextHopAttrUnderlay, NextHopAttrNeighbor:
			return 0, attrErrorf(InvalidAttribute, i, "next-hop attribute %d is read only", a.ID)
		default:
			return 0, attrErrorf(AttributeNotSupported, i, "unknown next-hop attribute %d", a.ID)
		}
	}
	switch {
	case !haveKind:
		return 0, errorf(InvalidParameter, "mandatory attribute NextHopAttrType missing")
	case !haveIP:
		return 0, errorf(InvalidParameter, "mandatory attribute NextHopAttrIP missing")
	}

	var (
		vr  ref[vrfNode]
		rr  ref[rifNode]
		key = NextHopKey{Kind: kind, IP: ip}
	)
	switch kind {
	case NextHopIP:
		if rifIdx < 0 {
			return 0, errorf(InvalidParameter, "mandatory attribute NextHopAttrRIF missing")
		}
		var ok bool
		if rr, ok = s.rifByID[rifID]; !ok {
			return 0, attrErrorf(InvalidAttributeValue, rifIdx, "router interface %s does not exist", rifID)
		}
		vr = s.rifs.mustGet(rr).vrf
		key.RIF = rifID
	case NextHopTunnelEncap:
		if tunIdx < 0 {
			return 0, errorf(InvalidParameter, "mandatory attribute NextHopAttrTunnel missing")
		}
		info, ok := s.cfg.tunnels.Tunnel(tunID)
		if !ok {
			return 0, attrErrorf(InvalidAttributeValue, tunIdx, "tunnel %s does not exist", tunID)
		}
		if vr, ok = s.vrfByID[info.UnderlayVRF]; !ok {
			return 0, attrErrorf(InvalidAttributeValue, tunIdx, "underlay VRF %s of tunnel %s does not exist", info.UnderlayVRF, tunID)
		}
		key.TunnelType = info.Type
	}

	r, created, err := s.createOrAttach(vr, rr, key, tunID, OwnerNextHop)
	if err != nil {
		return 0, err
	}
	n := s.nhs.mustGet(r)
	if n.programmed {
		return n.ID, nil
	}
	n.programmed = true
	if created && kind == NextHopTunnelEncap {
		s.resolveEncap(r)
	}
	if err := t.dispatchCreate(s.nhSnapshot(n)); err != nil {
		n.programmed = false
		if _, _, rerr := s.release(r, OwnerNextHop); rerr != nil {
			invariantf("cannot roll back creation of next hop %s, %v", n.ID, rerr)
		}
		return 0, err
	}
	return n.ID, nil
}

// RemoveNextHop releases one reference to the next hop id, as taken by
// CreateNextHop. When the last reference is released the next hop is
// removed from the backend. It fails with ObjectInUse if that would leave a
// route or group pointing at a removed next hop.
func (t *Txn) RemoveNextHop(id oid.ID) error {
	s := t.st()
	r, n, err := s.lookupNextHop(id)
	if err != nil {
		return err
	}
	if !n.Owners.Has(OwnerNextHop) {
		return errorf(NotFound, "next hop %s does not exist", id)
	}
	last := n.holds[ownerIndex(OwnerNextHop)] == 1
	snap := s.nhSnapshot(n)
	freed, deps, err := s.release(r, OwnerNextHop)
	if err != nil {
		return err
	}
	if last {
		if !freed {
			n.programmed = false
		}
		snap.Owners &^= OwnerNextHop
		snap.RefCount--
		t.dispatchRemove(snap)
	}
	t.reResolve(deps)
	return nil
}

// SetNextHopAttribute always fails: next-hop attributes are create only.
func (t *Txn) SetNextHopAttribute(id oid.ID, a Attribute) error {
	if _, _, err := t.st().lookupNextHop(id); err != nil {
		return err
	}
	switch a.ID {
	case NextHopAttrType, NextHopAttrIP, NextHopAttrRIF, NextHopAttrTunnel, NextHopAttrOwners, NextHopAttrUnderlay, NextHopAttrNeighbor:
		return attrErrorf(InvalidAttribute, 0, "next-hop attribute %d cannot be set", a.ID)
	}
	return attrErrorf(AttributeNotSupported, 0, "unknown next-hop attribute %d", a.ID)
}

// GetNextHopAttributes returns the values of the attributes ids of the next
// hop id.
func (t *Txn) GetNextHopAttributes(id oid.ID, ids []AttrID) ([]Attribute, error) {
	_, n, err := t.st().lookupNextHop(id)
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, len(ids))
	for i, a := range ids {
		var val any
		switch {
		case a == NextHopAttrType:
			val = n.Key.Kind
		case a == NextHopAttrIP:
			val = n.Key.IP
		case a == NextHopAttrRIF && n.Key.Kind == NextHopIP:
			val = n.Key.RIF
		case a == NextHopAttrTunnel && n.Key.Kind == NextHopTunnelEncap:
			val = n.Tunnel
		case a == NextHopAttrOwners:
			val = n.Owners
		case a == NextHopAttrUnderlay && n.Key.Kind == NextHopTunnelEncap:
			snap := t.st().nhSnapshot(n)
			val = Underlay{Route: snap.UnderlayRoute, NextHop: snap.UnderlayNextHop, Group: snap.UnderlayGroup}
		case a == NextHopAttrNeighbor && n.Owners.Has(OwnerNeighbor):
			val = n.Neighbor.clone()
		case a == NextHopAttrRIF, a == NextHopAttrTunnel, a == NextHopAttrUnderlay:
			return nil, attrErrorf(InvalidAttribute, i, "next-hop attribute %d is not readable on a %s next hop", a, n.Key.Kind)
		case a == NextHopAttrNeighbor:
			return nil, attrErrorf(InvalidAttribute, i, "next hop %s has no neighbor", id)
		default:
			return nil, attrErrorf(AttributeNotSupported, i, "unknown next-hop attribute %d", a)
		}
		out = append(out, Attribute{ID: a, Value: val})
	}
	return out, nil
}

// NextHop returns a copy of the next hop id.
func (t *Txn) NextHop(id oid.ID) (*NextHop, error) {
	s := t.st()
	_, n, err := s.lookupNextHop(id)
	if err != nil {
		return nil, err
	}
	return s.nhSnapshot(n), nil
}

// FindNextHop returns a copy of the next hop with key k in the VRF vrf.
func (t *Txn) FindNextHop(vrf oid.ID, k NextHopKey) (*NextHop, error) {
	s := t.st()
	_, v, err := s.lookupVRF(vrf)
	if err != nil {
		return nil, err
	}
	k.IP = k.IP.Unmap()
	r, ok := s.findByKey(v, k)
	if !ok {
		return nil, errorf(NotFound, "no %s next hop to %s in VRF %s", k.Kind, k.IP, vrf)
	}
	return s.nhSnapshot(s.nhs.mustGet(r)), nil
}

// NextHops returns copies of all next hops, ordered by ID.
func (t *Txn) NextHops() []*NextHop {
	s := t.st()
	out := make([]*NextHop, 0, s.nhs.len())
	s.nhs.each(func(_ ref[nhNode], n *nhNode) {
		out = append(out, s.nhSnapshot(n))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
