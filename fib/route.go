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
	"sort"

	"github.com/openconfig/fibgo/oid"
)

// routeNode is a route. Its target is at most one of nh and group.
type routeNode struct {
	Route
	vrf   ref[vrfNode]
	nh    ref[nhNode]
	group ref[groupNode]
	// depEncap are the tunnel encap next hops whose longest matching
	// underlay route this is.
	depEncap refSet[nhNode]
}

func (s *state) routeSnapshot(rt *routeNode) *Route {
	c := rt.Route
	switch {
	case rt.nh.valid():
		c.Target = NextHopTarget{ID: s.nhs.mustGet(rt.nh).ID}
	case rt.group.valid():
		c.Target = GroupTarget{ID: s.groups.mustGet(rt.group).ID}
	default:
		c.Target = nil
	}
	c.NumDependents = len(rt.depEncap)
	return &c
}

// routeVals are the settable fields of a route.
type routeVals struct {
	action PacketAction
	prio   uint8
	meta   uint32
	nh     ref[nhNode]
	group  ref[groupNode]
}

func (rt *routeNode) vals() routeVals {
	return routeVals{action: rt.PacketAction, prio: rt.TrapPriority, meta: rt.MetaData, nh: rt.nh, group: rt.group}
}

// applyRouteAttr parses a into rv.
func (s *state) applyRouteAttr(rv *routeVals, a Attribute, idx int) error {
	var err error
	switch a.ID {
	case RouteAttrPacketAction:
		rv.action, err = actionValue(a, idx)
	case RouteAttrTrapPriority:
		rv.prio, err = attrValue[uint8](a, idx)
	case RouteAttrMetaData:
		rv.meta, err = attrValue[uint32](a, idx)
	case RouteAttrNextHop:
		var id oid.ID
		if id, err = attrValue[oid.ID](a, idx); err != nil {
			return err
		}
		rv.nh, rv.group, err = s.parseTarget(id, idx)
	default:
		err = attrErrorf(AttributeNotSupported, idx, "unknown route attribute %d", a.ID)
	}
	return err
}

// parseTarget resolves a route target ID, which may name a next hop or a
// next-hop group. The null ID is no target.
func (s *state) parseTarget(id oid.ID, idx int) (ref[nhNode], ref[groupNode], error) {
	switch {
	case id.IsNull():
		return ref[nhNode]{}, ref[groupNode]{}, nil
	case id.Is(oid.NextHop):
		r, ok := s.nhByID[id]
		if !ok || !s.nhs.mustGet(r).Owners.Has(OwnerNextHop) {
			return ref[nhNode]{}, ref[groupNode]{}, attrErrorf(InvalidAttributeValue, idx, "next hop %s does not exist", id)
		}
		return r, ref[groupNode]{}, nil
	case id.Is(oid.NextHopGroup):
		r, ok := s.groupByID[id]
		if !ok {
			return ref[nhNode]{}, ref[groupNode]{}, attrErrorf(InvalidAttributeValue, idx, "next-hop group %s does not exist", id)
		}
		return ref[nhNode]{}, r, nil
	}
	return ref[nhNode]{}, ref[groupNode]{}, attrErrorf(InvalidAttributeValue, idx, "%s is not a next hop or next-hop group", id)
}

func checkRouteVals(rv routeVals) error {
	if rv.action.forwards() && !rv.nh.valid() && !rv.group.valid() {
		return errorf(InvalidParameter, "a route with action %s needs a next hop", rv.action)
	}
	return nil
}

// acquire links the route rr to its target.
func (s *state) acquire(rr ref[routeNode], nh ref[nhNode], gr ref[groupNode]) {
	if n := s.nhs.get(nh); n != nil {
		n.depRefs++
		n.depRoutes.add(rr)
	}
	if g := s.groups.get(gr); g != nil {
		g.refCount++
	}
}

// releaseTarget unlinks the route rr from a target it acquired.
func (s *state) releaseTarget(rr ref[routeNode], nh ref[nhNode], gr ref[groupNode]) {
	if nh.valid() {
		n := s.nhs.mustGet(nh)
		n.depRefs--
		n.depRoutes.remove(rr)
		if n.depRefs < 0 {
			invariantf("reference count of next hop %s decremented below zero", n.ID)
		}
	}
	if gr.valid() {
		g := s.groups.mustGet(gr)
		g.refCount--
		if g.refCount < 0 {
			invariantf("reference count of next-hop group %s decremented below zero", g.ID)
		}
	}
}

// lookupRoute returns the route for prefix p in v, where p is canonical.
func (s *state) lookupRoute(v *vrfNode, p netip.Prefix) (ref[routeNode], bool) {
	val, ok, err := v.routes[family(p.Addr())].Get(ipNet(p))
	if err != nil || !ok {
		return ref[routeNode]{}, false
	}
	return val.(ref[routeNode]), true
}

func routeKey(vrf oid.ID, prefix netip.Prefix) (netip.Prefix, error) {
	p, ok := canonicalPrefix(prefix)
	if !ok {
		return netip.Prefix{}, errorf(InvalidParameter, "invalid prefix %s for VRF %s", prefix, vrf)
	}
	return p, nil
}

// CreateRoute creates the route for prefix in the VRF vrf, or updates it in
// place if it already exists. Attributes that are absent from attrs keep
// their current value on update. The returned mask holds the attributes
// whose value changed, and is every attribute for a new route.
//
// Host bits of prefix are ignored.
func (t *Txn) CreateRoute(vrf oid.ID, prefix netip.Prefix, attrs []Attribute) (AttrMask, error) {
	s := t.st()
	vr, v, err := s.lookupVRF(vrf)
	if err != nil {
		return 0, err
	}
	p, err := routeKey(vrf, prefix)
	if err != nil {
		return 0, err
	}
	existing, found := s.lookupRoute(v, p)

	rv := routeVals{action: Forward}
	if found {
		rv = s.routes.mustGet(existing).vals()
	}
	for i, a := range attrs {
		if err := s.applyRouteAttr(&rv, a, i); err != nil {
			return 0, err
		}
	}
	if err := checkRouteVals(rv); err != nil {
		return 0, err
	}
	if found {
		return t.updateRoute(existing, rv)
	}

	rr := s.routes.insert(routeNode{
		Route:    Route{VRF: vrf, Prefix: p},
		vrf:      vr,
		depEncap: refSet[nhNode]{},
	})
	rt := s.routes.mustGet(rr)
	rt.PacketAction, rt.TrapPriority, rt.MetaData, rt.nh, rt.group = rv.action, rv.prio, rv.meta, rv.nh, rv.group
	if err := v.routes[family(p.Addr())].Add(ipNet(p), rr); err != nil {
		s.routes.remove(rr)
		return 0, errorf(InvalidParameter, "cannot insert route %s, %v", p, err)
	}
	s.acquire(rr, rv.nh, rv.group)
	if err := t.dispatchCreate(s.routeSnapshot(rt)); err != nil {
		s.releaseTarget(rr, rv.nh, rv.group)
		v.routes[family(p.Addr())].Delete(ipNet(p))
		s.routes.remove(rr)
		return 0, err
	}
	t.reResolve(s.encapsWithin(v, p))
	return maskOf(RouteAttrPacketAction, RouteAttrTrapPriority, RouteAttrNextHop, RouteAttrMetaData), nil
}

// updateRoute changes the route rr to rv in place. The new target is
// acquired before the old one is released.
func (t *Txn) updateRoute(rr ref[routeNode], rv routeVals) (AttrMask, error) {
	s := t.st()
	rt := s.routes.mustGet(rr)
	was := rt.vals()
	var changed AttrMask
	if rv.action != was.action {
		changed |= maskOf(RouteAttrPacketAction)
	}
	if rv.prio != was.prio {
		changed |= maskOf(RouteAttrTrapPriority)
	}
	if rv.meta != was.meta {
		changed |= maskOf(RouteAttrMetaData)
	}
	retarget := rv.nh != was.nh || rv.group != was.group
	if retarget {
		changed |= maskOf(RouteAttrNextHop)
	}
	if changed == 0 {
		return 0, nil
	}

	old := s.routeSnapshot(rt)
	set := func(v routeVals) {
		rt.PacketAction, rt.TrapPriority, rt.MetaData, rt.nh, rt.group = v.action, v.prio, v.meta, v.nh, v.group
	}
	if retarget {
		s.acquire(rr, rv.nh, rv.group)
		s.releaseTarget(rr, was.nh, was.group)
	}
	set(rv)
	if err := t.dispatchSet(old, s.routeSnapshot(rt), changed); err != nil {
		if retarget {
			s.acquire(rr, was.nh, was.group)
			s.releaseTarget(rr, rv.nh, rv.group)
		}
		set(was)
		return 0, err
	}
	if retarget {
		t.reResolve(rt.depEncap.sorted())
	}
	return changed, nil
}

// RemoveRoute removes the route for prefix in the VRF vrf. Tunnel encap next
// hops that were resolved through the route are resolved again against the
// remaining routes.
func (t *Txn) RemoveRoute(vrf oid.ID, prefix netip.Prefix) error {
	s := t.st()
	_, v, err := s.lookupVRF(vrf)
	if err != nil {
		return err
	}
	p, err := routeKey(vrf, prefix)
	if err != nil {
		return err
	}
	rr, ok := s.lookupRoute(v, p)
	if !ok {
		return errorf(NotFound, "no route %s in VRF %s", p, vrf)
	}
	rt := s.routes.mustGet(rr)
	snap, deps := s.routeSnapshot(rt), rt.depEncap.sorted()
	v.routes[family(p.Addr())].Delete(ipNet(p))
	s.releaseTarget(rr, rt.nh, rt.group)
	s.routes.remove(rr)
	t.dispatchRemove(snap)
	t.reResolve(deps)
	return nil
}

// SetRouteAttribute changes one attribute of the route for prefix in the
// VRF vrf.
func (t *Txn) SetRouteAttribute(vrf oid.ID, prefix netip.Prefix, a Attribute) error {
	s := t.st()
	_, v, err := s.lookupVRF(vrf)
	if err != nil {
		return err
	}
	p, err := routeKey(vrf, prefix)
	if err != nil {
		return err
	}
	rr, ok := s.lookupRoute(v, p)
	if !ok {
		return errorf(NotFound, "no route %s in VRF %s", p, vrf)
	}
	rv := s.routes.mustGet(rr).vals()
	if err := s.applyRouteAttr(&rv, a, 0); err != nil {
		return err
	}
	if err := checkRouteVals(rv); err != nil {
		return err
	}
	_, err = t.updateRoute(rr, rv)
	return err
}

// GetRouteAttributes returns the values of the attributes ids of the route
// for prefix in the VRF vrf.
func (t *Txn) GetRouteAttributes(vrf oid.ID, prefix netip.Prefix, ids []AttrID) ([]Attribute, error) {
	r, err := t.LookupExact(vrf, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, len(ids))
	for i, a := range ids {
		var val any
		switch a {
		case RouteAttrPacketAction:
			val = r.PacketAction
		case RouteAttrTrapPriority:
			val = r.TrapPriority
		case RouteAttrNextHop:
			val = targetID(r.Target)
		case RouteAttrMetaData:
			val = r.MetaData
		default:
			return nil, attrErrorf(AttributeNotSupported, i, "unknown route attribute %d", a)
		}
		out = append(out, Attribute{ID: a, Value: val})
	}
	return out, nil
}

// LookupExact returns a copy of the route for prefix in the VRF vrf.
func (t *Txn) LookupExact(vrf oid.ID, prefix netip.Prefix) (*Route, error) {
	s := t.st()
	_, v, err := s.lookupVRF(vrf)
	if err != nil {
		return nil, err
	}
	p, err := routeKey(vrf, prefix)
	if err != nil {
		return nil, err
	}
	rr, ok := s.lookupRoute(v, p)
	if !ok {
		return nil, errorf(NotFound, "no route %s in VRF %s", p, vrf)
	}
	return s.routeSnapshot(s.routes.mustGet(rr)), nil
}

// LookupLPM returns a copy of the route with the longest prefix covering
// addr in the VRF vrf.
func (t *Txn) LookupLPM(vrf oid.ID, addr netip.Addr) (*Route, error) {
	s := t.st()
	_, v, err := s.lookupVRF(vrf)
	if err != nil {
		return nil, err
	}
	if !addr.IsValid() {
		return nil, errorf(InvalidParameter, "invalid address")
	}
	addr = addr.Unmap()
	rt := s.routes.get(s.lpm(v, addr))
	if rt == nil {
		return nil, errorf(NotFound, "no route to %s in VRF %s", addr, vrf)
	}
	return s.routeSnapshot(rt), nil
}

// Routes returns copies of the routes in the VRF vrf, IPv4 before IPv6 and
// ordered by prefix within a family.
func (t *Txn) Routes(vrf oid.ID) ([]*Route, error) {
	s := t.st()
	vr, _, err := s.lookupVRF(vrf)
	if err != nil {
		return nil, err
	}
	var out []*Route
	s.routes.each(func(_ ref[routeNode], rt *routeNode) {
		if rt.vrf == vr {
			out = append(out, s.routeSnapshot(rt))
		}
	})
	sort.Slice(out, func(i, j int) bool { return lessPrefix(out[i].Prefix, out[j].Prefix) })
	return out, nil
}

func lessPrefix(a, b netip.Prefix) bool {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c < 0
	}
	return a.Bits() < b.Bits()
}
