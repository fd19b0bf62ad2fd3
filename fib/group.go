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
	"sort"

	"github.com/openconfig/fibgo/oid"
)

type member struct {
	nh     ref[nhNode]
	weight int
}

type groupNode struct {
	NextHopGroup
	// members are in the order they were first added. A next hop appears
	// at most once, with weight counting how often it was added.
	members []member
	// refCount is the number of routes targeting the group.
	refCount int
	// depEncap are the tunnel encap next hops resolved through the group.
	depEncap refSet[nhNode]
}

func (g *groupNode) memberCount() int {
	c := 0
	for _, m := range g.members {
		c += m.weight
	}
	return c
}

func (s *state) groupSnapshot(g *groupNode) *NextHopGroup {
	c := g.NextHopGroup
	c.Members = make([]GroupMember, 0, len(g.members))
	for _, m := range g.members {
		c.Members = append(c.Members, GroupMember{NextHop: s.nhs.mustGet(m.nh).ID, Weight: m.weight})
	}
	c.MemberCount = g.memberCount()
	c.RefCount = g.refCount
	c.Paths = s.forwardingPaths(g)
	return &c
}

// forwards reports whether traffic can be sent to n as a group member.
func (s *state) forwards(n *nhNode) bool {
	if n.Key.Kind == NextHopTunnelEncap {
		return n.neighbor.valid() || n.underlayGroup.valid()
	}
	return n.Owners.Has(OwnerNeighbor) && n.Neighbor.PacketAction.forwards() && !n.Neighbor.PortUnresolved
}

// forwardingPaths returns the members of g that can forward, each repeated
// by its weight, limited to the maximum number of ECMP paths.
func (s *state) forwardingPaths(g *groupNode) []oid.ID {
	var out []oid.ID
	for _, m := range g.members {
		n := s.nhs.mustGet(m.nh)
		if !s.forwards(n) {
			continue
		}
		for i := 0; i < m.weight && len(out) < s.maxECMPPaths; i++ {
			out = append(out, n.ID)
		}
	}
	return out
}

func (s *state) lookupGroup(id oid.ID) (ref[groupNode], *groupNode, error) {
	if err := checkID(id, oid.NextHopGroup); err != nil {
		return ref[groupNode]{}, nil, err
	}
	r, ok := s.groupByID[id]
	if !ok {
		return ref[groupNode]{}, nil, errorf(NotFound, "next-hop group %s does not exist", id)
	}
	return r, s.groups.mustGet(r), nil
}

// resolveMembers looks up a list of next-hop IDs. Errors carry the position
// of the failing ID.
func (s *state) resolveMembers(ids []oid.ID) ([]ref[nhNode], error) {
	out := make([]ref[nhNode], 0, len(ids))
	for i, id := range ids {
		if !id.Is(oid.NextHop) {
			return nil, attrErrorf(InvalidParameter, i, "%s is not a next-hop ID", id)
		}
		r, ok := s.nhByID[id]
		if !ok {
			return nil, attrErrorf(NotFound, i, "next hop %s does not exist", id)
		}
		if !s.nhs.mustGet(r).Owners.Has(OwnerNextHop) {
			return nil, attrErrorf(InvalidParameter, i, "%s is a neighbor, not a next hop", id)
		}
		out = append(out, r)
	}
	return out, nil
}

// CreateNextHopGroup creates a next-hop group and returns its ID. Members may
// be supplied with GroupAttrNextHopList.
func (t *Txn) CreateNextHopGroup(attrs []Attribute) (oid.ID, error) {
	s := t.st()
	typ := GroupECMP
	var ids []oid.ID
	for i, a := range attrs {
		var err error
		switch a.ID {
		case GroupAttrType:
			if typ, err = attrValue[GroupType](a, i); err == nil && typ != GroupECMP {
				err = attrErrorf(InvalidAttributeValue, i, "unsupported group type %s", typ)
			}
		case GroupAttrNextHopList:
			ids, err = attrValue[[]oid.ID](a, i)
		case GroupAttrNextHopCount:
			err = attrErrorf(InvalidAttribute, i, "group attribute %d is read only", a.ID)
		default:
			err = attrErrorf(AttributeNotSupported, i, "unknown group attribute %d", a.ID)
		}
		if err != nil {
			return 0, err
		}
	}
	members, err := s.resolveMembers(ids)
	if err != nil {
		return 0, err
	}
	switch {
	case len(members) > s.maxECMPPaths:
		return 0, attrErrorf(ResourceExhausted, s.maxECMPPaths, "group would exceed %d paths", s.maxECMPPaths)
	case s.groups.len() >= s.cfg.maxGroups:
		return 0, errorf(ResourceExhausted, "next-hop-group table is full (%d entries)", s.cfg.maxGroups)
	}
	n, err := s.groupAlloc.Next()
	if err != nil {
		if errors.Is(err, oid.ErrExhausted) {
			return 0, errorf(ResourceExhausted, "no free next-hop-group IDs")
		}
		return 0, err
	}
	id := oid.Must(oid.NextHopGroup, n)
	gr := s.groups.insert(groupNode{
		NextHopGroup: NextHopGroup{ID: id, Type: typ},
		depEncap:     refSet[nhNode]{},
	})
	s.groupByID[id] = gr
	for _, m := range members {
		s.attachToGroup(m, gr)
	}
	if err := t.dispatchCreate(s.groupSnapshot(s.groups.mustGet(gr))); err != nil {
		s.dropMembers(gr)
		delete(s.groupByID, id)
		s.groups.remove(gr)
		return 0, err
	}
	return id, nil
}

// dropMembers removes every member link of gr.
func (s *state) dropMembers(gr ref[groupNode]) {
	g := s.groups.mustGet(gr)
	for _, m := range g.members {
		n := s.nhs.mustGet(m.nh)
		n.groups.remove(gr)
		n.depRefs--
	}
	g.members = nil
}

// RemoveNextHopGroup removes the group id. It fails with ObjectInUse while
// routes target the group or tunnel encap next hops are resolved through it.
func (t *Txn) RemoveNextHopGroup(id oid.ID) error {
	s := t.st()
	gr, g, err := s.lookupGroup(id)
	if err != nil {
		return err
	}
	switch {
	case g.refCount > 0:
		return errorf(ObjectInUse, "next-hop group %s is used by %d routes", id, g.refCount)
	case len(g.depEncap) > 0:
		return errorf(ObjectInUse, "next-hop group %s resolves %d tunnel next hops", id, len(g.depEncap))
	}
	snap := s.groupSnapshot(g)
	s.dropMembers(gr)
	delete(s.groupByID, id)
	s.groups.remove(gr)
	t.dispatchRemove(snap)
	return nil
}

// AddGroupMembers adds each next hop in nhs to the group id. A next hop that
// is already a member has its weight incremented. Either all of nhs are
// added or, on error, none are.
func (t *Txn) AddGroupMembers(id oid.ID, nhs []oid.ID) error {
	s := t.st()
	gr, g, err := s.lookupGroup(id)
	if err != nil {
		return err
	}
	refs, err := s.resolveMembers(nhs)
	if err != nil {
		return err
	}
	if c := g.memberCount(); c+len(refs) > s.maxECMPPaths {
		return attrErrorf(ResourceExhausted, s.maxECMPPaths-c, "group %s would exceed %d paths", id, s.maxECMPPaths)
	}
	old, saved := s.groupSnapshot(g), append([]member(nil), g.members...)
	for _, r := range refs {
		s.attachToGroup(r, gr)
	}
	if err := t.dispatchSet(old, s.groupSnapshot(g), maskOf(GroupAttrNextHopList, GroupAttrNextHopCount)); err != nil {
		for i := len(refs) - 1; i >= 0; i-- {
			s.detachFromGroup(refs[i], gr)
		}
		g.members = saved
		return err
	}
	return nil
}

// RemoveGroupMembers removes one unit of weight from the group id for each
// next hop in nhs. Either all of nhs are removed or, on error, none are.
func (t *Txn) RemoveGroupMembers(id oid.ID, nhs []oid.ID) error {
	s := t.st()
	gr, g, err := s.lookupGroup(id)
	if err != nil {
		return err
	}
	refs, err := s.resolveMembers(nhs)
	if err != nil {
		return err
	}
	need := map[ref[nhNode]]int{}
	for i, r := range refs {
		need[r]++
		l := g.findLink(r)
		if l < 0 {
			return attrErrorf(InvalidParameter, i, "next hop %s is not a member of group %s", nhs[i], id)
		}
		if need[r] > g.members[l].weight {
			return attrErrorf(InvalidParameter, i, "next hop %s has weight %d in group %s", nhs[i], g.members[l].weight, id)
		}
	}
	old, saved := s.groupSnapshot(g), append([]member(nil), g.members...)
	for _, r := range refs {
		s.detachFromGroup(r, gr)
	}
	if err := t.dispatchSet(old, s.groupSnapshot(g), maskOf(GroupAttrNextHopList, GroupAttrNextHopCount)); err != nil {
		for _, r := range refs {
			s.attachToGroup(r, gr)
		}
		g.members = saved
		return err
	}
	return nil
}

// SetNextHopGroupAttribute always fails: group attributes are create or read
// only, and membership is changed with AddGroupMembers and
// RemoveGroupMembers.
func (t *Txn) SetNextHopGroupAttribute(id oid.ID, a Attribute) error {
	if _, _, err := t.st().lookupGroup(id); err != nil {
		return err
	}
	switch a.ID {
	case GroupAttrType, GroupAttrNextHopCount, GroupAttrNextHopList:
		return attrErrorf(InvalidAttribute, 0, "group attribute %d cannot be set", a.ID)
	}
	return attrErrorf(AttributeNotSupported, 0, "unknown group attribute %d", a.ID)
}

// GetNextHopGroupAttributes returns the values of the attributes ids of the
// group id.
func (t *Txn) GetNextHopGroupAttributes(id oid.ID, ids []AttrID) ([]Attribute, error) {
	s := t.st()
	_, g, err := s.lookupGroup(id)
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, len(ids))
	for i, a := range ids {
		var val any
		switch a {
		case GroupAttrType:
			val = g.Type
		case GroupAttrNextHopCount:
			val = uint32(g.memberCount())
		case GroupAttrNextHopList:
			var l []oid.ID
			for _, m := range g.members {
				for w := 0; w < m.weight; w++ {
					l = append(l, s.nhs.mustGet(m.nh).ID)
				}
			}
			val = l
		default:
			return nil, attrErrorf(AttributeNotSupported, i, "unknown group attribute %d", a)
		}
		out = append(out, Attribute{ID: a, Value: val})
	}
	return out, nil
}

// NextHopGroup returns a copy of the group id.
func (t *Txn) NextHopGroup(id oid.ID) (*NextHopGroup, error) {
	s := t.st()
	_, g, err := s.lookupGroup(id)
	if err != nil {
		return nil, err
	}
	return s.groupSnapshot(g), nil
}

// NextHopGroups returns copies of all groups, ordered by ID.
func (t *Txn) NextHopGroups() []*NextHopGroup {
	s := t.st()
	out := make([]*NextHopGroup, 0, s.groups.len())
	s.groups.each(func(_ ref[groupNode], g *groupNode) {
		out = append(out, s.groupSnapshot(g))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForwardingPaths returns the members of the group id that traffic can be
// sent to, each repeated by its weight and limited to the maximum number of
// ECMP paths. A member forwards if it is a resolved neighbor whose action is
// Forward or Log, or a resolved tunnel encap next hop.
func (t *Txn) ForwardingPaths(id oid.ID) ([]oid.ID, error) {
	s := t.st()
	_, g, err := s.lookupGroup(id)
	if err != nil {
		return nil, err
	}
	return s.forwardingPaths(g), nil
}

// MaxECMPPaths returns the number of paths a group can hold.
func (t *Txn) MaxECMPPaths() int { return t.st().maxECMPPaths }

// SetMaxECMPPaths changes the number of paths a group can hold. It fails if
// an existing group already holds more than n.
func (t *Txn) SetMaxECMPPaths(n int) error {
	s := t.st()
	if n <= 0 {
		return errorf(InvalidParameter, "invalid maximum ECMP paths %d", n)
	}
	var err error
	s.groups.each(func(_ ref[groupNode], g *groupNode) {
		if c := g.memberCount(); err == nil && c > n {
			err = errorf(InvalidParameter, "next-hop group %s has %d paths", g.ID, c)
		}
	})
	if err != nil {
		return err
	}
	s.maxECMPPaths = n
	return nil
}

// notifyGroups tells the backend about every group that n is a member of,
// after a change to whether n forwards.
func (t *Txn) notifyGroups(n *nhNode) {
	s := t.st()
	for _, gr := range n.groups.sorted() {
		t.notifySet(s.groupSnapshot(s.groups.mustGet(gr)), maskOf(GroupAttrNextHopList))
	}
}
