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
	"net"
	"net/netip"
	"sort"

	"github.com/openconfig/fibgo/oid"
)

func neighborSnapshot(n *nhNode) *Neighbor {
	return &Neighbor{
		RIF:           n.Key.RIF,
		IP:            n.Key.IP,
		NextHop:       n.ID,
		NeighborState: n.Neighbor.clone(),
	}
}

// lookupNeighbor returns the neighbor for ip on the RIF rif.
func (s *state) lookupNeighbor(rif oid.ID, ip netip.Addr) (ref[nhNode], *nhNode, error) {
	_, r, err := s.lookupRIF(rif)
	if err != nil {
		return ref[nhNode]{}, nil, err
	}
	if !ip.IsValid() {
		return ref[nhNode]{}, nil, errorf(InvalidParameter, "invalid neighbor address")
	}
	ip = ip.Unmap()
	nr, ok := s.findByKey(s.vrfs.mustGet(r.vrf), NextHopKey{Kind: NextHopIP, RIF: rif, IP: ip})
	if ok {
		if n := s.nhs.mustGet(nr); n.Owners.Has(OwnerNeighbor) {
			return nr, n, nil
		}
	}
	return ref[nhNode]{}, nil, errorf(NotFound, "no neighbor %s on RIF %s", ip, rif)
}

func portValue(a Attribute, idx int) (oid.ID, error) {
	id, err := attrValue[oid.ID](a, idx)
	if err != nil {
		return 0, err
	}
	if !id.Is(oid.Port) && !id.Is(oid.LAG) {
		return 0, attrErrorf(InvalidAttributeValue, idx, "%s is not a port or LAG", id)
	}
	return id, nil
}

func applyNeighborAttr(ns *NeighborState, a Attribute, idx int) error {
	var err error
	switch a.ID {
	case NeighborAttrDstMAC:
		ns.MAC, err = macValue(a, idx)
	case NeighborAttrPacketAction:
		ns.PacketAction, err = actionValue(a, idx)
	case NeighborAttrNoHostRoute:
		ns.NoHostRoute, err = attrValue[bool](a, idx)
	case NeighborAttrMetaData:
		ns.MetaData, err = attrValue[uint32](a, idx)
	case NeighborAttrPort:
		if ns.Port, err = portValue(a, idx); err == nil {
			ns.PortUnresolved = false
		}
	default:
		err = attrErrorf(AttributeNotSupported, idx, "unknown neighbor attribute %d", a.ID)
	}
	return err
}

// CreateNeighbor creates the neighbor for ip on the RIF rif. The neighbor
// shares its next hop with any next hop of the same key. NeighborAttrDstMAC
// is mandatory. On port and LAG RIFs the egress port is the attachment; on
// VLAN and bridge RIFs it is NeighborAttrPort, and the neighbor is
// port-unresolved without one.
func (t *Txn) CreateNeighbor(rif oid.ID, ip netip.Addr, attrs []Attribute) error {
	s := t.st()
	rr, r, err := s.lookupRIF(rif)
	if err != nil {
		return err
	}
	if !ip.IsValid() {
		return errorf(InvalidParameter, "invalid neighbor address")
	}
	ip = ip.Unmap()

	ns := NeighborState{PacketAction: Forward}
	haveMAC := false
	for i, a := range attrs {
		if err := applyNeighborAttr(&ns, a, i); err != nil {
			return err
		}
		haveMAC = haveMAC || a.ID == NeighborAttrDstMAC
	}
	if !haveMAC {
		return errorf(InvalidParameter, "mandatory attribute NeighborAttrDstMAC missing")
	}
	switch att := r.Attachment.(type) {
	case PortAttachment:
		ns.Port = att.Port
	case LAGAttachment:
		ns.Port = att.LAG
	default:
		ns.PortUnresolved = ns.Port.IsNull()
	}

	v := s.vrfs.mustGet(r.vrf)
	key := NextHopKey{Kind: NextHopIP, RIF: rif, IP: ip}
	if nr, ok := s.findByKey(v, key); ok && s.nhs.mustGet(nr).Owners.Has(OwnerNeighbor) {
		return errorf(AlreadyExists, "neighbor %s on RIF %s already exists", ip, rif)
	}
	nr, _, err := s.createOrAttach(r.vrf, rr, key, 0, OwnerNeighbor)
	if err != nil {
		return err
	}
	n := s.nhs.mustGet(nr)
	n.Neighbor = ns
	s.numNeighbors++
	vlan, isVLAN := r.vlan()
	if isVLAN {
		s.macAddNeighbor(vlan, ns.MAC, nr)
	}
	if err := t.dispatchCreate(neighborSnapshot(n)); err != nil {
		if isVLAN {
			s.macRemoveNeighbor(n.mac, nr)
		}
		s.numNeighbors--
		n.Neighbor = NeighborState{}
		if _, _, rerr := s.release(nr, OwnerNeighbor); rerr != nil {
			invariantf("cannot roll back creation of neighbor %s, %v", ip, rerr)
		}
		return err
	}

	if n.programmed {
		t.notifySet(s.nhSnapshot(n), maskOf(NextHopAttrOwners, NextHopAttrNeighbor))
	}
	t.notifyGroups(n)
	var encaps []ref[nhNode]
	for _, e := range v.encaps.sorted() {
		if s.nhs.mustGet(e).Key.IP == ip {
			encaps = append(encaps, e)
		}
	}
	t.reResolve(encaps)
	return nil
}

// RemoveNeighbor removes the neighbor for ip on the RIF rif. The shared next
// hop survives while it is still a next-hop object.
func (t *Txn) RemoveNeighbor(rif oid.ID, ip netip.Addr) error {
	s := t.st()
	nr, n, err := s.lookupNeighbor(rif, ip)
	if err != nil {
		return err
	}
	snap := neighborSnapshot(n)
	if n.mac.valid() {
		s.macRemoveNeighbor(n.mac, nr)
	}
	n.Neighbor = NeighborState{}
	s.numNeighbors--
	deps := n.depEncap.sorted()
	freed, freedDeps, err := s.release(nr, OwnerNeighbor)
	if err != nil {
		invariantf("cannot release neighbor %s, %v", snap.IP, err)
	}
	t.dispatchRemove(snap)
	if freed {
		t.reResolve(freedDeps)
		return nil
	}
	if n.programmed {
		t.notifySet(s.nhSnapshot(n), maskOf(NextHopAttrOwners, NextHopAttrNeighbor))
	}
	t.notifyGroups(n)
	t.reResolve(deps)
	return nil
}

// SetNeighborAttribute changes one attribute of the neighbor for ip on the
// RIF rif.
func (t *Txn) SetNeighborAttribute(rif oid.ID, ip netip.Addr, a Attribute) error {
	s := t.st()
	nr, n, err := s.lookupNeighbor(rif, ip)
	if err != nil {
		return err
	}
	ns := n.Neighbor.clone()
	if err := applyNeighborAttr(&ns, a, 0); err != nil {
		return err
	}
	old, saved := neighborSnapshot(n), n.Neighbor
	remac := n.mac.valid() && a.ID == NeighborAttrDstMAC
	move := func(mac net.HardwareAddr) {
		vlan := s.macs.mustGet(n.mac).VLAN
		s.macRemoveNeighbor(n.mac, nr)
		s.macAddNeighbor(vlan, mac, nr)
	}
	n.Neighbor = ns
	if remac {
		move(ns.MAC)
	}
	if err := t.dispatchSet(old, neighborSnapshot(n), maskOf(a.ID)); err != nil {
		if remac {
			move(saved.MAC)
		}
		n.Neighbor = saved
		return err
	}
	t.neighborChanged(n)
	return nil
}

// neighborChanged tells the backend about the next hop and groups that use
// the neighbor state of n.
func (t *Txn) neighborChanged(n *nhNode) {
	if n.programmed {
		t.notifySet(t.st().nhSnapshot(n), maskOf(NextHopAttrNeighbor))
	}
	t.notifyGroups(n)
}

// GetNeighborAttributes returns the values of the attributes ids of the
// neighbor for ip on the RIF rif.
func (t *Txn) GetNeighborAttributes(rif oid.ID, ip netip.Addr, ids []AttrID) ([]Attribute, error) {
	_, n, err := t.st().lookupNeighbor(rif, ip)
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, len(ids))
	for i, a := range ids {
		var val any
		switch a {
		case NeighborAttrDstMAC:
			val = cloneMAC(n.Neighbor.MAC)
		case NeighborAttrPacketAction:
			val = n.Neighbor.PacketAction
		case NeighborAttrNoHostRoute:
			val = n.Neighbor.NoHostRoute
		case NeighborAttrMetaData:
			val = n.Neighbor.MetaData
		case NeighborAttrPort:
			val = n.Neighbor.Port
		default:
			return nil, attrErrorf(AttributeNotSupported, i, "unknown neighbor attribute %d", a)
		}
		out = append(out, Attribute{ID: a, Value: val})
	}
	return out, nil
}

// Neighbor returns a copy of the neighbor for ip on the RIF rif.
func (t *Txn) Neighbor(rif oid.ID, ip netip.Addr) (*Neighbor, error) {
	_, n, err := t.st().lookupNeighbor(rif, ip)
	if err != nil {
		return nil, err
	}
	return neighborSnapshot(n), nil
}

// Neighbors returns copies of all neighbors, ordered by RIF and then address.
func (t *Txn) Neighbors() []*Neighbor {
	s := t.st()
	var out []*Neighbor
	s.nhs.each(func(_ ref[nhNode], n *nhNode) {
		if n.Owners.Has(OwnerNeighbor) {
			out = append(out, neighborSnapshot(n))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].RIF != out[j].RIF {
			return out[i].RIF < out[j].RIF
		}
		return out[i].IP.Less(out[j].IP)
	})
	return out
}

// MACNeighbors returns copies of the neighbors on VLAN RIFs that are
// resolved to mac on vlan.
func (t *Txn) MACNeighbors(vlan uint16, mac net.HardwareAddr) []*Neighbor {
	s := t.st()
	var out []*Neighbor
	for _, nr := range s.macNeighbors(vlan, mac) {
		out = append(out, neighborSnapshot(s.nhs.mustGet(nr)))
	}
	return out
}

// MoveMAC sets the egress port of every neighbor resolved to mac on vlan,
// as when the MAC is learnt on a new port. It returns the number of
// neighbors updated.
func (t *Txn) MoveMAC(vlan uint16, mac net.HardwareAddr, port oid.ID) (int, error) {
	if !port.Is(oid.Port) && !port.Is(oid.LAG) {
		return 0, errorf(InvalidParameter, "%s is not a port or LAG", port)
	}
	return t.updateMAC(vlan, mac, func(ns *NeighborState) {
		ns.Port, ns.PortUnresolved = port, false
	})
}

// InvalidateMAC marks every neighbor resolved to mac on vlan as
// port-unresolved, as when the MAC is flushed. It returns the number of
// neighbors updated.
func (t *Txn) InvalidateMAC(vlan uint16, mac net.HardwareAddr) (int, error) {
	return t.updateMAC(vlan, mac, func(ns *NeighborState) {
		ns.Port, ns.PortUnresolved = 0, true
	})
}

func (t *Txn) updateMAC(vlan uint16, mac net.HardwareAddr, fn func(*NeighborState)) (int, error) {
	if len(mac) != 6 {
		return 0, errorf(InvalidParameter, "invalid MAC address %s", mac)
	}
	s := t.st()
	nrs := s.macNeighbors(vlan, mac)
	for _, nr := range nrs {
		n := s.nhs.mustGet(nr)
		fn(&n.Neighbor)
		t.notifySet(neighborSnapshot(n), maskOf(NeighborAttrPort))
		t.neighborChanged(n)
	}
	return len(nrs), nil
}
