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

// Software indices of RIFs. VLAN RIFs use the VLAN ID, LAG and port RIFs are
// offset past the VLAN range, and bridge RIFs are allocated above the ports.
const (
	maxVLANs = 4096
	maxLAGs  = 256
	lagBase  = maxVLANs
	portBase = maxVLANs + maxLAGs

	// DefaultMTU is the MTU of a RIF created without one.
	DefaultMTU = 1514
)

func (s *state) bridgeBase() uint64 { return portBase + uint64(s.cfg.maxPorts) }

type rifNode struct {
	RouterInterface
	vrf ref[vrfNode]
}

func (r *rifNode) snapshot() *RouterInterface {
	c := r.RouterInterface
	c.SrcMAC = cloneMAC(r.SrcMAC)
	return &c
}

func (r *rifNode) incRef() { r.RefCount++ }

func (r *rifNode) decRef() {
	if r.RefCount <= 0 {
		invariantf("reference count of RIF %s decremented below zero", r.ID)
	}
	r.RefCount--
}

// vlan returns the VLAN of a VLAN RIF.
func (r *rifNode) vlan() (uint16, bool) {
	v, ok := r.Attachment.(VLANAttachment)
	return v.VLAN, ok
}

// rifIndex derives the software index of a RIF from its attachment. idx is
// the position of the attachment in the attribute list.
func (s *state) rifIndex(a Attachment, idx int) (uint64, error) {
	switch v := a.(type) {
	case VLANAttachment:
		if v.VLAN == 0 || v.VLAN >= maxVLANs {
			return 0, attrErrorf(InvalidAttributeValue, idx, "invalid VLAN %d", v.VLAN)
		}
		return uint64(v.VLAN), nil
	case LAGAttachment:
		if !v.LAG.Is(oid.LAG) || v.LAG.Value() >= maxLAGs {
			return 0, attrErrorf(InvalidAttributeValue, idx, "invalid LAG %s", v.LAG)
		}
		return lagBase + v.LAG.Value(), nil
	case PortAttachment:
		if !v.Port.Is(oid.Port) || v.Port.Value() >= uint64(s.cfg.maxPorts) {
			return 0, attrErrorf(InvalidAttributeValue, idx, "invalid port %s", v.Port)
		}
		return portBase + v.Port.Value(), nil
	case BridgeAttachment:
		if !v.Bridge.Is(oid.Bridge) {
			return 0, attrErrorf(InvalidAttributeValue, idx, "invalid bridge %s", v.Bridge)
		}
		n, err := s.bridgeAlloc.Next()
		if err != nil {
			if errors.Is(err, oid.ErrExhausted) {
				return 0, errorf(ResourceExhausted, "no free bridge router interface indices")
			}
			return 0, err
		}
		return s.bridgeBase() + n, nil
	}
	return 0, attrErrorf(InvalidAttributeValue, idx, "unsupported attachment %T", a)
}

func (s *state) lookupRIF(id oid.ID) (ref[rifNode], *rifNode, error) {
	if err := checkID(id, oid.RouterInterface); err != nil {
		return ref[rifNode]{}, nil, err
	}
	r, ok := s.rifByID[id]
	if !ok {
		return ref[rifNode]{}, nil, errorf(NotFound, "router interface %s does not exist", id)
	}
	return r, s.rifs.mustGet(r), nil
}

// CreateRIF creates a router interface. RIFAttrVRF and RIFAttrAttachment
// are mandatory. It fails with AlreadyExists if a RIF with the same
// attachment exists.
func (t *Txn) CreateRIF(attrs []Attribute) (oid.ID, error) {
	s := t.st()
	var (
		vr             ref[vrfNode]
		vrf            *vrfNode
		att            Attachment
		attIdx         = -1
		err            error
		haveVRF, haveA bool
	)
	for i, a := range attrs {
		switch a.ID {
		case RIFAttrVRF:
			id, err := idValue(a, i, oid.VirtualRouter)
			if err != nil {
				return 0, err
			}
			var ok bool
			if vr, ok = s.vrfByID[id]; !ok {
				return 0, attrErrorf(InvalidAttributeValue, i, "VRF %s does not exist", id)
			}
			vrf, haveVRF = s.vrfs.mustGet(vr), true
		case RIFAttrAttachment:
			if att, err = attrValue[Attachment](a, i); err != nil {
				return 0, err
			}
			attIdx, haveA = i, true
		}
	}
	switch {
	case !haveVRF:
		return 0, errorf(InvalidParameter, "mandatory attribute RIFAttrVRF missing")
	case !haveA:
		return 0, errorf(InvalidParameter, "mandatory attribute RIFAttrAttachment missing")
	case s.rifs.len() >= s.cfg.maxRIFs:
		return 0, errorf(ResourceExhausted, "router interface table is full (%d entries)", s.cfg.maxRIFs)
	}

	rif := RouterInterface{
		VRF:             vrf.ID,
		Attachment:      att,
		SrcMAC:          cloneMAC(vrf.SrcMAC),
		V4AdminState:    true,
		V6AdminState:    true,
		MTU:             DefaultMTU,
		IPOptionsAction: Trap,
	}
	for i, a := range attrs {
		if a.ID == RIFAttrVRF || a.ID == RIFAttrAttachment {
			continue
		}
		if err := applyRIFAttr(&rif, a, i); err != nil {
			return 0, err
		}
	}

	index, err := s.rifIndex(att, attIdx)
	if err != nil {
		return 0, err
	}
	rif.ID = oid.Must(oid.RouterInterface, index)
	if _, ok := s.rifByID[rif.ID]; ok {
		return 0, attrErrorf(AlreadyExists, attIdx, "router interface on %s already exists", att)
	}

	r := s.rifs.insert(rifNode{RouterInterface: rif, vrf: vr})
	s.rifByID[rif.ID] = r
	vrf.rifs.add(r)
	if err := t.dispatchCreate(s.rifs.mustGet(r).snapshot()); err != nil {
		vrf.rifs.remove(r)
		delete(s.rifByID, rif.ID)
		s.rifs.remove(r)
		return 0, err
	}
	return rif.ID, nil
}

// RemoveRIF removes the router interface id. It fails with ObjectInUse
// while any next hop uses it.
func (t *Txn) RemoveRIF(id oid.ID) error {
	s := t.st()
	r, rif, err := s.lookupRIF(id)
	if err != nil {
		return err
	}
	if rif.RefCount != 0 {
		return errorf(ObjectInUse, "router interface %s is used by %d next hops", id, rif.RefCount)
	}
	snap := rif.snapshot()
	s.vrfs.mustGet(rif.vrf).rifs.remove(r)
	delete(s.rifByID, id)
	s.rifs.remove(r)
	t.dispatchRemove(snap)
	return nil
}

// SetRIFAttribute changes one attribute of the router interface id.
func (t *Txn) SetRIFAttribute(id oid.ID, a Attribute) error {
	s := t.st()
	_, rif, err := s.lookupRIF(id)
	if err != nil {
		return err
	}
	if a.ID == RIFAttrVRF || a.ID == RIFAttrAttachment {
		return attrErrorf(InvalidAttribute, 0, "router interface attribute %d is create only", a.ID)
	}
	saved, old := rif.RouterInterface, rif.snapshot()
	n := rif.RouterInterface
	if err := applyRIFAttr(&n, a, 0); err != nil {
		return err
	}
	rif.RouterInterface = n
	if err := t.dispatchSet(old, rif.snapshot(), maskOf(a.ID)); err != nil {
		rif.RouterInterface = saved
		return err
	}
	return nil
}

// GetRIFAttributes returns the values of the attributes ids of the router
// interface id.
func (t *Txn) GetRIFAttributes(id oid.ID, ids []AttrID) ([]Attribute, error) {
	_, rif, err := t.st().lookupRIF(id)
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, len(ids))
	for i, a := range ids {
		var val any
		switch a {
		case RIFAttrVRF:
			val = rif.VRF
		case RIFAttrAttachment:
			val = rif.Attachment
		case RIFAttrSrcMAC:
			val = cloneMAC(rif.SrcMAC)
		case RIFAttrV4AdminState:
			val = rif.V4AdminState
		case RIFAttrV6AdminState:
			val = rif.V6AdminState
		case RIFAttrMTU:
			val = rif.MTU
		case RIFAttrIPOptionsAction:
			val = rif.IPOptionsAction
		default:
			return nil, attrErrorf(AttributeNotSupported, i, "unknown router interface attribute %d", a)
		}
		out = append(out, Attribute{ID: a, Value: val})
	}
	return out, nil
}

// RIF returns a copy of the router interface id.
func (t *Txn) RIF(id oid.ID) (*RouterInterface, error) {
	_, rif, err := t.st().lookupRIF(id)
	if err != nil {
		return nil, err
	}
	return rif.snapshot(), nil
}

// RIFs returns copies of all router interfaces, ordered by ID.
func (t *Txn) RIFs() []*RouterInterface {
	s := t.st()
	out := make([]*RouterInterface, 0, s.rifs.len())
	s.rifs.each(func(_ ref[rifNode], r *rifNode) {
		out = append(out, r.snapshot())
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func applyRIFAttr(r *RouterInterface, a Attribute, idx int) error {
	var err error
	switch a.ID {
	case RIFAttrSrcMAC:
		r.SrcMAC, err = macValue(a, idx)
	case RIFAttrV4AdminState:
		r.V4AdminState, err = attrValue[bool](a, idx)
	case RIFAttrV6AdminState:
		r.V6AdminState, err = attrValue[bool](a, idx)
	case RIFAttrMTU:
		var mtu uint32
		if mtu, err = attrValue[uint32](a, idx); err == nil && mtu == 0 {
			err = attrErrorf(InvalidAttributeValue, idx, "MTU must be non-zero")
		}
		r.MTU = mtu
	case RIFAttrIPOptionsAction:
		r.IPOptionsAction, err = actionValue(a, idx)
	default:
		err = attrErrorf(AttributeNotSupported, idx, "unknown router interface attribute %d", a.ID)
	}
	return err
}
