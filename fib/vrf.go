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

	"github.com/k-sone/critbitgo"
	"github.com/openconfig/fibgo/oid"
)

// vrfNode is a VRF together with the stores that it owns.
type vrfNode struct {
	VRF
	rifs refSet[rifNode]
	// nextHops maps the encoded NextHopKey of every next hop in the VRF to
	// its ref.
	nextHops *critbitgo.Trie
	// routes holds one LPM tree per address family, each mapping a
	// prefix to a ref[routeNode].
	routes [numFamilies]*critbitgo.Net
	// encaps are the tunnel encap next hops whose underlay is this VRF.
	encaps refSet[nhNode]
}

func (v *vrfNode) numRoutes() int {
	n := 0
	for _, r := range v.routes {
		n += r.Size()
	}
	return n
}

func (v *vrfNode) snapshot() *VRF {
	c := v.VRF
	c.SrcMAC = cloneMAC(v.SrcMAC)
	c.NumRIFs = len(v.rifs)
	c.NumNextHops = v.nextHops.Size()
	c.NumRoutes = v.numRoutes()
	return &c
}

func (s *state) lookupVRF(id oid.ID) (ref[vrfNode], *vrfNode, error) {
	if err := checkID(id, oid.VirtualRouter); err != nil {
		return ref[vrfNode]{}, nil, err
	}
	r, ok := s.vrfByID[id]
	if !ok {
		return ref[vrfNode]{}, nil, errorf(NotFound, "VRF %s does not exist", id)
	}
	return r, s.vrfs.mustGet(r), nil
}

// CreateVRF creates a virtual router with the specified attributes and
// returns its ID.
func (t *Txn) CreateVRF(attrs []Attribute) (oid.ID, error) {
	s := t.st()
	if s.vrfs.len() >= s.cfg.maxVRFs {
		return 0, errorf(ResourceExhausted, "maximum of %d VRFs reached", s.cfg.maxVRFs)
	}
	v := VRF{
		V4AdminState:       true,
		V6AdminState:       true,
		TTLViolationAction: Trap,
		IPOptionsAction:    Trap,
	}
	for i, a := range attrs {
		if err := applyVRFAttr(&v, a, i); err != nil {
			return 0, err
		}
	}
	n, err := s.vrfAlloc.Next()
	if err != nil {
		if errors.Is(err, oid.ErrExhausted) {
			return 0, errorf(ResourceExhausted, "no free VRF IDs")
		}
		return 0, err
	}
	v.ID = oid.Must(oid.VirtualRouter, n)

	node := vrfNode{
		VRF:      v,
		rifs:     refSet[rifNode]{},
		nextHops: critbitgo.NewTrie(),
		encaps:   refSet[nhNode]{},
	}
	for i := range node.routes {
		node.routes[i] = critbitgo.NewNet()
	}
	r := s.vrfs.insert(node)
	s.vrfByID[v.ID] = r

	if err := t.dispatchCreate(s.vrfs.mustGet(r).snapshot()); err != nil {
		s.vrfs.remove(r)
		delete(s.vrfByID, v.ID)
		return 0, err
	}
	return v.ID, nil
}

// RemoveVRF removes the VRF id. It fails with ObjectInUse while the VRF owns
// any RIF, next hop or route.
func (t *Txn) RemoveVRF(id oid.ID) error {
	s := t.st()
	r, v, err := s.lookupVRF(id)
	if err != nil {
		return err
	}
	switch {
	case len(v.rifs) != 0:
		return errorf(ObjectInUse, "VRF %s has %d router interfaces", id, len(v.rifs))
	case v.nextHops.Size() != 0:
		return errorf(ObjectInUse, "VRF %s has %d next hops", id, v.nextHops.Size())
	case v.numRoutes() != 0:
		return errorf(ObjectInUse, "VRF %s has %d routes", id, v.numRoutes())
	}
	snap := v.snapshot()
	s.vrfs.remove(r)
	delete(s.vrfByID, id)
	t.dispatchRemove(snap)
	return nil
}

// SetVRFAttribute changes one attribute of the VRF id.
func (t *Txn) SetVRFAttribute(id oid.ID, a Attribute) error {
	s := t.st()
	_, v, err := s.lookupVRF(id)
	if err != nil {
		return err
	}
	saved, old := v.VRF, v.snapshot()
	nv := v.VRF
	if err := applyVRFAttr(&nv, a, 0); err != nil {
		return err
	}
	v.VRF = nv
	if err := t.dispatchSet(old, v.snapshot(), maskOf(a.ID)); err != nil {
		v.VRF = saved
		return err
	}
	return nil
}

// GetVRFAttributes returns the values of the attributes ids of the VRF id.
func (t *Txn) GetVRFAttributes(id oid.ID, ids []AttrID) ([]Attribute, error) {
	s := t.st()
	_, v, err := s.lookupVRF(id)
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, len(ids))
	for i, a := range ids {
		var val any
		switch a {
		case VRFAttrV4AdminState:
			val = v.V4AdminState
		case VRFAttrV6AdminState:
			val = v.V6AdminState
		case VRFAttrSrcMAC:
			val = cloneMAC(v.SrcMAC)
		case VRFAttrTTLViolationAction:
			val = v.TTLViolationAction
		case VRFAttrIPOptionsAction:
			val = v.IPOptionsAction
		default:
			return nil, attrErrorf(AttributeNotSupported, i, "unknown VRF attribute %d", a)
		}
		out = append(out, Attribute{ID: a, Value: val})
	}
	return out, nil
}

// VRF returns a copy of the VRF id.
func (t *Txn) VRF(id oid.ID) (*VRF, error) {
	_, v, err := t.st().lookupVRF(id)
	if err != nil {
		return nil, err
	}
	return v.snapshot(), nil
}

// VRFs returns copies of all VRFs, ordered by ID.
func (t *Txn) VRFs() []*VRF {
	s := t.st()
	out := make([]*VRF, 0, s.vrfs.len())
	s.vrfs.each(func(_ ref[vrfNode], v *vrfNode) {
		out = append(out, v.snapshot())
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func applyVRFAttr(v *VRF, a Attribute, idx int) error {
	var err error
	switch a.ID {
	case VRFAttrV4AdminState:
		v.V4AdminState, err = attrValue[bool](a, idx)
	case VRFAttrV6AdminState:
		v.V6AdminState, err = attrValue[bool](a, idx)
	case VRFAttrSrcMAC:
		v.SrcMAC, err = macValue(a, idx)
	case VRFAttrTTLViolationAction:
		v.TTLViolationAction, err = actionValue(a, idx)
	case VRFAttrIPOptionsAction:
		v.IPOptionsAction, err = actionValue(a, idx)
	default:
		err = attrErrorf(AttributeNotSupported, idx, "unknown VRF attribute %d", a.ID)
	}
	return err
}
