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
	"fmt"
	"net"
	"net/netip"

	"github.com/openconfig/fibgo/oid"
	"google.golang.org/grpc/status"
)

// AttrID identifies an attribute of one object kind. IDs are only meaningful
// together with the kind of object that they are applied to.
type AttrID uint32

// Attribute is one entry of an attribute list handed to a create, set or get
// operation.
type Attribute struct {
	ID    AttrID
	Value any
}

// AttrMask is a set of attribute IDs. It is handed to Backend.Set to say
// which fields of the object changed.
type AttrMask uint64

func maskOf(ids ...AttrID) AttrMask {
	var m AttrMask
	for _, id := range ids {
		m |= 1 << id
	}
	return m
}

// Has reports whether id is in m.
func (m AttrMask) Has(id AttrID) bool {
	return m&(1<<id) != 0
}

// VRF attributes.
const (
	// VRFAttrV4AdminState is a bool, default true.
	VRFAttrV4AdminState AttrID = iota
	// VRFAttrV6AdminState is a bool, default true.
	VRFAttrV6AdminState
	// VRFAttrSrcMAC is a net.HardwareAddr.
	VRFAttrSrcMAC
	// VRFAttrTTLViolationAction is a PacketAction, default Trap.
	VRFAttrTTLViolationAction
	// VRFAttrIPOptionsAction is a PacketAction, default Trap.
	VRFAttrIPOptionsAction
)

// Router interface attributes.
const (
	// RIFAttrVRF is the oid.ID of the owning VRF. Mandatory, create only.
	RIFAttrVRF AttrID = iota
	// RIFAttrAttachment is an Attachment. Mandatory, create only.
	RIFAttrAttachment
	// RIFAttrSrcMAC is a net.HardwareAddr, defaulting to the VRF's.
	RIFAttrSrcMAC
	// RIFAttrV4AdminState is a bool, default true.
	RIFAttrV4AdminState
	// RIFAttrV6AdminState is a bool, default true.
	RIFAttrV6AdminState
	// RIFAttrMTU is a uint32, default 1514.
	RIFAttrMTU
	// RIFAttrIPOptionsAction is a PacketAction, default Trap.
	RIFAttrIPOptionsAction
)

// Next hop attributes. All writable attributes are create only.
const (
	// NextHopAttrType is a NextHopKind. Mandatory.
	NextHopAttrType AttrID = iota
	// NextHopAttrIP is a netip.Addr. Mandatory.
	NextHopAttrIP
	// NextHopAttrRIF is the oid.ID of the RIF. Mandatory for NextHopIP.
	NextHopAttrRIF
	// NextHopAttrTunnel is the oid.ID of the tunnel. Mandatory for
	// NextHopTunnelEncap.
	NextHopAttrTunnel
	// NextHopAttrOwners is the Owner set. Read only.
	NextHopAttrOwners
	// NextHopAttrUnderlay is the Underlay of a tunnel encap next hop. In an
	// AttrMask it marks a change of the underlay resolution. Read only.
	NextHopAttrUnderlay
	// NextHopAttrNeighbor is the NeighborState of a next hop owned by a
	// neighbor. In an AttrMask it marks a change of that state. Read only.
	NextHopAttrNeighbor
)

// Next-hop-group attributes.
const (
	// GroupAttrType is a GroupType, default GroupECMP. Create only.
	GroupAttrType AttrID = iota
	// GroupAttrNextHopCount is a uint32, the sum of member weights. Read only.
	GroupAttrNextHopCount
	// GroupAttrNextHopList is a []oid.ID of next hops, each repeated by its
	// weight. It may be supplied on create.
	GroupAttrNextHopList
)

// Route attributes.
const (
	// RouteAttrPacketAction is a PacketAction, default Forward.
	RouteAttrPacketAction AttrID = iota
	// RouteAttrTrapPriority is a uint8.
	RouteAttrTrapPriority
	// RouteAttrNextHop is the oid.ID of a next hop or next-hop group, or
	// the zero ID for no target.
	RouteAttrNextHop
	// RouteAttrMetaData is a uint32.
	RouteAttrMetaData
)

// Neighbor attributes.
const (
	// NeighborAttrDstMAC is a net.HardwareAddr. Mandatory.
	NeighborAttrDstMAC AttrID = iota
	// NeighborAttrPacketAction is a PacketAction, default Forward.
	NeighborAttrPacketAction
	// NeighborAttrNoHostRoute is a bool.
	NeighborAttrNoHostRoute
	// NeighborAttrMetaData is a uint32.
	NeighborAttrMetaData
	// NeighborAttrPort is the oid.ID of the egress port or LAG. For neighbors
	// on VLAN interfaces it is learnt from the MAC table.
	NeighborAttrPort
)

// PacketAction is the action applied to a packet.
type PacketAction int

const (
	_ PacketAction = iota
	// Drop discards the packet.
	Drop
	// Forward forwards the packet.
	Forward
	// Trap sends the packet to the CPU instead of forwarding it.
	Trap
	// Log forwards the packet and sends a copy to the CPU.
	Log
)

var actionNames = map[PacketAction]string{
	Drop:    "DROP",
	Forward: "FORWARD",
	Trap:    "TRAP",
	Log:     "LOG",
}

// String returns the name of the action.
func (p PacketAction) String() string {
	if s, ok := actionNames[p]; ok {
		return s
	}
	return fmt.Sprintf("PacketAction(%d)", int(p))
}

// ParsePacketAction returns the action named s.
func ParsePacketAction(s string) (PacketAction, error) {
	for a, n := range actionNames {
		if n == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown packet action %q", s)
}

func (p PacketAction) forwards() bool { return p == Forward || p == Log }

// NextHopKind is the kind of a next hop.
type NextHopKind int

const (
	_ NextHopKind = iota
	// NextHopIP is an IP next hop reached through a RIF.
	NextHopIP
	// NextHopTunnelEncap encapsulates traffic towards a tunnel destination
	// that is itself resolved through the underlay routing table.
	NextHopTunnelEncap
)

// String returns the name of the kind.
func (k NextHopKind) String() string {
	switch k {
	case NextHopIP:
		return "IP"
	case NextHopTunnelEncap:
		return "TUNNEL_ENCAP"
	}
	return fmt.Sprintf("NextHopKind(%d)", int(k))
}

// TunnelType is the encapsulation used by a tunnel.
type TunnelType int

const (
	// TunnelNone is used in the key of non-tunnel next hops.
	TunnelNone TunnelType = iota
	// TunnelIPInIP is IP-in-IP encapsulation.
	TunnelIPInIP
	// TunnelGRE is GRE encapsulation.
	TunnelGRE
	// TunnelVXLAN is VXLAN encapsulation.
	TunnelVXLAN
)

// String returns the name of the tunnel type.
func (t TunnelType) String() string {
	switch t {
	case TunnelNone:
		return "NONE"
	case TunnelIPInIP:
		return "IPINIP"
	case TunnelGRE:
		return "GRE"
	case TunnelVXLAN:
		return "VXLAN"
	}
	return fmt.Sprintf("TunnelType(%d)", int(t))
}

// GroupType is the type of a next-hop group.
type GroupType int

const (
	_ GroupType = iota
	// GroupECMP is an equal or weighted cost multipath group.
	GroupECMP
)

// String returns the name of the group type.
func (g GroupType) String() string {
	if g == GroupECMP {
		return "ECMP"
	}
	return fmt.Sprintf("GroupType(%d)", int(g))
}

func attrValue[T any](a Attribute, idx int) (T, error) {
	v, ok := a.Value.(T)
	if !ok {
		var zero T
		return zero, attrErrorf(InvalidAttributeValue, idx, "attribute %d has value of type %T, want %T", a.ID, a.Value, zero)
	}
	return v, nil
}

func actionValue(a Attribute, idx int) (PacketAction, error) {
	p, err := attrValue[PacketAction](a, idx)
	if err != nil {
		return 0, err
	}
	if _, ok := actionNames[p]; !ok {
		return 0, attrErrorf(InvalidAttributeValue, idx, "invalid packet action %d", p)
	}
	return p, nil
}

func macValue(a Attribute, idx int) (net.HardwareAddr, error) {
	m, err := attrValue[net.HardwareAddr](a, idx)
	if err != nil {
		return nil, err
	}
	if len(m) != 6 {
		return nil, attrErrorf(InvalidAttributeValue, idx, "invalid MAC address %s", m)
	}
	return cloneMAC(m), nil
}

func addrValue(a Attribute, idx int) (netip.Addr, error) {
	ip, err := attrValue[netip.Addr](a, idx)
	if err != nil {
		return netip.Addr{}, err
	}
	if !ip.IsValid() {
		return netip.Addr{}, attrErrorf(InvalidAttributeValue, idx, "invalid IP address")
	}
	return ip.Unmap(), nil
}

func idValue(a Attribute, idx int, t oid.ObjectType) (oid.ID, error) {
	id, err := attrValue[oid.ID](a, idx)
	if err != nil {
		return 0, err
	}
	if err := id.Check(t); err != nil {
		return 0, attrErrorf(InvalidAttributeValue, idx, "%s", status.Convert(err).Message())
	}
	return id, nil
}

func cloneMAC(m net.HardwareAddr) net.HardwareAddr {
	if m == nil {
		return nil
	}
	return append(net.HardwareAddr(nil), m...)
}

// checkID validates that an externally supplied ID has the type of the store
// it is about to be looked up in.
func checkID(id oid.ID, t oid.ObjectType) error {
	if err := id.Check(t); err != nil {
		return errorf(InvalidParameter, "%s", status.Convert(err).Message())
	}
	return nil
}
