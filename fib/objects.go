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
)

// Object is a copy of a FIB object as handed to backends and hooks. The
// concrete type is one of *VRF, *RouterInterface, *NextHop, *NextHopGroup,
// *Route or *Neighbor.
type Object interface {
	ObjectType() oid.ObjectType
}

// VRF is a virtual router.
type VRF struct {
	ID                 oid.ID
	SrcMAC             net.HardwareAddr
	V4AdminState       bool
	V6AdminState       bool
	TTLViolationAction PacketAction
	IPOptionsAction    PacketAction

	// NumRIFs, NumNextHops and NumRoutes count the objects the VRF owns.
	NumRIFs     int
	NumNextHops int
	NumRoutes   int
}

// ObjectType implements Object.
func (*VRF) ObjectType() oid.ObjectType { return oid.VirtualRouter }

// Attachment is what a router interface is attached to. It is one of
// PortAttachment, LAGAttachment, VLANAttachment or BridgeAttachment.
type Attachment interface {
	isAttachment()
	String() string
}

// PortAttachment attaches a RIF to a port.
type PortAttachment struct{ Port oid.ID }

// LAGAttachment attaches a RIF to a LAG.
type LAGAttachment struct{ LAG oid.ID }

// VLANAttachment attaches a RIF to a VLAN.
type VLANAttachment struct{ VLAN uint16 }

// BridgeAttachment attaches a RIF to a 802.1D bridge.
type BridgeAttachment struct{ Bridge oid.ID }

func (PortAttachment) isAttachment()   {}
func (LAGAttachment) isAttachment()    {}
func (VLANAttachment) isAttachment()   {}
func (BridgeAttachment) isAttachment() {}

func (a PortAttachment) String() string   { return fmt.Sprintf("port %s", a.Port) }
func (a LAGAttachment) String() string    { return fmt.Sprintf("lag %s", a.LAG) }
func (a VLANAttachment) String() string   { return fmt.Sprintf("vlan %d", a.VLAN) }
func (a BridgeAttachment) String() string { return fmt.Sprintf("bridge %s", a.Bridge) }

// RouterInterface is a RIF. The value of its ID is the software index
// derived from its attachment.
type RouterInterface struct {
	ID              oid.ID
	VRF             oid.ID
	Attachment      Attachment
	SrcMAC          net.HardwareAddr
	V4AdminState    bool
	V6AdminState    bool
	MTU             uint32
	IPOptionsAction PacketAction
	// RefCount is the number of next hops using the RIF.
	RefCount int
}

// ObjectType implements Object.
func (*RouterInterface) ObjectType() oid.ObjectType { return oid.RouterInterface }

// Owner is the set of subsystems that own a next hop.
type Owner uint8

const (
	// OwnerNeighbor is set while the next hop is a resolved neighbor.
	OwnerNeighbor Owner = 1 << iota
	// OwnerNextHop is set while the next hop exists as a next-hop object.
	OwnerNextHop
)

// Has reports whether all of the flags in f are set in o.
func (o Owner) Has(f Owner) bool { return o&f == f }

// String returns the owner flags in o.
func (o Owner) String() string {
	switch o {
	case 0:
		return "none"
	case OwnerNeighbor:
		return "neighbor"
	case OwnerNextHop:
		return "next-hop"
	case OwnerNeighbor | OwnerNextHop:
		return "neighbor,next-hop"
	}
	return fmt.Sprintf("Owner(%#x)", uint8(o))
}

// NeighborState is the resolution state that a neighbor contributes to a
// next hop.
type NeighborState struct {
	MAC          net.HardwareAddr
	PacketAction PacketAction
	NoHostRoute  bool
	MetaData     uint32
	// Port is the egress port or LAG. It is zero while PortUnresolved.
	Port           oid.ID
	PortUnresolved bool
}

func (n NeighborState) clone() NeighborState {
	n.MAC = cloneMAC(n.MAC)
	return n
}

// NextHop is a next hop.
type NextHop struct {
	ID       oid.ID
	VRF      oid.ID
	Key      NextHopKey
	Tunnel   oid.ID
	Owners   Owner
	RefCount int
	// Neighbor is only meaningful when Owners has OwnerNeighbor.
	Neighbor NeighborState

	// UnderlayRoute, UnderlayNextHop and UnderlayGroup describe how a
	// tunnel encap next hop is resolved. UnderlayRoute is the zero prefix
	// when no route covers the tunnel destination.
	UnderlayRoute   netip.Prefix
	UnderlayNextHop oid.ID
	UnderlayGroup   oid.ID
}

// ObjectType implements Object.
func (*NextHop) ObjectType() oid.ObjectType { return oid.NextHop }

// Underlay is how a tunnel encap next hop is resolved: the underlay route
// covering its destination and the next hop or group that the route, or a
// neighbor for the destination, provides. Route is the zero prefix when
// nothing covers the destination.
type Underlay struct {
	Route   netip.Prefix
	NextHop oid.ID
	Group   oid.ID
}

// Resolved reports whether a tunnel encap next hop has an underlay path.
// IP next hops are always resolved.
func (n *NextHop) Resolved() bool {
	if n.Key.Kind != NextHopTunnelEncap {
		return true
	}
	return !n.UnderlayNextHop.IsNull() || !n.UnderlayGroup.IsNull()
}

// GroupMember is one weighted member of a next-hop group.
type GroupMember struct {
	NextHop oid.ID
	Weight  int
}

// NextHopGroup is a next-hop group.
type NextHopGroup struct {
	ID   oid.ID
	Type GroupType
	// Members are in the order they were first added.
	Members []GroupMember
	// MemberCount is the sum of member weights.
	MemberCount int
	// RefCount is the number of routes using the group.
	RefCount int
	// Paths are the members that can forward, each repeated by its weight
	// and limited to the maximum number of ECMP paths.
	Paths []oid.ID
}

// ObjectType implements Object.
func (*NextHopGroup) ObjectType() oid.ObjectType { return oid.NextHopGroup }

// Target is what a route resolves to: a NextHopTarget or a GroupTarget.
type Target interface {
	isTarget()
	TargetID() oid.ID
}

// NextHopTarget is a route target of a single next hop.
type NextHopTarget struct{ ID oid.ID }

// GroupTarget is a route target of a next-hop group.
type GroupTarget struct{ ID oid.ID }

func (NextHopTarget) isTarget() {}
func (GroupTarget) isTarget()   {}

// TargetID implements Target.
func (t NextHopTarget) TargetID() oid.ID { return t.ID }

// TargetID implements Target.
func (t GroupTarget) TargetID() oid.ID { return t.ID }

func targetID(t Target) oid.ID {
	if t == nil {
		return 0
	}
	return t.TargetID()
}

// Route is a route entry, identified by its VRF and prefix.
type Route struct {
	VRF    oid.ID
	Prefix netip.Prefix
	// Target is nil for routes that do not forward.
	Target       Target
	PacketAction PacketAction
	TrapPriority uint8
	MetaData     uint32
	// NumDependents is the number of tunnel encap next hops resolved
	// through the route.
	NumDependents int
}

// ObjectType implements Object.
func (*Route) ObjectType() oid.ObjectType { return oid.Route }

// Neighbor is a neighbor entry, identified by its RIF and IP address.
type Neighbor struct {
	RIF     oid.ID
	IP      netip.Addr
	NextHop oid.ID
	NeighborState
}

// ObjectType implements Object.
func (*Neighbor) ObjectType() oid.ObjectType { return oid.Neighbor }
