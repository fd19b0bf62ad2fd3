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

// Package oid implements the 64-bit object identifiers used for every
// externally visible FIB object, and the allocator used to pick the numeric
// part of a new identifier.
//
// An ID is laid out as:
//
//	| 63..60 reserved (0) | 59..48 object type | 47..0 value |
package oid

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ObjectType is the 12-bit type tag carried in an ID.
type ObjectType uint16

const (
	// Null is the type of the zero ID.
	Null ObjectType = iota
	// Port is a physical port.
	Port
	// LAG is a link aggregation group.
	LAG
	// VirtualRouter is a VRF.
	VirtualRouter
	// NextHop is a next hop, either IP or tunnel encapsulation.
	NextHop
	// NextHopGroup is an ECMP group of next hops.
	NextHopGroup
	// RouterInterface is a RIF.
	RouterInterface
	// Neighbor is a neighbor (ARP/ND) entry.
	Neighbor
	// Route is a route entry.
	Route
	// VLAN is a VLAN.
	VLAN
	// Bridge is a 802.1D bridge.
	Bridge
	// Tunnel is a tunnel object.
	Tunnel
)

var typeNames = map[ObjectType]string{
	Null:            "NULL",
	Port:            "PORT",
	LAG:             "LAG",
	VirtualRouter:   "VIRTUAL_ROUTER",
	NextHop:         "NEXT_HOP",
	NextHopGroup:    "NEXT_HOP_GROUP",
	RouterInterface: "ROUTER_INTERFACE",
	Neighbor:        "NEIGHBOR",
	Route:           "ROUTE",
	VLAN:            "VLAN",
	Bridge:          "BRIDGE",
	Tunnel:          "TUNNEL",
}

// String returns the name of the object type.
func (o ObjectType) String() string {
	if s, ok := typeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("ObjectType(%d)", uint16(o))
}

const (
	typeShift = 48
	// MaxType is the largest type tag that fits in an ID.
	MaxType = 0xFFF
	// MaxValue is the largest numeric value that fits in an ID.
	MaxValue  = uint64(1)<<typeShift - 1
	typeMask  = uint64(MaxType) << typeShift
	reserved  = uint64(0xF) << 60
	valueMask = MaxValue
)

// ID is an encoded object identifier.
type ID uint64

// New encodes the type t and value v into an ID. It returns an error if
// either does not fit in its field.
func New(t ObjectType, v uint64) (ID, error) {
	if t > MaxType {
		return 0, status.Errorf(codes.InvalidArgument, "object type %d exceeds %d", t, MaxType)
	}
	if v > MaxValue {
		return 0, status.Errorf(codes.InvalidArgument, "value %d exceeds %d bits", v, typeShift)
	}
	return ID(uint64(t)<<typeShift | v), nil
}

// Must is New for arguments known to be in range. It panics otherwise.
func Must(t ObjectType, v uint64) ID {
	id, err := New(t, v)
	if err != nil {
		panic(err)
	}
	return id
}

// Type returns the type tag of the ID.
func (i ID) Type() ObjectType {
	return ObjectType((uint64(i) & typeMask) >> typeShift)
}

// Value returns the numeric value of the ID.
func (i ID) Value() uint64 {
	return uint64(i) & valueMask
}

// IsNull reports whether i is the zero ID.
func (i ID) IsNull() bool { return i == 0 }

// Is reports whether i is a well-formed ID of type t.
func (i ID) Is(t ObjectType) bool {
	return uint64(i)&reserved == 0 && i.Type() == t
}

// Check returns an InvalidArgument error unless i is a well-formed ID of
// type t. It is used before an externally supplied ID is looked up in a
// store.
func (i ID) Check(t ObjectType) error {
	if uint64(i)&reserved != 0 {
		return status.Errorf(codes.InvalidArgument, "ID %s has reserved bits set", i)
	}
	if got := i.Type(); got != t {
		return status.Errorf(codes.InvalidArgument, "ID %s has type %s, want %s", i, got, t)
	}
	return nil
}

// String returns the ID in hex.
func (i ID) String() string {
	return fmt.Sprintf("0x%016x", uint64(i))
}
