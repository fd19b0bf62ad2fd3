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

// Package fibtest provides helpers for building FIB contents in tests.
// Every helper fails the test fatally on error.
package fibtest

import (
	"net"
	"net/netip"
	"testing"

	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
)

// MustAddr parses s as an IP address.
func MustAddr(tb testing.TB, s string) netip.Addr {
	tb.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		tb.Fatalf("invalid address %s, %v", s, err)
	}
	return a
}

// MustPrefix parses s as an IP prefix.
func MustPrefix(tb testing.TB, s string) netip.Prefix {
	tb.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		tb.Fatalf("invalid prefix %s, %v", s, err)
	}
	return p
}

// MustMAC parses s as a MAC address.
func MustMAC(tb testing.TB, s string) net.HardwareAddr {
	tb.Helper()
	m, err := net.ParseMAC(s)
	if err != nil {
		tb.Fatalf("invalid MAC address %s, %v", s, err)
	}
	return m
}

// Builder creates objects in a FIB.
type Builder struct {
	tb testing.TB
	f  *fib.FIB
}

// New returns a Builder for a new, initialised FIB configured by opts.
func New(tb testing.TB, opts ...fib.Opt) *Builder {
	tb.Helper()
	f := fib.New(opts...)
	if err := f.Init(); err != nil {
		tb.Fatalf("cannot initialise FIB, %v", err)
	}
	return &Builder{tb: tb, f: f}
}

// FIB returns the FIB being built.
func (b *Builder) FIB() *fib.FIB { return b.f }

func (b *Builder) check(what string, err error) {
	b.tb.Helper()
	if err != nil {
		b.tb.Fatalf("cannot %s, %v", what, err)
	}
}

// Do runs fn in a Txn.
func (b *Builder) Do(fn func(*fib.Txn) error) {
	b.tb.Helper()
	b.check("run transaction", b.f.Do(fn))
}

// VRF creates a VRF.
func (b *Builder) VRF(attrs ...fib.Attribute) oid.ID {
	b.tb.Helper()
	id, err := b.f.CreateVRF(attrs...)
	b.check("create VRF", err)
	return id
}

// RIF creates a RIF in vrf attached to att.
func (b *Builder) RIF(vrf oid.ID, att fib.Attachment, attrs ...fib.Attribute) oid.ID {
	b.tb.Helper()
	all := append([]fib.Attribute{
		{ID: fib.RIFAttrVRF, Value: vrf},
		{ID: fib.RIFAttrAttachment, Value: att},
	}, attrs...)
	id, err := b.f.CreateRIF(all...)
	b.check("create RIF on "+att.String(), err)
	return id
}

// PortRIF creates a RIF in vrf attached to the port with ID value port.
func (b *Builder) PortRIF(vrf oid.ID, port uint64) oid.ID {
	b.tb.Helper()
	return b.RIF(vrf, fib.PortAttachment{Port: oid.Must(oid.Port, port)})
}

// VLANRIF creates a RIF in vrf attached to vlan.
func (b *Builder) VLANRIF(vrf oid.ID, vlan uint16) oid.ID {
	b.tb.Helper()
	return b.RIF(vrf, fib.VLANAttachment{VLAN: vlan})
}

// NextHop creates, or takes another reference to, the IP next hop to ip
// through rif.
func (b *Builder) NextHop(rif oid.ID, ip string) oid.ID {
	b.tb.Helper()
	id, err := b.f.CreateNextHop(
		fib.Attribute{ID: fib.NextHopAttrType, Value: fib.NextHopIP},
		fib.Attribute{ID: fib.NextHopAttrIP, Value: MustAddr(b.tb, ip)},
		fib.Attribute{ID: fib.NextHopAttrRIF, Value: rif},
	)
	b.check("create next hop to "+ip, err)
	return id
}

// Encap creates the tunnel encap next hop to ip through tunnel.
func (b *Builder) Encap(tunnel oid.ID, ip string) oid.ID {
	b.tb.Helper()
	id, err := b.f.CreateNextHop(
		fib.Attribute{ID: fib.NextHopAttrType, Value: fib.NextHopTunnelEncap},
		fib.Attribute{ID: fib.NextHopAttrIP, Value: MustAddr(b.tb, ip)},
		fib.Attribute{ID: fib.NextHopAttrTunnel, Value: tunnel},
	)
	b.check("create tunnel encap next hop to "+ip, err)
	return id
}

// Group creates a next-hop group of members. A member repeated n times has
// weight n.
func (b *Builder) Group(members ...oid.ID) oid.ID {
	b.tb.Helper()
	id, err := b.f.CreateNextHopGroup(fib.Attribute{ID: fib.GroupAttrNextHopList, Value: members})
	b.check("create next-hop group", err)
	return id
}

// Route creates or updates the route to prefix in vrf with the target
// target, which may be the zero ID.
func (b *Builder) Route(vrf oid.ID, prefix string, target oid.ID, attrs ...fib.Attribute) {
	b.tb.Helper()
	all := append([]fib.Attribute{{ID: fib.RouteAttrNextHop, Value: target}}, attrs...)
	_, err := b.f.CreateRoute(vrf, MustPrefix(b.tb, prefix), all...)
	b.check("create route to "+prefix, err)
}

// Neighbor creates the neighbor for ip on rif with the MAC address mac.
func (b *Builder) Neighbor(rif oid.ID, ip, mac string, attrs ...fib.Attribute) {
	b.tb.Helper()
	all := append([]fib.Attribute{{ID: fib.NeighborAttrDstMAC, Value: MustMAC(b.tb, mac)}}, attrs...)
	b.check("create neighbor "+ip, b.f.CreateNeighbor(rif, MustAddr(b.tb, ip), all...))
}
